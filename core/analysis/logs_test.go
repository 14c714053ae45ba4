package analysis

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCountErrorLines(t *testing.T) {
	assert.Equal(t, 0, CountErrorLines(""))
	assert.Equal(t, 3, CountErrorLines("ok\nFATAL: oops\npanic: nil map\nall tests FAILED\ndone"))
}

func TestSanitizeLogStripsTimestamps(t *testing.T) {
	out := SanitizeLog("2026-03-01T12:00:00.1234567Z hello\r\n2026-03-01T12:00:01Z world")
	assert.Equal(t, "hello\nworld", out)
}

func TestSanitizeLogKeepsErrorContextAndTail(t *testing.T) {
	var lines []string
	for i := 0; i < 200; i++ {
		lines = append(lines, fmt.Sprintf("line %d", i))
	}
	lines[20] = "error: compile failed"

	out := SanitizeLog(strings.Join(lines, "\n"))

	assert.Contains(t, out, "line 10\n")
	assert.Contains(t, out, "error: compile failed")
	assert.Contains(t, out, "line 30\n")
	assert.NotContains(t, out, "line 31\n")
	assert.NotContains(t, out, "line 149\n")
	assert.Contains(t, out, "line 150")
	assert.True(t, strings.HasPrefix(out, "...\nline 10"))
}
