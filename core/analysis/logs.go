package analysis

import (
	"regexp"
	"strings"
)

// GitHub prefixes every log line with an RFC 3339 timestamp
var timestampPrefix = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(\.\d+)?Z\s+`)

var errorKeywords = []string{"error", "fatal", "panic", "fail"}

const (
	contextWindow = 10
	tailLines     = 50
)

func isErrorLine(line string) bool {
	lower := strings.ToLower(line)
	for _, kw := range errorKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func stripTimestamps(raw string) []string {
	if raw == "" {
		return nil
	}
	lines := strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n")
	for i, line := range lines {
		lines[i] = timestampPrefix.ReplaceAllString(line, "")
	}
	return lines
}

// CountErrorLines counts log lines mentioning an error or failure
func CountErrorLines(raw string) int {
	n := 0
	for _, line := range stripTimestamps(raw) {
		if isErrorLine(line) {
			n++
		}
	}
	return n
}

// SanitizeLog strips timestamps and keeps only the lines around errors plus
// the tail of the log. Gaps are marked with "...".
func SanitizeLog(raw string) string {
	lines := stripTimestamps(raw)
	if len(lines) == 0 {
		return ""
	}

	keep := make([]bool, len(lines))
	for i, line := range lines {
		if !isErrorLine(line) {
			continue
		}
		for j := max(0, i-contextWindow); j <= min(len(lines)-1, i+contextWindow); j++ {
			keep[j] = true
		}
	}
	for j := max(0, len(lines)-tailLines); j < len(lines); j++ {
		keep[j] = true
	}

	var b strings.Builder
	skipped := false
	for i, line := range lines {
		if !keep[i] {
			skipped = true
			continue
		}
		if skipped {
			b.WriteString("...\n")
			skipped = false
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return strings.TrimSuffix(b.String(), "\n")
}
