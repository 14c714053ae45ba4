package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestDeriveRate(t *testing.T) {
	cases := []struct {
		name     string
		prev     Reading
		cur      Reading
		wantRate float64
		wantOK   bool
	}{
		{"steady growth", Reading{baseTime, 1000}, Reading{baseTime.Add(10 * time.Second), 6000}, 500, true},
		{"no change", Reading{baseTime, 42}, Reading{baseTime.Add(5 * time.Second), 42}, 0, true},
		{"sub-second", Reading{baseTime, 0}, Reading{baseTime.Add(500 * time.Millisecond), 100}, 200, true},
		{"counter reset", Reading{baseTime, 9000}, Reading{baseTime.Add(10 * time.Second), 100}, 0, true},
		{"same timestamp", Reading{baseTime, 0}, Reading{baseTime, 100}, 0, false},
		{"earlier timestamp", Reading{baseTime, 0}, Reading{baseTime.Add(-time.Second), 100}, 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rate, ok := DeriveRate(tc.prev, tc.cur)
			assert.Equal(t, tc.wantOK, ok)
			assert.InDelta(t, tc.wantRate, rate, 1e-9)
		})
	}
}

func TestDeriveRateNeverNegative(t *testing.T) {
	values := []uint64{0, 1, 500, 1 << 20, 1 << 40}
	for _, a := range values {
		for _, b := range values {
			rate, ok := DeriveRate(Reading{baseTime, a}, Reading{baseTime.Add(3 * time.Second), b})
			assert.True(t, ok)
			assert.GreaterOrEqual(t, rate, 0.0)
			if b >= a {
				assert.InDelta(t, float64(b-a)/3, rate, 1e-6)
			}
		}
	}
}
