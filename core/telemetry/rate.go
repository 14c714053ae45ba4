package telemetry

import "time"

// Reading is one observation of a cumulative counter
type Reading struct {
	At    time.Time
	Value uint64
}

// DeriveRate returns the per-second rate between two readings of a
// cumulative counter. ok is false when cur is not strictly later than prev,
// in which case no rate can be derived. A counter that went backwards
// (reset or wraparound) yields zero.
func DeriveRate(prev, cur Reading) (rate float64, ok bool) {
	if !cur.At.After(prev.At) {
		return 0, false
	}
	return float64(deltaOf(cur.Value, prev.Value)) / cur.At.Sub(prev.At).Seconds(), true
}

func deltaOf(current, previous uint64) uint64 {
	if current < previous {
		return 0
	}
	return current - previous
}
