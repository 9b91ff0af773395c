// Package timeutil holds small time helpers: clock-skew rounding and
// seconds-versus-milliseconds detection for envelope timestamps.
package timeutil

import (
	"math"
	"time"
)

// SkewSecondsCeil rounds a duration up to whole seconds, floored at zero.
func SkewSecondsCeil(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	secs := d / time.Second
	if d%time.Second != 0 {
		secs++
	}
	return int64(secs)
}

// NormalizeSkew rounds a clock-skew tolerance up to whole seconds.
func NormalizeSkew(d time.Duration) time.Duration {
	return time.Duration(SkewSecondsCeil(d)) * time.Second
}

// AddSkewUnix adds a skew duration (rounded up to seconds) to a Unix timestamp,
// saturating at math.MaxInt64 instead of overflowing.
func AddSkewUnix(unixSeconds int64, skew time.Duration) int64 {
	add := SkewSecondsCeil(skew)
	if add == 0 {
		return unixSeconds
	}
	if unixSeconds > math.MaxInt64-add {
		return math.MaxInt64
	}
	return unixSeconds + add
}

// LooksLikeMillis reports whether a timestamp looks like epoch-milliseconds
// rather than epoch-seconds, using a year-3000-in-seconds cutoff.
//
// MessageEnvelope.Timestamp is client-supplied and relayed unchanged, so it
// may arrive in either unit. Callers that need to
// compare two timestamps should normalize both with NormalizeToMillis
// rather than assume a unit.
const millisCutoff = 32503680000 // 3000-01-01T00:00:00Z in seconds

func LooksLikeMillis(ts int64) bool {
	return ts > millisCutoff
}

// NormalizeToMillis converts a timestamp that may be seconds or milliseconds
// into milliseconds.
func NormalizeToMillis(ts int64) int64 {
	if LooksLikeMillis(ts) {
		return ts
	}
	return ts * 1000
}
