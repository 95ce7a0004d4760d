package session

import (
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// ErrorFlag rate-limits fault reporting: it raises at most once per re-arm interval.
type ErrorFlag struct {
	limiter    *rate.Limiter
	now        func() time.Time
	suppressed atomic.Int64
}

// NewErrorFlag creates an armed flag.
func NewErrorFlag(rearm time.Duration, now func() time.Time) *ErrorFlag {
	return &ErrorFlag{
		limiter: rate.NewLimiter(rate.Every(rearm), 1),
		now:     now,
	}
}

// Raise reports whether this fault should be surfaced, along with how many
// faults were swallowed since the last surfaced one.
func (f *ErrorFlag) Raise() (bool, int64) {
	if f.limiter.AllowN(f.now(), 1) {
		return true, f.suppressed.Swap(0)
	}
	f.suppressed.Add(1)
	return false, 0
}
