// Package guardrail holds the pure policy functions bounding session
// behavior: the daily session quota and the human-plausible dwell-time
// window. Policies here compute; enforcement lives with the callers.
package guardrail

import (
	"fmt"
	"time"

	"github.com/m0rphlin/operetta/api/schemas"
)

// DurationReport describes where a session sits relative to its allowed
// dwell-time window. Valid means elapsed is inside [Min, Max]. The raw
// values are included so the monitor loop can make its own call at the
// boundaries.
type DurationReport struct {
	Elapsed time.Duration
	Min     time.Duration
	Max     time.Duration
	Valid   bool
}

// MayEnd reports whether the session has dwelled long enough to finish
// naturally.
func (r DurationReport) MayEnd() bool { return r.Elapsed >= r.Min }

// MustEnd reports whether the session has hit its hard ceiling.
func (r DurationReport) MustEnd() bool { return r.Elapsed >= r.Max }

// CheckSessionDuration computes the elapsed time since the session started
// and reports validity against the configured window. Advisory only; the
// orchestrator's monitor loop decides what to do with it.
func CheckSessionDuration(startedAt, now time.Time, min, max time.Duration) DurationReport {
	elapsed := now.Sub(startedAt)
	return DurationReport{
		Elapsed: elapsed,
		Min:     min,
		Max:     max,
		Valid:   elapsed >= min && elapsed <= max,
	}
}

// CheckDailyLimit validates a session count against the daily cap. The
// count must already exclude failed and cancelled sessions; the store
// query is responsible for that filter.
func CheckDailyLimit(count, limit int) error {
	if count >= limit {
		return fmt.Errorf("account has %d sessions today (limit %d): %w", count, limit, schemas.ErrQuotaExceeded)
	}
	return nil
}

// DayStartUTC returns the UTC calendar-day boundary containing t. Quota
// windows reset at this instant.
func DayStartUTC(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
