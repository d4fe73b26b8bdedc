package guardrail

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/m0rphlin/operetta/api/schemas"
)

func TestCheckSessionDuration(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	min, max := 8*time.Minute, 15*time.Minute

	tests := []struct {
		name    string
		elapsed time.Duration
		valid   bool
		mayEnd  bool
		mustEnd bool
	}{
		{name: "too early", elapsed: 3 * time.Minute, valid: false, mayEnd: false, mustEnd: false},
		{name: "lower bound", elapsed: 8 * time.Minute, valid: true, mayEnd: true, mustEnd: false},
		{name: "inside window", elapsed: 500 * time.Second, valid: true, mayEnd: true, mustEnd: false},
		{name: "upper bound", elapsed: 15 * time.Minute, valid: true, mayEnd: true, mustEnd: true},
		{name: "overshot", elapsed: 16 * time.Minute, valid: false, mayEnd: true, mustEnd: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := CheckSessionDuration(start, start.Add(tt.elapsed), min, max)
			require.Equal(t, tt.elapsed, r.Elapsed)
			require.Equal(t, tt.valid, r.Valid)
			require.Equal(t, tt.mayEnd, r.MayEnd())
			require.Equal(t, tt.mustEnd, r.MustEnd())
		})
	}
}

func TestCheckDailyLimit(t *testing.T) {
	require.NoError(t, CheckDailyLimit(0, 3))
	require.NoError(t, CheckDailyLimit(2, 3))

	err := CheckDailyLimit(3, 3)
	require.Error(t, err)
	require.True(t, errors.Is(err, schemas.ErrQuotaExceeded))

	require.Error(t, CheckDailyLimit(7, 3))
}

func TestDayStartUTC(t *testing.T) {
	// 23:30 in UTC-5 is already the next UTC day.
	loc := time.FixedZone("EST", -5*3600)
	local := time.Date(2025, 6, 1, 23, 30, 0, 0, loc)
	require.Equal(t, time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC), DayStartUTC(local))

	utc := time.Date(2025, 6, 1, 0, 0, 0, 1, time.UTC)
	require.Equal(t, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), DayStartUTC(utc))
}
