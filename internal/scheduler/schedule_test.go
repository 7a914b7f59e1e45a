package scheduler_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/leadmap-mailflow/internal/domain"
	"github.com/ignite/leadmap-mailflow/internal/scheduler"
)

func TestNextRun(t *testing.T) {
	from := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		kind   domain.ScheduleKind
		spec   string
		tz     string
		want   time.Time
		wantOK bool
	}{
		{"once never repeats", domain.ScheduleOnce, "", "", time.Time{}, false},
		{"interval", domain.ScheduleInterval, "90m", "", from.Add(90 * time.Minute), true},
		{"cron utc", domain.ScheduleCron, "0 9 * * *", "", time.Date(2024, 3, 2, 9, 0, 0, 0, time.UTC), true},
		// 09:00 EST is 14:00 UTC; it is already past 07:00 local on March 1.
		{"cron new york", domain.ScheduleCron, "0 9 * * *", "America/New_York", time.Date(2024, 3, 1, 14, 0, 0, 0, time.UTC), true},
		{"cron descriptor", domain.ScheduleCron, "@hourly", "UTC", from.Add(time.Hour), true},
		{"recurring duration", domain.ScheduleRecurring, "24h", "", from.Add(24 * time.Hour), true},
		{"recurring cron", domain.ScheduleRecurring, "30 12 * * *", "", from.Add(30 * time.Minute), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok, err := scheduler.NextRun(tt.kind, tt.spec, tt.tz, from)
			require.NoError(t, err)
			assert.Equal(t, tt.wantOK, ok)
			assert.True(t, tt.want.Equal(got), "got %s want %s", got, tt.want)
		})
	}
}

func TestNextRun_Errors(t *testing.T) {
	from := time.Now()
	for _, tc := range []struct {
		kind domain.ScheduleKind
		spec string
		tz   string
	}{
		{domain.ScheduleInterval, "-5m", ""},
		{domain.ScheduleInterval, "0s", ""},
		{domain.ScheduleCron, "every day", ""},
		{domain.ScheduleCron, "0 9 * * *", "Nowhere/City"},
		{domain.ScheduleRecurring, "nope", ""},
		{"yearly", "", ""},
	} {
		_, _, err := scheduler.NextRun(tc.kind, tc.spec, tc.tz, from)
		assert.ErrorIs(t, err, scheduler.ErrInvalidSchedule, "%s %q", tc.kind, tc.spec)
	}
}

func TestLoadLocation(t *testing.T) {
	loc, err := scheduler.LoadLocation("")
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)

	loc, err = scheduler.LoadLocation("Europe/Berlin")
	require.NoError(t, err)
	assert.Equal(t, "Europe/Berlin", loc.String())
}
