package scheduler

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ignite/leadmap-mailflow/internal/domain"
)

// cronParser accepts standard 5-field expressions and @descriptors
// (@daily, @every 1h30m).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// LoadLocation resolves a schedule timezone. Empty means UTC.
func LoadLocation(tz string) (*time.Location, error) {
	if strings.TrimSpace(tz) == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("%w: timezone %q", ErrInvalidSchedule, tz)
	}
	return loc, nil
}

// NextRun returns the first run strictly after from. The second result is
// false for kinds that never run again (once).
//
//   - interval: spec is a Go duration ("15m", "24h").
//   - cron: spec is a 5-field cron expression evaluated in tz.
//   - recurring: either of the above.
func NextRun(kind domain.ScheduleKind, spec, tz string, from time.Time) (time.Time, bool, error) {
	switch kind {
	case domain.ScheduleOnce:
		return time.Time{}, false, nil
	case domain.ScheduleInterval:
		d, err := parseInterval(spec)
		if err != nil {
			return time.Time{}, false, err
		}
		return from.Add(d), true, nil
	case domain.ScheduleCron:
		return nextCron(spec, tz, from)
	case domain.ScheduleRecurring:
		if d, err := parseInterval(spec); err == nil {
			return from.Add(d), true, nil
		}
		return nextCron(spec, tz, from)
	}
	return time.Time{}, false, fmt.Errorf("%w: kind %q", ErrInvalidSchedule, kind)
}

func parseInterval(spec string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(spec))
	if err != nil {
		return 0, fmt.Errorf("%w: interval %q", ErrInvalidSchedule, spec)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%w: interval must be positive", ErrInvalidSchedule)
	}
	return d, nil
}

func nextCron(spec, tz string, from time.Time) (time.Time, bool, error) {
	loc, err := LoadLocation(tz)
	if err != nil {
		return time.Time{}, false, err
	}
	sched, err := cronParser.Parse(strings.TrimSpace(spec))
	if err != nil {
		return time.Time{}, false, fmt.Errorf("%w: cron %q: %v", ErrInvalidSchedule, spec, err)
	}
	next := sched.Next(from.In(loc))
	if next.IsZero() {
		return time.Time{}, false, nil
	}
	return next.UTC(), true, nil
}
