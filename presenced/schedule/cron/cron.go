// Package cron wraps robfig/cron to parse the sweep boundary schedule.
//
// Schedules are five-field cron expressions with an optional CRON_TZ prefix,
// for example:
//
//	CRON_TZ=Asia/Singapore 0 0 * * *
//
// which fires at midnight every day in the Singapore timezone.
package cron

import (
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/xerrors"
)

// For the purposes of this library, we only need minute, hour, day-of-month,
// month, and day-of-week.
const parserFormat = cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow

var defaultParser = cron.NewParser(parserFormat)

// Daily parses a daily schedule spec. The day-of-month, month, and
// day-of-week fields must be wildcards: the sweep boundary recurs every day.
// A missing CRON_TZ prefix defaults to UTC.
func Daily(raw string) (*Schedule, error) {
	if !strings.HasPrefix(raw, "CRON_TZ=") {
		raw = "CRON_TZ=UTC " + raw
	}
	parts := strings.Fields(raw)
	if len(parts) != 6 {
		return nil, xerrors.Errorf("expected schedule to consist of 5 fields with an optional CRON_TZ= prefix, got %d", len(parts)-1)
	}
	if parts[3] != "*" || parts[4] != "*" || parts[5] != "*" {
		return nil, xerrors.Errorf("expected day-of-month, month and day-of-week to be *")
	}

	specSched, err := defaultParser.Parse(raw)
	if err != nil {
		return nil, xerrors.Errorf("parse schedule: %w", err)
	}
	schedule, ok := specSched.(*cron.SpecSchedule)
	if !ok {
		return nil, xerrors.Errorf("expected *cron.SpecSchedule but got %T", specSched)
	}
	if schedule.Location == time.Local {
		return nil, xerrors.Errorf("schedules scheduled in time.Local are not supported")
	}

	cronStr := strings.Join(parts[1:], " ")
	return &Schedule{
		sched:   schedule,
		cronStr: cronStr,
	}, nil
}

// Schedule represents a parsed daily schedule. It is immutable.
type Schedule struct {
	sched *cron.SpecSchedule
	// cronStr is the original spec with the CRON_TZ prefix stripped.
	cronStr string
}

// String serializes the schedule to its full cron spec including CRON_TZ.
func (s Schedule) String() string {
	var sb strings.Builder
	_, _ = sb.WriteString("CRON_TZ=")
	_, _ = sb.WriteString(s.sched.Location.String())
	_, _ = sb.WriteString(" ")
	_, _ = sb.WriteString(s.cronStr)
	return sb.String()
}

// Location returns the timezone the schedule is scheduled in.
func (s Schedule) Location() *time.Location {
	return s.sched.Location
}

// Next returns the next time in the schedule relative to t.
func (s Schedule) Next(t time.Time) time.Time {
	return s.sched.Next(t)
}

// TimeUntilNext returns the duration from t until the next boundary.
func (s Schedule) TimeUntilNext(t time.Time) time.Duration {
	return s.sched.Next(t).Sub(t)
}
