package activity

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"golang.org/x/xerrors"

	"github.com/coder/quartz"

	"github.com/presenced/presenced/presenced/database"
)

// ErrNoStreakState is returned by BuildReport when the subject has no streak
// row, meaning it was never enrolled or its enrollment data is missing.
var ErrNoStreakState = xerrors.New("no streak state for subject")

// DefaultReportWindowDays is the history window used when the caller does not
// specify one.
const DefaultReportWindowDays = 7

// Report is the read-only view of a subject's ledger state.
type Report struct {
	SuccessStreak int32 `json:"success_streak"`
	FailureStreak int32 `json:"failure_streak"`
	// History holds the stored entries within the window, most recent first.
	// Dates with no entry are absent; consumers must tolerate gaps.
	History []database.DailyActivity `json:"history"`
}

// ReportBuilder derives reports from the ledger. It never mutates streak
// state.
type ReportBuilder struct {
	// Clock is only replaced in tests.
	Clock quartz.Clock

	db       database.Store
	location *time.Location
}

func NewReportBuilder(db database.Store, loc *time.Location) *ReportBuilder {
	return &ReportBuilder{
		Clock:    quartz.NewReal(),
		db:       db,
		location: loc,
	}
}

// BuildReport returns the subject's current streaks and its daily history for
// the window [today-(windowDays-1), today]. A windowDays of zero or less
// selects the default window.
func (b *ReportBuilder) BuildReport(ctx context.Context, groupID, subjectID string, windowDays int) (Report, error) {
	if windowDays <= 0 {
		windowDays = DefaultReportWindowDays
	}

	streak, err := b.db.GetUserStreak(ctx, database.GetUserStreakParams{
		GroupID:   groupID,
		SubjectID: subjectID,
	})
	if errors.Is(err, sql.ErrNoRows) {
		return Report{}, ErrNoStreakState
	}
	if err != nil {
		return Report{}, xerrors.Errorf("get user streak: %w", err)
	}

	today := Date(b.Clock.Now(), b.location)
	start := today.AddDate(0, 0, -(windowDays - 1))
	history, err := b.db.GetDailyActivityWindow(ctx, database.GetDailyActivityWindowParams{
		GroupID:   groupID,
		SubjectID: subjectID,
		StartDate: start,
		EndDate:   today,
	})
	if err != nil {
		return Report{}, xerrors.Errorf("get daily activity window: %w", err)
	}

	return Report{
		SuccessStreak: streak.SuccessStreak,
		FailureStreak: streak.FailureStreak,
		History:       history,
	}, nil
}
