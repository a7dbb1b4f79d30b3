package activity

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"golang.org/x/xerrors"

	"github.com/presenced/presenced/presenced/database"
	"github.com/presenced/presenced/presenced/database/dbtime"
)

// ApplyOutcome is the single point of mutation for streak counters. A success
// increments the success streak and zeroes the failure streak; a failure does
// the opposite, so exactly one counter is nonzero after any transition.
// Callers must guarantee at-most-once invocation per (group, subject,
// activity date, outcome); the recorder and the sweeper do so through their
// first-of-day and already-processed checks.
//
// ApplyOutcome must run on the same transaction as the daily activity write
// it accompanies so the two land as a unit.
func ApplyOutcome(ctx context.Context, tx database.Store, groupID, subjectID string, success bool, activityDate time.Time) (database.UserStreak, error) {
	streak, err := tx.GetUserStreak(ctx, database.GetUserStreakParams{
		GroupID:   groupID,
		SubjectID: subjectID,
	})
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return database.UserStreak{}, xerrors.Errorf("get user streak: %w", err)
	}

	if success {
		streak.SuccessStreak++
		streak.FailureStreak = 0
	} else {
		streak.FailureStreak++
		streak.SuccessStreak = 0
	}

	updated, err := tx.UpsertUserStreak(ctx, database.UpsertUserStreakParams{
		GroupID:          groupID,
		SubjectID:        subjectID,
		SuccessStreak:    streak.SuccessStreak,
		FailureStreak:    streak.FailureStreak,
		LastActivityDate: activityDate,
		UpdatedAt:        dbtime.Now(),
	})
	if err != nil {
		return database.UserStreak{}, xerrors.Errorf("upsert user streak: %w", err)
	}
	return updated, nil
}
