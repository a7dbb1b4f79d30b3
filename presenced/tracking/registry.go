// Package tracking owns the subscription lifecycle: which (group, subject)
// pairs are under observation.
package tracking

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/xerrors"

	"cdr.dev/slog"

	"github.com/coder/quartz"

	"github.com/presenced/presenced/presenced/activity"
	"github.com/presenced/presenced/presenced/database"
	"github.com/presenced/presenced/presenced/database/dbtime"
)

var (
	// ErrAlreadyTracked is returned by Enroll when the pair is enrolled.
	ErrAlreadyTracked = xerrors.New("subject is already tracked in this group")
	// ErrNotFound is returned when the pair or handle has no subscription.
	ErrNotFound = xerrors.New("subject is not tracked in this group")
)

// Registry manages tracked subscriptions.
type Registry struct {
	// Clock is only replaced in tests.
	Clock quartz.Clock

	db       database.Store
	log      slog.Logger
	location *time.Location
}

func NewRegistry(log slog.Logger, db database.Store, loc *time.Location) *Registry {
	return &Registry{
		Clock:    quartz.NewReal(),
		db:       db,
		log:      log.Named("tracking"),
		location: loc,
	}
}

// Enroll puts (group, subject) under observation. Alongside the subscription
// it initializes the streak counters to zero and seeds today's activity entry
// as unmessaged, so the recorder and the sweeper always find initialized
// rows. All three writes land in one transaction; on failure the enrollment
// is retryable with no partial state observable.
func (r *Registry) Enroll(ctx context.Context, groupID, subjectID, handle string) (database.TrackedUser, error) {
	now := dbtime.Time(r.Clock.Now())
	today := activity.Date(now, r.location)

	var user database.TrackedUser
	err := r.db.InTx(func(tx database.Store) error {
		var err error
		user, err = tx.InsertTrackedUser(ctx, database.InsertTrackedUserParams{
			ID:        uuid.New(),
			GroupID:   groupID,
			SubjectID: subjectID,
			Handle: sql.NullString{
				String: handle,
				Valid:  handle != "",
			},
			CreatedAt: now,
		})
		if database.IsUniqueViolation(err, database.UniqueTrackedUsersGroupSubject) {
			return ErrAlreadyTracked
		}
		if err != nil {
			return xerrors.Errorf("insert tracked user: %w", err)
		}

		_, err = tx.UpsertUserStreak(ctx, database.UpsertUserStreakParams{
			GroupID:          groupID,
			SubjectID:        subjectID,
			SuccessStreak:    0,
			FailureStreak:    0,
			LastActivityDate: today,
			UpdatedAt:        now,
		})
		if err != nil {
			return xerrors.Errorf("initialize user streak: %w", err)
		}

		_, err = tx.UpsertDailyActivity(ctx, database.UpsertDailyActivityParams{
			GroupID:      groupID,
			SubjectID:    subjectID,
			ActivityDate: today,
			Messaged:     false,
		})
		if err != nil {
			return xerrors.Errorf("seed daily activity: %w", err)
		}
		return nil
	}, nil)
	if err != nil {
		return database.TrackedUser{}, err
	}

	r.log.Info(ctx, "enrolled subject",
		slog.F("group_id", groupID),
		slog.F("subject_id", subjectID),
		slog.F("handle", handle),
	)
	return user, nil
}

// Unenroll removes the subscription and its dependent streak and activity
// rows. It returns ErrNotFound when the pair is not tracked.
func (r *Registry) Unenroll(ctx context.Context, groupID, subjectID string) error {
	err := r.db.InTx(func(tx database.Store) error {
		_, err := tx.GetTrackedUser(ctx, database.GetTrackedUserParams{
			GroupID:   groupID,
			SubjectID: subjectID,
		})
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return xerrors.Errorf("get tracked user: %w", err)
		}
		err = tx.DeleteTrackedUser(ctx, database.DeleteTrackedUserParams{
			GroupID:   groupID,
			SubjectID: subjectID,
		})
		if err != nil {
			return xerrors.Errorf("delete tracked user: %w", err)
		}
		return nil
	}, nil)
	if err != nil {
		return err
	}

	r.log.Info(ctx, "unenrolled subject",
		slog.F("group_id", groupID),
		slog.F("subject_id", subjectID),
	)
	return nil
}

// IsTracked reports whether (group, subject) is enrolled.
func (r *Registry) IsTracked(ctx context.Context, groupID, subjectID string) (bool, error) {
	_, err := r.db.GetTrackedUser(ctx, database.GetTrackedUserParams{
		GroupID:   groupID,
		SubjectID: subjectID,
	})
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, xerrors.Errorf("get tracked user: %w", err)
	}
	return true, nil
}

// FindByHandle looks up a subscription by display handle. Handles were
// historically stored both with and without the leading "@" depending on the
// enrollment path, so the lookup tries the raw form first and the prefixed
// form second. Do not canonicalize storage instead: it would break lookups
// for rows already stored in the other form.
func (r *Registry) FindByHandle(ctx context.Context, groupID, handle string) (database.TrackedUser, error) {
	handle = strings.TrimPrefix(handle, "@")

	user, err := r.db.GetTrackedUserByHandle(ctx, database.GetTrackedUserByHandleParams{
		GroupID: groupID,
		Handle:  handle,
	})
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return database.TrackedUser{}, xerrors.Errorf("get tracked user by handle: %w", err)
	}

	user, err = r.db.GetTrackedUserByHandle(ctx, database.GetTrackedUserByHandleParams{
		GroupID: groupID,
		Handle:  "@" + handle,
	})
	if errors.Is(err, sql.ErrNoRows) {
		return database.TrackedUser{}, ErrNotFound
	}
	if err != nil {
		return database.TrackedUser{}, xerrors.Errorf("get tracked user by prefixed handle: %w", err)
	}
	return user, nil
}
