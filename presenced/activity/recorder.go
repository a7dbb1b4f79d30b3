package activity

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/xerrors"

	"cdr.dev/slog"

	"github.com/presenced/presenced/presenced/database"
	"github.com/presenced/presenced/presenced/database/dbtime"
)

// ErrNotTracked is returned when the subject of an operation is not enrolled
// in the group. It is a normal outcome, not a failure.
var ErrNotTracked = xerrors.New("subject is not tracked in this group")

// Recorder turns inbound chat events into daily activity entries and, on the
// first qualifying event of an activity date, a success streak transition.
type Recorder struct {
	db       database.Store
	log      slog.Logger
	location *time.Location

	eventsTotal     prometheus.Counter
	firstOfDayTotal prometheus.Counter
}

func NewRecorder(log slog.Logger, db database.Store, loc *time.Location, reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)
	return &Recorder{
		db:       db,
		log:      log.Named("recorder"),
		location: loc,
		eventsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "presenced",
			Subsystem: "activity",
			Name:      "events_recorded_total",
			Help:      "Total qualifying events recorded for tracked subjects.",
		}),
		firstOfDayTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "presenced",
			Subsystem: "activity",
			Name:      "first_of_day_total",
			Help:      "Events that were the first of their activity date.",
		}),
	}
}

// Recorded is the outcome of a successfully recorded event.
type Recorded struct {
	FirstOfDay bool
	// Streak is only populated when FirstOfDay is true; it is the streak
	// state after the success transition.
	Streak database.UserStreak
}

// RecordEvent records that the subject produced a qualifying event at
// instant. It returns ErrNotTracked with no side effects when the subject is
// not enrolled. FirstOfDay is true for at most one event per (group, subject,
// activity date) no matter how many events arrive or how they interleave: the
// check-then-update runs inside a repeatable-read transaction, so two
// concurrent calls cannot both observe an unmessaged entry.
func (r *Recorder) RecordEvent(ctx context.Context, groupID, subjectID string, instant time.Time) (Recorded, error) {
	activityDate := Date(instant, r.location)

	var result Recorded
	err := r.db.InTx(func(tx database.Store) error {
		_, err := tx.GetTrackedUser(ctx, database.GetTrackedUserParams{
			GroupID:   groupID,
			SubjectID: subjectID,
		})
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotTracked
		}
		if err != nil {
			return xerrors.Errorf("get tracked user: %w", err)
		}

		entry, err := tx.GetDailyActivity(ctx, database.GetDailyActivityParams{
			GroupID:      groupID,
			SubjectID:    subjectID,
			ActivityDate: activityDate,
		})
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return xerrors.Errorf("get daily activity: %w", err)
		}
		if err == nil && entry.Messaged {
			// Already recorded for this date; nothing to do.
			result = Recorded{FirstOfDay: false}
			return nil
		}

		_, err = tx.UpsertDailyActivity(ctx, database.UpsertDailyActivityParams{
			GroupID:      groupID,
			SubjectID:    subjectID,
			ActivityDate: activityDate,
			Messaged:     true,
			FirstMessageAt: sql.NullTime{
				Time:  dbtime.Time(instant.UTC()),
				Valid: true,
			},
		})
		if err != nil {
			return xerrors.Errorf("upsert daily activity: %w", err)
		}

		streak, err := ApplyOutcome(ctx, tx, groupID, subjectID, true, activityDate)
		if err != nil {
			return xerrors.Errorf("apply success outcome: %w", err)
		}
		result = Recorded{FirstOfDay: true, Streak: streak}
		return nil
	}, &database.TxOptions{Isolation: sql.LevelRepeatableRead})
	if err != nil {
		return Recorded{}, err
	}

	r.eventsTotal.Inc()
	if result.FirstOfDay {
		r.firstOfDayTotal.Inc()
		r.log.Debug(ctx, "first event of day",
			slog.F("group_id", groupID),
			slog.F("subject_id", subjectID),
			slog.F("activity_date", activityDate.Format(time.DateOnly)),
			slog.F("success_streak", result.Streak.SuccessStreak),
		)
	}
	return result, nil
}
