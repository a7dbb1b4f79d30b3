// Package dailysweep marks tracked subjects that produced no qualifying
// event on an activity date as failed, once per date.
package dailysweep

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"

	"cdr.dev/slog"

	"github.com/coder/quartz"

	"github.com/presenced/presenced/presenced/activity"
	"github.com/presenced/presenced/presenced/database"
)

// Sweeper marks missed activity dates as failures on every tick from its
// channel.
type Sweeper struct {
	ctx      context.Context
	db       database.Store
	log      slog.Logger
	clock    quartz.Clock
	location *time.Location
	tick     <-chan time.Time
	statsCh  chan<- Stats

	sweepsTotal   prometheus.Counter
	failuresTotal prometheus.Counter
	sweepSeconds  prometheus.Histogram
}

// Failure identifies a subject newly transitioned to failure by a sweep.
type Failure struct {
	GroupID       string `json:"group_id"`
	SubjectID     string `json:"subject_id"`
	Handle        string `json:"handle,omitempty"`
	FailureStreak int32  `json:"failure_streak"`
}

// Stats contains information about one run of Sweeper.
type Stats struct {
	AsOfDate time.Time
	// Checked is the number of tracked subscriptions examined.
	Checked int
	// Failed holds the subjects transitioned to failure by this run. A
	// repeat sweep for the same date reports none.
	Failed []Failure
	// Errored is the number of subjects whose processing failed; their
	// errors are isolated so the rest of the sweep proceeds.
	Errored int
	Elapsed time.Duration
	Error   error
}

func New(ctx context.Context, log slog.Logger, db database.Store, loc *time.Location, tick <-chan time.Time, reg prometheus.Registerer) *Sweeper {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)
	return &Sweeper{
		ctx:      ctx,
		db:       db,
		log:      log.Named("dailysweep"),
		clock:    quartz.NewReal(),
		location: loc,
		tick:     tick,
		sweepsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "presenced",
			Subsystem: "sweep",
			Name:      "runs_total",
			Help:      "Total sweep runs.",
		}),
		failuresTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "presenced",
			Subsystem: "sweep",
			Name:      "failures_total",
			Help:      "Subjects newly marked failed across all sweeps.",
		}),
		sweepSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "presenced",
			Subsystem: "sweep",
			Name:      "duration_seconds",
			Help:      "Duration of sweep runs.",
		}),
	}
}

// WithStatsChannel will cause Sweeper to push a Stats to ch after every
// sweep, whether triggered by a tick or invoked directly.
func (s *Sweeper) WithStatsChannel(ch chan<- Stats) *Sweeper {
	s.statsCh = ch
	return s
}

// WithClock is used in tests to inject a mock clock.
func (s *Sweeper) WithClock(clock quartz.Clock) *Sweeper {
	s.clock = clock
	return s
}

// Run sweeps on every tick from the channel. It stops when the context is
// done or the channel is closed.
func (s *Sweeper) Run() {
	go func() {
		for {
			select {
			case <-s.ctx.Done():
				return
			case t, ok := <-s.tick:
				if !ok {
					return
				}
				stats := s.Sweep(t)
				if stats.Error != nil {
					s.log.Error(s.ctx, "sweep run failed", slog.Error(stats.Error))
				}
			}
		}
	}()
}

// Sweep processes every tracked subscription for the activity date of asOf.
// Subjects with no entry for the date are marked failed and their failure
// streak extended; subjects whose entry already exists with messaged=false
// were penalized by an earlier sweep and are skipped, which makes Sweep
// idempotent per date and safe to resume after an interruption. Per-subject
// errors are isolated and counted.
func (s *Sweeper) Sweep(asOf time.Time) Stats {
	start := s.clock.Now()
	asOfDate := activity.Date(asOf, s.location)
	stats := Stats{
		AsOfDate: asOfDate,
		Failed:   []Failure{},
	}
	defer func() {
		stats.Elapsed = s.clock.Since(start)
		s.sweepsTotal.Inc()
		s.sweepSeconds.Observe(stats.Elapsed.Seconds())
		s.publish(&stats)
	}()

	tracked, err := s.db.GetTrackedUsers(s.ctx)
	if err != nil {
		stats.Error = xerrors.Errorf("get tracked users: %w", err)
		return stats
	}
	stats.Checked = len(tracked)

	// The errgroup is for concurrency limiting, not early cancellation, so
	// the worker funcs only return nil.
	var statsMu sync.Mutex
	eg := errgroup.Group{}
	eg.SetLimit(10)

	for _, user := range tracked {
		user := user
		log := s.log.With(
			slog.F("group_id", user.GroupID),
			slog.F("subject_id", user.SubjectID),
		)
		eg.Go(func() error {
			failure, processed, err := s.sweepOne(user, asOfDate)
			if err != nil {
				log.Error(s.ctx, "sweep subject failed", slog.Error(err))
				statsMu.Lock()
				stats.Errored++
				statsMu.Unlock()
				return nil
			}
			if !processed {
				return nil
			}
			statsMu.Lock()
			stats.Failed = append(stats.Failed, failure)
			statsMu.Unlock()
			s.failuresTotal.Inc()
			log.Info(s.ctx, "marked subject failed",
				slog.F("activity_date", asOfDate.Format(time.DateOnly)),
				slog.F("failure_streak", failure.FailureStreak),
			)
			return nil
		})
	}
	_ = eg.Wait()

	return stats
}

// sweepOne examines one subscription. It reports processed=true only when
// this invocation transitioned the subject to failure.
func (s *Sweeper) sweepOne(user database.TrackedUser, asOfDate time.Time) (Failure, bool, error) {
	var (
		failure   Failure
		processed bool
	)
	err := s.db.InTx(func(tx database.Store) error {
		// Re-read under the transaction so a late-arriving message and a
		// concurrent sweep cannot both act on the same date.
		_, err := tx.GetDailyActivity(s.ctx, database.GetDailyActivityParams{
			GroupID:      user.GroupID,
			SubjectID:    user.SubjectID,
			ActivityDate: asOfDate,
		})
		if err == nil {
			// messaged=true: the subject succeeded. messaged=false: a prior
			// sweep already recorded the failure; applying the penalty again
			// would double-decrement.
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return xerrors.Errorf("get daily activity: %w", err)
		}

		_, err = tx.UpsertDailyActivity(s.ctx, database.UpsertDailyActivityParams{
			GroupID:      user.GroupID,
			SubjectID:    user.SubjectID,
			ActivityDate: asOfDate,
			Messaged:     false,
		})
		if err != nil {
			return xerrors.Errorf("insert failed daily activity: %w", err)
		}

		streak, err := activity.ApplyOutcome(s.ctx, tx, user.GroupID, user.SubjectID, false, asOfDate)
		if err != nil {
			return xerrors.Errorf("apply failure outcome: %w", err)
		}

		failure = Failure{
			GroupID:       user.GroupID,
			SubjectID:     user.SubjectID,
			Handle:        user.Handle.String,
			FailureStreak: streak.FailureStreak,
		}
		processed = true
		return nil
	}, &database.TxOptions{Isolation: sql.LevelRepeatableRead})
	if err != nil {
		return Failure{}, false, err
	}
	return failure, processed, nil
}

func (s *Sweeper) publish(stats *Stats) {
	if s.statsCh == nil {
		return
	}
	select {
	case <-s.ctx.Done():
	case s.statsCh <- *stats:
	}
}
