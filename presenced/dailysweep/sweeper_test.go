package dailysweep_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"

	"cdr.dev/slog/sloggers/slogtest"

	"github.com/coder/quartz"

	"github.com/presenced/presenced/presenced/activity"
	"github.com/presenced/presenced/presenced/dailysweep"
	"github.com/presenced/presenced/presenced/database"
	"github.com/presenced/presenced/presenced/database/dbfake"
	"github.com/presenced/presenced/presenced/tracking"
	"github.com/presenced/presenced/testutil"
)

func TestSweep(t *testing.T) {
	t.Parallel()

	t.Run("Scenario", func(t *testing.T) {
		t.Parallel()

		var (
			db     = dbfake.New()
			clock  = quartz.NewMock(t)
			ctx    = testutil.Context(t, testutil.WaitShort)
			logger = slogtest.Make(t, nil)
			day1   = time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
			day2   = day1.AddDate(0, 0, 1)
		)
		clock.Set(day1.Add(8 * time.Hour))

		registry := tracking.NewRegistry(logger, db, time.UTC)
		registry.Clock = clock
		_, err := registry.Enroll(ctx, "lobby", "alice", "alice")
		require.NoError(t, err)

		recorder := activity.NewRecorder(logger, db, time.UTC, nil)
		recorded, err := recorder.RecordEvent(ctx, "lobby", "alice", day1.Add(9*time.Hour))
		require.NoError(t, err)
		require.True(t, recorded.FirstOfDay)
		require.EqualValues(t, 1, recorded.Streak.SuccessStreak)

		recorded, err = recorder.RecordEvent(ctx, "lobby", "alice", day1.Add(14*time.Hour))
		require.NoError(t, err)
		require.False(t, recorded.FirstOfDay)

		// No event on day 2: the sweep marks the day failed.
		sweeper := dailysweep.New(ctx, logger, db, time.UTC, nil, nil)
		stats := sweeper.Sweep(day2.Add(23 * time.Hour))
		require.NoError(t, stats.Error)
		require.Equal(t, 1, stats.Checked)
		require.Len(t, stats.Failed, 1)
		require.Equal(t, "alice", stats.Failed[0].SubjectID)
		require.EqualValues(t, 1, stats.Failed[0].FailureStreak)

		streak, err := db.GetUserStreak(ctx, database.GetUserStreakParams{
			GroupID:   "lobby",
			SubjectID: "alice",
		})
		require.NoError(t, err)
		require.EqualValues(t, 0, streak.SuccessStreak)
		require.EqualValues(t, 1, streak.FailureStreak)

		// A repeat sweep for the same date reports no new failures and does
		// not double-decrement.
		stats = sweeper.Sweep(day2.Add(23*time.Hour + 30*time.Minute))
		require.NoError(t, stats.Error)
		require.Empty(t, stats.Failed)

		streak, err = db.GetUserStreak(ctx, database.GetUserStreakParams{
			GroupID:   "lobby",
			SubjectID: "alice",
		})
		require.NoError(t, err)
		require.EqualValues(t, 1, streak.FailureStreak)

		// A success on day 3 flips the streak back.
		recorded, err = recorder.RecordEvent(ctx, "lobby", "alice", day2.AddDate(0, 0, 1).Add(9*time.Hour))
		require.NoError(t, err)
		require.True(t, recorded.FirstOfDay)
		require.EqualValues(t, 1, recorded.Streak.SuccessStreak)
		require.EqualValues(t, 0, recorded.Streak.FailureStreak)
	})

	t.Run("MessagedSubjectExcluded", func(t *testing.T) {
		t.Parallel()

		var (
			db     = dbfake.New()
			ctx    = testutil.Context(t, testutil.WaitShort)
			logger = slogtest.Make(t, nil)
			day    = time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
		)

		registry := tracking.NewRegistry(logger, db, time.UTC)
		_, err := registry.Enroll(ctx, "lobby", "alice", "alice")
		require.NoError(t, err)
		_, err = registry.Enroll(ctx, "lobby", "bob", "bob")
		require.NoError(t, err)

		recorder := activity.NewRecorder(logger, db, time.UTC, nil)
		_, err = recorder.RecordEvent(ctx, "lobby", "alice", day.Add(9*time.Hour))
		require.NoError(t, err)

		sweeper := dailysweep.New(ctx, logger, db, time.UTC, nil, nil)
		stats := sweeper.Sweep(day.Add(23 * time.Hour))
		require.NoError(t, stats.Error)
		require.Equal(t, 2, stats.Checked)
		require.Len(t, stats.Failed, 1)
		require.Equal(t, "bob", stats.Failed[0].SubjectID)
	})

	t.Run("EnrollmentDaySeedIsNotPenalized", func(t *testing.T) {
		t.Parallel()

		var (
			db     = dbfake.New()
			clock  = quartz.NewMock(t)
			ctx    = testutil.Context(t, testutil.WaitShort)
			logger = slogtest.Make(t, nil)
			day    = time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
		)
		clock.Set(day.Add(8 * time.Hour))

		registry := tracking.NewRegistry(logger, db, time.UTC)
		registry.Clock = clock
		_, err := registry.Enroll(ctx, "lobby", "alice", "alice")
		require.NoError(t, err)

		// The seeded entry for enrollment day counts as already processed.
		sweeper := dailysweep.New(ctx, logger, db, time.UTC, nil, nil)
		stats := sweeper.Sweep(day.Add(23 * time.Hour))
		require.NoError(t, stats.Error)
		require.Empty(t, stats.Failed)

		streak, err := db.GetUserStreak(ctx, database.GetUserStreakParams{
			GroupID:   "lobby",
			SubjectID: "alice",
		})
		require.NoError(t, err)
		require.Zero(t, streak.FailureStreak)
	})

	t.Run("IsolatesSubjectErrors", func(t *testing.T) {
		t.Parallel()

		var (
			db     = dbfake.New()
			ctx    = testutil.Context(t, testutil.WaitShort)
			logger = slogtest.Make(t, &slogtest.Options{IgnoreErrors: true})
			day    = time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
		)

		registry := tracking.NewRegistry(logger, db, time.UTC)
		_, err := registry.Enroll(ctx, "lobby", "alice", "alice")
		require.NoError(t, err)
		_, err = registry.Enroll(ctx, "lobby", "bob", "bob")
		require.NoError(t, err)

		broken := &failDailyActivity{Store: db, subjectID: "alice"}
		sweeper := dailysweep.New(ctx, logger, broken, time.UTC, nil, nil)
		stats := sweeper.Sweep(day.AddDate(0, 0, 1))
		require.NoError(t, stats.Error)
		require.Equal(t, 1, stats.Errored)
		require.Len(t, stats.Failed, 1)
		require.Equal(t, "bob", stats.Failed[0].SubjectID)
	})

	t.Run("TickDriven", func(t *testing.T) {
		t.Parallel()

		var (
			db      = dbfake.New()
			ctx     = testutil.Context(t, testutil.WaitShort)
			logger  = slogtest.Make(t, nil)
			day     = time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
			tick    = make(chan time.Time)
			statsCh = make(chan dailysweep.Stats)
		)

		registry := tracking.NewRegistry(logger, db, time.UTC)
		_, err := registry.Enroll(ctx, "lobby", "alice", "alice")
		require.NoError(t, err)

		sweeper := dailysweep.New(ctx, logger, db, time.UTC, tick, nil).
			WithStatsChannel(statsCh)
		sweeper.Run()

		select {
		case tick <- day.AddDate(0, 0, 1):
		case <-ctx.Done():
			t.Fatal("sweeper did not accept tick")
		}

		select {
		case stats := <-statsCh:
			require.NoError(t, stats.Error)
			require.Len(t, stats.Failed, 1)
		case <-ctx.Done():
			t.Fatal("no stats published")
		}
	})
}

// failDailyActivity fails daily activity reads for one subject to exercise
// the sweeper's per-subject error isolation.
type failDailyActivity struct {
	database.Store
	subjectID string
}

func (f *failDailyActivity) InTx(fn func(database.Store) error, opts *database.TxOptions) error {
	return f.Store.InTx(func(tx database.Store) error {
		return fn(&failDailyActivity{Store: tx, subjectID: f.subjectID})
	}, opts)
}

func (f *failDailyActivity) GetDailyActivity(ctx context.Context, arg database.GetDailyActivityParams) (database.DailyActivity, error) {
	if arg.SubjectID == f.subjectID {
		return database.DailyActivity{}, xerrors.New("storage offline")
	}
	return f.Store.GetDailyActivity(ctx, arg)
}
