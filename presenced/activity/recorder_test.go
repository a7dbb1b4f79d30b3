package activity_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"cdr.dev/slog/sloggers/slogtest"

	"github.com/coder/quartz"

	"github.com/presenced/presenced/presenced/activity"
	"github.com/presenced/presenced/presenced/database"
	"github.com/presenced/presenced/presenced/database/dbfake"
	"github.com/presenced/presenced/presenced/tracking"
	"github.com/presenced/presenced/testutil"
)

func TestRecordEvent(t *testing.T) {
	t.Parallel()

	t.Run("NotTracked", func(t *testing.T) {
		t.Parallel()

		var (
			db     = dbfake.New()
			ctx    = testutil.Context(t, testutil.WaitShort)
			logger = slogtest.Make(t, nil)
		)

		recorder := activity.NewRecorder(logger, db, time.UTC, nil)
		_, err := recorder.RecordEvent(ctx, "lobby", "stranger", time.Now())
		require.ErrorIs(t, err, activity.ErrNotTracked)

		// No side effects may remain.
		_, err = db.GetUserStreak(ctx, database.GetUserStreakParams{
			GroupID:   "lobby",
			SubjectID: "stranger",
		})
		require.Error(t, err)
	})

	t.Run("FirstOfDayOnce", func(t *testing.T) {
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

		recorder := activity.NewRecorder(logger, db, time.UTC, nil)

		// The enrollment seed left an unmessaged entry for today; the first
		// event still counts as first-of-day.
		first := day.Add(9 * time.Hour)
		recorded, err := recorder.RecordEvent(ctx, "lobby", "alice", first)
		require.NoError(t, err)
		require.True(t, recorded.FirstOfDay)
		require.EqualValues(t, 1, recorded.Streak.SuccessStreak)
		require.EqualValues(t, 0, recorded.Streak.FailureStreak)

		for _, offset := range []time.Duration{10 * time.Hour, 14 * time.Hour, 23 * time.Hour} {
			recorded, err = recorder.RecordEvent(ctx, "lobby", "alice", day.Add(offset))
			require.NoError(t, err)
			require.False(t, recorded.FirstOfDay)
		}

		// The streak only advanced once.
		streak, err := db.GetUserStreak(ctx, database.GetUserStreakParams{
			GroupID:   "lobby",
			SubjectID: "alice",
		})
		require.NoError(t, err)
		require.EqualValues(t, 1, streak.SuccessStreak)

		// first_message_at is write-once.
		entry, err := db.GetDailyActivity(ctx, database.GetDailyActivityParams{
			GroupID:      "lobby",
			SubjectID:    "alice",
			ActivityDate: day,
		})
		require.NoError(t, err)
		require.True(t, entry.Messaged)
		require.True(t, entry.FirstMessageAt.Valid)
		require.True(t, entry.FirstMessageAt.Time.Equal(first))
	})

	t.Run("NewDayNewFirst", func(t *testing.T) {
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

		recorder := activity.NewRecorder(logger, db, time.UTC, nil)
		recorded, err := recorder.RecordEvent(ctx, "lobby", "alice", day.Add(9*time.Hour))
		require.NoError(t, err)
		require.True(t, recorded.FirstOfDay)

		recorded, err = recorder.RecordEvent(ctx, "lobby", "alice", day.AddDate(0, 0, 1).Add(7*time.Hour))
		require.NoError(t, err)
		require.True(t, recorded.FirstOfDay)
		require.EqualValues(t, 2, recorded.Streak.SuccessStreak)
	})

	t.Run("TimezoneBoundary", func(t *testing.T) {
		t.Parallel()

		var (
			db     = dbfake.New()
			ctx    = testutil.Context(t, testutil.WaitShort)
			logger = slogtest.Make(t, nil)
		)
		location, err := time.LoadLocation("Asia/Singapore")
		require.NoError(t, err)

		registry := tracking.NewRegistry(logger, db, location)
		_, err = registry.Enroll(ctx, "lobby", "alice", "alice")
		require.NoError(t, err)

		recorder := activity.NewRecorder(logger, db, location, nil)

		// 16:30 UTC on March 10 is already 00:30 on March 11 in Singapore.
		instant := time.Date(2024, 3, 10, 16, 30, 0, 0, time.UTC)
		recorded, err := recorder.RecordEvent(ctx, "lobby", "alice", instant)
		require.NoError(t, err)
		require.True(t, recorded.FirstOfDay)

		entry, err := db.GetDailyActivity(ctx, database.GetDailyActivityParams{
			GroupID:      "lobby",
			SubjectID:    "alice",
			ActivityDate: time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC),
		})
		require.NoError(t, err)
		require.True(t, entry.Messaged)
	})
}
