package dbfake_test

import (
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/presenced/presenced/presenced/database"
	"github.com/presenced/presenced/presenced/database/dbfake"
	"github.com/presenced/presenced/testutil"
)

func TestInsertTrackedUser_Duplicate(t *testing.T) {
	t.Parallel()

	db := dbfake.New()
	ctx := testutil.Context(t, testutil.WaitShort)

	params := database.InsertTrackedUserParams{
		ID:        uuid.New(),
		GroupID:   "lobby",
		SubjectID: "alice",
		CreatedAt: time.Now(),
	}
	_, err := db.InsertTrackedUser(ctx, params)
	require.NoError(t, err)

	params.ID = uuid.New()
	_, err = db.InsertTrackedUser(ctx, params)
	require.Error(t, err)
	require.True(t, database.IsUniqueViolation(err, database.UniqueTrackedUsersGroupSubject))
}

func TestUpsertDailyActivity_FirstMessageAtWriteOnce(t *testing.T) {
	t.Parallel()

	db := dbfake.New()
	ctx := testutil.Context(t, testutil.WaitShort)

	day := time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC)
	first := time.Date(2024, 3, 11, 9, 30, 0, 0, time.UTC)

	entry, err := db.UpsertDailyActivity(ctx, database.UpsertDailyActivityParams{
		GroupID:        "lobby",
		SubjectID:      "alice",
		ActivityDate:   day,
		Messaged:       true,
		FirstMessageAt: sql.NullTime{Time: first, Valid: true},
	})
	require.NoError(t, err)
	require.True(t, entry.FirstMessageAt.Valid)

	// A later upsert for the same date must not move the recorded first
	// message time.
	entry, err = db.UpsertDailyActivity(ctx, database.UpsertDailyActivityParams{
		GroupID:        "lobby",
		SubjectID:      "alice",
		ActivityDate:   day,
		Messaged:       true,
		FirstMessageAt: sql.NullTime{Time: first.Add(time.Hour), Valid: true},
	})
	require.NoError(t, err)
	require.True(t, entry.FirstMessageAt.Time.Equal(first))
}

func TestDeleteTrackedUser_Cascades(t *testing.T) {
	t.Parallel()

	db := dbfake.New()
	ctx := testutil.Context(t, testutil.WaitShort)

	day := time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC)
	_, err := db.InsertTrackedUser(ctx, database.InsertTrackedUserParams{
		ID:        uuid.New(),
		GroupID:   "lobby",
		SubjectID: "alice",
		CreatedAt: time.Now(),
	})
	require.NoError(t, err)
	_, err = db.UpsertDailyActivity(ctx, database.UpsertDailyActivityParams{
		GroupID:      "lobby",
		SubjectID:    "alice",
		ActivityDate: day,
	})
	require.NoError(t, err)
	_, err = db.UpsertUserStreak(ctx, database.UpsertUserStreakParams{
		GroupID:          "lobby",
		SubjectID:        "alice",
		LastActivityDate: day,
		UpdatedAt:        time.Now(),
	})
	require.NoError(t, err)

	err = db.DeleteTrackedUser(ctx, database.DeleteTrackedUserParams{
		GroupID:   "lobby",
		SubjectID: "alice",
	})
	require.NoError(t, err)

	_, err = db.GetDailyActivity(ctx, database.GetDailyActivityParams{
		GroupID:      "lobby",
		SubjectID:    "alice",
		ActivityDate: day,
	})
	require.ErrorIs(t, err, sql.ErrNoRows)
	_, err = db.GetUserStreak(ctx, database.GetUserStreakParams{
		GroupID:   "lobby",
		SubjectID: "alice",
	})
	require.ErrorIs(t, err, sql.ErrNoRows)
}
