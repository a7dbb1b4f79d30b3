package bot

import (
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/presenced/presenced/presenced/activity"
	"github.com/presenced/presenced/presenced/database"
)

func TestFormatReport(t *testing.T) {
	t.Parallel()

	loc, err := time.LoadLocation("Asia/Singapore")
	require.NoError(t, err)

	day := time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC)
	first := time.Date(2024, 3, 11, 1, 30, 0, 0, time.UTC)

	t.Run("SuccessStreak", func(t *testing.T) {
		t.Parallel()

		got := formatReport("alice", activity.Report{
			SuccessStreak: 2,
			History: []database.DailyActivity{
				{
					ActivityDate:   day,
					Messaged:       true,
					FirstMessageAt: sql.NullTime{Time: first, Valid: true},
				},
				{
					ActivityDate: day.AddDate(0, 0, -1),
					Messaged:     false,
				},
			},
		}, loc)
		// 01:30 UTC renders as 09:30 local.
		require.Equal(t, "Activity report for alice: active 2 days in a row. Mar 11 posted at 09:30; Mar 10 missed", got)
	})

	t.Run("SingularFailure", func(t *testing.T) {
		t.Parallel()

		got := formatReport("bob", activity.Report{FailureStreak: 1}, loc)
		require.Equal(t, "Activity report for bob: silent 1 day in a row.", got)
	})

	t.Run("NoStreak", func(t *testing.T) {
		t.Parallel()

		got := formatReport("carol", activity.Report{}, loc)
		require.Equal(t, "Activity report for carol: no streak yet.", got)
	})
}
