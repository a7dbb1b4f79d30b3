package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

type querier interface {
	InsertTrackedUser(ctx context.Context, arg InsertTrackedUserParams) (TrackedUser, error)
	DeleteTrackedUser(ctx context.Context, arg DeleteTrackedUserParams) error
	GetTrackedUser(ctx context.Context, arg GetTrackedUserParams) (TrackedUser, error)
	GetTrackedUserByHandle(ctx context.Context, arg GetTrackedUserByHandleParams) (TrackedUser, error)
	GetTrackedUsers(ctx context.Context) ([]TrackedUser, error)
	GetTrackedUsersByGroup(ctx context.Context, groupID string) ([]TrackedUser, error)

	GetDailyActivity(ctx context.Context, arg GetDailyActivityParams) (DailyActivity, error)
	UpsertDailyActivity(ctx context.Context, arg UpsertDailyActivityParams) (DailyActivity, error)
	GetDailyActivityWindow(ctx context.Context, arg GetDailyActivityWindowParams) ([]DailyActivity, error)

	GetUserStreak(ctx context.Context, arg GetUserStreakParams) (UserStreak, error)
	UpsertUserStreak(ctx context.Context, arg UpsertUserStreakParams) (UserStreak, error)
}

type InsertTrackedUserParams struct {
	ID        uuid.UUID      `db:"id"`
	GroupID   string         `db:"group_id"`
	SubjectID string         `db:"subject_id"`
	Handle    sql.NullString `db:"handle"`
	CreatedAt time.Time      `db:"created_at"`
}

func (q *sqlQuerier) InsertTrackedUser(ctx context.Context, arg InsertTrackedUserParams) (TrackedUser, error) {
	const query = `
		INSERT INTO tracked_users (id, group_id, subject_id, handle, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, group_id, subject_id, handle, created_at
	`
	var user TrackedUser
	err := q.db.GetContext(ctx, &user, query,
		arg.ID, arg.GroupID, arg.SubjectID, arg.Handle, arg.CreatedAt)
	return user, err
}

type DeleteTrackedUserParams struct {
	GroupID   string `db:"group_id"`
	SubjectID string `db:"subject_id"`
}

// DeleteTrackedUser removes the subscription. Dependent daily activity and
// streak rows are removed by ON DELETE CASCADE.
func (q *sqlQuerier) DeleteTrackedUser(ctx context.Context, arg DeleteTrackedUserParams) error {
	const query = `
		DELETE FROM tracked_users
		WHERE group_id = $1 AND subject_id = $2
	`
	_, err := q.db.ExecContext(ctx, query, arg.GroupID, arg.SubjectID)
	return err
}

type GetTrackedUserParams struct {
	GroupID   string `db:"group_id"`
	SubjectID string `db:"subject_id"`
}

func (q *sqlQuerier) GetTrackedUser(ctx context.Context, arg GetTrackedUserParams) (TrackedUser, error) {
	const query = `
		SELECT id, group_id, subject_id, handle, created_at
		FROM tracked_users
		WHERE group_id = $1 AND subject_id = $2
	`
	var user TrackedUser
	err := q.db.GetContext(ctx, &user, query, arg.GroupID, arg.SubjectID)
	return user, err
}

type GetTrackedUserByHandleParams struct {
	GroupID string `db:"group_id"`
	Handle  string `db:"handle"`
}

func (q *sqlQuerier) GetTrackedUserByHandle(ctx context.Context, arg GetTrackedUserByHandleParams) (TrackedUser, error) {
	const query = `
		SELECT id, group_id, subject_id, handle, created_at
		FROM tracked_users
		WHERE group_id = $1 AND handle = $2
	`
	var user TrackedUser
	err := q.db.GetContext(ctx, &user, query, arg.GroupID, arg.Handle)
	return user, err
}

func (q *sqlQuerier) GetTrackedUsers(ctx context.Context) ([]TrackedUser, error) {
	const query = `
		SELECT id, group_id, subject_id, handle, created_at
		FROM tracked_users
		ORDER BY created_at ASC
	`
	var users []TrackedUser
	err := q.db.SelectContext(ctx, &users, query)
	return users, err
}

func (q *sqlQuerier) GetTrackedUsersByGroup(ctx context.Context, groupID string) ([]TrackedUser, error) {
	const query = `
		SELECT id, group_id, subject_id, handle, created_at
		FROM tracked_users
		WHERE group_id = $1
		ORDER BY created_at ASC
	`
	var users []TrackedUser
	err := q.db.SelectContext(ctx, &users, query, groupID)
	return users, err
}

type GetDailyActivityParams struct {
	GroupID      string    `db:"group_id"`
	SubjectID    string    `db:"subject_id"`
	ActivityDate time.Time `db:"activity_date"`
}

func (q *sqlQuerier) GetDailyActivity(ctx context.Context, arg GetDailyActivityParams) (DailyActivity, error) {
	const query = `
		SELECT group_id, subject_id, activity_date, messaged, first_message_at
		FROM daily_activity
		WHERE group_id = $1 AND subject_id = $2 AND activity_date = $3
	`
	var activity DailyActivity
	err := q.db.GetContext(ctx, &activity, query, arg.GroupID, arg.SubjectID, arg.ActivityDate)
	return activity, err
}

type UpsertDailyActivityParams struct {
	GroupID        string       `db:"group_id"`
	SubjectID      string       `db:"subject_id"`
	ActivityDate   time.Time    `db:"activity_date"`
	Messaged       bool         `db:"messaged"`
	FirstMessageAt sql.NullTime `db:"first_message_at"`
}

// UpsertDailyActivity inserts or replaces the entry for the key triple.
// FirstMessageAt is write-once at the SQL level: once set it is preserved
// regardless of the incoming value.
func (q *sqlQuerier) UpsertDailyActivity(ctx context.Context, arg UpsertDailyActivityParams) (DailyActivity, error) {
	const query = `
		INSERT INTO daily_activity (group_id, subject_id, activity_date, messaged, first_message_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (group_id, subject_id, activity_date) DO UPDATE SET
			messaged = EXCLUDED.messaged,
			first_message_at = COALESCE(daily_activity.first_message_at, EXCLUDED.first_message_at)
		RETURNING group_id, subject_id, activity_date, messaged, first_message_at
	`
	var activity DailyActivity
	err := q.db.GetContext(ctx, &activity, query,
		arg.GroupID, arg.SubjectID, arg.ActivityDate, arg.Messaged, arg.FirstMessageAt)
	return activity, err
}

type GetDailyActivityWindowParams struct {
	GroupID   string    `db:"group_id"`
	SubjectID string    `db:"subject_id"`
	StartDate time.Time `db:"start_date"`
	EndDate   time.Time `db:"end_date"`
}

// GetDailyActivityWindow returns entries within [StartDate, EndDate]
// inclusive, most recent first. Dates without an entry are simply absent.
func (q *sqlQuerier) GetDailyActivityWindow(ctx context.Context, arg GetDailyActivityWindowParams) ([]DailyActivity, error) {
	const query = `
		SELECT group_id, subject_id, activity_date, messaged, first_message_at
		FROM daily_activity
		WHERE group_id = $1 AND subject_id = $2
			AND activity_date >= $3 AND activity_date <= $4
		ORDER BY activity_date DESC
	`
	var activities []DailyActivity
	err := q.db.SelectContext(ctx, &activities, query,
		arg.GroupID, arg.SubjectID, arg.StartDate, arg.EndDate)
	return activities, err
}

type GetUserStreakParams struct {
	GroupID   string `db:"group_id"`
	SubjectID string `db:"subject_id"`
}

func (q *sqlQuerier) GetUserStreak(ctx context.Context, arg GetUserStreakParams) (UserStreak, error) {
	const query = `
		SELECT group_id, subject_id, success_streak, failure_streak, last_activity_date, updated_at
		FROM user_streaks
		WHERE group_id = $1 AND subject_id = $2
	`
	var streak UserStreak
	err := q.db.GetContext(ctx, &streak, query, arg.GroupID, arg.SubjectID)
	return streak, err
}

type UpsertUserStreakParams struct {
	GroupID          string    `db:"group_id"`
	SubjectID        string    `db:"subject_id"`
	SuccessStreak    int32     `db:"success_streak"`
	FailureStreak    int32     `db:"failure_streak"`
	LastActivityDate time.Time `db:"last_activity_date"`
	UpdatedAt        time.Time `db:"updated_at"`
}

func (q *sqlQuerier) UpsertUserStreak(ctx context.Context, arg UpsertUserStreakParams) (UserStreak, error) {
	const query = `
		INSERT INTO user_streaks (group_id, subject_id, success_streak, failure_streak, last_activity_date, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (group_id, subject_id) DO UPDATE SET
			success_streak = EXCLUDED.success_streak,
			failure_streak = EXCLUDED.failure_streak,
			last_activity_date = EXCLUDED.last_activity_date,
			updated_at = EXCLUDED.updated_at
		RETURNING group_id, subject_id, success_streak, failure_streak, last_activity_date, updated_at
	`
	var streak UserStreak
	err := q.db.GetContext(ctx, &streak, query,
		arg.GroupID, arg.SubjectID, arg.SuccessStreak, arg.FailureStreak,
		arg.LastActivityDate, arg.UpdatedAt)
	return streak, err
}
