// Package dbfake implements an in-memory ledger store for testing.
package dbfake

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/lib/pq"

	"github.com/presenced/presenced/presenced/database"
)

// New returns an in-memory fake of the ledger store.
func New() database.Store {
	return &fakeQuerier{
		mutex: &sync.RWMutex{},
		data: &data{
			trackedUsers:  make([]database.TrackedUser, 0),
			dailyActivity: make([]database.DailyActivity, 0),
			userStreaks:   make([]database.UserStreak, 0),
		},
	}
}

type rwMutex interface {
	Lock()
	RLock()
	Unlock()
	RUnlock()
}

// inTxMutex is a no op, since inside a transaction we are already locked.
type inTxMutex struct{}

func (inTxMutex) Lock()    {}
func (inTxMutex) RLock()   {}
func (inTxMutex) Unlock()  {}
func (inTxMutex) RUnlock() {}

// fakeQuerier replicates database functionality to enable quick testing.
type fakeQuerier struct {
	mutex rwMutex
	*data
}

type data struct {
	trackedUsers  []database.TrackedUser
	dailyActivity []database.DailyActivity
	userStreaks   []database.UserStreak
}

func (*fakeQuerier) Ping(_ context.Context) (time.Duration, error) {
	return 0, nil
}

// InTx holds the global lock for the duration of the function, which makes
// every transaction trivially linearizable. Rollback on error is not
// simulated.
func (q *fakeQuerier) InTx(fn func(database.Store) error, opts *database.TxOptions) error {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	if opts != nil {
		database.IncrementExecutionCount(opts)
	}
	return fn(&fakeQuerier{mutex: inTxMutex{}, data: q.data})
}

func (q *fakeQuerier) InsertTrackedUser(_ context.Context, arg database.InsertTrackedUserParams) (database.TrackedUser, error) {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	for _, user := range q.trackedUsers {
		if user.GroupID == arg.GroupID && user.SubjectID == arg.SubjectID {
			// Match what lib/pq reports for a unique violation so callers can
			// use database.IsUniqueViolation against the fake.
			return database.TrackedUser{}, &pq.Error{
				Code:       "23505", // unique_violation
				Constraint: string(database.UniqueTrackedUsersGroupSubject),
			}
		}
	}

	user := database.TrackedUser{
		ID:        arg.ID,
		GroupID:   arg.GroupID,
		SubjectID: arg.SubjectID,
		Handle:    arg.Handle,
		CreatedAt: arg.CreatedAt,
	}
	q.trackedUsers = append(q.trackedUsers, user)
	return user, nil
}

func (q *fakeQuerier) DeleteTrackedUser(_ context.Context, arg database.DeleteTrackedUserParams) error {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	for index, user := range q.trackedUsers {
		if user.GroupID != arg.GroupID || user.SubjectID != arg.SubjectID {
			continue
		}
		q.trackedUsers = append(q.trackedUsers[:index], q.trackedUsers[index+1:]...)

		// Cascade delete of dependent rows, mirroring the foreign keys in the
		// Postgres schema.
		activities := make([]database.DailyActivity, 0, len(q.dailyActivity))
		for _, activity := range q.dailyActivity {
			if activity.GroupID == arg.GroupID && activity.SubjectID == arg.SubjectID {
				continue
			}
			activities = append(activities, activity)
		}
		q.dailyActivity = activities

		streaks := make([]database.UserStreak, 0, len(q.userStreaks))
		for _, streak := range q.userStreaks {
			if streak.GroupID == arg.GroupID && streak.SubjectID == arg.SubjectID {
				continue
			}
			streaks = append(streaks, streak)
		}
		q.userStreaks = streaks
		return nil
	}
	return nil
}

func (q *fakeQuerier) GetTrackedUser(_ context.Context, arg database.GetTrackedUserParams) (database.TrackedUser, error) {
	q.mutex.RLock()
	defer q.mutex.RUnlock()

	for _, user := range q.trackedUsers {
		if user.GroupID == arg.GroupID && user.SubjectID == arg.SubjectID {
			return user, nil
		}
	}
	return database.TrackedUser{}, sql.ErrNoRows
}

func (q *fakeQuerier) GetTrackedUserByHandle(_ context.Context, arg database.GetTrackedUserByHandleParams) (database.TrackedUser, error) {
	q.mutex.RLock()
	defer q.mutex.RUnlock()

	for _, user := range q.trackedUsers {
		if user.GroupID == arg.GroupID && user.Handle.Valid && user.Handle.String == arg.Handle {
			return user, nil
		}
	}
	return database.TrackedUser{}, sql.ErrNoRows
}

func (q *fakeQuerier) GetTrackedUsers(_ context.Context) ([]database.TrackedUser, error) {
	q.mutex.RLock()
	defer q.mutex.RUnlock()

	users := make([]database.TrackedUser, len(q.trackedUsers))
	copy(users, q.trackedUsers)
	sort.SliceStable(users, func(i, j int) bool {
		return users[i].CreatedAt.Before(users[j].CreatedAt)
	})
	return users, nil
}

func (q *fakeQuerier) GetTrackedUsersByGroup(_ context.Context, groupID string) ([]database.TrackedUser, error) {
	q.mutex.RLock()
	defer q.mutex.RUnlock()

	users := make([]database.TrackedUser, 0)
	for _, user := range q.trackedUsers {
		if user.GroupID == groupID {
			users = append(users, user)
		}
	}
	sort.SliceStable(users, func(i, j int) bool {
		return users[i].CreatedAt.Before(users[j].CreatedAt)
	})
	return users, nil
}

func (q *fakeQuerier) GetDailyActivity(_ context.Context, arg database.GetDailyActivityParams) (database.DailyActivity, error) {
	q.mutex.RLock()
	defer q.mutex.RUnlock()

	for _, activity := range q.dailyActivity {
		if activity.GroupID == arg.GroupID && activity.SubjectID == arg.SubjectID &&
			activity.ActivityDate.Equal(arg.ActivityDate) {
			return activity, nil
		}
	}
	return database.DailyActivity{}, sql.ErrNoRows
}

func (q *fakeQuerier) UpsertDailyActivity(_ context.Context, arg database.UpsertDailyActivityParams) (database.DailyActivity, error) {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	for index, activity := range q.dailyActivity {
		if activity.GroupID != arg.GroupID || activity.SubjectID != arg.SubjectID ||
			!activity.ActivityDate.Equal(arg.ActivityDate) {
			continue
		}
		activity.Messaged = arg.Messaged
		// first_message_at is write-once, same as the COALESCE in the
		// Postgres query.
		if !activity.FirstMessageAt.Valid {
			activity.FirstMessageAt = arg.FirstMessageAt
		}
		q.dailyActivity[index] = activity
		return activity, nil
	}

	activity := database.DailyActivity{
		GroupID:        arg.GroupID,
		SubjectID:      arg.SubjectID,
		ActivityDate:   arg.ActivityDate,
		Messaged:       arg.Messaged,
		FirstMessageAt: arg.FirstMessageAt,
	}
	q.dailyActivity = append(q.dailyActivity, activity)
	return activity, nil
}

func (q *fakeQuerier) GetDailyActivityWindow(_ context.Context, arg database.GetDailyActivityWindowParams) ([]database.DailyActivity, error) {
	q.mutex.RLock()
	defer q.mutex.RUnlock()

	activities := make([]database.DailyActivity, 0)
	for _, activity := range q.dailyActivity {
		if activity.GroupID != arg.GroupID || activity.SubjectID != arg.SubjectID {
			continue
		}
		if activity.ActivityDate.Before(arg.StartDate) || activity.ActivityDate.After(arg.EndDate) {
			continue
		}
		activities = append(activities, activity)
	}
	sort.SliceStable(activities, func(i, j int) bool {
		return activities[i].ActivityDate.After(activities[j].ActivityDate)
	})
	return activities, nil
}

func (q *fakeQuerier) GetUserStreak(_ context.Context, arg database.GetUserStreakParams) (database.UserStreak, error) {
	q.mutex.RLock()
	defer q.mutex.RUnlock()

	for _, streak := range q.userStreaks {
		if streak.GroupID == arg.GroupID && streak.SubjectID == arg.SubjectID {
			return streak, nil
		}
	}
	return database.UserStreak{}, sql.ErrNoRows
}

func (q *fakeQuerier) UpsertUserStreak(_ context.Context, arg database.UpsertUserStreakParams) (database.UserStreak, error) {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	streak := database.UserStreak{
		GroupID:          arg.GroupID,
		SubjectID:        arg.SubjectID,
		SuccessStreak:    arg.SuccessStreak,
		FailureStreak:    arg.FailureStreak,
		LastActivityDate: arg.LastActivityDate,
		UpdatedAt:        arg.UpdatedAt,
	}
	for index, existing := range q.userStreaks {
		if existing.GroupID == arg.GroupID && existing.SubjectID == arg.SubjectID {
			q.userStreaks[index] = streak
			return streak, nil
		}
	}
	q.userStreaks = append(q.userStreaks, streak)
	return streak, nil
}
