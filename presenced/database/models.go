package database

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// TrackedUser marks a (group, subject) pair as under observation. At most one
// row exists per pair.
type TrackedUser struct {
	ID        uuid.UUID      `db:"id" json:"id"`
	GroupID   string         `db:"group_id" json:"group_id"`
	SubjectID string         `db:"subject_id" json:"subject_id"`
	// Handle is the display handle the subject was enrolled under. It may be
	// stored with or without a leading "@" depending on the enrollment path.
	Handle    sql.NullString `db:"handle" json:"handle"`
	CreatedAt time.Time      `db:"created_at" json:"created_at"`
}

// DailyActivity is one ledger row per (group, subject, activity date).
// ActivityDate is stored as a DATE column and normalized to midnight UTC of
// the calendar date in the ledger timezone. FirstMessageAt is set if and only
// if Messaged is true, and is write-once.
type DailyActivity struct {
	GroupID        string       `db:"group_id" json:"group_id"`
	SubjectID      string       `db:"subject_id" json:"subject_id"`
	ActivityDate   time.Time    `db:"activity_date" json:"activity_date"`
	Messaged       bool         `db:"messaged" json:"messaged"`
	FirstMessageAt sql.NullTime `db:"first_message_at" json:"first_message_at"`
}

// UserStreak holds the consecutive-day counters for a (group, subject) pair.
// After any recorded outcome exactly one of SuccessStreak and FailureStreak
// is nonzero; both are zero only before the first outcome.
type UserStreak struct {
	GroupID          string    `db:"group_id" json:"group_id"`
	SubjectID        string    `db:"subject_id" json:"subject_id"`
	SuccessStreak    int32     `db:"success_streak" json:"success_streak"`
	FailureStreak    int32     `db:"failure_streak" json:"failure_streak"`
	LastActivityDate time.Time `db:"last_activity_date" json:"last_activity_date"`
	UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`
}
