// Package activity implements the daily activity ledger: deciding whether an
// inbound event is the first of its activity date, maintaining the
// consecutive-day streak counters, and deriving reports from the ledger.
package activity

import "time"

// DefaultLocationName is the IANA name of the timezone that governs all
// day-boundary computations.
const DefaultLocationName = "Asia/Singapore"

// DefaultLocation loads the ledger timezone. It panics when the timezone
// database is unavailable, which only happens on broken installs.
func DefaultLocation() *time.Location {
	loc, err := time.LoadLocation(DefaultLocationName)
	if err != nil {
		panic("load ledger timezone: " + err.Error())
	}
	return loc
}

// Date returns the activity date of instant: the calendar date in loc,
// normalized to midnight UTC. The normalization matches how DATE columns come
// back from Postgres, so activity dates compare with Equal across the store
// boundary.
func Date(instant time.Time, loc *time.Location) time.Time {
	year, month, day := instant.In(loc).Date()
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}
