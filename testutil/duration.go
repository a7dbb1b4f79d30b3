package testutil

import "time"

// Constants for timing out operations in tests. The values are aggressive
// to keep the suite fast while staying reliable under race detection.
const (
	WaitShort  = 10 * time.Second
	WaitMedium = 15 * time.Second
	WaitLong   = 25 * time.Second

	IntervalFast = 25 * time.Millisecond
)
