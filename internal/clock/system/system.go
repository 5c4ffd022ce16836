// Package system provides the wall clock used to stamp crawl runs and chunks.
package system

import "time"

// Precision matches timestamptz, so a run read back from Postgres compares
// equal to the one held by the embedded store.
const Precision = time.Microsecond

// Clock reads UTC wall time at Precision.
type Clock struct{}

// New returns the process clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current UTC time without a monotonic reading.
func (Clock) Now() time.Time {
	return time.Now().UTC().Truncate(Precision)
}
