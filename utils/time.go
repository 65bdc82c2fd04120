// Package utils provides utility functions for the application.
package utils

import (
	"time"
)

// DayCodeLayout renders a calendar day as DDMMYY
const DayCodeLayout = "020106"

// Clock returns the current time; swapped in tests to cross day boundaries
type Clock func() time.Time

// UTCNow returns the current time in UTC
func UTCNow() time.Time {
	return time.Now().UTC()
}

// DayCode formats t in loc as the short day code shared by pallet numbers and series codes
func DayCode(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(DayCodeLayout)
}

// LoadLocation resolves an IANA zone name, falling back to UTC for empty input
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(name)
}

// MillisSince returns the elapsed milliseconds since start as a float
func MillisSince(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}
