// Package timeutil normalizes timestamps to the RFC3339 UTC
// strings stored in the database.
package timeutil

import "time"

// Format returns t as an RFC3339Nano UTC string, or "" for the
// zero time. Callers comparing against second-precision stored
// values must truncate t first.
func Format(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
