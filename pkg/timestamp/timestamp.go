// Package timestamp provides Unix-nanosecond timestamp helpers.
//
// Point timestamps travel as uint64 nanoseconds since the Unix epoch
// (UTC). This package converts between that wire form and time.Time
// and formats values for display.
//
// Zero Value Semantics:
//   - A timestamp value of 0 means "not set" or "unknown"
//   - Functions handle zero values gracefully, returning appropriate
//     defaults
//   - Times before the epoch are not representable; FromTime maps
//     them to 0
package timestamp

import "time"

// Now returns the current time as Unix nanoseconds.
func Now() uint64 {
	return uint64(time.Now().UnixNano())
}

// FromTime converts a time.Time to Unix nanoseconds. Zero and
// pre-epoch times return 0.
func FromTime(t time.Time) uint64 {
	if t.IsZero() {
		return 0
	}
	ns := t.UnixNano()
	if ns < 0 {
		return 0
	}
	return uint64(ns)
}

// ToTime converts Unix nanoseconds to time.Time in UTC. Returns the
// zero time if the timestamp is 0.
func ToTime(ns uint64) time.Time {
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, int64(ns)).UTC()
}

// Format converts Unix nanoseconds to an RFC3339 string with
// nanosecond precision for display. Returns empty string if the
// timestamp is 0.
func Format(ns uint64) string {
	if ns == 0 {
		return ""
	}
	return ToTime(ns).Format(time.RFC3339Nano)
}
