package stats

import (
	"strconv"
	"strings"
)

// ParseClock converts a "M:S" or "H:M:S" string to seconds.
// Non-numeric parts coerce to 0. Any other part count, or an
// empty string, returns ok=false; callers treat that as
// "timestamp unknown", never as an error.
func ParseClock(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	parts := strings.Split(s, ":")

	num := func(p string) int {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return 0
		}
		return n
	}

	switch len(parts) {
	case 2:
		return num(parts[0])*60 + num(parts[1]), true
	case 3:
		return num(parts[0])*3600 + num(parts[1])*60 + num(parts[2]), true
	default:
		return 0, false
	}
}
