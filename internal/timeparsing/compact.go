// Package timeparsing turns the date expressions accepted by rd's --start,
// --due and --spent-on flags into times. Expressions are tried in layers:
//  1. Compact duration (+6h, -1d, +2w)
//  2. Absolute date (2026-01-31) or RFC3339 timestamp
//  3. Natural language (tomorrow, next monday)
package timeparsing

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// compactDurationRe matches [+-]?<n><unit> where unit is one of h, d, w,
// m (months) or y. No sign means forward.
var compactDurationRe = regexp.MustCompile(`^([+-]?)(\d+)([hdwmy])$`)

// ParseCompactDuration offsets now by a compact duration such as "+6h",
// "-1d", "2w", "3m" or "1y". Calendar units (d, w, m, y) keep the wall
// clock time and location of now.
func ParseCompactDuration(s string, now time.Time) (time.Time, error) {
	m := compactDurationRe.FindStringSubmatch(s)
	if m == nil {
		return time.Time{}, fmt.Errorf("not a compact duration: %q", s)
	}
	n, err := strconv.Atoi(m[2])
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid duration amount: %q", m[2])
	}
	if m[1] == "-" {
		n = -n
	}

	switch m[3] {
	case "h":
		return now.Add(time.Duration(n) * time.Hour), nil
	case "d":
		return now.AddDate(0, 0, n), nil
	case "w":
		return now.AddDate(0, 0, 7*n), nil
	case "m":
		return now.AddDate(0, n, 0), nil
	default: // y
		return now.AddDate(n, 0, 0), nil
	}
}

// IsCompactDuration reports whether s is a compact duration.
func IsCompactDuration(s string) bool {
	return compactDurationRe.MatchString(s)
}
