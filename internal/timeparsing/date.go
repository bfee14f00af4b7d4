package timeparsing

import (
	"strings"
	"time"
)

// DateLayout is the date format Redmine uses for start, due and spent-on
// dates.
const DateLayout = "2006-01-02"

// ParseDate turns a user date expression into Redmine's YYYY-MM-DD form.
// "", "none" and "clear" return "" so callers can clear a date.
func ParseDate(s string, now time.Time) (string, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none", "clear":
		return "", nil
	}
	t, err := ParseRelativeTime(s, now)
	if err != nil {
		return "", err
	}
	return t.In(now.Location()).Format(DateLayout), nil
}
