package citymatch

import (
	"strconv"
	"time"
)

// FormatTimestamp renders a nanosecond timestamp relative to now:
// "Just now", "5m ago", "3h ago", "2d ago", then "Jan 2".
func FormatTimestamp(ts int64, now time.Time) string {
	t := time.Unix(0, ts)
	diff := now.Sub(t)
	switch {
	case diff < time.Minute:
		return "Just now"
	case diff < time.Hour:
		return strconv.Itoa(int(diff/time.Minute)) + "m ago"
	case diff < 24*time.Hour:
		return strconv.Itoa(int(diff/time.Hour)) + "h ago"
	case diff < 7*24*time.Hour:
		return strconv.Itoa(int(diff/(24*time.Hour))) + "d ago"
	}
	return t.Format("Jan 2")
}

// FormatInterestsPreview keeps the first max interests and appends a "+N"
// marker for the rest.
func FormatInterestsPreview(interests []string, max int) []string {
	if len(interests) <= max {
		return interests
	}
	out := make([]string, 0, max+1)
	out = append(out, interests[:max]...)
	return append(out, "+"+strconv.Itoa(len(interests)-max))
}
