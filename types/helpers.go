package types

import (
	"fmt"
	"time"
)

// timestampLayout is fixed-width so lexical key order matches time order
const timestampLayout = "2006-01-02T15:04:05.000000000Z"

// FormatTimestamp renders t in UTC for use inside composite keys
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

// ParseTimestamp parses the ISO-8601 timestamps AWS Config emits
func ParseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
	}
	return t.UTC(), nil
}
