package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrTimestampMissing = errors.New("timestamp missing")
	ErrAmountMissing    = errors.New("amount missing")
)

// Layouts without zone information are interpreted as UTC.
var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseTimestamp parses ISO-8601 timestamps as produced by upstream feeds:
// RFC 3339 with Z or an offset, naive date-times and bare dates.
func ParseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, ErrTimestampMissing
	}

	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	// RFC 3339 with a space separator
	if t, err := time.Parse("2006-01-02 15:04:05.999999999Z07:00", value); err == nil {
		return t, nil
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", value)
}
