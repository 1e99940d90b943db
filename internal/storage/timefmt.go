package storage

import (
	"fmt"
	"time"
)

// TimeLayout matches sqlite's datetime('now') so rows written by older
// deployments compare correctly as text.
const TimeLayout = "2006-01-02 15:04:05"

func FormatTime(t time.Time) string { return t.UTC().Format(TimeLayout) }

func ParseTime(s string) (time.Time, error) {
	if t, err := time.ParseInLocation(TimeLayout, s, time.UTC); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("storage: bad timestamp %q", s)
}
