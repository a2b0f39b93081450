package server

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/MMatviiuk/medtrack/internal/recurrence"
	"github.com/bwmarrin/snowflake"
)

var (
	errInvalidID   = errors.New("invalid_snowflake_id")
	errInvalidTime = errors.New("invalid_time")
)

func parseOptionalInt(value string) (*int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// parseOptionalSnowflakeID rejects zero and negative ids.
func parseOptionalSnowflakeID(value string) (*snowflake.ID, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	id, err := snowflake.ParseString(value)
	if err != nil || id <= 0 {
		return nil, errInvalidID
	}
	return &id, nil
}

// parseOptionalTime accepts RFC3339 instants or calendar dates. A date maps to
// the first or the last instant of that UTC day.
func parseOptionalTime(value string, endOfDay bool) (*time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return &t, nil
	}
	day, err := time.Parse(recurrence.DateLayout, value)
	if err != nil {
		return nil, errInvalidTime
	}
	if endOfDay {
		day = day.AddDate(0, 0, 1).Add(-time.Nanosecond)
	}
	return &day, nil
}

func parseDate(value string) (string, bool) {
	value = strings.TrimSpace(value)
	if _, err := time.Parse(recurrence.DateLayout, value); err != nil {
		return "", false
	}
	return value, true
}
