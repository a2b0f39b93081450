package recurrence

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"
)

// DateLayout is the calendar date format used on the wire and in storage.
const DateLayout = "2006-01-02"

// HorizonDays bounds generation for rules without an end date.
const HorizonDays = 365

// Rule is a validated recurrence template. DateStart and DateEnd are calendar
// dates: only their year, month and day are read.
type Rule struct {
	DateStart     time.Time
	DateEnd       *time.Time
	FrequencyDays []int
	TimeOfDay     []string
}

// ValidationError reports a malformed rule. It is returned by Validate before
// any expansion runs.
type ValidationError struct {
	Field string
	Code  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid recurrence rule: %s: %s", e.Field, e.Code)
}

const (
	CodeRequired      = "required"
	CodeOutOfRange    = "out_of_range"
	CodeInvalidFormat = "invalid_format"
	CodeDuplicate     = "duplicate"
)

// IsValidationError reports whether err carries a *ValidationError.
func IsValidationError(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// Validate checks the rule shape. Expand assumes it has passed.
func Validate(rule Rule) error {
	if rule.DateStart.IsZero() {
		return &ValidationError{Field: "date_start", Code: CodeRequired}
	}
	if rule.DateEnd != nil && dateOf(*rule.DateEnd).Before(dateOf(rule.DateStart)) {
		return &ValidationError{Field: "date_end", Code: CodeOutOfRange}
	}
	if len(rule.FrequencyDays) == 0 {
		return &ValidationError{Field: "frequency_days", Code: CodeRequired}
	}
	for _, day := range rule.FrequencyDays {
		if day < 1 || day > 7 {
			return &ValidationError{Field: "frequency_days", Code: CodeOutOfRange}
		}
	}
	if len(rule.TimeOfDay) == 0 {
		return &ValidationError{Field: "time_of_day", Code: CodeRequired}
	}
	seen := make(map[int]struct{}, len(rule.TimeOfDay))
	for _, raw := range rule.TimeOfDay {
		minutes, err := ParseTimeOfDay(raw)
		if err != nil {
			return err
		}
		if _, ok := seen[minutes]; ok {
			return &ValidationError{Field: "time_of_day", Code: CodeDuplicate}
		}
		seen[minutes] = struct{}{}
	}
	return nil
}

// ParseTimeOfDay parses a strict "HH:MM" wall-clock value into minutes after
// midnight.
func ParseTimeOfDay(raw string) (int, error) {
	parts := strings.Split(strings.TrimSpace(raw), ":")
	if len(parts) != 2 || !isTwoDigits(parts[0]) || !isTwoDigits(parts[1]) {
		return 0, &ValidationError{Field: "time_of_day", Code: CodeInvalidFormat}
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, &ValidationError{Field: "time_of_day", Code: CodeInvalidFormat}
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, &ValidationError{Field: "time_of_day", Code: CodeInvalidFormat}
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, &ValidationError{Field: "time_of_day", Code: CodeOutOfRange}
	}
	return hour*60 + minute, nil
}

func isTwoDigits(s string) bool {
	return len(s) == 2 && s[0] >= '0' && s[0] <= '9' && s[1] >= '0' && s[1] <= '9'
}

// ParseDate parses a "YYYY-MM-DD" calendar date.
func ParseDate(raw string) (time.Time, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, &ValidationError{Field: "date_start", Code: CodeInvalidFormat}
	}
	return t, nil
}

// EndDate applies a duration in days to a start date. Zero means open-ended.
func EndDate(start time.Time, durationDays int) *time.Time {
	if durationDays <= 0 {
		return nil
	}
	end := dateOf(start).AddDate(0, 0, durationDays)
	return &end
}

// ISOWeekday returns 1 for Monday through 7 for Sunday.
func ISOWeekday(t time.Time) int {
	wd := int(t.Weekday())
	if wd == 0 {
		return 7
	}
	return wd
}

// dateOf drops the clock and zone, keeping the calendar date as UTC midnight.
func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
