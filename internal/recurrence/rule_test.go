package recurrence

import (
	"errors"
	"testing"
	"time"
)

func TestValidate(t *testing.T) {
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	before := start.AddDate(0, 0, -1)

	cases := []struct {
		name  string
		rule  Rule
		field string
		code  string
	}{
		{name: "missing_start", rule: Rule{FrequencyDays: []int{1}, TimeOfDay: []string{"08:00"}}, field: "date_start", code: CodeRequired},
		{name: "end_before_start", rule: Rule{DateStart: start, DateEnd: &before, FrequencyDays: []int{1}, TimeOfDay: []string{"08:00"}}, field: "date_end", code: CodeOutOfRange},
		{name: "empty_days", rule: Rule{DateStart: start, TimeOfDay: []string{"08:00"}}, field: "frequency_days", code: CodeRequired},
		{name: "weekday_zero", rule: Rule{DateStart: start, FrequencyDays: []int{0}, TimeOfDay: []string{"08:00"}}, field: "frequency_days", code: CodeOutOfRange},
		{name: "weekday_eight", rule: Rule{DateStart: start, FrequencyDays: []int{8}, TimeOfDay: []string{"08:00"}}, field: "frequency_days", code: CodeOutOfRange},
		{name: "empty_times", rule: Rule{DateStart: start, FrequencyDays: []int{1}}, field: "time_of_day", code: CodeRequired},
		{name: "bad_format", rule: Rule{DateStart: start, FrequencyDays: []int{1}, TimeOfDay: []string{"8:00"}}, field: "time_of_day", code: CodeInvalidFormat},
		{name: "signed_hour", rule: Rule{DateStart: start, FrequencyDays: []int{1}, TimeOfDay: []string{"+1:00"}}, field: "time_of_day", code: CodeInvalidFormat},
		{name: "hour_out_of_range", rule: Rule{DateStart: start, FrequencyDays: []int{1}, TimeOfDay: []string{"24:00"}}, field: "time_of_day", code: CodeOutOfRange},
		{name: "minute_out_of_range", rule: Rule{DateStart: start, FrequencyDays: []int{1}, TimeOfDay: []string{"12:60"}}, field: "time_of_day", code: CodeOutOfRange},
		{name: "duplicate_time", rule: Rule{DateStart: start, FrequencyDays: []int{1}, TimeOfDay: []string{"08:00", "08:00"}}, field: "time_of_day", code: CodeDuplicate},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(tc.rule)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if verr.Field != tc.field || verr.Code != tc.code {
				t.Fatalf("expected %s/%s, got %s/%s", tc.field, tc.code, verr.Field, verr.Code)
			}
		})
	}
}

func TestValidateAcceptsBoundaries(t *testing.T) {
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	rule := Rule{DateStart: start, DateEnd: &start, FrequencyDays: []int{1, 7}, TimeOfDay: []string{"00:00", "23:59"}}
	if err := Validate(rule); err != nil {
		t.Fatalf("expected valid rule, got %v", err)
	}
}

func TestEndDate(t *testing.T) {
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	if EndDate(start, 0) != nil {
		t.Fatal("expected zero duration to be open-ended")
	}
	end := EndDate(start, 10)
	if end == nil || end.Format(DateLayout) != "2025-03-11" {
		t.Fatalf("expected 2025-03-11, got %v", end)
	}
}

func TestParseDateRejectsGarbage(t *testing.T) {
	if _, err := ParseDate("2025/03/01"); !IsValidationError(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
