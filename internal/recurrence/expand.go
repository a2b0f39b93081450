package recurrence

import (
	"sort"
	"time"
)

// Expand turns a rule into ascending absolute instants. Wall-clock times are
// resolved in loc; a nil loc means UTC.
func Expand(rule Rule, loc *time.Location) []time.Time {
	if loc == nil {
		loc = time.UTC
	}

	start := dateOf(rule.DateStart)
	end := start.AddDate(0, 0, HorizonDays)
	if rule.DateEnd != nil {
		end = dateOf(*rule.DateEnd)
	}

	days := make(map[int]struct{}, len(rule.FrequencyDays))
	for _, d := range rule.FrequencyDays {
		days[d] = struct{}{}
	}

	minutes := make([]int, 0, len(rule.TimeOfDay))
	for _, raw := range rule.TimeOfDay {
		m, err := ParseTimeOfDay(raw)
		if err != nil {
			continue
		}
		minutes = append(minutes, m)
	}
	sort.Ints(minutes)

	var out []time.Time
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		if _, ok := days[ISOWeekday(day)]; !ok {
			continue
		}
		y, m, d := day.Date()
		for _, offset := range minutes {
			out = append(out, time.Date(y, m, d, offset/60, offset%60, 0, 0, loc))
		}
	}
	return out
}

// ExpandAfter is the future-only mode: every instant at or before now is
// dropped.
func ExpandAfter(rule Rule, loc *time.Location, now time.Time) []time.Time {
	all := Expand(rule, loc)
	out := all[:0]
	for _, t := range all {
		if t.After(now) {
			out = append(out, t)
		}
	}
	return out
}

// Dates returns the distinct calendar dates, formatted in loc, that the
// instants fall on.
func Dates(instants []time.Time, loc *time.Location) []string {
	if loc == nil {
		loc = time.UTC
	}
	seen := make(map[string]struct{}, len(instants))
	out := make([]string, 0)
	for _, t := range instants {
		key := t.In(loc).Format(DateLayout)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}
