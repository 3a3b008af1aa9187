package engine

import (
	"slices"

	"golang.org/x/exp/constraints"
)

// sortedUnique returns the distinct values of xs in ascending order.
func sortedUnique[T constraints.Ordered](xs []T) []T {
	out := slices.Clone(xs)
	slices.Sort(out)
	return slices.Compact(out)
}

// clampTo returns v if it is one of allowed, otherwise the smallest allowed value.
// allowed must be sorted; an empty allowed leaves v unchanged.
func clampTo[T constraints.Integer](v T, allowed []T) T {
	if len(allowed) == 0 || slices.Contains(allowed, v) {
		return v
	}
	return allowed[0]
}

// scheduleDays lists the days that have at least one row. An empty schedule has day 1.
func scheduleDays(items []ScheduleItem) []int {
	days := make([]int, 0, len(items))
	for _, it := range items {
		days = append(days, it.Day)
	}
	if len(days) == 0 {
		return []int{1}
	}
	return sortedUnique(days)
}

// resolveCue finds the row for name on day. It returns the row together with its 1-based
// position in the full schedule.
func resolveCue(items []ScheduleItem, name string, day int) (ScheduleItem, int, error) {
	var elsewhere []int
	for i, it := range items {
		if !it.MatchesCue(name) {
			continue
		}
		if it.Day == day {
			return it, i + 1, nil
		}
		elsewhere = append(elsewhere, it.Day)
	}
	return ScheduleItem{}, 0, &CueNotFoundError{Cue: name, Day: day, AvailableDays: sortedUnique(elsewhere)}
}

// dayCues lists the distinct cue labels scheduled on day, in schedule order.
func dayCues(items []ScheduleItem, day int) []string {
	var cues []string
	for _, it := range items {
		if it.Day != day {
			continue
		}
		if c := it.CueLabel(); c != "" && !slices.Contains(cues, c) {
			cues = append(cues, c)
		}
	}
	return cues
}
