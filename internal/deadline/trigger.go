package deadline

import (
	"fmt"
	"strings"
)

// Class is a notification trigger class. Each class fires on exactly one
// day offset before the deadline; offsets are matched exactly, never as
// thresholds.
type Class string

const (
	WeekBefore Class = "week_before"
	DayBefore  Class = "day_before"
	DayOf      Class = "day_of"
)

// AllClasses lists every class in descending offset order.
var AllClasses = []Class{WeekBefore, DayBefore, DayOf}

// Offset returns the number of days before the deadline the class fires on.
// ok is false for unknown classes.
func (c Class) Offset() (days int, ok bool) {
	switch c {
	case WeekBefore:
		return 7, true
	case DayBefore:
		return 1, true
	case DayOf:
		return 0, true
	}
	return 0, false
}

func (c Class) Valid() bool {
	_, ok := c.Offset()
	return ok
}

// ParseClass accepts the canonical names plus the camelCase spellings
// (weekBefore, dayBefore, dayOf).
func ParseClass(s string) (Class, error) {
	k := strings.ToLower(strings.TrimSpace(s))
	k = strings.NewReplacer("_", "", "-", "").Replace(k)
	switch k {
	case "weekbefore":
		return WeekBefore, nil
	case "daybefore":
		return DayBefore, nil
	case "dayof":
		return DayOf, nil
	}
	return "", fmt.Errorf("unknown trigger class %q", s)
}

// DaysUntil returns deadline - today in whole calendar days (negative when
// the deadline has passed).
func DaysUntil(deadline, today Date) int {
	return int(deadline.Time().Sub(today.Time()).Hours() / 24)
}

// Evaluate returns the classes that are due for deadline as seen from today.
//
// Only the given classes are checked (all of them when none are given). Each
// class is evaluated on its own, so callers must not rely on at most one
// result even though the built-in offsets never overlap.
func Evaluate(deadline, today Date, classes ...Class) []Class {
	if len(classes) == 0 {
		classes = AllClasses
	}
	days := DaysUntil(deadline, today)
	var due []Class
	for _, c := range classes {
		if off, ok := c.Offset(); ok && off == days {
			due = append(due, c)
		}
	}
	return due
}
