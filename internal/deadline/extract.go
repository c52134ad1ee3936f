package deadline

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// reDayMonthYear matches d.m.yyyy / dd.mm.yyyy not glued to other digits,
// so "123.04.2025" or "01.02.20256" never yield a partial match.
var reDayMonthYear = regexp.MustCompile(`(?:^|[^0-9])([0-9]{1,2})\.([0-9]{1,2})\.([0-9]{4})(?:[^0-9]|$)`)

// Extract returns the latest valid date mentioned in blob.
//
// The blob is read line by line; every day.month.year occurrence is checked
// against the calendar and impossible dates (31.02.2025) are ignored. ok is
// false when nothing valid was found.
func Extract(blob string) (latest Date, ok bool) {
	for _, d := range ExtractAll(blob) {
		if !ok || d.After(latest) {
			latest, ok = d, true
		}
	}
	return latest, ok
}

// ExtractAll returns every valid date in blob, in reading order.
func ExtractAll(blob string) []Date {
	var out []Date
	for _, line := range strings.Split(blob, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		out = append(out, extractLine(line)...)
	}
	return out
}

func extractLine(line string) []Date {
	var out []Date
	// FindAll cannot return overlapping matches and the separators are part of
	// each match, so "01.02.2025 03.04.2025" would lose the second date. Walk
	// the line manually instead, resuming right after the year.
	for rest := line; rest != ""; {
		loc := reDayMonthYear.FindStringSubmatchIndex(rest)
		if loc == nil {
			break
		}
		day, _ := strconv.Atoi(rest[loc[2]:loc[3]])
		month, _ := strconv.Atoi(rest[loc[4]:loc[5]])
		year, _ := strconv.Atoi(rest[loc[6]:loc[7]])
		if d, ok := NewDate(year, time.Month(month), day); ok {
			out = append(out, d)
		}
		rest = rest[loc[7]:]
	}
	return out
}
