package scheduler

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultInterval is used when no schedule is configured.
const DefaultInterval = 30 * time.Minute

// Schedule is a parsed trigger: either a fixed interval or a cron spec.
//
// Accepted forms:
//   - Go duration: "30m", "1h30m"
//   - HH:MM interval: "00:30" (30 minutes), "02:00"
//   - cron: "*/30 * * * *", "0 9-18 * * 1-5", "@hourly", "@every 30m"
//
// "cron:" and "every:" prefixes force the kind.
type Schedule struct {
	Every time.Duration
	Cron  string
}

func (s Schedule) String() string {
	if s.Cron != "" {
		return s.Cron
	}
	return "@every " + s.Every.String()
}

// SecondOptional lets users write either 5- or 6-field specs.
var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

var reHHMM = regexp.MustCompile(`^(\d{1,3}):(\d{2})$`)

// ParseSchedule validates raw. An empty string yields DefaultInterval.
func ParseSchedule(raw string) (Schedule, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Schedule{Every: DefaultInterval}, nil
	}
	low := strings.ToLower(s)
	switch {
	case strings.HasPrefix(low, "cron:"):
		return parseCron(strings.TrimSpace(s[len("cron:"):]))
	case strings.HasPrefix(low, "every:"):
		return parseEvery(strings.TrimSpace(s[len("every:"):]))
	case strings.HasPrefix(s, "@") || strings.ContainsAny(s, " \t"):
		return parseCron(s)
	}
	sch, err := parseEvery(s)
	if err != nil {
		return Schedule{}, fmt.Errorf("invalid schedule %q (use a duration like '30m', HH:MM like '00:30' or a cron spec)", raw)
	}
	return sch, nil
}

func parseCron(expr string) (Schedule, error) {
	if expr == "" {
		return Schedule{}, fmt.Errorf("cron spec required")
	}
	if _, err := parser.Parse(expr); err != nil {
		return Schedule{}, fmt.Errorf("cron %q: %w", expr, err)
	}
	return Schedule{Cron: expr}, nil
}

func parseEvery(v string) (Schedule, error) {
	var d time.Duration
	if m := reHHMM.FindStringSubmatch(v); m != nil {
		hh, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if mm > 59 {
			return Schedule{}, fmt.Errorf("invalid minutes in %q", v)
		}
		d = time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
	} else {
		var err error
		if d, err = time.ParseDuration(v); err != nil {
			return Schedule{}, fmt.Errorf("invalid interval %q: %w", v, err)
		}
	}
	if d < time.Second {
		return Schedule{}, fmt.Errorf("interval %q must be at least 1s", v)
	}
	return Schedule{Every: d}, nil
}

// cronSchedule builds the robfig schedule for s.
func (s Schedule) cronSchedule() (cron.Schedule, error) {
	if s.Cron != "" {
		return parser.Parse(s.Cron)
	}
	return cron.Every(s.Every), nil
}
