// Package targets resolves a task's free-text responsible party to a
// configured notification destination.
package targets

import (
	"strings"

	"deadlinebot/internal/deadline"
)

// Target is a configured notification destination for one responsible party.
type Target struct {
	// Name is matched against the task's responsible field after Normalize.
	Name string
	// ChannelID is the messaging destination. Empty means "not actionable".
	ChannelID string
	Classes   []deadline.Class
}

// Enabled reports whether c is among the target's enabled classes.
func (t Target) Enabled(c deadline.Class) bool {
	for _, x := range t.Classes {
		if x == c {
			return true
		}
	}
	return false
}

// Actionable reports whether notifications can be delivered to the target.
func (t Target) Actionable() bool {
	return strings.TrimSpace(t.ChannelID) != "" && len(t.Classes) > 0
}

// Normalize trims, collapses inner whitespace and case-folds a name so that
// "  Иванов  И.И." and "иванов и.и." compare equal.
func Normalize(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

// Matcher is an immutable lookup of targets by normalized name.
type Matcher struct {
	byName map[string]Target
}

// NewMatcher indexes targets. When two targets normalize to the same name
// the later one wins; use Duplicates to detect that up front.
func NewMatcher(list []Target) *Matcher {
	m := &Matcher{byName: make(map[string]Target, len(list))}
	for _, t := range list {
		k := Normalize(t.Name)
		if k == "" {
			continue
		}
		m.byName[k] = t
	}
	return m
}

// Match returns the actionable target for a responsible-party string.
// Unknown names and targets without a channel both report false.
func (m *Matcher) Match(responsible string) (Target, bool) {
	if m == nil {
		return Target{}, false
	}
	t, ok := m.byName[Normalize(responsible)]
	if !ok || !t.Actionable() {
		return Target{}, false
	}
	return t, true
}

func (m *Matcher) Len() int {
	if m == nil {
		return 0
	}
	return len(m.byName)
}

// Duplicates returns normalized names that occur more than once.
func Duplicates(list []Target) []string {
	seen := make(map[string]int, len(list))
	var dup []string
	for _, t := range list {
		k := Normalize(t.Name)
		if k == "" {
			continue
		}
		seen[k]++
		if seen[k] == 2 {
			dup = append(dup, k)
		}
	}
	return dup
}
