package targets

import (
	"reflect"
	"testing"

	"deadlinebot/internal/deadline"
)

func TestMatchNormalizesBothSides(t *testing.T) {
	m := NewMatcher([]Target{
		{Name: "  Иванов   И.И. ", ChannelID: "100", Classes: []deadline.Class{deadline.DayOf}},
		{Name: "Petrov", ChannelID: "200", Classes: deadline.AllClasses},
	})

	got, ok := m.Match("иванов и.и.")
	if !ok || got.ChannelID != "100" {
		t.Fatalf("cyrillic match: %+v %v", got, ok)
	}
	got, ok = m.Match("PETROV\t")
	if !ok || got.ChannelID != "200" {
		t.Fatalf("latin match: %+v %v", got, ok)
	}
	if _, ok := m.Match("Sidorov"); ok {
		t.Fatalf("unexpected match for unknown name")
	}
	if _, ok := m.Match(""); ok {
		t.Fatalf("unexpected match for empty name")
	}
}

func TestMatchSkipsTargetsWithoutChannel(t *testing.T) {
	m := NewMatcher([]Target{
		{Name: "Petrov", ChannelID: "  ", Classes: deadline.AllClasses},
		{Name: "Orlov", ChannelID: "5"},
	})
	if _, ok := m.Match("petrov"); ok {
		t.Fatalf("target without channel must not be actionable")
	}
	if _, ok := m.Match("orlov"); ok {
		t.Fatalf("target without classes must not be actionable")
	}
}

func TestLaterDuplicateWins(t *testing.T) {
	list := []Target{
		{Name: "Petrov", ChannelID: "1", Classes: deadline.AllClasses},
		{Name: "petrov ", ChannelID: "2", Classes: deadline.AllClasses},
	}
	m := NewMatcher(list)
	got, _ := m.Match("Petrov")
	if got.ChannelID != "2" {
		t.Fatalf("got channel %q", got.ChannelID)
	}
	if d := Duplicates(list); !reflect.DeepEqual(d, []string{"petrov"}) {
		t.Fatalf("duplicates: %v", d)
	}
}

func TestEnabled(t *testing.T) {
	tg := Target{Classes: []deadline.Class{deadline.DayBefore}}
	if !tg.Enabled(deadline.DayBefore) || tg.Enabled(deadline.WeekBefore) {
		t.Fatalf("unexpected Enabled result")
	}
}
