package compose

import (
	"strings"
	"testing"

	"deadlinebot/internal/deadline"
	"deadlinebot/internal/tasksource"
)

func testDate(t *testing.T) deadline.Date {
	t.Helper()
	d, err := deadline.ParseISO("2025-08-15")
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func TestComposeFullTask(t *testing.T) {
	pct := tasksource.Percent(45)
	got := Compose(Input{
		Task: tasksource.Task{
			ID:          "77",
			WorkName:    "Фасад <корпус 2>",
			Responsible: "Иванов И.И.",
			Stage:       "Монтаж",
			Completion:  &pct,
			Group:       tasksource.Group{ID: "1", Name: "Москва"},
		},
		Class:    deadline.DayBefore,
		Deadline: testDate(t),
		LinkBase: "https://crm.example/tasks/",
	})

	for _, want := range []string{
		"<b>⚠️ Завтра срок</b>",
		"Работа: <b>Фасад &lt;корпус 2&gt;</b>",
		"Ответственный: Иванов И.И.",
		"Срок: <b>15.08.2025</b>",
		"Этап: Монтаж",
		"Готовность: 45%",
		"Объект: Москва",
		`<a href="https://crm.example/tasks/77">Открыть задачу</a>`,
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("missing %q in:\n%s", want, got)
		}
	}
}

func TestComposeMinimalTask(t *testing.T) {
	got := Compose(Input{
		Task:     tasksource.Task{ID: "1", Responsible: "Петров"},
		Class:    deadline.DayOf,
		Deadline: testDate(t),
	})
	if !strings.Contains(got, NoName) {
		t.Fatalf("expected placeholder name:\n%s", got)
	}
	for _, absent := range []string{"Этап", "Готовность", "<a href"} {
		if strings.Contains(got, absent) {
			t.Fatalf("unexpected %q in:\n%s", absent, got)
		}
	}
}

func TestMarkersDiffer(t *testing.T) {
	seen := map[string]bool{}
	for _, c := range deadline.AllClasses {
		m := Marker(c)
		if seen[m] {
			t.Fatalf("duplicate marker %q", m)
		}
		seen[m] = true
	}
}

func TestComposeIsPure(t *testing.T) {
	in := Input{Task: tasksource.Task{ID: "1", WorkName: "x"}, Class: deadline.WeekBefore, Deadline: testDate(t)}
	if Compose(in) != Compose(in) {
		t.Fatalf("compose must be deterministic")
	}
}

func TestDeepLink(t *testing.T) {
	if DeepLink("", "1") != "" || DeepLink("https://x", " ") != "" {
		t.Fatalf("expected empty link")
	}
	if got := DeepLink("https://x/t//", "5"); got != "https://x/t/5" {
		t.Fatalf("got %q", got)
	}
}
