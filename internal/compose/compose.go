// Package compose renders deadline notifications as Telegram HTML.
package compose

import (
	"strings"

	"deadlinebot/internal/deadline"
	"deadlinebot/internal/tasksource"
	"deadlinebot/pkg/tgui"
)

// NoName is shown when a task has no display name.
const NoName = "(без названия)"

const maxFieldRunes = 300

// Input is everything a message is built from.
type Input struct {
	Task     tasksource.Task
	Class    deadline.Class
	Deadline deadline.Date
	// LinkBase, when set, produces a deep link "<LinkBase>/<task id>".
	LinkBase string
}

// Marker returns the urgency header for a class.
func Marker(c deadline.Class) string {
	switch c {
	case deadline.WeekBefore:
		return "📅 Через неделю срок"
	case deadline.DayBefore:
		return "⚠️ Завтра срок"
	case deadline.DayOf:
		return "🔥 Сегодня срок"
	}
	return "🔔 Напоминание о сроке"
}

// Compose builds the message text. It is pure: no I/O, no clock.
func Compose(in Input) string {
	t := in.Task
	name := clean(t.WorkName)
	if name == "" {
		name = NoName
	}

	lines := []tgui.H{
		tgui.B(Marker(in.Class)),
		tgui.Line("Работа", tgui.B(name)),
		tgui.Line("Ответственный", tgui.Esc(clean(t.Responsible))),
		tgui.Line("Срок", tgui.B(in.Deadline.Display())),
	}
	if stage := clean(t.Stage); stage != "" {
		lines = append(lines, tgui.Line("Этап", tgui.Esc(stage)))
	}
	if t.Completion != nil {
		lines = append(lines, tgui.Line("Готовность", tgui.Esc(t.Completion.String())))
	}
	if g := clean(t.Group.Name); g != "" {
		lines = append(lines, tgui.Line("Объект", tgui.Esc(g)))
	}
	if link := DeepLink(in.LinkBase, t.ID.String()); link != "" {
		lines = append(lines, tgui.Link("Открыть задачу", link))
	}
	return tgui.Lines(lines...).String()
}

// DeepLink joins base and id; empty when either part is missing.
func DeepLink(base, id string) string {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	id = strings.TrimSpace(id)
	if base == "" || id == "" {
		return ""
	}
	return base + "/" + id
}

func clean(s string) string {
	return tgui.TruncRunes(strings.Join(strings.Fields(s), " "), maxFieldRunes)
}
