package tgui

import (
	"html"
	"strings"
)

// H represents HTML that is safe to pass to Telegram when ParseMode="HTML".
type H string

func (h H) String() string { return string(h) }

// Esc escapes text for Telegram HTML parse mode.
func Esc(s string) H { return H(html.EscapeString(s)) }

func wrap(tag string, inner H) H { return H("<" + tag + ">" + inner.String() + "</" + tag + ">") }

func B(s string) H    { return wrap("b", Esc(s)) }
func I(s string) H    { return wrap("i", Esc(s)) }
func Code(s string) H { return wrap("code", Esc(s)) }

// Link builds an anchor. html.EscapeString also escapes quotes, so the URL
// is safe inside the attribute.
func Link(text, url string) H {
	return H(`<a href="` + html.EscapeString(url) + `">` + html.EscapeString(text) + `</a>`)
}

// Line joins a label and a value as "label: value".
func Line(label string, value H) H {
	return Esc(label+": ") + value
}

// Lines joins non-blank parts with newlines.
func Lines(parts ...H) H {
	ss := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p.String()) == "" {
			continue
		}
		ss = append(ss, p.String())
	}
	return H(strings.Join(ss, "\n"))
}
