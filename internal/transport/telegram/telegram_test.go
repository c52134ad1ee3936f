package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"deadlinebot/internal/transport"
	logx "deadlinebot/pkg/logx"
)

func TestParseChannel(t *testing.T) {
	cases := []struct {
		in     string
		chat   string
		thread int
		bad    bool
	}{
		{in: "-1001234", chat: "-1001234"},
		{in: " 42 ", chat: "42"},
		{in: "@team_channel", chat: "@team_channel"},
		{in: "-1001234:17", chat: "-1001234", thread: 17},
		{in: "", bad: true},
		{in: "abc", bad: true},
		{in: "-100:x", bad: true},
		{in: "-100:0", bad: true},
	}
	for _, tc := range cases {
		r, thread, err := parseChannel(tc.in)
		if tc.bad {
			if err == nil {
				t.Fatalf("parseChannel(%q): expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("parseChannel(%q): %v", tc.in, err)
		}
		if r.Recipient() != tc.chat || thread != tc.thread {
			t.Fatalf("parseChannel(%q) = %q,%d", tc.in, r.Recipient(), thread)
		}
	}
}

// botAPI fakes the Bot API sendMessage endpoint with a fixed status and body.
func botAPI(t *testing.T, status int, body string) (*Messenger, *[]map[string]any) {
	t.Helper()
	var calls []map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/sendMessage") {
			http.NotFound(w, r)
			return
		}
		var p map[string]any
		_ = json.NewDecoder(r.Body).Decode(&p)
		calls = append(calls, p)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	m, err := New(Config{Token: "123:abc", APIURL: srv.URL, Offline: true}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	return m, &calls
}

func TestSendOK(t *testing.T) {
	m, calls := botAPI(t, http.StatusOK, `{"ok":true,"result":{"message_id":77}}`)
	res, err := m.Send(context.Background(), transport.SendRequest{
		ChannelID: "-100:5", Text: "<b>hi</b>", RichText: true, DisablePreview: true,
	})
	if err != nil || !res.OK || res.MessageID != 77 {
		t.Fatalf("res=%+v err=%v", res, err)
	}
	p := (*calls)[0]
	if p["chat_id"] != "-100" || p["parse_mode"] != "HTML" || p["message_thread_id"] != float64(5) {
		t.Fatalf("unexpected params: %v", p)
	}
}

func TestSendRejectionKeepsDescription(t *testing.T) {
	const desc = "Bad Request: can't parse entities: Unsupported start tag \"x\" at byte offset 0"
	m, _ := botAPI(t, http.StatusBadRequest, `{"ok":false,"error_code":400,"description":"`+desc+`"}`)
	res, err := m.Send(context.Background(), transport.SendRequest{ChannelID: "-100", Text: "<x>"})
	if err != nil {
		t.Fatalf("a rejection is not a transport error: %v", err)
	}
	if res.OK || res.Description != `Bad Request: can't parse entities: Unsupported start tag "x" at byte offset 0` {
		t.Fatalf("description not verbatim: %+v", res)
	}

	m, _ = botAPI(t, http.StatusBadRequest, `{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`)
	res, err = m.Send(context.Background(), transport.SendRequest{ChannelID: "-100", Text: "x"})
	if err != nil || res.Description != "Bad Request: chat not found" {
		t.Fatalf("known telebot error lost its description: res=%+v err=%v", res, err)
	}
}

func TestSendServerErrorIsTransportError(t *testing.T) {
	m, _ := botAPI(t, http.StatusBadGateway, `<html>bad gateway</html>`)
	if _, err := m.Send(context.Background(), transport.SendRequest{ChannelID: "-100", Text: "x"}); err == nil {
		t.Fatal("expected error for an unreadable 502")
	}
	m, _ = botAPI(t, http.StatusInternalServerError, `{"ok":false,"error_code":500,"description":"Internal Server Error"}`)
	if _, err := m.Send(context.Background(), transport.SendRequest{ChannelID: "-100", Text: "x"}); err == nil {
		t.Fatal("expected error for a 5xx answer")
	}
}

func TestSplitTextShort(t *testing.T) {
	got := splitText("hello", 10, false)
	if len(got) != 1 || got[0] != "hello" {
		t.Fatalf("got %q", got)
	}
}

func TestSplitTextPrefersNewlines(t *testing.T) {
	s := strings.Repeat("a", 8) + "\n" + strings.Repeat("b", 8)
	got := splitText(s, 10, false)
	if len(got) != 2 || got[0] != strings.Repeat("a", 8) || got[1] != strings.Repeat("b", 8) {
		t.Fatalf("got %q", got)
	}
}

func TestSplitTextAvoidsCuttingTags(t *testing.T) {
	s := "abcdef<b>bold</b>"
	got := splitText(s, 8, true)
	if got[0] != "abcdef" {
		t.Fatalf("first chunk %q", got[0])
	}
	if strings.Join(got, "") != s {
		t.Fatalf("chunks lost data: %q", got)
	}
}
