// Package telegram implements transport.Messenger on top of the Telegram Bot
// API (telebot). The bot only sends; it never polls for updates.
package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"deadlinebot/internal/transport"
	logx "deadlinebot/pkg/logx"
)

const textLimit = 4000

type Config struct {
	Token string
	// APIURL overrides https://api.telegram.org (self-hosted Bot API server).
	APIURL string
	// Timeout bounds a single HTTP call to the Bot API.
	Timeout time.Duration
	// Offline skips the getMe handshake at construction.
	Offline bool
}

// Messenger sends messages with one shared bot credential.
type Messenger struct {
	bot *tele.Bot
	log logx.Logger
}

func New(cfg Config, log logx.Logger) (*Messenger, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		URL:     strings.TrimSpace(cfg.APIURL),
		Client:  &http.Client{Timeout: timeout},
		Offline: cfg.Offline,
	})
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Messenger{bot: b, log: log}, nil
}

// Send delivers req.Text, splitting it into several messages when it exceeds
// Telegram's length limit. The reported MessageID is the first chunk's.
func (m *Messenger) Send(ctx context.Context, req transport.SendRequest) (transport.SendResult, error) {
	to, threadID, err := parseChannel(req.ChannelID)
	if err != nil {
		return transport.SendResult{OK: false, Description: err.Error()}, nil
	}
	params := map[string]any{"chat_id": to.Recipient()}
	if threadID > 0 {
		params["message_thread_id"] = threadID
	}
	if req.RichText {
		params["parse_mode"] = tele.ModeHTML
	}
	if req.DisablePreview {
		params["link_preview_options"] = map[string]bool{"is_disabled": true}
	}

	var first int
	for i, chunk := range splitText(req.Text, textLimit, req.RichText) {
		if err := ctx.Err(); err != nil {
			return transport.SendResult{MessageID: first}, err
		}
		params["text"] = chunk
		res, err := m.sendMessage(params)
		if err != nil || !res.OK {
			res.MessageID = first
			return res, err
		}
		if i == 0 {
			first = res.MessageID
		}
	}
	return transport.SendResult{OK: true, MessageID: first}, nil
}

// apiResponse is the Bot API envelope.
type apiResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
	Result      struct {
		MessageID int `json:"message_id"`
	} `json:"result"`
}

// sendMessage calls sendMessage through bot.Raw and reads the envelope
// itself: telebot maps only known descriptions to *tele.Error, so its error
// value can't tell a rejection from a network failure. Raw returns the body
// alongside the error, which keeps the provider's description verbatim.
//
// A rejection (ok=false, 4xx) is a result, not an error. Network failures,
// unreadable bodies and 5xx answers are errors so the caller may retry.
func (m *Messenger) sendMessage(params map[string]any) (transport.SendResult, error) {
	data, err := m.bot.Raw("sendMessage", params)
	var resp apiResponse
	if len(data) == 0 || json.Unmarshal(data, &resp) != nil {
		if err == nil {
			err = errors.New("telegram: unreadable response")
		}
		return transport.SendResult{}, err
	}
	if resp.OK {
		return transport.SendResult{OK: true, MessageID: resp.Result.MessageID}, nil
	}
	desc := strings.TrimSpace(resp.Description)
	if resp.ErrorCode >= 500 {
		return transport.SendResult{}, fmt.Errorf("telegram: %s (%d)", desc, resp.ErrorCode)
	}
	if desc == "" {
		desc = fmt.Sprintf("telegram error %d", resp.ErrorCode)
	}
	return transport.SendResult{Description: desc}, nil
}

type recipient string

func (r recipient) Recipient() string { return string(r) }

// parseChannel accepts "<chat>" or "<chat>:<thread>" where chat is a numeric
// id or an @username.
func parseChannel(raw string) (tele.Recipient, int, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, 0, errors.New("empty channel id")
	}
	chat, thread := s, 0
	if i := strings.LastIndex(s, ":"); i > 0 {
		n, err := strconv.Atoi(s[i+1:])
		if err != nil || n <= 0 {
			return nil, 0, fmt.Errorf("invalid thread in channel id %q", raw)
		}
		chat, thread = s[:i], n
	}
	if !strings.HasPrefix(chat, "@") {
		if _, err := strconv.ParseInt(chat, 10, 64); err != nil {
			return nil, 0, fmt.Errorf("invalid channel id %q", raw)
		}
	}
	return recipient(chat), thread, nil
}

// splitText splits long messages, preferring newline boundaries and (for
// HTML) never cutting inside a tag.
func splitText(s string, limit int, html bool) []string {
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}
	var out []string
	for start := 0; start < len(rs); {
		end := min(start+limit, len(rs))
		if end < len(rs) {
			for i := end - 1; i > start+limit/3; i-- {
				if rs[i] == '\n' {
					end = i + 1
					break
				}
			}
		}
		if html && end < len(rs) {
			open, closed := -1, -1
			for i := start; i < end; i++ {
				switch rs[i] {
				case '<':
					open = i
				case '>':
					closed = i
				}
			}
			if open > closed && open > start+1 {
				end = open
			}
		}
		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}
