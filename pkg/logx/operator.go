package logx

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"deadlinebot/internal/transport"
)

// Sender is the messaging port used by the operator sink.
type Sender = transport.Messenger

const (
	operatorQueueSize = 256
	operatorMaxLen    = 3500
)

// operatorSink is a zerolog.LevelWriter that forwards log lines to a chat.
// Writes never block logging: lines are queued and dropped when the queue is
// full or the rate limit is exhausted.
type operatorSink struct {
	sender Sender

	mu        sync.Mutex
	channelID string
	minLevel  zerolog.Level
	limiter   *rate.Limiter

	once   sync.Once
	queue  chan string
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newOperatorSink(sender Sender) *operatorSink {
	return &operatorSink{sender: sender, queue: make(chan string, operatorQueueSize)}
}

// configure applies cfg and reports whether the sink should be attached.
func (o *operatorSink) configure(cfg OperatorConfig) bool {
	if o.sender == nil || !cfg.Enabled || strings.TrimSpace(cfg.ChannelID) == "" {
		return false
	}
	rps := max(1, cfg.RatePerSec)
	o.mu.Lock()
	o.channelID = strings.TrimSpace(cfg.ChannelID)
	o.minLevel = parseLevel(cfg.MinLevel, zerolog.WarnLevel)
	o.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	o.mu.Unlock()

	o.once.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		o.cancel = cancel
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			o.loop(ctx)
		}()
	})
	return true
}

func (o *operatorSink) stop() {
	if o == nil || o.cancel == nil {
		return
	}
	o.cancel()
	o.wg.Wait()
}

func (o *operatorSink) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-o.queue:
			o.mu.Lock()
			ch := o.channelID
			o.mu.Unlock()
			cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
			_, _ = o.sender.Send(cctx, transport.SendRequest{ChannelID: ch, Text: msg, RichText: true, DisablePreview: true})
			cancel()
		}
	}
}

func (o *operatorSink) Write(p []byte) (int, error) {
	return o.WriteLevel(zerolog.InfoLevel, p)
}

func (o *operatorSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	o.mu.Lock()
	minLvl, lim := o.minLevel, o.limiter
	o.mu.Unlock()
	if lim == nil || level < minLvl || !lim.Allow() {
		return len(p), nil
	}
	msg := formatOperatorLine(p)
	if msg == "" {
		return len(p), nil
	}
	select {
	case o.queue <- msg:
	default:
	}
	return len(p), nil
}

// formatOperatorLine renders a zerolog JSON line as compact HTML:
//
//	<b>[WARN]</b> message
//	- key=value
func formatOperatorLine(p []byte) string {
	var m map[string]any
	if err := json.Unmarshal(p, &m); err != nil {
		return html.EscapeString(truncate(strings.TrimSpace(string(p)), operatorMaxLen))
	}
	lvl, _ := m["level"].(string)
	msg, _ := m["message"].(string)

	keys := make([]string, 0, len(m))
	for k := range m {
		switch k {
		case "time", "level", "message":
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	if lvl != "" {
		b.WriteString("<b>[" + strings.ToUpper(lvl) + "]</b> ")
	}
	b.WriteString(html.EscapeString(truncate(msg, 1000)))
	for _, k := range keys {
		if b.Len() > operatorMaxLen {
			b.WriteString("\n…")
			break
		}
		b.WriteString("\n- ")
		b.WriteString(html.EscapeString(k))
		b.WriteString("=")
		b.WriteString(html.EscapeString(truncate(fmt.Sprint(m[k]), 600)))
	}
	return b.String()
}

func truncate(s string, maxN int) string {
	if maxN <= 0 || len(s) <= maxN {
		return s
	}
	cut := max(0, maxN-3)
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
