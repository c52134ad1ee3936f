package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"deadlinebot/internal/transport"
)

func TestWriterLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "debug").With(String("comp", "scan"))
	log.Info("cycle done", Int("sent", 3), Bool("partial", true))

	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("unmarshal: %v (%s)", err, buf.String())
	}
	if m["comp"] != "scan" || m["message"] != "cycle done" || m["sent"] != float64(3) || m["partial"] != true {
		t.Fatalf("unexpected line: %v", m)
	}
	if _, ok := m["caller"]; !ok {
		t.Fatalf("expected caller field")
	}
}

func TestZeroLoggerIsSafe(t *testing.T) {
	var l Logger
	if !l.IsZero() {
		t.Fatalf("zero logger should report IsZero")
	}
	l.Info("nothing happens")
	l.With(String("a", "b")).Warn("still nothing")
}

func TestValidLevel(t *testing.T) {
	for _, s := range []string{"", "debug", "INFO", "warning", "error", "trace"} {
		if !ValidLevel(s) {
			t.Fatalf("%q should be valid", s)
		}
	}
	if ValidLevel("loud") {
		t.Fatalf("unexpected valid level")
	}
}

func TestFormatOperatorLine(t *testing.T) {
	line := `{"level":"warn","time":"x","message":"group <fetch> failed","group":"msk","err":"timeout"}`
	got := formatOperatorLine([]byte(line))
	want := "<b>[WARN]</b> group &lt;fetch&gt; failed\n- err=timeout\n- group=msk"
	if got != want {
		t.Fatalf("got %q\nwant %q", got, want)
	}
}

func TestTruncateKeepsRunes(t *testing.T) {
	s := strings.Repeat("я", 10) // 20 bytes
	got := truncate(s, 9)
	if !strings.HasSuffix(got, "...") {
		t.Fatalf("expected ellipsis: %q", got)
	}
	if strings.ContainsRune(got, '�') || !strings.HasPrefix(got, "яя") {
		t.Fatalf("broken rune boundary: %q", got)
	}
}

type recordingSender struct {
	mu   sync.Mutex
	reqs []transport.SendRequest
}

func (r *recordingSender) Send(_ context.Context, req transport.SendRequest) (transport.SendResult, error) {
	r.mu.Lock()
	r.reqs = append(r.reqs, req)
	r.mu.Unlock()
	return transport.SendResult{OK: true}, nil
}

func (r *recordingSender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.reqs)
}

func TestOperatorSinkForwardsWarnings(t *testing.T) {
	sender := &recordingSender{}
	svc, log := New(Config{
		Level: "debug",
		File:  FileConfig{Enabled: true, Path: t.TempDir() + "/test.log"},
		Operator: OperatorConfig{
			Enabled:    true,
			ChannelID:  "-100",
			MinLevel:   "warn",
			RatePerSec: 100,
		},
	}, sender)
	defer svc.Close()

	log.Info("not forwarded")
	log.Warn("forwarded")

	deadline := time.Now().Add(2 * time.Second)
	for sender.count() < 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)

	sender.mu.Lock()
	defer sender.mu.Unlock()
	if len(sender.reqs) != 1 {
		t.Fatalf("expected 1 forwarded line, got %d", len(sender.reqs))
	}
	req := sender.reqs[0]
	if req.ChannelID != "-100" || !req.RichText || !strings.Contains(req.Text, "forwarded") {
		t.Fatalf("unexpected request: %+v", req)
	}
}
