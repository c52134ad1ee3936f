package status

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"deadlinebot/internal/scan"
	"deadlinebot/internal/scheduler"
	logx "deadlinebot/pkg/logx"
)

type fakeScheduler struct {
	running  bool
	triggers atomic.Int32
}

func (f *fakeScheduler) Snapshot() scheduler.Snapshot {
	return scheduler.Snapshot{
		Schedule:   "@every 30m0s",
		Running:    f.running,
		Runs:       3,
		LastRunAt:  time.Date(2025, 8, 14, 9, 0, 0, 0, time.UTC),
		LastResult: &scan.Result{Sent: 4, Failed: 1, Failures: []string{"иванов (channel 1) task 7 [day_before]: Bad Request: chat not found"}},
	}
}

func (f *fakeScheduler) Trigger(string) bool {
	f.triggers.Add(1)
	return true
}

func do(t *testing.T, h http.Handler, method, target, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthzNeedsNoToken(t *testing.T) {
	h := New(Config{Token: "s3cret"}, &fakeScheduler{}, logx.Nop()).Handler()
	if rec := do(t, h, http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("got %d %q", rec.Code, rec.Body.String())
	}
}

func TestStatusRequiresToken(t *testing.T) {
	h := New(Config{Token: "s3cret"}, &fakeScheduler{}, logx.Nop()).Handler()
	if rec := do(t, h, http.MethodGet, "/v1/status", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("got %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/v1/status", "wrong"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("got %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/v1/status?token=s3cret", ""); rec.Code != http.StatusOK {
		t.Fatalf("query token: got %d", rec.Code)
	}
}

func TestStatusBody(t *testing.T) {
	h := New(Config{}, &fakeScheduler{}, logx.Nop(), WithRuntime(func() any { return map[string]int{"goroutines": 2} })).Handler()
	rec := do(t, h, http.MethodGet, "/v1/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d", rec.Code)
	}
	var body struct {
		Scheduler scheduler.Snapshot `json:"scheduler"`
		Runtime   map[string]int     `json:"runtime"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Scheduler.LastResult == nil || body.Scheduler.LastResult.Sent != 4 || len(body.Scheduler.LastResult.Failures) != 1 {
		t.Fatalf("unexpected body: %+v", body.Scheduler)
	}
	if body.Runtime["goroutines"] != 2 {
		t.Fatalf("runtime missing: %+v", body.Runtime)
	}
}

func TestScanTrigger(t *testing.T) {
	fs := &fakeScheduler{}
	h := New(Config{}, fs, logx.Nop()).Handler()
	if rec := do(t, h, http.MethodPost, "/v1/scan", ""); rec.Code != http.StatusAccepted {
		t.Fatalf("got %d", rec.Code)
	}
	deadline := time.Now().Add(time.Second)
	for fs.triggers.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if fs.triggers.Load() != 1 {
		t.Fatal("trigger not called")
	}

	fs.running = true
	if rec := do(t, h, http.MethodPost, "/v1/scan", ""); rec.Code != http.StatusConflict {
		t.Fatalf("got %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/v1/scan", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("got %d", rec.Code)
	}
}

func TestPprofMountedOnlyWhenEnabled(t *testing.T) {
	off := New(Config{}, &fakeScheduler{}, logx.Nop()).Handler()
	if rec := do(t, off, http.MethodGet, "/debug/pprof/", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("got %d", rec.Code)
	}
	on := New(Config{Pprof: true}, &fakeScheduler{}, logx.Nop()).Handler()
	if rec := do(t, on, http.MethodGet, "/debug/pprof/", ""); rec.Code != http.StatusOK {
		t.Fatalf("got %d", rec.Code)
	}
}

func TestRunRefusesInsecureBind(t *testing.T) {
	s := New(Config{Addr: "0.0.0.0:0"}, &fakeScheduler{}, logx.Nop())
	if err := s.Run(context.Background()); err != ErrInsecureBind {
		t.Fatalf("got %v", err)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	s := New(Config{Addr: "127.0.0.1:0"}, &fakeScheduler{}, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	for addr, want := range map[string]bool{
		"127.0.0.1:80": true, "localhost:1": true, "[::1]:9": true,
		":8080": false, "0.0.0.0:1": false, "10.0.0.1:1": false, "bad": false,
	} {
		if got := IsLoopbackAddr(addr); got != want {
			t.Fatalf("%s: got %v", addr, got)
		}
	}
}
