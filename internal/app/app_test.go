package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"deadlinebot/internal/config"
	"deadlinebot/internal/deadline"
	"deadlinebot/internal/scan"
	logx "deadlinebot/pkg/logx"
)

func intp(v int) *int { return &v }

func TestMapTargets(t *testing.T) {
	got := mapTargets([]config.TargetConfig{
		{Name: "Иванов И.И.", ChannelID: "-100", DayBefore: true},
		{Name: "Петров", ChannelID: " @petrov ", WeekBefore: true, DayOf: true},
		{Name: "Сидоров", ChannelID: "7"},
	})
	if len(got) != 3 {
		t.Fatalf("got %d targets", len(got))
	}
	if len(got[0].Classes) != 1 || got[0].Classes[0] != deadline.DayBefore {
		t.Fatalf("classes: %+v", got[0].Classes)
	}
	if got[1].ChannelID != "@petrov" || len(got[1].Classes) != 2 {
		t.Fatalf("unexpected target: %+v", got[1])
	}
	if got[2].Actionable() {
		t.Fatal("a target with no classes must not be actionable")
	}
}

func TestMapDispatch(t *testing.T) {
	cfg := &config.Config{}
	cfg.Compose.LinkBase = " https://tasks.example/t "
	d, err := mapDispatch(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if d.RetryMax != 1 || d.SendTimeout != 10*time.Second || d.LinkBase != "https://tasks.example/t" {
		t.Fatalf("defaults: %+v", d)
	}

	cfg.Dispatch.RetryMax = intp(0)
	cfg.Dispatch.RetryBase = "2s"
	d, _ = mapDispatch(cfg)
	if d.RetryMax != 0 || d.RetryBase != 2*time.Second {
		t.Fatalf("explicit values lost: %+v", d)
	}

	cfg.Dispatch.Timeout = "soon"
	if _, err := mapDispatch(cfg); err == nil {
		t.Fatal("expected duration error")
	}
}

func TestMapStorage(t *testing.T) {
	cases := []struct {
		in     *config.StorageConfig
		driver string
		bad    bool
	}{
		{in: nil, driver: "file"},
		{in: &config.StorageConfig{}, driver: "file"},
		{in: &config.StorageConfig{Driver: "none"}, bad: true},
		{in: &config.StorageConfig{Driver: "file"}, bad: true},
		{in: &config.StorageConfig{Driver: "File", Path: "./keys"}, driver: "file"},
		{in: &config.StorageConfig{Driver: "sqlite", Path: "./bot.db", BusyTimeout: "3s"}, driver: "sqlite"},
		{in: &config.StorageConfig{Driver: "redis"}, bad: true},
	}
	for _, tc := range cases {
		got, err := mapStorage(&config.Config{Storage: tc.in})
		if tc.bad {
			if err == nil {
				t.Fatalf("%+v: expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Fatal(err)
		}
		if got.Driver != tc.driver {
			t.Fatalf("%+v: driver %q", tc.in, got.Driver)
		}
	}
}

func TestMapStorageDefaultPath(t *testing.T) {
	got, err := mapStorage(&config.Config{})
	if err != nil {
		t.Fatal(err)
	}
	if got.Path != config.DefaultStoragePath {
		t.Fatalf("path %q", got.Path)
	}
	got, _ = mapStorage(&config.Config{Storage: &config.StorageConfig{Path: "/var/lib/bot/keys"}})
	if got.Driver != "file" || got.Path != "/var/lib/bot/keys" {
		t.Fatalf("explicit path lost: %+v", got)
	}
}

func TestMapScanUsesSchedulerTimezone(t *testing.T) {
	cfg := &config.Config{}
	cfg.Scheduler.Timezone = "Europe/Moscow"
	if got := mapScan(cfg).Location.String(); got != "Europe/Moscow" {
		t.Fatalf("location %s", got)
	}
}

func validConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Telegram.Token = "x"
	cfg.Source.BaseURL = "http://127.0.0.1:1"
	return cfg
}

func TestValidate(t *testing.T) {
	cfg := validConfig()
	if err := validate(context.Background(), cfg); err != nil {
		t.Fatal(err)
	}

	cfg.Scheduler.Interval = "every so often"
	cfg.Status.Enabled = true
	cfg.Status.Addr = "0.0.0.0:8087"
	err := validate(context.Background(), cfg)
	if err == nil {
		t.Fatal("expected errors")
	}
	for _, want := range []string{"scheduler.interval", "status.addr"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("missing %q in %v", want, err)
		}
	}

	cfg.Scheduler.Interval = ""
	cfg.Status.Token = "secret"
	if err := validate(context.Background(), cfg); err != nil {
		t.Fatalf("token should allow a public bind: %v", err)
	}
}

func TestApplyConfigSwapsSource(t *testing.T) {
	cfg := validConfig()
	src, err := newSourceRef(cfg, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	before := src.cur.Load()

	next := validConfig()
	next.Source.BaseURL = "http://127.0.0.1:2"
	if err := src.reset(next); err != nil {
		t.Fatal(err)
	}
	after := src.cur.Load()
	if after == before {
		t.Fatal("client not replaced")
	}

	bad := validConfig()
	bad.Source.BaseURL = "ftp://x"
	if err := src.reset(bad); err == nil {
		t.Fatal("expected error")
	}
	if src.cur.Load() != after {
		t.Fatal("a rejected config must keep the current client")
	}
}

// taskServer serves one group with one task due tomorrow in UTC.
func taskServer(t *testing.T) *httptest.Server {
	t.Helper()
	tomorrow := time.Now().UTC().AddDate(0, 0, 1).Format("02.01.2006")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/groups":
			_ = json.NewEncoder(w).Encode([]map[string]any{{"id": 1, "name": "Москва"}})
		case "/tasks":
			_ = json.NewEncoder(w).Encode([]map[string]any{{
				"id":          42,
				"deadline":    "до " + tomorrow,
				"responsible": "Иванов И.И.",
				"work_name":   "Кровля",
			}})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRunOnceDryRun(t *testing.T) {
	t.Setenv(config.EnvSourceURL, "")
	srv := taskServer(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := fmt.Sprintf(`
telegram:
  token: test
logging:
  level: error
scheduler:
  timezone: UTC
source:
  base_url: %s
dispatch:
  rate_per_sec: 1000
targets:
  - name: Иванов И.И.
    channel_id: -100
    day_before: true
`, srv.URL)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	a, err := New(context.Background(), path, WithDryRun(true))
	if err != nil {
		t.Fatal(err)
	}
	defer a.Stop(context.Background())

	res, err := a.RunOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Sent != 1 || res.Groups != 1 {
		t.Fatalf("first run: %+v", res)
	}
	res, err = a.RunOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Sent != 0 || res.Skipped != 1 {
		t.Fatalf("second run must be deduplicated: %+v", res)
	}
}

// botServer answers getMe and sendMessage like the Bot API and counts sends.
func botServer(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var sent atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/getMe"):
			_, _ = w.Write([]byte(`{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"bot","username":"bot"}}`))
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			n := sent.Add(1)
			fmt.Fprintf(w, `{"ok":true,"result":{"message_id":%d,"date":0,"chat":{"id":-100,"type":"channel"}}}`, n)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &sent
}

func TestNewOpensDefaultFileStore(t *testing.T) {
	t.Setenv(config.EnvSourceURL, "")
	t.Setenv(config.EnvTelegramToken, "")
	t.Chdir(t.TempDir())
	src := taskServer(t)
	bot, sent := botServer(t)
	body := fmt.Sprintf(`
telegram:
  token: "123:abc"
  api_url: %s
logging:
  level: error
scheduler:
  timezone: UTC
source:
  base_url: %s
dispatch:
  rate_per_sec: 1000
targets:
  - name: Иванов И.И.
    channel_id: -100
    day_before: true
`, bot.URL, src.URL)
	if err := os.WriteFile("config.yaml", []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	run := func() scan.Result {
		t.Helper()
		a, err := New(context.Background(), "config.yaml")
		if err != nil {
			t.Fatal(err)
		}
		res, err := a.RunOnce(context.Background())
		_ = a.Stop(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		return res
	}

	if res := run(); res.Sent != 1 {
		t.Fatalf("first run: %+v", res)
	}
	if _, err := os.Stat(filepath.Join("data", "deadlinebot.keys.journal.jsonl")); err != nil {
		t.Fatalf("default file store not created: %v", err)
	}
	if res := run(); res.Sent != 0 || res.Skipped != 1 {
		t.Fatalf("restart must keep sent keys: %+v", res)
	}
	if n := sent.Load(); n != 1 {
		t.Fatalf("sendMessage called %d times", n)
	}
}

func TestValidateRejectsNoneStorage(t *testing.T) {
	cfg := validConfig()
	cfg.Storage = &config.StorageConfig{Driver: "none"}
	if err := validate(context.Background(), cfg); err == nil {
		t.Fatal("expected storage.driver=none to be rejected")
	}
}
