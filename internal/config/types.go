package config

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// Config is the on-disk configuration (JSON or YAML).
//
// Durations are Go duration strings ("10s", "30m"). Secrets can be left
// empty in the file and supplied through the environment; see ApplyEnv.
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Source    SourceConfig    `json:"source"`
	Dispatch  DispatchConfig  `json:"dispatch"`
	Dedup     DedupConfig     `json:"dedup"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
	Status    StatusConfig    `json:"status"`
	Compose   ComposeConfig   `json:"compose"`
	Targets   []TargetConfig  `json:"targets"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// APIURL overrides the Bot API endpoint (self-hosted bot API server).
	APIURL  string `json:"api_url,omitempty"`
	Timeout string `json:"timeout,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Operator LoggingOperator `json:"operator"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingOperator forwards warnings and errors to an operator chat.
type LoggingOperator struct {
	Enabled    bool   `json:"enabled"`
	ChannelID  ID     `json:"channel_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// SchedulerConfig controls when scan cycles run.
//
// interval accepts a duration ("30m"), an HH:MM interval ("00:30") or a cron
// spec ("*/30 8-20 * * *"). Default: 30m.
type SchedulerConfig struct {
	Interval     string `json:"interval"`
	Timezone     string `json:"timezone,omitempty"`
	CycleTimeout string `json:"cycle_timeout,omitempty"`
}

type SourceConfig struct {
	BaseURL     string `json:"base_url"`
	Token       string `json:"token,omitempty"`
	Timeout     string `json:"timeout,omitempty"`
	Concurrency int    `json:"concurrency,omitempty"`
	PageSize    int    `json:"page_size,omitempty"`
	MaxPages    int    `json:"max_pages,omitempty"`
}

// DispatchConfig tunes outbound delivery.
//
// Defaults: workers 4, rate_per_sec 20, timeout 10s, retry_max 1,
// retry_base 500ms, retry_max_delay 10s, max_failures 50.
type DispatchConfig struct {
	Workers       int    `json:"workers,omitempty"`
	RatePerSec    int    `json:"rate_per_sec,omitempty"`
	Timeout       string `json:"timeout,omitempty"`
	RetryMax      *int   `json:"retry_max,omitempty"`
	RetryBase     string `json:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`
	MaxFailures   int    `json:"max_failures,omitempty"`
}

type DedupConfig struct {
	// Retention is how long a sent key is kept after its deadline day.
	Retention string `json:"retention,omitempty"`
}

// DefaultStoragePath is the file store used when the storage section is
// omitted or names no driver.
const DefaultStoragePath = "./data/deadlinebot.keys"

// StorageConfig selects the durable store for sent keys. There is no
// in-memory mode: without this section the file driver is used at
// DefaultStoragePath.
//
//	"storage": { "driver": "sqlite", "path": "./data/deadlinebot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// StatusConfig controls the local HTTP status API.
//
// Prefer binding to localhost. A token is required for non-loopback
// addresses unless allow_insecure is set.
type StatusConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`
}

type ComposeConfig struct {
	// LinkBase produces "<link_base>/<task id>" deep links when set.
	LinkBase string `json:"link_base,omitempty"`
}

// TargetConfig maps one responsible party to a destination chat.
type TargetConfig struct {
	Name       string `json:"name"`
	ChannelID  ID     `json:"channel_id"`
	WeekBefore bool   `json:"week_before"`
	DayBefore  bool   `json:"day_before"`
	DayOf      bool   `json:"day_of"`
}

// ID accepts a JSON string or number. Telegram chat ids are negative
// integers that YAML users rarely quote.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	if i, err := n.Int64(); err == nil {
		*id = ID(strconv.FormatInt(i, 10))
		return nil
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string { return string(id) }
