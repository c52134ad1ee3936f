package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	logx "deadlinebot/pkg/logx"
)

// Validate checks everything that can be checked without touching the
// network. All problems are reported at once.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if strings.TrimSpace(c.Telegram.Token) == "" {
		add(fmt.Errorf("telegram.token is required (or set %s)", EnvTelegramToken))
	}
	_, err := ParseDurationField("telegram.timeout", c.Telegram.Timeout)
	add(err)

	if c.Logging.Level != "" && !logx.ValidLevel(c.Logging.Level) {
		add(fmt.Errorf("logging.level: unknown level %q", c.Logging.Level))
	}
	if op := c.Logging.Operator; op.Enabled {
		if strings.TrimSpace(op.ChannelID.String()) == "" {
			add(errors.New("logging.operator.channel_id is required when operator logging is enabled"))
		}
		if op.MinLevel != "" && !logx.ValidLevel(op.MinLevel) {
			add(fmt.Errorf("logging.operator.min_level: unknown level %q", op.MinLevel))
		}
	}
	if c.Logging.File.Enabled && strings.TrimSpace(c.Logging.File.Path) == "" {
		add(errors.New("logging.file.path is required when file logging is enabled"))
	}

	if tz := strings.TrimSpace(c.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add(fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err))
		}
	}
	_, err = ParseDurationField("scheduler.cycle_timeout", c.Scheduler.CycleTimeout)
	add(err)

	if raw := strings.TrimSpace(c.Source.BaseURL); raw == "" {
		add(fmt.Errorf("source.base_url is required (or set %s)", EnvSourceURL))
	} else if u, err := url.Parse(raw); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		add(fmt.Errorf("source.base_url: expected http(s) URL, got %q", raw))
	}
	_, err = ParseDurationField("source.timeout", c.Source.Timeout)
	add(err)
	if c.Source.Concurrency < 0 || c.Source.PageSize < 0 || c.Source.MaxPages < 0 {
		add(errors.New("source: concurrency, page_size and max_pages must be >= 0"))
	}

	d := c.Dispatch
	if d.Workers < 0 || d.RatePerSec < 0 || d.MaxFailures < 0 {
		add(errors.New("dispatch: workers, rate_per_sec and max_failures must be >= 0"))
	}
	if d.RetryMax != nil && *d.RetryMax < 0 {
		add(errors.New("dispatch.retry_max must be >= 0"))
	}
	for path, raw := range map[string]string{
		"dispatch.timeout":         d.Timeout,
		"dispatch.retry_base":      d.RetryBase,
		"dispatch.retry_max_delay": d.RetryMaxDelay,
		"dedup.retention":          c.Dedup.Retention,
	} {
		_, err := ParseDurationField(path, raw)
		add(err)
	}

	if c.Storage != nil {
		switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
		case "":
		case "none":
			add(errors.New("storage.driver: none is not supported, sent keys must survive restarts (omit the section for the default file store)"))
		case "file":
			if strings.TrimSpace(c.Storage.Path) == "" {
				add(errors.New("storage.path is required when storage.driver=file"))
			}
		case "sqlite", "sqlite3":
			if strings.TrimSpace(c.Storage.Path) == "" {
				add(errors.New("storage.path is required when storage.driver=sqlite"))
			}
			_, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout)
			add(err)
		default:
			add(fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
		}
	}

	if base := strings.TrimSpace(c.Compose.LinkBase); base != "" {
		if u, err := url.Parse(base); err != nil || u.Scheme == "" || u.Host == "" {
			add(fmt.Errorf("compose.link_base: expected absolute URL, got %q", base))
		}
	}

	for i, t := range c.Targets {
		if strings.TrimSpace(t.Name) == "" {
			add(fmt.Errorf("targets[%d].name is required", i))
		}
	}
	return errors.Join(errs...)
}
