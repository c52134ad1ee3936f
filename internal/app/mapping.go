package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"deadlinebot/internal/config"
	"deadlinebot/internal/deadline"
	"deadlinebot/internal/dedup"
	"deadlinebot/internal/dispatch"
	"deadlinebot/internal/scan"
	"deadlinebot/internal/scheduler"
	"deadlinebot/internal/status"
	"deadlinebot/internal/storage"
	"deadlinebot/internal/targets"
	"deadlinebot/internal/tasksource"
	"deadlinebot/internal/transport/telegram"
	logx "deadlinebot/pkg/logx"
)

// validate is installed as the config manager's validator, so a bad edit
// is rejected before anything is applied.
func validate(_ context.Context, cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	var errs []error
	if _, err := scheduler.ParseSchedule(cfg.Scheduler.Interval); err != nil {
		errs = append(errs, fmt.Errorf("scheduler.interval: %w", err))
	}
	for _, fn := range []func(*config.Config) error{
		func(c *config.Config) error { _, err := mapTelegram(c); return err },
		func(c *config.Config) error { _, err := mapSource(c); return err },
		func(c *config.Config) error { _, err := mapDispatch(c); return err },
		func(c *config.Config) error { _, err := mapDedup(c); return err },
		func(c *config.Config) error { _, err := mapStorage(c); return err },
		func(c *config.Config) error { _, err := mapSchedulerConfig(c); return err },
	} {
		if err := fn(cfg); err != nil {
			errs = append(errs, err)
		}
	}
	if st := cfg.Status; st.Enabled && !st.AllowInsecure && strings.TrimSpace(st.Token) == "" {
		if addr := statusAddr(st.Addr); !status.IsLoopbackAddr(addr) {
			errs = append(errs, fmt.Errorf("status.addr %q is not loopback: set status.token or status.allow_insecure", addr))
		}
	}
	return errors.Join(errs...)
}

func mapLogging(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Operator: logx.OperatorConfig{
			Enabled:    l.Operator.Enabled,
			ChannelID:  strings.TrimSpace(l.Operator.ChannelID.String()),
			MinLevel:   l.Operator.MinLevel,
			RatePerSec: l.Operator.RatePerSec,
		},
	}
}

func mapTelegram(cfg *config.Config) (telegram.Config, error) {
	timeout, err := config.DurationOr("telegram.timeout", cfg.Telegram.Timeout, 15*time.Second)
	if err != nil {
		return telegram.Config{}, err
	}
	return telegram.Config{Token: cfg.Telegram.Token, APIURL: cfg.Telegram.APIURL, Timeout: timeout}, nil
}

func mapSource(cfg *config.Config) (tasksource.Config, error) {
	s := cfg.Source
	timeout, err := config.DurationOr("source.timeout", s.Timeout, 30*time.Second)
	if err != nil {
		return tasksource.Config{}, err
	}
	return tasksource.Config{
		BaseURL:  s.BaseURL,
		Token:    s.Token,
		Timeout:  timeout,
		PageSize: s.PageSize,
		MaxPages: s.MaxPages,
	}, nil
}

func mapDispatch(cfg *config.Config) (dispatch.Config, error) {
	d := cfg.Dispatch
	out := dispatch.Config{
		Workers:     d.Workers,
		RatePerSec:  d.RatePerSec,
		RetryMax:    1,
		MaxFailures: d.MaxFailures,
		LinkBase:    strings.TrimSpace(cfg.Compose.LinkBase),
	}
	if d.RetryMax != nil {
		out.RetryMax = *d.RetryMax
	}
	var err error
	if out.SendTimeout, err = config.DurationOr("dispatch.timeout", d.Timeout, 10*time.Second); err != nil {
		return dispatch.Config{}, err
	}
	if out.RetryBase, err = config.DurationOr("dispatch.retry_base", d.RetryBase, 500*time.Millisecond); err != nil {
		return dispatch.Config{}, err
	}
	if out.RetryMaxDelay, err = config.DurationOr("dispatch.retry_max_delay", d.RetryMaxDelay, 10*time.Second); err != nil {
		return dispatch.Config{}, err
	}
	return out, nil
}

func mapDedup(cfg *config.Config) (dedup.Config, error) {
	r, err := config.DurationOr("dedup.retention", cfg.Dedup.Retention, dedup.DefaultRetention)
	if err != nil {
		return dedup.Config{}, err
	}
	return dedup.Config{Retention: r}, nil
}

// mapStorage always yields a durable store; an omitted section or driver
// means the file driver at config.DefaultStoragePath.
func mapStorage(cfg *config.Config) (storage.Config, error) {
	sc := config.StorageConfig{}
	if cfg.Storage != nil {
		sc = *cfg.Storage
	}
	path := strings.TrimSpace(sc.Path)
	switch driver := strings.ToLower(strings.TrimSpace(sc.Driver)); driver {
	case "":
		if path == "" {
			path = config.DefaultStoragePath
		}
		return storage.Config{Driver: "file", Path: path}, nil
	case "file":
		if path == "" {
			return storage.Config{}, errors.New("storage.path is required for the file driver")
		}
		return storage.Config{Driver: "file", Path: path}, nil
	case "sqlite", "sqlite3":
		busy, err := config.DurationOr("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, nil
	}
	return storage.Config{}, fmt.Errorf("unsupported storage.driver: %s", sc.Driver)
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	timeout, err := config.ParseDurationField("scheduler.cycle_timeout", cfg.Scheduler.CycleTimeout)
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{
		Interval:     cfg.Scheduler.Interval,
		Timezone:     cfg.Scheduler.Timezone,
		CycleTimeout: timeout,
	}, nil
}

// mapScan derives the scanner config; "today" follows the scheduler
// timezone so a cron spec and the deadline arithmetic agree.
func mapScan(cfg *config.Config) scan.Config {
	loc := time.Local
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if l, err := time.LoadLocation(tz); err == nil {
			loc = l
		}
	}
	return scan.Config{Concurrency: cfg.Source.Concurrency, Location: loc}
}

func mapStatus(cfg *config.Config) status.Config {
	st := cfg.Status
	return status.Config{
		Addr:          statusAddr(st.Addr),
		Token:         strings.TrimSpace(st.Token),
		AllowInsecure: st.AllowInsecure,
		Pprof:         st.Pprof,
	}
}

func statusAddr(addr string) string {
	if a := strings.TrimSpace(addr); a != "" {
		return a
	}
	return status.DefaultAddr
}

// mapTargets converts target entries. Entries without any enabled class
// are kept; the matcher treats them as not actionable.
func mapTargets(list []config.TargetConfig) []targets.Target {
	out := make([]targets.Target, 0, len(list))
	for _, tc := range list {
		t := targets.Target{Name: tc.Name, ChannelID: strings.TrimSpace(tc.ChannelID.String())}
		if tc.WeekBefore {
			t.Classes = append(t.Classes, deadline.WeekBefore)
		}
		if tc.DayBefore {
			t.Classes = append(t.Classes, deadline.DayBefore)
		}
		if tc.DayOf {
			t.Classes = append(t.Classes, deadline.DayOf)
		}
		out = append(out, t)
	}
	return out
}

// warnTargets logs configuration smells that are not errors.
func warnTargets(log logx.Logger, list []config.TargetConfig) {
	ts := mapTargets(list)
	if dup := targets.Duplicates(ts); len(dup) > 0 {
		log.Warn("duplicate target names; the last entry wins", logx.Strings("names", dup))
	}
	for _, t := range ts {
		if !t.Actionable() {
			log.Warn("target is not actionable (no channel or no classes)", logx.String("name", t.Name))
		}
	}
}
