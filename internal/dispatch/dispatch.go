// Package dispatch delivers admitted notification events through the
// messaging API: bounded worker pool, token-bucket rate limit and retry with
// jittered backoff for transport errors.
//
// Every event is attempted independently; one failure never aborts the
// batch. Provider rejections are final and their reason is kept verbatim.
package dispatch

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"deadlinebot/internal/compose"
	"deadlinebot/internal/deadline"
	"deadlinebot/internal/dedup"
	"deadlinebot/internal/targets"
	"deadlinebot/internal/tasksource"
	"deadlinebot/internal/transport"
	logx "deadlinebot/pkg/logx"
)

// Event is one due notification for one target.
type Event struct {
	Task     tasksource.Task
	Deadline deadline.Date
	Class    deadline.Class
	Target   targets.Target
	Key      dedup.Key
}

type Config struct {
	Workers       int
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	SendTimeout   time.Duration
	// MaxFailures bounds Report.Failures; extra reasons are only counted.
	MaxFailures int
	LinkBase    string
}

// Report aggregates the outcome of one Dispatch call.
type Report struct {
	Attempted int
	Sent      int
	Failed    int
	Failures  []string
	// FailuresDropped counts reasons that did not fit into Failures.
	FailuresDropped int
}

// Hooks are called from worker goroutines; they must be safe for
// concurrent use.
type Hooks struct {
	OnSent   func(ctx context.Context, ev Event)
	OnFailed func(ctx context.Context, ev Event, reason string)
}

type Dispatcher struct {
	mu        sync.Mutex
	cfg       Config
	limiter   *rate.Limiter
	messenger transport.Messenger
	log       logx.Logger
}

func New(cfg Config, messenger transport.Messenger, log logx.Logger) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	d := &Dispatcher{messenger: messenger, log: log}
	d.Apply(cfg)
	return d
}

// Apply swaps the configuration. Batches already running keep the snapshot
// they started with.
func (d *Dispatcher) Apply(cfg Config) {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 20
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 50
	}
	d.mu.Lock()
	d.cfg = cfg
	// Burst = rate, so short spikes don't block too hard.
	d.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	d.mu.Unlock()
}

// Dispatch sends every event once (plus transport retries) and returns the
// aggregate. It returns when all attempts finished; dispatch order is not
// significant.
func (d *Dispatcher) Dispatch(ctx context.Context, events []Event, hooks Hooks) Report {
	d.mu.Lock()
	cfg, lim := d.cfg, d.limiter
	d.mu.Unlock()

	var (
		mu  sync.Mutex
		rep Report
	)
	record := func(ev Event, reason string) {
		mu.Lock()
		defer mu.Unlock()
		rep.Attempted++
		if reason == "" {
			rep.Sent++
			return
		}
		rep.Failed++
		if len(rep.Failures) < cfg.MaxFailures {
			rep.Failures = append(rep.Failures, failureLine(ev, reason))
		} else {
			rep.FailuresDropped++
		}
	}

	jobs := make(chan Event)
	var wg sync.WaitGroup
	for i := 0; i < min(cfg.Workers, len(events)); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ev := range jobs {
				reason := d.deliver(ctx, cfg, lim, ev)
				record(ev, reason)
				if reason == "" {
					if hooks.OnSent != nil {
						hooks.OnSent(ctx, ev)
					}
				} else if hooks.OnFailed != nil {
					hooks.OnFailed(ctx, ev, reason)
				}
			}
		}()
	}
	for _, ev := range events {
		jobs <- ev
	}
	close(jobs)
	wg.Wait()
	return rep
}

// deliver returns "" on success, otherwise the failure reason.
func (d *Dispatcher) deliver(ctx context.Context, cfg Config, lim *rate.Limiter, ev Event) string {
	req := transport.SendRequest{
		ChannelID:      ev.Target.ChannelID,
		Text:           compose.Compose(compose.Input{Task: ev.Task, Class: ev.Class, Deadline: ev.Deadline, LinkBase: cfg.LinkBase}),
		RichText:       true,
		DisablePreview: true,
	}
	log := d.log.With(
		logx.String("task", ev.Task.ID.String()),
		logx.String("class", string(ev.Class)),
		logx.String("target", ev.Target.Name),
	)

	attempts := 1 + cfg.RetryMax
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := lim.Wait(ctx); err != nil {
			return fmt.Sprintf("rate limiter: %v", err)
		}
		cctx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
		res, err := d.messenger.Send(cctx, req)
		cancel()
		if err == nil {
			if res.OK {
				log.Debug("notification sent", logx.Int("message_id", res.MessageID))
				return ""
			}
			log.Warn("notification rejected", logx.String("reason", res.Description))
			if res.Description == "" {
				return "rejected by messaging API"
			}
			return res.Description
		}
		lastErr = err
		log.Debug("notification send failed", logx.Err(err), logx.Int("attempt", attempt), logx.Int("max", attempts))
		if attempt == attempts {
			break
		}
		t := time.NewTimer(retryDelay(cfg, attempt))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return fmt.Sprintf("send: %v", ctx.Err())
		}
	}
	log.Warn("notification failed", logx.Err(lastErr))
	return fmt.Sprintf("send: %v", lastErr)
}

func failureLine(ev Event, reason string) string {
	return fmt.Sprintf("%s (channel %s) task %s [%s]: %s",
		ev.Target.Name, ev.Target.ChannelID, ev.Task.ID, ev.Class, reason)
}

// retryDelay is base*2^(attempt-1) capped at RetryMaxDelay with 0.7..1.3
// jitter.
func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt && d < cfg.RetryMaxDelay; i++ {
		d *= 2
	}
	d = time.Duration(float64(d) * (0.7 + rand.Float64()*0.6))
	return min(d, cfg.RetryMaxDelay)
}
