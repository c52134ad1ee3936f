// Package scheduler runs scan cycles: once right after Start, then on the
// configured interval or cron spec.
//
// At most one cycle runs at a time. Triggers that arrive while a cycle is in
// flight (cron ticks, manual RunNow/Trigger calls) are skipped and counted,
// never queued.
package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"deadlinebot/internal/eventbus"
	"deadlinebot/internal/scan"
	logx "deadlinebot/pkg/logx"
)

var (
	ErrBusy    = errors.New("scan already running")
	ErrStopped = errors.New("scheduler stopped")
)

// Job runs one cycle.
type Job func(ctx context.Context) (scan.Result, error)

type Config struct {
	// Interval is a duration, HH:MM or cron spec; see ParseSchedule.
	Interval string
	// Timezone is an IANA name used for cron specs. Empty means Local.
	Timezone string
	// CycleTimeout bounds one cycle. Zero means no limit.
	CycleTimeout time.Duration
}

// Snapshot is the externally visible scheduler state.
type Snapshot struct {
	Schedule   string       `json:"schedule"`
	Timezone   string       `json:"timezone"`
	Running    bool         `json:"running"`
	Runs       uint64       `json:"runs"`
	Skipped    uint64       `json:"skipped"`
	LastRunAt  time.Time    `json:"last_run_at"`
	LastResult *scan.Result `json:"last_result,omitempty"`
	Next       time.Time    `json:"next"`
}

type Service struct {
	job Job
	log logx.Logger
	bus eventbus.Bus

	mu      sync.Mutex
	cfg     Config
	sched   Schedule
	loc     *time.Location
	c       *cron.Cron
	entry   cron.EntryID
	base    context.Context
	stopped bool
	cycles  sync.WaitGroup

	// run is held for the whole cycle; TryLock gives single-flight.
	run sync.Mutex

	state struct {
		sync.Mutex
		running   bool
		runs      uint64
		skipped   uint64
		lastRunAt time.Time
		last      *scan.Result
	}
}

func New(cfg Config, job Job, log logx.Logger, bus eventbus.Bus) (*Service, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	sch, err := ParseSchedule(cfg.Interval)
	if err != nil {
		return nil, err
	}
	s := &Service{job: job, log: log, bus: bus, cfg: cfg, sched: sch}
	s.loc = s.loadLocationLocked()
	return s, nil
}

// Start registers the trigger and launches the first cycle in the
// background. Cycles run under a context detached from ctx's cancellation,
// so stopping never interrupts a cycle halfway; use Stop for shutdown.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.c != nil {
		s.mu.Unlock()
		return nil
	}
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	s.base = context.WithoutCancel(ctx)
	if err := s.startCronLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.log.Info("scheduler started", logx.String("schedule", s.sched.String()), logx.String("tz", s.loc.String()))
	s.mu.Unlock()

	go s.Trigger("start")
	return nil
}

func (s *Service) startCronLocked() error {
	sch, err := s.sched.cronSchedule()
	if err != nil {
		return err
	}
	s.c = cron.New(
		cron.WithLocation(s.loc),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger{s.log})),
	)
	s.entry = s.c.Schedule(sch, cron.FuncJob(func() { s.Trigger("schedule") }))
	s.c.Start()
	return nil
}

// Apply swaps the config. A changed schedule or timezone re-registers the
// trigger; an in-flight cycle is not affected.
func (s *Service) Apply(cfg Config) error {
	sch, err := ParseSchedule(cfg.Interval)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := sch != s.sched || strings.TrimSpace(cfg.Timezone) != strings.TrimSpace(s.cfg.Timezone)
	s.cfg = cfg
	s.sched = sch
	if !changed || s.c == nil {
		s.loc = s.loadLocationLocked()
		return nil
	}
	old := s.c
	// Don't wait for old.Stop().Done(): a running cron job may itself be
	// waiting on s.mu.
	old.Stop()
	s.loc = s.loadLocationLocked()
	if err := s.startCronLocked(); err != nil {
		return err
	}
	s.log.Info("schedule changed", logx.String("schedule", sch.String()), logx.String("tz", s.loc.String()))
	return nil
}

// Trigger starts a cycle in the calling goroutine unless one is already
// running or the scheduler is stopped. It reports whether a cycle ran.
func (s *Service) Trigger(reason string) bool {
	_, err := s.runCycle(reason)
	return err == nil || (!errors.Is(err, ErrBusy) && !errors.Is(err, ErrStopped))
}

// RunNow runs one cycle synchronously and returns its result. It fails
// with ErrBusy when another cycle holds the slot.
func (s *Service) RunNow(ctx context.Context) (scan.Result, error) {
	s.mu.Lock()
	if s.base == nil {
		s.base = context.WithoutCancel(ctx)
	}
	s.mu.Unlock()
	return s.runCycle("manual")
}

func (s *Service) runCycle(reason string) (scan.Result, error) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return scan.Result{}, ErrStopped
	}
	if !s.run.TryLock() {
		s.mu.Unlock()
		s.state.Lock()
		s.state.skipped++
		s.state.Unlock()
		s.log.Debug("cycle skipped; previous still running", logx.String("reason", reason))
		s.bus.Publish(eventbus.Event{Type: eventbus.ScanSkipped, Data: reason})
		return scan.Result{}, ErrBusy
	}
	s.cycles.Add(1)
	base, timeout := s.base, s.cfg.CycleTimeout
	s.mu.Unlock()
	defer s.cycles.Done()
	defer s.run.Unlock()

	if base == nil {
		base = context.Background()
	}
	ctx, cancel := base, context.CancelFunc(func() {})
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(base, timeout)
	}
	defer cancel()

	s.state.Lock()
	s.state.running = true
	s.state.Unlock()
	s.bus.Publish(eventbus.Event{Type: eventbus.ScanStarted, Data: reason})
	s.log.Debug("cycle started", logx.String("reason", reason))

	res, err := s.safeJob(ctx)

	s.state.Lock()
	s.state.running = false
	s.state.runs++
	s.state.lastRunAt = res.FinishedAt
	if s.state.lastRunAt.IsZero() {
		s.state.lastRunAt = time.Now()
	}
	r := res
	s.state.last = &r
	s.state.Unlock()

	if err != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.ScanFailed, Data: res})
		return res, err
	}
	s.bus.Publish(eventbus.Event{Type: eventbus.ScanCompleted, Data: res})
	return res, nil
}

// safeJob turns a panicking cycle into a failed one so the loop survives.
func (s *Service) safeJob(ctx context.Context) (res scan.Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			s.log.Error("cycle panicked", logx.Any("panic", p))
			err = errors.New("cycle panicked")
			res.Err = err.Error()
			if res.FinishedAt.IsZero() {
				res.FinishedAt = time.Now()
			}
		}
	}()
	return s.job(ctx)
}

// Stop halts new triggers at once and waits for the in-flight cycle until
// ctx expires.
func (s *Service) Stop(ctx context.Context) error {
	start := time.Now()
	s.mu.Lock()
	s.stopped = true
	c := s.c
	s.c = nil
	s.mu.Unlock()

	if c != nil {
		c.Stop()
	}
	done := make(chan struct{})
	go func() {
		s.cycles.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info("scheduler stopped", logx.Duration("took", time.Since(start)))
		return nil
	case <-ctx.Done():
		s.log.Warn("scheduler stop timed out; cycle still running")
		return ctx.Err()
	}
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{Schedule: s.sched.String(), Timezone: s.loc.String()}
	if s.c != nil && s.entry != 0 {
		snap.Next = s.c.Entry(s.entry).Next
	}
	s.mu.Unlock()

	s.state.Lock()
	snap.Running = s.state.running
	snap.Runs = s.state.runs
	snap.Skipped = s.state.skipped
	snap.LastRunAt = s.state.lastRunAt
	if s.state.last != nil {
		r := *s.state.last
		snap.LastResult = &r
	}
	s.state.Unlock()
	return snap
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, logx.Any("kv", kv))
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, logx.Err(err), logx.Any("kv", kv))
}
