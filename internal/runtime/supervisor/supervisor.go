// Package supervisor runs the process's long-lived goroutines (config
// watcher, status server, event log) under one cancellable context with
// panic recovery and restart-on-failure.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	logx "deadlinebot/pkg/logx"
)

type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc

	log         logx.Logger
	cancelOnErr bool

	errOnce  sync.Once
	firstErr atomic.Value
	wg       sync.WaitGroup

	mu    sync.Mutex
	stats map[string]*Stats
}

// Stats is a best-effort, per-name view of supervised goroutines.
type Stats struct {
	Name        string    `json:"name"`
	Active      int       `json:"active"`
	Starts      uint64    `json:"starts"`
	Panics      uint64    `json:"panics"`
	LastStartAt time.Time `json:"last_start_at"`
	LastErr     string    `json:"last_err,omitempty"`
}

type Option func(*Supervisor)

func WithLogger(log logx.Logger) Option { return func(s *Supervisor) { s.log = log } }

// WithCancelOnError cancels the shared context on the first fatal error.
func WithCancelOnError(enabled bool) Option { return func(s *Supervisor) { s.cancelOnErr = enabled } }

func New(parent context.Context, opts ...Option) *Supervisor {
	ctx, cancel := context.WithCancel(parent)
	s := &Supervisor{ctx: ctx, cancel: cancel, log: logx.Nop(), stats: map[string]*Stats{}}
	for _, o := range opts {
		o(s)
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	return s
}

func (s *Supervisor) Context() context.Context { return s.ctx }

// Err returns the first fatal error, if any.
func (s *Supervisor) Err() error {
	if err, ok := s.firstErr.Load().(error); ok {
		return err
	}
	return nil
}

// Go runs fn once. A returned error (other than cancellation) or a panic is
// fatal: it is recorded and, with WithCancelOnError, stops everything.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		err := s.runOnce(name, fn)
		if err != nil {
			s.fail(fmt.Errorf("%s: %w", name, err))
		}
	}()
}

// RestartOption tunes GoRestart.
type RestartOption func(*restartCfg)

type restartCfg struct {
	minBackoff, maxBackoff time.Duration
	maxRestarts            int
}

func WithBackoff(minD, maxD time.Duration) RestartOption {
	return func(c *restartCfg) {
		if minD > 0 {
			c.minBackoff = minD
		}
		if maxD > 0 {
			c.maxBackoff = maxD
		}
	}
}

// WithMaxRestarts makes GoRestart give up (fatally) after n failures.
func WithMaxRestarts(n int) RestartOption { return func(c *restartCfg) { c.maxRestarts = n } }

// GoRestart keeps fn running: errors and panics restart it after a jittered
// exponential backoff. A nil return ends it for good.
func (s *Supervisor) GoRestart(name string, fn func(ctx context.Context) error, opts ...RestartOption) {
	cfg := restartCfg{minBackoff: 250 * time.Millisecond, maxBackoff: 30 * time.Second}
	for _, o := range opts {
		o(&cfg)
	}
	cfg.maxBackoff = max(cfg.maxBackoff, cfg.minBackoff)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		backoff := cfg.minBackoff
		for restarts := 0; ; restarts++ {
			started := time.Now()
			err := s.runOnce(name, fn)
			if err == nil || s.ctx.Err() != nil {
				return
			}
			if cfg.maxRestarts > 0 && restarts >= cfg.maxRestarts {
				s.log.Error("goroutine gave up", logx.String("name", name), logx.Int("restarts", restarts), logx.Err(err))
				s.fail(fmt.Errorf("%s: %w", name, err))
				return
			}
			if time.Since(started) > 30*time.Second {
				backoff = cfg.minBackoff
			}
			wait := backoff + time.Duration(time.Now().UnixNano()%int64(backoff/5+1))
			s.log.Warn("goroutine restarting", logx.String("name", name), logx.Duration("backoff", wait), logx.Err(err))
			t := time.NewTimer(wait)
			select {
			case <-s.ctx.Done():
				t.Stop()
				return
			case <-t.C:
			}
			backoff = min(backoff*2, cfg.maxBackoff)
		}
	}()
}

// runOnce runs fn with panic capture and stats bookkeeping. Cancellation is
// reported as a clean exit.
func (s *Supervisor) runOnce(name string, fn func(ctx context.Context) error) (err error) {
	st := s.begin(name)
	defer func() {
		if p := recover(); p != nil {
			s.log.Error("goroutine panicked", logx.String("name", name), logx.Any("panic", p), logx.String("stack", string(debug.Stack())))
			s.mu.Lock()
			st.Panics++
			s.mu.Unlock()
			err = fmt.Errorf("panic: %v", p)
		}
		if errors.Is(err, context.Canceled) || (err != nil && s.ctx.Err() != nil) {
			err = nil
		}
		s.end(st, err)
	}()
	return fn(s.ctx)
}

func (s *Supervisor) begin(name string) *Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats[name]
	if st == nil {
		st = &Stats{Name: name}
		s.stats[name] = st
	}
	st.Active++
	st.Starts++
	st.LastStartAt = time.Now()
	return st
}

func (s *Supervisor) end(st *Stats, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st.Active--
	if err != nil {
		st.LastErr = err.Error()
	}
}

func (s *Supervisor) fail(err error) {
	s.errOnce.Do(func() { s.firstErr.Store(err) })
	if s.cancelOnErr {
		s.cancel()
	}
}

// Snapshot returns per-name stats sorted by name.
func (s *Supervisor) Snapshot() []Stats {
	s.mu.Lock()
	out := make([]Stats, 0, len(s.stats))
	for _, st := range s.stats {
		out = append(out, *st)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Stop cancels the context and waits for all goroutines until ctx expires.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return s.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}
