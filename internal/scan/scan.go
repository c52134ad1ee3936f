// Package scan runs one notification cycle: fetch every group's tasks,
// work out which deadline triggers are due today for which target, drop
// already-notified ones and dispatch the rest.
package scan

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"deadlinebot/internal/deadline"
	"deadlinebot/internal/dedup"
	"deadlinebot/internal/dispatch"
	"deadlinebot/internal/targets"
	"deadlinebot/internal/tasksource"
	logx "deadlinebot/pkg/logx"
)

// ErrSourceUnavailable aborts a cycle when the group list cannot be read.
var ErrSourceUnavailable = errors.New("task source unavailable")

// Source is the task API as seen by the scanner.
type Source interface {
	Groups(ctx context.Context) ([]tasksource.Group, error)
	Tasks(ctx context.Context, g tasksource.Group) ([]tasksource.Task, error)
}

// TargetsFunc returns the current target list. It is called once at the
// start of every cycle, so config changes apply from the next cycle on.
type TargetsFunc func() []targets.Target

type Config struct {
	// Concurrency bounds parallel per-group fetches.
	Concurrency int
	// Location defines "today". Nil means UTC.
	Location *time.Location
}

// Result summarizes one cycle. Only the latest one is kept by the scheduler.
type Result struct {
	StartedAt       time.Time `json:"started_at"`
	FinishedAt      time.Time `json:"finished_at"`
	Groups          int       `json:"groups"`
	GroupsFailed    int       `json:"groups_failed"`
	TasksConsidered int       `json:"tasks_considered"`
	Attempted       int       `json:"attempted"`
	Sent            int       `json:"sent"`
	Failed          int       `json:"failed"`
	// Skipped counts due events dropped because they were already notified.
	Skipped         int      `json:"skipped"`
	Failures        []string `json:"failures,omitempty"`
	FailuresDropped int      `json:"failures_dropped,omitempty"`
	// Err is the fatal reason when the cycle was aborted.
	Err string `json:"error,omitempty"`
}

func (r Result) Duration() time.Duration { return r.FinishedAt.Sub(r.StartedAt) }

type Scanner struct {
	src      Source
	targets  TargetsFunc
	dedup    *dedup.Deduplicator
	dispatch *dispatch.Dispatcher
	log      logx.Logger
	now      func() time.Time

	mu  sync.Mutex
	cfg Config
}

func New(cfg Config, src Source, tf TargetsFunc, dd *dedup.Deduplicator, dp *dispatch.Dispatcher, log logx.Logger) *Scanner {
	if log.IsZero() {
		log = logx.Nop()
	}
	if tf == nil {
		tf = func() []targets.Target { return nil }
	}
	s := &Scanner{src: src, targets: tf, dedup: dd, dispatch: dp, log: log, now: time.Now}
	s.Apply(cfg)
	return s
}

func (s *Scanner) Apply(cfg Config) {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

// Run executes one cycle. The returned error is non-nil only when the cycle
// was aborted; per-group and per-event failures are reported in Result.
func (s *Scanner) Run(ctx context.Context) (Result, error) {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	start := s.now()
	res := Result{StartedAt: start}
	today := deadline.DateOf(start.In(cfg.Location))
	matcher := targets.NewMatcher(s.targets())

	groups, err := s.src.Groups(ctx)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
		res.Err = err.Error()
		res.FinishedAt = s.now()
		s.log.Error("scan aborted", logx.Err(err))
		return res, err
	}
	res.Groups = len(groups)

	perGroup := s.fetch(ctx, cfg, groups, &res)

	var events []dispatch.Event
	for _, tasks := range perGroup {
		for _, t := range tasks {
			res.TasksConsidered++
			for _, ev := range s.evaluate(t, today, matcher) {
				if !s.dedup.Admit(ctx, ev.Key) {
					res.Skipped++
					continue
				}
				events = append(events, ev)
			}
		}
	}

	rep := s.dispatch.Dispatch(ctx, events, dispatch.Hooks{
		OnSent: func(ctx context.Context, ev dispatch.Event) {
			if err := s.dedup.Record(ctx, ev.Key, ev.Deadline); err != nil {
				s.log.Warn("dedup persist failed", logx.String("key", string(ev.Key)), logx.Err(err))
			}
		},
		OnFailed: func(_ context.Context, ev dispatch.Event, _ string) {
			s.dedup.Release(ev.Key)
		},
	})
	res.Attempted = rep.Attempted
	res.Sent = rep.Sent
	res.Failed = rep.Failed
	res.Failures = rep.Failures
	res.FailuresDropped = rep.FailuresDropped
	res.FinishedAt = s.now()

	s.log.Info("scan finished",
		logx.Int("groups", res.Groups),
		logx.Int("groups_failed", res.GroupsFailed),
		logx.Int("tasks", res.TasksConsidered),
		logx.Int("sent", res.Sent),
		logx.Int("failed", res.Failed),
		logx.Int("skipped", res.Skipped),
		logx.Duration("took", res.Duration()),
	)
	return res, nil
}

// fetch loads tasks of every group with bounded parallelism. The result is
// indexed like groups so event order stays stable between runs.
func (s *Scanner) fetch(ctx context.Context, cfg Config, groups []tasksource.Group, res *Result) [][]tasksource.Task {
	out := make([][]tasksource.Task, len(groups))
	sem := make(chan struct{}, cfg.Concurrency)
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		failed int
	)
	for i, g := range groups {
		wg.Add(1)
		go func() {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				mu.Lock()
				failed++
				mu.Unlock()
				return
			}
			defer func() { <-sem }()

			tasks, err := s.src.Tasks(ctx, g)
			if err != nil {
				s.log.Warn("group fetch failed; skipping",
					logx.String("group", g.ID.String()), logx.String("name", g.Name), logx.Err(err))
				mu.Lock()
				failed++
				mu.Unlock()
				return
			}
			out[i] = tasks
		}()
	}
	wg.Wait()
	res.GroupsFailed = failed
	return out
}

// evaluate turns one task into its due events (before dedup).
func (s *Scanner) evaluate(t tasksource.Task, today deadline.Date, m *targets.Matcher) []dispatch.Event {
	id := strings.TrimSpace(t.ID.String())
	log := s.log.With(logx.String("task", id))
	if id == "" {
		log.Debug("task without id skipped")
		return nil
	}
	if strings.TrimSpace(t.Deadline) == "" || strings.TrimSpace(t.Responsible) == "" {
		return nil
	}
	d, ok := deadline.Extract(t.Deadline)
	if !ok {
		log.Debug("no valid date in deadline", logx.String("deadline", t.Deadline))
		return nil
	}
	tgt, ok := m.Match(t.Responsible)
	if !ok {
		log.Debug("no target for responsible", logx.String("responsible", t.Responsible))
		return nil
	}
	classes := deadline.Evaluate(d, today, tgt.Classes...)
	if len(classes) == 0 {
		return nil
	}
	events := make([]dispatch.Event, 0, len(classes))
	for _, c := range classes {
		events = append(events, dispatch.Event{
			Task:     t,
			Deadline: d,
			Class:    c,
			Target:   tgt,
			Key:      dedup.KeyOf(id, c, d),
		})
	}
	return events
}
