// Package app wires configuration, logging, storage and the scan pipeline
// into one process and owns its start/stop order.
package app

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"deadlinebot/internal/config"
	"deadlinebot/internal/dedup"
	"deadlinebot/internal/dispatch"
	"deadlinebot/internal/eventbus"
	"deadlinebot/internal/runtime/supervisor"
	"deadlinebot/internal/scan"
	"deadlinebot/internal/scheduler"
	"deadlinebot/internal/status"
	"deadlinebot/internal/storage"
	"deadlinebot/internal/targets"
	"deadlinebot/internal/tasksource"
	"deadlinebot/internal/transport"
	"deadlinebot/internal/transport/telegram"
	logx "deadlinebot/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	source  *sourceRef
	dedup   *dedup.Deduplicator
	disp    *dispatch.Dispatcher
	scanner *scan.Scanner
	sched   *scheduler.Service
	status  *status.Server
}

type options struct {
	dryRun bool
}

type Option func(*options)

// WithDryRun logs notifications instead of sending them and keeps dedup
// state in memory only.
func WithDryRun(enabled bool) Option { return func(o *options) { o.dryRun = enabled } }

func New(ctx context.Context, cfgPath string, opts ...Option) (*App, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	cfgm := config.NewManager(cfgPath)
	cfgm.SetValidator(validate)
	cfg, err := cfgm.Load(ctx)
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole(cfg.Logging.Level)
	var messenger transport.Messenger
	if o.dryRun {
		messenger = dryRunMessenger(bootLog.With(logx.String("comp", "dryrun")))
	} else {
		tcfg, _ := mapTelegram(cfg)
		tm, err := telegram.New(tcfg, bootLog.With(logx.String("comp", "telegram")))
		if err != nil {
			return nil, err
		}
		messenger = tm
	}

	logSvc, log := logx.New(mapLogging(cfg), messenger)
	cfgm.SetLogger(log.With(logx.String("comp", "config")))
	warnTargets(log, cfg.Targets)

	var store storage.Store
	if o.dryRun {
		log.Warn("dry run: dedup state is kept in memory only")
	} else {
		sc, _ := mapStorage(cfg)
		store, err = storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			_ = logSvc.Close()
			return nil, err
		}
		log.Info("storage opened", logx.String("driver", sc.Driver), logx.String("path", sc.Path))
	}

	src, err := newSourceRef(cfg, log.With(logx.String("comp", "tasksource")))
	if err != nil {
		closeStore(store)
		_ = logSvc.Close()
		return nil, err
	}

	dcfg, _ := mapDedup(cfg)
	dd := dedup.New(store, dcfg, log.With(logx.String("comp", "dedup")))
	pcfg, _ := mapDispatch(cfg)
	disp := dispatch.New(pcfg, messenger, log.With(logx.String("comp", "dispatch")))

	scanner := scan.New(mapScan(cfg), src, func() []targets.Target {
		return mapTargets(cfgm.Get().Targets)
	}, dd, disp, log.With(logx.String("comp", "scan")))

	bus := eventbus.New()
	scfg, _ := mapSchedulerConfig(cfg)
	sched, err := scheduler.New(scfg, cycleJob(dd, scanner, log), log.With(logx.String("comp", "scheduler")), bus)
	if err != nil {
		closeStore(store)
		_ = logSvc.Close()
		return nil, err
	}

	a := &App{
		cfgm:    cfgm,
		log:     log.With(logx.String("comp", "app")),
		logs:    logSvc,
		bus:     bus,
		store:   store,
		source:  src,
		dedup:   dd,
		disp:    disp,
		scanner: scanner,
		sched:   sched,
	}
	if cfg.Status.Enabled {
		a.status = status.New(mapStatus(cfg), sched, log.With(logx.String("comp", "status")),
			status.WithRuntime(a.runtimeStats))
	}
	return a, nil
}

// cycleJob prunes expired dedup keys before each scan.
func cycleJob(dd *dedup.Deduplicator, sc *scan.Scanner, log logx.Logger) scheduler.Job {
	return func(ctx context.Context) (scan.Result, error) {
		if n, err := dd.Prune(ctx); err != nil {
			log.Warn("dedup prune failed", logx.Err(err))
		} else if n > 0 {
			log.Debug("dedup pruned", logx.Int("removed", n))
		}
		return sc.Run(ctx)
	}
}

// Done is closed when the supervisor context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// RunOnce runs a single cycle without starting the schedule.
func (a *App) RunOnce(ctx context.Context) (scan.Result, error) {
	return a.sched.RunNow(ctx)
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log.With(logx.String("comp", "supervisor"))),
		supervisor.WithCancelOnError(true))

	if err := a.sched.Start(a.sup.Context()); err != nil {
		return err
	}
	if a.status != nil {
		a.sup.GoRestart("status.http", a.status.Run,
			supervisor.WithBackoff(time.Second, 30*time.Second), supervisor.WithMaxRestarts(10))
	}

	events, unsub := a.bus.Subscribe(64)
	a.sup.Go("eventbus.log", func(c context.Context) error {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				a.logEvent(e)
			}
		}
	})

	sub := a.cfgm.Subscribe(4)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return nil
			case next, ok := <-sub:
				if !ok {
					return nil
				}
				a.applyConfig(last, next)
				last = next
			}
		}
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.log.Info("app started",
		logx.String("config", a.cfgm.Path()),
		logx.Int("targets", len(a.cfgm.Get().Targets)),
		logx.Bool("status", a.status != nil))
	return nil
}

// applyConfig pushes a validated config into the running components.
// Targets need no push: the scanner reads them at the start of each cycle.
func (a *App) applyConfig(prev, next *config.Config) {
	sections := config.ChangedSections(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	changed := func(name string) bool { return slices.Contains(sections, name) }

	if changed("logging") {
		a.logs.Apply(mapLogging(next))
	}
	if changed("targets") {
		warnTargets(a.log, next.Targets)
	}
	if changed("dispatch") || changed("compose") {
		if c, err := mapDispatch(next); err == nil {
			a.disp.Apply(c)
		}
	}
	if changed("dedup") {
		if c, err := mapDedup(next); err == nil {
			a.dedup.Apply(c)
		}
	}
	if changed("source") {
		if err := a.source.reset(next); err != nil {
			a.log.Warn("task source config rejected; keeping previous", logx.Err(err))
		}
	}
	if changed("scheduler") || changed("source") {
		a.scanner.Apply(mapScan(next))
	}
	if changed("scheduler") {
		if c, err := mapSchedulerConfig(next); err == nil {
			if err := a.sched.Apply(c); err != nil {
				a.log.Warn("schedule change rejected; keeping previous", logx.Err(err))
			}
		}
	}
	for _, s := range []string{"telegram", "storage", "status"} {
		if changed(s) {
			a.log.Warn("config section changed; restart required for it to take effect", logx.String("section", s))
		}
	}
	a.bus.Publish(eventbus.Event{Type: eventbus.ConfigApplied, Data: sections})
	a.log.Info("config reloaded", logx.String("changed", strings.Join(sections, ",")))
}

func (a *App) logEvent(e eventbus.Event) {
	switch e.Type {
	case eventbus.ScanFailed:
		res, _ := e.Data.(scan.Result)
		a.log.Warn("scan failed", logx.String("err", res.Err), logx.Int("sent", res.Sent))
	case eventbus.ScanCompleted:
		res, _ := e.Data.(scan.Result)
		if res.Failed > 0 {
			a.log.Warn("scan finished with delivery failures",
				logx.Int("failed", res.Failed), logx.Strings("failures", res.Failures))
		}
	case eventbus.ScanSkipped:
		a.log.Info("scan skipped; previous cycle still running", logx.Any("trigger", e.Data))
	case eventbus.ConfigApplied:
		// applyConfig already logged the summary
	default:
		a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
	}
}

func (a *App) runtimeStats() any {
	out := map[string]any{"dedup_keys": a.dedup.Len()}
	if a.sup != nil {
		out["supervisor"] = a.sup.Snapshot()
	}
	return out
}

func (a *App) Stop(ctx context.Context) error {
	a.log.Info("stopping")

	// step bounds one shutdown stage so a stuck component can't stall the rest.
	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		if dl, ok := ctx.Deadline(); ok && time.Until(dl) < limit {
			limit = time.Until(dl)
		}
		if limit > 0 {
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, limit)
			defer cancel()
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			if took := time.Since(start); took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	// The scheduler goes first: an in-flight cycle finishes its sends and
	// dedup writes before storage closes.
	step("scheduler", 30*time.Second, a.sched.Stop)
	if a.sup != nil {
		step("supervisor", 5*time.Second, a.sup.Stop)
	}
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	return a.logs.Close()
}

func closeStore(st storage.Store) {
	if st != nil {
		_ = st.Close()
	}
}

// sourceRef lets a reloaded source section replace the client between
// cycles without rebuilding the scanner.
type sourceRef struct {
	cur atomic.Pointer[tasksource.Client]
	log logx.Logger
}

func newSourceRef(cfg *config.Config, log logx.Logger) (*sourceRef, error) {
	r := &sourceRef{log: log}
	if err := r.reset(cfg); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *sourceRef) reset(cfg *config.Config) error {
	sc, err := mapSource(cfg)
	if err != nil {
		return err
	}
	sc.Log = r.log
	c, err := tasksource.New(sc)
	if err != nil {
		return err
	}
	r.cur.Store(c)
	return nil
}

func (r *sourceRef) Groups(ctx context.Context) ([]tasksource.Group, error) {
	return r.cur.Load().Groups(ctx)
}

func (r *sourceRef) Tasks(ctx context.Context, g tasksource.Group) ([]tasksource.Task, error) {
	return r.cur.Load().Tasks(ctx, g)
}

func dryRunMessenger(log logx.Logger) transport.Messenger {
	var n atomic.Int64
	return transport.MessengerFunc(func(_ context.Context, req transport.SendRequest) (transport.SendResult, error) {
		if strings.TrimSpace(req.ChannelID) == "" {
			return transport.SendResult{}, errors.New("dry run: empty channel")
		}
		log.Info("would send", logx.String("channel", req.ChannelID), logx.String("text", req.Text))
		return transport.SendResult{OK: true, MessageID: int(n.Add(1))}, nil
	})
}
