// Package status serves a small local HTTP API: liveness, the latest scan
// result with scheduler state, a manual scan trigger and optional pprof.
//
//	GET  /healthz
//	GET  /v1/status
//	POST /v1/scan
//	     /debug/*   (when pprof is enabled)
package status

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"deadlinebot/internal/scheduler"
	logx "deadlinebot/pkg/logx"
)

const DefaultAddr = "127.0.0.1:8087"

var ErrInsecureBind = errors.New("status: non-loopback addr requires token or allow_insecure")

type Config struct {
	Addr          string
	Token         string
	AllowInsecure bool
	Pprof         bool
}

// Scheduler is the part of scheduler.Service the API needs.
type Scheduler interface {
	Snapshot() scheduler.Snapshot
	Trigger(reason string) bool
}

// Response is the /v1/status body.
type Response struct {
	StartedAt time.Time          `json:"started_at"`
	Uptime    string             `json:"uptime"`
	Scheduler scheduler.Snapshot `json:"scheduler"`
	Runtime   any                `json:"runtime,omitempty"`
}

type Server struct {
	cfg     Config
	sched   Scheduler
	runtime func() any
	log     logx.Logger
	started time.Time
	router  chi.Router
}

type Option func(*Server)

// WithRuntime adds extra state (e.g. supervisor stats) under "runtime".
func WithRuntime(fn func() any) Option { return func(s *Server) { s.runtime = fn } }

func New(cfg Config, sched Scheduler, log logx.Logger, opts ...Option) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = DefaultAddr
	}
	s := &Server{cfg: cfg, sched: sched, log: log, started: time.Now()}
	for _, o := range opts {
		o(s)
	}
	s.router = s.routes()
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware(s.cfg.Token))
		r.Route("/v1", func(r chi.Router) {
			r.Get("/status", s.handleStatus)
			r.Post("/scan", s.handleScan)
		})
		if s.cfg.Pprof {
			r.Mount("/debug", middleware.Profiler())
		}
	})
	return r
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := Response{
		StartedAt: s.started,
		Uptime:    time.Since(s.started).Round(time.Second).String(),
		Scheduler: s.sched.Snapshot(),
	}
	if s.runtime != nil {
		resp.Runtime = s.runtime()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleScan(w http.ResponseWriter, _ *http.Request) {
	if s.sched.Snapshot().Running {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "scan already running"})
		return
	}
	go s.sched.Trigger("api")
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "scan started"})
}

// Run listens and serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	addr := s.cfg.Addr
	if !s.cfg.AllowInsecure && s.cfg.Token == "" && !IsLoopbackAddr(addr) {
		return ErrInsecureBind
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()

	s.log.Info("status server listening",
		logx.String("addr", ln.Addr().String()),
		logx.Bool("token_set", s.cfg.Token != ""),
		logx.Bool("pprof", s.cfg.Pprof))
	err = srv.Serve(ln)
	if ctx.Err() != nil {
		<-stopped
		return nil
	}
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return errors.New("status server exited unexpectedly")
	}
	return err
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("http request",
			logx.String("method", r.Method),
			logx.String("path", r.URL.Path),
			logx.Int("status", ww.Status()),
			logx.Duration("took", time.Since(start)),
			logx.String("request_id", middleware.GetReqID(r.Context())))
	})
}

// authMiddleware accepts "Authorization: Bearer <token>" or ?token=<token>.
// An empty token disables the check.
func authMiddleware(token string) func(http.Handler) http.Handler {
	tok := strings.TrimSpace(token)
	return func(next http.Handler) http.Handler {
		if tok == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.URL.Query().Get("token")
			if got == "" {
				if ah := r.Header.Get("Authorization"); strings.HasPrefix(ah, "Bearer ") {
					got = strings.TrimSpace(strings.TrimPrefix(ah, "Bearer "))
				}
			}
			if subtle.ConstantTimeCompare([]byte(got), []byte(tok)) != 1 {
				w.Header().Set("WWW-Authenticate", "Bearer")
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// IsLoopbackAddr reports whether a host:port binds only to loopback. An
// empty host means all interfaces.
func IsLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
