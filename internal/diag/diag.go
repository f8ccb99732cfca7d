package diag

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"tickrun/internal/config"
	"tickrun/internal/eventbus"
	"tickrun/internal/runtime/supervisor"
	"tickrun/internal/sched"
	"tickrun/internal/trace"
	"tickrun/pkg/logx"
)

const defaultAddr = "127.0.0.1:8372"

// Config controls the diagnostics HTTP server.
//
// Security:
//   - Prefer binding to localhost (default).
//   - If binding to a non-loopback address, set Token or enable AllowInsecure.
type Config struct {
	Enabled       bool
	Addr          string
	Token         string
	AllowInsecure bool
	Pprof         bool

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// Sources are the read-only views the handlers serve. Any of them may be
// nil; the corresponding section is omitted or the endpoint returns
// an empty payload.
type Sources struct {
	Scheduler  func() sched.Snapshot
	Bus        func() eventbus.Stats
	Supervisor func() supervisor.SupervisorSnapshot
	Trace      func() trace.RecorderStats
	Recent     func(limit int) []trace.Record
	Config     func() config.Config
}

// Server is the diagnostics endpoint. Start/Stop/Reconfigure are safe to
// call from the reload path at any time.
type Server struct {
	mu  sync.Mutex
	log logx.Logger
	cfg Config
	src Sources

	ln   net.Listener
	srv  *http.Server
	done chan struct{}
}

func New(cfg Config, src Sources, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{cfg: cfg, src: src, log: log}
}

// Addr reports the live listen address ("" when not running). Useful when
// the config asked for port 0.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Reconfigure applies cfg and starts/stops/restarts the server if needed.
// Safe to call during hot-reload.
func (s *Server) Reconfigure(ctx context.Context, cfg Config) {
	s.mu.Lock()
	prev := s.cfg
	running := s.srv != nil
	s.cfg = cfg
	s.mu.Unlock()

	switch {
	case !cfg.Enabled:
		if running {
			s.Stop(ctx)
		}
	case !running:
		if err := s.Start(ctx); err != nil {
			s.log.Error("diag start failed", logx.Err(err))
		}
	case needsRestart(prev, cfg):
		s.Stop(ctx)
		if err := s.Start(ctx); err != nil {
			s.log.Error("diag restart failed", logx.Err(err))
		}
	}
}

func needsRestart(a, b Config) bool {
	return a.Addr != b.Addr ||
		a.Token != b.Token ||
		a.AllowInsecure != b.AllowInsecure ||
		a.Pprof != b.Pprof ||
		a.ReadTimeout != b.ReadTimeout ||
		a.WriteTimeout != b.WriteTimeout ||
		a.IdleTimeout != b.IdleTimeout
}

// Start is idempotent; a second call while running is a no-op.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.srv != nil {
		return nil
	}
	cfg := s.cfg
	if !cfg.Enabled {
		return nil
	}

	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		addr = defaultAddr
	}
	// Prevent accidental public exposure without auth.
	if !cfg.AllowInsecure && cfg.Token == "" && !isLoopbackAddr(addr) {
		return fmt.Errorf("diag refused to start: non-loopback addr %s requires token or allow_insecure", addr)
	}
	if cfg.AllowInsecure && cfg.Token == "" && !isLoopbackAddr(addr) {
		s.log.Warn("diag running without token on non-loopback addr (insecure)", logx.String("addr", addr))
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("diag listen: %w", err)
	}

	srv := &http.Server{
		Handler:     s.routes(cfg),
		ReadTimeout: orDefault(cfg.ReadTimeout, 5*time.Second),
		// WriteTimeout stays 0 unless set: pprof profile captures run 30s+.
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  orDefault(cfg.IdleTimeout, 60*time.Second),
	}

	done := make(chan struct{})
	s.ln, s.srv, s.done = ln, srv, done

	log := s.log
	go func() {
		defer close(done)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("diag server exited", logx.Err(err))
		}
	}()

	s.log.Info("diag started",
		logx.String("addr", ln.Addr().String()),
		logx.Bool("token_set", cfg.Token != ""),
		logx.Bool("pprof", cfg.Pprof),
	)
	return nil
}

// Stop shuts the server down gracefully, bounded by ctx.
func (s *Server) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	srv, ln, done := s.srv, s.ln, s.done
	s.srv, s.ln, s.done = nil, nil, nil
	s.mu.Unlock()

	if srv == nil {
		return
	}
	_ = srv.Shutdown(ctx)
	_ = srv.Close()
	if ln != nil {
		_ = ln.Close()
	}
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
		}
	}
	s.log.Info("diag stopped")
}

func orDefault(d, def time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return def
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if h == "" {
		// empty host means all interfaces
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	if ip == nil {
		return false
	}
	return ip.IsLoopback()
}
