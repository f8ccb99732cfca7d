package diag

import (
	"net/http"
	hpprof "net/http/pprof"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"tickrun/internal/config"
	"tickrun/internal/eventbus"
	"tickrun/internal/runtime/supervisor"
	"tickrun/internal/sched"
	"tickrun/internal/trace"
)

const (
	defaultTraceLimit = 50
	maxTraceLimit     = 500
)

func (s *Server) routes(cfg Config) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// Liveness stays open so probes work without credentials.
	r.Get("/healthz", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(bearerAuth(cfg.Token))

		r.Route("/api/v1", func(r chi.Router) {
			r.Get("/snapshot", s.handleSnapshot)
			r.Get("/trace", s.handleTrace)
			r.Get("/config", s.handleConfig)
		})

		if cfg.Pprof {
			r.Route("/debug/pprof", func(r chi.Router) {
				r.Get("/", hpprof.Index)
				r.Get("/cmdline", hpprof.Cmdline)
				r.Get("/profile", hpprof.Profile)
				r.Get("/symbol", hpprof.Symbol)
				r.Get("/trace", hpprof.Trace)
				r.Get("/{profile}", func(w http.ResponseWriter, req *http.Request) {
					hpprof.Handler(chi.URLParam(req, "profile")).ServeHTTP(w, req)
				})
			})
		}
	})
	return r
}

// bearerAuth admits requests carrying the token as "Authorization: Bearer
// <token>" or "?token=<token>". An empty configured token disables the
// check (loopback-only binds get there via the Start guard).
func bearerAuth(token string) func(http.Handler) http.Handler {
	tok := strings.TrimSpace(token)
	return func(next http.Handler) http.Handler {
		if tok == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if got := r.URL.Query().Get("token"); got != "" {
				if got == tok {
					next.ServeHTTP(w, r)
					return
				}
				unauthorized(w)
				return
			}
			if ah := r.Header.Get("Authorization"); ah != "" {
				const p = "Bearer "
				if strings.HasPrefix(ah, p) && strings.TrimSpace(strings.TrimPrefix(ah, p)) == tok {
					next.ServeHTTP(w, r)
					return
				}
			}
			unauthorized(w)
		})
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type snapshotPayload struct {
	Scheduler  *sched.Snapshot                `json:"scheduler,omitempty"`
	Bus        *eventbus.Stats                `json:"bus,omitempty"`
	Supervisor *supervisor.SupervisorSnapshot `json:"supervisor,omitempty"`
	Trace      *trace.RecorderStats           `json:"trace,omitempty"`
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	var p snapshotPayload
	if s.src.Scheduler != nil {
		snap := s.src.Scheduler()
		p.Scheduler = &snap
	}
	if s.src.Bus != nil {
		stats := s.src.Bus()
		p.Bus = &stats
	}
	if s.src.Supervisor != nil {
		snap := s.src.Supervisor()
		p.Supervisor = &snap
	}
	if s.src.Trace != nil {
		stats := s.src.Trace()
		p.Trace = &stats
	}
	respondOK(w, p)
}

func (s *Server) handleTrace(w http.ResponseWriter, r *http.Request) {
	limit := defaultTraceLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	if limit > maxTraceLimit {
		limit = maxTraceLimit
	}

	records := []trace.Record{}
	if s.src.Recent != nil {
		records = s.src.Recent(limit)
	}
	respondOK(w, map[string]any{
		"count":   len(records),
		"records": records,
	})
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	if s.src.Config == nil {
		respondError(w, http.StatusNotFound, "config source not wired")
		return
	}
	cfg := s.src.Config()
	tokenSet := cfg.Diag != nil && cfg.Diag.Token != ""
	respondOK(w, map[string]any{
		"config":    redact(cfg),
		"token_set": tokenSet,
	})
}

// redact strips secrets and shrinks filesystem paths to basenames; the
// config endpoint shows shape, not deployment layout.
func redact(cfg config.Config) config.Config {
	cfg.Logging.File.Path = baseOrEmpty(cfg.Logging.File.Path)
	if cfg.Trace != nil {
		t := *cfg.Trace
		t.Path = baseOrEmpty(t.Path)
		cfg.Trace = &t
	}
	if cfg.Diag != nil {
		d := *cfg.Diag
		d.Token = ""
		cfg.Diag = &d
	}
	return cfg
}

func baseOrEmpty(p string) string {
	if p == "" {
		return ""
	}
	return filepath.Base(p)
}
