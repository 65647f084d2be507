package httpserver

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hivewriter/content-motor/internal/service/breaker"
	"github.com/hivewriter/content-motor/internal/service/keyring"
	"github.com/hivewriter/content-motor/internal/service/ratelimiter"
)

// Server aggregates handler dependencies.
type Server struct {
	Breakers   *breaker.Breaker
	Limiter    *ratelimiter.Limiter
	Rotator    *keyring.Rotator
	DBCheck    func(ctx context.Context) error
	RedisCheck func(ctx context.Context) error
}

// NewServer constructs the operational API server with all probes wired.
func NewServer(brk *breaker.Breaker, lim *ratelimiter.Limiter, rot *keyring.Rotator, dbCheck, redisCheck func(ctx context.Context) error) *Server {
	return &Server{Breakers: brk, Limiter: lim, Rotator: rot, DBCheck: dbCheck, RedisCheck: redisCheck}
}

// ReadyzHandler probes the database and Redis.
func (s *Server) ReadyzHandler() http.HandlerFunc {
	type check struct {
		Name    string `json:"name"`
		OK      bool   `json:"ok"`
		Details string `json:"details,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		checks := make([]check, 0, 2)
		if s.DBCheck != nil {
			if err := s.DBCheck(ctx); err != nil {
				checks = append(checks, check{Name: "db", OK: false, Details: err.Error()})
			} else {
				checks = append(checks, check{Name: "db", OK: true})
			}
		}
		if s.RedisCheck != nil {
			if err := s.RedisCheck(ctx); err != nil {
				checks = append(checks, check{Name: "redis", OK: false, Details: err.Error()})
			} else {
				checks = append(checks, check{Name: "redis", OK: true})
			}
		}
		ok := true
		for _, c := range checks {
			if !c.OK {
				ok = false
			}
		}
		status := http.StatusOK
		if !ok {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, map[string]any{"ok": ok, "checks": checks})
	}
}

// BreakersHandler lists every known breaker record and its state.
func (s *Server) BreakersHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		names, err := s.Breakers.Names(r.Context())
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		sort.Strings(names)
		statuses := make([]breaker.Status, 0, len(names))
		for _, name := range names {
			st, err := s.Breakers.Status(r.Context(), name)
			if err != nil {
				writeError(w, r, err, map[string]any{"operation": name})
				return
			}
			statuses = append(statuses, st)
		}
		writeJSON(w, http.StatusOK, map[string]any{"breakers": statuses})
	}
}

// UsageHandler reports rate limit window usage and healthy credential
// counts for one provider.
func (s *Server) UsageHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		provider := chi.URLParam(r, "provider")
		known := false
		for _, name := range s.Rotator.Providers() {
			if name == provider {
				known = true
				break
			}
		}
		if !known {
			writeJSON(w, http.StatusNotFound, errorEnvelope{Error: apiError{
				Code: "NOT_FOUND", Message: "unknown provider", Details: map[string]any{"provider": provider},
			}})
			return
		}
		usage, err := s.Limiter.Usage(r.Context(), provider)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		healthy, err := s.Rotator.HealthyCount(r.Context(), provider)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"provider":            provider,
			"windows":             usage,
			"healthy_credentials": healthy,
		})
	}
}
