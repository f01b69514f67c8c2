// Package web provides the JSON HTTP surface of the import service. The
// console frontend renders the snapshots served here and is never a
// source of truth.
package web

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/puavo-org/puavo-web-sub002/internal/config"
	"github.com/puavo-org/puavo-web-sub002/internal/core"
	"github.com/puavo-org/puavo-web-sub002/internal/directory"
	"github.com/puavo-org/puavo-web-sub002/internal/store"
)

// Server is the HTTP server for the import service.
type Server struct {
	service   *core.Service
	directory *directory.Client
	store     *store.Store
	cfg       *config.Config
	log       *slog.Logger
	router    *chi.Mux
	server    *http.Server
	limiter   *rateLimiter
}

// NewServer wires the handlers to the service and its collaborators.
func NewServer(service *core.Service, dir *directory.Client, st *store.Store, cfg *config.Config, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		service:   service,
		directory: dir,
		store:     st,
		cfg:       cfg,
		log:       log,
		router:    chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Compress(5))
	s.router.Use(middleware.Timeout(s.cfg.Server.RequestTimeout))

	s.router.Use(securityHeaders)

	if s.cfg.Rate.Enabled {
		s.limiter = newRateLimiter(s.cfg.Rate.RequestsPerMinute, time.Minute)
		s.router.Use(s.limiter.middleware)
	}
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		// Table state and parsing
		r.Get("/table", s.handleTableState)
		r.Post("/parse", s.handleParse)
		r.Post("/validate", s.handleValidate)
		r.Post("/table/reset", s.handleResetTable)

		// Direct table edits
		r.Post("/table/cell", s.handleEditCell)
		r.Post("/table/column/kind", s.handleSetColumnKind)
		r.Post("/table/column/insert", s.handleInsertColumn)
		r.Post("/table/column/delete", s.handleDeleteColumn)
		r.Post("/table/rows/delete", s.handleDeleteRows)
		r.Post("/table/selection", s.handleSetSelection)
		r.Post("/table/fill", s.handleFillColumn)

		// Bulk operations
		r.Post("/usernames/generate", s.handleGenerateUsernames)
		r.Post("/usernames/repairs", s.handleUsernameRepairs)
		r.Post("/usernames/resolve", s.handleResolveUsernames)
		r.Post("/passwords/generate", s.handleGeneratePasswords)
		r.Get("/groups/raw", s.handleDistinctRawGroups)
		r.Post("/groups/parse", s.handleParseGroups)

		// Import run lifecycle
		r.Post("/import/start", s.handleStartImport)
		r.Get("/import/progress", s.handleImportProgress)
		r.Post("/import/stop", s.handleStopImport)
		r.Get("/import/runs", s.handleListRuns)

		// Directory passthroughs
		r.Get("/groups", s.handleListGroups)
		r.Post("/identities/refresh", s.handleRefreshIdentities)
		r.Post("/documents", s.handleGenerateDocument)

		// Operator settings
		r.Get("/settings", s.handleGetSettings)
		r.Put("/settings", s.handleSaveSettings)
	})
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.cfg.Server.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}

	s.log.Info("server listening", "addr", s.server.Addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server and its background goroutines.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.limiter != nil {
		s.limiter.stop()
	}
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

// securityHeaders adds security headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'none'")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// rateLimiter implements a simple token bucket rate limiter per IP.
type rateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rate     int           // requests per window
	window   time.Duration // time window
	done     chan struct{}
}

type visitor struct {
	tokens    int
	lastReset time.Time
}

// newRateLimiter creates a rate limiter with the specified rate per window.
func newRateLimiter(rate int, window time.Duration) *rateLimiter {
	rl := &rateLimiter{
		visitors: make(map[string]*visitor),
		rate:     rate,
		window:   window,
		done:     make(chan struct{}),
	}
	go rl.cleanup()
	return rl
}

// cleanup removes stale visitor entries every minute until stop is called.
func (rl *rateLimiter) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-rl.done:
			return
		case <-ticker.C:
			rl.prune()
		}
	}
}

// prune drops visitors that have been idle for two full windows.
func (rl *rateLimiter) prune() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for ip, v := range rl.visitors {
		if time.Since(v.lastReset) > rl.window*2 {
			delete(rl.visitors, ip)
		}
	}
}

// stop terminates the cleanup goroutine. Must be called at most once.
func (rl *rateLimiter) stop() {
	close(rl.done)
}

// allow checks if the request should be allowed and consumes a token if so.
func (rl *rateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, exists := rl.visitors[ip]
	if !exists {
		rl.visitors[ip] = &visitor{
			tokens:    rl.rate - 1,
			lastReset: time.Now(),
		}
		return true
	}

	if time.Since(v.lastReset) > rl.window {
		v.tokens = rl.rate - 1
		v.lastReset = time.Now()
		return true
	}

	if v.tokens <= 0 {
		return false
	}

	v.tokens--
	return true
}

// middleware returns an HTTP middleware that rate limits by IP.
func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := r.RemoteAddr
		if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
			ip = realIP
		}

		if !rl.allow(ip) {
			w.Header().Set("Retry-After", "60")
			http.Error(w, `{"error":"rate limit exceeded"}`, http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}
