// Package web provides the HTTP API for Nash uploads, the store and rate
// card registries, and the analytics handoff.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JonMunkholm/nashingest/internal/allowlist"
	"github.com/JonMunkholm/nashingest/internal/config"
	"github.com/JonMunkholm/nashingest/internal/ingest"
	"github.com/JonMunkholm/nashingest/internal/registry"
	weblog "github.com/JonMunkholm/nashingest/internal/web/middleware"
)

// ServiceName is reported by the health check.
const ServiceName = "CA Delivery Vans Analytics"

// Uploader accepts Nash CSV uploads.
type Uploader interface {
	Accept(ctx context.Context, filename string, r io.Reader) (*ingest.Accepted, *ingest.Rejected, error)
	MaxFileSize() int64
	Limiter() *ingest.Limiter
}

// StoreRegistry reads and writes the store registry.
type StoreRegistry interface {
	Snapshot() (*registry.StoreRegistry, error)
	Get(storeID string) (registry.Store, bool, error)
	Update(storeID string, u registry.StoreUpdate) (registry.Store, error)
	BulkUpdate(entries []registry.SparkEntry) (registry.BulkResult, error)
}

// RateCardRegistry reads and writes the rate card table.
type RateCardRegistry interface {
	Snapshot() (*registry.RateCardTable, error)
	Get(vendor string) (registry.RateCard, bool, error)
	Update(vendor string, u registry.RateCardUpdate) (registry.RateCard, error)
}

// Analytics runs the external analysis scripts.
type Analytics interface {
	Dashboard(ctx context.Context) (json.RawMessage, error)
	AllStores(ctx context.Context) (json.RawMessage, error)
	Store(ctx context.Context, storeID string) (json.RawMessage, error)
	Vendors(ctx context.Context) (json.RawMessage, error)
	CPDComparison(ctx context.Context) (json.RawMessage, error)
	BatchAnalysis(ctx context.Context) (json.RawMessage, error)
	Performance(ctx context.Context) (json.RawMessage, error)
	WeeklyMetrics(ctx context.Context) (json.RawMessage, error)
}

// Deps are the components the server routes to.
type Deps struct {
	Uploads   Uploader
	Stores    StoreRegistry
	RateCards RateCardRegistry
	Analytics Analytics

	// Allowlist is swapped in place by the admin reload endpoint.
	Allowlist *allowlist.Holder
}

// Server is the HTTP server.
type Server struct {
	cfg    *config.Config
	deps   Deps
	logger *slog.Logger
	router *chi.Mux
	server *http.Server

	limiters []*rateLimiter
	now      func() time.Time
}

// NewServer creates a Server with middleware and routes installed.
func NewServer(cfg *config.Config, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:    cfg,
		deps:   deps,
		logger: logger,
		router: chi.NewRouter(),
		now:    time.Now,
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(weblog.TrustedRealIP(s.cfg.Security.TrustedProxies))
	s.router.Use(weblog.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Compress(5))
	s.router.Use(middleware.Timeout(s.cfg.Server.RequestTimeout))
	s.router.Use(s.securityHeaders)

	if s.cfg.Rate.Enabled {
		s.router.Use(s.newRateLimiter(s.cfg.Rate.RequestsPerMinute, time.Minute).middleware)
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Route("/api", func(r chi.Router) {
		// Uploads and bulk writes get a tighter per-IP budget.
		heavy := func(h http.HandlerFunc) http.Handler { return h }
		if s.cfg.Rate.Enabled {
			heavy = s.newRateLimiter(s.cfg.Rate.UploadLimit, time.Minute).wrap
		}

		r.Method(http.MethodPost, "/upload", heavy(s.handleUpload))

		r.Route("/stores", func(r chi.Router) {
			r.Get("/registry", s.handleStoreRegistry)
			r.Method(http.MethodPost, "/registry/bulk", heavy(s.handleBulkSpark))
			r.Get("/{storeId}", s.handleGetStore)
			r.Put("/{storeId}", s.handleUpdateStore)
		})

		r.Route("/rate-cards", func(r chi.Router) {
			r.Get("/", s.handleRateCards)
			r.Get("/{vendor}", s.handleGetRateCard)
			r.Put("/{vendor}", s.handleUpdateRateCard)
		})

		r.Route("/analytics", func(r chi.Router) {
			r.Get("/dashboard", s.analytics(s.deps.Analytics.Dashboard))
			r.Get("/stores", s.analytics(s.deps.Analytics.AllStores))
			r.Get("/stores/{storeId}", s.handleStoreAnalysis)
			r.Get("/vendors", s.analytics(s.deps.Analytics.Vendors))
			r.Get("/cpd-comparison", s.analytics(s.deps.Analytics.CPDComparison))
			r.Get("/batch-analysis", s.analytics(s.deps.Analytics.BatchAnalysis))
			r.Get("/performance", s.analytics(s.deps.Analytics.Performance))
			r.Get("/weekly-metrics", s.analytics(s.deps.Analytics.WeeklyMetrics))
		})

		r.Route("/admin", func(r chi.Router) {
			r.Get("/allowlist", s.handleAllowlist)
			r.Post("/allowlist/reload", s.handleReloadAllowlist)
		})
	})

	s.router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeFailure(w, http.StatusNotFound, "Route not found")
	})
	s.router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeFailure(w, http.StatusMethodNotAllowed, "Method not allowed")
	})
}

// Start begins listening for HTTP requests. It returns nil after Shutdown.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.cfg.Server.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}

	s.logger.Info("starting server", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server and its background goroutines.
func (s *Server) Shutdown(ctx context.Context) error {
	for _, rl := range s.limiters {
		rl.stop()
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

// HealthResponse is the /health body. Uploads shows upload slot usage.
type HealthResponse struct {
	Status    string               `json:"status"`
	Service   string               `json:"service"`
	Timestamp string               `json:"timestamp"`
	Uploads   ingest.LimiterStatus `json:"uploads"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Service:   ServiceName,
		Timestamp: s.now().UTC().Format(time.RFC3339Nano),
		Uploads:   s.deps.Uploads.Limiter().Status(),
	})
}

// securityHeaders adds security headers to all responses.
func (s *Server) securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		if s.cfg.Security.EnableCSP {
			w.Header().Set("Content-Security-Policy", "default-src 'self'; script-src 'self' 'unsafe-inline'; style-src 'self' 'unsafe-inline'; img-src 'self' data:")
		}
		next.ServeHTTP(w, r)
	})
}

// rateLimiter is a fixed-window request counter per client IP.
type rateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rate     int
	window   time.Duration
	done     chan struct{}
	once     sync.Once
}

type visitor struct {
	tokens    int
	lastReset time.Time
}

func (s *Server) newRateLimiter(rate int, window time.Duration) *rateLimiter {
	rl := &rateLimiter{
		visitors: make(map[string]*visitor),
		rate:     rate,
		window:   window,
		done:     make(chan struct{}),
	}
	s.limiters = append(s.limiters, rl)
	go rl.cleanup()
	return rl
}

// cleanup drops visitors idle for two windows until stop is called.
func (rl *rateLimiter) cleanup() {
	ticker := time.NewTicker(rl.window)
	defer ticker.Stop()

	for {
		select {
		case <-rl.done:
			return
		case <-ticker.C:
			rl.mu.Lock()
			for ip, v := range rl.visitors {
				if time.Since(v.lastReset) > rl.window*2 {
					delete(rl.visitors, ip)
				}
			}
			rl.mu.Unlock()
		}
	}
}

func (rl *rateLimiter) stop() {
	rl.once.Do(func() { close(rl.done) })
}

// allow consumes a token for ip and reports whether the request may proceed.
func (rl *rateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, ok := rl.visitors[ip]
	if !ok || time.Since(v.lastReset) > rl.window {
		rl.visitors[ip] = &visitor{tokens: rl.rate - 1, lastReset: time.Now()}
		return true
	}
	if v.tokens <= 0 {
		return false
	}
	v.tokens--
	return true
}

func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.allow(clientIP(r)) {
			w.Header().Set("Retry-After", strconv.Itoa(int(rl.window.Seconds())))
			writeFailure(w, http.StatusTooManyRequests, "Rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (rl *rateLimiter) wrap(h http.HandlerFunc) http.Handler {
	return rl.middleware(h)
}

// clientIP strips the port from RemoteAddr, which TrustedRealIP has
// already rewritten for proxied requests.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// writeJSON encodes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode error", "error", err)
	}
}

// writeFailure writes the {success:false, error} envelope.
func writeFailure(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"success": false, "error": message})
}
