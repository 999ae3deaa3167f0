// Package http exposes the day cache over a small JSON API.
package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"ledgercache/internal/core"
	"ledgercache/internal/log"
	"ledgercache/internal/middleware/ratelimit"
	"ledgercache/internal/middleware/security"
	"ledgercache/internal/middleware/trace"
	"ledgercache/internal/services"
)

// DayCache is the part of the cache facade the API serves.
type DayCache interface {
	Expenses(day time.Time) ([]core.Expense, bool)
	Balance(day time.Time) (decimal.Decimal, bool)
	PreloadMonth(day time.Time)
	RefreshDay(ctx context.Context, day time.Time) error
	InvalidateAll()
	Stats() services.CacheStats
	IsRunning() bool
}

type Server struct {
	http.Server
	cache    DayCache
	cal      core.Calendar
	logger   *log.Logger
	tracer   *trace.Middleware
	detector *security.Detector
	limiter  *ratelimit.Limiter

	shutdownOnce sync.Once
}

// Options tunes the middleware stack. Zero values use defaults.
type Options struct {
	AdminRequestsPerMinute int
}

// NewServer configures routes and middleware, returning a ready-to-run http.Server.
func NewServer(addr string, cache DayCache, cal core.Calendar, logger *log.Logger, opts Options) *Server {
	if logger == nil {
		logger = log.FromSlog(nil, log.ComponentHTTP)
	}
	logger = logger.WithComponent(log.ComponentHTTP)
	cal = core.NewCalendar(cal.Local, cal.Reference)

	detector := security.NewDetector()
	s := &Server{
		cache:    cache,
		cal:      cal,
		logger:   logger,
		tracer:   trace.NewMiddleware(detector.ExtractClientIP),
		detector: detector,
		limiter:  ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: opts.AdminRequestsPerMinute}),
	}

	// Mutating endpoints are rate limited per client.
	admin := s.limiter.Middleware(detector.ExtractClientIP, func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusTooManyRequests, "rate limit exceeded")
	})

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("GET /api/days/{day}/expenses", s.handleDayExpenses)
	mux.HandleFunc("GET /api/days/{day}/balance", s.handleDayBalance)
	mux.Handle("POST /api/months/{month}/preload", admin(http.HandlerFunc(s.handlePreloadMonth)))
	mux.Handle("POST /api/cache/invalidate", admin(http.HandlerFunc(s.handleInvalidate)))

	var handler http.Handler = mux
	handler = security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware(handler)
	handler = detector.Middleware(handler)
	handler = s.tracer.Middleware(handler)
	handler = log.Middleware(logger)(handler)

	s.Server = http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Shutdown gracefully shuts down the server and its cleanup routines
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})

	return shutdownErr
}
