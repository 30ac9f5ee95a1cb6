// Package http serves the dashboard page and the JSON aggregate API.
package http

import (
	"context"
	"html/template"
	"io/fs"
	"net/http"
	"sync"
	"time"

	"garbanzo/internal/aggregate"
	"garbanzo/internal/cache"
	"garbanzo/internal/core"
	"garbanzo/internal/log"
	"garbanzo/internal/middleware/ratelimit"
	"garbanzo/internal/middleware/security"
	"garbanzo/internal/middleware/trace"
	"garbanzo/internal/services"
	appweb "garbanzo/web"
)

// Dashboard is the query side the handlers need. *services.DashboardService
// implements it.
type Dashboard interface {
	Aggregate(ctx context.Context, req services.AggregateRequest) ([]aggregate.Row, error)
	Flows(ctx context.Context, req services.FlowRequest) ([]aggregate.Row, error)
	IncomeExpense(ctx context.Context, req services.IncomeExpenseRequest) ([]aggregate.IncomeExpenseRow, error)
	Stack(ctx context.Context, req services.StackRequest) ([]aggregate.Segment, error)
	RunningBalance(ctx context.Context, account string, r services.Range) ([]aggregate.BalancePoint, error)
	Accounts(ctx context.Context) ([]core.AccountSummary, error)
	Reload(ctx context.Context) (services.ReloadResult, error)
	Info() (services.SnapshotInfo, error)
	Ready() bool
	CacheStats() map[string]cache.Stats
}

var _ Dashboard = (*services.DashboardService)(nil)

// Options tunes the server. Zero values use defaults.
type Options struct {
	// ReloadsPerMinute caps POST /api/reload per client IP (default 6).
	ReloadsPerMinute int
	// QueryTimeout bounds a single API query (default 10s).
	QueryTimeout time.Duration
}

type Server struct {
	http.Server
	templates *template.Template
	dash      Dashboard
	logger    *log.Logger
	opts      Options

	reloadLimiter *ratelimit.Limiter
	detector      *security.Detector
	tracer        *trace.Middleware
	started       time.Time

	shutdownOnce sync.Once
}

// NewServer configures routes and templates, returning a ready-to-run http.Server.
func NewServer(addr string, dash Dashboard, logger *log.Logger, opts Options) *Server {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	logger = logger.WithComponent(log.ComponentHTTP)
	if opts.ReloadsPerMinute <= 0 {
		opts.ReloadsPerMinute = 6
	}
	if opts.QueryTimeout <= 0 {
		opts.QueryTimeout = 10 * time.Second
	}

	s := &Server{
		dash:          dash,
		logger:        logger,
		opts:          opts,
		reloadLimiter: ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: opts.ReloadsPerMinute}),
		detector:      security.NewDetector(),
		started:       time.Now(),
	}
	s.tracer = trace.NewMiddleware(logger, s.detector.ExtractClientIP)

	t, err := template.New("").Funcs(templateFuncs).ParseFS(appweb.TemplatesFS, "templates/*.html")
	if err != nil {
		logger.Warn("Failed parsing templates", log.FieldError, err)
	}
	s.templates = t

	mux := http.NewServeMux()
	if sub, err := fs.Sub(appweb.StaticFS, "static"); err == nil {
		static := http.StripPrefix("/static/", http.FileServer(http.FS(sub)))
		mux.Handle("GET /static/", security.StaticAssetMiddleware(3600)(static))
	} else {
		logger.Warn("Failed to mount embedded static FS", log.FieldError, err)
	}

	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("GET /metrics", s.handleMetrics)

	mux.HandleFunc("GET /api/snapshot", s.handleSnapshot)
	mux.HandleFunc("GET /api/aggregate", s.handleAggregate)
	mux.HandleFunc("GET /api/flows", s.handleFlows)
	mux.HandleFunc("GET /api/income-expense", s.handleIncomeExpense)
	mux.HandleFunc("GET /api/stacked", s.handleStacked)
	mux.HandleFunc("GET /api/balance", s.handleBalance)
	mux.HandleFunc("GET /api/accounts", s.handleAccounts)
	reload := log.ComponentMiddleware(log.ComponentLedger)(http.HandlerFunc(s.handleReload))
	mux.Handle("POST /api/reload", s.reloadLimiter.Middleware(s.detector.ExtractClientIP, s.onReloadLimited)(reload))

	headers := security.NewHeadersMiddleware(security.DefaultHeadersConfig())
	var h http.Handler = mux
	h = headers.Middleware(h)
	h = s.detector.Middleware(logger)(h)
	h = s.tracer.Middleware(h)
	h = log.Middleware(logger)(h)

	s.Server = http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Shutdown gracefully shuts down the server and cleanup routines
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.reloadLimiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

func (s *Server) onReloadLimited(w http.ResponseWriter, r *http.Request) {
	log.FromContext(r.Context()).WarnContext(r.Context(), "Reload rate limit exceeded",
		log.FieldClientIP, s.detector.ExtractClientIP(r))
	w.Header().Set("Retry-After", "60")
	writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "reload rate limit exceeded, try again later"})
}
