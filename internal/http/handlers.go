package http

import (
	"context"
	"fmt"
	"html/template"
	"net/http"
	"sort"
	"time"

	"garbanzo/internal/aggregate"
	"garbanzo/internal/log"
	"garbanzo/internal/services"
)

var templateFuncs = template.FuncMap{
	"shortsum": func(s string) string {
		if len(s) > 12 {
			return s[:12]
		}
		return s
	},
}

// handleHealth performs basic liveness check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
		"uptime":    time.Since(s.started).Round(time.Second).String(),
	})
}

// handleReady reports ready once a snapshot has been loaded.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]any)
	status, httpStatus := "ready", http.StatusOK

	if s.templates == nil {
		checks["templates"] = "failed: templates not loaded"
		status, httpStatus = "not_ready", http.StatusServiceUnavailable
	} else {
		checks["templates"] = "ok"
	}

	if info, err := s.dash.Info(); err != nil {
		checks["snapshot"] = err.Error()
		status, httpStatus = "not_ready", http.StatusServiceUnavailable
	} else {
		checks["snapshot"] = map[string]any{
			"checksum":  info.Checksum,
			"postings":  info.Postings,
			"loaded_at": info.LoadedAt.Format(time.RFC3339),
		}
	}

	checks["rate_limiter"] = map[string]any{
		"active_clients": s.reloadLimiter.ActiveClients(),
		"status":         "ok",
	}

	writeJSON(w, httpStatus, map[string]any{
		"status":    status,
		"timestamp": time.Now().Format(time.RFC3339),
		"checks":    checks,
	})
}

// handleMetrics provides request, cache and security counters in a
// Prometheus-like text format.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)

	traceMetrics := s.tracer.GetMetrics()
	fmt.Fprintf(w, "# HELP http_requests_total Total number of HTTP requests\n")
	fmt.Fprintf(w, "# TYPE http_requests_total counter\n")
	fmt.Fprintf(w, "http_requests_total %d\n\n", traceMetrics.TotalRequests)

	fmt.Fprintf(w, "# HELP http_response_time_avg_us Average response time in microseconds\n")
	fmt.Fprintf(w, "# TYPE http_response_time_avg_us gauge\n")
	fmt.Fprintf(w, "http_response_time_avg_us %d\n\n", traceMetrics.AverageResponseTime)

	stats := s.dash.CacheStats()
	names := make([]string, 0, len(stats))
	for name := range stats {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintf(w, "# HELP cache_hits_total Total cache hits\n")
	fmt.Fprintf(w, "# TYPE cache_hits_total counter\n")
	for _, name := range names {
		fmt.Fprintf(w, "cache_hits_total{cache=%q} %d\n", name, stats[name].Hits)
	}
	fmt.Fprintf(w, "\n# HELP cache_misses_total Total cache misses\n")
	fmt.Fprintf(w, "# TYPE cache_misses_total counter\n")
	for _, name := range names {
		fmt.Fprintf(w, "cache_misses_total{cache=%q} %d\n", name, stats[name].Misses)
	}
	fmt.Fprintf(w, "\n# HELP cache_entries Current cache entries\n")
	fmt.Fprintf(w, "# TYPE cache_entries gauge\n")
	for _, name := range names {
		fmt.Fprintf(w, "cache_entries{cache=%q} %d\n", name, stats[name].Size)
	}

	fmt.Fprintf(w, "\n# HELP rate_limit_hits_total Total rate limit hits\n")
	fmt.Fprintf(w, "# TYPE rate_limit_hits_total counter\n")
	fmt.Fprintf(w, "rate_limit_hits_total %d\n\n", s.reloadLimiter.GetMetrics().TotalHits)

	fmt.Fprintf(w, "# HELP suspicious_requests_total Requests matching attack patterns\n")
	fmt.Fprintf(w, "# TYPE suspicious_requests_total counter\n")
	fmt.Fprintf(w, "suspicious_requests_total %d\n\n", s.detector.GetMetrics().SuspiciousRequests)

	if info, err := s.dash.Info(); err == nil {
		fmt.Fprintf(w, "# HELP ledger_postings Postings in the served snapshot\n")
		fmt.Fprintf(w, "# TYPE ledger_postings gauge\n")
		fmt.Fprintf(w, "ledger_postings %d\n", info.Postings)
	}
}

// handleIndex renders the income statement of the current snapshot.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if s.templates == nil {
		log.FromContext(ctx).ErrorContext(ctx, "Templates not loaded", log.FieldPath, r.URL.Path)
		http.Error(w, "templates not loaded", http.StatusInternalServerError)
		return
	}

	data := struct {
		Info  services.SnapshotInfo
		Rows  []aggregate.IncomeExpenseRow
		Error string
	}{}

	info, err := s.dash.Info()
	if err == nil {
		data.Info = info
		qctx, cancel := context.WithTimeout(ctx, s.opts.QueryTimeout)
		defer cancel()
		data.Rows, err = s.dash.IncomeExpense(qctx, services.IncomeExpenseRequest{})
	}
	if err != nil {
		log.FromContext(ctx).WarnContext(ctx, "Index without data", log.FieldError, err)
		data.Error = err.Error()
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.templates.ExecuteTemplate(w, "index.html", data); err != nil {
		log.FromContext(ctx).ErrorContext(ctx, "Index template execution failed",
			log.FieldError, err, log.FieldOperation, log.OpRender)
		http.Error(w, "template error", http.StatusInternalServerError)
	}
}
