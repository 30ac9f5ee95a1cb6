package http

import (
	"context"
	"net/http"

	"garbanzo/internal/log"
)

func (s *Server) queryContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), s.opts.QueryTimeout)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	info, err := s.dash.Info()
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleAggregate(w http.ResponseWriter, r *http.Request) {
	req, err := parseAggregateRequest(r.URL.Query())
	if err != nil {
		writeError(w, r, err)
		return
	}
	ctx, cancel := s.queryContext(r)
	defer cancel()

	rows, err := s.dash.Aggregate(ctx, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rows": toRows(rows)})
}

func (s *Server) handleFlows(w http.ResponseWriter, r *http.Request) {
	req, err := parseFlowRequest(r.URL.Query())
	if err != nil {
		writeError(w, r, err)
		return
	}
	ctx, cancel := s.queryContext(r)
	defer cancel()

	rows, err := s.dash.Flows(ctx, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rows": toRows(rows)})
}

func (s *Server) handleIncomeExpense(w http.ResponseWriter, r *http.Request) {
	req, err := parseIncomeExpenseRequest(r.URL.Query())
	if err != nil {
		writeError(w, r, err)
		return
	}
	ctx, cancel := s.queryContext(r)
	defer cancel()

	rows, err := s.dash.IncomeExpense(ctx, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rows": toIncomeExpense(rows)})
}

func (s *Server) handleStacked(w http.ResponseWriter, r *http.Request) {
	req, err := parseStackRequest(r.URL.Query())
	if err != nil {
		writeError(w, r, err)
		return
	}
	ctx, cancel := s.queryContext(r)
	defer cancel()

	segs, err := s.dash.Stack(ctx, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"segments": toSegments(segs)})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rng, err := parseRange(q)
	if err != nil {
		writeError(w, r, err)
		return
	}
	ctx, cancel := s.queryContext(r)
	defer cancel()

	points, err := s.dash.RunningBalance(ctx, get(q, "account"), rng)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"points": toBalances(points)})
}

func (s *Server) handleAccounts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.queryContext(r)
	defer cancel()

	accounts, err := s.dash.Accounts(ctx)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"accounts": toAccounts(accounts)})
}

// handleReload re-reads the ledger now. The response says whether the
// snapshot changed.
func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	res, err := s.dash.Reload(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	log.FromContext(r.Context()).InfoContext(r.Context(), "Reload requested",
		log.FieldChecksum, res.Checksum, "changed", res.Changed)
	writeJSON(w, http.StatusOK, reloadJSON{
		Checksum:   res.Checksum,
		Postings:   res.Postings,
		SnapshotID: res.SnapshotID,
		Changed:    res.Changed,
		DurationMs: res.Duration.Milliseconds(),
	})
}
