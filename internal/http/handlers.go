package http

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"ledgercache/internal/core"
	"ledgercache/internal/log"
	"ledgercache/internal/middleware/ratelimit"
	"ledgercache/internal/middleware/security"
	"ledgercache/internal/middleware/trace"
	"ledgercache/internal/services"
)

type expenseDTO struct {
	ID          int64  `json:"id"`
	Date        string `json:"date"`
	Description string `json:"description"`
	Amount      string `json:"amount"`
	Primary     string `json:"primary"`
	Secondary   string `json:"secondary,omitempty"`
}

type dayExpensesResponse struct {
	Day      string       `json:"day"`
	Known    bool         `json:"known"`
	Expenses []expenseDTO `json:"expenses"`
}

type dayBalanceResponse struct {
	Day     string `json:"day"`
	Known   bool   `json:"known"`
	Balance string `json:"balance,omitempty"`
}

type invalidateRequest struct {
	Scope string `json:"scope"`
	Day   string `json:"day,omitempty"`
}

type healthResponse struct {
	Status   string                    `json:"status"`
	Cache    services.CacheStats       `json:"cache"`
	Requests trace.Metrics             `json:"requests"`
	Security security.DetectionMetrics `json:"security"`
	Limiter  ratelimit.Metrics         `json:"rate_limit"`
}

func (s *Server) handleDayExpenses(w http.ResponseWriter, r *http.Request) {
	day, ok := s.parseDay(w, r)
	if !ok {
		return
	}
	key := core.KeyOf(day).String()

	expenses, known := s.cache.Expenses(day)
	if !known {
		writeJSON(w, r, http.StatusAccepted, dayExpensesResponse{Day: key})
		return
	}

	out := make([]expenseDTO, 0, len(expenses))
	for _, e := range expenses {
		out = append(out, expenseDTO{
			ID:          e.ID,
			Date:        core.KeyOf(e.Date.Time).String(),
			Description: e.Description,
			Amount:      e.Amount.String(),
			Primary:     e.Primary,
			Secondary:   e.Secondary,
		})
	}
	writeJSON(w, r, http.StatusOK, dayExpensesResponse{Day: key, Known: true, Expenses: out})
}

func (s *Server) handleDayBalance(w http.ResponseWriter, r *http.Request) {
	day, ok := s.parseDay(w, r)
	if !ok {
		return
	}
	key := core.KeyOf(day).String()

	balance, known := s.cache.Balance(day)
	if !known {
		writeJSON(w, r, http.StatusAccepted, dayBalanceResponse{Day: key})
		return
	}
	writeJSON(w, r, http.StatusOK, dayBalanceResponse{Day: key, Known: true, Balance: balance.StringFixed(2)})
}

func (s *Server) handlePreloadMonth(w http.ResponseWriter, r *http.Request) {
	raw := r.PathValue("month")
	month, err := time.ParseInLocation(core.MonthLayout, raw, s.cal.Local)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "month must be formatted as YYYY-MM")
		return
	}

	s.cache.PreloadMonth(month)
	log.FromContext(r.Context()).InfoContext(r.Context(), "Month preload requested",
		log.NewFields().WithOperation(log.OpPreload).WithMonth(month.Year(), int(month.Month())).ToSlice()...)

	writeJSON(w, r, http.StatusAccepted, map[string]string{"month": raw})
}

// handleInvalidate drops the whole cache, or refreshes a single day when the
// body asks for {"scope":"day","day":"2006-01-02"}. An empty body means all.
func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	req := invalidateRequest{Scope: "all"}
	body, err := io.ReadAll(io.LimitReader(r.Body, 4096))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "cannot read body")
		return
	}
	if len(strings.TrimSpace(string(body))) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}

	ctx := r.Context()
	logger := log.FromContext(ctx)

	switch req.Scope {
	case "all":
		s.cache.InvalidateAll()
		logger.InfoContext(ctx, "Cache invalidated", log.FieldOperation, log.OpInvalidate, log.FieldScope, req.Scope)
	case "day":
		key, err := core.ParseDayKey(req.Day)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "day must be formatted as YYYY-MM-DD")
			return
		}
		if err := s.cache.RefreshDay(ctx, s.cal.Day(key)); err != nil {
			logger.ErrorContext(ctx, "Failed to refresh day",
				log.NewFields().WithDay(key).WithError(err).WithOperation(log.OpRefresh).ToSlice()...)
			writeError(w, r, http.StatusBadGateway, "ledger unavailable")
			return
		}
	default:
		writeError(w, r, http.StatusBadRequest, "scope must be 'all' or 'day'")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, healthResponse{
		Status:   "ok",
		Cache:    s.cache.Stats(),
		Requests: s.tracer.GetMetrics(),
		Security: s.detector.GetMetrics(),
		Limiter:  s.limiter.GetMetrics(),
	})
}

// handleReady reports 503 while the loader is stopped, since misses would
// queue work nobody drains.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if !s.cache.IsRunning() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("loader stopped"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// parseDay reads the {day} path value as a local calendar day. On failure it
// writes a 400 and returns false.
func (s *Server) parseDay(w http.ResponseWriter, r *http.Request) (time.Time, bool) {
	day, err := time.ParseInLocation(core.DayLayout, r.PathValue("day"), s.cal.Local)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "day must be formatted as YYYY-MM-DD")
		return time.Time{}, false
	}
	return day, true
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.FromContext(r.Context()).WarnContext(r.Context(), "Failed to write response", log.FieldError, err)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeJSON(w, r, status, map[string]string{"error": msg})
}
