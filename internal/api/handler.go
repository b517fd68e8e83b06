// Package api provides the read-only HTTP API for Harrier alerts, baselines and runs.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-finance/harrier/internal/domain"
)

// MaxAlertLimit caps the limit query parameter.
const MaxAlertLimit = 1000

// Handler contains HTTP handlers for the API.
type Handler struct {
	repo      domain.Repository
	baselines domain.BaselineReader
	cache     domain.Cache
	bus       domain.EventBus
	version   string
}

// NewHandler creates a new API handler. baselines, cache and bus may be nil.
func NewHandler(repo domain.Repository, baselines domain.BaselineReader, cache domain.Cache, bus domain.EventBus, version string) *Handler {
	return &Handler{
		repo:      repo,
		baselines: baselines,
		cache:     cache,
		bus:       bus,
		version:   version,
	}
}

// Health returns the health status of the service.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	checks := map[string]string{}

	if h.repo != nil {
		checks["repository"] = "ok"
		if err := h.repo.Ping(r.Context()); err != nil {
			checks["repository"] = err.Error()
			status = "degraded"
		}
	}

	if h.cache != nil {
		checks["cache"] = "ok"
		if err := h.cache.Ping(r.Context()); err != nil {
			checks["cache"] = err.Error()
			status = "degraded"
		}
	}

	if h.bus != nil {
		checks["bus"] = "ok"
		if err := h.bus.Ping(r.Context()); err != nil {
			checks["bus"] = err.Error()
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  status,
		"version": h.version,
		"checks":  checks,
	})
}

// Ready returns 200 once the repository answers, 503 otherwise.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return
	}
	if err := h.repo.Ping(r.Context()); err != nil {
		slog.Warn("readiness check failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, "repository not reachable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// ListAlerts returns alerts ranked by score, highest first.
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.AlertFilter{TerminalCode: q.Get("terminal")}

	if s := q.Get("severity"); s != "" {
		sev, ok := domain.ParseSeverity(s)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid severity: "+s)
			return
		}
		filter.Severity = sev
	}

	var err error
	if filter.From, err = parseTime(q.Get("from")); err != nil {
		writeError(w, http.StatusBadRequest, "invalid from: expected RFC3339")
		return
	}
	if filter.To, err = parseTime(q.Get("to")); err != nil {
		writeError(w, http.StatusBadRequest, "invalid to: expected RFC3339")
		return
	}

	if l := q.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = min(n, MaxAlertLimit)
	}

	alerts, err := h.repo.ListAlerts(r.Context(), filter)
	if err != nil {
		slog.Error("failed to list alerts", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list alerts")
		return
	}
	if alerts == nil {
		alerts = []*domain.Alert{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

// GetAlert returns the alert of one (terminal, window).
func (h *Handler) GetAlert(w http.ResponseWriter, r *http.Request) {
	terminal := chi.URLParam(r, "terminal")
	window, err := time.Parse(time.RFC3339, chi.URLParam(r, "window"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid window: expected RFC3339")
		return
	}

	alert, err := h.repo.GetAlert(r.Context(), terminal, window)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "alert not found")
		return
	}
	if err != nil {
		slog.Error("failed to get alert", "terminal", terminal, "window", window, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get alert")
		return
	}

	writeJSON(w, http.StatusOK, alert)
}

// GetBaseline returns the current baseline of a terminal.
func (h *Handler) GetBaseline(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	var (
		b   *domain.Baseline
		err error
	)
	if h.baselines != nil {
		b, err = h.baselines.Baseline(r.Context(), code)
	} else {
		b, err = h.repo.GetBaseline(r.Context(), code)
		if errors.Is(err, domain.ErrNotFound) {
			b, err = nil, nil
		}
	}
	if err != nil {
		slog.Error("failed to get baseline", "terminal", code, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get baseline")
		return
	}
	if b == nil {
		writeError(w, http.StatusNotFound, "baseline not found")
		return
	}

	writeJSON(w, http.StatusOK, b)
}

// ListRuns returns the most recent scoring runs.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	runs, err := h.repo.ListRuns(r.Context(), limit)
	if err != nil {
		slog.Error("failed to list runs", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	if runs == nil {
		runs = []*domain.RunSummary{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"runs":  runs,
		"count": len(runs),
	})
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
