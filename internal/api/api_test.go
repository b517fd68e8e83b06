package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/repository"
)

var testWindow = time.Date(2025, 10, 28, 3, 0, 0, 0, time.UTC)

func createTestServer(t *testing.T) (*Server, *repository.SQLRepository) {
	t.Helper()

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "api.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	cfg := domain.ServerConfig{
		Host:         "localhost",
		Port:         8080,
		ReadTimeout:  30,
		WriteTimeout: 30,
	}
	return NewServer(cfg, repo, nil, nil, nil, "test-v1"), repo
}

func seedAlerts(t *testing.T, repo *repository.SQLRepository) {
	t.Helper()

	alert := func(terminal string, w time.Time, score float64, sev domain.Severity) *domain.Alert {
		return &domain.Alert{
			TerminalCode:   terminal,
			WindowStart:    w,
			AnomalyType:    domain.AnomalyTypeDispensation,
			Severity:       sev,
			Score:          score,
			ModelScore:     score * 100,
			Amount:         2000000,
			ExpectedAmount: 1000000,
			DeviationSigma: 5,
			Description:    "Terminal " + terminal + " dispensed $2,000,000",
			ModelID:        "model-1",
			DetectedAt:     w.Add(time.Hour),
		}
	}

	err := repo.UpsertAlerts(context.Background(), []*domain.Alert{
		alert("T1", testWindow, 0.92, domain.SeverityCritical),
		alert("T1", testWindow.Add(15*time.Minute), 0.55, domain.SeverityMedium),
		alert("T2", testWindow, 0.75, domain.SeverityHigh),
	})
	if err != nil {
		t.Fatalf("failed to seed alerts: %v", err)
	}
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)
	return rr
}

type alertList struct {
	Alerts []domain.Alert `json:"alerts"`
	Count  int            `json:"count"`
}

func TestHealthEndpoints(t *testing.T) {
	server, _ := createTestServer(t)

	t.Run("Health", func(t *testing.T) {
		rr := get(t, server, "/health")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var resp map[string]any
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if resp["status"] != "healthy" {
			t.Errorf("expected healthy, got %v", resp["status"])
		}
		if resp["version"] != "test-v1" {
			t.Errorf("expected version test-v1, got %v", resp["version"])
		}
	})

	t.Run("Ready", func(t *testing.T) {
		rr := get(t, server, "/ready")
		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}
	})

	t.Run("NotReadyWithoutRepository", func(t *testing.T) {
		s := NewServer(domain.ServerConfig{}, nil, nil, nil, nil, "test-v1")
		rr := get(t, s, "/ready")
		if rr.Code != http.StatusServiceUnavailable {
			t.Errorf("expected status 503, got %d", rr.Code)
		}
	})

	t.Run("RequestIDPropagated", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set(RequestIDHeader, "req-123")
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if got := rr.Header().Get(RequestIDHeader); got != "req-123" {
			t.Errorf("expected request id req-123, got %q", got)
		}
		if rr.Header().Get(TraceIDHeader) == "" {
			t.Error("expected trace id header")
		}
	})
}

func TestAlertEndpoints(t *testing.T) {
	server, repo := createTestServer(t)
	seedAlerts(t, repo)

	t.Run("ListRankedByScore", func(t *testing.T) {
		rr := get(t, server, "/alerts")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp alertList
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if resp.Count != 3 {
			t.Fatalf("expected 3 alerts, got %d", resp.Count)
		}
		for i := 1; i < len(resp.Alerts); i++ {
			if resp.Alerts[i].Score > resp.Alerts[i-1].Score {
				t.Errorf("alerts not ranked by score: %v after %v", resp.Alerts[i].Score, resp.Alerts[i-1].Score)
			}
		}
	})

	tests := []struct {
		name  string
		query string
		want  int
	}{
		{"BySeverity", "?severity=critical", 1},
		{"ByTerminal", "?terminal=T1", 2},
		{"ByWindowRange", "?from=2025-10-28T03:00:00Z&to=2025-10-28T03:15:00Z", 2},
		{"WithLimit", "?limit=1", 1},
		{"NoMatch", "?terminal=T9", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := get(t, server, "/alerts"+tt.query)
			if rr.Code != http.StatusOK {
				t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
			}
			var resp alertList
			if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if resp.Count != tt.want || len(resp.Alerts) != tt.want {
				t.Errorf("expected %d alerts, got %d", tt.want, resp.Count)
			}
		})
	}

	badRequests := []struct {
		name  string
		query string
	}{
		{"InvalidSeverity", "?severity=urgent"},
		{"InvalidFrom", "?from=yesterday"},
		{"InvalidLimit", "?limit=-3"},
	}
	for _, tt := range badRequests {
		t.Run(tt.name, func(t *testing.T) {
			rr := get(t, server, "/alerts"+tt.query)
			if rr.Code != http.StatusBadRequest {
				t.Errorf("expected status 400, got %d", rr.Code)
			}
		})
	}

	t.Run("GetAlert", func(t *testing.T) {
		rr := get(t, server, "/alerts/T2/2025-10-28T03:00:00Z")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
		var a domain.Alert
		if err := json.Unmarshal(rr.Body.Bytes(), &a); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if a.TerminalCode != "T2" || a.Severity != domain.SeverityHigh {
			t.Errorf("unexpected alert: %+v", a)
		}
		if !a.WindowStart.Equal(testWindow) {
			t.Errorf("expected window %v, got %v", testWindow, a.WindowStart)
		}
	})

	t.Run("GetAlertNotFound", func(t *testing.T) {
		rr := get(t, server, "/alerts/T2/2025-10-28T04:00:00Z")
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	t.Run("GetAlertBadWindow", func(t *testing.T) {
		rr := get(t, server, "/alerts/T2/not-a-time")
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})
}

func TestBaselineEndpoint(t *testing.T) {
	server, repo := createTestServer(t)

	err := repo.SaveBaselines(context.Background(), []*domain.Baseline{{
		TerminalCode: "T1",
		Mean:         1000000,
		Std:          200000,
		Count:        96,
		ZoneRatio:    1,
		UpdatedAt:    testWindow,
	}})
	if err != nil {
		t.Fatalf("failed to save baseline: %v", err)
	}

	t.Run("Found", func(t *testing.T) {
		rr := get(t, server, "/terminals/T1/baseline")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
		var b domain.Baseline
		if err := json.Unmarshal(rr.Body.Bytes(), &b); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if b.Mean != 1000000 || b.Std != 200000 {
			t.Errorf("unexpected baseline: %+v", b)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		rr := get(t, server, "/terminals/T9/baseline")
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})
}

func TestRunsEndpoint(t *testing.T) {
	server, repo := createTestServer(t)

	for i, id := range []string{"run-1", "run-2"} {
		err := repo.SaveRun(context.Background(), &domain.RunSummary{
			ID:         id,
			Source:     "windows.csv",
			StartedAt:  testWindow.Add(time.Duration(i) * time.Hour),
			FinishedAt: testWindow.Add(time.Duration(i)*time.Hour + time.Minute),
			Alerts:     map[domain.Severity]int{domain.SeverityHigh: 1},
			Policy:     string(domain.PolicyWeighted),
		})
		if err != nil {
			t.Fatalf("failed to save run: %v", err)
		}
	}

	rr := get(t, server, "/runs?limit=1")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp struct {
		Runs  []domain.RunSummary `json:"runs"`
		Count int                 `json:"count"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Count != 1 || resp.Runs[0].ID != "run-2" {
		t.Errorf("expected most recent run-2, got %+v", resp.Runs)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	server, _ := createTestServer(t)

	get(t, server, "/alerts")
	rr := get(t, server, "/metrics")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	body, _ := io.ReadAll(rr.Body)
	want := `harrier_http_requests_total{method="GET",path="/alerts",status="200"}`
	if !strings.Contains(string(body), want) {
		t.Errorf("expected %s in metrics output", want)
	}
}
