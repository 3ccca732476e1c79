// Vigil - Audit Stream Threat Detection and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goccy/go-json"

	"github.com/tomtom215/vigil/internal/capture"
	"github.com/tomtom215/vigil/internal/config"
)

func testServer(t *testing.T, deps Deps) *httptest.Server {
	t.Helper()
	s := NewServer(":0", deps)
	ts := httptest.NewServer(s.http.Handler)
	t.Cleanup(ts.Close)
	return ts
}

func TestHealthzHealthy(t *testing.T) {
	mgr := capture.NewManager(config.CaptureConfig{QueueCapacity: 16, CaptureAlertThreshold: 0.95}, nil)
	ts := testServer(t, Deps{Capture: mgr})

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body struct {
		Status  string          `json:"status"`
		Capture *capture.Health `json:"capture"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "healthy" {
		t.Fatalf("status = %q, want healthy", body.Status)
	}
	if body.Capture == nil || body.Capture.Overall != capture.GradeHealthy {
		t.Fatalf("capture health = %+v", body.Capture)
	}
}

func TestCaptureStats(t *testing.T) {
	mgr := capture.NewManager(config.CaptureConfig{QueueCapacity: 16, CaptureAlertThreshold: 0.95}, nil)
	ts := testServer(t, Deps{Capture: mgr})

	resp, err := http.Get(ts.URL + "/api/v1/stats/capture")
	if err != nil {
		t.Fatalf("GET stats: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var stats capture.Stats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stats.Total != 0 || stats.InFlight != 0 {
		t.Fatalf("stats = %+v, want zeroes", stats)
	}
}

func TestMissingDepsReturn404(t *testing.T) {
	ts := testServer(t, Deps{})

	for _, path := range []string{
		"/api/v1/stats/capture",
		"/api/v1/stats/detection",
		"/api/v1/stats/alerting",
		"/api/v1/stats/fastpath",
		"/api/v1/capture/failed",
	} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("%s status = %d, want 404", path, resp.StatusCode)
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := testServer(t, Deps{})

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}
