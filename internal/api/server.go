// Vigil - Audit Stream Threat Detection and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

// Package api serves the operational HTTP surface: health, metrics, and
// read-only statistics. The product API (dashboards, event queries) lives
// outside this process.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/vigil/internal/alerting"
	"github.com/tomtom215/vigil/internal/capture"
	"github.com/tomtom215/vigil/internal/detection"
	"github.com/tomtom215/vigil/internal/fastpath"
	"github.com/tomtom215/vigil/internal/logging"
)

// Deps are the read-only views the ops surface reports on. Nil fields are
// simply omitted from responses.
type Deps struct {
	Capture  *capture.Manager
	Threats  *detection.Store
	Engine   *detection.Engine
	Alerts   *alerting.Engine
	FastPath *fastpath.Monitor
}

// Server is the ops HTTP server, supervised via Serve.
type Server struct {
	addr string
	deps Deps
	http *http.Server
}

// NewServer builds the server and its routes.
func NewServer(addr string, deps Deps) *Server {
	s := &Server{addr: addr, deps: deps}

	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(30 * time.Second))

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/stats/capture", s.handleCaptureStats)
		r.Get("/stats/detection", s.handleDetectionStats)
		r.Get("/stats/alerting", s.handleAlertingStats)
		r.Get("/stats/fastpath", s.handleFastPathStats)
		r.Get("/capture/failed", s.handleFailedEvents)
	})

	s.http = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Serve implements suture.Service: listen until the context is cancelled,
// then shut down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.http.ListenAndServe()
	}()
	logging.Info().Str("addr", s.addr).Msg("ops server listening")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.http.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return ctx.Err()
	}
}

func (s *Server) String() string { return "ops-http" }

// healthResponse aggregates per-subsystem health.
type healthResponse struct {
	Status   string          `json:"status"`
	Capture  *capture.Health `json:"capture,omitempty"`
	FastPath string          `json:"fastpath_grade,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "healthy"}

	if s.deps.Capture != nil {
		h := s.deps.Capture.Health()
		resp.Capture = &h
		switch h.Overall {
		case capture.GradeDegraded:
			resp.Status = "degraded"
		case capture.GradeOverloaded:
			resp.Status = "critical"
		}
	}
	if s.deps.FastPath != nil {
		resp.FastPath = s.deps.FastPath.Stats().Grade
	}

	code := http.StatusOK
	if resp.Status == "critical" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

func (s *Server) handleCaptureStats(w http.ResponseWriter, r *http.Request) {
	if s.deps.Capture == nil {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Capture.Stats())
}

// detectionStats merges engine and store views.
type detectionStats struct {
	Engine detection.EngineMetrics `json:"engine"`
	Store  detection.StoreStats    `json:"store"`
}

func (s *Server) handleDetectionStats(w http.ResponseWriter, r *http.Request) {
	if s.deps.Engine == nil || s.deps.Threats == nil {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, detectionStats{
		Engine: s.deps.Engine.Metrics(),
		Store:  s.deps.Threats.Stats(),
	})
}

func (s *Server) handleAlertingStats(w http.ResponseWriter, r *http.Request) {
	if s.deps.Alerts == nil {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Alerts.Stats())
}

func (s *Server) handleFastPathStats(w http.ResponseWriter, r *http.Request) {
	if s.deps.FastPath == nil {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, s.deps.FastPath.Stats())
}

func (s *Server) handleFailedEvents(w http.ResponseWriter, r *http.Request) {
	if s.deps.Capture == nil {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Capture.FailedEvents())
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error().Err(err).Msg("encode response")
	}
}
