// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ops serves the operational HTTP surface: liveness, readiness,
// and Prometheus metrics. It is boundary scaffolding for operators, not
// a product API.
package ops

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/AleutianForge/services/forge/health"
	"github.com/AleutianAI/AleutianForge/services/forge/scheduler"
	"github.com/AleutianAI/AleutianForge/services/forge/telemetry"
)

// HealthSource supplies the latest feedback-loop report.
type HealthSource interface {
	LastReport() health.FeedbackLoopReport
}

// Server is the ops HTTP server.
type Server struct {
	addr    string
	logger  *slog.Logger
	httpSrv *http.Server
}

// Options wires the ops endpoints to live components.
type Options struct {
	// Addr is the listen address.
	Addr string

	// Health supplies /healthz; required.
	Health HealthSource

	// Gate supplies /readyz; required.
	Gate scheduler.AdmissionGate

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// NewServer builds the router and endpoints. Call Start to listen.
func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("forge-ops"))

	router.GET("/healthz", func(c *gin.Context) {
		report := opts.Health.LastReport()
		status := http.StatusOK
		if report.OverallStatus == health.OverallUnknown || report.OverallStatus == "" {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, report)
	})

	router.GET("/readyz", func(c *gin.Context) {
		if opts.Gate != nil && opts.Gate.Admit() {
			c.JSON(http.StatusOK, gin.H{"ready": true})
			return
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{"ready": false})
	})

	// promhttp handler is nil when the Prometheus exporter is disabled.
	if handler := telemetry.MetricsHandler(); handler != nil {
		router.GET("/metrics", gin.WrapH(handler))
	}

	return &Server{
		addr:   opts.Addr,
		logger: opts.Logger,
		httpSrv: &http.Server{
			Addr:              opts.Addr,
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start listens in a background goroutine and returns immediately.
func (s *Server) Start() {
	go func() {
		s.logger.Info("ops server listening", slog.String("addr", s.addr))
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("ops server failed", slog.String("error", err.Error()))
		}
	}()
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}
