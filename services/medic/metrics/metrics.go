// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package metrics counts pipeline activity with Prometheus collectors.
//
// medic is a short-lived CLI, so nothing is served: the registry is
// written to a node-exporter textfile at the end of a session when a path
// is configured.
package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/AleutianAI/medic/services/medic/backend"
)

// Metrics holds the session's collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// attempts counts repair attempts by outcome
	attempts *prometheus.CounterVec

	// backendDuration tracks proposal latency
	backendDuration *prometheus.HistogramVec

	// backendErrors counts failed proposals by kind
	backendErrors *prometheus.CounterVec

	// runDuration tracks child process runs
	runDuration prometheus.Histogram

	// sessions counts sessions by final state
	sessions *prometheus.CounterVec
}

// New creates Metrics on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		attempts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "medic_attempts_total",
			Help: "Repair attempts by outcome",
		}, []string{"outcome"}),
		backendDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "medic_backend_request_duration_seconds",
			Help:    "Proposal request latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10), // 250ms to ~2m
		}, []string{"backend"}),
		backendErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "medic_backend_errors_total",
			Help: "Failed proposal requests by backend and kind",
		}, []string{"backend", "kind"}),
		runDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "medic_run_duration_seconds",
			Help:    "Wrapped command run time in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		sessions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "medic_sessions_total",
			Help: "Sessions by final state and reason",
		}, []string{"state", "reason"}),
	}
}

// Registry returns the registry holding every collector.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveAttempt counts one attempt.
func (m *Metrics) ObserveAttempt(outcome string) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(outcome).Inc()
}

// ObserveBackend records one proposal request.
func (m *Metrics) ObserveBackend(backendID string, d time.Duration, err error) {
	if m == nil {
		return
	}
	if backendID == "" {
		backendID = "unknown"
	}
	m.backendDuration.WithLabelValues(backendID).Observe(d.Seconds())
	if err != nil {
		m.backendErrors.WithLabelValues(backendID, errorKind(err)).Inc()
	}
}

// ObserveRun records one run of the wrapped command.
func (m *Metrics) ObserveRun(d time.Duration) {
	if m == nil {
		return
	}
	m.runDuration.Observe(d.Seconds())
}

// ObserveSession counts a finished session.
func (m *Metrics) ObserveSession(state, reason string) {
	if m == nil {
		return
	}
	m.sessions.WithLabelValues(state, reason).Inc()
}

// WriteTextfile writes the registry in text exposition format to path,
// replacing it atomically.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("writing metrics textfile %s: %w", path, err)
	}
	return nil
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, backend.ErrBackendUnavailable):
		return "unavailable"
	case errors.Is(err, backend.ErrBackendTimeout):
		return "timeout"
	case errors.Is(err, backend.ErrBackendInvalidResponse):
		return "invalid_response"
	default:
		return "other"
	}
}
