// Copyright 2024 Korena Digital Solutions
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metrics exposes Prometheus collectors for the request pipelines
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "korena"

// Metrics groups the collectors shared by handlers and pipelines.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
	rateLimitResults *prometheus.CounterVec
	retrievalMatches prometheus.Histogram
	inferenceResults *prometheus.CounterVec
	leadAttempts     *prometheus.CounterVec
	leadResults      *prometheus.CounterVec
}

// New registers all collectors on a fresh registry
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: registry,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		rateLimitResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_decisions_total",
			Help:      "Rate limiter decisions by limiter and outcome (allowed, rejected, fail_open).",
		}, []string{"limiter", "outcome"}),
		retrievalMatches: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieval_matches",
			Help:      "Number of knowledge base matches returned per chat request.",
			Buckets:   []float64{0, 1, 2, 3, 4, 5},
		}),
		inferenceResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inference_calls_total",
			Help:      "Inference calls by kind (chat, speech) and outcome.",
		}, []string{"kind", "outcome"}),
		leadAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lead_webhook_attempts_total",
			Help:      "Webhook delivery attempts by outcome.",
		}, []string{"outcome"}),
		leadResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lead_submissions_total",
			Help:      "Lead submissions by final result (delivered, invalid, failed, unconfigured).",
		}, []string{"result"}),
	}

	registry.MustRegister(
		m.httpRequests,
		m.httpDuration,
		m.rateLimitResults,
		m.retrievalMatches,
		m.inferenceResults,
		m.leadAttempts,
		m.leadResults,
	)

	return m
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveHTTP records one served request
func (m *Metrics) ObserveHTTP(route, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, status).Inc()
	m.httpDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

// RateLimitDecision records a limiter outcome
func (m *Metrics) RateLimitDecision(limiter, outcome string) {
	if m == nil {
		return
	}
	m.rateLimitResults.WithLabelValues(limiter, outcome).Inc()
}

// RetrievalMatches records how many matches a retrieval produced
func (m *Metrics) RetrievalMatches(count int) {
	if m == nil {
		return
	}
	m.retrievalMatches.Observe(float64(count))
}

// InferenceCall records an inference outcome
func (m *Metrics) InferenceCall(kind, outcome string) {
	if m == nil {
		return
	}
	m.inferenceResults.WithLabelValues(kind, outcome).Inc()
}

// LeadAttempt records one webhook attempt
func (m *Metrics) LeadAttempt(outcome string) {
	if m == nil {
		return
	}
	m.leadAttempts.WithLabelValues(outcome).Inc()
}

// LeadResult records the final result of a submission
func (m *Metrics) LeadResult(result string) {
	if m == nil {
		return
	}
	m.leadResults.WithLabelValues(result).Inc()
}
