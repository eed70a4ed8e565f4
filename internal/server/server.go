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

// Package server exposes the assistant, speech and lead services over HTTP
package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/korena-digital/korena-web/internal/assistant"
	"github.com/korena-digital/korena-web/internal/health"
	"github.com/korena-digital/korena-web/internal/leads"
	"github.com/korena-digital/korena-web/internal/metrics"
	"github.com/korena-digital/korena-web/internal/resilience"
	"github.com/korena-digital/korena-web/internal/speech"
)

const (
	// DefaultRequestTimeout bounds one API request
	DefaultRequestTimeout = 30 * time.Second
	// ReadHeaderTimeout bounds slow clients
	ReadHeaderTimeout = 10 * time.Second
	// leadTimeoutMargin is added to the delivery budget for validation and encoding
	leadTimeoutMargin = 5 * time.Second
)

// DefaultLeadTimeout bounds a lead submission with default delivery settings
var DefaultLeadTimeout = leads.DeliveryBudget(0, 0, 0) + leadTimeoutMargin

// LeadTimeout returns the request timeout for a lead endpoint whose delivery
// uses the given settings
func LeadTimeout(attempts int, baseDelay, callTimeout time.Duration) time.Duration {
	return leads.DeliveryBudget(attempts, baseDelay, callTimeout) + leadTimeoutMargin
}

// Assistant answers chat messages
type Assistant interface {
	Answer(ctx context.Context, req assistant.ChatRequest, clientAddress string) (*assistant.ChatResponse, error)
}

// Speech synthesizes audio
type Speech interface {
	Synthesize(ctx context.Context, req speech.Request, clientAddress string) (io.ReadCloser, error)
}

// Leads delivers contact form submissions
type Leads interface {
	Submit(ctx context.Context, lead leads.Submission, meta leads.RequestMeta) leads.Result
}

// Dependencies is everything the handlers need, assembled once at startup
type Dependencies struct {
	Assistant Assistant
	Speech    Speech
	Leads     Leads
	Health    *health.Manager
	Metrics   *metrics.Metrics
	Logger    *zap.Logger

	RequestTimeout time.Duration
	// LeadTimeout replaces RequestTimeout on /api/leads, which retries slow webhooks
	LeadTimeout   time.Duration
	AllowedOrigin string
}

type handlers struct {
	deps         Dependencies
	logger       *zap.Logger
	errorHandler *resilience.ErrorHandler
}

// NewRouter wires middleware and routes
func NewRouter(deps Dependencies) *gin.Engine {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.RequestTimeout <= 0 {
		deps.RequestTimeout = DefaultRequestTimeout
	}
	if deps.LeadTimeout <= 0 {
		deps.LeadTimeout = DefaultLeadTimeout
	}

	h := &handlers{
		deps:         deps,
		logger:       deps.Logger,
		errorHandler: resilience.NewErrorHandler(deps.Logger),
	}

	router := gin.New()
	router.Use(
		RequestID(),
		RequestLogger(deps.Logger, deps.Metrics),
		Recovery(deps.Logger),
		CORS(deps.AllowedOrigin),
	)

	api := router.Group("/api")
	timed := api.Group("", Timeout(deps.RequestTimeout))
	timed.POST("/assistant", h.handleChat)
	timed.GET("/assistant", h.handleChatMethodNotAllowed)
	timed.POST("/tts", h.handleSpeech)
	timed.GET("/tts", h.handleSpeechMethodNotAllowed)
	api.POST("/leads", Timeout(deps.LeadTimeout), h.handleLead)

	if deps.Health != nil {
		router.GET("/health", deps.Health.Handler())
	}
	router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))

	router.NoRoute(func(c *gin.Context) {
		writeError(c, resilience.NewServiceError("Not found", resilience.ErrorCodeValidation, http.StatusNotFound, nil))
	})

	return router
}

// New builds the HTTP server for port
func New(port int, deps Dependencies) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           NewRouter(deps),
		ReadHeaderTimeout: ReadHeaderTimeout,
	}
}
