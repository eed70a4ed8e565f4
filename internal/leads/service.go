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

// Package leads validates contact form submissions and forwards them to a
// workflow automation webhook with bounded retry.
package leads

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/korena-digital/korena-web/internal/metrics"
	"github.com/korena-digital/korena-web/internal/resilience"
)

const (
	// DefaultMaxAttempts is the total number of webhook calls per lead
	DefaultMaxAttempts = 3
	// DefaultBaseDelay is the wait after the first failed attempt
	DefaultBaseDelay = time.Second

	// MsgConfiguration is returned when no webhook URL is configured
	MsgConfiguration = "Configuration error"
	// MsgUnavailable is returned when every attempt failed
	MsgUnavailable = "Service temporarily unavailable"

	defaultLocale = "en"
	defaultSource = "website"
)

// DeliveryBudget is the longest Submit can take: every attempt running into
// callTimeout plus the doubling waits between them. Non-positive arguments
// select the defaults.
func DeliveryBudget(attempts int, baseDelay, callTimeout time.Duration) time.Duration {
	if attempts <= 0 {
		attempts = DefaultMaxAttempts
	}
	if baseDelay <= 0 {
		baseDelay = DefaultBaseDelay
	}
	if callTimeout <= 0 {
		callTimeout = DefaultCallTimeout
	}

	budget := time.Duration(attempts) * callTimeout
	delay := baseDelay
	for i := 1; i < attempts; i++ {
		budget += delay
		delay *= 2
	}
	return budget
}

// Poster delivers one payload
type Poster interface {
	Post(ctx context.Context, url string, payload any) error
}

// Options configures delivery
type Options struct {
	WebhookURL  string
	MaxAttempts int
	BaseDelay   time.Duration
	// Sleep overrides the wait between attempts
	Sleep func(ctx context.Context, d time.Duration) error
	// Now overrides the payload timestamp clock
	Now func() time.Time
}

// Service runs the lead pipeline
type Service struct {
	poster    Poster
	validator *Validator
	opts      Options
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

// NewService creates a lead service
func NewService(poster Poster, opts Options, logger *zap.Logger, m *metrics.Metrics) *Service {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = DefaultBaseDelay
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		poster:    poster,
		validator: NewValidator(),
		opts:      opts,
		logger:    logger,
		metrics:   m,
	}
}

// Submit validates the lead, enriches it with meta and delivers it. It never
// returns an error: failures are reported in Result with a client-safe
// message while the cause is logged.
func (s *Service) Submit(ctx context.Context, lead Submission, meta RequestMeta) Result {
	if msg := s.validator.Validate(lead); msg != "" {
		s.logger.Info("Lead submission rejected", zap.String("reason", msg))
		s.metrics.LeadResult("invalid")
		return Result{Success: false, Error: msg}
	}

	payload := s.buildPayload(lead, meta)

	if s.opts.WebhookURL == "" {
		s.logger.Error("Lead webhook URL not configured")
		s.metrics.LeadResult("unconfigured")
		return Result{Success: false, Error: MsgConfiguration}
	}

	backoff := resilience.BackoffConfig{
		BaseDelay:  s.opts.BaseDelay,
		MaxRetries: s.opts.MaxAttempts - 1,
		Multiplier: 2,
		Jitter:     false,
		// a per-call timeout is retried; only cancellation of the caller stops early
		RetryOnFunc: func(error) bool { return ctx.Err() == nil },
		Sleep:       s.opts.Sleep,
	}

	err := resilience.WithExponentialBackoff(ctx, s.logger, backoff, func(ctx context.Context, attempt int) error {
		if err := s.poster.Post(ctx, s.opts.WebhookURL, payload); err != nil {
			s.logger.Warn("Lead webhook attempt failed",
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", s.opts.MaxAttempts),
				zap.Error(err))
			s.metrics.LeadAttempt("failure")
			return err
		}
		s.metrics.LeadAttempt("success")
		return nil
	})
	if err != nil {
		s.logger.Error("All lead webhook attempts failed", zap.Error(err))
		s.metrics.LeadResult("failed")
		return Result{Success: false, Error: MsgUnavailable}
	}

	s.logger.Info("Lead submitted successfully",
		zap.String("email_domain", emailDomain(lead.Email)),
		zap.String("interest", lead.Interest))
	s.metrics.LeadResult("delivered")
	return Result{Success: true}
}

func (s *Service) buildPayload(lead Submission, meta RequestMeta) OutboundPayload {
	locale := lead.Locale
	if locale == "" {
		locale = defaultLocale
	}
	source := lead.Source
	if source == "" {
		source = defaultSource
	}
	ip := meta.IP
	if ip == "" {
		ip = "unknown"
	}

	return OutboundPayload{
		Name:         lead.Name,
		Email:        lead.Email,
		Phone:        lead.Phone,
		Organization: lead.Organization,
		Interest:     lead.Interest,
		Message:      lead.Message,
		Consent:      lead.Consent,
		Source:       source,
		Locale:       locale,
		Timestamp:    s.opts.Now().UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		Page:         meta.Referer,
		UserAgent:    meta.UserAgent,
		IP:           ip,
	}
}

func emailDomain(email string) string {
	if at := strings.LastIndexByte(email, '@'); at >= 0 {
		return strings.ToLower(email[at+1:])
	}
	return ""
}
