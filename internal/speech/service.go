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

// Package speech reads assistant answers aloud
package speech

import (
	"context"
	"io"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/korena-digital/korena-web/internal/metrics"
	"github.com/korena-digital/korena-web/internal/openai"
	"github.com/korena-digital/korena-web/internal/resilience"
)

const (
	// DefaultVoice is used when the request names none
	DefaultVoice = "nova"
	// DefaultSpeed is used when the request names none
	DefaultSpeed = 1.0
	// ContentType of synthesized audio
	ContentType = "audio/mpeg"
	// CacheControl lets browsers reuse audio for an hour
	CacheControl = "public, max-age=3600"
	// Usage describes the request body for method errors
	Usage = "POST with { text, voice?, speed? }"

	msgInvalidRequest = "Invalid request format"
	msgRateLimited    = "TTS rate limit exceeded. Please wait before making another request."
	msgUnavailable    = "TTS service temporarily unavailable"
)

// Voices lists the accepted voice names
var Voices = []string{"alloy", "echo", "fable", "onyx", "nova", "shimmer"}

// Request is a text-to-speech request. Speed is a pointer so that an explicit
// zero is rejected rather than defaulted.
type Request struct {
	Text  string   `json:"text" validate:"required,max=500"`
	Voice string   `json:"voice" validate:"omitempty,oneof=alloy echo fable onyx nova shimmer"`
	Speed *float64 `json:"speed" validate:"omitempty,gte=0.25,lte=4"`
}

// Synthesizer produces MP3 audio
type Synthesizer interface {
	CreateSpeech(ctx context.Context, req openai.SpeechRequest) (io.ReadCloser, error)
}

// RateLimiter admits or rejects a request for an identity
type RateLimiter interface {
	Allow(ctx context.Context, identity string) bool
}

// Service validates, rate limits and synthesizes
type Service struct {
	synth    Synthesizer
	limiter  RateLimiter
	validate *validator.Validate
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// NewService creates a speech service
func NewService(synth Synthesizer, limiter RateLimiter, logger *zap.Logger, m *metrics.Metrics) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		synth:    synth,
		limiter:  limiter,
		validate: validator.New(),
		logger:   logger,
		metrics:  m,
	}
}

// Synthesize returns an MP3 stream the caller must close. Errors are
// ServiceErrors: 400 for invalid input, 429 over the limit, 503 when the
// synthesis provider fails.
func (s *Service) Synthesize(ctx context.Context, req Request, clientAddress string) (io.ReadCloser, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, resilience.NewValidationError(msgInvalidRequest, err)
	}

	voice := req.Voice
	if voice == "" {
		voice = DefaultVoice
	}
	speed := DefaultSpeed
	if req.Speed != nil {
		speed = *req.Speed
	}

	if !s.limiter.Allow(ctx, clientAddress) {
		return nil, resilience.NewRateLimitedError(msgRateLimited)
	}

	audio, err := s.synth.CreateSpeech(ctx, openai.SpeechRequest{
		Text:  req.Text,
		Voice: voice,
		Speed: speed,
	})
	if err != nil {
		s.logger.Error("Speech synthesis failed",
			zap.String("voice", voice),
			zap.Int("text_length", len(req.Text)),
			zap.Error(err))
		s.metrics.InferenceCall("speech", "failure")
		return nil, resilience.NewServiceUnavailableError(msgUnavailable, err)
	}

	s.metrics.InferenceCall("speech", "success")
	return audio, nil
}
