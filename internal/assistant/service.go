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

// Package assistant answers website visitor questions from the knowledge base
// with a single chat completion.
package assistant

import (
	"context"
	"strings"

	"github.com/go-playground/validator/v10"
	gopenai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/korena-digital/korena-web/internal/metrics"
	"github.com/korena-digital/korena-web/internal/openai"
	"github.com/korena-digital/korena-web/internal/resilience"
)

const (
	// FallbackResponse is returned when inference fails or comes back empty
	FallbackResponse = "I'm sorry, I couldn't process your request right now. Please try again."
	// DefaultSourceTitle names matches without a title
	DefaultSourceTitle = "Knowledge Base"
	// MaxSources caps the titles returned with an answer
	MaxSources = 3

	// DefaultMaxTokens bounds the completion length
	DefaultMaxTokens = 512
	// DefaultTemperature is the sampling temperature
	DefaultTemperature = 0.7

	// Client-facing messages
	msgInvalidRequest = "Invalid request format"
	msgRateLimited    = "Rate limit exceeded. Please wait before sending another message."
)

// ChatModel generates a completion
type ChatModel interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (*openai.ChatCompletionResponse, error)
}

// RateLimiter admits or rejects a request for an identity
type RateLimiter interface {
	Allow(ctx context.Context, identity string) bool
}

// Options tunes the completion call
type Options struct {
	MaxTokens   int
	Temperature float32
}

// Service runs the chat pipeline: validate, rate limit, retrieve, prompt, infer
type Service struct {
	retriever *Retriever
	model     ChatModel
	limiter   RateLimiter
	validate  *validator.Validate
	opts      Options
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

// NewService wires the pipeline
func NewService(retriever *Retriever, model ChatModel, limiter RateLimiter, opts Options, logger *zap.Logger, m *metrics.Metrics) *Service {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultMaxTokens
	}
	if opts.Temperature <= 0 {
		opts.Temperature = DefaultTemperature
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		retriever: retriever,
		model:     model,
		limiter:   limiter,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		opts:      opts,
		logger:    logger,
		metrics:   m,
	}
}

// Answer validates req, checks the limit for req.SessionID (or clientAddress
// when absent) and answers. It returns a ServiceError for invalid or rate
// limited requests; inference failures produce FallbackResponse instead.
func (s *Service) Answer(ctx context.Context, req ChatRequest, clientAddress string) (*ChatResponse, error) {
	if err := s.validate.Struct(req); err != nil || strings.TrimSpace(req.Message) == "" {
		return nil, resilience.NewValidationError(msgInvalidRequest, err)
	}
	if req.Locale == "" {
		req.Locale = DefaultLocale
	}

	identity := req.SessionID
	if identity == "" {
		identity = clientAddress
	}
	if !s.limiter.Allow(ctx, identity) {
		return nil, resilience.NewRateLimitedError(msgRateLimited)
	}

	matches := s.retriever.Retrieve(ctx, req.Message, req.Locale)
	systemPrompt := BuildSystemPrompt(req.Locale, BuildContext(matches))

	return &ChatResponse{
		Response: s.infer(ctx, systemPrompt, req.Message),
		Sources:  Sources(matches),
	}, nil
}

func (s *Service) infer(ctx context.Context, systemPrompt, message string) string {
	resp, err := s.model.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Messages: []gopenai.ChatCompletionMessage{
			{Role: gopenai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: gopenai.ChatMessageRoleUser, Content: message},
		},
		MaxTokens:   s.opts.MaxTokens,
		Temperature: s.opts.Temperature,
	})
	if err != nil {
		s.logger.Error("Assistant inference failed", zap.Error(err))
		s.metrics.InferenceCall("chat", "failure")
		return FallbackResponse
	}

	if strings.TrimSpace(resp.Content) == "" {
		s.logger.Warn("Assistant inference returned empty content",
			zap.String("finish_reason", resp.FinishReason))
		s.metrics.InferenceCall("chat", "empty")
		return FallbackResponse
	}

	s.metrics.InferenceCall("chat", "success")
	return resp.Content
}

// Sources returns up to MaxSources distinct titles in match order
func Sources(matches []RetrievedMatch) []string {
	sources := make([]string, 0, MaxSources)
	seen := make(map[string]struct{}, MaxSources)

	for _, match := range matches {
		title := match.Title
		if title == "" {
			title = DefaultSourceTitle
		}
		if _, dup := seen[title]; dup {
			continue
		}
		seen[title] = struct{}{}
		sources = append(sources, title)
		if len(sources) == MaxSources {
			break
		}
	}

	return sources
}
