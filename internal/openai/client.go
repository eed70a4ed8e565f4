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

// Package openai wraps an OpenAI-compatible inference API: embeddings for
// retrieval and ingestion, chat completions for the assistant and speech
// synthesis for read-back.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

const (
	// DefaultEmbeddingModel is the embedding model used when none is configured
	DefaultEmbeddingModel = "@cf/baai/bge-base-en-v1.5"
	// DefaultChatModel is the chat model used when none is configured
	DefaultChatModel = "@cf/meta/llama-3.1-8b-instruct"
	// DefaultSpeechModel is the speech model used when none is configured
	DefaultSpeechModel = string(openai.TTSModel1)
	// DefaultMaxRetries is the number of embedding attempts
	DefaultMaxRetries = 3
	// BaseRetryDelay defines the base delay for exponential backoff
	BaseRetryDelay = time.Second
)

// Options configures the client
type Options struct {
	APIKey         string
	BaseURL        string
	EmbeddingModel string
	ChatModel      string
	SpeechModel    string
	MaxRetries     int
	BaseRetryDelay time.Duration
	HTTPClient     *http.Client
}

// Client wraps the go-openai client with logging, retry and error classification
type Client struct {
	client         *openai.Client
	logger         *zap.Logger
	embeddingModel string
	chatModel      string
	speechModel    string
	maxRetries     int
	baseRetryDelay time.Duration
}

// EmbeddingUsage tracks embedding API usage
type EmbeddingUsage struct {
	TokensUsed     int
	RequestCount   int
	ProcessingTime time.Duration
}

// EmbeddingResponse represents the response from embedding operations
type EmbeddingResponse struct {
	Embeddings [][]float32
	Usage      EmbeddingUsage
}

// RetryableError represents an error that can be retried
type RetryableError struct {
	StatusCode int
	Message    string
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("retryable error (status %d): %s", e.StatusCode, e.Message)
}

// NewClient creates a client. Connectivity is not checked here so that a
// degraded inference provider never blocks startup.
func NewClient(opts Options, logger *zap.Logger) (*Client, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	if opts.HTTPClient != nil {
		cfg.HTTPClient = opts.HTTPClient
	}

	client := &Client{
		client:         openai.NewClientWithConfig(cfg),
		logger:         logger,
		embeddingModel: valueOrDefault(opts.EmbeddingModel, DefaultEmbeddingModel),
		chatModel:      valueOrDefault(opts.ChatModel, DefaultChatModel),
		speechModel:    valueOrDefault(opts.SpeechModel, DefaultSpeechModel),
		maxRetries:     opts.MaxRetries,
		baseRetryDelay: opts.BaseRetryDelay,
	}
	if client.maxRetries <= 0 {
		client.maxRetries = DefaultMaxRetries
	}
	if client.baseRetryDelay <= 0 {
		client.baseRetryDelay = BaseRetryDelay
	}

	logger.Info("Inference client initialized",
		zap.String("base_url", cfg.BaseURL),
		zap.String("embedding_model", client.embeddingModel),
		zap.String("chat_model", client.chatModel),
		zap.String("speech_model", client.speechModel),
		zap.Int("max_retries", client.maxRetries),
	)

	return client, nil
}

// EmbedTexts generates embeddings for multiple texts in one request, retrying
// rate limit and server errors with exponential backoff
func (c *Client) EmbedTexts(ctx context.Context, texts []string) (*EmbeddingResponse, error) {
	return c.embed(ctx, texts, c.maxRetries)
}

func (c *Client) embed(ctx context.Context, texts []string, attempts int) (*EmbeddingResponse, error) {
	if len(texts) == 0 {
		return &EmbeddingResponse{Embeddings: [][]float32{}}, nil
	}

	start := time.Now()
	embeddings, usage, err := c.createEmbeddingsWithRetry(ctx, texts, attempts)
	if err != nil {
		c.logger.Error("Failed to create embeddings",
			zap.Error(err),
			zap.Int("text_count", len(texts)),
		)
		return nil, fmt.Errorf("failed to create embeddings: %w", err)
	}

	if err := validateEmbeddingDimensions(embeddings); err != nil {
		return nil, fmt.Errorf("embedding validation failed: %w", err)
	}

	processingTime := time.Since(start)
	c.logger.Debug("Embedding generation completed",
		zap.Int("text_count", len(texts)),
		zap.Int("tokens_used", usage.PromptTokens),
		zap.Duration("processing_time", processingTime),
	)

	return &EmbeddingResponse{
		Embeddings: embeddings,
		Usage: EmbeddingUsage{
			TokensUsed:     usage.PromptTokens,
			RequestCount:   1,
			ProcessingTime: processingTime,
		},
	}, nil
}

// EmbedQuery generates an embedding for a single query text with a single
// attempt; EmbedTexts is the retrying path used for ingestion.
func (c *Client) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	if query == "" {
		return nil, fmt.Errorf("query text cannot be empty")
	}

	response, err := c.embed(ctx, []string{query}, 1)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	if len(response.Embeddings) == 0 {
		return nil, fmt.Errorf("no embeddings returned for query")
	}

	return response.Embeddings[0], nil
}

func (c *Client) createEmbeddingsWithRetry(ctx context.Context, texts []string, attempts int) ([][]float32, openai.Usage, error) {
	var lastErr error

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := c.baseRetryDelay * time.Duration(1<<uint(attempt-1))
			c.logger.Warn("Retrying embedding request",
				zap.Int("attempt", attempt+1),
				zap.Int("max_retries", attempts),
				zap.Duration("delay", delay),
			)

			select {
			case <-ctx.Done():
				return nil, openai.Usage{}, ctx.Err()
			case <-time.After(delay):
			}
		}

		embeddings, usage, err := c.createEmbeddings(ctx, texts)
		if err == nil {
			return embeddings, usage, nil
		}
		lastErr = err

		var retryErr *RetryableError
		if !errors.As(err, &retryErr) {
			return nil, openai.Usage{}, err
		}
	}

	return nil, openai.Usage{}, fmt.Errorf("exhausted all retry attempts: %w", lastErr)
}

func (c *Client) createEmbeddings(ctx context.Context, texts []string) ([][]float32, openai.Usage, error) {
	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(c.embeddingModel),
	})
	if err != nil {
		return nil, openai.Usage{}, handleAPIError(err)
	}

	if len(resp.Data) != len(texts) {
		return nil, openai.Usage{}, fmt.Errorf("unexpected response: got %d embeddings for %d texts", len(resp.Data), len(texts))
	}

	embeddings := make([][]float32, len(resp.Data))
	for _, embedding := range resp.Data {
		if embedding.Index < 0 || embedding.Index >= len(texts) {
			return nil, openai.Usage{}, fmt.Errorf("embedding index %d out of range", embedding.Index)
		}
		embeddings[embedding.Index] = embedding.Embedding
	}

	return embeddings, resp.Usage, nil
}

// ChatCompletionRequest represents a chat completion request
type ChatCompletionRequest struct {
	Messages    []openai.ChatCompletionMessage
	MaxTokens   int
	Temperature float32
	Model       string
}

// ChatCompletionResponse represents the response from a chat completion
type ChatCompletionResponse struct {
	Content      string
	FinishReason string
	Usage        openai.Usage
}

// CreateChatCompletion makes exactly one chat completion call. Conversational
// latency matters more than completeness here, so failures are not retried.
func (c *Client) CreateChatCompletion(ctx context.Context, req ChatCompletionRequest) (*ChatCompletionResponse, error) {
	if req.Model == "" {
		req.Model = c.chatModel
	}

	c.logger.Debug("Creating chat completion",
		zap.String("model", req.Model),
		zap.Int("max_tokens", req.MaxTokens),
		zap.Float64("temperature", float64(req.Temperature)),
		zap.Int("message_count", len(req.Messages)),
	)

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return nil, handleAPIError(err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices returned from inference service")
	}

	c.logger.Debug("Chat completion successful",
		zap.String("finish_reason", string(resp.Choices[0].FinishReason)),
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens),
	)

	return &ChatCompletionResponse{
		Content:      resp.Choices[0].Message.Content,
		FinishReason: string(resp.Choices[0].FinishReason),
		Usage:        resp.Usage,
	}, nil
}

// SpeechRequest represents a text-to-speech request
type SpeechRequest struct {
	Text  string
	Voice string
	Speed float64
}

// CreateSpeech synthesizes MP3 audio. The caller must close the returned reader.
func (c *Client) CreateSpeech(ctx context.Context, req SpeechRequest) (io.ReadCloser, error) {
	resp, err := c.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(c.speechModel),
		Input:          req.Text,
		Voice:          openai.SpeechVoice(req.Voice),
		ResponseFormat: openai.SpeechResponseFormatMp3,
		Speed:          req.Speed,
	})
	if err != nil {
		return nil, handleAPIError(err)
	}

	return resp, nil
}

// handleAPIError classifies API errors into retryable and permanent ones
func handleAPIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case http.StatusUnauthorized:
			return fmt.Errorf("invalid API key or unauthorized access: %w", err)
		case http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout:
			return &RetryableError{
				StatusCode: apiErr.HTTPStatusCode,
				Message:    apiErr.Message,
			}
		default:
			return fmt.Errorf("inference API error (status %d): %s", apiErr.HTTPStatusCode, apiErr.Message)
		}
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode >= http.StatusInternalServerError {
		return &RetryableError{StatusCode: reqErr.HTTPStatusCode, Message: reqErr.Error()}
	}

	return fmt.Errorf("inference client error: %w", err)
}

// validateEmbeddingDimensions checks that every embedding is non-empty and of equal size
func validateEmbeddingDimensions(embeddings [][]float32) error {
	if len(embeddings) == 0 {
		return nil
	}
	expected := len(embeddings[0])
	if expected == 0 {
		return fmt.Errorf("embedding 0 is empty")
	}
	for i, embedding := range embeddings {
		if len(embedding) != expected {
			return fmt.Errorf("embedding %d has %d dimensions, expected %d", i, len(embedding), expected)
		}
	}
	return nil
}

func valueOrDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
