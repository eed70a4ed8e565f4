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

// Package chroma is a small client for the ChromaDB REST API holding the
// knowledge base vectors.
package chroma

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"go.uber.org/zap"
)

// Client wraps the ChromaDB REST API
type Client struct {
	baseURL        string
	collection     string
	httpClient     *http.Client
	logger         *zap.Logger
	maxRetries     int
	baseRetryDelay time.Duration
}

// NewClient creates a client with three retries and a one second base delay
func NewClient(baseURL, collection string, logger *zap.Logger) *Client {
	return NewClientWithOptions(baseURL, collection, logger, 3, time.Second)
}

// NewClientWithOptions creates a client with custom retry settings
func NewClientWithOptions(baseURL, collection string, logger *zap.Logger, maxRetries int, baseRetryDelay time.Duration) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:        baseURL,
		collection:     collection,
		httpClient:     &http.Client{Timeout: 30 * time.Second},
		logger:         logger,
		maxRetries:     maxRetries,
		baseRetryDelay: baseRetryDelay,
	}
}

// Collection returns the collection name
func (c *Client) Collection() string {
	return c.collection
}

// Document is one stored chunk
type Document struct {
	ID       string
	Content  string
	Metadata map[string]string
}

// Match is one query result. Score is 1 - distance, higher is closer.
type Match struct {
	ID       string
	Content  string
	Metadata map[string]string
	Score    float64
}

type queryRequest struct {
	QueryEmbeddings [][]float32    `json:"query_embeddings"`
	NResults        int            `json:"n_results"`
	Where           map[string]any `json:"where,omitempty"`
	Include         []string       `json:"include"`
}

type queryResponse struct {
	IDs       [][]string         `json:"ids"`
	Documents [][]*string        `json:"documents"`
	Metadatas [][]map[string]any `json:"metadatas"`
	Distances [][]float64        `json:"distances"`
}

type upsertRequest struct {
	IDs        []string            `json:"ids"`
	Embeddings [][]float32         `json:"embeddings"`
	Documents  []string            `json:"documents"`
	Metadatas  []map[string]string `json:"metadatas"`
}

type createCollectionRequest struct {
	Name        string         `json:"name"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	GetOrCreate bool           `json:"get_or_create"`
}

// ChromaError represents an error response from ChromaDB
type ChromaError struct {
	Status int    `json:"-"`
	Detail string `json:"detail"`
	Type   string `json:"type"`
}

func (e ChromaError) Error() string {
	return fmt.Sprintf("ChromaDB error [%s] (status %d): %s", e.Type, e.Status, e.Detail)
}

// retryWithBackoff executes operation with exponential backoff, stopping early
// when ctx is cancelled
func (c *Client) retryWithBackoff(ctx context.Context, operation func() error, operationName string) error {
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.baseRetryDelay * time.Duration(1<<uint(attempt-1))
			c.logger.Info("Retrying operation after delay",
				zap.String("operation", operationName),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay))

			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		if err := operation(); err != nil {
			lastErr = err
			c.logger.Warn("Operation failed",
				zap.String("operation", operationName),
				zap.Int("attempt", attempt),
				zap.Error(err))
			continue
		}

		if attempt > 0 {
			c.logger.Info("Operation succeeded after retry",
				zap.String("operation", operationName),
				zap.Int("attempt", attempt))
		}
		return nil
	}

	c.logger.Error("Operation failed after all retries",
		zap.String("operation", operationName),
		zap.Int("max_retries", c.maxRetries),
		zap.Error(lastErr))
	return fmt.Errorf("operation failed after %d retries: %w", c.maxRetries, lastErr)
}

// do sends a JSON request and decodes a JSON response into out when out is non-nil
func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(resp.Body)

		chromaErr := ChromaError{Status: resp.StatusCode}
		if json.Unmarshal(data, &chromaErr) == nil && chromaErr.Detail != "" {
			return chromaErr
		}
		return fmt.Errorf("ChromaDB returned status %d: %s", resp.StatusCode, string(data))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// EnsureCollection creates the collection when it does not exist
func (c *Client) EnsureCollection(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/v1/collections", createCollectionRequest{
		Name:        c.collection,
		Metadata:    map[string]any{"hnsw:space": "cosine"},
		GetOrCreate: true,
	}, nil)
}

// Upsert writes documents and their embeddings, replacing existing ids
func (c *Client) Upsert(ctx context.Context, documents []Document, embeddings [][]float32) error {
	if len(documents) != len(embeddings) {
		return fmt.Errorf("document count %d does not match embedding count %d", len(documents), len(embeddings))
	}
	if len(documents) == 0 {
		return nil
	}

	payload := upsertRequest{
		IDs:        make([]string, len(documents)),
		Embeddings: embeddings,
		Documents:  make([]string, len(documents)),
		Metadatas:  make([]map[string]string, len(documents)),
	}
	for i, doc := range documents {
		payload.IDs[i] = doc.ID
		payload.Documents[i] = doc.Content
		payload.Metadatas[i] = doc.Metadata
	}

	c.logger.Info("Upserting documents",
		zap.String("collection", c.collection),
		zap.Int("document_count", len(documents)))

	path := fmt.Sprintf("/api/v1/collections/%s/upsert", c.collection)
	return c.retryWithBackoff(ctx, func() error {
		return c.do(ctx, http.MethodPost, path, payload, nil)
	}, "Upsert")
}

// Query returns up to topK nearest documents whose metadata matches every
// where entry, ordered by descending score
func (c *Client) Query(ctx context.Context, embedding []float32, topK int, where map[string]string) ([]Match, error) {
	req := queryRequest{
		QueryEmbeddings: [][]float32{embedding},
		NResults:        topK,
		Include:         []string{"documents", "metadatas", "distances"},
	}
	if len(where) > 0 {
		req.Where = buildWhere(where)
	}

	var resp queryResponse
	path := fmt.Sprintf("/api/v1/collections/%s/query", c.collection)
	if err := c.do(ctx, http.MethodPost, path, req, &resp); err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}

	if len(resp.IDs) == 0 {
		return []Match{}, nil
	}

	matches := make([]Match, 0, len(resp.IDs[0]))
	for i, id := range resp.IDs[0] {
		match := Match{ID: id, Metadata: map[string]string{}}

		if len(resp.Documents) > 0 && i < len(resp.Documents[0]) && resp.Documents[0][i] != nil {
			match.Content = *resp.Documents[0][i]
		}
		if len(resp.Distances) > 0 && i < len(resp.Distances[0]) {
			match.Score = 1 - resp.Distances[0][i]
		}
		if len(resp.Metadatas) > 0 && i < len(resp.Metadatas[0]) {
			for k, v := range resp.Metadatas[0][i] {
				if str, ok := v.(string); ok {
					match.Metadata[k] = str
				}
			}
		}

		matches = append(matches, match)
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})

	return matches, nil
}

// buildWhere converts equality filters into Chroma's where syntax. More than
// one field needs an explicit $and.
func buildWhere(filters map[string]string) map[string]any {
	if len(filters) == 1 {
		for k, v := range filters {
			return map[string]any{k: v}
		}
	}

	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	clauses := make([]map[string]any, 0, len(keys))
	for _, k := range keys {
		clauses = append(clauses, map[string]any{k: filters[k]})
	}
	return map[string]any{"$and": clauses}
}

// HealthCheck checks if ChromaDB is reachable
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := c.do(ctx, http.MethodGet, "/api/v1/heartbeat", nil, nil); err != nil {
		return fmt.Errorf("ChromaDB health check failed: %w", err)
	}
	return nil
}
