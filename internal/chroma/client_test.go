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

package chroma

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

// mockServer creates a test HTTP server with configurable responses
func mockServer(responses map[string]func(w http.ResponseWriter, r *http.Request)) *httptest.Server {
	mux := http.NewServeMux()

	for path, handler := range responses {
		mux.HandleFunc(path, handler)
	}

	return httptest.NewServer(mux)
}

func testClient(url string) *Client {
	return NewClientWithOptions(url, "korena_docs", zap.NewNop(), 2, time.Millisecond)
}

func TestNewClient(t *testing.T) {
	client := NewClient("http://localhost:8000", "korena_docs", nil)

	if client.baseURL != "http://localhost:8000" {
		t.Errorf("Expected baseURL to be 'http://localhost:8000', got %s", client.baseURL)
	}
	if client.Collection() != "korena_docs" {
		t.Errorf("Expected collection to be 'korena_docs', got %s", client.Collection())
	}
	if client.maxRetries != 3 {
		t.Errorf("Expected maxRetries to be 3, got %d", client.maxRetries)
	}
	if client.baseRetryDelay != time.Second {
		t.Errorf("Expected baseRetryDelay to be 1 second, got %v", client.baseRetryDelay)
	}
}

func TestHealthCheck(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr bool
	}{
		{"healthy", http.StatusOK, false},
		{"unhealthy", http.StatusInternalServerError, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := mockServer(map[string]func(w http.ResponseWriter, r *http.Request){
				"/api/v1/heartbeat": func(w http.ResponseWriter, _ *http.Request) {
					w.WriteHeader(tt.status)
					_, _ = w.Write([]byte(`{"nanosecond heartbeat": 1}`))
				},
			})
			defer server.Close()

			err := testClient(server.URL).HealthCheck(context.Background())
			if (err != nil) != tt.wantErr {
				t.Errorf("HealthCheck() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestEnsureCollection(t *testing.T) {
	var got createCollectionRequest
	server := mockServer(map[string]func(w http.ResponseWriter, r *http.Request){
		"/api/v1/collections": func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				t.Errorf("Expected POST request, got %s", r.Method)
			}
			if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
				t.Fatalf("failed to decode request: %v", err)
			}
			_, _ = w.Write([]byte(`{"id": "c1", "name": "korena_docs"}`))
		},
	})
	defer server.Close()

	if err := testClient(server.URL).EnsureCollection(context.Background()); err != nil {
		t.Fatalf("EnsureCollection() error = %v", err)
	}
	if got.Name != "korena_docs" || !got.GetOrCreate {
		t.Errorf("unexpected create request: %+v", got)
	}
}

func TestUpsert(t *testing.T) {
	var got upsertRequest
	server := mockServer(map[string]func(w http.ResponseWriter, r *http.Request){
		"/api/v1/collections/korena_docs/upsert": func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Content-Type") != "application/json" {
				t.Errorf("Expected Content-Type to be application/json, got %s", r.Header.Get("Content-Type"))
			}
			if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
				t.Fatalf("failed to decode request: %v", err)
			}
			_, _ = w.Write([]byte(`true`))
		},
	})
	defer server.Close()

	docs := []Document{
		{ID: "_services_0", Content: "Korena builds websites.", Metadata: map[string]string{"locale": "en", "title": "Services"}},
		{ID: "_about_0", Content: "Korena is based in Malawi.", Metadata: map[string]string{"locale": "en", "title": "About"}},
	}
	embeddings := [][]float32{{0.1, 0.2}, {0.3, 0.4}}

	if err := testClient(server.URL).Upsert(context.Background(), docs, embeddings); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	if len(got.IDs) != 2 || got.IDs[0] != "_services_0" || got.IDs[1] != "_about_0" {
		t.Errorf("unexpected ids: %v", got.IDs)
	}
	if got.Documents[1] != "Korena is based in Malawi." {
		t.Errorf("unexpected documents: %v", got.Documents)
	}
	if got.Metadatas[0]["title"] != "Services" {
		t.Errorf("unexpected metadata: %v", got.Metadatas)
	}
}

func TestUpsert_LengthMismatch(t *testing.T) {
	client := testClient("http://127.0.0.1:0")
	err := client.Upsert(context.Background(), []Document{{ID: "a"}}, nil)
	if err == nil {
		t.Fatal("Expected error for mismatched lengths")
	}
}

func TestUpsert_RetriesThenReportsChromaError(t *testing.T) {
	var calls atomic.Int32
	server := mockServer(map[string]func(w http.ResponseWriter, r *http.Request){
		"/api/v1/collections/korena_docs/upsert": func(w http.ResponseWriter, _ *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(ChromaError{Detail: "Invalid embedding dimension", Type: "InvalidDimension"})
		},
	})
	defer server.Close()

	err := testClient(server.URL).Upsert(context.Background(), []Document{{ID: "a", Content: "x"}}, [][]float32{{0.1}})
	if err == nil {
		t.Fatal("Expected Upsert to fail")
	}
	if !strings.Contains(err.Error(), "Invalid embedding dimension") {
		t.Errorf("Expected error to carry the Chroma detail, got %s", err.Error())
	}
	if calls.Load() != 3 {
		t.Errorf("Expected 3 attempts, got %d", calls.Load())
	}
}

func TestQuery_SortsByScoreAndFiltersLocale(t *testing.T) {
	var got queryRequest
	server := mockServer(map[string]func(w http.ResponseWriter, r *http.Request){
		"/api/v1/collections/korena_docs/query": func(w http.ResponseWriter, r *http.Request) {
			if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
				t.Fatalf("failed to decode request: %v", err)
			}
			_, _ = w.Write([]byte(`{
				"ids": [["far", "near"]],
				"documents": [["far content", "near content"]],
				"metadatas": [[{"title": "Far", "locale": "ny"}, {"title": "Near", "locale": "ny", "chunk": 2}]],
				"distances": [[0.6, 0.1]]
			}`))
		},
	})
	defer server.Close()

	matches, err := testClient(server.URL).Query(context.Background(), []float32{0.1, 0.2}, 5, map[string]string{"locale": "ny"})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}

	if got.NResults != 5 {
		t.Errorf("Expected n_results 5, got %d", got.NResults)
	}
	if got.Where["locale"] != "ny" {
		t.Errorf("Expected locale filter, got %v", got.Where)
	}

	if len(matches) != 2 {
		t.Fatalf("Expected 2 matches, got %d", len(matches))
	}
	if matches[0].ID != "near" || matches[1].ID != "far" {
		t.Errorf("Expected matches ordered by score, got %s then %s", matches[0].ID, matches[1].ID)
	}
	if matches[0].Score < 0.89 || matches[0].Score > 0.91 {
		t.Errorf("Expected score 0.9, got %f", matches[0].Score)
	}
	if matches[0].Metadata["title"] != "Near" {
		t.Errorf("Expected title metadata, got %v", matches[0].Metadata)
	}
	if _, ok := matches[0].Metadata["chunk"]; ok {
		t.Errorf("Non-string metadata should be dropped")
	}
}

func TestQuery_Empty(t *testing.T) {
	server := mockServer(map[string]func(w http.ResponseWriter, r *http.Request){
		"/api/v1/collections/korena_docs/query": func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"ids": [[]], "documents": [[]], "metadatas": [[]], "distances": [[]]}`))
		},
	})
	defer server.Close()

	matches, err := testClient(server.URL).Query(context.Background(), []float32{0.1}, 5, nil)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(matches) != 0 {
		t.Errorf("Expected no matches, got %d", len(matches))
	}
}

func TestQuery_ServerError(t *testing.T) {
	server := mockServer(map[string]func(w http.ResponseWriter, r *http.Request){
		"/api/v1/collections/korena_docs/query": func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		},
	})
	defer server.Close()

	if _, err := testClient(server.URL).Query(context.Background(), []float32{0.1}, 5, nil); err == nil {
		t.Error("Expected Query to fail")
	}
}

func TestBuildWhere(t *testing.T) {
	single := buildWhere(map[string]string{"locale": "en"})
	if single["locale"] != "en" {
		t.Errorf("unexpected single filter: %v", single)
	}

	multi := buildWhere(map[string]string{"locale": "en", "section": "services"})
	clauses, ok := multi["$and"].([]map[string]any)
	if !ok || len(clauses) != 2 {
		t.Fatalf("Expected $and with two clauses, got %v", multi)
	}
	if clauses[0]["locale"] != "en" || clauses[1]["section"] != "services" {
		t.Errorf("unexpected clause order: %v", clauses)
	}
}
