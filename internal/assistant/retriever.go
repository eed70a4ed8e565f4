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

package assistant

import (
	"context"

	"go.uber.org/zap"

	"github.com/korena-digital/korena-web/internal/chroma"
	"github.com/korena-digital/korena-web/internal/metrics"
)

// DefaultTopK is the number of neighbours requested from the index
const DefaultTopK = 5

// Embedder turns a query into a vector
type Embedder interface {
	EmbedQuery(ctx context.Context, query string) ([]float32, error)
}

// VectorIndex finds the nearest stored chunks
type VectorIndex interface {
	Query(ctx context.Context, embedding []float32, topK int, where map[string]string) ([]chroma.Match, error)
}

// Retriever looks up knowledge base context for a query
type Retriever struct {
	embedder Embedder
	index    VectorIndex
	topK     int
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// NewRetriever creates a retriever. topK <= 0 selects DefaultTopK.
func NewRetriever(embedder Embedder, index VectorIndex, topK int, logger *zap.Logger, m *metrics.Metrics) *Retriever {
	if topK <= 0 {
		topK = DefaultTopK
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retriever{
		embedder: embedder,
		index:    index,
		topK:     topK,
		logger:   logger,
		metrics:  m,
	}
}

// Retrieve returns up to topK matches tagged with locale, best first. It never
// fails: any embedding or index error yields an empty slice.
func (r *Retriever) Retrieve(ctx context.Context, query, locale string) []RetrievedMatch {
	embedding, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		r.logger.Warn("Knowledge base search error", zap.String("stage", "embed"), zap.Error(err))
		r.metrics.RetrievalMatches(0)
		return []RetrievedMatch{}
	}

	results, err := r.index.Query(ctx, embedding, r.topK, map[string]string{"locale": locale})
	if err != nil {
		r.logger.Warn("Knowledge base search error", zap.String("stage", "query"), zap.Error(err))
		r.metrics.RetrievalMatches(0)
		return []RetrievedMatch{}
	}

	if len(results) > r.topK {
		results = results[:r.topK]
	}

	matches := make([]RetrievedMatch, 0, len(results))
	for _, result := range results {
		content := result.Metadata["content"]
		if content == "" {
			content = result.Content
		}
		matches = append(matches, RetrievedMatch{
			Title:   result.Metadata["title"],
			Content: content,
			Score:   result.Score,
		})
	}

	r.logger.Debug("Knowledge base search completed",
		zap.String("locale", locale),
		zap.Int("matches", len(matches)))
	r.metrics.RetrievalMatches(len(matches))

	return matches
}
