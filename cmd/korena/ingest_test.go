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

package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/korena-digital/korena-web/internal/catalog"
	"github.com/korena-digital/korena-web/internal/chroma"
	"github.com/korena-digital/korena-web/internal/content"
	"github.com/korena-digital/korena-web/internal/openai"
)

// fakeEmbedder returns one small vector per text, or a fixed response when set
type fakeEmbedder struct {
	calls    int
	response *openai.EmbeddingResponse
	err      error
}

func (f *fakeEmbedder) EmbedTexts(_ context.Context, texts []string) (*openai.EmbeddingResponse, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.response != nil {
		return f.response, nil
	}
	embeddings := make([][]float32, len(texts))
	for i := range texts {
		embeddings[i] = []float32{float32(i), 0.5}
	}
	return &openai.EmbeddingResponse{Embeddings: embeddings}, nil
}

// MockIndex mocks the vector index for testing
type MockIndex struct {
	mock.Mock
}

func (m *MockIndex) EnsureCollection(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockIndex) Upsert(ctx context.Context, documents []chroma.Document, embeddings [][]float32) error {
	return m.Called(ctx, documents, embeddings).Error(0)
}

const testCorpus = `
documents:
  - title: Cloud & Modern Work
    url: /services/cloud-modern-work
    section: services
    content: We migrate workloads to Microsoft 365. We train staff.
  - title: Holo-School
    url: /holo-school
    section: products
    locale: ny
    content: Holo-School brings lessons to rural classrooms.
`

func newTestIngester(t *testing.T, embedder Embedder, index Index) (*ingester, *catalog.Store, *bytes.Buffer) {
	t.Helper()
	cat, err := catalog.NewStore(":memory:", zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = cat.Close() })

	out := &bytes.Buffer{}
	return &ingester{
		embedder: embedder,
		index:    index,
		catalog:  cat,
		logger:   zaptest.NewLogger(t),
		now:      func() time.Time { return time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC) },
		out:      out,
	}, cat, out
}

func testChunks(t *testing.T) []content.Chunk {
	t.Helper()
	docs, err := content.Parse([]byte(testCorpus))
	require.NoError(t, err)
	return content.Chunks(docs, 1000)
}

func TestIngester_IndexesNewChunks(t *testing.T) {
	embedder := &fakeEmbedder{}

	index := &MockIndex{}
	index.On("EnsureCollection", mock.Anything).Return(nil).Once()
	index.On("Upsert", mock.Anything, mock.MatchedBy(func(docs []chroma.Document) bool {
		return len(docs) == 2 &&
			docs[0].ID == "_services_cloud-modern-work_0" &&
			docs[0].Metadata["title"] == "Cloud & Modern Work" &&
			docs[0].Metadata["locale"] == "en" &&
			docs[0].Metadata["last_updated"] == "2024-06-01T00:00:00Z" &&
			docs[1].Metadata["locale"] == "ny"
	}), mock.Anything).Return(nil).Once()

	ing, cat, out := newTestIngester(t, embedder, index)
	summary, err := ing.run(context.Background(), testChunks(t), ingestOptions{batchSize: 10})

	require.NoError(t, err)
	assert.Equal(t, ingestSummary{Chunks: 2, Indexed: 2}, summary)
	assert.Contains(t, out.String(), "Indexed: Holo-School (chunk _holo-school_0)")

	entries, err := cat.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, entries, 2)
	index.AssertExpectations(t)
}

func TestIngester_SkipsUnchangedChunks(t *testing.T) {
	embedder := &fakeEmbedder{}
	index := &MockIndex{}
	ing, cat, _ := newTestIngester(t, embedder, index)

	chunks := testChunks(t)
	entries := make([]catalog.Entry, len(chunks))
	for i, c := range chunks {
		entries[i] = catalog.Entry{ChunkID: c.ID, Title: c.Title, URL: c.URL, Locale: c.Locale, ContentHash: c.ContentHash, IndexedAt: time.Now()}
	}
	require.NoError(t, cat.Upsert(context.Background(), entries))

	summary, err := ing.run(context.Background(), chunks, ingestOptions{})

	require.NoError(t, err)
	assert.Equal(t, 2, summary.Skipped)
	assert.Zero(t, summary.Indexed)
	assert.Zero(t, embedder.calls)
	index.AssertNotCalled(t, "EnsureCollection", mock.Anything)
}

func TestIngester_ForceReindexes(t *testing.T) {
	embedder := &fakeEmbedder{}
	index := &MockIndex{}
	index.On("EnsureCollection", mock.Anything).Return(nil)
	index.On("Upsert", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	ing, cat, _ := newTestIngester(t, embedder, index)
	chunks := testChunks(t)
	require.NoError(t, cat.Upsert(context.Background(), []catalog.Entry{
		{ChunkID: chunks[0].ID, ContentHash: chunks[0].ContentHash, IndexedAt: time.Now()},
	}))

	summary, err := ing.run(context.Background(), chunks, ingestOptions{force: true, batchSize: 1})

	require.NoError(t, err)
	assert.Equal(t, 2, summary.Indexed)
	assert.Equal(t, 2, embedder.calls)
	index.AssertNumberOfCalls(t, "Upsert", 2)
}

func TestIngester_UpsertFailureLeavesCatalogUntouched(t *testing.T) {
	embedder := &fakeEmbedder{}
	index := &MockIndex{}
	index.On("EnsureCollection", mock.Anything).Return(nil)
	index.On("Upsert", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("chroma down"))

	ing, cat, _ := newTestIngester(t, embedder, index)
	_, err := ing.run(context.Background(), testChunks(t), ingestOptions{})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to upsert batch")
	entries, listErr := cat.List(context.Background())
	require.NoError(t, listErr)
	assert.Empty(t, entries)
}

func TestIngester_EmbeddingCountMismatch(t *testing.T) {
	embedder := &fakeEmbedder{response: &openai.EmbeddingResponse{Embeddings: [][]float32{{1}}}}
	index := &MockIndex{}
	index.On("EnsureCollection", mock.Anything).Return(nil)

	ing, _, _ := newTestIngester(t, embedder, index)
	_, err := ing.run(context.Background(), testChunks(t), ingestOptions{})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "embedding count mismatch")
	index.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything, mock.Anything)
}

func TestIngestCommand_DryRun(t *testing.T) {
	source := filepath.Join(t.TempDir(), "corpus.yaml")
	require.NoError(t, os.WriteFile(source, []byte(testCorpus), 0600))

	out := &bytes.Buffer{}
	root := newRootCmd()
	root.SetOut(out)
	root.SetArgs([]string{"ingest", "--dry-run", "--source", source})

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "Dry run: 2 documents, 2 chunks")
	assert.Contains(t, out.String(), "_holo-school_0 [ny] Holo-School")
}

func TestIngestCommand_DryRunEmbeddedCorpus(t *testing.T) {
	out := &bytes.Buffer{}
	root := newRootCmd()
	root.SetOut(out)
	root.SetArgs([]string{"ingest", "--dry-run"})

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "Dry run: 6 documents")
}

func TestIngestCommand_MissingSource(t *testing.T) {
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"ingest", "--dry-run", "--source", filepath.Join(t.TempDir(), "missing.yaml")})

	assert.Error(t, root.Execute())
}

func TestIngester_EmbeddingFailure(t *testing.T) {
	embedder := &fakeEmbedder{err: errors.New("rate limited")}
	index := &MockIndex{}
	index.On("EnsureCollection", mock.Anything).Return(nil)

	ing, _, _ := newTestIngester(t, embedder, index)
	summary, err := ing.run(context.Background(), testChunks(t), ingestOptions{batchSize: 1})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to embed batch starting at _services_cloud-modern-work_0")
	assert.Zero(t, summary.Indexed)
	assert.Equal(t, 1, embedder.calls)
}
