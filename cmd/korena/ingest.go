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
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/korena-digital/korena-web/internal/catalog"
	"github.com/korena-digital/korena-web/internal/chroma"
	"github.com/korena-digital/korena-web/internal/chunker"
	"github.com/korena-digital/korena-web/internal/config"
	"github.com/korena-digital/korena-web/internal/content"
	"github.com/korena-digital/korena-web/internal/openai"
)

const defaultBatchSize = 20

// Embedder embeds a batch of chunk texts
type Embedder interface {
	EmbedTexts(ctx context.Context, texts []string) (*openai.EmbeddingResponse, error)
}

// Index stores embedded chunks
type Index interface {
	EnsureCollection(ctx context.Context) error
	Upsert(ctx context.Context, documents []chroma.Document, embeddings [][]float32) error
}

// Catalog remembers which chunk versions are already indexed
type Catalog interface {
	NeedsUpdate(ctx context.Context, chunkID, contentHash string) (bool, error)
	Upsert(ctx context.Context, entries []catalog.Entry) error
}

type ingestOptions struct {
	source       string
	maxChunkSize int
	batchSize    int
	force        bool
	dryRun       bool
}

// ingestSummary reports what one run did
type ingestSummary struct {
	Documents int
	Chunks    int
	Indexed   int
	Skipped   int
}

// ingester embeds changed chunks and upserts them into the index
type ingester struct {
	embedder Embedder
	index    Index
	catalog  Catalog
	logger   *zap.Logger
	now      func() time.Time
	out      io.Writer
}

func newIngestCmd(configPath *string) *cobra.Command {
	opts := ingestOptions{}

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Embed the knowledge corpus into the vector index",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runIngest(cmd.Context(), cmd.OutOrStdout(), *configPath, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.source, "source", "s", "", "Corpus YAML file (default: the corpus built into the binary)")
	cmd.Flags().IntVar(&opts.maxChunkSize, "chunk-size", chunker.DefaultMaxChunkSize, "Maximum chunk size in characters")
	cmd.Flags().IntVar(&opts.batchSize, "batch-size", defaultBatchSize, "Chunks per embedding request")
	cmd.Flags().BoolVarP(&opts.force, "force", "f", false, "Re-index chunks even when unchanged")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "Print the plan without calling any service")

	return cmd
}

func loadCorpus(source string) ([]content.Document, error) {
	if source == "" {
		return content.Embedded()
	}
	return content.LoadFile(source)
}

func runIngest(ctx context.Context, out io.Writer, configPath string, opts ingestOptions) error {
	docs, err := loadCorpus(opts.source)
	if err != nil {
		return err
	}
	chunks := content.Chunks(docs, opts.maxChunkSize)

	if opts.dryRun {
		printPlan(out, docs, chunks)
		return nil
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger, _, err := initializeLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	inference, err := openai.NewClient(openai.Options{
		APIKey:         cfg.Inference.APIKey,
		BaseURL:        cfg.Inference.BaseURL,
		EmbeddingModel: cfg.Inference.EmbeddingModel,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize inference client: %w", err)
	}

	cat, err := catalog.NewStore(cfg.Catalog.DBPath, logger)
	if err != nil {
		return fmt.Errorf("failed to open catalog: %w", err)
	}
	defer func() { _ = cat.Close() }()

	ing := &ingester{
		embedder: inference,
		index:    chroma.NewClient(cfg.Chroma.URL, cfg.Chroma.CollectionName, logger),
		catalog:  cat,
		logger:   logger,
		now:      time.Now,
		out:      out,
	}

	summary, err := ing.run(ctx, chunks, opts)
	if err != nil {
		return err
	}
	summary.Documents = len(docs)

	_, _ = fmt.Fprintf(out, "Ingested %d documents: %d chunks, %d indexed, %d unchanged\n",
		summary.Documents, summary.Chunks, summary.Indexed, summary.Skipped)
	return nil
}

func printPlan(out io.Writer, docs []content.Document, chunks []content.Chunk) {
	_, _ = fmt.Fprintf(out, "Dry run: %d documents, %d chunks\n", len(docs), len(chunks))
	for _, chunk := range chunks {
		_, _ = fmt.Fprintf(out, "  %s [%s] %s (%d chars)\n", chunk.ID, chunk.Locale, chunk.Title, len(chunk.Content))
	}
}

func (ing *ingester) run(ctx context.Context, chunks []content.Chunk, opts ingestOptions) (ingestSummary, error) {
	summary := ingestSummary{Chunks: len(chunks)}

	pending := make([]content.Chunk, 0, len(chunks))
	for _, chunk := range chunks {
		if !opts.force {
			changed, err := ing.catalog.NeedsUpdate(ctx, chunk.ID, chunk.ContentHash)
			if err != nil {
				return summary, fmt.Errorf("failed to check catalog for %s: %w", chunk.ID, err)
			}
			if !changed {
				summary.Skipped++
				continue
			}
		}
		pending = append(pending, chunk)
	}

	if len(pending) == 0 {
		ing.logger.Info("Knowledge base already up to date", zap.Int("chunks", len(chunks)))
		return summary, nil
	}

	if err := ing.index.EnsureCollection(ctx); err != nil {
		return summary, fmt.Errorf("failed to prepare collection: %w", err)
	}

	batchSize := opts.batchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	for start := 0; start < len(pending); start += batchSize {
		end := min(start+batchSize, len(pending))
		if err := ing.indexBatch(ctx, pending[start:end]); err != nil {
			return summary, err
		}
		summary.Indexed += end - start
		ing.logger.Info("Indexed batch",
			zap.Int("batch_start", start),
			zap.Int("batch_size", end-start),
			zap.Int("total", len(pending)))
	}

	return summary, nil
}

func (ing *ingester) indexBatch(ctx context.Context, batch []content.Chunk) error {
	texts := make([]string, len(batch))
	for i, chunk := range batch {
		texts[i] = chunk.Content
	}

	resp, err := ing.embedder.EmbedTexts(ctx, texts)
	if err != nil {
		return fmt.Errorf("failed to embed batch starting at %s: %w", batch[0].ID, err)
	}
	if len(resp.Embeddings) != len(batch) {
		return fmt.Errorf("embedding count mismatch: got %d for %d chunks", len(resp.Embeddings), len(batch))
	}

	indexedAt := ing.now()
	documents := make([]chroma.Document, len(batch))
	entries := make([]catalog.Entry, len(batch))
	for i, chunk := range batch {
		documents[i] = chroma.Document{
			ID:       chunk.ID,
			Content:  chunk.Content,
			Metadata: chunk.Metadata(indexedAt),
		}
		entries[i] = catalog.Entry{
			ChunkID:     chunk.ID,
			Title:       chunk.Title,
			URL:         chunk.URL,
			Section:     chunk.Section,
			Locale:      chunk.Locale,
			ContentHash: chunk.ContentHash,
			IndexedAt:   indexedAt,
		}
	}

	if err := ing.index.Upsert(ctx, documents, resp.Embeddings); err != nil {
		return fmt.Errorf("failed to upsert batch: %w", err)
	}
	// recorded only after the index accepted the batch so a failed run retries it
	if err := ing.catalog.Upsert(ctx, entries); err != nil {
		return fmt.Errorf("failed to record batch in catalog: %w", err)
	}

	for _, chunk := range batch {
		_, _ = fmt.Fprintf(ing.out, "Indexed: %s (chunk %s)\n", chunk.Title, chunk.ID)
	}
	return nil
}
