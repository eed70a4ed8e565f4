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

// Package catalog records which knowledge chunks have been indexed, so that
// ingestion only re-embeds chunks whose content changed.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// Store handles queries to the SQLite catalog database
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// Entry is one indexed chunk
type Entry struct {
	ChunkID     string
	Title       string
	URL         string
	Section     string
	Locale      string
	ContentHash string
	IndexedAt   time.Time
}

// NewStore opens (and creates if needed) the catalog at dbPath. ":memory:" is
// accepted for tests.
func NewStore(dbPath string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps ":memory:" databases coherent and serialises writes
	db.SetMaxOpenConns(1)

	store := &Store{db: db, logger: logger}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Debug("Catalog opened", zap.String("path", dbPath))
	return store, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	query := `
		CREATE TABLE IF NOT EXISTS chunks (
			chunk_id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			url TEXT NOT NULL,
			section TEXT,
			locale TEXT NOT NULL,
			content_hash TEXT NOT NULL,
			indexed_at DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_chunks_url ON chunks(url);
	`

	_, err := s.db.Exec(query)
	return err
}

// Upsert records entries in one transaction, replacing existing chunk ids
func (s *Store) Upsert(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO chunks (chunk_id, title, url, section, locale, content_hash, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, entry := range entries {
		indexedAt := entry.IndexedAt
		if indexedAt.IsZero() {
			indexedAt = time.Now()
		}
		if _, err := stmt.ExecContext(ctx, entry.ChunkID, entry.Title, entry.URL, entry.Section,
			entry.Locale, entry.ContentHash, indexedAt.UTC()); err != nil {
			return fmt.Errorf("failed to insert chunk %s: %w", entry.ChunkID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit catalog update: %w", err)
	}
	return nil
}

// Get returns the entry for chunkID, or nil when it has never been indexed
func (s *Store) Get(ctx context.Context, chunkID string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT chunk_id, title, url, section, locale, content_hash, indexed_at
		FROM chunks WHERE chunk_id = ?
	`, chunkID)

	var entry Entry
	var section sql.NullString
	err := row.Scan(&entry.ChunkID, &entry.Title, &entry.URL, &section, &entry.Locale, &entry.ContentHash, &entry.IndexedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan chunk: %w", err)
	}
	entry.Section = section.String

	return &entry, nil
}

// NeedsUpdate reports whether chunkID is missing or was indexed with a different hash
func (s *Store) NeedsUpdate(ctx context.Context, chunkID, contentHash string) (bool, error) {
	entry, err := s.Get(ctx, chunkID)
	if err != nil {
		return false, err
	}
	return entry == nil || entry.ContentHash != contentHash, nil
}

// List returns every entry ordered by chunk id
func (s *Store) List(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT chunk_id, title, url, section, locale, content_hash, indexed_at
		FROM chunks ORDER BY chunk_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var entry Entry
		var section sql.NullString
		if err := rows.Scan(&entry.ChunkID, &entry.Title, &entry.URL, &section, &entry.Locale, &entry.ContentHash, &entry.IndexedAt); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		entry.Section = section.String
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return entries, nil
}

// Ping verifies the database is reachable
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
