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

// Package content holds the site knowledge corpus and turns it into
// embeddable chunks.
package content

import (
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/korena-digital/korena-web/internal/chunker"
)

//go:embed knowledge.yaml
var embeddedKnowledge []byte

// SupportedLocales lists the site languages
var SupportedLocales = []string{"en", "ny", "tum", "yao", "lomwe", "sena", "tonga"}

// DefaultLocale is used when a document or request names none
const DefaultLocale = "en"

// IsSupportedLocale reports whether locale is one of the site languages
func IsSupportedLocale(locale string) bool {
	return slices.Contains(SupportedLocales, locale)
}

// Document is one page of site knowledge
type Document struct {
	Title   string `yaml:"title"`
	URL     string `yaml:"url"`
	Section string `yaml:"section"`
	Locale  string `yaml:"locale"`
	Content string `yaml:"content"`
}

type corpus struct {
	Documents []Document `yaml:"documents"`
}

// Chunk is one embeddable piece of a document
type Chunk struct {
	ID          string
	Title       string
	URL         string
	Section     string
	Locale      string
	Content     string
	ContentHash string
}

// Metadata returns the vector index metadata stored alongside the chunk
func (c Chunk) Metadata(lastUpdated time.Time) map[string]string {
	return map[string]string{
		"content":      c.Content,
		"title":        c.Title,
		"url":          c.URL,
		"section":      c.Section,
		"locale":       c.Locale,
		"last_updated": lastUpdated.UTC().Format(time.RFC3339),
	}
}

// Embedded returns the corpus compiled into the binary
func Embedded() ([]Document, error) {
	return Parse(embeddedKnowledge)
}

// LoadFile reads a corpus from a YAML file on disk
func LoadFile(path string) ([]Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read corpus %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML corpus. Missing locales default to "en".
func Parse(data []byte) ([]Document, error) {
	var c corpus
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse corpus: %w", err)
	}

	var errs []error
	for i := range c.Documents {
		doc := &c.Documents[i]
		if doc.Locale == "" {
			doc.Locale = DefaultLocale
		}
		if err := doc.validate(); err != nil {
			errs = append(errs, fmt.Errorf("document %d: %w", i, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	return c.Documents, nil
}

func (d Document) validate() error {
	switch {
	case d.Title == "":
		return errors.New("title is required")
	case d.URL == "":
		return errors.New("url is required")
	case d.Content == "":
		return errors.New("content is required")
	case !IsSupportedLocale(d.Locale):
		return fmt.Errorf("unsupported locale %q", d.Locale)
	}
	return nil
}

// Chunks splits every document into sentence-aligned chunks of at most maxChunkSize bytes
func Chunks(docs []Document, maxChunkSize int) []Chunk {
	var chunks []Chunk
	for _, doc := range docs {
		for i, text := range chunker.Split(doc.Content, maxChunkSize) {
			chunks = append(chunks, Chunk{
				ID:          chunker.ChunkID(doc.URL, i),
				Title:       doc.Title,
				URL:         doc.URL,
				Section:     doc.Section,
				Locale:      doc.Locale,
				Content:     text,
				ContentHash: Hash(doc.Title, doc.Locale, text),
			})
		}
	}
	return chunks
}

// Hash fingerprints the fields that affect a chunk's embedding or metadata
func Hash(parts ...string) string {
	h := sha256.New()
	for _, part := range parts {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
