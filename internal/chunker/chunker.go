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

// Package chunker splits knowledge base documents into sentence-aligned
// chunks suitable for embedding and retrieval.
package chunker

import (
	"regexp"
	"strconv"
	"strings"
)

// DefaultMaxChunkSize is the chunk size used by ingestion
const DefaultMaxChunkSize = 1000

var sentenceBoundary = regexp.MustCompile(`[.!?]+`)

// Split breaks text on sentence terminators and packs whole sentences into
// chunks of at most maxChunkSize bytes. Sentences are rejoined with ". " and
// every chunk ends with a period. A single sentence longer than the limit
// becomes its own oversized chunk rather than being cut mid-sentence.
func Split(text string, maxChunkSize int) []string {
	if maxChunkSize <= 0 {
		maxChunkSize = DefaultMaxChunkSize
	}

	chunks := []string{}
	var current strings.Builder

	for _, raw := range sentenceBoundary.Split(text, -1) {
		sentence := NormalizeWhitespace(raw)
		if sentence == "" {
			continue
		}

		if current.Len() > 0 && current.Len()+len(". ")+len(sentence)+len(".") > maxChunkSize {
			chunks = append(chunks, current.String()+".")
			current.Reset()
		}

		if current.Len() > 0 {
			current.WriteString(". ")
		}
		current.WriteString(sentence)
	}

	if current.Len() > 0 {
		chunks = append(chunks, current.String()+".")
	}

	return chunks
}

// NormalizeWhitespace collapses runs of whitespace, including the indentation
// of multi-line content blocks, into single spaces
func NormalizeWhitespace(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// ChunkID derives a stable vector id from a page URL and chunk index, e.g.
// "/services/data-ai" chunk 0 becomes "_services_data-ai_0"
func ChunkID(url string, index int) string {
	return strings.ReplaceAll(url, "/", "_") + "_" + strconv.Itoa(index)
}
