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
	"strings"
	"testing"
)

func TestBuildContext(t *testing.T) {
	tests := []struct {
		name    string
		matches []RetrievedMatch
		want    string
	}{
		{
			name: "no matches",
			want: NoContextFound,
		},
		{
			name:    "single match",
			matches: []RetrievedMatch{{Title: "Holo-School Initiative", Content: "Holographic classrooms."}},
			want:    "Source: Holo-School Initiative\nContent: Holographic classrooms.",
		},
		{
			name: "untitled and multiple",
			matches: []RetrievedMatch{
				{Title: "About", Content: "Gold Partner."},
				{Content: "No title here."},
			},
			want: "Source: About\nContent: Gold Partner.\n\nSource: Unknown\nContent: No title here.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BuildContext(tt.matches); got != tt.want {
				t.Errorf("BuildContext() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBuildSystemPrompt_ClosingClauses(t *testing.T) {
	tests := []struct {
		locale string
		suffix string
	}{
		{"ny", "\n\nRespond in Chichewa when possible, but you may use English for technical terms."},
		{"tum", "\n\nRespond in Tumbuka when possible, but you may use English for technical terms."},
		{"en", "- Keep responses concise but informative"},
		{"yao", "- Keep responses concise but informative"},
		{"lomwe", "- Keep responses concise but informative"},
		{"sena", "- Keep responses concise but informative"},
		{"tonga", "- Keep responses concise but informative"},
	}

	for _, tt := range tests {
		t.Run(tt.locale, func(t *testing.T) {
			prompt := BuildSystemPrompt(tt.locale, "Source: X\nContent: Y")
			if !strings.HasSuffix(prompt, tt.suffix) {
				t.Errorf("prompt for %s ends with %q", tt.locale, prompt[len(prompt)-80:])
			}
			if strings.Count(prompt, "Respond in") > 1 {
				t.Errorf("prompt for %s has more than one closing clause", tt.locale)
			}
		})
	}
}

func TestBuildSystemPrompt_Layout(t *testing.T) {
	prompt := BuildSystemPrompt("en", "Source: About\nContent: Gold Partner.")

	for _, want := range []string{
		"You are a helpful AI assistant for Korena Digital Solutions",
		"We're a Microsoft Gold Partner",
		"6. Managed Services (24/7 support, monitoring)",
		"Context from knowledge base:\nSource: About\nContent: Gold Partner.\n\nInstructions:",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestBuildSystemPrompt_EmptyContext(t *testing.T) {
	prompt := BuildSystemPrompt("en", "  ")
	if !strings.Contains(prompt, "Context from knowledge base:\n"+NoContextFound+"\n\nInstructions:") {
		t.Errorf("expected the no-information sentence in place of empty context")
	}
}
