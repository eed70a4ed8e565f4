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

// DefaultLocale applies when a request names no locale
const DefaultLocale = "en"

// ChatRequest is a visitor question
type ChatRequest struct {
	Message   string `json:"message" validate:"required,max=2000"`
	Locale    string `json:"locale"`
	SessionID string `json:"sessionId"`
}

// ChatResponse is the assistant's answer
type ChatResponse struct {
	Response string   `json:"response"`
	Sources  []string `json:"sources"`
}

// RetrievedMatch is one knowledge base hit used to build the prompt
type RetrievedMatch struct {
	Title   string
	Content string
	Score   float64
}
