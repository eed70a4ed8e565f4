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
)

// NoContextFound replaces the context block when retrieval found nothing
const NoContextFound = "No specific information found in the knowledge base."

const basePromptHead = `You are a helpful AI assistant for Korena Digital Solutions, a leading digital transformation company in Malawi. You help visitors learn about our services, solutions, and how we can assist with their digital transformation needs.

Company Overview:
- Korena Digital Solutions is based in Malawi
- We specialize in Microsoft Azure, Microsoft 365, Power Platform, and government digital services
- We're a Microsoft Gold Partner
- We work with government, healthcare, education, and finance sectors
- We have innovative projects like the Holo-School initiative

Services:
1. Cloud & Modern Work (Azure migration, Microsoft 365)
2. Data & AI (Power BI, analytics, AI solutions)
3. Security & Compliance (Microsoft Defender, compliance frameworks)
4. Power Platform (Power Apps, Power Automate, Copilot Studio)
5. Government Portals (e-governance, citizen services)
6. Managed Services (24/7 support, monitoring)

Context from knowledge base:
`

const basePromptTail = `

Instructions:
- Be helpful, professional, and knowledgeable
- Focus on Korena's services and capabilities
- If you don't know something specific, suggest contacting our team
- Always be truthful about what Korena can and cannot do
- Encourage visitors to reach out for consultations
- Keep responses concise but informative`

// closingClauses holds the language instruction appended for locales the
// model can answer in. Other locales get the base prompt only.
var closingClauses = map[string]string{
	"ny":  "\n\nRespond in Chichewa when possible, but you may use English for technical terms.",
	"tum": "\n\nRespond in Tumbuka when possible, but you may use English for technical terms.",
}

// BuildContext renders matches as "Source/Content" blocks separated by a blank line
func BuildContext(matches []RetrievedMatch) string {
	if len(matches) == 0 {
		return NoContextFound
	}

	blocks := make([]string, 0, len(matches))
	for _, match := range matches {
		title := match.Title
		if title == "" {
			title = "Unknown"
		}
		blocks = append(blocks, "Source: "+title+"\nContent: "+match.Content)
	}

	return strings.Join(blocks, "\n\n")
}

// BuildSystemPrompt assembles the company description, the context block and
// the locale's closing clause
func BuildSystemPrompt(locale, context string) string {
	if strings.TrimSpace(context) == "" {
		context = NoContextFound
	}

	var b strings.Builder
	b.Grow(len(basePromptHead) + len(context) + len(basePromptTail) + 96)
	b.WriteString(basePromptHead)
	b.WriteString(context)
	b.WriteString(basePromptTail)
	b.WriteString(closingClauses[locale])

	return b.String()
}
