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

package leads

// Interests lists the accepted areas of interest
var Interests = []string{
	"cloud-modern-work",
	"data-ai",
	"security-compliance",
	"power-platform",
	"government-portals",
	"managed-services",
	"holo-school",
	"fintech-payments",
	"general",
}

// Submission is a contact form lead. Website is a honeypot that real
// visitors never see or fill.
type Submission struct {
	Name         string `json:"name" validate:"min=2"`
	Email        string `json:"email" validate:"required,email"`
	Phone        string `json:"phone,omitempty"`
	Organization string `json:"organization,omitempty"`
	Interest     string `json:"interest" validate:"oneof=cloud-modern-work data-ai security-compliance power-platform government-portals managed-services holo-school fintech-payments general"`
	Message      string `json:"message" validate:"min=10"`
	Consent      bool   `json:"consent" validate:"eq=true"`
	Locale       string `json:"locale"`
	Source       string `json:"source"`
	Website      string `json:"website,omitempty"`
}

// RequestMeta describes the HTTP request a lead arrived on
type RequestMeta struct {
	Referer   string
	UserAgent string
	IP        string
}

// OutboundPayload is the JSON body posted to the workflow webhook
type OutboundPayload struct {
	Name         string `json:"name"`
	Email        string `json:"email"`
	Phone        string `json:"phone"`
	Organization string `json:"organization"`
	Interest     string `json:"interest"`
	Message      string `json:"message"`
	Consent      bool   `json:"consent"`
	Source       string `json:"source"`
	Locale       string `json:"locale"`
	Timestamp    string `json:"timestamp"`
	Page         string `json:"page"`
	UserAgent    string `json:"userAgent"`
	IP           string `json:"ip"`
}

// Result is returned to the contact form
type Result struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}
