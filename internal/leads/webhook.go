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

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultClientIdentifier is sent as the User-Agent of webhook calls
const DefaultClientIdentifier = "Korena-Website/1.0"

// DefaultCallTimeout bounds one webhook call
const DefaultCallTimeout = 10 * time.Second

// WebhookError is a non-2xx webhook response
type WebhookError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *WebhookError) Error() string {
	return fmt.Sprintf("webhook returned HTTP %d: %s", e.StatusCode, e.Status)
}

// Webhook posts JSON payloads to a workflow automation endpoint
type Webhook struct {
	httpClient       *http.Client
	clientIdentifier string
}

// NewWebhook creates a webhook client with a per-call timeout
func NewWebhook(clientIdentifier string, timeout time.Duration) *Webhook {
	if clientIdentifier == "" {
		clientIdentifier = DefaultClientIdentifier
	}
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	return &Webhook{
		httpClient:       &http.Client{Timeout: timeout},
		clientIdentifier: clientIdentifier,
	}
}

// Post sends payload once. Any status outside 2xx is a *WebhookError.
func (w *Webhook) Post(ctx context.Context, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", w.clientIdentifier)

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &WebhookError{StatusCode: resp.StatusCode, Status: resp.Status, Body: string(data)}
	}

	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
