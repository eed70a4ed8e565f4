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

package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.RateLimitDecision("chat", "allowed")
	m.RateLimitDecision("chat", "allowed")
	m.RateLimitDecision("chat", "rejected")
	m.LeadAttempt("failure")
	m.LeadResult("delivered")
	m.InferenceCall("chat", "success")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.rateLimitResults.WithLabelValues("chat", "allowed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rateLimitResults.WithLabelValues("chat", "rejected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.leadAttempts.WithLabelValues("failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.leadResults.WithLabelValues("delivered")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.inferenceResults.WithLabelValues("chat", "success")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.ObserveHTTP("/api/assistant", "200", time.Millisecond)
		m.RateLimitDecision("chat", "allowed")
		m.RetrievalMatches(3)
		m.InferenceCall("speech", "failure")
		m.LeadAttempt("success")
		m.LeadResult("failed")
	})
	assert.Nil(t, m.Registry())
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.ObserveHTTP("/api/leads", "200", 20*time.Millisecond)

	server := httptest.NewServer(m.Handler())
	defer server.Close()

	resp, err := http.Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `korena_http_requests_total{route="/api/leads",status="200"} 1`)
}
