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

package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func healthy(context.Context) CheckResult  { return CheckResult{Status: StatusHealthy} }
func degraded(context.Context) CheckResult { return CheckResult{Status: StatusDegraded, Error: "slow"} }
func unhealthy(context.Context) CheckResult {
	return CheckResult{Status: StatusUnhealthy, Error: "down"}
}

func TestManager_Check(t *testing.T) {
	manager := NewManager("korena-web", "1.0.0", zap.NewNop())
	manager.AddCheckerFunc("kv", healthy)
	manager.AddCheckerFunc("inference", unhealthy)

	result := manager.Check(context.Background())

	if result.Status != StatusUnhealthy {
		t.Errorf("Expected status to be unhealthy, got %s", result.Status)
	}
	if result.Service != "korena-web" {
		t.Errorf("Expected service to be korena-web, got %s", result.Service)
	}
	if result.Version != "1.0.0" {
		t.Errorf("Expected version to be 1.0.0, got %s", result.Version)
	}
	if len(result.Dependencies) != 2 {
		t.Errorf("Expected 2 dependencies, got %d", len(result.Dependencies))
	}
	if result.Dependencies["inference"].Error != "down" {
		t.Errorf("Expected error message, got %s", result.Dependencies["inference"].Error)
	}
	if result.Dependencies["kv"].Timestamp.IsZero() {
		t.Error("Expected timestamp to be set")
	}
}

func TestManager_Check_Statuses(t *testing.T) {
	tests := []struct {
		name     string
		checks   []func(context.Context) CheckResult
		expected string
	}{
		{"no checks", nil, StatusHealthy},
		{"all healthy", []func(context.Context) CheckResult{healthy, healthy}, StatusHealthy},
		{"one degraded", []func(context.Context) CheckResult{healthy, degraded}, StatusDegraded},
		{"unhealthy wins", []func(context.Context) CheckResult{degraded, unhealthy, healthy}, StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			manager := NewManager("korena-web", "1.0.0", nil)
			for i, check := range tt.checks {
				manager.AddCheckerFunc(string(rune('a'+i)), check)
			}

			if got := manager.Check(context.Background()).Status; got != tt.expected {
				t.Errorf("Expected %s, got %s", tt.expected, got)
			}
		})
	}
}

func TestManager_Check_Timeout(t *testing.T) {
	manager := NewManager("korena-web", "1.0.0", zap.NewNop())
	manager.SetTimeout(20 * time.Millisecond)
	manager.AddChecker("chroma", PingChecker("vector index", StatusDegraded, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	result := manager.Check(context.Background())

	if result.Status != StatusDegraded {
		t.Errorf("Expected degraded, got %s", result.Status)
	}
	if !strings.Contains(result.Dependencies["chroma"].Error, "deadline exceeded") {
		t.Errorf("Expected deadline error, got %s", result.Dependencies["chroma"].Error)
	}
}

func TestPingChecker(t *testing.T) {
	ok := PingChecker("counter store", StatusDegraded, func(context.Context) error { return nil })
	if got := ok.Check(context.Background()).Status; got != StatusHealthy {
		t.Errorf("Expected healthy, got %s", got)
	}

	failing := PingChecker("counter store", StatusDegraded, func(context.Context) error {
		return errors.New("dial tcp: connection refused")
	})
	result := failing.Check(context.Background())
	if result.Status != StatusDegraded {
		t.Errorf("Expected degraded, got %s", result.Status)
	}
	if !strings.Contains(result.Error, "counter store check failed") {
		t.Errorf("Unexpected error message: %s", result.Error)
	}
}

func TestStaticChecker(t *testing.T) {
	result := StaticChecker(false, StatusUnhealthy, "inference API key not configured", nil).Check(context.Background())
	if result.Status != StatusUnhealthy {
		t.Errorf("Expected unhealthy, got %s", result.Status)
	}

	result = StaticChecker(true, StatusUnhealthy, "unused", map[string]any{"model": "tts-1"}).Check(context.Background())
	if result.Status != StatusHealthy || result.Error != "" {
		t.Errorf("Expected healthy without error, got %+v", result)
	}
}

func TestManager_Handler(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name       string
		check      func(context.Context) CheckResult
		wantStatus int
		wantBody   string
	}{
		{"healthy", healthy, http.StatusOK, StatusHealthy},
		{"degraded keeps 200", degraded, http.StatusOK, StatusDegraded},
		{"unhealthy", unhealthy, http.StatusServiceUnavailable, StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			manager := NewManager("korena-web", "1.0.0", zap.NewNop())
			manager.AddCheckerFunc("dep", tt.check)

			router := gin.New()
			router.GET("/health", manager.Handler())

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

			if w.Code != tt.wantStatus {
				t.Errorf("Expected status %d, got %d", tt.wantStatus, w.Code)
			}

			var report Report
			if err := json.Unmarshal(w.Body.Bytes(), &report); err != nil {
				t.Fatalf("Failed to decode report: %v", err)
			}
			if report.Status != tt.wantBody {
				t.Errorf("Expected report status %s, got %s", tt.wantBody, report.Status)
			}
		})
	}
}
