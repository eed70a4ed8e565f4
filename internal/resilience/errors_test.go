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

package resilience

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestServiceError(t *testing.T) {
	internal := errors.New("internal error")
	serviceErr := NewServiceError("user message", ErrorCodeInternalError, http.StatusInternalServerError, internal)

	if serviceErr.Error() != "user message" {
		t.Errorf("Expected 'user message', got %s", serviceErr.Error())
	}
	if !errors.Is(serviceErr, internal) {
		t.Errorf("Expected unwrapped error to be internal error")
	}
}

func TestServiceErrorConstructors(t *testing.T) {
	internal := errors.New("internal")

	tests := []struct {
		name         string
		err          *ServiceError
		expectCode   ErrorCode
		expectStatus int
	}{
		{"validation", NewValidationError("Invalid request format", internal), ErrorCodeValidation, http.StatusBadRequest},
		{"rate limited", NewRateLimitedError("slow down"), ErrorCodeRateLimited, http.StatusTooManyRequests},
		{"unavailable", NewServiceUnavailableError("TTS service temporarily unavailable", internal), ErrorCodeServiceUnavailable, http.StatusServiceUnavailable},
		{"configuration", NewConfigurationError("Configuration error", nil), ErrorCodeConfiguration, http.StatusInternalServerError},
		{"internal", NewInternalError("Internal server error", internal), ErrorCodeInternalError, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Code != tt.expectCode {
				t.Errorf("Expected code %s, got %s", tt.expectCode, tt.err.Code)
			}
			if tt.err.StatusCode != tt.expectStatus {
				t.Errorf("Expected status %d, got %d", tt.expectStatus, tt.err.StatusCode)
			}
		})
	}
}

func TestServiceErrorToErrorResponse(t *testing.T) {
	resp := NewRateLimitedError("Rate limit exceeded").ToErrorResponse("req-123")

	if resp.Error != "Rate limit exceeded" {
		t.Errorf("Expected message, got %s", resp.Error)
	}
	if resp.Code != "RATE_LIMITED" {
		t.Errorf("Expected RATE_LIMITED, got %s", resp.Code)
	}
	if resp.RequestID != "req-123" {
		t.Errorf("Expected request id, got %s", resp.RequestID)
	}
	if resp.Timestamp.IsZero() {
		t.Error("Expected timestamp to be set")
	}
}

func TestAsServiceError(t *testing.T) {
	original := NewValidationError("bad", nil)
	wrapped := fmt.Errorf("handler: %w", original)

	var target *ServiceError
	if !AsServiceError(wrapped, &target) || target != original {
		t.Error("Expected wrapped ServiceError to be found")
	}
	if AsServiceError(errors.New("plain"), &target) {
		t.Error("Expected plain error not to match")
	}
	if AsServiceError(nil, &target) {
		t.Error("Expected nil not to match")
	}
}

func TestErrorHandler_WrapError(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	handler := NewErrorHandler(zap.New(core))

	if handler.WrapError(nil, "noop") != nil {
		t.Error("Expected nil for nil error")
	}

	typed := NewRateLimitedError("slow down")
	if handler.WrapError(typed, "chat") != typed {
		t.Error("Expected typed errors to pass through")
	}

	generic := handler.WrapError(errors.New("dial tcp: connection refused"), "chat")
	if generic.Code != ErrorCodeInternalError || generic.Message != "Internal server error" {
		t.Errorf("Expected generic internal error, got %+v", generic)
	}

	timeout := handler.WrapError(fmt.Errorf("inference: %w", context.DeadlineExceeded), "chat")
	if timeout.Code != ErrorCodeServiceUnavailable {
		t.Errorf("Expected SERVICE_UNAVAILABLE for deadline, got %s", timeout.Code)
	}

	if logs.Len() != 2 {
		t.Errorf("Expected 2 logged errors, got %d", logs.Len())
	}
}

func TestErrorHandler_LogError(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	handler := NewErrorHandler(zap.New(core))

	handler.LogError(nil, "noop")
	handler.LogError(NewValidationError("bad", nil), "leads")
	handler.LogError(errors.New("boom"), "leads", zap.String("route", "/api/leads"))

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(entries))
	}
	if entries[0].Level != zap.WarnLevel {
		t.Errorf("Expected client errors at warn, got %s", entries[0].Level)
	}
	if entries[1].Level != zap.ErrorLevel {
		t.Errorf("Expected server errors at error, got %s", entries[1].Level)
	}
	if entries[1].ContextMap()["route"] != "/api/leads" {
		t.Errorf("Expected extra fields to be logged")
	}

	var nilHandler *ErrorHandler
	nilHandler.LogError(errors.New("ignored"), "noop")
}
