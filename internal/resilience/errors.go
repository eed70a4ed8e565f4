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
	"net/http"
	"time"

	"go.uber.org/zap"
)

// ErrorResponse is the JSON body of every failed API request
type ErrorResponse struct {
	Error     string    `json:"error"`
	Code      string    `json:"code,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorCode represents the error codes exposed to API clients
type ErrorCode string

const (
	// ErrorCodeValidation marks malformed or out-of-range input
	ErrorCodeValidation ErrorCode = "VALIDATION_ERROR"
	// ErrorCodeRateLimited marks a rejected rate limit check
	ErrorCodeRateLimited ErrorCode = "RATE_LIMITED"
	// ErrorCodeServiceUnavailable marks a failed upstream dependency
	ErrorCodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	// ErrorCodeConfiguration marks a missing deployment setting
	ErrorCodeConfiguration ErrorCode = "CONFIGURATION_ERROR"
	// ErrorCodeInternalError marks anything else
	ErrorCodeInternalError ErrorCode = "INTERNAL_ERROR"
)

// ServiceError represents an error with additional context for proper handling
type ServiceError struct {
	Message    string
	Code       ErrorCode
	StatusCode int
	Internal   error
}

// Error implements the error interface
func (e *ServiceError) Error() string {
	return e.Message
}

// Unwrap returns the underlying error
func (e *ServiceError) Unwrap() error {
	return e.Internal
}

// ToErrorResponse converts a ServiceError to an ErrorResponse
func (e *ServiceError) ToErrorResponse(requestID string) ErrorResponse {
	return ErrorResponse{
		Error:     e.Message,
		Code:      string(e.Code),
		RequestID: requestID,
		Timestamp: time.Now().UTC(),
	}
}

// NewServiceError creates a new ServiceError with the given parameters
func NewServiceError(message string, code ErrorCode, statusCode int, internal error) *ServiceError {
	return &ServiceError{
		Message:    message,
		Code:       code,
		StatusCode: statusCode,
		Internal:   internal,
	}
}

// NewValidationError creates a 400 error
func NewValidationError(message string, internal error) *ServiceError {
	return NewServiceError(message, ErrorCodeValidation, http.StatusBadRequest, internal)
}

// NewRateLimitedError creates a 429 error
func NewRateLimitedError(message string) *ServiceError {
	return NewServiceError(message, ErrorCodeRateLimited, http.StatusTooManyRequests, nil)
}

// NewServiceUnavailableError creates a 503 error
func NewServiceUnavailableError(message string, internal error) *ServiceError {
	return NewServiceError(message, ErrorCodeServiceUnavailable, http.StatusServiceUnavailable, internal)
}

// NewConfigurationError creates a 500 error for missing deployment settings
func NewConfigurationError(message string, internal error) *ServiceError {
	return NewServiceError(message, ErrorCodeConfiguration, http.StatusInternalServerError, internal)
}

// NewInternalError creates a 500 error
func NewInternalError(message string, internal error) *ServiceError {
	return NewServiceError(message, ErrorCodeInternalError, http.StatusInternalServerError, internal)
}

// AsServiceError reports whether err wraps a ServiceError and stores it in target
func AsServiceError(err error, target **ServiceError) bool {
	if err == nil {
		return false
	}
	return errors.As(err, target)
}

// ErrorHandler maps arbitrary errors onto ServiceErrors and logs them
type ErrorHandler struct {
	logger *zap.Logger
}

// NewErrorHandler creates a new error handler with the given logger
func NewErrorHandler(logger *zap.Logger) *ErrorHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ErrorHandler{logger: logger}
}

// WrapError returns err as a ServiceError. Errors that are not already typed
// become a generic internal error so internals never reach the client.
func (eh *ErrorHandler) WrapError(err error, operation string) *ServiceError {
	if err == nil {
		return nil
	}

	var serviceErr *ServiceError
	if AsServiceError(err, &serviceErr) {
		return serviceErr
	}

	wrapped := NewInternalError("Internal server error", err)
	if errors.Is(err, context.DeadlineExceeded) {
		wrapped = NewServiceUnavailableError("Request timed out", err)
	}

	if eh != nil {
		eh.logger.Error("Error occurred during operation",
			zap.String("operation", operation),
			zap.Error(err),
			zap.String("error_code", string(wrapped.Code)))
	}

	return wrapped
}

// LogError logs an error with appropriate context
func (eh *ErrorHandler) LogError(err error, operation string, fields ...zap.Field) {
	if err == nil || eh == nil {
		return
	}

	logFields := []zap.Field{
		zap.String("operation", operation),
		zap.Error(err),
	}
	logFields = append(logFields, fields...)

	var serviceErr *ServiceError
	if AsServiceError(err, &serviceErr) {
		logFields = append(logFields,
			zap.String("error_code", string(serviceErr.Code)),
			zap.Int("status_code", serviceErr.StatusCode))
		if serviceErr.StatusCode < http.StatusInternalServerError {
			eh.logger.Warn("Operation rejected", logFields...)
			return
		}
	}

	eh.logger.Error("Operation failed", logFields...)
}
