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

package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/korena-digital/korena-web/internal/assistant"
	"github.com/korena-digital/korena-web/internal/leads"
	"github.com/korena-digital/korena-web/internal/resilience"
	"github.com/korena-digital/korena-web/internal/speech"
)

const (
	msgInvalidRequest   = "Invalid request format"
	msgMethodNotAllowed = "Method not allowed"
)

func (h *handlers) handleChat(c *gin.Context) {
	var req assistant.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, resilience.NewValidationError(msgInvalidRequest, err), "chat")
		return
	}

	resp, err := h.deps.Assistant.Answer(c.Request.Context(), req, ClientAddress(c.Request))
	if err != nil {
		h.fail(c, err, "chat")
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (h *handlers) handleChatMethodNotAllowed(c *gin.Context) {
	c.JSON(http.StatusMethodNotAllowed, gin.H{"error": msgMethodNotAllowed})
}

func (h *handlers) handleSpeech(c *gin.Context) {
	var req speech.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, resilience.NewValidationError(msgInvalidRequest, err), "speech")
		return
	}

	audio, err := h.deps.Speech.Synthesize(c.Request.Context(), req, ClientAddress(c.Request))
	if err != nil {
		h.fail(c, err, "speech")
		return
	}
	defer func() { _ = audio.Close() }()

	c.DataFromReader(http.StatusOK, -1, speech.ContentType, audio, map[string]string{
		"Cache-Control": speech.CacheControl,
	})
}

func (h *handlers) handleSpeechMethodNotAllowed(c *gin.Context) {
	c.JSON(http.StatusMethodNotAllowed, gin.H{"error": msgMethodNotAllowed, "usage": speech.Usage})
}

// handleLead always answers 200; the outcome is in the body for the form
func (h *handlers) handleLead(c *gin.Context) {
	var lead leads.Submission
	if err := c.ShouldBindJSON(&lead); err != nil {
		h.logger.Warn("Malformed lead submission",
			zap.String("request_id", GetRequestID(c)),
			zap.Error(err))
		c.JSON(http.StatusOK, leads.Result{Success: false, Error: leads.MsgInvalid})
		return
	}

	result := h.deps.Leads.Submit(c.Request.Context(), lead, leads.RequestMeta{
		Referer:   c.GetHeader("Referer"),
		UserAgent: c.GetHeader("User-Agent"),
		IP:        ClientAddress(c.Request),
	})
	c.JSON(http.StatusOK, result)
}

func (h *handlers) fail(c *gin.Context, err error, operation string) {
	var typed *resilience.ServiceError
	if resilience.AsServiceError(err, &typed) {
		h.errorHandler.LogError(typed, operation, zap.String("request_id", GetRequestID(c)))
	}
	// untyped errors are logged by WrapError before being masked
	writeError(c, h.errorHandler.WrapError(err, operation))
}
