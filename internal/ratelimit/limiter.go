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

// Package ratelimit implements fixed-window request limits on top of a
// key-value counter store. Store failures never block a request.
package ratelimit

import (
	"context"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/korena-digital/korena-web/internal/kv"
	"github.com/korena-digital/korena-web/internal/metrics"
)

const (
	// ChatKeyPrefix namespaces assistant counters
	ChatKeyPrefix = "rate_limit:assistant:"
	// SpeechKeyPrefix namespaces speech synthesis counters
	SpeechKeyPrefix = "tts_rate_limit:"

	// DefaultChatLimit is the number of chat requests allowed per window
	DefaultChatLimit = 10
	// DefaultChatWindow is the chat window length
	DefaultChatWindow = 60 * time.Second
	// DefaultSpeechLimit is the number of speech requests allowed per window
	DefaultSpeechLimit = 20
	// DefaultSpeechWindow is the speech window length
	DefaultSpeechWindow = time.Hour
)

// Outcomes reported to metrics
const (
	OutcomeAllowed  = "allowed"
	OutcomeRejected = "rejected"
	OutcomeFailOpen = "fail_open"
)

// Policy is a threshold per window
type Policy struct {
	Limit  int
	Window time.Duration
}

// Limiter counts requests per identity in fixed windows
type Limiter struct {
	name    string
	prefix  string
	store   kv.Store
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu     sync.RWMutex
	policy Policy
}

// New creates a limiter. name labels logs and metrics, prefix namespaces keys.
func New(name, prefix string, store kv.Store, policy Policy, logger *zap.Logger, m *metrics.Metrics) *Limiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Limiter{
		name:    name,
		prefix:  prefix,
		store:   store,
		logger:  logger.With(zap.String("limiter", name)),
		metrics: m,
		policy:  policy,
	}
}

// NewChatLimiter creates the assistant limiter: 10 requests per minute by default
func NewChatLimiter(store kv.Store, policy Policy, logger *zap.Logger, m *metrics.Metrics) *Limiter {
	return New("chat", ChatKeyPrefix, store, policy, logger, m)
}

// NewSpeechLimiter creates the speech limiter: 20 requests per hour by default
func NewSpeechLimiter(store kv.Store, policy Policy, logger *zap.Logger, m *metrics.Metrics) *Limiter {
	return New("speech", SpeechKeyPrefix, store, policy, logger, m)
}

// Policy returns the current threshold
func (l *Limiter) Policy() Policy {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.policy
}

// SetPolicy replaces the threshold; windows already open keep their expiry
func (l *Limiter) SetPolicy(policy Policy) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.policy = policy
}

// Allow reports whether identity may make another request in the current window.
// Any counter store error allows the request.
func (l *Limiter) Allow(ctx context.Context, identity string) bool {
	policy := l.Policy()
	key := l.prefix + identity

	if incrementer, ok := l.store.(kv.Incrementer); ok {
		count, err := incrementer.Increment(ctx, key, policy.Window)
		if err != nil {
			return l.failOpen(identity, err)
		}
		return l.decide(identity, count <= int64(policy.Limit), count, policy)
	}

	// Get-then-put fallback for stores without atomic increment. Concurrent
	// requests can under-count, and each put restarts the TTL.
	value, found, err := l.store.Get(ctx, key)
	if err != nil {
		return l.failOpen(identity, err)
	}

	var count int64
	if found {
		count, err = strconv.ParseInt(value, 10, 64)
		if err != nil {
			l.logger.Warn("Discarding unparsable rate limit counter",
				zap.String("key", key),
				zap.String("value", value))
			count = 0
		}
	}

	if count >= int64(policy.Limit) {
		return l.decide(identity, false, count+1, policy)
	}

	if err := l.store.Put(ctx, key, strconv.FormatInt(count+1, 10), policy.Window); err != nil {
		return l.failOpen(identity, err)
	}

	return l.decide(identity, true, count+1, policy)
}

func (l *Limiter) decide(identity string, allowed bool, count int64, policy Policy) bool {
	if allowed {
		l.metrics.RateLimitDecision(l.name, OutcomeAllowed)
		return true
	}

	l.logger.Info("Rate limit exceeded",
		zap.String("identity", identity),
		zap.Int64("count", count),
		zap.Int("limit", policy.Limit),
		zap.Duration("window", policy.Window))
	l.metrics.RateLimitDecision(l.name, OutcomeRejected)
	return false
}

func (l *Limiter) failOpen(identity string, err error) bool {
	l.logger.Error("Rate limiting error, allowing request",
		zap.String("identity", identity),
		zap.Error(err))
	l.metrics.RateLimitDecision(l.name, OutcomeFailOpen)
	return true
}
