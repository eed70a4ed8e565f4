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

// Package kv provides the key-value counter store used for rate limiting.
// Values expire through a store-managed TTL; callers never reset counters.
package kv

import (
	"context"
	"time"
)

// Store is the minimal key-value contract: get, put with expiry and delete.
// Get reports found=false for missing or expired keys without an error.
type Store interface {
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Put(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Incrementer is implemented by stores that can bump a counter and set its
// expiry as one atomic step. The TTL is only applied when the key is created,
// which gives fixed windows instead of sliding ones.
type Incrementer interface {
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// Pinger is implemented by stores with a reachable backend
type Pinger interface {
	Ping(ctx context.Context) error
}
