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

package kv

import (
	"context"
	"strconv"
	"sync"
	"time"
)

const (
	// SweepInterval bounds how long expired entries linger between writes
	SweepInterval = time.Minute
	// minSweepThreshold is the entry count that forces a sweep regardless of time
	minSweepThreshold = 1024
)

type memoryEntry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// MemoryStore is a process-local Store. It is the default backend for a single
// instance and the substitute for Redis in tests. Expired entries are
// removed on read and swept on write, so keys that are never seen again
// do not accumulate.
type MemoryStore struct {
	entries   map[string]memoryEntry
	mutex     sync.Mutex
	now       func() time.Time
	lastSweep time.Time
	sweepAt   int
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithClock(time.Now)
}

// NewMemoryStoreWithClock creates a store that reads time from now
func NewMemoryStoreWithClock(now func() time.Time) *MemoryStore {
	return &MemoryStore{
		entries:   make(map[string]memoryEntry),
		now:       now,
		lastSweep: now(),
		sweepAt:   minSweepThreshold,
	}
}

// Get returns the value stored under key
func (m *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	entry, ok := m.lookup(key)
	if !ok {
		return "", false, nil
	}
	return entry.value, true, nil
}

// Put stores value under key; a non-positive ttl keeps it until deleted
func (m *MemoryStore) Put(_ context.Context, key, value string, ttl time.Duration) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	entry := memoryEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = m.now().Add(ttl)
	}
	m.entries[key] = entry
	m.maybeSweep()
	return nil
}

// Delete removes key
func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	delete(m.entries, key)
	return nil
}

// Increment adds one to the integer stored under key. A new key starts at 1
// and expires ttl later; existing keys keep their expiry.
func (m *MemoryStore) Increment(_ context.Context, key string, ttl time.Duration) (int64, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	entry, ok := m.lookup(key)
	if !ok {
		entry = memoryEntry{value: "0"}
		if ttl > 0 {
			entry.expiresAt = m.now().Add(ttl)
		}
	}

	count, err := strconv.ParseInt(entry.value, 10, 64)
	if err != nil {
		return 0, err
	}
	count++
	entry.value = strconv.FormatInt(count, 10)
	m.entries[key] = entry
	m.maybeSweep()

	return count, nil
}

// Len returns the number of live entries
func (m *MemoryStore) Len() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.sweep()
	return len(m.entries)
}

// Close drops all entries
func (m *MemoryStore) Close() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.entries = make(map[string]memoryEntry)
	m.sweepAt = minSweepThreshold
	return nil
}

// lookup must be called with the mutex held
func (m *MemoryStore) lookup(key string) (memoryEntry, bool) {
	entry, ok := m.entries[key]
	if !ok {
		return memoryEntry{}, false
	}
	if entry.expired(m.now()) {
		delete(m.entries, key)
		return memoryEntry{}, false
	}
	return entry, true
}

// maybeSweep runs a sweep once SweepInterval has passed or the map has
// doubled since the last one. Must be called with the mutex held.
func (m *MemoryStore) maybeSweep() {
	if len(m.entries) < m.sweepAt && m.now().Sub(m.lastSweep) < SweepInterval {
		return
	}
	m.sweep()
}

// sweep must be called with the mutex held
func (m *MemoryStore) sweep() {
	now := m.now()
	for key, entry := range m.entries {
		if entry.expired(now) {
			delete(m.entries, key)
		}
	}
	m.lastSweep = now
	m.sweepAt = max(2*len(m.entries), minSweepThreshold)
}
