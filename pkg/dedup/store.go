/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package dedup

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"github.com/telekom/alarm-escalator/pkg/metrics"
)

// Reservation is the answer of Store.Reserve.
type Reservation struct {
	// Reserved is true when the caller now owns the key
	Reserved bool
	// IssueKey names the issue already created for the key, when known
	IssueKey string
}

// Store records which incidents were already escalated.
//
// Reserve atomically claims key for the in-flight ttl; it reports the key as
// taken when it is already reserved or committed. A successful reservation
// must be followed by Commit (issue created, extends the entry to the
// committed ttl) or Release (escalation did not happen). An abandoned
// reservation lapses after its in-flight ttl.
type Store interface {
	Reserve(ctx context.Context, key string, ttl time.Duration) (Reservation, error)
	Commit(ctx context.Context, key, issueKey string, ttl time.Duration) error
	Release(ctx context.Context, key string) error
	Name() string
}

// DefaultMaxEntries bounds the memory store.
const DefaultMaxEntries = 10000

type entry struct {
	issueKey  string
	committed bool
	expires   time.Time
}

// MemoryStore is a process-local Store backed by an expirable LRU. The LRU
// bounds the size and drops entries after maxTTL; shorter per-entry expiry
// (in-flight reservations) is checked on access.
type MemoryStore struct {
	// mu makes the check-and-reserve atomic
	mu      sync.Mutex
	entries *expirable.LRU[string, entry]
	now     func() time.Time
}

// NewMemoryStore creates a MemoryStore holding at most maxEntries keys for at
// most maxTTL each.
func NewMemoryStore(maxEntries int, maxTTL time.Duration) *MemoryStore {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &MemoryStore{
		entries: expirable.NewLRU[string, entry](maxEntries, nil, maxTTL),
		now:     time.Now,
	}
}

// lookupLocked returns the live entry for key.
func (s *MemoryStore) lookupLocked(key string) (entry, bool) {
	e, ok := s.entries.Peek(key)
	if !ok {
		return entry{}, false
	}
	if !s.now().Before(e.expires) {
		s.entries.Remove(key)
		return entry{}, false
	}
	return e, true
}

func (s *MemoryStore) Reserve(_ context.Context, key string, ttl time.Duration) (Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.lookupLocked(key); ok {
		return Reservation{IssueKey: e.issueKey}, nil
	}
	s.entries.Add(key, entry{expires: s.now().Add(ttl)})
	return Reservation{Reserved: true}, nil
}

func (s *MemoryStore) Commit(_ context.Context, key, issueKey string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries.Add(key, entry{issueKey: issueKey, committed: true, expires: s.now().Add(ttl)})
	return nil
}

// Release forgets an uncommitted reservation.
func (s *MemoryStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries.Peek(key); ok && !e.committed {
		s.entries.Remove(key)
	}
	return nil
}

func (s *MemoryStore) Name() string { return "memory" }

// Len returns the number of tracked keys.
func (s *MemoryStore) Len() int {
	return s.entries.Len()
}

// TieredStore consults a process-local store first and an optional shared
// store second. Failures of the shared store degrade to local-only
// de-duplication and never block an escalation.
type TieredStore struct {
	local  Store
	shared Store
	logger *zap.Logger
}

// NewTieredStore combines local with shared. shared may be nil.
func NewTieredStore(local, shared Store, logger *zap.Logger) *TieredStore {
	return &TieredStore{local: local, shared: shared, logger: logger.Named("dedup")}
}

func (s *TieredStore) Reserve(ctx context.Context, key string, ttl time.Duration) (Reservation, error) {
	res, err := s.local.Reserve(ctx, key, ttl)
	if err != nil {
		return Reservation{}, err
	}
	if !res.Reserved {
		metrics.DedupDecisions.WithLabelValues(s.local.Name(), "duplicate").Inc()
		return res, nil
	}
	if s.shared == nil {
		metrics.DedupDecisions.WithLabelValues(s.local.Name(), "new").Inc()
		return res, nil
	}

	shared, err := s.shared.Reserve(ctx, key, ttl)
	if err != nil {
		s.logger.Warn("shared dedup store unavailable, continuing with local de-duplication",
			zap.String("store", s.shared.Name()),
			zap.String("error", err.Error()))
		metrics.DedupDecisions.WithLabelValues(s.shared.Name(), "error").Inc()
		return res, nil
	}
	if !shared.Reserved {
		// Another execution owns the key. Its reservation may still be
		// released, so the local claim must not outlive this call.
		if err := s.local.Release(ctx, key); err != nil {
			return Reservation{}, err
		}
		metrics.DedupDecisions.WithLabelValues(s.shared.Name(), "duplicate").Inc()
		return shared, nil
	}
	metrics.DedupDecisions.WithLabelValues(s.shared.Name(), "new").Inc()
	return shared, nil
}

func (s *TieredStore) Commit(ctx context.Context, key, issueKey string, ttl time.Duration) error {
	if err := s.local.Commit(ctx, key, issueKey, ttl); err != nil {
		return err
	}
	if s.shared != nil {
		if err := s.shared.Commit(ctx, key, issueKey, ttl); err != nil {
			s.logger.Warn("failed to commit dedup key to shared store",
				zap.String("store", s.shared.Name()),
				zap.String("error", err.Error()))
		}
	}
	return nil
}

func (s *TieredStore) Release(ctx context.Context, key string) error {
	if err := s.local.Release(ctx, key); err != nil {
		return err
	}
	if s.shared != nil {
		if err := s.shared.Release(ctx, key); err != nil {
			s.logger.Warn("failed to release dedup key in shared store",
				zap.String("store", s.shared.Name()),
				zap.String("error", err.Error()))
		}
	}
	return nil
}

func (s *TieredStore) Name() string {
	if s.shared == nil {
		return s.local.Name()
	}
	return s.local.Name() + "+" + s.shared.Name()
}
