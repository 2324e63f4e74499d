package onetime

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is the in-process Store. A single mutex guards the map; every
// check-then-consume runs under it, which gives Redeem its one-winner
// guarantee without per-key locks.
type MemoryStore struct {
	mu        sync.Mutex
	artifacts map[string]*Artifact
	now       func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		artifacts: make(map[string]*Artifact),
		now:       time.Now,
	}
}

func storeKey(kind Kind, key string) string {
	return string(kind) + ":" + key
}

func (s *MemoryStore) Put(_ context.Context, a *Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *a
	s.artifacts[storeKey(a.Kind, a.Key)] = &copied
	return nil
}

func (s *MemoryStore) Get(_ context.Context, kind Kind, key string) (*Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.artifacts[storeKey(kind, key)]
	if !ok {
		return nil, ErrNotFound
	}
	if a.ConsumedAt != nil {
		return nil, ErrConsumed
	}
	if !s.now().Before(a.ExpiresAt) {
		return nil, ErrExpired
	}
	copied := *a
	return &copied, nil
}

func (s *MemoryStore) Redeem(_ context.Context, kind Kind, key string) (*Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.artifacts[storeKey(kind, key)]
	if !ok {
		return nil, ErrNotFound
	}
	if a.ConsumedAt != nil {
		return nil, ErrConsumed
	}
	now := s.now()
	if !now.Before(a.ExpiresAt) {
		return nil, ErrExpired
	}
	a.ConsumedAt = &now
	copied := *a
	return &copied, nil
}

func (s *MemoryStore) Update(_ context.Context, a *Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.artifacts[storeKey(a.Kind, a.Key)]
	if !ok {
		return ErrNotFound
	}
	if existing.ConsumedAt != nil {
		return ErrConsumed
	}
	copied := *a
	s.artifacts[storeKey(a.Kind, a.Key)] = &copied
	return nil
}

func (s *MemoryStore) Revoke(_ context.Context, kind Kind, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.artifacts[storeKey(kind, key)]
	if !ok || a.ConsumedAt != nil {
		return nil
	}
	now := s.now()
	a.ConsumedAt = &now
	return nil
}

func (s *MemoryStore) RevokeFamily(_ context.Context, kind Kind, familyID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	revoked := 0
	for _, a := range s.artifacts {
		if a.Kind == kind && a.FamilyID == familyID && a.ConsumedAt == nil {
			a.ConsumedAt = &now
			revoked++
		}
	}
	return revoked, nil
}

func (s *MemoryStore) DeleteExpired(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	deleted := 0
	for k, a := range s.artifacts {
		if a.ConsumedAt != nil || !now.Before(a.ExpiresAt) {
			delete(s.artifacts, k)
			deleted++
		}
	}
	return deleted, nil
}
