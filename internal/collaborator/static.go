package collaborator

import (
	"context"
	"sync"

	id "custodia/pkg/domain"
)

// StaticIdentity is an allowlist-backed IdentityVerifier for wiring demos
// and tests.
type StaticIdentity struct {
	mu         sync.RWMutex
	verified   map[id.ActorID]bool
	reputation map[id.ActorID]int
}

func NewStaticIdentity() *StaticIdentity {
	return &StaticIdentity{
		verified:   make(map[id.ActorID]bool),
		reputation: make(map[id.ActorID]int),
	}
}

func (s *StaticIdentity) SetVerified(actor id.ActorID, reputation int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.verified[actor] = true
	s.reputation[actor] = reputation
}

func (s *StaticIdentity) Revoke(actor id.ActorID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.verified, actor)
}

func (s *StaticIdentity) IsVerifiedAndIntact(_ context.Context, actor id.ActorID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.verified[actor], nil
}

func (s *StaticIdentity) Reputation(_ context.Context, actor id.ActorID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reputation[actor], nil
}

// StaticAccessPolicy grants capabilities from an in-memory table.
type StaticAccessPolicy struct {
	mu     sync.RWMutex
	grants map[id.ActorID]map[id.Capability]bool
}

func NewStaticAccessPolicy() *StaticAccessPolicy {
	return &StaticAccessPolicy{grants: make(map[id.ActorID]map[id.Capability]bool)}
}

func (s *StaticAccessPolicy) Grant(actor id.ActorID, capabilities ...id.Capability) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.grants[actor] == nil {
		s.grants[actor] = make(map[id.Capability]bool)
	}
	for _, c := range capabilities {
		s.grants[actor][c] = true
	}
}

func (s *StaticAccessPolicy) HasCapability(_ context.Context, actor id.ActorID, capability id.Capability) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.grants[actor][capability], nil
}
