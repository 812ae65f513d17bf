// Package collaborator defines the narrow interfaces custodia depends on
// but does not implement: actor identity, capability policy, and the
// quality oracle. Implementations are injected at wiring time.
package collaborator

import (
	"context"

	id "custodia/pkg/domain"
)

//go:generate mockgen -source=ports.go -destination=mocks/mocks.go -package=mocks

// IdentityVerifier answers whether an actor is a verified, non-compromised
// identity, and exposes its reputation score.
type IdentityVerifier interface {
	IsVerifiedAndIntact(ctx context.Context, actor id.ActorID) (bool, error)
	Reputation(ctx context.Context, actor id.ActorID) (int, error)
}

// AccessPolicy gates privileged operations on named capabilities.
type AccessPolicy interface {
	HasCapability(ctx context.Context, actor id.ActorID, capability id.Capability) (bool, error)
}

// QualityResult is the opaque outcome delivered by the quality/ML oracle.
// The core stores the evidence pointer and confidence; it never interprets
// the underlying classification.
type QualityResult struct {
	EvidenceDigest id.Digest
	Confidence     float64
	Oracle         id.ActorID
}
