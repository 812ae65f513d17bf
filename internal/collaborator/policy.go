package collaborator

import (
	"context"
	"errors"
	"log/slog"

	"custodia/internal/audit"
	"custodia/internal/platform/config"
	id "custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
)

// Auditor is the slice of the audit publisher the policy needs. Declared
// here so the policy does not depend on the full publisher surface.
type Auditor interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Policy wraps the collaborator ports with the explicit strict/permissive
// decision for unavailable collaborators. Strict mode fails the operation;
// permissive mode allows it and records the skipped check in the audit
// trail. There is no silent default-allow path.
type Policy struct {
	identity IdentityVerifier
	access   AccessPolicy
	mode     config.CollaboratorMode
	auditor  Auditor
	logger   *slog.Logger
}

func NewPolicy(identity IdentityVerifier, access AccessPolicy, mode config.CollaboratorMode, auditor Auditor, logger *slog.Logger) *Policy {
	return &Policy{
		identity: identity,
		access:   access,
		mode:     mode,
		auditor:  auditor,
		logger:   logger,
	}
}

// RequireVerifiedIdentity fails with forbidden when the actor is not a
// verified, intact identity. Collaborator absence or failure resolves per
// the configured mode.
func (p *Policy) RequireVerifiedIdentity(ctx context.Context, actor id.ActorID) error {
	if p.identity == nil {
		return p.unavailable(ctx, actor, "identity verifier not configured")
	}
	ok, err := p.identity.IsVerifiedAndIntact(ctx, actor)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return dErrors.Wrap(err, dErrors.CodeTimeout, "identity verification timed out")
		}
		return p.unavailable(ctx, actor, "identity verifier unreachable")
	}
	if !ok {
		return dErrors.Newf(dErrors.CodeForbidden, "actor %s is not a verified identity", actor)
	}
	return nil
}

// RequireCapability fails with forbidden when the actor does not hold the
// capability. Collaborator absence or failure resolves per the configured
// mode.
func (p *Policy) RequireCapability(ctx context.Context, actor id.ActorID, capability id.Capability) error {
	if p.access == nil {
		return p.unavailable(ctx, actor, "access policy not configured")
	}
	ok, err := p.access.HasCapability(ctx, actor, capability)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return dErrors.Wrap(err, dErrors.CodeTimeout, "capability check timed out")
		}
		return p.unavailable(ctx, actor, "access policy unreachable")
	}
	if !ok {
		return dErrors.Newf(dErrors.CodeForbidden, "actor %s lacks the %s capability", actor, capability)
	}
	return nil
}

// unavailable applies the strict/permissive decision for a check that could
// not be performed.
func (p *Policy) unavailable(ctx context.Context, actor id.ActorID, detail string) error {
	if p.mode == config.ModePermissive {
		if err := p.auditor.Emit(ctx, audit.Event{
			Action: audit.ActionCheckSkipped,
			Actor:  actor,
			Detail: detail,
		}); err != nil {
			// The audit entry is the whole point of permissive mode; if it
			// cannot be written the check cannot be skipped.
			return dErrors.Wrap(err, dErrors.CodeUnavailable, "cannot audit skipped check")
		}
		p.logger.WarnContext(ctx, "collaborator check skipped (permissive mode)",
			"actor", actor,
			"detail", detail,
		)
		return nil
	}
	return dErrors.New(dErrors.CodeUnavailable, detail)
}
