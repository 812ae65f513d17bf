// Package service implements the product registry: item identity, custody
// cursor, and activation state. It owns all Item mutation; the ledger,
// transfer, and verifier modules go through it.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"custodia/internal/audit"
	"custodia/internal/collaborator"
	itemmetrics "custodia/internal/item/metrics"
	"custodia/internal/item/models"
	"custodia/internal/item/store"
	id "custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
	"custodia/pkg/platform/sentinel"
	"custodia/pkg/platform/tx"
	"custodia/pkg/requestcontext"
)

// Registry orchestrates item lifecycle management.
type Registry struct {
	items   store.Store
	policy  *collaborator.Policy
	tx      tx.Runner
	auditor *audit.Publisher
	metrics *itemmetrics.Metrics
	logger  *slog.Logger
}

type Option func(*Registry)

// WithTxRunner sets the unit-of-work runner joining each item mutation
// and its audit trail entry. Defaults to the no-op runner.
func WithTxRunner(runner tx.Runner) Option {
	return func(r *Registry) { r.tx = runner }
}

func NewRegistry(items store.Store, policy *collaborator.Policy, auditor *audit.Publisher, metrics *itemmetrics.Metrics, logger *slog.Logger, opts ...Option) *Registry {
	r := &Registry{
		items:   items,
		policy:  policy,
		tx:      tx.NoopRunner{},
		auditor: auditor,
		metrics: metrics,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register creates a new tracked item owned by the origin actor at stage 0.
// The root digest becomes the anchor the first chain link must reference.
func (r *Registry) Register(ctx context.Context, batchCode string, rootDigest id.Digest, origin id.ActorID) (*models.Item, error) {
	start := time.Now()

	if err := r.policy.RequireVerifiedIdentity(ctx, origin); err != nil {
		return nil, err
	}
	if err := r.policy.RequireCapability(ctx, origin, id.CapabilityProducer); err != nil {
		return nil, err
	}

	item, err := models.NewItem(id.NewItemID(), batchCode, rootDigest, origin, requestcontext.Now(ctx))
	if err != nil {
		return nil, err
	}

	err = r.tx.RunInTx(ctx, func(txCtx context.Context) error {
		if err := r.items.CreateIfCodeAvailable(txCtx, item); err != nil {
			if errors.Is(err, sentinel.ErrCodeTaken) {
				return dErrors.Newf(dErrors.CodeConflict, "batch code %q is already used", batchCode)
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to register item")
		}
		if err := r.auditor.Emit(txCtx, audit.Event{
			Action: audit.ActionItemRegistered,
			Actor:  origin,
			ItemID: item.ID.String(),
			Detail: batchCode,
		}); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to audit registration")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.metrics.IncrementRegistered()
	r.metrics.ObserveRegister(start)
	return item, nil
}

// Get retrieves an item by ID.
func (r *Registry) Get(ctx context.Context, itemID id.ItemID) (*models.Item, error) {
	if itemID.IsZero() {
		return nil, dErrors.New(dErrors.CodeValidation, "item id is required")
	}
	item, err := r.items.FindByID(ctx, itemID)
	if err != nil {
		return nil, wrapItemErr(err)
	}
	return item, nil
}

// GetByBatchCode resolves an item by its forever-unique batch code.
func (r *Registry) GetByBatchCode(ctx context.Context, batchCode string) (*models.Item, error) {
	if batchCode == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "batch code is required")
	}
	item, err := r.items.FindByBatchCode(ctx, batchCode)
	if err != nil {
		return nil, wrapItemErr(err)
	}
	return item, nil
}

// ListByOwner returns all items currently in the custody of an actor, via
// the incrementally maintained custodian index.
func (r *Registry) ListByOwner(ctx context.Context, owner id.ActorID) ([]*models.Item, error) {
	if owner.IsZero() {
		return nil, dErrors.New(dErrors.CodeValidation, "owner is required")
	}
	items, err := r.items.ListByOwner(ctx, owner)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list items")
	}
	return items, nil
}

// Deactivate halts all further stage and custody mutation on the item.
// Admin capability required; history is untouched.
func (r *Registry) Deactivate(ctx context.Context, itemID id.ItemID, actor id.ActorID, reason string) (*models.Item, error) {
	if reason == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "deactivation reason is required")
	}
	if err := r.policy.RequireCapability(ctx, actor, id.CapabilityAdmin); err != nil {
		return nil, err
	}
	return r.deactivate(ctx, itemID, actor, reason)
}

// DeactivateForIntegrity is the integrity-violation path: it bypasses the
// admin capability because it is invoked by the verifier's tamper policy,
// not by a caller. Always audited as an integrity action.
func (r *Registry) DeactivateForIntegrity(ctx context.Context, itemID id.ItemID, reporter id.ActorID, reason string) (*models.Item, error) {
	item, err := r.deactivate(ctx, itemID, reporter, reason)
	if err != nil {
		// Already-deactivated is fine here: repeated tamper reports must
		// not fail once the item is quarantined.
		if dErrors.HasCode(err, dErrors.CodeInvalidState) {
			return r.Get(ctx, itemID)
		}
		return nil, err
	}
	return item, nil
}

func (r *Registry) deactivate(ctx context.Context, itemID id.ItemID, actor id.ActorID, reason string) (*models.Item, error) {
	now := requestcontext.Now(ctx)
	var item *models.Item
	err := r.tx.RunInTx(ctx, func(txCtx context.Context) error {
		var err error
		item, err = r.items.Execute(txCtx, itemID,
			func(i *models.Item) error { return i.CanDeactivate() },
			func(i *models.Item) { i.ApplyDeactivation(reason, now) },
		)
		if err != nil {
			return wrapItemErr(err)
		}
		if err := r.auditor.Emit(txCtx, audit.Event{
			Action: audit.ActionItemDeactivated,
			Actor:  actor,
			ItemID: itemID.String(),
			Reason: reason,
		}); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to audit deactivation")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.metrics.IncrementDeactivated()
	r.logger.InfoContext(ctx, "item deactivated",
		"item_id", itemID,
		"actor", actor,
		"reason", reason,
	)
	return item, nil
}

// Reactivate restores a deactivated item without altering history.
// Admin capability required.
func (r *Registry) Reactivate(ctx context.Context, itemID id.ItemID, actor id.ActorID) (*models.Item, error) {
	if err := r.policy.RequireCapability(ctx, actor, id.CapabilityAdmin); err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	var item *models.Item
	err := r.tx.RunInTx(ctx, func(txCtx context.Context) error {
		var err error
		item, err = r.items.Execute(txCtx, itemID,
			func(i *models.Item) error { return i.CanReactivate() },
			func(i *models.Item) { i.ApplyReactivation(now) },
		)
		if err != nil {
			return wrapItemErr(err)
		}
		if err := r.auditor.Emit(txCtx, audit.Event{
			Action: audit.ActionItemReactivated,
			Actor:  actor,
			ItemID: itemID.String(),
		}); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to audit reactivation")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// TransferCustody flips the custody cursor. Called by the transfer service
// on completion; it deliberately does not touch the stage chain.
func (r *Registry) TransferCustody(ctx context.Context, itemID id.ItemID, to id.ActorID) (*models.Item, error) {
	now := requestcontext.Now(ctx)
	item, err := r.items.Execute(ctx, itemID,
		func(i *models.Item) error { return i.CanChangeCustodian() },
		func(i *models.Item) { i.ApplyCustodyChange(to, now) },
	)
	if err != nil {
		return nil, wrapItemErr(err)
	}
	return item, nil
}

// AttachQualityEvidence stores an oracle result pointer on the item. The
// evidence digest is opaque; confidence is clamped to [0,1] by validation.
func (r *Registry) AttachQualityEvidence(ctx context.Context, itemID id.ItemID, result collaborator.QualityResult) (*models.Item, error) {
	if result.EvidenceDigest.IsZero() {
		return nil, dErrors.New(dErrors.CodeValidation, "evidence digest cannot be the zero sentinel")
	}
	if result.Confidence < 0 || result.Confidence > 1 {
		return nil, dErrors.New(dErrors.CodeValidation, "confidence must be within [0,1]")
	}
	if result.Oracle.IsZero() {
		return nil, dErrors.New(dErrors.CodeValidation, "oracle actor is required")
	}

	now := requestcontext.Now(ctx)
	item, err := r.items.Execute(ctx, itemID,
		func(i *models.Item) error {
			if !i.Active {
				return dErrors.New(dErrors.CodeInvalidState, "item is deactivated")
			}
			return nil
		},
		func(i *models.Item) {
			i.ApplyQualityEvidence(models.Quality{
				EvidenceDigest: result.EvidenceDigest,
				Confidence:     result.Confidence,
				Oracle:         result.Oracle,
			}, now)
		},
	)
	if err != nil {
		return nil, wrapItemErr(err)
	}
	return item, nil
}

func wrapItemErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "item not found")
	case dErrors.HasCode(err, dErrors.CodeInvalidState),
		dErrors.HasCode(err, dErrors.CodeForbidden),
		dErrors.HasCode(err, dErrors.CodeValidation):
		return err
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "item store failure")
	}
}
