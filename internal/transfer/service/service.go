// Package service implements the custody transfer protocol. A transfer is
// a negotiation record; custody itself only moves on completion, through
// the registry.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"custodia/internal/audit"
	"custodia/internal/collaborator"
	itemmodels "custodia/internal/item/models"
	transfermetrics "custodia/internal/transfer/metrics"
	"custodia/internal/transfer/models"
	"custodia/internal/transfer/store"
	id "custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
	"custodia/pkg/platform/keymutex"
	"custodia/pkg/platform/sentinel"
	"custodia/pkg/platform/tx"
	"custodia/pkg/requestcontext"
)

// CustodyRegistry is the slice of the registry the transfer protocol
// needs: reading the custody cursor and flipping it on completion.
type CustodyRegistry interface {
	Get(ctx context.Context, itemID id.ItemID) (*itemmodels.Item, error)
	TransferCustody(ctx context.Context, itemID id.ItemID, to id.ActorID) (*itemmodels.Item, error)
}

// Protocol orchestrates the transfer state machine.
type Protocol struct {
	transfers store.Store
	registry  CustodyRegistry
	policy    *collaborator.Policy
	locks     *keymutex.KeyMutex
	tx        tx.Runner
	auditor   *audit.Publisher
	metrics   *transfermetrics.Metrics
	logger    *slog.Logger
}

type Option func(*Protocol)

// WithTxRunner sets the unit-of-work runner joining the completion state
// change and the custody flip. Defaults to the no-op runner.
func WithTxRunner(runner tx.Runner) Option {
	return func(p *Protocol) { p.tx = runner }
}

func WithMetrics(m *transfermetrics.Metrics) Option {
	return func(p *Protocol) { p.metrics = m }
}

func NewProtocol(transfers store.Store, registry CustodyRegistry, policy *collaborator.Policy, auditor *audit.Publisher, logger *slog.Logger, opts ...Option) *Protocol {
	p := &Protocol{
		transfers: transfers,
		registry:  registry,
		policy:    policy,
		locks:     keymutex.New(),
		tx:        tx.NoopRunner{},
		auditor:   auditor,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Initiate opens a transfer from the item's current custodian to a
// recipient. The source stage the caller supplies must match the item's
// cursor so a stale view never opens a handoff.
func (p *Protocol) Initiate(
	ctx context.Context,
	itemID id.ItemID,
	from, to id.ActorID,
	sourceStage, targetStage id.Stage,
	transferDigest, conditionsDigest id.Digest,
	requiresVerification bool,
) (*models.Transfer, error) {
	transfer, err := models.NewTransfer(
		id.NewTransferID(), itemID, from, to,
		sourceStage, targetStage, transferDigest, conditionsDigest,
		requiresVerification, requestcontext.Now(ctx),
	)
	if err != nil {
		return nil, err
	}

	if err := p.policy.RequireVerifiedIdentity(ctx, to); err != nil {
		return nil, err
	}

	item, err := p.registry.Get(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if !item.Active {
		return nil, dErrors.New(dErrors.CodeInvalidState, "item is deactivated")
	}
	if from != item.CurrentCustodian {
		return nil, dErrors.Newf(dErrors.CodeForbidden, "actor %s is not the current custodian", from)
	}
	if sourceStage != item.CurrentStage {
		return nil, dErrors.Newf(dErrors.CodeValidation,
			"source stage %d does not match the item's current stage %d", sourceStage, item.CurrentStage)
	}

	// The open-transfer check and the create must be one critical section,
	// or two concurrent initiates could both pass the check.
	key := itemID.String()
	p.locks.Lock(key)
	defer p.locks.Unlock(key)

	open, err := p.transfers.ListOpenByItem(ctx, itemID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check open transfers")
	}
	if len(open) > 0 {
		return nil, dErrors.Newf(dErrors.CodeConflict, "item already has an open transfer %s", open[0].ID)
	}

	if err := p.transfers.Create(ctx, transfer); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeConflict, "item already has an open transfer")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create transfer")
	}

	p.metrics.IncrementInitiated()
	p.logger.InfoContext(ctx, "transfer initiated",
		"transfer_id", transfer.ID,
		"item_id", itemID,
		"from", from,
		"to", to,
	)
	return transfer, nil
}

// Accept moves an initiated transfer to ACCEPTED. Recipient only.
func (p *Protocol) Accept(ctx context.Context, transferID id.TransferID, actor id.ActorID) (*models.Transfer, error) {
	now := requestcontext.Now(ctx)
	transfer, err := p.transfers.Execute(ctx, transferID,
		func(t *models.Transfer) error { return t.CanAccept(actor) },
		func(t *models.Transfer) { t.ApplyAccept(now) },
	)
	if err != nil {
		return nil, wrapTransferErr(err)
	}
	return transfer, nil
}

// Reject declines an initiated transfer. Recipient only; the reason is
// mandatory and retained on the record.
func (p *Protocol) Reject(ctx context.Context, transferID id.TransferID, actor id.ActorID, reason string) (*models.Transfer, error) {
	if reason == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "rejection reason is required")
	}
	now := requestcontext.Now(ctx)
	transfer, err := p.transfers.Execute(ctx, transferID,
		func(t *models.Transfer) error { return t.CanReject(actor) },
		func(t *models.Transfer) { t.ApplyReject(reason, now) },
	)
	if err != nil {
		return nil, wrapTransferErr(err)
	}
	p.metrics.IncrementRejected(false)
	return transfer, nil
}

// Complete finalizes an accepted transfer and flips the item's custody to
// the recipient. Participant only; a transfer flagged for verification
// additionally demands the auditor capability. The state change and the
// custody flip commit as one unit under the transfer's exclusive section.
func (p *Protocol) Complete(ctx context.Context, transferID id.TransferID, actor id.ActorID, completionDigest id.Digest) (*models.Transfer, error) {
	start := time.Now()

	key := transferID.String()
	p.locks.Lock(key)
	defer p.locks.Unlock(key)

	current, err := p.transfers.FindByID(ctx, transferID)
	if err != nil {
		return nil, wrapTransferErr(err)
	}
	if err := current.CanComplete(actor); err != nil {
		return nil, err
	}
	if current.RequiresVerification {
		if err := p.policy.RequireCapability(ctx, actor, id.CapabilityAuditor); err != nil {
			return nil, err
		}
	}

	now := requestcontext.Now(ctx)
	var transfer *models.Transfer
	err = p.tx.RunInTx(ctx, func(txCtx context.Context) error {
		if _, err := p.registry.TransferCustody(txCtx, current.ItemID, current.ToActor); err != nil {
			return err
		}
		transfer, err = p.transfers.Execute(txCtx, transferID,
			func(t *models.Transfer) error { return t.CanComplete(actor) },
			func(t *models.Transfer) { t.ApplyComplete(completionDigest, now) },
		)
		return wrapTransferErr(err)
	})
	if err != nil {
		return nil, err
	}

	p.metrics.IncrementCompleted()
	p.metrics.ObserveComplete(start)
	p.logger.InfoContext(ctx, "transfer completed",
		"transfer_id", transferID,
		"item_id", transfer.ItemID,
		"custodian", transfer.ToActor,
	)
	return transfer, nil
}

// ForceReject is the administrative override: an emergency actor may
// terminate any non-terminal transfer. Always audited.
func (p *Protocol) ForceReject(ctx context.Context, transferID id.TransferID, actor id.ActorID, reason string) (*models.Transfer, error) {
	if reason == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "force rejection reason is required")
	}
	if err := p.policy.RequireCapability(ctx, actor, id.CapabilityEmergency); err != nil {
		return nil, err
	}

	key := transferID.String()
	p.locks.Lock(key)
	defer p.locks.Unlock(key)

	now := requestcontext.Now(ctx)
	var transfer *models.Transfer
	err := p.tx.RunInTx(ctx, func(txCtx context.Context) error {
		var err error
		transfer, err = p.transfers.Execute(txCtx, transferID,
			func(t *models.Transfer) error { return t.CanForceReject() },
			func(t *models.Transfer) { t.ApplyForceReject(reason, now) },
		)
		if err != nil {
			return wrapTransferErr(err)
		}
		if err := p.auditor.Emit(txCtx, audit.Event{
			Action:  audit.ActionTransferForced,
			Actor:   actor,
			ItemID:  transfer.ItemID.String(),
			Subject: transferID.String(),
			Reason:  reason,
		}); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to audit force rejection")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	p.metrics.IncrementRejected(true)
	return transfer, nil
}

// Get retrieves a transfer by ID.
func (p *Protocol) Get(ctx context.Context, transferID id.TransferID) (*models.Transfer, error) {
	if transferID.IsZero() {
		return nil, dErrors.New(dErrors.CodeValidation, "transfer id is required")
	}
	transfer, err := p.transfers.FindByID(ctx, transferID)
	if err != nil {
		return nil, wrapTransferErr(err)
	}
	return transfer, nil
}

// ListByActor returns every transfer the actor participates in, via the
// incrementally maintained participant index.
func (p *Protocol) ListByActor(ctx context.Context, actor id.ActorID) ([]*models.Transfer, error) {
	if actor.IsZero() {
		return nil, dErrors.New(dErrors.CodeValidation, "actor is required")
	}
	transfers, err := p.transfers.ListByActor(ctx, actor)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list transfers")
	}
	return transfers, nil
}

func wrapTransferErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "transfer not found")
	case dErrors.HasCode(err, dErrors.CodeInvalidState),
		dErrors.HasCode(err, dErrors.CodeForbidden),
		dErrors.HasCode(err, dErrors.CodeValidation),
		dErrors.HasCode(err, dErrors.CodeNotFound):
		return err
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "transfer store failure")
	}
}
