// Package service implements the hash-chain ledger. Append is the only
// mutation path; every record links to its predecessor's digest so
// retroactive edits are detectable by a single ordered walk.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"custodia/internal/audit"
	itemmodels "custodia/internal/item/models"
	ledgermetrics "custodia/internal/ledger/metrics"
	"custodia/internal/ledger/models"
	"custodia/internal/ledger/store"
	id "custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
	"custodia/pkg/platform/keymutex"
	"custodia/pkg/platform/sentinel"
	"custodia/pkg/platform/tx"
	"custodia/pkg/requestcontext"
)

// ItemCursor is the slice of the item store the ledger needs: reading the
// chain anchor and atomically advancing the stage cursor. The registry
// module owns the full store.
type ItemCursor interface {
	FindByID(ctx context.Context, itemID id.ItemID) (*itemmodels.Item, error)
	Execute(ctx context.Context, itemID id.ItemID, validate func(*itemmodels.Item) error, mutate func(*itemmodels.Item)) (*itemmodels.Item, error)
}

// Ledger orchestrates stage-chain appends and verification reads.
type Ledger struct {
	chain   store.Store
	items   ItemCursor
	cache   store.TailCache
	locks   *keymutex.KeyMutex
	tx      tx.Runner
	auditor *audit.Publisher
	metrics *ledgermetrics.Metrics
	logger  *slog.Logger
}

type Option func(*Ledger)

// WithTailCache enables the advisory tail digest cache.
func WithTailCache(cache store.TailCache) Option {
	return func(l *Ledger) { l.cache = cache }
}

// WithTxRunner sets the unit-of-work runner joining the chain append and
// the cursor advance. Defaults to the no-op runner for memory stores.
func WithTxRunner(runner tx.Runner) Option {
	return func(l *Ledger) { l.tx = runner }
}

func WithMetrics(m *ledgermetrics.Metrics) Option {
	return func(l *Ledger) { l.metrics = m }
}

func NewLedger(chain store.Store, items ItemCursor, auditor *audit.Publisher, logger *slog.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		chain:   chain,
		items:   items,
		locks:   keymutex.New(),
		tx:      tx.NoopRunner{},
		auditor: auditor,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// AppendStage extends an item's chain by exactly one record. The caller
// must be the current custodian and the target must be the next ordinal.
// Cursor advance and record append commit as one unit; per-item ordering
// is guaranteed by the item's exclusive section.
func (l *Ledger) AppendStage(ctx context.Context, itemID id.ItemID, target id.Stage, stageDigest id.Digest, actor id.ActorID) (*models.StageRecord, error) {
	start := time.Now()
	if itemID.IsZero() {
		return nil, dErrors.New(dErrors.CodeValidation, "item id is required")
	}
	if stageDigest.IsZero() {
		return nil, dErrors.New(dErrors.CodeValidation, "stage digest cannot be the zero sentinel")
	}
	if actor.IsZero() {
		return nil, dErrors.New(dErrors.CodeValidation, "actor is required")
	}

	key := itemID.String()
	l.locks.Lock(key)
	defer l.locks.Unlock(key)

	now := requestcontext.Now(ctx)
	var record *models.StageRecord
	err := l.tx.RunInTx(ctx, func(txCtx context.Context) error {
		item, err := l.items.Execute(txCtx, itemID,
			func(i *itemmodels.Item) error { return i.CanAppendStage(target, actor) },
			func(i *itemmodels.Item) { i.ApplyStageAdvance(target, now) },
		)
		if err != nil {
			return wrapChainErr(err)
		}

		link := item.RootDigest
		tail, err := l.chain.Tail(txCtx, itemID)
		switch {
		case err == nil:
			if tail.Stage != target-1 {
				// The cursor and the chain disagree; this should be
				// impossible through the append path and means the store
				// was touched out of band.
				return l.integrityFailure(txCtx, itemID, actor, "chain tail does not match stage cursor")
			}
			link = tail.StageDigest
		case errors.Is(err, sentinel.ErrNotFound):
			if target != id.StageRegistered.Next() {
				return l.integrityFailure(txCtx, itemID, actor, "chain empty but stage cursor advanced")
			}
		default:
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to read chain tail")
		}

		record = &models.StageRecord{
			ItemID:      itemID,
			Stage:       target,
			StageDigest: stageDigest,
			LinkDigest:  link,
			Actor:       actor,
			RecordedAt:  now,
		}
		if err := l.chain.Append(txCtx, record); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				return dErrors.Newf(dErrors.CodeInvalidState, "stage %d is already recorded", target)
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to append stage record")
		}
		// The trail entry joins the transaction: an append never commits
		// without its audit record, and vice versa.
		if err := l.auditor.Emit(txCtx, audit.Event{
			Action:  audit.ActionStageAppended,
			Actor:   actor,
			ItemID:  itemID.String(),
			Subject: target.String(),
		}); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to audit stage append")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if l.cache != nil {
		l.cache.SetTail(ctx, itemID, stageDigest)
	}

	l.metrics.IncrementAppended()
	l.metrics.ObserveAppend(start)
	return record, nil
}

// Chain returns the ordered record list for external consumers.
func (l *Ledger) Chain(ctx context.Context, itemID id.ItemID) ([]models.StageRecord, error) {
	if itemID.IsZero() {
		return nil, dErrors.New(dErrors.CodeValidation, "item id is required")
	}
	if _, err := l.items.FindByID(ctx, itemID); err != nil {
		return nil, wrapChainErr(err)
	}
	chain, err := l.chain.Chain(ctx, itemID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load chain")
	}
	return chain, nil
}

// IsChainIntact walks the full chain once, verifying every link back to the
// root digest. Read-only and side-effect free.
func (l *Ledger) IsChainIntact(ctx context.Context, itemID id.ItemID) (bool, error) {
	start := time.Now()
	item, err := l.items.FindByID(ctx, itemID)
	if err != nil {
		return false, wrapChainErr(err)
	}
	chain, err := l.chain.Chain(ctx, itemID)
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load chain")
	}

	prev := item.RootDigest
	for i := range chain {
		if chain[i].Stage != id.Stage(i+1) || !chain[i].Links(prev) {
			l.metrics.ObserveChainWalk(start)
			return false, nil
		}
		prev = chain[i].StageDigest
	}
	l.metrics.ObserveChainWalk(start)
	return true, nil
}

// VerifyStageDigest compares a supplied digest against the stored record
// for one stage ordinal. O(1); no chain walk.
func (l *Ledger) VerifyStageDigest(ctx context.Context, itemID id.ItemID, stage id.Stage, supplied id.Digest) (bool, error) {
	if supplied.IsZero() {
		return false, dErrors.New(dErrors.CodeValidation, "supplied digest cannot be the zero sentinel")
	}
	record, err := l.chain.ByStage(ctx, itemID, stage)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return false, dErrors.Newf(dErrors.CodeNotFound, "no record at stage %d", stage)
		}
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load stage record")
	}
	return record.StageDigest == supplied, nil
}

// TailDigest returns the digest of the most recent record, serving from
// the advisory cache when possible. Falls back to the root digest for an
// item with an empty chain.
func (l *Ledger) TailDigest(ctx context.Context, itemID id.ItemID) (id.Digest, error) {
	if l.cache != nil {
		if digest, ok := l.cache.GetTail(ctx, itemID); ok {
			l.metrics.RecordTailCache(true)
			return digest, nil
		}
		l.metrics.RecordTailCache(false)
	}

	tail, err := l.chain.Tail(ctx, itemID)
	if err == nil {
		if l.cache != nil {
			l.cache.SetTail(ctx, itemID, tail.StageDigest)
		}
		return tail.StageDigest, nil
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		return id.ZeroDigest, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read chain tail")
	}

	item, err := l.items.FindByID(ctx, itemID)
	if err != nil {
		return id.ZeroDigest, wrapChainErr(err)
	}
	return item.RootDigest, nil
}

// MarkVerified is invoked by the integrity verifier after a successful
// external check; it annotates, never alters, the chain.
func (l *Ledger) MarkVerified(ctx context.Context, itemID id.ItemID, upTo id.Stage) error {
	if err := l.chain.MarkVerified(ctx, itemID, upTo); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to flag verified records")
	}
	return nil
}

func (l *Ledger) integrityFailure(ctx context.Context, itemID id.ItemID, actor id.ActorID, detail string) error {
	if err := l.auditor.Emit(ctx, audit.Event{
		Action: audit.ActionIntegrityViolated,
		Actor:  actor,
		ItemID: itemID.String(),
		Detail: detail,
	}); err != nil {
		l.logger.ErrorContext(ctx, "failed to audit integrity violation",
			"item_id", itemID,
			"error", err,
		)
	}
	return dErrors.New(dErrors.CodeIntegrity, detail)
}

func wrapChainErr(err error) error {
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
		return dErrors.Wrap(err, dErrors.CodeInternal, "ledger store failure")
	}
}
