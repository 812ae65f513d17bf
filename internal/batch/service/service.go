// Package service implements batch grouping and split/merge lineage. A
// batch is a quantity ledger over member items; split and merge retire
// their sources and leave immutable lineage edges behind.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"custodia/internal/audit"
	batchmetrics "custodia/internal/batch/metrics"
	"custodia/internal/batch/models"
	"custodia/internal/batch/store"
	"custodia/internal/collaborator"
	itemmodels "custodia/internal/item/models"
	id "custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
	"custodia/pkg/platform/keymutex"
	"custodia/pkg/platform/sentinel"
	"custodia/pkg/requestcontext"
)

// ItemDirectory is the slice of the registry the batch module needs: it
// only ever checks that a member item exists.
type ItemDirectory interface {
	Get(ctx context.Context, itemID id.ItemID) (*itemmodels.Item, error)
}

// Lineage orchestrates batch membership and the split/merge family tree.
type Lineage struct {
	batches store.Store
	items   ItemDirectory
	policy  *collaborator.Policy
	locks   *keymutex.KeyMutex
	auditor *audit.Publisher
	metrics *batchmetrics.Metrics
	logger  *slog.Logger
}

func NewLineage(batches store.Store, items ItemDirectory, policy *collaborator.Policy, auditor *audit.Publisher, metrics *batchmetrics.Metrics, logger *slog.Logger) *Lineage {
	return &Lineage{
		batches: batches,
		items:   items,
		policy:  policy,
		locks:   keymutex.New(),
		auditor: auditor,
		metrics: metrics,
		logger:  logger,
	}
}

// CreateBatch opens an empty batch under a forever-unique code.
func (l *Lineage) CreateBatch(ctx context.Context, code string, contentDigest id.Digest, creator id.ActorID) (*models.Batch, error) {
	if err := l.policy.RequireVerifiedIdentity(ctx, creator); err != nil {
		return nil, err
	}

	batch, err := models.NewBatch(id.NewBatchID(), code, contentDigest, creator, requestcontext.Now(ctx))
	if err != nil {
		return nil, err
	}
	if err := l.batches.CreateIfCodeAvailable(ctx, batch); err != nil {
		if errors.Is(err, sentinel.ErrCodeTaken) {
			return nil, dErrors.Newf(dErrors.CodeConflict, "batch code %q is already used", code)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create batch")
	}

	l.metrics.IncrementCreated()
	return batch, nil
}

// Get retrieves a batch by ID.
func (l *Lineage) Get(ctx context.Context, batchID id.BatchID) (*models.Batch, error) {
	if batchID.IsZero() {
		return nil, dErrors.New(dErrors.CodeValidation, "batch id is required")
	}
	batch, err := l.batches.FindByID(ctx, batchID)
	if err != nil {
		return nil, wrapBatchErr(err)
	}
	return batch, nil
}

// AddItem attaches an existing item to the batch with a positive quantity.
// An item belongs to at most one batch; the item's exclusive section makes
// the membership check and the attach race-free.
func (l *Lineage) AddItem(ctx context.Context, batchID id.BatchID, itemID id.ItemID, quantity int64) (*models.Batch, error) {
	if _, err := l.items.Get(ctx, itemID); err != nil {
		return nil, err
	}

	key := itemID.String()
	l.locks.Lock(key)
	defer l.locks.Unlock(key)

	if existing, err := l.batches.BatchForItem(ctx, itemID); err == nil {
		return nil, dErrors.Newf(dErrors.CodeConflict, "item already belongs to batch %s", existing)
	} else if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to resolve item membership")
	}

	now := requestcontext.Now(ctx)
	batch, err := l.batches.Execute(ctx, batchID,
		func(b *models.Batch) error { return b.CanAddItem(itemID, quantity) },
		func(b *models.Batch) { b.ApplyAddItem(itemID, quantity, now) },
	)
	if err != nil {
		return nil, wrapBatchErr(err)
	}

	l.metrics.IncrementAttached()
	return batch, nil
}

// Split partitions a batch's quantity into at least two child batches,
// retires the source, and records one SPLIT edge. All-or-nothing: a taken
// child code rolls the whole operation back. Membership stays on the
// retired source until relocated with MoveItem.
func (l *Lineage) Split(ctx context.Context, batchID id.BatchID, quantities []int64, newCodes []string, actor id.ActorID) ([]*models.Batch, error) {
	if len(quantities) != len(newCodes) {
		return nil, dErrors.New(dErrors.CodeValidation, "one code is required per split part")
	}
	seen := make(map[string]bool, len(newCodes))
	for _, code := range newCodes {
		if seen[strings.ToLower(code)] {
			return nil, dErrors.Newf(dErrors.CodeValidation, "duplicate child code %q", code)
		}
		seen[strings.ToLower(code)] = true
	}

	source, err := l.batches.FindByID(ctx, batchID)
	if err != nil {
		return nil, wrapBatchErr(err)
	}

	now := requestcontext.Now(ctx)
	children := make([]*models.Batch, len(newCodes))
	childIDs := make([]id.BatchID, len(newCodes))
	for i, code := range newCodes {
		child, err := models.NewBatch(
			id.NewBatchID(), code,
			id.DigestOf(fmt.Appendf(nil, "%s|%s|%d", source.ContentDigest, code, quantities[i])),
			actor, now,
		)
		if err != nil {
			return nil, err
		}
		child.TotalQuantity = quantities[i]
		children[i] = child
		childIDs[i] = child.ID
	}

	rel := &models.LineageRelationship{
		Kind:       models.RelationSplit,
		Parents:    []id.BatchID{batchID},
		Children:   childIDs,
		Actor:      actor,
		RecordedAt: now,
	}
	err = l.batches.Split(ctx, batchID,
		func(b *models.Batch) error { return b.CanSplit(quantities) },
		func(b *models.Batch) { b.ApplyDeactivation("split", now) },
		children, rel,
	)
	if err != nil {
		if errors.Is(err, sentinel.ErrCodeTaken) {
			return nil, dErrors.New(dErrors.CodeConflict, "a child batch code is already used")
		}
		return nil, wrapBatchErr(err)
	}

	if err := l.auditor.Emit(ctx, audit.Event{
		Action:  audit.ActionBatchSplit,
		Actor:   actor,
		Subject: batchID.String(),
		Detail:  fmt.Sprintf("split into %d batches", len(children)),
	}); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to audit split")
	}

	l.metrics.IncrementSplit()
	l.logger.InfoContext(ctx, "batch split",
		"batch_id", batchID,
		"children", len(children),
		"actor", actor,
	)
	return children, nil
}

// Merge combines at least two active batches into one, summing quantities
// and carrying membership over. Sources are retired; one MERGE edge is
// recorded. All-or-nothing.
func (l *Lineage) Merge(ctx context.Context, batchIDs []id.BatchID, newCode string, actor id.ActorID) (*models.Batch, error) {
	if len(batchIDs) < 2 {
		return nil, dErrors.New(dErrors.CodeValidation, "a merge needs at least two source batches")
	}
	seen := make(map[id.BatchID]bool, len(batchIDs))
	for _, batchID := range batchIDs {
		if seen[batchID] {
			return nil, dErrors.Newf(dErrors.CodeValidation, "duplicate source batch %s", batchID)
		}
		seen[batchID] = true
	}

	now := requestcontext.Now(ctx)
	mergedID := id.NewBatchID()
	rel := &models.LineageRelationship{
		Kind:       models.RelationMerge,
		Parents:    batchIDs,
		Children:   []id.BatchID{mergedID},
		Actor:      actor,
		RecordedAt: now,
	}

	merged, err := l.batches.Merge(ctx, batchIDs,
		func(sources []*models.Batch) error {
			for _, source := range sources {
				if err := source.CanMergeWith(); err != nil {
					return err
				}
			}
			return nil
		},
		func(b *models.Batch) { b.ApplyDeactivation("merged", now) },
		func(sources []*models.Batch) (*models.Batch, error) {
			built, err := models.NewBatch(mergedID, newCode, mergeDigest(sources), actor, now)
			if err != nil {
				return nil, err
			}
			for _, source := range sources {
				built.TotalQuantity += source.TotalQuantity
				for itemID, quantity := range source.Members {
					built.Members[itemID] = quantity
				}
			}
			return built, nil
		},
		rel,
	)
	if err != nil {
		if errors.Is(err, sentinel.ErrCodeTaken) {
			return nil, dErrors.Newf(dErrors.CodeConflict, "batch code %q is already used", newCode)
		}
		return nil, wrapBatchErr(err)
	}

	if err := l.auditor.Emit(ctx, audit.Event{
		Action:  audit.ActionBatchMerged,
		Actor:   actor,
		Subject: merged.ID.String(),
		Detail:  fmt.Sprintf("merged from %d batches", len(batchIDs)),
	}); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to audit merge")
	}

	l.metrics.IncrementMerged()
	l.logger.InfoContext(ctx, "batches merged",
		"merged_id", merged.ID,
		"sources", len(batchIDs),
		"actor", actor,
	)
	return merged, nil
}

// MoveItem relocates a member from a split source into one of its direct
// children. The destination's quantity allocation bounds what it can
// receive; the member's quantity travels with it.
func (l *Lineage) MoveItem(ctx context.Context, fromID, toID id.BatchID, itemID id.ItemID) error {
	if fromID == toID {
		return dErrors.New(dErrors.CodeValidation, "source and destination batches are the same")
	}

	rels, err := l.batches.Relationships(ctx, fromID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load lineage")
	}
	var linked bool
	for i := range rels {
		if rels[i].Kind == models.RelationSplit && rels[i].IsParentOf(fromID, toID) {
			linked = true
			break
		}
	}
	if !linked {
		return dErrors.New(dErrors.CodeValidation, "destination is not a split child of the source batch")
	}

	key := itemID.String()
	l.locks.Lock(key)
	defer l.locks.Unlock(key)

	err = l.batches.MoveItem(ctx, fromID, toID, itemID, func(from, to *models.Batch) error {
		if !from.HasMember(itemID) {
			return dErrors.New(dErrors.CodeNotFound, "item is not a member of the source batch")
		}
		return to.CanReceiveMember(itemID, from.Members[itemID])
	})
	if err != nil {
		return wrapBatchErr(err)
	}
	return nil
}

// Lineage returns every split and merge edge reachable from the batch,
// ancestors and descendants both, oldest first.
func (l *Lineage) Lineage(ctx context.Context, batchID id.BatchID) ([]models.LineageRelationship, error) {
	if _, err := l.batches.FindByID(ctx, batchID); err != nil {
		return nil, wrapBatchErr(err)
	}

	visited := map[id.BatchID]bool{batchID: true}
	collected := make(map[string]models.LineageRelationship)
	queue := []id.BatchID{batchID}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		rels, err := l.batches.Relationships(ctx, current)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load lineage")
		}
		for i := range rels {
			collected[edgeKey(&rels[i])] = rels[i]
			for _, next := range rels[i].Parents {
				if !visited[next] {
					visited[next] = true
					queue = append(queue, next)
				}
			}
			for _, next := range rels[i].Children {
				if !visited[next] {
					visited[next] = true
					queue = append(queue, next)
				}
			}
		}
	}

	out := make([]models.LineageRelationship, 0, len(collected))
	for _, rel := range collected {
		out = append(out, rel)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RecordedAt.Before(out[j].RecordedAt) })
	return out, nil
}

// edgeKey identifies an edge for deduplication during the lineage walk.
func edgeKey(rel *models.LineageRelationship) string {
	var sb strings.Builder
	sb.WriteString(string(rel.Kind))
	for _, p := range rel.Parents {
		sb.WriteString("|" + p.String())
	}
	sb.WriteString(">")
	for _, c := range rel.Children {
		sb.WriteString("|" + c.String())
	}
	return sb.String()
}

func mergeDigest(sources []*models.Batch) id.Digest {
	parts := make([]string, len(sources))
	for i, source := range sources {
		parts[i] = source.ContentDigest.String()
	}
	sort.Strings(parts)
	return id.DigestOf([]byte(strings.Join(parts, "|")))
}

func wrapBatchErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "batch not found")
	case dErrors.HasCode(err, dErrors.CodeInvalidState),
		dErrors.HasCode(err, dErrors.CodeConflict),
		dErrors.HasCode(err, dErrors.CodeValidation),
		dErrors.HasCode(err, dErrors.CodeNotFound):
		return err
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "batch store failure")
	}
}
