package service

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/suite"

	"custodia/internal/audit"
	"custodia/internal/batch/models"
	"custodia/internal/batch/store"
	"custodia/internal/collaborator"
	itemmodels "custodia/internal/item/models"
	itemservice "custodia/internal/item/service"
	itemstore "custodia/internal/item/store"
	"custodia/internal/platform/config"
	id "custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
)

const creator id.ActorID = "producer-1"

type LineageSuite struct {
	suite.Suite
	ctx      context.Context
	lineage  *Lineage
	registry *itemservice.Registry
	trail    *audit.InMemoryStore
}

func (s *LineageSuite) SetupTest() {
	s.ctx = context.Background()
	identity := collaborator.NewStaticIdentity()
	access := collaborator.NewStaticAccessPolicy()
	s.trail = audit.NewInMemoryStore()

	auditor := audit.NewPublisher(s.trail, slog.Default())
	policy := collaborator.NewPolicy(identity, access, config.ModeStrict, auditor, slog.Default())
	s.registry = itemservice.NewRegistry(itemstore.NewInMemory(), policy, auditor, nil, slog.Default())
	s.lineage = NewLineage(store.NewInMemory(), s.registry, policy, auditor, nil, slog.Default())

	identity.SetVerified(creator, 80)
	access.Grant(creator, id.CapabilityProducer)
}

func TestLineageSuite(t *testing.T) {
	suite.Run(t, new(LineageSuite))
}

func (s *LineageSuite) createBatch(code string) *models.Batch {
	batch, err := s.lineage.CreateBatch(s.ctx, code, id.DigestOf([]byte(code)), creator)
	s.Require().NoError(err)
	return batch
}

func (s *LineageSuite) registerItem(code string) *itemmodels.Item {
	item, err := s.registry.Register(s.ctx, code, id.DigestOf([]byte(code+"-root")), creator)
	s.Require().NoError(err)
	return item
}

func (s *LineageSuite) TestCreateBatch() {
	s.Run("creates an empty active batch", func() {
		batch := s.createBatch("B-NEW")
		s.True(batch.Active)
		s.Empty(batch.Members)
		s.Zero(batch.TotalQuantity)
	})

	s.Run("code is reserved forever", func() {
		s.createBatch("B-TAKEN")
		_, err := s.lineage.CreateBatch(s.ctx, "b-taken", id.DigestOf([]byte("x")), creator)
		s.Require().Error(err)
		s.True(dErrors.Is(err, dErrors.CodeConflict))
	})

	s.Run("surrounding whitespace does not mint a new code", func() {
		s.createBatch("B-PADDED")
		_, err := s.lineage.CreateBatch(s.ctx, "  B-PADDED  ", id.DigestOf([]byte("x")), creator)
		s.Require().Error(err)
		s.True(dErrors.Is(err, dErrors.CodeConflict))
	})

	s.Run("unverified creator rejected", func() {
		_, err := s.lineage.CreateBatch(s.ctx, "B-STRANGER", id.DigestOf([]byte("x")), "stranger")
		s.Require().Error(err)
		s.True(dErrors.Is(err, dErrors.CodeForbidden))
	})
}

func (s *LineageSuite) TestAddItem() {
	s.Run("attaches a member and grows the total", func() {
		batch := s.createBatch("B-ADD")
		item := s.registerItem("LOT-ADD")

		updated, err := s.lineage.AddItem(s.ctx, batch.ID, item.ID, 40)
		s.Require().NoError(err)
		s.True(updated.HasMember(item.ID))
		s.Equal(int64(40), updated.TotalQuantity)
	})

	s.Run("an item belongs to one batch at a time", func() {
		first := s.createBatch("B-FIRST")
		second := s.createBatch("B-SECOND")
		item := s.registerItem("LOT-ONE")

		_, err := s.lineage.AddItem(s.ctx, first.ID, item.ID, 10)
		s.Require().NoError(err)

		_, err = s.lineage.AddItem(s.ctx, second.ID, item.ID, 10)
		s.Require().Error(err)
		s.True(dErrors.Is(err, dErrors.CodeConflict))
	})

	s.Run("non-positive quantity rejected", func() {
		batch := s.createBatch("B-QTY")
		item := s.registerItem("LOT-QTY")

		_, err := s.lineage.AddItem(s.ctx, batch.ID, item.ID, 0)
		s.Require().Error(err)
		s.True(dErrors.Is(err, dErrors.CodeValidation))
	})

	s.Run("unknown item rejected", func() {
		batch := s.createBatch("B-GHOST")
		_, err := s.lineage.AddItem(s.ctx, batch.ID, id.NewItemID(), 5)
		s.Require().Error(err)
		s.True(dErrors.Is(err, dErrors.CodeNotFound))
	})
}

func (s *LineageSuite) TestSplit() {
	s.Run("partitions quantity and retires the source", func() {
		batch := s.createBatch("B-SPLIT")
		item := s.registerItem("LOT-SPLIT")
		_, err := s.lineage.AddItem(s.ctx, batch.ID, item.ID, 100)
		s.Require().NoError(err)

		children, err := s.lineage.Split(s.ctx, batch.ID, []int64{40, 60}, []string{"B-SPLIT-A", "B-SPLIT-B"}, creator)
		s.Require().NoError(err)
		s.Require().Len(children, 2)
		s.Equal(int64(40), children[0].TotalQuantity)
		s.Equal(int64(60), children[1].TotalQuantity)

		source, err := s.lineage.Get(s.ctx, batch.ID)
		s.Require().NoError(err)
		s.False(source.Active)
		s.True(source.HasMember(item.ID), "membership stays on the source until moved")

		rels, err := s.lineage.Lineage(s.ctx, batch.ID)
		s.Require().NoError(err)
		s.Require().Len(rels, 1)
		s.Equal(models.RelationSplit, rels[0].Kind)
		s.Equal([]id.BatchID{batch.ID}, rels[0].Parents)
	})

	s.Run("parts exceeding the total rejected", func() {
		batch := s.createBatch("B-OVER")
		item := s.registerItem("LOT-OVER")
		_, err := s.lineage.AddItem(s.ctx, batch.ID, item.ID, 50)
		s.Require().NoError(err)

		_, err = s.lineage.Split(s.ctx, batch.ID, []int64{40, 60}, []string{"B-OVER-A", "B-OVER-B"}, creator)
		s.Require().Error(err)
		s.True(dErrors.Is(err, dErrors.CodeValidation))
	})

	s.Run("fewer than two parts rejected", func() {
		batch := s.createBatch("B-LONE")
		_, err := s.lineage.Split(s.ctx, batch.ID, []int64{10}, []string{"B-LONE-A"}, creator)
		s.Require().Error(err)
		s.True(dErrors.Is(err, dErrors.CodeValidation))
	})

	s.Run("taken child code fails the whole split", func() {
		s.createBatch("B-CLASH-A")
		batch := s.createBatch("B-CLASH")
		item := s.registerItem("LOT-CLASH")
		_, err := s.lineage.AddItem(s.ctx, batch.ID, item.ID, 100)
		s.Require().NoError(err)

		_, err = s.lineage.Split(s.ctx, batch.ID, []int64{40, 60}, []string{"B-CLASH-A", "B-CLASH-B"}, creator)
		s.Require().Error(err)
		s.True(dErrors.Is(err, dErrors.CodeConflict))

		source, err := s.lineage.Get(s.ctx, batch.ID)
		s.Require().NoError(err)
		s.True(source.Active, "failed split must leave the source untouched")
		_, err = s.lineage.Lineage(s.ctx, batch.ID)
		s.Require().NoError(err)
	})

	s.Run("split of a retired batch rejected", func() {
		batch := s.createBatch("B-TWICE")
		item := s.registerItem("LOT-TWICE")
		_, err := s.lineage.AddItem(s.ctx, batch.ID, item.ID, 100)
		s.Require().NoError(err)
		_, err = s.lineage.Split(s.ctx, batch.ID, []int64{50, 50}, []string{"B-TWICE-A", "B-TWICE-B"}, creator)
		s.Require().NoError(err)

		_, err = s.lineage.Split(s.ctx, batch.ID, []int64{50, 50}, []string{"B-TWICE-C", "B-TWICE-D"}, creator)
		s.Require().Error(err)
		s.True(dErrors.Is(err, dErrors.CodeInvalidState))
	})
}

func (s *LineageSuite) TestMerge() {
	s.Run("sums quantities and carries membership", func() {
		left := s.createBatch("B-LEFT")
		right := s.createBatch("B-RIGHT")
		itemL := s.registerItem("LOT-LEFT")
		itemR := s.registerItem("LOT-RIGHT")
		_, err := s.lineage.AddItem(s.ctx, left.ID, itemL.ID, 30)
		s.Require().NoError(err)
		_, err = s.lineage.AddItem(s.ctx, right.ID, itemR.ID, 70)
		s.Require().NoError(err)

		merged, err := s.lineage.Merge(s.ctx, []id.BatchID{left.ID, right.ID}, "B-MERGED", creator)
		s.Require().NoError(err)
		s.Equal(int64(100), merged.TotalQuantity)
		s.True(merged.HasMember(itemL.ID))
		s.True(merged.HasMember(itemR.ID))

		for _, sourceID := range []id.BatchID{left.ID, right.ID} {
			source, err := s.lineage.Get(s.ctx, sourceID)
			s.Require().NoError(err)
			s.False(source.Active)
		}

		rels, err := s.lineage.Lineage(s.ctx, merged.ID)
		s.Require().NoError(err)
		s.Require().Len(rels, 1)
		s.Equal(models.RelationMerge, rels[0].Kind)
	})

	s.Run("retired source fails the merge", func() {
		a := s.createBatch("B-MA")
		b := s.createBatch("B-MB")
		item := s.registerItem("LOT-MA")
		_, err := s.lineage.AddItem(s.ctx, a.ID, item.ID, 100)
		s.Require().NoError(err)
		_, err = s.lineage.Split(s.ctx, a.ID, []int64{50, 50}, []string{"B-MA-1", "B-MA-2"}, creator)
		s.Require().NoError(err)

		_, err = s.lineage.Merge(s.ctx, []id.BatchID{a.ID, b.ID}, "B-MX", creator)
		s.Require().Error(err)
		s.True(dErrors.Is(err, dErrors.CodeInvalidState))
	})

	s.Run("fewer than two sources rejected", func() {
		a := s.createBatch("B-SOLO")
		_, err := s.lineage.Merge(s.ctx, []id.BatchID{a.ID}, "B-SOLO-M", creator)
		s.Require().Error(err)
		s.True(dErrors.Is(err, dErrors.CodeValidation))
	})

	s.Run("duplicate sources rejected", func() {
		a := s.createBatch("B-DUPSRC")
		_, err := s.lineage.Merge(s.ctx, []id.BatchID{a.ID, a.ID}, "B-DUPSRC-M", creator)
		s.Require().Error(err)
		s.True(dErrors.Is(err, dErrors.CodeValidation))
	})
}

func (s *LineageSuite) TestMoveItem() {
	setupSplit := func(prefix string, qty int64) (*models.Batch, []*models.Batch, *itemmodels.Item) {
		batch := s.createBatch(prefix)
		item := s.registerItem("LOT-" + prefix)
		_, err := s.lineage.AddItem(s.ctx, batch.ID, item.ID, qty)
		s.Require().NoError(err)
		children, err := s.lineage.Split(s.ctx, batch.ID, []int64{qty / 2, qty / 2},
			[]string{prefix + "-A", prefix + "-B"}, creator)
		s.Require().NoError(err)
		return batch, children, item
	}

	s.Run("relocates a member into a split child", func() {
		batch, children, item := setupSplit("B-MOVE", 100)

		err := s.lineage.MoveItem(s.ctx, batch.ID, children[0].ID, item.ID)
		s.Require().Error(err, "a 100-quantity member cannot fit a 50 allocation")
		s.True(dErrors.Is(err, dErrors.CodeValidation))

		small := s.registerItem("LOT-B-MOVE-SMALL")
		fresh := s.createBatch("B-MOVE-FRESH")
		_, err = s.lineage.AddItem(s.ctx, fresh.ID, small.ID, 30)
		s.Require().NoError(err)
		freshChildren, err := s.lineage.Split(s.ctx, fresh.ID, []int64{20, 40},
			[]string{"B-MOVE-FRESH-A", "B-MOVE-FRESH-B"}, creator)
		s.Require().NoError(err)

		s.Require().NoError(s.lineage.MoveItem(s.ctx, fresh.ID, freshChildren[1].ID, small.ID))

		child, err := s.lineage.Get(s.ctx, freshChildren[1].ID)
		s.Require().NoError(err)
		s.True(child.HasMember(small.ID))
		s.Equal(int64(30), child.Members[small.ID], "quantity travels with the member")

		source, err := s.lineage.Get(s.ctx, fresh.ID)
		s.Require().NoError(err)
		s.False(source.HasMember(small.ID))
	})

	s.Run("destination must be a split child of the source", func() {
		batch, _, item := setupSplit("B-WRONG", 100)
		unrelated := s.createBatch("B-UNRELATED")

		err := s.lineage.MoveItem(s.ctx, batch.ID, unrelated.ID, item.ID)
		s.Require().Error(err)
		s.True(dErrors.Is(err, dErrors.CodeValidation))
	})

	s.Run("non-member cannot move", func() {
		batch, children, _ := setupSplit("B-NOMEM", 100)
		outsider := s.registerItem("LOT-OUTSIDER")

		err := s.lineage.MoveItem(s.ctx, batch.ID, children[0].ID, outsider.ID)
		s.Require().Error(err)
		s.True(dErrors.Is(err, dErrors.CodeNotFound))
	})
}

func (s *LineageSuite) TestLineageTraversal() {
	root := s.createBatch("B-ROOT")
	item := s.registerItem("LOT-ROOT")
	_, err := s.lineage.AddItem(s.ctx, root.ID, item.ID, 100)
	s.Require().NoError(err)

	children, err := s.lineage.Split(s.ctx, root.ID, []int64{40, 60}, []string{"B-GEN-A", "B-GEN-B"}, creator)
	s.Require().NoError(err)
	merged, err := s.lineage.Merge(s.ctx, []id.BatchID{children[0].ID, children[1].ID}, "B-REUNITED", creator)
	s.Require().NoError(err)

	// Both edges are reachable from every batch in the family.
	for _, batchID := range []id.BatchID{root.ID, children[0].ID, merged.ID} {
		rels, err := s.lineage.Lineage(s.ctx, batchID)
		s.Require().NoError(err)
		s.Require().Len(rels, 2)
		s.Equal(models.RelationSplit, rels[0].Kind, "oldest first")
		s.Equal(models.RelationMerge, rels[1].Kind)
	}
}
