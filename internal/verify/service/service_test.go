package service

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"custodia/internal/audit"
	"custodia/internal/collaborator"
	itemmodels "custodia/internal/item/models"
	itemservice "custodia/internal/item/service"
	itemstore "custodia/internal/item/store"
	ledgermodels "custodia/internal/ledger/models"
	ledgerservice "custodia/internal/ledger/service"
	ledgerstore "custodia/internal/ledger/store"
	"custodia/internal/platform/config"
	"custodia/internal/verify/models"
	"custodia/internal/verify/store"
	id "custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
)

const custodian id.ActorID = "producer-1"

type VerifierSuite struct {
	suite.Suite
	ctx      context.Context
	verifier *Verifier
	ledger   *ledgerservice.Ledger
	registry *itemservice.Registry
	items    *itemstore.InMemory
	chain    *ledgerstore.InMemory
	trail    *audit.InMemoryStore
}

func (s *VerifierSuite) SetupTest() {
	s.ctx = context.Background()
	s.items = itemstore.NewInMemory()
	s.chain = ledgerstore.NewInMemory()
	s.trail = audit.NewInMemoryStore()

	auditor := audit.NewPublisher(s.trail, slog.Default())
	policy := collaborator.NewPolicy(collaborator.NewStaticIdentity(), collaborator.NewStaticAccessPolicy(),
		config.ModeStrict, auditor, slog.Default())
	s.registry = itemservice.NewRegistry(s.items, policy, auditor, nil, slog.Default())
	s.ledger = ledgerservice.NewLedger(s.chain, s.items, auditor, slog.Default())
	s.verifier = NewVerifier(store.NewInMemory(), s.ledger, s.registry, auditor, slog.Default(), WithParallelism(2))
}

func TestVerifierSuite(t *testing.T) {
	suite.Run(t, new(VerifierSuite))
}

func digestForStage(n int) id.Digest {
	return id.DigestOf([]byte(fmt.Sprintf("stage-%d-evidence", n)))
}

// seedChain registers an item and appends n stages to its chain.
func (s *VerifierSuite) seedChain(code string, n int) *itemmodels.Item {
	item, err := itemmodels.NewItem(id.NewItemID(), code, id.DigestOf([]byte(code+"-root")), custodian, time.Now())
	s.Require().NoError(err)
	s.Require().NoError(s.items.CreateIfCodeAvailable(s.ctx, item))
	for i := 1; i <= n; i++ {
		_, err := s.ledger.AppendStage(s.ctx, item.ID, id.Stage(i), digestForStage(i), custodian)
		s.Require().NoError(err)
	}
	return item
}

func supplied(stages ...int) []models.SuppliedRecord {
	out := make([]models.SuppliedRecord, len(stages))
	for i, n := range stages {
		out[i] = models.SuppliedRecord{Stage: id.Stage(n), StageDigest: digestForStage(n)}
	}
	return out
}

func (s *VerifierSuite) TestCheck() {
	s.Run("matching records verify in full", func() {
		item := s.seedChain("LOT-OK", 3)

		result, err := s.verifier.Check(s.ctx, item.ID, supplied(1, 2, 3))
		s.Require().NoError(err)
		s.True(result.IsValid)
		s.Equal(3, result.StagesVerified)
		s.Equal(3, result.TotalStages)
		s.Nil(result.FailedStage)

		chain, err := s.ledger.Chain(s.ctx, item.ID)
		s.Require().NoError(err)
		for _, record := range chain {
			s.True(record.Verified, "a full match flags stored records as verified")
		}
	})

	s.Run("divergence is localized to the first bad stage", func() {
		item := s.seedChain("LOT-BAD", 3)

		offered := supplied(1, 2, 3)
		offered[1].StageDigest = id.DigestOf([]byte("forged"))

		result, err := s.verifier.Check(s.ctx, item.ID, offered)
		s.Require().NoError(err)
		s.False(result.IsValid)
		s.Equal(1, result.StagesVerified)
		s.Require().NotNil(result.FailedStage)
		s.Equal(id.Stage(2), *result.FailedStage)
	})

	s.Run("a short copy fails at the first missing stage", func() {
		item := s.seedChain("LOT-SHORT", 3)

		result, err := s.verifier.Check(s.ctx, item.ID, supplied(1, 2))
		s.Require().NoError(err)
		s.False(result.IsValid)
		s.Equal(2, result.StagesVerified)
		s.Require().NotNil(result.FailedStage)
		s.Equal(id.Stage(3), *result.FailedStage)
	})

	s.Run("a copy claiming unrecorded stages fails", func() {
		item := s.seedChain("LOT-LONG", 2)

		result, err := s.verifier.Check(s.ctx, item.ID, supplied(1, 2, 3))
		s.Require().NoError(err)
		s.False(result.IsValid)
		s.Require().NotNil(result.FailedStage)
		s.Equal(id.Stage(3), *result.FailedStage)
	})

	s.Run("empty chain and empty copy verify trivially", func() {
		item := s.seedChain("LOT-EMPTY", 0)

		result, err := s.verifier.Check(s.ctx, item.ID, nil)
		s.Require().NoError(err)
		s.True(result.IsValid)
		s.Zero(result.TotalStages)
	})

	s.Run("unknown item not found", func() {
		_, err := s.verifier.Check(s.ctx, id.NewItemID(), nil)
		s.Require().Error(err)
		s.True(dErrors.Is(err, dErrors.CodeNotFound))
	})
}

func (s *VerifierSuite) TestReportTamper() {
	s.Run("files the report, audits, and quarantines the item", func() {
		item := s.seedChain("LOT-TAMPER", 2)

		report, err := s.verifier.ReportTamper(s.ctx, item.ID, 2,
			digestForStage(2), id.DigestOf([]byte("observed")), "auditor-1")
		s.Require().NoError(err)
		s.Equal(id.Stage(2), report.Stage)

		got, err := s.items.FindByID(s.ctx, item.ID)
		s.Require().NoError(err)
		s.False(got.Active, "a tamper report quarantines the item")

		reports, err := s.verifier.ListReports(s.ctx, item.ID)
		s.Require().NoError(err)
		s.Len(reports, 1)

		var audited bool
		for _, event := range s.trail.All() {
			if event.Action == audit.ActionTamperReported && event.ItemID == item.ID.String() {
				audited = true
			}
		}
		s.True(audited)
	})

	s.Run("repeated reports on a quarantined item still file", func() {
		item := s.seedChain("LOT-AGAIN", 1)

		_, err := s.verifier.ReportTamper(s.ctx, item.ID, 1,
			digestForStage(1), id.DigestOf([]byte("observed")), "auditor-1")
		s.Require().NoError(err)
		_, err = s.verifier.ReportTamper(s.ctx, item.ID, 1,
			digestForStage(1), id.DigestOf([]byte("observed again")), "auditor-2")
		s.Require().NoError(err)

		reports, err := s.verifier.ListReports(s.ctx, item.ID)
		s.Require().NoError(err)
		s.Len(reports, 2)
	})

	s.Run("identical digests are not a divergence", func() {
		item := s.seedChain("LOT-SAME", 1)

		_, err := s.verifier.ReportTamper(s.ctx, item.ID, 1,
			digestForStage(1), digestForStage(1), "auditor-1")
		s.Require().Error(err)
		s.True(dErrors.Is(err, dErrors.CodeValidation))
	})
}

func (s *VerifierSuite) TestCheckAll() {
	intact := s.seedChain("LOT-SWEEP1", 3)
	alsoIntact := s.seedChain("LOT-SWEEP2", 2)
	broken := s.seedChain("LOT-SWEEP3", 3)
	s.chain.Corrupt(broken.ID, 2, func(r *ledgermodels.StageRecord) {
		r.StageDigest = id.DigestOf([]byte("forged"))
	})

	results, err := s.verifier.CheckAll(s.ctx, []id.ItemID{intact.ID, alsoIntact.ID, broken.ID})
	s.Require().NoError(err)
	s.Require().Len(results, 3)

	s.True(results[0].IsValid)
	s.Equal(3, results[0].StagesVerified)
	s.True(results[1].IsValid)
	s.Equal(2, results[1].StagesVerified)
	s.False(results[2].IsValid)
	s.Zero(results[2].StagesVerified)
}
