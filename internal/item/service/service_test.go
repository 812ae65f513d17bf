package service

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/suite"

	"custodia/internal/audit"
	"custodia/internal/collaborator"
	"custodia/internal/item/store"
	"custodia/internal/platform/config"
	id "custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
)

type RegistrySuite struct {
	suite.Suite
	ctx      context.Context
	registry *Registry
	store    *store.InMemory
	identity *collaborator.StaticIdentity
	access   *collaborator.StaticAccessPolicy
	trail    *audit.InMemoryStore

	producer id.ActorID
	admin    id.ActorID
}

func (s *RegistrySuite) SetupTest() {
	s.ctx = context.Background()
	s.store = store.NewInMemory()
	s.identity = collaborator.NewStaticIdentity()
	s.access = collaborator.NewStaticAccessPolicy()
	s.trail = audit.NewInMemoryStore()

	logger := slog.Default()
	auditor := audit.NewPublisher(s.trail, logger)
	policy := collaborator.NewPolicy(s.identity, s.access, config.ModeStrict, auditor, logger)
	s.registry = NewRegistry(s.store, policy, auditor, nil, logger)

	s.producer = "producer-1"
	s.admin = "admin-1"
	s.identity.SetVerified(s.producer, 80)
	s.access.Grant(s.producer, id.CapabilityProducer)
	s.access.Grant(s.admin, id.CapabilityAdmin)
}

func TestRegistrySuite(t *testing.T) {
	suite.Run(t, new(RegistrySuite))
}

func (s *RegistrySuite) register(code string) id.ItemID {
	item, err := s.registry.Register(s.ctx, code, id.DigestOf([]byte(code)), s.producer)
	s.Require().NoError(err)
	return item.ID
}

func (s *RegistrySuite) TestRegister() {
	s.Run("happy path", func() {
		item, err := s.registry.Register(s.ctx, "B1", id.DigestOf([]byte("H0")), s.producer)
		s.Require().NoError(err)
		s.Equal(id.StageRegistered, item.CurrentStage)
		s.Equal(s.producer, item.CurrentCustodian)
		s.Equal(s.producer, item.OriginActor)
		s.True(item.Active)

		events := s.trail.All()
		s.Require().Len(events, 1)
		s.Equal(audit.ActionItemRegistered, events[0].Action)
	})

	s.Run("duplicate code fails every retry", func() {
		s.register("B-DUP")
		for range 3 {
			_, err := s.registry.Register(s.ctx, "B-DUP", id.DigestOf([]byte("x")), s.producer)
			s.Require().Error(err)
			s.True(dErrors.Is(err, dErrors.CodeConflict))
		}
	})

	s.Run("zero root digest rejected", func() {
		_, err := s.registry.Register(s.ctx, "B-ZERO", id.ZeroDigest, s.producer)
		s.Require().Error(err)
		s.True(dErrors.Is(err, dErrors.CodeValidation))
	})

	s.Run("missing producer capability forbidden", func() {
		outsider := id.ActorID("outsider")
		s.identity.SetVerified(outsider, 50)
		_, err := s.registry.Register(s.ctx, "B-CAP", id.DigestOf([]byte("x")), outsider)
		s.Require().Error(err)
		s.True(dErrors.Is(err, dErrors.CodeForbidden))
	})

	s.Run("unverified identity forbidden", func() {
		unverified := id.ActorID("unverified")
		s.access.Grant(unverified, id.CapabilityProducer)
		_, err := s.registry.Register(s.ctx, "B-ID", id.DigestOf([]byte("x")), unverified)
		s.Require().Error(err)
		s.True(dErrors.Is(err, dErrors.CodeForbidden))
	})
}

// commitObserver runs the unit of work and then reports commit time, so
// tests can check what was already written when the transaction closes.
type commitObserver struct {
	onCommit func()
}

func (r commitObserver) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	if err := fn(ctx); err != nil {
		return err
	}
	r.onCommit()
	return nil
}

func (s *RegistrySuite) TestRegisterAuditJoinsUnitOfWork() {
	trailAtCommit := -1
	runner := commitObserver{onCommit: func() {
		trailAtCommit = len(s.trail.All())
	}}

	auditor := audit.NewPublisher(s.trail, slog.Default())
	policy := collaborator.NewPolicy(s.identity, s.access, config.ModeStrict, auditor, slog.Default())
	registry := NewRegistry(s.store, policy, auditor, nil, slog.Default(), WithTxRunner(runner))

	_, err := registry.Register(s.ctx, "B-TX", id.DigestOf([]byte("root")), s.producer)
	s.Require().NoError(err)
	s.Equal(1, trailAtCommit, "the trail entry must be written before the unit of work commits")
}

func (s *RegistrySuite) TestGetByBatchCode() {
	itemID := s.register("B-CODE")

	s.Run("resolves a registered code", func() {
		item, err := s.registry.GetByBatchCode(s.ctx, "B-CODE")
		s.Require().NoError(err)
		s.Equal(itemID, item.ID)
	})

	s.Run("unknown code is not found", func() {
		_, err := s.registry.GetByBatchCode(s.ctx, "B-NOWHERE")
		s.Require().Error(err)
		s.True(dErrors.Is(err, dErrors.CodeNotFound))
	})

	s.Run("empty code rejected", func() {
		_, err := s.registry.GetByBatchCode(s.ctx, "")
		s.Require().Error(err)
		s.True(dErrors.Is(err, dErrors.CodeValidation))
	})
}

func (s *RegistrySuite) TestDeactivateReactivate() {
	itemID := s.register("B-LIFECYCLE")

	s.Run("deactivation requires admin capability", func() {
		_, err := s.registry.Deactivate(s.ctx, itemID, s.producer, "suspicious scan")
		s.Require().Error(err)
		s.True(dErrors.Is(err, dErrors.CodeForbidden))
	})

	s.Run("deactivation requires a reason", func() {
		_, err := s.registry.Deactivate(s.ctx, itemID, s.admin, "")
		s.Require().Error(err)
		s.True(dErrors.Is(err, dErrors.CodeValidation))
	})

	s.Run("deactivation halts custody mutation", func() {
		item, err := s.registry.Deactivate(s.ctx, itemID, s.admin, "tamper report")
		s.Require().NoError(err)
		s.False(item.Active)
		s.Equal("tamper report", item.StatusReason)

		_, err = s.registry.TransferCustody(s.ctx, itemID, "someone-else")
		s.Require().Error(err)
		s.True(dErrors.Is(err, dErrors.CodeInvalidState))
	})

	s.Run("double deactivation rejected", func() {
		_, err := s.registry.Deactivate(s.ctx, itemID, s.admin, "again")
		s.Require().Error(err)
		s.True(dErrors.Is(err, dErrors.CodeInvalidState))
	})

	s.Run("reactivation restores without altering history", func() {
		item, err := s.registry.Reactivate(s.ctx, itemID, s.admin)
		s.Require().NoError(err)
		s.True(item.Active)
		s.Empty(item.StatusReason)
		s.Equal(id.StageRegistered, item.CurrentStage)
	})
}

func (s *RegistrySuite) TestDeactivateForIntegrity() {
	itemID := s.register("B-INTEGRITY")

	item, err := s.registry.DeactivateForIntegrity(s.ctx, itemID, "scanner-1", "digest mismatch at stage 2")
	s.Require().NoError(err)
	s.False(item.Active)

	// Repeated tamper reports on a quarantined item must not error.
	item, err = s.registry.DeactivateForIntegrity(s.ctx, itemID, "scanner-2", "digest mismatch at stage 3")
	s.Require().NoError(err)
	s.False(item.Active)
}

func (s *RegistrySuite) TestOwnerIndexFollowsCustody() {
	itemID := s.register("B-OWNER")

	_, err := s.registry.TransferCustody(s.ctx, itemID, "processor-9")
	s.Require().NoError(err)

	owned, err := s.registry.ListByOwner(s.ctx, "processor-9")
	s.Require().NoError(err)
	s.Require().Len(owned, 1)
	s.Equal(itemID, owned[0].ID)

	former, err := s.registry.ListByOwner(s.ctx, s.producer)
	s.Require().NoError(err)
	s.Empty(former)
}

func (s *RegistrySuite) TestAttachQualityEvidence() {
	itemID := s.register("B-QUALITY")

	s.Run("stores the opaque pointer", func() {
		item, err := s.registry.AttachQualityEvidence(s.ctx, itemID, collaborator.QualityResult{
			EvidenceDigest: id.DigestOf([]byte("classifier output")),
			Confidence:     0.93,
			Oracle:         "oracle-ml",
		})
		s.Require().NoError(err)
		s.Require().NotNil(item.Quality)
		s.InDelta(0.93, item.Quality.Confidence, 1e-9)
	})

	s.Run("rejects out-of-range confidence", func() {
		_, err := s.registry.AttachQualityEvidence(s.ctx, itemID, collaborator.QualityResult{
			EvidenceDigest: id.DigestOf([]byte("x")),
			Confidence:     1.5,
			Oracle:         "oracle-ml",
		})
		s.Require().Error(err)
		s.True(dErrors.Is(err, dErrors.CodeValidation))
	})
}
