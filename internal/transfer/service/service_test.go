package service

import (
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/suite"

	"custodia/internal/audit"
	"custodia/internal/collaborator"
	itemmodels "custodia/internal/item/models"
	itemservice "custodia/internal/item/service"
	itemstore "custodia/internal/item/store"
	"custodia/internal/platform/config"
	"custodia/internal/transfer/models"
	"custodia/internal/transfer/store"
	id "custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
)

const (
	sender    id.ActorID = "producer-1"
	recipient id.ActorID = "processor-1"
	auditorID id.ActorID = "auditor-1"
	responder id.ActorID = "emergency-1"
)

type ProtocolSuite struct {
	suite.Suite
	ctx      context.Context
	protocol *Protocol
	registry *itemservice.Registry
	identity *collaborator.StaticIdentity
	access   *collaborator.StaticAccessPolicy
	trail    *audit.InMemoryStore
}

func (s *ProtocolSuite) SetupTest() {
	s.ctx = context.Background()
	s.identity = collaborator.NewStaticIdentity()
	s.access = collaborator.NewStaticAccessPolicy()
	s.trail = audit.NewInMemoryStore()

	auditor := audit.NewPublisher(s.trail, slog.Default())
	policy := collaborator.NewPolicy(s.identity, s.access, config.ModeStrict, auditor, slog.Default())
	s.registry = itemservice.NewRegistry(itemstore.NewInMemory(), policy, auditor, nil, slog.Default())
	s.protocol = NewProtocol(store.NewInMemory(), s.registry, policy, auditor, slog.Default())

	s.identity.SetVerified(sender, 80)
	s.identity.SetVerified(recipient, 75)
	s.identity.SetVerified(auditorID, 90)
	s.access.Grant(sender, id.CapabilityProducer)
	s.access.Grant(auditorID, id.CapabilityAuditor)
	s.access.Grant(responder, id.CapabilityEmergency)
}

func TestProtocolSuite(t *testing.T) {
	suite.Run(t, new(ProtocolSuite))
}

func (s *ProtocolSuite) registerItem(code string) *itemmodels.Item {
	item, err := s.registry.Register(s.ctx, code, id.DigestOf([]byte(code+"-root")), sender)
	s.Require().NoError(err)
	return item
}

func (s *ProtocolSuite) initiate(item *itemmodels.Item) *models.Transfer {
	transfer, err := s.protocol.Initiate(s.ctx, item.ID, sender, recipient,
		item.CurrentStage, id.StageProcessed,
		id.DigestOf([]byte("terms")), id.ZeroDigest, false)
	s.Require().NoError(err)
	return transfer
}

func (s *ProtocolSuite) TestInitiate() {
	s.Run("custodian opens a transfer to a verified recipient", func() {
		item := s.registerItem("LOT-INIT")
		transfer := s.initiate(item)

		s.Equal(models.StatusInitiated, transfer.Status)
		s.Equal(sender, transfer.FromActor)
		s.Equal(recipient, transfer.ToActor)
		s.Equal(item.CurrentStage, transfer.SourceStage)
	})

	s.Run("non-custodian cannot open a transfer", func() {
		item := s.registerItem("LOT-NOCUST")
		_, err := s.protocol.Initiate(s.ctx, item.ID, recipient, auditorID,
			item.CurrentStage, id.StageProcessed,
			id.DigestOf([]byte("terms")), id.ZeroDigest, false)
		s.Require().Error(err)
		s.True(dErrors.Is(err, dErrors.CodeForbidden))
	})

	s.Run("unverified recipient rejected", func() {
		item := s.registerItem("LOT-UNVER")
		_, err := s.protocol.Initiate(s.ctx, item.ID, sender, "stranger",
			item.CurrentStage, id.StageProcessed,
			id.DigestOf([]byte("terms")), id.ZeroDigest, false)
		s.Require().Error(err)
		s.True(dErrors.Is(err, dErrors.CodeForbidden))
	})

	s.Run("stale source stage rejected", func() {
		item := s.registerItem("LOT-STALE")
		_, err := s.protocol.Initiate(s.ctx, item.ID, sender, recipient,
			item.CurrentStage+1, id.StageProcessed,
			id.DigestOf([]byte("terms")), id.ZeroDigest, false)
		s.Require().Error(err)
		s.True(dErrors.Is(err, dErrors.CodeValidation))
	})

	s.Run("second open transfer for the same item conflicts", func() {
		item := s.registerItem("LOT-DUP")
		s.initiate(item)

		_, err := s.protocol.Initiate(s.ctx, item.ID, sender, auditorID,
			item.CurrentStage, id.StageProcessed,
			id.DigestOf([]byte("terms")), id.ZeroDigest, false)
		s.Require().Error(err)
		s.True(dErrors.Is(err, dErrors.CodeConflict))
	})

	s.Run("deactivated item admits no transfer", func() {
		s.access.Grant(sender, id.CapabilityAdmin)
		item := s.registerItem("LOT-OFF")
		_, err := s.registry.Deactivate(s.ctx, item.ID, sender, "recalled")
		s.Require().NoError(err)

		_, err = s.protocol.Initiate(s.ctx, item.ID, sender, recipient,
			item.CurrentStage, id.StageProcessed,
			id.DigestOf([]byte("terms")), id.ZeroDigest, false)
		s.Require().Error(err)
		s.True(dErrors.Is(err, dErrors.CodeInvalidState))
	})

	s.Run("unknown item not found", func() {
		_, err := s.protocol.Initiate(s.ctx, id.NewItemID(), sender, recipient,
			0, 1, id.DigestOf([]byte("terms")), id.ZeroDigest, false)
		s.Require().Error(err)
		s.True(dErrors.Is(err, dErrors.CodeNotFound))
	})
}

func (s *ProtocolSuite) TestInitiateConcurrent() {
	item := s.registerItem("LOT-RACE")

	const attempts = 32
	errs := make(chan error, attempts)
	var wg sync.WaitGroup
	for range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.protocol.Initiate(s.ctx, item.ID, sender, recipient,
				item.CurrentStage, id.StageProcessed,
				id.DigestOf([]byte("terms")), id.ZeroDigest, false)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var succeeded, conflicted int
	for err := range errs {
		switch {
		case err == nil:
			succeeded++
		case dErrors.Is(err, dErrors.CodeConflict):
			conflicted++
		default:
			s.Require().NoError(err)
		}
	}
	s.Equal(1, succeeded, "exactly one initiate may win")
	s.Equal(attempts-1, conflicted)

	open, err := s.protocol.ListByActor(s.ctx, recipient)
	s.Require().NoError(err)
	s.Len(open, 1)
}

func (s *ProtocolSuite) TestAcceptReject() {
	s.Run("recipient accepts", func() {
		transfer := s.initiate(s.registerItem("LOT-ACC"))

		accepted, err := s.protocol.Accept(s.ctx, transfer.ID, recipient)
		s.Require().NoError(err)
		s.Equal(models.StatusAccepted, accepted.Status)
	})

	s.Run("sender cannot accept", func() {
		transfer := s.initiate(s.registerItem("LOT-ACC2"))

		_, err := s.protocol.Accept(s.ctx, transfer.ID, sender)
		s.Require().Error(err)
		s.True(dErrors.Is(err, dErrors.CodeForbidden))
	})

	s.Run("double accept fails", func() {
		transfer := s.initiate(s.registerItem("LOT-ACC3"))
		_, err := s.protocol.Accept(s.ctx, transfer.ID, recipient)
		s.Require().NoError(err)

		_, err = s.protocol.Accept(s.ctx, transfer.ID, recipient)
		s.Require().Error(err)
		s.True(dErrors.Is(err, dErrors.CodeInvalidState))
	})

	s.Run("reject requires a reason", func() {
		transfer := s.initiate(s.registerItem("LOT-REJ"))

		_, err := s.protocol.Reject(s.ctx, transfer.ID, recipient, "")
		s.Require().Error(err)
		s.True(dErrors.Is(err, dErrors.CodeValidation))

		rejected, err := s.protocol.Reject(s.ctx, transfer.ID, recipient, "damaged packaging")
		s.Require().NoError(err)
		s.Equal(models.StatusRejected, rejected.Status)
		s.Equal("damaged packaging", rejected.RejectReason)
	})
}

func (s *ProtocolSuite) TestComplete() {
	s.Run("completion flips custody to the recipient", func() {
		item := s.registerItem("LOT-DONE")
		transfer := s.initiate(item)
		_, err := s.protocol.Accept(s.ctx, transfer.ID, recipient)
		s.Require().NoError(err)

		completed, err := s.protocol.Complete(s.ctx, transfer.ID, recipient, id.DigestOf([]byte("receipt")))
		s.Require().NoError(err)
		s.Equal(models.StatusCompleted, completed.Status)
		s.Require().NotNil(completed.CompletedAt)

		got, err := s.registry.Get(s.ctx, item.ID)
		s.Require().NoError(err)
		s.Equal(recipient, got.CurrentCustodian)
		s.Equal(item.CurrentStage, got.CurrentStage, "completion never touches the stage cursor")
	})

	s.Run("either participant may complete", func() {
		item := s.registerItem("LOT-DONE2")
		transfer := s.initiate(item)
		_, err := s.protocol.Accept(s.ctx, transfer.ID, recipient)
		s.Require().NoError(err)

		_, err = s.protocol.Complete(s.ctx, transfer.ID, sender, id.DigestOf([]byte("receipt")))
		s.Require().NoError(err)
	})

	s.Run("completion from initiated fails", func() {
		transfer := s.initiate(s.registerItem("LOT-EARLY"))

		_, err := s.protocol.Complete(s.ctx, transfer.ID, recipient, id.DigestOf([]byte("receipt")))
		s.Require().Error(err)
		s.True(dErrors.Is(err, dErrors.CodeInvalidState))
	})

	s.Run("verification-flagged transfer demands the auditor capability", func() {
		item := s.registerItem("LOT-VERIF")
		transfer, err := s.protocol.Initiate(s.ctx, item.ID, sender, recipient,
			item.CurrentStage, id.StageProcessed,
			id.DigestOf([]byte("terms")), id.ZeroDigest, true)
		s.Require().NoError(err)
		_, err = s.protocol.Accept(s.ctx, transfer.ID, recipient)
		s.Require().NoError(err)

		_, err = s.protocol.Complete(s.ctx, transfer.ID, recipient, id.DigestOf([]byte("receipt")))
		s.Require().Error(err)
		s.True(dErrors.Is(err, dErrors.CodeForbidden))

		s.access.Grant(recipient, id.CapabilityAuditor)
		_, err = s.protocol.Complete(s.ctx, transfer.ID, recipient, id.DigestOf([]byte("receipt")))
		s.Require().NoError(err)
	})
}

func (s *ProtocolSuite) TestForceReject() {
	s.Run("emergency actor terminates an accepted transfer", func() {
		transfer := s.initiate(s.registerItem("LOT-FORCE"))
		_, err := s.protocol.Accept(s.ctx, transfer.ID, recipient)
		s.Require().NoError(err)

		forced, err := s.protocol.ForceReject(s.ctx, transfer.ID, responder, "regulatory hold")
		s.Require().NoError(err)
		s.Equal(models.StatusRejected, forced.Status)
		s.Equal("regulatory hold", forced.RejectReason)

		var found bool
		for _, event := range s.trail.All() {
			if event.Action == audit.ActionTransferForced && event.Subject == transfer.ID.String() {
				found = true
			}
		}
		s.True(found, "force rejection must leave an audit entry")
	})

	s.Run("without the emergency capability", func() {
		transfer := s.initiate(s.registerItem("LOT-FORCE2"))

		_, err := s.protocol.ForceReject(s.ctx, transfer.ID, sender, "panic")
		s.Require().Error(err)
		s.True(dErrors.Is(err, dErrors.CodeForbidden))
	})

	s.Run("terminal transfer cannot be forced", func() {
		transfer := s.initiate(s.registerItem("LOT-FORCE3"))
		_, err := s.protocol.Reject(s.ctx, transfer.ID, recipient, "declined")
		s.Require().NoError(err)

		_, err = s.protocol.ForceReject(s.ctx, transfer.ID, responder, "too late")
		s.Require().Error(err)
		s.True(dErrors.Is(err, dErrors.CodeInvalidState))
	})
}

func (s *ProtocolSuite) TestListByActor() {
	first := s.initiate(s.registerItem("LOT-LIST1"))
	_, err := s.protocol.Reject(s.ctx, first.ID, recipient, "declined")
	s.Require().NoError(err)
	second := s.initiate(s.registerItem("LOT-LIST2"))

	for _, actor := range []id.ActorID{sender, recipient} {
		transfers, err := s.protocol.ListByActor(s.ctx, actor)
		s.Require().NoError(err)
		s.Require().Len(transfers, 2)
		s.Equal(second.ID, transfers[0].ID, "newest first")
		s.Equal(first.ID, transfers[1].ID)
	}

	none, err := s.protocol.ListByActor(s.ctx, "bystander")
	s.Require().NoError(err)
	s.Empty(none)
}
