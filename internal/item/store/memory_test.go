package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"custodia/internal/item/models"
	id "custodia/pkg/domain"
	"custodia/pkg/platform/sentinel"
)

type ItemStoreSuite struct {
	suite.Suite
	store *InMemory
	ctx   context.Context
}

func (s *ItemStoreSuite) SetupTest() {
	s.store = NewInMemory()
	s.ctx = context.Background()
}

func TestItemStoreSuite(t *testing.T) {
	suite.Run(t, new(ItemStoreSuite))
}

func (s *ItemStoreSuite) newItem(code string, owner id.ActorID) *models.Item {
	item, err := models.NewItem(id.NewItemID(), code, id.DigestOf([]byte(code)), owner, time.Now())
	s.Require().NoError(err)
	return item
}

func (s *ItemStoreSuite) TestCreationAndLookups() {
	s.Run("creates and finds item by ID", func() {
		item := s.newItem("LOT-001", "producer-a")
		s.Require().NoError(s.store.CreateIfCodeAvailable(s.ctx, item))

		found, err := s.store.FindByID(s.ctx, item.ID)
		s.Require().NoError(err)
		s.Equal(item.BatchCode, found.BatchCode)
		s.Equal(item.RootDigest, found.RootDigest)
	})

	s.Run("returns ErrNotFound for unknown ID", func() {
		_, err := s.store.FindByID(s.ctx, id.NewItemID())
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("finds by batch code case-insensitively", func() {
		item := s.newItem("LOT-Case", "producer-a")
		s.Require().NoError(s.store.CreateIfCodeAvailable(s.ctx, item))

		found, err := s.store.FindByBatchCode(s.ctx, "lot-case")
		s.Require().NoError(err)
		s.Equal(item.ID, found.ID)
	})
}

func (s *ItemStoreSuite) TestCodeUniqueness() {
	s.Run("rejects duplicate code", func() {
		s.Require().NoError(s.store.CreateIfCodeAvailable(s.ctx, s.newItem("LOT-DUP", "producer-a")))

		err := s.store.CreateIfCodeAvailable(s.ctx, s.newItem("LOT-DUP", "producer-b"))
		s.Require().ErrorIs(err, sentinel.ErrCodeTaken)
	})

	s.Run("duplicate rejection is deterministic under concurrency", func() {
		var wg sync.WaitGroup
		errs := make(chan error, 50)
		for range 50 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs <- s.store.CreateIfCodeAvailable(s.ctx, s.newItem("LOT-RACE", "producer-a"))
			}()
		}
		wg.Wait()
		close(errs)

		var created, rejected int
		for err := range errs {
			if err == nil {
				created++
			} else {
				s.Require().ErrorIs(err, sentinel.ErrCodeTaken)
				rejected++
			}
		}
		s.Equal(1, created, "exactly one registration may win")
		s.Equal(49, rejected)
	})
}

func (s *ItemStoreSuite) TestOwnerIndex() {
	s.Run("index tracks registrations", func() {
		a := s.newItem("LOT-A", "owner-1")
		b := s.newItem("LOT-B", "owner-1")
		c := s.newItem("LOT-C", "owner-2")
		for _, item := range []*models.Item{a, b, c} {
			s.Require().NoError(s.store.CreateIfCodeAvailable(s.ctx, item))
		}

		owned, err := s.store.ListByOwner(s.ctx, "owner-1")
		s.Require().NoError(err)
		s.Len(owned, 2)
	})

	s.Run("index follows custody changes", func() {
		item := s.newItem("LOT-MOVE", "owner-from")
		s.Require().NoError(s.store.CreateIfCodeAvailable(s.ctx, item))

		_, err := s.store.Execute(s.ctx, item.ID,
			func(i *models.Item) error { return i.CanChangeCustodian() },
			func(i *models.Item) { i.ApplyCustodyChange("owner-to", time.Now()) },
		)
		s.Require().NoError(err)

		from, err := s.store.ListByOwner(s.ctx, "owner-from")
		s.Require().NoError(err)
		s.Empty(from)

		to, err := s.store.ListByOwner(s.ctx, "owner-to")
		s.Require().NoError(err)
		s.Len(to, 1)
		s.Equal(item.ID, to[0].ID)
	})
}

func (s *ItemStoreSuite) TestExecute() {
	s.Run("validation failure leaves the item untouched", func() {
		item := s.newItem("LOT-EXEC", "owner-1")
		s.Require().NoError(s.store.CreateIfCodeAvailable(s.ctx, item))

		_, err := s.store.Execute(s.ctx, item.ID,
			func(i *models.Item) error { return sentinel.ErrInvalidState },
			func(i *models.Item) { i.ApplyDeactivation("should not happen", time.Now()) },
		)
		s.Require().ErrorIs(err, sentinel.ErrInvalidState)

		found, err := s.store.FindByID(s.ctx, item.ID)
		s.Require().NoError(err)
		s.True(found.Active)
	})

	s.Run("returns ErrNotFound for unknown item", func() {
		_, err := s.store.Execute(s.ctx, id.NewItemID(),
			func(i *models.Item) error { return nil },
			func(i *models.Item) {},
		)
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("snapshots do not alias store state", func() {
		item := s.newItem("LOT-ALIAS", "owner-1")
		s.Require().NoError(s.store.CreateIfCodeAvailable(s.ctx, item))

		found, err := s.store.FindByID(s.ctx, item.ID)
		s.Require().NoError(err)
		found.Active = false

		again, err := s.store.FindByID(s.ctx, item.ID)
		s.Require().NoError(err)
		s.True(again.Active)
	})
}
