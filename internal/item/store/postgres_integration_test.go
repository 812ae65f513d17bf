//go:build integration

package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"custodia/internal/item/models"
	"custodia/internal/item/store"
	id "custodia/pkg/domain"
	"custodia/pkg/platform/sentinel"
	"custodia/pkg/testutil/containers"
)

type PostgresItemSuite struct {
	suite.Suite
	ctx      context.Context
	postgres *containers.PostgresContainer
	store    *store.Postgres
}

func TestPostgresItemSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresItemSuite))
}

func (s *PostgresItemSuite) SetupSuite() {
	s.ctx = context.Background()
	s.postgres = containers.NewPostgresContainer(s.T())
	s.store = store.NewPostgres(s.postgres.DB)
}

func (s *PostgresItemSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(s.ctx, "items"))
}

func (s *PostgresItemSuite) newItem(code string, owner id.ActorID) *models.Item {
	item, err := models.NewItem(id.NewItemID(), code, id.DigestOf([]byte(code)), owner, time.Now().UTC())
	s.Require().NoError(err)
	return item
}

func (s *PostgresItemSuite) TestCreateAndFind() {
	item := s.newItem("LOT-PG-1", "producer-1")
	s.Require().NoError(s.store.CreateIfCodeAvailable(s.ctx, item))

	got, err := s.store.FindByID(s.ctx, item.ID)
	s.Require().NoError(err)
	s.Equal(item.BatchCode, got.BatchCode)
	s.Equal(item.RootDigest, got.RootDigest)
	s.Equal(id.StageRegistered, got.CurrentStage)
	s.True(got.Active)

	byCode, err := s.store.FindByBatchCode(s.ctx, "lot-pg-1")
	s.Require().NoError(err)
	s.Equal(item.ID, byCode.ID)
}

func (s *PostgresItemSuite) TestBatchCodeUniqueness() {
	s.Require().NoError(s.store.CreateIfCodeAvailable(s.ctx, s.newItem("LOT-PG-2", "producer-1")))

	err := s.store.CreateIfCodeAvailable(s.ctx, s.newItem("lot-pg-2", "producer-2"))
	s.Require().ErrorIs(err, sentinel.ErrCodeTaken, "codes are unique case-insensitively")
}

func (s *PostgresItemSuite) TestExecuteMutatesUnderRowLock() {
	item := s.newItem("LOT-PG-3", "producer-1")
	s.Require().NoError(s.store.CreateIfCodeAvailable(s.ctx, item))

	updated, err := s.store.Execute(s.ctx, item.ID,
		func(i *models.Item) error { return i.CanAppendStage(1, "producer-1") },
		func(i *models.Item) { i.ApplyStageAdvance(1, time.Now().UTC()) },
	)
	s.Require().NoError(err)
	s.Equal(id.Stage(1), updated.CurrentStage)

	got, err := s.store.FindByID(s.ctx, item.ID)
	s.Require().NoError(err)
	s.Equal(id.Stage(1), got.CurrentStage)
}

func (s *PostgresItemSuite) TestExecuteValidationLeavesRowUntouched() {
	item := s.newItem("LOT-PG-4", "producer-1")
	s.Require().NoError(s.store.CreateIfCodeAvailable(s.ctx, item))

	_, err := s.store.Execute(s.ctx, item.ID,
		func(i *models.Item) error { return i.CanAppendStage(3, "producer-1") },
		func(i *models.Item) { i.ApplyStageAdvance(3, time.Now().UTC()) },
	)
	s.Require().Error(err)

	got, err := s.store.FindByID(s.ctx, item.ID)
	s.Require().NoError(err)
	s.Equal(id.StageRegistered, got.CurrentStage)
}

func (s *PostgresItemSuite) TestListByOwner() {
	owner := id.ActorID("producer-1")
	s.Require().NoError(s.store.CreateIfCodeAvailable(s.ctx, s.newItem("LOT-PG-5", owner)))
	s.Require().NoError(s.store.CreateIfCodeAvailable(s.ctx, s.newItem("LOT-PG-6", owner)))
	s.Require().NoError(s.store.CreateIfCodeAvailable(s.ctx, s.newItem("LOT-PG-7", "producer-2")))

	items, err := s.store.ListByOwner(s.ctx, owner)
	s.Require().NoError(err)
	s.Len(items, 2)
}

func (s *PostgresItemSuite) TestFindMissing() {
	_, err := s.store.FindByID(s.ctx, id.NewItemID())
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}
