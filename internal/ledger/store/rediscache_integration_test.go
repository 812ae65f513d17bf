//go:build integration

package store_test

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/suite"

	"custodia/internal/ledger/store"
	platformredis "custodia/internal/platform/redis"
	id "custodia/pkg/domain"
	"custodia/pkg/testutil/containers"
)

type RedisTailCacheSuite struct {
	suite.Suite
	ctx   context.Context
	redis *containers.RedisContainer
	cache *store.RedisTailCache
}

func TestRedisTailCacheSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisTailCacheSuite))
}

func (s *RedisTailCacheSuite) SetupSuite() {
	s.ctx = context.Background()
	s.redis = containers.NewRedisContainer(s.T())
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.cache = store.NewRedisTailCache(&platformredis.Client{Client: s.redis.Client}, logger)
}

func (s *RedisTailCacheSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(s.ctx))
}

func (s *RedisTailCacheSuite) TestRoundTrip() {
	itemID := id.NewItemID()
	digest := id.DigestOf([]byte("tail"))

	s.cache.SetTail(s.ctx, itemID, digest)

	got, ok := s.cache.GetTail(s.ctx, itemID)
	s.Require().True(ok)
	s.Equal(digest, got)
}

func (s *RedisTailCacheSuite) TestMissIsNotAnError() {
	_, ok := s.cache.GetTail(s.ctx, id.NewItemID())
	s.False(ok)
}

func (s *RedisTailCacheSuite) TestCorruptEntryIsIgnored() {
	itemID := id.NewItemID()
	s.Require().NoError(s.redis.Client.Set(s.ctx, "custodia:chain:tail:"+itemID.String(), "not-a-digest", 0).Err())

	_, ok := s.cache.GetTail(s.ctx, itemID)
	s.False(ok, "a corrupt cache entry degrades to a miss")
}

func (s *RedisTailCacheSuite) TestOverwriteMovesTheTail() {
	itemID := id.NewItemID()
	s.cache.SetTail(s.ctx, itemID, id.DigestOf([]byte("stage-1")))
	s.cache.SetTail(s.ctx, itemID, id.DigestOf([]byte("stage-2")))

	got, ok := s.cache.GetTail(s.ctx, itemID)
	s.Require().True(ok)
	s.Equal(id.DigestOf([]byte("stage-2")), got)
}
