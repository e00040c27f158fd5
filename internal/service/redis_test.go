package service

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/tomlidgett1/TapLoyaltyWeb-sub015/internal/domain"
	"github.com/tomlidgett1/TapLoyaltyWeb-sub015/pkg/database"
)

// RedisSuite exercises the Redis-backed helpers against a live server on DB 15
type RedisSuite struct {
	suite.Suite
	redis *database.Redis
}

func TestRedisSuite(t *testing.T) {
	suite.Run(t, new(RedisSuite))
}

func (s *RedisSuite) SetupSuite() {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	redis, err := database.NewRedis(ctx, addr, "", 15)
	if err != nil {
		s.T().Skipf("Redis not available at %s: %v", addr, err)
	}
	s.redis = redis
}

func (s *RedisSuite) TearDownSuite() {
	if s.redis != nil {
		_ = s.redis.Close()
	}
}

func (s *RedisSuite) SetupTest() {
	s.Require().NoError(s.redis.Client.FlushDB(context.Background()).Err())
}

func (s *RedisSuite) TestStateStoreConsumesOnce() {
	ctx := context.Background()
	store := NewRedisStateStore(s.redis)

	state := &domain.AuthorizationState{Nonce: "n1", MerchantID: "m1", Provider: "gmail", CodeVerifier: "v"}
	s.Require().NoError(store.Save(ctx, state, time.Minute))

	got, err := store.Consume(ctx, "n1")
	s.Require().NoError(err)
	s.Equal("m1", got.MerchantID)
	s.Equal("v", got.CodeVerifier)

	_, err = store.Consume(ctx, "n1")
	s.ErrorIs(err, ErrStateNotFound)
}

func (s *RedisSuite) TestStateStoreExpires() {
	ctx := context.Background()
	store := NewRedisStateStore(s.redis)

	s.Require().NoError(store.Save(ctx, &domain.AuthorizationState{Nonce: "n2"}, 50*time.Millisecond))
	time.Sleep(150 * time.Millisecond)

	_, err := store.Consume(ctx, "n2")
	s.ErrorIs(err, ErrStateNotFound)
}

func (s *RedisSuite) TestLockerLease() {
	locker := NewRedisLocker(s.redis, 5*time.Second)

	unlock, err := locker.Lock(context.Background(), "m1:gmail")
	s.Require().NoError(err)

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(ctx, "m1:gmail")
	s.ErrorIs(err, context.DeadlineExceeded)

	unlock()

	again, err := locker.Lock(context.Background(), "m1:gmail")
	s.Require().NoError(err)
	again()
}

func (s *RedisSuite) TestLockerReleaseKeepsForeignLease() {
	locker := NewRedisLocker(s.redis, 100*time.Millisecond)

	unlock, err := locker.Lock(context.Background(), "m1:square")
	s.Require().NoError(err)

	// lease expired and was taken by another holder
	time.Sleep(200 * time.Millisecond)
	other, err := locker.Lock(context.Background(), "m1:square")
	s.Require().NoError(err)

	unlock()
	exists, err := s.redis.Client.Exists(context.Background(), "lock:connection:m1:square").Result()
	s.Require().NoError(err)
	s.Equal(int64(1), exists)

	other()
}

func (s *RedisSuite) TestRateLimiter() {
	ctx := context.Background()
	limiter := NewRateLimiter(s.redis)

	for i := 0; i < 3; i++ {
		decision, err := limiter.Allow(ctx, "203.0.113.7", 3, time.Minute)
		s.Require().NoError(err)
		s.True(decision.Allowed)
		s.Equal(2-i, decision.Remaining)
	}

	decision, err := limiter.Allow(ctx, "203.0.113.7", 3, time.Minute)
	s.Require().NoError(err)
	s.False(decision.Allowed)
	s.Equal(0, decision.Remaining)
	s.Greater(decision.RetryAfter, time.Duration(0))

	decision, err = limiter.Allow(ctx, "198.51.100.1", 3, time.Minute)
	s.Require().NoError(err)
	s.True(decision.Allowed)
}
