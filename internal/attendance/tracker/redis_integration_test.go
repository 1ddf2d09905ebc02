//go:build integration

package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/attendly/server/internal/attendance/domain"
)

type RedisTrackerSuite struct {
	suite.Suite
	container *tcredis.RedisContainer
	client    *redis.Client
	tracker   *Redis
}

func TestRedisTrackerSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping redis container test in short mode")
	}
	suite.Run(t, new(RedisTrackerSuite))
}

func (s *RedisTrackerSuite) SetupSuite() {
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	s.Require().NoError(err)
	s.container = container

	url, err := container.ConnectionString(ctx)
	s.Require().NoError(err)
	opts, err := redis.ParseURL(url)
	s.Require().NoError(err)

	s.client = redis.NewClient(opts)
	s.Require().NoError(s.client.Ping(ctx).Err())
	s.tracker = NewRedis(s.client, time.Hour)
}

func (s *RedisTrackerSuite) TearDownSuite() {
	if s.client != nil {
		_ = s.client.Close()
	}
	if s.container != nil {
		_ = s.container.Terminate(context.Background())
	}
}

func (s *RedisTrackerSuite) SetupTest() {
	s.Require().NoError(s.client.FlushAll(context.Background()).Err())
}

func (s *RedisTrackerSuite) TestMarkRecordedOneWinner() {
	ctx := context.Background()
	require.NoError(s.T(), s.tracker.Open(ctx, key, time.Now().Add(time.Hour)))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if added, err := s.tracker.MarkRecorded(ctx, key, "p1"); err == nil && added {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), wins.Load())
	ok, err := s.tracker.IsRecorded(ctx, key, "p1")
	s.Require().NoError(err)
	s.True(ok)
}

func (s *RedisTrackerSuite) TestSetExpiresWithSession() {
	ctx := context.Background()
	exp := time.Now().Add(30 * time.Minute)
	s.Require().NoError(s.tracker.Open(ctx, key, exp))
	_, err := s.tracker.MarkRecorded(ctx, key, "p1")
	s.Require().NoError(err)

	ttl, err := s.client.PTTL(ctx, setKey(key)).Result()
	s.Require().NoError(err)
	s.InDelta(30*time.Minute, ttl, float64(5*time.Second))
}

func (s *RedisTrackerSuite) TestSnapshotSessionsAndEnd() {
	ctx := context.Background()
	s.Require().NoError(s.tracker.Open(ctx, key, time.Now().Add(time.Hour)))
	_, _ = s.tracker.MarkRecorded(ctx, key, "p2")
	_, _ = s.tracker.MarkRecorded(ctx, key, "p1")

	snap, ok, err := s.tracker.Snapshot(ctx, key)
	s.Require().NoError(err)
	s.Require().True(ok)
	s.Equal(int64(2), snap.Count)

	live, err := s.tracker.Sessions(ctx)
	s.Require().NoError(err)
	s.Require().Len(live, 1)
	s.Equal(key, live[0].Key)

	people, err := s.tracker.End(ctx, key)
	s.Require().NoError(err)
	s.Equal([]domain.PersonID{"p1", "p2"}, people)

	_, ok, err = s.tracker.Snapshot(ctx, key)
	s.Require().NoError(err)
	s.False(ok)
}

func (s *RedisTrackerSuite) TestForget() {
	ctx := context.Background()
	_, _ = s.tracker.MarkRecorded(ctx, key, "p1")
	s.Require().NoError(s.tracker.Forget(ctx, key, "p1"))

	ok, err := s.tracker.IsRecorded(ctx, key, "p1")
	s.Require().NoError(err)
	s.False(ok)
}

func (s *RedisTrackerSuite) TestSweepDropsExpiredIndexEntries() {
	ctx := context.Background()
	s.Require().NoError(s.tracker.Open(ctx, key, time.Now().Add(-time.Minute)))
	other := domain.SessionKey{SessionID: "s2", Date: key.Date}
	s.Require().NoError(s.tracker.Open(ctx, other, time.Now().Add(time.Hour)))

	n, err := s.tracker.Sweep(ctx, time.Now())
	s.Require().NoError(err)
	s.Equal(1, n)

	_, ok, _ := s.tracker.Snapshot(ctx, key)
	s.False(ok)
	_, ok, _ = s.tracker.Snapshot(ctx, other)
	s.True(ok)
}

func (s *RedisTrackerSuite) TestSweepKeepsOpenedAtOfExtendedSession() {
	ctx := context.Background()
	s.Require().NoError(s.tracker.Open(ctx, key, time.Now().Add(-time.Minute)))
	before, ok, err := s.tracker.Snapshot(ctx, key)
	s.Require().NoError(err)
	s.Require().True(ok)

	s.Require().NoError(s.tracker.Open(ctx, key, time.Now().Add(time.Hour)))
	n, err := s.tracker.Sweep(ctx, time.Now())
	s.Require().NoError(err)
	s.Zero(n)

	after, ok, err := s.tracker.Snapshot(ctx, key)
	s.Require().NoError(err)
	s.Require().True(ok)
	s.Equal(before.OpenedAt.UnixMilli(), after.OpenedAt.UnixMilli())
}

// An Open racing a Sweep either loses (session gone entirely) or wins
// (session live with its opened-at); never a live session without one.
func (s *RedisTrackerSuite) TestSweepRacingOpenLeavesConsistentState() {
	ctx := context.Background()
	for i := range 30 {
		k := domain.SessionKey{SessionID: domain.SessionID(fmt.Sprintf("race-%d", i)), Date: key.Date}
		s.Require().NoError(s.tracker.Open(ctx, k, time.Now().Add(-time.Minute)))

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = s.tracker.Sweep(ctx, time.Now())
		}()
		go func() {
			defer wg.Done()
			_ = s.tracker.Open(ctx, k, time.Now().Add(time.Hour))
		}()
		wg.Wait()

		live, err := s.client.ZScore(ctx, redisIndexKey, k.String()).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		s.Require().NoError(err)
		s.Greater(live, float64(time.Now().UnixMilli()))
		has, err := s.client.HExists(ctx, redisOpenedKey, k.String()).Result()
		s.Require().NoError(err)
		s.True(has, "live session %s lost its opened-at", k)
	}
}
