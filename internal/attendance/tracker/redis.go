package tracker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/attendly/server/internal/attendance/domain"
)

const (
	redisKeyPrefix = "attendly:live:"
	// Sorted set of live session keys scored by expiry in unix millis.
	redisIndexKey = "attendly:live-index"
	// Hash of session key to opened-at unix millis.
	redisOpenedKey = "attendly:live-opened"
)

// markScript adds a member and pins the set's expiry to the session's,
// registering the session with a grace expiry when it was never opened.
var markScript = redis.NewScript(`
local added = redis.call('SADD', KEYS[1], ARGV[1])
local exp = redis.call('ZSCORE', KEYS[2], ARGV[2])
if not exp then
  exp = ARGV[3]
  redis.call('ZADD', KEYS[2], exp, ARGV[2])
  redis.call('HSETNX', KEYS[3], ARGV[2], ARGV[4])
end
redis.call('PEXPIREAT', KEYS[1], exp)
return added
`)

// openScript only ever moves a session's expiry later.
var openScript = redis.NewScript(`
redis.call('ZADD', KEYS[2], 'GT', ARGV[2], ARGV[1])
redis.call('HSETNX', KEYS[3], ARGV[1], ARGV[3])
local exp = redis.call('ZSCORE', KEYS[2], ARGV[1])
if redis.call('EXISTS', KEYS[1]) == 1 then
  redis.call('PEXPIREAT', KEYS[1], exp)
end
return 1
`)

// sweepScript selects and removes expired sessions in one step, so an Open
// that extends a session mid-sweep keeps its index entry and opened-at.
var sweepScript = redis.NewScript(`
local expired = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
for _, member in ipairs(expired) do
  redis.call('ZREM', KEYS[1], member)
  redis.call('HDEL', KEYS[2], member)
end
return #expired
`)

// Redis is a Tracker shared by every server instance. Each session is one
// set; SADD's reply tells the caller whether it inserted the member.
type Redis struct {
	client *redis.Client
	grace  time.Duration
	now    func() time.Time
}

var _ Tracker = (*Redis)(nil)

func NewRedis(client *redis.Client, grace time.Duration) *Redis {
	return &Redis{client: client, grace: grace, now: time.Now}
}

func setKey(key domain.SessionKey) string {
	return redisKeyPrefix + string(key.SessionID) + ":" + key.Date.String()
}

func (r *Redis) Open(ctx context.Context, key domain.SessionKey, expiresAt time.Time) error {
	keys := []string{setKey(key), redisIndexKey, redisOpenedKey}
	err := openScript.Run(ctx, r.client, keys,
		key.String(), expiresAt.UnixMilli(), r.now().UnixMilli()).Err()
	if err != nil {
		return fmt.Errorf("open %s: %w", key, err)
	}
	return nil
}

func (r *Redis) MarkRecorded(ctx context.Context, key domain.SessionKey, person domain.PersonID) (bool, error) {
	now := r.now()
	keys := []string{setKey(key), redisIndexKey, redisOpenedKey}
	n, err := markScript.Run(ctx, r.client, keys,
		string(person), key.String(), now.Add(r.grace).UnixMilli(), now.UnixMilli()).Int()
	if err != nil {
		return false, fmt.Errorf("mark %s in %s: %w", person, key, err)
	}
	return n == 1, nil
}

func (r *Redis) IsRecorded(ctx context.Context, key domain.SessionKey, person domain.PersonID) (bool, error) {
	ok, err := r.client.SIsMember(ctx, setKey(key), string(person)).Result()
	if err != nil {
		return false, fmt.Errorf("lookup %s in %s: %w", person, key, err)
	}
	return ok, nil
}

func (r *Redis) Forget(ctx context.Context, key domain.SessionKey, person domain.PersonID) error {
	return r.client.SRem(ctx, setKey(key), string(person)).Err()
}

func (r *Redis) End(ctx context.Context, key domain.SessionKey) ([]domain.PersonID, error) {
	var members *redis.StringSliceCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		members = pipe.SMembers(ctx, setKey(key))
		pipe.Del(ctx, setKey(key))
		pipe.ZRem(ctx, redisIndexKey, key.String())
		pipe.HDel(ctx, redisOpenedKey, key.String())
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("end %s: %w", key, err)
	}
	out := make([]domain.PersonID, 0, len(members.Val()))
	for _, m := range members.Val() {
		out = append(out, domain.PersonID(m))
	}
	sortPeople(out)
	return out, nil
}

func (r *Redis) Snapshot(ctx context.Context, key domain.SessionKey) (Snapshot, bool, error) {
	snaps, err := r.snapshots(ctx, []redis.Z{{Member: key.String()}}, true)
	if err != nil {
		return Snapshot{}, false, err
	}
	if len(snaps) == 0 {
		return Snapshot{}, false, nil
	}
	return snaps[0], true, nil
}

func (r *Redis) Sessions(ctx context.Context) ([]Snapshot, error) {
	live, err := r.client.ZRangeByScoreWithScores(ctx, redisIndexKey, &redis.ZRangeBy{
		Min: strconv.FormatInt(r.now().UnixMilli(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("list live sessions: %w", err)
	}
	snaps, err := r.snapshots(ctx, live, false)
	if err != nil {
		return nil, err
	}
	sortSnapshots(snaps)
	return snaps, nil
}

// snapshots fills counts and opened-at for index entries. When lookupScore
// is set the expiry is read from the index and missing entries are dropped.
func (r *Redis) snapshots(ctx context.Context, entries []redis.Z, lookupScore bool) ([]Snapshot, error) {
	type pending struct {
		key    domain.SessionKey
		score  *redis.FloatCmd
		count  *redis.IntCmd
		opened *redis.StringCmd
		z      redis.Z
	}
	var ps []pending
	_, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, z := range entries {
			member, _ := z.Member.(string)
			k, err := domain.ParseSessionKey(member)
			if err != nil {
				continue
			}
			p := pending{key: k, z: z}
			if lookupScore {
				p.score = pipe.ZScore(ctx, redisIndexKey, member)
			}
			p.count = pipe.SCard(ctx, setKey(k))
			p.opened = pipe.HGet(ctx, redisOpenedKey, member)
			ps = append(ps, p)
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("read live sessions: %w", err)
	}

	out := make([]Snapshot, 0, len(ps))
	for _, p := range ps {
		exp := p.z.Score
		if lookupScore {
			v, err := p.score.Result()
			if errors.Is(err, redis.Nil) {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("read expiry of %s: %w", p.key, err)
			}
			exp = v
		}
		opened, _ := p.opened.Int64()
		out = append(out, Snapshot{
			Key:       p.key,
			Count:     p.count.Val(),
			OpenedAt:  time.UnixMilli(opened),
			ExpiresAt: time.UnixMilli(int64(exp)),
		})
	}
	return out, nil
}

// Sweep drops expired sessions from the index. The member sets carry their
// own expiry, so Redis reclaims those on its own.
func (r *Redis) Sweep(ctx context.Context, now time.Time) (int, error) {
	n, err := sweepScript.Run(ctx, r.client, []string{redisIndexKey, redisOpenedKey},
		now.UnixMilli()-1).Int()
	if err != nil {
		return 0, fmt.Errorf("sweep: %w", err)
	}
	return n, nil
}
