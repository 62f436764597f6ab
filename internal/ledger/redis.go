package ledger

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// Multi-step atomic operations run as Lua scripts so they stay atomic
// across worker processes, not just within one.

var moveLowestScript = redis.NewScript(`
local popped = redis.call('ZPOPMIN', KEYS[1], tonumber(ARGV[1]))
local members = {}
for i = 1, #popped, 2 do
  redis.call('ZADD', KEYS[2], ARGV[2], popped[i])
  members[#members + 1] = popped[i]
end
return members
`)

var moveByScoreScript = redis.NewScript(`
local members = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
for i = 1, #members do
  redis.call('ZREM', KEYS[1], members[i])
  redis.call('ZADD', KEYS[2], ARGV[2], members[i])
end
return members
`)

var guardedHashSetScript = redis.NewScript(`
local current = redis.call('HGET', KEYS[1], ARGV[1])
if current == false then current = '' end
if current ~= ARGV[2] then return 0 end
for i = 3, #ARGV, 2 do
  redis.call('HSET', KEYS[1], ARGV[i], ARGV[i + 1])
end
return 1
`)

// RedisStore implements Store on top of a Redis server.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(address, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisStore{client: client}, nil
}

func (s *RedisStore) HashSet(ctx context.Context, key string, fields map[string]string) error {
	args := make([]interface{}, 0, len(fields)*2)
	for f, v := range fields {
		args = append(args, f, v)
	}
	return s.client.HSet(ctx, key, args...).Err()
}

func (s *RedisStore) HashGet(ctx context.Context, key, field string) (string, error) {
	v, err := s.client.HGet(ctx, key, field).Result()
	if err == redis.Nil {
		return "", ErrNotFound
	}
	return v, err
}

func (s *RedisStore) HashGetAll(ctx context.Context, key string) (map[string]string, error) {
	return s.client.HGetAll(ctx, key).Result()
}

func (s *RedisStore) HashIncrBy(ctx context.Context, key, field string, delta int64) (int64, error) {
	return s.client.HIncrBy(ctx, key, field, delta).Result()
}

func (s *RedisStore) HashSetIfFieldEquals(ctx context.Context, key, field, expected string, fields map[string]string) (bool, error) {
	args := make([]interface{}, 0, 2+len(fields)*2)
	args = append(args, field, expected)
	for f, v := range fields {
		args = append(args, f, v)
	}
	res, err := guardedHashSetScript.Run(ctx, s.client, []string{key}, args...).Int()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

func (s *RedisStore) SortedSetAdd(ctx context.Context, key, member string, score float64) error {
	return s.client.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err()
}

func (s *RedisStore) SortedSetRange(ctx context.Context, key string, start, stop int64, desc bool) ([]string, error) {
	if desc {
		return s.client.ZRevRange(ctx, key, start, stop).Result()
	}
	return s.client.ZRange(ctx, key, start, stop).Result()
}

func (s *RedisStore) SortedSetRangeWithScores(ctx context.Context, key string, start, stop int64, desc bool) ([]ScoredMember, error) {
	var zs []redis.Z
	var err error
	if desc {
		zs, err = s.client.ZRevRangeWithScores(ctx, key, start, stop).Result()
	} else {
		zs, err = s.client.ZRangeWithScores(ctx, key, start, stop).Result()
	}
	if err != nil {
		return nil, err
	}
	members := make([]ScoredMember, 0, len(zs))
	for _, z := range zs {
		m, _ := z.Member.(string)
		members = append(members, ScoredMember{Member: m, Score: z.Score})
	}
	return members, nil
}

func (s *RedisStore) SortedSetRemove(ctx context.Context, key string, members ...string) (int64, error) {
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return s.client.ZRem(ctx, key, args...).Result()
}

func (s *RedisStore) SortedSetCard(ctx context.Context, key string) (int64, error) {
	return s.client.ZCard(ctx, key).Result()
}

func (s *RedisStore) SortedSetMoveLowest(ctx context.Context, src, dst string, n int64, score float64) ([]string, error) {
	res, err := moveLowestScript.Run(ctx, s.client, []string{src, dst},
		strconv.FormatInt(n, 10), formatScore(score)).Result()
	if err != nil {
		return nil, err
	}
	return scriptMembers(res)
}

func (s *RedisStore) SortedSetMoveByScore(ctx context.Context, src, dst string, max, newScore float64) ([]string, error) {
	res, err := moveByScoreScript.Run(ctx, s.client, []string{src, dst},
		formatScore(max), formatScore(newScore)).Result()
	if err != nil {
		return nil, err
	}
	return scriptMembers(res)
}

func (s *RedisStore) ListPush(ctx context.Context, key string, value []byte) error {
	return s.client.LPush(ctx, key, value).Err()
}

func (s *RedisStore) ListPop(ctx context.Context, key string) ([]byte, error) {
	v, err := s.client.RPop(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	return v, err
}

func (s *RedisStore) ListTrim(ctx context.Context, key string, start, stop int64) error {
	return s.client.LTrim(ctx, key, start, stop).Err()
}

func (s *RedisStore) Publish(ctx context.Context, channel string, payload []byte) error {
	return s.client.Publish(ctx, channel, payload).Err()
}

func (s *RedisStore) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	sub := s.client.Subscribe(ctx, channel)
	if _, err := sub.Receive(ctx); err != nil {
		return nil, err
	}

	out := make(chan []byte, 64)
	go func() {
		defer close(out)
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func formatScore(score float64) string {
	return strconv.FormatFloat(score, 'f', -1, 64)
}

func scriptMembers(res interface{}) ([]string, error) {
	raw, ok := res.([]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected redis script result: %v", res)
	}
	members := make([]string, 0, len(raw))
	for _, m := range raw {
		str, ok := m.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected redis script member: %v", m)
		}
		members = append(members, str)
	}
	return members, nil
}
