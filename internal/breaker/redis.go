package breaker

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const redisKeyPrefix = "hookline:breaker"

// RedisStorage shares breaker state across processes. Each counter is a
// sorted set scored by millisecond timestamp; one pipelined
// ZADD+ZREMRANGEBYSCORE+ZCARD+EXPIRE keeps the window mutation a single
// round trip, so concurrent sync deliveries never lose updates.
//
// Every operation fails open: store trouble yields a zero count and closed
// state with a warning instead of an error.
type RedisStorage struct {
	client *redis.Client
	log    zerolog.Logger
}

func NewRedisStorage(client *redis.Client, log zerolog.Logger) *RedisStorage {
	return &RedisStorage{client: client, log: log}
}

func (s *RedisStorage) stateKey(integrationID string) string {
	return fmt.Sprintf("%s:%s:state", redisKeyPrefix, integrationID)
}

func (s *RedisStorage) counterKey(integrationID, counter string) string {
	return fmt.Sprintf("%s:%s:%s", redisKeyPrefix, integrationID, counter)
}

func (s *RedisStorage) LastOpen(ctx context.Context, integrationID string) (int64, State, error) {
	vals, err := s.client.HGetAll(ctx, s.stateKey(integrationID)).Result()
	if err != nil {
		s.log.Warn().Err(err).Str("integration_id", integrationID).Msg("breaker redis read failed, failing open")
		return 0, Closed, nil
	}
	openedAt, _ := strconv.ParseInt(vals["opened_at"], 10, 64)
	state, _ := strconv.Atoi(vals["state"])
	return openedAt, State(state), nil
}

func (s *RedisStorage) UpdateOpen(ctx context.Context, integrationID string, openedAt int64, state State) error {
	err := s.client.HSet(ctx, s.stateKey(integrationID),
		"opened_at", strconv.FormatInt(openedAt, 10),
		"state", strconv.Itoa(int(state)),
	).Err()
	if err != nil {
		s.log.Warn().Err(err).Str("integration_id", integrationID).Msg("breaker redis write failed, failing open")
	}
	return nil
}

func (s *RedisStorage) RegisterEvent(ctx context.Context, integrationID, counter string, ttl time.Duration) (int, error) {
	key := s.counterKey(integrationID, counter)
	now := time.Now()
	cutoff := now.Add(-ttl).UnixMilli()

	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(now.UnixMilli()),
		Member: strconv.FormatInt(now.UnixNano(), 10),
	})
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(cutoff, 10))
	card := pipe.ZCard(ctx, key)
	pipe.Expire(ctx, key, ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		s.log.Warn().Err(err).Str("integration_id", integrationID).Str("counter", counter).Msg("breaker redis pipeline failed, failing open")
		return 0, nil
	}
	return int(card.Val()), nil
}

func (s *RedisStorage) ClearState(ctx context.Context, integrationID string) error {
	err := s.client.Del(ctx,
		s.stateKey(integrationID),
		s.counterKey(integrationID, counterError),
		s.counterKey(integrationID, counterTotal),
	).Err()
	if err != nil {
		s.log.Warn().Err(err).Str("integration_id", integrationID).Msg("breaker redis clear failed")
	}
	return nil
}
