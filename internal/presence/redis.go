package presence

import (
	"context"
	"fmt"
	"time"

	storeredis "github.com/concord-chat/beacon/internal/store/redis"
	"github.com/redis/go-redis/v9"
)

const activeSigningPubkeyField = "active_signing_pubkey"

func userKey(userID string) string {
	return fmt.Sprintf("presence:user:%s", userID)
}

// houseKey is named after the reverse-index key prefix ("house") the
// original presence store used, kept verbatim for on-disk compatibility with
// existing Redis data.
func houseKey(signingPubkey string) string {
	return fmt.Sprintf("presence:house:%s", signingPubkey)
}

// RedisBackend is the cross-process presence backend, for a federation of
// signaling servers sharing one Redis instance. Every write pipelines its
// commands (non-transactional `redis.Pipeline`, not MULTI/EXEC) the same way
// the original presence handlers did — good enough for presence, which
// self-heals on every snapshot read.
type RedisBackend struct {
	client *storeredis.Client
}

// NewRedisBackend wraps an already-connected Redis client.
func NewRedisBackend(client *storeredis.Client) *RedisBackend {
	return &RedisBackend{client: client}
}

// Hello implements Backend: HSET + EXPIRE on the user key, and SADD into
// every signing key's house-set, all in one pipeline.
func (b *RedisBackend) Hello(ctx context.Context, userID string, signingPubkeys []string, active string, ttl time.Duration) error {
	rdb := b.client.Underlying()
	pipe := rdb.Pipeline()
	uKey := userKey(userID)
	pipe.HSet(ctx, uKey, activeSigningPubkeyField, active)
	pipe.Expire(ctx, uKey, ttl)
	for _, key := range signingPubkeys {
		if key == "" {
			continue
		}
		pipe.SAdd(ctx, houseKey(key), userID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("presence: redis hello: %w", err)
	}
	return nil
}

// Active implements Backend: HSET + EXPIRE only, no SADD — it writes the
// record even for a user absent from every house-set, matching the source
// behavior (see DESIGN.md).
func (b *RedisBackend) Active(ctx context.Context, userID string, active string, ttl time.Duration) error {
	rdb := b.client.Underlying()
	pipe := rdb.Pipeline()
	uKey := userKey(userID)
	pipe.HSet(ctx, uKey, activeSigningPubkeyField, active)
	pipe.Expire(ctx, uKey, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("presence: redis active: %w", err)
	}
	return nil
}

// Disconnect implements Backend: delete the user key and remove the user
// from every listed house-set.
func (b *RedisBackend) Disconnect(ctx context.Context, userID string, signingPubkeys []string) error {
	rdb := b.client.Underlying()
	pipe := rdb.Pipeline()
	pipe.Del(ctx, userKey(userID))
	for _, key := range signingPubkeys {
		if key == "" {
			continue
		}
		pipe.SRem(ctx, houseKey(key), userID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("presence: redis disconnect: %w", err)
	}
	return nil
}

// Snapshot implements Backend: SMEMBERS the house-set, then a pipelined
// HGET of active_signing_pubkey per member. Members whose user key has
// expired are partitioned into stale and repaired out of the house-set in
// the same call.
func (b *RedisBackend) Snapshot(ctx context.Context, signingPubkey string) ([]UserStatus, error) {
	rdb := b.client.Underlying()
	key := houseKey(signingPubkey)
	members, err := rdb.SMembers(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("presence: redis snapshot smembers: %w", err)
	}
	if len(members) == 0 {
		return nil, nil
	}

	pipe := rdb.Pipeline()
	cmds := make([]*redis.StringCmd, len(members))
	for i, userID := range members {
		cmds[i] = pipe.HGet(ctx, userKey(userID), activeSigningPubkeyField)
	}
	_, err = pipe.Exec(ctx)
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("presence: redis snapshot hget: %w", err)
	}

	var stale []string
	statuses := make([]UserStatus, 0, len(members))
	for i, userID := range members {
		active, cmdErr := cmds[i].Result()
		if cmdErr == redis.Nil {
			stale = append(stale, userID)
			continue
		}
		if cmdErr != nil {
			return nil, fmt.Errorf("presence: redis snapshot hget %s: %w", userID, cmdErr)
		}
		statuses = append(statuses, UserStatus{UserID: userID, ActiveSigningPubkey: active})
	}

	if len(stale) > 0 {
		if err := rdb.SRem(ctx, key, toInterfaceSlice(stale)...).Err(); err != nil {
			return nil, fmt.Errorf("presence: redis snapshot repair: %w", err)
		}
	}
	return statuses, nil
}

// Refresh implements Backend as a single pipeline of Hello-equivalent
// writes, one HSET+EXPIRE+SADD group per user. A no-op on an empty slice.
func (b *RedisBackend) Refresh(ctx context.Context, users []RefreshUser, ttl time.Duration) error {
	if len(users) == 0 {
		return nil
	}
	rdb := b.client.Underlying()
	pipe := rdb.Pipeline()
	for _, u := range users {
		uKey := userKey(u.UserID)
		pipe.HSet(ctx, uKey, activeSigningPubkeyField, u.Active)
		pipe.Expire(ctx, uKey, ttl)
		for _, key := range u.SigningPubkeys {
			if key == "" {
				continue
			}
			pipe.SAdd(ctx, houseKey(key), u.UserID)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("presence: redis refresh: %w", err)
	}
	return nil
}

func toInterfaceSlice(ss []string) []interface{} {
	out := make([]interface{}, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
