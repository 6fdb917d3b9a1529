package claim

import (
	"context"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
)

// Ensure RedisRegistry implements Registry
var _ Registry = (*RedisRegistry)(nil)

// redisKey returns the Redis key for a group's claimed set.
func redisKey(group string) string {
	return "group:" + group + ":claims"
}

// RedisRegistry keeps claims in one Redis set per group, so several server
// processes can arbitrate against the same state.
type RedisRegistry struct {
	client redis.Cmdable
}

// NewRedisRegistry creates a RedisRegistry on top of client.
func NewRedisRegistry(client redis.Cmdable) *RedisRegistry {
	return &RedisRegistry{client: client}
}

// IsClaimed reports whether guest is a member of the group's set.
func (r *RedisRegistry) IsClaimed(ctx context.Context, group, guest string) (bool, error) {
	if err := validate(group, guest); err != nil {
		return false, err
	}
	ok, err := r.client.SIsMember(ctx, redisKey(group), guest).Result()
	if err != nil {
		return false, fmt.Errorf("redis: check claim: %w", err)
	}
	return ok, nil
}

// TryClaim adds guest with SADD. Redis reports the member as added to exactly
// one caller, which makes this the atomic arbitration step.
func (r *RedisRegistry) TryClaim(ctx context.Context, group, guest string) (bool, error) {
	if err := validate(group, guest); err != nil {
		return false, err
	}
	added, err := r.client.SAdd(ctx, redisKey(group), guest).Result()
	if err != nil {
		return false, fmt.Errorf("redis: claim guest: %w", err)
	}
	return added == 1, nil
}

// Claim adds guest to the group's set.
func (r *RedisRegistry) Claim(ctx context.Context, group, guest string) error {
	if err := validate(group, guest); err != nil {
		return err
	}
	if err := r.client.SAdd(ctx, redisKey(group), guest).Err(); err != nil {
		return fmt.Errorf("redis: claim guest: %w", err)
	}
	return nil
}

// Release removes guest from the group's set.
func (r *RedisRegistry) Release(ctx context.Context, group, guest string) (bool, error) {
	if err := validate(group, guest); err != nil {
		return false, err
	}
	removed, err := r.client.SRem(ctx, redisKey(group), guest).Result()
	if err != nil {
		return false, fmt.Errorf("redis: release guest: %w", err)
	}
	return removed == 1, nil
}

// Claimed returns the group's members, sorted.
func (r *RedisRegistry) Claimed(ctx context.Context, group string) ([]string, error) {
	if group == "" {
		return nil, ErrEmptyGroup
	}
	guests, err := r.client.SMembers(ctx, redisKey(group)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: list claims: %w", err)
	}
	sort.Strings(guests)
	return guests, nil
}

// Dispose deletes the group's set.
func (r *RedisRegistry) Dispose(ctx context.Context, group string) error {
	if group == "" {
		return ErrEmptyGroup
	}
	if err := r.client.Del(ctx, redisKey(group)).Err(); err != nil {
		return fmt.Errorf("redis: dispose group: %w", err)
	}
	return nil
}
