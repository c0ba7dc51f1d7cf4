package limiter

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// budgetScript runs the token bucket atomically inside Redis so every
// engine instance draws from the same budget.
// KEYS[1] = bucket key ("accord:budget:<scope>")
// ARGV[1] = refill rate (tokens per second)
// ARGV[2] = capacity
// ARGV[3] = cost
// ARGV[4] = current unix time (seconds, fractional)
var budgetScript = redis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local cost = tonumber(ARGV[3])
local now = tonumber(ARGV[4])

local state = redis.call("HMGET", key, "tokens", "refilled_at")
local tokens = tonumber(state[1])
local refilled_at = tonumber(state[2])

if not tokens or not refilled_at then
    tokens = capacity
    refilled_at = now
end

local elapsed = now - refilled_at
if elapsed > 0 then
    tokens = tokens + elapsed * rate
    if tokens > capacity then
        tokens = capacity
    end
    refilled_at = now
end

local allowed = 0
if tokens >= cost then
    tokens = tokens - cost
    allowed = 1
end

redis.call("HMSET", key, "tokens", tokens, "refilled_at", refilled_at)
redis.call("EXPIRE", key, 60)

return {allowed, tokens}
`)

// RedisStore implements Store on Redis for multi-instance deployments.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects a budget store to Redis.
func NewRedisStore(addr, password string, db int) *RedisStore {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisStore{client: rdb}
}

// Allow executes the bucket script for the scope.
func (s *RedisStore) Allow(ctx context.Context, scope string, budget CallBudget, cost int) (bool, error) {
	key := fmt.Sprintf("accord:budget:%s", scope)

	rate := float64(budget.RPM) / 60.0
	if rate <= 0 {
		rate = 1.0
	}
	now := float64(time.Now().UnixMicro()) / 1e6

	res, err := budgetScript.Run(ctx, s.client, []string{key}, rate, budget.Burst, cost, now).Result()
	if err != nil {
		return false, fmt.Errorf("redis budget error: %w", err)
	}

	results, ok := res.([]interface{})
	if !ok || len(results) != 2 {
		return false, fmt.Errorf("invalid response from budget script")
	}

	allowed, _ := results[0].(int64)
	return allowed == 1, nil
}
