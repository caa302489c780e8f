package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "ratelimit:"

// slidingWindowScript はウィンドウ外の削除・件数確認・記録を Redis 上で不可分に行います。
// 戻り値は {許可(1/0), 再試行までのミリ秒}。
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
if count >= limit then
  local retry = 0
  local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
  if oldest[2] then
    retry = tonumber(oldest[2]) + window - now
  end
  return {0, retry}
end
redis.call('ZADD', key, now, ARGV[4])
redis.call('PEXPIRE', key, window)
return {1, 0}
`)

// RedisLimiter は Redis のソート済みセットで試行時刻を保持するレート制限です。
// キーにはウィンドウ長の TTL が付くため、使われなくなったキーは自動的に消えます。
type RedisLimiter struct {
	rdb redis.Scripter
	now func() time.Time
}

// NewRedisLimiter は RedisLimiter を作成します。
func NewRedisLimiter(rdb redis.Scripter) *RedisLimiter {
	return &RedisLimiter{rdb: rdb, now: time.Now}
}

// Allow は MemoryLimiter と同じ規則で判定します。
func (r *RedisLimiter) Allow(ctx context.Context, clientID, endpoint string, rule Rule) (Decision, error) {
	now := r.now().UnixMilli()
	member := strconv.FormatInt(now, 10) + ":" + uuid.NewString()

	res, err := slidingWindowScript.Run(ctx, r.rdb,
		[]string{redisKey(clientID, endpoint)},
		now, rule.Window.Milliseconds(), rule.MaxAttempts, member,
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("redis rate limit: %w", err)
	}
	if len(res) != 2 {
		return Decision{}, fmt.Errorf("redis rate limit: unexpected reply %v", res)
	}
	if res[0] == 1 {
		return Decision{Allowed: true}, nil
	}
	return Decision{Allowed: false, RetryAfter: time.Duration(res[1]) * time.Millisecond}, nil
}

func redisKey(clientID, endpoint string) string {
	return redisKeyPrefix + endpoint + ":" + clientID
}

var _ Limiter = (*RedisLimiter)(nil)
