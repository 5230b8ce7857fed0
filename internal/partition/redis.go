package partition

import (
	"context"
	"time"

	"spotledger/internal/schema"
	"spotledger/pkg/exception"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/yanun0323/errors"
)

const (
	defaultRedisPrefix = "spotledger:lock"
	defaultRedisTTL    = 5 * time.Minute
	defaultRetry       = 100 * time.Millisecond
	releaseTimeout     = 5 * time.Second
)

// releaseScript deletes the key only while it still holds the caller's token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisClient is the subset of a go-redis client the lock uses.
type RedisClient interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	redis.Scripter
}

// RedisOption configures a RedisLocker.
type RedisOption struct {
	Prefix string
	// TTL bounds how long a crashed holder keeps the partition.
	TTL   time.Duration
	Retry time.Duration
}

// RedisLocker holds partitions across processes with SET NX PX and a random token.
type RedisLocker struct {
	client RedisClient
	opt    RedisOption
}

// NewRedisLocker returns a locker on client.
func NewRedisLocker(client RedisClient, opt RedisOption) *RedisLocker {
	if opt.Prefix == "" {
		opt.Prefix = defaultRedisPrefix
	}
	if opt.TTL <= 0 {
		opt.TTL = defaultRedisTTL
	}
	if opt.Retry <= 0 {
		opt.Retry = defaultRetry
	}
	return &RedisLocker{client: client, opt: opt}
}

// Key returns the Redis key of a partition.
func (l *RedisLocker) Key(p schema.PartitionKey) string {
	return l.opt.Prefix + ":" + p.String()
}

func (l *RedisLocker) Lock(ctx context.Context, p schema.PartitionKey) (Release, error) {
	key := l.Key(p)
	token := uuid.NewString()

	ticker := time.NewTicker(l.opt.Retry)
	defer ticker.Stop()
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.opt.TTL).Result()
		if err != nil {
			return nil, errors.Wrap(err, "acquire partition lock").With("key", key)
		}
		if ok {
			return l.release(key, token), nil
		}
		select {
		case <-ctx.Done():
			return nil, errors.Wrapf(exception.ErrPartitionBusy, "partition %s: %s", p, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (l *RedisLocker) release(key, token string) Release {
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		defer cancel()
		n, err := releaseScript.Run(ctx, l.client, []string{key}, token).Int64()
		if err != nil {
			return errors.Wrap(err, "release partition lock").With("key", key)
		}
		if n == 0 {
			return errors.Wrapf(exception.ErrPartitionBusy, "lock %s expired or was taken over", key)
		}
		return nil
	}
}
