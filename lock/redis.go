package lock

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	redisRetryInterval = 25 * time.Millisecond
	// DefaultRedisTTL replaces a non-positive ttl; SET NX without expiry
	// would let a crashed holder block its key forever.
	DefaultRedisTTL = 10 * time.Second
)

// releaseScript deletes the key only while it still carries our token, so an
// expired lock taken over by another instance is left alone.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

type redisLocker struct {
	client  *redis.Client
	ttl     time.Duration
	timeout time.Duration
	prefix  string
	log     *zap.Logger
}

// NewRedis returns a Locker shared by every server instance using client.
// ttl bounds how long a crashed holder can block a key.
func NewRedis(client *redis.Client, ttl, timeout time.Duration, log *zap.Logger) Locker {
	if ttl <= 0 {
		ttl = DefaultRedisTTL
	}
	return &redisLocker{
		client:  client,
		ttl:     ttl,
		timeout: timeout,
		prefix:  "waterplant:lock:",
		log:     log.Named("lock"),
	}
}

func (l *redisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	key = l.prefix + key
	token := uuid.NewString()
	deadline := time.Now().Add(l.timeout)

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			break
		}

		if time.Now().After(deadline) {
			return nil, ErrNotAcquired
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(redisRetryInterval):
		}
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil {
			l.log.Warn("releasing lock failed; it expires after its ttl",
				zap.String("key", key), zap.Duration("ttl", l.ttl), zap.Error(err))
		}
	}, nil
}
