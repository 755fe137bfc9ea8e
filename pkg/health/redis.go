package health

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisProber probes a Redis instance with PING. A PONG within the timeout
// is UP.
type RedisProber struct {
	client  *redis.Client
	Timeout time.Duration
}

// NewRedisProber creates a prober for the Redis server at addr
func NewRedisProber(addr, password string, db int, timeout time.Duration) *RedisProber {
	return &RedisProber{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
		Timeout: timeout,
	}
}

func (p *RedisProber) Kind() string {
	return "redis"
}

// Probe issues one PING
func (p *RedisProber) Probe(ctx context.Context) Result {
	return run(ctx, p.Timeout, func(ctx context.Context) (Verdict, string) {
		if err := p.client.Ping(ctx).Err(); err != nil {
			if ctx.Err() == context.DeadlineExceeded {
				return VerdictDown, "probe timed out"
			}
			return VerdictDown, err.Error()
		}
		return VerdictUp, ""
	})
}

// Close releases the underlying connection pool
func (p *RedisProber) Close() error {
	return p.client.Close()
}
