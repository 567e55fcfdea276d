package queue

import (
	"context"
	"log"
	"net"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/jamie-anson/placeflow-ingestor/internal/circuitbreaker"
)

// RedisCircuitBreaker wraps a go-redis v8 client with circuit breaker
// protection so a degraded Redis instance fails fast instead of hanging the
// consumer loop.
type RedisCircuitBreaker struct {
	client  *redis.Client
	breaker *circuitbreaker.CircuitBreaker
}

// NewRedisCircuitBreaker builds a circuit-breaker-wrapped Redis client.
func NewRedisCircuitBreaker(client *redis.Client, name string) *RedisCircuitBreaker {
	config := circuitbreaker.Config{
		Name:             name,
		MaxFailures:      3,
		Timeout:          10 * time.Second,
		MaxRequests:      2,
		SuccessThreshold: 2,
		IsFailure: func(err error) bool {
			if err == nil {
				return false
			}
			if err == context.Canceled || err == context.DeadlineExceeded {
				return false
			}
			if err == redis.Nil {
				return false
			}
			if isNetworkError(err) {
				return true
			}
			if strings.Contains(err.Error(), "connection refused") ||
				strings.Contains(err.Error(), "no route to host") ||
				strings.Contains(err.Error(), "timeout") ||
				strings.Contains(err.Error(), "broken pipe") {
				return true
			}
			return true
		},
	}
	return &RedisCircuitBreaker{client: client, breaker: circuitbreaker.New(config)}
}

func isNetworkError(err error) bool {
	if err == nil {
		return false
	}
	if netErr, ok := err.(net.Error); ok {
		return netErr.Timeout() || netErr.Temporary()
	}
	if _, ok := err.(*net.OpError); ok {
		return true
	}
	if _, ok := err.(*net.DNSError); ok {
		return true
	}
	return false
}

func (rcb *RedisCircuitBreaker) LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd {
	var result *redis.IntCmd
	err := rcb.breaker.Execute(ctx, func(ctx context.Context) error {
		result = rcb.client.LPush(ctx, key, values...)
		return result.Err()
	})
	if err != nil {
		result = redis.NewIntCmd(ctx, "lpush", key)
		result.SetErr(err)
	}
	return result
}

func (rcb *RedisCircuitBreaker) BRPop(ctx context.Context, timeout time.Duration, keys ...string) *redis.StringSliceCmd {
	var result *redis.StringSliceCmd
	err := rcb.breaker.Execute(ctx, func(ctx context.Context) error {
		result = rcb.client.BRPop(ctx, timeout, keys...)
		return result.Err()
	})
	if err != nil {
		result = redis.NewStringSliceCmd(ctx, "brpop")
		result.SetErr(err)
	}
	return result
}

func (rcb *RedisCircuitBreaker) ZAdd(ctx context.Context, key string, members ...*redis.Z) *redis.IntCmd {
	var result *redis.IntCmd
	err := rcb.breaker.Execute(ctx, func(ctx context.Context) error {
		result = rcb.client.ZAdd(ctx, key, members...)
		return result.Err()
	})
	if err != nil {
		result = redis.NewIntCmd(ctx, "zadd", key)
		result.SetErr(err)
	}
	return result
}

func (rcb *RedisCircuitBreaker) ZRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd {
	var result *redis.IntCmd
	err := rcb.breaker.Execute(ctx, func(ctx context.Context) error {
		result = rcb.client.ZRem(ctx, key, members...)
		return result.Err()
	})
	if err != nil {
		result = redis.NewIntCmd(ctx, "zrem", key)
		result.SetErr(err)
	}
	return result
}

func (rcb *RedisCircuitBreaker) ZRangeByScore(ctx context.Context, key string, opt *redis.ZRangeBy) *redis.StringSliceCmd {
	var result *redis.StringSliceCmd
	err := rcb.breaker.Execute(ctx, func(ctx context.Context) error {
		result = rcb.client.ZRangeByScore(ctx, key, opt)
		return result.Err()
	})
	if err != nil {
		result = redis.NewStringSliceCmd(ctx, "zrangebyscore", key)
		result.SetErr(err)
	}
	return result
}

func (rcb *RedisCircuitBreaker) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	var result *redis.IntCmd
	err := rcb.breaker.Execute(ctx, func(ctx context.Context) error {
		result = rcb.client.Del(ctx, keys...)
		return result.Err()
	})
	if err != nil {
		result = redis.NewIntCmd(ctx, "del")
		result.SetErr(err)
	}
	return result
}

func (rcb *RedisCircuitBreaker) HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd {
	var result *redis.IntCmd
	err := rcb.breaker.Execute(ctx, func(ctx context.Context) error {
		result = rcb.client.HSet(ctx, key, values...)
		return result.Err()
	})
	if err != nil {
		result = redis.NewIntCmd(ctx, "hset", key)
		result.SetErr(err)
	}
	return result
}

func (rcb *RedisCircuitBreaker) HGetAll(ctx context.Context, key string) *redis.StringStringMapCmd {
	var result *redis.StringStringMapCmd
	err := rcb.breaker.Execute(ctx, func(ctx context.Context) error {
		result = rcb.client.HGetAll(ctx, key)
		return result.Err()
	})
	if err != nil {
		result = redis.NewStringStringMapCmd(ctx, "hgetall", key)
		result.SetErr(err)
	}
	return result
}

func (rcb *RedisCircuitBreaker) Expire(ctx context.Context, key string, ttl time.Duration) *redis.BoolCmd {
	var result *redis.BoolCmd
	err := rcb.breaker.Execute(ctx, func(ctx context.Context) error {
		result = rcb.client.Expire(ctx, key, ttl)
		return result.Err()
	})
	if err != nil {
		result = redis.NewBoolCmd(ctx, "expire", key)
		result.SetErr(err)
	}
	return result
}

func (rcb *RedisCircuitBreaker) SAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd {
	var result *redis.IntCmd
	err := rcb.breaker.Execute(ctx, func(ctx context.Context) error {
		result = rcb.client.SAdd(ctx, key, members...)
		return result.Err()
	})
	if err != nil {
		result = redis.NewIntCmd(ctx, "sadd", key)
		result.SetErr(err)
	}
	return result
}

func (rcb *RedisCircuitBreaker) SCard(ctx context.Context, key string) *redis.IntCmd {
	var result *redis.IntCmd
	err := rcb.breaker.Execute(ctx, func(ctx context.Context) error {
		result = rcb.client.SCard(ctx, key)
		return result.Err()
	})
	if err != nil {
		result = redis.NewIntCmd(ctx, "scard", key)
		result.SetErr(err)
	}
	return result
}

func (rcb *RedisCircuitBreaker) Keys(ctx context.Context, pattern string) *redis.StringSliceCmd {
	var result *redis.StringSliceCmd
	err := rcb.breaker.Execute(ctx, func(ctx context.Context) error {
		result = rcb.client.Keys(ctx, pattern)
		return result.Err()
	})
	if err != nil {
		result = redis.NewStringSliceCmd(ctx, "keys", pattern)
		result.SetErr(err)
	}
	return result
}

func (rcb *RedisCircuitBreaker) TTL(ctx context.Context, key string) *redis.DurationCmd {
	var result *redis.DurationCmd
	err := rcb.breaker.Execute(ctx, func(ctx context.Context) error {
		result = rcb.client.TTL(ctx, key)
		return result.Err()
	})
	if err != nil {
		result = redis.NewDurationCmd(ctx, time.Second, "ttl", key)
		result.SetErr(err)
	}
	return result
}

func (rcb *RedisCircuitBreaker) HIncrBy(ctx context.Context, key, field string, incr int64) *redis.IntCmd {
	var result *redis.IntCmd
	err := rcb.breaker.Execute(ctx, func(ctx context.Context) error {
		result = rcb.client.HIncrBy(ctx, key, field, incr)
		return result.Err()
	})
	if err != nil {
		result = redis.NewIntCmd(ctx, "hincrby", key, field)
		result.SetErr(err)
	}
	return result
}

func (rcb *RedisCircuitBreaker) Ping(ctx context.Context) *redis.StatusCmd {
	var result *redis.StatusCmd
	err := rcb.breaker.Execute(ctx, func(ctx context.Context) error {
		result = rcb.client.Ping(ctx)
		return result.Err()
	})
	if err != nil {
		result = redis.NewStatusCmd(ctx, "ping")
		result.SetErr(err)
	}
	return result
}

// Stats returns circuit breaker statistics.
func (rcb *RedisCircuitBreaker) Stats() circuitbreaker.Stats {
	return rcb.breaker.Stats()
}

// State returns the current circuit breaker state.
func (rcb *RedisCircuitBreaker) State() circuitbreaker.State {
	return rcb.breaker.State()
}

// LogStats logs current circuit breaker statistics.
func (rcb *RedisCircuitBreaker) LogStats() {
	log.Printf("Redis Circuit Breaker Stats: %s", rcb.Stats().String())
}
