package health

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Checker reports whether one external dependency is reachable.
type Checker interface {
	Name() string
	Check(ctx context.Context) error
}

// Pinger is anything with a context-aware ping; the store, the Redis
// client, and the Kafka clients all qualify.
type Pinger interface {
	Ping(ctx context.Context) error
}

// pingChecker adapts a Pinger into a named Checker.
type pingChecker struct {
	name   string
	pinger Pinger
}

func (c *pingChecker) Name() string                    { return c.name }
func (c *pingChecker) Check(ctx context.Context) error { return c.pinger.Ping(ctx) }

// NewPingChecker wraps a Pinger as a Checker.
func NewPingChecker(name string, pinger Pinger) Checker {
	return &pingChecker{name: name, pinger: pinger}
}

// NewRedisChecker returns a checker over a Redis client.
func NewRedisChecker(client *redis.Client) Checker {
	return &pingChecker{name: "redis", pinger: redisPinger{client}}
}

type redisPinger struct {
	client *redis.Client
}

func (p redisPinger) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// CheckAll runs every checker under a shared timeout and returns the
// failures by name. An empty map means ready.
func CheckAll(ctx context.Context, timeout time.Duration, checkers []Checker) map[string]error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	failures := make(map[string]error)
	for _, c := range checkers {
		if err := c.Check(ctx); err != nil {
			failures[c.Name()] = err
		}
	}
	return failures
}
