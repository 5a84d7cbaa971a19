// Package lock serialises expiry scans. An in-process lock always applies; when
// a Redis client is configured a SET NX PX lease additionally keeps instances of
// the same deployment from scanning at the same time.
package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultKey = "trainflow:expiry-scan:lease"
	DefaultTTL = 15 * time.Minute
)

// ErrHeld is returned when another instance holds the scan lease.
var ErrHeld = errors.New("scan lease held by another instance")

// releaseScript deletes the lease only when it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// LeaseClient is the subset of go-redis the lease needs.
type LeaseClient interface {
	redis.Scripter
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
}

type Locker struct {
	sem    chan struct{}
	client LeaseClient
	key    string
	ttl    time.Duration
	logger *slog.Logger
}

type Option func(*Locker)

// WithRedis enables the distributed lease. A nil client leaves it disabled.
func WithRedis(client LeaseClient, key string, ttl time.Duration) Option {
	return func(l *Locker) {
		l.client = client
		if key != "" {
			l.key = key
		}
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(l *Locker) {
		l.logger = logger
	}
}

func New(opts ...Option) *Locker {
	l := &Locker{
		sem: make(chan struct{}, 1),
		key: DefaultKey,
		ttl: DefaultTTL,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = slog.Default()
	}
	return l
}

// Distributed reports whether the Redis lease is in use.
func (l *Locker) Distributed() bool {
	return l.client != nil
}

// Acquire waits for the in-process lock, then takes the Redis lease when
// configured. The returned release func must be called exactly once.
func (l *Locker) Acquire(ctx context.Context) (func(), error) {
	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if l.client == nil {
		return func() { <-l.sem }, nil
	}

	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		<-l.sem
		return nil, fmt.Errorf("acquire scan lease: %w", err)
	}
	if !ok {
		<-l.sem
		return nil, ErrHeld
	}
	return func() {
		defer func() { <-l.sem }()
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(releaseCtx, l.client, []string{l.key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
			l.logger.WarnContext(ctx, "failed to release scan lease; it will expire",
				"key", l.key,
				"ttl", l.ttl,
				"error", err,
			)
		}
	}, nil
}
