package feedback

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nestedsampling/polychord-go/internal/config"
	"github.com/nestedsampling/polychord-go/internal/resilience"
)

// ProgressFrame is the JSON payload published on every feedback tick.
type ProgressFrame struct {
	NDead               int     `json:"ndead"`
	LogZ                float64 `json:"log_z"`
	Sigma               float64 `json:"sigma"`
	MeanLikelihoodCalls float64 `json:"mean_likelihood_calls"`
}

// Broadcaster publishes ProgressFrames to a Redis pub/sub channel so an
// external dashboard can follow a run without polling the stats file. The
// latest frame is also cached under a well-known key for LastProgress, so
// a late subscriber can recover the current state instead of waiting for
// the next tick.
type Broadcaster struct {
	rdb     *redis.Client
	channel string
	logger  *slog.Logger
	breaker *resilience.CircuitBreaker
}

// NewBroadcaster dials Redis and verifies the connection with a PING,
// retrying per internal/resilience.Retry. If Redis is unreachable after
// retrying, it returns a nil *Broadcaster and a non-fatal error; callers
// degrade to log-only feedback.
func NewBroadcaster(ctx context.Context, cfg config.RedisConfig, fileRoot string) (*Broadcaster, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
	err := resilience.Retry(ctx, "redis-connect", resilience.RetryConfig{MaxAttempts: 3, InitialDelay: cfg.DialWait}, func() error {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return rdb.Ping(pingCtx).Err()
	})
	if err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &Broadcaster{
		rdb:     rdb,
		channel: fmt.Sprintf("%s:%s", cfg.Channel, fileRoot),
		logger:  slog.Default().With("component", "feedback-broadcast"),
		breaker: resilience.NewCircuitBreaker("redis-progress", resilience.CircuitBreakerConfig{}),
	}, nil
}

// Publish serializes frame and publishes it on the broadcaster's channel,
// and caches it under the last-frame key. Publish failures trip the
// breaker and are logged, never returned to the scheduler: a broken sink
// must not interrupt promotion.
func (b *Broadcaster) Publish(ctx context.Context, frame ProgressFrame) {
	if b == nil {
		return
	}
	payload, err := json.Marshal(frame)
	if err != nil {
		b.logger.Error("marshaling progress frame", "error", err)
		return
	}
	err = b.breaker.Execute(func() error {
		return resilience.WithTimeout(ctx, 2*time.Second, "redis-progress", func(pubCtx context.Context) error {
			if err := b.rdb.Publish(pubCtx, b.channel, payload).Err(); err != nil {
				return err
			}
			return b.rdb.Set(pubCtx, b.channel+":last", payload, 0).Err()
		})
	})
	if err != nil {
		b.logger.Warn("progress broadcast failed", "error", err, "breaker_state", b.breaker.GetState())
	}
}

// LastProgress returns the most recently published ProgressFrame, or
// ok=false if none has been published yet (a Redis nil reply).
func (b *Broadcaster) LastProgress(ctx context.Context) (frame ProgressFrame, ok bool) {
	if b == nil {
		return ProgressFrame{}, false
	}
	val, err := b.rdb.Get(ctx, b.channel+":last").Result()
	if err != nil {
		if !IsNilError(err) {
			b.logger.Warn("reading last progress frame", "error", err)
		}
		return ProgressFrame{}, false
	}
	if err := json.Unmarshal([]byte(val), &frame); err != nil {
		b.logger.Warn("decoding last progress frame", "error", err)
		return ProgressFrame{}, false
	}
	return frame, true
}

// Breaker exposes the broadcaster's circuit breaker so its state can be
// mirrored into the metrics gauge.
func (b *Broadcaster) Breaker() *resilience.CircuitBreaker {
	return b.breaker
}

// IsNilError reports whether err is a Redis nil (key-not-found) error.
func IsNilError(err error) bool {
	return err == redis.Nil
}

// Close closes the underlying Redis connection.
func (b *Broadcaster) Close() error {
	if b == nil {
		return nil
	}
	return b.rdb.Close()
}
