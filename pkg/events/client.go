// Package events publishes real-time ledger events (trades, blocks, price
// moves) over Redis Pub/Sub and Streams. Publishing is strictly best-effort:
// a dead Redis never fails a committed operation.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/canopy-network/ledgerx/pkg/utils"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Channels and streams.
const (
	ChannelTrades = "ledgerx:trades"
	ChannelBlocks = "ledgerx:blocks"
	ChannelPrices = "ledgerx:prices"

	StreamTrades = "ledgerx:stream:trades"
)

// DefaultStreamMaxLen caps stream growth.
const DefaultStreamMaxLen = 10000

// Publisher wraps the Redis client. A nil *Publisher is valid and publishes
// nothing, so callers never branch on whether events are enabled.
type Publisher struct {
	client       *redis.Client
	logger       *zap.Logger
	streamMaxLen int64
}

// NewPublisher connects to Redis using environment variables:
//   - REDIS_HOST (default "localhost"), REDIS_PORT (default "6379")
//   - REDIS_PASSWORD, REDIS_DB
//   - REDIS_STREAM_MAXLEN (default 10000, 0 = unlimited)
func NewPublisher(ctx context.Context, logger *zap.Logger) (*Publisher, error) {
	host := utils.Env("REDIS_HOST", "localhost")
	port := utils.Env("REDIS_PORT", "6379")
	password := utils.Env("REDIS_PASSWORD", "")
	db := utils.EnvInt("REDIS_DB", 0)
	streamMaxLen := utils.EnvInt64("REDIS_STREAM_MAXLEN", DefaultStreamMaxLen)

	addr := fmt.Sprintf("%s:%s", host, port)

	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,

		PoolSize:     10,
		MinIdleConns: 2,

		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}

	logger.Info("Connected to Redis",
		zap.String("addr", addr),
		zap.Int("db", db),
		zap.Int64("streamMaxLen", streamMaxLen))

	return &Publisher{client: rdb, logger: logger, streamMaxLen: streamMaxLen}, nil
}

// Close closes the Redis connection.
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	return p.client.Close()
}

// Publish sends payload as JSON on a Pub/Sub channel. Errors are logged,
// never returned.
func (p *Publisher) Publish(ctx context.Context, channel string, payload any) {
	if p == nil {
		return
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		p.logger.Warn("Failed to encode event", zap.String("channel", channel), zap.Error(err))
		return
	}
	if err := p.client.Publish(ctx, channel, raw).Err(); err != nil {
		p.logger.Warn("Failed to publish event", zap.String("channel", channel), zap.Error(err))
	}
}

// Append adds an entry to a stream with MAXLEN trimming. Best-effort.
func (p *Publisher) Append(ctx context.Context, stream string, values map[string]any) {
	if p == nil {
		return
	}
	args := &redis.XAddArgs{Stream: stream, Values: values}
	if p.streamMaxLen > 0 {
		args.MaxLen = p.streamMaxLen
		args.Approx = true
	}
	if err := p.client.XAdd(ctx, args).Err(); err != nil {
		p.logger.Warn("Failed to append to stream", zap.String("stream", stream), zap.Error(err))
	}
}

// Subscribe opens a Pub/Sub subscription; the caller owns the returned
// handle.
func (p *Publisher) Subscribe(ctx context.Context, channels ...string) *redis.PubSub {
	if p == nil {
		return nil
	}
	return p.client.Subscribe(ctx, channels...)
}

// Health pings Redis.
func (p *Publisher) Health(ctx context.Context) error {
	if p == nil {
		return nil
	}
	return p.client.Ping(ctx).Err()
}
