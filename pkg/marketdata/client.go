// Package marketdata mirrors trade flow into ClickHouse for analytical
// queries that the document store is the wrong shape for. The mirror is
// optional and strictly best-effort: the operational path never depends on
// it, and every write failure is logged and dropped.
package marketdata

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/canopy-network/ledgerx/pkg/retry"
	"github.com/canopy-network/ledgerx/pkg/utils"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Client wraps a ClickHouse connection. A nil Client (or one whose conn is
// nil) is valid and turns every method into a no-op, so callers never branch
// on whether the mirror is configured.
type Client struct {
	logger *zap.Logger
	conn   driver.Conn
	db     string
}

// New connects to ClickHouse when CLICKHOUSE_ENABLED is set, creating the
// database and tables on first use. Returns a nil client when disabled.
func New(ctx context.Context, logger *zap.Logger) (*Client, error) {
	if utils.Env("CLICKHOUSE_ENABLED", "") == "" {
		return nil, nil
	}

	connCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	addr := utils.Env("CLICKHOUSE_ADDR", "localhost:9000")
	c := &Client{
		logger: logger.Named("marketdata"),
		db:     utils.Env("CLICKHOUSE_DATABASE", "ledgerx"),
	}

	options := &clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: "default",
			Username: utils.Env("CLICKHOUSE_USER", "default"),
			Password: utils.Env("CLICKHOUSE_PASSWORD", ""),
		},
		DialTimeout: 30 * time.Second,
		Compression: &clickhouse.Compression{Method: clickhouse.CompressionLZ4},
	}

	err := retry.WithBackoff(connCtx, retry.DefaultConfig(), logger, "clickhouse_connection", func() error {
		conn, err := clickhouse.Open(options)
		if err != nil {
			return fmt.Errorf("failed to open clickhouse connection: %w", err)
		}
		if err := conn.Ping(connCtx); err != nil {
			return fmt.Errorf("failed to ping clickhouse: %w", err)
		}
		c.conn = conn
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := c.initSchema(connCtx); err != nil {
		return nil, err
	}
	c.logger.Info("ClickHouse market-data mirror ready", zap.String("database", c.db))
	return c, nil
}

func (c *Client) initSchema(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE DATABASE IF NOT EXISTS %s`, c.db),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s.trades (
				pair       String,
				direction  String,
				price      Float64,
				volume     Float64,
				traded_at  DateTime
			) ENGINE = MergeTree()
			PARTITION BY toYYYYMM(traded_at)
			ORDER BY (pair, traded_at)
		`, c.db),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s.candles (
				symbol     String,
				bucket     DateTime,
				open       Float64,
				high       Float64,
				low        Float64,
				close      Float64,
				volume     Float64,
				updated_at DateTime
			) ENGINE = ReplacingMergeTree(updated_at)
			ORDER BY (symbol, bucket)
		`, c.db),
	}
	for _, stmt := range stmts {
		if err := c.conn.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to initialize marketdata schema: %w", err)
		}
	}
	return nil
}

func (c *Client) enabled() bool { return c != nil && c.conn != nil }

// InsertTrade mirrors one executed swap.
func (c *Client) InsertTrade(ctx context.Context, pair, direction string, price, volume decimal.Decimal, timestamp int64) {
	if !c.enabled() {
		return
	}
	query := fmt.Sprintf(`INSERT INTO %s.trades (pair, direction, price, volume, traded_at) VALUES (?, ?, ?, ?, ?)`, c.db)
	err := c.conn.Exec(ctx, query,
		pair, direction, price.InexactFloat64(), volume.InexactFloat64(), time.Unix(timestamp, 0).UTC())
	if err != nil {
		c.logger.Warn("Trade mirror insert failed", zap.String("pair", pair), zap.Error(err))
	}
}

// InsertCandle mirrors a candle snapshot. ReplacingMergeTree keyed on
// updated_at collapses re-inserts of the same (symbol, bucket) to the
// latest row, so emitting the open bucket on every sample is fine.
func (c *Client) InsertCandle(ctx context.Context, symbol string, bucket int64, open, high, low, close, volume decimal.Decimal) {
	if !c.enabled() {
		return
	}
	query := fmt.Sprintf(`
		INSERT INTO %s.candles (symbol, bucket, open, high, low, close, volume, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, c.db)
	err := c.conn.Exec(ctx, query,
		symbol, time.Unix(bucket, 0).UTC(),
		open.InexactFloat64(), high.InexactFloat64(), low.InexactFloat64(), close.InexactFloat64(),
		volume.InexactFloat64(), time.Now().UTC())
	if err != nil {
		c.logger.Warn("Candle mirror insert failed", zap.String("symbol", symbol), zap.Error(err))
	}
}

// Health pings the backing connection.
func (c *Client) Health(ctx context.Context) error {
	if !c.enabled() {
		return nil
	}
	return c.conn.Ping(ctx)
}

// Close releases the connection.
func (c *Client) Close() error {
	if !c.enabled() {
		return nil
	}
	return c.conn.Close()
}
