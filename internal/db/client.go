// Package db provides PostgreSQL connectivity and the typed queries used by
// the crawl pipeline.
package db

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Config holds PostgreSQL connection configuration.
type Config struct {
	URL      string
	MaxConns int32
	// EmbedDim sets the dimension of the chunks.embedding vector column.
	EmbedDim int
}

// Client wraps a pgx connection pool.
type Client struct {
	pool   *pgxpool.Pool
	cfg    Config
	logger *slog.Logger
}

// NewClient opens a connection pool and verifies connectivity with a ping.
func NewClient(ctx context.Context, cfg Config, log *slog.Logger) (*Client, error) {
	if log == nil {
		log = slog.Default()
	}
	if cfg.EmbedDim <= 0 {
		cfg.EmbedDim = 1536
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	log.Info("connecting to PostgreSQL", "host", poolCfg.ConnConfig.Host, "database", poolCfg.ConnConfig.Database)
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	log.Info("PostgreSQL connection established")
	return &Client{pool: pool, cfg: cfg, logger: log}, nil
}

// Close closes the connection pool.
func (c *Client) Close() {
	c.logger.Info("closing PostgreSQL connection pool")
	c.pool.Close()
}

// Pool returns the underlying pool for transaction-scoped work.
func (c *Client) Pool() *pgxpool.Pool {
	return c.pool
}

// InitSchema creates all tables and indexes. Idempotent; safe to run on
// every startup.
func (c *Client) InitSchema(ctx context.Context) error {
	c.logger.Info("initializing database schema", "embed_dim", c.cfg.EmbedDim)
	if _, err := c.pool.Exec(ctx, schemaSQL(c.cfg.EmbedDim)); err != nil {
		return fmt.Errorf("init schema: %w", wrapQueryError(err))
	}
	c.logger.Info("schema initialization complete")
	return nil
}

// WipeData deletes all rows while preserving schema. Use for testing only.
func (c *Client) WipeData(ctx context.Context) error {
	c.logger.Warn("wiping all data from database")

	// Order matters: children before parents.
	tables := []string{"crawl_logs", "job_statistics", "crawl_jobs", "chunks", "uploaded_files", "lots", "sales", "categories", "auction_houses"}

	for _, table := range tables {
		if _, err := c.pool.Exec(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("delete %s: %w", table, err)
		}
	}

	c.logger.Info("database wipe complete")
	return nil
}
