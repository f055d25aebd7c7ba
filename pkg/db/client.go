package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

const defaultTxAttempts = 3

// Client owns the pooled GORM connection shared by every repository.
type Client struct {
	conn        *gorm.DB
	logg        *logger.Logger
	maxAttempts int
}

// Pinger exposes the health check surface.
type Pinger interface {
	Ping(ctx context.Context) error
}

// New opens the Postgres pool described by cfg and verifies it answers.
func New(ctx context.Context, cfg config.DBConfig, logg *logger.Logger) (*Client, error) {
	if cfg.DSN == "" {
		return nil, errors.New("database DSN is required")
	}
	if cfg.Driver != "" && cfg.Driver != "postgres" {
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	conn, err := gorm.Open(
		postgres.New(postgres.Config{DSN: cfg.DSN, PreferSimpleProtocol: true}),
		&gorm.Config{
			Logger:                 newQueryLogger(logg, cfg.SlowQueryThreshold),
			SkipDefaultTransaction: true,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("opening db connection: %w", err)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return nil, fmt.Errorf("getting sql db handle: %w", err)
	}
	for _, apply := range []struct {
		ok  bool
		set func()
	}{
		{cfg.MaxOpenConns > 0, func() { sqlDB.SetMaxOpenConns(cfg.MaxOpenConns) }},
		{cfg.MaxIdleConns > 0, func() { sqlDB.SetMaxIdleConns(cfg.MaxIdleConns) }},
		{cfg.ConnMaxLifetime > 0, func() { sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime) }},
		{cfg.ConnMaxIdleTime > 0, func() { sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime) }},
	} {
		if apply.ok {
			apply.set()
		}
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	logg.Info(logg.WithFields(ctx, map[string]any{
		"max_open_conns": cfg.MaxOpenConns,
		"max_idle_conns": cfg.MaxIdleConns,
	}), "database connection established")

	client := NewFromConn(conn)
	client.logg = logg
	if cfg.TxMaxAttempts > 0 {
		client.maxAttempts = cfg.TxMaxAttempts
	}
	return client, nil
}

// NewFromConn wraps an already-open connection, e.g. a sqlite handle in tests.
func NewFromConn(conn *gorm.DB) *Client {
	return &Client{conn: conn, maxAttempts: defaultTxAttempts}
}

// DB returns the underlying GORM connection.
func (c *Client) DB() *gorm.DB {
	return c.conn
}

func (c *Client) Ping(ctx context.Context) error {
	sqlDB, err := c.conn.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (c *Client) Close() error {
	sqlDB, err := c.conn.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// WithTx runs fn in a transaction. A panic or error rolls back. When the
// database aborts the transaction for a serialization conflict or deadlock,
// fn is replayed from the start, up to the configured attempt count, so fn
// must not have side effects outside tx.
func (c *Client) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	var err error
	for attempt := 1; ; attempt++ {
		err = c.conn.WithContext(ctx).Transaction(fn)
		if err == nil || !IsRetryableTx(err) || attempt >= c.maxAttempts {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return errors.Join(err, ctxErr)
		}
		c.logg.Warn(c.logg.WithFields(ctx, map[string]any{
			"attempt": attempt,
			"error":   err.Error(),
		}), "retrying aborted transaction")

		select {
		case <-ctx.Done():
			return errors.Join(err, ctx.Err())
		case <-time.After(time.Duration(attempt) * 20 * time.Millisecond):
		}
	}
}
