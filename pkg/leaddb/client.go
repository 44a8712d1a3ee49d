package leaddb

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/regpayhq/regpay-backend/pkg/config"
	"github.com/regpayhq/regpay-backend/pkg/logger"
)

// Client holds the connection pool for the course-enrollment lead datastore.
// The lead store runs on separate credentials from the primary database; the
// only link between the two is the lead id carried in checkout session
// metadata.
type Client struct {
	db *sql.DB
}

// Pinger lets health checks take the client without the pool methods.
type Pinger interface {
	Ping(ctx context.Context) error
}

// New opens the lead datastore pool and verifies connectivity.
func New(ctx context.Context, cfg config.LeadDBConfig, logg *logger.Logger) (*Client, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("lead database DSN is required")
	}

	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("opening lead db connection: %w", err)
	}

	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping lead db: %w", err)
	}

	if logg != nil {
		logg.Info(ctx, "lead database connection established")
	}

	return &Client{db: db}, nil
}

// DB returns the underlying sql.DB handle.
func (c *Client) DB() *sql.DB {
	return c.db
}

// Ping verifies the lead datastore is reachable.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.db == nil {
		return fmt.Errorf("lead db client not initialized")
	}
	return c.db.PingContext(ctx)
}

// Close shuts down the pooled connections.
func (c *Client) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}
