// Package database provides the PostgreSQL client, embedded migrations, and
// the read-only query collaborator used by the analyst agent.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx driver for database/sql

	"github.com/finsight-ai/finsight/pkg/models"
)

// Selector names one of the two logical databases.
type Selector string

const (
	// Accounts holds users, preferences, insights, interactions and alert
	// configurations.
	Accounts Selector = "accounts"
	// Ledger holds the transaction history. It is owned by another service
	// and only ever read here.
	Ledger Selector = "ledger"
)

// Querier is the database collaborator consumed by the analyst agent and the
// alert evaluator. Execution is read-only and bounded by the caller's context.
type Querier interface {
	Execute(ctx context.Context, statement string, params []any, db Selector) ([]models.Row, error)
}

// Client wraps the two database pools and implements Querier.
type Client struct {
	accounts *sql.DB
	ledger   *sql.DB
}

// NewClient opens both pools, verifies connectivity, and applies pending
// migrations to the accounts database. The ledger schema is owned elsewhere
// and never migrated here.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	accounts, err := openPool(ctx, cfg.AccountsDSN, cfg)
	if err != nil {
		return nil, fmt.Errorf("accounts database: %w", err)
	}

	ledger, err := openPool(ctx, cfg.LedgerDSN, cfg)
	if err != nil {
		_ = accounts.Close()
		return nil, fmt.Errorf("ledger database: %w", err)
	}

	if err := runMigrations(accounts); err != nil {
		_ = accounts.Close()
		_ = ledger.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}

	return &Client{accounts: accounts, ledger: ledger}, nil
}

func openPool(ctx context.Context, dsn string, cfg Config) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping: %w", err)
	}
	return db, nil
}

// Accounts returns the accounts pool for the service layer.
func (c *Client) Accounts() *sql.DB { return c.accounts }

// Close closes both pools.
func (c *Client) Close() error {
	errA := c.accounts.Close()
	errL := c.ledger.Close()
	if errA != nil {
		return errA
	}
	return errL
}

// Health pings both databases within the given context.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := c.accounts.PingContext(ctx); err != nil {
		return fmt.Errorf("accounts: %w", err)
	}
	if err := c.ledger.PingContext(ctx); err != nil {
		return fmt.Errorf("ledger: %w", err)
	}
	return nil
}

// Execute runs a statement against the selected database and returns the
// rows as column-keyed maps. The transaction is opened read-only so a plan
// that slipped past validation still cannot write.
func (c *Client) Execute(ctx context.Context, statement string, params []any, db Selector) ([]models.Row, error) {
	pool := c.accounts
	if db == Ledger {
		pool = c.ledger
	}

	tx, err := pool.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("failed to begin read-only tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, statement, params...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read columns: %w", err)
	}

	var out []models.Row
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		record := make(models.Row, len(cols))
		for i, col := range cols {
			record[col] = values[i]
		}
		out = append(out, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration failed: %w", err)
	}
	return out, nil
}
