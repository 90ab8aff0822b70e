package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/lib/pq"
)

// Sentinel errors for database operations. The retry classifier keys off
// these: connection errors are transient and retried, constraint violations
// are permanent and fail immediately.
var (
	// ErrNoDatabaseConnection is returned when an operation requires a connection that is nil.
	ErrNoDatabaseConnection = errors.New("database connection is required")

	// ErrConnectionFailed marks a transient connection-level failure.
	ErrConnectionFailed = errors.New("database connection failed")

	// ErrConstraintViolation marks an integrity-constraint failure (duplicate key,
	// not-null violation). Never retried: replaying the statement cannot succeed.
	ErrConstraintViolation = errors.New("constraint violation")
)

// Connection wraps a PostgreSQL connection pool and applies the configured
// per-statement timeout to every call, so no store operation blocks
// indefinitely.
type Connection struct {
	db     *sql.DB
	cfg    *Config
	logger *slog.Logger
}

// Connect opens the connection pool, applies pool settings, and verifies
// reachability with a ping bounded by the connect timeout.
func Connect(ctx context.Context, cfg *Config, logger *slog.Logger) (*Connection, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	db, err := sql.Open("postgres", cfg.databaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrConnectionFailed, err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("%w: ping: %s", ErrConnectionFailed, err)
	}

	logger.Info("database connected",
		slog.String("url", cfg.MaskDatabaseURL()),
		slog.Int("max_open_conns", cfg.MaxOpenConns),
	)

	return &Connection{db: db, cfg: cfg, logger: logger}, nil
}

// ExecContext runs a statement under the configured query timeout.
func (c *Connection) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	execCtx, cancel := context.WithTimeout(ctx, c.cfg.QueryTimeout)
	defer cancel()

	return c.db.ExecContext(execCtx, query, args...)
}

// QueryRowScan runs a single-row query and scans it into dest, all inside the
// configured query timeout. Row queries scan in-method because the timeout
// context must outlive the scan.
func (c *Connection) QueryRowScan(ctx context.Context, query string, args []any, dest ...any) error {
	queryCtx, cancel := context.WithTimeout(ctx, c.cfg.QueryTimeout)
	defer cancel()

	return c.db.QueryRowContext(queryCtx, query, args...).Scan(dest...)
}

// BeginTx starts a transaction. Statement timeouts inside the transaction are
// the caller's responsibility.
func (c *Connection) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	return c.db.BeginTx(ctx, opts)
}

// HealthCheck verifies the store answers a trivial query. The caller bounds
// ctx with its own health-check timeout.
func (c *Connection) HealthCheck(ctx context.Context) error {
	var one int
	if err := c.QueryRowScan(ctx, "SELECT 1", nil, &one); err != nil {
		return fmt.Errorf("%w: health check: %s", ErrConnectionFailed, err)
	}

	return nil
}

// Close releases the connection pool.
func (c *Connection) Close() error {
	return c.db.Close()
}

// classifyError wraps database errors with the matching sentinel so callers
// can classify by kind instead of parsing messages.
//
// PostgreSQL class 08 is connection exceptions; class 23 is integrity
// constraint violations. Standard library connection errors map to
// ErrConnectionFailed as well.
func classifyError(err error) error {
	if err == nil {
		return nil
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		code := string(pqErr.Code)

		switch {
		case strings.HasPrefix(code, "23"):
			return fmt.Errorf("%w: %s", ErrConstraintViolation, err)
		case strings.HasPrefix(code, "08"):
			return fmt.Errorf("%w: %s", ErrConnectionFailed, err)
		}

		return err
	}

	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s", ErrConnectionFailed, err)
	}

	return err
}
