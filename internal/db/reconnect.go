package db

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/unklstewy/windaloft/internal/logging"
	"github.com/unklstewy/windaloft/pkg/config"
)

// maxReconnectDelay caps the exponential backoff between attempts.
const maxReconnectDelay = 60 * time.Second

// connect is swapped out in tests.
var connect = Connect

// ReconnectWithRetry attempts to connect to the database with exponential backoff.
// This provides resilience against temporary database outages.
//
// Parameters:
//   - ctx: Cancels the wait between attempts
//   - cfg: Database configuration
//   - maxRetries: Maximum number of connection attempts (0 = until ctx is done)
//   - initialDelay: Initial wait time between retries
//   - log: Receives one line per failed attempt
//
// Returns: Connected database or error if all retries exhausted
func ReconnectWithRetry(
	ctx context.Context,
	cfg config.DatabaseConfig,
	maxRetries int,
	initialDelay time.Duration,
	log logging.Logger,
) (*DB, error) {
	delay := initialDelay
	attempt := 0

	for {
		attempt++

		db, err := connect(cfg)
		if err == nil {
			if attempt > 1 {
				log.Info(ctx, "database connected", logging.Int("attempt", attempt))
			}
			return db, nil
		}

		// Check if we've exceeded max retries
		if maxRetries > 0 && attempt >= maxRetries {
			return nil, fmt.Errorf("database unavailable after %d attempts: %w", attempt, err)
		}

		log.Warn(ctx, "database connection failed",
			logging.Int("attempt", attempt),
			logging.Duration("retry_in", delay),
			logging.Err(err),
		)

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("database reconnect cancelled: %w", ctx.Err())
		case <-time.After(delay):
		}

		delay = nextDelay(delay)
	}
}

// nextDelay doubles d up to maxReconnectDelay.
func nextDelay(d time.Duration) time.Duration {
	d *= 2
	if d > maxReconnectDelay || d <= 0 {
		d = maxReconnectDelay
	}
	return d
}

// HealthCheck verifies that the database answers a trivial query.
func HealthCheck(ctx context.Context, db *DB) error {
	if db == nil || db.DB == nil {
		return errors.New("database not connected")
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("health query failed: %w", err)
	}
	if result != 1 {
		return fmt.Errorf("health query returned %d", result)
	}

	return nil
}

// WithRetry executes a database operation with automatic retry on connection failures.
// Other errors are returned immediately.
func WithRetry(ctx context.Context, operation func(context.Context) error, maxRetries int) error {
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := operation(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !isConnectionError(err) {
			return err
		}

		if attempt < maxRetries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt+1) * time.Second):
			}
		}
	}

	return lastErr
}

// isConnectionError reports whether err looks like a lost or refused
// connection rather than a query failure.
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	// SQLSTATE class 08 is connection exception, 57P0x is operator shutdown
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code.Class() == "08" || strings.HasPrefix(string(pqErr.Code), "57P0")
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"connection refused",
		"broken pipe",
		"no connection",
		"connection reset",
		"timeout",
	} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
