// Package db provides PostgreSQL persistence for windaloft: tracked objects,
// their position reports and the wind bins computed from them.
package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/unklstewy/windaloft/pkg/config"
)

//go:embed schema.sql
var schemaSQL embed.FS

// InactiveAfter is how long an object may go unseen before CleanupOldData
// marks it inactive.
const InactiveAfter = time.Hour

// DB wraps a database connection with helper methods.
type DB struct {
	*sql.DB
	config config.DatabaseConfig
}

// CleanupResult counts the rows removed by CleanupOldData.
type CleanupResult struct {
	Reports     int64 `json:"reports"`
	Bins        int64 `json:"bins"`
	Objects     int64 `json:"objects"`
	Deactivated int64 `json:"deactivated"`
}

// Total is the number of deleted rows.
func (r CleanupResult) Total() int64 {
	return r.Reports + r.Bins + r.Objects
}

// connString builds the lib/pq key/value connection string.
func connString(cfg config.DatabaseConfig) string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host,
		cfg.Port,
		cfg.Username,
		cfg.Password,
		cfg.Database,
		cfg.SSLMode,
	)
}

// Connect establishes a connection to the PostgreSQL database.
func Connect(cfg config.DatabaseConfig) (*DB, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = "postgres"
	}

	sqlDB, err := sql.Open(driver, connString(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Hour)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{
		DB:     sqlDB,
		config: cfg,
	}, nil
}

// InitSchema creates or updates the database schema.
// This should be called once at application startup.
func (db *DB) InitSchema(ctx context.Context) error {
	schemaBytes, err := schemaSQL.ReadFile("schema.sql")
	if err != nil {
		return fmt.Errorf("failed to read schema file: %w", err)
	}

	if _, err := db.ExecContext(ctx, string(schemaBytes)); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	return nil
}

// CleanupOldData enforces retention: reports, bins and tracked objects older
// than maxAge are deleted, and objects not seen for InactiveAfter are marked
// inactive. Should be called periodically to prevent unbounded growth.
func (db *DB) CleanupOldData(ctx context.Context, maxAge time.Duration) (CleanupResult, error) {
	var res CleanupResult
	now := time.Now().UTC()
	cutoff := now.Add(-maxAge)

	n, err := db.execCount(ctx,
		`UPDATE tracked_objects SET is_active = FALSE
		 WHERE is_active = TRUE AND last_seen < $1`,
		now.Add(-InactiveAfter),
	)
	if err != nil {
		return res, fmt.Errorf("failed to mark stale objects: %w", err)
	}
	res.Deactivated = n

	if res.Reports, err = db.execCount(ctx,
		`DELETE FROM position_reports WHERE timestamp < $1`, cutoff,
	); err != nil {
		return res, fmt.Errorf("failed to delete old reports: %w", err)
	}

	if res.Bins, err = db.execCount(ctx,
		`DELETE FROM wind_bins WHERE computed_at < $1`, cutoff,
	); err != nil {
		return res, fmt.Errorf("failed to delete old wind bins: %w", err)
	}

	if res.Objects, err = db.execCount(ctx,
		`DELETE FROM tracked_objects WHERE last_seen < $1`, cutoff,
	); err != nil {
		return res, fmt.Errorf("failed to delete old objects: %w", err)
	}

	return res, nil
}

func (db *DB) execCount(ctx context.Context, query string, args ...any) (int64, error) {
	result, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// GetStats returns database statistics.
func (db *DB) GetStats(ctx context.Context) (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	counts := []struct {
		key   string
		query string
	}{
		{"tracked_objects", `SELECT COUNT(*) FROM tracked_objects`},
		{"active_objects", `SELECT COUNT(*) FROM tracked_objects WHERE is_active = TRUE`},
		{"active_sessions", `SELECT COUNT(*) FROM tracked_objects WHERE session_start IS NOT NULL`},
		{"position_records", `SELECT COUNT(*) FROM position_reports`},
		{"wind_bins", `SELECT COUNT(*) FROM wind_bins`},
	}

	for _, c := range counts {
		var n int64
		if err := db.QueryRowContext(ctx, c.query).Scan(&n); err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", c.key, err)
		}
		stats[c.key] = n
	}

	return stats, nil
}
