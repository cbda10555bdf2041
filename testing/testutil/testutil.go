// Package testutil provides fixtures, fakes and infrastructure helpers for
// testing code built on stoat.
package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// DatabaseURLEnv names the variable holding the PostgreSQL test DSN.
const DatabaseURLEnv = "TEST_DATABASE_URL"

// DatabaseURL returns the PostgreSQL DSN for integration tests, or "" when unset.
func DatabaseURL() string {
	return os.Getenv(DatabaseURLEnv)
}

// PostgresDB opens a pgx connection and waits for the server to answer.
// It gives up after attempts pings spaced one second apart.
func PostgresDB(ctx context.Context, connStr string, attempts int) (*sql.DB, error) {
	if attempts < 1 {
		attempts = 1
	}

	db, err := sql.Open("pgx", connStr)
	if err != nil {
		return nil, fmt.Errorf("testutil: open postgres: %w", err)
	}

	for i := 0; i < attempts; i++ {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err = db.PingContext(pingCtx)
		cancel()
		if err == nil {
			return db, nil
		}

		select {
		case <-ctx.Done():
			_ = db.Close()
			return nil, ctx.Err()
		case <-time.After(time.Second):
		}
	}

	_ = db.Close()
	return nil, fmt.Errorf("testutil: postgres not ready after %d attempts: %w", attempts, err)
}

// CleanupSchema drops a schema and all its objects.
func CleanupSchema(ctx context.Context, db *sql.DB, schema string) error {
	_, err := db.ExecContext(ctx, fmt.Sprintf("DROP SCHEMA IF EXISTS %q CASCADE", schema))
	return err
}

// UniqueSchema generates a schema name that does not collide across test runs.
func UniqueSchema(prefix string) string {
	return fmt.Sprintf("%s_%d", prefix, time.Now().UnixNano())
}
