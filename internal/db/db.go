// Package db opens the SQL database behind the invocation journal.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	// Registers "libsql" for remote URLs (libsql://, https://, wss://).
	_ "github.com/tursodatabase/libsql-client-go/libsql"

	// Registers "sqlite", a pure-Go driver for local file: URLs.
	_ "modernc.org/sqlite"
)

// Driver names; tests may override to force open failures.
var (
	localDriver  = "sqlite"
	remoteDriver = "libsql"
)

// busyTimeoutMs bounds how long a local writer waits for the file lock.
const busyTimeoutMs = 5000

// Connect opens a database and verifies it with a ping.
//
// Supported URL schemes:
//
//	Local file:   "file:path/to/journal.db"
//	Remote Turso: "libsql://[db-name].turso.io?authToken=[token]"
func Connect(ctx context.Context, dbURL string) (*sql.DB, error) {
	driver, err := driverFor(dbURL)
	if err != nil {
		return nil, err
	}

	conn, err := sql.Open(driver, dbURL)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == localDriver {
		// One writer at a time; SQLite serializes them anyway.
		conn.SetMaxOpenConns(1)
	}

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if driver == localDriver {
		if _, err := conn.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout = %d", busyTimeoutMs)); err != nil {
			conn.Close()
			return nil, fmt.Errorf("set busy timeout: %w", err)
		}
	}
	return conn, nil
}

// driverFor picks the driver from the URL scheme.
func driverFor(dbURL string) (string, error) {
	if dbURL == "" {
		return "", fmt.Errorf("database URL must not be empty")
	}
	scheme, _, ok := strings.Cut(dbURL, ":")
	if !ok {
		return "", fmt.Errorf("database URL %q has no scheme (want file:, libsql:, https: or wss:)", dbURL)
	}
	switch strings.ToLower(scheme) {
	case "file":
		return localDriver, nil
	case "libsql", "https", "http", "wss", "ws":
		return remoteDriver, nil
	}
	return "", fmt.Errorf("unsupported database URL scheme %q", scheme)
}

// ValidateURL reports whether Connect would accept dbURL's scheme.
func ValidateURL(dbURL string) error {
	_, err := driverFor(dbURL)
	return err
}
