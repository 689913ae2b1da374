// Package db is the application-database collaborator. Every statement,
// whoever issues it, passes through Query, which notifies registered
// statement observers immediately before execution.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// ErrNotReadOnly marks statements rejected because they are not plain
// SELECT/WITH queries. This layer never writes.
var ErrNotReadOnly = errors.New("statement is not a read-only query")

type Config struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
}

// StatementObserver fires immediately before a statement executes. The
// context is the one the statement runs under, so request-scoped state
// attached to it is visible to the observer.
type StatementObserver func(ctx context.Context, statement string)

type Result struct {
	Columns []string
	Rows    [][]any
}

type DB struct {
	sql *sql.DB

	mu        sync.RWMutex
	observers []StatementObserver
}

func Open(ctx context.Context, cfg Config) (*DB, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("database dsn is required")
	}

	var (
		conn *sql.DB
		err  error
	)
	switch cfg.Driver {
	case "postgres":
		conn, err = sql.Open("pgx", cfg.DSN)
	case "sqlite":
		if mkErr := os.MkdirAll(filepath.Dir(cfg.DSN), 0o755); mkErr != nil {
			return nil, fmt.Errorf("create database directory: %w", mkErr)
		}
		conn, err = sql.Open("sqlite", cfg.DSN+"?_journal=WAL&_busy_timeout=5000")
	default:
		return nil, fmt.Errorf("unsupported database driver: %q", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		conn.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		conn.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxIdleTime > 0 {
		conn.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}
	if cfg.ConnMaxLifetime > 0 {
		conn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return New(conn), nil
}

// New wraps an already-open connection pool. Used by tests with sqlmock.
func New(conn *sql.DB) *DB {
	return &DB{sql: conn}
}

// RegisterObserver adds an observer called before every statement execution.
// Observers must not block and must not fail.
func (d *DB) RegisterObserver(observer StatementObserver) {
	if observer == nil {
		return
	}
	d.mu.Lock()
	d.observers = append(d.observers, observer)
	d.mu.Unlock()
}

// Query executes a read-only statement and materializes every row. Byte
// slices are converted to strings so results survive the row iterator.
func (d *DB) Query(ctx context.Context, statement string) (Result, error) {
	if !IsReadOnly(statement) {
		return Result{}, fmt.Errorf("execute %q: %w", firstWord(statement), ErrNotReadOnly)
	}

	d.notify(ctx, statement)

	rows, err := d.sql.QueryContext(ctx, statement)
	if err != nil {
		return Result{}, fmt.Errorf("execute query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return Result{}, fmt.Errorf("read result columns: %w", err)
	}

	result := Result{Columns: columns}
	for rows.Next() {
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return Result{}, fmt.Errorf("scan result row: %w", err)
		}
		for i, value := range values {
			if raw, ok := value.([]byte); ok {
				values[i] = string(raw)
			}
		}
		result.Rows = append(result.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return Result{}, fmt.Errorf("iterate result rows: %w", err)
	}
	return result, nil
}

func (d *DB) Ping(ctx context.Context) error {
	return d.sql.PingContext(ctx)
}

func (d *DB) Close() error {
	return d.sql.Close()
}

func (d *DB) notify(ctx context.Context, statement string) {
	d.mu.RLock()
	observers := d.observers
	d.mu.RUnlock()
	for _, observer := range observers {
		observer(ctx, statement)
	}
}

// IsReadOnly reports whether the statement is a plain SELECT or WITH query.
func IsReadOnly(statement string) bool {
	normalized := strings.ToLower(strings.TrimSpace(statement))
	if normalized == "" {
		return false
	}
	return strings.HasPrefix(normalized, "select") || strings.HasPrefix(normalized, "with")
}

func firstWord(statement string) string {
	fields := strings.Fields(strings.TrimSpace(statement))
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
