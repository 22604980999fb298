// Package dbopen opens SQLite databases (modernc.org/sqlite, no cgo) with
// the pragmas every pinpoint store expects:
//
//	foreign_keys = ON
//	journal_mode = WAL
//	busy_timeout = 10000
//	synchronous  = NORMAL
//
// Pragmas are passed in the DSN so that every pooled connection gets them,
// not only the first one.
//
// In tests:
//
//	db := dbopen.OpenMemory(t)
package dbopen

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	_ "modernc.org/sqlite"
)

type options struct {
	busyTimeout int
	synchronous string
	foreignKeys bool
	mkdirAll    bool
	schemas     []string
}

// Option customises Open.
type Option func(*options)

// WithBusyTimeout sets busy_timeout in milliseconds. Default: 10000.
func WithBusyTimeout(ms int) Option { return func(o *options) { o.busyTimeout = ms } }

// WithSynchronous sets the synchronous mode. Default: NORMAL.
func WithSynchronous(mode string) Option { return func(o *options) { o.synchronous = mode } }

// WithoutForeignKeys turns foreign key enforcement off.
func WithoutForeignKeys() Option { return func(o *options) { o.foreignKeys = false } }

// WithMkdirAll creates the parent directory of the database file.
func WithMkdirAll() Option { return func(o *options) { o.mkdirAll = true } }

// WithSchema runs s after opening. Schemas must be idempotent
// (CREATE ... IF NOT EXISTS).
func WithSchema(s string) Option { return func(o *options) { o.schemas = append(o.schemas, s) } }

// DSN returns the data source name Open uses for path.
func DSN(path string, opts ...Option) string {
	o := resolve(opts)
	return dsn(path, o)
}

func resolve(opts []Option) options {
	o := options{busyTimeout: 10_000, synchronous: "NORMAL", foreignKeys: true}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

func dsn(path string, o options) string {
	fk := 0
	if o.foreignKeys {
		fk = 1
	}
	q := url.Values{}
	for _, p := range []string{
		fmt.Sprintf("foreign_keys(%d)", fk),
		"journal_mode(WAL)",
		fmt.Sprintf("busy_timeout(%d)", o.busyTimeout),
		fmt.Sprintf("synchronous(%s)", o.synchronous),
	} {
		q.Add("_pragma", p)
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + q.Encode()
}

// Open opens the database at path and applies the schemas.
func Open(ctx context.Context, path string, opts ...Option) (*sql.DB, error) {
	o := resolve(opts)
	if o.mkdirAll && path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("dbopen: mkdir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dsn(path, o))
	if err != nil {
		return nil, fmt.Errorf("dbopen: open: %w", err)
	}
	if path == ":memory:" {
		// Each connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("dbopen: ping: %w", err)
	}
	for _, s := range o.schemas {
		if _, err := db.ExecContext(ctx, s); err != nil {
			db.Close()
			return nil, fmt.Errorf("dbopen: schema: %w", err)
		}
	}
	return db, nil
}

// OpenMemory opens an in-memory database closed at the end of the test.
func OpenMemory(t testing.TB, opts ...Option) *sql.DB {
	t.Helper()
	db, err := Open(context.Background(), ":memory:", opts...)
	if err != nil {
		t.Fatalf("dbopen.OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}
