// Package storage opens the relational store behind the repositories and
// applies the schema. PostgreSQL (pgx) is the production backend; SQLite is
// used for single-binary local runs and for tests.
package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "modernc.org/sqlite"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

//go:embed schema/postgres.sql
var postgresSchema string

//go:embed schema/sqlite.sql
var sqliteSchema string

// OpenPostgres connects a pool, pings it and applies the schema.
func OpenPostgres(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("could not connect to the database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping the db: %w", err)
	}

	log.Printf("executing initialization script...")
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to execute init sql: %w", err)
	}

	return pool, nil
}

// OpenSQLite opens (or creates) the database at path and applies the schema.
// Use ":memory:" for a throwaway database.
func OpenSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", sqliteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("error trying to open DB: %w", err)
	}

	// one connection: keeps an in-memory database alive and serializes writers
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("error trying to connect: %w", err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to execute init sql: %w", err)
	}

	return db, nil
}

func sqliteDSN(path string) string {
	if path == ":memory:" {
		return "file::memory:?_pragma=foreign_keys(1)"
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return "file:" + path + sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}

// SQLite keeps timestamps as fixed-width UTC text so that ORDER BY on the
// column sorts chronologically.
const (
	sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"
	sqliteDateLayout = "2006-01-02"
)

func FormatTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(sqliteTimeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored time %q: %w", s, err)
	}
	return t, nil
}

// FormatDate renders a nullable date column value.
func FormatDate(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(sqliteDateLayout)
}

func ParseDate(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := time.Parse(sqliteDateLayout, ns.String)
	if err != nil {
		return nil, fmt.Errorf("parse stored date %q: %w", ns.String, err)
	}
	return &t, nil
}

// Clock hands out strictly increasing timestamps so rows inserted back to back
// never share a created_at value.
type Clock struct {
	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

func NewClock() *Clock {
	return &Clock{now: time.Now}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := c.now().UTC()
	if !t.After(c.last) {
		t = c.last.Add(time.Microsecond)
	}
	c.last = t
	return t
}
