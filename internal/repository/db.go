// Package repository implements the bitemporal Postgres storage layer for
// products, portfolios, demands, and cleared batches.
//
// Grounded on the teacher's internal/database package (db.go/alerts.go
// CRUD-with-wrapped-errors style) and on the original Rust implementation's
// fts-sqlite/src/impl/{product,demand,batch}.rs for the bitemporal
// semantics: every mutable entity is versioned via (valid_from,
// valid_until) rows, with at most one active (valid_until IS NULL) row per
// entity id enforced by a partial unique index.
package repository

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

// DB wraps a Postgres connection pool split into a read pool and a write
// pool, matching the scheduler's access pattern: many concurrent
// point-in-time reads feeding the QP assembler, and a single serialized
// writer persisting each batch's outcome.
type DB struct {
	conn  *sql.DB
	write *sql.DB
}

// New opens a connection pool against connStr. The same pool is used for
// reads and writes; callers that need read/write isolation should use
// NewWithPools.
func New(connStr string) (*DB, error) {
	conn, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("repository: failed to ping database: %w", err)
	}
	return &DB{conn: conn, write: conn}, nil
}

// NewWithPools opens separate read and write connection pools against the
// same database, letting the caller bound write concurrency independently
// (e.g. a single writer to keep batch persistence serialized).
func NewWithPools(readConnStr, writeConnStr string) (*DB, error) {
	read, err := sql.Open("postgres", readConnStr)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to open read pool: %w", err)
	}
	if err := read.Ping(); err != nil {
		read.Close()
		return nil, fmt.Errorf("repository: failed to ping read pool: %w", err)
	}

	write, err := sql.Open("postgres", writeConnStr)
	if err != nil {
		read.Close()
		return nil, fmt.Errorf("repository: failed to open write pool: %w", err)
	}
	if err := write.Ping(); err != nil {
		read.Close()
		write.Close()
		return nil, fmt.Errorf("repository: failed to ping write pool: %w", err)
	}
	write.SetMaxOpenConns(1)

	return &DB{conn: read, write: write}, nil
}

// Close closes both connection pools.
func (db *DB) Close() error {
	if db.write != db.conn {
		if err := db.write.Close(); err != nil {
			return err
		}
	}
	return db.conn.Close()
}

// RunMigrations applies every pending migration under migrationsPath.
func (db *DB) RunMigrations(migrationsPath string) error {
	driver, err := postgres.WithInstance(db.write, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("repository: failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+migrationsPath, "postgres", driver)
	if err != nil {
		return fmt.Errorf("repository: failed to create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("repository: failed to run migrations: %w", err)
	}
	return nil
}
