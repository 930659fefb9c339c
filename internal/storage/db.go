// Package storage provides the optional Postgres-backed persistence layer for dumper state.
package storage

import (
	"database/sql"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// DB wraps sqlx.DB to provide custom functionality.
type DB struct {
	*sqlx.DB
}

// NewDB creates a new database connection and ensures the dump_jobs table exists.
func NewDB(dbURL string) (*DB, error) {
	db, err := sqlx.Connect("postgres", dbURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	if _, err := db.Exec(schemaSQL); err != nil {
		return nil, err
	}

	return &DB{db}, nil
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS dump_jobs (
	job_id       TEXT PRIMARY KEY,
	layer_url    TEXT NOT NULL,
	mode         TEXT NOT NULL,
	state        JSONB NOT NULL,
	yielded      BIGINT NOT NULL DEFAULT 0,
	status       TEXT NOT NULL DEFAULT 'running',
	error        TEXT,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// Close closes the database connection.
func (db *DB) Close() error {
	return db.DB.Close()
}

// QueryRowx wraps sqlx.DB.QueryRowx.
func (db *DB) QueryRowx(query string, args ...interface{}) *sqlx.Row {
	return db.DB.QueryRowx(query, args...)
}

// Exec wraps sqlx.DB.Exec.
func (db *DB) Exec(query string, args ...interface{}) (sql.Result, error) {
	return db.DB.Exec(query, args...)
}

// Select wraps sqlx.DB.Select.
func (db *DB) Select(dest interface{}, query string, args ...interface{}) error {
	return db.DB.Select(dest, query, args...)
}
