package database

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Dialect identifies the SQL backend behind a Store
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// Row is a single-row query result
type Row interface {
	Scan(dest ...interface{}) error
}

// Rows is a multi-row query result
type Rows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
	Close()
}

// Querier runs statements. Queries use $1-style placeholders on every backend.
type Querier interface {
	Exec(ctx context.Context, query string, args ...interface{}) (int64, error)
	Query(ctx context.Context, query string, args ...interface{}) (Rows, error)
	QueryRow(ctx context.Context, query string, args ...interface{}) Row
}

// Store is a database the repositories can run against. Statements issued
// with a context returned inside WithTx join that transaction.
type Store interface {
	Querier
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	Dialect() Dialect
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

type txKey struct{}

// IsNoRows reports whether err means the query matched nothing
func IsNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows)
}

// IsUniqueViolation reports whether err is a unique constraint failure
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

var placeholder = regexp.MustCompile(`\$(\d+)`)

// rebind rewrites $N placeholders to SQLite's ?N form
func rebind(query string) string {
	return placeholder.ReplaceAllString(query, "?$1")
}
