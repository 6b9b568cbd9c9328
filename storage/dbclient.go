// Package storage implements the node-graph storage driver (C6) over
// database/sql, with a thin client abstraction (C8) hiding the placeholder
// syntax and busy/lock error shapes that differ between the embedded
// modernc.org/sqlite backend and the github.com/lib/pq PostgreSQL backend.
// Uses logrus-based structured logging.
package storage

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// DBKind names a supported storage backend.
type DBKind string

const (
	KindSQLite   DBKind = "sqlite"
	KindPostgres DBKind = "postgres"
)

// dbClient hides placeholder-syntax and error-classification differences
// between backends (C8).
type dbClient interface {
	kind() DBKind
	// rebind rewrites a query written with '?' placeholders into this
	// backend's native placeholder syntax.
	rebind(query string) string
	// classify maps a raw driver error into one of this package's sentinel
	// errors, or returns it unchanged if it isn't one of the recognized
	// busy/lock/unique shapes.
	classify(err error) error
}

type sqliteClient struct{}

func (sqliteClient) kind() DBKind          { return KindSQLite }
func (sqliteClient) rebind(query string) string { return query }

func (sqliteClient) classify(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "SQLITE_BUSY"):
		return ErrBusy
	case strings.Contains(msg, "database is locked"):
		return ErrLockTimeout
	case strings.Contains(msg, "UNIQUE constraint failed"):
		return ErrUniqueViolation
	default:
		return err
	}
}

type postgresClient struct{}

func (postgresClient) kind() DBKind { return KindPostgres }

// rebind converts the package's internal '?' placeholders into Postgres's
// ordinal $1..$n form.
func (postgresClient) rebind(query string) string {
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (postgresClient) classify(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "duplicate key value"):
		return ErrUniqueViolation
	case strings.Contains(msg, "deadlock detected"):
		return ErrLockTimeout
	case strings.Contains(msg, "too many connections"), strings.Contains(msg, "statement timeout"):
		return ErrBusy
	default:
		return err
	}
}

// openDB opens a database/sql handle and matching dbClient for kind/dsn.
func openDB(kind DBKind, dsn string) (*sql.DB, dbClient, error) {
	switch kind {
	case KindSQLite:
		db, err := sql.Open("sqlite", dsn)
		if err != nil {
			return nil, nil, err
		}
		db.SetMaxOpenConns(1) // modernc.org/sqlite + WAL: single writer, serialize access
		return db, sqliteClient{}, nil
	case KindPostgres:
		db, err := sql.Open("postgres", dsn)
		if err != nil {
			return nil, nil, err
		}
		return db, postgresClient{}, nil
	default:
		return nil, nil, fmt.Errorf("storage: unknown driver kind %q", kind)
	}
}
