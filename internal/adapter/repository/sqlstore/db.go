// Package sqlstore persists the ledger in PostgreSQL or SQLite through database/sql.
// Queries are written with PostgreSQL placeholders and rebound for SQLite.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	_ "modernc.org/sqlite" // SQLite driver
)

// Dialect identifies the SQL engine behind a DB
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// sqliteTimeLayout is fixed-width so that text comparison orders instants
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

var placeholder = regexp.MustCompile(`\$(\d+)`)

// DB wraps the database connection
type DB struct {
	*sql.DB
	dialect Dialect
}

// Open connects using the given dialect and runs the schema migration
func Open(ctx context.Context, dialect Dialect, dsn string) (*DB, error) {
	var (
		db  *DB
		err error
	)
	switch dialect {
	case DialectPostgres:
		db, err = NewPostgresDB(dsn)
	case DialectSQLite:
		db, err = NewSQLiteDB(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", dialect)
	}
	if err != nil {
		return nil, err
	}

	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// NewPostgresDB creates a new PostgreSQL connection
// connectionString should be in the format: "host=localhost port=5432 user=postgres password=postgres dbname=tokenledger sslmode=disable"
func NewPostgresDB(connectionString string) (*DB, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{DB: db, dialect: DialectPostgres}, nil
}

// NewSQLiteDB opens an SQLite database file, or an in-memory one for ":memory:"
func NewSQLiteDB(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database at %s: %w", path, err)
	}

	// SQLite serializes writers anyway; one connection also keeps ":memory:" shared
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{DB: db, dialect: DialectSQLite}, nil
}

// Dialect returns the SQL engine in use
func (db *DB) Dialect() Dialect {
	return db.dialect
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.DB.Close()
}

// rebind rewrites $N placeholders into SQLite's ?N form
func (db *DB) rebind(query string) string {
	if db.dialect == DialectSQLite {
		return placeholder.ReplaceAllString(query, "?$1")
	}
	return query
}

// timeArg converts an instant into the column representation of the dialect
func (db *DB) timeArg(t time.Time) interface{} {
	if db.dialect == DialectSQLite {
		return t.UTC().Format(sqliteTimeLayout)
	}
	return t.UTC()
}

// dbTime scans TIMESTAMPTZ (time.Time) and SQLite TEXT columns alike
type dbTime struct {
	Time time.Time
}

func (t *dbTime) Scan(src interface{}) error {
	switch v := src.(type) {
	case time.Time:
		t.Time = v.UTC()
		return nil
	case string:
		return t.parse(v)
	case []byte:
		return t.parse(string(v))
	case nil:
		t.Time = time.Time{}
		return nil
	default:
		return fmt.Errorf("cannot scan %T into time", src)
	}
}

func (t *dbTime) parse(s string) error {
	parsed, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return fmt.Errorf("failed to parse time %q: %w", s, err)
	}
	t.Time = parsed.UTC()
	return nil
}
