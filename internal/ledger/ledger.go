package ledger

import (
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	"voice-gateway/pkg/utils"
)

var (
	ErrNotFound        = errors.New("ledger: not found")
	ErrInvalidArgument = errors.New("ledger: invalid argument")
	ErrDatabase        = errors.New("ledger: database error")
)

type Dialect int

const (
	DialectPostgres Dialect = iota
	DialectSQLite
)

// DialectFor maps a database/sql driver name to its SQL dialect.
func DialectFor(driverName string) Dialect {
	if driverName == utils.DriverSQLite {
		return DialectSQLite
	}
	return DialectPostgres
}

// Store persists users, clients, calls, interactions, error logs and audit
// events. Queries are written with $n placeholders and rebound for sqlite.
type Store struct {
	db      *sql.DB
	dialect Dialect
	clock   func() time.Time
}

func NewStore(db *sql.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect, clock: time.Now}
}

var placeholderRe = regexp.MustCompile(`\$(\d+)`)

func (s *Store) q(query string) string {
	if s.dialect == DialectSQLite {
		return placeholderRe.ReplaceAllString(query, "?$1")
	}
	return query
}

func dbErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrDatabase, op, err)
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*t), Valid: true}
}
