package shown

import (
	"context"
	"database/sql"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/eloisaabril01/emailscrap/internal/logger"
)

// Dialect selects the SQL flavour spoken by a SQLStore.
type Dialect int

const (
	DialectSQLite Dialect = iota
	DialectPostgres
)

func (d Dialect) String() string {
	switch d {
	case DialectSQLite:
		return "sqlite"
	case DialectPostgres:
		return "postgres"
	default:
		return "unknown"
	}
}

const schemaSQL = `CREATE TABLE IF NOT EXISTS shown_records (
	query TEXT NOT NULL,
	identity TEXT NOT NULL,
	seq BIGINT NOT NULL,
	PRIMARY KEY (query, identity)
)`

const (
	loadSQL = `SELECT identity FROM shown_records WHERE query = ? ORDER BY seq`
	hasSQL  = `SELECT 1 FROM shown_records WHERE query = ? AND identity = ? LIMIT 1`
	// seq continues the query's insertion order; the single-writer contract keeps
	// MAX(seq)+1 unique.
	markSQL = `INSERT INTO shown_records (query, identity, seq)
SELECT ?, ?, COALESCE(MAX(seq), 0) + 1 FROM shown_records WHERE query = ?
ON CONFLICT (query, identity) DO NOTHING`
)

// SQLStore keeps shown records in a shown_records table.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	log     *zap.SugaredLogger
}

// NewSQLStore wraps an open database. Call Migrate before first use on a fresh database.
func NewSQLStore(db *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: dialect, log: logger.ComponentLogger("shown")}
}

// OpenSQLite opens (creating if needed) a SQLite database at path and migrates it.
func OpenSQLite(ctx context.Context, path string) (*SQLStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open sqlite database")
	}
	if path == ":memory:" {
		// Every pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, errors.Wrapf(err, "failed to apply %q", pragma)
		}
	}
	return openSQL(ctx, db, DialectSQLite)
}

// OpenPostgres connects to the Postgres database at dsn through pgx and migrates it.
func OpenPostgres(ctx context.Context, dsn string) (*SQLStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open postgres database")
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to reach postgres")
	}
	return openSQL(ctx, db, DialectPostgres)
}

func openSQL(ctx context.Context, db *sql.DB, dialect Dialect) (*SQLStore, error) {
	s := NewSQLStore(db, dialect)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	s.log.Infow("Shown store opened", logger.FieldBackend, dialect.String())
	return s, nil
}

// Migrate creates the shown_records table when missing.
func (s *SQLStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return errors.Wrap(err, "create shown_records table")
	}
	return nil
}

func (s *SQLStore) Load(ctx context.Context, query string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(loadSQL), query)
	if err != nil {
		return nil, errors.Wrapf(err, "load shown records for %q", query)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Mark(errors.Wrap(err, "scan shown record"), ErrCorruptRecord)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(err, "load shown records for %q", query)
	}
	return ids, nil
}

func (s *SQLStore) HasShown(ctx context.Context, identity, query string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, s.rebind(hasSQL), query, identity).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "check shown record for %q", query)
	}
	return true, nil
}

func (s *SQLStore) MarkShown(ctx context.Context, identity, query string) error {
	if _, err := s.db.ExecContext(ctx, s.rebind(markSQL), query, identity, query); err != nil {
		return errors.Wrapf(err, "mark shown for %q", query)
	}
	return nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

// rebind rewrites ? placeholders to $n for Postgres.
func (s *SQLStore) rebind(q string) string {
	if s.dialect != DialectPostgres {
		return q
	}
	var sb strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
