package shown

import (
	"context"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestSQLite(t *testing.T) *SQLStore {
	t.Helper()
	s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "shown.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLStore_SQLite(t *testing.T) {
	ctx := context.Background()
	s := openTestSQLite(t)

	ids, err := s.Load(ctx, "plumbers")
	require.NoError(t, err)
	assert.Empty(t, ids)

	for _, id := range []string{"Bolt|2 Main St", "Acme|1 Main St", "Bolt|2 Main St"} {
		require.NoError(t, s.MarkShown(ctx, id, "plumbers"))
	}
	require.NoError(t, s.MarkShown(ctx, "Crumb|3 Oak Ave", "bakeries"))

	ids, err = s.Load(ctx, "plumbers")
	require.NoError(t, err)
	assert.Equal(t, []string{"Bolt|2 Main St", "Acme|1 Main St"}, ids)

	ok, err := s.HasShown(ctx, "Acme|1 Main St", "plumbers")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.HasShown(ctx, "Acme|1 Main St", "bakeries")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSQLStore_InMemory(t *testing.T) {
	ctx := context.Background()
	s, err := OpenSQLite(ctx, ":memory:")
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.MarkShown(ctx, "Acme|1 Main St", "plumbers"))
	ids, err := s.Load(ctx, "plumbers")
	require.NoError(t, err)
	assert.Equal(t, []string{"Acme|1 Main St"}, ids)
}

func TestSQLStore_Rebind(t *testing.T) {
	pg := &SQLStore{dialect: DialectPostgres}
	assert.Equal(t, "SELECT 1 WHERE a = $1 AND b = $2", pg.rebind("SELECT 1 WHERE a = ? AND b = ?"))

	lite := &SQLStore{dialect: DialectSQLite}
	assert.Equal(t, "a = ?", lite.rebind("a = ?"))
	assert.Equal(t, "postgres", DialectPostgres.String())
}

func TestSQLStore_PostgresPlaceholders(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewSQLStore(db, DialectPostgres)
	mock.ExpectExec(regexp.QuoteMeta("SELECT $1, $2, COALESCE(MAX(seq), 0) + 1 FROM shown_records WHERE query = $3")).
		WithArgs("plumbers", "Acme|1 Main St", "plumbers").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT identity FROM shown_records WHERE query = $1 ORDER BY seq")).
		WithArgs("plumbers").
		WillReturnRows(sqlmock.NewRows([]string{"identity"}).AddRow("Acme|1 Main St"))

	require.NoError(t, s.MarkShown(context.Background(), "Acme|1 Main St", "plumbers"))
	ids, err := s.Load(context.Background(), "plumbers")
	require.NoError(t, err)
	assert.Equal(t, []string{"Acme|1 Main St"}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_PropagatesErrors(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewSQLStore(db, DialectSQLite)
	boom := errors.New("disk I/O error")
	mock.ExpectQuery("SELECT identity FROM shown_records").WillReturnError(boom)
	mock.ExpectExec("INSERT INTO shown_records").WillReturnError(boom)
	mock.ExpectQuery("SELECT 1 FROM shown_records").WillReturnError(boom)

	_, err = s.Load(context.Background(), "q")
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, s.MarkShown(context.Background(), "a|b", "q"), boom)
	_, err = s.HasShown(context.Background(), "a|b", "q")
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}
