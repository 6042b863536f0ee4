package store

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestSQLStoreSqliteRoundTrip(t *testing.T) {
	s, err := OpenSQL("sqlite", ":memory:", zaptest.NewLogger(t))
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	_, ok, err := s.Get(ctx, OfflineQueueKey)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, OfflineQueueKey, []byte(`[1]`)))
	require.NoError(t, s.Set(ctx, OfflineQueueKey, []byte(`[1,2]`)))

	got, ok, err := s.Get(ctx, OfflineQueueKey)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `[1,2]`, string(got))
}

func setupMockStore(t *testing.T) (*SQLStore, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS kv_blobs").WillReturnResult(sqlmock.NewResult(0, 0))
	s, err := NewSQLStore(sqlx.NewDb(db, "postgres"), zaptest.NewLogger(t))
	require.NoError(t, err)
	return s, mock
}

func TestSQLStoreGetError(t *testing.T) {
	s, mock := setupMockStore(t)
	mock.ExpectQuery(`SELECT value FROM kv_blobs WHERE key=\$1`).
		WithArgs("k").
		WillReturnError(errors.New("disk gone"))

	_, _, err := s.Get(context.Background(), "k")
	var storeErr *Error
	require.True(t, errors.As(err, &storeErr))
	assert.Equal(t, "get", storeErr.Op)
	assert.Equal(t, "k", storeErr.Key)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStoreSetUsesUpsert(t *testing.T) {
	s, mock := setupMockStore(t)
	mock.ExpectExec(`INSERT INTO kv_blobs \(key, value, updated_at\) VALUES \(\$1, \$2, \$3\)`).
		WithArgs("k", []byte("v"), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, s.Set(context.Background(), "k", []byte("v")))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStoreMigrationFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE").WillReturnError(errors.New("read-only"))
	_, err = NewSQLStore(sqlx.NewDb(db, "postgres"), nil)
	assert.ErrorContains(t, err, "run migrations")
}
