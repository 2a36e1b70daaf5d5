package postgres

import (
	"context"
	"database/sql"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*BaseStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewBaseStore(sqlx.NewDb(db, "postgres"), "idempotency_records"), mock
}

func TestExistsQueriesByID(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT EXISTS\(SELECT 1 FROM idempotency_records WHERE id = \$1\)`).
		WithArgs("row-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := store.Exists(context.Background(), "row-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteByIDReturnsErrNoRowsWhenNothingAffected(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(`DELETE FROM idempotency_records WHERE id = \$1`).
		WithArgs("missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.DeleteByID(context.Background(), "missing")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestWithTxCommitsOnSuccess(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM idempotency_records WHERE id = \$1`).
		WithArgs("row-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.WithTx(context.Background(), func(ctx context.Context) error {
		_, execErr := store.ExecContext(ctx, "DELETE FROM idempotency_records WHERE id = $1", "row-1")
		return execErr
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTxRollsBackOnError(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectRollback()

	err := store.WithTx(context.Background(), func(ctx context.Context) error {
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSelectBuilderBuildsParameterizedQuery(t *testing.T) {
	sql, args := NewSelectBuilder("idempotency_records").
		Columns("id", "status").
		WhereEq("tenant_id", "acme").
		WhereIn("status", []any{"PENDING", "DONE"}).
		OrderBy("created_at", true).
		Limit(10).
		Offset(5).
		Build()

	assert.Equal(t, "SELECT id, status FROM idempotency_records WHERE tenant_id = $1 AND status IN ($2, $3) ORDER BY created_at DESC LIMIT 10 OFFSET 5", sql)
	assert.Equal(t, []any{"acme", "PENDING", "DONE"}, args)
}

func TestSelectBuilderWhereInWithNoValuesIsAlwaysFalse(t *testing.T) {
	sql, args := NewSelectBuilder("idempotency_records").WhereIn("status", nil).Build()
	assert.Contains(t, sql, "WHERE 1 = 0")
	assert.Empty(t, args)
}

func TestNullTimeRoundTrip(t *testing.T) {
	assert.Nil(t, NullTimeToPtr(sql.NullTime{}))
	nt := PtrToNullTime(nil)
	assert.False(t, nt.Valid)
}

func TestNullStringRoundTrip(t *testing.T) {
	s := "value"
	ns := PtrToNullString(&s)
	require.True(t, ns.Valid)
	got := NullStringToPtr(ns)
	require.NotNil(t, got)
	assert.Equal(t, s, *got)
}
