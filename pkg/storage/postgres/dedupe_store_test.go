package postgres

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDedupeStore(t *testing.T) (*DedupeStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewDedupeStore(sqlx.NewDb(db, "postgres")), mock
}

func TestDedupeInsertOrBumpFirstOccurrence(t *testing.T) {
	store, mock := newDedupeStore(t)
	now := time.Now()

	mock.ExpectQuery(`INSERT INTO event_dedupe`).
		WithArgs("acme", "evt-1", int64(3), now, now.Add(time.Hour)).
		WillReturnRows(sqlmock.NewRows([]string{"inserted"}).AddRow(true))

	inserted, err := store.InsertOrBump(context.Background(), "acme", "evt-1", 3, now, time.Hour)
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDedupeInsertOrBumpDuplicate(t *testing.T) {
	store, mock := newDedupeStore(t)
	now := time.Now()

	mock.ExpectQuery(`INSERT INTO event_dedupe`).
		WithArgs("acme", "evt-1", int64(3), now, now.Add(time.Hour)).
		WillReturnRows(sqlmock.NewRows([]string{"inserted"}).AddRow(false))

	inserted, err := store.InsertOrBump(context.Background(), "acme", "evt-1", 3, now, time.Hour)
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.NoError(t, mock.ExpectationsWereMet())
}
