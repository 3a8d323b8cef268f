package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/windlass/pkg/contracts"
)

// Failure paths are easiest to provoke with a mock driver; the happy paths
// run against real sqlite in store_test.go.

func mockTx(t *testing.T, dialect dialect) (*sqlTx, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	mock.ExpectBegin()
	tx, err := db.BeginTx(context.Background(), nil)
	require.NoError(t, err)
	return &sqlTx{tx: tx, dialect: dialect}, mock
}

func TestInsertUOWPropagatesDriverError(t *testing.T) {
	tx, mock := mockTx(t, dialectSQLite)
	boom := errors.New("disk I/O error")
	mock.ExpectExec("INSERT INTO uows").WillReturnError(boom)

	now := time.Now().UTC()
	err := tx.InsertUOW(context.Background(), &contracts.UOW{
		ID: "u1", InstanceID: "i1", Status: contracts.StatusPending,
		CreatedAt: now, UpdatedAt: now,
	})
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetUOWForUpdateUsesRowLockOnPostgres(t *testing.T) {
	tx, mock := mockTx(t, dialectPostgres)
	mock.ExpectQuery(`FROM uows WHERE uow_id = \$1 FOR UPDATE`).
		WithArgs("u1").
		WillReturnError(errors.New("deadlock detected"))

	_, err := tx.GetUOWForUpdate(context.Background(), "u1")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, contracts.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertAttributeFailsWhenVersionScanFails(t *testing.T) {
	tx, mock := mockTx(t, dialectSQLite)
	mock.ExpectQuery(`SELECT COALESCE\(MAX\(version\), 0\)`).
		WillReturnError(errors.New("database is locked"))

	err := tx.InsertAttribute(context.Background(), &contracts.Attribute{
		UOWID: "u1", Key: "risk", Value: "1", AuthorActorID: "a1", CreatedAt: time.Now().UTC(),
	})
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
