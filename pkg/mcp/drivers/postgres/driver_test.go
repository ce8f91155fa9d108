package postgres

import (
	"context"
	"errors"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
)

var (
	errNotAQuery = errors.New("pq: query does not return rows")
	errBoom      = errors.New("pq: connection reset by peer")
)

func newMockDriver(t *testing.T) (*Driver, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return NewWithDB(sqlx.NewDb(db, "sqlmock")), mock
}

func TestExecute_ReturnsColumnsAndRowsForAQuery(t *testing.T) {
	drv, mock := newMockDriver(t)

	mock.ExpectQuery(`SELECT id, name FROM accounts WHERE id = \$1`).
		WithArgs(7).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(7, "alice"))

	result, err := drv.Execute(context.Background(), "SELECT id, name FROM accounts WHERE id = $1", 7)
	require.NoError(t, err)
	require.Equal(t, []string{"id", "name"}, result.Columns)
	require.Len(t, result.Rows, 1)
	require.Equal(t, int64(7), result.Rows[0][0])
	require.Equal(t, "alice", result.Rows[0][1])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExecute_FallsBackToRowsAffectedForAnUpdateStatement(t *testing.T) {
	drv, mock := newMockDriver(t)

	mock.ExpectQuery(`UPDATE accounts SET name = \$1 WHERE id = \$2`).
		WithArgs("bob", 7).
		WillReturnError(errNotAQuery)
	mock.ExpectExec(`UPDATE accounts SET name = \$1 WHERE id = \$2`).
		WithArgs("bob", 7).
		WillReturnResult(sqlmock.NewResult(0, 1))

	result, err := drv.Execute(context.Background(), "UPDATE accounts SET name = $1 WHERE id = $2", "bob", 7)
	require.NoError(t, err)
	require.Equal(t, int64(1), result.RowsAffected)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExecute_WrapsQueryErrorAsQueryFailed(t *testing.T) {
	drv, mock := newMockDriver(t)

	mock.ExpectQuery(`SELECT 1`).WillReturnError(errBoom)
	mock.ExpectExec(`SELECT 1`).WillReturnError(errBoom)

	_, err := drv.Execute(context.Background(), "SELECT 1")
	require.Error(t, err)
}

func TestExecute_OnUnconnectedDriverReturnsConnectionFailed(t *testing.T) {
	drv := New("postgres://unused")
	_, err := drv.Execute(context.Background(), "SELECT 1")
	require.Error(t, err)
}
