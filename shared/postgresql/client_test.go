package postgresql

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tim-0lu/env-can-wx-app/shared/logger"
)

func newMockClient(t *testing.T) (*Client, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return NewFromDB(sqlx.NewDb(db, "sqlmock"), logger.Discard()), mock
}

func TestHealthCheck(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		client, mock := newMockClient(t)
		mock.ExpectPing()
		mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

		require.NoError(t, client.HealthCheck(context.Background()))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("ping fails", func(t *testing.T) {
		client, mock := newMockClient(t)
		mock.ExpectPing().WillReturnError(errors.New("connection refused"))

		err := client.HealthCheck(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "database health check failed")
	})
}

func TestMigrate(t *testing.T) {
	client, mock := newMockClient(t)

	path := filepath.Join(t.TempDir(), "schema.sql")
	schema := "CREATE TABLE IF NOT EXISTS jobs (job_id UUID PRIMARY KEY);"
	require.NoError(t, os.WriteFile(path, []byte(schema), 0o600))

	mock.ExpectExec(regexp.QuoteMeta(schema)).WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, client.Migrate(context.Background(), path))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrate_MissingFile(t *testing.T) {
	client, _ := newMockClient(t)

	err := client.Migrate(context.Background(), filepath.Join(t.TempDir(), "nope.sql"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read migration")
}
