package storage

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tim-0lu/env-can-wx-app/internal/worker/domain"
	"github.com/Tim-0lu/env-can-wx-app/shared/logger"
)

const jobID = "6f1c1f0e-3b8a-4d3e-9a43-0c2f4e5b7a10"

func newMockStorage(t *testing.T) (*Storage, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStorage(sqlx.NewDb(db, "sqlmock"), logger.Discard()), mock
}

func TestClaimJob(t *testing.T) {
	columns := []string{"job_id", "job_type", "station_id", "artifact_name", "payload", "retry_count", "max_retries", "timeout_seconds"}

	t.Run("claims pending job", func(t *testing.T) {
		s, mock := newMockStorage(t)
		mock.ExpectQuery(`UPDATE jobs\s+SET status = \$1`).
			WithArgs(domain.JobStatusRunning, "worker-1", jobID, domain.JobStatusPending).
			WillReturnRows(sqlmock.NewRows(columns).
				AddRow(jobID, domain.JobTypeStationDownload, "5051", "a.csv", `{}`, 1, 3, 600))

		job, err := s.ClaimJob(context.Background(), jobID, "worker-1")
		require.NoError(t, err)
		assert.Equal(t, jobID, job.JobID)
		assert.Equal(t, "5051", job.StationID)
		assert.Equal(t, "a.csv", job.ArtifactName)
		assert.Equal(t, domain.JobStatusRunning, job.Status)
		assert.Equal(t, "worker-1", job.WorkerID)
		assert.Equal(t, 1, job.RetryCount)
		assert.True(t, job.CanRetry())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("already claimed", func(t *testing.T) {
		s, mock := newMockStorage(t)
		mock.ExpectQuery(`UPDATE jobs`).WillReturnRows(sqlmock.NewRows(columns))

		_, err := s.ClaimJob(context.Background(), jobID, "worker-1")
		assert.ErrorIs(t, err, domain.ErrJobAlreadyClaimed)
	})

	t.Run("database error", func(t *testing.T) {
		s, mock := newMockStorage(t)
		mock.ExpectQuery(`UPDATE jobs`).WillReturnError(errors.New("connection refused"))

		_, err := s.ClaimJob(context.Background(), jobID, "worker-1")
		require.Error(t, err)
		assert.NotErrorIs(t, err, domain.ErrJobAlreadyClaimed)
	})
}

func TestMarkCompletedThenStoreResult(t *testing.T) {
	s, mock := newMockStorage(t)

	mock.ExpectExec(`SET status = \$1,\s+result = NULL`).
		WithArgs(domain.JobStatusCompleted, jobID, domain.JobStatusRunning).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`SET result = \$1`).
		WithArgs(sqlmock.AnyArg(), jobID, domain.JobStatusCompleted).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ctx := context.Background()
	require.NoError(t, s.MarkCompleted(ctx, jobID))
	require.NoError(t, s.StoreResult(ctx, jobID, map[string]any{"result": true}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdatesOnDiscardedJob(t *testing.T) {
	tests := []struct {
		name string
		run  func(s *Storage) error
	}{
		{"mark completed", func(s *Storage) error { return s.MarkCompleted(context.Background(), jobID) }},
		{"store result", func(s *Storage) error {
			return s.StoreResult(context.Background(), jobID, map[string]any{"result": true})
		}},
		{"release", func(s *Storage) error { return s.ReleaseJob(context.Background(), jobID, "boom") }},
		{"fail", func(s *Storage) error { return s.FailJob(context.Background(), jobID, "boom") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newMockStorage(t)
			mock.ExpectExec(`UPDATE jobs`).WillReturnResult(sqlmock.NewResult(0, 0))

			assert.ErrorIs(t, tt.run(s), domain.ErrJobNotFound)
		})
	}
}

func TestReleaseJob(t *testing.T) {
	s, mock := newMockStorage(t)
	mock.ExpectExec(`retry_count = retry_count \+ 1`).
		WithArgs(domain.JobStatusPending, "fetch failed", jobID, domain.JobStatusRunning).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.ReleaseJob(context.Background(), jobID, "fetch failed"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFailJob(t *testing.T) {
	s, mock := newMockStorage(t)
	mock.ExpectExec(`UPDATE jobs`).
		WithArgs(domain.JobStatusFailed, "bad payload", jobID,
			domain.JobStatusPending, domain.JobStatusRunning, domain.JobStatusCompleted).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.FailJob(context.Background(), jobID, "bad payload"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateJobHeartbeat(t *testing.T) {
	s, mock := newMockStorage(t)
	mock.ExpectExec(`SET last_heartbeat_at = NOW\(\)`).
		WithArgs(jobID, domain.JobStatusRunning).
		WillReturnResult(sqlmock.NewResult(0, 0))

	// A heartbeat for a job that is no longer running is only logged.
	require.NoError(t, s.UpdateJobHeartbeat(context.Background(), jobID))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFailJob_AcceptsCompletedWithoutResult(t *testing.T) {
	s, mock := newMockStorage(t)
	mock.ExpectExec(`status = \$6 AND result IS NULL`).
		WithArgs(domain.JobStatusFailed, "failed to store job result", jobID,
			domain.JobStatusPending, domain.JobStatusRunning, domain.JobStatusCompleted).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.FailJob(context.Background(), jobID, "failed to store job result"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFailStaleJobs(t *testing.T) {
	tests := []struct {
		name    string
		result  driver.Result
		err     error
		want    int64
		wantErr bool
	}{
		{name: "fails silent and resultless jobs", result: sqlmock.NewResult(0, 2), want: 2},
		{name: "nothing stale", result: sqlmock.NewResult(0, 0), want: 0},
		{name: "database error", err: errors.New("connection refused"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newMockStorage(t)
			exp := mock.ExpectExec(`status = \$5.*make_interval.*result IS NULL\s+AND completed_at <`).
				WithArgs(domain.JobStatusFailed,
					domain.JobStatusCompleted, domain.ErrMsgResultLost, domain.ErrMsgHeartbeatLost,
					domain.JobStatusRunning, float64(300))
			if tt.err != nil {
				exp.WillReturnError(tt.err)
			} else {
				exp.WillReturnResult(tt.result)
			}

			n, err := s.FailStaleJobs(context.Background(), 5*time.Minute)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, n)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}
