package store

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/applyflow/api/schemas"
)

// flexibleSQLMatcher creates a regex that is insensitive to whitespace for
// more robust SQL mock testing.
func flexibleSQLMatcher(sql string) string {
	trimmed := strings.TrimSpace(sql)
	return regexp.MustCompile(`\s+`).ReplaceAllString(regexp.QuoteMeta(trimmed), `\s+`)
}

func newMockedStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mockPool.Close)

	mockPool.ExpectPing()
	s, err := New(context.Background(), mockPool, zap.NewNop())
	require.NoError(t, err)
	return s, mockPool
}

func TestNewStore(t *testing.T) {
	t.Run("should return error if ping fails", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		pingErr := errors.New("database unavailable")
		mockPool.ExpectPing().WillReturnError(pingErr)

		_, err = New(context.Background(), mockPool, zap.NewNop())
		require.Error(t, err)
		assert.ErrorIs(t, err, pingErr)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestEnsureSchema(t *testing.T) {
	s, mockPool := newMockedStore(t)

	mockPool.ExpectExec("CREATE TABLE IF NOT EXISTS job_listings").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.EnsureSchema(context.Background()))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestUpsertJob(t *testing.T) {
	ctx := context.Background()

	t.Run("should insert with generated id and default status", func(t *testing.T) {
		s, mockPool := newMockedStore(t)

		mockPool.ExpectExec("INSERT INTO job_listings").
			WithArgs(
				pgxmock.AnyArg(), "Staff Engineer", "Initech", "Remote",
				"https://jobs.example.com/123", "workday", "saved", "",
			).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		err := s.UpsertJob(ctx, schemas.JobListing{
			Title:    "Staff Engineer",
			Company:  "Initech",
			Location: "Remote",
			URL:      "https://jobs.example.com/123",
			Source:   "workday",
		})
		require.NoError(t, err)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should reject a listing without a url", func(t *testing.T) {
		s, _ := newMockedStore(t)

		err := s.UpsertJob(ctx, schemas.JobListing{Title: "Mystery Role"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "url")
	})

	t.Run("should propagate database errors", func(t *testing.T) {
		s, mockPool := newMockedStore(t)

		dbErr := errors.New("connection reset")
		mockPool.ExpectExec("INSERT INTO job_listings").
			WithArgs(
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			).
			WillReturnError(dbErr)

		err := s.UpsertJob(ctx, schemas.JobListing{URL: "https://jobs.example.com/1"})
		require.Error(t, err)
		assert.ErrorIs(t, err, dbErr)
	})
}

func TestRecordApplication(t *testing.T) {
	ctx := context.Background()

	t.Run("should insert the application and advance the job atomically", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		observedCore, observedLogs := observer.New(zapcore.ErrorLevel)
		mockPool.ExpectPing()
		s, err := New(ctx, mockPool, zap.New(observedCore))
		require.NoError(t, err)

		mockPool.ExpectBegin()
		mockPool.ExpectExec("INSERT INTO applications").
			WithArgs(
				"a1a1a1a1-0000-0000-0000-000000000001",
				"b2b2b2b2-0000-0000-0000-000000000002",
				json.RawMessage(`{"name":"Ada"}`),
				12, 1,
				[]byte(`["#source: no option matched"]`),
			).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectExec(flexibleSQLMatcher(`UPDATE job_listings SET status = $1, updated_at = now() WHERE id = $2`)).
			WithArgs("applied", "b2b2b2b2-0000-0000-0000-000000000002").
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mockPool.ExpectCommit()
		mockPool.ExpectRollback().WillReturnError(pgx.ErrTxClosed)

		err = s.RecordApplication(ctx, schemas.Application{
			ID:              "a1a1a1a1-0000-0000-0000-000000000001",
			JobID:           "b2b2b2b2-0000-0000-0000-000000000002",
			ProfileSnapshot: json.RawMessage(`{"name":"Ada"}`),
			FilledCount:     12,
			FailedCount:     1,
			Errors:          []string{"#source: no option matched"},
		})
		require.NoError(t, err)
		assert.NoError(t, mockPool.ExpectationsWereMet())
		assert.Zero(t, observedLogs.Len(), "a committed transaction must not log rollback errors")
	})

	t.Run("should substitute an empty snapshot", func(t *testing.T) {
		s, mockPool := newMockedStore(t)

		mockPool.ExpectBegin()
		mockPool.ExpectExec("INSERT INTO applications").
			WithArgs(
				pgxmock.AnyArg(), "b2b2b2b2-0000-0000-0000-000000000002",
				json.RawMessage("{}"), 0, 0, []byte("[]"),
			).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectExec("UPDATE job_listings").
			WithArgs("applied", "b2b2b2b2-0000-0000-0000-000000000002").
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mockPool.ExpectCommit()

		err := s.RecordApplication(ctx, schemas.Application{JobID: "b2b2b2b2-0000-0000-0000-000000000002"})
		require.NoError(t, err)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should roll back when the insert fails", func(t *testing.T) {
		s, mockPool := newMockedStore(t)

		insertErr := errors.New("constraint violation")
		mockPool.ExpectBegin()
		mockPool.ExpectExec("INSERT INTO applications").
			WithArgs(
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			).
			WillReturnError(insertErr)
		mockPool.ExpectRollback()

		err := s.RecordApplication(ctx, schemas.Application{JobID: "b2b2b2b2-0000-0000-0000-000000000002"})
		require.Error(t, err)
		assert.ErrorIs(t, err, insertErr)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should reject an application without a job id", func(t *testing.T) {
		s, _ := newMockedStore(t)

		err := s.RecordApplication(ctx, schemas.Application{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "job id")
	})
}

func TestListJobs(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()

	columns := []string{"id", "title", "company", "location", "url", "source", "status", "notes", "created_at", "updated_at"}

	t.Run("should list all jobs without a status filter", func(t *testing.T) {
		s, mockPool := newMockedStore(t)

		mockPool.ExpectQuery("SELECT (.+) FROM job_listings ORDER BY updated_at DESC").
			WillReturnRows(pgxmock.NewRows(columns).
				AddRow("id-1", "Engineer", "Initech", "Remote", "https://a", "workday", "saved", "", now, now).
				AddRow("id-2", "Analyst", "Globex", "NYC", "https://b", "greenhouse", "applied", "phone screen", now, now))

		jobs, err := s.ListJobs(ctx, "")
		require.NoError(t, err)
		require.Len(t, jobs, 2)
		assert.Equal(t, schemas.JobStatusSaved, jobs[0].Status)
		assert.Equal(t, schemas.JobStatusApplied, jobs[1].Status)
		assert.Equal(t, "Globex", jobs[1].Company)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should filter by status", func(t *testing.T) {
		s, mockPool := newMockedStore(t)

		mockPool.ExpectQuery("SELECT (.+) FROM job_listings WHERE status = \\$1").
			WithArgs("applied").
			WillReturnRows(pgxmock.NewRows(columns).
				AddRow("id-2", "Analyst", "Globex", "NYC", "https://b", "greenhouse", "applied", "", now, now))

		jobs, err := s.ListJobs(ctx, schemas.JobStatusApplied)
		require.NoError(t, err)
		require.Len(t, jobs, 1)
		assert.Equal(t, "id-2", jobs[0].ID)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should propagate query errors", func(t *testing.T) {
		s, mockPool := newMockedStore(t)

		queryErr := errors.New("relation does not exist")
		mockPool.ExpectQuery("SELECT (.+) FROM job_listings").WillReturnError(queryErr)

		_, err := s.ListJobs(ctx, "")
		require.Error(t, err)
		assert.ErrorIs(t, err, queryErr)
	})
}
