package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/mangalib-parser/internal/manga"
)

func TestRecordJobInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewJobStoreWithPool(mock, "")
	require.NoError(t, err)

	started := time.Unix(1700000000, 0).UTC()
	rec := manga.JobRecord{
		JobID:      "0190a6b2-7f00-7000-8000-000000000001",
		Slug:       "test-manga",
		Status:     manga.JobStatusSucceeded,
		Chapters:   3,
		StartedAt:  started,
		FinishedAt: started.Add(42 * time.Second),
	}

	mock.ExpectExec("INSERT INTO scrape_jobs").
		WithArgs(rec.JobID, rec.Slug, "succeeded", 3, (*string)(nil), rec.StartedAt, rec.FinishedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.RecordJob(context.Background(), rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordJobKeepsErrorText(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewJobStoreWithPool(mock, "audit_jobs")
	require.NoError(t, err)

	errText := "upstream slug=x: boom"
	rec := manga.JobRecord{JobID: "j", Slug: "x", Status: manga.JobStatusFailed, ErrorText: errText}
	mock.ExpectExec("INSERT INTO audit_jobs").
		WithArgs("j", "x", "failed", 0, &errText, rec.StartedAt, rec.FinishedAt).
		WillReturnError(errors.New("connection reset"))

	err = store.RecordJob(context.Background(), rec)
	require.ErrorContains(t, err, "insert job j")
	require.ErrorContains(t, err, "connection reset")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewJobStoreWithPool(mock, "")
	require.NoError(t, err)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS scrape_jobs").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobStoreValidation(t *testing.T) {
	t.Parallel()

	_, err := NewJobStoreWithPool(nil, "")
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewJobStoreWithPool(mock, "jobs; DROP TABLE x")
	require.ErrorContains(t, err, "invalid table name")

	store, err := NewJobStoreWithPool(mock, "")
	require.NoError(t, err)
	require.ErrorContains(t, store.RecordJob(context.Background(), manga.JobRecord{}), "job id is required")

	_, err = NewJobStore(context.Background(), JobStoreConfig{})
	require.ErrorContains(t, err, "audit.dsn is required")
}
