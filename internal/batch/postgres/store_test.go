package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/draftpress/articlegen/internal/batch"
)

func TestSaveManifestUpsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock)
	require.NoError(t, err)

	now := time.Unix(1790000000, 0).UTC()
	m := batch.Manifest{
		ID:        "batch-20260815-093000-abc12345",
		Items:     []batch.Item{{ID: "a", Topic: "espresso machines"}},
		CreatedAt: now,
		Meta:      map[string]string{"source": "cli"},
	}

	mock.ExpectExec("INSERT INTO article_batches").
		WithArgs(
			m.ID,
			[]byte(`[{"id":"a","topic":"espresso machines"}]`),
			[]byte(`{"source":"cli"}`),
			m.CreatedAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.SaveManifest(context.Background(), m))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetManifestDecodesJSON(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock)
	require.NoError(t, err)

	now := time.Unix(1790000000, 0).UTC()
	rows := pgxmock.NewRows([]string{"id", "items", "meta", "created_at"}).
		AddRow("batch-x", []byte(`[{"id":"a","topic":"espresso machines"}]`), []byte(`{"source":"cli"}`), now)

	mock.ExpectQuery("SELECT id, items, meta, created_at").
		WithArgs("batch-x").
		WillReturnRows(rows)

	m, err := store.GetManifest(context.Background(), "batch-x")
	require.NoError(t, err)
	require.Equal(t, "batch-x", m.ID)
	require.Len(t, m.Items, 1)
	require.Equal(t, "espresso machines", m.Items[0].Topic)
	require.Equal(t, "cli", m.Meta["source"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetManifestNotFound(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT id, items, meta, created_at").
		WithArgs("batch-missing").
		WillReturnError(pgx.ErrNoRows)

	_, err = store.GetManifest(context.Background(), "batch-missing")
	require.ErrorIs(t, err, batch.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveRecordUpsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock)
	require.NoError(t, err)

	now := time.Unix(1790000000, 0).UTC()
	rec := batch.Record{
		BatchID:   "batch-x",
		ItemID:    "a",
		Status:    batch.StatusFailed,
		Error:     "flaky upstream",
		ResultRef: "",
		UpdatedAt: now,
	}

	mock.ExpectExec("INSERT INTO article_progress").
		WithArgs(rec.BatchID, rec.ItemID, "failed", rec.Error, rec.ResultRef, rec.UpdatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.SaveRecord(context.Background(), rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRecordScansStatus(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock)
	require.NoError(t, err)

	now := time.Unix(1790000000, 0).UTC()
	rows := pgxmock.NewRows([]string{"batch_id", "item_id", "status", "error_message", "result_ref", "updated_at"}).
		AddRow("batch-x", "a", "completed", "", "articles/a.json", now)

	mock.ExpectQuery("SELECT batch_id, item_id, status, error_message, result_ref, updated_at").
		WithArgs("batch-x", "a").
		WillReturnRows(rows)

	rec, err := store.GetRecord(context.Background(), "batch-x", "a")
	require.NoError(t, err)
	require.Equal(t, batch.StatusCompleted, rec.Status)
	require.Equal(t, "articles/a.json", rec.ResultRef)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRecordNotFound(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT batch_id, item_id, status, error_message, result_ref, updated_at").
		WithArgs("batch-x", "missing").
		WillReturnError(pgx.ErrNoRows)

	_, err = store.GetRecord(context.Background(), "batch-x", "missing")
	require.ErrorIs(t, err, batch.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListRecordsScansAllRows(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock)
	require.NoError(t, err)

	now := time.Unix(1790000000, 0).UTC()
	rows := pgxmock.NewRows([]string{"batch_id", "item_id", "status", "error_message", "result_ref", "updated_at"}).
		AddRow("batch-x", "a", "completed", "", "articles/a.json", now).
		AddRow("batch-x", "b", "pending", "", "", now)

	mock.ExpectQuery("SELECT batch_id, item_id, status, error_message, result_ref, updated_at").
		WithArgs("batch-x").
		WillReturnRows(rows)

	records, err := store.ListRecords(context.Background(), "batch-x")
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, batch.StatusCompleted, records[0].Status)
	require.Equal(t, batch.StatusPending, records[1].Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListRecordsQueryError(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT batch_id, item_id, status, error_message, result_ref, updated_at").
		WithArgs("batch-x").
		WillReturnError(errors.New("connection reset"))

	_, err = store.ListRecords(context.Background(), "batch-x")
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewWithPoolRequiresPool(t *testing.T) {
	t.Parallel()

	_, err := NewWithPool(nil)
	require.Error(t, err)
}
