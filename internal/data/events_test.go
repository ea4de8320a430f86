package data_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/WillB97/kit-web-ui/internal/data"
)

func TestEventInsert(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	m := data.EventModel{DB: db}
	cfgID := uuid.New()
	evt := &data.TelemetryEvent{
		Date:     time.Date(2026, 4, 12, 10, 0, 0, 0, time.UTC),
		ConfigID: &cfgID,
		Subtopic: "logs",
		Payload:  json.RawMessage(`{"message":"hello","run_uuid":"abc"}`),
		RunUUID:  "abc",
	}

	mock.ExpectQuery("INSERT INTO mqtt_data").
		WithArgs(evt.Date, cfgID, "logs", []byte(evt.Payload), "abc").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(42)))

	require.NoError(t, m.Insert(context.Background(), evt))
	assert.Equal(t, int64(42), evt.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEventInsert_UnownedNilConfig(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	m := data.EventModel{DB: db}
	evt := &data.TelemetryEvent{
		Date:     time.Now().UTC(),
		Subtopic: "stray/topic",
		Payload:  json.RawMessage(`{}`),
	}

	mock.ExpectQuery("INSERT INTO mqtt_data").
		WithArgs(evt.Date, nil, "stray/topic", []byte(`{}`), "").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))

	require.NoError(t, m.Insert(context.Background(), evt))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListRuns(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	m := data.EventModel{DB: db}
	t1 := time.Date(2026, 4, 12, 9, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)

	mock.ExpectQuery("SELECT c.name, d.run_uuid, MIN\\(d.date\\)").
		WillReturnRows(sqlmock.NewRows([]string{"name", "run_uuid", "start"}).
			AddRow("team 1", "r1", t1).
			AddRow("team 1", "r2", t2))

	runs, err := m.ListRuns(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "r1", runs[0].RunUUID)
	assert.Equal(t, t1, runs[0].Start)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListRuns_TenantFilter(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	m := data.EventModel{DB: db}
	cfgID := uuid.New()

	mock.ExpectQuery("AND d.config_id = \\$1").
		WithArgs(cfgID).
		WillReturnRows(sqlmock.NewRows([]string{"name", "run_uuid", "start"}))

	runs, err := m.ListRuns(context.Background(), &cfgID)
	require.NoError(t, err)
	assert.Empty(t, runs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLatestStatus(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	m := data.EventModel{DB: db}

	mock.ExpectQuery("SELECT c.name,").
		WillReturnRows(sqlmock.NewRows([]string{"name", "latest_state", "latest_connected"}).
			AddRow("team 1", "Running", "connected").
			AddRow("team 2", nil, nil))

	statuses, err := m.LatestStatus(context.Background())
	require.NoError(t, err)
	require.Len(t, statuses, 2)
	assert.Equal(t, "Running", statuses[0].LatestState.String)
	assert.False(t, statuses[1].LatestState.Valid)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLogs_UpToBound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	m := data.EventModel{DB: db}
	cfgID := uuid.New()
	upTo := time.Date(2026, 4, 12, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery("AND date <= \\$3").
		WithArgs(cfgID, "abc", upTo).
		WillReturnRows(sqlmock.NewRows([]string{"date", "message"}).
			AddRow(upTo.Add(-time.Minute), "hello"))

	logs, err := m.Logs(context.Background(), cfgID, "abc", upTo)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "hello", logs[0].Message)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLastStateTime_NoRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	m := data.EventModel{DB: db}
	cfgID := uuid.New()

	mock.ExpectQuery("SELECT MAX\\(date\\)").
		WithArgs(cfgID, "missing").
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(nil))

	_, err = m.LastStateTime(context.Background(), cfgID, "missing", time.Time{})
	assert.ErrorIs(t, err, data.ErrRecordNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
