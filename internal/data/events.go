package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// TelemetryEvent is one recorded MQTT message. Rows are append-only:
// the ingest session inserts them and nothing in this repository ever
// updates or deletes one.
type TelemetryEvent struct {
	ID       int64           `json:"id"`
	Date     time.Time       `json:"date"`
	ConfigID *uuid.UUID      `json:"config_id,omitempty"` // nil = no tenant matched the topic
	Subtopic string          `json:"subtopic"`
	Payload  json.RawMessage `json:"payload"`
	RunUUID  string          `json:"run_uuid"`
}

// RunStart is one (tenant, run) with its earliest "Running" state event.
type RunStart struct {
	TenantName string    `json:"tenant"`
	RunUUID    string    `json:"run_uuid"`
	Start      time.Time `json:"start"`
}

// StatusRow carries the newest state and connectivity values per tenant.
type StatusRow struct {
	TenantName      string
	LatestState     sql.NullString
	LatestConnected sql.NullString
}

type LogEntry struct {
	Date    time.Time `json:"date"`
	Message string    `json:"message"`
}

// ImageEntry is one camera frame; Data is the payload field as stored,
// base64 with an optional data-URI prefix.
type ImageEntry struct {
	Date time.Time
	Data string
}

type EventModel struct {
	DB DBTX
}

// Insert appends one event and fills in its assigned ID.
func (m EventModel) Insert(ctx context.Context, e *TelemetryEvent) error {
	query := `
		INSERT INTO mqtt_data (date, config_id, subtopic, payload, run_uuid)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`

	return m.DB.QueryRowContext(ctx, query,
		e.Date, e.ConfigID, e.Subtopic, []byte(e.Payload), e.RunUUID,
	).Scan(&e.ID)
}

// ListRuns groups "Running" state events into runs. A nil configID
// lists every tenant's runs. Unowned events never join a tenant and are
// excluded by the inner join.
func (m EventModel) ListRuns(ctx context.Context, configID *uuid.UUID) ([]RunStart, error) {
	query := `
		SELECT c.name, d.run_uuid, MIN(d.date) AS start
		FROM mqtt_data d
		JOIN mqtt_configs c ON d.config_id = c.id
		WHERE d.subtopic = 'state' AND d.payload->>'state' = 'Running'`
	args := []any{}
	if configID != nil {
		query += ` AND d.config_id = $1`
		args = append(args, *configID)
	}
	query += `
		GROUP BY c.name, d.run_uuid
		ORDER BY c.name, start`

	rows, err := m.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []RunStart
	for rows.Next() {
		var r RunStart
		if err := rows.Scan(&r.TenantName, &r.RunUUID, &r.Start); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// LatestStatus returns, for every tenant, the newest state payload value
// and the newest connectivity value. Tenants with no events yet still
// appear, with NULLs. Connectivity payloads have carried the value in
// either a "connected" or a "state" field across kit versions.
func (m EventModel) LatestStatus(ctx context.Context) ([]StatusRow, error) {
	query := `
		SELECT c.name,
			(SELECT d.payload->>'state'
			 FROM mqtt_data d
			 WHERE d.config_id = c.id AND d.subtopic = 'state'
			 ORDER BY d.date DESC, d.id DESC LIMIT 1) AS latest_state,
			(SELECT COALESCE(d.payload->>'connected', d.payload->>'state')
			 FROM mqtt_data d
			 WHERE d.config_id = c.id AND d.subtopic = 'connected'
			 ORDER BY d.date DESC, d.id DESC LIMIT 1) AS latest_connected
		FROM mqtt_configs c
		ORDER BY c.name`

	rows, err := m.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var statuses []StatusRow
	for rows.Next() {
		var s StatusRow
		if err := rows.Scan(&s.TenantName, &s.LatestState, &s.LatestConnected); err != nil {
			return nil, err
		}
		statuses = append(statuses, s)
	}
	return statuses, rows.Err()
}

// Logs returns a run's log lines ascending by time. A zero upTo means
// no upper bound.
func (m EventModel) Logs(ctx context.Context, configID uuid.UUID, runUUID string, upTo time.Time) ([]LogEntry, error) {
	query := `
		SELECT date, COALESCE(payload->>'message', '')
		FROM mqtt_data
		WHERE config_id = $1 AND run_uuid = $2 AND subtopic = 'logs'`
	args := []any{configID, runUUID}
	if !upTo.IsZero() {
		query += ` AND date <= $3`
		args = append(args, upTo)
	}
	query += ` ORDER BY date, id`

	rows, err := m.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []LogEntry
	for rows.Next() {
		var l LogEntry
		if err := rows.Scan(&l.Date, &l.Message); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// Images returns a run's annotated camera frames ascending by time.
func (m EventModel) Images(ctx context.Context, configID uuid.UUID, runUUID string, upTo time.Time) ([]ImageEntry, error) {
	query := `
		SELECT date, COALESCE(payload->>'data', '')
		FROM mqtt_data
		WHERE config_id = $1 AND run_uuid = $2 AND subtopic = 'camera/annotated'`
	args := []any{configID, runUUID}
	if !upTo.IsZero() {
		query += ` AND date <= $3`
		args = append(args, upTo)
	}
	query += ` ORDER BY date, id`

	rows, err := m.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var images []ImageEntry
	for rows.Next() {
		var img ImageEntry
		if err := rows.Scan(&img.Date, &img.Data); err != nil {
			return nil, err
		}
		images = append(images, img)
	}
	return images, rows.Err()
}

// LastStateTime returns the newest state-event time in a run's scope,
// used to name downloaded bundles. ErrRecordNotFound when the run has
// no state events.
func (m EventModel) LastStateTime(ctx context.Context, configID uuid.UUID, runUUID string, upTo time.Time) (time.Time, error) {
	query := `
		SELECT MAX(date)
		FROM mqtt_data
		WHERE config_id = $1 AND run_uuid = $2 AND subtopic = 'state'`
	args := []any{configID, runUUID}
	if !upTo.IsZero() {
		query += ` AND date <= $3`
		args = append(args, upTo)
	}

	var last sql.NullTime
	if err := m.DB.QueryRowContext(ctx, query, args...).Scan(&last); err != nil {
		return time.Time{}, err
	}
	if !last.Valid {
		return time.Time{}, ErrRecordNotFound
	}
	return last.Time, nil
}
