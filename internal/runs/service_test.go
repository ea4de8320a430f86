package runs_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/WillB97/kit-web-ui/internal/data"
	"github.com/WillB97/kit-web-ui/internal/runs"
)

type mockEvents struct {
	runs      []data.RunStart
	statuses  []data.StatusRow
	logs      []data.LogEntry
	images    []data.ImageEntry
	lastState time.Time
	noState   bool

	gotConfigID *uuid.UUID
	gotUpTo     time.Time
}

func (m *mockEvents) ListRuns(ctx context.Context, configID *uuid.UUID) ([]data.RunStart, error) {
	m.gotConfigID = configID
	return m.runs, nil
}

func (m *mockEvents) LatestStatus(ctx context.Context) ([]data.StatusRow, error) {
	return m.statuses, nil
}

func (m *mockEvents) Logs(ctx context.Context, configID uuid.UUID, runUUID string, upTo time.Time) ([]data.LogEntry, error) {
	m.gotUpTo = upTo
	return m.logs, nil
}

func (m *mockEvents) Images(ctx context.Context, configID uuid.UUID, runUUID string, upTo time.Time) ([]data.ImageEntry, error) {
	return m.images, nil
}

func (m *mockEvents) LastStateTime(ctx context.Context, configID uuid.UUID, runUUID string, upTo time.Time) (time.Time, error) {
	if m.noState {
		return time.Time{}, data.ErrRecordNotFound
	}
	return m.lastState, nil
}

type mockConfigs struct {
	configs map[string]*data.TenantConfig
}

func (m *mockConfigs) GetByPrincipal(ctx context.Context, principal string) (*data.TenantConfig, error) {
	if c, ok := m.configs[principal]; ok {
		return c, nil
	}
	return nil, data.ErrRecordNotFound
}

func newConfigs(principals ...string) *mockConfigs {
	m := &mockConfigs{configs: make(map[string]*data.TenantConfig)}
	for _, p := range principals {
		m.configs[p] = &data.TenantConfig{ID: uuid.New(), Name: p, Principal: p, TopicRoot: p}
	}
	return m
}

func ns(s string) sql.NullString { return sql.NullString{String: s, Valid: true} }

func TestListRuns_GroupsByTenant(t *testing.T) {
	t1 := time.Date(2026, 4, 12, 9, 0, 0, 0, time.UTC)
	t2 := t1.Add(30 * time.Minute)
	events := &mockEvents{runs: []data.RunStart{
		{TenantName: "team 1", RunUUID: "r1", Start: t1},
		{TenantName: "team 1", RunUUID: "r2", Start: t2},
		{TenantName: "team 2", RunUUID: "r3", Start: t2},
	}}
	svc := runs.NewService(events, newConfigs())

	got, err := svc.ListRuns(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, []runs.Run{{RunUUID: "r1", Start: t1}, {RunUUID: "r2", Start: t2}}, got["team 1"])
	assert.Equal(t, []runs.Run{{RunUUID: "r3", Start: t2}}, got["team 2"])
	assert.Nil(t, events.gotConfigID)
}

func TestListRuns_TenantFilter(t *testing.T) {
	configs := newConfigs("team1")
	events := &mockEvents{}
	svc := runs.NewService(events, configs)

	_, err := svc.ListRuns(context.Background(), "team1")
	require.NoError(t, err)
	require.NotNil(t, events.gotConfigID)
	assert.Equal(t, configs.configs["team1"].ID, *events.gotConfigID)
}

func TestListRuns_UnknownTenant(t *testing.T) {
	svc := runs.NewService(&mockEvents{}, newConfigs())

	_, err := svc.ListRuns(context.Background(), "ghost")
	assert.ErrorIs(t, err, runs.ErrTenantNotFound)
}

func TestCurrentStatus_DisconnectOverride(t *testing.T) {
	events := &mockEvents{statuses: []data.StatusRow{
		// Stale "Running" is overridden by a disconnect.
		{TenantName: "team 1", LatestState: ns("Running"), LatestConnected: ns("disconnected")},
		{TenantName: "team 2", LatestState: ns("Running"), LatestConnected: ns("connected")},
		// Never sent a connectivity event.
		{TenantName: "team 3", LatestState: ns("Idle")},
		// Connected but never sent a state.
		{TenantName: "team 4", LatestConnected: ns("connected")},
	}}
	svc := runs.NewService(events, newConfigs())

	statuses, err := svc.CurrentStatus(context.Background())
	require.NoError(t, err)

	byName := make(map[string]string)
	for _, s := range statuses {
		byName[s.Name] = s.Status
	}
	assert.Equal(t, "Disconnected", byName["team 1"])
	assert.Equal(t, "Running", byName["team 2"])
	assert.Equal(t, "Disconnected", byName["team 3"])
	assert.Equal(t, "Connected", byName["team 4"])
}

func TestCurrentStatus_NaturalOrder(t *testing.T) {
	events := &mockEvents{statuses: []data.StatusRow{
		{TenantName: "team 10"},
		{TenantName: "team 2"},
		{TenantName: "team 1"},
	}}
	svc := runs.NewService(events, newConfigs())

	statuses, err := svc.CurrentStatus(context.Background())
	require.NoError(t, err)

	names := []string{statuses[0].Name, statuses[1].Name, statuses[2].Name}
	assert.Equal(t, []string{"team 1", "team 2", "team 10"}, names)
}

func TestLogs_PassesBound(t *testing.T) {
	configs := newConfigs("team1")
	upTo := time.Date(2026, 4, 12, 12, 0, 0, 0, time.UTC)
	events := &mockEvents{logs: []data.LogEntry{{Date: upTo, Message: "hello"}}}
	svc := runs.NewService(events, configs)

	logs, err := svc.Logs(context.Background(), "team1", "abc", upTo)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "hello", logs[0].Message)
	assert.Equal(t, upTo, events.gotUpTo)
}

func TestLogs_UnknownTenant(t *testing.T) {
	svc := runs.NewService(&mockEvents{}, newConfigs())

	_, err := svc.Logs(context.Background(), "ghost", "abc", time.Time{})
	assert.ErrorIs(t, err, runs.ErrTenantNotFound)
}

func TestLastStateTime_NoStateEvent(t *testing.T) {
	svc := runs.NewService(&mockEvents{noState: true}, newConfigs("team1"))

	_, ok, err := svc.LastStateTime(context.Background(), "team1", "abc", time.Time{})
	require.NoError(t, err)
	assert.False(t, ok)
}
