package runs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/WillB97/kit-web-ui/internal/data"
)

var ErrTenantNotFound = errors.New("tenant not found")

// EventRepository is the read side of the event store.
type EventRepository interface {
	ListRuns(ctx context.Context, configID *uuid.UUID) ([]data.RunStart, error)
	LatestStatus(ctx context.Context) ([]data.StatusRow, error)
	Logs(ctx context.Context, configID uuid.UUID, runUUID string, upTo time.Time) ([]data.LogEntry, error)
	Images(ctx context.Context, configID uuid.UUID, runUUID string, upTo time.Time) ([]data.ImageEntry, error)
	LastStateTime(ctx context.Context, configID uuid.UUID, runUUID string, upTo time.Time) (time.Time, error)
}

type ConfigRepository interface {
	GetByPrincipal(ctx context.Context, principal string) (*data.TenantConfig, error)
}

// Run is one derived run: events sharing a run_uuid, started by the
// earliest "Running" state event. Runs are never merged across ids.
type Run struct {
	RunUUID string    `json:"run_uuid"`
	Start   time.Time `json:"start"`
}

type TenantStatus struct {
	Name   string `json:"name"`
	Status string `json:"status"`
}

// Service derives runs, live status and log history from the event
// store. All reads see committed rows only; a run queried mid-ingest
// may be incomplete until the next read.
type Service struct {
	events  EventRepository
	configs ConfigRepository
}

func NewService(events EventRepository, configs ConfigRepository) *Service {
	return &Service{events: events, configs: configs}
}

// resolve maps a web-layer username to its tenant config.
func (s *Service) resolve(ctx context.Context, principal string) (*data.TenantConfig, error) {
	cfg, err := s.configs.GetByPrincipal(ctx, principal)
	if errors.Is(err, data.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrTenantNotFound, principal)
	}
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// ListRuns groups "Running" state events by (tenant, run_uuid) with the
// earliest such event as the start. principal "" lists every tenant;
// an unknown principal is ErrTenantNotFound.
func (s *Service) ListRuns(ctx context.Context, principal string) (map[string][]Run, error) {
	var configID *uuid.UUID
	if principal != "" {
		cfg, err := s.resolve(ctx, principal)
		if err != nil {
			return nil, err
		}
		configID = &cfg.ID
	}

	starts, err := s.events.ListRuns(ctx, configID)
	if err != nil {
		return nil, err
	}

	runs := make(map[string][]Run)
	for _, r := range starts {
		runs[r.TenantName] = append(runs[r.TenantName], Run{RunUUID: r.RunUUID, Start: r.Start})
	}
	return runs, nil
}

// CurrentStatus reports one status value per tenant, naturally ordered
// by name. A tenant whose latest connectivity event is anything other
// than "connected" (or that never sent one) is "Disconnected" regardless
// of any stale state event; a connected tenant with no state event yet
// is "Connected".
func (s *Service) CurrentStatus(ctx context.Context) ([]TenantStatus, error) {
	rows, err := s.events.LatestStatus(ctx)
	if err != nil {
		return nil, err
	}

	statuses := make([]TenantStatus, 0, len(rows))
	for _, row := range rows {
		statuses = append(statuses, TenantStatus{
			Name:   row.TenantName,
			Status: deriveStatus(row),
		})
	}
	sort.SliceStable(statuses, func(i, j int) bool {
		return naturalKey(statuses[i].Name) < naturalKey(statuses[j].Name)
	})
	return statuses, nil
}

func deriveStatus(row data.StatusRow) string {
	if !row.LatestConnected.Valid || row.LatestConnected.String != "connected" {
		return "Disconnected"
	}
	if row.LatestState.Valid && row.LatestState.String != "" {
		return row.LatestState.String
	}
	return "Connected"
}

// Logs returns a run's log lines ascending by time, optionally bounded
// by upTo (zero = unbounded). An unknown run is an empty result, not an
// error; only an unknown principal is.
func (s *Service) Logs(ctx context.Context, principal, runUUID string, upTo time.Time) ([]data.LogEntry, error) {
	cfg, err := s.resolve(ctx, principal)
	if err != nil {
		return nil, err
	}
	return s.events.Logs(ctx, cfg.ID, runUUID, upTo)
}

// Images returns a run's annotated camera frames ascending by time.
func (s *Service) Images(ctx context.Context, principal, runUUID string, upTo time.Time) ([]data.ImageEntry, error) {
	cfg, err := s.resolve(ctx, principal)
	if err != nil {
		return nil, err
	}
	return s.events.Images(ctx, cfg.ID, runUUID, upTo)
}

// LastStateTime returns the newest state-event time in the run's scope;
// ok is false when the run has no state event.
func (s *Service) LastStateTime(ctx context.Context, principal, runUUID string, upTo time.Time) (time.Time, bool, error) {
	cfg, err := s.resolve(ctx, principal)
	if err != nil {
		return time.Time{}, false, err
	}
	last, err := s.events.LastStateTime(ctx, cfg.ID, runUUID, upTo)
	if errors.Is(err, data.ErrRecordNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return last, true, nil
}

// Tenant exposes the registry lookup for the config endpoint.
func (s *Service) Tenant(ctx context.Context, principal string) (*data.TenantConfig, error) {
	return s.resolve(ctx, principal)
}

// naturalKey pads decimal name tokens so "team 10" sorts after
// "team 9" instead of after "team 1".
func naturalKey(name string) string {
	parts := strings.Fields(name)
	for i, part := range parts {
		if isDecimal(part) && len(part) < 4 {
			parts[i] = strings.Repeat("0", 4-len(part)) + part
		}
	}
	return strings.Join(parts, "-")
}

func isDecimal(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
