package audit

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/WillB97/kit-web-ui/internal/data"
)

// Event is one audit trail entry: who pulled what from the archive.
type Event struct {
	ID        int64           `json:"id"`
	EventID   uuid.UUID       `json:"event_id"` // idempotency key
	Date      time.Time       `json:"date"`
	Principal string          `json:"principal"`
	Action    string          `json:"action"`
	Code      int             `json:"code"`
	Extra     json.RawMessage `json:"extra,omitempty"`
}

const (
	ActionLogsDownload   = "logs.download"
	ActionBundleDownload = "bundle.download"
	ActionConfigRead     = "config.read"
)

type Service struct {
	DB data.DBTX
}

func NewService(db data.DBTX) *Service {
	return &Service{DB: db}
}

// Record appends one audit entry. Best-effort: the export path must not
// fail a download because the audit insert did, so errors are logged
// and swallowed.
func (s *Service) Record(ctx context.Context, evt Event) {
	if evt.EventID == uuid.Nil {
		evt.EventID = uuid.New()
	}
	if evt.Date.IsZero() {
		evt.Date = time.Now().UTC()
	}

	query := `
		INSERT INTO audit_events (event_id, date, principal, action, code, extra)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (event_id) DO NOTHING`

	if _, err := s.DB.ExecContext(ctx, query,
		evt.EventID, evt.Date, evt.Principal, evt.Action, evt.Code, evt.Extra,
	); err != nil {
		log.Printf("[WARN] Audit: write failed for %s/%s: %v", evt.Principal, evt.Action, err)
	}
}

// Append-only: no update or delete methods exposed.
