package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSPublisher republishes stored events for live consumers (the web
// layer's status views subscribe instead of polling the store). Publish
// retries with capped exponential backoff, bounded by the caller's
// context: the event is already durable, so a slow fan-out must not
// hold the consume loop past the per-message deadline.
type NATSPublisher struct {
	conn       *nats.Conn
	subject    string
	maxRetries int
	baseWait   time.Duration
}

func NewNATSPublisher(conn *nats.Conn, subject string, maxRetries int) *NATSPublisher {
	return &NATSPublisher{
		conn:       conn,
		subject:    subject,
		maxRetries: maxRetries,
		baseWait:   50 * time.Millisecond,
	}
}

func (p *NATSPublisher) Publish(ctx context.Context, event *FanoutEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal fan-out event: %w", err)
	}

	wait := p.baseWait
	var lastErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if lastErr = p.conn.Publish(p.subject, data); lastErr == nil {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		if wait < time.Second {
			wait *= 2
		}
	}

	return fmt.Errorf("fan-out publish after %d attempts: %w", p.maxRetries+1, lastErr)
}
