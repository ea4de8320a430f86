package ingest

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/WillB97/kit-web-ui/internal/data"
	"github.com/WillB97/kit-web-ui/internal/metrics"
	"github.com/WillB97/kit-web-ui/internal/registry"
)

// EventStore is the append-only sink for decoded telemetry.
type EventStore interface {
	Insert(ctx context.Context, e *data.TelemetryEvent) error
}

// EventPublisher fans stored events out to live consumers.
type EventPublisher interface {
	Publish(ctx context.Context, e *FanoutEvent) error
}

// FanoutEvent is the shape republished to NATS after a successful store.
type FanoutEvent struct {
	Tenant   string          `json:"tenant,omitempty"`
	Subtopic string          `json:"subtopic"`
	RunUUID  string          `json:"run_uuid,omitempty"`
	Date     time.Time       `json:"date"`
	Payload  json.RawMessage `json:"payload"`
}

// Pipeline is the per-message path: route, decode, store, fan out.
// Handle is called strictly sequentially by the session's consume loop,
// so stored arrival order matches transport order.
type Pipeline struct {
	Snapshots *registry.Holder
	Store     EventStore
	Publisher EventPublisher // optional

	// StoreTimeout bounds each insert; zero means 5s.
	StoreTimeout time.Duration
}

func (p *Pipeline) storeTimeout() time.Duration {
	if p.StoreTimeout > 0 {
		return p.StoreTimeout
	}
	return 5 * time.Second
}

// Handle processes one inbound message. Per-message failures are
// logged and counted, never returned: a malformed payload or a failed
// insert must not take the session down.
func (p *Pipeline) Handle(topic string, payload []byte, arrival time.Time) {
	tenant, subtopic := p.Snapshots.Current().Resolve(topic)

	msg, err := Decode(subtopic, payload, arrival)
	if err != nil {
		log.Printf("[WARN] Ingest: dropping undecodable message on %s: %v", topic, err)
		metrics.DecodeFailuresTotal.Inc()
		metrics.MessagesTotal.WithLabelValues(kindForSubtopic(subtopic).String(), "decode_error").Inc()
		return
	}

	evt := &data.TelemetryEvent{
		Date:     msg.Timestamp,
		Subtopic: subtopic,
		Payload:  msg.Raw,
		RunUUID:  msg.RunUUID,
	}
	if tenant != nil {
		id := tenant.ID
		evt.ConfigID = &id
	} else {
		metrics.UnownedTotal.Inc()
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.storeTimeout())
	defer cancel()
	if err := p.Store.Insert(ctx, evt); err != nil {
		log.Printf("[ERROR] Ingest: store insert failed for %s, message dropped: %v", topic, err)
		metrics.StoreErrorsTotal.Inc()
		return
	}
	metrics.MessagesTotal.WithLabelValues(msg.Kind.String(), "stored").Inc()

	if p.Publisher != nil {
		fe := &FanoutEvent{
			Subtopic: subtopic,
			RunUUID:  msg.RunUUID,
			Date:     msg.Timestamp,
			Payload:  msg.Raw,
		}
		if tenant != nil {
			fe.Tenant = tenant.Name
		}
		if err := p.Publisher.Publish(ctx, fe); err != nil {
			// Fan-out is best-effort; the event is already durable.
			log.Printf("[WARN] Ingest: fan-out publish failed: %v", err)
		}
	}
}
