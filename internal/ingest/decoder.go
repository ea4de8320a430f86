package ingest

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind tags the known telemetry payload shapes. The subtopic decides
// the kind; payloads on unrecognized subtopics decode as KindRaw.
type Kind int

const (
	KindRaw Kind = iota
	KindState
	KindConnected
	KindLog
	KindImage
)

func (k Kind) String() string {
	switch k {
	case KindState:
		return "state"
	case KindConnected:
		return "connected"
	case KindLog:
		return "log"
	case KindImage:
		return "image"
	default:
		return "raw"
	}
}

const (
	SubtopicState     = "state"
	SubtopicConnected = "connected"
	SubtopicLogs      = "logs"
	SubtopicImage     = "camera/annotated"
)

// Message is one decoded telemetry payload. Typed fields are filled for
// the kind they belong to and empty otherwise; Fields keeps the whole
// document for storage.
type Message struct {
	Kind      Kind
	Timestamp time.Time
	RunUUID   string

	State     string // KindState
	Connected string // KindConnected
	LogLine   string // KindLog
	ImageData string // KindImage, base64 with optional data-URI prefix

	Fields map[string]any
	Raw    json.RawMessage
}

func kindForSubtopic(subtopic string) Kind {
	switch subtopic {
	case SubtopicState:
		return KindState
	case SubtopicConnected:
		return KindConnected
	case SubtopicLogs:
		return KindLog
	case SubtopicImage:
		return KindImage
	default:
		return KindRaw
	}
}

// Decode parses a message body. The timestamp comes from a numeric
// "timestamp" field (seconds since epoch, fractional allowed) and falls
// back to the arrival time; run_uuid defaults to "". Non-JSON bodies
// are an error; the session logs and drops them.
func Decode(subtopic string, payload []byte, arrival time.Time) (*Message, error) {
	var fields map[string]any
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}

	msg := &Message{
		Kind:      kindForSubtopic(subtopic),
		Timestamp: arrival.UTC(),
		Fields:    fields,
		Raw:       json.RawMessage(payload),
	}

	if ts, ok := fields["timestamp"].(float64); ok {
		sec := int64(ts)
		nsec := int64((ts - float64(sec)) * float64(time.Second))
		msg.Timestamp = time.Unix(sec, nsec).UTC()
	}
	if run, ok := fields["run_uuid"].(string); ok {
		msg.RunUUID = run
	}

	switch msg.Kind {
	case KindState:
		msg.State, _ = fields["state"].(string)
	case KindConnected:
		// Kit versions have carried the value in either field.
		if v, ok := fields["connected"].(string); ok {
			msg.Connected = v
		} else if v, ok := fields["state"].(string); ok {
			msg.Connected = v
		}
	case KindLog:
		msg.LogLine, _ = fields["message"].(string)
	case KindImage:
		msg.ImageData, _ = fields["data"].(string)
	}

	return msg, nil
}
