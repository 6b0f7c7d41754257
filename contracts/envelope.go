package contracts

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvalidEnvelope  = errors.New("invalid_event_envelope")
	ErrUnsupportedTopic = errors.New("unsupported_topic")
)

// EventEnvelope is the JSON document carried as the value of every bus message.
type EventEnvelope struct {
	EventID          string          `json:"event_id"`
	EventType        Topic           `json:"event_type"`
	OccurredAt       time.Time       `json:"occurred_at"`
	PartitionKeyPath string          `json:"partition_key_path"`
	PartitionKey     string          `json:"partition_key"`
	SourceService    string          `json:"source_service"`
	TraceID          string          `json:"trace_id"`
	SchemaVersion    string          `json:"schema_version"`
	EntityID         string          `json:"entity_id"`
	Version          int64           `json:"version"`
	Data             json.RawMessage `json:"data"`
}

type EnvelopeParams struct {
	Topic         Topic
	SourceService string
	TraceID       string
	PartitionKey  string
	EntityID      string
	Version       int64
	Data          any
	OccurredAt    time.Time
}

func NewEnvelope(p EnvelopeParams) (EventEnvelope, error) {
	spec, ok := Lookup(p.Topic)
	if !ok {
		return EventEnvelope{}, fmt.Errorf("%w: %s", ErrUnsupportedTopic, p.Topic)
	}
	raw, err := json.Marshal(p.Data)
	if err != nil {
		return EventEnvelope{}, fmt.Errorf("marshal %s data: %w", p.Topic, err)
	}
	traceID := strings.TrimSpace(p.TraceID)
	if traceID == "" {
		traceID = uuid.NewString()
	}
	occurredAt := p.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now()
	}
	env := EventEnvelope{
		EventID:          uuid.NewString(),
		EventType:        p.Topic,
		OccurredAt:       occurredAt.UTC(),
		PartitionKeyPath: spec.PartitionKeyPath,
		PartitionKey:     p.PartitionKey,
		SourceService:    p.SourceService,
		TraceID:          traceID,
		SchemaVersion:    SchemaVersion,
		EntityID:         p.EntityID,
		Version:          p.Version,
		Data:             raw,
	}
	if err := env.Validate(); err != nil {
		return EventEnvelope{}, err
	}
	return env, nil
}

func DecodeEnvelope(raw []byte) (EventEnvelope, error) {
	var env EventEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return EventEnvelope{}, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	if err := env.Validate(); err != nil {
		return EventEnvelope{}, err
	}
	return env, nil
}

func (e EventEnvelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

func (e EventEnvelope) DecodeData(v any) error {
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("%w: %s data: %v", ErrInvalidEnvelope, e.EventType, err)
	}
	return nil
}

func (e EventEnvelope) Validate() error {
	if strings.TrimSpace(e.EventID) == "" || e.EventType == "" || e.OccurredAt.IsZero() {
		return ErrInvalidEnvelope
	}
	if strings.TrimSpace(e.SourceService) == "" || strings.TrimSpace(e.TraceID) == "" || strings.TrimSpace(e.SchemaVersion) == "" {
		return ErrInvalidEnvelope
	}
	if strings.TrimSpace(e.PartitionKeyPath) == "" || strings.TrimSpace(e.PartitionKey) == "" {
		return ErrInvalidEnvelope
	}
	if strings.TrimSpace(e.EntityID) == "" || e.Version < 0 {
		return ErrInvalidEnvelope
	}
	if len(e.Data) == 0 {
		return ErrInvalidEnvelope
	}
	if !IsKnownTopic(e.EventType) {
		return fmt.Errorf("%w: %s", ErrUnsupportedTopic, e.EventType)
	}
	return validatePartitionKeyInvariant(e)
}

func validatePartitionKeyInvariant(e EventEnvelope) error {
	if !strings.HasPrefix(e.PartitionKeyPath, "data.") {
		return ErrInvalidEnvelope
	}
	field := strings.TrimPrefix(e.PartitionKeyPath, "data.")
	var payload map[string]any
	if err := json.Unmarshal(e.Data, &payload); err != nil {
		return ErrInvalidEnvelope
	}
	v, ok := payload[field]
	if !ok || fmt.Sprint(v) != e.PartitionKey {
		return ErrInvalidEnvelope
	}
	return nil
}

// DLQRecord wraps a message that could not be handled.
type DLQRecord struct {
	OriginalTopic string          `json:"original_topic"`
	ConsumerGroup string          `json:"consumer_group"`
	Partition     int             `json:"partition"`
	Offset        int64           `json:"offset"`
	Key           string          `json:"key,omitempty"`
	Value         json.RawMessage `json:"value"`
	ErrorSummary  string          `json:"error_summary"`
	Fatal         bool            `json:"fatal"`
	RetryCount    int             `json:"retry_count"`
	FirstSeenAt   time.Time       `json:"first_seen_at"`
	LastErrorAt   time.Time       `json:"last_error_at"`
}
