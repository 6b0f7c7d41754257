package contracts

import (
	"errors"
	"testing"
)

func TestNewEnvelopeFillsContractFields(t *testing.T) {
	env, err := NewEnvelope(EnvelopeParams{
		Topic:         TopicOrderCreated,
		SourceService: "order-service",
		PartitionKey:  "o-1",
		EntityID:      "o-1",
		Version:       1,
		Data:          OrderPayload{OrderID: "o-1", Status: "created"},
	})
	if err != nil {
		t.Fatalf("new envelope: %v", err)
	}
	if env.EventID == "" || env.TraceID == "" || env.SchemaVersion != SchemaVersion {
		t.Fatalf("missing generated fields: %+v", env)
	}
	if env.PartitionKeyPath != "data.order_id" {
		t.Fatalf("unexpected partition key path %q", env.PartitionKeyPath)
	}
	raw, err := env.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	back, err := DecodeEnvelope(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if back.EventID != env.EventID || back.Version != 1 {
		t.Fatalf("unexpected decoded envelope %+v", back)
	}
}

func TestEnvelopeValidation(t *testing.T) {
	cases := []struct {
		name   string
		params EnvelopeParams
		want   error
	}{
		{
			name:   "unknown topic",
			params: EnvelopeParams{Topic: "user-deleted", SourceService: "s", PartitionKey: "k", EntityID: "k", Data: map[string]string{}},
			want:   ErrUnsupportedTopic,
		},
		{
			name:   "key does not match payload",
			params: EnvelopeParams{Topic: TopicEntityUpdated, SourceService: "s", PartitionKey: "item-2", EntityID: "item-1", Data: ItemPayload{ItemID: "item-1"}},
			want:   ErrInvalidEnvelope,
		},
		{
			name:   "negative version",
			params: EnvelopeParams{Topic: TopicEntityUpdated, SourceService: "s", PartitionKey: "item-1", EntityID: "item-1", Version: -1, Data: ItemPayload{ItemID: "item-1"}},
			want:   ErrInvalidEnvelope,
		},
		{
			name:   "missing source",
			params: EnvelopeParams{Topic: TopicEntityUpdated, PartitionKey: "item-1", EntityID: "item-1", Data: ItemPayload{ItemID: "item-1"}},
			want:   ErrInvalidEnvelope,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewEnvelope(tc.params); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestDecodeEnvelopeRejectsGarbage(t *testing.T) {
	if _, err := DecodeEnvelope([]byte("{")); !errors.Is(err, ErrInvalidEnvelope) {
		t.Fatalf("expected ErrInvalidEnvelope, got %v", err)
	}
}

func TestTopicRegistry(t *testing.T) {
	if len(Topics()) != 7 {
		t.Fatalf("expected 7 topics, got %d", len(Topics()))
	}
	spec, ok := Lookup(TopicEntityCreated)
	if !ok || !spec.Creates {
		t.Fatalf("entity-created must create replicas")
	}
	if spec, _ := Lookup(TopicEntityUpdated); spec.Creates {
		t.Fatalf("entity-updated must not create replicas")
	}
	if DLQTopic(TopicOrderCreated) != "order-created.dlq" {
		t.Fatalf("unexpected dlq topic %q", DLQTopic(TopicOrderCreated))
	}
}
