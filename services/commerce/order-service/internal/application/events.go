package application

import (
	"github.com/viralforge/commerce-mesh/contracts"
	"github.com/viralforge/commerce-mesh/platform/outbox"
	"github.com/viralforge/commerce-mesh/services/commerce/order-service/internal/domain"
)

func orderPayload(o domain.Order) contracts.OrderPayload {
	lines := make([]contracts.OrderLine, 0, len(o.Items))
	for _, l := range o.Items {
		lines = append(lines, contracts.OrderLine{EntityID: l.EntityID, Quantity: l.Quantity, UnitPrice: l.UnitPrice})
	}
	return contracts.OrderPayload{
		OrderID:   o.ID,
		UserID:    o.UserID,
		Status:    string(o.Status),
		Items:     lines,
		Total:     o.Total,
		ExpiresAt: o.ExpiresAt,
	}
}

func topicFor(o domain.Order) contracts.Topic {
	switch {
	case o.Version == 0:
		return contracts.TopicOrderCreated
	case o.Status == domain.StatusCancelled:
		return contracts.TopicOrderCancelled
	default:
		return contracts.TopicOrderUpdated
	}
}

func (s *Service) orderEvent(o domain.Order, traceID string) (outbox.Record, error) {
	env, err := contracts.NewEnvelope(contracts.EnvelopeParams{
		Topic:         topicFor(o),
		SourceService: s.cfg.ServiceName,
		TraceID:       traceID,
		PartitionKey:  o.ID,
		EntityID:      o.ID,
		Version:       o.Version,
		Data:          orderPayload(o),
		OccurredAt:    o.UpdatedAt,
	})
	if err != nil {
		return outbox.Record{}, err
	}
	return outbox.NewRecord(env)
}
