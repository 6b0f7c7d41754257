package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/commerce-mesh/contracts"
	"github.com/viralforge/commerce-mesh/platform/outbox"
	"github.com/viralforge/commerce-mesh/services/commerce/catalog-service/internal/domain"
	"github.com/viralforge/commerce-mesh/services/commerce/catalog-service/internal/ports"
)

type Config struct {
	ServiceName string
}

type Dependencies struct {
	Config Config
	Items  ports.ItemRepository
	Logger *slog.Logger
	Now    func() time.Time
}

type Service struct {
	cfg    Config
	items  ports.ItemRepository
	logger *slog.Logger
	nowFn  func() time.Time
}

func NewService(deps Dependencies) *Service {
	cfg := deps.Config
	if cfg.ServiceName == "" {
		cfg.ServiceName = "catalog-service"
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	nowFn := deps.Now
	if nowFn == nil {
		nowFn = func() time.Time { return time.Now().UTC() }
	}
	return &Service{cfg: cfg, items: deps.Items, logger: logger, nowFn: nowFn}
}

type CreateItemInput struct {
	ItemID   string `json:"item_id"`
	SellerID string `json:"seller_id"`
	Title    string `json:"title"`
	Price    int64  `json:"price"`
	Quantity int    `json:"quantity"`
	TraceID  string `json:"-"`
}

// UpdateItemInput changes the given fields. With ExpectedVersion set the update only lands
// on that version; without it the service applies the patch to whatever is current.
type UpdateItemInput struct {
	Title           *string `json:"title,omitempty"`
	Price           *int64  `json:"price,omitempty"`
	Quantity        *int    `json:"quantity,omitempty"`
	ExpectedVersion *int64  `json:"expected_version,omitempty"`
	TraceID         string  `json:"-"`
}

func (s *Service) CreateItem(ctx context.Context, in CreateItemInput) (domain.Item, error) {
	id := strings.TrimSpace(in.ItemID)
	if id == "" {
		id = uuid.NewString()
	}
	item, err := domain.NewItem(id, in.SellerID, in.Title, in.Price, in.Quantity, s.nowFn())
	if err != nil {
		return domain.Item{}, err
	}
	event, err := s.itemEvent(contracts.TopicEntityCreated, item, in.TraceID)
	if err != nil {
		return domain.Item{}, err
	}
	if err := s.items.Create(ctx, item, event); err != nil {
		return domain.Item{}, err
	}
	s.logger.InfoContext(ctx, "item created",
		"module", "application.items",
		"layer", "application",
		"operation", "create_item",
		"outcome", "success",
		"entity_id", item.ID,
		"version", item.Version,
		"event_id", event.OutboxID,
	)
	return item, nil
}

const updateAttempts = 3

func (s *Service) UpdateItem(ctx context.Context, id string, in UpdateItemInput) (domain.Item, error) {
	patch := domain.Patch{Title: in.Title, Price: in.Price, Quantity: in.Quantity}
	var lastErr error
	for attempt := 0; attempt < updateAttempts; attempt++ {
		current, err := s.items.Get(ctx, id)
		if err != nil {
			return domain.Item{}, err
		}
		if in.ExpectedVersion != nil && *in.ExpectedVersion != current.Version {
			return domain.Item{}, fmt.Errorf("%w: item %s is at v%d, expected v%d", domain.ErrConflict, id, current.Version, *in.ExpectedVersion)
		}
		next, err := current.Apply(patch, s.nowFn())
		if err != nil {
			return domain.Item{}, err
		}
		event, err := s.itemEvent(contracts.TopicEntityUpdated, next, in.TraceID)
		if err != nil {
			return domain.Item{}, err
		}
		err = s.items.Update(ctx, next, current.Version, event)
		if err == nil {
			s.logger.InfoContext(ctx, "item updated",
				"module", "application.items",
				"layer", "application",
				"operation", "update_item",
				"outcome", "success",
				"entity_id", next.ID,
				"version", next.Version,
				"event_id", event.OutboxID,
			)
			return next, nil
		}
		if !errors.Is(err, domain.ErrConflict) || in.ExpectedVersion != nil {
			return domain.Item{}, err
		}
		lastErr = err
	}
	return domain.Item{}, fmt.Errorf("item %s changed concurrently: %w", id, lastErr)
}

func (s *Service) GetItem(ctx context.Context, id string) (domain.Item, error) {
	if strings.TrimSpace(id) == "" {
		return domain.Item{}, fmt.Errorf("%w: item id is required", domain.ErrInvalidInput)
	}
	return s.items.Get(ctx, id)
}

func (s *Service) ListItems(ctx context.Context, sellerID string, limit int) ([]domain.Item, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.items.List(ctx, strings.TrimSpace(sellerID), limit)
}

// itemEvent carries the full item state so replicas can be rebuilt from any single event.
func (s *Service) itemEvent(topic contracts.Topic, item domain.Item, traceID string) (outbox.Record, error) {
	env, err := contracts.NewEnvelope(contracts.EnvelopeParams{
		Topic:         topic,
		SourceService: s.cfg.ServiceName,
		TraceID:       traceID,
		PartitionKey:  item.ID,
		EntityID:      item.ID,
		Version:       item.Version,
		OccurredAt:    item.UpdatedAt,
		Data: contracts.ItemPayload{
			ItemID:   item.ID,
			Title:    item.Title,
			Price:    item.Price,
			Quantity: item.Quantity,
			SellerID: item.SellerID,
		},
	})
	if err != nil {
		return outbox.Record{}, err
	}
	return outbox.NewRecord(env)
}
