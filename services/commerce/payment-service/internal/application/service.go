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
	"github.com/viralforge/commerce-mesh/services/commerce/payment-service/internal/domain"
	"github.com/viralforge/commerce-mesh/services/commerce/payment-service/internal/ports"
)

type Config struct {
	ServiceName string
}

type Dependencies struct {
	Config   Config
	Orders   ports.OrderReader
	Payments ports.PaymentRepository
	Logger   *slog.Logger
	Now      func() time.Time
}

type Service struct {
	cfg      Config
	orders   ports.OrderReader
	payments ports.PaymentRepository
	logger   *slog.Logger
	nowFn    func() time.Time
}

func NewService(deps Dependencies) *Service {
	cfg := deps.Config
	if cfg.ServiceName == "" {
		cfg.ServiceName = "payment-service"
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	nowFn := deps.Now
	if nowFn == nil {
		nowFn = func() time.Time { return time.Now().UTC() }
	}
	return &Service{cfg: cfg, orders: deps.Orders, payments: deps.Payments, logger: logger, nowFn: nowFn}
}

type CreatePaymentInput struct {
	OrderID string `json:"order_id"`
	TraceID string `json:"-"`
}

// CreatePayment settles an order the replica shows as awaiting payment. An order is paid at
// most once; repeating the call returns the existing payment.
func (s *Service) CreatePayment(ctx context.Context, in CreatePaymentInput) (domain.Payment, error) {
	orderID := strings.TrimSpace(in.OrderID)
	if orderID == "" {
		return domain.Payment{}, fmt.Errorf("%w: order_id is required", domain.ErrInvalidInput)
	}
	if existing, err := s.payments.GetByOrder(ctx, orderID); err == nil {
		return existing, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return domain.Payment{}, err
	}

	order, err := s.orders.Order(ctx, orderID)
	if err != nil {
		return domain.Payment{}, err
	}
	if order.Status != domain.OrderAwaitingPayment {
		return domain.Payment{}, fmt.Errorf("%w: order %s is %s at v%d", domain.ErrOrderNotPayable, orderID, order.Status, order.Version)
	}

	payment := domain.Payment{
		ID:        uuid.NewString(),
		OrderID:   order.ID,
		UserID:    order.UserID,
		Amount:    order.Total,
		ChargeID:  "ch_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		Status:    domain.PaymentSucceeded,
		CreatedAt: s.nowFn(),
	}
	env, err := contracts.NewEnvelope(contracts.EnvelopeParams{
		Topic:         contracts.TopicPaymentCreated,
		SourceService: s.cfg.ServiceName,
		TraceID:       in.TraceID,
		PartitionKey:  payment.OrderID,
		EntityID:      payment.ID,
		Version:       0,
		OccurredAt:    payment.CreatedAt,
		Data: contracts.PaymentCreatedPayload{
			PaymentID: payment.ID,
			OrderID:   payment.OrderID,
			ChargeID:  payment.ChargeID,
			Amount:    payment.Amount,
		},
	})
	if err != nil {
		return domain.Payment{}, err
	}
	event, err := outbox.NewRecord(env)
	if err != nil {
		return domain.Payment{}, err
	}
	if err := s.payments.Create(ctx, payment, event); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return s.payments.GetByOrder(ctx, orderID)
		}
		return domain.Payment{}, err
	}
	s.logger.InfoContext(ctx, "payment created",
		"module", "application.payments",
		"layer", "application",
		"operation", "create_payment",
		"outcome", "success",
		"payment_id", payment.ID,
		"order_id", payment.OrderID,
		"amount", payment.Amount,
		"event_id", env.EventID,
	)
	return payment, nil
}

func (s *Service) GetPayment(ctx context.Context, id string) (domain.Payment, error) {
	return s.payments.Get(ctx, id)
}

func (s *Service) PaymentForOrder(ctx context.Context, orderID string) (domain.Payment, error) {
	return s.payments.GetByOrder(ctx, orderID)
}
