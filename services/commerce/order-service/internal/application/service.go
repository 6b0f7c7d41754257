package application

import (
	"log/slog"
	"time"

	"github.com/viralforge/commerce-mesh/services/commerce/order-service/internal/ports"
)

type Config struct {
	ServiceName    string
	ReservationTTL time.Duration
	// ConflictRetries bounds how often a status change is re-read after losing a version race.
	ConflictRetries int
}

type Dependencies struct {
	Config Config
	Items  ports.ItemReader
	Orders ports.OrderRepository
	Logger *slog.Logger
	Now    func() time.Time
}

type Service struct {
	cfg        Config
	items      ports.ItemReader
	orders     ports.OrderRepository
	accountant *Accountant
	logger     *slog.Logger
	nowFn      func() time.Time
}

func NewService(deps Dependencies) *Service {
	cfg := deps.Config
	if cfg.ServiceName == "" {
		cfg.ServiceName = "order-service"
	}
	if cfg.ReservationTTL <= 0 {
		cfg.ReservationTTL = 15 * time.Minute
	}
	if cfg.ConflictRetries <= 0 {
		cfg.ConflictRetries = 3
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	nowFn := deps.Now
	if nowFn == nil {
		nowFn = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		cfg:        cfg,
		items:      deps.Items,
		orders:     deps.Orders,
		accountant: NewAccountant(deps.Items, deps.Orders),
		logger:     logger,
		nowFn:      nowFn,
	}
}

func (s *Service) Accountant() *Accountant { return s.accountant }
