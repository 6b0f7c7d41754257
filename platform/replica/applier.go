package replica

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/viralforge/commerce-mesh/contracts"
	"github.com/viralforge/commerce-mesh/platform/bus"
)

// ChangeHandler observes every version a replica moves to, including drained successors.
type ChangeHandler func(ctx context.Context, rec Record) error

type Stats struct {
	Created    int64
	Applied    int64
	Duplicates int64
	Parked     int64
	Drained    int64
}

// Applier turns envelopes into replica changes for one entity kind.
type Applier struct {
	kind   string
	store  Store
	logger *slog.Logger

	mu       sync.RWMutex
	handlers []ChangeHandler

	created    atomic.Int64
	applied    atomic.Int64
	duplicates atomic.Int64
	parked     atomic.Int64
	drained    atomic.Int64
}

func NewApplier(kind string, store Store, logger *slog.Logger) *Applier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Applier{kind: kind, store: store, logger: logger}
}

func (a *Applier) Kind() string { return a.kind }

func (a *Applier) Store() Store { return a.store }

// OnChanged registers a hook run after each forward move. A hook error makes the delivery
// retryable; the retry lands as a duplicate and runs the hooks again for the current record,
// so hooks must be idempotent.
func (a *Applier) OnChanged(handler ChangeHandler) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.handlers = append(a.handlers, handler)
}

func (a *Applier) Stats() Stats {
	return Stats{
		Created:    a.created.Load(),
		Applied:    a.applied.Load(),
		Duplicates: a.duplicates.Load(),
		Parked:     a.parked.Load(),
		Drained:    a.drained.Load(),
	}
}

// ApplyEnvelope applies env.Data as the attribute set of entity env.EntityID at env.Version.
func (a *Applier) ApplyEnvelope(ctx context.Context, env contracts.EventEnvelope) (Outcome, error) {
	spec, ok := contracts.Lookup(env.EventType)
	if !ok {
		return Outcome{}, fmt.Errorf("%w: %s", contracts.ErrUnsupportedTopic, env.EventType)
	}
	attrs, err := DecodeAttributes(env.Data)
	if err != nil {
		return Outcome{}, fmt.Errorf("%w: %v", contracts.ErrInvalidEnvelope, err)
	}
	return a.Apply(ctx, Change{
		Kind:       a.kind,
		ID:         env.EntityID,
		Version:    env.Version,
		Creates:    spec.Creates,
		Attributes: attrs,
		EventID:    env.EventID,
		Topic:      string(env.EventType),
	})
}

func (a *Applier) Apply(ctx context.Context, c Change) (Outcome, error) {
	out, err := a.store.Apply(ctx, c)
	if err != nil {
		if errors.Is(err, ErrVersionGap) {
			a.logger.ErrorContext(ctx, "replica gap backlog full",
				"module", "replica.applier",
				"layer", "platform",
				"operation", "apply",
				"outcome", "failure",
				"kind", c.Kind,
				"entity_id", c.ID,
				"version", c.Version,
				"event_id", c.EventID,
			)
		}
		return Outcome{}, err
	}

	switch out.Status {
	case StatusCreated:
		a.created.Add(1)
	case StatusApplied:
		a.applied.Add(1)
	case StatusDuplicate:
		a.duplicates.Add(1)
		a.logger.DebugContext(ctx, "replica change already applied",
			"module", "replica.applier", "layer", "platform", "operation", "apply",
			"outcome", "duplicate", "kind", c.Kind, "entity_id", c.ID,
			"version", c.Version, "local_version", out.Record.Version,
		)
		// Hooks rerun for the current record, so a hook that failed after a drain still
		// catches up to the latest version.
		return out, a.runHooks(ctx, []Record{out.Record})
	case StatusParked:
		a.parked.Add(1)
		a.logger.WarnContext(ctx, "replica version gap; change parked",
			"module", "replica.applier",
			"layer", "platform",
			"operation", "apply",
			"outcome", "parked",
			"kind", c.Kind,
			"entity_id", c.ID,
			"version", c.Version,
			"local_version", out.Record.Version,
			"event_id", c.EventID,
		)
		return out, nil
	}
	a.drained.Add(int64(len(out.Drained)))
	return out, a.runHooks(ctx, append([]Record{out.Record}, out.Drained...))
}

func (a *Applier) runHooks(ctx context.Context, moved []Record) error {
	a.mu.RLock()
	handlers := append([]ChangeHandler(nil), a.handlers...)
	a.mu.RUnlock()
	for _, rec := range moved {
		for _, h := range handlers {
			if err := h(ctx, rec); err != nil {
				return fmt.Errorf("replica change hook: %w", err)
			}
		}
	}
	return nil
}

// Handler adapts the applier to a bus subscription.
func (a *Applier) Handler() bus.Handler {
	return func(ctx context.Context, msg bus.Message) bus.Result {
		env, err := contracts.DecodeEnvelope(msg.Value)
		if err != nil {
			return bus.Fatal(err)
		}
		_, err = a.ApplyEnvelope(ctx, env)
		return bus.FromError(err, ErrVersionGap, ErrInvalidChange, contracts.ErrInvalidEnvelope, contracts.ErrUnsupportedTopic)
	}
}
