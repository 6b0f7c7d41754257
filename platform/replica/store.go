package replica

import (
	"context"
	"time"
)

const DefaultMaxParked = 64

// Store applies changes atomically per entity. An interrupted Apply leaves the change not
// applied.
type Store interface {
	Apply(ctx context.Context, c Change) (Outcome, error)
	Get(ctx context.Context, kind, id string) (Record, error)
	List(ctx context.Context, kind string) ([]Record, error)
	// Parked returns parked changes whose ParkedAt is not after olderThan.
	Parked(ctx context.Context, olderThan time.Time) ([]ParkedChange, error)
}
