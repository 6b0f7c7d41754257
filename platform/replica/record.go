// Package replica keeps versioned local copies of entities owned by other services and
// applies change events to them under a strict version gate.
package replica

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound = errors.New("replica_not_found")
	// ErrVersionGap is returned when an entity has too many parked successors waiting for a
	// missing predecessor. The event needs manual reconciliation.
	ErrVersionGap = errors.New("replica_version_gap")
	// ErrVersionConflict means a concurrent writer moved the replica while this apply was in
	// flight. Retrying re-evaluates the gate.
	ErrVersionConflict = errors.New("replica_version_conflict")
	ErrInvalidChange   = errors.New("replica_invalid_change")
)

type Record struct {
	Kind       string
	ID         string
	Version    int64
	Attributes map[string]any
	UpdatedAt  time.Time
}

// Decode copies the attributes into a typed value.
func (r Record) Decode(v any) error {
	raw, err := json.Marshal(r.Attributes)
	if err != nil {
		return fmt.Errorf("encode %s %s attributes: %w", r.Kind, r.ID, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode %s %s attributes: %w", r.Kind, r.ID, err)
	}
	return nil
}

// Change is one owner mutation asserted at Version.
type Change struct {
	Kind       string
	ID         string
	Version    int64
	Creates    bool
	Attributes map[string]any
	EventID    string
	Topic      string
}

func (c Change) validate() error {
	if c.Kind == "" || c.ID == "" || c.Version < 0 {
		return fmt.Errorf("%w: kind=%q id=%q version=%d", ErrInvalidChange, c.Kind, c.ID, c.Version)
	}
	return nil
}

// ParkedChange is a change that arrived ahead of its predecessor.
type ParkedChange struct {
	Change
	ParkedAt time.Time
}

type Status int

const (
	StatusCreated Status = iota + 1
	StatusApplied
	StatusDuplicate
	StatusParked
)

func (s Status) String() string {
	switch s {
	case StatusCreated:
		return "created"
	case StatusApplied:
		return "applied"
	case StatusDuplicate:
		return "duplicate"
	case StatusParked:
		return "parked"
	default:
		return "unknown"
	}
}

// Outcome reports what one Apply did. Record is the replica right after the change itself;
// Drained lists parked successors applied in the same call, in version order.
type Outcome struct {
	Status  Status
	Record  Record
	Drained []Record
}

// Latest is the replica state once the call returned.
func (o Outcome) Latest() Record {
	if n := len(o.Drained); n > 0 {
		return o.Drained[n-1]
	}
	return o.Record
}

// Changed reports whether the replica moved forward.
func (o Outcome) Changed() bool {
	return o.Status == StatusCreated || o.Status == StatusApplied
}

// DecodeAttributes parses a JSON object keeping numbers exact.
func DecodeAttributes(raw []byte) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	attrs := map[string]any{}
	if err := dec.Decode(&attrs); err != nil {
		return nil, err
	}
	return attrs, nil
}

type step int

const (
	stepCreate step = iota
	stepApply
	stepDuplicate
	stepPark
)

func classify(local *Record, c Change) step {
	if local == nil {
		if c.Version == 0 || c.Creates {
			return stepCreate
		}
		return stepPark
	}
	switch {
	case c.Version <= local.Version:
		return stepDuplicate
	case c.Version == local.Version+1:
		return stepApply
	default:
		return stepPark
	}
}

func merge(base, patch map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(patch))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range patch {
		out[k] = v
	}
	return out
}
