package replica

import (
	"context"
	"sort"
	"sync"
	"time"
)

type entityKey struct {
	kind string
	id   string
}

type MemoryStore struct {
	mu        sync.Mutex
	maxParked int
	nowFn     func() time.Time
	records   map[entityKey]Record
	parked    map[entityKey]map[int64]ParkedChange
}

func NewMemoryStore(maxParked int) *MemoryStore {
	if maxParked <= 0 {
		maxParked = DefaultMaxParked
	}
	return &MemoryStore{
		maxParked: maxParked,
		nowFn:     func() time.Time { return time.Now().UTC() },
		records:   map[entityKey]Record{},
		parked:    map[entityKey]map[int64]ParkedChange{},
	}
}

func (s *MemoryStore) Apply(_ context.Context, c Change) (Outcome, error) {
	if err := c.validate(); err != nil {
		return Outcome{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := entityKey{kind: c.Kind, id: c.ID}
	var local *Record
	if rec, ok := s.records[key]; ok {
		local = &rec
	}
	now := s.nowFn()

	var out Outcome
	switch classify(local, c) {
	case stepDuplicate:
		return Outcome{Status: StatusDuplicate, Record: *local}, nil
	case stepPark:
		waiting := s.parked[key]
		if _, exists := waiting[c.Version]; exists {
			return Outcome{Status: StatusParked, Record: derefOrEmpty(local, c)}, nil
		}
		if len(waiting) >= s.maxParked {
			return Outcome{}, ErrVersionGap
		}
		if waiting == nil {
			waiting = map[int64]ParkedChange{}
			s.parked[key] = waiting
		}
		waiting[c.Version] = ParkedChange{Change: c, ParkedAt: now}
		return Outcome{Status: StatusParked, Record: derefOrEmpty(local, c)}, nil
	case stepCreate:
		rec := Record{Kind: c.Kind, ID: c.ID, Version: c.Version, Attributes: merge(nil, c.Attributes), UpdatedAt: now}
		s.records[key] = rec
		out = Outcome{Status: StatusCreated, Record: rec}
	case stepApply:
		rec := Record{Kind: c.Kind, ID: c.ID, Version: c.Version, Attributes: merge(local.Attributes, c.Attributes), UpdatedAt: now}
		s.records[key] = rec
		out = Outcome{Status: StatusApplied, Record: rec}
	}

	out.Drained = s.drainLocked(key, now)
	return out, nil
}

func (s *MemoryStore) drainLocked(key entityKey, now time.Time) []Record {
	waiting := s.parked[key]
	if len(waiting) == 0 {
		return nil
	}
	var drained []Record
	for {
		cur := s.records[key]
		for v := range waiting {
			if v <= cur.Version {
				delete(waiting, v)
			}
		}
		next, ok := waiting[cur.Version+1]
		if !ok {
			break
		}
		delete(waiting, next.Version)
		rec := Record{Kind: cur.Kind, ID: cur.ID, Version: next.Version, Attributes: merge(cur.Attributes, next.Attributes), UpdatedAt: now}
		s.records[key] = rec
		drained = append(drained, rec)
	}
	if len(waiting) == 0 {
		delete(s.parked, key)
	}
	return drained
}

func (s *MemoryStore) Get(_ context.Context, kind, id string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[entityKey{kind: kind, id: id}]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func (s *MemoryStore) List(_ context.Context, kind string) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, 0)
	for k, rec := range s.records {
		if k.kind == kind {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) Parked(_ context.Context, olderThan time.Time) ([]ParkedChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ParkedChange, 0)
	for _, waiting := range s.parked {
		for _, p := range waiting {
			if !p.ParkedAt.After(olderThan) {
				out = append(out, p)
			}
		}
	}
	sortParked(out)
	return out, nil
}

func derefOrEmpty(local *Record, c Change) Record {
	if local != nil {
		return *local
	}
	return Record{Kind: c.Kind, ID: c.ID, Version: -1}
}

func sortParked(items []ParkedChange) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].Kind != items[j].Kind {
			return items[i].Kind < items[j].Kind
		}
		if items[i].ID != items[j].ID {
			return items[i].ID < items[j].ID
		}
		return items[i].Version < items[j].Version
	})
}
