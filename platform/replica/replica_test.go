package replica

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/viralforge/commerce-mesh/contracts"
	"github.com/viralforge/commerce-mesh/platform/bus"
)

type itemAttrs struct {
	ItemID   string `json:"item_id"`
	Title    string `json:"title"`
	Price    int64  `json:"price"`
	Quantity int    `json:"quantity"`
}

func itemChange(id string, version int64, qty int) Change {
	return Change{
		Kind:       "item",
		ID:         id,
		Version:    version,
		Creates:    version == 0,
		Attributes: map[string]any{"item_id": id, "quantity": qty},
	}
}

func mustApply(t *testing.T, s Store, c Change) Outcome {
	t.Helper()
	out, err := s.Apply(context.Background(), c)
	if err != nil {
		t.Fatalf("apply %s v%d: %v", c.ID, c.Version, err)
	}
	return out
}

func TestApplyCreatesThenAdvances(t *testing.T) {
	s := NewMemoryStore(0)
	if out := mustApply(t, s, itemChange("item-1", 0, 10)); out.Status != StatusCreated {
		t.Fatalf("expected created, got %s", out.Status)
	}
	out := mustApply(t, s, Change{Kind: "item", ID: "item-1", Version: 1, Attributes: map[string]any{"title": "lamp"}})
	if out.Status != StatusApplied || out.Record.Version != 1 {
		t.Fatalf("expected applied at v1, got %s v%d", out.Status, out.Record.Version)
	}
	rec, err := s.Get(context.Background(), "item", "item-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	var attrs itemAttrs
	if err := rec.Decode(&attrs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if attrs.Quantity != 10 || attrs.Title != "lamp" {
		t.Fatalf("expected merged attributes, got %+v", attrs)
	}
}

func TestApplyIsIdempotent(t *testing.T) {
	s := NewMemoryStore(0)
	mustApply(t, s, itemChange("item-1", 0, 10))
	mustApply(t, s, itemChange("item-1", 1, 8))
	for i := 0; i < 3; i++ {
		out := mustApply(t, s, itemChange("item-1", 1, 999))
		if out.Status != StatusDuplicate {
			t.Fatalf("replay %d: expected duplicate, got %s", i, out.Status)
		}
	}
	if out := mustApply(t, s, itemChange("item-1", 0, 999)); out.Status != StatusDuplicate {
		t.Fatalf("stale create must be a duplicate, got %s", out.Status)
	}
	rec, _ := s.Get(context.Background(), "item", "item-1")
	var attrs itemAttrs
	_ = rec.Decode(&attrs)
	if rec.Version != 1 || attrs.Quantity != 8 {
		t.Fatalf("replays must not change state, got v%d qty=%d", rec.Version, attrs.Quantity)
	}
}

func TestOutOfOrderChangeIsParkedUntilPredecessorArrives(t *testing.T) {
	s := NewMemoryStore(0)
	mustApply(t, s, itemChange("item-1", 0, 10))
	mustApply(t, s, itemChange("item-1", 1, 9))

	out := mustApply(t, s, itemChange("item-1", 3, 7))
	if out.Status != StatusParked {
		t.Fatalf("expected v3 parked, got %s", out.Status)
	}
	rec, _ := s.Get(context.Background(), "item", "item-1")
	if rec.Version != 1 {
		t.Fatalf("parked change must not be applied, replica at v%d", rec.Version)
	}
	parked, _ := s.Parked(context.Background(), time.Now().UTC().Add(time.Hour))
	if len(parked) != 1 || parked[0].Version != 3 {
		t.Fatalf("expected v3 in parked list, got %+v", parked)
	}

	out = mustApply(t, s, itemChange("item-1", 2, 8))
	if out.Status != StatusApplied || out.Record.Version != 2 {
		t.Fatalf("expected v2 applied, got %s v%d", out.Status, out.Record.Version)
	}
	if len(out.Drained) != 1 || out.Drained[0].Version != 3 || out.Latest().Version != 3 {
		t.Fatalf("expected v3 drained after v2, got %+v", out.Drained)
	}
	rec, _ = s.Get(context.Background(), "item", "item-1")
	var attrs itemAttrs
	_ = rec.Decode(&attrs)
	if rec.Version != 3 || attrs.Quantity != 7 {
		t.Fatalf("expected v3 qty 7, got v%d qty %d", rec.Version, attrs.Quantity)
	}
	if parked, _ := s.Parked(context.Background(), time.Now().UTC().Add(time.Hour)); len(parked) != 0 {
		t.Fatalf("parked backlog must be empty, got %d", len(parked))
	}
}

func TestUpdateBeforeCreateIsParked(t *testing.T) {
	s := NewMemoryStore(0)
	if out := mustApply(t, s, itemChange("item-1", 1, 5)); out.Status != StatusParked {
		t.Fatalf("expected update without replica to park, got %s", out.Status)
	}
	if _, err := s.Get(context.Background(), "item", "item-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected no replica yet, got %v", err)
	}
	out := mustApply(t, s, itemChange("item-1", 0, 10))
	if out.Status != StatusCreated || out.Latest().Version != 1 {
		t.Fatalf("expected create followed by drained v1, got %s latest v%d", out.Status, out.Latest().Version)
	}
}

func TestParkedBacklogOverflowIsAGap(t *testing.T) {
	s := NewMemoryStore(2)
	mustApply(t, s, itemChange("item-1", 0, 10))
	mustApply(t, s, itemChange("item-1", 5, 1))
	mustApply(t, s, itemChange("item-1", 6, 1))
	if out := mustApply(t, s, itemChange("item-1", 6, 1)); out.Status != StatusParked {
		t.Fatalf("re-parking a known version must not count against the cap, got %s", out.Status)
	}
	if _, err := s.Apply(context.Background(), itemChange("item-1", 7, 1)); !errors.Is(err, ErrVersionGap) {
		t.Fatalf("expected ErrVersionGap, got %v", err)
	}
	if _, err := s.Apply(context.Background(), itemChange("item-2", 0, 1)); err != nil {
		t.Fatalf("other entities are unaffected: %v", err)
	}
}

func TestReplicaVersionIsMonotonic(t *testing.T) {
	s := NewMemoryStore(0)
	const last = 30
	var deliveries []Change
	for v := int64(0); v <= last; v++ {
		deliveries = append(deliveries, itemChange("item-1", v, int(v)))
		if v%3 == 0 {
			deliveries = append(deliveries, itemChange("item-1", v, int(v)))
		}
	}
	rng := rand.New(rand.NewSource(7))
	rng.Shuffle(len(deliveries), func(i, j int) { deliveries[i], deliveries[j] = deliveries[j], deliveries[i] })

	observed := int64(-1)
	for _, c := range deliveries {
		mustApply(t, s, c)
		rec, err := s.Get(context.Background(), "item", "item-1")
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if rec.Version < observed {
			t.Fatalf("replica went backwards from v%d to v%d", observed, rec.Version)
		}
		observed = rec.Version
	}
	if observed != last {
		t.Fatalf("expected replica to converge to v%d, got v%d", last, observed)
	}
	var attrs itemAttrs
	rec, _ := s.Get(context.Background(), "item", "item-1")
	_ = rec.Decode(&attrs)
	if attrs.Quantity != last {
		t.Fatalf("expected final quantity %d, got %d", last, attrs.Quantity)
	}
}

func TestApplyRejectsInvalidChange(t *testing.T) {
	s := NewMemoryStore(0)
	if _, err := s.Apply(context.Background(), Change{Kind: "item", Version: 0}); !errors.Is(err, ErrInvalidChange) {
		t.Fatalf("expected ErrInvalidChange, got %v", err)
	}
}

func envelopeMessage(t *testing.T, topic contracts.Topic, id string, version int64, qty int) bus.Message {
	t.Helper()
	env, err := contracts.NewEnvelope(contracts.EnvelopeParams{
		Topic:         topic,
		SourceService: "catalog-service",
		PartitionKey:  id,
		EntityID:      id,
		Version:       version,
		Data:          contracts.ItemPayload{ItemID: id, Quantity: qty, Price: 1999},
	})
	if err != nil {
		t.Fatalf("envelope: %v", err)
	}
	raw, _ := env.Encode()
	return bus.Message{Topic: string(topic), Key: id, Value: raw}
}

func TestApplierHandlerMapsOutcomes(t *testing.T) {
	a := NewApplier("item", NewMemoryStore(1), nil)
	h := a.Handler()
	ctx := context.Background()

	if res := h(ctx, bus.Message{Value: []byte("{bad")}); res.Outcome != bus.OutcomeFatal {
		t.Fatalf("malformed envelope must be fatal, got %s", res.Outcome)
	}
	if res := h(ctx, envelopeMessage(t, contracts.TopicEntityCreated, "item-1", 0, 10)); res.Outcome != bus.OutcomeOK {
		t.Fatalf("create must be ok, got %s (%v)", res.Outcome, res.Err)
	}
	if res := h(ctx, envelopeMessage(t, contracts.TopicEntityCreated, "item-1", 0, 10)); res.Outcome != bus.OutcomeOK {
		t.Fatalf("duplicate must be acknowledged, got %s", res.Outcome)
	}
	if res := h(ctx, envelopeMessage(t, contracts.TopicEntityUpdated, "item-1", 3, 4)); res.Outcome != bus.OutcomeOK {
		t.Fatalf("parked change must be acknowledged, got %s", res.Outcome)
	}
	if res := h(ctx, envelopeMessage(t, contracts.TopicEntityUpdated, "item-1", 4, 4)); res.Outcome != bus.OutcomeFatal {
		t.Fatalf("gap overflow must be fatal, got %s", res.Outcome)
	}
	stats := a.Stats()
	if stats.Created != 1 || stats.Duplicates != 1 || stats.Parked != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestApplierNotifiesEveryForwardMove(t *testing.T) {
	a := NewApplier("item", NewMemoryStore(0), nil)
	var versions []int64
	a.OnChanged(func(_ context.Context, rec Record) error {
		versions = append(versions, rec.Version)
		return nil
	})
	ctx := context.Background()
	for _, v := range []int64{0, 2, 2, 1} {
		topic := contracts.TopicEntityUpdated
		if v == 0 {
			topic = contracts.TopicEntityCreated
		}
		env, _ := contracts.DecodeEnvelope(envelopeMessage(t, topic, "item-1", v, int(10-v)).Value)
		if _, err := a.ApplyEnvelope(ctx, env); err != nil {
			t.Fatalf("apply v%d: %v", v, err)
		}
	}
	want := []int64{0, 1, 2}
	if len(versions) != len(want) {
		t.Fatalf("expected hooks for %v, got %v", want, versions)
	}
	for i := range want {
		if versions[i] != want[i] {
			t.Fatalf("expected hooks for %v, got %v", want, versions)
		}
	}
}

func TestApplierHookFailureIsRetryable(t *testing.T) {
	a := NewApplier("item", NewMemoryStore(0), nil)
	down := true
	calls := 0
	a.OnChanged(func(context.Context, Record) error {
		calls++
		if down {
			return errors.New("downstream unavailable")
		}
		return nil
	})
	msg := envelopeMessage(t, contracts.TopicEntityCreated, "item-1", 0, 1)
	if res := a.Handler()(context.Background(), msg); res.Outcome != bus.OutcomeRetry {
		t.Fatalf("expected retry, got %s", res.Outcome)
	}
	down = false
	if res := a.Handler()(context.Background(), msg); res.Outcome != bus.OutcomeOK {
		t.Fatalf("expected redelivery to succeed, got %s %v", res.Outcome, res.Err)
	}
	if calls != 2 || a.Stats().Duplicates != 1 {
		t.Fatalf("redelivery must rerun the hook, got %d calls %+v", calls, a.Stats())
	}
}

// The store drains v2 behind v1 before the hook fails, so the redelivered v1 is already
// behind the replica and must still bring the hook up to date.
func TestApplierHookFailureAfterDrainCatchesUpOnRedelivery(t *testing.T) {
	a := NewApplier("item", NewMemoryStore(0), nil)
	down := false
	var seen []int64
	a.OnChanged(func(_ context.Context, rec Record) error {
		if down {
			return errors.New("downstream unavailable")
		}
		seen = append(seen, rec.Version)
		return nil
	})
	handle := a.Handler()
	ctx := context.Background()
	if res := handle(ctx, envelopeMessage(t, contracts.TopicEntityCreated, "item-1", 0, 10)); res.Outcome != bus.OutcomeOK {
		t.Fatalf("create: %s %v", res.Outcome, res.Err)
	}
	if res := handle(ctx, envelopeMessage(t, contracts.TopicEntityUpdated, "item-1", 2, 8)); res.Outcome != bus.OutcomeOK {
		t.Fatalf("park v2: %s %v", res.Outcome, res.Err)
	}

	down = true
	v1 := envelopeMessage(t, contracts.TopicEntityUpdated, "item-1", 1, 9)
	if res := handle(ctx, v1); res.Outcome != bus.OutcomeRetry {
		t.Fatalf("expected retry while the hook is down, got %s", res.Outcome)
	}
	down = false
	if res := handle(ctx, v1); res.Outcome != bus.OutcomeOK {
		t.Fatalf("redelivery: %s %v", res.Outcome, res.Err)
	}
	if len(seen) != 2 || seen[0] != 0 || seen[1] != 2 {
		t.Fatalf("hook must catch up to v2 after redelivery, saw %v", seen)
	}
	if got, _ := a.Store().Get(ctx, "item", "item-1"); got.Version != 2 {
		t.Fatalf("expected replica at v2, got v%d", got.Version)
	}
}

func TestGapMonitorReportsStaleParkedChanges(t *testing.T) {
	s := NewMemoryStore(0)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.nowFn = func() time.Time { return base }
	mustApply(t, s, itemChange("item-1", 0, 10))
	mustApply(t, s, itemChange("item-1", 4, 1))

	m := NewGapMonitor(s, nil, time.Second, 10*time.Minute)
	m.nowFn = func() time.Time { return base.Add(5 * time.Minute) }
	if n, err := m.CheckOnce(context.Background()); err != nil || n != 0 {
		t.Fatalf("fresh parked change must not be reported, got %d (%v)", n, err)
	}
	m.nowFn = func() time.Time { return base.Add(11 * time.Minute) }
	if n, err := m.CheckOnce(context.Background()); err != nil || n != 1 {
		t.Fatalf("expected one stale parked change, got %d (%v)", n, err)
	}
}

func TestDecodeAttributesKeepsLargeIntegers(t *testing.T) {
	attrs, err := DecodeAttributes([]byte(`{"price": 9007199254740993}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	rec := Record{Attributes: attrs}
	var out struct {
		Price int64 `json:"price"`
	}
	if err := rec.Decode(&out); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	if out.Price != 9007199254740993 {
		t.Fatalf("expected exact price, got %d", out.Price)
	}
	if _, ok := attrs["price"].(json.Number); !ok {
		t.Fatalf("expected json.Number, got %T", attrs["price"])
	}
}
