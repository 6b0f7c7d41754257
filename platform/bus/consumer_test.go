package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/viralforge/commerce-mesh/contracts"
)

var fastRetry = WithRetryBackoff(Backoff{Initial: time.Millisecond, Max: 2 * time.Millisecond})

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func startConsumer(t *testing.T, c *Consumer) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	t.Cleanup(cancel)
	return cancel, done
}

func stopConsumer(t *testing.T, cancel context.CancelFunc, done <-chan error) {
	t.Helper()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("consumer did not stop")
	}
}

func publishJSON(t *testing.T, b *MemoryBroker, topic, key string, v any) {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := b.Publish(context.Background(), topic, key, raw); err != nil {
		t.Fatalf("publish: %v", err)
	}
}

func deadLetters(t *testing.T, b *MemoryBroker, topic string) []contracts.DLQRecord {
	t.Helper()
	var out []contracts.DLQRecord
	for _, msg := range b.Messages(contracts.DLQTopic(contracts.Topic(topic))) {
		var rec contracts.DLQRecord
		if err := json.Unmarshal(msg.Value, &rec); err != nil {
			t.Fatalf("decode dlq record: %v", err)
		}
		out = append(out, rec)
	}
	return out
}

func TestConsumerCommitsAfterOK(t *testing.T) {
	b := NewMemoryBroker(1)
	var handled atomic.Int32
	c, err := b.Subscribe("entity-created", "g1", func(context.Context, Message) Result {
		handled.Add(1)
		return OK()
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	for i := 0; i < 3; i++ {
		publishJSON(t, b, "entity-created", "item-1", map[string]int{"n": i})
	}
	cancel, done := startConsumer(t, c)
	waitFor(t, func() bool { return b.Committed("entity-created", "g1")[0] == 3 })
	stopConsumer(t, cancel, done)
	if handled.Load() != 3 {
		t.Fatalf("expected 3 deliveries, got %d", handled.Load())
	}
}

func TestConsumerRetriesUntilOK(t *testing.T) {
	b := NewMemoryBroker(1)
	var calls atomic.Int32
	c, _ := b.Subscribe("entity-updated", "g1", func(context.Context, Message) Result {
		if calls.Add(1) < 3 {
			return Retry(errors.New("store unavailable"))
		}
		return OK()
	}, fastRetry)
	publishJSON(t, b, "entity-updated", "item-1", map[string]string{"a": "b"})
	cancel, done := startConsumer(t, c)
	waitFor(t, func() bool { return b.Committed("entity-updated", "g1")[0] == 1 })
	stopConsumer(t, cancel, done)
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
	if n := len(deadLetters(t, b, "entity-updated")); n != 0 {
		t.Fatalf("expected no dead letters, got %d", n)
	}
}

func TestConsumerDeadLettersAfterRetryCap(t *testing.T) {
	b := NewMemoryBroker(1)
	var calls atomic.Int32
	c, _ := b.Subscribe("entity-updated", "g1", func(context.Context, Message) Result {
		calls.Add(1)
		return Retry(errors.New("still failing"))
	}, fastRetry, WithMaxDeliveries(3))
	publishJSON(t, b, "entity-updated", "item-9", map[string]string{"event_id": "e-1"})
	cancel, done := startConsumer(t, c)
	waitFor(t, func() bool { return b.Committed("entity-updated", "g1")[0] == 1 })
	stopConsumer(t, cancel, done)

	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
	recs := deadLetters(t, b, "entity-updated")
	if len(recs) != 1 {
		t.Fatalf("expected one dead letter, got %d", len(recs))
	}
	rec := recs[0]
	if rec.Fatal || rec.RetryCount != 3 || rec.ConsumerGroup != "g1" || rec.Key != "item-9" {
		t.Fatalf("unexpected dlq record: %+v", rec)
	}
	if rec.ErrorSummary != "still failing" {
		t.Fatalf("unexpected error summary %q", rec.ErrorSummary)
	}
}

func TestConsumerFatalSkipsRetries(t *testing.T) {
	b := NewMemoryBroker(1)
	var calls atomic.Int32
	c, _ := b.Subscribe("order-created", "g1", func(context.Context, Message) Result {
		calls.Add(1)
		return Fatal(errors.New("malformed payload"))
	}, fastRetry)
	if err := b.Publish(context.Background(), "order-created", "o-1", []byte("not json")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	cancel, done := startConsumer(t, c)
	waitFor(t, func() bool { return b.Committed("order-created", "g1")[0] == 1 })
	stopConsumer(t, cancel, done)

	if calls.Load() != 1 {
		t.Fatalf("fatal result must not be retried, got %d attempts", calls.Load())
	}
	recs := deadLetters(t, b, "order-created")
	if len(recs) != 1 || !recs[0].Fatal {
		t.Fatalf("expected one fatal dead letter, got %+v", recs)
	}
	var original string
	if err := json.Unmarshal(recs[0].Value, &original); err != nil || original != "not json" {
		t.Fatalf("expected raw value preserved, got %s", recs[0].Value)
	}
}

func TestConsumerFlagsStalledDeadLetterPublish(t *testing.T) {
	b := NewMemoryBroker(1)
	dlq := contracts.DLQTopic("order-created")
	b.FailNextPublishes(dlq, 1000)
	c, _ := b.Subscribe("order-created", "g1", func(context.Context, Message) Result {
		return Fatal(errors.New("malformed payload"))
	}, fastRetry)
	if err := b.Publish(context.Background(), "order-created", "o-1", []byte(`{}`)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if c.Ready() != nil {
		t.Fatalf("fresh consumer must be ready")
	}
	cancel, done := startConsumer(t, c)
	waitFor(t, c.DeadLetterStalled)
	if c.Ready() == nil {
		t.Fatalf("stalled consumer must not report ready")
	}
	if b.Committed("order-created", "g1")[0] != 0 {
		t.Fatalf("message must stay uncommitted while the dlq is down")
	}

	b.FailNextPublishes(dlq, 0)
	waitFor(t, func() bool { return b.Committed("order-created", "g1")[0] == 1 })
	stopConsumer(t, cancel, done)
	if c.DeadLetterStalled() || len(deadLetters(t, b, "order-created")) != 1 {
		t.Fatalf("expected recovery with one dead letter, stalled=%v", c.DeadLetterStalled())
	}
}

func TestConsumerTreatsPanicAsFatal(t *testing.T) {
	b := NewMemoryBroker(1)
	c, _ := b.Subscribe("cart-checkout", "g1", func(context.Context, Message) Result {
		panic("boom")
	}, fastRetry)
	publishJSON(t, b, "cart-checkout", "cart-1", map[string]string{})
	cancel, done := startConsumer(t, c)
	waitFor(t, func() bool { return b.Committed("cart-checkout", "g1")[0] == 1 })
	stopConsumer(t, cancel, done)
	recs := deadLetters(t, b, "cart-checkout")
	if len(recs) != 1 || !recs[0].Fatal {
		t.Fatalf("expected panic to dead-letter as fatal, got %+v", recs)
	}
}

func TestConsumerSkipsDuplicateEventIDs(t *testing.T) {
	b := NewMemoryBroker(1)
	dedup := NewMemoryDeduplicator()
	var calls atomic.Int32
	c, _ := b.Subscribe("entity-created", "g1", func(context.Context, Message) Result {
		calls.Add(1)
		return OK()
	}, WithDeduplicator(dedup))
	payload := map[string]string{"event_id": "evt-1"}
	publishJSON(t, b, "entity-created", "item-1", payload)
	publishJSON(t, b, "entity-created", "item-1", payload)
	publishJSON(t, b, "entity-created", "item-1", map[string]string{"event_id": "evt-2"})
	cancel, done := startConsumer(t, c)
	waitFor(t, func() bool { return b.Committed("entity-created", "g1")[0] == 3 })
	stopConsumer(t, cancel, done)
	if calls.Load() != 2 {
		t.Fatalf("expected duplicate to be skipped, got %d calls", calls.Load())
	}
}

func TestConsumerFinishesInFlightOnShutdown(t *testing.T) {
	b := NewMemoryBroker(1)
	started := make(chan struct{})
	release := make(chan struct{})
	var sawCancel atomic.Bool
	c, _ := b.Subscribe("order-updated", "g1", func(ctx context.Context, _ Message) Result {
		close(started)
		<-release
		sawCancel.Store(ctx.Err() != nil)
		return OK()
	})
	publishJSON(t, b, "order-updated", "o-1", map[string]string{})
	cancel, done := startConsumer(t, c)
	<-started
	cancel()
	close(release)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("consumer did not stop")
	}
	if sawCancel.Load() {
		t.Fatalf("in-flight handler must run on a detached context")
	}
	if got := b.Committed("order-updated", "g1")[0]; got != 1 {
		t.Fatalf("expected in-flight message committed, got offset %d", got)
	}
}

func TestConsumerKeepsOrderWithinKey(t *testing.T) {
	b := NewMemoryBroker(4)
	var mu sync.Mutex
	seen := map[string][]int{}
	c, _ := b.Subscribe("entity-updated", "g1", func(_ context.Context, msg Message) Result {
		var body struct {
			Seq int `json:"seq"`
		}
		if err := json.Unmarshal(msg.Value, &body); err != nil {
			return Fatal(err)
		}
		mu.Lock()
		seen[msg.Key] = append(seen[msg.Key], body.Seq)
		mu.Unlock()
		return OK()
	})
	keys := []string{"a", "b", "c", "d", "e"}
	for seq := 0; seq < 20; seq++ {
		for _, k := range keys {
			publishJSON(t, b, "entity-updated", k, map[string]int{"seq": seq})
		}
	}
	cancel, done := startConsumer(t, c)
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		total := 0
		for _, s := range seen {
			total += len(s)
		}
		return total == 100
	})
	stopConsumer(t, cancel, done)
	for _, k := range keys {
		for i, seq := range seen[k] {
			if seq != i {
				t.Fatalf("key %s delivered out of order: %v", k, seen[k])
			}
		}
	}
}

func TestEveryGroupReceivesEveryMessage(t *testing.T) {
	b := NewMemoryBroker(2)
	var g1, g2 atomic.Int32
	c1, _ := b.Subscribe("entity-created", "order-service.item-replica", func(context.Context, Message) Result {
		g1.Add(1)
		return OK()
	})
	c2, _ := b.Subscribe("entity-created", "cart-service.item-replica", func(context.Context, Message) Result {
		g2.Add(1)
		return OK()
	})
	for i := 0; i < 10; i++ {
		publishJSON(t, b, "entity-created", fmt.Sprintf("item-%d", i), map[string]int{"i": i})
	}
	cancel1, done1 := startConsumer(t, c1)
	cancel2, done2 := startConsumer(t, c2)
	waitFor(t, func() bool { return g1.Load() == 10 && g2.Load() == 10 })
	stopConsumer(t, cancel1, done1)
	stopConsumer(t, cancel2, done2)
}

func TestSubscribeRejectsDuplicateGroup(t *testing.T) {
	b := NewMemoryBroker(1)
	h := func(context.Context, Message) Result { return OK() }
	if _, err := b.Subscribe("entity-created", "g1", h); err != nil {
		t.Fatalf("first subscribe: %v", err)
	}
	if _, err := b.Subscribe("entity-created", "g1", h); !errors.Is(err, ErrDuplicateSubscription) {
		t.Fatalf("expected ErrDuplicateSubscription, got %v", err)
	}
	if _, err := b.Subscribe("entity-created", "g2", h); err != nil {
		t.Fatalf("other group must be allowed: %v", err)
	}
}

func TestResumesFromCommittedOffset(t *testing.T) {
	b := NewMemoryBroker(1)
	publishJSON(t, b, "entity-created", "item-1", map[string]int{"n": 1})
	publishJSON(t, b, "entity-created", "item-1", map[string]int{"n": 2})

	src := b.Source("entity-created", "g1")
	first, err := src.Fetch(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if err := src.Commit(context.Background(), first); err != nil {
		t.Fatalf("commit: %v", err)
	}
	// Second fetched but never committed: a restarted member must see it again.
	if _, err := src.Fetch(context.Background()); err != nil {
		t.Fatalf("fetch: %v", err)
	}

	restarted := b.Source("entity-created", "g1")
	msg, err := restarted.Fetch(context.Background())
	if err != nil {
		t.Fatalf("fetch after restart: %v", err)
	}
	if msg.Offset != 1 {
		t.Fatalf("expected redelivery of offset 1, got %d", msg.Offset)
	}
}

func TestFromError(t *testing.T) {
	errFatal := errors.New("fatal")
	cases := []struct {
		name string
		err  error
		want Outcome
	}{
		{name: "nil", err: nil, want: OutcomeOK},
		{name: "fatal", err: fmt.Errorf("wrap: %w", errFatal), want: OutcomeFatal},
		{name: "other", err: errors.New("io"), want: OutcomeRetry},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := FromError(tc.err, errFatal).Outcome; got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestBackoffDelay(t *testing.T) {
	b := Backoff{Initial: 100 * time.Millisecond, Max: time.Second}
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond, 800 * time.Millisecond, time.Second, time.Second}
	for i, w := range want {
		if got := b.Delay(i + 1); got != w {
			t.Fatalf("attempt %d: expected %s, got %s", i+1, w, got)
		}
	}
}
