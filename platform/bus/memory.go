package bus

import (
	"context"
	"fmt"
	"hash/fnv"
	"io"
	"sync"
	"time"
)

// MemoryBroker is an in-process broker with Kafka's delivery shape: keyed messages land on
// one partition and keep their order, each group tracks its own committed offsets, and
// every group sees every message.
type MemoryBroker struct {
	mu         sync.Mutex
	partitions int
	logs       map[string][][]Message
	committed  map[string][]int64
	groups     map[string]bool
	notify     chan struct{}
	failures   map[string]int
	rejections map[string]int
	closed     bool
}

// NewMemoryBroker creates a broker with the given partition count per topic.
func NewMemoryBroker(partitions int) *MemoryBroker {
	if partitions <= 0 {
		partitions = 1
	}
	return &MemoryBroker{
		partitions: partitions,
		logs:       map[string][][]Message{},
		committed:  map[string][]int64{},
		groups:     map[string]bool{},
		notify:     make(chan struct{}),
		failures:   map[string]int{},
		rejections: map[string]int{},
	}
}

// FailNextPublishes makes the next n publishes to topic fail, mimicking a broker outage.
func (b *MemoryBroker) FailNextPublishes(topic string, n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures[topic] = n
}

// RejectNextPublishes makes the next n publishes to topic fail with ErrPublishRejected,
// the way a broker refuses an oversized message.
func (b *MemoryBroker) RejectNextPublishes(topic string, n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rejections[topic] = n
}

func (b *MemoryBroker) partitionFor(key string) int {
	if key == "" || b.partitions == 1 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(b.partitions))
}

func (b *MemoryBroker) ensureTopic(topic string) [][]Message {
	logs, ok := b.logs[topic]
	if !ok {
		logs = make([][]Message, b.partitions)
		b.logs[topic] = logs
	}
	return logs
}

func (b *MemoryBroker) Publish(ctx context.Context, topic, key string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return io.ErrClosedPipe
	}
	if n := b.failures[topic]; n > 0 {
		b.failures[topic] = n - 1
		return fmt.Errorf("memory broker: %s unavailable", topic)
	}
	if n := b.rejections[topic]; n > 0 {
		b.rejections[topic] = n - 1
		return fmt.Errorf("%w: memory broker refused %s", ErrPublishRejected, topic)
	}
	logs := b.ensureTopic(topic)
	p := b.partitionFor(key)
	value := append([]byte(nil), payload...)
	logs[p] = append(logs[p], Message{
		Topic:     topic,
		Key:       key,
		Value:     value,
		Partition: p,
		Offset:    int64(len(logs[p])),
		Time:      time.Now().UTC(),
	})
	close(b.notify)
	b.notify = make(chan struct{})
	return nil
}

// Messages returns everything published to topic, partition by partition.
func (b *MemoryBroker) Messages(topic string) []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []Message
	for _, part := range b.logs[topic] {
		out = append(out, part...)
	}
	return out
}

// Source opens a group member that resumes from the group's committed offsets.
func (b *MemoryBroker) Source(topic, group string) Source {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ensureTopic(topic)
	key := topic + "|" + group
	if _, ok := b.committed[key]; !ok {
		b.committed[key] = make([]int64, b.partitions)
	}
	cursor := append([]int64(nil), b.committed[key]...)
	return &memorySource{broker: b, topic: topic, key: key, cursor: cursor}
}

// Subscribe joins group on topic. A group has at most one member per topic.
func (b *MemoryBroker) Subscribe(topic, group string, handler Handler, opts ...ConsumerOption) (*Consumer, error) {
	if topic == "" || group == "" {
		return nil, fmt.Errorf("bus: subscribe requires topic and group")
	}
	b.mu.Lock()
	key := topic + "|" + group
	if b.groups[key] {
		b.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDuplicateSubscription, key)
	}
	b.groups[key] = true
	b.mu.Unlock()
	return newConsumer(topic, group, b.Source(topic, group), b, handler, opts...), nil
}

// Committed reports a group's committed offset (next offset to read) per partition.
func (b *MemoryBroker) Committed(topic, group string) []int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]int64(nil), b.committed[topic+"|"+group]...)
}

func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.notify)
	}
	return nil
}

type memorySource struct {
	broker *MemoryBroker
	topic  string
	key    string
	cursor []int64
	next   int
}

func (s *memorySource) Fetch(ctx context.Context) (Message, error) {
	for {
		b := s.broker
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return Message{}, io.EOF
		}
		logs := b.logs[s.topic]
		for i := 0; i < len(logs); i++ {
			p := (s.next + i) % len(logs)
			if s.cursor[p] < int64(len(logs[p])) {
				msg := logs[p][s.cursor[p]]
				s.cursor[p]++
				s.next = (p + 1) % len(logs)
				b.mu.Unlock()
				return msg, nil
			}
		}
		wait := b.notify
		b.mu.Unlock()
		select {
		case <-ctx.Done():
			return Message{}, ctx.Err()
		case <-wait:
		}
	}
}

func (s *memorySource) Commit(_ context.Context, msg Message) error {
	b := s.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	offsets := b.committed[s.key]
	if msg.Partition < 0 || msg.Partition >= len(offsets) {
		return fmt.Errorf("memory broker: partition %d out of range", msg.Partition)
	}
	if next := msg.Offset + 1; next > offsets[msg.Partition] {
		offsets[msg.Partition] = next
	}
	return nil
}

func (s *memorySource) Close() error { return nil }
