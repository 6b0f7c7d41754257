package bus

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisDeduplicator keeps handled event ids for a bounded window. Entries are written only
// after a successful handler run, so a crash between handling and marking degrades to a
// redelivery that the version gate absorbs.
type RedisDeduplicator struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisDeduplicator keeps handled event ids for ttl.
func NewRedisDeduplicator(client *redis.Client, ttl time.Duration) *RedisDeduplicator {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &RedisDeduplicator{client: client, ttl: ttl, prefix: "bus:dedup:"}
}

func (d *RedisDeduplicator) key(group, eventID string) string {
	return d.prefix + group + ":" + eventID
}

func (d *RedisDeduplicator) Seen(ctx context.Context, group, eventID string) (bool, error) {
	n, err := d.client.Exists(ctx, d.key(group, eventID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (d *RedisDeduplicator) Mark(ctx context.Context, group, eventID string) error {
	return d.client.SetNX(ctx, d.key(group, eventID), time.Now().UTC().Unix(), d.ttl).Err()
}

type MemoryDeduplicator struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewMemoryDeduplicator() *MemoryDeduplicator {
	return &MemoryDeduplicator{seen: map[string]struct{}{}}
}

func (d *MemoryDeduplicator) Seen(_ context.Context, group, eventID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.seen[group+":"+eventID]
	return ok, nil
}

func (d *MemoryDeduplicator) Mark(_ context.Context, group, eventID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen[group+":"+eventID] = struct{}{}
	return nil
}
