package events

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultProcessedTTL is how long a provider event id is remembered.
const DefaultProcessedTTL = 24 * time.Hour

// ProcessedStore records webhook events that were already handled so
// provider retries are acknowledged without being applied twice.
type ProcessedStore interface {
	// MarkProcessed records eventID for provider. It returns false when the
	// id was already recorded.
	MarkProcessed(ctx context.Context, provider, eventID string) (bool, error)
}

// RedisProcessedStore keeps event ids in Redis with a TTL.
type RedisProcessedStore struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

func NewRedisProcessedStore(client *redis.Client, ttl time.Duration) *RedisProcessedStore {
	if client == nil {
		panic("events: redis client required")
	}
	if ttl <= 0 {
		ttl = DefaultProcessedTTL
	}
	return &RedisProcessedStore{client: client, ttl: ttl, prefix: "triage:processed"}
}

func (s *RedisProcessedStore) MarkProcessed(ctx context.Context, provider, eventID string) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.key(provider, eventID), time.Now().UTC().Format(time.RFC3339), s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("events: mark processed: %w", err)
	}
	return ok, nil
}

func (s *RedisProcessedStore) key(provider, eventID string) string {
	return s.prefix + ":" + strings.ToLower(strings.TrimSpace(provider)) + ":" + strings.TrimSpace(eventID)
}

// MemoryProcessedStore is the single-process fallback used when Redis is
// not configured. Expired ids are swept on write.
type MemoryProcessedStore struct {
	mu   sync.Mutex
	ttl  time.Duration
	seen map[string]time.Time
	now  func() time.Time
}

func NewMemoryProcessedStore(ttl time.Duration) *MemoryProcessedStore {
	if ttl <= 0 {
		ttl = DefaultProcessedTTL
	}
	return &MemoryProcessedStore{
		ttl:  ttl,
		seen: make(map[string]time.Time),
		now:  time.Now,
	}
}

func (s *MemoryProcessedStore) MarkProcessed(_ context.Context, provider, eventID string) (bool, error) {
	key := strings.ToLower(strings.TrimSpace(provider)) + ":" + strings.TrimSpace(eventID)
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	for k, expires := range s.seen {
		if !now.Before(expires) {
			delete(s.seen, k)
		}
	}
	if _, ok := s.seen[key]; ok {
		return false, nil
	}
	s.seen[key] = now.Add(s.ttl)
	return true, nil
}

// Len reports the number of live ids.
func (s *MemoryProcessedStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}
