package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"numix-engine/internal/model"

	"github.com/redis/go-redis/v9"
)

// SnapshotStore 保存最後一次成功讀取的票券列表與活動列表，
// 儲存層不可用時作為唯讀備援
type SnapshotStore interface {
	SaveTickets(ctx context.Context, eventID, vendorEmail string, tickets []*model.Ticket) error
	// LoadTickets 沒有快照時 ok 為 false
	LoadTickets(ctx context.Context, eventID, vendorEmail string) (tickets []*model.Ticket, ok bool, err error)
	DeleteTickets(ctx context.Context, eventID, vendorEmail string) error

	// SaveEvents list 為列表名稱，例如 "active:2026-10-14"
	SaveEvents(ctx context.Context, list string, events []*model.Event) error
	LoadEvents(ctx context.Context, list string) (events []*model.Event, ok bool, err error)
}

func snapshotKey(eventID, vendorEmail string) string {
	return fmt.Sprintf("numix:snapshot:tickets:%s:%s", eventID, vendorEmail)
}

func eventsSnapshotKey(list string) string {
	return "numix:snapshot:events:" + list
}

func decodeSnapshot[T any](payload []byte) (T, error) {
	var out T
	if err := json.Unmarshal(payload, &out); err != nil {
		return out, fmt.Errorf("decode snapshot: %w", err)
	}
	return out, nil
}

type RedisSnapshotStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisSnapshotStore ttl 為 0 表示不過期
func NewRedisSnapshotStore(client *redis.Client, ttl time.Duration) SnapshotStore {
	return &RedisSnapshotStore{
		client: client,
		ttl:    ttl,
	}
}

func (s *RedisSnapshotStore) save(ctx context.Context, key string, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return s.client.Set(ctx, key, payload, s.ttl).Err()
}

func (s *RedisSnapshotStore) load(ctx context.Context, key string) ([]byte, bool, error) {
	payload, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return payload, true, nil
}

func (s *RedisSnapshotStore) SaveTickets(ctx context.Context, eventID, vendorEmail string, tickets []*model.Ticket) error {
	return s.save(ctx, snapshotKey(eventID, vendorEmail), tickets)
}

func (s *RedisSnapshotStore) LoadTickets(ctx context.Context, eventID, vendorEmail string) ([]*model.Ticket, bool, error) {
	payload, ok, err := s.load(ctx, snapshotKey(eventID, vendorEmail))
	if err != nil || !ok {
		return nil, false, err
	}
	tickets, err := decodeSnapshot[[]*model.Ticket](payload)
	if err != nil {
		return nil, false, err
	}
	return tickets, true, nil
}

func (s *RedisSnapshotStore) DeleteTickets(ctx context.Context, eventID, vendorEmail string) error {
	return s.client.Del(ctx, snapshotKey(eventID, vendorEmail)).Err()
}

func (s *RedisSnapshotStore) SaveEvents(ctx context.Context, list string, events []*model.Event) error {
	return s.save(ctx, eventsSnapshotKey(list), events)
}

func (s *RedisSnapshotStore) LoadEvents(ctx context.Context, list string) ([]*model.Event, bool, error) {
	payload, ok, err := s.load(ctx, eventsSnapshotKey(list))
	if err != nil || !ok {
		return nil, false, err
	}
	events, err := decodeSnapshot[[]*model.Event](payload)
	if err != nil {
		return nil, false, err
	}
	return events, true, nil
}

// MemorySnapshotStore 未設定 Redis 時使用
type MemorySnapshotStore struct {
	mu    sync.RWMutex
	items map[string][]byte
}

func NewMemorySnapshotStore() SnapshotStore {
	return &MemorySnapshotStore{
		items: make(map[string][]byte),
	}
}

// save 以 JSON 保存，避免與呼叫端共用指標
func (s *MemorySnapshotStore) save(key string, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = payload
	return nil
}

func (s *MemorySnapshotStore) load(key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	payload, ok := s.items[key]
	return payload, ok
}

func (s *MemorySnapshotStore) SaveTickets(_ context.Context, eventID, vendorEmail string, tickets []*model.Ticket) error {
	return s.save(snapshotKey(eventID, vendorEmail), tickets)
}

func (s *MemorySnapshotStore) LoadTickets(_ context.Context, eventID, vendorEmail string) ([]*model.Ticket, bool, error) {
	payload, ok := s.load(snapshotKey(eventID, vendorEmail))
	if !ok {
		return nil, false, nil
	}
	tickets, err := decodeSnapshot[[]*model.Ticket](payload)
	if err != nil {
		return nil, false, err
	}
	return tickets, true, nil
}

func (s *MemorySnapshotStore) DeleteTickets(_ context.Context, eventID, vendorEmail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, snapshotKey(eventID, vendorEmail))
	return nil
}

func (s *MemorySnapshotStore) SaveEvents(_ context.Context, list string, events []*model.Event) error {
	return s.save(eventsSnapshotKey(list), events)
}

func (s *MemorySnapshotStore) LoadEvents(_ context.Context, list string) ([]*model.Event, bool, error) {
	payload, ok := s.load(eventsSnapshotKey(list))
	if !ok {
		return nil, false, nil
	}
	events, err := decodeSnapshot[[]*model.Event](payload)
	if err != nil {
		return nil, false, err
	}
	return events, true, nil
}
