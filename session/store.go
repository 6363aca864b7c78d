package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrNotFound = errors.New("session key not found")

// Store keeps string values per session. Implementations must be safe for
// concurrent use. Set overwrites; Delete and Clear ignore missing keys.
type Store interface {
	Set(ctx context.Context, sessionID, key, value string) error
	// Get returns ErrNotFound when the key is absent.
	Get(ctx context.Context, sessionID, key string) (string, error)
	GetAll(ctx context.Context, sessionID string) (map[string]string, error)
	Delete(ctx context.Context, sessionID string, keys ...string) error
	Clear(ctx context.Context, sessionID string) error
}

// ------------------------------------------------------------------------------

// MemoryStore keeps sessions in process memory.
type MemoryStore struct {
	sessions map[string]map[string]string
	mutex    sync.Mutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]map[string]string)}
}

func (s *MemoryStore) Set(_ context.Context, sessionID, key, value string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	values, ok := s.sessions[sessionID]
	if !ok {
		values = make(map[string]string)
		s.sessions[sessionID] = values
	}
	values[key] = value
	return nil
}

func (s *MemoryStore) Get(_ context.Context, sessionID, key string) (string, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if value, ok := s.sessions[sessionID][key]; ok {
		return value, nil
	}
	return "", fmt.Errorf("%w: %s", ErrNotFound, key)
}

func (s *MemoryStore) GetAll(_ context.Context, sessionID string) (map[string]string, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	out := make(map[string]string, len(s.sessions[sessionID]))
	for k, v := range s.sessions[sessionID] {
		out[k] = v
	}
	return out, nil
}

func (s *MemoryStore) Delete(_ context.Context, sessionID string, keys ...string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for _, k := range keys {
		delete(s.sessions[sessionID], k)
	}
	return nil
}

func (s *MemoryStore) Clear(_ context.Context, sessionID string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	delete(s.sessions, sessionID)
	return nil
}

// ------------------------------------------------------------------------------

const DefaultTTL = 24 * time.Hour

// RedisStore keeps each session in one hash that expires ttl after the last
// write.
type RedisStore struct {
	client    *redis.Client
	namespace string
	ttl       time.Duration
}

// NewRedisStore stores each session as a redis hash under namespace. A ttl
// of zero uses DefaultTTL.
func NewRedisStore(client *redis.Client, namespace string, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, namespace: namespace, ttl: ttl}
}

func createKey(namespace, sessionID string) string {
	return fmt.Sprintf("%s:session:%s", namespace, sessionID)
}

func (s *RedisStore) Set(ctx context.Context, sessionID, key, value string) error {
	hash := createKey(s.namespace, sessionID)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, hash, key, value)
		pipe.Expire(ctx, hash, s.ttl)
		return nil
	})
	return err
}

func (s *RedisStore) Get(ctx context.Context, sessionID, key string) (string, error) {
	value, err := s.client.HGet(ctx, createKey(s.namespace, sessionID), key).Result()
	if errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return value, err
}

func (s *RedisStore) GetAll(ctx context.Context, sessionID string) (map[string]string, error) {
	return s.client.HGetAll(ctx, createKey(s.namespace, sessionID)).Result()
}

func (s *RedisStore) Delete(ctx context.Context, sessionID string, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.client.HDel(ctx, createKey(s.namespace, sessionID), keys...).Err()
}

func (s *RedisStore) Clear(ctx context.Context, sessionID string) error {
	return s.client.Del(ctx, createKey(s.namespace, sessionID)).Err()
}
