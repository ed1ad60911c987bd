package session

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const (
	sessionKeyPrefix  = "chat:session:"
	externalKeyPrefix = "chat:session:ext:"
)

// Store is the persistence contract the manager depends on.
type Store interface {
	Save(ctx context.Context, sess *Session) error
	Load(ctx context.Context, id string) (*Session, error)
	LookupExternal(ctx context.Context, externalID string) (string, error)
	ListIDs(ctx context.Context) ([]string, error)
}

// RedisStore persists session snapshots as JSON values.
type RedisStore struct {
	client *redis.Client
	tracer trace.Tracer
}

// NewRedisStore creates a Redis-backed session store.
func NewRedisStore(client *redis.Client) *RedisStore {
	if client == nil {
		panic("session: redis client cannot be nil")
	}
	return &RedisStore{
		client: client,
		tracer: otel.Tracer("atlasgrove.internal.session.store"),
	}
}

// Save persists the session and its external-id index entry.
func (s *RedisStore) Save(ctx context.Context, sess *Session) error {
	ctx, span := s.tracer.Start(ctx, "session.save")
	defer span.End()

	data, err := json.Marshal(sess)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("session: failed to marshal session: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, sessionKey(sess.ID), data, 0)
	if sess.ExternalID != "" {
		pipe.Set(ctx, externalKey(sess.ExternalID), sess.ID, 0)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		span.RecordError(err)
		return fmt.Errorf("session: failed to persist session: %w", err)
	}
	return nil
}

// Load retrieves a session snapshot by id.
func (s *RedisStore) Load(ctx context.Context, id string) (*Session, error) {
	ctx, span := s.tracer.Start(ctx, "session.load")
	defer span.End()

	data, err := s.client.Get(ctx, sessionKey(id)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrNotFound
		}
		span.RecordError(err)
		return nil, fmt.Errorf("session: failed to load session: %w", err)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("session: failed to decode session: %w", err)
	}
	return &sess, nil
}

// LookupExternal resolves an external session id to the internal id.
func (s *RedisStore) LookupExternal(ctx context.Context, externalID string) (string, error) {
	id, err := s.client.Get(ctx, externalKey(externalID)).Result()
	if err != nil {
		if err == redis.Nil {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("session: failed to resolve external id: %w", err)
	}
	return id, nil
}

// ListIDs scans for every stored session id. The sweep uses this.
func (s *RedisStore) ListIDs(ctx context.Context) ([]string, error) {
	var (
		cursor uint64
		ids    []string
	)
	for {
		keys, next, err := s.client.Scan(ctx, cursor, sessionKeyPrefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("session: scan failed: %w", err)
		}
		for _, key := range keys {
			// The external index shares the session prefix; skip it.
			if len(key) >= len(externalKeyPrefix) && key[:len(externalKeyPrefix)] == externalKeyPrefix {
				continue
			}
			ids = append(ids, key[len(sessionKeyPrefix):])
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return ids, nil
}

func sessionKey(id string) string {
	return sessionKeyPrefix + id
}

func externalKey(externalID string) string {
	return externalKeyPrefix + externalID
}
