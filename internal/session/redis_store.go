// Package session provides a Redis-backed store for refresh sessions and the
// revoked access token denylist. It is wire-compatible with the database
// implementation so deployments can pick either.
package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"taskboard/api/internal/store"
)

const (
	sessionPrefix      = "session:"
	userSessionsPrefix = "user_sessions:"
	revokedPrefix      = "revoked:"
)

type sessionRecord struct {
	UserID    string    `json:"user_id"`
	TokenHash string    `json:"token_hash"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// RedisStore keeps one key per session plus a per-user set so logout-all can
// find every session without a scan. Expiry is delegated to Redis TTLs, so
// the prune methods are no-ops.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisStore{client: client}, nil
}

func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) CreateSession(ctx context.Context, session store.RefreshSession) error {
	record := sessionRecord{
		UserID:    session.UserID,
		TokenHash: session.TokenHash,
		ExpiresAt: session.ExpiresAt,
		CreatedAt: time.Now(),
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	ttl := time.Until(session.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("session already expired")
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, sessionPrefix+session.ID, payload, ttl)
	pipe.SAdd(ctx, userSessionsPrefix+session.UserID, session.ID)
	pipe.Expire(ctx, userSessionsPrefix+session.UserID, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// FindActiveSession returns sql.ErrNoRows for missing or expired sessions so
// callers see the same not-found contract as the database-backed store.
func (s *RedisStore) FindActiveSession(ctx context.Context, sessionID string) (store.RefreshSession, error) {
	payload, err := s.client.Get(ctx, sessionPrefix+sessionID).Result()
	if errors.Is(err, redis.Nil) {
		return store.RefreshSession{}, sql.ErrNoRows
	}
	if err != nil {
		return store.RefreshSession{}, fmt.Errorf("lookup session: %w", err)
	}

	var record sessionRecord
	if err := json.Unmarshal([]byte(payload), &record); err != nil {
		return store.RefreshSession{}, fmt.Errorf("unmarshal session: %w", err)
	}
	if !record.ExpiresAt.After(time.Now()) {
		return store.RefreshSession{}, sql.ErrNoRows
	}

	return store.RefreshSession{
		ID:        sessionID,
		UserID:    record.UserID,
		TokenHash: record.TokenHash,
		ExpiresAt: record.ExpiresAt,
		CreatedAt: record.CreatedAt,
	}, nil
}

func (s *RedisStore) DeleteSession(ctx context.Context, sessionID string) error {
	payload, err := s.client.Get(ctx, sessionPrefix+sessionID).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("lookup session: %w", err)
	}

	var record sessionRecord
	if err := json.Unmarshal([]byte(payload), &record); err == nil {
		s.client.SRem(ctx, userSessionsPrefix+record.UserID, sessionID)
	}
	if err := s.client.Del(ctx, sessionPrefix+sessionID).Err(); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (s *RedisStore) DeleteUserSessions(ctx context.Context, userID string) error {
	setKey := userSessionsPrefix + userID
	ids, err := s.client.SMembers(ctx, setKey).Result()
	if err != nil {
		return fmt.Errorf("list user sessions: %w", err)
	}

	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, sessionPrefix+id)
	}
	keys = append(keys, setKey)
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("delete user sessions: %w", err)
	}
	return nil
}

// PruneExpiredSessions is a no-op; Redis TTLs evict expired sessions.
func (s *RedisStore) PruneExpiredSessions(ctx context.Context) error {
	return nil
}

func (s *RedisStore) RecordRevokedAccessToken(ctx context.Context, jti, userID string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}
	if err := s.client.Set(ctx, revokedPrefix+jti, userID, ttl).Err(); err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *RedisStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	_, err := s.client.Get(ctx, revokedPrefix+jti).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return true, nil
}

// PruneExpiredRevokedAccessTokens is a no-op; Redis TTLs evict stale entries.
func (s *RedisStore) PruneExpiredRevokedAccessTokens(ctx context.Context) error {
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
