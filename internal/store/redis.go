// Package store provides persistence backends for finished interview
// records.
//
// This file implements the Redis-backed store.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/oakhealth/preconsult/internal/models"
)

const (
	// redisKeyPrefix namespaces interview record keys.
	redisKeyPrefix = "preconsult:interview:"
	// redisIndexKey holds the set of stored conversation ids.
	redisIndexKey = "preconsult:interviews"
)

// RedisStore persists interview records as JSON values in Redis. A set of
// conversation ids doubles as the listing index.
type RedisStore struct {
	client *redis.Client
	ctx    context.Context
}

// NewRedisStore creates a new Redis store based on provided options.
func NewRedisStore(opts ...Option) (*RedisStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("store.NewRedisStore: creating Redis store", "addr_set", cfg.RedisAddr != "")

	if cfg.RedisAddr == "" {
		slog.Error("RedisStore address not set")
		return nil, fmt.Errorf("redis address not set")
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		slog.Error("Redis ping failed", "error", err, "addr", cfg.RedisAddr)
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.RedisAddr, err)
	}

	return &RedisStore{client: client, ctx: ctx}, nil
}

func redisKey(conversationID string) string {
	return redisKeyPrefix + conversationID
}

// SaveInterview stores or replaces the record for its conversation id.
func (s *RedisStore) SaveInterview(rec models.InterviewRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		slog.Error("RedisStore SaveInterview marshal failed", "error", err, "conversationID", rec.ConversationID)
		return fmt.Errorf("failed to marshal interview %s: %w", rec.ConversationID, err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(s.ctx, redisKey(rec.ConversationID), payload, 0)
	pipe.SAdd(s.ctx, redisIndexKey, rec.ConversationID)
	if _, err := pipe.Exec(s.ctx); err != nil {
		slog.Error("RedisStore SaveInterview failed", "error", err, "conversationID", rec.ConversationID)
		return fmt.Errorf("failed to store interview %s: %w", rec.ConversationID, err)
	}
	slog.Debug("RedisStore SaveInterview succeeded", "conversationID", rec.ConversationID, "status", rec.Status)
	return nil
}

// GetInterview retrieves a record by conversation id; nil when absent.
func (s *RedisStore) GetInterview(conversationID string) (*models.InterviewRecord, error) {
	payload, err := s.client.Get(s.ctx, redisKey(conversationID)).Result()
	if err == redis.Nil {
		slog.Debug("RedisStore GetInterview not found", "conversationID", conversationID)
		return nil, nil
	}
	if err != nil {
		slog.Error("RedisStore GetInterview failed", "error", err, "conversationID", conversationID)
		return nil, fmt.Errorf("failed to get interview %s: %w", conversationID, err)
	}

	var rec models.InterviewRecord
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		slog.Error("RedisStore GetInterview unmarshal failed", "error", err, "conversationID", conversationID)
		return nil, fmt.Errorf("failed to unmarshal interview %s: %w", conversationID, err)
	}
	return &rec, nil
}

// ListInterviews returns all stored records, sorted by started time.
func (s *RedisStore) ListInterviews() ([]models.InterviewRecord, error) {
	ids, err := s.client.SMembers(s.ctx, redisIndexKey).Result()
	if err != nil {
		slog.Error("RedisStore ListInterviews index read failed", "error", err)
		return nil, fmt.Errorf("failed to read interview index: %w", err)
	}

	var records []models.InterviewRecord
	for _, id := range ids {
		rec, err := s.GetInterview(id)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			// Index entry without a value key; skip rather than fail the listing.
			slog.Warn("RedisStore ListInterviews dangling index entry", "conversationID", id)
			continue
		}
		records = append(records, *rec)
	}
	sortRecordsByStart(records)
	slog.Debug("RedisStore ListInterviews succeeded", "count", len(records))
	return records, nil
}

// Close closes the Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
