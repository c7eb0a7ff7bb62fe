// Package store provides persistence backends for finished interview
// records.
//
// It includes an in-memory store for tests, plus SQLite, PostgreSQL and Redis
// backed stores behind one Store interface.
package store

import (
	"sort"
	"strings"
	"sync"

	"github.com/oakhealth/preconsult/internal/models"
)

// Store persists interview record snapshots.
type Store interface {
	// SaveInterview stores or replaces the record for its conversation id.
	SaveInterview(rec models.InterviewRecord) error
	// GetInterview retrieves a record by conversation id; nil when absent.
	GetInterview(conversationID string) (*models.InterviewRecord, error)
	// ListInterviews returns all stored records.
	ListInterviews() ([]models.InterviewRecord, error)
	// Close releases backend resources.
	Close() error
}

// Opts holds store configuration.
type Opts struct {
	// DSN is the SQLite file path or PostgreSQL connection string.
	DSN string
	// RedisAddr selects the Redis backend when set.
	RedisAddr string
}

// Option configures a store backend.
type Option func(*Opts)

// WithSQLiteDSN configures the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN configures the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithRedisAddr configures the Redis server address.
func WithRedisAddr(addr string) Option {
	return func(o *Opts) { o.RedisAddr = addr }
}

// DetectDSNType classifies a DSN as "postgres" or "sqlite". File paths are
// assumed to be SQLite databases.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}

// InMemoryStore is a map-backed Store for tests and ephemeral runs.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string]models.InterviewRecord
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[string]models.InterviewRecord)}
}

// SaveInterview stores or replaces a record.
func (s *InMemoryStore) SaveInterview(rec models.InterviewRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ConversationID] = rec
	return nil
}

// GetInterview retrieves a record by conversation id.
func (s *InMemoryStore) GetInterview(conversationID string) (*models.InterviewRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[conversationID]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

// ListInterviews returns all records sorted by conversation id for
// deterministic output.
func (s *InMemoryStore) ListInterviews() ([]models.InterviewRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.InterviewRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConversationID < out[j].ConversationID })
	return out, nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error { return nil }
