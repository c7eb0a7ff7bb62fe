// Package store provides persistence backends for finished interview
// records.
//
// This file implements the PostgreSQL-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	_ "github.com/lib/pq"

	"github.com/oakhealth/preconsult/internal/models"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore persists interview records in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("store.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run Postgres migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("store.NewPostgresStore: migrations applied")

	return &PostgresStore{db: db}, nil
}

// SaveInterview stores or replaces the record for its conversation id.
func (s *PostgresStore) SaveInterview(rec models.InterviewRecord) error {
	transcript, topics, redFlags, err := recordJSONColumns(rec)
	if err != nil {
		slog.Error("PostgresStore SaveInterview marshal failed", "error", err, "conversationID", rec.ConversationID)
		return err
	}

	query := `
		INSERT INTO interviews
		(conversation_id, patient_name, doctor_name, appointment_id, started_at, ended_at,
		 status, question_count, max_questions, transcript, topics_completed, red_flags)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (conversation_id) DO UPDATE SET
			ended_at = EXCLUDED.ended_at,
			status = EXCLUDED.status,
			question_count = EXCLUDED.question_count,
			transcript = EXCLUDED.transcript,
			topics_completed = EXCLUDED.topics_completed,
			red_flags = EXCLUDED.red_flags`

	var endedAt interface{}
	if rec.EndedAt != nil {
		endedAt = *rec.EndedAt
	}
	_, err = s.db.Exec(query,
		rec.ConversationID, rec.PatientName, rec.DoctorName, nilIfEmpty(rec.AppointmentID),
		rec.StartedAt, endedAt, rec.Status, rec.QuestionCount, rec.MaxQuestions,
		transcript, topics, redFlags)
	if err != nil {
		slog.Error("PostgresStore SaveInterview failed", "error", err, "conversationID", rec.ConversationID)
		return fmt.Errorf("failed to upsert interview %s: %w", rec.ConversationID, err)
	}
	slog.Debug("PostgresStore SaveInterview succeeded", "conversationID", rec.ConversationID, "status", rec.Status)
	return nil
}

// GetInterview retrieves a record by conversation id; nil when absent.
func (s *PostgresStore) GetInterview(conversationID string) (*models.InterviewRecord, error) {
	query := `SELECT conversation_id, patient_name, doctor_name, appointment_id, started_at, ended_at,
			  status, question_count, max_questions, transcript, topics_completed, red_flags
			  FROM interviews WHERE conversation_id = $1`

	rec, err := scanInterview(s.db.QueryRow(query, conversationID))
	if err == sql.ErrNoRows {
		slog.Debug("PostgresStore GetInterview not found", "conversationID", conversationID)
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetInterview failed", "error", err, "conversationID", conversationID)
		return nil, fmt.Errorf("failed to query interview %s: %w", conversationID, err)
	}
	return &rec, nil
}

// ListInterviews returns all stored records.
func (s *PostgresStore) ListInterviews() ([]models.InterviewRecord, error) {
	query := `SELECT conversation_id, patient_name, doctor_name, appointment_id, started_at, ended_at,
			  status, question_count, max_questions, transcript, topics_completed, red_flags
			  FROM interviews ORDER BY started_at`

	rows, err := s.db.Query(query)
	if err != nil {
		slog.Error("PostgresStore ListInterviews query failed", "error", err)
		return nil, fmt.Errorf("failed to query interviews: %w", err)
	}
	defer rows.Close()

	var records []models.InterviewRecord
	for rows.Next() {
		rec, err := scanInterview(rows)
		if err != nil {
			slog.Error("PostgresStore ListInterviews scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan interview row: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		slog.Error("PostgresStore ListInterviews rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate interview rows: %w", err)
	}
	slog.Debug("PostgresStore ListInterviews succeeded", "count", len(records))
	return records, nil
}

// Close closes the Postgres connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
