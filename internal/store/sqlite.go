// Package store provides persistence backends for finished interview
// records.
//
// This file implements the SQLite-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "embed"

	_ "github.com/mattn/go-sqlite3"

	"github.com/oakhealth/preconsult/internal/models"
)

// DefaultDirPermissions defines the default permissions for database
// directories.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore persists interview records in an SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store. The DSN is a file path; the
// parent directory is created when missing.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("store.NewSQLiteStore: creating SQLite store", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run SQLite migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("store.NewSQLiteStore: migrations applied")

	return &SQLiteStore{db: db}, nil
}

// SaveInterview stores or replaces the record for its conversation id.
func (s *SQLiteStore) SaveInterview(rec models.InterviewRecord) error {
	transcript, topics, redFlags, err := recordJSONColumns(rec)
	if err != nil {
		slog.Error("SQLiteStore SaveInterview marshal failed", "error", err, "conversationID", rec.ConversationID)
		return err
	}

	query := `
		INSERT OR REPLACE INTO interviews
		(conversation_id, patient_name, doctor_name, appointment_id, started_at, ended_at,
		 status, question_count, max_questions, transcript, topics_completed, red_flags)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	var endedAt interface{}
	if rec.EndedAt != nil {
		endedAt = *rec.EndedAt
	}
	_, err = s.db.Exec(query,
		rec.ConversationID, rec.PatientName, rec.DoctorName, nilIfEmpty(rec.AppointmentID),
		rec.StartedAt, endedAt, rec.Status, rec.QuestionCount, rec.MaxQuestions,
		transcript, topics, redFlags)
	if err != nil {
		slog.Error("SQLiteStore SaveInterview failed", "error", err, "conversationID", rec.ConversationID)
		return fmt.Errorf("failed to insert interview %s: %w", rec.ConversationID, err)
	}
	slog.Debug("SQLiteStore SaveInterview succeeded", "conversationID", rec.ConversationID, "status", rec.Status)
	return nil
}

// GetInterview retrieves a record by conversation id; nil when absent.
func (s *SQLiteStore) GetInterview(conversationID string) (*models.InterviewRecord, error) {
	query := `SELECT conversation_id, patient_name, doctor_name, appointment_id, started_at, ended_at,
			  status, question_count, max_questions, transcript, topics_completed, red_flags
			  FROM interviews WHERE conversation_id = ?`

	rec, err := scanInterview(s.db.QueryRow(query, conversationID))
	if err == sql.ErrNoRows {
		slog.Debug("SQLiteStore GetInterview not found", "conversationID", conversationID)
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetInterview failed", "error", err, "conversationID", conversationID)
		return nil, fmt.Errorf("failed to query interview %s: %w", conversationID, err)
	}
	return &rec, nil
}

// ListInterviews returns all stored records.
func (s *SQLiteStore) ListInterviews() ([]models.InterviewRecord, error) {
	query := `SELECT conversation_id, patient_name, doctor_name, appointment_id, started_at, ended_at,
			  status, question_count, max_questions, transcript, topics_completed, red_flags
			  FROM interviews ORDER BY started_at`

	rows, err := s.db.Query(query)
	if err != nil {
		slog.Error("SQLiteStore ListInterviews query failed", "error", err)
		return nil, fmt.Errorf("failed to query interviews: %w", err)
	}
	defer rows.Close()

	var records []models.InterviewRecord
	for rows.Next() {
		rec, err := scanInterview(rows)
		if err != nil {
			slog.Error("SQLiteStore ListInterviews scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan interview row: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		slog.Error("SQLiteStore ListInterviews rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate interview rows: %w", err)
	}
	slog.Debug("SQLiteStore ListInterviews succeeded", "count", len(records))
	return records, nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
