package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/oakhealth/preconsult/internal/models"
)

// sortRecordsByStart orders records by start time, oldest first.
func sortRecordsByStart(records []models.InterviewRecord) {
	sort.Slice(records, func(i, j int) bool {
		return records[i].StartedAt.Before(records[j].StartedAt)
	})
}

// rowScanner abstracts sql.Row and sql.Rows for shared scan logic.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// recordJSONColumns marshals the slice-valued record fields into JSON column
// values.
func recordJSONColumns(rec models.InterviewRecord) (transcript, topics, redFlags string, err error) {
	t, err := json.Marshal(rec.Transcript)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to marshal transcript: %w", err)
	}
	tc, err := json.Marshal(rec.TopicsCompleted)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to marshal topics completed: %w", err)
	}
	rf, err := json.Marshal(rec.RedFlags)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to marshal red flags: %w", err)
	}
	return string(t), string(tc), string(rf), nil
}

// scanInterview scans one interview row into a record, decoding the JSON
// columns.
func scanInterview(sc rowScanner) (models.InterviewRecord, error) {
	var rec models.InterviewRecord
	var appointmentID sql.NullString
	var endedAt sql.NullTime
	var transcript, topics, redFlags sql.NullString

	err := sc.Scan(
		&rec.ConversationID, &rec.PatientName, &rec.DoctorName, &appointmentID,
		&rec.StartedAt, &endedAt, &rec.Status, &rec.QuestionCount, &rec.MaxQuestions,
		&transcript, &topics, &redFlags,
	)
	if err != nil {
		return rec, err
	}

	rec.AppointmentID = appointmentID.String
	if endedAt.Valid {
		rec.EndedAt = &endedAt.Time
	}
	if transcript.String != "" {
		if err := json.Unmarshal([]byte(transcript.String), &rec.Transcript); err != nil {
			return rec, fmt.Errorf("failed to unmarshal transcript: %w", err)
		}
	}
	if topics.String != "" {
		if err := json.Unmarshal([]byte(topics.String), &rec.TopicsCompleted); err != nil {
			return rec, fmt.Errorf("failed to unmarshal topics completed: %w", err)
		}
	}
	if redFlags.String != "" {
		if err := json.Unmarshal([]byte(redFlags.String), &rec.RedFlags); err != nil {
			return rec, fmt.Errorf("failed to unmarshal red flags: %w", err)
		}
	}
	return rec, nil
}
