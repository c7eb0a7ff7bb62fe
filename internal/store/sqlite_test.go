package store

import (
	"path/filepath"
	"testing"
	"time"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "interviews.db")
	st, err := NewSQLiteStore(WithSQLiteDSN(dbPath))
	if err != nil {
		t.Fatalf("failed to create SQLite store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	st := newTestSQLiteStore(t)

	rec := sampleRecord("conv-1", time.Now().UTC().Truncate(time.Second))
	if err := st.SaveInterview(rec); err != nil {
		t.Fatalf("SaveInterview failed: %v", err)
	}

	got, err := st.GetInterview("conv-1")
	if err != nil {
		t.Fatalf("GetInterview failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected a record")
	}
	assertRecordMatch(t, rec, *got)
}

func TestSQLiteStoreMissingRecord(t *testing.T) {
	st := newTestSQLiteStore(t)

	got, err := st.GetInterview("no-such-id")
	if err != nil {
		t.Fatalf("missing record should not error: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for missing record, got %+v", got)
	}
}

func TestSQLiteStoreReplaceAndList(t *testing.T) {
	st := newTestSQLiteStore(t)

	base := time.Now().UTC().Truncate(time.Second)
	if err := st.SaveInterview(sampleRecord("conv-1", base.Add(time.Hour))); err != nil {
		t.Fatalf("SaveInterview failed: %v", err)
	}
	if err := st.SaveInterview(sampleRecord("conv-2", base)); err != nil {
		t.Fatalf("SaveInterview failed: %v", err)
	}

	// Saving the same id replaces the record
	updated := sampleRecord("conv-1", base.Add(time.Hour))
	updated.QuestionCount = 15
	if err := st.SaveInterview(updated); err != nil {
		t.Fatalf("SaveInterview replace failed: %v", err)
	}

	records, err := st.ListInterviews()
	if err != nil {
		t.Fatalf("ListInterviews failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	// Ordered by start time
	if records[0].ConversationID != "conv-2" || records[1].ConversationID != "conv-1" {
		t.Errorf("expected start-time ordering [conv-2 conv-1], got [%s %s]", records[0].ConversationID, records[1].ConversationID)
	}
	if records[1].QuestionCount != 15 {
		t.Errorf("expected replaced record, got question count %d", records[1].QuestionCount)
	}
}

func TestSQLiteStoreEmptyAppointmentID(t *testing.T) {
	st := newTestSQLiteStore(t)

	rec := sampleRecord("conv-1", time.Now().UTC().Truncate(time.Second))
	rec.AppointmentID = ""
	if err := st.SaveInterview(rec); err != nil {
		t.Fatalf("SaveInterview failed: %v", err)
	}

	got, err := st.GetInterview("conv-1")
	if err != nil || got == nil {
		t.Fatalf("GetInterview failed: %v", err)
	}
	if got.AppointmentID != "" {
		t.Errorf("expected empty appointment id, got %q", got.AppointmentID)
	}
}

func TestSQLiteStoreCreatesDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "state", "interviews.db")
	st, err := NewSQLiteStore(WithSQLiteDSN(dbPath))
	if err != nil {
		t.Fatalf("store should create missing directories: %v", err)
	}
	st.Close()
}

func TestSQLiteStoreRequiresDSN(t *testing.T) {
	if _, err := NewSQLiteStore(); err == nil {
		t.Error("missing DSN should fail")
	}
}
