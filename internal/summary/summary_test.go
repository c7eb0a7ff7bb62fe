package summary

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/openai/openai-go"

	"github.com/oakhealth/preconsult/internal/models"
)

// mockClient answers generation calls from a per-prompt script keyed on the
// system message content.
type mockClient struct {
	responses map[string]string
	err       error
	calls     int
}

func (m *mockClient) GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	return m.GenerateWithTemperature(ctx, messages, 0)
}

func (m *mockClient) GenerateWithTemperature(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion, temperature float64) (string, error) {
	m.calls++
	if m.err != nil {
		return "", m.err
	}
	if len(messages) > 0 && messages[0].OfSystem != nil {
		system := messages[0].OfSystem.Content.OfString.Value
		for key, resp := range m.responses {
			if strings.Contains(system, key) {
				return resp, nil
			}
		}
	}
	return "generic response", nil
}

func finishedRecord() models.InterviewRecord {
	started := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	ended := started.Add(14 * time.Minute)
	return models.InterviewRecord{
		ConversationID: "conv-1",
		PatientName:    "John Smith",
		DoctorName:     "Dr. Jones",
		StartedAt:      started,
		EndedAt:        &ended,
		Status:         models.StatusCompleted,
		QuestionCount:  8,
		MaxQuestions:   30,
		Transcript: []models.Message{
			{Speaker: models.SpeakerInterviewer, Text: "What brings you in?"},
			{Speaker: models.SpeakerPatient, Text: "Bad headaches for two weeks"},
		},
		TopicsCompleted: []string{"chief_complaint", "closing"},
		RedFlags: []models.RedFlagEvent{
			{Category: "stroke_symptoms", Severity: models.SeverityCritical, ActionTaken: models.ActionContinuedWithWarning},
		},
	}
}

func TestGenerateAllOutputs(t *testing.T) {
	client := &mockClient{responses: map[string]string{
		"30-second read summary":    "Patient reports two weeks of severe headaches and wants relief.",
		"detailed clinical summary": "**PRIMARY CONCERN**\nSevere headaches for two weeks.",
		"preparation assistant":     "Recent blood pressure readings, Previous imaging reports",
		"clinical reasoning":        "CONDITION: Tension headache\nRATIONALE: Chronic bilateral pattern.\n\nCONDITION: Migraine\nRATIONALE: Severity and duration.",
	}}
	gen := NewGenerator(client)

	out := gen.Generate(context.Background(), finishedRecord())

	if out.ConversationID != "conv-1" || out.PatientName != "John Smith" {
		t.Errorf("unexpected identity fields: %+v", out)
	}
	if out.ShortSummary != "Patient reports two weeks of severe headaches and wants relief." {
		t.Errorf("unexpected short summary: %q", out.ShortSummary)
	}
	if !strings.Contains(out.LongSummary, "PRIMARY CONCERN") {
		t.Errorf("unexpected long summary: %q", out.LongSummary)
	}
	if len(out.WhatToPrepare) != 2 || out.WhatToPrepare[0] != "Recent blood pressure readings" {
		t.Errorf("unexpected prep items: %v", out.WhatToPrepare)
	}
	if len(out.ProbableConditions) != 2 || out.ProbableConditions[0].Condition != "Tension headache" {
		t.Errorf("unexpected conditions: %v", out.ProbableConditions)
	}
	if len(out.RedFlags) != 1 || out.RedFlags[0].Category != "stroke_symptoms" {
		t.Errorf("unexpected red flags: %v", out.RedFlags)
	}
	if out.ConversationStats.TotalMessages != 2 || out.ConversationStats.QuestionsAsked != 8 {
		t.Errorf("unexpected stats: %+v", out.ConversationStats)
	}
	if out.ConversationStats.DurationMinutes != 14.0 {
		t.Errorf("unexpected duration: %v", out.ConversationStats.DurationMinutes)
	}
	if len(out.FullTranscript) != 2 {
		t.Errorf("transcript should pass through, got %d messages", len(out.FullTranscript))
	}
}

func TestGenerateDegradesPerOutput(t *testing.T) {
	gen := NewGenerator(&mockClient{err: errors.New("service down")})

	out := gen.Generate(context.Background(), finishedRecord())

	if out.ShortSummary != "Summary unavailable." {
		t.Errorf("unexpected degraded short summary: %q", out.ShortSummary)
	}
	if out.LongSummary != "Detailed summary unavailable." {
		t.Errorf("unexpected degraded long summary: %q", out.LongSummary)
	}
	if len(out.WhatToPrepare) != 2 || out.WhatToPrepare[0] != "Recent vital signs" {
		t.Errorf("expected default prep items, got %v", out.WhatToPrepare)
	}
	if len(out.ProbableConditions) != 1 || out.ProbableConditions[0].Condition != "Further assessment needed" {
		t.Errorf("expected default conditions, got %v", out.ProbableConditions)
	}
}

func TestParsePrepItems(t *testing.T) {
	items := ParsePrepItems("Recent vitals, Medication list ,  , Imaging reports")
	want := []string{"Recent vitals", "Medication list", "Imaging reports"}
	if len(items) != len(want) {
		t.Fatalf("expected %d items, got %v", len(want), items)
	}
	for i := range want {
		if items[i] != want[i] {
			t.Errorf("item %d: expected %q, got %q", i, want[i], items[i])
		}
	}

	if got := ParsePrepItems("  "); got != nil {
		t.Errorf("blank input should produce no items, got %v", got)
	}
}

func TestParseConditions(t *testing.T) {
	raw := `CONDITION: Tension headache
RATIONALE: Chronic bilateral pattern without red flags.

CONDITION: Migraine
RATIONALE: Episodic severity with nausea.

CONDITION: Orphan without rationale`

	conditions := ParseConditions(raw)
	if len(conditions) != 2 {
		t.Fatalf("expected 2 conditions, got %d: %v", len(conditions), conditions)
	}
	if conditions[0].Condition != "Tension headache" || !strings.Contains(conditions[0].Rationale, "bilateral") {
		t.Errorf("unexpected first condition: %+v", conditions[0])
	}
	if conditions[1].Condition != "Migraine" {
		t.Errorf("unexpected second condition: %+v", conditions[1])
	}

	if got := ParseConditions("no structured content here"); got != nil {
		t.Errorf("unstructured input should produce no conditions, got %v", got)
	}
}

func TestSaveOutputs(t *testing.T) {
	dir := t.TempDir()
	out := Outputs{
		ConversationID: "conv-1",
		PatientName:    "John Smith",
		ShortSummary:   "short",
		WhatToPrepare:  []string{"Medication list"},
	}

	path, err := SaveOutputs(out, dir)
	if err != nil {
		t.Fatalf("SaveOutputs failed: %v", err)
	}

	base := filepath.Base(path)
	if !strings.HasPrefix(base, "SUMMARY_") || !strings.HasSuffix(base, "_John_Smith.json") {
		t.Errorf("unexpected summary filename: %q", base)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read summary file: %v", err)
	}
	var loaded Outputs
	if err := json.Unmarshal(data, &loaded); err != nil {
		t.Fatalf("summary file is not valid JSON: %v", err)
	}
	if loaded.ConversationID != "conv-1" || loaded.ShortSummary != "short" {
		t.Errorf("unexpected file contents: %+v", loaded)
	}
}
