// Package summary generates the post-interview outputs handed to the GP: a
// short scan-read summary, a detailed clinical summary, preparation items and
// probable conditions. It consumes a finished interview record and never
// touches live conversation state.
package summary

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/openai/openai-go"

	"github.com/oakhealth/preconsult/internal/genai"
	"github.com/oakhealth/preconsult/internal/models"
)

// Generation temperatures. Summaries want consistency; condition suggestions
// tolerate a little more variation.
const (
	summaryTemperature    = 0.3
	prepItemsTemperature  = 0.4
	conditionsTemperature = 0.5
)

// DefaultOutputDir is where SaveOutputs writes summary files unless told
// otherwise.
const DefaultOutputDir = "data/summaries"

const shortSummaryPrompt = `You are a medical documentation assistant.

Generate a BRIEF 30-second read summary (2-3 sentences maximum) of this patient conversation.

Focus ONLY on:
- Primary concern (what's wrong)
- Key symptoms
- What patient hopes to achieve

Keep it extremely concise and clinical. This is for a busy GP to scan quickly before the appointment.

Do NOT include: past medical history, medications, or detailed questions asked.`

const longSummaryPrompt = `You are a medical documentation assistant creating a detailed clinical summary.

Generate a structured summary with these sections:

**PRIMARY CONCERN**
One line describing main reason for visit.

**KEY SYMPTOMS**
List 2-4 main symptoms with duration and character.

**HISTORY OF PRESENTING COMPLAINT**
Onset, progression, severity, triggers/relievers, associated symptoms, impact on daily life.

**IDEAS, CONCERNS, EXPECTATIONS (ICE)**
- What patient thinks is causing it
- What worries them
- What they hope to achieve from appointment

**PAST MEDICAL HISTORY**
Chronic conditions, previous surgeries, similar episodes.

**CURRENT MEDICATIONS**
List all medications with doses if mentioned. Include allergies.

**SOCIAL HISTORY**
Smoking, alcohol, occupation, living situation, relevant lifestyle factors.

**RED FLAGS**
Any concerning symptoms mentioned or explicitly denied (e.g., "denies chest pain, breathlessness").

Use clear clinical language. Be thorough but concise.`

const prepItemsPrompt = `You are a medical preparation assistant. Based on this patient conversation, generate a list of 2-5 specific items the GP should prepare or have ready for the appointment.
Examples:
- "Recent blood pressure readings"
- "ECG results from last visit"
- "Current medication list"
- "Blood glucose monitoring log"
- "Previous imaging reports"
Respond with ONLY a comma-separated list, no numbering or bullets.`

const conditionsPrompt = `You are a clinical reasoning assistant helping a GP prepare for a consultation. Based on the patient's presentation, suggest 2-4 probable conditions that should be considered.
For each condition, provide:
1. Condition name
2. Brief rationale (which symptoms/factors support this)

Format your response as:
CONDITION: [name]
RATIONALE: [1-2 sentences]

CONDITION: [name]
RATIONALE: [1-2 sentences]

Remember: This is clinical decision support for the GP, not a diagnosis. Focus on common presentations first.`

// Condition is one suggested differential with its supporting rationale.
// These are for the GP only and never shown to the patient.
type Condition struct {
	Condition string `json:"condition"`
	Rationale string `json:"rationale"`
}

// Stats aggregates pacing metadata for the summary file.
type Stats struct {
	TotalMessages   int     `json:"total_messages"`
	QuestionsAsked  int     `json:"questions_asked"`
	TopicsCovered   int     `json:"topics_covered"`
	DurationMinutes float64 `json:"duration_minutes"`
}

// RedFlagNote is the compact red-flag representation included in summaries.
type RedFlagNote struct {
	Category    string               `json:"category"`
	Severity    models.Severity      `json:"severity"`
	ActionTaken models.RedFlagAction `json:"action_taken"`
}

// Outputs bundles everything generated from one finished interview.
type Outputs struct {
	ConversationID     string           `json:"conversation_id"`
	PatientName        string           `json:"patient_name"`
	DoctorName         string           `json:"doctor_name"`
	AppointmentID      string           `json:"appointment_id,omitempty"`
	CompletedAt        *time.Time       `json:"completed_at,omitempty"`
	FullTranscript     []models.Message `json:"full_transcript"`
	ShortSummary       string           `json:"short_summary"`
	LongSummary        string           `json:"long_summary"`
	WhatToPrepare      []string         `json:"what_to_prepare"`
	ProbableConditions []Condition      `json:"probable_conditions"`
	RedFlags           []RedFlagNote    `json:"red_flags"`
	ConversationStats  Stats            `json:"conversation_stats"`
}

// Generator produces summary outputs from interview records.
type Generator struct {
	client genai.ClientInterface
}

// NewGenerator creates a Generator backed by the given completion client.
func NewGenerator(client genai.ClientInterface) *Generator {
	return &Generator{client: client}
}

// Generate produces all outputs for one finished interview. Generation
// failures degrade to placeholder values per output, never to an error: a
// partial summary is still useful to the GP.
func (g *Generator) Generate(ctx context.Context, rec models.InterviewRecord) Outputs {
	slog.Info("Generator.Generate: generating summary outputs", "conversationID", rec.ConversationID, "messages", len(rec.Transcript))

	transcriptText := formatTranscript(rec.Transcript)

	out := Outputs{
		ConversationID:     rec.ConversationID,
		PatientName:        rec.PatientName,
		DoctorName:         rec.DoctorName,
		AppointmentID:      rec.AppointmentID,
		CompletedAt:        rec.EndedAt,
		FullTranscript:     rec.Transcript,
		ShortSummary:       g.shortSummary(ctx, transcriptText),
		LongSummary:        g.longSummary(ctx, transcriptText),
		WhatToPrepare:      g.prepItems(ctx, transcriptText),
		ProbableConditions: g.probableConditions(ctx, transcriptText),
		RedFlags:           redFlagNotes(rec.RedFlags),
		ConversationStats: Stats{
			TotalMessages:   len(rec.Transcript),
			QuestionsAsked:  rec.QuestionCount,
			TopicsCovered:   len(rec.TopicsCompleted),
			DurationMinutes: durationMinutes(rec),
		},
	}

	slog.Info("Generator.Generate: summary outputs generated", "conversationID", rec.ConversationID,
		"prepItems", len(out.WhatToPrepare), "conditions", len(out.ProbableConditions))
	return out
}

func (g *Generator) shortSummary(ctx context.Context, transcriptText string) string {
	result, err := g.client.GenerateWithTemperature(ctx, []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(shortSummaryPrompt),
		openai.UserMessage("Summarize this conversation in 2-3 sentences:\n\n" + transcriptText),
	}, summaryTemperature)
	if err != nil {
		slog.Error("Generator.shortSummary: generation failed", "error", err)
		return "Summary unavailable."
	}
	return result
}

func (g *Generator) longSummary(ctx context.Context, transcriptText string) string {
	result, err := g.client.GenerateWithTemperature(ctx, []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(longSummaryPrompt),
		openai.UserMessage("Generate detailed clinical summary:\n\n" + transcriptText),
	}, summaryTemperature)
	if err != nil {
		slog.Error("Generator.longSummary: generation failed", "error", err)
		return "Detailed summary unavailable."
	}
	return result
}

func (g *Generator) prepItems(ctx context.Context, transcriptText string) []string {
	result, err := g.client.GenerateWithTemperature(ctx, []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(prepItemsPrompt),
		openai.UserMessage("Based on this conversation, what should the GP prepare?\n\n" + transcriptText),
	}, prepItemsTemperature)
	if err != nil {
		slog.Error("Generator.prepItems: generation failed", "error", err)
		return defaultPrepItems()
	}
	items := ParsePrepItems(result)
	if len(items) == 0 {
		return defaultPrepItems()
	}
	return items
}

func (g *Generator) probableConditions(ctx context.Context, transcriptText string) []Condition {
	result, err := g.client.GenerateWithTemperature(ctx, []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(conditionsPrompt),
		openai.UserMessage("What conditions should the GP consider based on this presentation?\n\n" + transcriptText),
	}, conditionsTemperature)
	if err != nil {
		slog.Error("Generator.probableConditions: generation failed", "error", err)
		return defaultConditions()
	}
	conditions := ParseConditions(result)
	if len(conditions) == 0 {
		return defaultConditions()
	}
	return conditions
}

// ParsePrepItems splits a comma-separated preparation list, dropping empty
// entries.
func ParsePrepItems(raw string) []string {
	var items []string
	for _, part := range strings.Split(raw, ",") {
		item := strings.TrimSpace(part)
		if item != "" {
			items = append(items, item)
		}
	}
	return items
}

// ParseConditions parses the CONDITION/RATIONALE line protocol. A condition
// without a rationale is dropped; a trailing pair is kept.
func ParseConditions(raw string) []Condition {
	var conditions []Condition
	var current, rationale string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "CONDITION:"):
			if current != "" && rationale != "" {
				conditions = append(conditions, Condition{Condition: current, Rationale: rationale})
			}
			current = strings.TrimSpace(strings.TrimPrefix(line, "CONDITION:"))
			rationale = ""
		case strings.HasPrefix(line, "RATIONALE:"):
			rationale = strings.TrimSpace(strings.TrimPrefix(line, "RATIONALE:"))
		}
	}
	if current != "" && rationale != "" {
		conditions = append(conditions, Condition{Condition: current, Rationale: rationale})
	}
	return conditions
}

func defaultPrepItems() []string {
	return []string{"Recent vital signs", "Current medication list"}
}

func defaultConditions() []Condition {
	return []Condition{{
		Condition: "Further assessment needed",
		Rationale: "Insufficient information to suggest specific differential diagnoses. Recommend comprehensive clinical examination.",
	}}
}

// formatTranscript renders the transcript as SPEAKER: text lines for prompt
// context.
func formatTranscript(transcript []models.Message) string {
	lines := make([]string, 0, len(transcript))
	for _, msg := range transcript {
		lines = append(lines, fmt.Sprintf("%s: %s", strings.ToUpper(string(msg.Speaker)), msg.Text))
	}
	return strings.Join(lines, "\n")
}

func redFlagNotes(flags []models.RedFlagEvent) []RedFlagNote {
	notes := make([]RedFlagNote, 0, len(flags))
	for _, f := range flags {
		notes = append(notes, RedFlagNote{Category: f.Category, Severity: f.Severity, ActionTaken: f.ActionTaken})
	}
	return notes
}

func durationMinutes(rec models.InterviewRecord) float64 {
	if rec.EndedAt == nil {
		return 0
	}
	minutes := rec.EndedAt.Sub(rec.StartedAt).Minutes()
	// One decimal place matches what the summary viewer expects.
	return float64(int(minutes*10+0.5)) / 10
}

// SaveOutputs writes the outputs as an indented JSON file named
// SUMMARY_<timestamp>_<patient>.json under dir, creating it if needed.
func SaveOutputs(out Outputs, dir string) (string, error) {
	if dir == "" {
		dir = DefaultOutputDir
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create summary directory: %w", err)
	}

	name := out.PatientName
	if name == "" {
		name = "Unknown"
	}
	name = strings.ReplaceAll(name, " ", "_")
	filename := fmt.Sprintf("SUMMARY_%s_%s.json", time.Now().Format("20060102_150405"), name)
	path := filepath.Join(dir, filename)

	payload, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal summary outputs: %w", err)
	}
	if err := os.WriteFile(path, payload, 0644); err != nil {
		return "", fmt.Errorf("failed to write summary file: %w", err)
	}
	slog.Info("summary.SaveOutputs: summary saved", "path", path)
	return path, nil
}
