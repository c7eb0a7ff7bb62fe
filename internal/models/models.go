// Package models defines the core data structures for the pre-consultation
// interview engine.
//
// It includes the transcript message types, red-flag events, the turn decision
// contract exchanged with the language-model collaborator, and the persisted
// interview record shared across modules.
package models

import (
	"errors"
	"time"
)

// Speaker identifies who authored a transcript message.
type Speaker string

const (
	// SpeakerInterviewer marks messages authored by the interview agent.
	SpeakerInterviewer Speaker = "interviewer"
	// SpeakerPatient marks messages authored by the patient.
	SpeakerPatient Speaker = "patient"
)

// Message flag values attached to red-flag related transcript entries.
const (
	FlagRedFlag         = "red_flag"
	FlagRedFlagResponse = "red_flag_response"
	FlagRedFlagEnding   = "red_flag_ending"
	FlagRedFlagContinue = "red_flag_continue"
)

// InterviewStatus represents the lifecycle status of an interview.
type InterviewStatus string

const (
	// StatusInProgress indicates the interview is still running.
	StatusInProgress InterviewStatus = "in_progress"
	// StatusCompleted indicates the interview finished normally.
	StatusCompleted InterviewStatus = "completed"
	// StatusEndedEarlyEmergency indicates the interview was cut short after a
	// red flag was escalated and the patient agreed to seek urgent care.
	StatusEndedEarlyEmergency InterviewStatus = "ended_early_emergency"
)

// IsTerminal reports whether the status is a terminal state.
func (s InterviewStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusEndedEarlyEmergency
}

// EndReason explains why ShouldTerminate decided to stop (or not).
type EndReason string

const (
	// EndReasonContinue means the interview should keep going.
	EndReasonContinue EndReason = "continue"
	// EndReasonCompleted means all required topics (or the closing topic) are done.
	EndReasonCompleted EndReason = "completed"
	// EndReasonMaxQuestions means the hard question budget was exhausted.
	EndReasonMaxQuestions EndReason = "max_questions"
	// EndReasonEmergency means a red-flag escalation ended the interview.
	EndReasonEmergency EndReason = "emergency"
)

// Severity grades a red-flag category.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityModerate Severity = "moderate"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// IsValidSeverity checks if the given severity is one of the known grades.
func IsValidSeverity(s Severity) bool {
	switch s {
	case SeverityLow, SeverityModerate, SeverityHigh, SeverityCritical:
		return true
	default:
		return false
	}
}

// RedFlagAction records how the engine responded to a detected red flag.
type RedFlagAction string

const (
	// ActionAwaitingResponse means the emergency message was sent and the
	// engine is waiting for the patient's acknowledgement.
	ActionAwaitingResponse RedFlagAction = "awaiting_response"
	// ActionEndedConversation means the patient agreed to seek urgent care
	// and the interview ended.
	ActionEndedConversation RedFlagAction = "ended_conversation"
	// ActionContinuedWithWarning means the patient declined and the interview
	// resumed with a safety caveat recorded.
	ActionContinuedWithWarning RedFlagAction = "continued_with_warning"
)

// Patient responses recorded on a resolved red-flag event.
const (
	RedFlagResponseAgreed   = "agreed"
	RedFlagResponseDeclined = "declined"
)

// Message is a single transcript entry. Messages are append-only and never
// mutated once recorded.
type Message struct {
	Speaker   Speaker   `json:"speaker"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	Topic     string    `json:"topic,omitempty"`
	Flags     []string  `json:"flags,omitempty"`
}

// RedFlagEvent records one detected emergency signal. It is created in the
// awaiting_response state and mutated exactly once when the patient's
// acknowledgement is interpreted.
type RedFlagEvent struct {
	Category        string        `json:"category"`
	Severity        Severity      `json:"severity"`
	TriggeredAt     time.Time     `json:"triggered_at"`
	PatientResponse string        `json:"patient_response,omitempty"`
	ActionTaken     RedFlagAction `json:"action_taken"`
}

// TurnDecision is the structured decision requested from the language-model
// collaborator each turn. Every field is independently defaulted during
// validation; the engine never trusts the collaborator to enforce checklist
// invariants.
type TurnDecision struct {
	ConversationComplete bool     `json:"conversation_complete"`
	TopicsCompleted      []string `json:"topics_completed"`
	OptionalTopicsToSkip []string `json:"optional_topics_to_skip"`
	ActivateTopics       []string `json:"activate_topics,omitempty"`
	CurrentTopic         string   `json:"current_topic"`
	NextQuestion         string   `json:"next_question"`
	RedFlagDetected      bool     `json:"red_flag_detected,omitempty"`
	RedFlagCategory      string   `json:"red_flag_category,omitempty"`
}

// ScreenResult is a positive red-flag screening outcome. A nil result from the
// screener means no flag was detected.
type ScreenResult struct {
	Category string   `json:"category"`
	Severity Severity `json:"severity"`
}

// InterviewRecord is the JSON-serializable snapshot of one interview, produced
// for persistence once the interview reaches a terminal state. Downstream
// summary generation consumes this record as its sole input.
type InterviewRecord struct {
	ConversationID  string          `json:"conversation_id"`
	PatientName     string          `json:"patient_name"`
	DoctorName      string          `json:"doctor_name"`
	AppointmentID   string          `json:"appointment_id,omitempty"`
	StartedAt       time.Time       `json:"started_at"`
	EndedAt         *time.Time      `json:"ended_at,omitempty"`
	Status          InterviewStatus `json:"status"`
	QuestionCount   int             `json:"question_count"`
	MaxQuestions    int             `json:"max_questions"`
	Transcript      []Message       `json:"transcript"`
	TopicsCompleted []string        `json:"topics_completed"`
	RedFlags        []RedFlagEvent  `json:"red_flags"`
}

// Progress summarizes interview pacing counters for the decision instruction
// and the HTTP surface.
type Progress struct {
	QuestionsAsked          int             `json:"questions_asked"`
	MaxQuestions            int             `json:"max_questions"`
	RequiredTopicsCompleted int             `json:"required_topics_completed"`
	RequiredTopicsTotal     int             `json:"required_topics_total"`
	OptionalTopicsCompleted int             `json:"optional_topics_completed"`
	OptionalTopicsTotal     int             `json:"optional_topics_total"`
	Status                  InterviewStatus `json:"status"`
}

// Error variables for better error handling and testability
var (
	// ErrDecisionTransport marks a network/service failure from the decision
	// or screening collaborator. The orchestrator downgrades it to a fallback.
	ErrDecisionTransport = errors.New("decision collaborator transport failure")
	// ErrDecisionSchema marks collaborator output that did not match the
	// expected decision structure.
	ErrDecisionSchema = errors.New("decision response does not match schema")
	// ErrInterviewEnded marks a caller-contract violation: operating on an
	// interview that already reached a terminal state.
	ErrInterviewEnded = errors.New("interview already in terminal state")
	// ErrUnknownTopic marks a topic id absent from the checklist.
	ErrUnknownTopic = errors.New("topic not present in checklist")
	// ErrEmptyUtterance is returned when a turn is submitted with no text.
	ErrEmptyUtterance = errors.New("patient utterance cannot be empty")
)
