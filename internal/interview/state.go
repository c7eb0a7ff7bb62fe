// Package interview implements the conversation orchestration engine for the
// pre-consultation medical-history interview.
//
// The engine wraps deterministic, auditable control flow (topic coverage,
// question budget, termination, escalation) around the non-deterministic
// language-model collaborator. ConversationState owns the mutable record of
// one interview; the Orchestrator drives turn processing.
package interview

import (
	"log/slog"
	"sort"
	"time"

	"github.com/oakhealth/preconsult/internal/checklist"
	"github.com/oakhealth/preconsult/internal/models"
)

// topicStatus is the per-conversation completion record for one topic. It is
// copied from the shared template at construction so the template itself is
// never mutated.
type topicStatus struct {
	required             bool
	priority             int
	order                int
	completed            bool
	skipped              bool
	dynamicallyActivated bool
}

// covered reports whether the topic no longer needs asking.
func (ts *topicStatus) covered() bool { return ts.completed || ts.skipped }

// Params identifies the participants of a new interview.
type Params struct {
	ConversationID string
	PatientName    string
	DoctorName     string
	AppointmentID  string
}

// ConversationState is the aggregate root for one interview: the transcript,
// per-topic completion flags, red-flag log, question counter, and lifecycle
// status. It is mutated exclusively through the orchestrator's operations and
// is not safe for concurrent turns.
type ConversationState struct {
	conversationID string
	patientName    string
	doctorName     string
	appointmentID  string

	status    models.InterviewStatus
	startedAt time.Time
	endedAt   *time.Time

	messages      []models.Message
	topics        map[string]*topicStatus
	topicOrder    []string
	questionCount int
	maxQuestions  int
	redFlags      []models.RedFlagEvent

	template *checklist.Template
}

// NewConversationState constructs interview state from a checklist template.
// The template is kept as an immutable reference; completion bookkeeping is
// copied per conversation.
func NewConversationState(tmpl *checklist.Template, p Params) *ConversationState {
	st := &ConversationState{
		conversationID: p.ConversationID,
		patientName:    p.PatientName,
		doctorName:     p.DoctorName,
		appointmentID:  p.AppointmentID,
		status:         models.StatusInProgress,
		startedAt:      time.Now(),
		topics:         make(map[string]*topicStatus),
		maxQuestions:   tmpl.Rules.MaxQuestions,
		template:       tmpl,
	}
	for _, topic := range tmpl.OrderedTopics() {
		st.topics[topic.ID] = &topicStatus{
			required: topic.Required,
			priority: topic.Priority,
			order:    len(st.topicOrder),
		}
		st.topicOrder = append(st.topicOrder, topic.ID)
	}
	slog.Debug("interview.NewConversationState: state initialized",
		"conversationID", p.ConversationID, "topics", len(st.topics), "maxQuestions", st.maxQuestions)
	return st
}

// RecordMessage appends a message to the transcript. The question counter is
// incremented only for interviewer-authored messages. Always succeeds.
func (s *ConversationState) RecordMessage(speaker models.Speaker, text, topic string, flags ...string) {
	s.messages = append(s.messages, models.Message{
		Speaker:   speaker,
		Text:      text,
		Timestamp: time.Now(),
		Topic:     topic,
		Flags:     flags,
	})
	if speaker == models.SpeakerInterviewer {
		s.questionCount++
	}
}

// MarkTopicComplete marks a topic as covered. Idempotent; an unknown topic id
// is a logged no-op because downstream collaborators may name topics that do
// not exist in the checklist.
func (s *ConversationState) MarkTopicComplete(topicID string) {
	ts, ok := s.topics[topicID]
	if !ok {
		slog.Warn("interview.MarkTopicComplete: ignoring unknown topic", "conversationID", s.conversationID, "topic", topicID)
		return
	}
	if !ts.completed {
		ts.completed = true
		slog.Debug("interview.MarkTopicComplete: topic completed", "conversationID", s.conversationID, "topic", topicID)
	}
}

// TopicCompleted reports whether a topic has been marked complete.
func (s *ConversationState) TopicCompleted(topicID string) bool {
	ts, ok := s.topics[topicID]
	return ok && ts.completed
}

// MarkTopicSkipped marks an optional topic as deliberately skipped so it
// drops out of the ask queue without counting as covered material. Required
// and unknown topics are logged no-ops; the orchestrator re-validates skip
// claims before calling, this is the state object's own guard.
func (s *ConversationState) MarkTopicSkipped(topicID string) {
	ts, ok := s.topics[topicID]
	if !ok {
		slog.Warn("interview.MarkTopicSkipped: ignoring unknown topic", "conversationID", s.conversationID, "topic", topicID)
		return
	}
	if ts.required {
		slog.Warn("interview.MarkTopicSkipped: refusing to skip required topic", "conversationID", s.conversationID, "topic", topicID)
		return
	}
	if !ts.covered() {
		ts.skipped = true
		slog.Debug("interview.MarkTopicSkipped: optional topic skipped", "conversationID", s.conversationID, "topic", topicID)
	}
}

// ActivateOptionalTopic promotes an optional topic to required. The promotion
// happens at most once and never reverses; already-required or
// already-complete topics are a no-op.
func (s *ConversationState) ActivateOptionalTopic(topicID string) {
	ts, ok := s.topics[topicID]
	if !ok {
		slog.Warn("interview.ActivateOptionalTopic: ignoring unknown topic", "conversationID", s.conversationID, "topic", topicID)
		return
	}
	if ts.required || ts.covered() {
		return
	}
	ts.required = true
	ts.dynamicallyActivated = true
	slog.Info("interview.ActivateOptionalTopic: optional topic promoted to required",
		"conversationID", s.conversationID, "topic", topicID)
}

// IncompleteRequiredTopics returns the required topics not yet complete,
// sorted ascending by priority with ties broken by template declaration
// order. The ordering is deterministic for testability.
func (s *ConversationState) IncompleteRequiredTopics() []string {
	return s.incompleteTopics(true)
}

// incompleteTopics lists incomplete topics filtered by required flag.
func (s *ConversationState) incompleteTopics(required bool) []string {
	var ids []string
	for _, id := range s.topicOrder {
		ts := s.topics[id]
		if ts.required == required && !ts.covered() {
			ids = append(ids, id)
		}
	}
	sort.SliceStable(ids, func(i, j int) bool {
		a, b := s.topics[ids[i]], s.topics[ids[j]]
		if a.priority != b.priority {
			return a.priority < b.priority
		}
		return a.order < b.order
	})
	return ids
}

// NextPriorityTopic returns the highest-priority incomplete required topic,
// falling back to the highest-priority incomplete optional topic. The second
// return is false when no topic remains, which routes the interview to
// closing.
func (s *ConversationState) NextPriorityTopic() (string, bool) {
	if ids := s.incompleteTopics(true); len(ids) > 0 {
		return ids[0], true
	}
	if ids := s.incompleteTopics(false); len(ids) > 0 {
		return ids[0], true
	}
	return "", false
}

// ShouldTerminate evaluates the termination conditions in fixed order:
// emergency flag, hard question cap, closing topic complete, no incomplete
// required topics. The hard cap overrides topic logic so the interview length
// stays bounded regardless of model behavior.
func (s *ConversationState) ShouldTerminate() (bool, models.EndReason) {
	if s.status == models.StatusEndedEarlyEmergency {
		return true, models.EndReasonEmergency
	}
	if s.questionCount >= s.maxQuestions {
		return true, models.EndReasonMaxQuestions
	}
	if s.TopicCompleted(checklist.TopicClosing) {
		return true, models.EndReasonCompleted
	}
	if len(s.IncompleteRequiredTopics()) == 0 {
		return true, models.EndReasonCompleted
	}
	return false, models.EndReasonContinue
}

// RecordRedFlag appends a red-flag event. When the action is
// ended_conversation the terminal status and end timestamp are set atomically
// with the event.
func (s *ConversationState) RecordRedFlag(category string, severity models.Severity, action models.RedFlagAction) {
	s.redFlags = append(s.redFlags, models.RedFlagEvent{
		Category:    category,
		Severity:    severity,
		TriggeredAt: time.Now(),
		ActionTaken: action,
	})
	slog.Info("interview.RecordRedFlag: red flag recorded",
		"conversationID", s.conversationID, "category", category, "severity", severity, "action", action)
	if action == models.ActionEndedConversation {
		s.terminate(models.StatusEndedEarlyEmergency)
	}
}

// ResolveRedFlag mutates the pending red-flag event once with the interpreted
// patient acknowledgement. Returns false when no event is awaiting a
// response.
func (s *ConversationState) ResolveRedFlag(patientResponse string, action models.RedFlagAction) bool {
	for i := len(s.redFlags) - 1; i >= 0; i-- {
		if s.redFlags[i].ActionTaken == models.ActionAwaitingResponse {
			s.redFlags[i].PatientResponse = patientResponse
			s.redFlags[i].ActionTaken = action
			if action == models.ActionEndedConversation {
				s.terminate(models.StatusEndedEarlyEmergency)
			}
			return true
		}
	}
	return false
}

// AwaitingRedFlagAck reports whether a red-flag event is pending patient
// acknowledgement. While true, new red-flag screening is gated off and the
// next patient message is routed to the escalation handler.
func (s *ConversationState) AwaitingRedFlagAck() bool {
	for i := len(s.redFlags) - 1; i >= 0; i-- {
		if s.redFlags[i].ActionTaken == models.ActionAwaitingResponse {
			return true
		}
	}
	return false
}

// End transitions the interview to a terminal status. Calling it on an
// already-terminal interview is a caller-contract error.
func (s *ConversationState) End(status models.InterviewStatus) error {
	if s.status.IsTerminal() {
		return models.ErrInterviewEnded
	}
	if !status.IsTerminal() {
		return models.ErrInterviewEnded
	}
	s.terminate(status)
	return nil
}

// terminate sets the terminal status and end timestamp exactly once.
func (s *ConversationState) terminate(status models.InterviewStatus) {
	if s.status.IsTerminal() {
		return
	}
	s.status = status
	now := time.Now()
	s.endedAt = &now
	slog.Info("interview.terminate: interview ended", "conversationID", s.conversationID, "status", status, "questions", s.questionCount)
}

// Status returns the current lifecycle status.
func (s *ConversationState) Status() models.InterviewStatus { return s.status }

// QuestionCount returns the number of interviewer-authored messages.
func (s *ConversationState) QuestionCount() int { return s.questionCount }

// MaxQuestions returns the hard question budget.
func (s *ConversationState) MaxQuestions() int { return s.maxQuestions }

// ConversationID returns the interview identifier.
func (s *ConversationState) ConversationID() string { return s.conversationID }

// DoctorName returns the doctor participating in the appointment.
func (s *ConversationState) DoctorName() string { return s.doctorName }

// PatientName returns the patient being interviewed.
func (s *ConversationState) PatientName() string { return s.patientName }

// Messages returns a copy of the transcript.
func (s *ConversationState) Messages() []models.Message {
	out := make([]models.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// RecentMessages returns the last n transcript messages, oldest first. Used
// to bound the decision request window.
func (s *ConversationState) RecentMessages(n int) []models.Message {
	if n <= 0 || n >= len(s.messages) {
		return s.Messages()
	}
	out := make([]models.Message, n)
	copy(out, s.messages[len(s.messages)-n:])
	return out
}

// RedFlags returns a copy of the red-flag event log.
func (s *ConversationState) RedFlags() []models.RedFlagEvent {
	out := make([]models.RedFlagEvent, len(s.redFlags))
	copy(out, s.redFlags)
	return out
}

// Progress summarizes pacing counters for the decision instruction and the
// API surface.
func (s *ConversationState) Progress() models.Progress {
	p := models.Progress{
		QuestionsAsked: s.questionCount,
		MaxQuestions:   s.maxQuestions,
		Status:         s.status,
	}
	for _, ts := range s.topics {
		if ts.required {
			p.RequiredTopicsTotal++
			if ts.completed {
				p.RequiredTopicsCompleted++
			}
		} else {
			p.OptionalTopicsTotal++
			if ts.completed {
				p.OptionalTopicsCompleted++
			}
		}
	}
	return p
}

// Snapshot produces the persisted interview record.
func (s *ConversationState) Snapshot() models.InterviewRecord {
	var completed []string
	for _, id := range s.topicOrder {
		if s.topics[id].completed {
			completed = append(completed, id)
		}
	}
	return models.InterviewRecord{
		ConversationID:  s.conversationID,
		PatientName:     s.patientName,
		DoctorName:      s.doctorName,
		AppointmentID:   s.appointmentID,
		StartedAt:       s.startedAt,
		EndedAt:         s.endedAt,
		Status:          s.status,
		QuestionCount:   s.questionCount,
		MaxQuestions:    s.maxQuestions,
		Transcript:      s.Messages(),
		TopicsCompleted: completed,
		RedFlags:        s.RedFlags(),
	}
}
