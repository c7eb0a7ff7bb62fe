package interview

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/oakhealth/preconsult/internal/checklist"
	"github.com/oakhealth/preconsult/internal/models"
)

// DefaultHistoryWindow bounds how many transcript messages are sent with each
// decision request, oldest first.
const DefaultHistoryWindow = 20

// DecisionRequest is the payload sent to the decision collaborator each turn.
type DecisionRequest struct {
	// History is the bounded transcript window, oldest first, role-tagged by
	// speaker.
	History []models.Message
	// Instruction enumerates the remaining topics, progress counters, pacing
	// guidance and the expected decision JSON contract.
	Instruction string
}

// DecisionClient produces the raw turn decision from the language-model
// collaborator. The engine parses and re-validates the response itself; a
// returned error is treated as a transport failure and downgraded to a
// fallback decision, never surfaced to the patient.
type DecisionClient interface {
	Decide(ctx context.Context, req DecisionRequest) (string, error)
}

// Screener checks a single patient utterance against the red-flag catalogue.
// A nil result means no flag. Errors are treated as "no flag detected" and
// logged as soft failures.
type Screener interface {
	Screen(ctx context.Context, utterance string, categories map[string]checklist.RedFlagCategory) (*models.ScreenResult, error)
}

// TopicDetector decides whether a patient utterance makes one of the
// remaining optional topics newly relevant. Returns the topic id or "".
type TopicDetector interface {
	DetectRelevantTopic(ctx context.Context, utterance string, optionalTopics []string) (string, error)
}

// Reply is the orchestrator's outbound message for one turn.
type Reply struct {
	Text      string           `json:"text"`
	ShouldEnd bool             `json:"should_end"`
	EndReason models.EndReason `json:"end_reason,omitempty"`
}

// Orchestrator drives one interview: it sequences red-flag screening, topic
// bookkeeping, the completion decision and next-question generation for each
// patient turn. One orchestrator owns one ConversationState; callers must
// finish one ProcessPatientResponse call before submitting the next
// utterance.
type Orchestrator struct {
	state         *ConversationState
	template      *checklist.Template
	decider       DecisionClient
	screener      Screener
	topicDetector TopicDetector
	historyWindow int
	started       bool
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithTopicDetector enables dynamic optional-topic activation.
func WithTopicDetector(d TopicDetector) Option {
	return func(o *Orchestrator) { o.topicDetector = d }
}

// WithHistoryWindow overrides the decision request transcript window.
func WithHistoryWindow(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.historyWindow = n
		}
	}
}

// NewOrchestrator constructs the turn orchestrator for one interview.
func NewOrchestrator(tmpl *checklist.Template, p Params, decider DecisionClient, screener Screener, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		state:         NewConversationState(tmpl, p),
		template:      tmpl,
		decider:       decider,
		screener:      screener,
		historyWindow: DefaultHistoryWindow,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// State exposes the conversation state for inspection and persistence.
func (o *Orchestrator) State() *ConversationState { return o.state }

// Start opens the interview: the template opening message plus the first
// question of the highest-priority topic, recorded as one interviewer
// message.
func (o *Orchestrator) Start(ctx context.Context) (string, error) {
	if o.started {
		return "", fmt.Errorf("interview already started")
	}
	o.started = true

	opening := strings.ReplaceAll(o.template.OpeningMessage, "{doctor_name}", o.state.DoctorName())
	topicID, ok := o.state.NextPriorityTopic()
	firstQuestion := GenericContinuationPrompt
	if ok {
		if topic, found := o.template.Topic(topicID); found && len(topic.Questions) > 0 {
			firstQuestion = topic.Questions[0]
		}
	}

	full := opening
	if full != "" {
		full += "\n\n"
	}
	full += firstQuestion

	o.state.RecordMessage(models.SpeakerInterviewer, full, topicID)
	slog.Info("interview.Start: interview opened", "conversationID", o.state.ConversationID(), "firstTopic", topicID)
	return full, nil
}

// ProcessPatientResponse handles one patient turn: record the utterance,
// screen for red flags, request and apply a decision, decide termination, and
// emit the next outbound message. It never propagates collaborator failures;
// the interview always returns a usable reply or a caller-contract error.
func (o *Orchestrator) ProcessPatientResponse(ctx context.Context, utterance string) (Reply, error) {
	if o.state.Status().IsTerminal() {
		return Reply{}, models.ErrInterviewEnded
	}
	if strings.TrimSpace(utterance) == "" {
		return Reply{}, models.ErrEmptyUtterance
	}

	// A pending red flag routes this utterance to the escalation handler
	// instead of normal decision-making.
	if o.state.AwaitingRedFlagAck() {
		return o.handleRedFlagAck(ctx, utterance)
	}

	o.state.RecordMessage(models.SpeakerPatient, utterance, "")

	// Hard question cap overrides everything else so the interview length is
	// bounded regardless of model behavior.
	if o.state.QuestionCount() >= o.state.MaxQuestions() {
		return o.endWithClosing(models.EndReasonMaxQuestions), nil
	}

	if res := o.screenForRedFlags(ctx, utterance); res != nil {
		return o.raiseRedFlag(res.Category, res.Severity), nil
	}

	o.detectDynamicTopics(ctx, utterance)

	return o.advanceConversation(ctx)
}

// screenForRedFlags runs the screening collaborator. A screening failure is a
// soft failure logged and treated as "no red flag detected" - transport
// errors must never silently escalate or terminate.
func (o *Orchestrator) screenForRedFlags(ctx context.Context, utterance string) *models.ScreenResult {
	if o.screener == nil || len(o.template.RedFlagCategories) == 0 {
		return nil
	}
	res, err := o.screener.Screen(ctx, utterance, o.template.RedFlagCategories)
	if err != nil {
		slog.Warn("interview.screenForRedFlags: screening failed, continuing without flag",
			"conversationID", o.state.ConversationID(), "error", err)
		return nil
	}
	return res
}

// raiseRedFlag records the event, emits the category's canned emergency
// message and enters the awaiting-acknowledgement sub-state. Topic decision
// logic is not invoked this turn.
func (o *Orchestrator) raiseRedFlag(category string, severity models.Severity) Reply {
	if cat, ok := o.template.RedFlagCategories[category]; ok {
		severity = cat.Severity
	} else if !models.IsValidSeverity(severity) {
		severity = models.SeverityModerate
	}

	o.state.RecordRedFlag(category, severity, models.ActionAwaitingResponse)
	msg := o.template.EmergencyMessageFor(category, o.state.DoctorName())
	o.state.RecordMessage(models.SpeakerInterviewer, msg, "", models.FlagRedFlag, category)
	return Reply{Text: msg, ShouldEnd: false, EndReason: models.EndReasonContinue}
}

// detectDynamicTopics promotes a previously-optional topic to required when
// the patient's statement makes it newly relevant. Detection failures are
// soft failures.
func (o *Orchestrator) detectDynamicTopics(ctx context.Context, utterance string) {
	if o.topicDetector == nil {
		return
	}
	optional := o.state.incompleteTopics(false)
	if len(optional) == 0 {
		return
	}
	topicID, err := o.topicDetector.DetectRelevantTopic(ctx, utterance, optional)
	if err != nil {
		slog.Warn("interview.detectDynamicTopics: detection failed, skipping",
			"conversationID", o.state.ConversationID(), "error", err)
		return
	}
	if topicID != "" {
		o.state.ActivateOptionalTopic(topicID)
	}
}

// advanceConversation requests a turn decision, applies the validated topic
// bookkeeping, decides termination, and emits the next question. A failed or
// malformed decision call degrades to a generic continuation - state is
// mutated exactly once per returned (or defaulted) result.
func (o *Orchestrator) advanceConversation(ctx context.Context) (Reply, error) {
	decision := o.requestDecision(ctx)
	validated := o.validateDecision(decision)

	for _, id := range validated.TopicsCompleted {
		o.state.MarkTopicComplete(id)
	}
	for _, id := range validated.OptionalTopicsToSkip {
		o.state.MarkTopicSkipped(id)
	}
	for _, id := range validated.ActivateTopics {
		o.state.ActivateOptionalTopic(id)
	}

	// The decision contract may carry its own red-flag signal; honor it the
	// same way as the screening path.
	if validated.RedFlagDetected && validated.RedFlagCategory != "" {
		return o.raiseRedFlag(validated.RedFlagCategory, models.SeverityModerate), nil
	}

	if validated.ConversationComplete {
		o.state.MarkTopicComplete(checklist.TopicClosing)
	}

	if shouldEnd, reason := o.state.ShouldTerminate(); shouldEnd {
		return o.endWithClosing(reason), nil
	}

	topicID := validated.CurrentTopic
	if topicID == "" {
		topicID, _ = o.state.NextPriorityTopic()
	}
	o.state.RecordMessage(models.SpeakerInterviewer, validated.NextQuestion, topicID)
	return Reply{Text: validated.NextQuestion, ShouldEnd: false, EndReason: models.EndReasonContinue}, nil
}

// requestDecision invokes the decision collaborator and parses its response.
// Transport failures and schema failures both degrade to a fallback decision.
func (o *Orchestrator) requestDecision(ctx context.Context) *models.TurnDecision {
	if o.decider == nil {
		return &models.TurnDecision{NextQuestion: GenericContinuationPrompt}
	}
	raw, err := o.decider.Decide(ctx, DecisionRequest{
		History:     o.state.RecentMessages(o.historyWindow),
		Instruction: o.buildInstruction(),
	})
	if err != nil {
		slog.Warn("interview.requestDecision: decision call failed, using fallback",
			"conversationID", o.state.ConversationID(), "error", fmt.Errorf("%w: %v", models.ErrDecisionTransport, err))
		return &models.TurnDecision{NextQuestion: GenericContinuationPrompt}
	}
	decision, err := ParseDecision(raw)
	if err != nil {
		slog.Warn("interview.requestDecision: degraded decision parse",
			"conversationID", o.state.ConversationID(), "error", err)
	}
	return decision
}

// endWithClosing synthesizes the closing message, records it under the
// closing topic and moves the interview to its terminal state.
func (o *Orchestrator) endWithClosing(reason models.EndReason) Reply {
	msg := o.closingMessage()
	o.state.RecordMessage(models.SpeakerInterviewer, msg, checklist.TopicClosing)
	if !o.state.Status().IsTerminal() {
		if err := o.state.End(models.StatusCompleted); err != nil {
			slog.Error("interview.endWithClosing: terminal transition failed", "conversationID", o.state.ConversationID(), "error", err)
		}
	}
	return Reply{Text: msg, ShouldEnd: true, EndReason: reason}
}

// closingMessage builds the end-of-interview farewell.
func (o *Orchestrator) closingMessage() string {
	return fmt.Sprintf(
		"Thank you so much for taking the time to speak with me today, %s. Your responses will help %s provide you with the best possible care.\n\nIf you remember anything you'd like to add, you can use the same link to speak with me again before your appointment.\n\nTake care, and I hope your appointment goes well!",
		o.state.PatientName(), o.state.DoctorName())
}
