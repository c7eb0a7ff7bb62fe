// Decision contract validation: defense against an unreliable language-model
// collaborator. Every decision field is independently type-checked and
// defaulted, topic claims are re-validated against the authoritative
// checklist, and unparseable responses degrade through a fallback extractor
// so the interview never crashes or stalls on malformed model output.
package interview

import (
	"encoding/json"
	"log/slog"
	"regexp"
	"strings"

	"github.com/oakhealth/preconsult/internal/models"
)

// GenericContinuationPrompt is substituted when no usable next question can
// be recovered from the collaborator's response.
const GenericContinuationPrompt = "Thank you for sharing that. Could you tell me a bit more about how you've been feeling?"

// nextQuestionPattern recovers a next_question value by regex when the
// response is not parseable as JSON at all.
var nextQuestionPattern = regexp.MustCompile(`"next_question"\s*:\s*("(?:[^"\\]|\\.)*")`)

// farewellIndicators is a fallback heuristic for detecting interview-end
// intent in free-text model output. The explicit conversation_complete signal
// is the primary mechanism; this only applies when the collaborator returned
// prose instead of the decision structure.
var farewellIndicators = []string{
	"you're all set",
	"you're good to go",
	"that's all for now",
	"we're all done",
	"that covers everything",
	"see you at your appointment",
	"i'll make sure dr",
	"hope your appointment goes well",
}

// ParseDecision decodes a raw collaborator response into a TurnDecision.
// The happy path is a strict JSON object (optionally wrapped in code fences);
// anything else goes through the fallback extractor. ParseDecision never
// fails: at worst it returns a decision carrying only a generic continuation
// prompt, wrapped with ErrDecisionSchema so callers can log the degradation.
func ParseDecision(raw string) (*models.TurnDecision, error) {
	body := stripCodeFences(raw)
	if obj := extractJSONObject(body); obj != "" {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal([]byte(obj), &fields); err == nil {
			return decisionFromFields(fields), nil
		}
	}

	// Not JSON at all. Try to recover at least a next question.
	slog.Warn("interview.ParseDecision: response not parseable as decision JSON, using fallback extraction", "responseLength", len(raw))
	d := &models.TurnDecision{NextQuestion: extractFallbackQuestion(raw)}
	if d.NextQuestion == "" {
		// Treat short prose as the question itself; long prose is unlikely to
		// be a single question, substitute the generic prompt.
		trimmed := strings.TrimSpace(raw)
		if trimmed != "" && len(trimmed) < 400 {
			d.NextQuestion = trimmed
		} else {
			d.NextQuestion = GenericContinuationPrompt
		}
	}
	if containsFarewell(raw) {
		d.ConversationComplete = true
	}
	return d, models.ErrDecisionSchema
}

// decisionFromFields builds a TurnDecision with every field independently
// type-checked and defaulted when absent or wrong-typed.
func decisionFromFields(fields map[string]json.RawMessage) *models.TurnDecision {
	d := &models.TurnDecision{
		ConversationComplete: boolField(fields, "conversation_complete"),
		TopicsCompleted:      stringListField(fields, "topics_completed"),
		OptionalTopicsToSkip: stringListField(fields, "optional_topics_to_skip"),
		ActivateTopics:       stringListField(fields, "activate_topics"),
		CurrentTopic:         stringField(fields, "current_topic"),
		NextQuestion:         strings.TrimSpace(stringField(fields, "next_question")),
		RedFlagDetected:      boolField(fields, "red_flag_detected"),
		RedFlagCategory:      stringField(fields, "red_flag_category"),
	}
	if d.NextQuestion == "" {
		d.NextQuestion = GenericContinuationPrompt
	}
	return d
}

func boolField(fields map[string]json.RawMessage, key string) bool {
	raw, ok := fields[key]
	if !ok {
		return false
	}
	var v bool
	if err := json.Unmarshal(raw, &v); err != nil {
		slog.Debug("interview.decision: ignoring wrong-typed bool field", "field", key)
		return false
	}
	return v
}

func stringField(fields map[string]json.RawMessage, key string) string {
	raw, ok := fields[key]
	if !ok {
		return ""
	}
	var v string
	if err := json.Unmarshal(raw, &v); err != nil {
		slog.Debug("interview.decision: ignoring wrong-typed string field", "field", key)
		return ""
	}
	return v
}

func stringListField(fields map[string]json.RawMessage, key string) []string {
	raw, ok := fields[key]
	if !ok {
		return nil
	}
	var v []string
	if err := json.Unmarshal(raw, &v); err == nil {
		return v
	}
	// Tolerate a single string where a list was expected.
	var single string
	if err := json.Unmarshal(raw, &single); err == nil && single != "" {
		return []string{single}
	}
	slog.Debug("interview.decision: ignoring wrong-typed list field", "field", key)
	return nil
}

// stripCodeFences removes a surrounding markdown code fence if present.
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// extractJSONObject returns the outermost {...} object in s, or "" when none
// is found. Brace counting ignores braces inside string literals.
func extractJSONObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

// extractFallbackQuestion recovers a next_question value by regex over raw
// text that failed JSON parsing.
func extractFallbackQuestion(raw string) string {
	m := nextQuestionPattern.FindStringSubmatch(raw)
	if len(m) < 2 {
		return ""
	}
	var q string
	if err := json.Unmarshal([]byte(m[1]), &q); err != nil {
		return ""
	}
	return strings.TrimSpace(q)
}

// containsFarewell applies the legacy farewell phrase heuristic to free-text
// output.
func containsFarewell(s string) bool {
	lower := strings.ToLower(s)
	for _, phrase := range farewellIndicators {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// validateDecision re-validates every topic claim in the decision against the
// authoritative checklist before any state mutation. Unknown topic ids and
// attempts to skip required topics are dropped with a diagnostic log, never
// an error.
func (o *Orchestrator) validateDecision(d *models.TurnDecision) *models.TurnDecision {
	out := &models.TurnDecision{
		ConversationComplete: d.ConversationComplete,
		CurrentTopic:         d.CurrentTopic,
		NextQuestion:         d.NextQuestion,
		RedFlagDetected:      d.RedFlagDetected,
		RedFlagCategory:      d.RedFlagCategory,
	}
	if out.NextQuestion == "" {
		out.NextQuestion = GenericContinuationPrompt
	}

	for _, id := range d.TopicsCompleted {
		if _, ok := o.template.Topic(id); !ok {
			slog.Warn("interview.validateDecision: dropping completion claim for unknown topic", "conversationID", o.state.ConversationID(), "topic", id)
			continue
		}
		out.TopicsCompleted = append(out.TopicsCompleted, id)
	}

	for _, id := range d.OptionalTopicsToSkip {
		topic, ok := o.template.Topic(id)
		if !ok {
			slog.Warn("interview.validateDecision: dropping skip claim for unknown topic", "conversationID", o.state.ConversationID(), "topic", id)
			continue
		}
		if topic.Required {
			slog.Warn("interview.validateDecision: refusing skip claim for required topic", "conversationID", o.state.ConversationID(), "topic", id)
			continue
		}
		out.OptionalTopicsToSkip = append(out.OptionalTopicsToSkip, id)
	}

	for _, id := range d.ActivateTopics {
		topic, ok := o.template.Topic(id)
		if !ok {
			slog.Warn("interview.validateDecision: dropping activation claim for unknown topic", "conversationID", o.state.ConversationID(), "topic", id)
			continue
		}
		if topic.Required {
			continue
		}
		out.ActivateTopics = append(out.ActivateTopics, id)
	}

	if out.CurrentTopic != "" {
		if _, ok := o.template.Topic(out.CurrentTopic); !ok {
			slog.Warn("interview.validateDecision: dropping unknown current topic", "conversationID", o.state.ConversationID(), "topic", out.CurrentTopic)
			out.CurrentTopic = ""
		}
	}
	return out
}
