package interview

import (
	"errors"
	"testing"

	"github.com/oakhealth/preconsult/internal/models"
)

func TestParseDecisionStrictJSON(t *testing.T) {
	raw := `{
		"conversation_complete": false,
		"topics_completed": ["chief_complaint"],
		"optional_topics_to_skip": ["social_history"],
		"activate_topics": ["family_history"],
		"current_topic": "symptom_details",
		"next_question": "When did the pain start?"
	}`

	d, err := ParseDecision(raw)
	if err != nil {
		t.Fatalf("strict JSON should parse cleanly: %v", err)
	}
	if d.ConversationComplete {
		t.Error("conversation_complete should be false")
	}
	if len(d.TopicsCompleted) != 1 || d.TopicsCompleted[0] != "chief_complaint" {
		t.Errorf("unexpected topics_completed: %v", d.TopicsCompleted)
	}
	if len(d.OptionalTopicsToSkip) != 1 || d.OptionalTopicsToSkip[0] != "social_history" {
		t.Errorf("unexpected optional_topics_to_skip: %v", d.OptionalTopicsToSkip)
	}
	if len(d.ActivateTopics) != 1 || d.ActivateTopics[0] != "family_history" {
		t.Errorf("unexpected activate_topics: %v", d.ActivateTopics)
	}
	if d.CurrentTopic != "symptom_details" {
		t.Errorf("unexpected current_topic: %q", d.CurrentTopic)
	}
	if d.NextQuestion != "When did the pain start?" {
		t.Errorf("unexpected next_question: %q", d.NextQuestion)
	}
}

func TestParseDecisionCodeFences(t *testing.T) {
	raw := "```json\n{\"conversation_complete\": true, \"next_question\": \"\"}\n```"
	d, err := ParseDecision(raw)
	if err != nil {
		t.Fatalf("fenced JSON should parse cleanly: %v", err)
	}
	if !d.ConversationComplete {
		t.Error("conversation_complete should be true")
	}
	if d.NextQuestion != GenericContinuationPrompt {
		t.Errorf("empty next_question should default to the generic prompt, got %q", d.NextQuestion)
	}
}

func TestParseDecisionWrongTypedFields(t *testing.T) {
	raw := `{
		"conversation_complete": "yes",
		"topics_completed": 42,
		"optional_topics_to_skip": "social_history",
		"current_topic": ["symptom_details"],
		"next_question": "What else?"
	}`

	d, err := ParseDecision(raw)
	if err != nil {
		t.Fatalf("per-field defaulting should not error: %v", err)
	}
	if d.ConversationComplete {
		t.Error("wrong-typed bool should default to false")
	}
	if d.TopicsCompleted != nil {
		t.Errorf("wrong-typed list should default to nil, got %v", d.TopicsCompleted)
	}
	// A single string is tolerated where a list was expected
	if len(d.OptionalTopicsToSkip) != 1 || d.OptionalTopicsToSkip[0] != "social_history" {
		t.Errorf("single-string list should be accepted, got %v", d.OptionalTopicsToSkip)
	}
	if d.CurrentTopic != "" {
		t.Errorf("wrong-typed string should default to empty, got %q", d.CurrentTopic)
	}
	if d.NextQuestion != "What else?" {
		t.Errorf("valid fields must survive neighbors' failures, got %q", d.NextQuestion)
	}
}

func TestParseDecisionJSONEmbeddedInProse(t *testing.T) {
	raw := `Sure! Here is the decision you asked for:
{"conversation_complete": false, "next_question": "How severe is the pain?"} Hope that helps!`

	d, err := ParseDecision(raw)
	if err != nil {
		t.Fatalf("embedded JSON object should parse: %v", err)
	}
	if d.NextQuestion != "How severe is the pain?" {
		t.Errorf("unexpected next_question: %q", d.NextQuestion)
	}
}

func TestParseDecisionFallbackRegexExtraction(t *testing.T) {
	// Invalid JSON overall, but the next_question value is recoverable.
	raw := `{"conversation_complete": false,, "next_question": "Could you describe the pain?"`

	d, err := ParseDecision(raw)
	if !errors.Is(err, models.ErrDecisionSchema) {
		t.Errorf("degraded parse should report ErrDecisionSchema, got %v", err)
	}
	if d.NextQuestion != "Could you describe the pain?" {
		t.Errorf("expected regex-recovered question, got %q", d.NextQuestion)
	}
}

func TestParseDecisionShortProseBecomesQuestion(t *testing.T) {
	raw := "Could you tell me when the headaches started?"
	d, err := ParseDecision(raw)
	if !errors.Is(err, models.ErrDecisionSchema) {
		t.Errorf("prose response should report ErrDecisionSchema, got %v", err)
	}
	if d.NextQuestion != raw {
		t.Errorf("short prose should become the question, got %q", d.NextQuestion)
	}
	if d.ConversationComplete {
		t.Error("plain question should not complete the conversation")
	}
}

func TestParseDecisionFarewellProse(t *testing.T) {
	raw := "Thank you, that covers everything. I'll make sure Dr. Jones gets your answers. Hope your appointment goes well!"
	d, err := ParseDecision(raw)
	if !errors.Is(err, models.ErrDecisionSchema) {
		t.Errorf("prose response should report ErrDecisionSchema, got %v", err)
	}
	if !d.ConversationComplete {
		t.Error("farewell prose should set conversation_complete")
	}
}

func TestParseDecisionGarbage(t *testing.T) {
	d, err := ParseDecision("")
	if !errors.Is(err, models.ErrDecisionSchema) {
		t.Errorf("empty response should report ErrDecisionSchema, got %v", err)
	}
	if d.NextQuestion != GenericContinuationPrompt {
		t.Errorf("empty response should yield the generic prompt, got %q", d.NextQuestion)
	}
}

func TestValidateDecisionDropsInvalidClaims(t *testing.T) {
	orch := NewOrchestrator(newTestTemplate(t, 0), Params{ConversationID: "conv-1", PatientName: "John", DoctorName: "Dr. Jones"}, nil, nil)

	d := &models.TurnDecision{
		TopicsCompleted:      []string{"chief_complaint", "made_up_topic"},
		OptionalTopicsToSkip: []string{"symptom_details", "social_history", "another_fake"},
		ActivateTopics:       []string{"family_history", "chief_complaint", "bogus"},
		CurrentTopic:         "unknown_topic",
		NextQuestion:         "",
	}

	v := orch.validateDecision(d)

	if len(v.TopicsCompleted) != 1 || v.TopicsCompleted[0] != "chief_complaint" {
		t.Errorf("unknown completion claims should be dropped, got %v", v.TopicsCompleted)
	}
	if len(v.OptionalTopicsToSkip) != 1 || v.OptionalTopicsToSkip[0] != "social_history" {
		t.Errorf("required/unknown skip claims should be dropped, got %v", v.OptionalTopicsToSkip)
	}
	if len(v.ActivateTopics) != 1 || v.ActivateTopics[0] != "family_history" {
		t.Errorf("required/unknown activation claims should be dropped, got %v", v.ActivateTopics)
	}
	if v.CurrentTopic != "" {
		t.Errorf("unknown current topic should be cleared, got %q", v.CurrentTopic)
	}
	if v.NextQuestion != GenericContinuationPrompt {
		t.Errorf("empty next question should default to the generic prompt, got %q", v.NextQuestion)
	}
}
