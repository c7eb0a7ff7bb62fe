// Assistant adapts the chat-completion client to the interview engine's
// collaborator interfaces: decision requests, red-flag screening and dynamic
// topic detection.
package genai

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/openai/openai-go"

	"github.com/oakhealth/preconsult/internal/checklist"
	"github.com/oakhealth/preconsult/internal/interview"
	"github.com/oakhealth/preconsult/internal/models"
)

// Wire protocol markers for the screening collaborator. The screener asks the
// model to answer with exactly one of these lines.
const (
	redFlagDetectedPrefix = "RED_FLAG_DETECTED:"
	noRedFlagMarker       = "NO_RED_FLAG"
	noTopicMarker         = "NONE"
)

// Screening and detection run with a very low temperature for consistent
// classification.
const classificationTemperature = 0.1

// Assistant implements the interview engine's collaborator interfaces on top
// of a chat-completion client.
type Assistant struct {
	client ClientInterface
}

// NewAssistant creates the LLM collaborator adapter.
func NewAssistant(client ClientInterface) *Assistant {
	return &Assistant{client: client}
}

// Decide requests the structured turn decision. The transcript window is
// role-tagged: interviewer messages as assistant turns, patient messages as
// user turns.
func (a *Assistant) Decide(ctx context.Context, req interview.DecisionRequest) (string, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.History)+1)
	messages = append(messages, openai.SystemMessage(req.Instruction))
	for _, msg := range req.History {
		if msg.Speaker == models.SpeakerInterviewer {
			messages = append(messages, openai.AssistantMessage(msg.Text))
		} else {
			messages = append(messages, openai.UserMessage(msg.Text))
		}
	}

	response, err := a.client.GenerateWithMessages(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("decision request failed: %w", err)
	}
	return response, nil
}

// Screen checks one patient utterance against the red-flag catalogue using
// the RED_FLAG_DETECTED line protocol. A nil result means no flag.
func (a *Assistant) Screen(ctx context.Context, utterance string, categories map[string]checklist.RedFlagCategory) (*models.ScreenResult, error) {
	if len(categories) == 0 {
		return nil, nil
	}

	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(buildScreeningPrompt(categories)),
		openai.UserMessage(fmt.Sprintf("Patient said: %q", utterance)),
	}

	result, err := a.client.GenerateWithTemperature(ctx, messages, classificationTemperature)
	if err != nil {
		return nil, fmt.Errorf("red-flag screening failed: %w", err)
	}

	result = strings.TrimSpace(result)
	if !strings.HasPrefix(result, redFlagDetectedPrefix) {
		return nil, nil
	}
	category := strings.TrimSpace(strings.TrimPrefix(result, redFlagDetectedPrefix))
	cat, ok := categories[category]
	if !ok {
		slog.Warn("genai.Screen: model named unknown red-flag category, ignoring", "category", category)
		return nil, nil
	}
	return &models.ScreenResult{Category: category, Severity: cat.Severity}, nil
}

// DetectRelevantTopic decides whether the utterance makes one of the
// remaining optional topics newly relevant. Returns "" when none apply.
func (a *Assistant) DetectRelevantTopic(ctx context.Context, utterance string, optionalTopics []string) (string, error) {
	if len(optionalTopics) == 0 {
		return "", nil
	}

	systemPrompt := fmt.Sprintf(`You are a medical conversation analyst.
Decide if the patient's message makes it necessary to ask about any of these topics: [%s].

Rules:
1. Only return a topic if the patient explicitly mentions something relevant to it.
2. Example: "My dad had heart issues" -> family_history
3. Example: "I smoke 20 a day" -> social_history
4. If nothing is relevant, return %s.
5. Return ONLY the exact topic name from the list.`, strings.Join(optionalTopics, ", "), noTopicMarker)

	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(systemPrompt),
		openai.UserMessage(fmt.Sprintf("Patient said: %q", utterance)),
	}

	result, err := a.client.GenerateWithTemperature(ctx, messages, classificationTemperature)
	if err != nil {
		return "", fmt.Errorf("topic detection failed: %w", err)
	}

	result = strings.TrimSpace(result)
	for _, topic := range optionalTopics {
		if result == topic {
			return topic, nil
		}
	}
	return "", nil
}

// buildScreeningPrompt renders the red-flag catalogue into the screening
// system prompt. Categories are listed in sorted order so the prompt is
// deterministic.
func buildScreeningPrompt(categories map[string]checklist.RedFlagCategory) string {
	names := make([]string, 0, len(categories))
	for name := range categories {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("You are a medical safety assistant. Analyze patient statements for emergency red flags.\nRED FLAG CATEGORIES TO CHECK:\n")
	for _, name := range names {
		cat := categories[name]
		fmt.Fprintf(&b, "- %s (%s): %s\n", name, cat.Severity, strings.Join(cat.Triggers, ", "))
	}
	fmt.Fprintf(&b, `
If the patient's message contains ANY of these red flag symptoms, respond with:
%s [category_name]

If no red flags are present, respond with: %s
Be cautious - if unsure, err on the side of flagging for safety.`, redFlagDetectedPrefix, noRedFlagMarker)
	return b.String()
}

// Compile-time interface checks.
var (
	_ interview.DecisionClient = (*Assistant)(nil)
	_ interview.Screener       = (*Assistant)(nil)
	_ interview.TopicDetector  = (*Assistant)(nil)
)
