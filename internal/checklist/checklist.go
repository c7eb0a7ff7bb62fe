// Package checklist loads and validates the interview checklist template.
//
// The template is a static catalogue of clinical topics plus the red-flag
// category catalogue and canned emergency responses. It is read-only input to
// the interview engine: each conversation copies the completion bookkeeping it
// needs and never mutates the shared template.
package checklist

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	_ "embed"

	"github.com/oakhealth/preconsult/internal/models"
)

// TopicClosing is the id of the mandatory closing topic. Marking it complete
// is one of the interview termination conditions.
const TopicClosing = "closing"

// redFlagsKey is the pseudo-topic key inside the checklist object that holds
// the red-flag catalogue instead of a topic definition.
const redFlagsKey = "red_flags"

// DefaultMaxQuestions is the question budget applied when the template does
// not specify conversation_rules.max_questions.
const DefaultMaxQuestions = 30

//go:embed default_template.json
var defaultTemplate []byte

// Topic is one named area of medical history the interview must or may cover.
// Immutable at runtime.
type Topic struct {
	ID                   string   `json:"-"`
	Name                 string   `json:"name"`
	Required             bool     `json:"required"`
	Priority             int      `json:"priority"`
	Questions            []string `json:"questions"`
	DynamicallyActivated bool     `json:"dynamically_activated,omitempty"`

	// order is the declaration position in the template, used to break
	// priority ties deterministically.
	order int
}

// RedFlagCategory describes one emergency-symptom category the screener
// checks patient statements against.
type RedFlagCategory struct {
	Triggers         []string        `json:"triggers"`
	Severity         models.Severity `json:"severity"`
	ResponseTemplate string          `json:"response_template"`
}

// ResponseTemplate is a canned red-flag response message. The {doctor_name}
// placeholder is substituted at use.
type ResponseTemplate struct {
	Message string `json:"message"`
}

// Rules holds the conversation pacing rules from the template.
type Rules struct {
	MaxQuestions int `json:"max_questions"`
}

// Template is the parsed, validated checklist template.
type Template struct {
	OpeningMessage    string
	Topics            map[string]Topic
	TopicOrder        []string
	RedFlagCategories map[string]RedFlagCategory
	RedFlagResponses  map[string]ResponseTemplate
	Rules             Rules
}

// rawTemplate mirrors the JSON wire shape of the template file.
type rawTemplate struct {
	OpeningMessage    string                      `json:"opening_message"`
	Checklist         json.RawMessage             `json:"checklist"`
	RedFlagResponses  map[string]ResponseTemplate `json:"red_flag_responses"`
	ConversationRules Rules                       `json:"conversation_rules"`
}

// rawRedFlags mirrors the red_flags pseudo-topic inside the checklist object.
type rawRedFlags struct {
	RedFlagCategories map[string]RedFlagCategory `json:"red_flag_categories"`
}

// Default returns the embedded default checklist template.
func Default() (*Template, error) {
	return Parse(defaultTemplate)
}

// Load reads and parses a checklist template from a JSON file.
func Load(path string) (*Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read checklist template %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates a checklist template from JSON bytes. The
// declaration order of topics inside the checklist object is preserved for
// deterministic priority tie-breaking.
func Parse(data []byte) (*Template, error) {
	var raw rawTemplate
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse checklist template: %w", err)
	}
	if len(raw.Checklist) == 0 {
		return nil, fmt.Errorf("checklist template has no checklist section")
	}

	t := &Template{
		OpeningMessage:    raw.OpeningMessage,
		Topics:            make(map[string]Topic),
		RedFlagCategories: make(map[string]RedFlagCategory),
		RedFlagResponses:  raw.RedFlagResponses,
		Rules:             raw.ConversationRules,
	}
	if t.RedFlagResponses == nil {
		t.RedFlagResponses = make(map[string]ResponseTemplate)
	}
	if t.Rules.MaxQuestions <= 0 {
		slog.Debug("checklist.Parse: no max_questions in template, using default", "default", DefaultMaxQuestions)
		t.Rules.MaxQuestions = DefaultMaxQuestions
	}

	if err := t.parseChecklistObject(raw.Checklist); err != nil {
		return nil, err
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// parseChecklistObject walks the checklist JSON object token by token so that
// topic declaration order survives decoding.
func (t *Template) parseChecklistObject(raw json.RawMessage) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("failed to decode checklist section: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("checklist section must be a JSON object")
	}

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("failed to decode checklist key: %w", err)
		}
		key := keyTok.(string)

		if key == redFlagsKey {
			var rf rawRedFlags
			if err := dec.Decode(&rf); err != nil {
				return fmt.Errorf("failed to decode red-flag catalogue: %w", err)
			}
			t.RedFlagCategories = rf.RedFlagCategories
			if t.RedFlagCategories == nil {
				t.RedFlagCategories = make(map[string]RedFlagCategory)
			}
			continue
		}

		var topic Topic
		if err := dec.Decode(&topic); err != nil {
			return fmt.Errorf("failed to decode topic %q: %w", key, err)
		}
		topic.ID = key
		topic.order = len(t.TopicOrder)
		t.Topics[key] = topic
		t.TopicOrder = append(t.TopicOrder, key)
	}
	return nil
}

// Validate checks structural template invariants. Severity grades are
// normalized rather than rejected because the template is external input.
func (t *Template) Validate() error {
	if len(t.Topics) == 0 {
		return fmt.Errorf("checklist template defines no topics")
	}
	closing, ok := t.Topics[TopicClosing]
	if !ok {
		return fmt.Errorf("checklist template missing required %q topic", TopicClosing)
	}
	if !closing.Required {
		return fmt.Errorf("%q topic must be required", TopicClosing)
	}
	if t.Rules.MaxQuestions <= 0 {
		return fmt.Errorf("max_questions must be positive, got %d", t.Rules.MaxQuestions)
	}

	for name, cat := range t.RedFlagCategories {
		if !models.IsValidSeverity(cat.Severity) {
			slog.Warn("checklist.Validate: unknown red-flag severity, treating as moderate", "category", name, "severity", cat.Severity)
			cat.Severity = models.SeverityModerate
			t.RedFlagCategories[name] = cat
		}
		if cat.ResponseTemplate != "" {
			if _, ok := t.RedFlagResponses[cat.ResponseTemplate]; !ok {
				slog.Warn("checklist.Validate: red-flag category references unknown response template", "category", name, "template", cat.ResponseTemplate)
			}
		}
	}
	return nil
}

// Topic returns the topic definition for an id.
func (t *Template) Topic(id string) (Topic, bool) {
	topic, ok := t.Topics[id]
	return topic, ok
}

// OrderedTopics returns all topics in template declaration order.
func (t *Template) OrderedTopics() []Topic {
	topics := make([]Topic, 0, len(t.TopicOrder))
	for _, id := range t.TopicOrder {
		topics = append(topics, t.Topics[id])
	}
	return topics
}

// genericEmergencyMessage is the fallback when a response template name does
// not resolve. The interview must still deliver a safety message.
const genericEmergencyMessage = "Based on what you've just told me, please seek urgent medical attention right away. Can you confirm you will do that now?"

// ResponseMessage resolves a red-flag response template by name and
// substitutes the {doctor_name} placeholder.
func (t *Template) ResponseMessage(name, doctorName string) string {
	tmpl, ok := t.RedFlagResponses[name]
	if !ok || tmpl.Message == "" {
		slog.Warn("checklist.ResponseMessage: unknown response template, using generic emergency message", "template", name)
		return genericEmergencyMessage
	}
	return strings.ReplaceAll(tmpl.Message, "{doctor_name}", doctorName)
}

// EmergencyMessageFor returns the canned emergency message for a detected
// red-flag category.
func (t *Template) EmergencyMessageFor(category, doctorName string) string {
	cat, ok := t.RedFlagCategories[category]
	if !ok {
		slog.Warn("checklist.EmergencyMessageFor: unknown red-flag category", "category", category)
		return genericEmergencyMessage
	}
	return t.ResponseMessage(cat.ResponseTemplate, doctorName)
}
