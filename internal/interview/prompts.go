// Decision instruction construction: the per-turn system instruction sent to
// the decision collaborator enumerating the remaining topics, progress
// counters, pacing guidance and the expected decision JSON contract.
package interview

import (
	"fmt"
	"strings"
)

// Pacing tiers escalate the wrap-up guidance as the question budget is
// consumed.
const (
	// pacingEssentialRatio is the budget fraction above which the collaborator
	// is told to prioritize essential topics.
	pacingEssentialRatio = 2.0 / 3.0
	// pacingUrgentRatio is the budget fraction above which the collaborator is
	// told to wrap up urgently.
	pacingUrgentRatio = 5.0 / 6.0
)

// pacingGuidance returns the wrap-up instruction tier for the current budget
// consumption.
func pacingGuidance(asked, max int) string {
	if max <= 0 {
		return ""
	}
	ratio := float64(asked) / float64(max)
	switch {
	case ratio >= pacingUrgentRatio:
		return fmt.Sprintf(`URGENT - PACING WARNING:
You have %d of %d questions remaining.
- Do NOT start any new major topics.
- Wrap up the current topic quickly.
- If critical information is missing, ask ONE final combined question.
- Prepare to end the conversation naturally in the next turn.`, max-asked, max)
	case ratio >= pacingEssentialRatio:
		return fmt.Sprintf(`PACING WARNING:
You have %d of %d questions remaining.
- Prioritize only the most essential missing topics.
- Be concise and combine related questions where possible.
- Start moving towards a natural conclusion.`, max-asked, max)
	default:
		return ""
	}
}

// buildInstruction assembles the system instruction for a decision request.
func (o *Orchestrator) buildInstruction() string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are a medical history-taking assistant conducting a pre-consultation interview with %s before their appointment with %s.\n\n",
		o.state.PatientName(), o.state.DoctorName())

	b.WriteString(`YOUR ROLE:
You are NOT a doctor. You collect medical history systematically.
NEVER provide medical advice, reassurance, diagnosis or treatment suggestions.
NEVER comment on whether symptoms are serious or not.
Ask ONE clear, focused question at a time and stay on one topic.

`)

	progress := o.state.Progress()
	fmt.Fprintf(&b, "PROGRESS: %d of %d questions asked; %d of %d required topics covered; %d of %d optional topics covered.\n\n",
		progress.QuestionsAsked, progress.MaxQuestions,
		progress.RequiredTopicsCompleted, progress.RequiredTopicsTotal,
		progress.OptionalTopicsCompleted, progress.OptionalTopicsTotal)

	o.writeTopicList(&b, "REMAINING REQUIRED TOPICS (highest priority first):", o.state.incompleteTopics(true))
	o.writeTopicList(&b, "REMAINING OPTIONAL TOPICS (ask only if clearly relevant):", o.state.incompleteTopics(false))

	if guidance := pacingGuidance(progress.QuestionsAsked, progress.MaxQuestions); guidance != "" {
		b.WriteString(guidance)
		b.WriteString("\n\n")
	}

	b.WriteString(`Respond with ONLY a JSON object, no prose, matching:
{
  "conversation_complete": bool,       // true only when every required topic is covered
  "topics_completed": ["topic_id"],    // topics the patient has now fully answered
  "optional_topics_to_skip": ["topic_id"],
  "activate_topics": ["topic_id"],     // optional topics the patient made relevant
  "current_topic": "topic_id",         // the topic your next question addresses
  "next_question": "string"            // ONE focused question for the patient
}`)

	return b.String()
}

// writeTopicList renders a labelled topic section with names and example
// questions.
func (o *Orchestrator) writeTopicList(b *strings.Builder, label string, ids []string) {
	if len(ids) == 0 {
		return
	}
	b.WriteString(label)
	b.WriteString("\n")
	for _, id := range ids {
		topic, ok := o.template.Topic(id)
		if !ok {
			continue
		}
		fmt.Fprintf(b, "- %s (%s)", id, topic.Name)
		if len(topic.Questions) > 0 {
			fmt.Fprintf(b, " e.g. %q", topic.Questions[0])
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")
}
