// Escalation sub-protocol: once a red flag is raised the interview waits for
// the patient to acknowledge the emergency advice. Agreement ends the
// interview; anything ambiguous errs toward continuing with a safety caveat
// rather than silently dropping the emergency.
package interview

import (
	"context"
	"log/slog"
	"strings"

	"github.com/oakhealth/preconsult/internal/models"
)

// Response template names consumed by the escalation handler.
const (
	templateEndAfterAccept       = "end_after_accept"
	templateContinueAfterDecline = "continue_after_decline"
)

// affirmativeTokens and negationTokens drive the lexical agreement test. A
// reply counts as agreement only when it contains an affirmative token and no
// negation token.
var (
	affirmativeTokens = map[string]bool{
		"yes": true, "yeah": true, "yep": true, "ok": true, "okay": true,
		"sure": true, "will": true, "i'll": true, "agree": true,
		"agreed": true, "fine": true, "alright": true, "calling": true,
	}
	negationTokens = map[string]bool{
		"no": true, "nope": true, "not": true, "don't": true, "won't": true,
		"can't": true, "cannot": true, "wait": true, "later": true,
		"refuse": true,
	}
)

// classifyAcknowledgement interprets the patient's reply to an emergency
// message. Mixed or ambiguous signals classify as decline.
func classifyAcknowledgement(utterance string) bool {
	agreed, declined := false, false
	for _, raw := range strings.Fields(strings.ToLower(utterance)) {
		token := strings.Trim(raw, ".,!?;:\"")
		if affirmativeTokens[token] {
			agreed = true
		}
		if negationTokens[token] {
			declined = true
		}
	}
	return agreed && !declined
}

// handleRedFlagAck interprets the patient's acknowledgement of the emergency
// message and either terminates the interview or resumes it with a safety
// caveat recorded.
func (o *Orchestrator) handleRedFlagAck(ctx context.Context, utterance string) (Reply, error) {
	o.state.RecordMessage(models.SpeakerPatient, utterance, "", models.FlagRedFlagResponse)

	if classifyAcknowledgement(utterance) {
		slog.Info("interview.handleRedFlagAck: patient agreed to seek urgent care, ending interview",
			"conversationID", o.state.ConversationID())
		o.state.ResolveRedFlag(models.RedFlagResponseAgreed, models.ActionEndedConversation)
		msg := o.template.ResponseMessage(templateEndAfterAccept, o.state.DoctorName())
		o.state.RecordMessage(models.SpeakerInterviewer, msg, "", models.FlagRedFlagEnding)
		return Reply{Text: msg, ShouldEnd: true, EndReason: models.EndReasonEmergency}, nil
	}

	slog.Info("interview.handleRedFlagAck: patient declined urgent care, resuming with warning",
		"conversationID", o.state.ConversationID())
	o.state.ResolveRedFlag(models.RedFlagResponseDeclined, models.ActionContinuedWithWarning)
	caution := o.template.ResponseMessage(templateContinueAfterDecline, o.state.DoctorName())
	o.state.RecordMessage(models.SpeakerInterviewer, caution, "", models.FlagRedFlagContinue)

	reply, err := o.advanceConversation(ctx)
	if err != nil {
		return reply, err
	}
	reply.Text = caution + "\n\n" + reply.Text
	return reply, nil
}
