package facilitation

import (
	"context"
	"fmt"
	"strings"

	"lumina-be/internal/pkg/logger"
)

const deliveryModule = "FACILITATION_DELIVERY"

// Speech is a severe or elevated intervention rendered and ready to send.
type Speech struct {
	Intervention Intervention
	Audio        []byte
	SynthErr     error
}

// Deliverer turns interventions into outbound frames and supervisor alerts.
type Deliverer struct {
	classifier  Classifier
	synthesizer Synthesizer
	alerts      AlertSink
	logger      logger.ILogger
}

func NewDeliverer(classifier Classifier, synthesizer Synthesizer, alerts AlertSink, log logger.ILogger) *Deliverer {
	return &Deliverer{classifier: classifier, synthesizer: synthesizer, alerts: alerts, logger: log}
}

// SendMild sends the suggestion text to the group. No adapter is involved.
func (d *Deliverer) SendMild(out Outbound, iv Intervention) error {
	return out.SendJSON(SuggestionMessage{Type: MessageSuggestion, Payload: iv.Text})
}

// Prepare fills in missing text and synthesizes it. It blocks on adapters and must run off
// the session goroutine. A failed generation falls back to a fixed question; a failed
// synthesis is reported in SynthErr and left for Send to handle.
func (d *Deliverer) Prepare(ctx context.Context, iv Intervention, gen GenerationRequest) Speech {
	if strings.TrimSpace(iv.Text) == "" {
		text, err := d.classifier.GenerateIntervention(ctx, gen)
		text = strings.TrimSpace(text)
		if err != nil || text == "" {
			d.logger.Warn(deliveryModule, "Intervention generation failed, using fallback", map[string]interface{}{
				"cause": string(iv.Cause),
				"error": errString(err),
			})
			text = severeFallback
		}
		iv.Text = text
	}

	audio, err := d.synthesizer.Synthesize(ctx, iv.Text)
	if err == nil && len(audio) == 0 {
		err = fmt.Errorf("synthesizer returned no audio")
	}
	return Speech{Intervention: iv, Audio: audio, SynthErr: err}
}

// SendSpeech performs the single group send for a prepared intervention: the audio when
// synthesis worked, otherwise the text as a suggestion.
func (d *Deliverer) SendSpeech(out Outbound, sp Speech) error {
	if sp.SynthErr != nil {
		d.logger.Warn(deliveryModule, "Synthesis failed, sending text instead", map[string]interface{}{
			"cause": string(sp.Intervention.Cause),
			"error": sp.SynthErr.Error(),
		})
		return out.SendJSON(SuggestionMessage{Type: MessageSuggestion, Payload: sp.Intervention.Text})
	}
	return out.SendBinary(sp.Audio)
}

// Alert notifies every supervisor about a severe intervention in the given group.
func (d *Deliverer) Alert(ctx context.Context, groupID string, iv Intervention) error {
	return d.alerts.RaiseAlert(ctx, SupervisorAlert{
		Type:         AlertTypeSevere,
		GroupID:      groupID,
		Message:      alertMessage(groupID, iv.Cause),
		Intervention: iv.Text,
	})
}

func alertMessage(groupID string, cause Cause) string {
	switch cause {
	case CauseSilence:
		return fmt.Sprintf("Group %s has been silent for several cycles.", groupID)
	case CauseOffTopic:
		return fmt.Sprintf("Group %s keeps drifting off topic.", groupID)
	default:
		return fmt.Sprintf("Group %s needs attention.", groupID)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
