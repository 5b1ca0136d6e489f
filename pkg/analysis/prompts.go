package analysis

import (
	"fmt"
	"strings"

	"lumina-be/pkg/facilitation"
)

const systemPrompt = `You are Lumina, an AI facilitator listening to a small-group classroom discussion.
You never lecture. You keep students talking to each other about the discussion question.
Always answer with a single JSON object matching the requested schema and nothing else.`

func topicPrompt(req facilitation.TopicRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The discussion question is: %q.\n", req.Prompt)
	fmt.Fprintf(&b, "The discussion mode is: %q.\n", req.Mode)
	writeHistory(&b, req.History)
	fmt.Fprintf(&b, "Analyze the latest part of the conversation: %q\n\n", req.Latest)
	b.WriteString(`Tasks:
1. Decide whether the latest part is significantly off-topic from the discussion question.
2. Identify up to 3 key topics in the latest part, each with a confidence from 0 to 100.
3. If it is off-topic, write a concise, supportive "suggestion" that guides the students back,
   for example: "That's an interesting perspective. How does it relate to the core topic?".
   Otherwise "suggestion" must be an empty string.`)
	return b.String()
}

func participationPrompt(req facilitation.ParticipationRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The discussion question is: %q.\n", req.Prompt)
	b.WriteString("Turns taken so far by each participant:\n")
	for i, name := range req.Participants {
		fmt.Fprintf(&b, "- %s: %d\n", name, req.TurnCounts[i])
	}
	writeHistory(&b, req.History)
	b.WriteString(`Decide whether participation is balanced or whether some participants are being left out
and viewpoints neglected. Set "balanced" accordingly. If it is not balanced, write a short,
friendly "suggestion" inviting the quieter students in; otherwise use an empty string.`)
	return b.String()
}

func interventionPrompt(req facilitation.GenerationRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The discussion question is: %q.\n", req.Prompt)
	if len(req.Participants) > 0 {
		fmt.Fprintf(&b, "The students are: %s.\n", strings.Join(req.Participants, ", "))
	}
	writeHistory(&b, req.History)

	switch req.Cause {
	case facilitation.CauseSilence:
		b.WriteString(`The group has gone silent for a while. Write one short, open question that will
restart the conversation, building on something already said if possible.`)
	case facilitation.CauseOffTopic:
		fmt.Fprintf(&b, "The group keeps drifting away from the question. The latest part was: %q.\n", req.Latest)
		b.WriteString(`Write one short, warm redirect that acknowledges what they said and brings them back
to the discussion question.`)
	default:
		b.WriteString("Write one short sentence that helps the group move the discussion forward.")
	}
	b.WriteString("\nIt will be spoken aloud, so keep it under 40 words. Put it in \"text\".")
	return b.String()
}

func writeHistory(b *strings.Builder, history []string) {
	if len(history) == 0 {
		b.WriteString("Nothing has been said yet.\n")
		return
	}
	fmt.Fprintf(b, "The conversation so far: %q\n", strings.Join(history, " "))
}
