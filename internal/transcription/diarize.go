package transcription

import "strings"

// Gap thresholds for flipping the speaker label between segments. A long
// silence always flips; a shorter pause flips only when the next segment
// opens with a conversational turn indicator.
const (
	turnGapSeconds      = 1.5
	shortTurnGapSeconds = 0.8
)

const (
	speakerAgent    = "Agent"
	speakerCustomer = "Customer"
)

// turnPhrases are openings that usually mean the other party started
// talking.
var turnPhrases = []string{
	"hello",
	"hi ",
	"hey",
	"yes",
	"yeah",
	"no ",
	"no,",
	"okay",
	"ok ",
	"sure",
	"thanks",
	"thank you",
	"how can i help",
	"what can i do",
	"good morning",
	"good afternoon",
	"i see",
	"got it",
	"right",
	"so ",
	"well ",
	"actually",
}

// AssignSpeakers labels segments with alternating Agent/Customer speakers
// using timing gaps as the turn signal. This is a heuristic for providers
// without native diarization; the first speaker is assumed to be the agent,
// which holds for outbound dialer calls.
func AssignSpeakers(segments []Segment) []Segment {
	if len(segments) == 0 {
		return segments
	}

	out := make([]Segment, len(segments))
	copy(out, segments)

	current := speakerAgent
	out[0].Speaker = current
	for i := 1; i < len(out); i++ {
		gap := out[i].Start - out[i-1].End
		if gap > turnGapSeconds || (gap > shortTurnGapSeconds && startsWithTurnPhrase(out[i].Text)) {
			if current == speakerAgent {
				current = speakerCustomer
			} else {
				current = speakerAgent
			}
		}
		out[i].Speaker = current
	}
	return out
}

func startsWithTurnPhrase(text string) bool {
	normalized := strings.ToLower(strings.TrimSpace(text))
	for _, phrase := range turnPhrases {
		if strings.HasPrefix(normalized, phrase) {
			return true
		}
	}
	return false
}
