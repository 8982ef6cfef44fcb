package transcription

import (
	"context"
	"fmt"
	"strings"
)

// Segment is one contiguous stretch of transcribed speech.
type Segment struct {
	Speaker string  `json:"speaker,omitempty"`
	Text    string  `json:"text"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
}

// Transcript is the result of transcribing one recording.
type Transcript struct {
	Text     string    `json:"text"`
	Segments []Segment `json:"segments,omitempty"`
}

// Provider transcribes a call recording. Implementations differ in whether
// they diarize natively; callers get speaker labels either way.
type Provider interface {
	Name() string
	Transcribe(ctx context.Context, recordingURL string) (Transcript, error)
}

// FormatWithSpeakers renders a diarized transcript as "Speaker: text" lines.
// Falls back to the flat text when no segments are available.
func FormatWithSpeakers(t Transcript) string {
	if len(t.Segments) == 0 {
		return t.Text
	}
	var sb strings.Builder
	for i, seg := range t.Segments {
		if i > 0 {
			sb.WriteByte('\n')
		}
		if seg.Speaker != "" {
			fmt.Fprintf(&sb, "%s: %s", seg.Speaker, seg.Text)
		} else {
			sb.WriteString(seg.Text)
		}
	}
	return sb.String()
}
