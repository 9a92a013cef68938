package transcript

import (
	"strings"

	"github.com/svdmeer/transcribe/pkg/models"
)

// GroupBySpeaker renders segments as a plain-text transcript, joining
// consecutive segments of the same speaker into one paragraph. This is a
// presentation concern only; the canonical segment list is never merged.
func GroupBySpeaker(segments []models.TranscriptionSegment) string {
	var lines []string
	currentSpeaker := ""
	var currentText []string

	flush := func() {
		if len(currentText) > 0 {
			lines = append(lines, currentSpeaker+": "+strings.Join(currentText, " "))
		}
	}

	for _, seg := range segments {
		if seg.SpeakerID != currentSpeaker {
			flush()
			currentSpeaker = seg.SpeakerID
			currentText = []string{seg.Text}
		} else {
			currentText = append(currentText, seg.Text)
		}
	}
	flush()

	return strings.Join(lines, "\n\n")
}
