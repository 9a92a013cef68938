// Package transcript builds the canonical speaker-attributed result out of a
// raw engine response and renders it for display and export.
package transcript

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/svdmeer/transcribe/pkg/engine"
	"github.com/svdmeer/transcribe/pkg/models"
)

// Normalize turns a raw engine result into canonical segments. Backend order
// is preserved exactly; segments whose trimmed text is empty are dropped; and
// when a backend returns text but no segmentation, exactly one segment
// spanning the whole recording is synthesized so a transcript is never empty
// while text exists.
func Normalize(raw *engine.Result) (segments []models.TranscriptionSegment, fullText string, durationSeconds float64) {
	fullText = strings.TrimSpace(raw.Text)
	durationSeconds = raw.DurationSeconds

	for _, seg := range raw.Segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		segments = append(segments, models.TranscriptionSegment{
			SpeakerID: SpeakerLabel(seg.Speaker),
			Text:      text,
			StartTime: seg.Start,
			EndTime:   seg.End,
		})
	}

	if len(segments) == 0 && fullText != "" {
		segments = []models.TranscriptionSegment{{
			SpeakerID: "Speaker 1",
			Text:      fullText,
			StartTime: 0,
			EndTime:   durationSeconds,
		}}
	}

	return segments, fullText, durationSeconds
}

// SpeakerLabel maps a backend's raw speaker value to the display label.
// Backends report 0-based numeric indices; people count from 1. Non-numeric
// labels pass through unchanged, and a missing label becomes the generic
// "Speaker".
func SpeakerLabel(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "Speaker"
	}
	if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
		return fmt.Sprintf("Speaker %d", n+1)
	}
	return raw
}
