package transcript

import (
	"fmt"
	"io"
	"strings"

	"github.com/svdmeer/transcribe/pkg/models"
)

// WriteVTT renders the canonical segments as a WebVTT stream for HTML5
// playback, with the speaker label prefixed to each cue.
func WriteVTT(w io.Writer, segments []models.TranscriptionSegment) error {
	var builder strings.Builder
	builder.WriteString("WEBVTT\n\n")

	index := 1
	for _, seg := range segments {
		builder.WriteString(fmt.Sprintf("%d\n", index))
		builder.WriteString(fmt.Sprintf("%s --> %s\n", formatVTTTime(seg.StartTime), formatVTTTime(seg.EndTime)))
		builder.WriteString(fmt.Sprintf("%s: %s\n\n", seg.SpeakerID, seg.Text))
		index++
	}

	if _, err := io.WriteString(w, builder.String()); err != nil {
		return fmt.Errorf("write vtt: %w", err)
	}
	return nil
}

// formatVTTTime renders seconds as the VTT timestamp format; VTT uses a dot
// where SRT uses a comma.
func formatVTTTime(seconds float64) string {
	hours := int(seconds) / 3600
	minutes := (int(seconds) % 3600) / 60
	secs := int(seconds) % 60
	millis := int((seconds - float64(int(seconds))) * 1000)

	return fmt.Sprintf("%02d:%02d:%02d.%03d", hours, minutes, secs, millis)
}
