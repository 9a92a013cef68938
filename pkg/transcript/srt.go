package transcript

import (
	"fmt"
	"io"
	"strings"

	"github.com/svdmeer/transcribe/pkg/models"
)

// WriteSRT renders the canonical segments as an SRT subtitle stream, with the
// speaker label prefixed to each cue.
func WriteSRT(w io.Writer, segments []models.TranscriptionSegment) error {
	var builder strings.Builder
	index := 1

	for _, seg := range segments {
		builder.WriteString(fmt.Sprintf("%d\n", index))
		builder.WriteString(fmt.Sprintf("%s --> %s\n", formatSRTTime(seg.StartTime), formatSRTTime(seg.EndTime)))
		builder.WriteString(fmt.Sprintf("%s: %s\n\n", seg.SpeakerID, seg.Text))
		index++
	}

	if _, err := io.WriteString(w, builder.String()); err != nil {
		return fmt.Errorf("write srt: %w", err)
	}
	return nil
}

// formatSRTTime renders seconds as the SRT timestamp format,
// e.g. 65.5 -> 00:01:05,500.
func formatSRTTime(seconds float64) string {
	hours := int(seconds) / 3600
	minutes := (int(seconds) % 3600) / 60
	secs := int(seconds) % 60
	millis := int((seconds - float64(int(seconds))) * 1000)

	return fmt.Sprintf("%02d:%02d:%02d,%03d", hours, minutes, secs, millis)
}
