// Package engine abstracts the two cloud transcription backends behind one
// contract. Each adapter submits a normalized audio file and maps its
// backend's proprietary response into the shared Result model, with all
// timestamps in seconds.
package engine

import "context"

// Engine names, also the keys of the format-capability tables in pkg/audio
// and of the engine registry assembled at startup.
const (
	NameOpenAI = "openai"
	NameSpeech = "speech"
)

// ProgressFunc receives human-readable stage updates while a transcription is
// in flight. May be nil.
type ProgressFunc func(message string)

func notify(progress ProgressFunc, message string) {
	if progress != nil {
		progress(message)
	}
}

// Segment is a backend-reported utterance before diarization normalization.
// Speaker holds the backend's raw label: a decimal string when the backend
// reports 0-based indices, an arbitrary label otherwise, empty when the
// backend reported none.
type Segment struct {
	Speaker string
	Text    string
	Start   float64
	End     float64
}

// Result is the unified raw transcription outcome of one backend call.
type Result struct {
	Text            string
	DurationSeconds float64
	Segments        []Segment
}

// Engine is the contract both backend adapters implement. Transcribe performs
// exactly one outbound call; the only retry anywhere is the documented
// response-format fallback inside the openai adapter. Transient network
// failures are surfaced to the caller, which isolates failures per job.
type Engine interface {
	Name() string

	// MaxUploadBytes is the backend's hard payload ceiling, enforced by the
	// media normalizer before any network call.
	MaxUploadBytes() int64

	Transcribe(ctx context.Context, audioPath, language string, progress ProgressFunc) (*Result, error)
}
