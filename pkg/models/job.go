package models

import "time"

type JobStatus string

const (
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusError      JobStatus = "error"
)

// Terminal reports whether a status is final.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// TranscriptionSegment is one speaker-attributed utterance. Segments are owned
// by their job and keep the order the backend reported them in.
type TranscriptionSegment struct {
	SpeakerID string  `json:"speaker_id"`
	Text      string  `json:"text"`
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`
}

// TranscriptionJob is one tracked unit of transcription work. The worker is
// the single writer once the job has been created; after the status leaves
// processing either Segments is populated and Error empty, or Error is set and
// Segments empty.
type TranscriptionJob struct {
	JobID           string                 `json:"job_id"`
	Filename        string                 `json:"filename"`
	FilePath        string                 `json:"file_path"`
	Language        string                 `json:"language"`
	Engine          string                 `json:"engine"`
	Status          JobStatus              `json:"status"`
	Stage           string                 `json:"stage,omitempty"`
	Segments        []TranscriptionSegment `json:"segments"`
	FullText        string                 `json:"full_text"`
	DurationSeconds float64                `json:"duration_seconds"`
	Error           string                 `json:"error,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
	CompletedAt     *time.Time             `json:"completed_at,omitempty"`

	// Set by the RabbitMQ queue so the worker can Ack/Nack. Never serialized.
	DeliveryTag      uint64 `json:"-"`
	RabbitMQDelivery any    `json:"-"`
}
