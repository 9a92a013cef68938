package queue

import "github.com/svdmeer/transcribe/pkg/models"

// Queue dispatches submitted jobs to the worker pool. Submission must not
// block on pipeline completion, so the HTTP layer only ever enqueues.
type Queue interface {
	// Enqueue hands a job to the dispatch layer.
	Enqueue(job *models.TranscriptionJob) error

	// Dequeue blocks until a job is available or the queue is closed.
	Dequeue() (*models.TranscriptionJob, error)

	// Ack confirms a job has reached a terminal state.
	Ack(job *models.TranscriptionJob) error

	// Nack rejects a job, optionally requeueing it.
	Nack(job *models.TranscriptionJob, requeue bool) error

	// Close shuts the queue down.
	Close() error
}
