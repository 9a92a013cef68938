package queue

import (
	"fmt"
	"sync"

	"github.com/svdmeer/transcribe/pkg/models"
)

// MemoryQueue is the channel-backed in-process queue. It is the default
// dispatch mechanism; a buffered channel gives fire-and-forget submission and
// natural blocking dequeue for the workers.
type MemoryQueue struct {
	queue chan *models.TranscriptionJob

	mu     sync.Mutex
	closed bool
}

func NewMemoryQueue(bufferSize int) *MemoryQueue {
	return &MemoryQueue{
		queue: make(chan *models.TranscriptionJob, bufferSize),
	}
}

// Enqueue holds the lock across the send so a submission landing in the
// shutdown window gets an error instead of a send on a closed channel.
func (mq *MemoryQueue) Enqueue(job *models.TranscriptionJob) error {
	mq.mu.Lock()
	defer mq.mu.Unlock()

	if mq.closed {
		return fmt.Errorf("queue is closed")
	}
	select {
	case mq.queue <- job:
		return nil
	default:
		return fmt.Errorf("queue is full")
	}
}

func (mq *MemoryQueue) Dequeue() (*models.TranscriptionJob, error) {
	job, ok := <-mq.queue
	if !ok {
		return nil, fmt.Errorf("queue is closed")
	}
	return job, nil
}

// Ack is a no-op; in-process delivery needs no confirmation.
func (mq *MemoryQueue) Ack(job *models.TranscriptionJob) error { return nil }

func (mq *MemoryQueue) Nack(job *models.TranscriptionJob, requeue bool) error { return nil }

func (mq *MemoryQueue) Close() error {
	mq.mu.Lock()
	defer mq.mu.Unlock()

	if mq.closed {
		return nil
	}
	mq.closed = true
	close(mq.queue)
	return nil
}
