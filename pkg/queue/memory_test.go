package queue

import (
	"testing"

	"github.com/svdmeer/transcribe/pkg/models"
)

func TestMemoryQueueRoundTrip(t *testing.T) {
	q := NewMemoryQueue(4)

	in := &models.TranscriptionJob{JobID: "job-1"}
	if err := q.Enqueue(in); err != nil {
		t.Fatal(err)
	}

	out, err := q.Dequeue()
	if err != nil {
		t.Fatal(err)
	}
	if out.JobID != "job-1" {
		t.Errorf("JobID = %q", out.JobID)
	}
}

func TestMemoryQueuePreservesOrder(t *testing.T) {
	q := NewMemoryQueue(8)
	for _, id := range []string{"a", "b", "c"} {
		if err := q.Enqueue(&models.TranscriptionJob{JobID: id}); err != nil {
			t.Fatal(err)
		}
	}
	for _, want := range []string{"a", "b", "c"} {
		job, err := q.Dequeue()
		if err != nil {
			t.Fatal(err)
		}
		if job.JobID != want {
			t.Errorf("JobID = %q, want %q", job.JobID, want)
		}
	}
}

func TestMemoryQueueFull(t *testing.T) {
	q := NewMemoryQueue(1)

	if err := q.Enqueue(&models.TranscriptionJob{JobID: "a"}); err != nil {
		t.Fatal(err)
	}
	// Submission must never block the HTTP handler; a full queue errors.
	if err := q.Enqueue(&models.TranscriptionJob{JobID: "b"}); err == nil {
		t.Error("expected error when the buffer is full")
	}
}

func TestMemoryQueueClose(t *testing.T) {
	q := NewMemoryQueue(1)
	if err := q.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := q.Dequeue(); err == nil {
		t.Error("dequeue from a closed queue should error")
	}
	if err := q.Close(); err != nil {
		t.Errorf("closing twice should be a no-op: %v", err)
	}
}

func TestMemoryQueueEnqueueAfterClose(t *testing.T) {
	q := NewMemoryQueue(1)
	if err := q.Close(); err != nil {
		t.Fatal(err)
	}
	// A submission landing during shutdown must error, never panic.
	if err := q.Enqueue(&models.TranscriptionJob{JobID: "late"}); err == nil {
		t.Error("expected error when enqueueing into a closed queue")
	}
}

func TestMemoryQueueAckNackNoOps(t *testing.T) {
	q := NewMemoryQueue(1)
	job := &models.TranscriptionJob{JobID: "a"}
	if err := q.Ack(job); err != nil {
		t.Errorf("Ack: %v", err)
	}
	if err := q.Nack(job, true); err != nil {
		t.Errorf("Nack: %v", err)
	}
}
