package storage

import (
	"sync"

	"github.com/svdmeer/transcribe/pkg/apperr"
	"github.com/svdmeer/transcribe/pkg/models"
)

// JobStore is the in-memory Store implementation. Job records live for the
// lifetime of the process only.
type JobStore struct {
	jobs map[string]*models.TranscriptionJob
	mu   sync.RWMutex
}

func NewJobStore() *JobStore {
	return &JobStore{
		jobs: make(map[string]*models.TranscriptionJob),
	}
}

func (js *JobStore) Save(job *models.TranscriptionJob) error {
	js.mu.Lock()
	defer js.mu.Unlock()

	js.jobs[job.JobID] = job
	return nil
}

// Get returns a copy so readers never race with the worker's updates.
func (js *JobStore) Get(jobID string) (*models.TranscriptionJob, error) {
	js.mu.RLock()
	defer js.mu.RUnlock()

	job, exists := js.jobs[jobID]
	if !exists {
		return nil, apperr.NotFound("job %s not found", jobID)
	}

	cp := *job
	return &cp, nil
}

func (js *JobStore) Update(jobID string, fn func(*models.TranscriptionJob)) error {
	js.mu.Lock()
	defer js.mu.Unlock()

	job, exists := js.jobs[jobID]
	if !exists {
		return apperr.NotFound("job %s not found", jobID)
	}

	fn(job)
	return nil
}

func (js *JobStore) List() ([]*models.TranscriptionJob, error) {
	js.mu.RLock()
	defer js.mu.RUnlock()

	jobs := make([]*models.TranscriptionJob, 0, len(js.jobs))
	for _, job := range js.jobs {
		cp := *job
		jobs = append(jobs, &cp)
	}

	return jobs, nil
}

func (js *JobStore) Delete(jobID string) error {
	js.mu.Lock()
	defer js.mu.Unlock()

	if _, exists := js.jobs[jobID]; !exists {
		return apperr.NotFound("job %s not found", jobID)
	}

	delete(js.jobs, jobID)
	return nil
}

func (js *JobStore) Close() error {
	return nil
}
