package storage

import "github.com/svdmeer/transcribe/pkg/models"

// Store is the job registry. It is the only state shared between concurrent
// jobs; entries are keyed by job id so no two jobs contend on the same key.
type Store interface {
	// Save registers or replaces a job.
	Save(job *models.TranscriptionJob) error

	// Get returns the job with the given id.
	Get(jobID string) (*models.TranscriptionJob, error)

	// Update applies fn to the job under the store's lock.
	Update(jobID string, fn func(*models.TranscriptionJob)) error

	// List returns all registered jobs.
	List() ([]*models.TranscriptionJob, error)

	// Delete removes a job record.
	Delete(jobID string) error

	// Close releases any resources held by the store.
	Close() error
}
