// Package worker runs the transcription pipeline as background work. It owns
// the job lifecycle: every job that enters processing reaches exactly one
// terminal state, and every file the pipeline touches is cleaned up on every
// exit path, including panics.
package worker

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/svdmeer/transcribe/pkg/apperr"
	"github.com/svdmeer/transcribe/pkg/audio"
	"github.com/svdmeer/transcribe/pkg/engine"
	"github.com/svdmeer/transcribe/pkg/models"
	"github.com/svdmeer/transcribe/pkg/queue"
	"github.com/svdmeer/transcribe/pkg/storage"
	"github.com/svdmeer/transcribe/pkg/transcript"
)

// jobTimeout bounds one whole pipeline run. The stages inside carry their own
// tighter timeouts; this is the backstop against a job stuck in processing.
const jobTimeout = 30 * time.Minute

// Pool consumes the dispatch queue with a fixed number of workers. Jobs run
// independently; the registry is the only shared state.
type Pool struct {
	queue     queue.Queue
	store     storage.Store
	engines   map[string]engine.Engine
	converter *audio.Converter
	size      int
	log       zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewPool(q queue.Queue, store storage.Store, engines map[string]engine.Engine, converter *audio.Converter, size int, log zerolog.Logger) *Pool {
	if size <= 0 {
		size = 2
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Pool{
		queue:     q,
		store:     store,
		engines:   engines,
		converter: converter,
		size:      size,
		log:       log.With().Str("component", "worker").Logger(),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start launches the workers.
func (p *Pool) Start() {
	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.run(i)
	}
	p.log.Info().Int("workers", p.size).Msg("worker pool started")
}

// Stop cancels in-flight work and waits for the workers to exit. The queue
// must be closed by the caller to unblock Dequeue.
func (p *Pool) Stop() {
	p.cancel()
	p.wg.Wait()
	p.log.Info().Msg("worker pool stopped")
}

func (p *Pool) run(id int) {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		default:
		}

		job, err := p.queue.Dequeue()
		if err != nil {
			select {
			case <-p.ctx.Done():
				return
			case <-time.After(time.Second):
				continue
			}
		}

		p.processJob(job)
	}
}

// processJob drives one job to a terminal state. The uploaded file is removed
// unconditionally afterwards; a removal failure is logged and swallowed so it
// can never mask the transcription outcome.
func (p *Pool) processJob(job *models.TranscriptionJob) {
	log := p.log.With().Str("job_id", job.JobID).Str("engine", job.Engine).Str("filename", job.Filename).Logger()
	log.Info().Msg("job started")

	defer func() {
		if err := os.Remove(job.FilePath); err != nil && !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", job.FilePath).Msg("failed to remove uploaded file")
		}
	}()

	start := time.Now()
	if err := p.runPipeline(job, log); err != nil {
		p.fail(job.JobID, err)
		log.Error().Err(err).Msg("job failed")
		if nackErr := p.queue.Nack(job, false); nackErr != nil {
			log.Warn().Err(nackErr).Msg("failed to nack job")
		}
		return
	}

	log.Info().Dur("elapsed", time.Since(start)).Msg("job completed")
	if ackErr := p.queue.Ack(job); ackErr != nil {
		log.Warn().Err(ackErr).Msg("failed to ack job")
	}
}

// runPipeline executes the stages strictly in order: classify, normalize,
// transcribe, normalize diarization, finalize. A panic anywhere is converted
// into an error so the job still reaches a terminal state.
func (p *Pool) runPipeline(job *models.TranscriptionJob, log zerolog.Logger) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = apperr.Internal("transcription pipeline panicked: %v", r)
		}
	}()

	eng, ok := p.engines[job.Engine]
	if !ok {
		return apperr.Validation("engine %q is not configured", job.Engine)
	}

	ctx, cancel := context.WithTimeout(p.ctx, jobTimeout)
	defer cancel()

	decision := audio.Classify(job.Filename, eng.Name())
	if decision == audio.DecisionUnsupported {
		// Uploads are validated at the boundary; reaching this means the
		// tables changed between submission and processing.
		return apperr.Validation("file format of %s is not supported by engine %s", job.Filename, eng.Name())
	}
	log.Info().Stringer("decision", decision).Msg("conversion plan")

	if decision != audio.DecisionNative {
		p.setStage(job.JobID, "Preparing audio for "+eng.Name()+"...")
	}
	resolved, cleanup, err := p.converter.Normalize(ctx, job.FilePath, decision, eng.MaxUploadBytes())
	if err != nil {
		return err
	}
	defer cleanup()

	progress := func(message string) {
		p.setStage(job.JobID, message)
		log.Info().Msg(message)
	}

	raw, err := eng.Transcribe(ctx, resolved, job.Language, progress)
	if err != nil {
		return err
	}

	// The minimal response format carries no duration; probe it so the
	// synthesized single segment still spans the recording.
	if raw.DurationSeconds == 0 && raw.Text != "" {
		if d, derr := p.converter.Duration(ctx, resolved); derr == nil {
			raw.DurationSeconds = d
		}
	}

	segments, fullText, durationSeconds := transcript.Normalize(raw)

	now := time.Now()
	return p.store.Update(job.JobID, func(j *models.TranscriptionJob) {
		j.Status = models.StatusCompleted
		j.Segments = segments
		j.FullText = fullText
		j.DurationSeconds = durationSeconds
		j.Stage = ""
		j.Error = ""
		j.CompletedAt = &now
	})
}

// fail records the terminal error state with the failure message preserved
// verbatim.
func (p *Pool) fail(jobID string, cause error) {
	now := time.Now()
	updateErr := p.store.Update(jobID, func(j *models.TranscriptionJob) {
		j.Status = models.StatusError
		j.Error = cause.Error()
		j.Segments = []models.TranscriptionSegment{}
		j.FullText = ""
		j.Stage = ""
		j.CompletedAt = &now
	})
	if updateErr != nil {
		p.log.Error().Err(updateErr).Str("job_id", jobID).Msg("failed to record job error")
	}
}

func (p *Pool) setStage(jobID, stage string) {
	_ = p.store.Update(jobID, func(j *models.TranscriptionJob) {
		j.Stage = stage
	})
}
