package main

import (
	"bytes"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/svdmeer/transcribe/pkg/apperr"
	"github.com/svdmeer/transcribe/pkg/audio"
	"github.com/svdmeer/transcribe/pkg/engine"
	"github.com/svdmeer/transcribe/pkg/models"
	"github.com/svdmeer/transcribe/pkg/transcript"
)

func (app *App) setupRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.MaxMultipartMemory = 32 << 20

	api := r.Group("/api")
	{
		api.GET("/health", app.handleHealth)
		api.GET("/config", app.handleConfig)
		api.POST("/transcribe", app.handleTranscribe)
		api.GET("/transcriptions", app.handleListJobs)
		api.GET("/transcriptions/:job_id", app.handleGetJob)
		api.DELETE("/transcriptions/:job_id", app.handleDeleteJob)
		api.GET("/transcriptions/:job_id/export/:format", app.handleExport)
	}
	return r
}

func (app *App) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"version":   version,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleConfig reports the limits and formats the frontend needs to validate
// uploads before sending them.
func (app *App) handleConfig(c *gin.Context) {
	engines := make(map[string]gin.H, len(app.engines))
	for name, eng := range app.engines {
		engines[name] = gin.H{
			"accepted_formats": audio.AcceptedExtensions(name),
			"native_formats":   audio.NativeExtensions(name),
			"max_upload_mb":    eng.MaxUploadBytes() >> 20,
		}
	}

	names := make([]string, 0, len(app.engines))
	for name := range app.engines {
		names = append(names, name)
	}
	sort.Strings(names)

	c.JSON(http.StatusOK, gin.H{
		"engines":             engines,
		"engine_names":        names,
		"default_engine":      app.cfg.Engines.Default,
		"default_language":    app.cfg.Transcriber.DefaultLanguage,
		"supported_languages": engine.SupportedLanguages(),
		"ffmpeg_available":    audio.FFmpegAvailable(),
		"max_speakers":        app.cfg.Engines.Speech.MaxSpeakers,
	})
}

func (app *App) handleTranscribe(c *gin.Context) {
	file, err := c.FormFile("audio")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no audio file provided"})
		return
	}

	language := c.DefaultPostForm("language", app.cfg.Transcriber.DefaultLanguage)
	engineName := c.DefaultPostForm("engine", app.cfg.Engines.Default)

	eng, ok := app.engines[engineName]
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("unknown or unconfigured engine %q", engineName),
		})
		return
	}

	if !audio.Accepted(file.Filename, engineName) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("unsupported file format for engine %s, accepted: %s",
				engineName, strings.Join(audio.AcceptedExtensions(engineName), ", ")),
		})
		return
	}

	// Files the engine takes as-is can be rejected on size right here.
	// Anything that still goes through ffmpeg is checked after conversion,
	// since re-encoding usually shrinks it below the ceiling.
	if audio.Classify(file.Filename, engineName) == audio.DecisionNative && file.Size > eng.MaxUploadBytes() {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{
			"error": fmt.Sprintf("file is %d MB, engine %s accepts at most %d MB",
				file.Size>>20, engineName, eng.MaxUploadBytes()>>20),
		})
		return
	}

	jobID := uuid.New().String()
	ext := strings.ToLower(filepath.Ext(file.Filename))
	dstPath := filepath.Join(app.cfg.Server.UploadDir, jobID+ext)

	if err := c.SaveUploadedFile(file, dstPath); err != nil {
		app.log.Error().Err(err).Str("job_id", jobID).Msg("failed to save upload")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save uploaded file"})
		return
	}

	job := &models.TranscriptionJob{
		JobID:     jobID,
		Filename:  file.Filename,
		FilePath:  dstPath,
		Language:  language,
		Engine:    engineName,
		Status:    models.StatusProcessing,
		Stage:     "queued",
		Segments:  []models.TranscriptionSegment{},
		CreatedAt: time.Now(),
	}

	if err := app.store.Save(job); err != nil {
		app.removeUpload(dstPath, jobID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to register job"})
		return
	}

	if err := app.queue.Enqueue(job); err != nil {
		app.log.Error().Err(err).Str("job_id", jobID).Msg("failed to enqueue job")
		app.removeUpload(dstPath, jobID)
		_ = app.store.Delete(jobID)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "transcription queue is full, try again later"})
		return
	}

	app.log.Info().
		Str("job_id", jobID).
		Str("filename", file.Filename).
		Str("engine", engineName).
		Str("language", language).
		Int64("size", file.Size).
		Msg("job accepted")

	// The worker may already be mutating the job record through the store;
	// after Enqueue the shared pointer must not be read here.
	c.JSON(http.StatusOK, gin.H{
		"job_id":  jobID,
		"status":  models.StatusProcessing,
		"message": "transcription started",
	})
}

func (app *App) handleGetJob(c *gin.Context) {
	job, err := app.store.Get(c.Param("job_id"))
	if err != nil {
		c.JSON(apperr.HTTPStatusOf(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, job)
}

func (app *App) handleListJobs(c *gin.Context) {
	jobs, err := app.store.List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
	c.JSON(http.StatusOK, gin.H{"transcriptions": jobs, "count": len(jobs)})
}

func (app *App) handleDeleteJob(c *gin.Context) {
	jobID := c.Param("job_id")

	job, err := app.store.Get(jobID)
	if err != nil {
		c.JSON(apperr.HTTPStatusOf(err), gin.H{"error": err.Error()})
		return
	}
	if !job.Status.Terminal() {
		c.JSON(http.StatusConflict, gin.H{"error": "job is still processing"})
		return
	}

	if err := app.store.Delete(jobID); err != nil {
		c.JSON(apperr.HTTPStatusOf(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "transcription deleted"})
}

func (app *App) handleExport(c *gin.Context) {
	job, err := app.store.Get(c.Param("job_id"))
	if err != nil {
		c.JSON(apperr.HTTPStatusOf(err), gin.H{"error": err.Error()})
		return
	}
	if job.Status != models.StatusCompleted {
		c.JSON(http.StatusBadRequest, gin.H{"error": "transcription is not completed"})
		return
	}

	format := c.Param("format")

	var buf bytes.Buffer
	var contentType, ext string
	switch format {
	case "text":
		buf.WriteString(transcript.GroupBySpeaker(job.Segments))
		contentType, ext = "text/plain; charset=utf-8", "txt"
	case "srt":
		if err := transcript.WriteSRT(&buf, job.Segments); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		contentType, ext = "application/x-subrip", "srt"
	case "vtt":
		if err := transcript.WriteVTT(&buf, job.Segments); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		contentType, ext = "text/vtt", "vtt"
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported export format, use text, srt or vtt"})
		return
	}

	filename := fmt.Sprintf("transcript_%s.%s", shortID(job.JobID), ext)
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	c.Data(http.StatusOK, contentType, buf.Bytes())
}

func (app *App) removeUpload(path, jobID string) {
	if err := os.Remove(path); err != nil {
		app.log.Warn().Err(err).Str("job_id", jobID).Msg("failed to remove upload during rollback")
	}
}

func shortID(jobID string) string {
	if len(jobID) > 8 {
		return jobID[:8]
	}
	return jobID
}
