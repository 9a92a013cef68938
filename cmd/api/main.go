package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/svdmeer/transcribe/pkg/audio"
	"github.com/svdmeer/transcribe/pkg/config"
	"github.com/svdmeer/transcribe/pkg/engine"
	"github.com/svdmeer/transcribe/pkg/queue"
	"github.com/svdmeer/transcribe/pkg/storage"
	"github.com/svdmeer/transcribe/pkg/worker"
)

const version = "0.3.0"

// App holds the wired components. Everything is constructed once in main and
// injected; there is no package-level state.
type App struct {
	cfg       *config.Config
	store     storage.Store
	queue     queue.Queue
	engines   map[string]engine.Engine
	converter *audio.Converter
	log       zerolog.Logger
}

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the config file")
	flag.Parse()

	// .env is optional; deployments usually set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log := newLogger(cfg.Log)

	if err := os.MkdirAll(cfg.Server.UploadDir, 0o755); err != nil {
		log.Fatal().Err(err).Str("dir", cfg.Server.UploadDir).Msg("failed to create upload dir")
	}

	engines := buildEngines(cfg, log)
	if len(engines) == 0 {
		log.Fatal().Msg("no transcription engine is configured; set the azure credentials")
	}
	if _, ok := engines[cfg.Engines.Default]; !ok {
		log.Fatal().Str("engine", cfg.Engines.Default).Msg("default engine is not configured")
	}

	var q queue.Queue
	switch cfg.Queue.Type {
	case "rabbitmq":
		q, err = queue.NewRabbitMQQueue(cfg.Queue.RabbitMQ.URL, cfg.Queue.RabbitMQ.QueueName,
			cfg.Transcriber.WorkerCount, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to rabbitmq")
		}
	default:
		q = queue.NewMemoryQueue(cfg.Queue.BufferSize)
	}

	converter := audio.NewConverter(time.Duration(cfg.Transcriber.ConvertTimeoutSeconds)*time.Second, log)
	if !audio.FFmpegAvailable() {
		log.Warn().Msg("ffmpeg not found on PATH; only natively supported formats will work")
	}

	store := storage.NewJobStore()

	pool := worker.NewPool(q, store, engines, converter, cfg.Transcriber.WorkerCount, log)
	pool.Start()

	app := &App{
		cfg:       cfg,
		store:     store,
		queue:     q,
		engines:   engines,
		converter: converter,
		log:       log,
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: app.setupRouter(),
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()
	log.Info().
		Int("port", cfg.Server.Port).
		Str("default_engine", cfg.Engines.Default).
		Int("workers", cfg.Transcriber.WorkerCount).
		Str("queue", cfg.Queue.Type).
		Msg("transcription service started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)

	// Close the queue first so blocked Dequeue calls return, then stop the
	// pool. Jobs still in flight land in a terminal state on cancellation.
	q.Close()
	pool.Stop()
	store.Close()
	log.Info().Msg("shutdown complete")
}

func newLogger(cfg config.LogConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var w io.Writer = os.Stdout
	if cfg.Pretty {
		w = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// buildEngines constructs every backend whose credentials are present. One
// missing backend is a warning; having none is fatal (checked by the caller).
func buildEngines(cfg *config.Config, log zerolog.Logger) map[string]engine.Engine {
	engines := make(map[string]engine.Engine)
	timeout := time.Duration(cfg.Transcriber.RequestTimeoutSeconds) * time.Second

	openai, err := engine.NewOpenAIEngine(
		cfg.Engines.OpenAI.Endpoint,
		cfg.Engines.OpenAI.APIKey,
		cfg.Engines.OpenAI.Deployment,
		cfg.Engines.OpenAI.APIVersion,
		timeout, log)
	if err != nil {
		log.Warn().Err(err).Msg("openai engine not available")
	} else {
		engines[openai.Name()] = openai
	}

	speech, err := engine.NewSpeechEngine(
		cfg.Engines.Speech.Key,
		cfg.Engines.Speech.Region,
		cfg.Engines.Speech.MaxSpeakers,
		cfg.Engines.Speech.PhraseList,
		timeout, log)
	if err != nil {
		log.Warn().Err(err).Msg("speech engine not available")
	} else {
		engines[speech.Name()] = speech
	}

	return engines
}
