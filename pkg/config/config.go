package config

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
)

// Config is the application configuration, loaded from YAML with secrets
// overridable from the environment.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Engines     EnginesConfig     `yaml:"engines"`
	Transcriber TranscriberConfig `yaml:"transcriber"`
	Queue       QueueConfig       `yaml:"queue"`
	Log         LogConfig         `yaml:"log"`
}

type ServerConfig struct {
	Port      int    `yaml:"port"`
	UploadDir string `yaml:"upload_dir"`
}

// EnginesConfig selects and configures the two transcription backends.
type EnginesConfig struct {
	Default string             `yaml:"default"`
	OpenAI  OpenAIEngineConfig `yaml:"openai"`
	Speech  SpeechEngineConfig `yaml:"speech"`
}

// OpenAIEngineConfig configures the deployment-model backend.
type OpenAIEngineConfig struct {
	Endpoint   string `yaml:"endpoint"`
	APIKey     string `yaml:"api_key"`
	Deployment string `yaml:"deployment"`
	APIVersion string `yaml:"api_version"`
}

// SpeechEngineConfig configures the fast-transcription backend.
type SpeechEngineConfig struct {
	Key         string   `yaml:"key"`
	Region      string   `yaml:"region"`
	MaxSpeakers int      `yaml:"max_speakers"`
	PhraseList  []string `yaml:"phrase_list"`
}

type TranscriberConfig struct {
	WorkerCount           int    `yaml:"worker_count"`
	DefaultLanguage       string `yaml:"default_language"`
	ConvertTimeoutSeconds int    `yaml:"convert_timeout_seconds"`
	RequestTimeoutSeconds int    `yaml:"request_timeout_seconds"`
}

type QueueConfig struct {
	Type       string         `yaml:"type"`
	BufferSize int            `yaml:"buffer_size"`
	RabbitMQ   RabbitMQConfig `yaml:"rabbitmq"`
}

type RabbitMQConfig struct {
	URL       string `yaml:"url"`
	QueueName string `yaml:"queue_name"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Load reads the YAML file at configPath, applies environment overrides for
// credentials, validates and fills defaults. A missing file is not an error;
// the environment alone can configure the service.
func Load(configPath string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", configPath, err)
		}
	case os.IsNotExist(err):
		// fall through to env + defaults
	default:
		return nil, fmt.Errorf("read config %s: %w", configPath, err)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// applyEnv lets the environment override credentials and connection settings
// so secrets never have to live in the YAML file.
func (c *Config) applyEnv() {
	overrideString(&c.Engines.OpenAI.Endpoint, "AZURE_OPENAI_ENDPOINT")
	overrideString(&c.Engines.OpenAI.APIKey, "AZURE_OPENAI_API_KEY")
	overrideString(&c.Engines.OpenAI.Deployment, "AZURE_OPENAI_DEPLOYMENT_NAME")
	overrideString(&c.Engines.Speech.Key, "AZURE_SPEECH_KEY")
	overrideString(&c.Engines.Speech.Region, "AZURE_SPEECH_REGION")
	overrideString(&c.Queue.RabbitMQ.URL, "RABBITMQ_URL")
	overrideString(&c.Log.Level, "LOG_LEVEL")
}

func overrideString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// Validate fills defaults and rejects configurations the service cannot run
// with. Engine credentials are deliberately not checked here; each adapter
// fails fast at construction so one unconfigured backend does not take the
// whole service down.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 {
		c.Server.Port = 8080
	}
	if c.Server.UploadDir == "" {
		c.Server.UploadDir = "./uploads"
	}

	switch c.Engines.Default {
	case "":
		c.Engines.Default = "speech"
	case "openai", "speech":
	default:
		return fmt.Errorf("unknown default engine %q", c.Engines.Default)
	}
	if c.Engines.OpenAI.Deployment == "" {
		c.Engines.OpenAI.Deployment = "gpt-4o-transcribe-diarize"
	}
	if c.Engines.OpenAI.APIVersion == "" {
		c.Engines.OpenAI.APIVersion = "2025-01-01"
	}
	if c.Engines.Speech.MaxSpeakers <= 0 {
		c.Engines.Speech.MaxSpeakers = 10
	}

	if c.Transcriber.WorkerCount <= 0 {
		c.Transcriber.WorkerCount = 2
	}
	if c.Transcriber.DefaultLanguage == "" {
		c.Transcriber.DefaultLanguage = "nl"
	}
	if c.Transcriber.ConvertTimeoutSeconds <= 0 {
		c.Transcriber.ConvertTimeoutSeconds = 300
	}
	if c.Transcriber.RequestTimeoutSeconds <= 0 {
		c.Transcriber.RequestTimeoutSeconds = 600
	}

	switch c.Queue.Type {
	case "":
		c.Queue.Type = "memory"
	case "memory", "rabbitmq":
	default:
		return fmt.Errorf("unknown queue type %q", c.Queue.Type)
	}
	if c.Queue.BufferSize <= 0 {
		c.Queue.BufferSize = 64
	}
	if c.Queue.Type == "rabbitmq" {
		if c.Queue.RabbitMQ.URL == "" {
			return fmt.Errorf("queue type rabbitmq requires a url")
		}
		if c.Queue.RabbitMQ.QueueName == "" {
			c.Queue.RabbitMQ.QueueName = "transcription_jobs"
		}
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}

	return nil
}
