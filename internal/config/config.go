package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config contains all runtime settings for the recording service.
// Secrets are read from the environment only and never from the config file.
type Config struct {
	BindAddr         string        `yaml:"bind_addr"`
	ShutdownTimeout  time.Duration `yaml:"shutdown_timeout"`
	MetricsNamespace string        `yaml:"metrics_namespace"`
	AllowAnyOrigin   bool          `yaml:"allow_any_origin"`
	LogLevel         string        `yaml:"log_level"`
	LogFormat        string        `yaml:"log_format"`

	SweepInterval    time.Duration `yaml:"sweep_interval"`
	SessionMaxAge    time.Duration `yaml:"session_max_age"`
	TombstoneTTL     time.Duration `yaml:"tombstone_ttl"`
	MaxChunkBytes    int           `yaml:"max_chunk_bytes"`
	PipelineTimeout  time.Duration `yaml:"pipeline_timeout"`
	AudioSampleRate  int           `yaml:"audio_sample_rate"`
	DefaultMimeType  string        `yaml:"default_mime_type"`
	MaxSessionChunks int           `yaml:"max_session_chunks"`

	TranscribeProvider string `yaml:"transcribe_provider"`
	TranscribeModel    string `yaml:"transcribe_model"`
	TranscribeLanguage string `yaml:"transcribe_language"`
	SummaryModel       string `yaml:"summary_model"`
	SummaryBaseURL     string `yaml:"summary_base_url"`

	DatabaseURL string `yaml:"database_url"`
	SQLitePath  string `yaml:"sqlite_path"`

	GDriveFolderID        string `yaml:"gdrive_folder_id"`
	GoogleCredentialsFile string `yaml:"google_credentials_file"`
	ArchiveRedactPII      bool   `yaml:"archive_redact_pii"`

	OpenAIAPIKey    string `yaml:"-"`
	DeepgramAPIKey  string `yaml:"-"`
	AnthropicAPIKey string `yaml:"-"`
	GeminiAPIKey    string `yaml:"-"`
}

func defaults() Config {
	return Config{
		BindAddr:           ":8080",
		ShutdownTimeout:    15 * time.Second,
		MetricsNamespace:   "scribe",
		LogLevel:           "info",
		LogFormat:          "text",
		SweepInterval:      60 * time.Second,
		SessionMaxAge:      time.Hour,
		TombstoneTTL:       10 * time.Minute,
		MaxChunkBytes:      1 << 20,
		AudioSampleRate:    16000,
		DefaultMimeType:    "audio/webm",
		MaxSessionChunks:   20000,
		TranscribeProvider: "auto",
		TranscribeModel:    "whisper-1",
		SummaryModel:       "openai/gpt-4o-mini",
		ArchiveRedactPII:   true,
	}
}

// Load reads an optional YAML file, applies environment overrides, loads
// secrets and validates the result. A missing file is not an error.
// Warnings describe degraded but runnable setups.
func Load(path string) (Config, []string, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, nil, fmt.Errorf("parse config file: %w", err)
			}
		case !os.IsNotExist(err):
			return Config{}, nil, fmt.Errorf("read config file: %w", err)
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return Config{}, nil, err
	}
	loadSecrets(&cfg)

	if err := validate(cfg); err != nil {
		return Config{}, nil, err
	}
	return cfg, warnings(cfg), nil
}

func applyEnvOverrides(cfg *Config) error {
	cfg.BindAddr = envOrDefault("APP_BIND_ADDR", cfg.BindAddr)
	cfg.MetricsNamespace = envOrDefault("APP_METRICS_NAMESPACE", cfg.MetricsNamespace)
	cfg.LogLevel = envOrDefault("APP_LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = envOrDefault("APP_LOG_FORMAT", cfg.LogFormat)
	cfg.TranscribeProvider = envOrDefault("TRANSCRIBE_PROVIDER", cfg.TranscribeProvider)
	cfg.TranscribeModel = envOrDefault("TRANSCRIBE_MODEL", cfg.TranscribeModel)
	cfg.TranscribeLanguage = envOrDefault("TRANSCRIBE_LANGUAGE", cfg.TranscribeLanguage)
	cfg.SummaryModel = envOrDefault("SUMMARY_MODEL", cfg.SummaryModel)
	cfg.SummaryBaseURL = envOrDefault("SUMMARY_BASE_URL", cfg.SummaryBaseURL)
	cfg.DefaultMimeType = envOrDefault("AUDIO_DEFAULT_MIME_TYPE", cfg.DefaultMimeType)
	cfg.DatabaseURL = envOrDefault("DATABASE_URL", cfg.DatabaseURL)
	cfg.SQLitePath = envOrDefault("SQLITE_PATH", cfg.SQLitePath)
	cfg.GDriveFolderID = envOrDefault("GDRIVE_FOLDER_ID", cfg.GDriveFolderID)
	cfg.GoogleCredentialsFile = envOrDefault("GOOGLE_CREDENTIALS_FILE", cfg.GoogleCredentialsFile)

	var err error
	if cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout); err != nil {
		return err
	}
	if cfg.SweepInterval, err = durationFromEnv("SESSION_SWEEP_INTERVAL", cfg.SweepInterval); err != nil {
		return err
	}
	if cfg.SessionMaxAge, err = durationFromEnv("SESSION_MAX_AGE", cfg.SessionMaxAge); err != nil {
		return err
	}
	if cfg.TombstoneTTL, err = durationFromEnv("SESSION_TOMBSTONE_TTL", cfg.TombstoneTTL); err != nil {
		return err
	}
	if cfg.PipelineTimeout, err = durationFromEnv("PIPELINE_TIMEOUT", cfg.PipelineTimeout); err != nil {
		return err
	}
	if cfg.MaxChunkBytes, err = intFromEnv("SESSION_MAX_CHUNK_BYTES", cfg.MaxChunkBytes); err != nil {
		return err
	}
	if cfg.MaxSessionChunks, err = intFromEnv("SESSION_MAX_CHUNKS", cfg.MaxSessionChunks); err != nil {
		return err
	}
	if cfg.AudioSampleRate, err = intFromEnv("AUDIO_SAMPLE_RATE", cfg.AudioSampleRate); err != nil {
		return err
	}
	if cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin); err != nil {
		return err
	}
	if cfg.ArchiveRedactPII, err = boolFromEnv("ARCHIVE_REDACT_PII", cfg.ArchiveRedactPII); err != nil {
		return err
	}
	return nil
}

func loadSecrets(cfg *Config) {
	cfg.OpenAIAPIKey = stringsTrimSpace("OPENAI_API_KEY")
	cfg.DeepgramAPIKey = stringsTrimSpace("DEEPGRAM_API_KEY")
	cfg.AnthropicAPIKey = stringsTrimSpace("ANTHROPIC_API_KEY")
	cfg.GeminiAPIKey = stringsTrimSpace("GEMINI_API_KEY")
}

func validate(cfg Config) error {
	if cfg.SweepInterval < time.Second {
		return fmt.Errorf("SESSION_SWEEP_INTERVAL must be at least 1s")
	}
	if cfg.SessionMaxAge < cfg.SweepInterval {
		return fmt.Errorf("SESSION_MAX_AGE must be at least SESSION_SWEEP_INTERVAL")
	}
	if cfg.TombstoneTTL <= 0 {
		return fmt.Errorf("SESSION_TOMBSTONE_TTL must be positive")
	}
	if cfg.PipelineTimeout < 0 {
		return fmt.Errorf("PIPELINE_TIMEOUT must be >= 0")
	}
	if cfg.MaxChunkBytes <= 0 {
		return fmt.Errorf("SESSION_MAX_CHUNK_BYTES must be positive")
	}
	if cfg.MaxSessionChunks <= 0 {
		return fmt.Errorf("SESSION_MAX_CHUNKS must be positive")
	}
	if cfg.AudioSampleRate <= 0 {
		return fmt.Errorf("AUDIO_SAMPLE_RATE must be positive")
	}
	switch cfg.TranscribeProvider {
	case "auto", "openai", "deepgram", "failover", "mock":
	default:
		return fmt.Errorf("TRANSCRIBE_PROVIDER must be one of auto, openai, deepgram, failover, mock")
	}
	switch cfg.LogFormat {
	case "text", "json", "logfmt":
	default:
		return fmt.Errorf("APP_LOG_FORMAT must be one of text, json, logfmt")
	}
	if !strings.Contains(cfg.SummaryModel, "/") && cfg.SummaryModel != "mock" {
		return fmt.Errorf("SUMMARY_MODEL must be provider/model or mock")
	}
	return nil
}

func warnings(cfg Config) []string {
	var out []string
	switch cfg.TranscribeProvider {
	case "auto":
		if cfg.OpenAIAPIKey == "" && cfg.DeepgramAPIKey == "" {
			out = append(out, "no transcription key configured, using mock transcriber. Set OPENAI_API_KEY or DEEPGRAM_API_KEY.")
		}
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			out = append(out, "TRANSCRIBE_PROVIDER=openai but OPENAI_API_KEY is empty; recordings will fail.")
		}
	case "deepgram":
		if cfg.DeepgramAPIKey == "" {
			out = append(out, "TRANSCRIBE_PROVIDER=deepgram but DEEPGRAM_API_KEY is empty; recordings will fail.")
		}
	case "failover":
		if cfg.OpenAIAPIKey == "" || cfg.DeepgramAPIKey == "" {
			out = append(out, "TRANSCRIBE_PROVIDER=failover needs both OPENAI_API_KEY and DEEPGRAM_API_KEY; recordings will fail over to a misconfigured backend.")
		}
	}
	if cfg.SummaryModel != "mock" && cfg.SummaryAPIKey() == "" {
		out = append(out, fmt.Sprintf("no API key for summary model %q, using mock summarizer.", cfg.SummaryModel))
	}
	if cfg.GDriveFolderID != "" && cfg.GoogleCredentialsFile == "" {
		out = append(out, "GDRIVE_FOLDER_ID is set without GOOGLE_CREDENTIALS_FILE; archive export is disabled.")
	}
	if cfg.DatabaseURL == "" && cfg.SQLitePath == "" {
		out = append(out, "no DATABASE_URL or SQLITE_PATH configured, recordings are kept in memory only.")
	}
	return out
}

// SummaryProvider returns the provider half of SummaryModel.
func (c Config) SummaryProvider() string {
	provider, _, _ := strings.Cut(c.SummaryModel, "/")
	return provider
}

// SummaryAPIKey returns the secret matching the summary model's provider.
func (c Config) SummaryAPIKey() string {
	switch c.SummaryProvider() {
	case "openai":
		return c.OpenAIAPIKey
	case "anthropic":
		return c.AnthropicAPIKey
	case "gemini":
		return c.GeminiAPIKey
	default:
		return ""
	}
}

func envOrDefault(key, fallback string) string {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
