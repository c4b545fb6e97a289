package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)

	cfg, warns, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":8080" {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, ":8080")
	}
	if cfg.SweepInterval != 60*time.Second {
		t.Fatalf("SweepInterval = %v, want 60s", cfg.SweepInterval)
	}
	if cfg.SessionMaxAge != time.Hour {
		t.Fatalf("SessionMaxAge = %v, want 1h", cfg.SessionMaxAge)
	}
	if cfg.PipelineTimeout != 0 {
		t.Fatalf("PipelineTimeout = %v, want 0", cfg.PipelineTimeout)
	}
	if len(warns) == 0 {
		t.Fatalf("expected warnings for keyless setup")
	}
}

func TestLoadFileThenEnvOverride(t *testing.T) {
	setCoreEnvEmpty(t)
	path := filepath.Join(t.TempDir(), "scribe.yaml")
	body := "bind_addr: \":7000\"\nsession_max_age: 30m\nsummary_model: anthropic/claude-sonnet-4-5\nsqlite_path: data/x.db\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	t.Setenv("APP_BIND_ADDR", ":9090")
	t.Setenv("ANTHROPIC_API_KEY", " key ")

	cfg, _, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":9090" {
		t.Fatalf("BindAddr = %q, want env override", cfg.BindAddr)
	}
	if cfg.SessionMaxAge != 30*time.Minute {
		t.Fatalf("SessionMaxAge = %v, want 30m", cfg.SessionMaxAge)
	}
	if cfg.SummaryProvider() != "anthropic" {
		t.Fatalf("SummaryProvider() = %q, want anthropic", cfg.SummaryProvider())
	}
	if cfg.SummaryAPIKey() != "key" {
		t.Fatalf("SummaryAPIKey() = %q, want trimmed key", cfg.SummaryAPIKey())
	}
	if cfg.SQLitePath != "data/x.db" {
		t.Fatalf("SQLitePath = %q", cfg.SQLitePath)
	}
}

func TestLoadMissingFileIsNotAnError(t *testing.T) {
	setCoreEnvEmpty(t)
	if _, _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"SESSION_SWEEP_INTERVAL":  "10ms",
		"SESSION_MAX_CHUNK_BYTES": "0",
		"TRANSCRIBE_PROVIDER":     "vosk",
		"APP_ALLOW_ANY_ORIGIN":    "maybe",
		"PIPELINE_TIMEOUT":        "soon",
		"SUMMARY_MODEL":           "gpt-4o",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			setCoreEnvEmpty(t)
			t.Setenv(key, value)
			_, _, err := Load("")
			if err == nil {
				t.Fatalf("Load() error = nil, want error for %s=%q", key, value)
			}
			if !strings.Contains(err.Error(), key) {
				t.Fatalf("error %q does not name %s", err, key)
			}
		})
	}
}

func TestLoadFailoverNeedsBothKeys(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("TRANSCRIBE_PROVIDER", "failover")
	t.Setenv("OPENAI_API_KEY", "sk")

	cfg, warns, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.TranscribeProvider != "failover" {
		t.Fatalf("TranscribeProvider = %q, want failover", cfg.TranscribeProvider)
	}
	found := false
	for _, w := range warns {
		if strings.Contains(w, "TRANSCRIBE_PROVIDER=failover") {
			found = true
		}
	}
	if !found {
		t.Fatalf("warnings %q do not mention the missing failover key", warns)
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_ALLOW_ANY_ORIGIN",
		"APP_LOG_LEVEL",
		"APP_LOG_FORMAT",
		"SESSION_SWEEP_INTERVAL",
		"SESSION_MAX_AGE",
		"SESSION_TOMBSTONE_TTL",
		"SESSION_MAX_CHUNK_BYTES",
		"SESSION_MAX_CHUNKS",
		"PIPELINE_TIMEOUT",
		"AUDIO_SAMPLE_RATE",
		"AUDIO_DEFAULT_MIME_TYPE",
		"TRANSCRIBE_PROVIDER",
		"TRANSCRIBE_MODEL",
		"TRANSCRIBE_LANGUAGE",
		"SUMMARY_MODEL",
		"SUMMARY_BASE_URL",
		"DATABASE_URL",
		"SQLITE_PATH",
		"GDRIVE_FOLDER_ID",
		"GOOGLE_CREDENTIALS_FILE",
		"ARCHIVE_REDACT_PII",
		"OPENAI_API_KEY",
		"DEEPGRAM_API_KEY",
		"ANTHROPIC_API_KEY",
		"GEMINI_API_KEY",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
