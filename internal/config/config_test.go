package config

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// TestDefaults verifies all default values are applied when loading an empty config file.
func TestDefaults(t *testing.T) {
	path := writeTempConfig(t, "# empty\n")

	cfg, err := loadFromPath(path, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Ollama.BaseURL != "http://localhost:11434" {
		t.Errorf("Ollama.BaseURL = %q", cfg.Ollama.BaseURL)
	}
	if cfg.Ollama.Model != "deepseek-r1:8b" {
		t.Errorf("Ollama.Model = %q", cfg.Ollama.Model)
	}
	if cfg.Ollama.RequestTimeout != 180*time.Second {
		t.Errorf("Ollama.RequestTimeout = %v", cfg.Ollama.RequestTimeout)
	}
	if cfg.Generate.Count != 1200 {
		t.Errorf("Generate.Count = %d, want 1200", cfg.Generate.Count)
	}
	if cfg.Generate.Temperature != 0.8 || cfg.Generate.TopP != 0.85 {
		t.Errorf("Generate sampling = %v/%v", cfg.Generate.Temperature, cfg.Generate.TopP)
	}
	if cfg.Annotate.Temperature != 0.1 || cfg.Annotate.TopP != 0.3 {
		t.Errorf("Annotate sampling = %v/%v", cfg.Annotate.Temperature, cfg.Annotate.TopP)
	}
	if cfg.Annotate.TimeoutBackoff != 5*time.Second || cfg.Annotate.ConnectionBackoff != 15*time.Second {
		t.Errorf("Annotate backoff = %v/%v", cfg.Annotate.TimeoutBackoff, cfg.Annotate.ConnectionBackoff)
	}
	if cfg.Annotate.MaxParseAttempts != 3 {
		t.Errorf("Annotate.MaxParseAttempts = %d", cfg.Annotate.MaxParseAttempts)
	}
	if cfg.Batch.ProgressEvery != 10 || cfg.Batch.CheckpointEvery != 50 {
		t.Errorf("Batch = %+v", cfg.Batch)
	}
	if cfg.Annotate.Output != "analyzed_tickets.csv" || cfg.Annotate.BackupDir != "analysis_backups" {
		t.Errorf("Annotate paths = %q, %q", cfg.Annotate.Output, cfg.Annotate.BackupDir)
	}
	if len(cfg.Generate.Catalog.Products) != 10 {
		t.Errorf("Catalog.Products has %d entries", len(cfg.Generate.Catalog.Products))
	}
	if len(cfg.Annotate.Vocabulary.Categories) != 8 {
		t.Errorf("Vocabulary.Categories has %d entries", len(cfg.Annotate.Vocabulary.Categories))
	}
}

// TestYAMLParsing verifies that fields are read from a YAML file.
func TestYAMLParsing(t *testing.T) {
	path := writeTempConfig(t, `
ollama:
  base_url: http://custom:11434
  model: llama3.1:8b
  request_timeout: 30s
generate:
  count: 25
  products:
    - Widget One
    - Widget Two
annotate:
  pause_min: 0s
  pause_max: 100ms
  max_parse_attempts: 5
  categories: [Billing, Other]
batch:
  checkpoint_every: 5
storage:
  ledger: false
log:
  level: debug
`)

	cfg, err := loadFromPath(path, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Ollama.BaseURL != "http://custom:11434" {
		t.Errorf("Ollama.BaseURL = %q", cfg.Ollama.BaseURL)
	}
	if cfg.Ollama.Model != "llama3.1:8b" {
		t.Errorf("Ollama.Model = %q", cfg.Ollama.Model)
	}
	if cfg.Ollama.RequestTimeout != 30*time.Second {
		t.Errorf("Ollama.RequestTimeout = %v", cfg.Ollama.RequestTimeout)
	}
	if cfg.Generate.Count != 25 {
		t.Errorf("Generate.Count = %d", cfg.Generate.Count)
	}
	if !slices.Equal(cfg.Generate.Catalog.Products, []string{"Widget One", "Widget Two"}) {
		t.Errorf("Catalog.Products = %v", cfg.Generate.Catalog.Products)
	}
	if cfg.Annotate.PauseMin != 0 || cfg.Annotate.PauseMax != 100*time.Millisecond {
		t.Errorf("Annotate pause = %v..%v", cfg.Annotate.PauseMin, cfg.Annotate.PauseMax)
	}
	if cfg.Annotate.MaxParseAttempts != 5 {
		t.Errorf("Annotate.MaxParseAttempts = %d", cfg.Annotate.MaxParseAttempts)
	}
	if !slices.Equal(cfg.Annotate.Vocabulary.Categories, []string{"Billing", "Other"}) {
		t.Errorf("Vocabulary.Categories = %v", cfg.Annotate.Vocabulary.Categories)
	}
	if cfg.Batch.CheckpointEvery != 5 {
		t.Errorf("Batch.CheckpointEvery = %d", cfg.Batch.CheckpointEvery)
	}
	if cfg.Storage.Ledger {
		t.Error("Storage.Ledger = true, want false")
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q", cfg.Log.Level)
	}
}

// TestEnvOverride verifies that environment variables override config file values.
func TestEnvOverride(t *testing.T) {
	path := writeTempConfig(t, "ollama:\n  model: file-model\n")

	t.Setenv("SMARTDESK_OLLAMA_MODEL", "env-model")
	t.Setenv("SMARTDESK_GENERATE_COUNT", "7")
	t.Setenv("SMARTDESK_GENERATE_PRODUCTS", "CloudSync Pro, GymFlow App")
	t.Setenv("SMARTDESK_ANNOTATE_PARSE_RETRY_DELAY", "250ms")

	cfg, err := loadFromPath(path, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Ollama.Model != "env-model" {
		t.Errorf("Ollama.Model = %q, want env-model", cfg.Ollama.Model)
	}
	if cfg.Generate.Count != 7 {
		t.Errorf("Generate.Count = %d, want 7", cfg.Generate.Count)
	}
	if !slices.Equal(cfg.Generate.Catalog.Products, []string{"CloudSync Pro", "GymFlow App"}) {
		t.Errorf("Catalog.Products = %q", cfg.Generate.Catalog.Products)
	}
	if cfg.Annotate.ParseRetryDelay != 250*time.Millisecond {
		t.Errorf("Annotate.ParseRetryDelay = %v", cfg.Annotate.ParseRetryDelay)
	}
}

// TestInvalidEnvKeepsDefault verifies a malformed env value is ignored.
func TestInvalidEnvKeepsDefault(t *testing.T) {
	path := writeTempConfig(t, "")
	t.Setenv("SMARTDESK_BATCH_PROGRESS_EVERY", "often")

	cfg, err := loadFromPath(path, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Batch.ProgressEvery != 10 {
		t.Errorf("Batch.ProgressEvery = %d, want default 10", cfg.Batch.ProgressEvery)
	}
}

func TestMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.yaml")

	if _, err := loadFromPath(path, false); err != nil {
		t.Errorf("optional missing file: unexpected error %v", err)
	}
	if _, err := loadFromPath(path, true); err == nil {
		t.Error("explicit missing file: expected error")
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"pause range", func(c *Config) { c.Annotate.PauseMin = 5 * time.Second }, "pause_min"},
		{"attempts", func(c *Config) { c.Generate.MaxAttempts = 0 }, "generate.max_attempts"},
		{"checkpoint interval", func(c *Config) { c.Batch.CheckpointEvery = 0 }, "batch.checkpoint_every"},
		{"parse attempts", func(c *Config) { c.Annotate.MaxParseAttempts = 0 }, "max_parse_attempts"},
		{"empty vocabulary", func(c *Config) { c.Annotate.Vocabulary.Urgencies = nil }, "vocabulary"},
		{"empty catalog", func(c *Config) { c.Generate.Catalog.Issues = nil }, "issues"},
		{"timeout", func(c *Config) { c.Ollama.RequestTimeout = 0 }, "request_timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaults()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want it to contain %q", err, tt.want)
			}
		})
	}

	if err := defaults().Validate(); err != nil {
		t.Errorf("defaults do not validate: %v", err)
	}
}

func TestSetKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	if err := SetKey(path, "ollama.model", "qwen2.5:7b"); err != nil {
		t.Fatalf("SetKey: %v", err)
	}
	if err := SetKey(path, "annotate.pause_max", "4s"); err != nil {
		t.Fatalf("SetKey: %v", err)
	}

	cfg, err := loadFromPath(path, true)
	if err != nil {
		t.Fatalf("load after SetKey: %v", err)
	}
	if cfg.Ollama.Model != "qwen2.5:7b" {
		t.Errorf("Ollama.Model = %q", cfg.Ollama.Model)
	}
	if cfg.Annotate.PauseMax != 4*time.Second {
		t.Errorf("Annotate.PauseMax = %v", cfg.Annotate.PauseMax)
	}
}

func TestSetKeyRejects(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	if err := SetKey(path, "no.such_key", "x"); err == nil {
		t.Error("expected error for unknown key")
	}
	if err := SetKey(path, "batch.progress_every", "ten"); err == nil {
		t.Error("expected error for non-integer value")
	}
	if err := SetKey(path, "annotate.pause_min", "1m"); err == nil {
		t.Error("expected error for pause_min above pause_max")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("rejected values must not create the file, stat err = %v", err)
	}
}

func TestWriteDefaultRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "smartdesk", "config.yaml")

	if err := WriteDefault(path, false); err != nil {
		t.Fatalf("WriteDefault: %v", err)
	}
	if err := WriteDefault(path, false); err == nil {
		t.Error("expected error when file exists without force")
	}
	if err := WriteDefault(path, true); err != nil {
		t.Errorf("WriteDefault with force: %v", err)
	}

	cfg, err := loadFromPath(path, true)
	if err != nil {
		t.Fatalf("loading written defaults: %v", err)
	}
	want := defaults()
	got, exp := ShowAll(cfg), ShowAll(want)
	for i := range exp {
		if got[i] != exp[i] {
			t.Errorf("%s = %q, want %q", exp[i].Key, got[i].Value, exp[i].Value)
		}
	}
}

func TestShowAllCoversValidKeys(t *testing.T) {
	infos := ShowAll(defaults())
	keys := ValidKeys()
	if len(infos) != len(keys) {
		t.Fatalf("ShowAll has %d entries, ValidKeys %d", len(infos), len(keys))
	}
	for i, info := range infos {
		if info.Key != keys[i] {
			t.Errorf("entry %d key %q, want %q", i, info.Key, keys[i])
		}
		want := "SMARTDESK_" + strings.ToUpper(strings.ReplaceAll(info.Key, ".", "_"))
		if info.EnvVar != want {
			t.Errorf("%s env = %q, want %q", info.Key, info.EnvVar, want)
		}
	}
}

func TestDefaultPathHonoursXDG(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")
	if got := DefaultPath(); got != "/tmp/xdg/smartdesk/config.yaml" {
		t.Errorf("DefaultPath = %q", got)
	}
}
