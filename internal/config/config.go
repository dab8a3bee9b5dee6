package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/shail0iri/smartdesk/internal/annotation"
	"github.com/shail0iri/smartdesk/internal/generate"
)

type Config struct {
	Ollama   OllamaConfig
	Generate GenerateConfig
	Annotate AnnotateConfig
	Batch    BatchConfig
	Storage  StorageConfig
	Log      LogConfig
}

type OllamaConfig struct {
	BaseURL        string
	Model          string
	RequestTimeout time.Duration
}

// PhaseConfig holds the settings shared by the generate and annotate phases.
type PhaseConfig struct {
	Output            string
	Checkpoint        string
	BackupDir         string
	Temperature       float64
	TopP              float64
	MaxAttempts       int
	TimeoutBackoff    time.Duration
	ConnectionBackoff time.Duration
	PauseMin          time.Duration
	PauseMax          time.Duration
}

type GenerateConfig struct {
	PhaseConfig
	Count   int
	Catalog generate.Catalog
}

type AnnotateConfig struct {
	PhaseConfig
	Input            string
	MaxParseAttempts int
	ParseRetryDelay  time.Duration
	Vocabulary       annotation.Vocabulary
}

type BatchConfig struct {
	ProgressEvery   int
	CheckpointEvery int
}

type StorageConfig struct {
	DataDir string
	Ledger  bool
}

type LogConfig struct {
	Level  string
	Format string
}

func defaults() Config {
	return Config{
		Ollama: OllamaConfig{
			BaseURL:        "http://localhost:11434",
			Model:          "deepseek-r1:8b",
			RequestTimeout: 180 * time.Second,
		},
		Generate: GenerateConfig{
			PhaseConfig: PhaseConfig{
				Output:            "generated_tickets.csv",
				Checkpoint:        "generated_tickets_checkpoint.csv",
				BackupDir:         "backups",
				Temperature:       0.8,
				TopP:              0.85,
				MaxAttempts:       4,
				TimeoutBackoff:    3 * time.Second,
				ConnectionBackoff: 10 * time.Second,
				PauseMin:          1500 * time.Millisecond,
				PauseMax:          3 * time.Second,
			},
			Count:   1200,
			Catalog: generate.DefaultCatalog(),
		},
		Annotate: AnnotateConfig{
			PhaseConfig: PhaseConfig{
				Output:            "analyzed_tickets.csv",
				Checkpoint:        "analyzed_tickets_checkpoint.csv",
				BackupDir:         "analysis_backups",
				Temperature:       0.1,
				TopP:              0.3,
				MaxAttempts:       3,
				TimeoutBackoff:    5 * time.Second,
				ConnectionBackoff: 15 * time.Second,
				PauseMin:          1500 * time.Millisecond,
				PauseMax:          2500 * time.Millisecond,
			},
			Input:            "generated_tickets.csv",
			MaxParseAttempts: 3,
			ParseRetryDelay:  2 * time.Second,
			Vocabulary:       annotation.DefaultVocabulary(),
		},
		Batch: BatchConfig{
			ProgressEvery:   10,
			CheckpointEvery: 50,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
			Ledger:  true,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Default returns the built-in configuration.
func Default() Config {
	return defaults()
}

// Load reads configuration in three layers: built-in defaults, the YAML file
// at path, then SMARTDESK_* environment variables. An empty path selects
// DefaultPath, which may be absent; an explicit path must exist.
func Load(path string) (Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}
	return loadFromPath(path, explicit)
}

func loadFromPath(path string, mustExist bool) (Config, error) {
	cfg := defaults()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	for _, s := range specs {
		if err := v.BindEnv(s.key, s.env); err != nil {
			return Config{}, fmt.Errorf("binding %s: %w", s.env, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if !isNotFound(err) || mustExist {
			return Config{}, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	applyViper(&cfg, v)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func isNotFound(err error) bool {
	var notFound viper.ConfigFileNotFoundError
	return errors.Is(err, fs.ErrNotExist) || errors.As(err, &notFound)
}

// Validate rejects settings the pipeline cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Ollama.BaseURL == "" {
		errs = append(errs, errors.New("ollama.base_url must be set"))
	}
	if c.Ollama.Model == "" {
		errs = append(errs, errors.New("ollama.model must be set"))
	}
	if c.Ollama.RequestTimeout <= 0 {
		errs = append(errs, errors.New("ollama.request_timeout must be positive"))
	}
	errs = append(errs, c.Generate.validate("generate")...)
	errs = append(errs, c.Annotate.validate("annotate")...)
	if c.Generate.Count < 1 {
		errs = append(errs, errors.New("generate.count must be at least 1"))
	}
	if err := c.Generate.Catalog.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("generate: %w", err))
	}
	if c.Annotate.MaxParseAttempts < 1 {
		errs = append(errs, errors.New("annotate.max_parse_attempts must be at least 1"))
	}
	if c.Annotate.ParseRetryDelay < 0 {
		errs = append(errs, errors.New("annotate.parse_retry_delay must not be negative"))
	}
	v := c.Annotate.Vocabulary
	if len(v.Sentiments) == 0 || len(v.Urgencies) == 0 || len(v.Categories) == 0 {
		errs = append(errs, errors.New("annotate vocabulary lists must not be empty"))
	}
	if c.Batch.ProgressEvery < 1 {
		errs = append(errs, errors.New("batch.progress_every must be at least 1"))
	}
	if c.Batch.CheckpointEvery < 1 {
		errs = append(errs, errors.New("batch.checkpoint_every must be at least 1"))
	}
	return errors.Join(errs...)
}

func (p PhaseConfig) validate(phase string) []error {
	var errs []error
	if p.Output == "" || p.Checkpoint == "" || p.BackupDir == "" {
		errs = append(errs, fmt.Errorf("%s: output, checkpoint and backup_dir must be set", phase))
	}
	if p.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("%s.max_attempts must be at least 1", phase))
	}
	if p.TimeoutBackoff < 0 || p.ConnectionBackoff < 0 {
		errs = append(errs, fmt.Errorf("%s: backoff must not be negative", phase))
	}
	if p.PauseMin < 0 || p.PauseMin > p.PauseMax {
		errs = append(errs, fmt.Errorf("%s: pause_min (%s) must be between 0 and pause_max (%s)", phase, p.PauseMin, p.PauseMax))
	}
	return errs
}

// DefaultPath returns $XDG_CONFIG_HOME/smartdesk/config.yaml.
func DefaultPath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".config")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, "smartdesk", "config.yaml")
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "smartdesk-data"
		}
	}
	return filepath.Join(dir, "smartdesk")
}
