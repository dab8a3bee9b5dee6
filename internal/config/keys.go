package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
	kDuration
	kStrings
)

func (t keyType) String() string {
	switch t {
	case kInt:
		return "integer"
	case kBool:
		return "bool"
	case kFloat:
		return "float"
	case kDuration:
		return "duration"
	case kStrings:
		return "list"
	default:
		return "string"
	}
}

type keySpec struct {
	key     string
	typ     keyType
	env     string
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

func stringKey(key string, get func(*Config) *string) keySpec {
	return keySpec{key: key, typ: kString, env: envName(key),
		apply:   func(cfg *Config, v any) { *get(cfg) = v.(string) },
		extract: func(cfg Config) any { return *get(&cfg) },
	}
}

func intKey(key string, get func(*Config) *int) keySpec {
	return keySpec{key: key, typ: kInt, env: envName(key),
		apply:   func(cfg *Config, v any) { *get(cfg) = v.(int) },
		extract: func(cfg Config) any { return *get(&cfg) },
	}
}

func boolKey(key string, get func(*Config) *bool) keySpec {
	return keySpec{key: key, typ: kBool, env: envName(key),
		apply:   func(cfg *Config, v any) { *get(cfg) = v.(bool) },
		extract: func(cfg Config) any { return *get(&cfg) },
	}
}

func floatKey(key string, get func(*Config) *float64) keySpec {
	return keySpec{key: key, typ: kFloat, env: envName(key),
		apply:   func(cfg *Config, v any) { *get(cfg) = v.(float64) },
		extract: func(cfg Config) any { return *get(&cfg) },
	}
}

func durationKey(key string, get func(*Config) *time.Duration) keySpec {
	return keySpec{key: key, typ: kDuration, env: envName(key),
		apply:   func(cfg *Config, v any) { *get(cfg) = v.(time.Duration) },
		extract: func(cfg Config) any { return *get(&cfg) },
	}
}

func stringsKey(key string, get func(*Config) *[]string) keySpec {
	return keySpec{key: key, typ: kStrings, env: envName(key),
		apply:   func(cfg *Config, v any) { *get(cfg) = v.([]string) },
		extract: func(cfg Config) any { return *get(&cfg) },
	}
}

// envName maps "annotate.pause_min" to SMARTDESK_ANNOTATE_PAUSE_MIN.
func envName(key string) string {
	return "SMARTDESK_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

func phaseSpecs(phase string, get func(*Config) *PhaseConfig) []keySpec {
	return []keySpec{
		stringKey(phase+".output", func(c *Config) *string { return &get(c).Output }),
		stringKey(phase+".checkpoint", func(c *Config) *string { return &get(c).Checkpoint }),
		stringKey(phase+".backup_dir", func(c *Config) *string { return &get(c).BackupDir }),
		floatKey(phase+".temperature", func(c *Config) *float64 { return &get(c).Temperature }),
		floatKey(phase+".top_p", func(c *Config) *float64 { return &get(c).TopP }),
		intKey(phase+".max_attempts", func(c *Config) *int { return &get(c).MaxAttempts }),
		durationKey(phase+".timeout_backoff", func(c *Config) *time.Duration { return &get(c).TimeoutBackoff }),
		durationKey(phase+".connection_backoff", func(c *Config) *time.Duration { return &get(c).ConnectionBackoff }),
		durationKey(phase+".pause_min", func(c *Config) *time.Duration { return &get(c).PauseMin }),
		durationKey(phase+".pause_max", func(c *Config) *time.Duration { return &get(c).PauseMax }),
	}
}

var specs = buildSpecs()

func buildSpecs() []keySpec {
	s := []keySpec{
		stringKey("ollama.base_url", func(c *Config) *string { return &c.Ollama.BaseURL }),
		stringKey("ollama.model", func(c *Config) *string { return &c.Ollama.Model }),
		durationKey("ollama.request_timeout", func(c *Config) *time.Duration { return &c.Ollama.RequestTimeout }),
		intKey("generate.count", func(c *Config) *int { return &c.Generate.Count }),
	}
	s = append(s, phaseSpecs("generate", func(c *Config) *PhaseConfig { return &c.Generate.PhaseConfig })...)
	s = append(s,
		stringsKey("generate.products", func(c *Config) *[]string { return &c.Generate.Catalog.Products }),
		stringsKey("generate.issues", func(c *Config) *[]string { return &c.Generate.Catalog.Issues }),
		stringsKey("generate.tones", func(c *Config) *[]string { return &c.Generate.Catalog.Tones }),
		stringKey("annotate.input", func(c *Config) *string { return &c.Annotate.Input }),
	)
	s = append(s, phaseSpecs("annotate", func(c *Config) *PhaseConfig { return &c.Annotate.PhaseConfig })...)
	s = append(s,
		intKey("annotate.max_parse_attempts", func(c *Config) *int { return &c.Annotate.MaxParseAttempts }),
		durationKey("annotate.parse_retry_delay", func(c *Config) *time.Duration { return &c.Annotate.ParseRetryDelay }),
		stringsKey("annotate.sentiments", func(c *Config) *[]string { return &c.Annotate.Vocabulary.Sentiments }),
		stringsKey("annotate.urgencies", func(c *Config) *[]string { return &c.Annotate.Vocabulary.Urgencies }),
		stringsKey("annotate.categories", func(c *Config) *[]string { return &c.Annotate.Vocabulary.Categories }),
		intKey("batch.progress_every", func(c *Config) *int { return &c.Batch.ProgressEvery }),
		intKey("batch.checkpoint_every", func(c *Config) *int { return &c.Batch.CheckpointEvery }),
		stringKey("storage.data_dir", func(c *Config) *string { return &c.Storage.DataDir }),
		boolKey("storage.ledger", func(c *Config) *bool { return &c.Storage.Ledger }),
		stringKey("log.level", func(c *Config) *string { return &c.Log.Level }),
		stringKey("log.format", func(c *Config) *string { return &c.Log.Format }),
	)
	return s
}

func lookup(key string) (keySpec, bool) {
	for _, s := range specs {
		if s.key == key {
			return s, true
		}
	}
	return keySpec{}, false
}

// applyViper copies every key viper knows about (file or env) onto cfg.
// Values that fail to convert keep their default and print a warning.
func applyViper(cfg *Config, v *viper.Viper) {
	for _, s := range specs {
		if !v.IsSet(s.key) {
			continue
		}
		val, err := s.convert(v.Get(s.key))
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse %s from config key %s=%v: %v. Using default value.\n", s.typ, s.key, v.Get(s.key), err)
			continue
		}
		s.apply(cfg, val)
	}
}

// convert coerces a raw file, env or CLI value into the key's Go type.
func (s keySpec) convert(raw any) (any, error) {
	switch s.typ {
	case kInt:
		return cast.ToIntE(raw)
	case kBool:
		return cast.ToBoolE(raw)
	case kFloat:
		return cast.ToFloat64E(raw)
	case kDuration:
		if str, ok := raw.(string); ok {
			return time.ParseDuration(strings.TrimSpace(str))
		}
		return cast.ToDurationE(raw)
	case kStrings:
		// Env values are comma separated; product names contain spaces.
		if str, ok := raw.(string); ok {
			return splitList(str), nil
		}
		return cast.ToStringSliceE(raw)
	default:
		return cast.ToStringE(raw)
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// display renders a value the way `config show` prints it and the YAML file
// stores it.
func display(v any) any {
	switch val := v.(type) {
	case time.Duration:
		return val.String()
	case []string:
		return append([]string(nil), val...)
	default:
		return val
	}
}
