package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// KeyInfo describes a config key for display purposes.
type KeyInfo struct {
	Key    string
	EnvVar string
	Value  string
}

// ShowAll returns all config key/value pairs from the current config.
func ShowAll(cfg Config) []KeyInfo {
	result := make([]KeyInfo, 0, len(specs))
	for _, s := range specs {
		val := s.extract(cfg)
		text := fmt.Sprintf("%v", display(val))
		if list, ok := val.([]string); ok {
			text = strings.Join(list, ", ")
		}
		result = append(result, KeyInfo{Key: s.key, EnvVar: s.env, Value: text})
	}
	return result
}

// SetKey validates value for key and writes it to the YAML file at path,
// preserving the other keys in the file. An empty path selects DefaultPath.
func SetKey(path, key, value string) error {
	s, ok := lookup(key)
	if !ok {
		return fmt.Errorf("unknown config key: %q", key)
	}
	parsed, err := s.convert(value)
	if err != nil {
		return fmt.Errorf("invalid %s value for %s: %w", s.typ, key, err)
	}

	if path == "" {
		path = DefaultPath()
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil && !isNotFound(err) {
		return fmt.Errorf("reading config file %s: %w", path, err)
	}

	// Check the result before persisting so a bad value never reaches disk.
	cfg := defaults()
	applyViper(&cfg, v)
	s.apply(&cfg, parsed)
	if err := cfg.Validate(); err != nil {
		return err
	}

	v.Set(key, display(parsed))
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config file %s: %w", path, err)
	}
	return nil
}

// WriteDefault writes the built-in configuration to path as YAML. It refuses
// to replace an existing file unless force is set.
func WriteDefault(path string, force bool) error {
	if path == "" {
		path = DefaultPath()
	}
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file %s already exists", path)
		}
	}

	data, err := yaml.Marshal(nested(defaults()))
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# SmartDesk configuration
# Every key can be overridden with an environment variable, e.g.
# SMARTDESK_OLLAMA_MODEL=llama3.1:8b. List values in env vars are comma separated.

`)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	return os.WriteFile(path, append(header, data...), 0o644)
}

// nested turns the flat dotted keys of cfg into a section tree.
func nested(cfg Config) map[string]any {
	root := map[string]any{}
	for _, s := range specs {
		section, name, _ := strings.Cut(s.key, ".")
		m, ok := root[section].(map[string]any)
		if !ok {
			m = map[string]any{}
			root[section] = m
		}
		m[name] = display(s.extract(cfg))
	}
	return root
}

// ValidKeys returns the list of valid config key names.
func ValidKeys() []string {
	keys := make([]string, 0, len(specs))
	for _, s := range specs {
		keys = append(keys, s.key)
	}
	return keys
}
