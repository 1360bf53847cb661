package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/spachava753/deployeval/internal/models"
)

// SettingsKey is the top-level key the settings document nests under.
const SettingsKey = "lm_eval_settings"

// ModelNamePlaceholder is expanded to model_name in output_path.
const ModelNamePlaceholder = "{model_name}"

// DefaultSettings returns Settings with default values for every optional key.
func DefaultSettings() models.Settings {
	return models.Settings{
		NumConcurrent:   1,
		MaxRetries:      3,
		PollInterval:    models.Duration{Duration: 10 * time.Second},
		RequestTimeout:  models.Duration{Duration: 60 * time.Second},
		EvalCommand:     "lm_eval",
		CompletionsPath: "/v1/completions",
		TargetKind:      models.TargetAuto,
		NumParallelJobs: 1,
		LogLevel:        "info",
	}
}

// LoadSettings loads, normalizes and validates a settings file. Files ending
// in .toml are parsed as TOML, anything else as YAML. The settings may sit
// under the lm_eval_settings key or at the top level of the document.
func LoadSettings(path string) (models.Settings, error) {
	cfg := DefaultSettings()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading settings: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = decodeTOML(data, &cfg)
	default:
		err = decodeYAML(data, &cfg)
	}
	if err != nil {
		return cfg, fmt.Errorf("parsing settings: %w", err)
	}

	cfg = Normalize(cfg)
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func decodeYAML(data []byte, cfg *models.Settings) error {
	var doc struct {
		Settings *yaml.Node `yaml:"lm_eval_settings"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return err
	}
	if doc.Settings != nil {
		return doc.Settings.Decode(cfg)
	}
	return yaml.Unmarshal(data, cfg)
}

func decodeTOML(data []byte, cfg *models.Settings) error {
	doc := struct {
		Settings *models.Settings `toml:"lm_eval_settings"`
	}{Settings: cfg}
	md, err := toml.Decode(string(data), &doc)
	if err != nil {
		return err
	}
	if md.IsDefined(SettingsKey) {
		return nil
	}
	_, err = toml.Decode(string(data), cfg)
	return err
}

// Normalize fills zero values with defaults, resolves the legacy token key
// and expands the output path placeholder.
func Normalize(cfg models.Settings) models.Settings {
	def := DefaultSettings()

	if cfg.AuthorizationToken == "" {
		cfg.AuthorizationToken = cfg.LegacyAuthorizationToken
	}
	if len(cfg.MetricsFilter) == 0 {
		for range cfg.Tasks {
			cfg.MetricsFilter = append(cfg.MetricsFilter, "none")
		}
	}
	if cfg.NumConcurrent == 0 {
		cfg.NumConcurrent = def.NumConcurrent
	}
	if cfg.PollInterval.Duration == 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.RequestTimeout.Duration == 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.EvalCommand == "" {
		cfg.EvalCommand = def.EvalCommand
	}
	if cfg.CompletionsPath == "" {
		cfg.CompletionsPath = def.CompletionsPath
	}
	if cfg.TargetKind == "" {
		cfg.TargetKind = def.TargetKind
	}
	if cfg.NumParallelJobs == 0 {
		cfg.NumParallelJobs = def.NumParallelJobs
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = def.LogLevel
	}
	cfg.URL = strings.TrimRight(cfg.URL, "/")
	if cfg.OutputPath != "" {
		cfg.OutputPath = filepath.Clean(strings.ReplaceAll(cfg.OutputPath, ModelNamePlaceholder, cfg.ModelName))
	}

	return cfg
}
