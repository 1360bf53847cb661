package models

import (
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// TargetKind selects how raw rows are aggregated into metrics.
type TargetKind string

const (
	// TargetAuto infers the kind from the first row of each group.
	TargetAuto        TargetKind = "auto"
	TargetNumeric     TargetKind = "numeric"
	TargetCategorical TargetKind = "categorical"
)

// Settings is the parsed lm_eval_settings document. It is built once at
// startup and handed to every component; nothing mutates it afterwards.
type Settings struct {
	AuthorizationToken string `yaml:"authorization_token" toml:"authorization_token" json:"-" validate:"required"`
	// LegacyAuthorizationToken is the misspelled key older settings files use.
	LegacyAuthorizationToken string `yaml:"autorization_token,omitempty" toml:"autorization_token" json:"-"`

	URL              string     `yaml:"url" toml:"url" json:"url" validate:"required,url"`
	ModelCheckpoints StringList `yaml:"model_checkpoint" toml:"model_checkpoint" json:"model_checkpoint" validate:"required,min=1,unique,dive,required"`
	Model            string     `yaml:"model" toml:"model" json:"model" validate:"required"`
	ModelName        string     `yaml:"model_name" toml:"model_name" json:"model_name" validate:"required"`

	// Tasks, Metrics and MetricsFilter are positionally aligned.
	Tasks         []string `yaml:"tasks" toml:"tasks" json:"tasks" validate:"required,min=1,dive,required"`
	Metrics       []string `yaml:"metrics" toml:"metrics" json:"metrics" validate:"required,min=1,dive,required"`
	MetricsFilter []string `yaml:"metrics_filter" toml:"metrics_filter" json:"metrics_filter" validate:"required,min=1"`

	OutputPath                  string   `yaml:"output_path" toml:"output_path" json:"output_path" validate:"required"`
	NumConcurrent               int      `yaml:"num_concurrent" toml:"num_concurrent" json:"num_concurrent" validate:"min=1"`
	MaxRetries                  int      `yaml:"max_retries" toml:"max_retries" json:"max_retries" validate:"min=0"`
	TokenizedRequests           bool     `yaml:"tokenized_requests" toml:"tokenized_requests" json:"tokenized_requests"`
	DeleteResultAfterPreprocess bool     `yaml:"delete_result_after_preprocess" toml:"delete_result_after_preprocess" json:"delete_result_after_preprocess"`
	CategoricColumns            []string `yaml:"categoric_column,omitempty" toml:"categoric_column" json:"categoric_column,omitempty"`

	PollInterval    Duration   `yaml:"poll_interval,omitempty" toml:"poll_interval" json:"poll_interval"`
	RequestTimeout  Duration   `yaml:"request_timeout,omitempty" toml:"request_timeout" json:"request_timeout"`
	EvalCommand     string     `yaml:"eval_command,omitempty" toml:"eval_command" json:"eval_command" validate:"required"`
	CompletionsPath string     `yaml:"completions_path,omitempty" toml:"completions_path" json:"completions_path"`
	TargetKind      TargetKind `yaml:"target_kind,omitempty" toml:"target_kind" json:"target_kind" validate:"oneof=auto numeric categorical"`
	NumParallelJobs int        `yaml:"num_parallel_jobs,omitempty" toml:"num_parallel_jobs" json:"num_parallel_jobs" validate:"min=1"`
	ResultsDB       string     `yaml:"results_db,omitempty" toml:"results_db" json:"-"`
	LogLevel        string     `yaml:"log_level,omitempty" toml:"log_level" json:"log_level,omitempty" validate:"omitempty,oneof=debug info warn error"`
}

// MetricFor returns the metric name and filter configured for the task at
// index i.
func (s *Settings) MetricFor(i int) (metric, filter string) {
	return s.Metrics[i], s.MetricsFilter[i]
}

// Duration is a time.Duration that decodes from either a Go duration string
// ("15s") or a plain number of seconds.
type Duration struct {
	time.Duration
}

func (d *Duration) set(v any) error {
	switch value := v.(type) {
	case int:
		d.Duration = time.Duration(value) * time.Second
	case int64:
		d.Duration = time.Duration(value) * time.Second
	case float64:
		d.Duration = time.Duration(value * float64(time.Second))
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		d.Duration = parsed
	default:
		return fmt.Errorf("invalid duration %v", v)
	}
	return nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var v any
	if err := value.Decode(&v); err != nil {
		return err
	}
	return d.set(v)
}

func (d *Duration) UnmarshalTOML(v any) error {
	return d.set(v)
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	return d.set(v)
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// StringList decodes from a single scalar or a list of scalars.
type StringList []string

func (l *StringList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		*l = StringList{value.Value}
		return nil
	case yaml.SequenceNode:
		var items []string
		if err := value.Decode(&items); err != nil {
			return err
		}
		*l = items
		return nil
	default:
		return fmt.Errorf("line %d: expected a string or a list of strings", value.Line)
	}
}

func (l *StringList) UnmarshalTOML(v any) error {
	switch value := v.(type) {
	case string:
		*l = StringList{value}
	case []any:
		items := make([]string, 0, len(value))
		for _, item := range value {
			s, ok := item.(string)
			if !ok {
				return fmt.Errorf("expected string list item, got %T", item)
			}
			items = append(items, s)
		}
		*l = items
	default:
		return fmt.Errorf("expected a string or a list of strings, got %T", v)
	}
	return nil
}
