package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spachava753/deployeval/internal/config"
	"github.com/spachava753/deployeval/internal/models"
)

func writeSettings(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing temp file: %v", err)
	}
	return path
}

func TestLoadSettingsYAML(t *testing.T) {
	settingsYaml := `lm_eval_settings:
  autorization_token: secret-token
  url: https://platform.example.com/api/models/
  model_checkpoint: /checkpoints/run-7/step-1000
  model: local-completions
  tasks: [minhas_vantagens_human, arc_easy]
  metrics: [exact_match, acc]
  metrics_filter: [strict-match, none]
  model_name: llama-ft
  output_path: results/{model_name}/eval
  num_concurrent: 20
  max_retries: 3
  tokenized_requests: False
  delete_result_after_preprocess: true
  categoric_column: [category, subject]
  poll_interval: 15s
`

	cfg, err := config.LoadSettings(writeSettings(t, "settings.yaml", settingsYaml))
	if err != nil {
		t.Fatalf("LoadSettings failed: %v", err)
	}

	if cfg.AuthorizationToken != "secret-token" {
		t.Errorf("expected legacy token to be used, got %q", cfg.AuthorizationToken)
	}
	if cfg.URL != "https://platform.example.com/api/models" {
		t.Errorf("expected trailing slash trimmed, got %s", cfg.URL)
	}
	if len(cfg.ModelCheckpoints) != 1 || cfg.ModelCheckpoints[0] != "/checkpoints/run-7/step-1000" {
		t.Errorf("expected scalar checkpoint to become a one-item list, got %v", cfg.ModelCheckpoints)
	}
	if len(cfg.Tasks) != 2 || cfg.Tasks[1] != "arc_easy" {
		t.Errorf("unexpected tasks %v", cfg.Tasks)
	}
	if metric, filter := cfg.MetricFor(0); metric != "exact_match" || filter != "strict-match" {
		t.Errorf("expected exact_match/strict-match, got %s/%s", metric, filter)
	}
	if cfg.OutputPath != filepath.Join("results", "llama-ft", "eval") {
		t.Errorf("expected model name expanded in output path, got %s", cfg.OutputPath)
	}
	if cfg.NumConcurrent != 20 {
		t.Errorf("expected num_concurrent 20, got %d", cfg.NumConcurrent)
	}
	if cfg.TokenizedRequests {
		t.Error("expected tokenized_requests false")
	}
	if !cfg.DeleteResultAfterPreprocess {
		t.Error("expected delete_result_after_preprocess true")
	}
	if len(cfg.CategoricColumns) != 2 {
		t.Errorf("expected 2 categoric columns, got %v", cfg.CategoricColumns)
	}
	if cfg.PollInterval.Duration != 15*time.Second {
		t.Errorf("expected poll interval 15s, got %s", cfg.PollInterval)
	}
	if cfg.EvalCommand != "lm_eval" {
		t.Errorf("expected default eval command, got %s", cfg.EvalCommand)
	}
	if cfg.TargetKind != models.TargetAuto {
		t.Errorf("expected default target kind auto, got %s", cfg.TargetKind)
	}
}

func TestLoadSettingsFlatYAMLWithCheckpointList(t *testing.T) {
	settingsYaml := `authorization_token: tok
url: http://localhost:8080/models
model_checkpoint:
  - /ckpt/a
  - /ckpt/b
model: local-completions
tasks: [gsm8k]
metrics: [exact_match]
model_name: m
output_path: out
poll_interval: 2
`

	cfg, err := config.LoadSettings(writeSettings(t, "settings.yml", settingsYaml))
	if err != nil {
		t.Fatalf("LoadSettings failed: %v", err)
	}

	if len(cfg.ModelCheckpoints) != 2 {
		t.Fatalf("expected 2 checkpoints, got %v", cfg.ModelCheckpoints)
	}
	if len(cfg.MetricsFilter) != 1 || cfg.MetricsFilter[0] != "none" {
		t.Errorf("expected metrics_filter to default to none, got %v", cfg.MetricsFilter)
	}
	if cfg.PollInterval.Duration != 2*time.Second {
		t.Errorf("expected numeric poll interval in seconds, got %s", cfg.PollInterval)
	}
}

func TestLoadSettingsTOML(t *testing.T) {
	settingsToml := `[lm_eval_settings]
authorization_token = "tok"
url = "http://localhost:8080/models"
model_checkpoint = ["/ckpt/a", "/ckpt/b"]
model = "local-completions"
tasks = ["gsm8k"]
metrics = ["exact_match"]
metrics_filter = ["flexible-extract"]
model_name = "m"
output_path = "out/{model_name}"
target_kind = "numeric"
num_parallel_jobs = 2
poll_interval = "500ms"
`

	cfg, err := config.LoadSettings(writeSettings(t, "settings.toml", settingsToml))
	if err != nil {
		t.Fatalf("LoadSettings failed: %v", err)
	}

	if len(cfg.ModelCheckpoints) != 2 || cfg.ModelCheckpoints[1] != "/ckpt/b" {
		t.Errorf("unexpected checkpoints %v", cfg.ModelCheckpoints)
	}
	if cfg.TargetKind != models.TargetNumeric {
		t.Errorf("expected target kind numeric, got %s", cfg.TargetKind)
	}
	if cfg.NumParallelJobs != 2 {
		t.Errorf("expected 2 parallel jobs, got %d", cfg.NumParallelJobs)
	}
	if cfg.PollInterval.Duration != 500*time.Millisecond {
		t.Errorf("expected 500ms poll interval, got %s", cfg.PollInterval)
	}
	if cfg.OutputPath != filepath.Join("out", "m") {
		t.Errorf("unexpected output path %s", cfg.OutputPath)
	}
}

func TestLoadSettingsValidation(t *testing.T) {
	tests := []struct {
		name        string
		content     string
		errContains []string
	}{
		{
			name: "missing required keys",
			content: `lm_eval_settings:
  url: http://localhost/models
`,
			errContains: []string{"authorization_token: is required", "model_checkpoint: is required", "tasks: is required"},
		},
		{
			name: "misaligned metrics",
			content: `lm_eval_settings:
  authorization_token: tok
  url: http://localhost/models
  model_checkpoint: /ckpt
  model: local-completions
  tasks: [a, b]
  metrics: [acc]
  metrics_filter: [none, none]
  model_name: m
  output_path: out
`,
			errContains: []string{"metrics: expected 2 entries"},
		},
		{
			name: "bad url and target kind",
			content: `lm_eval_settings:
  authorization_token: tok
  url: not a url
  model_checkpoint: /ckpt
  model: local-completions
  tasks: [a]
  metrics: [acc]
  model_name: m
  output_path: out
  target_kind: ordinal
`,
			errContains: []string{"url:", "target_kind: must be one of"},
		},
		{
			name: "duplicate checkpoints",
			content: `lm_eval_settings:
  authorization_token: tok
  url: http://localhost/models
  model_checkpoint: [/ckpt/a, /ckpt/a]
  model: local-completions
  tasks: [a]
  metrics: [acc]
  model_name: m
  output_path: out
`,
			errContains: []string{"model_checkpoint: contains duplicates"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.LoadSettings(writeSettings(t, "settings.yaml", tt.content))
			if err == nil {
				t.Fatal("expected validation error")
			}
			for _, want := range tt.errContains {
				if !strings.Contains(err.Error(), want) {
					t.Errorf("expected error to contain %q, got: %v", want, err)
				}
			}
		})
	}
}

func TestLoadSettingsMissingFile(t *testing.T) {
	if _, err := config.LoadSettings(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestDefaultSettings(t *testing.T) {
	cfg := config.DefaultSettings()

	if cfg.PollInterval.Duration != 10*time.Second {
		t.Errorf("expected default poll interval 10s, got %s", cfg.PollInterval)
	}
	if cfg.CompletionsPath != "/v1/completions" {
		t.Errorf("expected default completions path, got %s", cfg.CompletionsPath)
	}
	if cfg.NumParallelJobs != 1 {
		t.Errorf("expected sequential execution by default, got %d", cfg.NumParallelJobs)
	}
}
