// Package dispatch runs the external evaluation tool against a ready
// deployment.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spachava753/deployeval/internal/models"
	"github.com/spachava753/deployeval/internal/util"
)

// APIKeyEnv carries the deployment token to the evaluation tool.
const APIKeyEnv = "OPENAI_API_KEY"

// Invocation is a fully resolved evaluation command.
type Invocation struct {
	Name string
	Args []string
	// Env entries (KEY=VALUE) are added to the inherited environment.
	Env []string
	// LogDir receives stdout.txt and stderr.txt.
	LogDir string
}

// Runner starts an Invocation and waits for it.
type Runner interface {
	Run(ctx context.Context, inv Invocation) error
}

// Dispatcher builds and runs evaluation invocations.
type Dispatcher struct {
	settings *models.Settings
	runner   Runner
}

// New creates a Dispatcher. A nil runner uses ExecRunner.
func New(settings *models.Settings, runner Runner) *Dispatcher {
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Dispatcher{settings: settings, runner: runner}
}

// OutputDir is the artifact directory of one (task, checkpoint) job under
// root.
func OutputDir(root, task, checkpoint string) string {
	return filepath.Join(root, "artifacts", util.FileStem(task), util.CheckpointDirName(checkpoint))
}

// ModelArgs renders the tool's --model_args value.
func (d *Dispatcher) ModelArgs(h models.DeploymentHandle) string {
	parts := []string{
		"model=" + h.ServingPath,
		"base_url=" + h.BaseURL,
		"num_concurrent=" + strconv.Itoa(d.settings.NumConcurrent),
		"max_retries=" + strconv.Itoa(d.settings.MaxRetries),
		"tokenized_requests=" + pythonBool(d.settings.TokenizedRequests),
	}
	return strings.Join(parts, ",")
}

// Invocation builds the command for job against the deployment h.
func (d *Dispatcher) Invocation(job models.EvalJob, h models.DeploymentHandle) Invocation {
	return Invocation{
		Name: d.settings.EvalCommand,
		Args: []string{
			"--model", d.settings.Model,
			"--tasks", job.Task,
			"--model_args", d.ModelArgs(h),
			"--output_path", job.OutputDir,
			"--log_samples",
		},
		Env:    []string{APIKeyEnv + "=" + h.APIToken},
		LogDir: job.OutputDir,
	}
}

// Dispatch runs the evaluation tool for job and returns the artifact
// directory. A non-zero exit is reported as *ExitError.
func (d *Dispatcher) Dispatch(ctx context.Context, job models.EvalJob, h models.DeploymentHandle) (string, error) {
	if err := os.MkdirAll(job.OutputDir, 0755); err != nil {
		return "", fmt.Errorf("creating artifact directory: %w", err)
	}

	inv := d.Invocation(job, h)
	slog.Info("running evaluation", "task", job.Task, "checkpoint", job.Checkpoint, "output_dir", job.OutputDir)
	slog.Debug("evaluation command", "name", inv.Name, "args", inv.Args)

	if err := d.runner.Run(ctx, inv); err != nil {
		return job.OutputDir, fmt.Errorf("evaluating %s on %s: %w", job.Task, job.Checkpoint, err)
	}
	return job.OutputDir, nil
}

func pythonBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}
