package dispatch_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spachava753/deployeval/internal/dispatch"
	"github.com/spachava753/deployeval/internal/models"
)

type recordingRunner struct {
	invocations []dispatch.Invocation
	err         error
}

func (r *recordingRunner) Run(ctx context.Context, inv dispatch.Invocation) error {
	r.invocations = append(r.invocations, inv)
	return r.err
}

func testSettings() *models.Settings {
	return &models.Settings{
		Model:             "local-completions",
		NumConcurrent:     20,
		MaxRetries:        3,
		TokenizedRequests: false,
		EvalCommand:       "lm_eval",
	}
}

func testHandle() models.DeploymentHandle {
	return models.DeploymentHandle{
		ModelID:     "42",
		ServingPath: "/serving/models/42",
		BaseURL:     "http://10.0.0.1:8102/v1/completions",
		APIToken:    "tok-42",
	}
}

func TestDispatchBuildsInvocation(t *testing.T) {
	runner := &recordingRunner{}
	d := dispatch.New(testSettings(), runner)

	job := models.EvalJob{
		Task:       "arc_easy",
		Checkpoint: "/ckpt/step-100",
		OutputDir:  filepath.Join(t.TempDir(), "artifacts", "arc_easy", "x"),
	}

	dir, err := d.Dispatch(context.Background(), job, testHandle())
	require.NoError(t, err)
	assert.Equal(t, job.OutputDir, dir)
	assert.DirExists(t, dir)

	require.Len(t, runner.invocations, 1)
	inv := runner.invocations[0]
	assert.Equal(t, "lm_eval", inv.Name)
	assert.Equal(t, []string{
		"--model", "local-completions",
		"--tasks", "arc_easy",
		"--model_args", "model=/serving/models/42,base_url=http://10.0.0.1:8102/v1/completions,num_concurrent=20,max_retries=3,tokenized_requests=False",
		"--output_path", job.OutputDir,
		"--log_samples",
	}, inv.Args)
	assert.Equal(t, []string{"OPENAI_API_KEY=tok-42"}, inv.Env)
	assert.Equal(t, job.OutputDir, inv.LogDir)
}

func TestModelArgsTokenizedRequests(t *testing.T) {
	settings := testSettings()
	settings.TokenizedRequests = true
	d := dispatch.New(settings, &recordingRunner{})

	assert.True(t, strings.HasSuffix(d.ModelArgs(testHandle()), ",tokenized_requests=True"))
}

func TestDispatchPropagatesRunnerError(t *testing.T) {
	runner := &recordingRunner{err: &dispatch.ExitError{Command: "lm_eval", ExitCode: 2}}
	d := dispatch.New(testSettings(), runner)

	job := models.EvalJob{Task: "t", Checkpoint: "/c", OutputDir: t.TempDir()}
	_, err := d.Dispatch(context.Background(), job, testHandle())

	var exitErr *dispatch.ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 2, exitErr.ExitCode)
}

func TestOutputDirIsDeterministic(t *testing.T) {
	a := dispatch.OutputDir("out", "arc_easy", "/ckpt/run/step-100")
	b := dispatch.OutputDir("out", "arc_easy", "/ckpt/run/step-100")
	c := dispatch.OutputDir("out", "arc_easy", "/ckpt/other/step-100")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c, "same base name under different parents must not share a directory")
	assert.Equal(t, filepath.Join("out", "artifacts", "arc_easy"), filepath.Dir(a))
}

func TestExecRunner(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping subprocess test in short mode")
	}
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}

	t.Run("success with environment", func(t *testing.T) {
		dir := t.TempDir()
		err := dispatch.ExecRunner{}.Run(context.Background(), dispatch.Invocation{
			Name:   "sh",
			Args:   []string{"-c", `printf %s "$OPENAI_API_KEY"`},
			Env:    []string{"OPENAI_API_KEY=tok-42"},
			LogDir: dir,
		})
		require.NoError(t, err)

		out, err := os.ReadFile(filepath.Join(dir, "stdout.txt"))
		require.NoError(t, err)
		assert.Equal(t, "tok-42", string(out))
	})

	t.Run("non-zero exit", func(t *testing.T) {
		dir := t.TempDir()
		err := dispatch.ExecRunner{}.Run(context.Background(), dispatch.Invocation{
			Name:   "sh",
			Args:   []string{"-c", "echo partial; echo 'task not found' >&2; exit 3"},
			LogDir: dir,
		})

		var exitErr *dispatch.ExitError
		require.ErrorAs(t, err, &exitErr)
		assert.Equal(t, 3, exitErr.ExitCode)
		assert.Equal(t, "task not found", exitErr.Stderr)

		out, err := os.ReadFile(filepath.Join(dir, "stdout.txt"))
		require.NoError(t, err)
		assert.Equal(t, "partial\n", string(out))
	})

	t.Run("cancellation", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()

		start := time.Now()
		err := dispatch.ExecRunner{WaitDelay: time.Second}.Run(ctx, dispatch.Invocation{
			Name:   "sleep",
			Args:   []string{"30"},
			LogDir: t.TempDir(),
		})
		require.Error(t, err)
		assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
		assert.Less(t, time.Since(start), 10*time.Second)
	})

	t.Run("missing command", func(t *testing.T) {
		err := dispatch.ExecRunner{}.Run(context.Background(), dispatch.Invocation{
			Name:   "definitely-not-a-real-evaluator",
			LogDir: t.TempDir(),
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "starting definitely-not-a-real-evaluator")
	})
}
