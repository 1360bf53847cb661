package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/panjf2000/ants/v2"

	"github.com/spachava753/deployeval/internal/deployment"
	"github.com/spachava753/deployeval/internal/dispatch"
	"github.com/spachava753/deployeval/internal/models"
	"github.com/spachava753/deployeval/internal/registry"
	"github.com/spachava753/deployeval/internal/results"
	"github.com/spachava753/deployeval/internal/store"
	"github.com/spachava753/deployeval/internal/util"
)

// JobExecutor executes a single job and returns the result.
type JobExecutor interface {
	Execute(ctx context.Context, job models.EvalJob) (*models.JobResult, error)
}

// RunRecorder persists a finished run.
type RunRecorder interface {
	RecordRun(ctx context.Context, run *models.RunResult, jobs []*models.JobResult) error
}

// Orchestrator evaluates every task against every checkpoint and merges the
// results per task.
type Orchestrator struct {
	cfg      *models.Settings
	executor JobExecutor
	recorder RunRecorder
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithRecorder stores each finished run.
func WithRecorder(r RunRecorder) Option {
	return func(o *Orchestrator) {
		o.recorder = r
	}
}

// NewOrchestrator creates a new orchestrator.
func NewOrchestrator(cfg *models.Settings, executor JobExecutor, opts ...Option) *Orchestrator {
	o := &Orchestrator{cfg: cfg, executor: executor}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Jobs returns one job per (task, checkpoint) pair, tasks outermost.
func (o *Orchestrator) Jobs() []models.EvalJob {
	var jobs []models.EvalJob
	for ti, task := range o.cfg.Tasks {
		metric, filter := o.cfg.MetricFor(ti)
		for ci, ckpt := range o.cfg.ModelCheckpoints {
			jobs = append(jobs, models.EvalJob{
				ID:              fmt.Sprintf("%s__%s", util.FileStem(task), util.CheckpointDirName(ckpt)),
				Task:            task,
				Checkpoint:      ckpt,
				MetricName:      metric,
				MetricFilter:    filter,
				OutputDir:       dispatch.OutputDir(o.cfg.OutputPath, task, ckpt),
				TaskIndex:       ti,
				CheckpointIndex: ci,
			})
		}
	}
	return jobs
}

// Run executes all jobs, writes the per-task tables and run.json, and returns
// the aggregate result. The returned error joins every job failure and
// teardown failure; a non-nil error does not mean the result is empty.
func (o *Orchestrator) Run(ctx context.Context) (*models.RunResult, error) {
	startTime := time.Now()
	runID := uuid.NewString()
	jobs := o.Jobs()

	if err := os.MkdirAll(o.cfg.OutputPath, 0755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	slog.Info("starting run",
		"run_id", runID,
		"tasks", len(o.cfg.Tasks),
		"checkpoints", len(o.cfg.ModelCheckpoints),
		"parallel_jobs", o.cfg.NumParallelJobs)

	var outcomes []*models.JobResult
	var skipped int
	if o.cfg.NumParallelJobs > 1 && len(jobs) > 1 {
		var err error
		outcomes, skipped, err = o.runPool(ctx, jobs, min(o.cfg.NumParallelJobs, len(jobs)))
		if err != nil {
			return nil, err
		}
	} else {
		outcomes, skipped = o.runSequential(ctx, jobs)
	}

	sort.Slice(outcomes, func(i, j int) bool {
		if outcomes[i].TaskIndex != outcomes[j].TaskIndex {
			return outcomes[i].TaskIndex < outcomes[j].TaskIndex
		}
		return outcomes[i].CheckpointIndex < outcomes[j].CheckpointIndex
	})

	run := o.aggregateResults(runID, outcomes, startTime)
	run.SkippedJobs = skipped
	if skipped > 0 || ctx.Err() != nil {
		run.Cancelled = true
	}

	var errs *multierror.Error
	for _, r := range outcomes {
		if r.Error != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s on %s: %w", r.Task, r.Checkpoint, r.Error))
		}
		if r.TeardownError != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s on %s: %w", r.Task, r.Checkpoint, r.TeardownError))
		}
	}

	if err := o.writeTasks(run, outcomes); err != nil {
		errs = multierror.Append(errs, err)
	}

	if err := o.writeRunJSON(run); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("writing run summary: %w", err))
	}

	if o.recorder != nil {
		if err := o.recorder.RecordRun(context.WithoutCancel(ctx), run, outcomes); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("recording run: %w", err))
		}
	}

	return run, errs.ErrorOrNil()
}

func (o *Orchestrator) writeRunJSON(run *models.RunResult) error {
	runJSON, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return err
	}
	f, err := util.CreateUnique(o.cfg.OutputPath, "run", ".json")
	if err != nil {
		return err
	}
	if _, err := f.Write(runJSON); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (o *Orchestrator) runSequential(ctx context.Context, jobs []models.EvalJob) ([]*models.JobResult, int) {
	var outcomes []*models.JobResult
	for _, job := range jobs {
		if ctx.Err() != nil {
			break
		}
		outcomes = append(outcomes, o.execute(ctx, job))
	}
	return outcomes, len(jobs) - len(outcomes)
}

// runPool executes jobs on a worker pool and fans results in over a
// channel. Returns collected results and count of skipped jobs.
func (o *Orchestrator) runPool(ctx context.Context, jobs []models.EvalJob, size int) ([]*models.JobResult, int, error) {
	resultChan := make(chan *models.JobResult, len(jobs))
	var wg sync.WaitGroup

	pool, err := ants.NewPoolWithFunc(size, func(arg any) {
		defer wg.Done()
		job, ok := arg.(models.EvalJob)
		if !ok {
			panic("job pool args type error")
		}
		resultChan <- o.execute(ctx, job)
	})
	if err != nil {
		return nil, 0, fmt.Errorf("creating job pool: %w", err)
	}
	defer pool.Release()

	for _, job := range jobs {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		if err := pool.Invoke(job); err != nil {
			wg.Done()
			slog.Error("failed to submit job", "job", job.ID, "error", err)
			break
		}
	}

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	var outcomes []*models.JobResult
	for result := range resultChan {
		outcomes = append(outcomes, result)
	}

	return outcomes, max(len(jobs)-len(outcomes), 0), nil
}

func (o *Orchestrator) execute(ctx context.Context, job models.EvalJob) *models.JobResult {
	logger := slog.With("task", job.Task, "checkpoint", job.Checkpoint)
	logger.Info("starting job")

	result, err := o.executor.Execute(ctx, job)
	if err != nil {
		result = &models.JobResult{
			JobID:           job.ID,
			Task:            job.Task,
			Checkpoint:      job.Checkpoint,
			TaskIndex:       job.TaskIndex,
			CheckpointIndex: job.CheckpointIndex,
			FinalState:      models.StateUnknown,
			Error: &models.JobError{
				Type:    models.ErrInternalError,
				Message: err.Error(),
			},
		}
	}

	if _, statErr := os.Stat(job.OutputDir); statErr == nil {
		resultJSON, _ := json.MarshalIndent(result, "", "  ")
		os.WriteFile(filepath.Join(job.OutputDir, "result.json"), resultJSON, 0644)
		if result.Error != nil {
			os.WriteFile(filepath.Join(job.OutputDir, "error.txt"), []byte(result.Error.Message), 0644)
		}
	}

	if result.Error != nil {
		logger.Error("job failed", "state", result.FinalState, "error_type", result.Error.Type, "error", result.Error.Message)
	} else {
		logger.Info("job finished", "state", result.FinalState, "raw_rows", len(result.RawRows), "duration_sec", result.Durations.TotalSec)
	}
	return result
}

// writeTasks merges each task's successful jobs, derives its metrics and
// writes its three tables.
func (o *Orchestrator) writeTasks(run *models.RunResult, outcomes []*models.JobResult) error {
	var errs *multierror.Error
	for ti, task := range o.cfg.Tasks {
		summary := run.Tasks[task]

		var data results.TaskData
		data.Task = task
		data.Metric, _ = o.cfg.MetricFor(ti)
		for _, r := range outcomes {
			if r.TaskIndex != ti || r.Failed() {
				continue
			}
			data.Summary = append(data.Summary, r.SummaryRows...)
			data.Raw = append(data.Raw, r.RawRows...)
		}
		if summary.CompletedJobs == 0 {
			slog.Warn("no successful jobs for task, skipping tables", "task", task)
			run.Tasks[task] = summary
			continue
		}

		data.Metrics = results.Postprocess(task, data.Raw, o.cfg.TargetKind)
		tables, err := results.WriteTaskTables(o.cfg.OutputPath, data)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("task %s: %w", task, err))
			continue
		}
		slog.Info("wrote task tables", "task", task, "summary", tables.Summary, "raw", tables.Raw, "metrics", tables.Metrics)

		summary.RawRows = len(data.Raw)
		summary.SummaryTable = tables.Summary
		summary.RawTable = tables.Raw
		summary.MetricsTable = tables.Metrics
		summary.Metrics = data.Metrics
		run.Tasks[task] = summary
	}
	return errs.ErrorOrNil()
}

func (o *Orchestrator) aggregateResults(runID string, outcomes []*models.JobResult, startTime time.Time) *models.RunResult {
	run := &models.RunResult{
		RunID:     runID,
		ModelName: o.cfg.ModelName,
		TotalJobs: len(outcomes),
		StartedAt: startTime,
		EndedAt:   time.Now(),
		Tasks:     make(map[string]models.TaskSummary),
		Jobs:      make([]models.JobSummary, 0, len(outcomes)),
	}
	run.TotalDurationSec = run.EndedAt.Sub(run.StartedAt).Seconds()

	for _, task := range o.cfg.Tasks {
		run.Tasks[task] = models.TaskSummary{}
	}

	for _, r := range outcomes {
		ts := run.Tasks[r.Task]
		ts.TotalJobs++
		if r.Failed() {
			run.FailedJobs++
			ts.FailedJobs++
			if r.Error.Type == models.ErrDeploymentTimeout {
				run.TimedOutJobs++
			}
		} else {
			run.CompletedJobs++
			ts.CompletedJobs++
		}
		run.Tasks[r.Task] = ts

		run.Jobs = append(run.Jobs, models.JobSummary{
			Task:       r.Task,
			Checkpoint: r.Checkpoint,
			Owned:      r.Owned,
			FinalState: r.FinalState,
			Error:      r.Error,
		})
	}

	return run
}

// NewDefaultExecutor wires the registry client, deployment manager and
// evaluation dispatcher for cfg.
func NewDefaultExecutor(cfg *models.Settings) *DefaultJobExecutor {
	client := registry.NewClient(cfg.URL, cfg.AuthorizationToken, registry.WithTimeout(cfg.RequestTimeout.Duration))
	return &DefaultJobExecutor{
		Deployer:         deployment.NewManager(client, cfg),
		Evaluator:        dispatch.New(cfg, nil),
		CategoricColumns: cfg.CategoricColumns,
		DeleteArtifacts:  cfg.DeleteResultAfterPreprocess,
	}
}

// RunWithSettings executes a run for cfg, recording it in the results
// database when one is configured.
func RunWithSettings(ctx context.Context, cfg *models.Settings) (*models.RunResult, error) {
	var opts []Option
	if cfg.ResultsDB != "" {
		db, err := store.Open(cfg.ResultsDB)
		if err != nil {
			return nil, fmt.Errorf("opening results database: %w", err)
		}
		defer db.Close()
		opts = append(opts, WithRecorder(db))
	}

	return NewOrchestrator(cfg, NewDefaultExecutor(cfg), opts...).Run(ctx)
}
