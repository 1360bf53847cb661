package executor

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/spachava753/deployeval/internal/deployment"
	"github.com/spachava753/deployeval/internal/models"
	"github.com/spachava753/deployeval/internal/results"
)

// Deployer provides a scoped deployment of a checkpoint.
type Deployer interface {
	WithDeployment(ctx context.Context, checkpoint string, fn func(ctx context.Context, lease *deployment.Lease) error) (*deployment.Lease, error)
}

// Evaluator runs the evaluation tool against a ready deployment and returns
// the artifact directory.
type Evaluator interface {
	Dispatch(ctx context.Context, job models.EvalJob, h models.DeploymentHandle) (string, error)
}

// DefaultJobExecutor runs a single job through deployment, evaluation and
// ingestion. It is safe for concurrent use when its Deployer is.
type DefaultJobExecutor struct {
	Deployer         Deployer
	Evaluator        Evaluator
	CategoricColumns []string
	// DeleteArtifacts removes the artifact directory once it was ingested.
	DeleteArtifacts bool
}

// Execute runs the job and returns the result. Phase failures are recorded on
// the result rather than returned.
func (e *DefaultJobExecutor) Execute(ctx context.Context, job models.EvalJob) (*models.JobResult, error) {
	result := &models.JobResult{
		JobID:           job.ID,
		Task:            job.Task,
		Checkpoint:      job.Checkpoint,
		TaskIndex:       job.TaskIndex,
		CheckpointIndex: job.CheckpointIndex,
		FinalState:      models.StateUnknown,
		Timestamps: models.Timestamps{
			StartedAt: time.Now(),
		},
	}

	defer func() {
		result.Timestamps.EndedAt = time.Now()
		result.Durations.TotalSec = result.Timestamps.EndedAt.Sub(result.Timestamps.StartedAt).Seconds()
	}()

	// Phase 1: Deployment, Phase 2: Evaluation
	result.Timestamps.DeploymentStartedAt = time.Now()
	var evalErr error
	evaluated := false
	lease, err := e.Deployer.WithDeployment(ctx, job.Checkpoint, func(ctx context.Context, lease *deployment.Lease) error {
		e.endDeployment(result)

		start := time.Now()
		result.Timestamps.EvaluationStartedAt = &start
		dir, err := e.Evaluator.Dispatch(ctx, job, lease.Handle)
		end := time.Now()
		result.Timestamps.EvaluationEndedAt = &end
		evalDur := end.Sub(start).Seconds()
		result.Durations.EvaluationSec = &evalDur

		result.ArtifactDir = dir
		evalErr = err
		evaluated = err == nil
		return err
	})
	if result.Timestamps.DeploymentEndedAt.IsZero() {
		e.endDeployment(result)
	}

	if lease != nil {
		result.ModelID = lease.ModelID
		result.Owned = lease.Owned
		result.States = lease.History()
		result.FinalState = lease.State()
		if terr := lease.TeardownErr(); terr != nil {
			result.TeardownError = &models.JobError{
				Type:    models.ErrTeardownFailed,
				Message: terr.Error(),
			}
		}
	}

	switch {
	case evalErr != nil:
		result.Error = classify(evalErr, models.ErrEvaluationFailed)
		return result, nil
	case !evaluated:
		result.Error = classify(err, models.ErrRegistryRequestFailed)
		return result, nil
	}

	// Phase 3: Ingestion
	start := time.Now()
	result.Timestamps.IngestionStartedAt = &start
	ingested, err := results.Ingest(ctx, result.ArtifactDir, job, e.CategoricColumns)
	end := time.Now()
	result.Timestamps.IngestionEndedAt = &end
	ingestDur := end.Sub(start).Seconds()
	result.Durations.IngestionSec = &ingestDur

	if err != nil {
		result.Error = classify(err, models.ErrIngestionFailed)
		return result, nil
	}
	result.SummaryRows = ingested.Summary
	result.RawRows = ingested.Raw

	if e.DeleteArtifacts {
		if err := os.RemoveAll(result.ArtifactDir); err != nil {
			slog.Warn("failed to delete artifacts", "dir", result.ArtifactDir, "error", err)
		} else {
			slog.Debug("deleted artifacts", "dir", result.ArtifactDir)
			result.ArtifactDir = ""
		}
	}

	return result, nil
}

func (e *DefaultJobExecutor) endDeployment(result *models.JobResult) {
	result.Timestamps.DeploymentEndedAt = time.Now()
	dur := result.Timestamps.DeploymentEndedAt.Sub(result.Timestamps.DeploymentStartedAt).Seconds()
	result.Durations.DeploymentSec = &dur
}

// classify maps an error to a JobError, using fallback unless the error is a
// cancellation or a readiness timeout.
func classify(err error, fallback models.ErrorType) *models.JobError {
	errType := fallback
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		errType = models.ErrCancelled
	case errors.Is(err, deployment.ErrReadinessTimeout):
		errType = models.ErrDeploymentTimeout
	}
	return &models.JobError{
		Type:    errType,
		Message: err.Error(),
	}
}
