package models

import "time"

// EvalJob is one evaluation of a task against one checkpoint.
type EvalJob struct {
	ID              string // unique identifier
	Task            string
	Checkpoint      string
	MetricName      string
	MetricFilter    string
	OutputDir       string // artifact directory handed to the evaluation tool
	TaskIndex       int
	CheckpointIndex int
}

// JobResult contains the outcome of a job execution.
type JobResult struct {
	JobID         string     `json:"job_id"`
	Task          string     `json:"task"`
	Checkpoint    string     `json:"checkpoint"`
	ModelID       ModelID    `json:"model_id,omitempty"`
	Owned         bool       `json:"owned_deployment"`
	FinalState    JobState   `json:"final_state"`
	States        []JobState `json:"states"`
	ArtifactDir   string     `json:"artifact_dir,omitempty"`
	Error         *JobError  `json:"error"`
	TeardownError *JobError  `json:"teardown_error,omitempty"`
	Durations     Durations  `json:"durations"`
	Timestamps    Timestamps `json:"timestamps"`

	TaskIndex       int `json:"-"`
	CheckpointIndex int `json:"-"`

	SummaryRows []SummaryRow   `json:"-"`
	RawRows     []RawResultRow `json:"-"`
}

// Failed reports whether the job produced no usable rows.
func (r *JobResult) Failed() bool {
	return r.Error != nil
}

type Durations struct {
	TotalSec      float64  `json:"total_sec"`
	DeploymentSec *float64 `json:"deployment_sec"`
	EvaluationSec *float64 `json:"evaluation_sec"`
	IngestionSec  *float64 `json:"ingestion_sec"`
}

type Timestamps struct {
	StartedAt           time.Time  `json:"started_at"`
	DeploymentStartedAt time.Time  `json:"deployment_started_at"`
	DeploymentEndedAt   time.Time  `json:"deployment_ended_at"`
	EvaluationStartedAt *time.Time `json:"evaluation_started_at"`
	EvaluationEndedAt   *time.Time `json:"evaluation_ended_at"`
	IngestionStartedAt  *time.Time `json:"ingestion_started_at"`
	IngestionEndedAt    *time.Time `json:"ingestion_ended_at"`
	EndedAt             time.Time  `json:"ended_at"`
}

// RunResult contains aggregate outcomes across all jobs of a run.
type RunResult struct {
	RunID            string                 `json:"run_id"`
	ModelName        string                 `json:"model_name"`
	Cancelled        bool                   `json:"cancelled"`
	TotalJobs        int                    `json:"total_jobs"`
	CompletedJobs    int                    `json:"completed_jobs"`
	FailedJobs       int                    `json:"failed_jobs"`
	TimedOutJobs     int                    `json:"timed_out_jobs"`
	SkippedJobs      int                    `json:"skipped_jobs"`
	TotalDurationSec float64                `json:"total_duration_sec"`
	StartedAt        time.Time              `json:"started_at"`
	EndedAt          time.Time              `json:"ended_at"`
	Tasks            map[string]TaskSummary `json:"tasks"`
	Jobs             []JobSummary           `json:"jobs"`
}

// TaskSummary describes the merged outputs written for one task.
type TaskSummary struct {
	TotalJobs     int          `json:"total_jobs"`
	CompletedJobs int          `json:"completed_jobs"`
	FailedJobs    int          `json:"failed_jobs"`
	RawRows       int          `json:"raw_rows"`
	SummaryTable  string       `json:"summary_table,omitempty"`
	RawTable      string       `json:"raw_table,omitempty"`
	MetricsTable  string       `json:"metrics_table,omitempty"`
	// Metrics may hold NaN deviations, which JSON cannot carry; the metrics
	// table is the serialized form.
	Metrics []MetricsRow `json:"-"`
}

type JobSummary struct {
	Task       string    `json:"task"`
	Checkpoint string    `json:"checkpoint"`
	Owned      bool      `json:"owned_deployment"`
	FinalState JobState  `json:"final_state"`
	Error      *JobError `json:"error"`
}
