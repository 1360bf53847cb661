package models

// ErrorType identifies the category of error that ended a job.
type ErrorType string

const (
	// Registry calls (list, register, deploy, drop during acquisition)
	ErrRegistryRequestFailed ErrorType = "registry_request_failed"

	// Readiness polling
	ErrDeploymentTimeout ErrorType = "deployment_timeout"

	// Evaluation tool
	ErrEvaluationFailed ErrorType = "evaluation_failed"

	// Artifact ingestion
	ErrIngestionFailed ErrorType = "ingestion_failed"

	// Teardown phase
	ErrTeardownFailed ErrorType = "teardown_failed"

	ErrCancelled ErrorType = "cancelled"

	// Catch-all
	ErrInternalError ErrorType = "internal_error"
)

// JobError records why a job failed.
type JobError struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
}

func (e *JobError) Error() string {
	return string(e.Type) + ": " + e.Message
}
