package models

import "fmt"

// JobState is a step in a checkpoint's deployment lifecycle.
type JobState string

const (
	StateUnknown       JobState = "unknown"
	StateFoundDeployed JobState = "found_deployed"
	StateFoundDropped  JobState = "found_dropped"
	// StateFoundPending means the record exists with a status other than
	// DEPLOYED or DROPPED, i.e. a deployment someone else already started.
	StateFoundPending JobState = "found_pending"
	StateNotFound     JobState = "not_found"
	StateDeploying    JobState = "deploying"
	StatePolling      JobState = "polling"
	StateReady        JobState = "ready"
	StateTimedOut     JobState = "timed_out"
	StateEvaluating   JobState = "evaluating"
	StateDone         JobState = "done"
	StateTornDown     JobState = "torn_down"
)

var allowedTransitions = map[JobState][]JobState{
	StateUnknown:       {StateFoundDeployed, StateFoundDropped, StateFoundPending, StateNotFound},
	StateFoundDeployed: {StateReady},
	StateFoundDropped:  {StateDeploying},
	StateFoundPending:  {StatePolling},
	StateNotFound:      {StateDeploying},
	StateDeploying:     {StatePolling},
	StatePolling:       {StateReady, StateTimedOut, StateTornDown},
	StateReady:         {StateEvaluating, StateTornDown},
	StateEvaluating:    {StateDone, StateTornDown},
	StateDone:          {StateTornDown},
}

// ValidateTransition returns an error if moving from one state to another is
// not part of the lifecycle.
func ValidateTransition(from, to JobState) error {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return nil
		}
	}
	return fmt.Errorf("invalid lifecycle transition %s -> %s", from, to)
}

// IsTerminal reports whether no further transitions are possible.
func (s JobState) IsTerminal() bool {
	return len(allowedTransitions[s]) == 0
}
