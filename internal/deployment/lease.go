package deployment

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/spachava753/deployeval/internal/models"
)

// TeardownError is returned when dropping an owned deployment fails.
type TeardownError struct {
	ModelID models.ModelID
	Err     error
}

func (e *TeardownError) Error() string {
	return fmt.Sprintf("tearing down model %s: %v", e.ModelID, e.Err)
}

func (e *TeardownError) Unwrap() error {
	return e.Err
}

// Lease is a held deployment of one checkpoint. Owned is true when this
// process issued the deploy request, which makes it responsible for the
// drop.
type Lease struct {
	Checkpoint string
	ModelID    models.ModelID
	Handle     models.DeploymentHandle
	Owned      bool

	mgr *Manager

	mu          sync.Mutex
	state       models.JobState
	history     []models.JobState
	released    bool
	teardownErr error
	unlock      func()
}

func newLease(m *Manager, checkpoint string, unlock func()) *Lease {
	return &Lease{
		Checkpoint: checkpoint,
		mgr:        m,
		state:      models.StateUnknown,
		history:    []models.JobState{models.StateUnknown},
		unlock:     unlock,
	}
}

// State returns the current lifecycle state.
func (l *Lease) State() models.JobState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// History returns every state the lease passed through, in order.
func (l *Lease) History() []models.JobState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]models.JobState(nil), l.history...)
}

// TeardownErr returns the error of a failed drop, if any.
func (l *Lease) TeardownErr() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.teardownErr
}

func (l *Lease) transition(to models.JobState) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := models.ValidateTransition(l.state, to); err != nil {
		return fmt.Errorf("checkpoint %s: %w", l.Checkpoint, err)
	}
	l.state = to
	l.history = append(l.history, to)
	return nil
}

// Release drops the deployment if the lease owns it and frees the
// checkpoint for other workers. Calling it more than once is a no-op. The
// drop is not subject to ctx cancellation.
func (l *Lease) Release(ctx context.Context) error {
	l.mu.Lock()
	if l.released {
		l.mu.Unlock()
		return nil
	}
	l.released = true
	l.mu.Unlock()
	defer l.unlock()

	if !l.Owned {
		return nil
	}

	if err := l.mgr.registry.Drop(context.WithoutCancel(ctx), l.ModelID); err != nil {
		terr := &TeardownError{ModelID: l.ModelID, Err: err}
		slog.Error("failed to drop deployment", "checkpoint", l.Checkpoint, "model_id", l.ModelID, "error", err)
		l.mu.Lock()
		l.teardownErr = terr
		l.mu.Unlock()
		return terr
	}

	l.mgr.setIssued(l.ModelID, false)
	slog.Info("deployment dropped", "checkpoint", l.Checkpoint, "model_id", l.ModelID)
	return l.transition(models.StateTornDown)
}

// abandon frees the checkpoint without touching the deployment. Used when
// acquisition fails before the lease is handed out.
func (l *Lease) abandon() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return
	}
	l.released = true
	l.unlock()
}
