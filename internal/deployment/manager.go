// Package deployment drives a checkpoint through discovery, deployment and
// readiness polling on the serving platform, and tears down deployments it
// created once the caller is done with them.
package deployment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/spachava753/deployeval/internal/models"
	"github.com/spachava753/deployeval/internal/registry"
)

// MaxReadinessChecks bounds how many times a fresh deployment is polled.
const MaxReadinessChecks = 5

// ErrReadinessTimeout is returned when a deployment is still not DEPLOYED
// after MaxReadinessChecks polls.
var ErrReadinessTimeout = errors.New("deployment did not become ready")

// Registry is the subset of the platform API the manager needs.
type Registry interface {
	ListModels(ctx context.Context) ([]models.ModelRecord, error)
	RegisterModel(ctx context.Context, name, checkpointPath string) (models.ModelID, error)
	Deploy(ctx context.Context, id models.ModelID) error
	Drop(ctx context.Context, id models.ModelID) error
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Manager acquires deployments for checkpoints. It is safe for concurrent
// use; at most one lease per checkpoint is held at a time.
type Manager struct {
	registry        Registry
	modelName       string
	completionsPath string
	pollInterval    time.Duration
	sleep           SleepFunc
	locks           *keyedMutex

	// issued holds the models this manager asked to deploy and has not
	// dropped yet. A later lease on one of them owns it again.
	issuedMu sync.Mutex
	issued   map[models.ModelID]bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithSleep replaces the delay used between readiness checks.
func WithSleep(fn SleepFunc) Option {
	return func(m *Manager) {
		m.sleep = fn
	}
}

// WithPollInterval overrides the delay before each readiness check.
func WithPollInterval(d time.Duration) Option {
	return func(m *Manager) {
		m.pollInterval = d
	}
}

// NewManager creates a manager using the registry and the model name,
// completions path and poll interval from settings.
func NewManager(reg Registry, settings *models.Settings, opts ...Option) *Manager {
	m := &Manager{
		registry:        reg,
		modelName:       settings.ModelName,
		completionsPath: settings.CompletionsPath,
		pollInterval:    settings.PollInterval.Duration,
		sleep:           sleepContext,
		locks:           newKeyedMutex(),
		issued:          make(map[models.ModelID]bool),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Acquire makes sure checkpoint is deployed and returns a lease on the
// deployment. On failure the returned lease still records the states that
// were reached, but holds nothing. A deployment this manager started is
// dropped when ctx is cancelled before it becomes ready; after a readiness
// timeout or a registry error it is left in place.
func (m *Manager) Acquire(ctx context.Context, checkpoint string) (*Lease, error) {
	unlock, err := m.locks.Lock(ctx, checkpoint)
	if err != nil {
		return nil, fmt.Errorf("waiting for checkpoint lock: %w", err)
	}

	lease := newLease(m, checkpoint, unlock)
	if err := m.discover(ctx, lease); err != nil {
		if lease.Owned && ctx.Err() != nil {
			slog.Info("acquisition interrupted, dropping deployment", "checkpoint", checkpoint, "model_id", lease.ModelID)
			if relErr := lease.Release(ctx); relErr != nil {
				return lease, multierror.Append(err, relErr)
			}
			return lease, err
		}
		lease.abandon()
		return lease, err
	}
	return lease, nil
}

// WithDeployment acquires a deployment for checkpoint, runs fn against it and
// releases it on every exit path, including panics. A teardown failure is
// appended to fn's error as a *TeardownError.
func (m *Manager) WithDeployment(ctx context.Context, checkpoint string, fn func(ctx context.Context, lease *Lease) error) (lease *Lease, err error) {
	lease, err = m.Acquire(ctx, checkpoint)
	if err != nil {
		return lease, err
	}
	defer func() {
		if relErr := lease.Release(ctx); relErr != nil {
			err = multierror.Append(err, relErr)
		}
	}()

	if err := lease.transition(models.StateEvaluating); err != nil {
		return lease, err
	}
	if err := fn(ctx, lease); err != nil {
		return lease, err
	}
	return lease, lease.transition(models.StateDone)
}

func (m *Manager) discover(ctx context.Context, lease *Lease) error {
	records, err := m.registry.ListModels(ctx)
	if err != nil {
		return err
	}

	rec := registry.FindByCheckpoint(records, lease.Checkpoint)
	switch {
	case rec == nil:
		if err := lease.transition(models.StateNotFound); err != nil {
			return err
		}
		id, err := m.registry.RegisterModel(ctx, m.modelName, lease.Checkpoint)
		if err != nil {
			return err
		}
		slog.Info("registered checkpoint", "checkpoint", lease.Checkpoint, "model_id", id)
		lease.ModelID = id
		if err := m.deploy(ctx, lease); err != nil {
			return err
		}

	case rec.IsDeployed():
		lease.ModelID = rec.ID
		lease.Owned = m.isIssued(rec.ID)
		if err := lease.transition(models.StateFoundDeployed); err != nil {
			return err
		}
		slog.Info("checkpoint already deployed", "checkpoint", lease.Checkpoint, "model_id", rec.ID, "owned", lease.Owned)
		return m.ready(lease, rec)

	case rec.Status() == models.StatusDropped || rec.Deploy == nil:
		lease.ModelID = rec.ID
		if err := lease.transition(models.StateFoundDropped); err != nil {
			return err
		}
		if err := m.deploy(ctx, lease); err != nil {
			return err
		}

	default:
		// A deployment is already starting. Unless this manager started it,
		// teardown is left to whoever did.
		lease.ModelID = rec.ID
		lease.Owned = m.isIssued(rec.ID)
		if err := lease.transition(models.StateFoundPending); err != nil {
			return err
		}
		slog.Info("deployment already in progress", "checkpoint", lease.Checkpoint, "model_id", rec.ID, "status", rec.Status(), "owned", lease.Owned)
	}

	if err := lease.transition(models.StatePolling); err != nil {
		return err
	}
	return m.poll(ctx, lease)
}

func (m *Manager) deploy(ctx context.Context, lease *Lease) error {
	if err := lease.transition(models.StateDeploying); err != nil {
		return err
	}
	if err := m.registry.Deploy(ctx, lease.ModelID); err != nil {
		return err
	}
	m.setIssued(lease.ModelID, true)
	lease.Owned = true
	slog.Info("deployment requested", "checkpoint", lease.Checkpoint, "model_id", lease.ModelID)
	return nil
}

func (m *Manager) poll(ctx context.Context, lease *Lease) error {
	for check := 1; check <= MaxReadinessChecks; check++ {
		if err := m.sleep(ctx, m.pollInterval); err != nil {
			return err
		}

		records, err := m.registry.ListModels(ctx)
		if err != nil {
			return fmt.Errorf("checking readiness: %w", err)
		}
		rec := registry.FindByCheckpoint(records, lease.Checkpoint)
		if rec != nil && rec.IsDeployed() {
			slog.Info("deployment ready", "checkpoint", lease.Checkpoint, "model_id", rec.ID, "check", check)
			return m.ready(lease, rec)
		}

		var status models.DeployStatus
		if rec != nil {
			status = rec.Status()
		}
		slog.Debug("deployment not ready", "checkpoint", lease.Checkpoint, "check", check, "status", status)
	}

	if err := lease.transition(models.StateTimedOut); err != nil {
		return err
	}
	slog.Warn("deployment not ready, leaving it in place for the operator",
		"checkpoint", lease.Checkpoint,
		"model_id", lease.ModelID,
		"owned", lease.Owned,
		"checks", MaxReadinessChecks)
	return fmt.Errorf("%w after %d checks (model %s)", ErrReadinessTimeout, MaxReadinessChecks, lease.ModelID)
}

func (m *Manager) ready(lease *Lease, rec *models.ModelRecord) error {
	lease.ModelID = rec.ID
	lease.Handle = models.DeploymentHandle{
		ModelID:     rec.ID,
		ServingPath: rec.Deploy.Path,
		BaseURL:     strings.TrimRight(rec.Deploy.URL, "/") + m.completionsPath,
		APIToken:    rec.Deploy.Token,
	}
	return lease.transition(models.StateReady)
}

func (m *Manager) isIssued(id models.ModelID) bool {
	m.issuedMu.Lock()
	defer m.issuedMu.Unlock()
	return m.issued[id]
}

func (m *Manager) setIssued(id models.ModelID, issued bool) {
	m.issuedMu.Lock()
	defer m.issuedMu.Unlock()
	if issued {
		m.issued[id] = true
	} else {
		delete(m.issued, id)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
