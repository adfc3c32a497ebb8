package kernel

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nstogner/nbtool/pkg/metrics"
)

// State of the registry's single session slot.
type State string

const (
	StateAbsent   State = "absent"
	StateStarting State = "starting"
	StateRunning  State = "running"
)

// Status is a snapshot of the registry slot.
type Status struct {
	State     State  `json:"state"`
	Spec      string `json:"spec,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

const (
	DefaultStartupTimeout  = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second
)

// Registry owns at most one live Session. Starting a session for a different
// spec shuts the current one down first.
type Registry struct {
	launcher       Launcher
	startupTimeout time.Duration

	// transition serializes Ensure, Restart and Shutdown.
	transition sync.Mutex

	mu      sync.Mutex
	state   State
	spec    string
	session Session
}

// NewRegistry creates an empty registry. A zero startupTimeout uses
// DefaultStartupTimeout.
func NewRegistry(l Launcher, startupTimeout time.Duration) *Registry {
	if startupTimeout <= 0 {
		startupTimeout = DefaultStartupTimeout
	}
	return &Registry{
		launcher:       l,
		startupTimeout: startupTimeout,
		state:          StateAbsent,
	}
}

// Ensure returns the running session for spec, starting one if needed.
func (r *Registry) Ensure(ctx context.Context, spec string) (Session, error) {
	r.transition.Lock()
	defer r.transition.Unlock()

	r.mu.Lock()
	cur, curSpec := r.session, r.spec
	r.mu.Unlock()

	if cur != nil && curSpec == spec {
		err := SessionErr(cur)
		if err == nil {
			return cur, nil
		}
		slog.Warn("Kernel session lost, starting a new one", "spec", spec, "id", cur.ID(), "error", err)
		if err := r.shutdownLocked(ctx); err != nil {
			slog.Warn("Kernel shutdown failed, continuing", "spec", spec, "error", err)
		}
		return r.startLocked(ctx, spec)
	}
	if cur != nil {
		slog.Info("Replacing kernel", "from", curSpec, "to", spec)
		if err := r.shutdownLocked(ctx); err != nil {
			slog.Warn("Kernel shutdown failed, continuing", "spec", curSpec, "error", err)
		}
	}
	return r.startLocked(ctx, spec)
}

// Restart shuts down any running session and starts a fresh one for spec.
func (r *Registry) Restart(ctx context.Context, spec string) (Session, error) {
	r.transition.Lock()
	defer r.transition.Unlock()

	if err := r.shutdownLocked(ctx); err != nil {
		slog.Warn("Kernel shutdown failed during restart", "error", err)
	}
	return r.startLocked(ctx, spec)
}

// Shutdown stops the running session. The slot is cleared even when the
// kernel could not be told to stop; the returned error is informational.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.transition.Lock()
	defer r.transition.Unlock()
	return r.shutdownLocked(ctx)
}

// Interrupt signals the running session.
func (r *Registry) Interrupt(ctx context.Context) error {
	r.mu.Lock()
	sess := r.session
	r.mu.Unlock()

	if sess == nil {
		return ErrNoActiveKernel
	}
	if err := sess.Interrupt(ctx); err != nil {
		return fmt.Errorf("interrupting kernel %s: %w", sess.ID(), err)
	}
	slog.Info("Kernel interrupted", "spec", sess.Spec(), "id", sess.ID())
	return nil
}

// ListSpecs queries the launcher's kernel catalog.
func (r *Registry) ListSpecs(ctx context.Context) ([]string, error) {
	specs, err := r.launcher.ListSpecs(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing kernel specs: %w", err)
	}
	return specs, nil
}

// Current reports the slot without blocking on a transition in progress.
func (r *Registry) Current() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := Status{State: r.state, Spec: r.spec}
	if r.session != nil {
		st.SessionID = r.session.ID()
	}
	return st
}

func (r *Registry) startLocked(ctx context.Context, spec string) (Session, error) {
	r.set(StateStarting, spec, nil)

	startCtx, cancel := context.WithTimeout(ctx, r.startupTimeout)
	defer cancel()

	started := time.Now()
	sess, err := r.launcher.Launch(startCtx, spec)
	if err != nil {
		r.set(StateAbsent, "", nil)
		metrics.RecordKernelStart(spec, false)
		return nil, fmt.Errorf("%w: %s: %w", ErrKernelStart, spec, err)
	}

	r.set(StateRunning, spec, sess)
	metrics.RecordKernelStart(spec, true)
	slog.Info("Kernel started", "spec", spec, "id", sess.ID(), "took", time.Since(started))
	return sess, nil
}

func (r *Registry) shutdownLocked(ctx context.Context) error {
	r.mu.Lock()
	sess := r.session
	r.mu.Unlock()
	if sess == nil {
		return nil
	}
	r.set(StateAbsent, "", nil)

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultShutdownTimeout)
	defer cancel()
	if err := sess.Shutdown(stopCtx); err != nil {
		return fmt.Errorf("shutting down kernel %s: %w", sess.ID(), err)
	}
	slog.Info("Kernel stopped", "spec", sess.Spec(), "id", sess.ID())
	return nil
}

func (r *Registry) set(state State, spec string, sess Session) {
	r.mu.Lock()
	r.state, r.spec, r.session = state, spec, sess
	r.mu.Unlock()
}
