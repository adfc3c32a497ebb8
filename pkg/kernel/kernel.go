// Package kernel manages the live interpreter used to execute notebook cells.
//
// A Launcher starts kernels, a Session is one running kernel, and an
// Execution is the stream of messages a kernel produces for one request. The
// Registry keeps at most one Session alive for the whole process.
package kernel

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrKernelStart means the kernel did not become ready.
	ErrKernelStart = errors.New("kernel failed to start")
	// ErrNoActiveKernel means an operation needed a running kernel and none exists.
	ErrNoActiveKernel = errors.New("no active kernel")
)

// Launcher starts kernels for a kernelspec name.
type Launcher interface {
	// Launch starts a kernel and blocks until it is ready or ctx is done.
	Launch(ctx context.Context, spec string) (Session, error)

	// ListSpecs returns the kernelspec names this launcher can start.
	ListSpecs(ctx context.Context) ([]string, error)
}

// Session is one running kernel.
type Session interface {
	ID() string
	Spec() string

	// Execute submits code as a single execute request.
	Execute(ctx context.Context, code string) (Execution, error)

	// Interrupt signals the kernel without stopping it.
	Interrupt(ctx context.Context) error

	// Shutdown stops the kernel and releases its channel.
	Shutdown(ctx context.Context) error
}

// Checker is implemented by sessions that can tell their channel has died.
type Checker interface {
	// Err returns a non-nil error once the session can no longer execute.
	Err() error
}

// SessionErr reports why s can no longer execute, or nil if it is usable
// or cannot tell.
func SessionErr(s Session) error {
	if c, ok := s.(Checker); ok {
		return c.Err()
	}
	return nil
}

// Execution yields the messages produced in reply to one execute request.
type Execution interface {
	// Poll waits up to wait for the next message. It returns nil, nil when
	// nothing arrived in time.
	Poll(ctx context.Context, wait time.Duration) (*Message, error)

	// Close stops delivery of further messages.
	Close() error
}
