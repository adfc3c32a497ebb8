// Package kerneltest provides scripted in-memory kernels for tests.
package kerneltest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nstogner/nbtool/pkg/kernel"
)

// Advancer is satisfied by clockwork's fake clock.
type Advancer interface {
	Advance(d time.Duration)
}

// Step is one Poll result. A zero Step is a poll that times out with no message.
type Step struct {
	Msg *kernel.Message
	Err error
}

// Script returns the steps replayed for one execute request. n is the
// 1-based execution number within the session.
type Script func(code string, n int) []Step

// Launcher is a kernel.Launcher whose sessions replay a Script.
type Launcher struct {
	Specs     []string
	LaunchErr error
	// Block makes Launch wait for ctx to finish, simulating a kernel that
	// never becomes ready.
	Block bool
	// Script defaults to Echo.
	Script Script
	// Clock, when set, is advanced by the poll wait on every silent poll.
	Clock Advancer

	mu       sync.Mutex
	launches int
	sessions []*Session
}

var _ kernel.Launcher = (*Launcher)(nil)

func (l *Launcher) Launch(ctx context.Context, spec string) (kernel.Session, error) {
	if l.Block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.launches++
	if l.LaunchErr != nil {
		return nil, l.LaunchErr
	}
	script := l.Script
	if script == nil {
		script = Echo
	}
	s := &Session{
		id:     fmt.Sprintf("fake-%d", l.launches),
		spec:   spec,
		script: script,
		clock:  l.Clock,
	}
	l.sessions = append(l.sessions, s)
	return s, nil
}

func (l *Launcher) ListSpecs(ctx context.Context) ([]string, error) {
	if l.Specs == nil {
		return []string{"python3"}, nil
	}
	return l.Specs, nil
}

// Launches returns how many times Launch ran.
func (l *Launcher) Launches() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.launches
}

// Sessions returns every session launched so far.
func (l *Launcher) Sessions() []*Session {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*Session(nil), l.sessions...)
}

// Live counts sessions that have not been shut down.
func (l *Launcher) Live() int {
	n := 0
	for _, s := range l.Sessions() {
		if !s.Closed() {
			n++
		}
	}
	return n
}

// Session is a scripted kernel.Session.
type Session struct {
	id     string
	spec   string
	script Script
	clock  Advancer

	ShutdownErr  error
	InterruptErr error

	mu         sync.Mutex
	executions int
	codes      []string
	interrupts int
	closed     bool
	lost       error
}

var _ kernel.Session = (*Session)(nil)

func (s *Session) ID() string   { return s.id }
func (s *Session) Spec() string { return s.spec }

func (s *Session) Execute(ctx context.Context, code string) (kernel.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errors.New("session closed")
	}
	s.executions++
	s.codes = append(s.codes, code)
	return &Execution{steps: s.script(code, s.executions), clock: s.clock}, nil
}

func (s *Session) Interrupt(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interrupts++
	return s.InterruptErr
}

func (s *Session) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return s.ShutdownErr
}

// Disconnect makes the session report err from Err, as a kernel whose
// channel dropped would.
func (s *Session) Disconnect(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lost = err
}

func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lost
}

// Codes returns the sources submitted so far.
func (s *Session) Codes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.codes...)
}

// Interrupts returns how many interrupts were received.
func (s *Session) Interrupts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interrupts
}

// Closed reports whether Shutdown was called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Execution replays steps, then stays silent forever.
type Execution struct {
	mu    sync.Mutex
	steps []Step
	clock Advancer
}

func (e *Execution) Poll(ctx context.Context, wait time.Duration) (*kernel.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	var step Step
	if len(e.steps) > 0 {
		step, e.steps = e.steps[0], e.steps[1:]
	}
	e.mu.Unlock()

	if step.Msg == nil && step.Err == nil && e.clock != nil {
		e.clock.Advance(wait)
	}
	return step.Msg, step.Err
}

func (e *Execution) Close() error { return nil }

// Message builds an iopub message with the given content.
func Message(msgType string, content any) *kernel.Message {
	raw, err := json.Marshal(content)
	if err != nil {
		panic(err)
	}
	return &kernel.Message{
		Header:  kernel.Header{MsgType: msgType},
		Content: raw,
		Channel: kernel.ChannelIOPub,
	}
}

func Busy() Step {
	return Step{Msg: Message(kernel.MsgStatus, kernel.StatusContent{ExecutionState: kernel.ExecutionBusy})}
}

func Idle() Step {
	return Step{Msg: Message(kernel.MsgStatus, kernel.StatusContent{ExecutionState: kernel.ExecutionIdle})}
}

func Input(n int) Step {
	return Step{Msg: Message(kernel.MsgExecuteInput, kernel.ExecuteInput{ExecutionCount: n})}
}

func Stdout(text string) Step {
	return Step{Msg: Message(kernel.MsgStream, kernel.Stream{Name: "stdout", Text: text})}
}

func Result(n int, plain string) Step {
	return Step{Msg: Message(kernel.MsgExecuteResult, kernel.DisplayData{
		Data:           map[string]any{"text/plain": plain},
		Metadata:       map[string]any{},
		ExecutionCount: &n,
	})}
}

func Fail(ename, evalue string) Step {
	return Step{Msg: Message(kernel.MsgError, kernel.Error{
		EName:     ename,
		EValue:    evalue,
		Traceback: []string{"Traceback (most recent call last)", ename + ": " + evalue},
	})}
}

// Silence is a poll that returns nothing.
func Silence() Step { return Step{} }

// Echo prints the submitted code to stdout and completes.
func Echo(code string, n int) []Step {
	return []Step{Busy(), Input(n), Stdout(code + "\n"), Idle()}
}
