package jupyter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nstogner/nbtool/pkg/kernel"
)

const writeTimeout = 10 * time.Second

var errChannelClosed = errors.New("kernel channel closed")

// Session is a kernel reached through a Jupyter Server websocket. A single
// reader goroutine routes incoming messages to the request that caused them,
// keyed by parent msg_id.
type Session struct {
	client    *Client
	conn      *websocket.Conn
	id        string
	spec      string
	sessionID string

	writeMu sync.Mutex

	mu      sync.Mutex
	subs    map[string]*mailbox
	err     error
	closing bool
	done    chan struct{}
}

var (
	_ kernel.Session = (*Session)(nil)
	_ kernel.Checker = (*Session)(nil)
)

func newSession(c *Client, conn *websocket.Conn, id, spec, sessionID string) *Session {
	s := &Session{
		client:    c,
		conn:      conn,
		id:        id,
		spec:      spec,
		sessionID: sessionID,
		subs:      make(map[string]*mailbox),
		done:      make(chan struct{}),
	}
	go s.readLoop()
	return s
}

func (s *Session) ID() string   { return s.id }
func (s *Session) Spec() string { return s.spec }

// Err reports a closed channel once the read loop has stopped.
func (s *Session) Err() error {
	select {
	case <-s.done:
		return s.failure()
	default:
		return nil
	}
}

// Execute sends an execute_request on the shell channel.
func (s *Session) Execute(ctx context.Context, code string) (kernel.Execution, error) {
	exec, err := s.request(kernel.ChannelShell, kernel.MsgExecuteRequest, kernel.ExecuteRequest{
		Code:            code,
		StoreHistory:    true,
		UserExpressions: map[string]any{},
		StopOnError:     true,
	})
	if err != nil {
		return nil, err
	}
	return exec, nil
}

func (s *Session) Interrupt(ctx context.Context) error {
	return s.client.interruptKernel(ctx, s.id)
}

// Shutdown closes the channel and deletes the kernel on the server.
func (s *Session) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()

	s.writeMu.Lock()
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	s.writeMu.Unlock()
	_ = s.conn.Close()

	if err := s.client.deleteKernel(ctx, s.id); err != nil {
		return fmt.Errorf("deleting kernel: %w", err)
	}
	return nil
}

func (s *Session) request(channel, msgType string, content any) (*execution, error) {
	msg, err := kernel.NewMessage(channel, msgType, s.sessionID, content)
	if err != nil {
		return nil, err
	}
	mb := newMailbox()
	s.mu.Lock()
	if s.err != nil {
		err := s.err
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %w", errChannelClosed, err)
	}
	s.subs[msg.Header.MsgID] = mb
	s.mu.Unlock()

	s.writeMu.Lock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	err = s.conn.WriteJSON(msg)
	s.writeMu.Unlock()
	if err != nil {
		s.unsubscribe(msg.Header.MsgID)
		return nil, fmt.Errorf("sending %s: %w", msgType, err)
	}
	return &execution{session: s, msgID: msg.Header.MsgID, mb: mb}, nil
}

// waitReady repeats kernel_info_request until a reply arrives or ctx ends.
func (s *Session) waitReady(ctx context.Context) error {
	for {
		exec, err := s.request(kernel.ChannelShell, kernel.MsgKernelInfoRequest, struct{}{})
		if err != nil {
			return fmt.Errorf("requesting kernel info: %w", err)
		}
		deadline := time.Now().Add(readyRetryInterval)
		for wait := time.Until(deadline); wait > 0; wait = time.Until(deadline) {
			msg, err := exec.Poll(ctx, wait)
			if err != nil {
				exec.Close()
				return fmt.Errorf("waiting for kernel ready: %w", err)
			}
			if msg != nil && msg.Type() == kernel.MsgKernelInfoReply {
				exec.Close()
				return nil
			}
		}
		exec.Close()
		slog.Debug("Kernel not ready yet", "id", s.id)
	}
}

func (s *Session) readLoop() {
	defer close(s.done)
	for {
		var msg kernel.Message
		if err := s.conn.ReadJSON(&msg); err != nil {
			s.mu.Lock()
			if s.err == nil {
				s.err = err
			}
			closing := s.closing
			s.mu.Unlock()
			if !closing {
				slog.Warn("Kernel channel closed", "id", s.id, "error", err)
			}
			return
		}

		s.mu.Lock()
		mb := s.subs[msg.ParentHeader.MsgID]
		s.mu.Unlock()
		if mb == nil {
			slog.Debug("Dropping unrouted kernel message", "type", msg.Type(), "parent", msg.ParentHeader.MsgID)
			continue
		}
		mb.push(&msg)
	}
}

func (s *Session) unsubscribe(msgID string) {
	s.mu.Lock()
	delete(s.subs, msgID)
	s.mu.Unlock()
}

func (s *Session) failure() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return fmt.Errorf("%w: %w", errChannelClosed, s.err)
	}
	return errChannelClosed
}

type execution struct {
	session *Session
	msgID   string
	mb      *mailbox
}

func (e *execution) Poll(ctx context.Context, wait time.Duration) (*kernel.Message, error) {
	if msg, ok := e.mb.pop(); ok {
		return msg, nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-e.mb.notify:
		if msg, ok := e.mb.pop(); ok {
			return msg, nil
		}
		return nil, nil
	case <-e.session.done:
		// Hold for the poll interval so a caller that keeps polling a dead
		// channel does not spin.
		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return nil, e.session.failure()
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (e *execution) Close() error {
	e.session.unsubscribe(e.msgID)
	return nil
}

// mailbox is an unbounded queue so the reader never blocks on a slow poller.
type mailbox struct {
	mu     sync.Mutex
	queue  []*kernel.Message
	notify chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{notify: make(chan struct{}, 1)}
}

func (m *mailbox) push(msg *kernel.Message) {
	m.mu.Lock()
	m.queue = append(m.queue, msg)
	m.mu.Unlock()
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

func (m *mailbox) pop() (*kernel.Message, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.queue) == 0 {
		return nil, false
	}
	msg := m.queue[0]
	m.queue = m.queue[1:]
	return msg, true
}
