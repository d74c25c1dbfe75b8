// Package mock provides test doubles for the s2s package interfaces.
//
// Use Provider to verify Open calls and hand out controlled sessions. Use
// Session to inject inbound events and inspect what the code under test sent.
//
// Example:
//
//	sess := mock.NewSession()
//	p := &mock.Provider{Session: sess}
//	// ... code under test calls p.Open ...
//	sess.Emit(s2s.Event{Type: s2s.EventOpen})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/jarvis/pkg/provider/s2s"
)

var (
	_ s2s.Provider = (*Provider)(nil)
	_ s2s.Session  = (*Session)(nil)
)

// OpenCall records a single invocation of Provider.Open.
type OpenCall struct {
	// Ctx is the context passed to Open.
	Ctx context.Context
	// Cfg is the SessionConfig passed to Open.
	Cfg s2s.SessionConfig
}

// Provider is a mock implementation of s2s.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is returned by Open. If nil, Open returns a new Session.
	Session *Session

	// OpenErr, if non-nil, is returned as the error from Open.
	OpenErr error

	// BlockUntilCancel makes Open wait for its context to be cancelled and
	// return the context error, simulating a hanging dial.
	BlockUntilCancel bool

	// OpenCalls records every call to Open in order.
	OpenCalls []OpenCall

	// Sessions records every session handed out.
	Sessions []*Session
}

// Open records the call and returns Session, OpenErr.
func (p *Provider) Open(ctx context.Context, cfg s2s.SessionConfig) (s2s.Session, error) {
	p.mu.Lock()
	p.OpenCalls = append(p.OpenCalls, OpenCall{Ctx: ctx, Cfg: cfg})
	block := p.BlockUntilCancel
	openErr := p.OpenErr
	p.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if openErr != nil {
		return nil, openErr
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	sess := p.Session
	if sess == nil {
		sess = NewSession()
	}
	p.Sessions = append(p.Sessions, sess)
	return sess, nil
}

// Calls returns a copy of OpenCalls.
func (p *Provider) Calls() []OpenCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]OpenCall(nil), p.OpenCalls...)
}

// LastSession returns the most recently opened session, or nil.
func (p *Provider) LastSession() *Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Sessions) == 0 {
		return nil
	}
	return p.Sessions[len(p.Sessions)-1]
}

// Session is a mock implementation of s2s.Session.
type Session struct {
	mu     sync.Mutex
	events chan s2s.Event
	closed bool

	// SendErr, if non-nil, is returned by SendRealtimeInput.
	SendErr error

	// ToolResponseErr, if non-nil, is returned by SendToolResponse.
	ToolResponseErr error

	// Chunks records every chunk passed to SendRealtimeInput.
	Chunks [][]byte

	// ToolResponses records every SendToolResponse call.
	ToolResponses [][]s2s.ToolResult

	// CloseCalls counts Close invocations.
	CloseCalls int

	sent chan struct{}
}

// NewSession returns a Session with a buffered event channel.
func NewSession() *Session {
	return &Session{
		events: make(chan s2s.Event, 64),
		sent:   make(chan struct{}, 1024),
	}
}

// Emit injects an inbound event. Terminal events close the channel, as the
// real implementation does. Emit after Close is a no-op.
func (s *Session) Emit(ev s2s.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.events <- ev
	if ev.Type == s2s.EventClose || ev.Type == s2s.EventError {
		s.closed = true
		close(s.events)
	}
}

// Events implements s2s.Session.
func (s *Session) Events() <-chan s2s.Event { return s.events }

// SendRealtimeInput records the chunk.
func (s *Session) SendRealtimeInput(_ context.Context, chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SendErr != nil {
		return s.SendErr
	}
	if s.closed {
		return s2s.ErrSessionClosed
	}
	s.Chunks = append(s.Chunks, chunk)
	select {
	case s.sent <- struct{}{}:
	default:
	}
	return nil
}

// Sent is signalled after every successfully recorded chunk.
func (s *Session) Sent() <-chan struct{} { return s.sent }

// SendToolResponse records the results.
func (s *Session) SendToolResponse(_ context.Context, results ...s2s.ToolResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ToolResponses = append(s.ToolResponses, results)
	return s.ToolResponseErr
}

// Close records the call and closes the event channel. Idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCalls++
	if !s.closed {
		s.closed = true
		close(s.events)
	}
	return nil
}

// ChunkCount returns the number of recorded chunks.
func (s *Session) ChunkCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Chunks)
}

// Responses returns a copy of ToolResponses.
func (s *Session) Responses() [][]s2s.ToolResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]s2s.ToolResult(nil), s.ToolResponses...)
}

// Closed reports whether Close was called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CloseCalls > 0
}

// LastChunk returns the most recently recorded chunk, or nil.
func (s *Session) LastChunk() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.Chunks) == 0 {
		return nil
	}
	return s.Chunks[len(s.Chunks)-1]
}
