// Package mock provides test doubles for the stt package interfaces.
//
// Use Provider to verify that the caller starts streams with the expected
// StreamConfig. Use Stream to feed controlled transcripts, end the stream
// with an engine error and inspect which audio chunks were delivered.
//
// Example:
//
//	p := &mock.Provider{}
//	s, _ := p.StartStream(ctx, cfg)
//	p.LastStream().Emit("hello jarvis")
//	p.LastStream().End(errors.New("network"))
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/jarvis/pkg/provider/stt"
)

var (
	_ stt.Provider = (*Provider)(nil)
	_ stt.Stream   = (*Stream)(nil)
)

// StartStreamCall records a single invocation of Provider.StartStream.
type StartStreamCall struct {
	// Ctx is the context passed to StartStream.
	Ctx context.Context
	// Cfg is the StreamConfig passed to StartStream.
	Cfg stt.StreamConfig
}

// Provider is a mock implementation of stt.Provider. Every successful
// StartStream returns a fresh Stream.
type Provider struct {
	mu sync.Mutex

	// StartStreamErr, if non-nil, is returned as the error from StartStream.
	StartStreamErr error

	// StartStreamCalls records every call to StartStream.
	StartStreamCalls []StartStreamCall

	// Streams records every stream handed out.
	Streams []*Stream

	started chan *Stream
}

// StartStream records the call and returns a new Stream or StartStreamErr.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.Stream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartStreamCalls = append(p.StartStreamCalls, StartStreamCall{Ctx: ctx, Cfg: cfg})
	if p.StartStreamErr != nil {
		return nil, p.StartStreamErr
	}
	s := NewStream()
	p.Streams = append(p.Streams, s)
	if p.started != nil {
		select {
		case p.started <- s:
		default:
		}
	}
	return s, nil
}

// Started returns a channel that receives every stream handed out after the
// first call to Started.
func (p *Provider) Started() <-chan *Stream {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started == nil {
		p.started = make(chan *Stream, 16)
	}
	return p.started
}

// Calls returns a copy of StartStreamCalls. Thread-safe.
func (p *Provider) Calls() []StartStreamCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]StartStreamCall(nil), p.StartStreamCalls...)
}

// LastStream returns the most recent stream, or nil.
func (p *Provider) LastStream() *Stream {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Streams) == 0 {
		return nil
	}
	return p.Streams[len(p.Streams)-1]
}

// Stream is a mock implementation of stt.Stream.
type Stream struct {
	mu      sync.Mutex
	results chan stt.Transcript
	ended   bool
	err     error

	// SendAudioErr, if non-nil, is returned by every SendAudio call.
	SendAudioErr error

	// Chunks records a copy of every chunk passed to SendAudio.
	Chunks [][]byte

	// CloseCalls counts Close invocations.
	CloseCalls int
}

// NewStream returns an open Stream.
func NewStream() *Stream {
	return &Stream{results: make(chan stt.Transcript, 16)}
}

// Emit delivers a final transcript. No-op after the stream ended.
func (s *Stream) Emit(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.results <- stt.Transcript{Text: text}
}

// End finishes the stream as if the engine stopped with err.
func (s *Stream) End(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endLocked(err)
}

func (s *Stream) endLocked(err error) {
	if s.ended {
		return
	}
	s.ended = true
	s.err = err
	close(s.results)
}

// SendAudio records the chunk.
func (s *Stream) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SendAudioErr != nil {
		return s.SendAudioErr
	}
	if s.ended {
		return stt.ErrStreamClosed
	}
	s.Chunks = append(s.Chunks, append([]byte(nil), chunk...))
	return nil
}

// Results implements stt.Stream.
func (s *Stream) Results() <-chan stt.Transcript { return s.results }

// Err implements stt.Stream.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close records the call and ends the stream cleanly.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCalls++
	s.endLocked(nil)
	return nil
}

// Closed reports whether Close was called.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CloseCalls > 0
}

// ChunkCount returns the number of recorded chunks.
func (s *Stream) ChunkCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Chunks)
}
