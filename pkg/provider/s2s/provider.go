// Package s2s defines the Provider interface for realtime speech-to-speech
// backends.
//
// An S2S provider wraps a hosted conversational model that accepts a live
// microphone stream and answers with synthesised speech and structured tool
// calls over a single stateful session.
//
// The central abstraction is [Session]: a bidirectional link whose inbound
// side is a single ordered channel of typed [Event] values. Consumers read
// Events from one goroutine, which serialises open, message, close and error
// handling without callbacks.
//
// All implementations must be safe for concurrent use.
package s2s

import (
	"context"
	"errors"
	"fmt"
)

// ErrSessionClosed is returned by send operations on a closed session.
var ErrSessionClosed = errors.New("s2s: session closed")

// ToolDefinition declares a tool the remote model may call.
type ToolDefinition struct {
	// Name is the unique function name the model uses to call the tool.
	Name string `json:"name"`

	// Description explains to the model when to use the tool.
	Description string `json:"description"`

	// Parameters is a JSON Schema object describing the arguments.
	Parameters map[string]any `json:"parameters"`
}

// ToolCall is a single function invocation requested by the model.
type ToolCall struct {
	// ID correlates the call with its [ToolResult].
	ID string

	// Name is the requested tool name.
	Name string

	// Args holds the decoded JSON arguments.
	Args map[string]any
}

// ToolResult is the reply to a [ToolCall].
type ToolResult struct {
	// ID echoes [ToolCall.ID].
	ID string

	// Name echoes [ToolCall.Name].
	Name string

	// Response is the JSON object returned to the model.
	Response map[string]any
}

// SessionConfig is the initial configuration for a new session.
type SessionConfig struct {
	// Instructions is the persona / system instruction.
	Instructions string

	// Voice names the prebuilt voice used for synthesised speech.
	Voice string

	// Tools is the fixed set of tool declarations offered to the model.
	Tools []ToolDefinition
}

// EventType classifies inbound session events.
type EventType int

const (
	// EventOpen is emitted once when the remote side acknowledged the setup.
	EventOpen EventType = iota

	// EventMessage carries server content and/or tool calls.
	EventMessage

	// EventClose is emitted when the remote side closed the session. It is
	// terminal: the Events channel is closed right after it.
	EventClose

	// EventError is emitted when the session failed. It is terminal.
	EventError
)

// String returns the human-readable name of the event type.
func (t EventType) String() string {
	switch t {
	case EventOpen:
		return "open"
	case EventMessage:
		return "message"
	case EventClose:
		return "close"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Message is the payload of an [EventMessage].
type Message struct {
	// Audio holds the raw 16-bit PCM chunks of synthesised speech, in order.
	Audio [][]byte

	// ToolCalls lists function calls requested by the model, in order.
	ToolCalls []ToolCall

	// Interrupted is set when the model stopped its current answer because
	// the user started talking.
	Interrupted bool

	// TurnComplete marks the end of the model's turn.
	TurnComplete bool

	// InputTranscript is the model's recognition of the user's speech.
	InputTranscript string

	// OutputTranscript is the text version of the model's spoken output.
	OutputTranscript string
}

// Event is a single inbound occurrence on a [Session].
type Event struct {
	Type EventType

	// Message is set for [EventMessage].
	Message *Message

	// Code and Reason are set for [EventClose].
	Code   int
	Reason string

	// Err is set for [EventError].
	Err error
}

// String summarises the event for logs.
func (e Event) String() string {
	switch e.Type {
	case EventClose:
		return fmt.Sprintf("close(%d %s)", e.Code, e.Reason)
	case EventError:
		return fmt.Sprintf("error(%v)", e.Err)
	default:
		return e.Type.String()
	}
}

// Session represents an open speech-to-speech session.
//
// Callers must call Close when the session is no longer needed.
type Session interface {
	// Events returns the ordered stream of inbound events. Exactly one terminal
	// event ([EventClose] or [EventError]) is delivered unless the session was
	// closed locally; the channel is closed afterwards in every case.
	Events() <-chan Event

	// SendRealtimeInput transmits one chunk of 16 kHz 16-bit mono PCM.
	SendRealtimeInput(ctx context.Context, chunk []byte) error

	// SendToolResponse replies to one or more tool calls.
	SendToolResponse(ctx context.Context, results ...ToolResult) error

	// Close terminates the session. Idempotent.
	Close() error
}

// Provider is the abstraction over any S2S backend.
type Provider interface {
	// Open dials the backend and sends the session setup. The returned Session
	// emits [EventOpen] once the backend acknowledged the setup.
	Open(ctx context.Context, cfg SessionConfig) (Session, error)
}
