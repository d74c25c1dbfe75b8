// Package events is the outbound surface consumed by the presentation layer:
// connection state changes, tagged log lines, partial system status, microphone
// amplitude samples and speaking transitions.
//
// Events are fanned out to any number of channel subscriptions by [Bus].
// Delivery to a subscriber never blocks the publisher: when a subscriber's
// buffer is full the event is dropped for that subscriber and counted.
package events

import (
	"encoding/json"
	"fmt"
	"time"
)

// Type identifies the payload carried by an [Event].
type Type string

const (
	TypeState     Type = "state"
	TypeLog       Type = "log"
	TypeStatus    Type = "status"
	TypeAmplitude Type = "amplitude"
	TypeSpeaking  Type = "speaking"
)

// Source tags the origin of a [Log] line.
type Source string

const (
	SourceSystem    Source = "system"
	SourceUser      Source = "user"
	SourceAssistant Source = "assistant"
	SourceTool      Source = "tool"
	SourceWake      Source = "wake"
)

// Event is a single published occurrence.
type Event struct {
	Type Type      `json:"type"`
	Time time.Time `json:"time"`
	Data any       `json:"data"`
}

// StateChanged reports a connection state transition.
type StateChanged struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Log is a human-readable line for the on-screen log.
type Log struct {
	Source Source `json:"source"`
	Text   string `json:"text"`
}

// Status is a partial system status update. Only non-zero fields are meant
// to be applied by the consumer.
type Status struct {
	Theme      string   `json:"theme,omitempty"`
	CPU        *float64 `json:"cpu,omitempty"`
	Memory     *float64 `json:"memory,omitempty"`
	Goroutines int      `json:"goroutines,omitempty"`
	Uptime     string   `json:"uptime,omitempty"`
	Platform   string   `json:"platform,omitempty"`
	Flashlight string   `json:"flashlight,omitempty"`
}

// Amplitude carries visualisation samples in [0, 255].
type Amplitude struct {
	Values []uint8 `json:"-"`
}

// MarshalJSON encodes Values as a number array rather than base64.
func (a Amplitude) MarshalJSON() ([]byte, error) {
	ints := make([]int, len(a.Values))
	for i, v := range a.Values {
		ints[i] = int(v)
	}
	return json.Marshal(struct {
		Values []int `json:"values"`
	}{ints})
}

// Speaking reports a voice-activity transition.
type Speaking struct {
	Speaking bool `json:"speaking"`
}

// Logf is a convenience for publishing a formatted [Log] line.
func (b *Bus) Logf(src Source, format string, args ...any) {
	b.Publish(TypeLog, Log{Source: src, Text: fmt.Sprintf(format, args...)})
}
