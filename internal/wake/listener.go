// Package wake implements the passive wake-phrase listener: a restartable
// recognition loop that watches for activation phrases while no session is
// connected.
//
// The listener never connects anything itself. Matches are published on
// [Listener.Matches] and the session orchestrator decides what to do with
// them. Recognition-engine errors are expected (network blips, device
// hiccups) and are only counted; recovery is the [Restarter].
package wake

import (
	"context"
	"log/slog"
	"sync"

	"github.com/cenkalti/backoff/v5"

	"github.com/MrWong99/jarvis/internal/clock"
	"github.com/MrWong99/jarvis/internal/events"
	"github.com/MrWong99/jarvis/internal/observe"
)

// Match is one activation phrase detection.
type Match struct {
	// Phrase is the normalised activation phrase that matched.
	Phrase string
	// Utterance is the recognised text it matched in.
	Utterance string
	// Method is [MethodContains] or [MethodPhonetic].
	Method string
}

// Option configures a [Listener].
type Option func(*Listener)

// WithMatcher replaces the default matcher.
func WithMatcher(m *Matcher) Option {
	return func(l *Listener) { l.matcher = m }
}

// WithIdle sets the predicate that reports whether the connection is idle.
// Restarts only happen while it returns true. Defaults to always idle.
func WithIdle(idle func() bool) Option {
	return func(l *Listener) { l.idle = idle }
}

// WithBus publishes detections as log events.
func WithBus(bus *events.Bus) Option {
	return func(l *Listener) { l.bus = bus }
}

// WithMetrics records matches, restarts and swallowed engine errors on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(l *Listener) { l.metrics = m }
}

// WithClock sets the clock used for restart delays.
func WithClock(c clock.Clock) Option {
	return func(l *Listener) { l.clock = c }
}

// WithRestartPolicy sets the restart delay policy.
func WithRestartPolicy(b backoff.BackOff) Option {
	return func(l *Listener) { l.policy = b }
}

// Listener runs the passive recognition loop. Start and Stop are idempotent
// and safe for concurrent use.
type Listener struct {
	rec       Recognizer
	matcher   *Matcher
	idle      func() bool
	bus       *events.Bus
	metrics   *observe.Metrics
	clock     clock.Clock
	policy    backoff.BackOff
	restarter *Restarter
	matches   chan Match

	// opMu serialises opening a recognition session against Stop so that
	// Stop returns only after the microphone is released.
	opMu sync.Mutex

	mu     sync.Mutex
	active bool
	ctx    context.Context
	cancel context.CancelFunc
	cur    *session
}

// session is one running recognition.
type session struct {
	rec  Recognition
	done chan struct{}
}

// NewListener returns a stopped Listener over rec.
func NewListener(rec Recognizer, opts ...Option) *Listener {
	l := &Listener{
		rec:     rec,
		idle:    func() bool { return true },
		clock:   clock.Real{},
		matches: make(chan Match, 1),
	}
	for _, o := range opts {
		o(l)
	}
	if l.matcher == nil {
		l.matcher = NewMatcher(nil)
	}
	if l.metrics == nil {
		l.metrics = observe.DefaultMetrics()
	}
	ropts := []RestarterOption{WithRestartClock(l.clock)}
	if l.policy != nil {
		ropts = append(ropts, WithBackOff(l.policy))
	}
	l.restarter = NewRestarter(l.restart, l.canRestart, ropts...)
	return l
}

// Matches delivers detections. The channel holds one pending match; further
// matches are coalesced until it is drained.
func (l *Listener) Matches() <-chan Match { return l.matches }

// SetPhrases swaps the activation set.
func (l *Listener) SetPhrases(phrases []string) { l.matcher.SetPhrases(phrases) }

// Active reports whether the listener is started.
func (l *Listener) Active() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active
}

// Start activates the listener and opens a recognition session. A failure to
// open is swallowed and retried by the restarter. On an active listener Start
// only reopens a session if none is running.
func (l *Listener) Start(ctx context.Context) {
	l.mu.Lock()
	started := !l.active
	if started {
		l.active = true
		l.ctx, l.cancel = context.WithCancel(context.WithoutCancel(ctx))
	}
	l.mu.Unlock()

	if started {
		l.restarter.Reset()
	}
	l.open(false)
}

// Stop deactivates the listener, cancels any pending restart and closes the
// running session. It returns once the microphone is released. Calling Stop
// on a stopped listener does nothing.
func (l *Listener) Stop() {
	l.mu.Lock()
	if !l.active {
		l.mu.Unlock()
		return
	}
	l.active = false
	l.cancel()
	l.mu.Unlock()

	l.restarter.Cancel()

	l.opMu.Lock()
	defer l.opMu.Unlock()
	l.mu.Lock()
	s := l.cur
	l.cur = nil
	l.mu.Unlock()
	if s != nil {
		_ = s.rec.Close()
		<-s.done
	}
}

// canRestart is the restarter guard.
func (l *Listener) canRestart() bool {
	return l.Active() && l.idle()
}

func (l *Listener) restart() { l.open(true) }

// open starts a recognition session unless the listener was stopped or one
// is already running.
func (l *Listener) open(restart bool) {
	l.opMu.Lock()
	defer l.opMu.Unlock()

	l.mu.Lock()
	if !l.active || l.cur != nil {
		l.mu.Unlock()
		return
	}
	ctx := l.ctx
	l.mu.Unlock()

	if restart {
		l.metrics.WakeRestarts.Add(ctx, 1)
	}
	rec, err := l.rec.Recognize(ctx)
	if err != nil {
		l.recognitionError(ctx, err)
		l.restarter.Schedule()
		return
	}

	s := &session{rec: rec, done: make(chan struct{})}
	l.mu.Lock()
	l.cur = s
	l.mu.Unlock()
	go l.watch(ctx, s)
}

// watch consumes one session's results and schedules a restart when the
// engine stops on its own.
func (l *Listener) watch(ctx context.Context, s *session) {
	defer close(s.done)

	heard := false
	for text := range s.rec.Results() {
		heard = true
		slog.Debug("wake: recognised utterance", "text", text)
		phrase, method, ok := l.matcher.Match(text)
		if !ok {
			continue
		}
		l.metrics.RecordWakeMatch(ctx, method)
		l.bus.Logf(events.SourceWake, "Wake phrase detected: %q", phrase)
		select {
		case l.matches <- Match{Phrase: phrase, Utterance: text, Method: method}:
		default:
		}
	}

	l.mu.Lock()
	owned := l.cur == s
	if owned {
		l.cur = nil
	}
	l.mu.Unlock()
	if !owned {
		// Stopped by Stop.
		return
	}

	if err := s.rec.Err(); err != nil {
		l.recognitionError(ctx, err)
	} else if heard {
		l.restarter.Reset()
	}
	l.restarter.Schedule()
}

func (l *Listener) recognitionError(ctx context.Context, err error) {
	l.metrics.RecognitionErrors.Add(ctx, 1)
	slog.Debug("wake: recognition engine error", "err", err)
}
