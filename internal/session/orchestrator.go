// Package session owns the lifecycle of a conversation with the remote speech
// model: connection state, audio device acquisition, the inbound event pump
// and the hand-off of the microphone to and from the wake-phrase listener.
//
// A single [Manager] serves one assistant. At most one remote session is live
// at a time; [Manager.Connect] while connecting or connected fails with
// [ErrBusy].
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/jarvis/internal/clock"
	"github.com/MrWong99/jarvis/internal/events"
	"github.com/MrWong99/jarvis/internal/observe"
	"github.com/MrWong99/jarvis/internal/tools"
	"github.com/MrWong99/jarvis/internal/voice/capture"
	"github.com/MrWong99/jarvis/internal/voice/playback"
	"github.com/MrWong99/jarvis/internal/voice/vad"
	"github.com/MrWong99/jarvis/internal/wake"
	"github.com/MrWong99/jarvis/pkg/audio"
	"github.com/MrWong99/jarvis/pkg/provider/s2s"
)

// DefaultGracePeriod is the pause between stopping the wake listener and
// acquiring the microphone, giving the platform time to release the device.
const DefaultGracePeriod = 500 * time.Millisecond

// disconnectTimeout bounds the final Disconnect when Run returns.
const disconnectTimeout = 5 * time.Second

var (
	// ErrBusy is returned by Connect while a session is connecting or live.
	ErrBusy = errors.New("session: already connecting or connected")

	// ErrMissingCredentials is returned by Connect when the remote provider
	// has no API key configured.
	ErrMissingCredentials = errors.New("session: missing API key for the speech provider")
)

// Listener is the wake-phrase listener as seen by the manager.
// *wake.Listener satisfies it.
type Listener interface {
	Start(ctx context.Context)
	Stop()
	Matches() <-chan wake.Match
}

// Dispatcher executes tool calls. *tools.Dispatcher satisfies it.
type Dispatcher interface {
	Dispatch(ctx context.Context, calls []s2s.ToolCall) []s2s.ToolResult
	Release() error
}

var (
	_ Listener   = (*wake.Listener)(nil)
	_ Dispatcher = (*tools.Dispatcher)(nil)
)

// Config holds the required dependencies of a [Manager].
type Config struct {
	// Provider opens remote sessions.
	Provider s2s.Provider

	// APIKey is the credential of Provider. An empty key fails Connect with
	// ErrMissingCredentials before any device is touched.
	APIKey string

	// Capture and Playback create the audio contexts for each session.
	Capture  audio.CaptureFactory
	Playback audio.PlaybackFactory

	// Dispatcher executes tool calls requested by the model.
	Dispatcher Dispatcher

	// Tools are the declarations offered to the model. Defaults to
	// tools.Definitions().
	Tools []s2s.ToolDefinition
}

// Option configures a [Manager].
type Option func(*Manager)

// WithListener sets the wake-phrase listener. Without one the manager only
// connects on explicit Connect calls.
func WithListener(l Listener) Option {
	return func(m *Manager) { m.listener = l }
}

// WithPersona sets the system instruction and voice name sent at setup.
func WithPersona(instructions, voice string) Option {
	return func(m *Manager) { m.instructions, m.voice = instructions, voice }
}

// WithGracePeriod overrides [DefaultGracePeriod]. Zero disables the pause.
func WithGracePeriod(d time.Duration) Option {
	return func(m *Manager) { m.grace = d }
}

// WithDevice selects the capture device by name.
func WithDevice(name string) Option {
	return func(m *Manager) { m.device = name }
}

// WithVAD sets the voice-activity detector configuration.
func WithVAD(cfg vad.Config) Option {
	return func(m *Manager) { m.vadCfg = cfg }
}

// WithBus publishes state, log, amplitude and speaking events to bus.
func WithBus(bus *events.Bus) Option {
	return func(m *Manager) { m.bus = bus }
}

// WithMetrics records session metrics on met.
func WithMetrics(met *observe.Metrics) Option {
	return func(m *Manager) { m.metrics = met }
}

// WithClock sets the clock used for the grace period and the VAD hangover.
func WithClock(c clock.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// Info describes the live session.
type Info struct {
	ID        string    `json:"id,omitempty"`
	State     string    `json:"state"`
	StartedAt time.Time `json:"started_at,omitzero"`
}

// Manager drives the connection lifecycle. All methods are safe for
// concurrent use.
type Manager struct {
	cfg      Config
	state    *StateMachine
	listener Listener
	bus      *events.Bus
	metrics  *observe.Metrics
	clock    clock.Clock
	grace    time.Duration
	device   string
	vadCfg   vad.Config

	mu           sync.Mutex
	instructions string
	voice        string
	attempt      *attempt
	cur          *link
	listenCtx    context.Context
}

// attempt is an in-flight Connect.
type attempt struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// link holds every resource of one remote session. Fields are set in
// acquisition order and released in teardown order.
type link struct {
	id      string
	started time.Time

	capCtx   audio.CaptureContext
	playCtx  audio.PlaybackContext
	stream   audio.MediaStream
	sched    *playback.Scheduler
	sess     s2s.Session
	detector *vad.Detector
	pipeline *capture.Pipeline

	ctx      context.Context
	cancel   context.CancelFunc
	pumpDone chan struct{}

	pipeMu   sync.Mutex
	tornDown bool
	once     sync.Once
}

// New returns a Manager in [Disconnected].
func New(cfg Config, opts ...Option) *Manager {
	m := &Manager{
		cfg:       cfg,
		listener:  nopListener{},
		clock:     clock.Real{},
		grace:     DefaultGracePeriod,
		vadCfg:    vad.Config{Threshold: vad.DefaultThreshold, Hangover: vad.DefaultHangover},
		listenCtx: context.Background(),
	}
	for _, o := range opts {
		o(m)
	}
	if m.metrics == nil {
		m.metrics = observe.DefaultMetrics()
	}
	if m.cfg.Tools == nil {
		m.cfg.Tools = tools.Definitions()
	}
	if m.cfg.Dispatcher == nil {
		m.cfg.Dispatcher = tools.NewDispatcher(tools.WithBus(m.bus), tools.WithMetrics(m.metrics))
	}
	m.state = NewStateMachine(m.bus, m.metrics)
	return m
}

// State returns the state reader.
func (m *Manager) State() StateReader { return m.state }

// Info returns a snapshot of the current session.
func (m *Manager) Info() Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	info := Info{State: m.state.Current().String()}
	if m.cur != nil {
		info.ID = m.cur.id
		info.StartedAt = m.cur.started
	}
	return info
}

// SetPersona replaces the instruction and voice used by the next Connect.
func (m *Manager) SetPersona(instructions, voice string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.instructions, m.voice = instructions, voice
}

// ── Connect ──────────────────────────────────────────────────────────────────

// Connect opens a remote session. It returns once the session was dialled;
// the state reaches [Connected] when the remote side acknowledges the setup.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	st := m.state.Current()
	if m.attempt != nil || st == Connecting || st == Connected {
		m.mu.Unlock()
		return ErrBusy
	}
	if st == Error {
		if err := m.state.Transition(ctx, Disconnected); err != nil {
			m.mu.Unlock()
			return err
		}
	}
	ctx, cancel := context.WithCancel(ctx)
	att := &attempt{cancel: cancel, done: make(chan struct{})}
	m.attempt = att
	instructions, voice := m.instructions, m.voice
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		if m.attempt == att {
			m.attempt = nil
		}
		m.mu.Unlock()
		cancel()
		close(att.done)
	}()

	if m.cfg.APIKey == "" {
		_ = m.state.Transition(ctx, Connecting)
		_ = m.state.Transition(ctx, Error)
		observe.Logger(ctx).Error("session: cannot connect without an API key for the speech provider")
		m.bus.Logf(events.SourceSystem, "Connection failed: no API key configured for the speech provider")
		return ErrMissingCredentials
	}

	m.listener.Stop()
	if err := clock.Sleep(ctx, m.clock, m.grace); err != nil {
		m.resumeListener()
		return fmt.Errorf("session: connect: %w", err)
	}
	if err := m.state.Transition(ctx, Connecting); err != nil {
		m.resumeListener()
		return err
	}

	start := m.clock.Now()
	l, err := m.open(ctx, instructions, voice)
	if err != nil {
		return m.fail(ctx, err)
	}

	m.mu.Lock()
	if ctx.Err() != nil {
		m.mu.Unlock()
		m.teardown(context.WithoutCancel(ctx), l)
		return m.fail(ctx, ctx.Err())
	}
	m.cur = l
	go m.pump(l)
	m.mu.Unlock()

	m.metrics.ConnectDuration.Record(ctx, m.clock.Now().Sub(start).Seconds())
	observe.Logger(l.ctx).Info("session: remote session opened", "voice", voice)
	return nil
}

// fail handles an error during Connect after the state reached Connecting.
func (m *Manager) fail(ctx context.Context, err error) error {
	observe.Logger(ctx).Error("session: connect failed", "err", err)
	m.bus.Logf(events.SourceSystem, "Connection failed: %v", err)
	_ = m.state.Transition(ctx, Error)
	m.resumeListener()
	return err
}

// open acquires the audio contexts, the microphone and the remote session.
// On failure everything acquired so far is released.
func (m *Manager) open(ctx context.Context, instructions, voice string) (_ *link, err error) {
	l := &link{id: uuid.NewString(), started: m.clock.Now(), pumpDone: make(chan struct{})}
	l.ctx, l.cancel = context.WithCancel(observe.WithSession(context.WithoutCancel(ctx), l.id))
	defer func() {
		if err != nil {
			m.teardown(context.WithoutCancel(ctx), l)
		}
	}()

	if l.capCtx, err = m.cfg.Capture.NewCaptureContext(audio.CaptureSampleRate); err != nil {
		return l, fmt.Errorf("session: create capture context: %w", err)
	}
	if l.playCtx, err = m.cfg.Playback.NewPlaybackContext(audio.PlaybackSampleRate); err != nil {
		return l, fmt.Errorf("session: create playback context: %w", err)
	}
	if l.playCtx.State() == audio.StateSuspended {
		if err = l.playCtx.Resume(ctx); err != nil {
			return l, fmt.Errorf("session: resume playback context: %w", err)
		}
	}
	if l.stream, err = m.openMicrophone(ctx, l.capCtx); err != nil {
		return l, err
	}
	l.sched = playback.New(l.playCtx, playback.WithMetrics(m.metrics))

	l.sess, err = m.cfg.Provider.Open(ctx, s2s.SessionConfig{
		Instructions: instructions,
		Voice:        voice,
		Tools:        m.cfg.Tools,
	})
	if err != nil {
		m.metrics.RecordProviderError(ctx, "s2s", "open")
		return l, fmt.Errorf("session: open remote session: %w", err)
	}
	return l, nil
}

// openMicrophone requests the processed stream and falls back to a bare one
// when the device rejects the processing constraints.
func (m *Manager) openMicrophone(ctx context.Context, cc audio.CaptureContext) (audio.MediaStream, error) {
	want := audio.Constraints{
		NoiseSuppression: true,
		EchoCancellation: true,
		AutoGainControl:  true,
		Device:           m.device,
	}
	stream, err := cc.OpenMicrophone(ctx, want)
	var cerr *audio.ConstraintError
	if errors.As(err, &cerr) {
		observe.Logger(ctx).Warn("session: microphone rejected processing constraints, retrying without them",
			"rejected", cerr.Unsupported)
		m.bus.Logf(events.SourceSystem, "Microphone does not support %v; using raw input", cerr.Unsupported)
		stream, err = cc.OpenMicrophone(ctx, want.Bare())
	}
	if err != nil {
		return nil, fmt.Errorf("session: open microphone: %w", err)
	}
	return stream, nil
}

// ── Event pump ───────────────────────────────────────────────────────────────

// pump consumes the session's events until the channel closes.
func (m *Manager) pump(l *link) {
	defer close(l.pumpDone)
	log := observe.Logger(l.ctx)
	for ev := range l.sess.Events() {
		switch ev.Type {
		case s2s.EventOpen:
			m.onOpen(l)
		case s2s.EventMessage:
			if ev.Message != nil {
				m.onMessage(l, ev.Message)
			}
		case s2s.EventClose:
			log.Info("session: remote closed", "code", ev.Code, "reason", ev.Reason)
			m.finish(l, Disconnected, fmt.Sprintf("Connection closed (%d %s)", ev.Code, ev.Reason))
		case s2s.EventError:
			log.Error("session: remote error", "err", ev.Err)
			m.metrics.RecordProviderError(l.ctx, "s2s", "stream")
			m.finish(l, Error, fmt.Sprintf("Connection error: %v", ev.Err))
		}
	}
}

// onOpen marks the session live and starts streaming the microphone.
func (m *Manager) onOpen(l *link) {
	m.mu.Lock()
	live := m.cur == l
	m.mu.Unlock()
	if !live {
		return
	}
	if err := m.state.Transition(l.ctx, Connected); err != nil {
		observe.Logger(l.ctx).Warn("session: open in unexpected state", "err", err)
		return
	}
	m.metrics.ActiveSessions.Add(l.ctx, 1)
	m.bus.Logf(events.SourceSystem, "Connected")

	l.pipeMu.Lock()
	defer l.pipeMu.Unlock()
	if l.tornDown {
		return
	}
	l.detector = vad.New(m.vadCfg,
		vad.WithClock(m.clock),
		vad.WithBus(m.bus),
		vad.WithMetrics(m.metrics),
	)
	l.pipeline = capture.Start(l.stream, l.sess,
		capture.WithVAD(l.detector),
		capture.WithBus(m.bus),
		capture.WithMetrics(m.metrics),
	)
}

// onMessage routes server content to playback, the dispatcher and the log.
func (m *Manager) onMessage(l *link, msg *s2s.Message) {
	log := observe.Logger(l.ctx)

	if msg.Interrupted {
		l.sched.Interrupt()
	}
	for _, chunk := range msg.Audio {
		if _, err := l.sched.Enqueue(chunk); err != nil {
			log.Warn("session: drop audio chunk", "err", err)
		}
	}
	if msg.InputTranscript != "" {
		m.bus.Logf(events.SourceUser, "%s", msg.InputTranscript)
	}
	if msg.OutputTranscript != "" {
		m.bus.Logf(events.SourceAssistant, "%s", msg.OutputTranscript)
	}

	if len(msg.ToolCalls) == 0 {
		return
	}
	results := m.cfg.Dispatcher.Dispatch(l.ctx, msg.ToolCalls)
	if len(results) == 0 {
		return
	}
	log.Debug("session: tool results", "results", tools.Results(results))
	if err := l.sess.SendToolResponse(l.ctx, results...); err != nil {
		log.Warn("session: send tool response", "err", err)
	}
}

// finish tears down l after a terminal event and moves to the given state.
func (m *Manager) finish(l *link, to State, reason string) {
	m.mu.Lock()
	if m.cur != l {
		m.mu.Unlock()
		return
	}
	m.cur = nil
	m.mu.Unlock()

	ctx := context.WithoutCancel(l.ctx)
	wasConnected := m.state.Current() == Connected
	m.teardown(ctx, l)
	if wasConnected {
		m.metrics.ActiveSessions.Add(ctx, -1)
	}
	// A close before the open acknowledgement counts as an error.
	if to == Disconnected && !wasConnected {
		to = Error
	}
	if err := m.state.Transition(ctx, to); err != nil {
		observe.Logger(ctx).Warn("session: terminal transition", "err", err)
	}
	m.bus.Logf(events.SourceSystem, "%s", reason)
	m.resumeListener()
}

// ── Disconnect ───────────────────────────────────────────────────────────────

// Disconnect stops any in-flight Connect, releases every resource and returns
// the state to [Disconnected]. It is safe to call in any state and repeatedly.
func (m *Manager) Disconnect(ctx context.Context) error {
	m.listener.Stop()

	m.mu.Lock()
	att := m.attempt
	m.mu.Unlock()
	if att != nil {
		att.cancel()
		<-att.done
	}

	m.mu.Lock()
	l := m.cur
	m.cur = nil
	m.mu.Unlock()

	if l != nil {
		m.teardown(ctx, l)
		<-l.pumpDone
		if m.state.Current() == Connected {
			m.metrics.ActiveSessions.Add(ctx, -1)
		}
		observe.Logger(observe.WithSession(ctx, l.id)).Info("session: disconnected")
		m.bus.Logf(events.SourceSystem, "Disconnected")
	}

	// A dialled session that never opened is aborted through Error.
	if m.state.Current() == Connecting {
		_ = m.state.Transition(ctx, Error)
	}
	if err := m.state.Transition(ctx, Disconnected); err != nil {
		observe.Logger(ctx).Warn("session: disconnect transition", "err", err)
	}
	m.resumeListener()
	return nil
}

// teardown releases the resources of l in order: capture and VAD, media
// tracks, playback, audio contexts, remote session. Idempotent.
func (m *Manager) teardown(ctx context.Context, l *link) {
	l.once.Do(func() {
		log := observe.Logger(observe.WithSession(ctx, l.id))

		l.pipeMu.Lock()
		l.tornDown = true
		pipeline, detector := l.pipeline, l.detector
		l.pipeMu.Unlock()
		if pipeline != nil {
			pipeline.Stop()
		}
		if detector != nil {
			detector.Reset()
		}

		if l.stream != nil {
			if err := l.stream.Close(); err != nil {
				log.Warn("session: close microphone", "err", err)
			}
		}
		if m.cfg.Dispatcher != nil {
			if err := m.cfg.Dispatcher.Release(); err != nil {
				log.Warn("session: release tool devices", "err", err)
			}
		}

		if l.sched != nil {
			l.sched.Close()
		}

		if l.playCtx != nil {
			if err := l.playCtx.Close(); err != nil {
				log.Warn("session: close playback context", "err", err)
			}
		}
		if l.capCtx != nil {
			if err := l.capCtx.Close(); err != nil {
				log.Warn("session: close capture context", "err", err)
			}
		}

		if l.sess != nil {
			if err := l.sess.Close(); err != nil {
				log.Warn("session: close remote session", "err", err)
			}
		}
		l.cancel()
	})
}

// ── Run ──────────────────────────────────────────────────────────────────────

// Run starts the wake listener and connects on every match until ctx ends.
// It then disconnects and stops the listener.
func (m *Manager) Run(ctx context.Context) error {
	m.mu.Lock()
	m.listenCtx = ctx
	m.mu.Unlock()

	m.listener.Start(ctx)
	matches := m.listener.Matches()
	for {
		select {
		case <-ctx.Done():
			dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), disconnectTimeout)
			_ = m.Disconnect(dctx)
			cancel()
			m.listener.Stop()
			return nil
		case match := <-matches:
			log := observe.Logger(ctx)
			if st := m.state.Current(); st == Connecting || st == Connected {
				log.Debug("session: ignoring wake match while busy", "phrase", match.Phrase)
				continue
			}
			log.Info("session: wake phrase detected", "phrase", match.Phrase, "method", match.Method)
			if err := m.Connect(ctx); err != nil && !errors.Is(err, ErrBusy) {
				log.Warn("session: wake connect failed", "err", err)
			}
		}
	}
}

// resumeListener restarts the wake listener unless Run has ended.
func (m *Manager) resumeListener() {
	m.mu.Lock()
	ctx := m.listenCtx
	m.mu.Unlock()
	if ctx.Err() != nil {
		return
	}
	m.listener.Start(ctx)
}

// nopListener is used when no wake listener is configured.
type nopListener struct{}

func (nopListener) Start(context.Context)      {}
func (nopListener) Stop()                      {}
func (nopListener) Matches() <-chan wake.Match { return nil }
