// Package notify delivers user notifications for the send-notification tool.
//
// A [Notifier] is permission-gated: callers check [Notifier.Permission] before
// [Notifier.Notify], and a denied permission is reported to the model rather
// than treated as a failure.
package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/MrWong99/jarvis/internal/resilience"
)

// ErrPermissionDenied is returned by Notify when the backend is not allowed to
// deliver notifications.
var ErrPermissionDenied = errors.New("notify: permission denied")

// Notification is a single user-facing message.
type Notification struct {
	Title string
	Body  string
}

// Notifier delivers notifications. Implementations must be safe for
// concurrent use.
type Notifier interface {
	// Permission reports whether notifications may currently be delivered.
	Permission(ctx context.Context) bool

	// Notify delivers n. It returns [ErrPermissionDenied] when Permission
	// would report false.
	Notify(ctx context.Context, n Notification) error
}

// ── Console ─────────────────────────────────────────────────────────────────

// Console writes notifications to a terminal and the structured log.
type Console struct {
	mu      sync.Mutex
	w       io.Writer
	allowed bool
	now     func() time.Time
}

var _ Notifier = (*Console)(nil)

// ConsoleOption configures a [Console].
type ConsoleOption func(*Console)

// WithWriter redirects output. Default: os.Stdout.
func WithWriter(w io.Writer) ConsoleOption {
	return func(c *Console) { c.w = w }
}

// WithAllowed sets the permission answer. Default: true.
func WithAllowed(allowed bool) ConsoleOption {
	return func(c *Console) { c.allowed = allowed }
}

// NewConsole returns a Console notifier.
func NewConsole(opts ...ConsoleOption) *Console {
	c := &Console{w: os.Stdout, allowed: true, now: time.Now}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Permission implements [Notifier].
func (c *Console) Permission(context.Context) bool { return c.allowed }

// Notify implements [Notifier].
func (c *Console) Notify(ctx context.Context, n Notification) error {
	if !c.allowed {
		return ErrPermissionDenied
	}
	c.mu.Lock()
	_, err := fmt.Fprintf(c.w, "[%s] %s: %s\n", c.now().Format(time.Kitchen), n.Title, n.Body)
	c.mu.Unlock()
	if err != nil {
		return fmt.Errorf("notify: console: %w", err)
	}
	slog.InfoContext(ctx, "notification delivered", "backend", "console", "title", n.Title)
	return nil
}

// ── Breaker ─────────────────────────────────────────────────────────────────

// Guarded wraps a Notifier with a circuit breaker so a failing backend is
// skipped quickly instead of stalling every tool call. Permission denials do
// not count as failures.
type Guarded struct {
	next Notifier
	cb   *resilience.CircuitBreaker
}

var _ Notifier = (*Guarded)(nil)

// NewGuarded wraps next.
func NewGuarded(next Notifier, cfg resilience.CircuitBreakerConfig) *Guarded {
	if cfg.Name == "" {
		cfg.Name = "notify"
	}
	return &Guarded{next: next, cb: resilience.NewCircuitBreaker(cfg)}
}

// Permission implements [Notifier].
func (g *Guarded) Permission(ctx context.Context) bool { return g.next.Permission(ctx) }

// Notify implements [Notifier].
func (g *Guarded) Notify(ctx context.Context, n Notification) error {
	var denied error
	err := g.cb.Execute(func() error {
		err := g.next.Notify(ctx, n)
		if errors.Is(err, ErrPermissionDenied) {
			denied = err
			return nil
		}
		return err
	})
	if denied != nil {
		return denied
	}
	return err
}

// Breaker exposes the underlying circuit breaker state for health checks.
func (g *Guarded) Breaker() resilience.State { return g.cb.State() }
