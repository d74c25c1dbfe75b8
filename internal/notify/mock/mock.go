// Package mock provides test doubles for notification delivery.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/jarvis/internal/notify"
)

// Notifier records delivered notifications.
type Notifier struct {
	mu sync.Mutex

	// Denied makes Permission report false and Notify return
	// [notify.ErrPermissionDenied].
	Denied bool

	// NotifyErr is returned by Notify when non-nil.
	NotifyErr error

	// Sent records every notification passed to Notify that was accepted.
	Sent []notify.Notification
}

var _ notify.Notifier = (*Notifier)(nil)

// Permission implements [notify.Notifier].
func (n *Notifier) Permission(context.Context) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return !n.Denied
}

// Notify implements [notify.Notifier].
func (n *Notifier) Notify(_ context.Context, msg notify.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.Denied {
		return notify.ErrPermissionDenied
	}
	if n.NotifyErr != nil {
		return n.NotifyErr
	}
	n.Sent = append(n.Sent, msg)
	return nil
}

// Delivered returns a copy of the recorded notifications.
func (n *Notifier) Delivered() []notify.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]notify.Notification, len(n.Sent))
	copy(out, n.Sent)
	return out
}
