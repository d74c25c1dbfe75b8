// Package launch opens external apps for the open-app tool by turning an app
// name and optional query into a URL or intent and handing it to the
// platform's URL opener.
package launch

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/pkg/browser"
)

// App names accepted by the open-app tool.
const (
	YouTube  = "YOUTUBE"
	Google   = "GOOGLE"
	Maps     = "MAPS"
	Phone    = "PHONE"
	SMS      = "SMS"
	WhatsApp = "WHATSAPP"
	Spotify  = "SPOTIFY"
	Email    = "EMAIL"
)

// Apps lists every supported app name in declaration order.
var Apps = []string{YouTube, Google, Maps, Phone, SMS, WhatsApp, Spotify, Email}

// ErrUnknownApp is returned for app names outside [Apps].
var ErrUnknownApp = errors.New("launch: unknown app")

// URL builds the launch target for app. query is optional; for PHONE, SMS and
// WHATSAPP it is the recipient number, for EMAIL the recipient address.
func URL(app, query string) (string, error) {
	q := strings.TrimSpace(query)
	esc := url.QueryEscape(q)
	switch strings.ToUpper(app) {
	case YouTube:
		if q == "" {
			return "https://www.youtube.com", nil
		}
		return "https://www.youtube.com/results?search_query=" + esc, nil
	case Google:
		if q == "" {
			return "https://www.google.com", nil
		}
		return "https://www.google.com/search?q=" + esc, nil
	case Maps:
		if q == "" {
			return "https://www.google.com/maps", nil
		}
		return "https://www.google.com/maps/search/?api=1&query=" + esc, nil
	case Phone:
		return "tel:" + digits(q), nil
	case SMS:
		return "sms:" + digits(q), nil
	case WhatsApp:
		if n := strings.TrimPrefix(digits(q), "+"); n != "" {
			return "https://wa.me/" + n, nil
		}
		return "https://wa.me/", nil
	case Spotify:
		if q == "" {
			return "https://open.spotify.com", nil
		}
		return "https://open.spotify.com/search/" + url.PathEscape(q), nil
	case Email:
		return "mailto:" + q, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownApp, app)
	}
}

// digits keeps a leading plus and the digits of a phone number.
func digits(s string) string {
	var b strings.Builder
	for i, r := range s {
		if (r >= '0' && r <= '9') || (r == '+' && i == 0) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Opener hands a URL to the platform.
type Opener func(url string) error

// Launcher opens apps. The zero value is not usable; call [New].
type Launcher struct {
	open Opener
}

// Option configures a [Launcher].
type Option func(*Launcher)

// WithOpener replaces the platform URL opener.
func WithOpener(o Opener) Option {
	return func(l *Launcher) { l.open = o }
}

// New returns a Launcher using github.com/pkg/browser.
func New(opts ...Option) *Launcher {
	l := &Launcher{open: browser.OpenURL}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Open builds the URL for app and opens it. It returns the URL it opened.
func (l *Launcher) Open(ctx context.Context, app, query string) (string, error) {
	u, err := URL(app, query)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := l.open(u); err != nil {
		return u, fmt.Errorf("launch: open %s: %w", u, err)
	}
	return u, nil
}
