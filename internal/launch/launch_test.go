package launch

import (
	"context"
	"errors"
	"testing"
)

func TestURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		app, query, want string
	}{
		{"YOUTUBE", "lofi beats", "https://www.youtube.com/results?search_query=lofi+beats"},
		{"YOUTUBE", "", "https://www.youtube.com"},
		{"google", "weather berlin", "https://www.google.com/search?q=weather+berlin"},
		{"MAPS", "coffee near me", "https://www.google.com/maps/search/?api=1&query=coffee+near+me"},
		{"PHONE", "+49 (170) 123-4567", "tel:+491701234567"},
		{"SMS", "0170 1234", "sms:01701234"},
		{"WHATSAPP", "+49 170 1234", "https://wa.me/491701234"},
		{"WHATSAPP", "", "https://wa.me/"},
		{"SPOTIFY", "daft punk", "https://open.spotify.com/search/daft%20punk"},
		{"EMAIL", "tony@stark.example", "mailto:tony@stark.example"},
	}
	for _, tt := range tests {
		t.Run(tt.app+"/"+tt.query, func(t *testing.T) {
			t.Parallel()
			got, err := URL(tt.app, tt.query)
			if err != nil {
				t.Fatalf("URL: %v", err)
			}
			if got != tt.want {
				t.Errorf("URL(%q, %q) = %q, want %q", tt.app, tt.query, got, tt.want)
			}
		})
	}
}

func TestURL_UnknownApp(t *testing.T) {
	t.Parallel()
	if _, err := URL("TELEGRAM", ""); !errors.Is(err, ErrUnknownApp) {
		t.Fatalf("err = %v, want ErrUnknownApp", err)
	}
}

func TestLauncher_Open(t *testing.T) {
	t.Parallel()

	var opened []string
	l := New(WithOpener(func(u string) error {
		opened = append(opened, u)
		return nil
	}))
	u, err := l.Open(context.Background(), "GOOGLE", "go")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if u != "https://www.google.com/search?q=go" || len(opened) != 1 || opened[0] != u {
		t.Errorf("url = %q, opened = %v", u, opened)
	}

	failing := New(WithOpener(func(string) error { return errors.New("no display") }))
	if _, err := failing.Open(context.Background(), "MAPS", ""); err == nil {
		t.Error("expected opener error to surface")
	}
}
