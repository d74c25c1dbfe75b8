package notify

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/jarvis/internal/resilience"
)

func TestConsole_Notify(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	c := NewConsole(WithWriter(&buf))
	c.now = func() time.Time { return time.Date(2026, 1, 2, 15, 4, 0, 0, time.UTC) }

	if !c.Permission(context.Background()) {
		t.Fatal("Permission = false, want true")
	}
	if err := c.Notify(context.Background(), Notification{Title: "Reminder", Body: "Suit up"}); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if got, want := buf.String(), "[3:04PM] Reminder: Suit up\n"; got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestConsole_Denied(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	c := NewConsole(WithWriter(&buf), WithAllowed(false))
	if c.Permission(context.Background()) {
		t.Error("Permission = true, want false")
	}
	if err := c.Notify(context.Background(), Notification{Title: "x"}); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("err = %v, want ErrPermissionDenied", err)
	}
	if buf.Len() != 0 {
		t.Errorf("wrote %q while denied", buf.String())
	}
}

// fakeSender records embeds posted to channels.
type fakeSender struct {
	channels []string
	embeds   []*discordgo.MessageEmbed
	err      error
}

func (f *fakeSender) ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.channels = append(f.channels, channelID)
	f.embeds = append(f.embeds, embed)
	if f.err != nil {
		return nil, f.err
	}
	return &discordgo.Message{ID: "m1", ChannelID: channelID}, nil
}

func TestDiscord_Notify(t *testing.T) {
	t.Parallel()

	s := &fakeSender{}
	d := NewDiscordWithSender(s, "chan-1")
	if err := d.Notify(context.Background(), Notification{Title: "Alert", Body: "Armor at 10%"}); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(s.embeds) != 1 || s.channels[0] != "chan-1" {
		t.Fatalf("sent %d embeds to %v", len(s.embeds), s.channels)
	}
	e := s.embeds[0]
	if e.Title != "Alert" || e.Description != "Armor at 10%" || e.Color != embedColor {
		t.Errorf("embed = %+v", e)
	}
}

func TestDiscord_Errors(t *testing.T) {
	t.Parallel()

	if _, err := NewDiscord("", "c"); err == nil {
		t.Error("expected error for missing token")
	}
	if _, err := NewDiscord("tok", ""); err == nil {
		t.Error("expected error for missing channel")
	}

	noChannel := NewDiscordWithSender(&fakeSender{}, "")
	if err := noChannel.Notify(context.Background(), Notification{}); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("err = %v, want ErrPermissionDenied", err)
	}

	failing := NewDiscordWithSender(&fakeSender{err: errors.New("HTTP 403")}, "c")
	if err := failing.Notify(context.Background(), Notification{}); err == nil || !strings.Contains(err.Error(), "HTTP 403") {
		t.Errorf("err = %v, want wrapped send error", err)
	}
}

func TestGuarded_OpensAfterFailures(t *testing.T) {
	t.Parallel()

	s := &fakeSender{err: errors.New("unreachable")}
	g := NewGuarded(NewDiscordWithSender(s, "c"), resilience.CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour})

	for range 2 {
		if err := g.Notify(context.Background(), Notification{}); err == nil {
			t.Fatal("expected send error")
		}
	}
	if err := g.Notify(context.Background(), Notification{}); !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if len(s.embeds) != 2 {
		t.Errorf("sender called %d times, want 2", len(s.embeds))
	}
	if g.Breaker() != resilience.StateOpen {
		t.Errorf("breaker = %v, want open", g.Breaker())
	}
}

func TestGuarded_DenialIsNotFailure(t *testing.T) {
	t.Parallel()

	g := NewGuarded(NewConsole(WithAllowed(false)), resilience.CircuitBreakerConfig{MaxFailures: 1})
	for range 3 {
		if err := g.Notify(context.Background(), Notification{}); !errors.Is(err, ErrPermissionDenied) {
			t.Fatalf("err = %v, want ErrPermissionDenied", err)
		}
	}
	if g.Breaker() != resilience.StateClosed {
		t.Errorf("breaker = %v, want closed", g.Breaker())
	}
}
