package events_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/jarvis/internal/events"
	"github.com/coder/websocket"
)

type recordingController struct {
	mu    sync.Mutex
	calls []string
	seen  chan struct{}
}

func (c *recordingController) record(name string) {
	c.mu.Lock()
	c.calls = append(c.calls, name)
	c.mu.Unlock()
	c.seen <- struct{}{}
}

func (c *recordingController) Connect(context.Context) error    { c.record("connect"); return nil }
func (c *recordingController) Disconnect(context.Context) error { c.record("disconnect"); return nil }

func dialStream(t *testing.T, h *events.StreamHandler) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { conn.CloseNow() })
	return conn
}

func TestStreamHandler_DeliversEvents(t *testing.T) {
	t.Parallel()

	bus := events.NewBus()
	conn := dialStream(t, events.NewStreamHandler(bus, nil))

	// The subscription is registered after the upgrade completes; publish
	// until the client sees the event.
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	go func() {
		for ctx.Err() == nil {
			bus.State("DISCONNECTED", "CONNECTING")
			time.Sleep(20 * time.Millisecond)
		}
	}()

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	var ev struct {
		Type string `json:"type"`
		Data struct {
			To string `json:"to"`
		} `json:"data"`
	}
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if ev.Type != "state" || ev.Data.To != "CONNECTING" {
		t.Errorf("event = %+v", ev)
	}
}

func TestStreamHandler_ForwardsCommands(t *testing.T) {
	t.Parallel()

	ctrl := &recordingController{seen: make(chan struct{}, 4)}
	conn := dialStream(t, events.NewStreamHandler(events.NewBus(), ctrl))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	for _, msg := range []string{`{"type":"connect"}`, `{"type":"bogus"}`, `{"type":"disconnect"}`} {
		if err := conn.Write(ctx, websocket.MessageText, []byte(msg)); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	for range 2 {
		select {
		case <-ctrl.seen:
		case <-ctx.Done():
			t.Fatal("timeout waiting for commands")
		}
	}

	ctrl.mu.Lock()
	defer ctrl.mu.Unlock()
	if len(ctrl.calls) != 2 || ctrl.calls[0] != "connect" || ctrl.calls[1] != "disconnect" {
		t.Errorf("calls = %v", ctrl.calls)
	}
}
