package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
)

const writeTimeout = 5 * time.Second

// Controller is the command surface exposed to stream clients.
type Controller interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
}

// command is an inbound client message.
type command struct {
	Type string `json:"type"`
}

// StreamHandler serves the event stream over WebSocket. Every connected
// client receives all events published after it connected, encoded as JSON
// text frames, and may send {"type":"connect"} or {"type":"disconnect"}.
type StreamHandler struct {
	bus    *Bus
	ctrl   Controller
	buffer int
	origin []string
}

// StreamOption configures a StreamHandler.
type StreamOption func(*StreamHandler)

// WithOriginPatterns allows cross-origin browser clients matching patterns.
func WithOriginPatterns(patterns ...string) StreamOption {
	return func(h *StreamHandler) { h.origin = patterns }
}

// WithSubscriberBuffer sets the per-client event buffer.
func WithSubscriberBuffer(n int) StreamOption {
	return func(h *StreamHandler) { h.buffer = n }
}

// NewStreamHandler returns a handler streaming bus events and forwarding
// commands to ctrl. ctrl may be nil for a read-only stream.
func NewStreamHandler(bus *Bus, ctrl Controller, opts ...StreamOption) *StreamHandler {
	h := &StreamHandler{bus: bus, ctrl: ctrl, buffer: DefaultBuffer}
	for _, o := range opts {
		o(h)
	}
	return h
}

// ServeHTTP upgrades the request and runs the client until it disconnects.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origin})
	if err != nil {
		slog.Warn("events: websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	sub := h.bus.Subscribe(h.buffer)
	defer sub.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go h.readLoop(ctx, cancel, conn)

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				slog.Warn("events: marshal failed", "type", ev.Type, "err", err)
				continue
			}
			wctx, wcancel := context.WithTimeout(ctx, writeTimeout)
			err = conn.Write(wctx, websocket.MessageText, data)
			wcancel()
			if err != nil {
				return
			}
		}
	}
}

// readLoop consumes client commands until the connection fails.
func (h *StreamHandler) readLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn) {
	defer cancel()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var cmd command
		if err := json.Unmarshal(data, &cmd); err != nil {
			continue
		}
		h.dispatch(ctx, cmd)
	}
}

func (h *StreamHandler) dispatch(ctx context.Context, cmd command) {
	if h.ctrl == nil {
		return
	}
	var err error
	switch cmd.Type {
	case "connect":
		// Connect outlives the client socket; it is cancelled by Disconnect.
		err = h.ctrl.Connect(context.WithoutCancel(ctx))
	case "disconnect":
		err = h.ctrl.Disconnect(ctx)
	default:
		slog.Debug("events: unknown client command", "type", cmd.Type)
		return
	}
	if err != nil {
		slog.Info("events: client command failed", "command", cmd.Type, "err", err)
	}
}
