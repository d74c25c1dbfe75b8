package tools

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/jarvis/internal/events"
	"github.com/MrWong99/jarvis/internal/knowledge"
	notifymock "github.com/MrWong99/jarvis/internal/notify/mock"
	"github.com/MrWong99/jarvis/internal/observe"
	"github.com/MrWong99/jarvis/internal/telemetry"
	"github.com/MrWong99/jarvis/pkg/provider/s2s"
)

// ── fakes ───────────────────────────────────────────────────────────────────

type fakeTelemetry struct {
	snap telemetry.Snapshot
	err  error
}

func (f fakeTelemetry) Collect(context.Context) (telemetry.Snapshot, error) { return f.snap, f.err }

type fakeLauncher struct {
	mu     sync.Mutex
	opened []string
	err    error
}

func (f *fakeLauncher) Open(_ context.Context, app, query string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	u := "app://" + app + "/" + query
	f.opened = append(f.opened, u)
	return u, nil
}

type fakeTorch struct {
	mu       sync.Mutex
	lit      bool
	released int
	err      error
}

func (f *fakeTorch) On() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.lit = true
	return nil
}

func (f *fakeTorch) Off() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lit = false
	return nil
}

func (f *fakeTorch) Release() error {
	f.mu.Lock()
	f.released++
	f.mu.Unlock()
	return f.Off()
}

// drain returns all events currently buffered on sub.
func drain(sub *events.Subscription) []events.Event {
	var out []events.Event
	for {
		select {
		case ev := <-sub.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}

func statuses(evs []events.Event) []events.Status {
	var out []events.Status
	for _, ev := range evs {
		if st, ok := ev.Data.(events.Status); ok {
			out = append(out, st)
		}
	}
	return out
}

// ── tests ───────────────────────────────────────────────────────────────────

func TestDispatch_ToggleTheme(t *testing.T) {
	t.Parallel()

	bus := events.NewBus()
	sub := bus.Subscribe(16)
	d := NewDispatcher(WithBus(bus))

	results := d.Dispatch(context.Background(), []s2s.ToolCall{
		{ID: "call-7", Name: NameToggleTheme, Args: map[string]any{"theme": "RED"}},
	})
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	r := results[0]
	if r.ID != "call-7" || r.Name != NameToggleTheme || r.Response["status"] != StatusSuccess || r.Response["theme"] != "RED" {
		t.Errorf("result = %+v", r)
	}
	st := statuses(drain(sub))
	if len(st) != 1 || st[0].Theme != "RED" {
		t.Errorf("status events = %+v, want one with Theme RED", st)
	}
}

func TestDispatch_OrderAndUnknown(t *testing.T) {
	t.Parallel()

	d := NewDispatcher()
	results := d.Dispatch(context.Background(), []s2s.ToolCall{
		{ID: "1", Name: NameToggleTheme, Args: map[string]any{"theme": "BLUE"}},
		{ID: "2", Name: "launchMissiles"},
		{ID: "3", Name: NameToggleTheme, Args: map[string]any{"theme": "PURPLE"}},
		{ID: "4", Name: NameToggleTheme, Args: map[string]any{"theme": "RED"}},
	})
	var ids []string
	for _, r := range results {
		ids = append(ids, r.ID)
	}
	if strings.Join(ids, ",") != "1,3,4" {
		t.Fatalf("result ids = %v, want 1,3,4", ids)
	}
	if results[1].Response["status"] != StatusError || !strings.Contains(results[1].Response["message"].(string), "theme") {
		t.Errorf("invalid args result = %+v", results[1].Response)
	}
}

func TestDispatch_UnknownToolMetric(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatal(err)
	}

	d := NewDispatcher(WithMetrics(m))
	if res := d.Dispatch(context.Background(), []s2s.ToolCall{{ID: "x", Name: "nope"}}); len(res) != 0 {
		t.Fatalf("results = %+v, want none", res)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatal(err)
	}
	found := false
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			if met.Name != "jarvis.tool.calls" {
				continue
			}
			for _, dp := range met.Data.(metricdata.Sum[int64]).DataPoints {
				if v, _ := dp.Attributes.Value("status"); v.AsString() == statusUnknown && dp.Value == 1 {
					found = true
				}
			}
		}
	}
	if !found {
		t.Error("unknown tool call not counted")
	}
}

func TestDispatch_ScanSystem(t *testing.T) {
	t.Parallel()

	bus := events.NewBus()
	sub := bus.Subscribe(16)
	d := NewDispatcher(WithBus(bus), WithTelemetry(fakeTelemetry{snap: telemetry.Snapshot{
		CPUPercent: 12.5, MemoryPercent: 40, MemoryUsedMB: 2048, Goroutines: 9,
		Uptime: 90 * time.Minute, Platform: "linux/arm64",
	}}))

	res := d.Execute(context.Background(), ScanSystem{})
	if res["status"] != StatusSuccess || res["cpu_percent"] != 12.5 || res["uptime"] != "1h30m0s" || res["platform"] != "linux/arm64" {
		t.Errorf("response = %+v", res)
	}
	st := statuses(drain(sub))
	if len(st) != 1 || st[0].CPU == nil || *st[0].CPU != 12.5 || *st[0].Memory != 40 || st[0].Goroutines != 9 {
		t.Errorf("status = %+v", st)
	}

	failing := NewDispatcher(WithTelemetry(fakeTelemetry{err: errors.New("no /proc")}))
	if res := failing.Execute(context.Background(), ScanSystem{}); res["status"] != StatusError {
		t.Errorf("failure response = %+v", res)
	}
}

func TestDispatch_SearchDatabase(t *testing.T) {
	t.Parallel()

	kb := knowledge.NewMemStore()
	_ = kb.Index(context.Background(), []knowledge.Document{
		{ID: "a", Title: "Arc reactor", Content: "Palladium core."},
		{ID: "b", Title: "Workshop", Content: "Robot arms."},
	})
	d := NewDispatcher(WithKnowledge(kb), WithSearchLimit(3))

	res := d.Execute(context.Background(), SearchDatabase{Query: "reactor"})
	hits, ok := res["results"].([]knowledge.Result)
	if res["status"] != StatusSuccess || res["query"] != "reactor" || !ok || len(hits) != 1 || hits[0].Title != "Arc reactor" {
		t.Errorf("response = %+v", res)
	}

	none := NewDispatcher()
	if res := none.Execute(context.Background(), SearchDatabase{Query: "x"}); res["status"] != StatusError {
		t.Errorf("no knowledge base response = %+v", res)
	}
}

func TestDispatch_OpenApp(t *testing.T) {
	t.Parallel()

	l := &fakeLauncher{}
	d := NewDispatcher(WithLauncher(l))
	res := d.Execute(context.Background(), OpenApp{App: "YOUTUBE", Query: "iron man"})
	if res["status"] != StatusSuccess || res["app"] != "YOUTUBE" || res["url"] != "app://YOUTUBE/iron man" {
		t.Errorf("response = %+v", res)
	}

	l.err = errors.New("no display")
	if res := d.Execute(context.Background(), OpenApp{App: "MAPS"}); res["status"] != StatusError || res["message"] != "no display" {
		t.Errorf("failure response = %+v", res)
	}
}

func TestDispatch_Flashlight(t *testing.T) {
	t.Parallel()

	bus := events.NewBus()
	sub := bus.Subscribe(16)
	torch := &fakeTorch{}
	d := NewDispatcher(WithBus(bus), WithTorch(torch))

	for range 2 {
		if res := d.Execute(context.Background(), ControlFlashlight{On: true}); res["status"] != StatusSuccess || res["state"] != "ON" {
			t.Fatalf("ON response = %+v", res)
		}
	}
	if !torch.lit {
		t.Fatal("torch not lit")
	}
	if err := d.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if torch.lit || torch.released != 1 {
		t.Errorf("after Release lit=%v released=%d", torch.lit, torch.released)
	}
	if res := d.Execute(context.Background(), ControlFlashlight{On: false}); res["state"] != "OFF" {
		t.Errorf("OFF response = %+v", res)
	}
	st := statuses(drain(sub))
	if len(st) != 3 || st[0].Flashlight != "ON" || st[2].Flashlight != "OFF" {
		t.Errorf("status events = %+v", st)
	}

	torch.err = errors.New("busy")
	if res := d.Execute(context.Background(), ControlFlashlight{On: true}); res["status"] != StatusError {
		t.Errorf("failure response = %+v", res)
	}

	none := NewDispatcher()
	if res := none.Execute(context.Background(), ControlFlashlight{On: true}); res["status"] != StatusError {
		t.Errorf("no torch response = %+v", res)
	}
	if err := none.Release(); err != nil {
		t.Errorf("Release without torch: %v", err)
	}
}

func TestDispatch_SendNotification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		n      *notifymock.Notifier
		status string
		sent   int
	}{
		{"delivered", &notifymock.Notifier{}, StatusSuccess, 1},
		{"denied", &notifymock.Notifier{Denied: true}, StatusPermissionDenied, 0},
		{"backend error", &notifymock.Notifier{NotifyErr: errors.New("HTTP 500")}, StatusError, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d := NewDispatcher(WithNotifier(tt.n))
			res := d.Execute(context.Background(), SendNotification{Title: "Heads up", Body: "Pepper called"})
			if res["status"] != tt.status {
				t.Errorf("status = %v, want %s", res["status"], tt.status)
			}
			if got := tt.n.Delivered(); len(got) != tt.sent {
				t.Errorf("delivered %d, want %d", len(got), tt.sent)
			} else if tt.sent == 1 && (got[0].Title != "Heads up" || got[0].Body != "Pepper called") {
				t.Errorf("notification = %+v", got[0])
			}
		})
	}
}

func TestResults_LogValue(t *testing.T) {
	t.Parallel()

	v := Results{
		{Name: NameToggleTheme, Response: map[string]any{"status": StatusSuccess}},
	}.LogValue()
	if g := v.Group(); len(g) != 1 || g[0].Key != NameToggleTheme || g[0].Value.String() != StatusSuccess {
		t.Errorf("LogValue = %v", v)
	}
}
