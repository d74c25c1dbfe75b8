package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrWong99/jarvis/internal/clock/fake"
	"github.com/MrWong99/jarvis/internal/config"
)

const watcherValidYAML = `
server:
  log_level: info
assistant:
  persona: "You are Jarvis."
wake:
  phrases: ["jarvis"]
`

const watcherUpdatedYAML = `
server:
  log_level: debug
assistant:
  persona: "You are Jarvis."
wake:
  phrases: ["jarvis", "computer"]
`

const watcherInvalidYAML = `
server:
  log_level: bananas
`

const pollEvery = time.Second

// change records every ChangeFunc invocation.
type change struct {
	old, new *config.Config
	diff     config.ConfigDiff
}

type watchHarness struct {
	path    string
	clk     *fake.Clock
	w       *config.Watcher
	changes []change
	stamp   time.Time
}

func newWatchHarness(t *testing.T, initial string) *watchHarness {
	t.Helper()
	h := &watchHarness{
		path:  filepath.Join(t.TempDir(), "jarvis.yaml"),
		clk:   fake.New(time.Unix(1_700_000_000, 0)),
		stamp: time.Unix(1_700_000_000, 0),
	}
	h.write(t, initial)

	w, err := config.NewWatcher(h.path, func(old, new *config.Config, diff config.ConfigDiff) {
		h.changes = append(h.changes, change{old, new, diff})
	}, config.WithInterval(pollEvery), config.WithWatchClock(h.clk))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	t.Cleanup(w.Stop)
	h.w = w
	return h
}

// write replaces the file and moves its mtime forward so every write is
// observable regardless of filesystem timestamp granularity.
func (h *watchHarness) write(t *testing.T, content string) {
	t.Helper()
	if err := os.WriteFile(h.path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", h.path, err)
	}
	h.touch(t)
}

func (h *watchHarness) touch(t *testing.T) {
	t.Helper()
	h.stamp = h.stamp.Add(time.Minute)
	if err := os.Chtimes(h.path, h.stamp, h.stamp); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	h := newWatchHarness(t, watcherValidYAML)

	cfg := h.w.Current()
	if cfg == nil || cfg.Server.LogLevel != config.LogInfo {
		t.Fatalf("Current() = %+v", cfg)
	}
	if h.clk.Pending() != 1 {
		t.Errorf("pending polls = %d, want 1", h.clk.Pending())
	}
}

func TestWatcher_DetectsChange(t *testing.T) {
	t.Parallel()
	h := newWatchHarness(t, watcherValidYAML)

	h.write(t, watcherUpdatedYAML)
	h.clk.Advance(pollEvery)

	if len(h.changes) != 1 {
		t.Fatalf("callbacks = %d, want 1", len(h.changes))
	}
	c := h.changes[0]
	if c.old.Server.LogLevel != config.LogInfo || c.new.Server.LogLevel != config.LogDebug {
		t.Errorf("old/new log level = %q/%q", c.old.Server.LogLevel, c.new.Server.LogLevel)
	}
	if !c.diff.PhrasesChanged || len(c.diff.NewPhrases) != 2 {
		t.Errorf("diff phrases: %+v", c.diff)
	}
	if c.diff.PersonaChanged {
		t.Error("persona did not change")
	}
	if got := h.w.Current().Server.LogLevel; got != config.LogDebug {
		t.Errorf("Current() log level = %q", got)
	}

	// Polling continues after a reload.
	h.write(t, watcherValidYAML)
	h.clk.Advance(pollEvery)
	if len(h.changes) != 2 {
		t.Errorf("callbacks after second edit = %d, want 2", len(h.changes))
	}
}

func TestWatcher_IgnoredEdits(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		edit      func(*testing.T, *watchHarness)
		wantLevel config.LogLevel
	}{
		{
			name:      "invalid file keeps previous config",
			edit:      func(t *testing.T, h *watchHarness) { h.write(t, watcherInvalidYAML) },
			wantLevel: config.LogInfo,
		},
		{
			name:      "touch without content change",
			edit:      func(t *testing.T, h *watchHarness) { h.touch(t) },
			wantLevel: config.LogInfo,
		},
		{
			name:      "comment-only edit",
			edit:      func(t *testing.T, h *watchHarness) { h.write(t, watcherValidYAML+"# note\n") },
			wantLevel: config.LogInfo,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newWatchHarness(t, watcherValidYAML)
			tt.edit(t, h)
			h.clk.Advance(3 * pollEvery)

			if len(h.changes) != 0 {
				t.Errorf("callback fired %d times", len(h.changes))
			}
			if got := h.w.Current().Server.LogLevel; got != tt.wantLevel {
				t.Errorf("Current() log level = %q, want %q", got, tt.wantLevel)
			}
		})
	}
}

func TestWatcher_InitialLoadFails(t *testing.T) {
	t.Parallel()
	if _, err := config.NewWatcher(filepath.Join(t.TempDir(), "missing.yaml"), nil); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestWatcher_Stop(t *testing.T) {
	t.Parallel()
	h := newWatchHarness(t, watcherValidYAML)

	h.w.Stop()
	h.w.Stop()
	h.write(t, watcherUpdatedYAML)
	h.clk.Advance(3 * pollEvery)

	if len(h.changes) != 0 {
		t.Errorf("callback fired after Stop")
	}
	if h.clk.Pending() != 0 {
		t.Errorf("pending polls after Stop = %d", h.clk.Pending())
	}
}
