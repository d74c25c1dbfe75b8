// Package torch drives a flashlight LED through the Linux LED class interface
// (/sys/class/leds/<name>/brightness).
//
// The brightness file is held open while the light is on and closed when it
// is turned off or released, so a session teardown always leaves the LED
// dark and the handle closed.
package torch

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// DefaultRoot is the LED class directory.
const DefaultRoot = "/sys/class/leds"

// ErrNoTorch is returned when no flashlight LED is present.
var ErrNoTorch = errors.New("torch: no flashlight available")

// Option configures a [LED].
type Option func(*LED)

// WithRoot overrides the LED class directory.
func WithRoot(root string) Option {
	return func(l *LED) { l.root = root }
}

// WithName selects the LED by name instead of auto-detecting one whose name
// contains "torch" or "flash".
func WithName(name string) Option {
	return func(l *LED) { l.name = name }
}

// LED is a sysfs flashlight. Safe for concurrent use.
type LED struct {
	root string
	name string

	mu   sync.Mutex
	file *os.File
}

// New returns an LED. The device is looked up on first use, so a host
// without a flashlight only fails when the tool is called.
func New(opts ...Option) *LED {
	l := &LED{root: DefaultRoot}
	for _, o := range opts {
		o(l)
	}
	return l
}

// On lights the LED at maximum brightness. Calling On while lit is a no-op.
func (l *LED) On() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		return nil
	}
	dir, err := l.device()
	if err != nil {
		return err
	}
	maxLevel, err := readInt(filepath.Join(dir, "max_brightness"))
	if err != nil {
		maxLevel = 1
	}
	f, err := os.OpenFile(filepath.Join(dir, "brightness"), os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("torch: open brightness: %w", err)
	}
	if _, err := f.WriteString(strconv.Itoa(maxLevel)); err != nil {
		_ = f.Close()
		return fmt.Errorf("torch: switch on: %w", err)
	}
	l.file = f
	return nil
}

// Off darkens the LED and closes the handle. Calling Off while dark is a
// no-op.
func (l *LED) Off() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.offLocked()
}

func (l *LED) offLocked() error {
	if l.file == nil {
		return nil
	}
	f := l.file
	l.file = nil
	_, werr := f.WriteAt([]byte("0"), 0)
	cerr := f.Close()
	if werr != nil {
		return fmt.Errorf("torch: switch off: %w", werr)
	}
	return cerr
}

// Release switches the LED off if it is lit.
func (l *LED) Release() error { return l.Off() }

// Lit reports whether the LED is on.
func (l *LED) Lit() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file != nil
}

// device resolves the LED directory.
func (l *LED) device() (string, error) {
	if l.name != "" {
		dir := filepath.Join(l.root, l.name)
		if _, err := os.Stat(filepath.Join(dir, "brightness")); err != nil {
			return "", fmt.Errorf("%w: %s", ErrNoTorch, l.name)
		}
		return dir, nil
	}
	entries, err := os.ReadDir(l.root)
	if err != nil {
		return "", ErrNoTorch
	}
	for _, e := range entries {
		n := strings.ToLower(e.Name())
		if strings.Contains(n, "torch") || strings.Contains(n, "flash") {
			return filepath.Join(l.root, e.Name()), nil
		}
	}
	return "", ErrNoTorch
}

func readInt(path string) (int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(b)))
}
