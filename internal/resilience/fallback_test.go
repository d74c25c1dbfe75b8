package resilience

import (
	"context"
	"errors"
	"slices"
	"testing"
)

func newGroup(names ...string) *FallbackGroup[string] {
	fg := NewFallbackGroup(names[0], names[0], FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 2},
	})
	for _, n := range names[1:] {
		fg.AddFallback(n, n)
	}
	return fg
}

func TestFallbackGroup_Order(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		failing []string
		want    string
		tried   []string
		wantErr bool
	}{
		{name: "primary ok", want: "deepgram", tried: []string{"deepgram"}},
		{name: "primary down", failing: []string{"deepgram"}, want: "whisper", tried: []string{"deepgram", "whisper"}},
		{name: "all down", failing: []string{"deepgram", "whisper"}, tried: []string{"deepgram", "whisper"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			fg := newGroup("deepgram", "whisper")
			var tried []string
			got, err := ExecuteWithResult(context.Background(), fg, func(v string) (string, error) {
				tried = append(tried, v)
				if slices.Contains(tt.failing, v) {
					return "", errTest
				}
				return v, nil
			})
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && (!errors.Is(err, ErrAllFailed) || !errors.Is(err, errTest)) {
				t.Errorf("err = %v, want ErrAllFailed wrapping errTest", err)
			}
			if got != tt.want || !slices.Equal(tried, tt.tried) {
				t.Errorf("got %q after %v, want %q after %v", got, tried, tt.want, tt.tried)
			}
		})
	}
}

func TestFallbackGroup_SkipsOpenCircuit(t *testing.T) {
	t.Parallel()

	fg := newGroup("primary", "secondary")
	calls := map[string]int{}
	fn := func(v string) error {
		calls[v]++
		if v == "primary" {
			return errTest
		}
		return nil
	}
	for range 3 {
		if err := fg.Execute(context.Background(), fn); err != nil {
			t.Fatalf("Execute: %v", err)
		}
	}
	if calls["primary"] != 2 || calls["secondary"] != 3 {
		t.Errorf("calls = %v, want primary 2 secondary 3", calls)
	}
	if st := fg.States(); st["primary"] != StateOpen || st["secondary"] != StateClosed {
		t.Errorf("states = %v", st)
	}
	if got := fg.Names(); !slices.Equal(got, []string{"primary", "secondary"}) {
		t.Errorf("Names = %v", got)
	}
}

func TestFallbackGroup_CancelledContext(t *testing.T) {
	t.Parallel()

	fg := newGroup("primary", "secondary")
	ctx, cancel := context.WithCancel(context.Background())
	var tried []string
	err := fg.Execute(ctx, func(v string) error {
		tried = append(tried, v)
		cancel()
		return context.Canceled
	})
	if !errors.Is(err, context.Canceled) || errors.Is(err, ErrAllFailed) {
		t.Errorf("err = %v, want bare context.Canceled", err)
	}
	if !slices.Equal(tried, []string{"primary"}) {
		t.Errorf("tried = %v, want only primary", tried)
	}
}
