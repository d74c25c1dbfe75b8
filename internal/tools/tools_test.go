package tools

import (
	"errors"
	"slices"
	"testing"

	"github.com/MrWong99/jarvis/internal/launch"
	"github.com/MrWong99/jarvis/pkg/provider/s2s"
)

func TestDefinitions(t *testing.T) {
	t.Parallel()

	defs := Definitions()
	var names []string
	for _, d := range defs {
		names = append(names, d.Name)
		if d.Description == "" || d.Parameters["type"] != "object" {
			t.Errorf("%s: incomplete definition %+v", d.Name, d)
		}
	}
	want := []string{NameToggleTheme, NameScanSystem, NameSearchDatabase, NameOpenApp, NameControlFlashlight, NameSendNotification}
	if !slices.Equal(names, want) {
		t.Fatalf("names = %v, want %v", names, want)
	}

	required := func(i int) []string {
		r, _ := defs[i].Parameters["required"].([]string)
		return r
	}
	if got := required(0); !slices.Equal(got, []string{"theme"}) {
		t.Errorf("toggleTheme required = %v", got)
	}
	if got := required(1); got != nil {
		t.Errorf("scanSystem required = %v", got)
	}
	if got := required(3); !slices.Equal(got, []string{"appName"}) {
		t.Errorf("openApp required = %v", got)
	}
	if got := required(5); !slices.Equal(got, []string{"title", "body"}) {
		t.Errorf("sendNotification required = %v", got)
	}
	appEnum := defs[3].Parameters["properties"].(map[string]any)["appName"].(map[string]any)["enum"].([]string)
	if !slices.Equal(appEnum, launch.Apps) {
		t.Errorf("appName enum = %v", appEnum)
	}
}

func TestDecode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		call    s2s.ToolCall
		want    Call
		wantErr error
	}{
		{"theme", s2s.ToolCall{Name: NameToggleTheme, Args: map[string]any{"theme": "RED"}}, ToggleTheme{Theme: "RED"}, nil},
		{"theme lower case", s2s.ToolCall{Name: NameToggleTheme, Args: map[string]any{"theme": "blue"}}, ToggleTheme{Theme: "BLUE"}, nil},
		{"theme out of range", s2s.ToolCall{Name: NameToggleTheme, Args: map[string]any{"theme": "GREEN"}}, nil, ErrInvalidArgs},
		{"theme missing", s2s.ToolCall{Name: NameToggleTheme}, nil, ErrInvalidArgs},
		{"scan", s2s.ToolCall{Name: NameScanSystem, Args: map[string]any{"extra": 1}}, ScanSystem{}, nil},
		{"search", s2s.ToolCall{Name: NameSearchDatabase, Args: map[string]any{"query": " reactor "}}, SearchDatabase{Query: "reactor"}, nil},
		{"search blank", s2s.ToolCall{Name: NameSearchDatabase, Args: map[string]any{"query": "  "}}, nil, ErrInvalidArgs},
		{"search wrong type", s2s.ToolCall{Name: NameSearchDatabase, Args: map[string]any{"query": 42.0}}, nil, ErrInvalidArgs},
		{"open app", s2s.ToolCall{Name: NameOpenApp, Args: map[string]any{"appName": "spotify", "query": "acdc"}}, OpenApp{App: "SPOTIFY", Query: "acdc"}, nil},
		{"open app no query", s2s.ToolCall{Name: NameOpenApp, Args: map[string]any{"appName": "MAPS"}}, OpenApp{App: "MAPS"}, nil},
		{"open unknown app", s2s.ToolCall{Name: NameOpenApp, Args: map[string]any{"appName": "TELEGRAM"}}, nil, ErrInvalidArgs},
		{"torch on", s2s.ToolCall{Name: NameControlFlashlight, Args: map[string]any{"state": "ON"}}, ControlFlashlight{On: true}, nil},
		{"torch off", s2s.ToolCall{Name: NameControlFlashlight, Args: map[string]any{"state": "off"}}, ControlFlashlight{On: false}, nil},
		{"notify", s2s.ToolCall{Name: NameSendNotification, Args: map[string]any{"title": "T", "body": "B"}}, SendNotification{Title: "T", Body: "B"}, nil},
		{"notify no body", s2s.ToolCall{Name: NameSendNotification, Args: map[string]any{"title": "T"}}, nil, ErrInvalidArgs},
		{"unknown", s2s.ToolCall{Name: "selfDestruct"}, nil, ErrUnknownTool},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := Decode(tt.call)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Decode = %#v, want %#v", got, tt.want)
			}
		})
	}
}
