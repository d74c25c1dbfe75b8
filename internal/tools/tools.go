// Package tools declares the fixed tool set offered to the remote model and
// executes the calls it makes.
//
// Incoming [s2s.ToolCall] values are decoded into one typed [Call] per tool by
// [Decode]; unknown names and malformed arguments are distinct errors so the
// dispatcher can treat a protocol violation differently from a bad argument.
package tools

import (
	"errors"
	"fmt"
	"strings"

	"github.com/MrWong99/jarvis/internal/launch"
	"github.com/MrWong99/jarvis/pkg/provider/s2s"
)

// Tool names as declared to the model.
const (
	NameToggleTheme       = "toggleTheme"
	NameScanSystem        = "scanSystem"
	NameSearchDatabase    = "searchDatabase"
	NameOpenApp           = "openApp"
	NameControlFlashlight = "controlFlashlight"
	NameSendNotification  = "sendNotification"
)

// Theme values accepted by toggleTheme.
const (
	ThemeBlue = "BLUE"
	ThemeRed  = "RED"
)

var (
	// ErrUnknownTool is returned by [Decode] for names outside the declared
	// set.
	ErrUnknownTool = errors.New("tools: unknown tool")

	// ErrInvalidArgs is returned by [Decode] when required arguments are
	// missing or out of range.
	ErrInvalidArgs = errors.New("tools: invalid arguments")
)

// Definitions returns the declared tool schemas in a stable order.
func Definitions() []s2s.ToolDefinition {
	return []s2s.ToolDefinition{
		{
			Name:        NameToggleTheme,
			Description: "Switch the interface colour theme. RED is combat mode, BLUE is the normal mode.",
			Parameters: object(map[string]any{
				"theme": enum("The theme to switch to.", ThemeBlue, ThemeRed),
			}, "theme"),
		},
		{
			Name:        NameScanSystem,
			Description: "Run a diagnostic scan of the host: CPU load, memory usage, uptime and platform.",
			Parameters:  object(map[string]any{}),
		},
		{
			Name:        NameSearchDatabase,
			Description: "Search the private knowledge base and return the most relevant entries.",
			Parameters: object(map[string]any{
				"query": str("What to look for."),
			}, "query"),
		},
		{
			Name:        NameOpenApp,
			Description: "Open an app or website on the user's device, optionally with a search query, phone number or address.",
			Parameters: object(map[string]any{
				"appName": enum("The app to open.", launch.Apps...),
				"query":   str("Optional search text, phone number or e-mail address."),
			}, "appName"),
		},
		{
			Name:        NameControlFlashlight,
			Description: "Turn the device flashlight on or off.",
			Parameters: object(map[string]any{
				"state": enum("Desired flashlight state.", "ON", "OFF"),
			}, "state"),
		},
		{
			Name:        NameSendNotification,
			Description: "Send a notification to the user.",
			Parameters: object(map[string]any{
				"title": str("Short notification title."),
				"body":  str("Notification text."),
			}, "title", "body"),
		},
	}
}

func object(props map[string]any, required ...string) map[string]any {
	o := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		o["required"] = required
	}
	return o
}

func str(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

func enum(desc string, values ...string) map[string]any {
	return map[string]any{"type": "string", "description": desc, "enum": values}
}

// ── Decoded calls ───────────────────────────────────────────────────────────

// Call is a decoded tool invocation. The concrete type is one of the
// variants below.
type Call interface {
	ToolName() string
}

// ToggleTheme switches the interface theme.
type ToggleTheme struct{ Theme string }

// ScanSystem collects host telemetry.
type ScanSystem struct{}

// SearchDatabase queries the knowledge store.
type SearchDatabase struct{ Query string }

// OpenApp launches an external app.
type OpenApp struct{ App, Query string }

// ControlFlashlight switches the torch.
type ControlFlashlight struct{ On bool }

// SendNotification delivers a user notification.
type SendNotification struct{ Title, Body string }

func (ToggleTheme) ToolName() string       { return NameToggleTheme }
func (ScanSystem) ToolName() string        { return NameScanSystem }
func (SearchDatabase) ToolName() string    { return NameSearchDatabase }
func (OpenApp) ToolName() string           { return NameOpenApp }
func (ControlFlashlight) ToolName() string { return NameControlFlashlight }
func (SendNotification) ToolName() string  { return NameSendNotification }

// Decode turns a raw call into its typed variant. Enum arguments are matched
// case-insensitively and normalised to upper case.
func Decode(c s2s.ToolCall) (Call, error) {
	switch c.Name {
	case NameToggleTheme:
		theme, err := enumArg(c.Args, "theme", ThemeBlue, ThemeRed)
		if err != nil {
			return nil, err
		}
		return ToggleTheme{Theme: theme}, nil
	case NameScanSystem:
		return ScanSystem{}, nil
	case NameSearchDatabase:
		q, err := stringArg(c.Args, "query", true)
		if err != nil {
			return nil, err
		}
		return SearchDatabase{Query: q}, nil
	case NameOpenApp:
		app, err := enumArg(c.Args, "appName", launch.Apps...)
		if err != nil {
			return nil, err
		}
		q, err := stringArg(c.Args, "query", false)
		if err != nil {
			return nil, err
		}
		return OpenApp{App: app, Query: q}, nil
	case NameControlFlashlight:
		state, err := enumArg(c.Args, "state", "ON", "OFF")
		if err != nil {
			return nil, err
		}
		return ControlFlashlight{On: state == "ON"}, nil
	case NameSendNotification:
		title, err := stringArg(c.Args, "title", true)
		if err != nil {
			return nil, err
		}
		body, err := stringArg(c.Args, "body", true)
		if err != nil {
			return nil, err
		}
		return SendNotification{Title: title, Body: body}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTool, c.Name)
	}
}

func stringArg(args map[string]any, key string, required bool) (string, error) {
	v, ok := args[key]
	if !ok || v == nil {
		if required {
			return "", fmt.Errorf("%w: %s is required", ErrInvalidArgs, key)
		}
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s must be a string, got %T", ErrInvalidArgs, key, v)
	}
	s = strings.TrimSpace(s)
	if required && s == "" {
		return "", fmt.Errorf("%w: %s must not be empty", ErrInvalidArgs, key)
	}
	return s, nil
}

func enumArg(args map[string]any, key string, allowed ...string) (string, error) {
	s, err := stringArg(args, key, true)
	if err != nil {
		return "", err
	}
	up := strings.ToUpper(s)
	for _, a := range allowed {
		if up == a {
			return a, nil
		}
	}
	return "", fmt.Errorf("%w: %s must be one of %s, got %q", ErrInvalidArgs, key, strings.Join(allowed, ", "), s)
}
