// Package event defines the closed set of events delivered to extensions.
// Every extension registers one handler that receives all of them.
package event

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Kind names an event variant
type Kind string

const (
	KindStartup           Kind = "on_startup"
	KindShutdown          Kind = "on_shutdown"
	KindBeforeApply       Kind = "before_apply"
	KindAfterApply        Kind = "after_apply"
	KindBeforeThemeChange Kind = "before_theme_change"
	KindAfterThemeChange  Kind = "after_theme_change"
	KindBeforeImport      Kind = "before_import"
	KindAfterImport       Kind = "after_import"
	KindPreviewUpdate     Kind = "on_preview_update"
	KindCustom            Kind = "custom"
)

// Kinds lists every built-in kind in a stable order
var Kinds = []Kind{
	KindStartup,
	KindShutdown,
	KindBeforeApply,
	KindAfterApply,
	KindBeforeThemeChange,
	KindAfterThemeChange,
	KindBeforeImport,
	KindAfterImport,
	KindPreviewUpdate,
	KindCustom,
}

// Event is implemented only by the variants in this package
type Event interface {
	Kind() Kind
	// Fields returns the payload as string-keyed values for the interpreter
	Fields() map[string]any
	sealed()
}

// Startup is delivered once after an extension loaded
type Startup struct{}

// Shutdown is delivered before an extension is unloaded
type Shutdown struct{}

// BeforeApply precedes writing a configuration to the desktop
type BeforeApply struct {
	Config map[string]string
}

// AfterApply follows a successful configuration write
type AfterApply struct {
	Config map[string]string
}

// BeforeThemeChange precedes switching from one theme to another
type BeforeThemeChange struct {
	From string
	To   string
}

// AfterThemeChange follows a theme switch
type AfterThemeChange struct {
	From string
	To   string
}

// BeforeImport precedes importing a theme or config from Source
type BeforeImport struct {
	Source string
}

// AfterImport follows an import from Source
type AfterImport struct {
	Source string
}

// PreviewUpdate asks extensions to refresh a preview component
type PreviewUpdate struct {
	Component string
}

// Custom carries a host-defined event name and payload
type Custom struct {
	Name    string
	Payload map[string]string
}

func (Startup) Kind() Kind           { return KindStartup }
func (Shutdown) Kind() Kind          { return KindShutdown }
func (BeforeApply) Kind() Kind       { return KindBeforeApply }
func (AfterApply) Kind() Kind        { return KindAfterApply }
func (BeforeThemeChange) Kind() Kind { return KindBeforeThemeChange }
func (AfterThemeChange) Kind() Kind  { return KindAfterThemeChange }
func (BeforeImport) Kind() Kind      { return KindBeforeImport }
func (AfterImport) Kind() Kind       { return KindAfterImport }
func (PreviewUpdate) Kind() Kind     { return KindPreviewUpdate }
func (Custom) Kind() Kind            { return KindCustom }

func (Startup) Fields() map[string]any  { return map[string]any{} }
func (Shutdown) Fields() map[string]any { return map[string]any{} }

func (e BeforeApply) Fields() map[string]any { return map[string]any{"config": copyMap(e.Config)} }
func (e AfterApply) Fields() map[string]any  { return map[string]any{"config": copyMap(e.Config)} }

func (e BeforeThemeChange) Fields() map[string]any {
	return map[string]any{"from_theme": e.From, "to_theme": e.To}
}

func (e AfterThemeChange) Fields() map[string]any {
	return map[string]any{"from_theme": e.From, "to_theme": e.To}
}

func (e BeforeImport) Fields() map[string]any { return map[string]any{"source": e.Source} }
func (e AfterImport) Fields() map[string]any  { return map[string]any{"source": e.Source} }

func (e PreviewUpdate) Fields() map[string]any { return map[string]any{"component": e.Component} }

func (e Custom) Fields() map[string]any {
	return map[string]any{"name": e.Name, "payload": copyMap(e.Payload)}
}

func (Startup) sealed()           {}
func (Shutdown) sealed()          {}
func (BeforeApply) sealed()       {}
func (AfterApply) sealed()        {}
func (BeforeThemeChange) sealed() {}
func (AfterThemeChange) sealed()  {}
func (BeforeImport) sealed()      {}
func (AfterImport) sealed()       {}
func (PreviewUpdate) sealed()     {}
func (Custom) sealed()            {}

// Envelope pairs an event with its delivery time
type Envelope struct {
	Event     Event
	Timestamp time.Time
}

// Wrap stamps ev with the current time
func Wrap(ev Event) Envelope {
	return Envelope{Event: ev, Timestamp: time.Now()}
}

// Parse builds an event from a kind name and a flat key=value payload, as
// given on the command line. Unknown kinds become Custom events.
func Parse(kind string, payload map[string]string) (Event, error) {
	kind = strings.TrimSpace(kind)
	if kind == "" {
		return nil, fmt.Errorf("event kind cannot be empty")
	}

	switch Kind(kind) {
	case KindStartup:
		return Startup{}, nil
	case KindShutdown:
		return Shutdown{}, nil
	case KindBeforeApply:
		return BeforeApply{Config: copyMap(payload)}, nil
	case KindAfterApply:
		return AfterApply{Config: copyMap(payload)}, nil
	case KindBeforeThemeChange:
		return BeforeThemeChange{From: payload["from"], To: payload["to"]}, nil
	case KindAfterThemeChange:
		return AfterThemeChange{From: payload["from"], To: payload["to"]}, nil
	case KindBeforeImport:
		return BeforeImport{Source: payload["source"]}, nil
	case KindAfterImport:
		return AfterImport{Source: payload["source"]}, nil
	case KindPreviewUpdate:
		if payload["component"] == "" {
			return nil, fmt.Errorf("%s requires a component", KindPreviewUpdate)
		}
		return PreviewUpdate{Component: payload["component"]}, nil
	case KindCustom:
		name := payload["name"]
		if name == "" {
			return nil, fmt.Errorf("%s requires a name", KindCustom)
		}
		rest := copyMap(payload)
		delete(rest, "name")
		return Custom{Name: name, Payload: rest}, nil
	}
	return Custom{Name: kind, Payload: copyMap(payload)}, nil
}

// ParsePairs parses "key=value" strings into a payload map
func ParsePairs(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid payload entry %q (expected key=value)", pair)
		}
		out[key] = value
	}
	return out, nil
}

// Keys returns the sorted keys of m
func Keys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func copyMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
