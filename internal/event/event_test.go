package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		kind    string
		payload map[string]string
		want    Event
	}{
		{"on_startup", nil, Startup{}},
		{"on_shutdown", nil, Shutdown{}},
		{"before_apply", map[string]string{"gaps": "4"}, BeforeApply{Config: map[string]string{"gaps": "4"}}},
		{"after_apply", nil, AfterApply{Config: map[string]string{}}},
		{"before_theme_change", map[string]string{"from": "a", "to": "b"}, BeforeThemeChange{From: "a", To: "b"}},
		{"after_theme_change", map[string]string{"from": "a", "to": "b"}, AfterThemeChange{From: "a", To: "b"}},
		{"before_import", map[string]string{"source": "x.yaml"}, BeforeImport{Source: "x.yaml"}},
		{"after_import", map[string]string{"source": "x.yaml"}, AfterImport{Source: "x.yaml"}},
		{"on_preview_update", map[string]string{"component": "waybar"}, PreviewUpdate{Component: "waybar"}},
		{"custom", map[string]string{"name": "ping", "n": "1"}, Custom{Name: "ping", Payload: map[string]string{"n": "1"}}},
		{"wallpaper_changed", map[string]string{"path": "/a"}, Custom{Name: "wallpaper_changed", Payload: map[string]string{"path": "/a"}}},
	}

	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			got, err := Parse(tt.kind, tt.payload)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParse_Errors(t *testing.T) {
	_, err := Parse("  ", nil)
	assert.Error(t, err)

	_, err = Parse("on_preview_update", nil)
	assert.Error(t, err)

	_, err = Parse("custom", map[string]string{"x": "1"})
	assert.Error(t, err)
}

func TestKindMatchesParse(t *testing.T) {
	payload := map[string]string{"component": "bar", "name": "n"}
	for _, kind := range Kinds {
		ev, err := Parse(string(kind), payload)
		require.NoError(t, err, kind)
		assert.Equal(t, kind, ev.Kind())
	}
}

func TestFields(t *testing.T) {
	ev := BeforeThemeChange{From: "nord", To: "gruvbox"}
	assert.Equal(t, map[string]any{"from_theme": "nord", "to_theme": "gruvbox"}, ev.Fields())

	cfg := map[string]string{"k": "v"}
	fields := AfterApply{Config: cfg}.Fields()
	fields["config"].(map[string]string)["k"] = "changed"
	assert.Equal(t, "v", cfg["k"], "fields must not alias the event payload")

	assert.Empty(t, Startup{}.Fields())
}

func TestParsePairs(t *testing.T) {
	got, err := ParsePairs([]string{"a=1", "b=x=y", "c="})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "1", "b": "x=y", "c": ""}, got)
	assert.Equal(t, []string{"a", "b", "c"}, Keys(got))

	_, err = ParsePairs([]string{"novalue"})
	assert.Error(t, err)
	_, err = ParsePairs([]string{"=1"})
	assert.Error(t, err)
}

func TestWrap(t *testing.T) {
	env := Wrap(Shutdown{})
	assert.Equal(t, KindShutdown, env.Event.Kind())
	assert.False(t, env.Timestamp.IsZero())
}
