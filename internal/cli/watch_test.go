package cli

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyprrice/hyprsandbox/internal/config"
	"github.com/hyprrice/hyprsandbox/internal/event"
)

const echoExtension = `
def handle(ev):
    host.request_ui_update(ev.kind)

def register():
    return handle
`

func newWatchApp(t *testing.T, env testEnv) *app {
	t.Helper()
	c, err := config.LoadConfigFrom(env.config)
	require.NoError(t, err)

	a, err := newApp(c)
	require.NoError(t, err)
	t.Cleanup(func() {
		a.manager.Close(context.Background())
		a.Close()
	})
	return a
}

// dispatchOrder delivers a custom event and returns the receivers in order
func dispatchOrder(t *testing.T, a *app) []string {
	t.Helper()
	var names []string
	for _, d := range a.manager.Dispatch(context.Background(), event.Custom{Name: "ping"}) {
		require.Equal(t, "delivered", d.Outcome, d.Error)
		names = append(names, d.Extension)
	}
	return names
}

func TestReloader_Flush(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, "a.star", echoExtension)
	env.write(t, "c.star", echoExtension)

	a := newWatchApp(t, env)
	ctx := context.Background()
	_, err := a.manager.Discover()
	require.NoError(t, err)
	_, err = a.manager.LoadAll(ctx)
	require.NoError(t, err)

	r := &reloader{app: a, pending: make(map[string]bool)}

	t.Run("new file is discovered and loaded", func(t *testing.T) {
		r.pending[env.write(t, "b.star", echoExtension)] = true
		r.flush(ctx)

		assert.Empty(t, r.pending)
		assert.Equal(t, []string{"a", "b", "c"}, a.manager.Loaded())
		assert.Equal(t, []string{"a", "b", "c"}, dispatchOrder(t, a))
	})

	t.Run("changed file is reloaded", func(t *testing.T) {
		r.pending[env.write(t, "c.star", "# version: 2.0.0\n"+echoExtension)] = true
		r.flush(ctx)

		info, err := a.manager.Info("c")
		require.NoError(t, err)
		assert.Equal(t, "2.0.0", info.Version)
		assert.Equal(t, "loaded", string(info.State))
		assert.Equal(t, []string{"a", "b", "c"}, dispatchOrder(t, a))
	})

	t.Run("removed file is unloaded", func(t *testing.T) {
		path := filepath.Join(env.dir, "a.star")
		require.NoError(t, os.Remove(path))
		r.pending[path] = true
		r.flush(ctx)

		assert.Equal(t, []string{"b", "c"}, a.manager.Loaded())
		assert.Equal(t, []string{"b", "c"}, dispatchOrder(t, a))
		_, err := a.manager.Info("a")
		assert.Error(t, err)
	})

	t.Run("broken file stays out", func(t *testing.T) {
		r.pending[env.write(t, "d.star", "# version: nope\n"+echoExtension)] = true
		r.flush(ctx)

		assert.Equal(t, []string{"b", "c"}, a.manager.Loaded())
	})
}
