package executor

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"runtime"
	"testing"
	"time"

	"github.com/hyprrice/hyprsandbox/internal/audit"
	"github.com/hyprrice/hyprsandbox/internal/command"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireBinary(t *testing.T, name string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX userland")
	}
	path, err := exec.LookPath(name)
	if err != nil {
		t.Skipf("%s not available: %v", name, err)
	}
	return path
}

func TestNewCommandRunner_Validation(t *testing.T) {
	s := command.NewSanitizer(nil)

	_, err := NewCommandRunner("", s, command.NewSet("reload"), time.Second)
	assert.Error(t, err)

	_, err = NewCommandRunner("hyprctl", nil, command.NewSet("reload"), time.Second)
	assert.Error(t, err)

	_, err = NewCommandRunner("hyprctl", s, command.NewSet("reload"), 0)
	assert.Error(t, err)
}

func TestRun_EchoesArguments(t *testing.T) {
	echo := requireBinary(t, "echo")
	r, err := NewCommandRunner(echo, command.NewSanitizer(nil), command.NewSet("dispatch"), 5*time.Second)
	require.NoError(t, err)

	out, err := r.Run(context.Background(), []string{"dispatch", "workspace", "2"})
	require.NoError(t, err)
	assert.Equal(t, "dispatch workspace 2\n", out)
}

func TestRun_RejectedCommandNeverExecutes(t *testing.T) {
	sink := audit.NewMemory()
	r, err := NewCommandRunner("/nonexistent/hyprctl", command.NewSanitizer(sink), command.NewSet("reload"), time.Second)
	require.NoError(t, err)

	_, err = r.Run(context.Background(), []string{"reload;", "rm", "-rf", "/"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, command.ErrInjection))

	events := sink.Events()
	require.Len(t, events, 1)
	assert.Equal(t, audit.OutcomeDenied, events[0].Outcome)
}

func TestRun_Timeout(t *testing.T) {
	sleep := requireBinary(t, "sleep")
	r, err := NewCommandRunner(sleep, command.NewSanitizer(nil), command.NewSet("5"), 100*time.Millisecond)
	require.NoError(t, err)

	start := time.Now()
	_, err = r.Run(context.Background(), []string{"5"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout")
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestRun_NonZeroExit(t *testing.T) {
	falseBin := requireBinary(t, "false")
	r, err := NewCommandRunner(falseBin, command.NewSanitizer(nil), command.NewSet("version"), time.Second)
	require.NoError(t, err)

	_, err = r.Run(context.Background(), []string{"version"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exited with code 1")
}

func TestBuildEnv_OnlyAllowlisted(t *testing.T) {
	t.Setenv("HYPRLAND_INSTANCE_SIGNATURE", "abc")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "nope")

	env := buildEnv()
	assert.Contains(t, env, "HYPRLAND_INSTANCE_SIGNATURE=abc")
	for _, kv := range env {
		assert.NotContains(t, kv, "AWS_SECRET_ACCESS_KEY")
	}
}

func TestLimitedWriter(t *testing.T) {
	w := &limitedWriter{buf: new(bytes.Buffer), max: 4}
	n, err := w.Write([]byte("abcdef"))
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	assert.Equal(t, "abcd", w.buf.String())
}

func TestRun_WithChildLimits(t *testing.T) {
	echo := requireBinary(t, "echo")
	r, err := NewCommandRunner(echo, command.NewSanitizer(nil), command.NewSet("version"), 5*time.Second)
	require.NoError(t, err)
	r.SetChildLimits(ChildLimits{CPUSeconds: 5, MaxFDs: 64})

	out, err := r.Run(context.Background(), []string{"version"})
	require.NoError(t, err)
	assert.Equal(t, "version\n", out)
}
