//go:build e2e

package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sandboxBinary string

// TestMain builds the binary once for every test
func TestMain(m *testing.M) {
	dir, err := os.MkdirTemp("", "hyprsandbox-e2e")
	if err != nil {
		fmt.Printf("Failed to create temp dir: %v\n", err)
		os.Exit(1)
	}
	sandboxBinary = filepath.Join(dir, "hyprsandbox")

	fmt.Println("Building hyprsandbox binary...")
	cmd := exec.Command("go", "build", "-o", sandboxBinary, "./cmd/hyprsandbox")
	cmd.Dir = "../.."
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		fmt.Printf("Failed to build hyprsandbox: %v\n", err)
		os.Exit(1)
	}

	code := m.Run()
	_ = os.RemoveAll(dir)
	os.Exit(code)
}

// workspace is an isolated config and extension directory
type workspace struct {
	config string
	dir    string
}

func newWorkspace(t *testing.T) workspace {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, "plugins")
	require.NoError(t, os.MkdirAll(dir, 0o700))

	config := filepath.Join(root, "sandbox.yaml")
	content := fmt.Sprintf("extensions_dir: %s\naudit_log_file: %s\nlog_level: warn\n",
		dir, filepath.Join(root, "audit.log"))
	require.NoError(t, os.WriteFile(config, []byte(content), 0o600))
	return workspace{config: config, dir: dir}
}

func (w workspace) write(t *testing.T, file, src string) string {
	t.Helper()
	path := filepath.Join(w.dir, file)
	require.NoError(t, os.WriteFile(path, []byte(src), 0o600))
	return path
}

// runSandbox runs the binary against the workspace config
func runSandbox(t *testing.T, w workspace, args ...string) (stdout, stderr string, exitCode int) {
	t.Helper()

	fullArgs := append([]string{"--config", w.config}, args...)
	cmd := exec.Command(sandboxBinary, fullArgs...)

	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	err := cmd.Run()
	stdout = outBuf.String()
	stderr = errBuf.String()

	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = 1
		}
	}

	return stdout, stderr, exitCode
}

const themeExtension = `# name: theme-sync
# version: 1.0.0
# description: Mirrors theme changes into waybar

def on_change(ev):
    if ev.kind == "after_theme_change":
        host.request_ui_update("waybar")

def register():
    return on_change
`

func TestE2E_Doctor(t *testing.T) {
	stdout, _, exitCode := runSandbox(t, newWorkspace(t), "doctor")

	assert.Equal(t, 0, exitCode, "hyprsandbox doctor should succeed")
	assert.Contains(t, stdout, "HyprRice Sandbox Diagnostics")
	assert.Contains(t, stdout, "System Information")
}

func TestE2E_DoctorJSON(t *testing.T) {
	stdout, _, exitCode := runSandbox(t, newWorkspace(t), "doctor", "--json")
	assert.Equal(t, 0, exitCode)

	var result map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(stdout), &result))
	assert.Contains(t, result, "os")
	assert.Contains(t, result, "capabilities")
}

func TestE2E_Version(t *testing.T) {
	stdout, _, exitCode := runSandbox(t, newWorkspace(t), "--version")

	assert.Equal(t, 0, exitCode)
	assert.Contains(t, stdout, "hyprsandbox version")
}

func TestE2E_Help(t *testing.T) {
	stdout, _, exitCode := runSandbox(t, newWorkspace(t), "--help")

	assert.Equal(t, 0, exitCode)
	assert.Contains(t, stdout, "Available Commands")
	assert.Contains(t, stdout, "scan")
	assert.Contains(t, stdout, "run")
	assert.Contains(t, stdout, "watch")
}

func TestE2E_ScanRejectsDeniedImport(t *testing.T) {
	w := newWorkspace(t)
	path := w.write(t, "shell.star", "load(\"subprocess\", \"run\")\n")

	stdout, _, exitCode := runSandbox(t, w, "scan", path)

	assert.Equal(t, 2, exitCode)
	assert.Contains(t, stdout, "REJECTED")
	assert.Contains(t, stdout, "DeniedImport")
}

func TestE2E_RunThemeChange(t *testing.T) {
	w := newWorkspace(t)
	w.write(t, "theme.star", themeExtension)

	stdout, _, exitCode := runSandbox(t, w, "run",
		"--event", "after_theme_change", "--set", "from=dark", "--set", "to=light")

	assert.Equal(t, 0, exitCode)
	assert.Contains(t, stdout, "Loaded 1 extension(s)")
	assert.Contains(t, stdout, "theme-sync: delivered")
	assert.Contains(t, stdout, "theme-sync -> waybar")

	audit, err := os.ReadFile(filepath.Join(filepath.Dir(w.dir), "audit.log"))
	require.NoError(t, err)
	assert.Contains(t, string(audit), "theme-sync")
}

func TestE2E_RunInfiniteLoopIsContained(t *testing.T) {
	w := newWorkspace(t)
	w.write(t, "spin.star", `# security_level: strict

def register():
    while True:
        pass
`)
	w.write(t, "theme.star", themeExtension)

	stdout, _, exitCode := runSandbox(t, w, "run", "--event", "after_theme_change")

	assert.Equal(t, 0, exitCode)
	assert.Contains(t, stdout, "Loaded 1 extension(s)")
	assert.Contains(t, stdout, "theme-sync: delivered")
}

func TestE2E_ValidateCommand(t *testing.T) {
	w := newWorkspace(t)

	stdout, _, exitCode := runSandbox(t, w, "validate", "command", "dispatch", "workspace", "2")
	assert.Equal(t, 0, exitCode)
	assert.Contains(t, stdout, "ALLOWED hyprctl dispatch workspace 2")

	stdout, _, exitCode = runSandbox(t, w, "validate", "command", "dispatch", "exec", "rm -rf ~; ls")
	assert.Equal(t, 2, exitCode)
	assert.Contains(t, stdout, "DENIED")
}

func BenchmarkE2E_Doctor(b *testing.B) {
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		cmd := exec.Command(sandboxBinary, "doctor")
		_ = cmd.Run()
	}
}
