package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	assert.NotNil(t, rootCmd)
	assert.Equal(t, "hyprsandbox", rootCmd.Use)
	assert.Contains(t, rootCmd.Short, "HyprRice")
}

func TestSubcommands(t *testing.T) {
	expectedCommands := []string{
		"scan",
		"list",
		"run",
		"validate",
		"doctor",
		"watch",
	}

	commands := rootCmd.Commands()
	commandNames := make([]string, len(commands))
	for i, cmd := range commands {
		commandNames[i] = cmd.Name()
	}

	for _, expected := range expectedCommands {
		assert.Contains(t, commandNames, expected, "Expected command %s to be registered", expected)
	}
}

func TestValidateSubcommands(t *testing.T) {
	names := make([]string, 0)
	for _, cmd := range validateCmd.Commands() {
		names = append(names, cmd.Name())
	}
	assert.ElementsMatch(t, []string{"path", "color", "identifier", "text", "command"}, names)
}

func TestPersistentFlags(t *testing.T) {
	flags := rootCmd.PersistentFlags()

	for _, name := range []string{"config", "extensions-dir", "level", "verbose"} {
		assert.NotNil(t, flags.Lookup(name), "Expected persistent flag %s", name)
	}
	assert.Equal(t, "v", flags.Lookup("verbose").Shorthand)
}

// testEnv is a config file and extension directory for one test
type testEnv struct {
	dir    string
	config string
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, "plugins")
	require.NoError(t, os.MkdirAll(dir, 0o700))

	config := filepath.Join(root, "sandbox.yaml")
	content := fmt.Sprintf(`extensions_dir: %s
audit_enabled: false
log_file: ""
log_level: error
`, dir)
	require.NoError(t, os.WriteFile(config, []byte(content), 0o600))
	return testEnv{dir: dir, config: config}
}

func (e testEnv) write(t *testing.T, file, src string) string {
	t.Helper()
	path := filepath.Join(e.dir, file)
	require.NoError(t, os.WriteFile(path, []byte(src), 0o600))
	return path
}

// resetFlags clears the package level flag state between executions
func resetFlags() {
	configFile, extensionsDir, securityLevel, verbose = "", "", "", false
	scanFlags.jsonOutput = false
	listFlags.jsonOutput, listFlags.yamlOutput = false, false
	runFlags = runCmdFlags{}
	doctorFlags.jsonOutput = false
	validateFlags.pattern, validateFlags.maxBytes = "name", 4096
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags()
	t.Cleanup(resetFlags)

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(new(bytes.Buffer))
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

const tracerExtension = `# name: tracer
# version: 1.2.0
# security_level: medium

def handle(ev):
    host.request_ui_update(ev.kind)

def register():
    return handle
`

func TestScan_Accepted(t *testing.T) {
	env := newTestEnv(t)
	path := env.write(t, "tracer.star", tracerExtension)

	out, err := execute(t, "--config", env.config, "scan", path)
	require.NoError(t, err)
	assert.Contains(t, out, "ACCEPTED (tracer, level medium)")
	assert.Equal(t, 0, ExitCode(err))
}

func TestScan_Rejected(t *testing.T) {
	env := newTestEnv(t)
	path := env.write(t, "bad.star", "load(\"subprocess\", \"run\")\n\ndef register():\n    return None\n")

	out, err := execute(t, "--config", env.config, "scan", "--json", path)
	require.Error(t, err)
	assert.Equal(t, 2, ExitCode(err))

	var reports []scanReport
	require.NoError(t, json.Unmarshal([]byte(out), &reports))
	require.Len(t, reports, 1)
	assert.False(t, reports[0].Accepted)
	require.NotEmpty(t, reports[0].Findings)
	assert.Equal(t, "DeniedImport", reports[0].Findings[0].RuleID)
}

func TestValidateColor(t *testing.T) {
	out, err := execute(t, "validate", "color", "#abc", "rgb(255, 0, 0)")
	require.NoError(t, err)
	assert.Contains(t, out, `"#abc" -> #aabbcc`)
	assert.Contains(t, out, `"rgb(255, 0, 0)" -> #ff0000`)

	out, err = execute(t, "validate", "color", "not-a-color")
	assert.Equal(t, 2, ExitCode(err))
	assert.Contains(t, out, "INVALID")
}

func TestValidateIdentifier(t *testing.T) {
	out, err := execute(t, "validate", "identifier", "waybar-colors", "1bad")
	require.Error(t, err)
	assert.Contains(t, out, `OK      "waybar-colors"`)
	assert.Contains(t, out, `INVALID "1bad"`)
}

func TestDoctor_JSON(t *testing.T) {
	out, err := execute(t, "doctor", "--json")
	require.NoError(t, err)

	var info map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Contains(t, info, "interpreter")
	assert.Contains(t, info, "capabilities")
}

func TestRun_DispatchesEvents(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, "tracer.star", tracerExtension)

	out, err := execute(t, "--config", env.config, "run", "--json",
		"--event", "on_preview_update", "--set", "component=waybar")
	require.NoError(t, err)

	var report runReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, []string{"tracer"}, report.Loaded)
	assert.Empty(t, report.LoadErrors)
	require.Len(t, report.Dispatches, 1)
	assert.Equal(t, "on_preview_update", report.Dispatches[0].Event)
	require.Len(t, report.Dispatches[0].Deliveries, 1)
	assert.Equal(t, "delivered", report.Dispatches[0].Deliveries[0].Outcome)
	assert.Contains(t, report.UIRequests, "tracer -> on_preview_update")

	// the lock is released afterwards
	_, err = os.Stat(filepath.Join(env.dir, ".hyprsandbox.lock"))
	assert.True(t, os.IsNotExist(err))
}

func TestList_JSON(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, "tracer.star", tracerExtension)
	env.write(t, "bad.star", "load(\"os\", \"system\")\n")

	out, err := execute(t, "--config", env.config, "list", "--json")
	require.NoError(t, err)

	var items []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &items))
	require.Len(t, items, 2)

	byName := make(map[string]map[string]any)
	for _, item := range items {
		byName[item["name"].(string)] = item
	}
	assert.Equal(t, true, byName["tracer"]["accepted"])
	assert.Equal(t, "1.2.0", byName["tracer"]["version"])
	assert.Equal(t, false, byName["bad"]["accepted"])
	assert.NotEmpty(t, byName["bad"]["rejection"])
}
