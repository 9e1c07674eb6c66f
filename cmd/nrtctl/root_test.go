package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amikos-tech/pure-neuron/nrt"
	"github.com/amikos-tech/pure-neuron/nrt/nrttest"
)

type fakeBackend struct {
	rt       *nrttest.Runtime
	version  nrt.VersionInfo
	openErr  error
	opened   int
	released int
}

func (f *fakeBackend) Open(string) (func() error, error) {
	if f.openErr != nil {
		return nil, f.openErr
	}
	f.opened++
	return func() error {
		f.released++
		return nil
	}, nil
}

func (f *fakeBackend) Version() (nrt.VersionInfo, error) { return f.version, nil }

func (f *fakeBackend) CoreCounts() (uint32, uint32, error) { return 8, 2, nil }

func (f *fakeBackend) LoadOptions() []nrt.Option {
	return []nrt.Option{nrt.WithRuntime(f.rt)}
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		rt: nrttest.New(
			nrttest.Input("x", nrt.DTypeUint8, 4),
			nrttest.Output("y", nrt.DTypeUint8, 4),
		),
		version: nrt.VersionInfo{Major: 2, Minor: 21, Patch: 3, Maintenance: 0, Detail: "RT 2.21.3", GitHash: "abc123"},
	}
}

func execute(t *testing.T, b *fakeBackend, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := NewCLI(&stdout, &stderr, b)
	cmd.SetArgs(append([]string{"--log-level", "error"}, args...))
	err := cmd.Execute()
	return stdout.String(), err
}

func writeNEFF(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "model.neff")
	require.NoError(t, os.WriteFile(path, []byte("fake neff"), 0o644))
	return dir, path
}

func TestVersionCommand(t *testing.T) {
	b := newFakeBackend()
	out, err := execute(t, b, "version", "--require", ">= 2.20")
	require.NoError(t, err)
	assert.Contains(t, out, "runtime version: 2.21.3.0 (abc123)")
	assert.Contains(t, out, "2 visible / 8 total")
	assert.Contains(t, out, `constraint ">= 2.20" satisfied`)
	assert.Equal(t, 1, b.opened)
	assert.Equal(t, 1, b.released)
}

func TestVersionCommandConstraintFails(t *testing.T) {
	b := newFakeBackend()
	_, err := execute(t, b, "version", "--require", ">= 3.0")
	require.Error(t, err)
	assert.Equal(t, 1, b.released, "runtime must be released on failure")
}

func TestOpenFailure(t *testing.T) {
	b := newFakeBackend()
	b.openErr = errors.New("no libnrt")
	_, err := execute(t, b, "version")
	require.EqualError(t, err, "no libnrt")
}

func TestTensorsCommand(t *testing.T) {
	b := newFakeBackend()
	_, neff := writeNEFF(t)

	out, err := execute(t, b, "tensors", neff)
	require.NoError(t, err)
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "uint8")
	assert.Contains(t, out, "2 tensors")
	lines := strings.Split(out, "\n")
	require.GreaterOrEqual(t, len(lines), 3)
	assert.True(t, strings.HasPrefix(lines[1], "x"), "first row: %q", lines[1])
	assert.Equal(t, 0, b.rt.LiveModels())
}

func TestTensorsCommandMissingFile(t *testing.T) {
	_, err := execute(t, newFakeBackend(), "tensors", "/does/not/exist.neff")
	require.Error(t, err)
}

func TestRunCommand(t *testing.T) {
	b := newFakeBackend()
	dir, _ := writeNEFF(t)
	manifestPath := filepath.Join(dir, "run.toml")
	require.NoError(t, os.WriteFile(manifestPath, []byte(`
neff = "model.neff"

[[inputs]]
name = "x"
values = [1, 2, 3, 4]

[[outputs]]
name = "y"
file = "y.bin"
`), 0o644))

	out, err := execute(t, b, "run", "--print", manifestPath)
	require.NoError(t, err)
	assert.Equal(t, "y uint8 [4] = [2 3 4 5]\n", out)

	data, err := os.ReadFile(filepath.Join(dir, "y.bin"))
	require.NoError(t, err)
	assert.Equal(t, []byte{2, 3, 4, 5}, data)
	assert.Equal(t, 0, b.rt.LiveModels())
	assert.Equal(t, 0, b.rt.LiveTensors())
}

func TestBenchCommand(t *testing.T) {
	b := newFakeBackend()
	dir, neff := writeNEFF(t)
	metricsPath := filepath.Join(dir, "bench.prom")

	out, err := execute(t, b, "bench", neff, "-n", "12", "-c", "3", "--warmup", "0", "--metrics-out", metricsPath)
	require.NoError(t, err)
	assert.Contains(t, out, "ITERATIONS")
	assert.Equal(t, 12, b.rt.Calls(nrttest.OpExecute))
	assert.Equal(t, 0, b.rt.LiveModels())

	data, err := os.ReadFile(metricsPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), `nrt_model_executions_total{status="ok"} 12`)
	assert.Contains(t, string(data), `nrt_model_loads_total{status="ok"} 1`)
}

func TestBenchCommandRejectsCoreRange(t *testing.T) {
	b := newFakeBackend()
	_, neff := writeNEFF(t)
	_, err := execute(t, b, "bench", neff, "--core-count", "0")
	require.Error(t, err)
	assert.Equal(t, 1, b.released)
}

func TestEnvFileAndLogFile(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envPath, []byte("NRTCTL_TEST_MARKER=loaded\n"), 0o644))
	t.Cleanup(func() { _ = os.Unsetenv("NRTCTL_TEST_MARKER") })
	logPath := filepath.Join(dir, "nrtctl.log")

	_, err := execute(t, newFakeBackend(), "--env-file", envPath, "--log-file", logPath, "--log-level", "debug", "version")
	require.NoError(t, err)
	assert.Equal(t, "loaded", os.Getenv("NRTCTL_TEST_MARKER"))
	_, err = os.Stat(logPath)
	assert.NoError(t, err)
}

func TestBadLogLevel(t *testing.T) {
	var stdout, stderr bytes.Buffer
	cmd := NewCLI(&stdout, &stderr, newFakeBackend())
	cmd.SetArgs([]string{"--log-level", "chatty", "version"})
	require.Error(t, cmd.Execute())
}
