package runner

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amikos-tech/pure-neuron/internal/manifest"
	"github.com/amikos-tech/pure-neuron/internal/metrics"
	"github.com/amikos-tech/pure-neuron/nrt"
	"github.com/amikos-tech/pure-neuron/nrt/nrttest"
)

func writeManifest(t *testing.T, content string) *manifest.Manifest {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "model.neff"), []byte("fake neff"), 0o644))
	path := filepath.Join(dir, "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	m, err := manifest.Load(path)
	require.NoError(t, err)
	return m
}

func newRuntime() *nrttest.Runtime {
	return nrttest.New(
		nrttest.Input("x", nrt.DTypeUint8, 4),
		nrttest.Input("z", nrt.DTypeUint8, 2),
		nrttest.Output("y", nrt.DTypeUint8, 4),
		nrttest.Output("w", nrt.DTypeUint8, 2),
	)
}

func TestRunBindsExecutesAndWritesOutputs(t *testing.T) {
	rt := newRuntime()
	m := writeManifest(t, `
neff: model.neff
inputs:
  - name: x
    values: [1, 2, 3, 4]
    shape: "4"
outputs:
  - name: y
    file: out/y.bin
`)
	rec := metrics.NewRecorder()

	outputs, err := Run(Config{Recorder: rec, Options: []nrt.Option{nrt.WithRuntime(rt)}}, m)
	require.NoError(t, err)

	require.Len(t, outputs, 2)
	assert.Equal(t, "w", outputs[0].Info.Name)
	assert.Equal(t, "y", outputs[1].Info.Name)
	assert.Equal(t, []byte{2, 3, 4, 5}, outputs[1].Data)
	assert.Equal(t, []byte{2, 3}, outputs[0].Data)

	written, err := os.ReadFile(m.Resolve("out/y.bin"))
	require.NoError(t, err)
	assert.Equal(t, []byte{2, 3, 4, 5}, written)

	summary, err := outputs[1].Summary(2)
	require.NoError(t, err)
	assert.Equal(t, "y uint8 [4] = [2 3 ...]", summary)

	count, err := testutil.GatherAndCount(rec.Registry(), "nrt_model_executions_total", "nrt_model_loads_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestRunZeroFillsMissingInputs(t *testing.T) {
	rt := newRuntime()
	m := writeManifest(t, `
neff: model.neff
inputs:
  - name: z
    values: [7, 7]
`)

	outputs, err := Run(Config{Options: []nrt.Option{nrt.WithRuntime(rt)}}, m)
	require.NoError(t, err)
	// x sorts first and was zero-filled.
	assert.Equal(t, []byte{1, 1, 1, 1}, outputs[1].Data)
	assert.Equal(t, 0, rt.LiveModels())
	assert.Equal(t, 0, rt.LiveTensors())
}

func TestRunFromFileInput(t *testing.T) {
	rt := newRuntime()
	m := writeManifest(t, `
neff: model.neff
inputs:
  - name: x
    file: x.bin
`)
	require.NoError(t, os.WriteFile(m.Resolve("x.bin"), []byte{9, 8, 7, 6}, 0o644))

	outputs, err := Run(Config{Options: []nrt.Option{nrt.WithRuntime(rt)}}, m)
	require.NoError(t, err)
	assert.Equal(t, []byte{10, 9, 8, 7}, outputs[1].Data)
}

func TestRunErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"unknown input", "neff: model.neff\ninputs:\n  - name: nope\n    values: [1]\n", `no input tensor "nope"`},
		{"output named as input", "neff: model.neff\ninputs:\n  - name: y\n    values: [1, 2, 3, 4]\n", `no input tensor "y"`},
		{"unknown output", "neff: model.neff\noutputs:\n  - name: nope\n", `no output tensor "nope"`},
		{"value count", "neff: model.neff\ninputs:\n  - name: x\n    values: [1, 2]\n", "2 values given, program expects 4"},
		{"shape mismatch", "neff: model.neff\ninputs:\n  - name: x\n    values: [1, 2, 3, 4]\n    shape: \"2,2\"\n", "does not match program shape"},
		{"value overflow", "neff: model.neff\ninputs:\n  - name: x\n    values: [1, 2, 3, 400]\n", "overflows"},
		{"missing input file", "neff: model.neff\ninputs:\n  - name: x\n    file: missing.bin\n", "missing.bin"},
		{"wrong file size", "neff: model.neff\ninputs:\n  - name: x\n    file: model.neff\n", "buffer size mismatch"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt := newRuntime()
			m := writeManifest(t, tt.content)
			_, err := Run(Config{Options: []nrt.Option{nrt.WithRuntime(rt)}}, m)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.Equal(t, 0, rt.LiveModels())
			assert.Equal(t, 0, rt.LiveTensors())
			assert.Equal(t, 0, rt.LiveTensorSets())
		})
	}
}

func TestRunMissingNEFF(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte("neff: absent.neff\n"), 0o644))
	m, err := manifest.Load(path)
	require.NoError(t, err)

	rec := metrics.NewRecorder()
	_, err = Run(Config{Recorder: rec, Options: []nrt.Option{nrt.WithRuntime(newRuntime())}}, m)
	require.ErrorIs(t, err, nrt.ErrFileAccess)
}

func TestBench(t *testing.T) {
	rt := newRuntime()
	model, err := nrt.LoadModelFromBuffer([]byte("neff"), nrt.WithRuntime(rt))
	require.NoError(t, err)
	defer func() { require.NoError(t, model.Destroy()) }()
	baseline := rt.LiveTensors()

	rec := metrics.NewRecorder()
	result, err := Bench(context.Background(), Config{Recorder: rec}, model, BenchConfig{Iterations: 25, Concurrency: 4, Warmup: 1})
	require.NoError(t, err)

	assert.Equal(t, 25, result.Iterations)
	assert.Equal(t, 4, result.Concurrency)
	assert.LessOrEqual(t, result.P50, result.P99)
	assert.LessOrEqual(t, result.P99, result.Max)
	assert.Equal(t, 25+4, rt.Calls(nrttest.OpExecute))
	assert.Equal(t, baseline, rt.LiveTensors(), "worker tensors leaked")
}

func TestBenchStopsOnError(t *testing.T) {
	rt := newRuntime()
	model, err := nrt.LoadModelFromBuffer([]byte("neff"), nrt.WithRuntime(rt))
	require.NoError(t, err)
	defer func() { require.NoError(t, model.Destroy()) }()

	rt.FailAfter(nrttest.OpExecute, 3, nrt.StatusTimeout)
	_, err = Bench(context.Background(), Config{}, model, BenchConfig{Iterations: 50, Concurrency: 2})
	require.ErrorIs(t, err, nrt.ErrExecution)
	assert.Equal(t, nrt.StatusTimeout, nrt.StatusOf(err))
}

func TestBenchValidation(t *testing.T) {
	_, err := Bench(context.Background(), Config{}, nil, BenchConfig{Iterations: 0})
	require.Error(t, err)
	_, err = Bench(context.Background(), Config{}, nil, BenchConfig{Iterations: 1, Warmup: -1})
	require.Error(t, err)
}

func TestBenchCanceled(t *testing.T) {
	rt := newRuntime()
	model, err := nrt.LoadModelFromBuffer([]byte("neff"), nrt.WithRuntime(rt))
	require.NoError(t, err)
	defer func() { require.NoError(t, model.Destroy()) }()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Bench(ctx, Config{}, model, BenchConfig{Iterations: 10, Concurrency: 2})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, rt.Calls(nrttest.OpExecute))
}

func TestPercentile(t *testing.T) {
	result := summarize([]time.Duration{5, 1, 4, 2, 3}, 10)
	assert.Equal(t, time.Duration(3), result.Mean)
	assert.Equal(t, time.Duration(3), result.P50)
	assert.Equal(t, time.Duration(5), result.P99)
	assert.Equal(t, time.Duration(5), result.Max)
	assert.Equal(t, 500000000.0, result.Throughput())
}
