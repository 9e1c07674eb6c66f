// Package runner executes a loaded program from a manifest and benchmarks
// repeated executions across concurrent workers.
package runner

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/amikos-tech/pure-neuron/internal/manifest"
	"github.com/amikos-tech/pure-neuron/internal/metrics"
	"github.com/amikos-tech/pure-neuron/internal/tensordata"
	"github.com/amikos-tech/pure-neuron/nrt"
)

// Config carries the collaborators a run needs. Zero values are usable.
type Config struct {
	Logger   *zap.Logger
	Recorder *metrics.Recorder
	// Options are appended to the manifest's load options.
	Options []nrt.Option
}

func (c Config) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}

// Output is one output tensor after execution. Data is owned by the caller.
type Output struct {
	Info nrt.TensorInfo
	Data []byte
}

// Values decodes the output according to its dtype.
func (o Output) Values() ([]float64, error) {
	return tensordata.Decode(o.Info.DType, o.Data)
}

// Summary renders the first limit values of the output on one line.
func (o Output) Summary(limit int) (string, error) {
	values, err := o.Values()
	if err != nil {
		return "", err
	}
	truncated := false
	if limit > 0 && len(values) > limit {
		values = values[:limit]
		truncated = true
	}
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprintf("%g", v)
	}
	s := fmt.Sprintf("%s %s [%s] = [%s", o.Info.Name, o.Info.DType, nrt.FormatShape(o.Info.Shape), strings.Join(parts, " "))
	if truncated {
		s += " ..."
	}
	return s + "]", nil
}

// LoadModel loads the program at path with opts followed by cfg.Options,
// recording the attempt.
func LoadModel(cfg Config, path string, opts ...nrt.Option) (*nrt.Model, error) {
	opts = append(opts, cfg.Options...)
	start := time.Now()
	model, err := nrt.LoadModelFromFile(path, opts...)
	if cfg.Recorder != nil {
		cfg.Recorder.ObserveLoad(time.Since(start), err)
	}
	return model, err
}

// Run loads the manifest's program, binds its inputs, executes once and
// returns every output ordered by name. Outputs named with a file are also
// written to disk. Inputs the manifest does not mention are zero-filled.
func Run(cfg Config, m *manifest.Manifest) ([]Output, error) {
	model, err := LoadModel(cfg, m.NEFFPath(), m.Options()...)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := model.Destroy(); err != nil {
			cfg.logger().Warn("failed to destroy model", zap.Error(err))
		}
	}()

	return Execute(cfg, model, m)
}

// Execute binds the manifest's tensors on model's default IoTensors, executes
// once and collects the outputs.
func Execute(cfg Config, model *nrt.Model, m *manifest.Manifest) ([]Output, error) {
	log := cfg.logger()

	infos := make(map[string]nrt.TensorInfo)
	for _, info := range model.TensorInfo() {
		infos[info.Usage.String()+"/"+info.Name] = info
	}
	lookup := func(usage nrt.TensorUsage, name string) (nrt.TensorInfo, error) {
		info, ok := infos[usage.String()+"/"+name]
		if !ok {
			return nrt.TensorInfo{}, fmt.Errorf("program has no %s tensor %q", usage, name)
		}
		return info, nil
	}

	for _, out := range m.Outputs {
		if _, err := lookup(nrt.TensorUsageOutput, out.Name); err != nil {
			return nil, err
		}
	}

	provided := make(map[string]bool)
	for _, in := range m.Inputs {
		info, err := lookup(nrt.TensorUsageInput, in.Name)
		if err != nil {
			return nil, err
		}
		buf, err := inputBuffer(m, in, info)
		if err != nil {
			return nil, err
		}
		if err := model.Bind(in.Name, nrt.TensorUsageInput, buf); err != nil {
			return nil, err
		}
		provided[in.Name] = true
	}

	outputs := make(map[string][]byte)
	for _, info := range model.TensorInfo() {
		switch {
		case info.Usage == nrt.TensorUsageInput && !provided[info.Name]:
			log.Warn("input not provided, binding zeros", zap.String("tensor", info.Name))
			if err := model.Bind(info.Name, info.Usage, make([]byte, info.Size)); err != nil {
				return nil, err
			}
		case info.Usage == nrt.TensorUsageOutput:
			buf := make([]byte, info.Size)
			if err := model.Bind(info.Name, info.Usage, buf); err != nil {
				return nil, err
			}
			outputs[info.Name] = buf
		}
	}

	execute := model.Execute
	if cfg.Recorder != nil {
		execute = func() error { return cfg.Recorder.Execute(model.Execute) }
	}
	start := time.Now()
	if err := execute(); err != nil {
		return nil, err
	}
	log.Info("execution finished", zap.Duration("elapsed", time.Since(start)), zap.Int("outputs", len(outputs)))

	for _, out := range m.Outputs {
		if out.File == "" {
			continue
		}
		path := m.Resolve(out.File)
		if err := writeFile(path, outputs[out.Name]); err != nil {
			return nil, fmt.Errorf("failed to write output %q: %w", out.Name, err)
		}
		log.Debug("output written", zap.String("tensor", out.Name), zap.String("path", path))
	}

	names := make([]string, 0, len(outputs))
	for name := range outputs {
		names = append(names, name)
	}
	slices.Sort(names)
	result := make([]Output, len(names))
	for i, name := range names {
		info, _ := lookup(nrt.TensorUsageOutput, name)
		result[i] = Output{Info: info, Data: outputs[name]}
	}
	return result, nil
}

func inputBuffer(m *manifest.Manifest, in manifest.Input, info nrt.TensorInfo) ([]byte, error) {
	if in.Shape != "" {
		shape, err := nrt.ParseShape(in.Shape)
		if err != nil {
			return nil, fmt.Errorf("input %q: %w", in.Name, err)
		}
		if !slices.Equal(shape, info.Shape) {
			return nil, fmt.Errorf("input %q: shape [%s] does not match program shape [%s]",
				in.Name, nrt.FormatShape(shape), nrt.FormatShape(info.Shape))
		}
	}

	if in.File != "" {
		buf, err := os.ReadFile(m.Resolve(in.File))
		if err != nil {
			return nil, fmt.Errorf("input %q: %w", in.Name, err)
		}
		return buf, nil
	}

	if uint64(len(in.Values)) != info.ElementCount() {
		return nil, fmt.Errorf("input %q: %d values given, program expects %d", in.Name, len(in.Values), info.ElementCount())
	}
	buf, err := tensordata.Encode(info.DType, in.Values)
	if err != nil {
		return nil, fmt.Errorf("input %q: %w", in.Name, err)
	}
	return buf, nil
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
