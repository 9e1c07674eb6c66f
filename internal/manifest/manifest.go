// Package manifest loads run manifests: which NEFF to load, on which cores,
// and what to bind to each declared tensor.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/amikos-tech/pure-neuron/nrt"
)

// Manifest describes one execution. Relative file paths resolve against the
// manifest's directory.
type Manifest struct {
	NEFF      string   `json:"neff" yaml:"neff" toml:"neff"`
	StartCore *int32   `json:"start_core,omitempty" yaml:"start_core,omitempty" toml:"start_core,omitempty"`
	CoreCount *int32   `json:"core_count,omitempty" yaml:"core_count,omitempty" toml:"core_count,omitempty"`
	Inputs    []Input  `json:"inputs" yaml:"inputs" toml:"inputs"`
	Outputs   []Output `json:"outputs" yaml:"outputs" toml:"outputs"`
	Print     bool     `json:"print" yaml:"print" toml:"print"`

	dir string
}

// Input supplies data for one declared input tensor, either from a raw file or
// from literal values encoded with the tensor's dtype.
type Input struct {
	Name   string    `json:"name" yaml:"name" toml:"name"`
	File   string    `json:"file,omitempty" yaml:"file,omitempty" toml:"file,omitempty"`
	Values []float64 `json:"values,omitempty" yaml:"values,omitempty" toml:"values,omitempty"`
	// Shape, when set, must match the declared shape ("1,128").
	Shape string `json:"shape,omitempty" yaml:"shape,omitempty" toml:"shape,omitempty"`
}

// Output names a declared output tensor and optionally a file to write it to.
type Output struct {
	Name string `json:"name" yaml:"name" toml:"name"`
	File string `json:"file,omitempty" yaml:"file,omitempty" toml:"file,omitempty"`
}

// Load reads a manifest based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (*Manifest, error) {
	if path == "" {
		return nil, fmt.Errorf("empty manifest path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var m Manifest
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &m)
	case ".json":
		err = json.Unmarshal(b, &m)
	case ".toml":
		err = toml.Unmarshal(b, &m)
	default:
		return nil, fmt.Errorf("unsupported manifest extension: %s", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", path, err)
	}

	m.dir = filepath.Dir(path)
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid manifest %s: %w", path, err)
	}
	return &m, nil
}

// Validate checks the manifest's internal consistency. Tensor names are
// checked against the program later, once it is loaded.
func (m *Manifest) Validate() error {
	if strings.TrimSpace(m.NEFF) == "" {
		return fmt.Errorf("neff is required")
	}
	if m.StartCore != nil && *m.StartCore < -1 {
		return fmt.Errorf("start_core must be >= -1, got %d", *m.StartCore)
	}
	if m.CoreCount != nil && (*m.CoreCount < -1 || *m.CoreCount == 0) {
		return fmt.Errorf("core_count must be -1 or > 0, got %d", *m.CoreCount)
	}

	seen := make(map[string]bool)
	for i, in := range m.Inputs {
		if in.Name == "" {
			return fmt.Errorf("inputs[%d]: name is required", i)
		}
		if seen[in.Name] {
			return fmt.Errorf("inputs[%d]: duplicate tensor %q", i, in.Name)
		}
		seen[in.Name] = true
		if (in.File == "") == (len(in.Values) == 0) {
			return fmt.Errorf("input %q: exactly one of file or values is required", in.Name)
		}
		if in.Shape != "" {
			if _, err := nrt.ParseShape(in.Shape); err != nil {
				return fmt.Errorf("input %q: %w", in.Name, err)
			}
		}
	}

	seen = make(map[string]bool)
	for i, out := range m.Outputs {
		if out.Name == "" {
			return fmt.Errorf("outputs[%d]: name is required", i)
		}
		if seen[out.Name] {
			return fmt.Errorf("outputs[%d]: duplicate tensor %q", i, out.Name)
		}
		seen[out.Name] = true
	}
	return nil
}

// Options returns the load options the manifest requests.
func (m *Manifest) Options() []nrt.Option {
	if m.StartCore == nil && m.CoreCount == nil {
		return nil
	}
	start, count := int32(-1), int32(-1)
	if m.StartCore != nil {
		start = *m.StartCore
	}
	if m.CoreCount != nil {
		count = *m.CoreCount
	}
	return []nrt.Option{nrt.WithCoreRange(start, count)}
}

// Resolve returns p relative to the manifest's directory unless it is absolute.
func (m *Manifest) Resolve(p string) string {
	if p == "" || filepath.IsAbs(p) || m.dir == "" {
		return p
	}
	return filepath.Join(m.dir, p)
}

// NEFFPath returns the resolved program path.
func (m *Manifest) NEFFPath() string {
	return m.Resolve(m.NEFF)
}
