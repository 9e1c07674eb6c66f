package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

const yamlManifest = `
neff: model.neff
start_core: 0
core_count: 1
inputs:
  - name: x
    values: [1, 0, 0, 0]
    shape: "4"
  - name: mask
    file: mask.bin
outputs:
  - name: y
    file: out/y.bin
print: true
`

const tomlManifest = `
neff = "model.neff"
start_core = 0
core_count = 1
print = true

[[inputs]]
name = "x"
values = [1.0, 0.0, 0.0, 0.0]
shape = "4"

[[inputs]]
name = "mask"
file = "mask.bin"

[[outputs]]
name = "y"
file = "out/y.bin"
`

const jsonManifest = `{
  "neff": "model.neff",
  "start_core": 0,
  "core_count": 1,
  "inputs": [
    {"name": "x", "values": [1, 0, 0, 0], "shape": "4"},
    {"name": "mask", "file": "mask.bin"}
  ],
  "outputs": [{"name": "y", "file": "out/y.bin"}],
  "print": true
}`

func TestLoadFormats(t *testing.T) {
	tests := []struct {
		file    string
		content string
	}{
		{"run.yaml", yamlManifest},
		{"run.yml", yamlManifest},
		{"run.toml", tomlManifest},
		{"run.json", jsonManifest},
	}

	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			dir := t.TempDir()
			m, err := Load(writeTempFile(t, dir, tt.file, tt.content))
			require.NoError(t, err)

			assert.Equal(t, filepath.Join(dir, "model.neff"), m.NEFFPath())
			require.NotNil(t, m.StartCore)
			require.NotNil(t, m.CoreCount)
			assert.Equal(t, int32(0), *m.StartCore)
			assert.Equal(t, int32(1), *m.CoreCount)
			assert.True(t, m.Print)
			require.Len(t, m.Inputs, 2)
			assert.Equal(t, []float64{1, 0, 0, 0}, m.Inputs[0].Values)
			assert.Equal(t, filepath.Join(dir, "mask.bin"), m.Resolve(m.Inputs[1].File))
			require.Len(t, m.Outputs, 1)
			assert.Equal(t, filepath.Join(dir, "out", "y.bin"), m.Resolve(m.Outputs[0].File))
			assert.Len(t, m.Options(), 1)
		})
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		wantErr string
	}{
		{"unsupported extension", "run.ini", "neff=x", "unsupported manifest extension"},
		{"invalid yaml", "bad.yaml", "neff: [\n", "failed to parse manifest"},
		{"invalid json", "bad.json", `{"neff": }`, "failed to parse manifest"},
		{"invalid toml", "bad.toml", "neff\n", "failed to parse manifest"},
		{"missing neff", "run.yaml", "inputs: []\n", "neff is required"},
		{"values and file", "run.yaml", "neff: a\ninputs:\n  - name: x\n    file: x.bin\n    values: [1]\n", "exactly one of file or values"},
		{"neither values nor file", "run.yaml", "neff: a\ninputs:\n  - name: x\n", "exactly one of file or values"},
		{"duplicate input", "run.yaml", "neff: a\ninputs:\n  - name: x\n    values: [1]\n  - name: x\n    values: [2]\n", "duplicate tensor"},
		{"duplicate output", "run.yaml", "neff: a\noutputs:\n  - name: y\n  - name: y\n", "duplicate tensor"},
		{"bad shape", "run.yaml", "neff: a\ninputs:\n  - name: x\n    values: [1]\n    shape: \"1,,2\"\n", "empty dimension"},
		{"bad core count", "run.yaml", "neff: a\ncore_count: 0\n", "core_count"},
		{"bad start core", "run.yaml", "neff: a\nstart_core: -5\n", "start_core"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeTempFile(t, t.TempDir(), tt.file, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/definitely/not/a/real/file-12345.yaml")
	require.Error(t, err)

	_, err = Load("")
	require.Error(t, err)
}

func TestOptionsDefaults(t *testing.T) {
	m := &Manifest{NEFF: "/abs/model.neff"}
	assert.Nil(t, m.Options())
	assert.Equal(t, "/abs/model.neff", m.NEFFPath())
}
