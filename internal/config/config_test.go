package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoadFileJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hdlsim.json")
	writeFile(t, path, `{"simulation":{"steps":5},"analysis":{"advisories":false}}`)

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Simulation.Steps)
	assert.Equal(t, 10, cfg.Simulation.StepDuration)
	assert.Equal(t, "1ns", cfg.VCD.Timescale)
	assert.False(t, cfg.AdvisoriesEnabled())
	assert.Equal(t, defaultInclude, cfg.Analysis.Include)
}

func TestLoadFileYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hdlsim.yaml")
	writeFile(t, path, `
vcd:
  timescale: 10ps
  scope: dut
output:
  display_hints: true
server:
  addr: "127.0.0.1:9000"
`)

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "10ps", cfg.VCD.Timescale)
	assert.Equal(t, "dut", cfg.VCD.Scope)
	assert.True(t, cfg.Output.DisplayHints)
	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
	assert.True(t, cfg.AdvisoriesEnabled())
}

func TestLoadFileRejectsContractViolations(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"unknown_key", "c.json", `{"simulation":{"stepz":5}}`},
		{"steps_out_of_range", "c.json", `{"simulation":{"steps":0}}`},
		{"bad_fallback", "c.yaml", "simulation:\n  fallback: strict\n"},
		{"bad_var_type", "c.yml", "vcd:\n  var_type: integer\n"},
		{"malformed_json", "c.json", `{"simulation":`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), tt.file)
			writeFile(t, path, tt.content)
			_, err := LoadFile(path)
			assert.Error(t, err)
		})
	}
}

func TestLoadFileEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hdlsim.yaml")
	writeFile(t, path, "")

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadSearchesRoot(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, ".hdlsim.json"), `{"simulation":{"steps":7}}`)
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load(root)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Simulation.Steps)

	cfg, err = Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Simulation.Steps = 42
	cfg.Analysis.PolicyDir = "policies"

	for _, name := range []string{"out.json", "out.yaml"} {
		path := filepath.Join(dir, name)
		require.NoError(t, cfg.Save(path))

		loaded, err := LoadFile(path)
		require.NoError(t, err, name)
		assert.Equal(t, cfg, loaded, name)
	}
	assert.NoError(t, cfg.Validate())
}

func TestResolveSources(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "and_gate.v"), "// design")
	writeFile(t, filepath.Join(root, "and_gate_tb.v"), "// tb")
	writeFile(t, filepath.Join(root, "rtl", "counter.sv"), "// design")
	writeFile(t, filepath.Join(root, "lonely_tb.v"), "// tb without design")
	writeFile(t, filepath.Join(root, "notes.txt"), "ignored")
	writeFile(t, filepath.Join(root, "scratch", "skip.v"), "// excluded")

	cfg := DefaultConfig()
	cfg.Analysis.Exclude = []string{"scratch/*"}

	sources, err := cfg.ResolveSources(root)
	require.NoError(t, err)

	assert.Equal(t, []Source{
		{Design: filepath.Join(root, "and_gate.v"), Testbench: filepath.Join(root, "and_gate_tb.v")},
		{Design: filepath.Join(root, "lonely_tb.v")},
		{Design: filepath.Join(root, "rtl", "counter.sv")},
	}, sources)
	assert.Equal(t, "and_gate", sources[0].Name())
}

func TestShouldExclude(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Analysis.Exclude = []string{"*_old.v"}
	assert.True(t, cfg.ShouldExclude("/x/y/mux_old.v"))
	assert.False(t, cfg.ShouldExclude("/x/y/mux.v"))
}
