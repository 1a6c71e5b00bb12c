package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/robert-at-pretension-io/hdlsim/internal/schema"
)

// Config is the top-level configuration for hdlsim
type Config struct {
	// Simulation controls the step engine
	Simulation SimulationConfig `json:"simulation,omitempty" yaml:"simulation,omitempty"`

	// VCD controls the waveform header
	VCD VCDConfig `json:"vcd,omitempty" yaml:"vcd,omitempty"`

	// Output controls captured console output
	Output OutputConfig `json:"output,omitempty" yaml:"output,omitempty"`

	// Analysis contains advisory and batch options
	Analysis AnalysisConfig `json:"analysis,omitempty" yaml:"analysis,omitempty"`

	// Server contains HTTP handler options
	Server ServerConfig `json:"server,omitempty" yaml:"server,omitempty"`
}

// SimulationConfig controls the step engine
type SimulationConfig struct {
	// Steps is the number of step intervals; time 0 is sampled as well
	Steps int `json:"steps,omitempty" yaml:"steps,omitempty"`

	// StepDuration is the simulated time between samples
	StepDuration int `json:"step_duration,omitempty" yaml:"step_duration,omitempty"`

	// Fallback names the policy for unresolved expressions: "zero"
	Fallback string `json:"fallback,omitempty" yaml:"fallback,omitempty"`
}

// VCDConfig controls the waveform header
type VCDConfig struct {
	Timescale string `json:"timescale,omitempty" yaml:"timescale,omitempty"`
	Scope     string `json:"scope,omitempty" yaml:"scope,omitempty"`
	IDBase    int    `json:"id_base,omitempty" yaml:"id_base,omitempty"`
	VarType   string `json:"var_type,omitempty" yaml:"var_type,omitempty"`
}

// OutputConfig controls captured console output
type OutputConfig struct {
	// DisplayHints substitutes canned values for unknown $display arguments
	DisplayHints bool `json:"display_hints,omitempty" yaml:"display_hints,omitempty"`
}

// CacheConfig controls the batch result cache
type CacheConfig struct {
	// Enabled turns on result cache usage
	Enabled *bool `json:"enabled,omitempty" yaml:"enabled,omitempty"`

	// Dir is the cache directory (relative to the batch root if not absolute)
	Dir string `json:"dir,omitempty" yaml:"dir,omitempty"`
}

// AnalysisConfig contains advisory and batch options
type AnalysisConfig struct {
	// MaxParallel limits concurrent batch runs (0 = auto)
	MaxParallel int `json:"max_parallel,omitempty" yaml:"max_parallel,omitempty"`

	// Advisories turns policy evaluation on or off
	Advisories *bool `json:"advisories,omitempty" yaml:"advisories,omitempty"`

	// PolicyDir holds extra .rego modules
	PolicyDir string `json:"policy_dir,omitempty" yaml:"policy_dir,omitempty"`

	// Include is a list of glob patterns for batch sources
	Include []string `json:"include,omitempty" yaml:"include,omitempty"`

	// Exclude is a list of glob patterns removed from Include
	Exclude []string `json:"exclude,omitempty" yaml:"exclude,omitempty"`

	// Cache controls the batch result cache
	Cache CacheConfig `json:"cache,omitempty" yaml:"cache,omitempty"`
}

// ServerConfig contains HTTP handler options
type ServerConfig struct {
	Addr         string `json:"addr,omitempty" yaml:"addr,omitempty"`
	MaxBodyBytes int64  `json:"max_body_bytes,omitempty" yaml:"max_body_bytes,omitempty"`
}

var defaultInclude = []string{"*.v", "*.sv", "**/*.v", "**/*.sv"}

// DefaultConfig returns a sensible default configuration
func DefaultConfig() *Config {
	return &Config{
		Simulation: SimulationConfig{
			Steps:        20,
			StepDuration: 10,
			Fallback:     "zero",
		},
		VCD: VCDConfig{
			Timescale: "1ns",
			Scope:     "top",
			IDBase:    33,
			VarType:   "wire",
		},
		Analysis: AnalysisConfig{
			MaxParallel: 0, // auto
			Advisories:  boolPtr(true),
			Include:     append([]string{}, defaultInclude...),
			Exclude:     []string{},
			Cache: CacheConfig{
				Enabled: boolPtr(false),
				Dir:     ".hdlsim_cache",
			},
		},
		Server: ServerConfig{
			Addr:         ":8080",
			MaxBodyBytes: 1 << 20,
		},
	}
}

func boolPtr(v bool) *bool {
	return &v
}

// Load finds and loads the configuration file
// Search order:
//  1. ./hdlsim.json, ./.hdlsim.json, ./hdlsim.yaml (current working directory)
//  2. the same names under <rootPath> (if different from cwd)
//  3. ~/.config/hdlsim/config.json
//
// Returns DefaultConfig if no config file is found
func Load(rootPath string) (*Config, error) {
	cwd, _ := os.Getwd()

	names := []string{"hdlsim.json", ".hdlsim.json", "hdlsim.yaml"}
	var searchPaths []string
	for _, n := range names {
		searchPaths = append(searchPaths, filepath.Join(cwd, n))
	}

	if info, err := os.Stat(rootPath); err == nil && info.IsDir() {
		absRoot, _ := filepath.Abs(rootPath)
		if absRoot != cwd {
			for _, n := range names {
				searchPaths = append(searchPaths, filepath.Join(rootPath, n))
			}
		}
	}

	if home, err := os.UserHomeDir(); err == nil {
		searchPaths = append(searchPaths, filepath.Join(home, ".config", "hdlsim", "config.json"))
	}

	for _, path := range searchPaths {
		if _, err := os.Stat(path); err == nil {
			return LoadFile(path)
		}
	}

	return DefaultConfig(), nil
}

// LoadFile loads configuration from a specific file. Files ending in .yaml
// or .yml are read as YAML, everything else as JSON. The file content is
// checked against the configuration contract before defaults are applied.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	unmarshal := json.Unmarshal
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		unmarshal = yaml.Unmarshal
	}

	// the raw document is validated so that unknown keys are reported
	var raw interface{}
	if err := unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	if raw != nil {
		v, err := schema.New()
		if err != nil {
			return nil, fmt.Errorf("init config validator: %w", err)
		}
		if err := v.ValidateConfig(raw); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}

	var cfg Config
	if err := unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// Validate checks the configuration against the schema contract.
func (c *Config) Validate() error {
	v, err := schema.New()
	if err != nil {
		return fmt.Errorf("init config validator: %w", err)
	}
	return v.ValidateConfig(c)
}

// applyDefaults fills in missing configuration with defaults
func (c *Config) applyDefaults() {
	def := DefaultConfig()

	if c.Simulation.Steps == 0 {
		c.Simulation.Steps = def.Simulation.Steps
	}
	if c.Simulation.StepDuration == 0 {
		c.Simulation.StepDuration = def.Simulation.StepDuration
	}
	if c.Simulation.Fallback == "" {
		c.Simulation.Fallback = def.Simulation.Fallback
	}

	if c.VCD.Timescale == "" {
		c.VCD.Timescale = def.VCD.Timescale
	}
	if c.VCD.Scope == "" {
		c.VCD.Scope = def.VCD.Scope
	}
	if c.VCD.IDBase == 0 {
		c.VCD.IDBase = def.VCD.IDBase
	}
	if c.VCD.VarType == "" {
		c.VCD.VarType = def.VCD.VarType
	}

	if c.Analysis.Advisories == nil {
		c.Analysis.Advisories = def.Analysis.Advisories
	}
	if len(c.Analysis.Include) == 0 {
		c.Analysis.Include = def.Analysis.Include
	}
	if c.Analysis.Exclude == nil {
		c.Analysis.Exclude = []string{}
	}
	if c.Analysis.Cache.Dir == "" {
		c.Analysis.Cache.Dir = def.Analysis.Cache.Dir
	}
	if c.Analysis.Cache.Enabled == nil {
		c.Analysis.Cache.Enabled = def.Analysis.Cache.Enabled
	}

	if c.Server.Addr == "" {
		c.Server.Addr = def.Server.Addr
	}
	if c.Server.MaxBodyBytes == 0 {
		c.Server.MaxBodyBytes = def.Server.MaxBodyBytes
	}
}

// Save writes the configuration to a file, as YAML when the name ends in
// .yaml or .yml and as indented JSON otherwise.
func (c *Config) Save(path string) error {
	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(c)
	default:
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// AdvisoriesEnabled reports whether policy evaluation runs.
func (c *Config) AdvisoriesEnabled() bool {
	return c.Analysis.Advisories == nil || *c.Analysis.Advisories
}

// CacheEnabled reports whether batch results are cached.
func (c *Config) CacheEnabled() bool {
	return c.Analysis.Cache.Enabled != nil && *c.Analysis.Cache.Enabled
}

// ShouldExclude checks if a file matches one of the exclude patterns
func (c *Config) ShouldExclude(filePath string) bool {
	for _, pattern := range c.Analysis.Exclude {
		if matched, _ := filepath.Match(pattern, filePath); matched {
			return true
		}
		if matched, _ := filepath.Match(pattern, filepath.Base(filePath)); matched {
			return true
		}
	}
	return false
}
