package scan

import (
	"fmt"
	"os"
	"runtime"

	"gopkg.in/yaml.v3"

	"github.com/ccie14019/shadow-ai-signatures/internal/reassembly"
)

// Config holds runner configuration.
type Config struct {
	// Port filters captured frames to one TCP port; 0 keeps all.
	Port uint16
	// Workers bounds the number of capture files processed in
	// parallel. Zero selects the number of CPUs.
	Workers int
	// Reassembly carries the session-abandonment policy.
	Reassembly reassembly.Config
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Port:       443,
		Workers:    runtime.NumCPU(),
		Reassembly: reassembly.DefaultConfig(),
	}
}

// Target is one framework/version to verify, with the capture files of
// its verification runs.
type Target struct {
	Framework   string   `yaml:"framework"`
	Version     string   `yaml:"version"`
	Language    string   `yaml:"language,omitempty"`
	HTTPLibrary string   `yaml:"http_library,omitempty"`
	Captures    []string `yaml:"captures"`
}

// Plan is a verification campaign: which captures belong to which
// framework, plus capture-level options.
type Plan struct {
	Port    uint16   `yaml:"port,omitempty"`
	Workers int      `yaml:"workers,omitempty"`
	Targets []Target `yaml:"targets"`
}

// LoadPlan reads a campaign plan from a YAML file.
func LoadPlan(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}

	var plan Plan
	if err := yaml.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("scan: parse plan %s: %w", path, err)
	}
	if len(plan.Targets) == 0 {
		return nil, fmt.Errorf("scan: plan %s has no targets", path)
	}
	for i, t := range plan.Targets {
		if t.Framework == "" || t.Version == "" {
			return nil, fmt.Errorf("scan: plan target %d is missing framework or version", i)
		}
		if len(t.Captures) == 0 {
			return nil, fmt.Errorf("scan: plan target %s %s has no captures", t.Framework, t.Version)
		}
	}
	return &plan, nil
}
