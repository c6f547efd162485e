package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"dedupe-go/internal/tree"
)

const (
	DefaultStateFile          = "state.xml"
	DefaultCheckpointInterval = 50000
)

type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // console, json
	Output string `yaml:"output"` // stderr, stdout, or file path
}

type Config struct {
	// Root is the originals tree.
	Root string `yaml:"root"`
	// DuplicateCandidates is an optional second tree searched for copies of
	// files in Root.
	DuplicateCandidates string `yaml:"duplicate_candidates"`
	// Destination receives relocated duplicates. Without it duplicates are
	// only reported.
	Destination string `yaml:"destination"`

	StateFile            string   `yaml:"state_file"`
	Resume               bool     `yaml:"resume"`
	SkipScan             bool     `yaml:"skip_scan"`
	FindDupesInOriginals bool     `yaml:"find_dupes_in_originals"`
	CheckpointInterval   int      `yaml:"checkpoint_interval"`
	Exclude              []string `yaml:"exclude"`
	MetricsFile          string   `yaml:"metrics_file"`

	Log LogConfig `yaml:"log"`
}

func DefaultConfig() *Config {
	return &Config{
		StateFile:          DefaultStateFile,
		CheckpointInterval: DefaultCheckpointInterval,
		Exclude: []string{
			".git/",
			".svn/",
			".DS_Store",
			"Thumbs.db",
			"desktop.ini",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
			Output: "stderr",
		},
	}
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Unset keys keep their defaults
	cfg := DefaultConfig()
	cfg.Exclude = nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	// Initialize Exclude slice if nil (for empty configs)
	if cfg.Exclude == nil {
		cfg.Exclude = []string{}
	}

	return cfg, nil
}

// Validate checks the settings that do not need the filesystem.
func (c *Config) Validate() error {
	var errs []error
	if c.Root == "" {
		errs = append(errs, errors.New("root directory is required"))
	}
	if c.StateFile == "" {
		errs = append(errs, errors.New("state file path is required"))
	}
	if c.CheckpointInterval <= 0 {
		errs = append(errs, fmt.Errorf("checkpoint interval must be positive, got %d", c.CheckpointInterval))
	}
	if c.Root != "" && c.DuplicateCandidates != "" &&
		(tree.Within(c.Root, c.DuplicateCandidates) || tree.Within(c.DuplicateCandidates, c.Root)) {
		errs = append(errs, fmt.Errorf("duplicate candidates root %q and root %q must not overlap", c.DuplicateCandidates, c.Root))
	}
	return errors.Join(errs...)
}

// RelocateOriginals reports whether duplicates found inside the originals
// tree may be moved. With a single root every file is an original, so
// moving them is the only way to resolve anything.
func (c *Config) RelocateOriginals() bool {
	return c.FindDupesInOriginals || c.DuplicateCandidates == ""
}
