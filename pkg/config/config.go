// Package config loads the project configuration file: cell layout,
// rule kinds, implicit includes, build configuration values and
// telemetry settings.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/quarrybuild/quarry/pkg/telemetry"
)

// Config is the root of the project configuration.
type Config struct {
	// Project describes the cell layout.
	Project ProjectConfig `yaml:"project"`

	// Rules are the rule kinds exposed to build files.
	Rules []string `yaml:"rules"`

	// ImplicitIncludes are load references applied to every build file.
	ImplicitIncludes []string `yaml:"implicit_includes"`

	// Configs are the values visible to read_config, keyed by section
	// then field.
	Configs map[string]map[string]string `yaml:"configs"`

	// Imports configures the sandbox import surface.
	Imports ImportsConfig `yaml:"imports"`

	// Telemetry configures logging and metrics.
	Telemetry telemetry.Config `yaml:"telemetry"`
}

// ProjectConfig describes the cell layout and build file naming.
type ProjectConfig struct {
	// Root is the current cell's root directory. Relative paths are
	// resolved against the config file's directory.
	Root string `yaml:"root"`

	// CellName names the current cell. Empty for the main cell.
	CellName string `yaml:"cell_name"`

	// Cells maps cell names to root directories, relative to Root.
	Cells map[string]string `yaml:"cells"`

	// BuildFileName is the canonical build file name.
	BuildFileName string `yaml:"build_file_name"`
}

// ImportsConfig configures which host modules file bodies may import.
type ImportsConfig struct {
	// Allowlist names modules importable without restriction.
	Allowlist []string `yaml:"allowlist"`

	// SafeModules maps a blocked module to the members exposed in its
	// safe version.
	SafeModules map[string][]string `yaml:"safe_modules"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Project: ProjectConfig{
			Root:          ".",
			BuildFileName: "BUILD",
		},
		Telemetry: telemetry.DefaultConfig(),
	}
}

// Load reads a configuration file and resolves its paths. Absent
// optional fields keep their defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
	}

	base := filepath.Dir(path)
	cfg.Project.Root = resolve(base, cfg.Project.Root)
	for name, root := range cfg.Project.Cells {
		cfg.Project.Cells[name] = resolve(cfg.Project.Root, root)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Project.Root == "" {
		return fmt.Errorf("project.root is required")
	}
	if c.Project.BuildFileName == "" {
		return fmt.Errorf("project.build_file_name is required")
	}
	for name, root := range c.Project.Cells {
		if name == "" {
			return fmt.Errorf("cells: empty cell name")
		}
		if root == "" {
			return fmt.Errorf("cells: cell %s has no root", name)
		}
	}
	return c.Telemetry.Validate()
}

func resolve(base, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}
