package eval

import (
	"github.com/quarrybuild/quarry/pkg/glob"
	"github.com/quarrybuild/quarry/pkg/telemetry"
)

// Options configures an Evaluator. The zero value is not usable; Root
// must point at the current cell's root directory.
type Options struct {
	// Root is the absolute path of the current cell's root directory.
	Root string `yaml:"root"`

	// CellName names the current cell. Empty for the main cell.
	CellName string `yaml:"cell_name"`

	// CellRoots maps cell names to their root directories.
	CellRoots map[string]string `yaml:"cell_roots"`

	// BuildFileName is the canonical build file name, e.g. "BUCK".
	BuildFileName string `yaml:"build_file_name"`

	// ImplicitIncludes are load references applied to every build file
	// and to every explicitly loaded module, in order. They are not
	// applied to each other.
	ImplicitIncludes []string `yaml:"implicit_includes"`

	// RuleKinds are the rule-registration functions exposed to build
	// file bodies.
	RuleKinds []string `yaml:"rule_kinds"`

	// Configs holds the configuration visible to read_config, keyed by
	// section then field.
	Configs map[string]map[string]string `yaml:"configs"`

	// ImportAllowlist names host modules importable without restriction.
	ImportAllowlist []string `yaml:"import_allowlist"`

	// SafeModules maps a blocked module to the members exposed in its
	// safe version. Nil selects the sandbox default.
	SafeModules map[string][]string `yaml:"safe_modules"`

	// Env overrides the process environment for getenv and environ.
	// Nil reads the real environment.
	Env map[string]string `yaml:"env"`

	// Globber answers glob queries. Nil selects a filesystem-backed
	// service.
	Globber glob.Service `yaml:"-"`

	// Logger receives structured evaluation logs. Nil discards them.
	Logger *telemetry.Logger `yaml:"-"`

	// Metrics receives evaluation metrics. Nil disables collection.
	Metrics *telemetry.Metrics `yaml:"-"`
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.BuildFileName == "" {
		out.BuildFileName = "BUILD"
	}
	if out.Globber == nil {
		out.Globber = glob.NewLocalService()
	}
	if out.Logger == nil {
		out.Logger = telemetry.Nop()
	}
	if out.CellName != "" {
		if _, ok := out.CellRoots[out.CellName]; !ok {
			roots := make(map[string]string, len(out.CellRoots)+1)
			for name, root := range out.CellRoots {
				roots[name] = root
			}
			roots[out.CellName] = out.Root
			out.CellRoots = roots
		}
	}
	return out
}
