package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "quarry.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadResolvesPaths(t *testing.T) {
	path := writeConfig(t, `
project:
  root: repo
  build_file_name: BUCK
  cells:
    tp2: third-party2
rules:
  - java_library
implicit_includes:
  - "//defs:DEFS"
configs:
  cxx:
    compiler: clang
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	base := filepath.Dir(path)
	if cfg.Project.Root != filepath.Join(base, "repo") {
		t.Errorf("Expected root resolved against the config dir, got %s", cfg.Project.Root)
	}
	if got := cfg.Project.Cells["tp2"]; got != filepath.Join(base, "repo", "third-party2") {
		t.Errorf("Expected cell root resolved against project root, got %s", got)
	}
	if cfg.Project.BuildFileName != "BUCK" {
		t.Errorf("Expected BUCK, got %s", cfg.Project.BuildFileName)
	}
	if len(cfg.Rules) != 1 || cfg.Rules[0] != "java_library" {
		t.Errorf("Unexpected rules: %v", cfg.Rules)
	}
	if cfg.Configs["cxx"]["compiler"] != "clang" {
		t.Errorf("Unexpected configs: %v", cfg.Configs)
	}
}

func TestLoadKeepsDefaults(t *testing.T) {
	path := writeConfig(t, `
rules:
  - java_library
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Project.BuildFileName != "BUILD" {
		t.Errorf("Expected default build file name, got %s", cfg.Project.BuildFileName)
	}
	if cfg.Telemetry.Logging.Level != "info" {
		t.Errorf("Expected default log level, got %s", cfg.Telemetry.Logging.Level)
	}
}

func TestValidateRejectsBadTelemetry(t *testing.T) {
	cfg := Default()
	cfg.Telemetry.Logging.Level = "loud"
	if err := cfg.Validate(); err == nil {
		t.Fatal("Expected an error for an invalid log level")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("Expected an error for a missing config file")
	}
}
