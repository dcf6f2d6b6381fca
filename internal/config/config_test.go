package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultIsEmpty(t *testing.T) {
	cfg := Default()
	if len(cfg.SysrootPaths) != 0 || cfg.Verbose {
		t.Errorf("Default() = %+v, want zero value", cfg)
	}
}

func TestLoadMissingFileIsNotAnError(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	if err != nil {
		t.Fatalf("Load(missing file): %v", err)
	}
	if len(cfg.SysrootPaths) != 0 {
		t.Errorf("Load(missing file) = %+v, want defaults", cfg)
	}
}

func TestLoadParsesTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corescope.toml")
	content := "sysroot_paths = [\"/sysroot/a\", \"/sysroot/b\"]\nverbose = true\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.SysrootPaths) != 2 || cfg.SysrootPaths[0] != "/sysroot/a" || cfg.SysrootPaths[1] != "/sysroot/b" {
		t.Errorf("SysrootPaths = %v, want [/sysroot/a /sysroot/b]", cfg.SysrootPaths)
	}
	if !cfg.Verbose {
		t.Error("Verbose = false, want true")
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corescope.toml")
	if err := os.WriteFile(path, []byte("sysroot_paths = [\"/from/file\"]\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	t.Setenv("CORESCOPE_SYSROOT", "/from/env/a:/from/env/b")
	t.Setenv("CORESCOPE_VERBOSE", "true")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.SysrootPaths) != 2 || cfg.SysrootPaths[0] != "/from/env/a" {
		t.Errorf("SysrootPaths = %v, want env override to win", cfg.SysrootPaths)
	}
	if !cfg.Verbose {
		t.Error("expected CORESCOPE_VERBOSE=true to set Verbose")
	}
}
