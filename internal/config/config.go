// Package config loads corescope's ambient settings: where to look for
// sysroot replacement objects, and default verbosity. A file provides
// defaults; environment variables override them, using
// github.com/xyproto/env to let the environment win.
package config

import (
	"strings"

	"github.com/BurntSushi/toml"
	env "github.com/xyproto/env/v2"
)

// Config holds corescope's session-wide settings.
type Config struct {
	// SysrootPaths are directories searched, in order, for an on-disk
	// replacement object (executable or .so) when substituting
	// non-writable load pages.
	SysrootPaths []string `toml:"sysroot_paths"`
	// Verbose enables debug-level logging.
	Verbose bool `toml:"verbose"`
}

// Default returns the built-in defaults: no sysroot search paths, quiet
// logging.
func Default() Config {
	return Config{}
}

// Load reads path (a TOML file) into a Config seeded with Default, then
// applies CORESCOPE_SYSROOT (a ":"-separated path list) and
// CORESCOPE_VERBOSE environment overrides. A missing file is not an
// error; it just leaves the defaults (plus any env overrides) in place.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			if !isNotExist(err) {
				return cfg, err
			}
		}
	}
	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := env.Str("CORESCOPE_SYSROOT"); v != "" {
		cfg.SysrootPaths = strings.Split(v, ":")
	}
	if env.Has("CORESCOPE_VERBOSE") {
		cfg.Verbose = env.Bool("CORESCOPE_VERBOSE")
	}
}

func isNotExist(err error) bool {
	type notExister interface{ IsNotExist() bool }
	if ne, ok := err.(notExister); ok {
		return ne.IsNotExist()
	}
	// toml.DecodeFile surfaces the underlying *os.PathError directly for
	// a missing file; fall back to substring matching since os.IsNotExist
	// requires unwrapping through toml's own error type in some versions.
	return strings.Contains(err.Error(), "no such file") || strings.Contains(err.Error(), "cannot find the file")
}
