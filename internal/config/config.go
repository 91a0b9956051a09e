// Package config carries the explicit, non-ambient process configuration
// described in Design Notes §9: cache directory, install roots, and the
// ruby-dirs search path are threaded through every command entry point
// rather than read from package-level globals.
package config

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/BurntSushi/toml"
)

// Config is passed explicitly to every subcommand. Precedence (lowest to
// highest): compiled-in defaults, the TOML file, environment variables,
// then CLI flags layered on by cmd/rv.
type Config struct {
	CacheDir    string   `toml:"cache_dir"`
	InstallRoot string   `toml:"install_root"`
	RubyDirs    []string `toml:"ruby_dirs"`
	NoCache     bool     `toml:"-"`
	DefaultRuby string   `toml:"default_ruby"`
	Format      string   `toml:"-"`
	LogLevel    string   `toml:"-"`
}

// fileConfig mirrors the on-disk TOML schema; DefaultRuby is the only
// field a user is expected to hand-edit, the rest exist for overrides.
type fileConfig struct {
	CacheDir    string   `toml:"cache_dir"`
	InstallRoot string   `toml:"install_root"`
	RubyDirs    []string `toml:"ruby_dirs"`
	DefaultRuby string   `toml:"default_ruby"`
}

// Load builds a Config from defaults, the XDG config file, then
// environment variables. CLI flags are applied afterward by the caller.
func Load() (Config, error) {
	cfg := Config{
		CacheDir:    defaultCacheDir(),
		InstallRoot: defaultInstallRoot(),
		RubyDirs:    defaultRubyDirs(),
		Format:      "text",
		LogLevel:    "warn",
	}

	if path := configFilePath(); path != "" {
		if data, err := os.ReadFile(path); err == nil {
			var fc fileConfig
			if _, err := toml.Decode(string(data), &fc); err != nil {
				return cfg, err
			}
			if fc.CacheDir != "" {
				cfg.CacheDir = fc.CacheDir
			}
			if fc.InstallRoot != "" {
				cfg.InstallRoot = fc.InstallRoot
			}
			if len(fc.RubyDirs) > 0 {
				cfg.RubyDirs = append(cfg.RubyDirs, fc.RubyDirs...)
			}
			if fc.DefaultRuby != "" {
				cfg.DefaultRuby = fc.DefaultRuby
			}
		}
	}

	if v := os.Getenv("RV_CACHE_DIR"); v != "" {
		cfg.CacheDir = v
	}
	if v := os.Getenv("RV_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	return cfg, nil
}

func configFilePath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "rv", "config.toml")
}

func defaultCacheDir() string {
	if dir := os.Getenv("XDG_CACHE_HOME"); dir != "" {
		return filepath.Join(dir, "rv")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "rv")
	}
	if runtime.GOOS == "darwin" {
		return filepath.Join(home, "Library", "Caches", "rv")
	}
	return filepath.Join(home, ".cache", "rv")
}

func defaultInstallRoot() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "rv", "rubies")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "rv", "rubies")
	}
	return filepath.Join(home, ".local", "share", "rv", "rubies")
}

func defaultRubyDirs() []string {
	home, err := os.UserHomeDir()
	dirs := []string{defaultInstallRoot()}
	if err == nil {
		dirs = append(dirs, filepath.Join(home, ".rubies"))
	}
	dirs = append(dirs, "/opt/rubies")
	switch runtime.GOOS {
	case "darwin":
		dirs = append(dirs, "/opt/homebrew/opt/ruby*", "/usr/local/opt/ruby*")
	case "linux":
		dirs = append(dirs, "/usr/local/Cellar/ruby*")
	}
	return dirs
}
