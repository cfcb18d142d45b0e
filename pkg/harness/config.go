package harness

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// Config carries everything the harness needs to know about its
// collaborators. Zero values fall back to Default(); a TOML file and command
// line flags layer on top.
type Config struct {
	Service ServiceConfig `toml:"service"`
	Stubs   StubsConfig   `toml:"stubs"`
	Watch   WatchConfig   `toml:"watch"`

	// Retries bounds the whole-sequence retry loop for infrastructure
	// failures.
	Retries int `toml:"retries"`
}

// ServiceConfig describes the external analysis service.
type ServiceConfig struct {
	// Bin is the analyzer executable. Empty defers to the environment
	// override and then the conventional name.
	Bin string `toml:"bin"`

	// CacheDir is the service's private cache directory inside the working
	// tree, excluded from snapshot syncing.
	CacheDir string `toml:"cache_dir"`

	// ConfigFile is the per-commit configuration file carrying the
	// stub-location placeholder.
	ConfigFile string `toml:"config_file"`
}

// StubsConfig describes the stub-library bundle.
type StubsConfig struct {
	Bundle      string   `toml:"bundle"`
	Placeholder string   `toml:"placeholder"`
	Essential   []string `toml:"essential"`
}

// WatchConfig describes the file-watch tool.
type WatchConfig struct {
	Bin string `toml:"bin"`
}

// Default returns the conventional configuration.
func Default() Config {
	return Config{
		Service: ServiceConfig{
			CacheDir:   ".analyzer",
			ConfigFile: ".analyzer_configuration",
		},
		Stubs: StubsConfig{
			Placeholder: "STUB_LIBRARY_LOCATION",
			Essential:   []string{"stdlib", "third_party"},
		},
		Watch: WatchConfig{
			Bin: "watchman",
		},
		Retries: 3,
	}
}

// Load reads a TOML config file over the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("harness: load config %q: %w", path, err)
	}
	return cfg, nil
}
