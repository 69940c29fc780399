package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Supported backend names.
const (
	BackendLVM   = "lvm"
	BackendBtrfs = "btrfs"
	BackendZFS   = "zfs"
)

// SupportedBackends lists backends that can serve as the default pool backend.
var SupportedBackends = []string{BackendLVM, BackendBtrfs, BackendZFS}

// Config is the explicit configuration value handed to every component.
// Nothing in the tree reads process environment after Load returns.
type Config struct {
	DefaultBackend string `yaml:"default_backend" mapstructure:"default_backend"`
	DefaultPool    string `yaml:"default_pool" mapstructure:"default_pool"`
	PrefixFilter   string `yaml:"prefix_filter,omitempty" mapstructure:"prefix_filter"`

	// Per-invocation switches, normally set from command-line flags.
	Force   bool `yaml:"-"`
	Verbose bool `yaml:"-"`
	Yes     bool `yaml:"-"`
}

var defaultConfig = Config{
	DefaultBackend: BackendLVM,
	DefaultPool:    "device_pool",
}

// Default returns a copy of the built-in configuration.
func Default() *Config {
	cfg := defaultConfig
	return &cfg
}

// Load reads the yaml configuration file, then overlays environment
// variables. An empty path searches the default locations; a missing
// file is not an error.
func Load(path string) (*Config, error) {
	if path == "" {
		candidates := []string{
			"/etc/ssm/config.yaml",
			filepath.Join(os.Getenv("HOME"), ".config/ssm/config.yaml"),
			"config.yaml",
		}
		for _, c := range candidates {
			if _, err := os.Stat(c); err == nil {
				path = c
				break
			}
		}
	}

	cfg := defaultConfig
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "reading config %s", path)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, errors.Wrapf(err, "parsing config %s", path)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}
	cfg.normalize()
	return &cfg, nil
}

// applyEnv overlays the environment variables understood by ssm. The
// names predate this tool and do not share a common prefix, so each key
// is bound explicitly.
func applyEnv(cfg *Config) error {
	v := viper.New()
	bindings := map[string]string{
		"default_backend": "SSM_DEFAULT_BACKEND",
		"default_pool":    "DEFAULT_DEVICE_POOL",
		"prefix_filter":   "SSM_PREFIX_FILTER",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return errors.Wrapf(err, "binding %s", env)
		}
	}
	v.SetDefault("default_backend", cfg.DefaultBackend)
	v.SetDefault("default_pool", cfg.DefaultPool)
	v.SetDefault("prefix_filter", cfg.PrefixFilter)

	var env Config
	if err := v.Unmarshal(&env); err != nil {
		return errors.Wrap(err, "reading environment")
	}
	cfg.DefaultBackend = env.DefaultBackend
	cfg.DefaultPool = env.DefaultPool
	cfg.PrefixFilter = env.PrefixFilter
	return nil
}

func (c *Config) normalize() {
	c.DefaultBackend = strings.ToLower(strings.TrimSpace(c.DefaultBackend))
	if !IsSupportedBackend(c.DefaultBackend) {
		c.DefaultBackend = BackendLVM
	}
	if c.DefaultPool == "" {
		c.DefaultPool = defaultConfig.DefaultPool
	}
}

// SetBackend overrides the default backend, as done by the --backend flag.
func (c *Config) SetBackend(name string) error {
	name = strings.ToLower(name)
	if !IsSupportedBackend(name) {
		return errors.Errorf("invalid backend %q (choose from %s)", name, strings.Join(SupportedBackends, ", "))
	}
	c.DefaultBackend = name
	return nil
}

// IsSupportedBackend reports whether name is a known backend.
func IsSupportedBackend(name string) bool {
	for _, b := range SupportedBackends {
		if b == name {
			return true
		}
	}
	return false
}
