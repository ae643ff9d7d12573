// Package daemoncfg loads the supervisor daemon's own settings (as opposed
// to service descriptions, which pkg/svcconf parses).
package daemoncfg

import (
	"strings"

	"github.com/spf13/viper"
)

// Config holds the supervisor daemon's own runtime settings.
type Config struct {
	// ServiceDirs lists directories to search for service descriptions.
	ServiceDirs []string `mapstructure:"service_dirs"`

	// BootService is the name of the target service to reach STARTED for
	// boot-timing purposes.
	BootService string `mapstructure:"boot_service"`

	// LogLevel is one of debug, info, notice, warn, error.
	LogLevel string `mapstructure:"log_level"`

	// API holds the HTTP control API / metrics listener settings.
	API struct {
		Address string `mapstructure:"address"`
	} `mapstructure:"api"`
}

// Defaults returns a Config populated with the supervisor's built-in
// defaults, used when no config file is present.
func Defaults() Config {
	cfg := Config{
		ServiceDirs: []string{"/etc/supervisor.d"},
		BootService: "boot",
		LogLevel:    "info",
	}
	cfg.API.Address = "127.0.0.1:9100"
	return cfg
}

// Load reads daemon settings from the given YAML file path (if non-empty)
// and from SUPERVISOR_-prefixed environment variables, falling back to
// Defaults() for anything unset.
func Load(path string) (Config, error) {
	cfg := Defaults()

	v := viper.New()
	v.SetEnvPrefix("supervisor")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("service_dirs", cfg.ServiceDirs)
	v.SetDefault("boot_service", cfg.BootService)
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("api.address", cfg.API.Address)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return cfg, err
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
