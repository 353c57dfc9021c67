package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Loader handles configuration loading from multiple sources.
type Loader struct {
	v          *viper.Viper
	configFile string
	envPrefix  string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		v:         viper.New(),
		envPrefix: "CROPSENSE",
	}
}

// NewLoaderWithViper creates a loader using an existing viper instance,
// allowing integration with CLI flag bindings.
func NewLoaderWithViper(v *viper.Viper) *Loader {
	return &Loader{
		v:         v,
		envPrefix: "CROPSENSE",
	}
}

// WithConfigFile sets an explicit config file path.
func (l *Loader) WithConfigFile(path string) *Loader {
	l.configFile = path
	return l
}

// Viper returns the underlying viper instance for flag binding.
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// Load loads configuration from all sources.
// Precedence (highest to lowest):
// 1. CLI flags (set via viper.BindPFlag)
// 2. Environment variables (CROPSENSE_*)
// 3. Project config (.cropsense.yaml in current directory)
// 4. User config (~/.config/cropsense/config.yaml)
// 5. Defaults
func (l *Loader) Load() (*Config, error) {
	l.setDefaults()

	l.v.SetEnvPrefix(l.envPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	} else {
		l.v.SetConfigName(".cropsense")
		l.v.SetConfigType("yaml")
		l.v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			l.v.AddConfigPath(filepath.Join(home, ".config", "cropsense"))
		}
	}

	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values.
func (l *Loader) setDefaults() {
	// Log defaults
	l.v.SetDefault("log.level", "info")
	l.v.SetDefault("log.format", "auto")

	// Server defaults
	l.v.SetDefault("server.addr", ":8080")
	l.v.SetDefault("server.request_timeout", "90s")

	// Pipeline defaults
	l.v.SetDefault("pipeline.external_call_timeout", "30s")
	l.v.SetDefault("pipeline.max_images", 10)
	l.v.SetDefault("pipeline.parallel_vision_pass", true)

	// Secondary analysis defaults
	l.v.SetDefault("secondary.enabled", true)
	l.v.SetDefault("secondary.cross_validation", true)
	l.v.SetDefault("secondary.skip_on_high_confidence", true)
	l.v.SetDefault("secondary.high_confidence", 0.90)
	l.v.SetDefault("secondary.fast_pass_weight", 0.3)
	l.v.SetDefault("secondary.slow_pass_weight", 0.7)
	l.v.SetDefault("secondary.vision_weight", 1.0)
	l.v.SetDefault("secondary.severity_margin", 25.0)

	// Provider defaults
	l.v.SetDefault("providers.anthropic.fast_model", "claude-3-5-haiku-latest")
	l.v.SetDefault("providers.anthropic.slow_model", "claude-sonnet-4-5")
	l.v.SetDefault("providers.anthropic.max_tokens", 1024)
	l.v.SetDefault("providers.weather.base_url", "https://api.open-meteo.com/v1")
	l.v.SetDefault("providers.weather.archive_base_url", "https://archive-api.open-meteo.com/v1")
	l.v.SetDefault("providers.weather.historical_days", 7)
	l.v.SetDefault("providers.weather.forecast_days", 3)

	// Tables defaults
	l.v.SetDefault("tables.watch", false)

	// Trace defaults
	l.v.SetDefault("trace.db_path", ".cropsense/traces.db")
	l.v.SetDefault("trace.export_dir", "")
	l.v.SetDefault("trace.retention", 500)
}
