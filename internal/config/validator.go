package config

import (
	"fmt"
	"strings"
	"time"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation: %s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors collects multiple validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validator validates configuration.
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new validator.
func NewValidator() *Validator {
	return &Validator{errors: make(ValidationErrors, 0)}
}

// Validate validates the entire configuration.
func (v *Validator) Validate(cfg *Config) error {
	v.validateLog(&cfg.Log)
	v.validatePipeline(&cfg.Pipeline)
	v.validateSecondary(&cfg.Secondary)
	v.validateProviders(&cfg.Providers)
	v.validateServer(&cfg.Server)

	if len(v.errors) > 0 {
		return v.errors
	}
	return nil
}

func (v *Validator) addError(field string, value interface{}, msg string) {
	v.errors = append(v.errors, ValidationError{Field: field, Value: value, Message: msg})
}

func (v *Validator) validateLog(cfg *LogConfig) {
	switch cfg.Level {
	case "", "debug", "info", "warn", "error":
	default:
		v.addError("log.level", cfg.Level, "must be one of debug, info, warn, error")
	}
	switch cfg.Format {
	case "", "auto", "text", "json":
	default:
		v.addError("log.format", cfg.Format, "must be one of auto, text, json")
	}
}

func (v *Validator) validateServer(cfg *ServerConfig) {
	if cfg.RequestTimeout != "" {
		if _, err := time.ParseDuration(cfg.RequestTimeout); err != nil {
			v.addError("server.request_timeout", cfg.RequestTimeout, "must be a valid duration")
		}
	}
}

func (v *Validator) validatePipeline(cfg *PipelineConfig) {
	if cfg.ExternalCallTimeout != "" {
		d, err := time.ParseDuration(cfg.ExternalCallTimeout)
		if err != nil {
			v.addError("pipeline.external_call_timeout", cfg.ExternalCallTimeout, "must be a valid duration")
		} else if d <= 0 {
			v.addError("pipeline.external_call_timeout", cfg.ExternalCallTimeout, "must be positive")
		}
	}
	if cfg.MaxImages < 1 {
		v.addError("pipeline.max_images", cfg.MaxImages, "must be at least 1")
	}
}

func (v *Validator) validateSecondary(cfg *SecondaryConfig) {
	if cfg.HighConfidence < 0 || cfg.HighConfidence > 1 {
		v.addError("secondary.high_confidence", cfg.HighConfidence, "must be in [0,1]")
	}
	for field, w := range map[string]float64{
		"secondary.fast_pass_weight": cfg.FastPassWeight,
		"secondary.slow_pass_weight": cfg.SlowPassWeight,
		"secondary.vision_weight":    cfg.VisionWeight,
	} {
		if w < 0 || w > 1 {
			v.addError(field, w, "must be in [0,1]")
		}
	}
	if cfg.SeverityMargin < 0 || cfg.SeverityMargin > 100 {
		v.addError("secondary.severity_margin", cfg.SeverityMargin, "must be in [0,100]")
	}
}

func (v *Validator) validateProviders(cfg *ProvidersConfig) {
	if cfg.Weather.HistoricalDays < 1 {
		v.addError("providers.weather.historical_days", cfg.Weather.HistoricalDays, "must be at least 1")
	}
	if cfg.Weather.ForecastDays < 1 {
		v.addError("providers.weather.forecast_days", cfg.Weather.ForecastDays, "must be at least 1")
	}
	if cfg.Anthropic.MaxTokens < 1 {
		v.addError("providers.anthropic.max_tokens", cfg.Anthropic.MaxTokens, "must be positive")
	}
}
