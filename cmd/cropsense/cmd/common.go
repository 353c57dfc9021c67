package cmd

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/viper"

	"github.com/verdanthq/cropsense/internal/adapters/anthropic"
	"github.com/verdanthq/cropsense/internal/adapters/openmeteo"
	"github.com/verdanthq/cropsense/internal/adapters/vision"
	"github.com/verdanthq/cropsense/internal/config"
	"github.com/verdanthq/cropsense/internal/logging"
	"github.com/verdanthq/cropsense/internal/pipeline"
	"github.com/verdanthq/cropsense/internal/tables"
)

// loadConfig resolves configuration from flags, environment, and files.
func loadConfig() (*config.Config, error) {
	loader := config.NewLoaderWithViper(viper.GetViper())
	if cfgFile != "" {
		loader.WithConfigFile(cfgFile)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}
	if err := config.NewValidator().Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// buildLogger creates the process logger writing to out.
func buildLogger(cfg *config.Config, out io.Writer) *logging.Logger {
	level := cfg.Log.Level
	if quiet {
		level = "error"
	}
	return logging.New(logging.Config{
		Level:  level,
		Format: cfg.Log.Format,
		Output: out,
	})
}

// buildTables loads the built-in agronomic tables plus any configured
// override file.
func buildTables(cfg *config.Config) (*tables.Store, error) {
	store, err := tables.NewStore()
	if err != nil {
		return nil, fmt.Errorf("loading agronomic tables: %w", err)
	}
	if cfg.Tables.OverridePath != "" {
		if err := store.ApplyOverride(cfg.Tables.OverridePath); err != nil {
			return nil, fmt.Errorf("applying table override: %w", err)
		}
	}
	return store, nil
}

// buildProviders wires the external capabilities from configuration. The
// vision endpoint is required; the language model and weather service are
// optional and their absence degrades the corresponding stages.
func buildProviders(cfg *config.Config, logger *logging.Logger) (pipeline.Providers, error) {
	var providers pipeline.Providers

	if cfg.Providers.Vision.Endpoint == "" {
		return providers, fmt.Errorf("providers.vision.endpoint is required; set it in config or CROPSENSE_PROVIDERS_VISION_ENDPOINT")
	}
	visionOpts := []vision.Option{vision.WithLogger(logger.Logger)}
	if cfg.Providers.Vision.APIKey != "" {
		visionOpts = append(visionOpts, vision.WithAPIKey(cfg.Providers.Vision.APIKey))
	}
	visionClient, err := vision.New(cfg.Providers.Vision.Endpoint, visionOpts...)
	if err != nil {
		return providers, fmt.Errorf("configuring vision provider: %w", err)
	}
	providers.Vision = visionClient

	apiKey := cfg.Providers.Anthropic.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey != "" {
		llm, err := anthropic.New(anthropic.Config{
			APIKey:    apiKey,
			FastModel: cfg.Providers.Anthropic.FastModel,
			SlowModel: cfg.Providers.Anthropic.SlowModel,
			MaxTokens: cfg.Providers.Anthropic.MaxTokens,
		}, logger.Logger)
		if err != nil {
			return providers, fmt.Errorf("configuring language model: %w", err)
		}
		providers.LLM = llm
	} else {
		logger.Warn("no anthropic api key configured, secondary analysis disabled")
	}

	providers.Weather = openmeteo.New(
		openmeteo.WithBaseURLs(
			cfg.Providers.Weather.ArchiveBaseURL+"/archive",
			cfg.Providers.Weather.BaseURL+"/forecast",
		),
		openmeteo.WithLogger(logger.Logger),
	)

	return providers, nil
}

// pipelineOptions maps configuration onto pipeline options.
func pipelineOptions(cfg *config.Config) (pipeline.Options, error) {
	opts := pipeline.DefaultOptions()

	if cfg.Pipeline.ExternalCallTimeout != "" {
		d, err := time.ParseDuration(cfg.Pipeline.ExternalCallTimeout)
		if err != nil {
			return opts, fmt.Errorf("parsing pipeline.external_call_timeout: %w", err)
		}
		opts.ExternalCallTimeout = d
	}
	opts.ParallelVisionPass = cfg.Pipeline.ParallelVisionPass

	opts.Secondary = pipeline.SecondaryConfig{
		Enabled:              cfg.Secondary.Enabled,
		CrossValidation:      cfg.Secondary.CrossValidation,
		SkipOnHighConfidence: cfg.Secondary.SkipOnHighConfidence,
		HighConfidence:       cfg.Secondary.HighConfidence,
	}
	opts.Weights = pipeline.ConsensusWeights{
		Vision:    cfg.Secondary.VisionWeight,
		FastPass:  cfg.Secondary.FastPassWeight,
		SlowPass:  cfg.Secondary.SlowPassWeight,
		VisionLLM: pipeline.DefaultConsensusWeights().VisionLLM,
	}
	opts.SeverityMargin = cfg.Secondary.SeverityMargin
	opts.HistoricalDays = cfg.Providers.Weather.HistoricalDays
	opts.ForecastDays = cfg.Providers.Weather.ForecastDays

	return opts, nil
}

// buildPipeline assembles a ready-to-run pipeline from configuration.
func buildPipeline(cfg *config.Config, store *tables.Store, logger *logging.Logger) (*pipeline.Pipeline, error) {
	providers, err := buildProviders(cfg, logger)
	if err != nil {
		return nil, err
	}
	opts, err := pipelineOptions(cfg)
	if err != nil {
		return nil, err
	}
	return pipeline.New(opts, providers, store, logger)
}
