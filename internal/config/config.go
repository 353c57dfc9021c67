package config

// Config holds all application configuration.
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Server    ServerConfig    `mapstructure:"server"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Secondary SecondaryConfig `mapstructure:"secondary"`
	Providers ProvidersConfig `mapstructure:"providers"`
	Tables    TablesConfig    `mapstructure:"tables"`
	Trace     TraceConfig     `mapstructure:"trace"`
}

// LogConfig configures logging behavior.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr           string `mapstructure:"addr"`
	RequestTimeout string `mapstructure:"request_timeout"`
}

// PipelineConfig configures pipeline execution.
type PipelineConfig struct {
	ExternalCallTimeout string `mapstructure:"external_call_timeout"`
	MaxImages           int    `mapstructure:"max_images"`
	ParallelVisionPass  bool   `mapstructure:"parallel_vision_pass"`
}

// SecondaryConfig configures the secondary analysis branch.
type SecondaryConfig struct {
	Enabled              bool    `mapstructure:"enabled"`
	CrossValidation      bool    `mapstructure:"cross_validation"`
	SkipOnHighConfidence bool    `mapstructure:"skip_on_high_confidence"`
	HighConfidence       float64 `mapstructure:"high_confidence"`
	FastPassWeight       float64 `mapstructure:"fast_pass_weight"`
	SlowPassWeight       float64 `mapstructure:"slow_pass_weight"`
	VisionWeight         float64 `mapstructure:"vision_weight"`
	SeverityMargin       float64 `mapstructure:"severity_margin"`
}

// ProvidersConfig configures the external capabilities.
type ProvidersConfig struct {
	Vision    VisionProviderConfig  `mapstructure:"vision"`
	Anthropic AnthropicConfig       `mapstructure:"anthropic"`
	Weather   WeatherProviderConfig `mapstructure:"weather"`
}

// VisionProviderConfig configures the vision inference endpoint.
type VisionProviderConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	APIKey   string `mapstructure:"api_key"`
}

// AnthropicConfig configures the language-model provider.
type AnthropicConfig struct {
	APIKey    string `mapstructure:"api_key"`
	FastModel string `mapstructure:"fast_model"`
	SlowModel string `mapstructure:"slow_model"`
	MaxTokens int    `mapstructure:"max_tokens"`
}

// WeatherProviderConfig configures the weather data source.
type WeatherProviderConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	ArchiveBaseURL string `mapstructure:"archive_base_url"`
	HistoricalDays int    `mapstructure:"historical_days"`
	ForecastDays   int    `mapstructure:"forecast_days"`
}

// TablesConfig configures agronomic table overrides.
type TablesConfig struct {
	OverridePath string `mapstructure:"override_path"`
	Watch        bool   `mapstructure:"watch"`
}

// TraceConfig configures trace bookkeeping and report export.
type TraceConfig struct {
	DBPath    string `mapstructure:"db_path"`
	ExportDir string `mapstructure:"export_dir"`
	Retention int    `mapstructure:"retention"`
}
