package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := NewLoader().Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Log.Level != "info" {
		t.Errorf("log.level = %q, want info", cfg.Log.Level)
	}
	if !cfg.Secondary.Enabled {
		t.Error("secondary.enabled should default to true")
	}
	if cfg.Secondary.FastPassWeight != 0.3 || cfg.Secondary.SlowPassWeight != 0.7 {
		t.Errorf("pass weights = %v/%v, want 0.3/0.7",
			cfg.Secondary.FastPassWeight, cfg.Secondary.SlowPassWeight)
	}
	if cfg.Providers.Weather.HistoricalDays != 7 || cfg.Providers.Weather.ForecastDays != 3 {
		t.Errorf("weather days = %d/%d, want 7/3",
			cfg.Providers.Weather.HistoricalDays, cfg.Providers.Weather.ForecastDays)
	}
	if cfg.Pipeline.ExternalCallTimeout != "30s" {
		t.Errorf("external_call_timeout = %q, want 30s", cfg.Pipeline.ExternalCallTimeout)
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cropsense.yaml")
	content := "secondary:\n  enabled: false\n  high_confidence: 0.85\nserver:\n  addr: \":9090\"\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := NewLoader().WithConfigFile(path).Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Secondary.Enabled {
		t.Error("secondary.enabled should be false from file")
	}
	if cfg.Secondary.HighConfidence != 0.85 {
		t.Errorf("high_confidence = %v, want 0.85", cfg.Secondary.HighConfidence)
	}
	if cfg.Server.Addr != ":9090" {
		t.Errorf("server.addr = %q", cfg.Server.Addr)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CROPSENSE_LOG_LEVEL", "debug")

	cfg, err := NewLoader().Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("log.level = %q, want debug from env", cfg.Log.Level)
	}
}

func TestValidate_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := NewLoader().Load()
	if err != nil {
		t.Fatal(err)
	}
	if err := NewValidator().Validate(cfg); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestValidate_Errors(t *testing.T) {
	cfg := &Config{
		Log:      LogConfig{Level: "verbose"},
		Pipeline: PipelineConfig{ExternalCallTimeout: "soon", MaxImages: 0},
		Secondary: SecondaryConfig{
			HighConfidence: 1.5,
			FastPassWeight: 0.3,
			SlowPassWeight: 0.7,
			VisionWeight:   1.0,
		},
		Providers: ProvidersConfig{
			Weather:   WeatherProviderConfig{HistoricalDays: 7, ForecastDays: 3},
			Anthropic: AnthropicConfig{MaxTokens: 1024},
		},
	}

	err := NewValidator().Validate(cfg)
	if err == nil {
		t.Fatal("expected validation errors")
	}
	verrs, ok := err.(ValidationErrors)
	if !ok {
		t.Fatalf("unexpected error type %T", err)
	}
	if len(verrs) != 4 {
		t.Errorf("got %d errors, want 4: %v", len(verrs), verrs)
	}
}
