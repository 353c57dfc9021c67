package pipeline

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/verdanthq/cropsense/internal/core"
	"github.com/verdanthq/cropsense/internal/testutil"
)

func wetDay(rainMM, humidityHours float64) core.DailyWeather {
	return core.DailyWeather{
		TempMinC: 14, TempMaxC: 22,
		RainfallMM: rainMM, HighHumidityHours: humidityHours,
	}
}

func stateWithLocation(t *testing.T) *core.WorkflowState {
	t.Helper()
	state := newTestState(t, 1)
	state.Request.Location = &core.Coordinates{Lat: 52.1, Lon: 5.2}
	return state
}

func TestComputeIndices_ConsecutiveWetRun(t *testing.T) {
	days := []core.DailyWeather{
		wetDay(3, 0), wetDay(2, 0), wetDay(0, 0), wetDay(5, 0), wetDay(4, 0), wetDay(2, 0),
	}
	indices := computeIndices(days)
	if indices.ConsecutiveWetDays != 3 {
		t.Errorf("consecutive wet days = %d, want longest run 3", indices.ConsecutiveWetDays)
	}
}

func TestComputeIndices_TemperatureAndWind(t *testing.T) {
	days := []core.DailyWeather{
		{TempMinC: 30, TempMaxC: 42, WindMaxKmh: 35},
	}
	indices := computeIndices(days)
	if !indices.TemperatureStress {
		t.Error("mean 36C must flag temperature stress")
	}
	if !indices.WindRisk {
		t.Error("35 km/h must flag wind risk")
	}
	if got := indices.DegreeDays; got < 25.9 || got > 26.1 {
		t.Errorf("degree days = %v, want 26 (mean 36 over base 10)", got)
	}
}

func TestBuildRisk_Bands(t *testing.T) {
	tests := []struct {
		name    string
		indices core.WeatherIndices
		want    core.RiskBand
	}{
		{"calm week", core.WeatherIndices{}, core.RiskLow},
		{"single wet day", core.WeatherIndices{ConsecutiveWetDays: 1}, core.RiskLow},
		{
			"humid and wet",
			core.WeatherIndices{HighHumidityHours: 30, ConsecutiveWetDays: 2},
			core.RiskMedium,
		},
		{
			"sustained disease pressure",
			core.WeatherIndices{HighHumidityHours: 60, ConsecutiveWetDays: 4, TemperatureStress: true},
			core.RiskHigh,
		},
		{
			"everything adverse",
			core.WeatherIndices{HighHumidityHours: 60, ConsecutiveWetDays: 5, TemperatureStress: true, WindRisk: true},
			core.RiskHigh,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			risk := buildRisk(tt.indices)
			if risk.RiskBand != tt.want {
				t.Errorf("band = %q, want %q", risk.RiskBand, tt.want)
			}
			if len(risk.Factors) == 0 {
				t.Error("risk must always carry at least one factor")
			}
		})
	}
}

func TestWeatherRiskAssessor_FetchFailureDegradesToMedium(t *testing.T) {
	svc := &testutil.StubWeather{Err: fmt.Errorf("open-meteo: 503")}
	stage := NewWeatherRiskAssessor(svc, time.Second, 7, 3, nil)

	delta, err := stage.Run(t.Context(), stateWithLocation(t))
	if err != nil {
		t.Fatalf("Run() error = %v; fetch failure must degrade, not fail", err)
	}
	if delta.Weather == nil {
		t.Fatal("weather risk missing")
	}
	if delta.Weather.RiskBand != core.RiskMedium {
		t.Errorf("band = %q, want degraded medium", delta.Weather.RiskBand)
	}
	if !strings.Contains(strings.Join(delta.Weather.Factors, " "), "unavailable") {
		t.Errorf("factors = %v, want the degradation called out", delta.Weather.Factors)
	}
	if len(delta.Errors) == 0 {
		t.Error("fetch failure must be recorded in the error log")
	}
}

func TestWeatherRiskAssessor_LocationFetch(t *testing.T) {
	svc := &testutil.StubWeather{
		HistoricalDays: []core.DailyWeather{
			wetDay(4, 20), wetDay(6, 22), wetDay(3, 18),
		},
		ForecastDays: []core.DailyWeather{wetDay(5, 20)},
	}
	stage := NewWeatherRiskAssessor(svc, time.Second, 7, 3, nil)

	delta, err := stage.Run(t.Context(), stateWithLocation(t))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	// 80 humidity-hours (+3) and a 4-day wet run (+3) score high.
	if delta.Weather.RiskBand != core.RiskHigh {
		t.Errorf("band = %q, want high, indices %+v", delta.Weather.RiskBand, delta.Weather.Indices)
	}
	if delta.Weather.Indices.ConsecutiveWetDays != 4 {
		t.Errorf("wet run spans historical and forecast days, got %d", delta.Weather.Indices.ConsecutiveWetDays)
	}
}

func TestWeatherRiskAssessor_CurrentReadingOnly(t *testing.T) {
	stage := NewWeatherRiskAssessor(nil, time.Second, 7, 3, nil)

	state := newTestState(t, 1)
	state.Request.CurrentWeather = &core.WeatherReading{
		TemperatureC: 24, HumidityPct: 90, RainfallMM: 2, WindSpeedKmh: 10,
	}
	delta, err := stage.Run(t.Context(), state)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	// 12 humidity-hours (+1) plus a wet day (+1) stays low.
	if delta.Weather.RiskBand != core.RiskLow {
		t.Errorf("band = %q, want low", delta.Weather.RiskBand)
	}
	if delta.Weather.Indices.HighHumidityHours != 12 {
		t.Errorf("humidity hours = %v, want 12 for a 90%% reading", delta.Weather.Indices.HighHumidityHours)
	}
}

func TestWeatherRiskAssessor_NoDataAssumesMedium(t *testing.T) {
	stage := NewWeatherRiskAssessor(nil, time.Second, 7, 3, nil)

	delta, err := stage.Run(t.Context(), newTestState(t, 1))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if delta.Weather.RiskBand != core.RiskMedium {
		t.Errorf("band = %q, want medium when no weather signal exists", delta.Weather.RiskBand)
	}
}
