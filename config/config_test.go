package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"propval/internal/models"
)

func missingEnvFile(t *testing.T) string {
	return filepath.Join(t.TempDir(), "missing.env")
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig(missingEnvFile(t))
	require.NoError(t, err)

	assert.Equal(t, "5250", cfg.Port)
	assert.Equal(t, "sqlite", cfg.Store.Backend)
	assert.Equal(t, 2, cfg.BatchProcessing.ProcessorCount)
	assert.Equal(t, 5*time.Second, cfg.BatchProcessing.RetryDelay)
	assert.Equal(t, 5, cfg.ComparablesTopN)
	assert.Equal(t, []string{"http://localhost:5173"}, cfg.AllowedOrigins)

	// Investment defaults match the evaluator's own defaults
	assert.Equal(t, models.DefaultInvestmentAssumptions(), cfg.Investment)
}

func TestLoadConfig_Environment(t *testing.T) {
	t.Setenv("PORT", "8080")
	t.Setenv("MODEL_STORE", "redis")
	t.Setenv("REDIS_TTL", "1h")
	t.Setenv("INVEST_MORTGAGE_RATE", "0.05")
	t.Setenv("INVEST_AMORTIZATION", "schedule")
	t.Setenv("ALLOWED_ORIGINS", "http://a.test,http://b.test")

	cfg, err := LoadConfig(missingEnvFile(t))
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "redis", cfg.Store.Backend)
	assert.Equal(t, time.Hour, cfg.Store.RedisTTL)
	assert.Equal(t, 0.05, cfg.Investment.MortgageRate)
	assert.Equal(t, models.AmortizationSchedule, cfg.Investment.Amortization)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.AllowedOrigins)
}

func TestLoadConfig_EnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("COMPARABLES_TOP_N=9\nFORECAST_MONTHS=6\n"), 0644))
	t.Cleanup(func() {
		os.Unsetenv("COMPARABLES_TOP_N")
		os.Unsetenv("FORECAST_MONTHS")
	})
	// The environment wins over the file
	t.Setenv("FORECAST_MONTHS", "3")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.ComparablesTopN)
	assert.Equal(t, 3, cfg.ForecastMonths)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"unknown store", "MODEL_STORE", "s3"},
		{"unknown amortization", "INVEST_AMORTIZATION", "balloon"},
		{"no processors", "BATCH_PROCESSOR_COUNT", "0"},
		{"bad duration", "BATCH_RETRY_DELAY", "soon"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := LoadConfig(missingEnvFile(t))
			assert.Error(t, err)
		})
	}
}
