package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"propval/internal/models"
)

func TestLoadAssumptions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "invest.yaml")
	require.NoError(t, os.WriteFile(path, []byte("down_payment_pct: 0.25\nholding_period_years: 10\namortization: schedule\nvacancy_rate: 0\n"), 0644))

	a, err := loadAssumptions(path)
	require.NoError(t, err)
	require.NotNil(t, a.DownPaymentPct)
	assert.Equal(t, 0.25, *a.DownPaymentPct)
	assert.Nil(t, a.MortgageRate)

	merged := a.Apply(models.DefaultInvestmentAssumptions())
	assert.Equal(t, 0.045, merged.MortgageRate)
	assert.Equal(t, 0.25, merged.DownPaymentPct)
	assert.Equal(t, 10, merged.HoldingPeriodYears)
	assert.Equal(t, models.AmortizationSchedule, merged.Amortization)
	assert.Equal(t, 0.0, merged.VacancyRate)

	empty, err := loadAssumptions("")
	require.NoError(t, err)
	assert.Equal(t, models.DefaultInvestmentAssumptions(), empty.Apply(models.DefaultInvestmentAssumptions()))

	_, err = loadAssumptions(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestRender(t *testing.T) {
	defer func() { outputFormat = "json" }()
	v := map[string]int{"stored": 3}

	tests := []struct {
		format  string
		want    string
		wantErr bool
	}{
		{"json", "{\n  \"stored\": 3\n}\n", false},
		{"yaml", "stored: 3\n", false},
		{"xml", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			outputFormat = tt.format
			var buf bytes.Buffer
			err := render(&buf, v)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, buf.String())
		})
	}
}
