package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleMarkets = `markets:
  - name: Randstad
    appreciation_rate: 0.05
    cities: [Amsterdam, "Den Haag", Utrecht, utrecht]
  - name: Noord
    appreciation_rate: 0.02
    cities: [Groningen, Utrecht]
`

func writeMarkets(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "markets.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadMarkets(t *testing.T) {
	m, err := LoadMarkets(writeMarkets(t, sampleMarkets))
	require.NoError(t, err)

	markets := m.List()
	require.Len(t, markets, 2)
	assert.Equal(t, "Randstad", markets[0].Name)
	assert.Equal(t, []string{"amsterdam", "den-haag", "utrecht"}, markets[0].Cities)

	rates := m.AppreciationRates()
	assert.Equal(t, map[string]float64{
		"amsterdam": 0.05,
		"den-haag":  0.05,
		"utrecht":   0.05,
		"groningen": 0.02,
	}, rates)

	cities, err := m.CitiesIn("Noord")
	require.NoError(t, err)
	assert.Equal(t, []string{"groningen", "utrecht"}, cities)

	_, err = m.CitiesIn("Zuid")
	assert.ErrorIs(t, err, ErrMarketNotFound)
}

func TestLoadMarkets_MissingFile(t *testing.T) {
	m, err := LoadMarkets(filepath.Join(t.TempDir(), "none.yaml"))
	require.NoError(t, err)
	assert.Empty(t, m.List())
	assert.Empty(t, m.AppreciationRates())
}

func TestLoadMarkets_Malformed(t *testing.T) {
	_, err := LoadMarkets(writeMarkets(t, "markets: [name: {"))
	assert.Error(t, err)
}

func TestMarkets_UpsertAndDelete(t *testing.T) {
	path := writeMarkets(t, sampleMarkets)
	m, err := LoadMarkets(path)
	require.NoError(t, err)

	require.NoError(t, m.Upsert(Market{Name: "Noord", Cities: []string{"Assen"}, AppreciationRate: 0.01}))
	require.NoError(t, m.Upsert(Market{Name: "Zuid", Cities: []string{"Maastricht"}, AppreciationRate: 0.03}))
	assert.Error(t, m.Upsert(Market{Cities: []string{"Breda"}}))
	assert.Error(t, m.Upsert(Market{Name: "Wild", AppreciationRate: 3}))

	// Changes are persisted
	reloaded, err := LoadMarkets(path)
	require.NoError(t, err)
	noord, err := reloaded.Get("Noord")
	require.NoError(t, err)
	assert.Equal(t, []string{"assen"}, noord.Cities)
	assert.Equal(t, 0.01, noord.AppreciationRate)
	assert.Len(t, reloaded.List(), 3)

	require.NoError(t, reloaded.Delete("Zuid"))
	assert.ErrorIs(t, reloaded.Delete("Zuid"), ErrMarketNotFound)
	assert.Len(t, reloaded.List(), 2)
}

func TestMarkets_ListIsACopy(t *testing.T) {
	m, err := LoadMarkets(writeMarkets(t, sampleMarkets))
	require.NoError(t, err)

	markets := m.List()
	markets[0].Cities[0] = "changed"

	again, err := m.Get("Randstad")
	require.NoError(t, err)
	assert.Equal(t, "amsterdam", again.Cities[0])
}
