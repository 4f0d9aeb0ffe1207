package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"propval/internal/models"
)

var ErrMarketNotFound = errors.New("market not found")

// Market groups cities that share an expected appreciation rate
type Market struct {
	Name             string   `yaml:"name" json:"name" binding:"required"`
	Cities           []string `yaml:"cities" json:"cities"`
	AppreciationRate float64  `yaml:"appreciation_rate" json:"appreciation_rate"`
}

type marketsFile struct {
	Markets []Market `yaml:"markets"`
}

// Markets is the market configuration backed by a YAML file. Updates are
// written back to the file.
type Markets struct {
	mu      sync.RWMutex
	path    string
	markets []Market
}

// LoadMarkets reads path. A missing file yields an empty configuration that
// is created on the first update.
func LoadMarkets(path string) (*Markets, error) {
	m := &Markets{path: path}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read markets file: %w", err)
	}

	var file marketsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse markets file: %w", err)
	}
	for i := range file.Markets {
		file.Markets[i].Cities = normalizeCities(file.Markets[i].Cities)
	}
	m.markets = file.Markets
	return m, nil
}

func (m *Markets) save() error {
	if m.path == "" {
		return nil
	}
	data, err := yaml.Marshal(marketsFile{Markets: m.markets})
	if err != nil {
		return fmt.Errorf("failed to marshal markets: %w", err)
	}
	if dir := filepath.Dir(m.path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create markets directory: %w", err)
		}
	}
	if err := os.WriteFile(m.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write markets file: %w", err)
	}
	return nil
}

// List returns a copy of every market
func (m *Markets) List() []Market {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Market, len(m.markets))
	for i, market := range m.markets {
		out[i] = market
		out[i].Cities = append([]string(nil), market.Cities...)
	}
	return out
}

func (m *Markets) Get(name string) (Market, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, market := range m.markets {
		if market.Name == name {
			market.Cities = append([]string(nil), market.Cities...)
			return market, nil
		}
	}
	return Market{}, fmt.Errorf("%w: %s", ErrMarketNotFound, name)
}

// Upsert replaces the market with the same name or appends it
func (m *Markets) Upsert(market Market) error {
	if market.Name == "" {
		return fmt.Errorf("market name is required")
	}
	if market.AppreciationRate < -1 || market.AppreciationRate > 1 {
		return fmt.Errorf("appreciation rate %v is not a fraction", market.AppreciationRate)
	}
	market.Cities = normalizeCities(market.Cities)

	m.mu.Lock()
	defer m.mu.Unlock()

	for i, existing := range m.markets {
		if existing.Name == market.Name {
			m.markets[i] = market
			return m.save()
		}
	}
	m.markets = append(m.markets, market)
	return m.save()
}

func (m *Markets) Delete(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, market := range m.markets {
		if market.Name == name {
			m.markets = append(m.markets[:i], m.markets[i+1:]...)
			return m.save()
		}
	}
	return fmt.Errorf("%w: %s", ErrMarketNotFound, name)
}

// AppreciationRates maps every configured city to its market's rate. A
// city listed in several markets takes the rate of the first one.
func (m *Markets) AppreciationRates() map[string]float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rates := make(map[string]float64)
	for _, market := range m.markets {
		for _, city := range market.Cities {
			if _, ok := rates[city]; !ok {
				rates[city] = market.AppreciationRate
			}
		}
	}
	return rates
}

// CitiesIn returns the cities of the named market
func (m *Markets) CitiesIn(name string) ([]string, error) {
	market, err := m.Get(name)
	if err != nil {
		return nil, err
	}
	return market.Cities, nil
}

func normalizeCities(cities []string) []string {
	seen := make(map[string]bool, len(cities))
	out := make([]string, 0, len(cities))
	for _, c := range cities {
		c = models.NormalizeCity(c)
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
