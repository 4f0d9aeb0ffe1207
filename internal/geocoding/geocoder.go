package geocoding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"propval/config"
)

var ErrNoResults = errors.New("no geocoding results")

// Geocoder resolves street addresses to coordinates through a Nominatim
// compatible search endpoint. Results are cached in memory and in a JSON
// file, requests are rate limited and guarded by a circuit breaker.
type Geocoder struct {
	logger    *logrus.Logger
	cfg       config.GeocoderConfig
	cache     map[string][]float64
	cacheLock sync.RWMutex
	client    *http.Client
	limiter   *rate.Limiter
	breaker   *gobreaker.CircuitBreaker
}

func NewGeocoder(cfg config.GeocoderConfig, logger *logrus.Logger) *Geocoder {
	if logger == nil {
		logger = logrus.New()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	limit := rate.Inf
	if cfg.Interval > 0 {
		limit = rate.Every(cfg.Interval)
	}

	g := &Geocoder{
		logger:  logger,
		cfg:     cfg,
		cache:   make(map[string][]float64),
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(limit, 1),
	}
	g.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:     "geocoder",
		Interval: time.Minute,
		Timeout:  time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		// An address that does not resolve says nothing about the service
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNoResults)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Geocoder circuit breaker changed state")
		},
	})

	g.loadCache()
	return g
}

func (g *Geocoder) loadCache() {
	if g.cfg.CacheFile == "" {
		return
	}
	data, err := os.ReadFile(g.cfg.CacheFile)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			g.logger.Warnf("Could not load geocode cache: %v", err)
		}
		return
	}

	if err := json.Unmarshal(data, &g.cache); err != nil {
		g.logger.Errorf("Failed to parse geocode cache: %v", err)
		return
	}

	g.logger.Infof("Loaded %d cached addresses", len(g.cache))
}

func (g *Geocoder) saveCache() {
	if g.cfg.CacheFile == "" {
		return
	}

	g.cacheLock.RLock()
	data, err := json.Marshal(g.cache)
	g.cacheLock.RUnlock()
	if err != nil {
		g.logger.Errorf("Failed to marshal geocode cache: %v", err)
		return
	}

	if err := os.MkdirAll(filepath.Dir(g.cfg.CacheFile), 0755); err != nil {
		g.logger.Errorf("Failed to create geocode cache directory: %v", err)
		return
	}
	if err := os.WriteFile(g.cfg.CacheFile, data, 0644); err != nil {
		g.logger.Errorf("Failed to save geocode cache: %v", err)
	}
}

type nominatimResponse []struct {
	Lat string `json:"lat"`
	Lon string `json:"lon"`
}

func cacheKey(address, city string) string {
	return strings.ToLower(strings.TrimSpace(address)) + "|" + strings.ToLower(strings.TrimSpace(city))
}

// GeocodeAddress returns latitude and longitude for an address in a city
func (g *Geocoder) GeocodeAddress(ctx context.Context, address, city string) (float64, float64, error) {
	key := cacheKey(address, city)
	fullAddress := fmt.Sprintf("%s, %s", address, city)

	g.cacheLock.RLock()
	coords, ok := g.cache[key]
	g.cacheLock.RUnlock()
	if ok {
		if len(coords) != 2 {
			return 0, 0, fmt.Errorf("invalid cached coordinates for %s", fullAddress)
		}
		g.logger.WithFields(logrus.Fields{
			"address": fullAddress,
			"source":  "cache",
		}).Debug("Found coordinates in cache")
		return coords[0], coords[1], nil
	}

	if err := g.limiter.Wait(ctx); err != nil {
		return 0, 0, fmt.Errorf("failed to wait for geocoder rate limit: %w", err)
	}

	result, err := g.breaker.Execute(func() (interface{}, error) {
		return g.search(ctx, fullAddress)
	})
	if err != nil {
		if errors.Is(err, ErrNoResults) {
			g.logger.WithField("address", fullAddress).Warn("No results found")
		} else {
			g.logger.WithError(err).WithField("address", fullAddress).Error("Geocoding request failed")
		}
		return 0, 0, err
	}
	coords = result.([]float64)

	g.logger.WithFields(logrus.Fields{
		"address":   fullAddress,
		"latitude":  coords[0],
		"longitude": coords[1],
		"source":    "nominatim",
	}).Info("Successfully geocoded address")

	g.cacheLock.Lock()
	g.cache[key] = coords
	g.cacheLock.Unlock()
	g.saveCache()

	return coords[0], coords[1], nil
}

func (g *Geocoder) search(ctx context.Context, fullAddress string) ([]float64, error) {
	params := url.Values{
		"q":      []string{fullAddress},
		"format": []string{"json"},
		"limit":  []string{"1"},
	}
	if g.cfg.CountryCode != "" {
		params.Set("countrycodes", g.cfg.CountryCode)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(g.cfg.BaseURL, "/")+"/search", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.URL.RawQuery = params.Encode()
	req.Header.Set("User-Agent", g.cfg.UserAgent)

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("geocoding request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("geocoding request failed with status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var result nominatimResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(result) == 0 {
		return nil, fmt.Errorf("%w for address: %s", ErrNoResults, fullAddress)
	}

	lat, err := strconv.ParseFloat(result[0].Lat, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse latitude %q: %w", result[0].Lat, err)
	}
	lon, err := strconv.ParseFloat(result[0].Lon, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse longitude %q: %w", result[0].Lon, err)
	}
	return []float64{lat, lon}, nil
}

// State reports the circuit breaker state, "closed" when healthy
func (g *Geocoder) State() string {
	return g.breaker.State().String()
}
