package geocoding

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"propval/config"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testConfig(t *testing.T, url string) config.GeocoderConfig {
	return config.GeocoderConfig{
		Enabled:     true,
		BaseURL:     url,
		CountryCode: "nl",
		UserAgent:   "propval-test",
		CacheFile:   filepath.Join(t.TempDir(), "cache", "geocode.json"),
	}
}

func TestGeocodeAddress(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "Kerkstraat 1, Utrecht", r.URL.Query().Get("q"))
		assert.Equal(t, "nl", r.URL.Query().Get("countrycodes"))
		assert.Equal(t, "propval-test", r.Header.Get("User-Agent"))
		w.Write([]byte(`[{"lat":"52.0907","lon":"5.1214"}]`))
	}))
	defer server.Close()

	cfg := testConfig(t, server.URL)
	g := NewGeocoder(cfg, quietLogger())

	lat, lon, err := g.GeocodeAddress(context.Background(), "Kerkstraat 1", "Utrecht")
	require.NoError(t, err)
	assert.Equal(t, 52.0907, lat)
	assert.Equal(t, 5.1214, lon)

	// Second lookup is served from the cache
	_, _, err = g.GeocodeAddress(context.Background(), " kerkstraat 1", "UTRECHT")
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	// A new geocoder picks the cache up from disk
	_, err = os.Stat(cfg.CacheFile)
	require.NoError(t, err)
	reloaded := NewGeocoder(cfg, quietLogger())
	lat, _, err = reloaded.GeocodeAddress(context.Background(), "Kerkstraat 1", "Utrecht")
	require.NoError(t, err)
	assert.Equal(t, 52.0907, lat)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestGeocodeAddress_NoResults(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer server.Close()

	g := NewGeocoder(testConfig(t, server.URL), quietLogger())
	for i := 0; i < 5; i++ {
		_, _, err := g.GeocodeAddress(context.Background(), "Nergens 1", "Utrecht")
		assert.ErrorIs(t, err, ErrNoResults)
	}
	// Unknown addresses do not open the breaker
	assert.Equal(t, "closed", g.State())
}

func TestGeocodeAddress_BreakerOpens(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	g := NewGeocoder(testConfig(t, server.URL), quietLogger())
	for i := 0; i < 3; i++ {
		_, _, err := g.GeocodeAddress(context.Background(), "Kerkstraat 1", "Utrecht")
		require.Error(t, err)
	}
	assert.Equal(t, "open", g.State())

	_, _, err := g.GeocodeAddress(context.Background(), "Kerkstraat 1", "Utrecht")
	assert.True(t, errors.Is(err, gobreaker.ErrOpenState))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestGeocodeAddress_BadPayload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"lat":"north","lon":"5.1"}]`))
	}))
	defer server.Close()

	g := NewGeocoder(testConfig(t, server.URL), quietLogger())
	_, _, err := g.GeocodeAddress(context.Background(), "Kerkstraat 1", "Utrecht")
	assert.Error(t, err)
}

func TestGeocodeAddress_ContextCancelled(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:0")
	cfg.Interval = 1 << 40
	g := NewGeocoder(cfg, quietLogger())

	// Consume the single burst token
	require.True(t, g.limiter.Allow())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := g.GeocodeAddress(ctx, "Kerkstraat 1", "Utrecht")
	assert.Error(t, err)
}
