package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"propval/config"
	"propval/internal/database"
	"propval/internal/investment"
	"propval/internal/metrics"
	"propval/internal/models"
	"propval/internal/queue"
	"propval/internal/store"
	"propval/internal/valuation"
)

var linearFeatures = []string{"bedrooms", "bathrooms", "sqft", "year_built"}

type testEnv struct {
	router  *gin.Engine
	handler *Handler
	db      *database.Database
	queue   *queue.PropertyQueue
}

type stubGeocoder struct {
	calls int
}

func (g *stubGeocoder) GeocodeAddress(_ context.Context, address, city string) (float64, float64, error) {
	g.calls++
	return 52.0, 4.3, nil
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// listings builds n records spread over three cities and six listing
// months. Prices are a linear function of the attributes.
func listings(n int) []*models.Property {
	cities := []string{"amsterdam", "utrecht", "zwolle"}
	origins := map[string][2]float64{
		"amsterdam": {52.37, 4.89},
		"utrecht":   {52.09, 5.12},
		"zwolle":    {52.51, 6.09},
	}
	out := make([]*models.Property, n)
	for i := range out {
		beds := 1 + i%5
		baths := float64(1 + (i/5)%3)
		sqft := float64(60 + (i*13)%140)
		year := 1950 + (i*7)%70
		city := cities[i%3]
		lat := origins[city][0] + 0.001*float64(i%7)
		lon := origins[city][1] + 0.0013*float64(i%5)
		out[i] = &models.Property{
			Address:      fmt.Sprintf("Laan %d", i+1),
			City:         city,
			PropertyType: models.SingleFamily,
			Bedrooms:     beds,
			Bathrooms:    baths,
			Sqft:         sqft,
			YearBuilt:    year,
			Latitude:     &lat,
			Longitude:    &lon,
			ListingDate:  time.Date(2024, time.Month(1+(i/3)%6), 10, 0, 0, 0, 0, time.UTC),
			Price:        50000 + 2500*sqft + 20000*float64(beds) + 10000*baths + 400*float64(year-1950),
		}
	}
	return out
}

func setupTestEnv(t *testing.T, seed int) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := quietLogger()

	gormDB, err := database.NewTestDB()
	require.NoError(t, err)
	require.NoError(t, database.MigrateSchema(gormDB))
	sqlDB, err := gormDB.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	db, err := database.FromGorm(gormDB, logger)
	require.NoError(t, err)
	if seed > 0 {
		require.NoError(t, db.InsertProperties(context.Background(), listings(seed)))
	}

	modelStore, err := store.NewGormStore(gormDB)
	require.NoError(t, err)
	registry := metrics.NewRegistry()

	markets, err := config.LoadMarkets(filepath.Join(t.TempDir(), "markets.yaml"))
	require.NoError(t, err)
	require.NoError(t, markets.Upsert(config.Market{Name: "Midden", Cities: []string{"Utrecht"}, AppreciationRate: 0.045}))

	cfg := &config.Config{
		ComparablesTopN: 5,
		ForecastMonths:  3,
		BatchProcessing: config.BatchProcessingConfig{MaxBatchSize: 3},
		Investment:      models.DefaultInvestmentAssumptions(),
	}
	q := queue.NewPropertyQueue(10, logger)
	predictor := valuation.NewPredictor(logger, registry)
	h := NewHandler(cfg, Services{
		DB:        db,
		Queue:     q,
		Trainer:   valuation.NewTrainer(logger, modelStore, valuation.NewCache(), registry),
		Predictor: predictor,
		Markets:   markets,
	}, logger)

	return &testEnv{router: NewRouter(h, registry), handler: h, db: db, queue: q}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

func TestHealthAndMetrics(t *testing.T) {
	env := setupTestEnv(t, 0)

	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/healthz", nil).Code)
	w := env.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestIngestProperties(t *testing.T) {
	env := setupTestEnv(t, 0)

	tests := []struct {
		name   string
		body   interface{}
		status int
	}{
		{"accepted", listings(2), http.StatusAccepted},
		{"empty", []models.Property{}, http.StatusBadRequest},
		{"too large", listings(4), http.StatusRequestEntityTooLarge},
		{"malformed", `{"address":`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/api/properties", tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
		})
	}
	assert.Equal(t, 1, env.queue.Len())

	require.NoError(t, env.queue.Close())
	w := env.do(t, http.MethodPost, "/api/properties", listings(1))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
}

func TestIngestStats(t *testing.T) {
	env := setupTestEnv(t, 0)
	_, err := env.queue.Push([]*models.Property{listings(1)[0]})
	require.NoError(t, err)

	var body map[string]interface{}
	decode(t, env.do(t, http.MethodGet, "/api/ingest/stats", nil), &body)
	assert.Equal(t, 1.0, body["queue_length"])
	assert.NotContains(t, body, "processor")
}

func TestGetProperties(t *testing.T) {
	env := setupTestEnv(t, 30)

	var all []models.Property
	decode(t, env.do(t, http.MethodGet, "/api/properties", nil), &all)
	assert.Len(t, all, 30)

	var utrecht []models.Property
	decode(t, env.do(t, http.MethodGet, "/api/properties?city=Utrecht&min_bedrooms=3", nil), &utrecht)
	require.NotEmpty(t, utrecht)
	for _, p := range utrecht {
		assert.Equal(t, "utrecht", p.City)
		assert.GreaterOrEqual(t, p.Bedrooms, 3)
	}

	w := env.do(t, http.MethodGet, "/api/properties?min_price=abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetProperty(t *testing.T) {
	env := setupTestEnv(t, 3)

	var p models.Property
	decode(t, env.do(t, http.MethodGet, "/api/properties/1", nil), &p)
	assert.Equal(t, "Laan 1", p.Address)

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/properties/999", nil).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/properties/abc", nil).Code)
}

func TestGetPropertyStats(t *testing.T) {
	env := setupTestEnv(t, 30)

	var stats models.PropertyStats
	decode(t, env.do(t, http.MethodGet, "/api/stats?city=utrecht", nil), &stats)
	assert.Equal(t, 10, stats.TotalProperties)
	assert.Greater(t, stats.AveragePrice, 0.0)
}

func TestTrainAndLoadModel(t *testing.T) {
	env := setupTestEnv(t, 80)

	w := env.do(t, http.MethodGet, "/api/models/linear", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodPost, "/api/models/linear/train", trainRequest{Features: linearFeatures})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var trained modelResponse
	decode(t, w, &trained)
	assert.Equal(t, valuation.KindLinear, trained.Kind)
	assert.Equal(t, 64, trained.Metrics.TrainingSamples)
	assert.Equal(t, 16, trained.Metrics.TestSamples)

	var loaded modelResponse
	decode(t, env.do(t, http.MethodGet, "/api/models/linear", nil), &loaded)
	assert.Equal(t, trained.ID, loaded.ID)

	// Linear models have no impurity based importance
	w = env.do(t, http.MethodGet, "/api/models/linear/importance", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/api/models/svm/train", nil).Code)
}

func TestTrainModel_InsufficientData(t *testing.T) {
	env := setupTestEnv(t, 80)

	w := env.do(t, http.MethodPost, "/api/models/random_forest/train", map[string]interface{}{
		"filter": map[string]interface{}{"min_price": 1e9},
	})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	var body map[string]interface{}
	decode(t, w, &body)
	assert.Equal(t, insufficientDataMessage, body["error"])
	assert.Equal(t, 0.0, body["samples"])
	assert.Equal(t, float64(valuation.MinTrainingSamples), body["min_samples"])
}

func TestValuate(t *testing.T) {
	env := setupTestEnv(t, 80)

	w := env.do(t, http.MethodPost, "/api/valuations", map[string]interface{}{
		"kind":     "linear",
		"features": linearFeatures,
		"property": map[string]interface{}{"bedrooms": 3, "sqft": 120},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var body struct {
		Valuation models.ValuationResult `json:"valuation"`
		Model     modelResponse          `json:"model"`
	}
	decode(t, w, &body)
	assert.Greater(t, body.Valuation.PredictedPrice, 0.0)
	assert.LessOrEqual(t, body.Valuation.LowerBound, body.Valuation.PredictedPrice)
	assert.GreaterOrEqual(t, body.Valuation.UpperBound, body.Valuation.PredictedPrice)
	assert.ElementsMatch(t, []string{"bathrooms", "year_built"}, body.Valuation.ImputedFeatures)
	assert.Equal(t, valuation.KindLinear, body.Model.Kind)

	// Too few records for a model
	w = env.do(t, http.MethodPost, "/api/valuations", map[string]interface{}{
		"kind":   "linear",
		"filter": map[string]interface{}{"max_price": 1},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestFindComparables(t *testing.T) {
	env := setupTestEnv(t, 60)

	target := map[string]interface{}{
		"city":          "utrecht",
		"property_type": "Single Family",
		"bedrooms":      3,
		"bathrooms":     1,
		"sqft":          100,
	}

	comparablesFor := func(req map[string]interface{}) comparablesResponse {
		w := env.do(t, http.MethodPost, "/api/comparables", req)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var body comparablesResponse
		decode(t, w, &body)
		return body
	}

	body := comparablesFor(map[string]interface{}{"target": target, "top_n": 3})
	assert.Equal(t, 60, body.Candidates)
	require.Len(t, body.Comparables, 3)
	for i, m := range body.Comparables {
		assert.Equal(t, "utrecht", m.Property.City)
		assert.Nil(t, m.PriceDiff)
		if i > 0 {
			assert.GreaterOrEqual(t, body.Comparables[i-1].SimilarityScore, m.SimilarityScore)
		}
	}

	// Default top_n comes from the configuration, with price differences
	body = comparablesFor(map[string]interface{}{"target": target, "kind": "random_forest"})
	require.Len(t, body.Comparables, 5)
	for _, m := range body.Comparables {
		assert.NotNil(t, m.PriceDiff)
	}

	// Without enough records the ranking still works
	body = comparablesFor(map[string]interface{}{
		"target": target,
		"kind":   "linear",
		"filter": map[string]interface{}{"cities": []string{"utrecht"}},
	})
	assert.Equal(t, 20, body.Candidates)
	require.NotEmpty(t, body.Comparables)
	assert.Nil(t, body.Comparables[0].PriceDiff)
}

type comparablesResponse struct {
	Comparables []models.ComparableMatch `json:"comparables"`
	Candidates  int                      `json:"candidates"`
}

func TestEvaluateInvestment(t *testing.T) {
	env := setupTestEnv(t, 0)

	w := env.do(t, http.MethodPost, "/api/investment", map[string]interface{}{
		"price":       300000,
		"assumptions": map[string]interface{}{"down_payment_pct": 0.25},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var body struct {
		Metrics     models.InvestmentMetrics     `json:"metrics"`
		Assumptions models.InvestmentAssumptions `json:"assumptions"`
	}
	decode(t, w, &body)
	assert.Equal(t, 75000.0, body.Metrics.DownPayment)
	assert.InDelta(t, investment.MortgagePayment(225000, 0.045, 30), body.Metrics.MonthlyMortgage, 1e-6)
	assert.Equal(t, 0.045, body.Assumptions.MortgageRate)

	// An explicit zero rate is an interest-free loan, not a missing value
	w = env.do(t, http.MethodPost, "/api/investment", map[string]interface{}{
		"price":       300000,
		"assumptions": map[string]interface{}{"mortgage_rate": 0, "vacancy_rate": 0},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	decode(t, w, &body)
	assert.Equal(t, 0.0, body.Assumptions.MortgageRate)
	assert.InDelta(t, 240000.0/360, body.Metrics.MonthlyMortgage, 1e-6)
	assert.Equal(t, 0.0, body.Metrics.Expenses.Vacancy)

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/api/investment", map[string]interface{}{}).Code)
}

func TestRankInvestments(t *testing.T) {
	env := setupTestEnv(t, 30)

	w := env.do(t, http.MethodPost, "/api/investment/rank", map[string]interface{}{
		"strategy": "appreciation",
		"top_n":    5,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var body struct {
		Strategy      models.InvestmentStrategy      `json:"strategy"`
		Opportunities []models.InvestmentOpportunity `json:"opportunities"`
	}
	decode(t, w, &body)
	assert.Equal(t, models.StrategyAppreciation, body.Strategy)
	require.Len(t, body.Opportunities, 5)
	// Utrecht is the only city whose market rate beats the default
	for _, o := range body.Opportunities {
		assert.Equal(t, "utrecht", o.Property.City)
		assert.Equal(t, 0.045, o.AppreciationRate)
	}

	w = env.do(t, http.MethodPost, "/api/investment/rank", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &body)
	assert.Equal(t, models.StrategyBalanced, body.Strategy)
	assert.Len(t, body.Opportunities, 30)

	w = env.do(t, http.MethodPost, "/api/investment/rank", map[string]interface{}{"use_trends": true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.do(t, http.MethodPost, "/api/investment/rank", map[string]interface{}{"strategy": "yolo"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetForecast(t *testing.T) {
	env := setupTestEnv(t, 36)

	w := env.do(t, http.MethodGet, "/api/market/forecast?city=Utrecht", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var body struct {
		Points       []models.TrendPoint `json:"points"`
		AnnualGrowth map[string]float64  `json:"annual_growth"`
	}
	decode(t, w, &body)
	// Six months of history plus the configured three month forecast
	require.Len(t, body.Points, 9)
	forecasts := 0
	for _, p := range body.Points {
		assert.Equal(t, "utrecht", p.City)
		if p.IsForecast {
			forecasts++
		}
	}
	assert.Equal(t, 3, forecasts)
	assert.Contains(t, body.AnnualGrowth, "utrecht")

	w = env.do(t, http.MethodGet, "/api/market/forecast?city=utrecht&months=1", nil)
	decode(t, w, &body)
	assert.Len(t, body.Points, 7)

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/market/forecast?months=abc", nil).Code)
}

func TestGetMarketAreas(t *testing.T) {
	env := setupTestEnv(t, 30)

	w := env.do(t, http.MethodGet, "/api/market/areas", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var fc struct {
		Type     string `json:"type"`
		Features []struct {
			Geometry struct {
				Type string `json:"type"`
			} `json:"geometry"`
			Properties map[string]interface{} `json:"properties"`
		} `json:"features"`
	}
	decode(t, w, &fc)
	assert.Equal(t, "FeatureCollection", fc.Type)
	require.Len(t, fc.Features, 3)
	assert.Equal(t, "Polygon", fc.Features[0].Geometry.Type)
	assert.Equal(t, "amsterdam", fc.Features[0].Properties["city"])
	assert.Equal(t, 10.0, fc.Features[0].Properties["listing_count"])

	w = env.do(t, http.MethodGet, "/api/market/areas?city=zwolle", nil)
	decode(t, w, &fc)
	require.Len(t, fc.Features, 1)
	assert.Equal(t, "zwolle", fc.Features[0].Properties["city"])
}

func TestMarkets(t *testing.T) {
	env := setupTestEnv(t, 0)

	var markets []config.Market
	decode(t, env.do(t, http.MethodGet, "/api/markets", nil), &markets)
	require.Len(t, markets, 1)

	randstad := config.Market{Name: "Randstad", Cities: []string{"Den Haag", "Rotterdam"}, AppreciationRate: 0.04}
	w := env.do(t, http.MethodPost, "/api/markets", randstad)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created config.Market
	decode(t, w, &created)
	assert.Equal(t, []string{"den-haag", "rotterdam"}, created.Cities)

	assert.Equal(t, http.StatusConflict, env.do(t, http.MethodPost, "/api/markets", randstad).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/api/markets", config.Market{AppreciationRate: 0.1}).Code)

	randstad.AppreciationRate = 0.05
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPut, "/api/markets/Other", randstad).Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodPut, "/api/markets/Nowhere",
		config.Market{Name: "Nowhere"}).Code)
	w = env.do(t, http.MethodPut, "/api/markets/Randstad", randstad)
	require.Equal(t, http.StatusOK, w.Code)

	var got config.Market
	decode(t, env.do(t, http.MethodGet, "/api/markets/Randstad", nil), &got)
	assert.Equal(t, 0.05, got.AppreciationRate)

	assert.Equal(t, http.StatusNoContent, env.do(t, http.MethodDelete, "/api/markets/Randstad", nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/markets/Randstad", nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodDelete, "/api/markets/Randstad", nil).Code)
}

func TestGeocodeMarket(t *testing.T) {
	env := setupTestEnv(t, 0)
	noCoords := listings(3)
	for _, p := range noCoords {
		p.Latitude, p.Longitude = nil, nil
	}
	require.NoError(t, env.db.InsertProperties(context.Background(), noCoords))

	assert.Equal(t, http.StatusServiceUnavailable, env.do(t, http.MethodPost, "/api/markets/Midden/geocode", nil).Code)

	geocoder := &stubGeocoder{}
	env.handler.Geocoder = geocoder
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodPost, "/api/markets/Nowhere/geocode", nil).Code)

	w := env.do(t, http.MethodPost, "/api/markets/Midden/geocode", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	// Only the utrecht listing belongs to the market
	assert.Equal(t, 1, geocoder.calls)

	w = env.do(t, http.MethodPost, "/api/update-coordinates", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 3, geocoder.calls)
}
