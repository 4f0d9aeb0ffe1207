package models

import "time"

// ValuationResult is the outcome of a single price prediction
type ValuationResult struct {
	PredictedPrice  float64  `json:"predicted_price"`
	LowerBound      float64  `json:"lower_bound"`
	UpperBound      float64  `json:"upper_bound"`
	ConfidenceLevel float64  `json:"confidence_level"`
	PredictionStd   float64  `json:"prediction_std"`
	ImputedFeatures []string `json:"imputed_features,omitempty"`
}

// ScoreComponents holds the contribution of every compared attribute to a
// similarity score. Components that were not compared stay zero.
type ScoreComponents struct {
	PropertyType float64 `json:"property_type"`
	City         float64 `json:"city"`
	Location     float64 `json:"location"`
	Bedrooms     float64 `json:"bedrooms"`
	Bathrooms    float64 `json:"bathrooms"`
	Sqft         float64 `json:"sqft"`
	YearBuilt    float64 `json:"year_built"`
}

// Total sums every component
func (c ScoreComponents) Total() float64 {
	return c.PropertyType + c.City + c.Location + c.Bedrooms + c.Bathrooms + c.Sqft + c.YearBuilt
}

type ComparableMatch struct {
	Property        Property        `json:"property"`
	SimilarityScore float64         `json:"similarity_score"`
	MaxScore        float64         `json:"max_score"`
	Components      ScoreComponents `json:"components"`
	PriceDiff       *float64        `json:"price_diff,omitempty"`
	PriceDiffPct    *float64        `json:"price_diff_pct,omitempty"`
	DistanceKm      *float64        `json:"distance_km,omitempty"`
}

// FeatureImportance is the share of a source feature in a model's impurity reduction
type FeatureImportance struct {
	Feature    string  `json:"feature"`
	Importance float64 `json:"importance"`
}

// TrendPoint is one monthly average price observation or forecast for a city
type TrendPoint struct {
	City       string    `json:"city"`
	Month      time.Time `json:"month"`
	AvgPrice   float64   `json:"avg_price"`
	IsForecast bool      `json:"is_forecast"`
}
