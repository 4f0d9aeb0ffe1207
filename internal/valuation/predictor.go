package valuation

import (
	"math"
	"os"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"

	"propval/internal/metrics"
	"propval/internal/models"
)

const (
	intervalZ          = 1.96
	maxConfidenceLoss  = 80.0
	minForestConfident = 20.0
	bandFraction       = 0.10
	bandConfidence     = 70.0
)

// Predictor turns a trained model and a partial property description into a
// price with an interval and a confidence level.
type Predictor struct {
	logger  *logrus.Logger
	metrics *metrics.Registry
}

func NewPredictor(logger *logrus.Logger, m *metrics.Registry) *Predictor {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}
	return &Predictor{logger: logger, metrics: m}
}

// Predict never fails on missing attributes; they are imputed with the
// training statistics and reported in ImputedFeatures.
func (p *Predictor) Predict(model *TrainedModel, input models.PropertyInput) (models.ValuationResult, error) {
	if !model.valid() {
		return models.ValuationResult{}, ErrNoModel
	}

	row, imputed := model.Preprocessor.Transform(&input)
	if len(imputed) > 0 {
		p.logger.WithError(&MissingFeatureError{Features: imputed}).
			WithField("model_id", model.ID.String()).
			Warn("Prediction input is incomplete")
	}

	var result models.ValuationResult
	if model.Forest != nil {
		result = forestResult(model.Forest.TreePredictions(row))
	} else {
		result = bandResult(model.predictRow(row))
	}
	result.ImputedFeatures = imputed

	p.metrics.ObservePrediction(string(model.Kind), imputed)
	return result, nil
}

// PredictValue is the bare point estimate
func (p *Predictor) PredictValue(model *TrainedModel, input models.PropertyInput) (float64, error) {
	if !model.valid() {
		return 0, ErrNoModel
	}
	row, _ := model.Preprocessor.Transform(&input)
	return model.predictRow(row), nil
}

// forestResult derives the interval and confidence from the spread of the
// individual tree predictions.
func forestResult(predictions []float64) models.ValuationResult {
	estimate, std := stat.PopMeanStdDev(predictions, nil)
	if math.IsNaN(std) {
		std = 0
	}

	confidence := 100.0
	switch {
	case std == 0:
	case estimate <= 0:
		confidence = minForestConfident
	default:
		confidence = 100 - math.Min(maxConfidenceLoss, std/estimate*100)
	}

	return models.ValuationResult{
		PredictedPrice:  estimate,
		LowerBound:      math.Max(0, estimate-intervalZ*std),
		UpperBound:      estimate + intervalZ*std,
		ConfidenceLevel: confidence,
		PredictionStd:   std,
	}
}

func bandResult(estimate float64) models.ValuationResult {
	a, b := estimate*(1-bandFraction), estimate*(1+bandFraction)
	return models.ValuationResult{
		PredictedPrice:  estimate,
		LowerBound:      math.Min(a, b),
		UpperBound:      math.Max(a, b),
		ConfidenceLevel: bandConfidence,
	}
}
