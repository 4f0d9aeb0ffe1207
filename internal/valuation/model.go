package valuation

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"propval/internal/models"
)

type ModelKind string

const (
	KindRandomForest     ModelKind = "random_forest"
	KindGradientBoosting ModelKind = "gradient_boosting"
	KindLinear           ModelKind = "linear"
)

// ModelKinds lists every supported kind
var ModelKinds = []ModelKind{KindRandomForest, KindGradientBoosting, KindLinear}

// ParseModelKind accepts the kind names and the ensemble_a / ensemble_b aliases
func ParseModelKind(s string) (ModelKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "random_forest", "ensemble_a", "":
		return KindRandomForest, nil
	case "gradient_boosting", "ensemble_b":
		return KindGradientBoosting, nil
	case "linear":
		return KindLinear, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownModelKind, s)
}

// EvaluationMetrics are reported verbatim, without rounding
type EvaluationMetrics struct {
	MAE             float64   `json:"mae"`
	RMSE            float64   `json:"rmse"`
	R2              float64   `json:"r2"`
	CVMAE           float64   `json:"cv_mae"`
	TrainingSamples int       `json:"training_samples"`
	TestSamples     int       `json:"test_samples"`
	Kind            ModelKind `json:"model_kind"`
}

// TrainedModel is immutable once returned by the trainer. Exactly one of
// Forest, Boosting and Linear is set.
type TrainedModel struct {
	ID           uuid.UUID         `json:"id"`
	Kind         ModelKind         `json:"kind"`
	Features     []string          `json:"features"`
	Preprocessor *Preprocessor     `json:"preprocessor"`
	Metrics      EvaluationMetrics `json:"metrics"`
	SnapshotKey  string            `json:"snapshot_key"`
	TrainedAt    time.Time         `json:"trained_at"`

	Forest   *RandomForest     `json:"forest,omitempty"`
	Boosting *GradientBoosting `json:"boosting,omitempty"`
	Linear   *LinearModel      `json:"linear,omitempty"`
}

type regressor interface {
	Predict(row []float64) float64
}

type importanceSource interface {
	FeatureImportances() []float64
}

func (m *TrainedModel) regressor() regressor {
	switch {
	case m.Forest != nil:
		return m.Forest
	case m.Boosting != nil:
		return m.Boosting
	case m.Linear != nil:
		return m.Linear
	}
	return nil
}

func (m *TrainedModel) valid() bool {
	return m != nil && m.Preprocessor != nil && m.regressor() != nil
}

// predictRow is the bare point estimate for an already encoded row
func (m *TrainedModel) predictRow(row []float64) float64 {
	return m.regressor().Predict(row)
}

// FeatureImportance aggregates column importances back onto source
// features, sorted from most to least important.
func (m *TrainedModel) FeatureImportance() ([]models.FeatureImportance, error) {
	if !m.valid() {
		return nil, ErrNoModel
	}
	src, ok := m.regressor().(importanceSource)
	if !ok {
		return nil, ErrNoImportance
	}

	columns := src.FeatureImportances()
	sources := m.Preprocessor.ColumnSources()
	if len(columns) != len(sources) {
		return nil, fmt.Errorf("importance width %d does not match %d columns", len(columns), len(sources))
	}

	byFeature := make(map[string]float64)
	for i, v := range columns {
		byFeature[sources[i]] += v
	}

	out := make([]models.FeatureImportance, 0, len(m.Features))
	for _, name := range m.Features {
		out = append(out, models.FeatureImportance{Feature: name, Importance: byFeature[name]})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Importance > out[j].Importance
	})
	return out, nil
}
