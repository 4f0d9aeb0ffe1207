package valuation

import (
	"errors"
	"fmt"
	"math"

	"github.com/sajari/regression"
	"gonum.org/v1/gonum/stat"
)

var errDegenerateFit = errors.New("degenerate linear fit")

// LinearModel is an ordinary least squares fit over the non-constant columns
// of the preprocessed row.
type LinearModel struct {
	Intercept    float64   `json:"intercept"`
	Coefficients []float64 `json:"coefficients"`
	Columns      []int     `json:"columns"`
}

func fitLinear(x [][]float64, y []float64, names []string) (*LinearModel, error) {
	if len(x) == 0 {
		return nil, fmt.Errorf("%w: no rows", errDegenerateFit)
	}

	// Constant columns make the design matrix rank deficient
	var columns []int
	col := make([]float64, len(x))
	for j := range x[0] {
		for i := range x {
			col[i] = x[i][j]
		}
		if stat.PopVariance(col, nil) > 1e-12 {
			columns = append(columns, j)
		}
	}

	r := new(regression.Regression)
	r.SetObserved("price")
	for k, j := range columns {
		r.SetVar(k, names[j])
	}
	for i := range x {
		vars := make([]float64, len(columns))
		for k, j := range columns {
			vars[k] = x[i][j]
		}
		r.Train(regression.DataPoint(y[i], vars))
	}
	if err := r.Run(); err != nil {
		return nil, fmt.Errorf("failed to run regression: %w", err)
	}

	coeffs := r.GetCoeffs()
	for _, c := range coeffs {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return nil, fmt.Errorf("%w: non-finite coefficient", errDegenerateFit)
		}
	}

	return &LinearModel{
		Intercept:    coeffs[0],
		Coefficients: coeffs[1:],
		Columns:      columns,
	}, nil
}

func (l *LinearModel) Predict(row []float64) float64 {
	out := l.Intercept
	for k, j := range l.Columns {
		out += l.Coefficients[k] * row[j]
	}
	return out
}
