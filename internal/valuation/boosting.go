package valuation

import (
	"context"
	"math/rand"
)

type boostingConfig struct {
	Stages       int
	LearningRate float64
	Params       treeParams
	Seed         int64
}

// defaultBoosting holds the fixed gradient boosting hyperparameters
var defaultBoosting = boostingConfig{
	Stages:       200,
	LearningRate: 0.1,
	Params: treeParams{
		MaxDepth:        5,
		MinSamplesSplit: 5,
		MinSamplesLeaf:  2,
	},
	Seed: 42,
}

// GradientBoosting fits each stage to the residuals of the previous ones
// under squared loss, starting from the target mean.
type GradientBoosting struct {
	Init         float64           `json:"init"`
	LearningRate float64           `json:"learning_rate"`
	Trees        []*RegressionTree `json:"trees"`
}

func fitBoosting(ctx context.Context, x [][]float64, y []float64, cfg boostingConfig) (*GradientBoosting, error) {
	if len(x) > 0 {
		cfg.Params.MaxFeatures = sqrtFeatures(len(x[0]))
	}

	all := make([]int, len(y))
	for i := range all {
		all[i] = i
	}
	init, _ := meanSSE(y, all)

	model := &GradientBoosting{Init: init, LearningRate: cfg.LearningRate}
	current := make([]float64, len(y))
	for i := range current {
		current[i] = init
	}
	residual := make([]float64, len(y))
	rng := rand.New(rand.NewSource(cfg.Seed))

	for stage := 0; stage < cfg.Stages; stage++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for i := range y {
			residual[i] = y[i] - current[i]
		}
		tree := growTree(x, residual, all, cfg.Params, rng)
		for i := range current {
			current[i] += cfg.LearningRate * tree.Predict(x[i])
		}
		model.Trees = append(model.Trees, tree)
	}
	return model, nil
}

func (g *GradientBoosting) Predict(row []float64) float64 {
	out := g.Init
	for _, t := range g.Trees {
		out += g.LearningRate * t.Predict(row)
	}
	return out
}

func (g *GradientBoosting) FeatureImportances() []float64 {
	return averageImportances(g.Trees)
}
