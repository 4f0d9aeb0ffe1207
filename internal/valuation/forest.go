package valuation

import (
	"context"
	"math/rand"
	"runtime"
	"sync"
)

type forestConfig struct {
	Trees  int
	Params treeParams
	Seed   int64
}

// defaultForest holds the fixed random forest hyperparameters
var defaultForest = forestConfig{
	Trees: 150,
	Params: treeParams{
		MaxDepth:        15,
		MinSamplesSplit: 5,
		MinSamplesLeaf:  2,
	},
	Seed: 42,
}

// RandomForest averages bagged regression trees
type RandomForest struct {
	Trees []*RegressionTree `json:"trees"`
}

func fitForest(ctx context.Context, x [][]float64, y []float64, cfg forestConfig) (*RandomForest, error) {
	if len(x) > 0 {
		cfg.Params.MaxFeatures = sqrtFeatures(len(x[0]))
	}

	// Seeds are drawn up front so that the result does not depend on how
	// the goroutines are scheduled.
	master := rand.New(rand.NewSource(cfg.Seed))
	seeds := make([]int64, cfg.Trees)
	for i := range seeds {
		seeds[i] = master.Int63()
	}

	forest := &RandomForest{Trees: make([]*RegressionTree, cfg.Trees)}
	jobs := make(chan int)
	var wg sync.WaitGroup

	workers := runtime.GOMAXPROCS(0)
	if workers > cfg.Trees {
		workers = cfg.Trees
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range jobs {
				rng := rand.New(rand.NewSource(seeds[t]))
				sample := make([]int, len(y))
				for i := range sample {
					sample[i] = rng.Intn(len(y))
				}
				forest.Trees[t] = growTree(x, y, sample, cfg.Params, rng)
			}
		}()
	}

	var err error
dispatch:
	for t := 0; t < cfg.Trees; t++ {
		select {
		case <-ctx.Done():
			err = ctx.Err()
			break dispatch
		case jobs <- t:
		}
	}
	close(jobs)
	wg.Wait()

	if err != nil {
		return nil, err
	}
	return forest, nil
}

// Predict is the mean of every tree's prediction
func (f *RandomForest) Predict(row []float64) float64 {
	if len(f.Trees) == 0 {
		return 0
	}
	sum := 0.0
	for _, t := range f.Trees {
		sum += t.Predict(row)
	}
	return sum / float64(len(f.Trees))
}

// TreePredictions returns the prediction of each tree for the same row
func (f *RandomForest) TreePredictions(row []float64) []float64 {
	out := make([]float64, len(f.Trees))
	for i, t := range f.Trees {
		out[i] = t.Predict(row)
	}
	return out
}

// FeatureImportances averages the per-tree normalised importances
func (f *RandomForest) FeatureImportances() []float64 {
	return averageImportances(f.Trees)
}

func averageImportances(trees []*RegressionTree) []float64 {
	if len(trees) == 0 {
		return nil
	}
	out := make([]float64, len(trees[0].Importances))
	counted := 0
	for _, t := range trees {
		imp := t.normalizedImportances()
		nonZero := false
		for i, v := range imp {
			out[i] += v
			if v > 0 {
				nonZero = true
			}
		}
		if nonZero {
			counted++
		}
	}
	if counted == 0 {
		return out
	}
	total := 0.0
	for i := range out {
		out[i] /= float64(counted)
		total += out[i]
	}
	if total > 0 {
		for i := range out {
			out[i] /= total
		}
	}
	return out
}
