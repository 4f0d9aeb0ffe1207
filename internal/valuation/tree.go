package valuation

import (
	"math"
	"math/rand"
	"sort"
)

type treeParams struct {
	MaxDepth        int
	MinSamplesSplit int
	MinSamplesLeaf  int
	MaxFeatures     int
}

// treeNode is a leaf when Feature is -1. Rows with x[Feature] <= Threshold
// go left.
type treeNode struct {
	Feature   int     `json:"f"`
	Threshold float64 `json:"t,omitempty"`
	Left      int     `json:"l,omitempty"`
	Right     int     `json:"r,omitempty"`
	Value     float64 `json:"v"`
}

// RegressionTree is a CART tree grown on squared error
type RegressionTree struct {
	Nodes       []treeNode `json:"nodes"`
	Importances []float64  `json:"importances"`
}

// Predict walks the tree from the root to a leaf
func (t *RegressionTree) Predict(row []float64) float64 {
	i := 0
	for {
		n := &t.Nodes[i]
		if n.Feature < 0 {
			return n.Value
		}
		if row[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

// normalizedImportances scales the impurity decreases to sum to one
func (t *RegressionTree) normalizedImportances() []float64 {
	out := make([]float64, len(t.Importances))
	total := 0.0
	for _, v := range t.Importances {
		total += v
	}
	if total <= 0 {
		return out
	}
	for i, v := range t.Importances {
		out[i] = v / total
	}
	return out
}

type split struct {
	feature   int
	threshold float64
	gain      float64
}

type treeBuilder struct {
	x      [][]float64
	y      []float64
	params treeParams
	rng    *rand.Rand
	tree   *RegressionTree
}

func growTree(x [][]float64, y []float64, idx []int, params treeParams, rng *rand.Rand) *RegressionTree {
	width := 0
	if len(x) > 0 {
		width = len(x[0])
	}
	if params.MaxFeatures <= 0 || params.MaxFeatures > width {
		params.MaxFeatures = width
	}
	if params.MinSamplesLeaf < 1 {
		params.MinSamplesLeaf = 1
	}
	if params.MinSamplesSplit < 2 {
		params.MinSamplesSplit = 2
	}

	b := &treeBuilder{
		x:      x,
		y:      y,
		params: params,
		rng:    rng,
		tree:   &RegressionTree{Importances: make([]float64, width)},
	}
	b.build(append([]int(nil), idx...), 0)
	return b.tree
}

func (b *treeBuilder) build(idx []int, depth int) int {
	id := len(b.tree.Nodes)
	mean, sse := meanSSE(b.y, idx)
	b.tree.Nodes = append(b.tree.Nodes, treeNode{Feature: -1, Value: mean})

	if depth >= b.params.MaxDepth ||
		len(idx) < b.params.MinSamplesSplit ||
		len(idx) < 2*b.params.MinSamplesLeaf ||
		sse <= 1e-9 {
		return id
	}

	best, ok := b.bestSplit(idx, sse)
	if !ok {
		return id
	}

	var left, right []int
	for _, i := range idx {
		if b.x[i][best.feature] <= best.threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	b.tree.Importances[best.feature] += best.gain

	l := b.build(left, depth+1)
	r := b.build(right, depth+1)
	b.tree.Nodes[id].Feature = best.feature
	b.tree.Nodes[id].Threshold = best.threshold
	b.tree.Nodes[id].Left = l
	b.tree.Nodes[id].Right = r
	return id
}

// bestSplit samples features without replacement until MaxFeatures
// non-constant ones have been examined.
func (b *treeBuilder) bestSplit(idx []int, parentSSE float64) (split, bool) {
	width := len(b.tree.Importances)
	order := b.rng.Perm(width)

	best := split{feature: -1}
	examined := 0
	sorted := make([]int, len(idx))

	for _, f := range order {
		if examined >= b.params.MaxFeatures {
			break
		}
		copy(sorted, idx)
		sort.SliceStable(sorted, func(i, j int) bool {
			return b.x[sorted[i]][f] < b.x[sorted[j]][f]
		})
		if b.x[sorted[0]][f] == b.x[sorted[len(sorted)-1]][f] {
			continue
		}
		examined++

		if s, ok := b.scanFeature(sorted, f, parentSSE); ok && s.gain > best.gain+1e-12 {
			best = s
		}
	}
	return best, best.feature >= 0
}

func (b *treeBuilder) scanFeature(sorted []int, f int, parentSSE float64) (split, bool) {
	n := len(sorted)
	minLeaf := b.params.MinSamplesLeaf

	var totalSum, totalSq float64
	for _, i := range sorted {
		totalSum += b.y[i]
		totalSq += b.y[i] * b.y[i]
	}

	best := split{feature: -1}
	var leftSum, leftSq float64
	for k := 0; k < n-1; k++ {
		yi := b.y[sorted[k]]
		leftSum += yi
		leftSq += yi * yi

		nl := k + 1
		nr := n - nl
		if nl < minLeaf {
			continue
		}
		if nr < minLeaf {
			break
		}
		cur, next := b.x[sorted[k]][f], b.x[sorted[k+1]][f]
		if cur == next {
			continue
		}

		rightSum := totalSum - leftSum
		rightSq := totalSq - leftSq
		sseLeft := leftSq - leftSum*leftSum/float64(nl)
		sseRight := rightSq - rightSum*rightSum/float64(nr)
		gain := parentSSE - (sseLeft + sseRight)

		if gain > best.gain+1e-12 {
			threshold := cur + (next-cur)/2
			if threshold >= next {
				threshold = cur
			}
			best = split{feature: f, threshold: threshold, gain: gain}
		}
	}
	return best, best.feature >= 0
}

func meanSSE(y []float64, idx []int) (float64, float64) {
	if len(idx) == 0 {
		return 0, 0
	}
	var sum float64
	for _, i := range idx {
		sum += y[i]
	}
	mean := sum / float64(len(idx))
	var sse float64
	for _, i := range idx {
		d := y[i] - mean
		sse += d * d
	}
	return mean, sse
}

// sqrtFeatures is the "sqrt" max-features rule
func sqrtFeatures(width int) int {
	k := int(math.Sqrt(float64(width)))
	if k < 1 {
		k = 1
	}
	return k
}
