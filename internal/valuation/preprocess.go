package valuation

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/stat"

	"propval/internal/models"
)

// NumericColumn imputes a missing value with the training median and then
// standardises with the training mean and population standard deviation.
type NumericColumn struct {
	Name   string  `json:"name"`
	Median float64 `json:"median"`
	Mean   float64 `json:"mean"`
	Scale  float64 `json:"scale"`
}

// CategoricalColumn imputes a missing value with the training mode and
// one-hot encodes over the sorted training categories. Values never seen in
// training encode as all zeros.
type CategoricalColumn struct {
	Name       string   `json:"name"`
	Mode       string   `json:"mode"`
	Categories []string `json:"categories"`
	DropFirst  bool     `json:"drop_first,omitempty"`
}

func (c *CategoricalColumn) encoded() []string {
	if c.DropFirst && len(c.Categories) > 0 {
		return c.Categories[1:]
	}
	return c.Categories
}

// Preprocessor turns a property description into a model row. Numeric
// columns come first, then the one-hot blocks, both in feature order.
type Preprocessor struct {
	Numeric     []NumericColumn     `json:"numeric"`
	Categorical []CategoricalColumn `json:"categorical"`
}

func fitPreprocessor(inputs []models.PropertyInput, features []string, dropFirst bool) (*Preprocessor, error) {
	p := &Preprocessor{}
	for _, name := range features {
		f, ok := lookupFeature(name)
		if !ok {
			return nil, fmt.Errorf("unknown feature %q", name)
		}

		if f.kind == numericFeature {
			var observed []float64
			for i := range inputs {
				if v, ok := f.numeric(&inputs[i]); ok {
					observed = append(observed, v)
				}
			}
			if len(observed) == 0 {
				return nil, fmt.Errorf("feature %q has no values", name)
			}
			med := median(observed)

			column := make([]float64, len(inputs))
			for i := range inputs {
				if v, ok := f.numeric(&inputs[i]); ok {
					column[i] = v
				} else {
					column[i] = med
				}
			}
			mean, std := stat.PopMeanStdDev(column, nil)
			if std == 0 {
				std = 1
			}
			p.Numeric = append(p.Numeric, NumericColumn{Name: name, Median: med, Mean: mean, Scale: std})
			continue
		}

		counts := make(map[string]int)
		for i := range inputs {
			if v, ok := f.categorical(&inputs[i]); ok {
				counts[v]++
			}
		}
		if len(counts) == 0 {
			return nil, fmt.Errorf("feature %q has no values", name)
		}
		mode := modeOf(counts)
		if missing := len(inputs) - sumCounts(counts); missing > 0 {
			counts[mode] += missing
		}

		categories := make([]string, 0, len(counts))
		for c := range counts {
			categories = append(categories, c)
		}
		sort.Strings(categories)
		p.Categorical = append(p.Categorical, CategoricalColumn{
			Name:       name,
			Mode:       mode,
			Categories: categories,
			DropFirst:  dropFirst,
		})
	}
	return p, nil
}

// Width is the number of columns a transformed row has
func (p *Preprocessor) Width() int {
	w := len(p.Numeric)
	for i := range p.Categorical {
		w += len(p.Categorical[i].encoded())
	}
	return w
}

// ColumnSources maps every output column back to the feature it came from
func (p *Preprocessor) ColumnSources() []string {
	sources := make([]string, 0, p.Width())
	for _, c := range p.Numeric {
		sources = append(sources, c.Name)
	}
	for i := range p.Categorical {
		for range p.Categorical[i].encoded() {
			sources = append(sources, p.Categorical[i].Name)
		}
	}
	return sources
}

// Transform encodes one input and reports which features had to be imputed
func (p *Preprocessor) Transform(in *models.PropertyInput) ([]float64, []string) {
	row := make([]float64, 0, p.Width())
	var imputed []string

	for _, c := range p.Numeric {
		f, _ := lookupFeature(c.Name)
		v, ok := f.numeric(in)
		if !ok {
			v = c.Median
			imputed = append(imputed, c.Name)
		}
		row = append(row, (v-c.Mean)/c.Scale)
	}

	for i := range p.Categorical {
		c := &p.Categorical[i]
		f, _ := lookupFeature(c.Name)
		v, ok := f.categorical(in)
		if !ok {
			v = c.Mode
			imputed = append(imputed, c.Name)
		}
		for _, category := range c.encoded() {
			if category == v {
				row = append(row, 1)
			} else {
				row = append(row, 0)
			}
		}
	}
	return row, imputed
}

func (p *Preprocessor) transformAll(inputs []models.PropertyInput) [][]float64 {
	rows := make([][]float64, len(inputs))
	for i := range inputs {
		rows[i], _ = p.Transform(&inputs[i])
	}
	return rows
}

func median(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// modeOf picks the most frequent value, breaking ties by the smallest value
func modeOf(counts map[string]int) string {
	var mode string
	best := -1
	for v, n := range counts {
		if n > best || (n == best && v < mode) {
			mode, best = v, n
		}
	}
	return mode
}

func sumCounts(counts map[string]int) int {
	total := 0
	for _, n := range counts {
		total += n
	}
	return total
}
