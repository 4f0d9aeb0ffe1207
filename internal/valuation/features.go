package valuation

import (
	"math"

	"propval/internal/models"
)

type featureKind int

const (
	numericFeature featureKind = iota
	categoricalFeature
)

type feature struct {
	name        string
	kind        featureKind
	numeric     func(*models.PropertyInput) (float64, bool)
	categorical func(*models.PropertyInput) (string, bool)
}

func intValue(v *int) (float64, bool) {
	if v == nil {
		return 0, false
	}
	return float64(*v), true
}

func floatValue(v *float64) (float64, bool) {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return 0, false
	}
	return *v, true
}

// featureCatalogue is every attribute a model may train on, in column order
var featureCatalogue = []feature{
	{name: "bedrooms", kind: numericFeature, numeric: func(in *models.PropertyInput) (float64, bool) { return intValue(in.Bedrooms) }},
	{name: "bathrooms", kind: numericFeature, numeric: func(in *models.PropertyInput) (float64, bool) { return floatValue(in.Bathrooms) }},
	{name: "sqft", kind: numericFeature, numeric: func(in *models.PropertyInput) (float64, bool) { return floatValue(in.Sqft) }},
	{name: "year_built", kind: numericFeature, numeric: func(in *models.PropertyInput) (float64, bool) { return intValue(in.YearBuilt) }},
	{name: "city", kind: categoricalFeature, categorical: func(in *models.PropertyInput) (string, bool) {
		if in.City == nil {
			return "", false
		}
		city := models.NormalizeCity(*in.City)
		return city, city != ""
	}},
	{name: "property_type", kind: categoricalFeature, categorical: func(in *models.PropertyInput) (string, bool) {
		if in.PropertyType == nil || *in.PropertyType == "" {
			return "", false
		}
		return string(*in.PropertyType), true
	}},
	{name: "days_on_market", kind: numericFeature, numeric: func(in *models.PropertyInput) (float64, bool) { return intValue(in.DaysOnMarket) }},
	{name: "latitude", kind: numericFeature, numeric: func(in *models.PropertyInput) (float64, bool) { return floatValue(in.Latitude) }},
	{name: "longitude", kind: numericFeature, numeric: func(in *models.PropertyInput) (float64, bool) { return floatValue(in.Longitude) }},
}

// FeatureNames returns the names of every feature a model can be trained on
func FeatureNames() []string {
	names := make([]string, len(featureCatalogue))
	for i, f := range featureCatalogue {
		names[i] = f.name
	}
	return names
}

func lookupFeature(name string) (feature, bool) {
	for _, f := range featureCatalogue {
		if f.name == name {
			return f, true
		}
	}
	return feature{}, false
}

func (f feature) present(in *models.PropertyInput) bool {
	if f.kind == numericFeature {
		_, ok := f.numeric(in)
		return ok
	}
	_, ok := f.categorical(in)
	return ok
}

// usableFeatures keeps, in catalogue order, the requested features that at
// least one input carries a value for. An empty request means the whole
// catalogue.
func usableFeatures(inputs []models.PropertyInput, requested []string) []string {
	want := make(map[string]bool, len(requested))
	for _, name := range requested {
		want[name] = true
	}

	var usable []string
	for _, f := range featureCatalogue {
		if len(requested) > 0 && !want[f.name] {
			continue
		}
		for i := range inputs {
			if f.present(&inputs[i]) {
				usable = append(usable, f.name)
				break
			}
		}
	}
	return usable
}
