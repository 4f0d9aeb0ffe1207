package models

import (
	"regexp"
	"strings"
)

// PropertyFilter narrows the feature table used for training and ranking
type PropertyFilter struct {
	MinPrice      *float64       `json:"min_price" form:"min_price"`
	MaxPrice      *float64       `json:"max_price" form:"max_price"`
	MinSqft       *float64       `json:"min_sqft" form:"min_sqft"`
	MaxSqft       *float64       `json:"max_sqft" form:"max_sqft"`
	MinBedrooms   *int           `json:"min_bedrooms" form:"min_bedrooms"`
	MaxBedrooms   *int           `json:"max_bedrooms" form:"max_bedrooms"`
	MinBathrooms  *float64       `json:"min_bathrooms" form:"min_bathrooms"`
	Cities        []string       `json:"cities" form:"city"`
	PropertyTypes []PropertyType `json:"property_types" form:"property_type"`
}

// IsPropertyAllowed checks if a property matches the filter criteria
func (f *PropertyFilter) IsPropertyAllowed(property *Property) bool {
	if f == nil {
		return true
	}

	if f.MinPrice != nil && property.Price < *f.MinPrice {
		return false
	}
	if f.MaxPrice != nil && property.Price > *f.MaxPrice {
		return false
	}

	if f.MinSqft != nil && property.Sqft < *f.MinSqft {
		return false
	}
	if f.MaxSqft != nil && property.Sqft > *f.MaxSqft {
		return false
	}

	if f.MinBedrooms != nil && property.Bedrooms < *f.MinBedrooms {
		return false
	}
	if f.MaxBedrooms != nil && property.Bedrooms > *f.MaxBedrooms {
		return false
	}
	if f.MinBathrooms != nil && property.Bathrooms < *f.MinBathrooms {
		return false
	}

	if len(f.Cities) > 0 {
		city := NormalizeCity(property.City)
		allowed := false
		for _, c := range f.Cities {
			if NormalizeCity(c) == city {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}

	if len(f.PropertyTypes) > 0 {
		allowed := false
		for _, t := range f.PropertyTypes {
			if NormalizePropertyType(string(t)) == property.PropertyType {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}

	return true
}

var citySeparators = regexp.MustCompile(`\s+`)

// NormalizeCity lowercases a city name, strips apostrophes and joins words
// with hyphens so that "Den  Haag" and "den-haag" compare equal.
func NormalizeCity(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.ReplaceAll(name, "'", "")
	return citySeparators.ReplaceAllString(name, "-")
}
