package models

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// PropertyType is the normalised listing category of a property
type PropertyType string

const (
	SingleFamily PropertyType = "SingleFamily"
	Condo        PropertyType = "Condo"
	Townhouse    PropertyType = "Townhouse"
	MultiFamily  PropertyType = "MultiFamily"
	Land         PropertyType = "Land"
	Commercial   PropertyType = "Commercial"
)

// PropertyTypes lists every known property type in declaration order
var PropertyTypes = []PropertyType{SingleFamily, Condo, Townhouse, MultiFamily, Land, Commercial}

var propertyTypeAliases = map[string]PropertyType{
	"singlefamily": SingleFamily,
	"house":        SingleFamily,
	"condo":        Condo,
	"condominium":  Condo,
	"apartment":    Condo,
	"townhouse":    Townhouse,
	"townhome":     Townhouse,
	"multifamily":  MultiFamily,
	"land":         Land,
	"lot":          Land,
	"commercial":   Commercial,
}

// ParsePropertyType maps display spellings such as "Single Family" or
// "Multi-Family" onto the canonical enum value.
func ParsePropertyType(s string) (PropertyType, bool) {
	key := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '_':
			return -1
		}
		return r
	}, strings.ToLower(strings.TrimSpace(s)))
	t, ok := propertyTypeAliases[key]
	return t, ok
}

// NormalizePropertyType returns the canonical value for known spellings and
// the trimmed input otherwise. Unknown types are kept so that prediction can
// encode them as an unseen category.
func NormalizePropertyType(s string) PropertyType {
	if t, ok := ParsePropertyType(s); ok {
		return t
	}
	return PropertyType(strings.TrimSpace(s))
}

func (t *PropertyType) UnmarshalText(b []byte) error {
	*t = NormalizePropertyType(string(b))
	return nil
}

type Property struct {
	ID           int64        `gorm:"primaryKey;autoIncrement" json:"id"`
	Address      string       `gorm:"not null;uniqueIndex:idx_properties_address_city" json:"address"`
	City         string       `gorm:"not null;index;uniqueIndex:idx_properties_address_city" json:"city"`
	PropertyType PropertyType `gorm:"type:varchar(32);index" json:"property_type"`
	Price        float64      `gorm:"not null" json:"price"`
	Bedrooms     int          `json:"bedrooms"`
	Bathrooms    float64      `json:"bathrooms"`
	Sqft         float64      `json:"sqft"`
	YearBuilt    int          `json:"year_built"`
	Latitude     *float64     `gorm:"index:idx_properties_coordinates" json:"latitude"`
	Longitude    *float64     `gorm:"index:idx_properties_coordinates" json:"longitude"`
	DaysOnMarket *int         `json:"days_on_market"`
	// Set once coordinate enrichment has been tried, whatever the outcome
	GeocodingAttempted bool      `gorm:"default:false" json:"-"`
	ListingDate        time.Time `gorm:"index" json:"listing_date"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

var ErrInvalidProperty = errors.New("invalid property")

// Validate checks the invariants a record must satisfy before it is accepted
// into the feature table.
func (p *Property) Validate() error {
	switch {
	case strings.TrimSpace(p.Address) == "":
		return fmt.Errorf("%w: address is required", ErrInvalidProperty)
	case strings.TrimSpace(p.City) == "":
		return fmt.Errorf("%w: city is required", ErrInvalidProperty)
	case !(p.Price > 0) || math.IsInf(p.Price, 0):
		return fmt.Errorf("%w: price must be positive, got %v", ErrInvalidProperty, p.Price)
	case p.Bedrooms < 0:
		return fmt.Errorf("%w: bedrooms must not be negative", ErrInvalidProperty)
	case !(p.Bathrooms >= 0):
		return fmt.Errorf("%w: bathrooms must not be negative", ErrInvalidProperty)
	case !(p.Sqft > 0) || math.IsInf(p.Sqft, 0):
		return fmt.Errorf("%w: sqft must be positive, got %v", ErrInvalidProperty, p.Sqft)
	}
	return nil
}

// HasCoordinates reports whether both latitude and longitude are set
func (p *Property) HasCoordinates() bool {
	return p.Latitude != nil && p.Longitude != nil
}

// Input converts the record into a partial description carrying every
// attribute the record has.
func (p *Property) Input() PropertyInput {
	in := PropertyInput{
		Bedrooms:     ptr(p.Bedrooms),
		Bathrooms:    ptr(p.Bathrooms),
		Sqft:         ptr(p.Sqft),
		Latitude:     p.Latitude,
		Longitude:    p.Longitude,
		DaysOnMarket: p.DaysOnMarket,
	}
	if p.City != "" {
		in.City = ptr(p.City)
	}
	if p.PropertyType != "" {
		in.PropertyType = ptr(p.PropertyType)
	}
	if p.YearBuilt > 0 {
		in.YearBuilt = ptr(p.YearBuilt)
	}
	return in
}

// PropertyInput is a partial property description. Any attribute may be nil.
type PropertyInput struct {
	City         *string       `json:"city,omitempty"`
	PropertyType *PropertyType `json:"property_type,omitempty"`
	Bedrooms     *int          `json:"bedrooms,omitempty"`
	Bathrooms    *float64      `json:"bathrooms,omitempty"`
	Sqft         *float64      `json:"sqft,omitempty"`
	YearBuilt    *int          `json:"year_built,omitempty"`
	Latitude     *float64      `json:"latitude,omitempty"`
	Longitude    *float64      `json:"longitude,omitempty"`
	DaysOnMarket *int          `json:"days_on_market,omitempty"`
}

// HasCoordinates reports whether both latitude and longitude are set
func (in *PropertyInput) HasCoordinates() bool {
	return in.Latitude != nil && in.Longitude != nil
}

type PropertyStats struct {
	TotalProperties int     `json:"total_properties"`
	AveragePrice    float64 `json:"average_price"`
	MedianPrice     float64 `json:"median_price"`
	PricePerSqft    float64 `json:"price_per_sqft"`
}

func ptr[T any](v T) *T {
	return &v
}
