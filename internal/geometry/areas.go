package geometry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
	"github.com/sirupsen/logrus"

	"propval/internal/models"
)

// MinHullPoints is the number of distinct located listings a city needs
// before it gets a market area
const MinHullPoints = 3

// Area is the convex footprint of a city's located listings
type Area struct {
	City         string
	Points       []orb.Point
	Count        int
	AvgPrice     float64
	PricePerSqft float64
	Hull         orb.Ring
}

type AreaManager struct {
	logger *logrus.Logger
}

func NewAreaManager(logger *logrus.Logger) *AreaManager {
	if logger == nil {
		logger = logrus.New()
	}
	return &AreaManager{logger: logger}
}

// BuildAreas groups located listings by city and computes a hull per city.
// Cities whose listings do not span a polygon are left out.
func (am *AreaManager) BuildAreas(properties []models.Property) []Area {
	byCity := make(map[string]*Area)
	for i := range properties {
		p := &properties[i]
		if !p.HasCoordinates() {
			continue
		}
		city := models.NormalizeCity(p.City)
		if city == "" {
			continue
		}
		area, ok := byCity[city]
		if !ok {
			area = &Area{City: city}
			byCity[city] = area
		}
		area.Points = append(area.Points, orb.Point{*p.Longitude, *p.Latitude})
		area.Count++
		area.AvgPrice += p.Price
		if p.Sqft > 0 {
			area.PricePerSqft += p.Price / p.Sqft
		}
	}

	areas := make([]Area, 0, len(byCity))
	for city, area := range byCity {
		area.AvgPrice /= float64(area.Count)
		area.PricePerSqft /= float64(area.Count)
		area.Hull = ConvexHull(area.Points)
		if area.Hull == nil {
			am.logger.WithFields(logrus.Fields{
				"city":   city,
				"points": area.Count,
			}).Warnf("Not enough points for market area (minimum %d required)", MinHullPoints)
			continue
		}
		areas = append(areas, *area)
	}
	sort.Slice(areas, func(i, j int) bool { return areas[i].City < areas[j].City })
	return areas
}

func cross(o, a, b orb.Point) float64 {
	return (a[0]-o[0])*(b[1]-o[1]) - (a[1]-o[1])*(b[0]-o[0])
}

// ConvexHull returns the closed, counter-clockwise hull of the points using
// Andrew's monotone chain. It returns nil when fewer than three distinct
// points remain or when they are collinear.
func ConvexHull(points []orb.Point) orb.Ring {
	pts := append([]orb.Point(nil), points...)
	sort.Slice(pts, func(i, j int) bool {
		if pts[i][0] != pts[j][0] {
			return pts[i][0] < pts[j][0]
		}
		return pts[i][1] < pts[j][1]
	})
	unique := pts[:0]
	for i, p := range pts {
		if i == 0 || !p.Equal(pts[i-1]) {
			unique = append(unique, p)
		}
	}
	if len(unique) < MinHullPoints {
		return nil
	}

	hull := make([]orb.Point, 0, 2*len(unique))
	for _, p := range unique {
		for len(hull) >= 2 && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	lower := len(hull) + 1
	for i := len(unique) - 2; i >= 0; i-- {
		p := unique[i]
		for len(hull) >= lower && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	// The last point repeats the first, which closes the ring
	if len(hull) < MinHullPoints+1 {
		return nil
	}
	return orb.Ring(hull)
}

// FeatureCollection renders the areas as GeoJSON polygons
func (am *AreaManager) FeatureCollection(areas []Area) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, area := range areas {
		polygon := orb.Polygon{area.Hull}
		feature := geojson.NewFeature(polygon)
		feature.Properties = geojson.Properties{
			"city":           area.City,
			"listing_count":  area.Count,
			"average_price":  area.AvgPrice,
			"price_per_sqft": area.PricePerSqft,
			"area_km2":       geo.Area(polygon) / 1e6,
			"centroid":       centroid(polygon),
			"hull_type":      "convex",
		}
		fc.Append(feature)
	}
	return fc
}

func centroid(polygon orb.Polygon) []float64 {
	c, _ := planar.CentroidArea(polygon)
	return []float64{c[0], c[1]}
}

// SaveFeatureCollection writes the collection with generation metadata
func (am *AreaManager) SaveFeatureCollection(path string, fc *geojson.FeatureCollection) error {
	output := map[string]interface{}{
		"type":     "FeatureCollection",
		"features": fc.Features,
		"metadata": map[string]interface{}{
			"generated":   time.Now().Format(time.RFC3339),
			"description": "Market areas generated from listing coordinates",
			"areas":       len(fc.Features),
		},
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(output); err != nil {
		return fmt.Errorf("failed to encode GeoJSON: %w", err)
	}

	am.logger.Infof("Saved %d market areas to %s", len(fc.Features), path)
	return nil
}
