package comparables

import (
	"math"
	"os"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/planar"
	"github.com/sirupsen/logrus"

	"propval/internal/models"
	"propval/internal/valuation"
)

// Points available per compared attribute. An identical pair with
// coordinates and year built scores 130; without coordinates 125, and 115
// when neither is known.
const (
	typePoints     = 30.0
	cityPoints     = 25.0
	locationPoints = 20.0
	bedroomPoints  = 15.0
	bathroomPoints = 15.0
	sqftPoints     = 15.0
	yearPoints     = 10.0

	locationDecay = 100.0
	roomDecay     = 0.5
	yearDecay     = 0.05
)

// Options controls a ranking call. Normalize rescales every score to 0-100
// by the maximum attainable for that pair.
type Options struct {
	TopN      int  `json:"top_n"`
	Normalize bool `json:"normalize"`
}

type Ranker struct {
	logger    *logrus.Logger
	predictor *valuation.Predictor
}

func NewRanker(logger *logrus.Logger, predictor *valuation.Predictor) *Ranker {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}
	if predictor == nil {
		predictor = valuation.NewPredictor(logger, nil)
	}
	return &Ranker{logger: logger, predictor: predictor}
}

// Rank scores every usable candidate against target and returns the best
// opts.TopN matches, highest score first. Equal scores keep candidate order.
// When model is set each match also carries its price difference to the
// model's estimate for target.
func (r *Ranker) Rank(candidates []models.Property, target models.PropertyInput, model *valuation.TrainedModel, opts Options) []models.ComparableMatch {
	if opts.TopN <= 0 {
		return []models.ComparableMatch{}
	}

	matches := make([]models.ComparableMatch, 0, len(candidates))
	dropped := 0
	for i := range candidates {
		c := &candidates[i]
		if !comparable(c, &target) {
			dropped++
			continue
		}
		components, attainable := score(c, &target)
		m := models.ComparableMatch{
			Property:        *c,
			SimilarityScore: components.Total(),
			MaxScore:        attainable.Total(),
			Components:      components,
		}
		if c.HasCoordinates() && target.HasCoordinates() {
			km := geo.DistanceHaversine(
				orb.Point{*c.Longitude, *c.Latitude},
				orb.Point{*target.Longitude, *target.Latitude},
			) / 1000
			m.DistanceKm = &km
		}
		if opts.Normalize {
			m.SimilarityScore = normalized(m.SimilarityScore, m.MaxScore)
			m.MaxScore = 100
		}
		matches = append(matches, m)
	}

	if dropped > 0 {
		r.logger.WithFields(logrus.Fields{
			"candidates": len(candidates),
			"dropped":    dropped,
		}).Debug("Skipped candidates missing comparison attributes")
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].SimilarityScore > matches[j].SimilarityScore
	})
	if len(matches) > opts.TopN {
		matches = matches[:opts.TopN]
	}

	if model != nil {
		r.attachPriceDiffs(matches, target, model)
	}
	return matches
}

func (r *Ranker) attachPriceDiffs(matches []models.ComparableMatch, target models.PropertyInput, model *valuation.TrainedModel) {
	predicted, err := r.predictor.PredictValue(model, target)
	if err != nil {
		r.logger.WithError(err).Warn("Failed to estimate target price for comparables")
		return
	}
	for i := range matches {
		diff := matches[i].Property.Price - predicted
		pct := 0.0
		if predicted != 0 {
			pct = diff / predicted * 100
		}
		matches[i].PriceDiff = &diff
		matches[i].PriceDiffPct = &pct
	}
}

// comparable reports whether c carries every attribute needed to compare it
// with target.
func comparable(c *models.Property, target *models.PropertyInput) bool {
	if c.Bedrooms < 0 || c.Bathrooms < 0 || !(c.Sqft > 0) || c.PropertyType == "" {
		return false
	}
	if target.City != nil && *target.City != "" && c.City == "" {
		return false
	}
	if target.HasCoordinates() && !c.HasCoordinates() {
		return false
	}
	return true
}

// score returns the earned points per attribute and the points that were
// attainable for this pair.
func score(c *models.Property, target *models.PropertyInput) (got, attainable models.ScoreComponents) {
	if target.PropertyType != nil && *target.PropertyType != "" {
		attainable.PropertyType = typePoints
		if models.NormalizePropertyType(string(*target.PropertyType)) == c.PropertyType {
			got.PropertyType = typePoints
		}
	}

	if target.City != nil && *target.City != "" {
		attainable.City = cityPoints
		if models.NormalizeCity(*target.City) == models.NormalizeCity(c.City) {
			got.City = cityPoints
		}
	}

	if target.HasCoordinates() && c.HasCoordinates() {
		attainable.Location = locationPoints
		d := planar.Distance(
			orb.Point{*c.Longitude, *c.Latitude},
			orb.Point{*target.Longitude, *target.Latitude},
		)
		got.Location = locationPoints * math.Exp(-locationDecay*d)
	}

	if target.Bedrooms != nil {
		attainable.Bedrooms = bedroomPoints
		got.Bedrooms = bedroomPoints * math.Exp(-roomDecay*math.Abs(float64(c.Bedrooms-*target.Bedrooms)))
	}

	if target.Bathrooms != nil {
		attainable.Bathrooms = bathroomPoints
		got.Bathrooms = bathroomPoints * math.Exp(-roomDecay*math.Abs(c.Bathrooms-*target.Bathrooms))
	}

	if target.Sqft != nil && *target.Sqft > 0 {
		attainable.Sqft = sqftPoints
		a, b := c.Sqft, *target.Sqft
		got.Sqft = sqftPoints * math.Min(a/b, b/a)
	}

	if target.YearBuilt != nil && *target.YearBuilt > 0 && c.YearBuilt > 0 {
		attainable.YearBuilt = yearPoints
		got.YearBuilt = yearPoints * math.Exp(-yearDecay*math.Abs(float64(c.YearBuilt-*target.YearBuilt)))
	}

	return got, attainable
}

func normalized(score, attainable float64) float64 {
	if attainable <= 0 {
		return 0
	}
	return score / attainable * 100
}
