package trends

import (
	"fmt"
	"sort"
	"time"

	"github.com/sajari/regression"

	"propval/internal/models"
)

// MinPoints is the number of distinct months a city needs before it is
// forecast.
const MinPoints = 3

// Forecast returns the history followed by months forecast points for every
// city with at least MinPoints months of history. Each city gets its own
// least squares line over the month index counted from the earliest month
// across all cities. Output is ordered by city, then month.
func Forecast(points []models.TrendPoint, months int) ([]models.TrendPoint, error) {
	history := dedupe(points)
	if len(history) == 0 {
		return []models.TrendPoint{}, nil
	}

	origin := history[0].Month

	out := make([]models.TrendPoint, 0, len(history))
	for _, city := range cities(history) {
		series := byCity(history, city)
		out = append(out, series...)
		if len(series) < MinPoints || months <= 0 {
			continue
		}

		line, err := fitLine(series, origin)
		if err != nil {
			return nil, fmt.Errorf("failed to fit trend for %s: %w", city, err)
		}

		last := monthIndex(origin, series[len(series)-1].Month)
		for k := 1; k <= months; k++ {
			idx := last + k
			out = append(out, models.TrendPoint{
				City:       city,
				Month:      origin.AddDate(0, idx, 0),
				AvgPrice:   line.at(float64(idx)),
				IsForecast: true,
			})
		}
	}
	return out, nil
}

// AnnualGrowth estimates a yearly appreciation rate per city from the slope
// of its trend line relative to the fitted price of its latest month.
// Cities with too little history or a non-positive fitted price are left
// out.
func AnnualGrowth(points []models.TrendPoint) (map[string]float64, error) {
	history := dedupe(points)
	rates := make(map[string]float64)
	if len(history) == 0 {
		return rates, nil
	}
	origin := history[0].Month

	for _, city := range cities(history) {
		series := byCity(history, city)
		if len(series) < MinPoints {
			continue
		}
		line, err := fitLine(series, origin)
		if err != nil {
			return nil, fmt.Errorf("failed to fit trend for %s: %w", city, err)
		}
		current := line.at(float64(monthIndex(origin, series[len(series)-1].Month)))
		if current <= 0 {
			continue
		}
		rates[city] = line.slope * 12 / current
	}
	return rates, nil
}

type trendLine struct {
	intercept, slope float64
}

func (l trendLine) at(x float64) float64 {
	return l.intercept + l.slope*x
}

func fitLine(series []models.TrendPoint, origin time.Time) (trendLine, error) {
	r := new(regression.Regression)
	r.SetObserved("avg_price")
	r.SetVar(0, "month")
	for _, p := range series {
		r.Train(regression.DataPoint(p.AvgPrice, []float64{float64(monthIndex(origin, p.Month))}))
	}
	if err := r.Run(); err != nil {
		return trendLine{}, err
	}
	coeffs := r.GetCoeffs()
	return trendLine{intercept: coeffs[0], slope: coeffs[1]}, nil
}

func monthIndex(origin, t time.Time) int {
	return (t.Year()-origin.Year())*12 + int(t.Month()-origin.Month())
}

// dedupe normalises cities to their canonical name, truncates months to the
// first of the month and keeps the first observation per city and month.
// The result is sorted by month.
func dedupe(points []models.TrendPoint) []models.TrendPoint {
	type key struct {
		city  string
		month time.Time
	}
	seen := make(map[key]bool, len(points))
	out := make([]models.TrendPoint, 0, len(points))
	for _, p := range points {
		if p.IsForecast {
			continue
		}
		p.City = models.NormalizeCity(p.City)
		p.Month = time.Date(p.Month.Year(), p.Month.Month(), 1, 0, 0, 0, 0, time.UTC)
		k := key{p.City, p.Month}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Month.Before(out[j].Month)
	})
	return out
}

func cities(points []models.TrendPoint) []string {
	set := make(map[string]bool)
	var names []string
	for _, p := range points {
		if !set[p.City] {
			set[p.City] = true
			names = append(names, p.City)
		}
	}
	sort.Strings(names)
	return names
}

func byCity(points []models.TrendPoint, city string) []models.TrendPoint {
	var out []models.TrendPoint
	for _, p := range points {
		if p.City == city {
			out = append(out, p)
		}
	}
	return out
}
