package investment

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"propval/internal/models"
)

const maxAppreciation = 0.15

// AppreciationFor adjusts a market appreciation rate for the property type
// and clips it to [0, 0.15].
func AppreciationFor(propertyType models.PropertyType, base float64) float64 {
	rate := base
	switch models.NormalizePropertyType(string(propertyType)) {
	case models.Condo:
		rate *= 0.9
	case models.MultiFamily:
		rate *= 1.1
	}
	if !isFinite(rate) {
		return 0
	}
	return math.Min(maxAppreciation, math.Max(0, rate))
}

type strategyWeights struct {
	cashFlow, capRate, appreciation float64
}

var weights = map[models.InvestmentStrategy]strategyWeights{
	models.StrategyCashFlow:     {0.6, 0.3, 0.1},
	models.StrategyAppreciation: {0.2, 0.2, 0.6},
	models.StrategyBalanced:     {0.33, 0.33, 0.34},
}

// ParseStrategy accepts the strategy names; empty means balanced
func ParseStrategy(s string) (models.InvestmentStrategy, error) {
	switch strategy := models.InvestmentStrategy(strings.ToLower(strings.TrimSpace(s))); strategy {
	case "":
		return models.StrategyBalanced, nil
	case models.StrategyCashFlow, models.StrategyAppreciation, models.StrategyBalanced:
		return strategy, nil
	}
	return "", fmt.Errorf("unknown investment strategy %q", s)
}

// RankOptions narrows and orders investment opportunities. MarketRates maps a
// normalised city to its appreciation rate; cities without an entry use the
// assumptions' rate.
type RankOptions struct {
	Strategy           models.InvestmentStrategy `json:"strategy"`
	MinCapRate         *float64                  `json:"min_cap_rate,omitempty"`
	MinMonthlyCashFlow *float64                  `json:"min_monthly_cash_flow,omitempty"`
	TopN               int                       `json:"top_n"`
	MarketRates        map[string]float64        `json:"market_rates,omitempty"`
}

// RankInvestments evaluates every record, scores cash flow, cap rate and
// appreciation on a 0-100 scale relative to the best record, and orders by
// the strategy-weighted total. TopN <= 0 keeps every match.
func RankInvestments(records []models.Property, base models.InvestmentAssumptions, opts RankOptions) []models.InvestmentOpportunity {
	w, ok := weights[opts.Strategy]
	if !ok {
		w = weights[models.StrategyBalanced]
	}

	opportunities := make([]models.InvestmentOpportunity, 0, len(records))
	for _, p := range records {
		a := base
		market := base.AppreciationRate
		if rate, ok := opts.MarketRates[models.NormalizeCity(p.City)]; ok {
			market = rate
		}
		a.AppreciationRate = AppreciationFor(p.PropertyType, market)

		opportunities = append(opportunities, models.InvestmentOpportunity{
			Property:         p,
			Metrics:          Evaluate(p.Price, a),
			AppreciationRate: a.AppreciationRate,
		})
	}

	var maxCapRate, maxCashFlow, maxAppreciationRate float64
	for _, o := range opportunities {
		maxCapRate = math.Max(maxCapRate, o.Metrics.CapRate)
		maxCashFlow = math.Max(maxCashFlow, o.Metrics.MonthlyCashFlow)
		maxAppreciationRate = math.Max(maxAppreciationRate, o.AppreciationRate)
	}

	ranked := opportunities[:0]
	for _, o := range opportunities {
		if opts.MinCapRate != nil && o.Metrics.CapRate < *opts.MinCapRate {
			continue
		}
		if opts.MinMonthlyCashFlow != nil && o.Metrics.MonthlyCashFlow < *opts.MinMonthlyCashFlow {
			continue
		}
		o.CapRateScore = relativeScore(o.Metrics.CapRate, maxCapRate)
		o.CashFlowScore = relativeScore(o.Metrics.MonthlyCashFlow, maxCashFlow)
		o.AppreciationScore = relativeScore(o.AppreciationRate, maxAppreciationRate)
		o.InvestmentScore = w.cashFlow*o.CashFlowScore + w.capRate*o.CapRateScore + w.appreciation*o.AppreciationScore
		ranked = append(ranked, o)
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].InvestmentScore > ranked[j].InvestmentScore
	})
	if opts.TopN > 0 && len(ranked) > opts.TopN {
		ranked = ranked[:opts.TopN]
	}
	return ranked
}

// relativeScore is value/max on a 0-100 scale, 0 when no record is positive
func relativeScore(value, max float64) float64 {
	if max <= 0 {
		return 0
	}
	return value / max * 100
}
