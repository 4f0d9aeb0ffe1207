package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"propval/internal/investment"
	"propval/internal/models"
	"propval/internal/trends"
)

type investmentRequest struct {
	Price       *float64                   `json:"price" binding:"required"`
	Assumptions models.AssumptionOverrides `json:"assumptions"`
}

// EvaluateInvestment runs the evaluator for one purchase price. Omitted
// assumptions fall back to the configured defaults; explicit zeros are kept.
func (h *Handler) EvaluateInvestment(c *gin.Context) {
	var req investmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	assumptions := req.Assumptions.Apply(h.cfg.Investment)
	c.JSON(http.StatusOK, gin.H{
		"metrics":     investment.Evaluate(*req.Price, assumptions),
		"assumptions": assumptions,
	})
}

type investmentRankRequest struct {
	Filter             *models.PropertyFilter     `json:"filter"`
	Assumptions        models.AssumptionOverrides `json:"assumptions"`
	Strategy           string                     `json:"strategy"`
	MinCapRate         *float64                   `json:"min_cap_rate"`
	MinMonthlyCashFlow *float64                   `json:"min_monthly_cash_flow"`
	TopN               int                        `json:"top_n"`
	// Derive appreciation from price trends for cities no market configures
	UseTrends bool `json:"use_trends"`
}

func (h *Handler) RankInvestments(c *gin.Context) {
	var req investmentRankRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	strategy, err := investment.ParseStrategy(req.Strategy)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	records, err := h.DB.GetProperties(ctx, req.Filter)
	if err != nil {
		h.fail(c, err, "Failed to load properties")
		return
	}

	rates := make(map[string]float64)
	if req.UseTrends {
		points, err := h.DB.AveragePriceByMonth(ctx, "")
		if err != nil {
			h.fail(c, err, "Failed to load price trends")
			return
		}
		growth, err := trends.AnnualGrowth(points)
		if err != nil {
			h.fail(c, err, "Failed to compute price trends")
			return
		}
		for city, rate := range growth {
			rates[city] = rate
		}
	}
	if h.Markets != nil {
		for city, rate := range h.Markets.AppreciationRates() {
			rates[city] = rate
		}
	}

	opportunities := investment.RankInvestments(records, req.Assumptions.Apply(h.cfg.Investment), investment.RankOptions{
		Strategy:           strategy,
		MinCapRate:         req.MinCapRate,
		MinMonthlyCashFlow: req.MinMonthlyCashFlow,
		TopN:               req.TopN,
		MarketRates:        rates,
	})
	c.JSON(http.StatusOK, gin.H{
		"strategy":      strategy,
		"opportunities": opportunities,
	})
}

// GetForecast returns monthly average prices per city followed by a linear
// forecast for the requested number of months.
func (h *Handler) GetForecast(c *gin.Context) {
	months := h.cfg.ForecastMonths
	if raw := c.Query("months"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 || n > 120 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "months must be between 0 and 120"})
			return
		}
		months = n
	}

	points, err := h.DB.AveragePriceByMonth(c.Request.Context(), c.Query("city"))
	if err != nil {
		h.fail(c, err, "Failed to load price trends")
		return
	}
	series, err := trends.Forecast(points, months)
	if err != nil {
		h.fail(c, err, "Failed to forecast prices")
		return
	}
	growth, err := trends.AnnualGrowth(points)
	if err != nil {
		h.fail(c, err, "Failed to compute price trends")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"points":        series,
		"annual_growth": growth,
	})
}

// GetMarketAreas returns the convex footprint of every city's located
// listings as a GeoJSON feature collection.
func (h *Handler) GetMarketAreas(c *gin.Context) {
	var filter models.PropertyFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	properties, err := h.DB.GetProperties(c.Request.Context(), &filter)
	if err != nil {
		h.fail(c, err, "Failed to load properties")
		return
	}
	c.JSON(http.StatusOK, h.Areas.FeatureCollection(h.Areas.BuildAreas(properties)))
}
