package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"propval/config"
)

// ListMarkets returns all configured markets
func (h *Handler) ListMarkets(c *gin.Context) {
	c.JSON(http.StatusOK, h.Markets.List())
}

func (h *Handler) GetMarket(c *gin.Context) {
	market, err := h.Markets.Get(c.Param("name"))
	if err != nil {
		h.fail(c, err, "Failed to get market")
		return
	}
	c.JSON(http.StatusOK, market)
}

func (h *Handler) CreateMarket(c *gin.Context) {
	var market config.Market
	if err := c.ShouldBindJSON(&market); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if _, err := h.Markets.Get(market.Name); err == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "Market already exists"})
		return
	}
	h.saveMarket(c, market, http.StatusCreated)
}

func (h *Handler) UpdateMarket(c *gin.Context) {
	name := c.Param("name")
	var market config.Market
	if err := c.ShouldBindJSON(&market); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// Ensure the name in the URL matches the name in the body
	if market.Name != name {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Name in URL does not match name in body"})
		return
	}
	if _, err := h.Markets.Get(name); err != nil {
		h.fail(c, err, "Failed to get market")
		return
	}
	h.saveMarket(c, market, http.StatusOK)
}

func (h *Handler) saveMarket(c *gin.Context, market config.Market, status int) {
	if err := h.Markets.Upsert(market); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	saved, err := h.Markets.Get(market.Name)
	if err != nil {
		h.fail(c, err, "Failed to get market")
		return
	}
	c.JSON(status, saved)
}

func (h *Handler) DeleteMarket(c *gin.Context) {
	if err := h.Markets.Delete(c.Param("name")); err != nil {
		h.fail(c, err, "Failed to delete market")
		return
	}
	c.Status(http.StatusNoContent)
}

// GeocodeMarket fills in missing coordinates for listings in the market's
// cities
func (h *Handler) GeocodeMarket(c *gin.Context) {
	if h.Geocoder == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Geocoding is disabled"})
		return
	}
	cities, err := h.Markets.CitiesIn(c.Param("name"))
	if err != nil {
		h.fail(c, err, "Failed to get market")
		return
	}
	if len(cities) == 0 {
		c.JSON(http.StatusOK, gin.H{"status": "Market has no cities"})
		return
	}
	if err := h.DB.UpdateMissingCoordinates(c.Request.Context(), h.Geocoder, cities...); err != nil {
		h.fail(c, err, "Failed to geocode market")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "Coordinates updated",
		"cities": cities,
	})
}
