package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"propval/internal/comparables"
	"propval/internal/models"
	"propval/internal/valuation"
)

type trainRequest struct {
	Filter   *models.PropertyFilter `json:"filter"`
	Features []string               `json:"features"`
	Seed     int64                  `json:"seed"`
}

type modelResponse struct {
	ID        uuid.UUID                   `json:"id"`
	Kind      valuation.ModelKind         `json:"kind"`
	Features  []string                    `json:"features"`
	Metrics   valuation.EvaluationMetrics `json:"metrics"`
	TrainedAt time.Time                   `json:"trained_at"`
}

func newModelResponse(m *valuation.TrainedModel) modelResponse {
	return modelResponse{
		ID:        m.ID,
		Kind:      m.Kind,
		Features:  m.Features,
		Metrics:   m.Metrics,
		TrainedAt: m.TrainedAt,
	}
}

// bindOptionalJSON accepts an empty body as the zero request
func bindOptionalJSON(c *gin.Context, obj interface{}) error {
	if err := c.ShouldBindJSON(obj); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ensureModel returns the cached model for the filtered feed, training one
// when the feed changed since the last call.
func (h *Handler) ensureModel(ctx context.Context, kind valuation.ModelKind, filter *models.PropertyFilter, features []string) (*valuation.TrainedModel, []models.Property, error) {
	records, err := h.DB.GetProperties(ctx, filter)
	if err != nil {
		return nil, nil, err
	}
	model, err := h.Trainer.Ensure(ctx, records, kind, valuation.TrainOptions{Features: features})
	if err != nil {
		return nil, records, err
	}
	return model, records, nil
}

func (h *Handler) TrainModel(c *gin.Context) {
	kind, err := valuation.ParseModelKind(c.Param("kind"))
	if err != nil {
		h.fail(c, err, "Invalid model kind")
		return
	}
	var req trainRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	records, err := h.DB.GetProperties(c.Request.Context(), req.Filter)
	if err != nil {
		h.fail(c, err, "Failed to load training data")
		return
	}
	model, err := h.Trainer.Train(c.Request.Context(), records, kind, valuation.TrainOptions{
		Features: req.Features,
		Seed:     req.Seed,
	})
	if err != nil {
		h.fail(c, err, "Failed to train model")
		return
	}
	c.JSON(http.StatusOK, newModelResponse(model))
}

func (h *Handler) GetModel(c *gin.Context) {
	kind, err := valuation.ParseModelKind(c.Param("kind"))
	if err != nil {
		h.fail(c, err, "Invalid model kind")
		return
	}
	model, err := h.Trainer.Load(c.Request.Context(), kind)
	if err != nil {
		h.fail(c, err, "Failed to load model")
		return
	}
	c.JSON(http.StatusOK, newModelResponse(model))
}

func (h *Handler) GetFeatureImportance(c *gin.Context) {
	kind, err := valuation.ParseModelKind(c.Param("kind"))
	if err != nil {
		h.fail(c, err, "Invalid model kind")
		return
	}
	model, err := h.Trainer.Load(c.Request.Context(), kind)
	if err != nil {
		h.fail(c, err, "Failed to load model")
		return
	}
	importance, err := model.FeatureImportance()
	if err != nil {
		h.fail(c, err, "Failed to compute feature importance")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"model_id":   model.ID,
		"kind":       model.Kind,
		"importance": importance,
	})
}

type valuationRequest struct {
	Kind     string                 `json:"kind"`
	Filter   *models.PropertyFilter `json:"filter"`
	Features []string               `json:"features"`
	Property models.PropertyInput   `json:"property"`
}

// Valuate predicts the price of a partially described property with a model
// of the requested kind trained on the filtered feed.
func (h *Handler) Valuate(c *gin.Context) {
	var req valuationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	kind, err := valuation.ParseModelKind(req.Kind)
	if err != nil {
		h.fail(c, err, "Invalid model kind")
		return
	}

	model, _, err := h.ensureModel(c.Request.Context(), kind, req.Filter, req.Features)
	if err != nil {
		h.fail(c, err, "Failed to prepare model")
		return
	}
	result, err := h.Predictor.Predict(model, req.Property)
	if err != nil {
		h.fail(c, err, "Failed to predict price")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"valuation": result,
		"model":     newModelResponse(model),
	})
}

type comparablesRequest struct {
	Target    models.PropertyInput   `json:"target"`
	TopN      *int                   `json:"top_n"`
	Normalize bool                   `json:"normalize"`
	Filter    *models.PropertyFilter `json:"filter"`
	// Empty skips price differences
	Kind string `json:"kind"`
}

func (h *Handler) FindComparables(c *gin.Context) {
	var req comparablesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	opts := comparables.Options{TopN: h.cfg.ComparablesTopN, Normalize: req.Normalize}
	if req.TopN != nil {
		opts.TopN = *req.TopN
	}

	candidates, err := h.DB.GetProperties(c.Request.Context(), req.Filter)
	if err != nil {
		h.fail(c, err, "Failed to load candidates")
		return
	}

	var model *valuation.TrainedModel
	if req.Kind != "" {
		kind, err := valuation.ParseModelKind(req.Kind)
		if err != nil {
			h.fail(c, err, "Invalid model kind")
			return
		}
		model, err = h.Trainer.Ensure(c.Request.Context(), candidates, kind, valuation.TrainOptions{})
		switch {
		case errors.Is(err, valuation.ErrInsufficientData):
			h.logger.WithField("candidates", len(candidates)).Info("Ranking comparables without price differences")
		case err != nil:
			h.fail(c, err, "Failed to prepare model")
			return
		}
	}

	matches := h.Ranker.Rank(candidates, req.Target, model, opts)
	c.JSON(http.StatusOK, gin.H{
		"comparables": matches,
		"candidates":  len(candidates),
	})
}
