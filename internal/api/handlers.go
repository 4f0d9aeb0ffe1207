package api

import (
	"errors"
	"net/http"
	"os"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"propval/config"
	"propval/internal/comparables"
	"propval/internal/database"
	"propval/internal/geometry"
	"propval/internal/models"
	"propval/internal/processor"
	"propval/internal/queue"
	"propval/internal/store"
	"propval/internal/valuation"
)

// IngestStats reports what the batch processor has done so far
type IngestStats interface {
	Stats() processor.Stats
}

// Services are the components the handlers expose. Geocoder and Ingest may
// be nil.
type Services struct {
	DB        *database.Database
	Queue     *queue.PropertyQueue
	Trainer   *valuation.Trainer
	Predictor *valuation.Predictor
	Ranker    *comparables.Ranker
	Areas     *geometry.AreaManager
	Markets   *config.Markets
	Geocoder  database.Geocoder
	Ingest    IngestStats
}

type Handler struct {
	cfg    *config.Config
	logger *logrus.Logger
	Services
}

type DateRange struct {
	StartDate string `form:"startDate"`
	EndDate   string `form:"endDate"`
}

func NewHandler(cfg *config.Config, svc Services, logger *logrus.Logger) *Handler {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}
	if svc.Predictor == nil {
		svc.Predictor = valuation.NewPredictor(logger, nil)
	}
	if svc.Ranker == nil {
		svc.Ranker = comparables.NewRanker(logger, svc.Predictor)
	}
	if svc.Areas == nil {
		svc.Areas = geometry.NewAreaManager(logger)
	}
	return &Handler{cfg: cfg, logger: logger, Services: svc}
}

const insufficientDataMessage = "not enough data to build a model, broaden your filters"

// fail maps service errors onto HTTP responses
func (h *Handler) fail(c *gin.Context, err error, message string) {
	var insufficient *valuation.InsufficientDataError
	switch {
	case errors.As(err, &insufficient):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":        insufficientDataMessage,
			"samples":      insufficient.Samples,
			"min_samples":  insufficient.MinSamples,
			"features":     insufficient.Features,
			"min_features": insufficient.MinFeatures,
		})
	case errors.Is(err, valuation.ErrInsufficientData):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": insufficientDataMessage})
	case errors.Is(err, valuation.ErrUnknownModelKind):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, valuation.ErrNoModel), errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "No trained model, train one first"})
	case errors.Is(err, valuation.ErrNoImportance):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, gorm.ErrRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	case errors.Is(err, config.ErrMarketNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Market not found"})
	case errors.Is(err, queue.ErrQueueFull), errors.Is(err, queue.ErrQueueClosed):
		c.Header("Retry-After", "1")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		h.logger.WithError(err).Error(message)
		c.JSON(http.StatusInternalServerError, gin.H{"error": message})
	}
}

func (h *Handler) GetProperties(c *gin.Context) {
	var filter models.PropertyFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	properties, err := h.DB.GetProperties(c.Request.Context(), &filter)
	if err != nil {
		h.fail(c, err, "Failed to get properties")
		return
	}
	c.JSON(http.StatusOK, properties)
}

func (h *Handler) GetProperty(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid property id"})
		return
	}

	property, err := h.DB.GetProperty(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err, "Failed to get property")
		return
	}
	c.JSON(http.StatusOK, property)
}

// IngestProperties queues a JSON array of records for the batch processor
func (h *Handler) IngestProperties(c *gin.Context) {
	var properties []*models.Property
	if err := c.ShouldBindJSON(&properties); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(properties) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No properties in request"})
		return
	}
	if limit := h.cfg.BatchProcessing.MaxBatchSize; limit > 0 && len(properties) > limit {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Batch exceeds the maximum size of " + strconv.Itoa(limit)})
		return
	}

	batchID, err := h.Queue.Push(properties)
	if err != nil {
		h.fail(c, err, "Failed to queue properties")
		return
	}

	h.logger.WithFields(logrus.Fields{
		"batch_id": batchID.String(),
		"count":    len(properties),
	}).Info("Queued properties for ingestion")
	c.JSON(http.StatusAccepted, gin.H{
		"batch_id": batchID,
		"count":    len(properties),
	})
}

func (h *Handler) GetIngestStats(c *gin.Context) {
	response := gin.H{"queue_length": h.Queue.Len()}
	if h.Ingest != nil {
		response["processor"] = h.Ingest.Stats()
	}
	c.JSON(http.StatusOK, response)
}

func (h *Handler) GetPropertyStats(c *gin.Context) {
	var dateRange DateRange
	if err := c.ShouldBindQuery(&dateRange); err != nil {
		h.logger.WithError(err).Error("Failed to parse date range")
	}

	city := c.Query("city")
	stats, err := h.DB.GetPropertyStats(c.Request.Context(), dateRange.StartDate, dateRange.EndDate, city)
	if err != nil {
		h.fail(c, err, "Failed to get property stats")
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *Handler) UpdateCoordinates(c *gin.Context) {
	if h.Geocoder == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Geocoding is disabled"})
		return
	}
	if err := h.DB.UpdateMissingCoordinates(c.Request.Context(), h.Geocoder); err != nil {
		h.fail(c, err, "Failed to update coordinates")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "Coordinates updated"})
}
