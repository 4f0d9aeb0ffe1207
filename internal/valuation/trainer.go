package valuation

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"propval/internal/metrics"
	"propval/internal/models"
)

const (
	MinTrainingSamples  = 50
	MinTrainingFeatures = 3

	testFraction = 0.2
	cvFolds      = 5
	defaultSeed  = 42
)

// ModelStore is an opaque key to blob store for trained models
type ModelStore interface {
	Put(ctx context.Context, key string, blob []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// TrainOptions restricts the feature list or overrides the split seed
type TrainOptions struct {
	Features []string
	Seed     int64
}

func (o TrainOptions) seed() int64 {
	if o.Seed == 0 {
		return defaultSeed
	}
	return o.Seed
}

// Trainer fits valuation models. Store, cache and metrics are optional.
type Trainer struct {
	logger  *logrus.Logger
	store   ModelStore
	cache   *Cache
	metrics *metrics.Registry
}

func NewTrainer(logger *logrus.Logger, store ModelStore, cache *Cache, m *metrics.Registry) *Trainer {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}
	return &Trainer{
		logger:  logger,
		store:   store,
		cache:   cache,
		metrics: m,
	}
}

// StoreKey is the model store key for the latest model of a kind
func StoreKey(kind ModelKind) string {
	return fmt.Sprintf("property_valuation_%s", kind)
}

type trainingSet struct {
	records  []models.Property
	inputs   []models.PropertyInput
	prices   []float64
	features []string
}

func (t *Trainer) prepare(records []models.Property, opts TrainOptions) (*trainingSet, error) {
	set := &trainingSet{}
	for i := range records {
		p := records[i]
		if !(p.Price > 0) || math.IsInf(p.Price, 0) {
			continue
		}
		set.records = append(set.records, p)
		set.inputs = append(set.inputs, p.Input())
		set.prices = append(set.prices, p.Price)
	}
	if dropped := len(records) - len(set.records); dropped > 0 {
		t.logger.WithField("dropped", dropped).Warn("Dropped records without a usable price")
	}

	if len(set.records) < MinTrainingSamples {
		return nil, &InsufficientDataError{
			Samples:     len(set.records),
			MinSamples:  MinTrainingSamples,
			MinFeatures: MinTrainingFeatures,
		}
	}

	set.features = usableFeatures(set.inputs, opts.Features)
	if len(set.features) < MinTrainingFeatures {
		return nil, &InsufficientDataError{
			Samples:     len(set.records),
			MinSamples:  MinTrainingSamples,
			Features:    set.features,
			MinFeatures: MinTrainingFeatures,
		}
	}
	return set, nil
}

// Ensure returns the cached model for this snapshot and kind, training one
// when there is none.
func (t *Trainer) Ensure(ctx context.Context, records []models.Property, kind ModelKind, opts TrainOptions) (*TrainedModel, error) {
	if t.cache != nil {
		set, err := t.prepare(records, opts)
		if err != nil {
			return nil, err
		}
		if m, ok := t.cache.Get(SnapshotKey(set.records, set.features, opts.seed()), kind); ok {
			t.metrics.CacheLookup(true)
			return m, nil
		}
		t.metrics.CacheLookup(false)
	}
	return t.Train(ctx, records, kind, opts)
}

// Train fits a model of the given kind on the records, evaluates it on a
// held-out 20% and by 5-fold cross-validation, then stores it best-effort.
func (t *Trainer) Train(ctx context.Context, records []models.Property, kind ModelKind, opts TrainOptions) (*TrainedModel, error) {
	start := time.Now()
	model, err := t.train(ctx, records, kind, opts)
	if err != nil {
		t.metrics.ObserveTraining(string(kind), "error", time.Since(start))
		return nil, err
	}
	t.metrics.ObserveTraining(string(kind), "success", time.Since(start))

	t.logger.WithFields(logrus.Fields{
		"model_id":         model.ID.String(),
		"kind":             kind,
		"mae":              model.Metrics.MAE,
		"rmse":             model.Metrics.RMSE,
		"r2":               model.Metrics.R2,
		"cv_mae":           model.Metrics.CVMAE,
		"training_samples": model.Metrics.TrainingSamples,
		"duration":         time.Since(start).String(),
	}).Info("Model trained")

	t.persist(ctx, model)
	if t.cache != nil {
		t.cache.Put(model)
	}
	return model, nil
}

func (t *Trainer) train(ctx context.Context, records []models.Property, kind ModelKind, opts TrainOptions) (*TrainedModel, error) {
	switch kind {
	case KindRandomForest, KindGradientBoosting, KindLinear:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownModelKind, kind)
	}

	set, err := t.prepare(records, opts)
	if err != nil {
		t.logger.WithError(err).WithField("kind", kind).Warn("Not enough data for training")
		return nil, err
	}

	seed := opts.seed()

	t.logger.WithFields(logrus.Fields{
		"kind":     kind,
		"features": set.features,
		"samples":  len(set.records),
	}).Info("Training valuation model")

	n := len(set.records)
	perm := rand.New(rand.NewSource(seed)).Perm(n)
	testSize := int(math.Ceil(testFraction * float64(n)))
	testIdx, trainIdx := perm[:testSize], perm[testSize:]

	model, err := fitPipeline(ctx, pick(set.inputs, trainIdx), pickFloats(set.prices, trainIdx), set.features, kind, seed)
	if err != nil {
		return nil, fmt.Errorf("failed to fit %s model: %w", kind, err)
	}

	testInputs := pick(set.inputs, testIdx)
	actual := pickFloats(set.prices, testIdx)
	predicted := make([]float64, len(testInputs))
	for i := range testInputs {
		row, _ := model.Preprocessor.Transform(&testInputs[i])
		predicted[i] = model.predictRow(row)
	}

	cvMAE, err := crossValidatedMAE(ctx, set, kind, seed)
	if err != nil {
		return nil, fmt.Errorf("failed to cross-validate %s model: %w", kind, err)
	}

	model.ID = uuid.New()
	model.SnapshotKey = SnapshotKey(set.records, set.features, seed)
	model.TrainedAt = time.Now().UTC()
	model.Metrics = EvaluationMetrics{
		MAE:             meanAbsoluteError(actual, predicted),
		RMSE:            rootMeanSquaredError(actual, predicted),
		R2:              r2Score(actual, predicted),
		CVMAE:           cvMAE,
		TrainingSamples: len(trainIdx),
		TestSamples:     len(testIdx),
		Kind:            kind,
	}
	return model, nil
}

// fitPipeline fits the preprocessor and the regressor on one training set
func fitPipeline(ctx context.Context, inputs []models.PropertyInput, prices []float64, features []string, kind ModelKind, seed int64) (*TrainedModel, error) {
	pre, err := fitPreprocessor(inputs, features, kind == KindLinear)
	if err != nil {
		return nil, err
	}
	x := pre.transformAll(inputs)

	model := &TrainedModel{
		Kind:         kind,
		Features:     append([]string(nil), features...),
		Preprocessor: pre,
	}

	switch kind {
	case KindRandomForest:
		cfg := defaultForest
		cfg.Seed = seed
		model.Forest, err = fitForest(ctx, x, prices, cfg)
	case KindGradientBoosting:
		cfg := defaultBoosting
		cfg.Seed = seed
		model.Boosting, err = fitBoosting(ctx, x, prices, cfg)
	case KindLinear:
		model.Linear, err = fitLinear(x, prices, pre.ColumnSources())
	}
	if err != nil {
		return nil, err
	}
	return model, nil
}

// crossValidatedMAE uses contiguous, unshuffled folds; the first n%k folds
// take one extra record.
func crossValidatedMAE(ctx context.Context, set *trainingSet, kind ModelKind, seed int64) (float64, error) {
	n := len(set.records)
	total := 0.0
	start := 0
	for fold := 0; fold < cvFolds; fold++ {
		size := n / cvFolds
		if fold < n%cvFolds {
			size++
		}
		end := start + size

		var trainIdx, testIdx []int
		for i := 0; i < n; i++ {
			if i >= start && i < end {
				testIdx = append(testIdx, i)
			} else {
				trainIdx = append(trainIdx, i)
			}
		}
		start = end

		model, err := fitPipeline(ctx, pick(set.inputs, trainIdx), pickFloats(set.prices, trainIdx), set.features, kind, seed)
		if err != nil {
			return 0, err
		}
		testInputs := pick(set.inputs, testIdx)
		predicted := make([]float64, len(testInputs))
		for i := range testInputs {
			row, _ := model.Preprocessor.Transform(&testInputs[i])
			predicted[i] = model.predictRow(row)
		}
		total += meanAbsoluteError(pickFloats(set.prices, testIdx), predicted)
	}
	return total / cvFolds, nil
}

func (t *Trainer) persist(ctx context.Context, model *TrainedModel) {
	if t.store == nil {
		return
	}
	key := StoreKey(model.Kind)

	blob, err := json.Marshal(model)
	if err == nil {
		err = t.store.Put(ctx, key, blob)
	}
	if err != nil {
		t.metrics.PersistenceFailed()
		t.logger.WithError(&ModelPersistenceError{Key: key, Err: err}).Error("Failed to persist model")
		return
	}
	t.logger.WithFields(logrus.Fields{
		"key":   key,
		"bytes": len(blob),
	}).Info("Model saved")
}

// Load reads the latest persisted model of a kind from the store
func (t *Trainer) Load(ctx context.Context, kind ModelKind) (*TrainedModel, error) {
	if t.cache != nil {
		if m, ok := t.cache.Latest(kind); ok {
			t.metrics.CacheLookup(true)
			return m, nil
		}
		t.metrics.CacheLookup(false)
	}
	if t.store == nil {
		return nil, ErrNoModel
	}

	blob, err := t.store.Get(ctx, StoreKey(kind))
	if err != nil {
		return nil, fmt.Errorf("failed to load %s model: %w", kind, err)
	}
	var model TrainedModel
	if err := json.Unmarshal(blob, &model); err != nil {
		return nil, fmt.Errorf("failed to decode %s model: %w", kind, err)
	}
	if !model.valid() {
		return nil, fmt.Errorf("%w: stored %s model is incomplete", ErrNoModel, kind)
	}
	return &model, nil
}

func pick(inputs []models.PropertyInput, idx []int) []models.PropertyInput {
	out := make([]models.PropertyInput, len(idx))
	for i, j := range idx {
		out[i] = inputs[j]
	}
	return out
}

func pickFloats(values []float64, idx []int) []float64 {
	out := make([]float64, len(idx))
	for i, j := range idx {
		out[i] = values[j]
	}
	return out
}
