package processor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"propval/config"
	"propval/internal/database"
	"propval/internal/metrics"
	"propval/internal/models"
	"propval/internal/queue"
)

var (
	ErrProcessorStopped  = errors.New("batch processor is stopped")
	ErrNoValidProperties = errors.New("batch has no valid properties")
)

// Transactor runs fn inside a database transaction. *gorm.DB satisfies it.
type Transactor interface {
	Transaction(fc func(*gorm.DB) error, opts ...*sql.TxOptions) error
}

// Invalidator drops models trained on data that has since changed
type Invalidator interface {
	Invalidate()
}

// Stats counts what the processor has done since it started
type Stats struct {
	Batches  int64 `json:"batches"`
	Stored   int64 `json:"stored"`
	Rejected int64 `json:"rejected"`
	Failed   int64 `json:"failed"`
}

type Option func(*BatchProcessor)

func WithMetrics(m *metrics.Registry) Option {
	return func(p *BatchProcessor) { p.metrics = m }
}

// WithInvalidator registers the model cache to clear after every stored batch
func WithInvalidator(inv Invalidator) Option {
	return func(p *BatchProcessor) { p.cache = inv }
}

// WithEnricher runs fn after every stored batch, typically coordinate
// enrichment. Its errors are logged.
func WithEnricher(fn func(ctx context.Context) error) Option {
	return func(p *BatchProcessor) { p.enrich = fn }
}

// BatchProcessor validates queued property batches and upserts them into the
// feature table with retries.
type BatchProcessor struct {
	db      Transactor
	logger  *logrus.Logger
	config  config.BatchProcessingConfig
	queue   *queue.PropertyQueue
	metrics *metrics.Registry
	cache   Invalidator
	enrich  func(ctx context.Context) error

	work      chan queue.Batch
	waitGroup sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	startOnce sync.Once

	batches, stored, rejected, failed atomic.Int64
}

func NewBatchProcessor(db Transactor, q *queue.PropertyQueue, cfg config.BatchProcessingConfig, logger *logrus.Logger, opts ...Option) *BatchProcessor {
	if logger == nil {
		logger = logrus.New()
	}
	if cfg.ProcessorCount < 1 {
		cfg.ProcessorCount = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &BatchProcessor{
		db:     db,
		queue:  q,
		config: cfg,
		logger: logger,
		work:   make(chan queue.Batch),
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start subscribes to the queue once and launches ProcessorCount workers
// that share its batches.
func (p *BatchProcessor) Start() {
	p.startOnce.Do(func() {
		p.queue.Subscribe(p.dispatch)
		for i := 0; i < p.config.ProcessorCount; i++ {
			p.waitGroup.Add(1)
			go p.processLoop()
		}
	})
}

// Stop cancels in-flight retries and waits for the workers to exit
func (p *BatchProcessor) Stop() {
	p.cancel()
	p.waitGroup.Wait()
}

func (p *BatchProcessor) Stats() Stats {
	return Stats{
		Batches:  p.batches.Load(),
		Stored:   p.stored.Load(),
		Rejected: p.rejected.Load(),
		Failed:   p.failed.Load(),
	}
}

// dispatch hands a batch to the next free worker
func (p *BatchProcessor) dispatch(batch queue.Batch) error {
	select {
	case p.work <- batch:
		return nil
	case <-p.ctx.Done():
		return ErrProcessorStopped
	}
}

func (p *BatchProcessor) processLoop() {
	defer p.waitGroup.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case batch := <-p.work:
			if err := p.processBatch(batch); err != nil {
				p.logger.WithError(err).
					WithField("batch_id", batch.ID.String()).
					Error("Batch processing failed")
			}
		}
	}
}

// validate drops records that cannot enter the feature table and
// normalises the property type of the rest.
func (p *BatchProcessor) validate(batch queue.Batch) []*models.Property {
	valid := make([]*models.Property, 0, len(batch.Properties))
	for _, prop := range batch.Properties {
		if prop == nil {
			continue
		}
		if err := prop.Validate(); err != nil {
			p.logger.WithError(err).WithFields(logrus.Fields{
				"batch_id": batch.ID.String(),
				"address":  prop.Address,
			}).Warn("Rejected property")
			continue
		}
		prop.PropertyType = models.NormalizePropertyType(string(prop.PropertyType))
		valid = append(valid, prop)
	}
	return valid
}

// processBatch handles a single batch of properties with transaction and retry logic
func (p *BatchProcessor) processBatch(batch queue.Batch) error {
	p.batches.Add(1)
	valid := p.validate(batch)
	if rejected := len(batch.Properties) - len(valid); rejected > 0 {
		p.rejected.Add(int64(rejected))
		p.metrics.Ingested("rejected", rejected)
	}
	if len(valid) == 0 {
		return ErrNoValidProperties
	}

	attempts := p.config.MaxRetries + 1
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			p.logger.Infof("Retrying batch processing, attempt %d of %d", attempt, p.config.MaxRetries)
			select {
			case <-time.After(p.config.RetryDelay):
			case <-p.ctx.Done():
				p.failed.Add(int64(len(valid)))
				p.metrics.Ingested("failed", len(valid))
				return fmt.Errorf("%w after %d attempts: %v", ErrProcessorStopped, attempt, err)
			}
		}

		err = p.db.Transaction(func(tx *gorm.DB) error {
			if err := database.UpsertProperties(tx, valid); err != nil {
				return fmt.Errorf("failed to upsert properties batch: %w", err)
			}
			return nil
		})
		if err == nil {
			p.stored.Add(int64(len(valid)))
			p.metrics.Ingested("stored", len(valid))
			p.logger.WithFields(logrus.Fields{
				"batch_id": batch.ID.String(),
				"stored":   len(valid),
				"latency":  time.Since(batch.EnqueuedAt).String(),
			}).Info("Successfully processed batch")
			p.afterStore()
			return nil
		}

		p.logger.WithError(err).WithField("attempt", attempt+1).Warn("Batch upsert failed")
	}

	p.failed.Add(int64(len(valid)))
	p.metrics.Ingested("failed", len(valid))
	return fmt.Errorf("failed to process batch after %d attempts: %w", attempts, err)
}

func (p *BatchProcessor) afterStore() {
	if p.cache != nil {
		p.cache.Invalidate()
	}
	if p.enrich != nil {
		if err := p.enrich(p.ctx); err != nil {
			p.logger.WithError(err).Warn("Failed to enrich stored properties")
		}
	}
}
