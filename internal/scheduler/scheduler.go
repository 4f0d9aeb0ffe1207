package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"propval/internal/models"
	"propval/internal/valuation"
)

// JobType represents the kinds of periodic maintenance the service runs
type JobType int

const (
	JobTypeRetrain JobType = iota
	JobTypeGeocode
)

func (j JobType) String() string {
	switch j {
	case JobTypeRetrain:
		return "retrain"
	case JobTypeGeocode:
		return "geocode"
	default:
		return "unknown"
	}
}

// PropertySource returns the feature table
type PropertySource interface {
	GetProperties(ctx context.Context, filter *models.PropertyFilter) ([]models.Property, error)
}

// ModelTrainer fits one model kind on a set of records
type ModelTrainer interface {
	Train(ctx context.Context, records []models.Property, kind valuation.ModelKind, opts valuation.TrainOptions) (*valuation.TrainedModel, error)
}

// Scheduler retrains every model kind on the full feed and runs coordinate
// enrichment on cron schedules. Jobs never overlap.
type Scheduler struct {
	source  PropertySource
	trainer ModelTrainer
	enrich  func(ctx context.Context) error
	logger  *logrus.Logger
	cron    *cron.Cron

	jobMutex sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
}

func NewScheduler(source PropertySource, trainer ModelTrainer, logger *logrus.Logger) *Scheduler {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
		logger.SetLevel(logrus.InfoLevel)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		source:  source,
		trainer: trainer,
		logger:  logger,
		cron: cron.New(cron.WithChain(
			cron.Recover(cron.PrintfLogger(logger)),
		)),
		ctx:    ctx,
		cancel: cancel,
	}
}

// SetEnricher registers the coordinate enrichment run by geocode jobs
func (s *Scheduler) SetEnricher(fn func(ctx context.Context) error) {
	s.enrich = fn
}

// Schedule registers a job under a standard five-field cron spec or a
// descriptor such as "@hourly" or "@every 30m".
func (s *Scheduler) Schedule(spec string, job JobType) error {
	var run func(ctx context.Context) error
	switch job {
	case JobTypeRetrain:
		run = s.RunRetrain
	case JobTypeGeocode:
		if s.enrich == nil {
			return fmt.Errorf("no enricher set for %s job", job)
		}
		run = s.enrich
	default:
		return fmt.Errorf("unknown job type %d", job)
	}

	_, err := s.cron.AddFunc(spec, func() { s.runJob(job, run) })
	if err != nil {
		return fmt.Errorf("failed to schedule %s job %q: %w", job, spec, err)
	}
	s.logger.WithFields(logrus.Fields{
		"job_type": job.String(),
		"schedule": spec,
	}).Info("Scheduled job")
	return nil
}

// Start begins the scheduled tasks
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop cancels the running job and waits for it to return
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
}

func (s *Scheduler) runJob(job JobType, run func(ctx context.Context) error) {
	if !s.jobMutex.TryLock() {
		s.logger.WithField("job_type", job.String()).Warn("Skipping job, previous run still in progress")
		return
	}
	defer s.jobMutex.Unlock()

	start := time.Now()
	s.logger.WithField("job_type", job.String()).Info("Starting job")
	if err := run(s.ctx); err != nil {
		s.logger.WithError(err).WithField("job_type", job.String()).Error("Job failed")
		return
	}
	s.logger.WithFields(logrus.Fields{
		"job_type": job.String(),
		"duration": time.Since(start).String(),
	}).Info("Job completed successfully")
}

// RunRetrain trains every model kind on the whole feed. A feed too small to
// train on is not an error.
func (s *Scheduler) RunRetrain(ctx context.Context) error {
	records, err := s.source.GetProperties(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to load training records: %w", err)
	}

	var errs []error
	for _, kind := range valuation.ModelKinds {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, err := s.trainer.Train(ctx, records, kind, valuation.TrainOptions{})
		switch {
		case err == nil:
		case errors.Is(err, valuation.ErrInsufficientData):
			s.logger.WithFields(logrus.Fields{
				"kind":    kind,
				"records": len(records),
			}).Info("Skipping retrain, not enough data")
			return nil
		default:
			errs = append(errs, fmt.Errorf("failed to retrain %s: %w", kind, err))
		}
	}
	return errors.Join(errs...)
}
