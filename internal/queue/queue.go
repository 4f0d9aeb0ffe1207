package queue

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"propval/internal/models"
)

var (
	ErrQueueFull   = errors.New("queue is full")
	ErrQueueClosed = errors.New("queue is closed")
	ErrEmptyBatch  = errors.New("batch is empty")
)

// Batch is a group of property records submitted together for ingestion
type Batch struct {
	ID         uuid.UUID
	Properties []*models.Property
	EnqueuedAt time.Time
}

// Handler processes one batch. Errors are logged by the queue.
type Handler func(Batch) error

// PropertyQueue is a bounded in-memory queue of property batches. A single
// dispatcher goroutine hands each batch to every subscribed handler in
// subscription order.
type PropertyQueue struct {
	items    chan Batch
	done     chan struct{}
	stopped  chan struct{}
	maxSize  int
	closed   bool
	started  bool
	mu       sync.RWMutex
	logger   *logrus.Logger
	handlers []Handler
}

func NewPropertyQueue(bufferSize int, logger *logrus.Logger) *PropertyQueue {
	if logger == nil {
		logger = logrus.New()
	}
	return &PropertyQueue{
		items:   make(chan Batch, bufferSize),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
		maxSize: bufferSize,
		logger:  logger,
	}
}

// Push enqueues a batch without blocking and returns its ID
func (q *PropertyQueue) Push(properties []*models.Property) (uuid.UUID, error) {
	if len(properties) == 0 {
		return uuid.Nil, ErrEmptyBatch
	}

	// The read lock is held across the send so Close cannot close the
	// channel underneath it.
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return uuid.Nil, ErrQueueClosed
	}

	batch := Batch{ID: uuid.New(), Properties: properties, EnqueuedAt: time.Now()}
	select {
	case q.items <- batch:
		q.logger.WithFields(logrus.Fields{
			"batch_id":   batch.ID.String(),
			"batch_size": len(properties),
		}).Debug("Pushed batch to queue")
		return batch.ID, nil
	default:
		return uuid.Nil, ErrQueueFull
	}
}

// Subscribe adds a handler that is called for every batch
func (q *PropertyQueue) Subscribe(handler Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers = append(q.handlers, handler)
}

// Start launches the dispatcher. Calling it more than once has no effect.
func (q *PropertyQueue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return
	}
	q.started = true
	go q.process()
}

func (q *PropertyQueue) process() {
	defer close(q.stopped)
	for {
		select {
		case <-q.done:
			// Drain what was accepted before Close
			for batch := range q.items {
				q.processBatch(batch)
			}
			return
		case batch, ok := <-q.items:
			if !ok {
				return
			}
			q.processBatch(batch)
		}
	}
}

func (q *PropertyQueue) processBatch(batch Batch) {
	q.mu.RLock()
	handlers := make([]Handler, len(q.handlers))
	copy(handlers, q.handlers)
	q.mu.RUnlock()

	for _, handler := range handlers {
		if err := handler(batch); err != nil {
			q.logger.WithError(err).
				WithField("batch_id", batch.ID.String()).
				Error("Handler failed to process batch")
		}
	}
}

// Close stops accepting batches. Batches already queued are still
// dispatched; Close waits for them when the dispatcher is running.
func (q *PropertyQueue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	started := q.started
	close(q.done)
	close(q.items)
	q.mu.Unlock()

	if started {
		<-q.stopped
	}
	return nil
}

// Len returns the number of batches waiting for dispatch
func (q *PropertyQueue) Len() int {
	return len(q.items)
}

func (q *PropertyQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
