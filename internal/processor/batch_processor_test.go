package processor

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"propval/config"
	"propval/internal/models"
	"propval/internal/queue"
)

// MockDB is a mock implementation of the Transactor interface
type MockDB struct {
	mock.Mock
}

func (m *MockDB) Transaction(fc func(*gorm.DB) error, opts ...*sql.TxOptions) error {
	args := m.Called(fc)
	return args.Error(0)
}

type MockInvalidator struct {
	mock.Mock
}

func (m *MockInvalidator) Invalidate() {
	m.Called()
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testConfig() config.BatchProcessingConfig {
	return config.BatchProcessingConfig{
		ProcessorCount: 2,
		MaxRetries:     2,
		RetryDelay:     time.Millisecond,
		QueueSize:      10,
	}
}

func validProperty(address string) *models.Property {
	return &models.Property{
		Address:      address,
		City:         "Amsterdam",
		PropertyType: "Single Family",
		Price:        500000,
		Bedrooms:     3,
		Bathrooms:    1,
		Sqft:         110,
	}
}

func newBatch(props ...*models.Property) queue.Batch {
	return queue.Batch{ID: uuid.New(), Properties: props, EnqueuedAt: time.Now()}
}

func TestNewBatchProcessor(t *testing.T) {
	mockDB := &MockDB{}
	q := queue.NewPropertyQueue(10, quietLogger())
	cfg := testConfig()
	logger := quietLogger()

	processor := NewBatchProcessor(mockDB, q, cfg, logger)

	assert.NotNil(t, processor)
	assert.Equal(t, mockDB, processor.db)
	assert.Equal(t, q, processor.queue)
	assert.Equal(t, cfg, processor.config)
	assert.Equal(t, logger, processor.logger)

	cfg.ProcessorCount = 0
	assert.Equal(t, 1, NewBatchProcessor(mockDB, q, cfg, logger).config.ProcessorCount)
}

func TestBatchProcessor_ProcessBatch(t *testing.T) {
	mockDB := &MockDB{}
	invalidator := &MockInvalidator{}
	processor := NewBatchProcessor(mockDB, queue.NewPropertyQueue(10, quietLogger()), testConfig(), quietLogger(),
		WithInvalidator(invalidator))

	batch := newBatch(validProperty("Test Address 1"), validProperty("Test Address 2"))

	mockDB.On("Transaction", mock.Anything).Return(nil).Once()
	invalidator.On("Invalidate").Once()
	require.NoError(t, processor.processBatch(batch))
	assert.Equal(t, models.SingleFamily, batch.Properties[0].PropertyType)
	invalidator.AssertExpectations(t)

	// Every attempt fails: one try plus two retries
	mockDB.On("Transaction", mock.Anything).Return(errors.New("db error")).Times(3)
	err := processor.processBatch(batch)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to process batch after 3 attempts")
	mockDB.AssertExpectations(t)
	invalidator.AssertNumberOfCalls(t, "Invalidate", 1)

	assert.Equal(t, Stats{Batches: 2, Stored: 2, Failed: 2}, processor.Stats())
}

func TestBatchProcessor_RecoversAfterRetries(t *testing.T) {
	mockDB := &MockDB{}
	processor := NewBatchProcessor(mockDB, queue.NewPropertyQueue(10, quietLogger()), testConfig(), quietLogger())

	mockDB.On("Transaction", mock.Anything).Return(errors.New("temporary error")).Twice()
	mockDB.On("Transaction", mock.Anything).Return(nil).Once()

	require.NoError(t, processor.processBatch(newBatch(validProperty("A 1"))))
	mockDB.AssertNumberOfCalls(t, "Transaction", 3)
}

func TestBatchProcessor_RejectsInvalidProperties(t *testing.T) {
	mockDB := &MockDB{}
	processor := NewBatchProcessor(mockDB, queue.NewPropertyQueue(10, quietLogger()), testConfig(), quietLogger())

	noPrice := validProperty("A 2")
	noPrice.Price = 0
	noCity := validProperty("A 3")
	noCity.City = ""

	err := processor.processBatch(newBatch(noPrice, noCity, nil))
	assert.ErrorIs(t, err, ErrNoValidProperties)
	mockDB.AssertNotCalled(t, "Transaction", mock.Anything)

	mockDB.On("Transaction", mock.Anything).Return(nil).Once()
	require.NoError(t, processor.processBatch(newBatch(validProperty("A 1"), noPrice)))
	assert.Equal(t, int64(4), processor.Stats().Rejected)
	assert.Equal(t, int64(1), processor.Stats().Stored)
}

func TestBatchProcessor_EnricherRunsAfterStore(t *testing.T) {
	mockDB := &MockDB{}
	calls := 0
	processor := NewBatchProcessor(mockDB, queue.NewPropertyQueue(10, quietLogger()), testConfig(), quietLogger(),
		WithEnricher(func(ctx context.Context) error {
			calls++
			return errors.New("geocoder down")
		}))

	mockDB.On("Transaction", mock.Anything).Return(nil).Once()
	// Enrichment errors do not fail the batch
	require.NoError(t, processor.processBatch(newBatch(validProperty("A 1"))))
	assert.Equal(t, 1, calls)
}

func TestBatchProcessor_StopInterruptsRetries(t *testing.T) {
	mockDB := &MockDB{}
	cfg := testConfig()
	cfg.RetryDelay = time.Hour
	processor := NewBatchProcessor(mockDB, queue.NewPropertyQueue(10, quietLogger()), cfg, quietLogger())

	var attempts int32
	mockDB.On("Transaction", mock.Anything).
		Run(func(mock.Arguments) { atomic.AddInt32(&attempts, 1) }).
		Return(errors.New("db error"))

	done := make(chan error, 1)
	go func() { done <- processor.processBatch(newBatch(validProperty("A 1"))) }()

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&attempts) > 0
	}, time.Second, 5*time.Millisecond)
	processor.Stop()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrProcessorStopped)
	case <-time.After(time.Second):
		t.Fatal("processBatch did not return after Stop")
	}
}

func TestBatchProcessor_StartStop(t *testing.T) {
	mockDB := &MockDB{}
	q := queue.NewPropertyQueue(10, quietLogger())
	processor := NewBatchProcessor(mockDB, q, testConfig(), quietLogger())

	processor.Start()
	processor.Start()
	processor.Stop()

	// Batches arriving after Stop are refused by the handler
	assert.ErrorIs(t, processor.dispatch(newBatch(validProperty("A 1"))), ErrProcessorStopped)

	require.NoError(t, q.Close())
	assert.True(t, q.IsClosed())
}
