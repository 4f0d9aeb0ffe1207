package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestGorm(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	return db
}

func TestGormStore_PutGet(t *testing.T) {
	s, err := NewGormStore(newTestGorm(t))
	require.NoError(t, err)
	ctx := context.Background()

	_, err = s.Get(ctx, "property_valuation_linear")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Put(ctx, "property_valuation_linear", []byte(`{"v":1}`)))
	require.NoError(t, s.Put(ctx, "property_valuation_linear", []byte(`{"v":2}`)))
	require.NoError(t, s.Put(ctx, "property_valuation_random_forest", []byte(`{}`)))

	blob, err := s.Get(ctx, "property_valuation_linear")
	require.NoError(t, err)
	assert.Equal(t, `{"v":2}`, string(blob))

	keys, err := s.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"property_valuation_linear", "property_valuation_random_forest"}, keys)
}

func TestRedisStore(t *testing.T) {
	client, mock := redismock.NewClientMock()
	s := &RedisStore{client: client, prefix: "propval:", ttl: time.Hour}
	ctx := context.Background()

	t.Run("put sets the prefixed key", func(t *testing.T) {
		mock.ExpectSet("propval:property_valuation_linear", []byte("blob"), time.Hour).SetVal("OK")
		assert.NoError(t, s.Put(ctx, "property_valuation_linear", []byte("blob")))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("get returns the blob", func(t *testing.T) {
		mock.ExpectGet("propval:property_valuation_linear").SetVal("blob")
		blob, err := s.Get(ctx, "property_valuation_linear")
		require.NoError(t, err)
		assert.Equal(t, []byte("blob"), blob)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing key", func(t *testing.T) {
		mock.ExpectGet("propval:property_valuation_linear").RedisNil()
		_, err := s.Get(ctx, "property_valuation_linear")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("redis failure is wrapped", func(t *testing.T) {
		mock.ExpectSet("propval:k", []byte("x"), time.Hour).SetErr(redis.TxFailedErr)
		err := s.Put(ctx, "k", []byte("x"))
		require.Error(t, err)
		assert.True(t, errors.Is(err, redis.TxFailedErr))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
