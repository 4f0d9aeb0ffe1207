package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotFound is returned by Get when no blob is stored under the key
var ErrNotFound = errors.New("model blob not found")

// ModelBlob is one persisted model, keyed by name
type ModelBlob struct {
	Name      string `gorm:"primaryKey;size:128"`
	Blob      []byte `gorm:"not null"`
	UpdatedAt time.Time
}

// GormStore keeps model blobs in the service database
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&ModelBlob{}); err != nil {
		return nil, fmt.Errorf("failed to migrate model store: %w", err)
	}
	return &GormStore{db: db}, nil
}

// Put replaces whatever is stored under key
func (s *GormStore) Put(ctx context.Context, key string, blob []byte) error {
	row := ModelBlob{Name: key, Blob: blob, UpdatedAt: time.Now().UTC()}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"blob", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to store model %s: %w", key, err)
	}
	return nil
}

func (s *GormStore) Get(ctx context.Context, key string) ([]byte, error) {
	var row ModelBlob
	err := s.db.WithContext(ctx).Where("name = ?", key).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read model %s: %w", key, err)
	}
	return row.Blob, nil
}

// Keys lists every stored key, sorted
func (s *GormStore) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	if err := s.db.WithContext(ctx).Model(&ModelBlob{}).Order("name").Pluck("name", &keys).Error; err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}
	return keys, nil
}
