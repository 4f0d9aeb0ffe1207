package valuation

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"propval/internal/models"
)

var cityPremium = map[string]float64{
	"amsterdam": 120000,
	"utrecht":   60000,
	"zwolle":    0,
}

var testCities = []string{"amsterdam", "utrecht", "zwolle"}

// syntheticListings builds n listings whose price is an exact linear
// function of the attributes.
func syntheticListings(n int) []models.Property {
	out := make([]models.Property, n)
	for i := 0; i < n; i++ {
		beds := 1 + i%5
		baths := float64(1 + (i/5)%3)
		sqft := float64(800 + (i*137)%2000)
		year := 1950 + (i*7)%70
		city := testCities[i%3]
		out[i] = models.Property{
			ID:        int64(i + 1),
			Address:   fmt.Sprintf("Street %d", i+1),
			City:      city,
			Bedrooms:  beds,
			Bathrooms: baths,
			Sqft:      sqft,
			YearBuilt: year,
			Price: 100000 + 150*sqft + 25000*float64(beds) + 10000*baths +
				500*float64(year-1950) + cityPremium[city],
		}
	}
	return out
}

type memoryStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func newMemoryStore() *memoryStore {
	return &memoryStore{blobs: make(map[string][]byte)}
}

func (s *memoryStore) Put(_ context.Context, key string, blob []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[key] = append([]byte(nil), blob...)
	return nil
}

func (s *memoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	blob, ok := s.blobs[key]
	if !ok {
		return nil, errors.New("not found")
	}
	return blob, nil
}

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }
func stringPtr(v string) *string  { return &v }
