package valuation

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"propval/internal/models"
)

// SnapshotKey fingerprints the part of a feature table a model is trained
// on. Two tables with the same records in the same order, the same feature
// list and the same training seed share a key.
func SnapshotKey(records []models.Property, features []string, seed int64) string {
	h := sha256.New()
	fmt.Fprintf(h, "%d\n%v\n", seed, features)
	for i := range records {
		p := &records[i]
		fmt.Fprintf(h, "%d|%s|%s|%s|%g|%d|%g|%g|%d|", p.ID, p.Address, p.City, p.PropertyType,
			p.Price, p.Bedrooms, p.Bathrooms, p.Sqft, p.YearBuilt)
		if p.Latitude != nil && p.Longitude != nil {
			fmt.Fprintf(h, "%g,%g", *p.Latitude, *p.Longitude)
		}
		if p.DaysOnMarket != nil {
			fmt.Fprintf(h, "|%d", *p.DaysOnMarket)
		}
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

type cacheKey struct {
	snapshot string
	kind     ModelKind
}

// Cache keeps trained models keyed by data snapshot and kind. It is
// invalidated explicitly when the underlying data changes.
type Cache struct {
	mu      sync.RWMutex
	entries map[cacheKey]*TrainedModel
	latest  map[ModelKind]*TrainedModel
}

func NewCache() *Cache {
	return &Cache{
		entries: make(map[cacheKey]*TrainedModel),
		latest:  make(map[ModelKind]*TrainedModel),
	}
}

func (c *Cache) Get(snapshot string, kind ModelKind) (*TrainedModel, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.entries[cacheKey{snapshot, kind}]
	return m, ok
}

// Latest returns the most recently stored model of a kind
func (c *Cache) Latest(kind ModelKind) (*TrainedModel, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.latest[kind]
	return m, ok
}

// Put stores a model; the last writer wins
func (c *Cache) Put(m *TrainedModel) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey{m.SnapshotKey, m.Kind}] = m
	c.latest[m.Kind] = m
}

// Invalidate drops every cached model
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[cacheKey]*TrainedModel)
	c.latest = make(map[ModelKind]*TrainedModel)
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
