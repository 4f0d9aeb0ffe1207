package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sort"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"propval/internal/models"
)

type Database struct {
	db     *gorm.DB
	sqlDB  *sql.DB
	logger *logrus.Logger
}

func NewDatabase(dbPath string, log *logrus.Logger) (*Database, error) {
	sqlDB, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable foreign keys
	if _, err := sqlDB.Exec("PRAGMA foreign_keys = ON"); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := sqlDB.Exec("PRAGMA journal_mode = WAL"); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	db, err := gorm.Open(sqlite.New(sqlite.Config{Conn: sqlDB}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to initialise gorm: %w", err)
	}

	if log == nil {
		log = logrus.New()
		log.SetFormatter(&logrus.JSONFormatter{})
		log.SetOutput(os.Stdout)
	}
	return &Database{db: db, sqlDB: sqlDB, logger: log}, nil
}

// FromGorm wraps an already opened connection
func FromGorm(db *gorm.DB, log *logrus.Logger) (*Database, error) {
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql handle: %w", err)
	}
	if log == nil {
		log = logrus.New()
		log.SetFormatter(&logrus.JSONFormatter{})
		log.SetOutput(os.Stdout)
	}
	return &Database{db: db, sqlDB: sqlDB, logger: log}, nil
}

var testDBSeq atomic.Int64

// NewTestDB opens a private in-memory database
func NewTestDB() (*gorm.DB, error) {
	dsn := fmt.Sprintf("file:propval_test_%d?mode=memory&cache=shared", testDBSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open test database: %w", err)
	}
	return db, nil
}

// MigrateSchema creates or updates the tables the service owns
func MigrateSchema(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.Property{}); err != nil {
		return fmt.Errorf("failed to migrate properties: %w", err)
	}
	return nil
}

// UpsertProperties inserts the batch, replacing the listing attributes of
// records that already exist for the same address and city.
func UpsertProperties(tx *gorm.DB, batch []*models.Property) error {
	if len(batch) == 0 {
		return nil
	}
	return tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "address"}, {Name: "city"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"property_type", "price", "bedrooms", "bathrooms", "sqft", "year_built",
			"latitude", "longitude", "days_on_market", "listing_date", "updated_at",
		}),
	}).Create(&batch).Error
}

func (d *Database) RunMigrations() error {
	return MigrateSchema(d.db)
}

func (d *Database) GetDB() *gorm.DB {
	return d.db
}

func (d *Database) Close() error {
	return d.sqlDB.Close()
}

func (d *Database) InsertProperties(ctx context.Context, properties []*models.Property) error {
	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := UpsertProperties(tx, properties); err != nil {
			return fmt.Errorf("failed to insert properties: %w", err)
		}
		return nil
	})
}

// GetProperties returns the feature table, narrowed by the filter. Ranges
// are pushed down to SQL and the filter is re-checked on every row.
func (d *Database) GetProperties(ctx context.Context, filter *models.PropertyFilter) ([]models.Property, error) {
	query := d.db.WithContext(ctx).Model(&models.Property{})
	if filter != nil {
		if filter.MinPrice != nil {
			query = query.Where("price >= ?", *filter.MinPrice)
		}
		if filter.MaxPrice != nil {
			query = query.Where("price <= ?", *filter.MaxPrice)
		}
		if filter.MinSqft != nil {
			query = query.Where("sqft >= ?", *filter.MinSqft)
		}
		if filter.MaxSqft != nil {
			query = query.Where("sqft <= ?", *filter.MaxSqft)
		}
		if filter.MinBedrooms != nil {
			query = query.Where("bedrooms >= ?", *filter.MinBedrooms)
		}
		if filter.MaxBedrooms != nil {
			query = query.Where("bedrooms <= ?", *filter.MaxBedrooms)
		}
		if filter.MinBathrooms != nil {
			query = query.Where("bathrooms >= ?", *filter.MinBathrooms)
		}
		if len(filter.PropertyTypes) > 0 {
			query = query.Where("property_type IN ?", filter.PropertyTypes)
		}
	}

	var rows []models.Property
	if err := query.Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query properties: %w", err)
	}
	if filter == nil {
		return rows, nil
	}

	properties := rows[:0]
	for i := range rows {
		if filter.IsPropertyAllowed(&rows[i]) {
			properties = append(properties, rows[i])
		}
	}
	return properties, nil
}

func (d *Database) GetProperty(ctx context.Context, id int64) (*models.Property, error) {
	var p models.Property
	if err := d.db.WithContext(ctx).First(&p, id).Error; err != nil {
		return nil, fmt.Errorf("failed to get property %d: %w", id, err)
	}
	return &p, nil
}

// GetPropertyStats summarises listings of a city, or all cities when city
// is empty, listed between the optional start and end dates (YYYY-MM-DD).
func (d *Database) GetPropertyStats(ctx context.Context, startDate, endDate, city string) (models.PropertyStats, error) {
	where := `
        price > 0
        AND (? = '' OR LOWER(city) = LOWER(?))
        AND (? = '' OR listing_date >= ?)
        AND (? = '' OR listing_date <= ?)
    `
	args := []interface{}{
		city, city, // city filter
		startDate, startDate, // listing_date >= ?
		endDate, endDate, // listing_date <= ?
	}

	query := `
        SELECT
            COUNT(*) as total_properties,
            COALESCE(AVG(price), 0) as average_price,
            COALESCE(AVG(price / NULLIF(sqft, 0)), 0) as price_per_sqft
        FROM properties
        WHERE ` + where

	var stats models.PropertyStats
	row := d.db.WithContext(ctx).Raw(query, args...).Row()
	if err := row.Scan(&stats.TotalProperties, &stats.AveragePrice, &stats.PricePerSqft); err != nil {
		return stats, fmt.Errorf("failed to query property stats: %w", err)
	}

	var prices []float64
	if err := d.db.WithContext(ctx).Raw("SELECT price FROM properties WHERE "+where, args...).Scan(&prices).Error; err != nil {
		return stats, fmt.Errorf("failed to query prices: %w", err)
	}
	stats.MedianPrice = medianPrice(prices)
	return stats, nil
}

func medianPrice(prices []float64) float64 {
	if len(prices) == 0 {
		return 0
	}
	sort.Float64s(prices)
	n := len(prices)
	if n%2 == 1 {
		return prices[n/2]
	}
	return (prices[n/2-1] + prices[n/2]) / 2
}

type monthlyRow struct {
	City     string
	Month    string
	AvgPrice float64
}

// AveragePriceByMonth returns the mean listing price per city and calendar
// month, oldest first within each city.
func (d *Database) AveragePriceByMonth(ctx context.Context, city string) ([]models.TrendPoint, error) {
	query := `
        SELECT
            LOWER(city) as city,
            SUBSTR(listing_date, 1, 7) as month,
            AVG(price) as avg_price
        FROM properties
        WHERE price > 0
        AND listing_date >= '1900'
        AND (? = '' OR LOWER(city) = LOWER(?))
        GROUP BY LOWER(city), SUBSTR(listing_date, 1, 7)
        ORDER BY LOWER(city), month
    `
	var rows []monthlyRow
	if err := d.db.WithContext(ctx).Raw(query, city, city).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query monthly prices: %w", err)
	}

	points := make([]models.TrendPoint, 0, len(rows))
	for _, r := range rows {
		month, err := time.Parse("2006-01", r.Month)
		if err != nil {
			d.logger.WithError(err).WithField("month", r.Month).Warn("Skipping unparseable listing month")
			continue
		}
		points = append(points, models.TrendPoint{City: r.City, Month: month, AvgPrice: r.AvgPrice})
	}
	return points, nil
}

// CityNames lists the distinct normalised cities in the feed
func (d *Database) CityNames(ctx context.Context) ([]string, error) {
	var cities []string
	if err := d.db.WithContext(ctx).Model(&models.Property{}).Distinct().Pluck("city", &cities).Error; err != nil {
		return nil, fmt.Errorf("failed to list cities: %w", err)
	}
	seen := make(map[string]bool)
	var out []string
	for _, c := range cities {
		n := models.NormalizeCity(c)
		if n != "" && !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Geocoder resolves an address to coordinates
type Geocoder interface {
	GeocodeAddress(ctx context.Context, address, city string) (float64, float64, error)
}

// UpdateMissingCoordinates geocodes records without coordinates in batches.
// Every record is attempted at most once. When cities are given only records
// in those (normalised) cities are considered.
func (d *Database) UpdateMissingCoordinates(ctx context.Context, geocoder Geocoder, cities ...string) error {
	var pending []models.Property
	err := d.db.WithContext(ctx).
		Select("id", "address", "city").
		Where("(latitude IS NULL OR longitude IS NULL) AND geocoding_attempted = ?", false).
		Order("id").
		Find(&pending).Error
	if err != nil {
		return fmt.Errorf("failed to query properties: %w", err)
	}
	if len(cities) > 0 {
		wanted := make(map[string]bool, len(cities))
		for _, c := range cities {
			wanted[models.NormalizeCity(c)] = true
		}
		scoped := pending[:0]
		for _, p := range pending {
			if wanted[models.NormalizeCity(p.City)] {
				scoped = append(scoped, p)
			}
		}
		pending = scoped
	}

	if len(pending) == 0 {
		d.logger.Info("No properties need geocoding")
		return nil
	}
	d.logger.WithField("count", len(pending)).Info("Found properties that need geocoding")

	const batchSize = 10
	var processed, failed int
	for start := 0; start < len(pending); start += batchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := start + batchSize
		if end > len(pending) {
			end = len(pending)
		}
		batch := pending[start:end]

		err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			for i := range batch {
				p := &batch[i]
				updates := map[string]interface{}{"geocoding_attempted": true}

				lat, lon, err := geocoder.GeocodeAddress(ctx, p.Address, p.City)
				if err != nil {
					d.logger.WithError(err).WithFields(logrus.Fields{
						"address": p.Address,
						"city":    p.City,
					}).Warn("Failed to geocode property")
					failed++
				} else {
					updates["latitude"] = lat
					updates["longitude"] = lon
					processed++
				}

				if err := tx.Model(&models.Property{}).Where("id = ?", p.ID).Updates(updates).Error; err != nil {
					return fmt.Errorf("failed to update coordinates: %w", err)
				}
			}
			return nil
		})
		if err != nil {
			return err
		}

		d.logger.WithFields(logrus.Fields{
			"processed": processed,
			"failed":    failed,
			"total":     len(pending),
		}).Info("Geocoding progress")
	}

	d.logger.WithFields(logrus.Fields{
		"processed": processed,
		"failed":    failed,
	}).Info("Geocoding completed")
	return nil
}
