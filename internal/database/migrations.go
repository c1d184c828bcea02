package database

import (
	"context"
	"fmt"

	"dealtracker/server/internal/models"

	"gorm.io/gorm/clause"
)

// RunMigrations creates or updates every table and seeds the metric catalog.
func (d *Database) RunMigrations(ctx context.Context) error {
	err := d.db.WithContext(ctx).AutoMigrate(
		&models.Market{},
		&models.MarketPostalCode{},
		&models.Deal{},
		&models.MetricDefinition{},
		&models.SeriesMetric{},
		&models.SnapshotMetric{},
		&models.ListMetric{},
	)
	if err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}

	return d.SeedMetricCatalog(ctx)
}

// SeedMetricCatalog writes the fixed metric catalog. Re-running it updates
// labels in place and never duplicates entries.
func (d *Database) SeedMetricCatalog(ctx context.Context) error {
	catalog := make([]models.MetricDefinition, len(models.MetricCatalog))
	copy(catalog, models.MetricCatalog)

	err := d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"label", "category", "unit", "kind", "sort_order"}),
	}).Create(&catalog).Error
	if err != nil {
		return fmt.Errorf("failed to seed metric catalog: %w", err)
	}

	d.logger.WithField("metrics", len(catalog)).Debug("Seeded metric catalog")
	return nil
}
