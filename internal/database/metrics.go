package database

import (
	"context"
	"fmt"

	"dealtracker/server/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UpsertSeriesMetrics writes series rows keyed by (market, metric, period).
func UpsertSeriesMetrics(tx *gorm.DB, rows []models.SeriesMetric) error {
	if len(rows) == 0 {
		return nil
	}
	rows = withoutIDs(rows, func(r *models.SeriesMetric) { r.ID = 0 })
	err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "market_id"}, {Name: "metric_key"}, {Name: "period"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "growth", "source", "as_of", "updated_at"}),
	}).Create(&rows).Error
	if err != nil {
		return fmt.Errorf("failed to upsert series metrics: %w", err)
	}
	return nil
}

// UpsertSnapshotMetrics writes snapshot rows keyed by (market, metric).
func UpsertSnapshotMetrics(tx *gorm.DB, rows []models.SnapshotMetric) error {
	if len(rows) == 0 {
		return nil
	}
	rows = withoutIDs(rows, func(r *models.SnapshotMetric) { r.ID = 0 })
	err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "market_id"}, {Name: "metric_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"numeric_value", "text_value", "source", "as_of", "updated_at"}),
	}).Create(&rows).Error
	if err != nil {
		return fmt.Errorf("failed to upsert snapshot metrics: %w", err)
	}
	return nil
}

// UpsertListMetrics writes list rows keyed by (market, metric).
func UpsertListMetrics(tx *gorm.DB, rows []models.ListMetric) error {
	if len(rows) == 0 {
		return nil
	}
	rows = withoutIDs(rows, func(r *models.ListMetric) { r.ID = 0 })
	err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "market_id"}, {Name: "metric_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"items", "source", "as_of", "updated_at"}),
	}).Create(&rows).Error
	if err != nil {
		return fmt.Errorf("failed to upsert list metrics: %w", err)
	}
	return nil
}

// withoutIDs copies rows with their surrogate keys cleared so that a re-sent
// payload conflicts on the natural key rather than the primary key.
func withoutIDs[T any](rows []T, reset func(*T)) []T {
	out := make([]T, len(rows))
	copy(out, rows)
	for i := range out {
		reset(&out[i])
	}
	return out
}

// SaveMarketMetrics writes one refresh for a market atomically.
func (d *Database) SaveMarketMetrics(ctx context.Context, marketID uint, metrics *models.MarketMetrics) error {
	for i := range metrics.Series {
		metrics.Series[i].MarketID = marketID
	}
	for i := range metrics.Snapshots {
		metrics.Snapshots[i].MarketID = marketID
	}
	for i := range metrics.Lists {
		metrics.Lists[i].MarketID = marketID
	}

	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// The market may have been reconciled away since it was looked up.
		if err := lockMarket(tx, marketID); err != nil {
			return err
		}
		if err := UpsertSeriesMetrics(tx, metrics.Series); err != nil {
			return err
		}
		if err := UpsertSnapshotMetrics(tx, metrics.Snapshots); err != nil {
			return err
		}
		return UpsertListMetrics(tx, metrics.Lists)
	})
	if err != nil {
		return err
	}

	d.logger.WithFields(logrus.Fields{
		"market_id": marketID,
		"series":    len(metrics.Series),
		"snapshots": len(metrics.Snapshots),
		"lists":     len(metrics.Lists),
	}).Info("Saved market metrics")
	return nil
}

// HasMetrics reports whether any metric of any shape is cached for a market.
func (d *Database) HasMetrics(ctx context.Context, marketID uint) (bool, error) {
	tx := d.db.WithContext(ctx)
	for _, model := range []interface{}{
		&models.SeriesMetric{},
		&models.SnapshotMetric{},
		&models.ListMetric{},
	} {
		var count int64
		if err := tx.Model(model).Where("market_id = ?", marketID).Count(&count).Error; err != nil {
			return false, fmt.Errorf("failed to check cached metrics: %w", err)
		}
		if count > 0 {
			return true, nil
		}
	}
	return false, nil
}

func (d *Database) GetSeriesMetrics(ctx context.Context, marketID uint) ([]models.SeriesMetric, error) {
	var rows []models.SeriesMetric
	err := d.db.WithContext(ctx).
		Where("market_id = ?", marketID).
		Order("metric_key, period").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load series metrics: %w", err)
	}
	return rows, nil
}

func (d *Database) GetSnapshotMetrics(ctx context.Context, marketID uint) ([]models.SnapshotMetric, error) {
	var rows []models.SnapshotMetric
	err := d.db.WithContext(ctx).
		Where("market_id = ?", marketID).
		Order("metric_key").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot metrics: %w", err)
	}
	return rows, nil
}

func (d *Database) GetListMetrics(ctx context.Context, marketID uint) ([]models.ListMetric, error) {
	var rows []models.ListMetric
	err := d.db.WithContext(ctx).
		Where("market_id = ?", marketID).
		Order("metric_key").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load list metrics: %w", err)
	}
	return rows, nil
}

func (d *Database) GetMetricCatalog(ctx context.Context) ([]models.MetricDefinition, error) {
	var catalog []models.MetricDefinition
	if err := d.db.WithContext(ctx).Order("sort_order, key").Find(&catalog).Error; err != nil {
		return nil, fmt.Errorf("failed to load metric catalog: %w", err)
	}
	return catalog, nil
}
