package database

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"dealtracker/server/internal/marketkey"
	"dealtracker/server/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UpsertMarket returns the identity for name, creating it when its canonical
// key is unseen. Concurrent callers with the same key converge on one row.
func (d *Database) UpsertMarket(ctx context.Context, name string) (*models.Market, error) {
	var market *models.Market
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		market, err = upsertMarket(tx, name)
		return err
	})
	if err != nil {
		return nil, err
	}
	return market, nil
}

func upsertMarket(tx *gorm.DB, name string) (*models.Market, error) {
	name = strings.TrimSpace(name)
	key := marketkey.Parse(name)
	canonical := key.String()
	if canonical == "" || !marketkey.IsValidLocationToken(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMarketName, name)
	}

	market, err := findByKey(tx, canonical)
	if err == nil {
		return renameIfPreferred(tx, market, name)
	}
	if !errors.Is(err, ErrMarketNotFound) {
		return nil, err
	}

	adopted, err := adoptByPlace(tx, key, name)
	if err != nil || adopted != nil {
		return adopted, err
	}

	created := &models.Market{Name: name, CanonicalKey: canonical, PlaceKey: key.Place}
	result := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "canonical_key"}},
		DoNothing: true,
	}).Create(created)
	if result.Error != nil && !isUniqueViolation(result.Error) {
		return nil, fmt.Errorf("failed to create market: %w", result.Error)
	}
	if result.Error == nil && result.RowsAffected == 1 {
		return created, nil
	}

	// Another writer inserted the same key first.
	market, err = findByKey(tx, canonical)
	if err != nil {
		return nil, err
	}
	return renameIfPreferred(tx, market, name)
}

func findByKey(tx *gorm.DB, canonical string) (*models.Market, error) {
	var market models.Market
	err := tx.Where("canonical_key = ?", canonical).First(&market).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrMarketNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load market: %w", err)
	}
	return &market, nil
}

// adoptByPlace attaches a name to an identity whose key differs only by the
// state qualifier. An unqualified name joins the single identity sharing its
// place tokens; a qualified name upgrades the single unqualified identity with
// its place tokens. Ambiguous matches adopt nothing.
func adoptByPlace(tx *gorm.DB, key marketkey.Key, name string) (*models.Market, error) {
	if key.Place == "" {
		return nil, nil
	}

	query := tx.Where("place_key = ?", key.Place)
	if key.Qualified() {
		query = query.Where("canonical_key = place_key")
	}

	var candidates []models.Market
	if err := query.Limit(2).Find(&candidates).Error; err != nil {
		return nil, fmt.Errorf("failed to match market by place: %w", err)
	}
	if len(candidates) != 1 {
		return nil, nil
	}
	market := candidates[0]

	if !key.Qualified() {
		return &market, nil
	}

	result := tx.Model(&models.Market{}).
		Where("id = ? AND canonical_key = ?", market.ID, market.CanonicalKey).
		Updates(map[string]interface{}{"canonical_key": key.String(), "name": name})
	if result.Error != nil {
		if isUniqueViolation(result.Error) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to qualify market: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}

	market.CanonicalKey = key.String()
	market.Name = name
	return &market, nil
}

// renameIfPreferred keeps the nicer of the stored and incoming display names.
func renameIfPreferred(tx *gorm.DB, market *models.Market, name string) (*models.Market, error) {
	preferred := marketkey.PreferCanonicalName(market.Name, name)
	if preferred == market.Name {
		return market, nil
	}

	result := tx.Model(&models.Market{}).
		Where("id = ? AND name = ?", market.ID, market.Name).
		Update("name", preferred)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to rename market: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		// Renamed concurrently; report what is stored now.
		if err := tx.First(market, market.ID).Error; err != nil {
			return nil, fmt.Errorf("failed to reload market: %w", err)
		}
		return market, nil
	}
	market.Name = preferred
	return market, nil
}

// FindMarket resolves name to an existing identity without creating one.
func (d *Database) FindMarket(ctx context.Context, name string) (*models.Market, error) {
	key := marketkey.Parse(name)
	if key.String() == "" {
		return nil, ErrMarketNotFound
	}

	tx := d.db.WithContext(ctx)
	market, err := findByKey(tx, key.String())
	if !errors.Is(err, ErrMarketNotFound) {
		return market, err
	}
	if key.Place == "" {
		return nil, ErrMarketNotFound
	}

	query := tx.Where("place_key = ?", key.Place)
	if key.Qualified() {
		query = query.Where("canonical_key = place_key")
	}
	var candidates []models.Market
	if err := query.Limit(2).Find(&candidates).Error; err != nil {
		return nil, fmt.Errorf("failed to match market by place: %w", err)
	}
	if len(candidates) != 1 {
		return nil, ErrMarketNotFound
	}
	return &candidates[0], nil
}

func (d *Database) GetMarket(ctx context.Context, id uint) (*models.Market, error) {
	var market models.Market
	err := d.db.WithContext(ctx).First(&market, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrMarketNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load market: %w", err)
	}
	return &market, nil
}

// lockMarket fails with ErrMarketNotFound unless the market row exists. On
// postgres the row is locked until the transaction ends so reconciliation
// cannot delete it underneath the caller; sqlite serializes writers already.
func lockMarket(tx *gorm.DB, marketID uint) error {
	query := tx.Model(&models.Market{}).Where("id = ?", marketID)
	if tx.Dialector.Name() != "sqlite" {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var ids []uint
	if err := query.Limit(1).Pluck("id", &ids).Error; err != nil {
		return fmt.Errorf("failed to load market: %w", err)
	}
	if len(ids) == 0 {
		return fmt.Errorf("%w: id %d", ErrMarketNotFound, marketID)
	}
	return nil
}

// SetMarketCode stores the statistical-area code unless one is already set,
// and returns the code stored afterwards.
func (d *Database) SetMarketCode(ctx context.Context, marketID uint, code string) (string, error) {
	tx := d.db.WithContext(ctx)
	err := tx.Model(&models.Market{}).
		Where("id = ? AND (cbsa_code IS NULL OR cbsa_code = '')", marketID).
		Update("cbsa_code", code).Error
	if err != nil {
		return "", fmt.Errorf("failed to store market code: %w", err)
	}

	market, err := d.GetMarket(ctx, marketID)
	if err != nil {
		return "", err
	}
	if market.CBSACode == nil {
		return "", nil
	}
	return *market.CBSACode, nil
}

// ClearMarketCode removes a stored code so the next refresh resolves again.
func (d *Database) ClearMarketCode(ctx context.Context, marketID uint) error {
	result := d.db.WithContext(ctx).Model(&models.Market{}).
		Where("id = ?", marketID).
		Update("cbsa_code", nil)
	if result.Error != nil {
		return fmt.Errorf("failed to clear market code: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrMarketNotFound
	}
	return nil
}

// ReconcileResult reports what a reconciliation pass changed.
type ReconcileResult struct {
	Linked  int `json:"linked"`
	Removed int `json:"removed"`
}

// ReconcileMarkets links deals that have no market yet and deletes every
// market no deal references, together with its metrics and postal codes.
// Metric rows left behind by an already-deleted market are removed, and each
// surviving market's postal codes are rebuilt from its deals.
func (d *Database) ReconcileMarkets(ctx context.Context) (ReconcileResult, error) {
	var res ReconcileResult
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var unlinked []models.Deal
		if err := tx.Where("market_id IS NULL").Find(&unlinked).Error; err != nil {
			return fmt.Errorf("failed to load unlinked deals: %w", err)
		}
		for i := range unlinked {
			linked, err := linkDeal(tx, &unlinked[i])
			if err != nil {
				return err
			}
			if linked {
				if err := tx.Model(&unlinked[i]).Update("market_id", unlinked[i].MarketID).Error; err != nil {
					return fmt.Errorf("failed to link deal: %w", err)
				}
				res.Linked++
			}
		}

		var orphans []uint
		err := tx.Model(&models.Market{}).
			Where("NOT EXISTS (SELECT 1 FROM deals WHERE deals.market_id = markets.id)").
			Pluck("id", &orphans).Error
		if err != nil {
			return fmt.Errorf("failed to find unreferenced markets: %w", err)
		}
		if len(orphans) > 0 {
			if err := tx.Where("id IN ?", orphans).Delete(&models.Market{}).Error; err != nil {
				return fmt.Errorf("failed to delete markets: %w", err)
			}
			res.Removed = len(orphans)
		}

		for _, model := range marketDependents {
			err := tx.Where("NOT EXISTS (SELECT 1 FROM markets WHERE markets.id = market_id)").
				Delete(model).Error
			if err != nil {
				return fmt.Errorf("failed to delete market dependents: %w", err)
			}
		}

		var remaining []uint
		if err := tx.Model(&models.Market{}).Order("id").Pluck("id", &remaining).Error; err != nil {
			return fmt.Errorf("failed to load markets: %w", err)
		}
		for _, id := range remaining {
			if err := syncPostalCodes(tx, id); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return ReconcileResult{}, err
	}

	if res.Linked > 0 || res.Removed > 0 {
		d.logger.WithFields(logrus.Fields{
			"linked":  res.Linked,
			"removed": res.Removed,
		}).Info("Reconciled markets")
	}
	return res, nil
}

// marketDependents are the tables keyed by market_id.
var marketDependents = []interface{}{
	&models.SeriesMetric{},
	&models.SnapshotMetric{},
	&models.ListMetric{},
	&models.MarketPostalCode{},
}

// ListMarkets returns every market with its postal-code and deal counts.
func (d *Database) ListMarkets(ctx context.Context) ([]models.MarketSummary, error) {
	var summaries []models.MarketSummary
	err := d.db.WithContext(ctx).Raw(`
		SELECT
			m.id,
			m.name,
			m.canonical_key,
			m.place_key,
			m.cbsa_code,
			(SELECT COUNT(*) FROM market_postal_codes p WHERE p.market_id = m.id) AS postal_code_count,
			(SELECT COUNT(*) FROM deals d WHERE d.market_id = m.id) AS deal_count
		FROM markets m
		ORDER BY m.name
	`).Scan(&summaries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list markets: %w", err)
	}
	return summaries, nil
}
