package database

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"dealtracker/server/internal/marketkey"
	"dealtracker/server/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SaveDeals upserts a batch of deals in one transaction.
func (d *Database) SaveDeals(ctx context.Context, deals []*models.Deal) error {
	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return UpsertDeals(tx, deals)
	})
}

// UpsertDeals writes deals keyed by their external reference. Each deal is
// associated with its market identity, which is created on first sight. The
// postal codes of every market a deal joins or leaves are then rebuilt from
// that market's deals.
func UpsertDeals(tx *gorm.DB, deals []*models.Deal) error {
	touched := make(map[uint]bool)
	for _, deal := range deals {
		if strings.TrimSpace(deal.ExternalRef) == "" {
			deal.ExternalRef = uuid.NewString()
		}

		var previous []uint
		err := tx.Model(&models.Deal{}).
			Where("external_ref = ? AND market_id IS NOT NULL", deal.ExternalRef).
			Pluck("market_id", &previous).Error
		if err != nil {
			return fmt.Errorf("failed to load deal %s: %w", deal.ExternalRef, err)
		}
		for _, id := range previous {
			touched[id] = true
		}

		if _, err := linkDeal(tx, deal); err != nil {
			return err
		}

		err = tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "external_ref"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"name", "market_name", "city", "state", "postal_code",
				"stage", "asking_price", "market_id", "updated_at",
			}),
		}).Create(deal).Error
		if err != nil {
			return fmt.Errorf("failed to save deal %s: %w", deal.ExternalRef, err)
		}
		if deal.MarketID != nil {
			touched[*deal.MarketID] = true
		}
	}

	for _, id := range slices.Sorted(maps.Keys(touched)) {
		if err := syncPostalCodes(tx, id); err != nil {
			return err
		}
	}
	return nil
}

// linkDeal sets deal.MarketID from the deal's market fields. It reports false
// when the deal names no usable market.
func linkDeal(tx *gorm.DB, deal *models.Deal) (bool, error) {
	name := marketkey.DealMarketName(deal.MarketName, deal.City, deal.State)
	if name == "" {
		deal.MarketID = nil
		return false, nil
	}

	market, err := upsertMarket(tx, name)
	if errors.Is(err, ErrInvalidMarketName) {
		deal.MarketID = nil
		return false, nil
	}
	if err != nil {
		return false, err
	}

	deal.MarketID = &market.ID
	if err := addPostalCode(tx, market.ID, deal.PostalCode); err != nil {
		return false, err
	}
	return true, nil
}

// DeleteDeal removes a deal and drops postal codes its market no longer has a
// deal for. The market itself is left for reconciliation.
func (d *Database) DeleteDeal(ctx context.Context, id uint) error {
	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var deal models.Deal
		err := tx.First(&deal, id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrDealNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to load deal: %w", err)
		}

		if err := tx.Delete(&models.Deal{}, id).Error; err != nil {
			return fmt.Errorf("failed to delete deal: %w", err)
		}
		if deal.MarketID == nil {
			return nil
		}
		return syncPostalCodes(tx, *deal.MarketID)
	})
}

func (d *Database) ListDeals(ctx context.Context) ([]models.Deal, error) {
	var deals []models.Deal
	if err := d.db.WithContext(ctx).Order("id").Find(&deals).Error; err != nil {
		return nil, fmt.Errorf("failed to list deals: %w", err)
	}
	return deals, nil
}

// ListMarketDeals returns the deals associated with one market.
func (d *Database) ListMarketDeals(ctx context.Context, marketID uint) ([]models.Deal, error) {
	var deals []models.Deal
	err := d.db.WithContext(ctx).Where("market_id = ?", marketID).Order("id").Find(&deals).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list market deals: %w", err)
	}
	return deals, nil
}
