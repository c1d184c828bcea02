package database

import (
	"context"
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strings"

	"dealtracker/server/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var zipPattern = regexp.MustCompile(`^(\d{5})(?:-\d{4})?$`)

// PostalGeocoder resolves a US postal code to its centroid.
type PostalGeocoder interface {
	GeocodePostalCode(ctx context.Context, postalCode string) (float64, float64, error)
}

// NormalizePostalCode returns the five-digit ZIP for raw, or "" when raw is not
// a US postal code. Spreadsheet exports often drop the leading zero.
func NormalizePostalCode(raw string) string {
	raw = strings.TrimSpace(raw)
	if len(raw) == 4 && zipPattern.MatchString("0"+raw) {
		raw = "0" + raw
	}
	m := zipPattern.FindStringSubmatch(raw)
	if m == nil {
		return ""
	}
	return m[1]
}

func addPostalCode(tx *gorm.DB, marketID uint, raw string) error {
	code := NormalizePostalCode(raw)
	if code == "" {
		return nil
	}

	err := tx.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.MarketPostalCode{MarketID: marketID, PostalCode: code}).Error
	if err != nil {
		return fmt.Errorf("failed to add postal code %s: %w", code, err)
	}
	return nil
}

// syncPostalCodes makes a market's postal set equal to the postal codes of the
// deals that reference it. Rows that survive keep their centroids.
func syncPostalCodes(tx *gorm.DB, marketID uint) error {
	var raw []string
	err := tx.Model(&models.Deal{}).Where("market_id = ?", marketID).Pluck("postal_code", &raw).Error
	if err != nil {
		return fmt.Errorf("failed to load deal postal codes: %w", err)
	}
	wanted := make(map[string]bool, len(raw))
	for _, r := range raw {
		if code := NormalizePostalCode(r); code != "" {
			wanted[code] = true
		}
	}

	var stored []string
	err = tx.Model(&models.MarketPostalCode{}).Where("market_id = ?", marketID).Pluck("postal_code", &stored).Error
	if err != nil {
		return fmt.Errorf("failed to load postal codes: %w", err)
	}

	var stale []string
	for _, code := range stored {
		if wanted[code] {
			delete(wanted, code)
			continue
		}
		stale = append(stale, code)
	}
	if len(stale) > 0 {
		err := tx.Where("market_id = ? AND postal_code IN ?", marketID, stale).
			Delete(&models.MarketPostalCode{}).Error
		if err != nil {
			return fmt.Errorf("failed to remove stale postal codes: %w", err)
		}
	}

	for _, code := range slices.Sorted(maps.Keys(wanted)) {
		if err := addPostalCode(tx, marketID, code); err != nil {
			return err
		}
	}
	return nil
}

func (d *Database) ListPostalCodes(ctx context.Context, marketID uint) ([]models.MarketPostalCode, error) {
	var codes []models.MarketPostalCode
	err := d.db.WithContext(ctx).
		Where("market_id = ?", marketID).
		Order("postal_code").
		Find(&codes).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list postal codes: %w", err)
	}
	return codes, nil
}

// UpdateMissingPostalCoordinates geocodes every postal code that has not been
// attempted yet. A failed lookup is marked attempted so it is not retried on
// every pass. It returns the number of codes that received coordinates.
func (d *Database) UpdateMissingPostalCoordinates(ctx context.Context, geocoder PostalGeocoder) (int, error) {
	var pending []models.MarketPostalCode
	err := d.db.WithContext(ctx).
		Where("geocoding_attempted = ?", false).
		Order("postal_code").
		Find(&pending).Error
	if err != nil {
		return 0, fmt.Errorf("failed to load postal codes: %w", err)
	}

	d.logger.WithField("count", len(pending)).Info("Found postal codes without coordinates")

	var updated int
	for _, pc := range pending {
		if err := ctx.Err(); err != nil {
			return updated, err
		}

		values := map[string]interface{}{"geocoding_attempted": true}
		lat, lon, err := geocoder.GeocodePostalCode(ctx, pc.PostalCode)
		if err != nil {
			d.logger.WithError(err).WithField("postal_code", pc.PostalCode).Warn("Failed to geocode postal code")
		} else {
			values["latitude"] = lat
			values["longitude"] = lon
		}

		err = d.db.WithContext(ctx).Model(&models.MarketPostalCode{}).
			Where("market_id = ? AND postal_code = ?", pc.MarketID, pc.PostalCode).
			Updates(values).Error
		if err != nil {
			return updated, fmt.Errorf("failed to update postal code %s: %w", pc.PostalCode, err)
		}
		if _, ok := values["latitude"]; ok {
			updated++
		}
	}

	d.logger.WithFields(logrus.Fields{
		"attempted": len(pending),
		"updated":   updated,
	}).Info("Finished geocoding postal codes")
	return updated, nil
}
