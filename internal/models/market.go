package models

import "time"

// Market is a canonical metropolitan/micropolitan statistical area.
type Market struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Name         string    `gorm:"not null" json:"name"`
	CanonicalKey string    `gorm:"uniqueIndex;not null" json:"canonical_key"`
	PlaceKey     string    `gorm:"index;not null" json:"-"`
	CBSACode     *string   `gorm:"column:cbsa_code" json:"cbsa_code"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (Market) TableName() string { return "markets" }

// HasCode reports whether the statistical-area code has been resolved.
func (m *Market) HasCode() bool {
	return m.CBSACode != nil && *m.CBSACode != ""
}

// MarketPostalCode associates a postal code with a market. The centroid is
// filled in by the geocoder.
type MarketPostalCode struct {
	MarketID           uint      `gorm:"primaryKey;autoIncrement:false" json:"-"`
	PostalCode         string    `gorm:"primaryKey;size:16" json:"postal_code"`
	Latitude           *float64  `json:"latitude"`
	Longitude          *float64  `json:"longitude"`
	GeocodingAttempted bool      `gorm:"not null;default:false" json:"-"`
	CreatedAt          time.Time `json:"created_at"`
}

func (MarketPostalCode) TableName() string { return "market_postal_codes" }

// MarketSummary is one row of the market listing.
type MarketSummary struct {
	ID              uint    `json:"id"`
	Name            string  `json:"name"`
	CanonicalKey    string  `json:"-"`
	PlaceKey        string  `json:"-"`
	CBSACode        *string `gorm:"column:cbsa_code" json:"cbsa_code"`
	PostalCodeCount int     `json:"postal_code_count"`
	DealCount       int     `json:"deal_count"`
}
