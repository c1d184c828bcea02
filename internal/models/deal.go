package models

import "time"

// Deal is a tracked acquisition opportunity as parsed from a spreadsheet
// tracker. MarketID is assigned on every upload of the deal.
type Deal struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	ExternalRef string    `gorm:"uniqueIndex;not null" json:"external_ref"`
	Name        string    `gorm:"not null" json:"name"`
	MarketName  string    `json:"market_name"`
	City        string    `json:"city"`
	State       string    `json:"state"`
	PostalCode  string    `json:"postal_code"`
	Stage       string    `json:"stage"`
	AskingPrice *float64  `json:"asking_price"`
	MarketID    *uint     `gorm:"index" json:"market_id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (Deal) TableName() string { return "deals" }
