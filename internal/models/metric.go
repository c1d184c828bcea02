package models

import (
	"time"

	"gorm.io/datatypes"
)

// MetricKind is the value shape of a metric.
type MetricKind string

const (
	KindSeries   MetricKind = "series"
	KindSnapshot MetricKind = "snapshot"
	KindList     MetricKind = "list"
)

// MetricUnit describes how a metric value should be displayed.
type MetricUnit string

const (
	UnitCurrency MetricUnit = "currency"
	UnitPercent  MetricUnit = "percent"
	UnitCount    MetricUnit = "count"
	UnitRatio    MetricUnit = "ratio"
	UnitIndex    MetricUnit = "index"
	UnitText     MetricUnit = "text"
	UnitNone     MetricUnit = "none"
)

// Lookback periods, in years, stored for every series metric.
var SeriesPeriods = []int{1, 3, 5, 10}

const (
	MetricPopulation            = "population"
	MetricMedianHouseholdIncome = "median_household_income"
	MetricMedianHomeValue       = "median_home_value"
	MetricMedianGrossRent       = "median_gross_rent"
	MetricHousingUnits          = "housing_units"
	MetricUnemploymentRate      = "unemployment_rate"
	MetricRentBurden            = "rent_burden"

	MetricAreaName      = "statistical_area_name"
	MetricMedianAge     = "median_age"
	MetricPovertyRate   = "poverty_rate"
	MetricBachelorsRate = "bachelors_rate"
	MetricOwnerOccupied = "owner_occupied_rate"
	MetricTopIndustries = "top_industries"
)

const (
	metricCategoryPeople   = "demographics"
	metricCategoryEconomy  = "economy"
	metricCategoryHousing  = "housing"
	metricCategoryIdentity = "identity"
)

// MetricDefinition is an entry of the fixed metric catalog.
type MetricDefinition struct {
	Key       string     `gorm:"primaryKey;size:64" json:"key"`
	Label     string     `gorm:"not null" json:"label"`
	Category  string     `gorm:"not null" json:"category"`
	Unit      MetricUnit `gorm:"not null" json:"unit"`
	Kind      MetricKind `gorm:"not null" json:"kind"`
	SortOrder int        `gorm:"not null;default:0" json:"sort_order"`
}

func (MetricDefinition) TableName() string { return "metric_catalog" }

// MetricCatalog is the reference catalog seeded at startup.
var MetricCatalog = []MetricDefinition{
	{Key: MetricPopulation, Label: "Population", Category: metricCategoryPeople, Unit: UnitCount, Kind: KindSeries, SortOrder: 10},
	{Key: MetricMedianHouseholdIncome, Label: "Median Household Income", Category: metricCategoryEconomy, Unit: UnitCurrency, Kind: KindSeries, SortOrder: 20},
	{Key: MetricMedianHomeValue, Label: "Median Home Value", Category: metricCategoryHousing, Unit: UnitCurrency, Kind: KindSeries, SortOrder: 30},
	{Key: MetricMedianGrossRent, Label: "Median Gross Rent", Category: metricCategoryHousing, Unit: UnitCurrency, Kind: KindSeries, SortOrder: 40},
	{Key: MetricHousingUnits, Label: "Housing Units", Category: metricCategoryHousing, Unit: UnitCount, Kind: KindSeries, SortOrder: 50},
	{Key: MetricUnemploymentRate, Label: "Unemployment Rate", Category: metricCategoryEconomy, Unit: UnitPercent, Kind: KindSeries, SortOrder: 60},
	{Key: MetricRentBurden, Label: "Rent as % of Household Income", Category: metricCategoryHousing, Unit: UnitRatio, Kind: KindSeries, SortOrder: 70},
	{Key: MetricAreaName, Label: "Statistical Area", Category: metricCategoryIdentity, Unit: UnitText, Kind: KindSnapshot, SortOrder: 100},
	{Key: MetricMedianAge, Label: "Median Age", Category: metricCategoryPeople, Unit: UnitNone, Kind: KindSnapshot, SortOrder: 110},
	{Key: MetricPovertyRate, Label: "Poverty Rate", Category: metricCategoryEconomy, Unit: UnitPercent, Kind: KindSnapshot, SortOrder: 120},
	{Key: MetricBachelorsRate, Label: "Bachelor's Degree or Higher", Category: metricCategoryPeople, Unit: UnitPercent, Kind: KindSnapshot, SortOrder: 130},
	{Key: MetricOwnerOccupied, Label: "Owner-Occupied Housing", Category: metricCategoryHousing, Unit: UnitPercent, Kind: KindSnapshot, SortOrder: 140},
	{Key: MetricTopIndustries, Label: "Top Industries by Employment", Category: metricCategoryEconomy, Unit: UnitText, Kind: KindList, SortOrder: 200},
}

// SeriesMetric is one lookback-period value of a series metric.
type SeriesMetric struct {
	ID        uint      `gorm:"primaryKey" json:"-"`
	MarketID  uint      `gorm:"not null;uniqueIndex:idx_series_market_metric_period,priority:1" json:"-"`
	MetricKey string    `gorm:"not null;size:64;uniqueIndex:idx_series_market_metric_period,priority:2" json:"metric_key"`
	Period    int       `gorm:"not null;uniqueIndex:idx_series_market_metric_period,priority:3" json:"period"`
	Value     *float64  `json:"value"`
	Growth    *float64  `json:"growth"`
	Source    string    `json:"source"`
	AsOf      time.Time `json:"as_of"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (SeriesMetric) TableName() string { return "market_series_metrics" }

// SnapshotMetric is a single current value, numeric or textual.
type SnapshotMetric struct {
	ID           uint      `gorm:"primaryKey" json:"-"`
	MarketID     uint      `gorm:"not null;uniqueIndex:idx_snapshot_market_metric,priority:1" json:"-"`
	MetricKey    string    `gorm:"not null;size:64;uniqueIndex:idx_snapshot_market_metric,priority:2" json:"metric_key"`
	NumericValue *float64  `json:"numeric_value"`
	TextValue    *string   `json:"text_value"`
	Source       string    `json:"source"`
	AsOf         time.Time `json:"as_of"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (SnapshotMetric) TableName() string { return "market_snapshot_metrics" }

// ListMetric is an ordered collection of short text items.
type ListMetric struct {
	ID        uint                        `gorm:"primaryKey" json:"-"`
	MarketID  uint                        `gorm:"not null;uniqueIndex:idx_list_market_metric,priority:1" json:"-"`
	MetricKey string                      `gorm:"not null;size:64;uniqueIndex:idx_list_market_metric,priority:2" json:"metric_key"`
	Items     datatypes.JSONSlice[string] `json:"items"`
	Source    string                      `json:"source"`
	AsOf      time.Time                   `json:"as_of"`
	UpdatedAt time.Time                   `json:"updated_at"`
}

func (ListMetric) TableName() string { return "market_list_metrics" }

// MarketMetrics is one refresh worth of rows for a single market.
type MarketMetrics struct {
	Series    []SeriesMetric
	Snapshots []SnapshotMetric
	Lists     []ListMetric
}
