package census

import "dealtracker/server/internal/models"

type seriesField struct {
	metric string
	group  FieldGroup
	field  string
	growth bool
	ratio  bool
}

// Growth is only derived for level values; rates are reported as-is.
var seriesFields = []seriesField{
	{metric: models.MetricPopulation, group: GroupBase, field: "B01003_001E", growth: true},
	{metric: models.MetricMedianHouseholdIncome, group: GroupBase, field: "B19013_001E", growth: true},
	{metric: models.MetricMedianHomeValue, group: GroupBase, field: "B25077_001E", growth: true},
	{metric: models.MetricMedianGrossRent, group: GroupBase, field: "B25064_001E", growth: true},
	{metric: models.MetricHousingUnits, group: GroupBase, field: "B25001_001E", growth: true},
	{metric: models.MetricUnemploymentRate, group: GroupProfile, field: "DP03_0009PE"},
	{metric: models.MetricRentBurden, group: GroupBase, field: "B25071_001E", ratio: true},
}

type snapshotField struct {
	metric string
	group  FieldGroup
	field  string
}

var snapshotFields = []snapshotField{
	{metric: models.MetricMedianAge, group: GroupBase, field: "B01002_001E"},
	{metric: models.MetricPovertyRate, group: GroupProfile, field: "DP03_0128PE"},
	{metric: models.MetricBachelorsRate, group: GroupProfile, field: "DP02_0068PE"},
	{metric: models.MetricOwnerOccupied, group: GroupProfile, field: "DP04_0046PE"},
}

type industryField struct {
	field string
	label string
}

// Civilian employed population 16+ by industry, percent of total.
var industryFields = []industryField{
	{field: "DP03_0033PE", label: "Agriculture & Mining"},
	{field: "DP03_0034PE", label: "Construction"},
	{field: "DP03_0035PE", label: "Manufacturing"},
	{field: "DP03_0036PE", label: "Wholesale Trade"},
	{field: "DP03_0037PE", label: "Retail Trade"},
	{field: "DP03_0038PE", label: "Transportation & Utilities"},
	{field: "DP03_0039PE", label: "Information"},
	{field: "DP03_0040PE", label: "Finance, Insurance & Real Estate"},
	{field: "DP03_0041PE", label: "Professional & Business Services"},
	{field: "DP03_0042PE", label: "Education & Health Care"},
	{field: "DP03_0043PE", label: "Arts, Recreation & Hospitality"},
	{field: "DP03_0044PE", label: "Other Services"},
	{field: "DP03_0045PE", label: "Public Administration"},
}

const topIndustryCount = 3

// groupFields lists every field requested from a group, in declaration order.
func groupFields(group FieldGroup) []string {
	var fields []string
	seen := make(map[string]bool)
	add := func(field string) {
		if !seen[field] {
			seen[field] = true
			fields = append(fields, field)
		}
	}

	for _, f := range seriesFields {
		if f.group == group {
			add(f.field)
		}
	}
	for _, f := range snapshotFields {
		if f.group == group {
			add(f.field)
		}
	}
	if group == GroupProfile {
		for _, f := range industryFields {
			add(f.field)
		}
	}
	return fields
}
