package census

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"dealtracker/server/internal/models"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	Source         = "U.S. Census Bureau, ACS 5-Year Estimates"
	DefaultMinYear = 2010
)

// Values at or below this are the source's "not available" annotations.
var missingSentinel = decimal.NewFromInt(-1000000)

// ValueSource returns raw field values for one area, year and field group.
type ValueSource interface {
	FetchValues(ctx context.Context, year int, group FieldGroup, code string, fields []string) (map[string]string, error)
}

// SeriesValue is the level reported for a lookback period plus the growth over
// that period, either of which may be unknown.
type SeriesValue struct {
	Value  *float64 `json:"value"`
	Growth *float64 `json:"growth"`
}

// SnapshotValue is a single current value.
type SnapshotValue struct {
	Number *float64 `json:"number,omitempty"`
	Text   *string  `json:"text,omitempty"`
}

// Result holds everything fetched for one statistical area.
type Result struct {
	Code       string
	LatestYear int
	Source     string
	AsOf       time.Time
	Series     map[string]map[int]SeriesValue
	Snapshots  map[string]SnapshotValue
	Lists      map[string][]string
}

// Fetcher retrieves metric values for a statistical area across the years
// needed to fill every lookback period.
type Fetcher struct {
	source  ValueSource
	minYear int
	logger  *logrus.Logger
}

func NewFetcher(source ValueSource, minYear int, logger *logrus.Logger) *Fetcher {
	if minYear <= 0 {
		minYear = DefaultMinYear
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Fetcher{source: source, minYear: minYear, logger: logger}
}

// yearValues maps year → group → field → raw value.
type yearValues map[int]map[FieldGroup]map[string]string

func (v yearValues) level(year int, group FieldGroup, field string) *float64 {
	return ParseValue(v[year][group][field])
}

// FetchSeries fetches both field groups for the latest year and each lookback
// year in parallel, then derives the per-period levels and growth rates.
// Years before the minimum supported year are skipped and leave nulls.
func (f *Fetcher) FetchSeries(ctx context.Context, name, code string, latestYear int) (*Result, error) {
	years := RequiredYears(latestYear, f.minYear)
	if len(years) == 0 {
		return nil, fmt.Errorf("latest year %d is before minimum supported year %d", latestYear, f.minYear)
	}

	values, err := f.fetchYears(ctx, code, years)
	if err != nil {
		return nil, err
	}
	if len(values[latestYear][GroupBase]) == 0 && len(values[latestYear][GroupProfile]) == 0 {
		return nil, fmt.Errorf("no values for area %s in %d: %w", code, latestYear, ErrNoData)
	}

	result := &Result{
		Code:       code,
		LatestYear: latestYear,
		Source:     Source,
		AsOf:       time.Date(latestYear, time.December, 31, 0, 0, 0, 0, time.UTC),
		Series:     make(map[string]map[int]SeriesValue, len(seriesFields)),
		Snapshots:  make(map[string]SnapshotValue, len(snapshotFields)+1),
		Lists:      make(map[string][]string, 1),
	}

	for _, sf := range seriesFields {
		current := values.level(latestYear, sf.group, sf.field)
		if sf.ratio {
			current = NormalizeRatio(current)
		}

		periods := make(map[int]SeriesValue, len(models.SeriesPeriods))
		for _, period := range models.SeriesPeriods {
			var past *float64
			if pastYear := latestYear - period; pastYear >= f.minYear {
				past = values.level(pastYear, sf.group, sf.field)
				if sf.ratio {
					past = NormalizeRatio(past)
				}
			}

			sv := SeriesValue{Value: past}
			if period == 1 {
				sv.Value = current
			}
			if sf.growth {
				sv.Growth = Growth(current, past)
			}
			periods[period] = sv
		}
		result.Series[sf.metric] = periods
	}

	areaName := strings.TrimSpace(values[latestYear][GroupBase]["NAME"])
	if areaName == "" {
		areaName = name
	}
	result.Snapshots[models.MetricAreaName] = SnapshotValue{Text: &areaName}
	for _, sf := range snapshotFields {
		result.Snapshots[sf.metric] = SnapshotValue{Number: values.level(latestYear, sf.group, sf.field)}
	}

	result.Lists[models.MetricTopIndustries] = topIndustries(values[latestYear][GroupProfile])

	f.logger.WithFields(logrus.Fields{
		"market": name,
		"code":   code,
		"years":  years,
	}).Info("Fetched market statistics")

	return result, nil
}

func (f *Fetcher) fetchYears(ctx context.Context, code string, years []int) (yearValues, error) {
	values := make(yearValues, len(years))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, year := range years {
		for _, group := range []FieldGroup{GroupBase, GroupProfile} {
			g.Go(func() error {
				fetched, err := f.source.FetchValues(gctx, year, group, code, groupFields(group))
				if errors.Is(err, ErrNoData) {
					f.logger.WithFields(logrus.Fields{
						"code":  code,
						"year":  year,
						"group": string(group),
					}).Debug("No census data for year")
					return nil
				}
				if err != nil {
					return fmt.Errorf("failed to fetch %s values for %d: %w", group, year, err)
				}

				mu.Lock()
				defer mu.Unlock()
				if values[year] == nil {
					values[year] = make(map[FieldGroup]map[string]string, 2)
				}
				values[year][group] = fetched
				return nil
			})
		}
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return values, nil
}

// RequiredYears returns the distinct years needed for every lookback period,
// newest first, excluding years before minYear.
func RequiredYears(latestYear, minYear int) []int {
	seen := make(map[int]bool)
	var years []int
	for _, year := range append([]int{latestYear}, lookbackYears(latestYear)...) {
		if year < minYear || seen[year] {
			continue
		}
		seen[year] = true
		years = append(years, year)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(years)))
	return years
}

func lookbackYears(latestYear int) []int {
	years := make([]int, len(models.SeriesPeriods))
	for i, period := range models.SeriesPeriods {
		years[i] = latestYear - period
	}
	return years
}

// ParseValue parses a raw source value. Empty, malformed and sentinel values
// (≤ -1,000,000) parse to nil.
func ParseValue(raw string) *float64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return nil
	}
	if d.LessThanOrEqual(missingSentinel) {
		return nil
	}
	v, _ := d.Float64()
	return &v
}

// Growth returns (current - past) / past * 100, or nil when either input is
// unknown or past is zero.
func Growth(current, past *float64) *float64 {
	if current == nil || past == nil || *past == 0 {
		return nil
	}
	g := (*current - *past) / *past * 100
	return &g
}

// NormalizeRatio brings a ratio reported as per-mille, percent or plain value
// onto one scale.
func NormalizeRatio(v *float64) *float64 {
	if v == nil {
		return nil
	}
	n := *v
	switch {
	case n > 1000:
		n /= 1000
	case n > 100:
		n /= 100
	}
	return &n
}

func topIndustries(profile map[string]string) []string {
	type share struct {
		label string
		value float64
	}

	var shares []share
	for _, f := range industryFields {
		if v := ParseValue(profile[f.field]); v != nil {
			shares = append(shares, share{label: f.label, value: *v})
		}
	}
	sort.SliceStable(shares, func(i, j int) bool {
		return shares[i].value > shares[j].value
	})

	items := make([]string, 0, topIndustryCount)
	for i := 0; i < len(shares) && i < topIndustryCount; i++ {
		items = append(items, fmt.Sprintf("%s (%s%%)", shares[i].label, decimal.NewFromFloat(shares[i].value).StringFixed(1)))
	}
	return items
}
