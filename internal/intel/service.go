// Package intel serves per-market statistics out of the metric cache and
// decides when the cache is refreshed from the census source.
package intel

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"dealtracker/server/internal/census"
	"dealtracker/server/internal/database"
	"dealtracker/server/internal/geometry"
	"dealtracker/server/internal/models"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"gorm.io/datatypes"
)

var (
	ErrCodeNotResolved = errors.New("no statistical area matched market")
	ErrNoCredential    = errors.New("census API key is not configured")
)

const warningNoCredential = "Census API key is not configured; showing cached statistics only."

// Store is the metric cache and identity table.
type Store interface {
	ReconcileMarkets(ctx context.Context) (database.ReconcileResult, error)
	ListMarkets(ctx context.Context) ([]models.MarketSummary, error)
	UpsertMarket(ctx context.Context, name string) (*models.Market, error)
	FindMarket(ctx context.Context, name string) (*models.Market, error)
	SetMarketCode(ctx context.Context, marketID uint, code string) (string, error)
	ClearMarketCode(ctx context.Context, marketID uint) error
	HasMetrics(ctx context.Context, marketID uint) (bool, error)
	SaveMarketMetrics(ctx context.Context, marketID uint, metrics *models.MarketMetrics) error
	GetSeriesMetrics(ctx context.Context, marketID uint) ([]models.SeriesMetric, error)
	GetSnapshotMetrics(ctx context.Context, marketID uint) ([]models.SnapshotMetric, error)
	GetListMetrics(ctx context.Context, marketID uint) ([]models.ListMetric, error)
	GetMetricCatalog(ctx context.Context) ([]models.MetricDefinition, error)
	ListPostalCodes(ctx context.Context, marketID uint) ([]models.MarketPostalCode, error)
	ListMarketDeals(ctx context.Context, marketID uint) ([]models.Deal, error)
}

// CodeResolver maps a market name to a statistical-area code; "" means no match.
type CodeResolver interface {
	ResolveCode(ctx context.Context, name string, year int) (string, error)
}

// MetricFetcher retrieves metric values for a statistical area.
type MetricFetcher interface {
	FetchSeries(ctx context.Context, name, code string, latestYear int) (*census.Result, error)
}

type Options struct {
	// HasCredential gates every external call.
	HasCredential bool
	LatestYear    int
}

type Service struct {
	store         Store
	resolver      CodeResolver
	fetcher       MetricFetcher
	hasCredential bool
	latestYear    int
	logger        *logrus.Logger

	// Keyed by canonical market key.
	refreshes singleflight.Group
}

func NewService(store Store, resolver CodeResolver, fetcher MetricFetcher, opts Options, logger *logrus.Logger) *Service {
	if logger == nil {
		logger = logrus.New()
	}
	return &Service{
		store:         store,
		resolver:      resolver,
		fetcher:       fetcher,
		hasCredential: opts.HasCredential,
		latestYear:    opts.LatestYear,
		logger:        logger,
	}
}

// MarketIntel is everything the detail view shows for one market.
type MarketIntel struct {
	Market        *models.Market            `json:"market"`
	Series        []models.SeriesMetric     `json:"series"`
	Snapshots     []models.SnapshotMetric   `json:"snapshots"`
	Lists         []models.ListMetric       `json:"lists"`
	MetricCatalog []models.MetricDefinition `json:"metric_catalog"`
	PostalCodes   []models.MarketPostalCode `json:"postal_codes"`
	Deals         []models.Deal             `json:"deals"`
	Footprint     *geojson.Feature          `json:"footprint,omitempty"`
	Warning       *string                   `json:"warning"`
}

// RefreshResult reports a completed forced refresh.
type RefreshResult struct {
	Success     bool           `json:"success"`
	Market      *models.Market `json:"market"`
	RefreshedAt time.Time      `json:"refreshed_at"`
}

// persistenceError marks store failures so they are never downgraded to
// warnings.
type persistenceError struct {
	err error
}

func (e *persistenceError) Error() string { return e.err.Error() }
func (e *persistenceError) Unwrap() error { return e.err }

func isPersistenceError(err error) bool {
	var pe *persistenceError
	return errors.As(err, &pe)
}

// ListMarkets returns every market with its postal-code count.
//
// It first reconciles the identity table: deals without a market are linked,
// and every market that no deal references is deleted along with its cached
// metrics and postal codes. Listing therefore mutates the store.
func (s *Service) ListMarkets(ctx context.Context) ([]models.MarketSummary, error) {
	if _, err := s.store.ReconcileMarkets(ctx); err != nil {
		return nil, err
	}

	markets, err := s.store.ListMarkets(ctx)
	if err != nil {
		return nil, err
	}
	if markets == nil {
		markets = []models.MarketSummary{}
	}
	return markets, nil
}

// GetMarketIntel returns the cached statistics for a market, creating the
// identity if the name is new. When nothing is cached and a credential is
// configured the cache is filled first; external failures during that fill
// are reported in Warning instead of failing the read.
func (s *Service) GetMarketIntel(ctx context.Context, name string) (*MarketIntel, error) {
	market, err := s.store.UpsertMarket(ctx, name)
	if err != nil {
		return nil, err
	}

	cached, err := s.store.HasMetrics(ctx, market.ID)
	if err != nil {
		return nil, err
	}

	var warning *string
	if !cached {
		refreshed, msg, err := s.lazyRefresh(ctx, market)
		if err != nil {
			return nil, err
		}
		market = refreshed
		if msg != "" {
			warning = &msg
		}
	}

	intel, err := s.read(ctx, market)
	if err != nil {
		return nil, err
	}
	intel.Warning = warning
	return intel, nil
}

func (s *Service) lazyRefresh(ctx context.Context, market *models.Market) (*models.Market, string, error) {
	if !s.hasCredential {
		return market, warningNoCredential, nil
	}

	refreshed, err := s.refresh(ctx, market)
	switch {
	case err == nil:
		return refreshed, "", nil
	case isPersistenceError(err):
		return nil, "", err
	case errors.Is(err, ErrCodeNotResolved):
		return market, fmt.Sprintf("No census statistical area matched %q.", market.Name), nil
	default:
		s.logger.WithError(err).WithField("market", market.Name).Warn("Lazy market refresh failed")
		return market, fmt.Sprintf("Could not load census statistics: %v", err), nil
	}
}

// RefreshMarket re-fetches a market's statistics regardless of what is cached,
// resolving the statistical-area code first when it is not stored yet.
func (s *Service) RefreshMarket(ctx context.Context, name string) (*RefreshResult, error) {
	if !s.hasCredential {
		return nil, ErrNoCredential
	}

	market, err := s.store.UpsertMarket(ctx, name)
	if err != nil {
		return nil, err
	}

	refreshed, err := s.refresh(ctx, market)
	if err != nil {
		s.logger.WithError(err).WithField("market", market.Name).Error("Forced market refresh failed")
		return nil, err
	}
	return &RefreshResult{Success: true, Market: refreshed, RefreshedAt: time.Now().UTC()}, nil
}

// ClearMarketCode forgets the statistical-area code of an existing market so
// the next refresh resolves it again. Cached metrics are kept until then.
func (s *Service) ClearMarketCode(ctx context.Context, name string) (*models.Market, error) {
	market, err := s.store.FindMarket(ctx, name)
	if err != nil {
		return nil, err
	}
	if err := s.store.ClearMarketCode(ctx, market.ID); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"market":    market.Name,
		"market_id": market.ID,
	}).Info("Cleared statistical area code")
	market.CBSACode = nil
	return market, nil
}

// refresh joins any in-flight refresh for the same market.
func (s *Service) refresh(ctx context.Context, market *models.Market) (*models.Market, error) {
	v, err, shared := s.refreshes.Do(market.CanonicalKey, func() (interface{}, error) {
		return s.doRefresh(ctx, *market)
	})
	if shared {
		s.logger.WithField("market", market.Name).Debug("Joined in-flight market refresh")
	}
	if err != nil {
		return nil, err
	}
	refreshed := *v.(*models.Market)
	return &refreshed, nil
}

func (s *Service) doRefresh(ctx context.Context, market models.Market) (*models.Market, error) {
	logger := s.logger.WithFields(logrus.Fields{
		"market":    market.Name,
		"market_id": market.ID,
	})

	if !market.HasCode() {
		code, err := s.resolver.ResolveCode(ctx, market.Name, s.latestYear)
		if err != nil {
			return nil, err
		}
		if code == "" {
			return nil, fmt.Errorf("%w: %s", ErrCodeNotResolved, market.Name)
		}

		stored, err := s.store.SetMarketCode(ctx, market.ID, code)
		if err != nil {
			return nil, &persistenceError{err: err}
		}
		market.CBSACode = &stored
		logger.WithField("code", stored).Info("Stored statistical area code")
	}

	result, err := s.fetcher.FetchSeries(ctx, market.Name, *market.CBSACode, s.latestYear)
	if err != nil {
		return nil, err
	}

	if err := s.store.SaveMarketMetrics(ctx, market.ID, ToMarketMetrics(result)); err != nil {
		return nil, &persistenceError{err: err}
	}

	logger.WithField("code", *market.CBSACode).Info("Refreshed market statistics")
	return &market, nil
}

// ToMarketMetrics converts a fetch result into cache rows.
func ToMarketMetrics(result *census.Result) *models.MarketMetrics {
	metrics := &models.MarketMetrics{}

	for _, key := range sortedKeys(result.Series) {
		for _, period := range models.SeriesPeriods {
			v := result.Series[key][period]
			metrics.Series = append(metrics.Series, models.SeriesMetric{
				MetricKey: key,
				Period:    period,
				Value:     v.Value,
				Growth:    v.Growth,
				Source:    result.Source,
				AsOf:      result.AsOf,
			})
		}
	}

	for _, key := range sortedKeys(result.Snapshots) {
		v := result.Snapshots[key]
		metrics.Snapshots = append(metrics.Snapshots, models.SnapshotMetric{
			MetricKey:    key,
			NumericValue: v.Number,
			TextValue:    v.Text,
			Source:       result.Source,
			AsOf:         result.AsOf,
		})
	}

	for _, key := range sortedKeys(result.Lists) {
		metrics.Lists = append(metrics.Lists, models.ListMetric{
			MetricKey: key,
			Items:     datatypes.JSONSlice[string](result.Lists[key]),
			Source:    result.Source,
			AsOf:      result.AsOf,
		})
	}
	return metrics
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// read loads every shape for a market in parallel.
func (s *Service) read(ctx context.Context, market *models.Market) (*MarketIntel, error) {
	intel := &MarketIntel{Market: market}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rows, err := s.store.GetSeriesMetrics(gctx, market.ID)
		intel.Series = rows
		return err
	})
	g.Go(func() error {
		rows, err := s.store.GetSnapshotMetrics(gctx, market.ID)
		intel.Snapshots = rows
		return err
	})
	g.Go(func() error {
		rows, err := s.store.GetListMetrics(gctx, market.ID)
		intel.Lists = rows
		return err
	})
	g.Go(func() error {
		rows, err := s.store.GetMetricCatalog(gctx)
		intel.MetricCatalog = rows
		return err
	})
	g.Go(func() error {
		rows, err := s.store.ListPostalCodes(gctx, market.ID)
		intel.PostalCodes = rows
		return err
	})
	g.Go(func() error {
		rows, err := s.store.ListMarketDeals(gctx, market.ID)
		intel.Deals = rows
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if intel.Series == nil {
		intel.Series = []models.SeriesMetric{}
	}
	if intel.Snapshots == nil {
		intel.Snapshots = []models.SnapshotMetric{}
	}
	if intel.Lists == nil {
		intel.Lists = []models.ListMetric{}
	}
	if intel.PostalCodes == nil {
		intel.PostalCodes = []models.MarketPostalCode{}
	}
	if intel.Deals == nil {
		intel.Deals = []models.Deal{}
	}

	var points []orb.Point
	for _, pc := range intel.PostalCodes {
		if pc.Latitude != nil && pc.Longitude != nil {
			points = append(points, orb.Point{*pc.Longitude, *pc.Latitude})
		}
	}
	intel.Footprint = geometry.Footprint(market.Name, points)

	return intel, nil
}
