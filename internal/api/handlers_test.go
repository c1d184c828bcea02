package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"dealtracker/server/internal/census"
	"dealtracker/server/internal/database"
	"dealtracker/server/internal/intel"
	"dealtracker/server/internal/models"
	"dealtracker/server/internal/queue"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockIntel struct {
	mock.Mock
}

func (m *mockIntel) ListMarkets(ctx context.Context) ([]models.MarketSummary, error) {
	args := m.Called(ctx)
	markets, _ := args.Get(0).([]models.MarketSummary)
	return markets, args.Error(1)
}

func (m *mockIntel) GetMarketIntel(ctx context.Context, name string) (*intel.MarketIntel, error) {
	args := m.Called(ctx, name)
	result, _ := args.Get(0).(*intel.MarketIntel)
	return result, args.Error(1)
}

func (m *mockIntel) RefreshMarket(ctx context.Context, name string) (*intel.RefreshResult, error) {
	args := m.Called(ctx, name)
	result, _ := args.Get(0).(*intel.RefreshResult)
	return result, args.Error(1)
}

func (m *mockIntel) ClearMarketCode(ctx context.Context, name string) (*models.Market, error) {
	args := m.Called(ctx, name)
	market, _ := args.Get(0).(*models.Market)
	return market, args.Error(1)
}

type mockStore struct {
	mock.Mock
}

func (m *mockStore) ListDeals(ctx context.Context) ([]models.Deal, error) {
	args := m.Called(ctx)
	deals, _ := args.Get(0).([]models.Deal)
	return deals, args.Error(1)
}

func (m *mockStore) DeleteDeal(ctx context.Context, id uint) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockStore) UpdateMissingPostalCoordinates(ctx context.Context, geocoder database.PostalGeocoder) (int, error) {
	args := m.Called(ctx, geocoder)
	return args.Int(0), args.Error(1)
}

type mockSubmitter struct {
	mock.Mock
}

func (m *mockSubmitter) Submit(deals []*models.Deal) (int, error) {
	args := m.Called(deals)
	return args.Int(0), args.Error(1)
}

type noopGeocoder struct{}

func (noopGeocoder) GeocodePostalCode(ctx context.Context, postalCode string) (float64, float64, error) {
	return 0, 0, nil
}

type fixture struct {
	intel  *mockIntel
	store  *mockStore
	ingest *mockSubmitter
	router *gin.Engine
}

func newFixture(geocoder database.PostalGeocoder) *fixture {
	gin.SetMode(gin.TestMode)
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	f := &fixture{intel: &mockIntel{}, store: &mockStore{}, ingest: &mockSubmitter{}}
	handler := NewHandler(f.intel, f.store, f.ingest, geocoder, logger)
	f.router = NewRouter(handler, []string{"http://localhost:3000"}, logger)
	return f
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body["error"]
}

func TestHealth(t *testing.T) {
	f := newFixture(nil)
	w := f.do(http.MethodGet, "/api/health", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))
}

func TestRequestIDIsEchoed(t *testing.T) {
	f := newFixture(nil)
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set(requestIDHeader, "abc-123")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	assert.Equal(t, "abc-123", w.Header().Get(requestIDHeader))
}

func TestListMarkets(t *testing.T) {
	f := newFixture(nil)
	f.intel.On("ListMarkets", mock.Anything).Return([]models.MarketSummary{
		{ID: 1, Name: "Austin, TX", PostalCodeCount: 3, DealCount: 2},
	}, nil)

	w := f.do(http.MethodGet, "/api/markets", "")
	require.Equal(t, http.StatusOK, w.Code)

	var markets []models.MarketSummary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &markets))
	require.Len(t, markets, 1)
	assert.Equal(t, "Austin, TX", markets[0].Name)
	assert.Equal(t, 3, markets[0].PostalCodeCount)
}

func TestGetMarketIntel(t *testing.T) {
	f := newFixture(nil)
	warning := "Census API key is not configured; showing cached statistics only."
	f.intel.On("GetMarketIntel", mock.Anything, "Austin, TX").Return(&intel.MarketIntel{
		Market:  &models.Market{ID: 7, Name: "Austin, TX"},
		Series:  []models.SeriesMetric{},
		Warning: &warning,
	}, nil)

	w := f.do(http.MethodGet, "/api/markets/Austin,%20TX/intel", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Market  models.Market `json:"market"`
		Warning *string       `json:"warning"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, uint(7), body.Market.ID)
	require.NotNil(t, body.Warning)
	assert.Equal(t, warning, *body.Warning)
}

func TestMarketErrors(t *testing.T) {
	tests := []struct {
		name           string
		method         string
		path           string
		call           string
		err            error
		expectedStatus int
	}{
		{
			name:           "invalid name",
			method:         http.MethodGet,
			path:           "/api/markets/---/intel",
			call:           "GetMarketIntel",
			err:            fmt.Errorf("%w: %q", database.ErrInvalidMarketName, "---"),
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "storage failure is verbatim",
			method:         http.MethodGet,
			path:           "/api/markets/Austin/intel",
			call:           "GetMarketIntel",
			err:            errors.New("database is locked"),
			expectedStatus: http.StatusInternalServerError,
		},
		{
			name:           "no credential",
			method:         http.MethodPost,
			path:           "/api/markets/Austin/refresh",
			call:           "RefreshMarket",
			err:            intel.ErrNoCredential,
			expectedStatus: http.StatusServiceUnavailable,
		},
		{
			name:           "unresolved code",
			method:         http.MethodPost,
			path:           "/api/markets/Austin/refresh",
			call:           "RefreshMarket",
			err:            fmt.Errorf("%w: Austin", intel.ErrCodeNotResolved),
			expectedStatus: http.StatusUnprocessableEntity,
		},
		{
			name:           "census failure",
			method:         http.MethodPost,
			path:           "/api/markets/Austin/refresh",
			call:           "RefreshMarket",
			err:            fmt.Errorf("failed to fetch: %w", &census.StatusError{StatusCode: 500, Body: "boom"}),
			expectedStatus: http.StatusBadGateway,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(nil)
			f.intel.On(tt.call, mock.Anything, mock.Anything).Return(nil, tt.err)

			w := f.do(tt.method, tt.path, "")
			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.Equal(t, tt.err.Error(), decodeError(t, w))
		})
	}
}

func TestRefreshMarket(t *testing.T) {
	f := newFixture(nil)
	f.intel.On("RefreshMarket", mock.Anything, "Dallas").Return(&intel.RefreshResult{
		Success: true,
		Market:  &models.Market{ID: 2, Name: "Dallas"},
	}, nil)

	w := f.do(http.MethodPost, "/api/markets/Dallas/refresh", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body intel.RefreshResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.True(t, body.Success)
	f.intel.AssertExpectations(t)
}

func TestClearMarketCode(t *testing.T) {
	f := newFixture(nil)
	f.intel.On("ClearMarketCode", mock.Anything, "Austin, TX").Return(&models.Market{ID: 7, Name: "Austin, TX"}, nil)
	f.intel.On("ClearMarketCode", mock.Anything, "Houston").Return(nil, database.ErrMarketNotFound)

	w := f.do(http.MethodDelete, "/api/markets/Austin,%20TX/code", "")
	require.Equal(t, http.StatusOK, w.Code)

	var market models.Market
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &market))
	assert.Equal(t, uint(7), market.ID)
	assert.Nil(t, market.CBSACode)

	w = f.do(http.MethodDelete, "/api/markets/Houston/code", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, database.ErrMarketNotFound.Error(), decodeError(t, w))
	f.intel.AssertExpectations(t)
}

func TestIngestDeals(t *testing.T) {
	f := newFixture(nil)
	f.ingest.On("Submit", mock.MatchedBy(func(deals []*models.Deal) bool {
		return len(deals) == 2 &&
			deals[0].MarketName == "Austin, TX" &&
			deals[1].City == "Dallas" && deals[1].State == "TX"
	})).Return(1, nil)

	body := `{"deals":[
		{"name":"Riverside Flats","market":" Austin, TX ","postal_code":"78701"},
		{"name":"Uptown Tower","city":"Dallas","state":"TX","asking_price":12500000}
	]}`
	w := f.do(http.MethodPost, "/api/deals", body)

	require.Equal(t, http.StatusAccepted, w.Code)
	assert.JSONEq(t, `{"accepted":2,"batches":1}`, w.Body.String())
	f.ingest.AssertExpectations(t)
}

func TestIngestDeals_Rejected(t *testing.T) {
	tests := []struct {
		name           string
		body           string
		submitErr      error
		expectedStatus int
	}{
		{name: "empty batch", body: `{"deals":[]}`, expectedStatus: http.StatusBadRequest},
		{name: "missing name", body: `{"deals":[{"market":"Austin"}]}`, expectedStatus: http.StatusBadRequest},
		{name: "malformed", body: `{"deals":`, expectedStatus: http.StatusBadRequest},
		{name: "queue full", body: `{"deals":[{"name":"A"}]}`, submitErr: queue.ErrQueueFull, expectedStatus: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(nil)
			f.ingest.On("Submit", mock.Anything).Return(0, tt.submitErr)

			w := f.do(http.MethodPost, "/api/deals", tt.body)
			assert.Equal(t, tt.expectedStatus, w.Code)
		})
	}
}

func TestDeleteDeal(t *testing.T) {
	f := newFixture(nil)
	f.store.On("DeleteDeal", mock.Anything, uint(4)).Return(nil)
	f.store.On("DeleteDeal", mock.Anything, uint(5)).Return(database.ErrDealNotFound)

	assert.Equal(t, http.StatusNoContent, f.do(http.MethodDelete, "/api/deals/4", "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodDelete, "/api/deals/5", "").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodDelete, "/api/deals/abc", "").Code)
}

func TestListDeals_Empty(t *testing.T) {
	f := newFixture(nil)
	f.store.On("ListDeals", mock.Anything).Return(nil, nil)

	w := f.do(http.MethodGet, "/api/deals", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestGeocodeMarkets(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		f := newFixture(nil)
		w := f.do(http.MethodPost, "/api/markets/geocode", "")
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		f.store.AssertNotCalled(t, "UpdateMissingPostalCoordinates", mock.Anything, mock.Anything)
	})

	t.Run("updates missing coordinates", func(t *testing.T) {
		f := newFixture(noopGeocoder{})
		f.store.On("UpdateMissingPostalCoordinates", mock.Anything, mock.Anything).Return(3, nil)

		w := f.do(http.MethodPost, "/api/markets/geocode", "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"updated":3}`, w.Body.String())
	})
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(nil)
	req := httptest.NewRequest(http.MethodOptions, "/api/markets", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "GET")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
}
