package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"dealtracker/server/internal/census"
	"dealtracker/server/internal/database"
	"dealtracker/server/internal/intel"
	"dealtracker/server/internal/models"
	"dealtracker/server/internal/queue"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// IntelService is the market statistics surface.
type IntelService interface {
	ListMarkets(ctx context.Context) ([]models.MarketSummary, error)
	GetMarketIntel(ctx context.Context, name string) (*intel.MarketIntel, error)
	RefreshMarket(ctx context.Context, name string) (*intel.RefreshResult, error)
	ClearMarketCode(ctx context.Context, name string) (*models.Market, error)
}

// DealStore is the part of the database the handlers touch directly.
type DealStore interface {
	ListDeals(ctx context.Context) ([]models.Deal, error)
	DeleteDeal(ctx context.Context, id uint) error
	UpdateMissingPostalCoordinates(ctx context.Context, geocoder database.PostalGeocoder) (int, error)
}

// DealSubmitter queues parsed deal rows for storage.
type DealSubmitter interface {
	Submit(deals []*models.Deal) (int, error)
}

type Handler struct {
	intel    IntelService
	store    DealStore
	ingest   DealSubmitter
	geocoder database.PostalGeocoder
	logger   *logrus.Logger
}

// NewHandler wires the handlers. geocoder may be nil when geocoding is disabled.
func NewHandler(intel IntelService, store DealStore, ingest DealSubmitter, geocoder database.PostalGeocoder, logger *logrus.Logger) *Handler {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return &Handler{
		intel:    intel,
		store:    store,
		ingest:   ingest,
		geocoder: geocoder,
		logger:   logger,
	}
}

// DealRequest is one parsed spreadsheet row.
type DealRequest struct {
	ExternalRef string   `json:"external_ref"`
	Name        string   `json:"name" binding:"required"`
	Market      string   `json:"market"`
	City        string   `json:"city"`
	State       string   `json:"state"`
	PostalCode  string   `json:"postal_code"`
	Stage       string   `json:"stage"`
	AskingPrice *float64 `json:"asking_price"`
}

type IngestRequest struct {
	Deals []DealRequest `json:"deals" binding:"required,min=1,dive"`
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ListMarkets returns every market. Markets no deal references are removed
// before listing.
func (h *Handler) ListMarkets(c *gin.Context) {
	markets, err := h.intel.ListMarkets(c.Request.Context())
	if err != nil {
		h.respondError(c, err, "Failed to list markets")
		return
	}
	c.JSON(http.StatusOK, markets)
}

func (h *Handler) GetMarketIntel(c *gin.Context) {
	name := strings.TrimSpace(c.Param("name"))
	result, err := h.intel.GetMarketIntel(c.Request.Context(), name)
	if err != nil {
		h.respondError(c, err, "Failed to get market intel")
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) RefreshMarket(c *gin.Context) {
	name := strings.TrimSpace(c.Param("name"))
	result, err := h.intel.RefreshMarket(c.Request.Context(), name)
	if err != nil {
		h.respondError(c, err, "Failed to refresh market")
		return
	}
	c.JSON(http.StatusOK, result)
}

// ClearMarketCode drops a market's stored statistical-area code so the next
// refresh resolves it from the catalog again.
func (h *Handler) ClearMarketCode(c *gin.Context) {
	name := strings.TrimSpace(c.Param("name"))
	market, err := h.intel.ClearMarketCode(c.Request.Context(), name)
	if err != nil {
		h.respondError(c, err, "Failed to clear market code")
		return
	}
	c.JSON(http.StatusOK, market)
}

// GeocodeMarkets fills in centroids for postal codes that have none yet.
func (h *Handler) GeocodeMarkets(c *gin.Context) {
	if h.geocoder == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Geocoding is disabled"})
		return
	}

	updated, err := h.store.UpdateMissingPostalCoordinates(c.Request.Context(), h.geocoder)
	if err != nil {
		h.respondError(c, err, "Failed to update coordinates")
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": updated})
}

func (h *Handler) ListDeals(c *gin.Context) {
	deals, err := h.store.ListDeals(c.Request.Context())
	if err != nil {
		h.respondError(c, err, "Failed to list deals")
		return
	}
	if deals == nil {
		deals = []models.Deal{}
	}
	c.JSON(http.StatusOK, deals)
}

// IngestDeals queues a batch of parsed rows and returns before they are stored.
func (h *Handler) IngestDeals(c *gin.Context) {
	var req IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	deals := make([]*models.Deal, 0, len(req.Deals))
	for _, row := range req.Deals {
		deals = append(deals, &models.Deal{
			ExternalRef: strings.TrimSpace(row.ExternalRef),
			Name:        strings.TrimSpace(row.Name),
			MarketName:  strings.TrimSpace(row.Market),
			City:        strings.TrimSpace(row.City),
			State:       strings.TrimSpace(row.State),
			PostalCode:  strings.TrimSpace(row.PostalCode),
			Stage:       strings.TrimSpace(row.Stage),
			AskingPrice: row.AskingPrice,
		})
	}

	batches, err := h.ingest.Submit(deals)
	if err != nil {
		h.respondError(c, err, "Failed to queue deals")
		return
	}

	h.logger.WithFields(logrus.Fields{
		"deals":   len(deals),
		"batches": batches,
	}).Info("Queued deals for ingestion")
	c.JSON(http.StatusAccepted, gin.H{"accepted": len(deals), "batches": batches})
}

func (h *Handler) DeleteDeal(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid deal id"})
		return
	}

	if err := h.store.DeleteDeal(c.Request.Context(), uint(id)); err != nil {
		h.respondError(c, err, "Failed to delete deal")
		return
	}
	c.Status(http.StatusNoContent)
}

// respondError maps err to a status and writes {"error": message}. The
// underlying message is returned verbatim.
func (h *Handler) respondError(c *gin.Context, err error, msg string) {
	status := statusFor(err)
	entry := h.logger.WithError(err).WithFields(logrus.Fields{
		"path":   c.FullPath(),
		"status": status,
	})
	if status >= http.StatusInternalServerError {
		entry.Error(msg)
	} else {
		entry.Warn(msg)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func statusFor(err error) int {
	var statusErr *census.StatusError
	switch {
	case errors.Is(err, database.ErrInvalidMarketName):
		return http.StatusBadRequest
	case errors.Is(err, database.ErrMarketNotFound), errors.Is(err, database.ErrDealNotFound):
		return http.StatusNotFound
	case errors.Is(err, intel.ErrCodeNotResolved):
		return http.StatusUnprocessableEntity
	case errors.Is(err, intel.ErrNoCredential):
		return http.StatusServiceUnavailable
	case errors.Is(err, queue.ErrQueueFull), errors.Is(err, queue.ErrQueueClosed):
		return http.StatusServiceUnavailable
	case errors.As(err, &statusErr), errors.Is(err, census.ErrNoData):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
