package geocoding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	DefaultEndpoint = "https://nominatim.openstreetmap.org/search"
	cacheFileName   = "postal_cache.json"
)

var ErrNoResults = errors.New("no geocoding results")

type Geocoder struct {
	logger    *logrus.Logger
	cacheDir  string
	cache     map[string][]float64
	cacheLock sync.RWMutex
	client    *http.Client
	endpoint  string

	// Minimum spacing between upstream requests
	interval    time.Duration
	requestLock sync.Mutex
	lastRequest time.Time
}

type Option func(*Geocoder)

// WithEndpoint points the geocoder at a different search endpoint.
func WithEndpoint(endpoint string) Option {
	return func(g *Geocoder) { g.endpoint = endpoint }
}

// WithInterval overrides the minimum spacing between upstream requests.
func WithInterval(interval time.Duration) Option {
	return func(g *Geocoder) { g.interval = interval }
}

func NewGeocoder(logger *logrus.Logger, cacheDir string, opts ...Option) *Geocoder {
	// Create cache directory if it doesn't exist
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		logger.WithError(err).Warn("Could not create geocode cache directory")
	}

	g := &Geocoder{
		logger:   logger,
		cacheDir: cacheDir,
		cache:    make(map[string][]float64),
		client:   &http.Client{Timeout: 10 * time.Second},
		endpoint: DefaultEndpoint,
		interval: time.Second,
	}
	for _, opt := range opts {
		opt(g)
	}

	g.loadCache()
	return g
}

func (g *Geocoder) loadCache() {
	cacheFile := filepath.Join(g.cacheDir, cacheFileName)
	data, err := os.ReadFile(cacheFile)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			g.logger.Warnf("Could not load geocode cache: %v", err)
		}
		return
	}

	if err := json.Unmarshal(data, &g.cache); err != nil {
		g.logger.Errorf("Failed to parse geocode cache: %v", err)
		return
	}

	g.logger.Infof("Loaded %d cached postal codes", len(g.cache))
}

func (g *Geocoder) saveCache() {
	g.cacheLock.RLock()
	data, err := json.Marshal(g.cache)
	g.cacheLock.RUnlock()
	if err != nil {
		g.logger.Errorf("Failed to marshal geocode cache: %v", err)
		return
	}

	cacheFile := filepath.Join(g.cacheDir, cacheFileName)
	if err := os.WriteFile(cacheFile, data, 0644); err != nil {
		g.logger.Errorf("Failed to save geocode cache: %v", err)
		return
	}

	g.logger.Debug("Saved geocode cache to disk")
}

type nominatimResponse []struct {
	Lat string `json:"lat"`
	Lon string `json:"lon"`
}

// GeocodePostalCode returns the centroid of a US postal code.
func (g *Geocoder) GeocodePostalCode(ctx context.Context, postalCode string) (float64, float64, error) {
	g.cacheLock.RLock()
	if coords, ok := g.cache[postalCode]; ok {
		g.cacheLock.RUnlock()
		if len(coords) == 2 {
			g.logger.WithFields(logrus.Fields{
				"postal_code": postalCode,
				"latitude":    coords[0],
				"longitude":   coords[1],
				"source":      "cache",
			}).Debug("Found coordinates in cache")
			return coords[0], coords[1], nil
		}
		return 0, 0, fmt.Errorf("invalid cached coordinates for %s", postalCode)
	}
	g.cacheLock.RUnlock()

	if err := g.wait(ctx); err != nil {
		return 0, 0, err
	}

	params := url.Values{
		"postalcode":   []string{postalCode},
		"countrycodes": []string{"us"},
		"format":       []string{"json"},
		"limit":        []string{"1"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.endpoint, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.URL.RawQuery = params.Encode()
	req.Header.Set("User-Agent", "DealTracker Market Intel/1.0")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	g.logger.WithField("postal_code", postalCode).Info("Geocoding postal code with Nominatim")

	resp, err := g.client.Do(req)
	if err != nil {
		g.logger.WithError(err).WithField("postal_code", postalCode).Error("Geocoding request failed")
		return 0, 0, fmt.Errorf("geocoding request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, 0, fmt.Errorf("geocoding returned status %d", resp.StatusCode)
	}

	var result nominatimResponse
	if err := json.Unmarshal(body, &result); err != nil {
		g.logger.WithError(err).WithField("postal_code", postalCode).Error("Failed to parse response")
		return 0, 0, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(result) == 0 {
		g.logger.WithField("postal_code", postalCode).Warn("No results found")
		return 0, 0, fmt.Errorf("%w for postal code %s", ErrNoResults, postalCode)
	}

	lat, err := strconv.ParseFloat(result[0].Lat, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid latitude %q: %w", result[0].Lat, err)
	}
	lon, err := strconv.ParseFloat(result[0].Lon, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid longitude %q: %w", result[0].Lon, err)
	}

	g.logger.WithFields(logrus.Fields{
		"postal_code": postalCode,
		"latitude":    lat,
		"longitude":   lon,
		"source":      "nominatim",
	}).Info("Successfully geocoded postal code")

	g.cacheLock.Lock()
	g.cache[postalCode] = []float64{lat, lon}
	g.cacheLock.Unlock()
	g.saveCache()

	return lat, lon, nil
}

// wait enforces Nominatim's one-request-per-second usage policy.
func (g *Geocoder) wait(ctx context.Context) error {
	g.requestLock.Lock()
	defer g.requestLock.Unlock()

	if delay := g.interval - time.Since(g.lastRequest); delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	g.lastRequest = time.Now()
	return nil
}
