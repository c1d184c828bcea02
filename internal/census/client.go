package census

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

const (
	DefaultBaseURL = "https://api.census.gov/data"

	cbsaGeography = "metropolitan statistical area/micropolitan statistical area"
	userAgent     = "DealTracker Market Intel/1.0"
)

// ErrNoData is returned when the source has no rows for the requested
// year and area (HTTP 204).
var ErrNoData = errors.New("census: no data for request")

// FieldGroup selects which dataset a set of fields is requested from.
type FieldGroup string

const (
	// GroupBase holds the detailed-table estimates (B-series fields).
	GroupBase FieldGroup = "base"
	// GroupProfile holds the derived percentage profile (DP-series fields).
	GroupProfile FieldGroup = "profile"
)

func (g FieldGroup) dataset() string {
	if g == GroupProfile {
		return "acs/acs5/profile"
	}
	return "acs/acs5"
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("census: unexpected status %d: %s", e.StatusCode, e.Body)
}

// StatisticalArea is one entry of the catalog listing.
type StatisticalArea struct {
	Name string `json:"name"`
	Code string `json:"code"`
}

// Client talks to the census data API. It carries no request timeout: calls are
// bounded by the caller's context and the remote service.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *logrus.Logger
}

func NewClient(baseURL, apiKey string, logger *logrus.Logger) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{},
		logger:  logger,
	}
}

// HasCredential reports whether an API key is configured.
func (c *Client) HasCredential() bool {
	return strings.TrimSpace(c.apiKey) != ""
}

// ListStatisticalAreas returns every metropolitan/micropolitan area name and
// code published for the given reference year.
func (c *Client) ListStatisticalAreas(ctx context.Context, year int) ([]StatisticalArea, error) {
	params := url.Values{}
	params.Set("get", "NAME")
	params.Set("for", cbsaGeography+":*")

	rows, err := c.get(ctx, year, GroupBase, params)
	if err != nil {
		return nil, err
	}

	areas := make([]StatisticalArea, 0, len(rows))
	for _, row := range rows {
		name, code := row["NAME"], row[cbsaGeography]
		if name == "" || code == "" {
			continue
		}
		areas = append(areas, StatisticalArea{Name: name, Code: code})
	}

	c.logger.WithFields(logrus.Fields{
		"year":  year,
		"areas": len(areas),
	}).Debug("Loaded statistical area catalog")

	return areas, nil
}

// FetchValues returns the raw string value of each requested field for one
// statistical area and year. NAME is always included.
func (c *Client) FetchValues(ctx context.Context, year int, group FieldGroup, code string, fields []string) (map[string]string, error) {
	params := url.Values{}
	params.Set("get", strings.Join(append([]string{"NAME"}, fields...), ","))
	params.Set("for", cbsaGeography+":"+code)

	rows, err := c.get(ctx, year, group, params)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNoData
	}
	return rows[0], nil
}

// get performs the request and turns the header-row table format into one map
// per data row.
func (c *Client) get(ctx context.Context, year int, group FieldGroup, params url.Values) ([]map[string]string, error) {
	if c.HasCredential() {
		params.Set("key", c.apiKey)
	}
	endpoint := fmt.Sprintf("%s/%d/%s?%s", c.baseURL, year, group.dataset(), params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	fields := logrus.Fields{"year": year, "group": string(group)}
	c.logger.WithFields(fields).Debug("Requesting census data")

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.WithError(err).WithFields(fields).Warn("Census request failed")
		return nil, fmt.Errorf("census request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusNoContent {
		return nil, ErrNoData
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet := strings.TrimSpace(string(body))
		if len(snippet) > 200 {
			snippet = snippet[:200]
		}
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: snippet}
	}

	return parseTable(body)
}

func parseTable(body []byte) ([]map[string]string, error) {
	var table [][]interface{}
	if err := json.Unmarshal(body, &table); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(table) == 0 {
		return nil, errors.New("census: response has no header row")
	}

	header := make([]string, len(table[0]))
	for i, cell := range table[0] {
		header[i] = cellString(cell)
	}

	rows := make([]map[string]string, 0, len(table)-1)
	for _, raw := range table[1:] {
		row := make(map[string]string, len(header))
		for i, cell := range raw {
			if i < len(header) {
				row[header[i]] = cellString(cell)
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func cellString(cell interface{}) string {
	switch v := cell.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}
