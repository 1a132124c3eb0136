package google

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
)

const defaultBaseURL = "https://places.googleapis.com/v1"

// placeFields is the field mask shared by nearby and text search.
const placeFields = "places.id,places.displayName,places.rating,places.userRatingCount," +
	"places.priceLevel,places.types,places.location,places.formattedAddress,places.regularOpeningHours"

// maxResultCount is the per-request ceiling imposed by the Places API.
const maxResultCount = 20

// Client performs Google Places API (New) operations.
type Client interface {
	SearchNearby(ctx context.Context, req NearbySearchRequest) (*SearchResponse, error)
	TextSearch(ctx context.Context, req TextSearchRequest) (*SearchResponse, error)
}

// LatLng is a Places API coordinate.
type LatLng struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Circle is a center and radius in meters.
type Circle struct {
	Center LatLng  `json:"center"`
	Radius float64 `json:"radius"`
}

// LocationArea restricts or biases a search to a circle.
type LocationArea struct {
	Circle Circle `json:"circle"`
}

// NearbySearchRequest is the body of places:searchNearby.
type NearbySearchRequest struct {
	IncludedTypes       []string     `json:"includedTypes,omitempty"`
	MaxResultCount      int          `json:"maxResultCount,omitempty"`
	RankPreference      string       `json:"rankPreference,omitempty"`
	LocationRestriction LocationArea `json:"locationRestriction"`
}

// TextSearchRequest is the body of places:searchText.
type TextSearchRequest struct {
	TextQuery      string        `json:"textQuery"`
	IncludedType   string        `json:"includedType,omitempty"`
	PriceLevels    []PriceLevel  `json:"priceLevels,omitempty"`
	MaxResultCount int           `json:"pageSize,omitempty"`
	LocationBias   *LocationArea `json:"locationBias,omitempty"`
}

// SearchResponse is the response of both search endpoints.
type SearchResponse struct {
	Places []Place `json:"places"`
}

// Place is a place returned by the API. Optional fields are nil when Google
// has no data.
type Place struct {
	ID                  string        `json:"id"`
	DisplayName         DisplayName   `json:"displayName"`
	Rating              *float64      `json:"rating,omitempty"`
	UserRatingCount     *int          `json:"userRatingCount,omitempty"`
	PriceLevel          PriceLevel    `json:"priceLevel,omitempty"`
	Types               []string      `json:"types,omitempty"`
	Location            *LatLng       `json:"location,omitempty"`
	FormattedAddress    string        `json:"formattedAddress,omitempty"`
	RegularOpeningHours *OpeningHours `json:"regularOpeningHours,omitempty"`
}

// DisplayName holds the place's display name.
type DisplayName struct {
	Text string `json:"text"`
}

// OpeningHours is the subset of regularOpeningHours the client keeps.
type OpeningHours struct {
	OpenNow             *bool    `json:"openNow,omitempty"`
	WeekdayDescriptions []string `json:"weekdayDescriptions,omitempty"`
}

// PriceLevel is the Places price enum.
type PriceLevel string

const (
	PriceLevelUnspecified   PriceLevel = "PRICE_LEVEL_UNSPECIFIED"
	PriceLevelFree          PriceLevel = "PRICE_LEVEL_FREE"
	PriceLevelInexpensive   PriceLevel = "PRICE_LEVEL_INEXPENSIVE"
	PriceLevelModerate      PriceLevel = "PRICE_LEVEL_MODERATE"
	PriceLevelExpensive     PriceLevel = "PRICE_LEVEL_EXPENSIVE"
	PriceLevelVeryExpensive PriceLevel = "PRICE_LEVEL_VERY_EXPENSIVE"
)

var priceLevelOrder = []PriceLevel{
	PriceLevelFree,
	PriceLevelInexpensive,
	PriceLevelModerate,
	PriceLevelExpensive,
	PriceLevelVeryExpensive,
}

// Int maps the enum to 0..4. ok is false for unspecified or unknown values.
func (p PriceLevel) Int() (level int, ok bool) {
	for i, v := range priceLevelOrder {
		if v == p {
			return i, true
		}
	}
	return 0, false
}

// PriceLevelFromInt maps 0..4 back to the enum.
func PriceLevelFromInt(level int) PriceLevel {
	if level < 0 || level >= len(priceLevelOrder) {
		return PriceLevelUnspecified
	}
	return priceLevelOrder[level]
}

// APIError is a non-200 response.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("google: unexpected status %d: %s", e.StatusCode, e.Body)
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient creates a Google Places API client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) SearchNearby(ctx context.Context, req NearbySearchRequest) (*SearchResponse, error) {
	if req.MaxResultCount <= 0 || req.MaxResultCount > maxResultCount {
		req.MaxResultCount = maxResultCount
	}
	return c.post(ctx, "/places:searchNearby", req)
}

func (c *httpClient) TextSearch(ctx context.Context, req TextSearchRequest) (*SearchResponse, error) {
	if req.TextQuery == "" {
		return nil, eris.New("google: text query is required")
	}
	if req.MaxResultCount > maxResultCount {
		req.MaxResultCount = maxResultCount
	}
	return c.post(ctx, "/places:searchText", req)
}

func (c *httpClient) post(ctx context.Context, path string, payload any) (*SearchResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, eris.Wrap(err, "google: marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "google: create request")
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Goog-Api-Key", c.apiKey)
	req.Header.Set("X-Goog-FieldMask", placeFields)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "google: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "google: read response")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var result SearchResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, eris.Wrap(err, "google: unmarshal response")
	}

	return &result, nil
}
