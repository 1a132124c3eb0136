// Package search adapts the Google Places client to the expansion
// controller's Searcher contract.
package search

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"

	"github.com/sells-group/placefinder/internal/expand"
	"github.com/sells-group/placefinder/internal/model"
	"github.com/sells-group/placefinder/internal/resilience"
	"github.com/sells-group/placefinder/pkg/google"
)

// maxRadiusMeters is the largest circle the Places API accepts.
const maxRadiusMeters = 50000

// newPlacesQuery is the text query used for the something_new category.
const newPlacesQuery = "newly opened restaurants cafes and activities"

var categoryTypes = map[model.Category][]string{
	model.CategoryFood: {
		"restaurant", "cafe", "coffee_shop", "bakery", "dessert_shop",
		"fast_food_restaurant", "ramen_restaurant", "filipino_restaurant",
	},
	model.CategoryActivity: {
		"amusement_park", "bowling_alley", "museum", "park", "art_gallery",
		"movie_theater", "karaoke", "tourist_attraction",
	},
	model.CategorySomethingNew: {
		"restaurant", "cafe", "bar", "art_gallery", "tourist_attraction",
	},
}

// CategoryTypes returns the Places types searched for a category.
func CategoryTypes(c model.Category) []string {
	return append([]string(nil), categoryTypes[c]...)
}

// PriceBoundsFor returns the price range to pre-filter search results for a
// budget. The range reaches one tier above the budget so the relaxation
// engine can still widen it. Nil means no budget.
func PriceBoundsFor(b model.Budget) *expand.PriceBounds {
	lo, _, ok := b.PriceRange()
	if !ok {
		return nil
	}
	_, hi, _ := b.Next().PriceRange()
	return &expand.PriceBounds{Min: lo, Max: hi}
}

// Places implements expand.Searcher on top of the Places API.
type Places struct {
	client google.Client
}

// NewPlaces creates a Places searcher.
func NewPlaces(client google.Client) *Places {
	return &Places{client: client}
}

var _ expand.Searcher = (*Places)(nil)

// Search runs a nearby search restricted to the request circle. Requests for
// the something_new type set use text search for new openings instead and
// tag each result "new". Transient HTTP failures are wrapped as
// resilience.TransientError.
func (p *Places) Search(ctx context.Context, req expand.SearchRequest) ([]model.Candidate, error) {
	radius := req.RadiusMeters
	if radius > maxRadiusMeters {
		radius = maxRadiusMeters
	}
	area := google.LocationArea{Circle: google.Circle{
		Center: google.LatLng{Latitude: req.Center.Lat, Longitude: req.Center.Lng},
		Radius: radius,
	}}

	var (
		resp     *google.SearchResponse
		err      error
		markNew  bool
		endpoint string
	)
	if isSomethingNew(req.CategoryTypes) {
		endpoint = "text search"
		markNew = true
		resp, err = p.client.TextSearch(ctx, google.TextSearchRequest{
			TextQuery:    newPlacesQuery,
			PriceLevels:  priceLevels(req.PriceBounds),
			LocationBias: &area,
		})
	} else {
		endpoint = "nearby search"
		resp, err = p.client.SearchNearby(ctx, google.NearbySearchRequest{
			IncludedTypes:       req.CategoryTypes,
			RankPreference:      "POPULARITY",
			LocationRestriction: area,
		})
	}
	if err != nil {
		return nil, classify(err, endpoint)
	}

	out := make([]model.Candidate, 0, len(resp.Places))
	for _, pl := range resp.Places {
		if pl.ID == "" {
			continue
		}
		c := toCandidate(pl)
		if !withinBounds(c, req.PriceBounds) {
			continue
		}
		if markNew {
			c.Tags = append(c.Tags, "new")
		}
		out = append(out, c)
	}
	return out, nil
}

func isSomethingNew(types []string) bool {
	want := categoryTypes[model.CategorySomethingNew]
	if len(types) != len(want) {
		return false
	}
	for i := range types {
		if types[i] != want[i] {
			return false
		}
	}
	return true
}

func classify(err error, endpoint string) error {
	var apiErr *google.APIError
	if errors.As(err, &apiErr) && resilience.IsTransientStatus(apiErr.StatusCode) {
		return eris.Wrapf(resilience.NewTransientError(err, apiErr.StatusCode), "search: places %s", endpoint)
	}
	return eris.Wrapf(err, "search: places %s", endpoint)
}

func toCandidate(p google.Place) model.Candidate {
	c := model.Candidate{
		ID:              p.ID,
		Name:            p.DisplayName.Text,
		Rating:          p.Rating,
		ReviewCount:     p.UserRatingCount,
		Tags:            append([]string(nil), p.Types...),
		Address:         p.FormattedAddress,
		HasOpeningHours: p.RegularOpeningHours != nil,
	}
	if level, ok := p.PriceLevel.Int(); ok {
		c.PriceLevel = model.Int(level)
	}
	if p.Location != nil {
		c.Location = &model.LatLng{Lat: p.Location.Latitude, Lng: p.Location.Longitude}
	}
	return c
}

// withinBounds keeps unknown prices; the relaxation engine decides on them.
func withinBounds(c model.Candidate, b *expand.PriceBounds) bool {
	if b == nil || c.PriceLevel == nil {
		return true
	}
	return *c.PriceLevel >= b.Min && *c.PriceLevel <= b.Max
}

func priceLevels(b *expand.PriceBounds) []google.PriceLevel {
	if b == nil {
		return nil
	}
	var out []google.PriceLevel
	for i := b.Min; i <= b.Max; i++ {
		if i == 0 {
			// Text search rejects PRICE_LEVEL_FREE as a filter value.
			continue
		}
		out = append(out, google.PriceLevelFromInt(i))
	}
	return out
}
