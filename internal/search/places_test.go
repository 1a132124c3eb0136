package search

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/placefinder/internal/expand"
	"github.com/sells-group/placefinder/internal/model"
	"github.com/sells-group/placefinder/internal/resilience"
	"github.com/sells-group/placefinder/pkg/google"
	"github.com/sells-group/placefinder/pkg/google/mocks"
)

var center = model.LatLng{Lat: 14.5547, Lng: 121.0244}

func rating(v float64) *float64 { return &v }
func count(v int) *int           { return &v }

func TestSearch_NearbyMapsPlaces(t *testing.T) {
	client := mocks.NewMockClient(t)
	client.On("SearchNearby", mock.Anything, mock.MatchedBy(func(req google.NearbySearchRequest) bool {
		c := req.LocationRestriction.Circle
		return c.Radius == 750 && c.Center.Latitude == center.Lat && c.Center.Longitude == center.Lng &&
			len(req.IncludedTypes) == len(categoryTypes[model.CategoryFood])
	})).Return(&google.SearchResponse{Places: []google.Place{
		{
			ID:                  "a",
			DisplayName:         google.DisplayName{Text: "Alpha"},
			Rating:              rating(4.4),
			UserRatingCount:     count(120),
			PriceLevel:          google.PriceLevelModerate,
			Types:               []string{"restaurant"},
			Location:            &google.LatLng{Latitude: 14.55, Longitude: 121.02},
			FormattedAddress:    "Poblacion",
			RegularOpeningHours: &google.OpeningHours{},
		},
		{ID: "b", DisplayName: google.DisplayName{Text: "Beta"}},
		{DisplayName: google.DisplayName{Text: "no id"}},
	}}, nil)

	p := NewPlaces(client)
	got, err := p.Search(context.Background(), expand.SearchRequest{
		Center:        center,
		RadiusMeters:  750,
		CategoryTypes: CategoryTypes(model.CategoryFood),
	})
	require.NoError(t, err)
	require.Len(t, got, 2)

	a := got[0]
	assert.Equal(t, "a", a.ID)
	assert.Equal(t, "Alpha", a.Name)
	assert.InDelta(t, 4.4, a.RatingValue(), 1e-9)
	assert.Equal(t, 120, a.ReviewCountValue())
	require.NotNil(t, a.PriceLevel)
	assert.Equal(t, 2, *a.PriceLevel)
	assert.True(t, a.HasTag("restaurant"))
	assert.True(t, a.HasOpeningHours)
	assert.Equal(t, "Poblacion", a.Address)
	require.NotNil(t, a.Location)

	b := got[1]
	assert.Nil(t, b.Rating)
	assert.Nil(t, b.PriceLevel)
	assert.False(t, b.HasOpeningHours)
}

func TestSearch_PriceBoundsFilterKeepsUnknown(t *testing.T) {
	client := mocks.NewMockClient(t)
	client.On("SearchNearby", mock.Anything, mock.Anything).Return(&google.SearchResponse{Places: []google.Place{
		{ID: "cheap", PriceLevel: google.PriceLevelInexpensive},
		{ID: "pricey", PriceLevel: google.PriceLevelVeryExpensive},
		{ID: "unknown"},
	}}, nil)

	got, err := NewPlaces(client).Search(context.Background(), expand.SearchRequest{
		Center:        center,
		RadiusMeters:  500,
		CategoryTypes: CategoryTypes(model.CategoryFood),
		PriceBounds:   PriceBoundsFor(model.BudgetLow),
	})
	require.NoError(t, err)
	var ids []string
	for _, c := range got {
		ids = append(ids, c.ID)
	}
	assert.Equal(t, []string{"cheap", "unknown"}, ids)
}

func TestSearch_SomethingNewUsesTextSearch(t *testing.T) {
	client := mocks.NewMockClient(t)
	client.On("TextSearch", mock.Anything, mock.MatchedBy(func(req google.TextSearchRequest) bool {
		return req.TextQuery == newPlacesQuery && req.LocationBias != nil &&
			req.LocationBias.Circle.Radius == maxRadiusMeters &&
			assert.ObjectsAreEqual([]google.PriceLevel{google.PriceLevelInexpensive, google.PriceLevelModerate}, req.PriceLevels)
	})).Return(&google.SearchResponse{Places: []google.Place{{ID: "n1", Types: []string{"cafe"}}}}, nil)

	got, err := NewPlaces(client).Search(context.Background(), expand.SearchRequest{
		Center:        center,
		RadiusMeters:  80000,
		CategoryTypes: CategoryTypes(model.CategorySomethingNew),
		PriceBounds:   PriceBoundsFor(model.BudgetLow),
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].HasTag("new"))
	assert.True(t, got[0].HasTag("cafe"))
}

func TestSearch_TransientStatusWrapped(t *testing.T) {
	client := mocks.NewMockClient(t)
	client.On("SearchNearby", mock.Anything, mock.Anything).
		Return(nil, &google.APIError{StatusCode: http.StatusServiceUnavailable, Body: "busy"}).Once()
	client.On("SearchNearby", mock.Anything, mock.Anything).
		Return(nil, &google.APIError{StatusCode: http.StatusForbidden, Body: "bad key"}).Once()

	p := NewPlaces(client)
	req := expand.SearchRequest{Center: center, RadiusMeters: 500, CategoryTypes: CategoryTypes(model.CategoryActivity)}

	_, err := p.Search(context.Background(), req)
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))

	_, err = p.Search(context.Background(), req)
	require.Error(t, err)
	assert.False(t, resilience.IsTransient(err))
	var apiErr *google.APIError
	assert.True(t, errors.As(err, &apiErr))
}

func TestPriceBoundsFor(t *testing.T) {
	assert.Nil(t, PriceBoundsFor(model.BudgetNone))
	assert.Equal(t, &expand.PriceBounds{Min: 0, Max: 2}, PriceBoundsFor(model.BudgetLow))
	assert.Equal(t, &expand.PriceBounds{Min: 1, Max: 4}, PriceBoundsFor(model.BudgetMid))
	assert.Equal(t, &expand.PriceBounds{Min: 2, Max: 4}, PriceBoundsFor(model.BudgetHigh))
}

func TestCategoryTypes_ReturnsCopy(t *testing.T) {
	types := CategoryTypes(model.CategoryFood)
	types[0] = "mutated"
	assert.Equal(t, "restaurant", CategoryTypes(model.CategoryFood)[0])
	assert.Empty(t, CategoryTypes("unknown"))
}
