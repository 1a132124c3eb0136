package model

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"math"

	"github.com/rotisserie/eris"
)

// ErrInvalidFilter is returned when a FilterSpec fails validation.
var ErrInvalidFilter = eris.New("invalid filter spec")

// Category is the kind of place the user is looking for.
type Category string

const (
	CategoryFood         Category = "food"
	CategoryActivity     Category = "activity"
	CategorySomethingNew Category = "something_new"
)

// Budget is the peso-sign price tier requested by the user.
type Budget string

const (
	BudgetNone Budget = ""
	BudgetLow  Budget = "P"
	BudgetMid  Budget = "PP"
	BudgetHigh Budget = "PPP"
)

// SocialContext describes who the user is going out with.
type SocialContext string

const (
	SocialNone    SocialContext = ""
	SocialSolo    SocialContext = "solo"
	SocialWithBae SocialContext = "with_bae"
	SocialBarkada SocialContext = "barkada"
)

// TimeOfDay is the part of the day the outing is planned for.
type TimeOfDay string

const (
	TimeNone      TimeOfDay = ""
	TimeMorning   TimeOfDay = "morning"
	TimeAfternoon TimeOfDay = "afternoon"
	TimeNight     TimeOfDay = "night"
)

// NeutralMood is the slider default; a mood at this value does not count
// toward filter complexity.
const NeutralMood = 50

// LatLng is a WGS84 coordinate.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether the coordinate is within WGS84 bounds.
func (l LatLng) Valid() bool {
	return l.Lat >= -90 && l.Lat <= 90 && l.Lng >= -180 && l.Lng <= 180
}

// earthRadiusMeters is the mean Earth radius used for great-circle distances.
const earthRadiusMeters = 6371008.8

// DistanceMeters returns the haversine distance between l and o.
func (l LatLng) DistanceMeters(o LatLng) float64 {
	lat1, lat2 := l.Lat*math.Pi/180, o.Lat*math.Pi/180
	dLat := lat2 - lat1
	dLng := (o.Lng - l.Lng) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(a)))
}

// FilterSpec is a user's discovery query. It is a value type: copies are
// independent and none of the methods mutate it.
type FilterSpec struct {
	Category      Category      `json:"category"`
	Mood          int           `json:"mood"`
	Budget        Budget        `json:"budget,omitempty"`
	SocialContext SocialContext `json:"social_context,omitempty"`
	TimeOfDay     TimeOfDay     `json:"time_of_day,omitempty"`
	DistanceRange float64       `json:"distance_range"`
	UserLocation  LatLng        `json:"user_location"`
}

// NewFilterSpec validates spec and returns it, or an error wrapping
// ErrInvalidFilter.
func NewFilterSpec(spec FilterSpec) (FilterSpec, error) {
	if err := spec.Validate(); err != nil {
		return FilterSpec{}, err
	}
	return spec, nil
}

// Validate checks every field of the spec.
func (f FilterSpec) Validate() error {
	switch f.Category {
	case CategoryFood, CategoryActivity, CategorySomethingNew:
	case "":
		return eris.Wrap(ErrInvalidFilter, "category is required")
	default:
		return eris.Wrapf(ErrInvalidFilter, "unknown category %q", f.Category)
	}
	if f.Mood < 0 || f.Mood > 100 {
		return eris.Wrapf(ErrInvalidFilter, "mood %d outside 0..100", f.Mood)
	}
	switch f.Budget {
	case BudgetNone, BudgetLow, BudgetMid, BudgetHigh:
	default:
		return eris.Wrapf(ErrInvalidFilter, "unknown budget %q", f.Budget)
	}
	switch f.SocialContext {
	case SocialNone, SocialSolo, SocialWithBae, SocialBarkada:
	default:
		return eris.Wrapf(ErrInvalidFilter, "unknown social context %q", f.SocialContext)
	}
	switch f.TimeOfDay {
	case TimeNone, TimeMorning, TimeAfternoon, TimeNight:
	default:
		return eris.Wrapf(ErrInvalidFilter, "unknown time of day %q", f.TimeOfDay)
	}
	if math.IsNaN(f.DistanceRange) || f.DistanceRange < 0 || f.DistanceRange > 100 {
		return eris.Wrapf(ErrInvalidFilter, "distance range %v outside 0..100", f.DistanceRange)
	}
	if !f.UserLocation.Valid() {
		return eris.Wrapf(ErrInvalidFilter, "user location %v out of bounds", f.UserLocation)
	}
	return nil
}

// canonicalFilter fixes field order and coordinate precision for hashing.
type canonicalFilter struct {
	Category      string  `json:"c"`
	Mood          int     `json:"m"`
	Budget        string  `json:"b"`
	SocialContext string  `json:"s"`
	TimeOfDay     string  `json:"t"`
	DistanceRange float64 `json:"d"`
	Lat           float64 `json:"lat"`
	Lng           float64 `json:"lng"`
}

// Key returns a deterministic SHA-256 hex digest of the spec. Coordinates are
// rounded to 4 decimals (~11 m) so jittery GPS fixes share a key.
func (f FilterSpec) Key() string {
	raw, _ := json.Marshal(canonicalFilter{
		Category:      string(f.Category),
		Mood:          f.Mood,
		Budget:        string(f.Budget),
		SocialContext: string(f.SocialContext),
		TimeOfDay:     string(f.TimeOfDay),
		DistanceRange: f.DistanceRange,
		Lat:           round4(f.UserLocation.Lat),
		Lng:           round4(f.UserLocation.Lng),
	})
	sum := sha256.Sum256(raw)
	return fmt.Sprintf("%x", sum)
}

// Complexity counts the non-null filter fields: category, a non-neutral
// mood, budget, social context and time of day.
func (f FilterSpec) Complexity() int {
	n := 0
	if f.Category != "" {
		n++
	}
	if f.Mood != NeutralMood {
		n++
	}
	if f.Budget != BudgetNone {
		n++
	}
	if f.SocialContext != SocialNone {
		n++
	}
	if f.TimeOfDay != TimeNone {
		n++
	}
	return n
}

// PriceRange returns the inclusive Places price-level bounds for the budget
// tier. ok is false when no budget is set.
func (b Budget) PriceRange() (lo, hi int, ok bool) {
	switch b {
	case BudgetLow:
		return 0, 1, true
	case BudgetMid:
		return 1, 2, true
	case BudgetHigh:
		return 2, 4, true
	default:
		return 0, 4, false
	}
}

// Next returns the tier one step above b. BudgetHigh is its own next tier.
func (b Budget) Next() Budget {
	switch b {
	case BudgetLow:
		return BudgetMid
	case BudgetMid, BudgetHigh:
		return BudgetHigh
	default:
		return BudgetNone
	}
}

// radiusSteps maps the distance slider to a starting search radius.
var radiusSteps = []struct {
	upTo   float64
	meters float64
}{
	{1, 500},
	{2, 1000},
	{4, 2000},
	{6, 5000},
	{10, 10000},
	{15, 15000},
	{20, 20000},
	{23, 50000},
}

// maxStepRadius is used for slider values past the last step.
const maxStepRadius = 100000

// InitialRadius returns the starting search radius in meters for the
// spec's distance range.
func (f FilterSpec) InitialRadius() float64 {
	return RadiusForRange(f.DistanceRange)
}

// RadiusForRange looks up the step table for a distance slider value.
func RadiusForRange(distanceRange float64) float64 {
	for _, s := range radiusSteps {
		if distanceRange <= s.upTo {
			return s.meters
		}
	}
	return maxStepRadius
}

// NextStepRadius returns the first table radius strictly above meters, or
// meters itself when it is already at or past the last step.
func NextStepRadius(meters float64) float64 {
	for _, s := range radiusSteps {
		if s.meters > meters {
			return s.meters
		}
	}
	if meters < maxStepRadius {
		return maxStepRadius
	}
	return meters
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}
