package relax

import (
	"math"
	"sort"

	"github.com/sells-group/placefinder/internal/model"
)

const (
	relevanceWeight = 0.7
	qualityWeight   = 0.3

	// softBoost is added per matching social or time preference.
	softBoost = 0.05

	// newPlaceTag marks recently opened places.
	newPlaceTag = "new"
)

// moodKeywords are tags that signal a mood bucket's atmosphere.
var moodKeywords = map[model.MoodCategory][]string{
	model.MoodChill:   {"cafe", "book_store", "library", "park", "spa", "tea_house", "cozy", "quiet"},
	model.MoodNeutral: {"restaurant", "museum", "shopping_mall", "art_gallery", "casual"},
	model.MoodHype:    {"bar", "night_club", "karaoke", "amusement_park", "bowling_alley", "live_music", "lively"},
}

var socialKeywords = map[model.SocialContext][]string{
	model.SocialSolo:    {"cafe", "book_store", "library", "museum", "solo_friendly"},
	model.SocialWithBae: {"fine_dining_restaurant", "wine_bar", "romantic", "art_gallery", "dessert_shop"},
	model.SocialBarkada: {"bar", "karaoke", "bowling_alley", "buffet_restaurant", "group_friendly"},
}

var timeKeywords = map[model.TimeOfDay][]string{
	model.TimeMorning:   {"breakfast_restaurant", "brunch_restaurant", "bakery", "cafe", "coffee_shop"},
	model.TimeAfternoon: {"park", "museum", "shopping_mall", "dessert_shop", "tea_house"},
	model.TimeNight:     {"bar", "night_club", "karaoke", "wine_bar", "live_music"},
}

// Ranker orders candidates by composite score. The zero value is ready to use.
type Ranker struct {
	// Radius is the circle the candidates were searched in, used to scale
	// the distance penalty. Zero uses the spec's initial radius.
	Radius float64
}

// Scored is a candidate with its score breakdown.
type Scored struct {
	Candidate model.Candidate
	Relevance float64
	Quality   float64
	Boost     float64
	Score     float64
}

// Rank returns a copy of candidates sorted by composite score, highest
// first. Ties keep input order.
func (r Ranker) Rank(candidates []model.Candidate, spec model.FilterSpec) []model.Candidate {
	scored := r.Score(candidates, spec)
	out := make([]model.Candidate, len(scored))
	for i, s := range scored {
		out[i] = s.Candidate
	}
	return out
}

// Score computes the breakdown for every candidate and sorts by Score.
func (r Ranker) Score(candidates []model.Candidate, spec model.FilterSpec) []Scored {
	radius := r.Radius
	if radius <= 0 {
		radius = spec.InitialRadius()
	}
	out := make([]Scored, len(candidates))
	for i, c := range candidates {
		rel := relevance(c, spec, radius)
		q := quality(c)
		b := boost(c, spec)
		out[i] = Scored{
			Candidate: c,
			Relevance: rel,
			Quality:   q,
			Boost:     b,
			Score:     relevanceWeight*rel + qualityWeight*q + b,
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	return out
}

// relevance is in [0,1]: rating, mood closeness and keyword overlap, a new
// place bonus, and a penalty for distance from the query center.
func relevance(c model.Candidate, spec model.FilterSpec, radius float64) float64 {
	rating := c.RatingValue() / 5
	closeness := 1 - math.Abs(c.MoodScore-float64(spec.Mood))/100
	overlap := tagOverlap(c, moodKeywords[model.MoodCategoryOf(float64(spec.Mood))])

	newBonus := 0.0
	if c.HasTag(newPlaceTag) {
		newBonus = 1
	}

	proximity := 0.5
	if c.Location != nil && radius > 0 {
		d := spec.UserLocation.DistanceMeters(*c.Location)
		proximity = 1 - math.Min(d/radius, 1)
	}

	return 0.30*rating + 0.25*closeness + 0.15*overlap + 0.10*newBonus + 0.20*proximity
}

// quality is in [0,1]: rating, review volume on a log scale, and data
// completeness.
func quality(c model.Candidate) float64 {
	rating := c.RatingValue() / 5
	reviews := math.Min(math.Log10(1+float64(c.ReviewCountValue()))/4, 1)

	completeness := 0.0
	if c.Address != "" {
		completeness += 0.5
	}
	if c.HasOpeningHours {
		completeness += 0.5
	}
	return 0.5*rating + 0.3*reviews + 0.2*completeness
}

func boost(c model.Candidate, spec model.FilterSpec) float64 {
	b := 0.0
	if tagOverlap(c, socialKeywords[spec.SocialContext]) > 0 {
		b += softBoost
	}
	if tagOverlap(c, timeKeywords[spec.TimeOfDay]) > 0 {
		b += softBoost
	}
	return b
}

// tagOverlap returns the fraction of keywords present on c, saturating at
// two hits.
func tagOverlap(c model.Candidate, keywords []string) float64 {
	if len(keywords) == 0 {
		return 0
	}
	hits := 0
	for _, k := range keywords {
		if c.HasTag(k) {
			hits++
		}
	}
	return math.Min(float64(hits)/2, 1)
}
