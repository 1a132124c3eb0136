package mood

import (
	"context"
	"strings"

	"github.com/sells-group/placefinder/internal/model"
)

// tagWeights shift the neutral score for each matching tag or name word.
var tagWeights = map[string]float64{
	"bar":                  25,
	"night_club":           35,
	"karaoke":              30,
	"bowling_alley":        20,
	"amusement_park":       30,
	"sports_bar":           25,
	"live_music":           25,
	"fast_food_restaurant": 10,
	"tourist_attraction":   10,
	"movie_theater":        5,
	"cafe":                 -15,
	"coffee_shop":          -15,
	"tea_house":            -20,
	"book_store":           -25,
	"library":              -30,
	"museum":               -20,
	"art_gallery":          -20,
	"park":                 -15,
	"spa":                  -35,
	"bakery":               -10,
	"dessert_shop":         -5,
}

// KeywordScorer derives a mood from place types and name words. It never
// fails and needs no network.
type KeywordScorer struct {
	weights map[string]float64
}

// NewKeywordScorer returns a scorer using the built-in tag weights.
func NewKeywordScorer() *KeywordScorer {
	return &KeywordScorer{weights: tagWeights}
}

var _ Scorer = (*KeywordScorer)(nil)

// Score starts at the neutral mood, adds the weight of every matching tag
// and name word once, and clamps to 0..100.
func (k *KeywordScorer) Score(_ context.Context, c model.Candidate) (float64, error) {
	seen := make(map[string]struct{})
	score := float64(model.NeutralMood)

	add := func(word string) {
		word = strings.ToLower(word)
		if _, ok := seen[word]; ok {
			return
		}
		if w, ok := k.weights[word]; ok {
			seen[word] = struct{}{}
			score += w
		}
	}
	for _, t := range c.Tags {
		add(t)
	}
	for _, w := range strings.Fields(c.Name) {
		add(strings.Trim(w, ".,!&'\""))
	}

	return min(max(score, 0), 100), nil
}
