package model

// Candidate is one raw place returned by the search collaborator. The core
// never mutates a Candidate after it has been scored.
type Candidate struct {
	ID              string   `json:"id"`
	Name            string   `json:"name,omitempty"`
	Rating          *float64 `json:"rating,omitempty"`
	ReviewCount     *int     `json:"review_count,omitempty"`
	MoodScore       float64  `json:"mood_score"`
	PriceLevel      *int     `json:"price_level,omitempty"`
	Tags            []string `json:"tags,omitempty"`
	Location        *LatLng  `json:"location,omitempty"`
	Address         string   `json:"address,omitempty"`
	HasOpeningHours bool     `json:"has_opening_hours,omitempty"`
}

// RatingValue returns the rating or 0 when unknown.
func (c Candidate) RatingValue() float64 {
	if c.Rating == nil {
		return 0
	}
	return *c.Rating
}

// ReviewCountValue returns the review count or 0 when unknown.
func (c Candidate) ReviewCountValue() int {
	if c.ReviewCount == nil {
		return 0
	}
	return *c.ReviewCount
}

// HasTag reports whether the candidate carries tag.
func (c Candidate) HasTag(tag string) bool {
	for _, t := range c.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// WithMoodScore returns a copy of c with MoodScore set.
func (c Candidate) WithMoodScore(score float64) Candidate {
	c.MoodScore = clamp(score, 0, 100)
	return c
}

// MoodCategory buckets a 0-100 mood value.
type MoodCategory string

const (
	MoodChill   MoodCategory = "chill"
	MoodNeutral MoodCategory = "neutral"
	MoodHype    MoodCategory = "hype"
)

// MoodCategoryOf maps a mood value to chill (<31), neutral (31-69) or hype (>=70).
func MoodCategoryOf(mood float64) MoodCategory {
	switch {
	case mood < 31:
		return MoodChill
	case mood >= 70:
		return MoodHype
	default:
		return MoodNeutral
	}
}

// DedupByID returns candidates with later duplicates of an id dropped,
// preserving first-seen order.
func DedupByID(candidates []Candidate) []Candidate {
	seen := make(map[string]struct{}, len(candidates))
	out := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if _, ok := seen[c.ID]; ok {
			continue
		}
		seen[c.ID] = struct{}{}
		out = append(out, c)
	}
	return out
}

// Float returns a pointer to v. Handy for literal Candidates.
func Float(v float64) *float64 { return &v }

// Int returns a pointer to v.
func Int(v int) *int { return &v }

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
