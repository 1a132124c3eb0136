package main

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/placefinder/internal/model"
)

// fallbackPlace is one curated entry in the fallback YAML file.
type fallbackPlace struct {
	ID         string   `yaml:"id"`
	Name       string   `yaml:"name"`
	Category   string   `yaml:"category"`
	Rating     *float64 `yaml:"rating"`
	PriceLevel *int     `yaml:"price_level"`
	Mood       *float64 `yaml:"mood"`
	Tags       []string `yaml:"tags"`
	Address    string   `yaml:"address"`
}

// fallbackList holds the curated places shown when discovery fails.
type fallbackList struct {
	Places []fallbackPlace `yaml:"places"`
}

// loadFallback reads a curated place list from a YAML file.
func loadFallback(path string) (*fallbackList, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "fallback: read %s", path)
	}

	var l fallbackList
	if err := yaml.Unmarshal(data, &l); err != nil {
		return nil, eris.Wrapf(err, "fallback: parse %s", path)
	}

	for i, p := range l.Places {
		if p.ID == "" {
			return nil, eris.Errorf("fallback: place %d has no id", i)
		}
	}
	return &l, nil
}

// For returns the curated candidates for category. An empty category
// matches every place, as does a place with no category.
func (l *fallbackList) For(category model.Category) []model.Candidate {
	if l == nil {
		return nil
	}
	out := make([]model.Candidate, 0, len(l.Places))
	for _, p := range l.Places {
		if category != "" && p.Category != "" && model.Category(p.Category) != category {
			continue
		}
		c := model.Candidate{
			ID:         p.ID,
			Name:       p.Name,
			Rating:     p.Rating,
			PriceLevel: p.PriceLevel,
			Tags:       append([]string(nil), p.Tags...),
			Address:    p.Address,
			MoodScore:  model.NeutralMood,
		}
		if p.Mood != nil {
			c = c.WithMoodScore(*p.Mood)
		}
		out = append(out, c)
	}
	return out
}
