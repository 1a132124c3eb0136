package main

import (
	"encoding/json"
	"errors"
	"io"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/placefinder/internal/expand"
	"github.com/sells-group/placefinder/internal/model"
	"github.com/sells-group/placefinder/internal/recommend"
)

var (
	recCategory   string
	recMood       int
	recBudget     string
	recSocial     string
	recTime       string
	recDistance   float64
	recLat        float64
	recLng        float64
	recMinResults int
	recProgress   bool
	recMore       int
)

// recommendOutput is what the recommend command prints to stdout.
type recommendOutput struct {
	*recommend.Recommendation
	More     []model.Candidate `json:"more,omitempty"`
	Fallback []model.Candidate `json:"fallback,omitempty"`
	Error    string            `json:"error,omitempty"`
}

// progressLine is one JSON line written to stderr per expansion event.
type progressLine struct {
	Event  string        `json:"event"`
	Step   int           `json:"step"`
	Status expand.Status `json:"status"`
	Count  int           `json:"count"`
}

var recommendCmd = &cobra.Command{
	Use:   "recommend",
	Short: "Find a place matching a mood and filter",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		filter, err := filterFromFlags()
		if err != nil {
			return err
		}

		env, err := initService(ctx, "recommend")
		if err != nil {
			return err
		}
		defer env.Close()

		var observer expand.Observer
		if recProgress {
			observer = progressWriter(cmd.ErrOrStderr())
		}

		out := recommendOutput{}
		rec, err := env.Service.RequestRecommendation(ctx, filter, recMinResults, observer)
		if err != nil {
			if !errors.Is(err, expand.ErrDiscoveryFailed) {
				return eris.Wrap(err, "recommend")
			}
			zap.L().Warn("discovery failed, using fallback list", zap.Error(err))
			out.Error = err.Error()
			out.Fallback = env.Fallback.For(filter.Category)
			return writeJSON(cmd.OutOrStdout(), out)
		}

		out.Recommendation = rec
		for range recMore {
			c, ok := env.Service.GetNextFromPool(rec.FilterKey)
			if !ok {
				break
			}
			out.More = append(out.More, c)
		}
		return writeJSON(cmd.OutOrStdout(), out)
	},
}

func filterFromFlags() (model.FilterSpec, error) {
	return model.NewFilterSpec(model.FilterSpec{
		Category:      model.Category(recCategory),
		Mood:          recMood,
		Budget:        model.Budget(recBudget),
		SocialContext: model.SocialContext(recSocial),
		TimeOfDay:     model.TimeOfDay(recTime),
		DistanceRange: recDistance,
		UserLocation:  model.LatLng{Lat: recLat, Lng: recLng},
	})
}

func progressWriter(w io.Writer) expand.Observer {
	enc := json.NewEncoder(w)
	return func(e expand.Event) {
		_ = enc.Encode(progressLine{
			Event:  expand.EventName(e),
			Step:   e.StepIndex(),
			Status: e.Status(),
			Count:  e.ResultCount(),
		})
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	f := recommendCmd.Flags()
	f.StringVar(&recCategory, "category", "food", "food, activity or something_new")
	f.IntVar(&recMood, "mood", model.NeutralMood, "mood slider 0 (chill) to 100 (hype)")
	f.StringVar(&recBudget, "budget", "", "price tier: P, PP or PPP")
	f.StringVar(&recSocial, "social", "", "solo, with_bae or barkada")
	f.StringVar(&recTime, "time", "", "morning, afternoon or night")
	f.Float64Var(&recDistance, "distance", 5, "distance slider 0 to 100")
	f.Float64Var(&recLat, "lat", 0, "latitude of the search center")
	f.Float64Var(&recLng, "lng", 0, "longitude of the search center")
	f.IntVar(&recMinResults, "min-results", 5, "minimum candidates the relaxation engine aims for")
	f.BoolVar(&recProgress, "progress", false, "write expansion events to stderr as JSON lines")
	f.IntVar(&recMore, "more", 0, "extra picks to draw from the pool after the first")
	_ = recommendCmd.MarkFlagRequired("lat")
	_ = recommendCmd.MarkFlagRequired("lng")
	rootCmd.AddCommand(recommendCmd)
}
