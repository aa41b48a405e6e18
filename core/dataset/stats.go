package dataset

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/nathann3/better-than-netflix-movie-recommender/core/affinity"
)

// Stats summarizes an interaction set before modeling.
type Stats struct {
	Records int
	Users   int
	Items   int

	// Density is interactions over the user×item grid.
	Density float64

	MeanRating   float64
	StdDevRating float64
	MinRating    float64
	MaxRating    float64

	MeanRatingsPerUser float64
}

// Describe computes summary statistics over the records. An empty set
// yields the zero value.
func Describe(records []affinity.Record) Stats {
	if len(records) == 0 {
		return Stats{}
	}

	ratings := make([]float64, len(records))
	userCounts := make(map[string]float64)
	items := make(map[string]struct{})
	for i, r := range records {
		ratings[i] = r.Rating
		userCounts[r.UserID]++
		items[r.ItemID] = struct{}{}
	}

	perUser := make([]float64, 0, len(userCounts))
	for _, c := range userCounts {
		perUser = append(perUser, c)
	}

	s := Stats{
		Records:            len(records),
		Users:              len(userCounts),
		Items:              len(items),
		MeanRating:         stat.Mean(ratings, nil),
		MinRating:          floats.Min(ratings),
		MaxRating:          floats.Max(ratings),
		MeanRatingsPerUser: stat.Mean(perUser, nil),
	}
	if len(ratings) > 1 {
		s.StdDevRating = stat.StdDev(ratings, nil)
	}
	s.Density = float64(s.Records) / (float64(s.Users) * float64(s.Items))
	return s
}
