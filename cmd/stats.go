// Package cmd provides CLI commands for the movierec application.
// This file implements the stats command for summarizing a ratings file.
package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nathann3/better-than-netflix-movie-recommender/core/dataset"
)

// =============================================================================
// Stats Command Flags
// =============================================================================

var (
	statsRatingsPath string
	statsJSON        bool
)

// =============================================================================
// Stats Command
// =============================================================================

// statsCmd represents the stats command.
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize a ratings file",
	Long: `Summarize a ratings file: user and item counts, density, and the
rating distribution.

Examples:
  movierec stats --ratings data/ratings.csv
  movierec stats --ratings data/ratings.csv --json`,
	RunE: runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)

	statsCmd.Flags().StringVarP(&statsRatingsPath, "ratings", "r", "data/ratings.csv", "Ratings CSV")
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "Output as JSON")
}

// statsOutput is the JSON shape of a dataset summary.
type statsOutput struct {
	Path               string  `json:"path"`
	Records            int     `json:"records"`
	Users              int     `json:"users"`
	Items              int     `json:"items"`
	Density            float64 `json:"density"`
	MeanRating         float64 `json:"mean_rating"`
	StdDevRating       float64 `json:"stddev_rating"`
	MinRating          float64 `json:"min_rating"`
	MaxRating          float64 `json:"max_rating"`
	MeanRatingsPerUser float64 `json:"mean_ratings_per_user"`
}

// runStats loads a ratings file and prints its summary.
func runStats(cmd *cobra.Command, args []string) error {
	records, err := dataset.LoadRatings(statsRatingsPath)
	if err != nil {
		return fmt.Errorf("load ratings: %w", err)
	}
	stats := dataset.Describe(records)

	out := statsOutput{
		Path:               statsRatingsPath,
		Records:            stats.Records,
		Users:              stats.Users,
		Items:              stats.Items,
		Density:            stats.Density,
		MeanRating:         stats.MeanRating,
		StdDevRating:       stats.StdDevRating,
		MinRating:          stats.MinRating,
		MaxRating:          stats.MaxRating,
		MeanRatingsPerUser: stats.MeanRatingsPerUser,
	}

	if statsJSON {
		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		return encoder.Encode(out)
	}
	outputStatsRich(cmd.OutOrStdout(), out)
	return nil
}

// outputStatsRich prints the summary with rich formatting.
func outputStatsRich(w io.Writer, out statsOutput) {
	fmt.Fprintf(w, "%s%sDataset Summary%s\n", colorBold, colorCyan, colorReset)
	fmt.Fprintf(w, "%s%s%s\n", colorGray, strings.Repeat("-", 40), colorReset)
	fmt.Fprintf(w, "%sPath:%s           %s\n", colorGray, colorReset, out.Path)
	fmt.Fprintf(w, "%sRecords:%s        %d\n", colorGray, colorReset, out.Records)
	fmt.Fprintf(w, "%sUsers:%s          %d\n", colorGray, colorReset, out.Users)
	fmt.Fprintf(w, "%sItems:%s          %d\n", colorGray, colorReset, out.Items)
	fmt.Fprintf(w, "%sDensity:%s        %.4f\n", colorGray, colorReset, out.Density)
	fmt.Fprintln(w)
	fmt.Fprintf(w, "%sMean rating:%s    %.2f (stddev %.2f)\n", colorGray, colorReset, out.MeanRating, out.StdDevRating)
	fmt.Fprintf(w, "%sRating range:%s   %.1f to %.1f\n", colorGray, colorReset, out.MinRating, out.MaxRating)
	fmt.Fprintf(w, "%sPer user:%s       %.1f ratings\n", colorGray, colorReset, out.MeanRatingsPerUser)
}
