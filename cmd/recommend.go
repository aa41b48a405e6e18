// Package cmd provides CLI commands for the movierec application.
// This file implements the recommend command for serving ranked lists.
package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/mat"

	"github.com/nathann3/better-than-netflix-movie-recommender/core/affinity"
	"github.com/nathann3/better-than-netflix-movie-recommender/core/catalog"
	"github.com/nathann3/better-than-netflix-movie-recommender/core/dataset"
	"github.com/nathann3/better-than-netflix-movie-recommender/core/pipeline"
	"github.com/nathann3/better-than-netflix-movie-recommender/core/ranking"
	"github.com/nathann3/better-than-netflix-movie-recommender/core/store"
	"github.com/nathann3/better-than-netflix-movie-recommender/core/vae"
)

// =============================================================================
// Recommend Command Flags
// =============================================================================

var (
	recommendRunID       string
	recommendDBPath      string
	recommendMoviesPath  string
	recommendWeightsPath string
	recommendRatingsPath string
	recommendGenres      []string
	recommendTopK        int
	recommendAll         bool
	recommendIncludeSeen bool
	recommendJSON        bool
)

// =============================================================================
// Recommend Command
// =============================================================================

// recommendCmd represents the recommend command.
var recommendCmd = &cobra.Command{
	Use:   "recommend [user-id...]",
	Short: "Show ranked recommendations for users",
	Long: `Show ranked recommendation lists for one or more users.

By default lists come from the experiment store; without --run the
latest recorded run is used. With --weights a saved model is loaded
instead and lists are scored live from the ratings file. With --movies,
item ids resolve to titles, and --genre restricts the lists to movies
whose genres match a glob pattern.

Examples:
  movierec recommend 42
  movierec recommend 42 311 --run 3f2c9a1e
  movierec recommend --all --movies data/movies.csv
  movierec recommend 42 --movies data/movies.csv --genre 'sci-fi*'
  movierec recommend 42 --weights model.bin --ratings data/ratings.csv
  movierec recommend 42 --json | jq '.[].item_id'`,
	Args: cobra.ArbitraryArgs,
	RunE: runRecommend,
}

func init() {
	rootCmd.AddCommand(recommendCmd)

	recommendCmd.Flags().StringVar(&recommendRunID, "run", "", "Run id (default: latest run)")
	recommendCmd.Flags().StringVar(&recommendDBPath, "db", defaultDBPath(), "Experiment store path")
	recommendCmd.Flags().StringVarP(&recommendMoviesPath, "movies", "m", "", "Movie catalog CSV for titles")
	recommendCmd.Flags().StringVarP(&recommendWeightsPath, "weights", "w", "", "Saved model weights (enables live scoring)")
	recommendCmd.Flags().StringVarP(&recommendRatingsPath, "ratings", "r", "data/ratings.csv", "Ratings CSV for live scoring")
	recommendCmd.Flags().StringArrayVarP(&recommendGenres, "genre", "g", nil, "Genre glob filter (repeatable)")
	recommendCmd.Flags().IntVarP(&recommendTopK, "top-k", "k", vae.DefaultTopKEval, "List size for live scoring")
	recommendCmd.Flags().BoolVar(&recommendAll, "all", false, "Recommend for every known user")
	recommendCmd.Flags().BoolVar(&recommendIncludeSeen, "include-seen", false, "Keep items the user already rated (live scoring)")
	recommendCmd.Flags().BoolVar(&recommendJSON, "json", false, "Output as JSON")
}

// recommendOutput is one JSON row of a recommendation list.
type recommendOutput struct {
	UserID string  `json:"user_id"`
	Rank   int     `json:"rank"`
	ItemID string  `json:"item_id"`
	Title  string  `json:"title,omitempty"`
	Genres string  `json:"genres,omitempty"`
	Score  float64 `json:"score"`
}

// runRecommend prints recommendation lists from the store or a saved model.
func runRecommend(cmd *cobra.Command, args []string) error {
	if len(args) == 0 && !recommendAll {
		return fmt.Errorf("provide at least one user id or --all")
	}
	if len(args) > 0 && recommendAll {
		return fmt.Errorf("--all cannot be combined with user ids")
	}

	cat := openCatalog(recommendMoviesPath)
	if cat != nil {
		defer cat.Close()
	}
	genreIDs, err := matchedGenreIDs(cat, recommendGenres)
	if err != nil {
		return err
	}

	var recs []ranking.RankedItem
	var source string
	if recommendWeightsPath != "" {
		recs, err = liveRecommendations(args, cat)
		source = "weights " + recommendWeightsPath
	} else {
		recs, source, err = storedRecommendations(args)
	}
	if err != nil {
		return err
	}

	recs = filterByGenre(recs, genreIDs)
	if len(recs) == 0 {
		return fmt.Errorf("no recommendations match")
	}
	rows := resolveTitles(recs, cat)

	if recommendJSON {
		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		return encoder.Encode(rows)
	}
	outputRecommendRich(cmd.OutOrStdout(), source, rows)
	return nil
}

// =============================================================================
// Stored Lists
// =============================================================================

// storedRecommendations reads lists for the requested users from the
// experiment store, resolving the run id to the latest run when unset.
func storedRecommendations(requested []string) ([]ranking.RankedItem, string, error) {
	st, err := store.Open(store.Config{DBPath: recommendDBPath})
	if err != nil {
		return nil, "", err
	}
	defer st.Close()

	runID := recommendRunID
	if runID == "" {
		runs, err := st.Runs()
		if err != nil {
			return nil, "", err
		}
		if len(runs) == 0 {
			return nil, "", fmt.Errorf("no runs recorded; run 'movierec train' first")
		}
		runID = runs[0].ID
	}

	if recommendAll {
		requested, err = st.RecommendationUsers(runID)
		if err != nil {
			return nil, "", err
		}
		if len(requested) == 0 {
			return nil, "", fmt.Errorf("no recommendations stored for run %s", runID)
		}
	}

	var recs []ranking.RankedItem
	for _, userID := range requested {
		userRecs, err := st.Recommendations(runID, userID)
		if err != nil {
			return nil, "", err
		}
		if len(userRecs) == 0 {
			return nil, "", fmt.Errorf("no recommendations for user %s in run %s", userID, runID)
		}
		recs = append(recs, userRecs...)
	}
	return recs, "run " + runID, nil
}

// =============================================================================
// Live Scoring
// =============================================================================

// liveRecommendations loads saved weights and scores the requested users
// against the ratings file. The item space is rebuilt the same way train
// built it, so the model sees the columns it was fitted on.
func liveRecommendations(requested []string, cat *catalog.Catalog) ([]ranking.RankedItem, error) {
	f, err := os.Open(recommendWeightsPath)
	if err != nil {
		return nil, fmt.Errorf("open weights: %w", err)
	}
	defer f.Close()
	model, err := vae.LoadWeights(f)
	if err != nil {
		return nil, err
	}

	records, err := dataset.LoadRatings(recommendRatingsPath)
	if err != nil {
		return nil, err
	}

	var catalogIDs []string
	if cat != nil {
		catalogIDs = cat.IDs()
	}
	items := pipeline.ItemSpace(records, catalogIDs)

	x, users, _ := affinity.NewBuilder(items).Build(records)
	x = affinity.Binarize(x, affinity.ImplicitThreshold)
	if x == nil {
		return nil, fmt.Errorf("no users in %s", recommendRatingsPath)
	}

	if recommendAll {
		requested = users.IDs()
	}
	sub, subUsers, err := userRows(x, users, requested)
	if err != nil {
		return nil, err
	}
	return model.RecommendTable(sub, subUsers, items, recommendTopK, !recommendIncludeSeen)
}

// userRows extracts the affinity rows for the requested users. Row order
// follows the returned index map.
func userRows(x *mat.Dense, users *affinity.IndexMap, requested []string) (*mat.Dense, *affinity.IndexMap, error) {
	sel := affinity.NewIndexMap(requested)
	_, cols := x.Dims()
	rows := mat.NewDense(sel.Len(), cols, nil)
	for i, id := range sel.IDs() {
		src, ok := users.Index(id)
		if !ok {
			return nil, nil, fmt.Errorf("user %s not found in %s", id, recommendRatingsPath)
		}
		rows.SetRow(i, x.RawRowView(src))
	}
	return rows, sel, nil
}

// =============================================================================
// Catalog Helpers
// =============================================================================

// openCatalog loads the movie catalog, or returns nil when no path is
// given or the file is unusable.
func openCatalog(moviesPath string) *catalog.Catalog {
	if moviesPath == "" {
		return nil
	}
	if _, err := os.Stat(moviesPath); err != nil {
		return nil
	}
	cat, err := catalog.Load(moviesPath)
	if err != nil {
		slog.Warn("catalog unreadable, showing raw item ids",
			slog.String("path", moviesPath), slog.String("error", err.Error()))
		return nil
	}
	return cat
}

// matchedGenreIDs returns the ids of catalog movies whose genres match
// any of the glob patterns, or nil when no patterns are given.
func matchedGenreIDs(cat *catalog.Catalog, patterns []string) (map[string]bool, error) {
	if len(patterns) == 0 {
		return nil, nil
	}
	if cat == nil {
		return nil, fmt.Errorf("--genre requires --movies")
	}
	movies, err := cat.FilterGenres(patterns...)
	if err != nil {
		return nil, err
	}
	ids := make(map[string]bool, len(movies))
	for _, m := range movies {
		ids[m.ID] = true
	}
	return ids, nil
}

// filterByGenre keeps the rows whose item is in the matched set. A nil
// set keeps everything. Original ranks are preserved.
func filterByGenre(recs []ranking.RankedItem, ids map[string]bool) []ranking.RankedItem {
	if ids == nil {
		return recs
	}
	kept := recs[:0]
	for _, r := range recs {
		if ids[r.Item] {
			kept = append(kept, r)
		}
	}
	return kept
}

// resolveTitles attaches catalog metadata to the ranked rows when a
// catalog is available.
func resolveTitles(recs []ranking.RankedItem, cat *catalog.Catalog) []recommendOutput {
	rows := make([]recommendOutput, 0, len(recs))
	for _, r := range recs {
		row := recommendOutput{UserID: r.User, Rank: r.Rank, ItemID: r.Item, Score: r.Score}
		if cat != nil {
			if movie, ok := cat.Movie(r.Item); ok {
				row.Title = movie.Title
				row.Genres = strings.Join(movie.Genres, "|")
			}
		}
		rows = append(rows, row)
	}
	return rows
}

// =============================================================================
// Output
// =============================================================================

// outputRecommendRich prints lists grouped per user with rich formatting.
func outputRecommendRich(w io.Writer, source string, rows []recommendOutput) {
	fmt.Fprintf(w, "%s%sRecommendations%s %s(%s)%s\n",
		colorBold, colorCyan, colorReset, colorGray, source, colorReset)
	fmt.Fprintf(w, "%s%s%s\n", colorGray, strings.Repeat("-", 40), colorReset)

	lastUser := ""
	for _, row := range rows {
		if row.UserID != lastUser {
			if lastUser != "" {
				fmt.Fprintln(w)
			}
			fmt.Fprintf(w, "%s%s%s\n", colorBold, row.UserID, colorReset)
			lastUser = row.UserID
		}
		name := row.ItemID
		if row.Title != "" {
			name = row.Title
		}
		fmt.Fprintf(w, "  %s%2d.%s %s %s(%.4f)%s", colorGreen, row.Rank, colorReset,
			name, colorGray, row.Score, colorReset)
		if row.Genres != "" {
			fmt.Fprintf(w, " %s%s%s", colorGray, row.Genres, colorReset)
		}
		fmt.Fprintln(w)
	}
}
