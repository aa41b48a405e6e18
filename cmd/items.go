// Package cmd provides CLI commands for the movierec application.
// This file implements the items command for browsing the movie catalog.
package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nathann3/better-than-netflix-movie-recommender/core/catalog"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// ItemsDefaultLimit is the default number of search results.
	ItemsDefaultLimit = 10

	// ItemsDefaultMoviesPath is the default catalog location.
	ItemsDefaultMoviesPath = "data/movies.csv"
)

// =============================================================================
// Items Command Flags
// =============================================================================

var (
	itemsMoviesPath string
	itemsLimit      int
	itemsJSON       bool
)

// =============================================================================
// Items Command
// =============================================================================

// itemsCmd represents the items command.
var itemsCmd = &cobra.Command{
	Use:   "items",
	Short: "Browse the movie catalog",
	Long: `Browse the movie catalog.

Subcommands:
  search  - Full-text search over titles
  filter  - Filter by genre glob patterns

Examples:
  movierec items search "toy story"
  movierec items filter "sci-*"
  movierec items filter comedy romance --limit 20`,
}

// itemsSearchCmd searches titles.
var itemsSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Full-text search over titles",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runItemsSearch,
}

// itemsFilterCmd filters by genre patterns.
var itemsFilterCmd = &cobra.Command{
	Use:   "filter <pattern>...",
	Short: "Filter by genre glob patterns",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runItemsFilter,
}

func init() {
	rootCmd.AddCommand(itemsCmd)
	itemsCmd.AddCommand(itemsSearchCmd)
	itemsCmd.AddCommand(itemsFilterCmd)

	itemsCmd.PersistentFlags().StringVarP(&itemsMoviesPath, "movies", "m", ItemsDefaultMoviesPath, "Movie catalog CSV")
	itemsCmd.PersistentFlags().IntVarP(&itemsLimit, "limit", "l", ItemsDefaultLimit, "Maximum results")
	itemsCmd.PersistentFlags().BoolVar(&itemsJSON, "json", false, "Output as JSON")
}

// movieOutput is the JSON shape of one catalog entry.
type movieOutput struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Genres string `json:"genres,omitempty"`
}

// runItemsSearch queries the catalog's full-text title index.
func runItemsSearch(cmd *cobra.Command, args []string) error {
	cat, err := catalog.Load(itemsMoviesPath)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	defer cat.Close()

	query := strings.Join(args, " ")
	movies, err := cat.SearchTitles(query, itemsLimit)
	if err != nil {
		return fmt.Errorf("search catalog: %w", err)
	}
	return outputMovies(cmd.OutOrStdout(), fmt.Sprintf("Titles matching %q", query), movies)
}

// runItemsFilter lists catalog entries whose genres match the patterns.
func runItemsFilter(cmd *cobra.Command, args []string) error {
	cat, err := catalog.Load(itemsMoviesPath)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	defer cat.Close()

	movies, err := cat.FilterGenres(args...)
	if err != nil {
		return fmt.Errorf("filter catalog: %w", err)
	}
	if itemsLimit > 0 && len(movies) > itemsLimit {
		movies = movies[:itemsLimit]
	}
	return outputMovies(cmd.OutOrStdout(), fmt.Sprintf("Genres matching %s", strings.Join(args, ", ")), movies)
}

// outputMovies prints catalog entries as JSON or a rich list.
func outputMovies(w io.Writer, header string, movies []catalog.Movie) error {
	if itemsJSON {
		out := make([]movieOutput, 0, len(movies))
		for _, m := range movies {
			out = append(out, movieOutput{ID: m.ID, Title: m.Title, Genres: strings.Join(m.Genres, "|")})
		}
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(out)
	}

	fmt.Fprintf(w, "%s%s%s%s\n", colorBold, colorCyan, header, colorReset)
	fmt.Fprintf(w, "%s%s%s\n", colorGray, strings.Repeat("-", 40), colorReset)
	if len(movies) == 0 {
		fmt.Fprintf(w, "%sNo matches.%s\n", colorYellow, colorReset)
		return nil
	}
	for _, m := range movies {
		fmt.Fprintf(w, "%s%-8s%s %s", colorGray, m.ID, colorReset, m.Title)
		if len(m.Genres) > 0 {
			fmt.Fprintf(w, " %s%s%s", colorGray, strings.Join(m.Genres, "|"), colorReset)
		}
		fmt.Fprintln(w)
	}
	return nil
}
