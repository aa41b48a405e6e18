// Package cmd provides CLI commands for the movierec application.
package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/nathann3/better-than-netflix-movie-recommender/core/storage"
)

// ANSI color codes for terminal output.
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
	colorBold   = "\033[1m"
)

var rootVerbose bool

var rootCmd = &cobra.Command{
	Use:   "movierec",
	Short: "Movie recommendations from a variational autoencoder",
	Long: `Movierec trains a variational autoencoder on implicit movie feedback
and serves ranked top-K recommendations.

Workflow:
  movierec train --ratings data/ratings.csv     # train and evaluate a model
  movierec recommend <user-id>                  # ranked list for one user
  movierec evaluate                             # inspect recorded runs
  movierec items search "toy story"             # look around the catalog`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelWarn
		if rootVerbose {
			level = slog.LevelInfo
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: level,
		})))
	},
}

func Execute() error {
	return rootCmd.Execute()
}

// defaultDBPath is the experiment store location in the user data dir.
func defaultDBPath() string {
	return storage.Resolve().DataDir("experiments.db")
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&rootVerbose, "verbose", "v", false, "Verbose logging")
}
