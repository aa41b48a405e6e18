// Package cmd provides CLI commands for the movierec application.
// This file implements the train command for running experiments.
package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/nathann3/better-than-netflix-movie-recommender/core/catalog"
	"github.com/nathann3/better-than-netflix-movie-recommender/core/config"
	"github.com/nathann3/better-than-netflix-movie-recommender/core/dataset"
	"github.com/nathann3/better-than-netflix-movie-recommender/core/pipeline"
	"github.com/nathann3/better-than-netflix-movie-recommender/core/store"
)

// =============================================================================
// Train Command Flags
// =============================================================================

var (
	trainConfigPath  string
	trainRatingsPath string
	trainMoviesPath  string
	trainDBPath      string
	trainWeightsPath string
	trainEpochs      int
	trainJSON        bool
)

// =============================================================================
// Train Command
// =============================================================================

// trainCmd represents the train command.
var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train and evaluate a recommendation model",
	Long: `Train a variational autoencoder on a ratings file and evaluate it on
held-out interactions.

The run, its metrics, and its recommendation table are recorded in the
experiment store for later inspection with 'movierec evaluate' and
'movierec recommend'.

Examples:
  movierec train --ratings data/ratings.csv
  movierec train --config experiment.yaml --epochs 50
  movierec train --ratings data/ratings.csv --weights model.bin
  movierec train --ratings data/ratings.csv --json | jq '.ndcg_at_k'`,
	RunE: runTrain,
}

func init() {
	rootCmd.AddCommand(trainCmd)

	trainCmd.Flags().StringVarP(&trainConfigPath, "config", "c", "", "YAML experiment config")
	trainCmd.Flags().StringVarP(&trainRatingsPath, "ratings", "r", "", "Ratings CSV (overrides config)")
	trainCmd.Flags().StringVarP(&trainMoviesPath, "movies", "m", "", "Movie catalog CSV (overrides config)")
	trainCmd.Flags().StringVar(&trainDBPath, "db", "", "Experiment store path (overrides config)")
	trainCmd.Flags().StringVarP(&trainWeightsPath, "weights", "w", "", "Write trained weights to this file")
	trainCmd.Flags().IntVarP(&trainEpochs, "epochs", "e", 0, "Training epochs (overrides config)")
	trainCmd.Flags().BoolVar(&trainJSON, "json", false, "Output as JSON")
}

// trainOutput is the JSON output for a completed run.
type trainOutput struct {
	RunID           string  `json:"run_id"`
	Dataset         string  `json:"dataset"`
	Records         int     `json:"records"`
	TrainUsers      int     `json:"train_users"`
	ValidationUsers int     `json:"validation_users"`
	TestUsers       int     `json:"test_users"`
	CatalogSize     int     `json:"catalog_size"`
	Epochs          int     `json:"epochs"`
	BestEpoch       int     `json:"best_epoch,omitempty"`
	K               int     `json:"k"`
	PrecisionAtK    float64 `json:"precision_at_k"`
	RecallAtK       float64 `json:"recall_at_k"`
	MAPAtK          float64 `json:"map_at_k"`
	NDCGAtK         float64 `json:"ndcg_at_k"`
	Duration        string  `json:"duration"`
	WeightsPath     string  `json:"weights_path,omitempty"`
}

// runTrain executes a full experiment and records it in the store.
func runTrain(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(trainConfigPath)
	if err != nil {
		return err
	}
	if trainRatingsPath != "" {
		cfg.Data.RatingsPath = trainRatingsPath
	}
	if trainMoviesPath != "" {
		cfg.Data.MoviesPath = trainMoviesPath
	}
	if trainDBPath != "" {
		cfg.Store.DBPath = trainDBPath
	}
	if trainEpochs > 0 {
		cfg.Model.Epochs = trainEpochs
	}
	if trainWeightsPath != "" {
		cfg.Model.WeightsPath = trainWeightsPath
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	records, err := dataset.LoadRatings(cfg.Data.RatingsPath)
	if err != nil {
		return fmt.Errorf("load ratings: %w", err)
	}
	stats := dataset.Describe(records)

	if !trainJSON {
		outputDatasetSummary(cmd.OutOrStdout(), cfg.Data.RatingsPath, stats)
	}

	catalogIDs := loadCatalogIDs(cfg.Data.MoviesPath)

	start := time.Now()
	res, err := pipeline.Run(cfg, records, catalogIDs)
	if err != nil {
		return fmt.Errorf("run experiment: %w", err)
	}
	elapsed := time.Since(start)

	st, err := store.Open(store.Config{DBPath: cfg.Store.DBPath})
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.SaveInteractions(cfg.Data.Dataset, records); err != nil {
		return err
	}

	cfgYAML, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("serialize config: %w", err)
	}

	best, hasBest := res.History.BestEpoch()
	run := store.Run{
		ID:        res.RunID,
		Dataset:   res.Dataset,
		CreatedAt: time.Now().UTC(),
		Config:    string(cfgYAML),
		K:         cfg.Eval.TopK,
		Epochs:    len(res.History.Epochs),
		BestEpoch: best.Epoch,
		Precision: res.Metrics.Precision,
		Recall:    res.Metrics.Recall,
		MAP:       res.Metrics.MAP,
		NDCG:      res.Metrics.NDCG,
	}
	if err := st.SaveRun(run); err != nil {
		return err
	}
	if len(res.Recommendations) > 0 {
		if err := st.SaveRecommendations(res.RunID, res.Recommendations); err != nil {
			return err
		}
	}

	if cfg.Model.WeightsPath != "" {
		if err := writeWeights(cfg.Model.WeightsPath, res); err != nil {
			return err
		}
	}

	out := trainOutput{
		RunID:           res.RunID,
		Dataset:         res.Dataset,
		Records:         stats.Records,
		TrainUsers:      res.TrainUsers,
		ValidationUsers: res.ValidationUsers,
		TestUsers:       res.TestUsers,
		CatalogSize:     res.CatalogSize,
		Epochs:          len(res.History.Epochs),
		K:               cfg.Eval.TopK,
		PrecisionAtK:    res.Metrics.Precision,
		RecallAtK:       res.Metrics.Recall,
		MAPAtK:          res.Metrics.MAP,
		NDCGAtK:         res.Metrics.NDCG,
		Duration:        elapsed.Round(time.Millisecond).String(),
		WeightsPath:     cfg.Model.WeightsPath,
	}
	if hasBest {
		out.BestEpoch = best.Epoch
	}

	if trainJSON {
		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		return encoder.Encode(out)
	}
	outputTrainRich(cmd.OutOrStdout(), out)
	return nil
}

// loadCatalogIDs returns the pinned item space from the movie catalog, or
// nil when no usable catalog exists so the item space derives from ratings.
func loadCatalogIDs(path string) []string {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		slog.Warn("catalog not found, deriving item space from ratings",
			slog.String("path", path))
		return nil
	}
	cat, err := catalog.Load(path)
	if err != nil {
		slog.Warn("catalog unreadable, deriving item space from ratings",
			slog.String("path", path), slog.String("error", err.Error()))
		return nil
	}
	defer cat.Close()
	return cat.IDs()
}

func writeWeights(path string, res *pipeline.Result) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create weights file: %w", err)
	}
	defer f.Close()
	if err := res.Model.SaveWeights(f); err != nil {
		return fmt.Errorf("save weights: %w", err)
	}
	return nil
}

// outputDatasetSummary prints the input shape before training starts.
func outputDatasetSummary(w io.Writer, path string, stats dataset.Stats) {
	fmt.Fprintf(w, "%s%sDataset%s\n", colorBold, colorCyan, colorReset)
	fmt.Fprintf(w, "%s%s%s\n", colorGray, strings.Repeat("-", 40), colorReset)
	fmt.Fprintf(w, "%sPath:%s      %s\n", colorGray, colorReset, path)
	fmt.Fprintf(w, "%sRecords:%s   %d\n", colorGray, colorReset, stats.Records)
	fmt.Fprintf(w, "%sUsers:%s     %d\n", colorGray, colorReset, stats.Users)
	fmt.Fprintf(w, "%sItems:%s     %d\n", colorGray, colorReset, stats.Items)
	fmt.Fprintf(w, "%sDensity:%s   %.4f\n", colorGray, colorReset, stats.Density)
	fmt.Fprintln(w)
}

// outputTrainRich prints the run result with rich formatting.
func outputTrainRich(w io.Writer, out trainOutput) {
	fmt.Fprintf(w, "%s%sTraining Complete%s\n", colorBold, colorCyan, colorReset)
	fmt.Fprintf(w, "%s%s%s\n", colorGray, strings.Repeat("-", 40), colorReset)
	fmt.Fprintf(w, "%sRun:%s       %s\n", colorGray, colorReset, out.RunID)
	fmt.Fprintf(w, "%sDataset:%s   %s\n", colorGray, colorReset, out.Dataset)
	fmt.Fprintf(w, "%sUsers:%s     %d train / %d validation / %d test\n",
		colorGray, colorReset, out.TrainUsers, out.ValidationUsers, out.TestUsers)
	fmt.Fprintf(w, "%sCatalog:%s   %d items\n", colorGray, colorReset, out.CatalogSize)
	if out.BestEpoch > 0 {
		fmt.Fprintf(w, "%sEpochs:%s    %d (best %d)\n", colorGray, colorReset, out.Epochs, out.BestEpoch)
	} else {
		fmt.Fprintf(w, "%sEpochs:%s    %d\n", colorGray, colorReset, out.Epochs)
	}
	fmt.Fprintf(w, "%sDuration:%s  %s\n", colorGray, colorReset, out.Duration)
	if out.WeightsPath != "" {
		fmt.Fprintf(w, "%sWeights:%s   %s\n", colorGray, colorReset, out.WeightsPath)
	}

	if out.TestUsers == 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "%sNo test users, evaluation skipped.%s\n", colorYellow, colorReset)
		return
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s%sEvaluation @ %d%s\n", colorBold, colorCyan, out.K, colorReset)
	fmt.Fprintf(w, "%s%s%s\n", colorGray, strings.Repeat("-", 40), colorReset)
	fmt.Fprintf(w, "%sPrecision:%s %s%.4f%s\n", colorGray, colorReset, colorGreen, out.PrecisionAtK, colorReset)
	fmt.Fprintf(w, "%sRecall:%s    %s%.4f%s\n", colorGray, colorReset, colorGreen, out.RecallAtK, colorReset)
	fmt.Fprintf(w, "%sMAP:%s       %s%.4f%s\n", colorGray, colorReset, colorGreen, out.MAPAtK, colorReset)
	fmt.Fprintf(w, "%sNDCG:%s      %s%.4f%s\n", colorGray, colorReset, colorGreen, out.NDCGAtK, colorReset)
}
