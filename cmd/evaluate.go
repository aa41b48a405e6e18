// Package cmd provides CLI commands for the movierec application.
// This file implements the evaluate command for inspecting recorded runs.
package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/nathann3/better-than-netflix-movie-recommender/core/config"
	"github.com/nathann3/better-than-netflix-movie-recommender/core/pipeline"
	"github.com/nathann3/better-than-netflix-movie-recommender/core/ranking"
	"github.com/nathann3/better-than-netflix-movie-recommender/core/store"
)

// =============================================================================
// Evaluate Command Flags
// =============================================================================

var (
	evaluateDBPath    string
	evaluateRecompute bool
	evaluateJSON      bool
)

// =============================================================================
// Evaluate Command
// =============================================================================

// evaluateCmd represents the evaluate command.
var evaluateCmd = &cobra.Command{
	Use:   "evaluate [run-id]",
	Short: "Inspect recorded runs and their metrics",
	Long: `Inspect runs recorded in the experiment store.

Without arguments every run is listed, newest first. With a run id the
full metric set for that run is shown. With --recompute the metrics are
rescored from the stored recommendations and interactions instead of
read back, using the run's stored configuration to rebuild the held-out
test interactions.

Examples:
  movierec evaluate
  movierec evaluate 3f2c9a1e
  movierec evaluate 3f2c9a1e --recompute
  movierec evaluate --json | jq '.[0].ndcg_at_k'`,
	Args: cobra.MaximumNArgs(1),
	RunE: runEvaluate,
}

func init() {
	rootCmd.AddCommand(evaluateCmd)

	evaluateCmd.Flags().StringVar(&evaluateDBPath, "db", defaultDBPath(), "Experiment store path")
	evaluateCmd.Flags().BoolVar(&evaluateRecompute, "recompute", false, "Rescore metrics from stored recommendations")
	evaluateCmd.Flags().BoolVar(&evaluateJSON, "json", false, "Output as JSON")
}

// runOutput is the JSON shape of one recorded run.
type runOutput struct {
	RunID        string    `json:"run_id"`
	Dataset      string    `json:"dataset"`
	CreatedAt    time.Time `json:"created_at"`
	K            int       `json:"k"`
	Epochs       int       `json:"epochs"`
	BestEpoch    int       `json:"best_epoch"`
	PrecisionAtK float64   `json:"precision_at_k"`
	RecallAtK    float64   `json:"recall_at_k"`
	MAPAtK       float64   `json:"map_at_k"`
	NDCGAtK      float64   `json:"ndcg_at_k"`
	Recomputed   bool      `json:"recomputed,omitempty"`
}

func toRunOutput(r store.Run) runOutput {
	return runOutput{
		RunID:        r.ID,
		Dataset:      r.Dataset,
		CreatedAt:    r.CreatedAt,
		K:            r.K,
		Epochs:       r.Epochs,
		BestEpoch:    r.BestEpoch,
		PrecisionAtK: r.Precision,
		RecallAtK:    r.Recall,
		MAPAtK:       r.MAP,
		NDCGAtK:      r.NDCG,
	}
}

// runEvaluate lists runs or shows one run in detail.
func runEvaluate(cmd *cobra.Command, args []string) error {
	st, err := store.Open(store.Config{DBPath: evaluateDBPath})
	if err != nil {
		return err
	}
	defer st.Close()

	if len(args) == 1 {
		run, err := st.LoadRun(args[0])
		if err != nil {
			return err
		}
		if evaluateRecompute {
			metrics, err := recomputeMetrics(st, run)
			if err != nil {
				return err
			}
			run.K = metrics.K
			run.Precision = metrics.Precision
			run.Recall = metrics.Recall
			run.MAP = metrics.MAP
			run.NDCG = metrics.NDCG
		}
		if evaluateJSON {
			out := toRunOutput(run)
			out.Recomputed = evaluateRecompute
			encoder := json.NewEncoder(cmd.OutOrStdout())
			encoder.SetIndent("", "  ")
			return encoder.Encode(out)
		}
		outputRunDetail(cmd.OutOrStdout(), run, evaluateRecompute)
		return nil
	}

	if evaluateRecompute {
		return fmt.Errorf("--recompute requires a run id")
	}

	runs, err := st.Runs()
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		return fmt.Errorf("no runs recorded; run 'movierec train' first")
	}

	if evaluateJSON {
		out := make([]runOutput, 0, len(runs))
		for _, r := range runs {
			out = append(out, toRunOutput(r))
		}
		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		return encoder.Encode(out)
	}
	outputRunList(cmd.OutOrStdout(), runs)
	return nil
}

// recomputeMetrics rescores a run from what the store holds: the run's
// configuration rebuilds the seeded held-out test interactions from the
// stored interactions, and the stored recommendation lists are scored
// against them.
func recomputeMetrics(st *store.Store, run store.Run) (pipeline.Metrics, error) {
	if run.Config == "" {
		return pipeline.Metrics{}, fmt.Errorf("run %s has no stored configuration", shortID(run.ID))
	}
	cfg := config.Default()
	if err := yaml.Unmarshal([]byte(run.Config), cfg); err != nil {
		return pipeline.Metrics{}, fmt.Errorf("parse stored configuration: %w", err)
	}

	records, err := st.LoadInteractions(run.Dataset)
	if err != nil {
		return pipeline.Metrics{}, err
	}
	if len(records) == 0 {
		return pipeline.Metrics{}, fmt.Errorf("no interactions stored for dataset %s", run.Dataset)
	}

	truth, testUsers, err := pipeline.HeldOutTruth(cfg, records, loadCatalogIDs(cfg.Data.MoviesPath))
	if err != nil {
		return pipeline.Metrics{}, err
	}

	var recs []ranking.RankedItem
	for _, userID := range testUsers.IDs() {
		userRecs, err := st.Recommendations(run.ID, userID)
		if err != nil {
			return pipeline.Metrics{}, err
		}
		recs = append(recs, userRecs...)
	}
	if len(recs) == 0 {
		return pipeline.Metrics{}, fmt.Errorf("no recommendations stored for run %s", shortID(run.ID))
	}

	return pipeline.Evaluate(recs, truth, run.K)
}

// outputRunList prints a compact table of runs.
func outputRunList(w io.Writer, runs []store.Run) {
	fmt.Fprintf(w, "%s%sRecorded Runs%s\n", colorBold, colorCyan, colorReset)
	fmt.Fprintf(w, "%s%s%s\n", colorGray, strings.Repeat("-", 72), colorReset)
	fmt.Fprintf(w, "%s%-10s %-12s %-17s %4s %8s %8s%s\n",
		colorGray, "RUN", "DATASET", "CREATED", "K", "NDCG", "MAP", colorReset)

	for _, r := range runs {
		fmt.Fprintf(w, "%-10s %-12s %-17s %4d %s%8.4f%s %8.4f\n",
			shortID(r.ID), r.Dataset, r.CreatedAt.Local().Format("2006-01-02 15:04"),
			r.K, colorGreen, r.NDCG, colorReset, r.MAP)
	}
}

// outputRunDetail prints one run with the full metric set.
func outputRunDetail(w io.Writer, r store.Run, recomputed bool) {
	fmt.Fprintf(w, "%s%sRun %s%s\n", colorBold, colorCyan, shortID(r.ID), colorReset)
	fmt.Fprintf(w, "%s%s%s\n", colorGray, strings.Repeat("-", 40), colorReset)
	fmt.Fprintf(w, "%sID:%s         %s\n", colorGray, colorReset, r.ID)
	fmt.Fprintf(w, "%sDataset:%s    %s\n", colorGray, colorReset, r.Dataset)
	fmt.Fprintf(w, "%sCreated:%s    %s\n", colorGray, colorReset, r.CreatedAt.Local().Format(time.RFC3339))
	fmt.Fprintf(w, "%sEpochs:%s     %d (best %d)\n", colorGray, colorReset, r.Epochs, r.BestEpoch)
	fmt.Fprintln(w)
	label := ""
	if recomputed {
		label = " (recomputed)"
	}
	fmt.Fprintf(w, "%s%sMetrics @ %d%s%s\n", colorBold, colorCyan, r.K, label, colorReset)
	fmt.Fprintf(w, "%s%s%s\n", colorGray, strings.Repeat("-", 40), colorReset)
	fmt.Fprintf(w, "%sPrecision:%s %s%.4f%s\n", colorGray, colorReset, colorGreen, r.Precision, colorReset)
	fmt.Fprintf(w, "%sRecall:%s    %s%.4f%s\n", colorGray, colorReset, colorGreen, r.Recall, colorReset)
	fmt.Fprintf(w, "%sMAP:%s       %s%.4f%s\n", colorGray, colorReset, colorGreen, r.MAP, colorReset)
	fmt.Fprintf(w, "%sNDCG:%s      %s%.4f%s\n", colorGray, colorReset, colorGreen, r.NDCG, colorReset)
}

// shortID truncates a run id for table display.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
