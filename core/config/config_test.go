package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/nathann3/better-than-netflix-movie-recommender/core/vae"
)

// isolateUserConfig points the user config dir at a fresh temp dir so a
// developer's real config cannot leak into the test.
func isolateUserConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	return filepath.Join(dir, "movierec")
}

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.Model.HiddenDim != 200 {
		t.Errorf("Model.HiddenDim: got %d, want 200", cfg.Model.HiddenDim)
	}
	if cfg.Model.LatentDim != 70 {
		t.Errorf("Model.LatentDim: got %d, want 70", cfg.Model.LatentDim)
	}
	if cfg.Data.ImplicitThreshold != 3.5 {
		t.Errorf("Data.ImplicitThreshold: got %v, want 3.5", cfg.Data.ImplicitThreshold)
	}
	if !cfg.Eval.RemoveSeen {
		t.Error("Eval.RemoveSeen should default to true")
	}
	if !cfg.Model.KLAnnealing {
		t.Error("Model.KLAnnealing should default to true")
	}
}

func TestLoadEmptyPathUsesDefaults(t *testing.T) {
	isolateUserConfig(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") failed: %v", err)
	}
	if cfg.Model.Epochs != Default().Model.Epochs {
		t.Errorf("Epochs: got %d, want default", cfg.Model.Epochs)
	}
}

func TestLoadUserConfig(t *testing.T) {
	userDir := isolateUserConfig(t)
	if err := os.MkdirAll(userDir, 0o755); err != nil {
		t.Fatal(err)
	}
	userFile := filepath.Join(userDir, "config.yaml")
	if err := os.WriteFile(userFile, []byte("model:\n  epochs: 123\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Model.Epochs != 123 {
		t.Errorf("Epochs: got %d, want 123 from user config", cfg.Model.Epochs)
	}
}

func TestLoadExplicitFileBeatsUserConfig(t *testing.T) {
	userDir := isolateUserConfig(t)
	if err := os.MkdirAll(userDir, 0o755); err != nil {
		t.Fatal(err)
	}
	userFile := filepath.Join(userDir, "config.yaml")
	if err := os.WriteFile(userFile, []byte("model:\n  epochs: 123\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	explicit := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(explicit, []byte("model:\n  epochs: 7\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(explicit)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Model.Epochs != 7 {
		t.Errorf("Epochs: got %d, want 7 from explicit file", cfg.Model.Epochs)
	}
}

func TestLoadFromFile(t *testing.T) {
	content := `
data:
  ratings_path: /tmp/ratings.csv
  dataset: ml-25m
  holdout_ratio: 0.2
model:
  epochs: 50
  hidden_dim: 64
eval:
  top_k: 20
`
	isolateUserConfig(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Data.RatingsPath != "/tmp/ratings.csv" {
		t.Errorf("RatingsPath: got %s", cfg.Data.RatingsPath)
	}
	if cfg.Data.Dataset != "ml-25m" {
		t.Errorf("Dataset: got %s", cfg.Data.Dataset)
	}
	if cfg.Data.HoldoutRatio != 0.2 {
		t.Errorf("HoldoutRatio: got %v", cfg.Data.HoldoutRatio)
	}
	if cfg.Model.Epochs != 50 {
		t.Errorf("Epochs: got %d, want 50", cfg.Model.Epochs)
	}
	if cfg.Model.HiddenDim != 64 {
		t.Errorf("HiddenDim: got %d, want 64", cfg.Model.HiddenDim)
	}
	if cfg.Eval.TopK != 20 {
		t.Errorf("TopK: got %d, want 20", cfg.Eval.TopK)
	}
	// Untouched fields keep defaults.
	if cfg.Model.LatentDim != 70 {
		t.Errorf("LatentDim: got %d, want default 70", cfg.Model.LatentDim)
	}
}

func TestLoadMissingFile(t *testing.T) {
	isolateUserConfig(t)
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil {
		t.Fatal("expected error for missing explicit config file")
	}
}

func TestLoadMalformedYAML(t *testing.T) {
	isolateUserConfig(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("model: [not a map"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for malformed YAML")
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	isolateUserConfig(t)
	t.Setenv("MOVIEREC_EPOCHS", "7")
	t.Setenv("MOVIEREC_TOP_K", "15")
	t.Setenv("MOVIEREC_SEED", "42")
	t.Setenv("MOVIEREC_RATINGS_PATH", "/data/r.csv")
	t.Setenv("MOVIEREC_REMOVE_SEEN", "false")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Model.Epochs != 7 {
		t.Errorf("Epochs: got %d, want 7", cfg.Model.Epochs)
	}
	if cfg.Eval.TopK != 15 {
		t.Errorf("TopK: got %d, want 15", cfg.Eval.TopK)
	}
	if cfg.Data.Seed != 42 || cfg.Model.Seed != 42 {
		t.Errorf("Seed: got %d/%d, want 42", cfg.Data.Seed, cfg.Model.Seed)
	}
	if cfg.Data.RatingsPath != "/data/r.csv" {
		t.Errorf("RatingsPath: got %s", cfg.Data.RatingsPath)
	}
	if cfg.Eval.RemoveSeen {
		t.Error("RemoveSeen should be overridden to false")
	}
}

func TestEnvironmentIgnoresUnparsable(t *testing.T) {
	isolateUserConfig(t)
	t.Setenv("MOVIEREC_EPOCHS", "not-a-number")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Model.Epochs != Default().Model.Epochs {
		t.Errorf("Epochs: got %d, want default", cfg.Model.Epochs)
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Experiment)
	}{
		{"empty ratings path", func(e *Experiment) { e.Data.RatingsPath = "" }},
		{"negative val fraction", func(e *Experiment) { e.Data.ValFraction = -0.1 }},
		{"fractions consume all users", func(e *Experiment) { e.Data.ValFraction = 0.5; e.Data.TestFraction = 0.5 }},
		{"holdout ratio above one", func(e *Experiment) { e.Data.HoldoutRatio = 1.5 }},
		{"zero hidden dim", func(e *Experiment) { e.Model.HiddenDim = 0 }},
		{"zero epochs", func(e *Experiment) { e.Model.Epochs = 0 }},
		{"dropout of one", func(e *Experiment) { e.Model.EncoderDropout = 1.0 }},
		{"negative kl weight", func(e *Experiment) { e.Model.KLWeight = -0.5 }},
		{"zero learning rate", func(e *Experiment) { e.Model.LearningRate = 0 }},
		{"decay factor above one", func(e *Experiment) { e.Model.LRDecayFactor = 1.5 }},
		{"zero decay patience", func(e *Experiment) { e.Model.LRDecayPatience = 0 }},
		{"min learning rate above rate", func(e *Experiment) { e.Model.MinLearningRate = 1 }},
		{"zero top k", func(e *Experiment) { e.Eval.TopK = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			if !errors.Is(err, ErrInvalid) {
				t.Errorf("got %v, want ErrInvalid", err)
			}
		})
	}
}

func TestVAEConfigMapping(t *testing.T) {
	cfg := Default()
	cfg.Model.HiddenDim = 32
	cfg.Model.LatentDim = 8
	cfg.Eval.TopK = 5

	vc := cfg.VAEConfig(120)
	if vc.CatalogSize != 120 {
		t.Errorf("CatalogSize: got %d, want 120", vc.CatalogSize)
	}
	if vc.HiddenDim != 32 || vc.LatentDim != 8 {
		t.Errorf("dims: got %d/%d", vc.HiddenDim, vc.LatentDim)
	}
	if vc.TopKEval != 5 {
		t.Errorf("TopKEval: got %d", vc.TopKEval)
	}
	if err := vc.Validate(); err != nil {
		t.Fatalf("mapped config should validate: %v", err)
	}
	if vc.Seed != vae.DefaultSeed {
		t.Errorf("Seed: got %d", vc.Seed)
	}
	if vc.LRDecayFactor != vae.DefaultLRDecayFactor || vc.LRDecayPatience != vae.DefaultLRDecayPatience {
		t.Errorf("plateau schedule: got %v/%d", vc.LRDecayFactor, vc.LRDecayPatience)
	}
}
