// Package config loads experiment configuration from YAML with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nathann3/better-than-netflix-movie-recommender/core/affinity"
	"github.com/nathann3/better-than-netflix-movie-recommender/core/storage"
	"github.com/nathann3/better-than-netflix-movie-recommender/core/vae"
)

// ErrInvalid reports a configuration that fails validation.
var ErrInvalid = errors.New("config: invalid")

// Experiment is the full configuration for one training run.
type Experiment struct {
	Data  DataConfig  `yaml:"data"`
	Model ModelConfig `yaml:"model"`
	Eval  EvalConfig  `yaml:"eval"`
	Store StoreConfig `yaml:"store"`
}

// DataConfig locates the input files and controls the split.
type DataConfig struct {
	RatingsPath       string  `yaml:"ratings_path"`
	MoviesPath        string  `yaml:"movies_path"`
	Dataset           string  `yaml:"dataset"`
	ImplicitThreshold float64 `yaml:"implicit_threshold"`
	ValFraction       float64 `yaml:"val_fraction"`
	TestFraction      float64 `yaml:"test_fraction"`
	HoldoutRatio      float64 `yaml:"holdout_ratio"`
	Seed              int64   `yaml:"seed"`
}

// ModelConfig holds the network hyperparameters. WeightsPath, when set,
// is where train saves the fitted model.
type ModelConfig struct {
	HiddenDim       int     `yaml:"hidden_dim"`
	LatentDim       int     `yaml:"latent_dim"`
	Epochs          int     `yaml:"epochs"`
	BatchSize       int     `yaml:"batch_size"`
	EncoderDropout  float64 `yaml:"encoder_dropout"`
	DecoderDropout  float64 `yaml:"decoder_dropout"`
	KLWeight        float64 `yaml:"kl_weight"`
	KLAnnealing     bool    `yaml:"kl_annealing"`
	LearningRate    float64 `yaml:"learning_rate"`
	LRDecayFactor   float64 `yaml:"lr_decay_factor"`
	LRDecayPatience int     `yaml:"lr_decay_patience"`
	MinLearningRate float64 `yaml:"min_learning_rate"`
	Seed            int64   `yaml:"seed"`
	WeightsPath     string  `yaml:"weights_path"`
}

// EvalConfig controls ranking evaluation.
type EvalConfig struct {
	TopK       int  `yaml:"top_k"`
	RemoveSeen bool `yaml:"remove_seen"`
}

// StoreConfig locates the experiment store.
type StoreConfig struct {
	DBPath string `yaml:"db_path"`
}

// Default returns a fully populated configuration.
func Default() *Experiment {
	return &Experiment{
		Data: DataConfig{
			RatingsPath:       "data/ratings.csv",
			MoviesPath:        "data/movies.csv",
			Dataset:           "movielens",
			ImplicitThreshold: affinity.ImplicitThreshold,
			ValFraction:       0.1,
			TestFraction:      0.1,
			HoldoutRatio:      0.5,
			Seed:              vae.DefaultSeed,
		},
		Model: ModelConfig{
			HiddenDim:       vae.DefaultHiddenDim,
			LatentDim:       vae.DefaultLatentDim,
			Epochs:          vae.DefaultEpochCount,
			BatchSize:       vae.DefaultBatchSize,
			EncoderDropout:  vae.DefaultDropoutRate,
			DecoderDropout:  vae.DefaultDropoutRate,
			KLWeight:        vae.DefaultKLWeight,
			KLAnnealing:     true,
			LearningRate:    vae.DefaultLearningRate,
			LRDecayFactor:   vae.DefaultLRDecayFactor,
			LRDecayPatience: vae.DefaultLRDecayPatience,
			MinLearningRate: vae.DefaultMinLearningRate,
			Seed:            vae.DefaultSeed,
		},
		Eval: EvalConfig{
			TopK:       vae.DefaultTopKEval,
			RemoveSeen: true,
		},
		Store: StoreConfig{
			DBPath: storage.Resolve().DataDir("experiments.db"),
		},
	}
}

// Load builds the configuration in precedence order: defaults, then the
// user config file, then the explicit file at path, then environment
// overrides. An empty path skips the explicit file.
func Load(path string) (*Experiment, error) {
	cfg := Default()

	if err := loadUserConfig(cfg); err != nil {
		return nil, fmt.Errorf("config: user config: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnvironment(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadUserConfig merges the per-user config file when one exists.
func loadUserConfig(cfg *Experiment) error {
	path := storage.Resolve().ConfigDir("config.yaml")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func applyEnvironment(cfg *Experiment) {
	if v := os.Getenv("MOVIEREC_RATINGS_PATH"); v != "" {
		cfg.Data.RatingsPath = v
	}
	if v := os.Getenv("MOVIEREC_MOVIES_PATH"); v != "" {
		cfg.Data.MoviesPath = v
	}
	if v := os.Getenv("MOVIEREC_DB_PATH"); v != "" {
		cfg.Store.DBPath = v
	}
	if v := os.Getenv("MOVIEREC_EPOCHS"); v != "" {
		if n, err := parseInt(v); err == nil {
			cfg.Model.Epochs = n
		}
	}
	if v := os.Getenv("MOVIEREC_TOP_K"); v != "" {
		if n, err := parseInt(v); err == nil {
			cfg.Eval.TopK = n
		}
	}
	if v := os.Getenv("MOVIEREC_SEED"); v != "" {
		if n, err := parseInt(v); err == nil {
			cfg.Data.Seed = int64(n)
			cfg.Model.Seed = int64(n)
		}
	}
	if v := os.Getenv("MOVIEREC_LEARNING_RATE"); v != "" {
		if f, err := parseFloat(v); err == nil {
			cfg.Model.LearningRate = f
		}
	}
	if v := os.Getenv("MOVIEREC_REMOVE_SEEN"); v != "" {
		cfg.Eval.RemoveSeen = strings.ToLower(v) == "true"
	}
}

// Validate checks the fields the config layer owns. Model dimensions are
// checked again once the catalog size is known.
func (e *Experiment) Validate() error {
	if e.Data.RatingsPath == "" {
		return fmt.Errorf("%w: data.ratings_path is required", ErrInvalid)
	}
	if e.Data.ValFraction < 0 || e.Data.TestFraction < 0 {
		return fmt.Errorf("%w: split fractions must be non-negative", ErrInvalid)
	}
	if e.Data.ValFraction+e.Data.TestFraction >= 1 {
		return fmt.Errorf("%w: val and test fractions must leave training users", ErrInvalid)
	}
	if e.Data.HoldoutRatio < 0 || e.Data.HoldoutRatio > 1 {
		return fmt.Errorf("%w: data.holdout_ratio must be within [0, 1]", ErrInvalid)
	}
	if e.Model.HiddenDim <= 0 || e.Model.LatentDim <= 0 {
		return fmt.Errorf("%w: model dimensions must be positive", ErrInvalid)
	}
	if e.Model.Epochs <= 0 || e.Model.BatchSize <= 0 {
		return fmt.Errorf("%w: model.epochs and model.batch_size must be positive", ErrInvalid)
	}
	if e.Model.EncoderDropout < 0 || e.Model.EncoderDropout >= 1 ||
		e.Model.DecoderDropout < 0 || e.Model.DecoderDropout >= 1 {
		return fmt.Errorf("%w: dropout rates must be within [0, 1)", ErrInvalid)
	}
	if e.Model.KLWeight < 0 {
		return fmt.Errorf("%w: model.kl_weight must be non-negative", ErrInvalid)
	}
	if e.Model.LearningRate <= 0 {
		return fmt.Errorf("%w: model.learning_rate must be positive", ErrInvalid)
	}
	if e.Model.LRDecayFactor <= 0 || e.Model.LRDecayFactor > 1 {
		return fmt.Errorf("%w: model.lr_decay_factor must be within (0, 1]", ErrInvalid)
	}
	if e.Model.LRDecayPatience < 1 {
		return fmt.Errorf("%w: model.lr_decay_patience must be at least 1", ErrInvalid)
	}
	if e.Model.MinLearningRate < 0 || e.Model.MinLearningRate > e.Model.LearningRate {
		return fmt.Errorf("%w: model.min_learning_rate must be within [0, learning_rate]", ErrInvalid)
	}
	if e.Eval.TopK < 1 {
		return fmt.Errorf("%w: eval.top_k must be at least 1", ErrInvalid)
	}
	return nil
}

// VAEConfig builds the model configuration for a catalog of the given size.
func (e *Experiment) VAEConfig(catalogSize int) vae.Config {
	return vae.Config{
		CatalogSize:        catalogSize,
		HiddenDim:          e.Model.HiddenDim,
		LatentDim:          e.Model.LatentDim,
		EpochCount:         e.Model.Epochs,
		BatchSize:          e.Model.BatchSize,
		TopKEval:           e.Eval.TopK,
		EncoderDropoutRate: e.Model.EncoderDropout,
		DecoderDropoutRate: e.Model.DecoderDropout,
		UseKLAnnealing:     e.Model.KLAnnealing,
		KLWeight:           e.Model.KLWeight,
		LearningRate:       e.Model.LearningRate,
		LRDecayFactor:      e.Model.LRDecayFactor,
		LRDecayPatience:    e.Model.LRDecayPatience,
		MinLearningRate:    e.Model.MinLearningRate,
		Seed:               e.Model.Seed,
	}
}

func parseInt(s string) (int, error) {
	var n int
	_, err := fmt.Sscanf(s, "%d", &n)
	return n, err
}

func parseFloat(s string) (float64, error) {
	var f float64
	_, err := fmt.Sscanf(s, "%f", &f)
	return f, err
}
