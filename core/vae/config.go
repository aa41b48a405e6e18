package vae

import (
	"errors"
	"fmt"
)

// =============================================================================
// Configuration
// =============================================================================

// Default hyperparameters. These mirror the experiment settings the model
// was tuned with on MovieLens-scale catalogs; override per experiment.
const (
	DefaultHiddenDim    = 200
	DefaultLatentDim    = 70
	DefaultEpochCount   = 400
	DefaultBatchSize    = 100
	DefaultTopKEval     = 10
	DefaultDropoutRate  = 0.5
	DefaultKLWeight     = 1.0
	DefaultLearningRate = 0.001
	DefaultSeed         = 98765

	// Plateau schedule defaults: fifth the rate after one flat epoch,
	// never below 1e-4.
	DefaultLRDecayFactor   = 0.2
	DefaultLRDecayPatience = 1
	DefaultMinLearningRate = 0.0001
)

var (
	ErrInvalidDimension  = errors.New("vae: dimensions must be positive")
	ErrInvalidSchedule   = errors.New("vae: invalid training schedule")
	ErrInvalidDropout    = errors.New("vae: dropout rate must be in [0, 1)")
	ErrInvalidKLWeight   = errors.New("vae: kl weight must be non-negative")
	ErrInvalidK          = errors.New("vae: k must be positive")
	ErrAlreadyTrained    = errors.New("vae: model is already trained")
	ErrNotTrained        = errors.New("vae: model is not trained")
	ErrDimensionMismatch = errors.New("vae: input width does not match catalog size")
)

// Config describes the model architecture and training schedule. The user
// count is deliberately absent: the architecture depends only on the item
// catalog, so a trained model scores any row count (train, validation, test)
// with the same parameters.
type Config struct {
	// CatalogSize is the item-catalog width, the number of input and
	// output columns.
	CatalogSize int

	// HiddenDim is the width of the single hidden layer on each side of
	// the latent bottleneck.
	HiddenDim int

	// LatentDim is the dimensionality of the latent mean/log-variance
	// vectors.
	LatentDim int

	// EpochCount and BatchSize define the training schedule. A final
	// partial batch is trained on, not dropped.
	EpochCount int
	BatchSize  int

	// TopKEval is the cutoff for the per-epoch validation NDCG monitor.
	// It never gates training.
	TopKEval int

	// EncoderDropoutRate and DecoderDropoutRate are inverted-dropout
	// rates in [0, 1). A rate of 1 would zero the signal entirely, so it
	// is rejected.
	EncoderDropoutRate float64
	DecoderDropoutRate float64

	// UseKLAnnealing linearly ramps the KL weight from 0 to KLWeight over
	// the first 80% of optimizer steps. When disabled, KLWeight applies
	// from the first step.
	UseKLAnnealing bool

	// KLWeight is the target weight on the KL regularizer.
	KLWeight float64

	// LearningRate is the initial Adam step size.
	LearningRate float64

	// LRDecayFactor, LRDecayPatience, and MinLearningRate form the
	// reduce-on-plateau schedule: once the validation loss has gone
	// LRDecayPatience consecutive epochs without improving, the learning
	// rate is multiplied by LRDecayFactor, floored at MinLearningRate. A
	// factor of 1 disables the schedule, as does fitting without a
	// validation matrix.
	LRDecayFactor   float64
	LRDecayPatience int
	MinLearningRate float64

	// Seed drives parameter initialization, batch shuffling, dropout
	// masks, and latent noise. Training is bit-reproducible for a fixed
	// seed and input.
	Seed int64
}

// DefaultConfig returns the default hyperparameters for a catalog of the
// given width.
func DefaultConfig(catalogSize int) Config {
	return Config{
		CatalogSize:        catalogSize,
		HiddenDim:          DefaultHiddenDim,
		LatentDim:          DefaultLatentDim,
		EpochCount:         DefaultEpochCount,
		BatchSize:          DefaultBatchSize,
		TopKEval:           DefaultTopKEval,
		EncoderDropoutRate: DefaultDropoutRate,
		DecoderDropoutRate: DefaultDropoutRate,
		UseKLAnnealing:     true,
		KLWeight:           DefaultKLWeight,
		LearningRate:       DefaultLearningRate,
		LRDecayFactor:      DefaultLRDecayFactor,
		LRDecayPatience:    DefaultLRDecayPatience,
		MinLearningRate:    DefaultMinLearningRate,
		Seed:               DefaultSeed,
	}
}

// Validate fails fast on a malformed configuration, before any computation
// begins.
func (c Config) Validate() error {
	if c.CatalogSize <= 0 {
		return fmt.Errorf("%w: catalog size %d", ErrInvalidDimension, c.CatalogSize)
	}
	if c.HiddenDim <= 0 {
		return fmt.Errorf("%w: hidden dim %d", ErrInvalidDimension, c.HiddenDim)
	}
	if c.LatentDim <= 0 {
		return fmt.Errorf("%w: latent dim %d", ErrInvalidDimension, c.LatentDim)
	}
	if c.EpochCount <= 0 {
		return fmt.Errorf("%w: epoch count %d", ErrInvalidSchedule, c.EpochCount)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("%w: batch size %d", ErrInvalidSchedule, c.BatchSize)
	}
	if c.LearningRate <= 0 {
		return fmt.Errorf("%w: learning rate %v", ErrInvalidSchedule, c.LearningRate)
	}
	if c.LRDecayFactor <= 0 || c.LRDecayFactor > 1 {
		return fmt.Errorf("%w: lr decay factor %v", ErrInvalidSchedule, c.LRDecayFactor)
	}
	if c.LRDecayPatience < 1 {
		return fmt.Errorf("%w: lr decay patience %d", ErrInvalidSchedule, c.LRDecayPatience)
	}
	if c.MinLearningRate < 0 || c.MinLearningRate > c.LearningRate {
		return fmt.Errorf("%w: min learning rate %v", ErrInvalidSchedule, c.MinLearningRate)
	}
	if c.TopKEval <= 0 {
		return fmt.Errorf("%w: top-k eval %d", ErrInvalidK, c.TopKEval)
	}
	if c.EncoderDropoutRate < 0 || c.EncoderDropoutRate >= 1 {
		return fmt.Errorf("%w: encoder rate %v", ErrInvalidDropout, c.EncoderDropoutRate)
	}
	if c.DecoderDropoutRate < 0 || c.DecoderDropoutRate >= 1 {
		return fmt.Errorf("%w: decoder rate %v", ErrInvalidDropout, c.DecoderDropoutRate)
	}
	if c.KLWeight < 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidKLWeight, c.KLWeight)
	}
	return nil
}
