// Package vae implements a variational autoencoder for collaborative
// filtering over implicit feedback.
//
// The model encodes a user's binarized catalog-width interaction vector
// into a latent Gaussian (mean and log-variance), samples it via the
// reparameterization trick, and decodes the sample back into a relevance
// distribution over the full catalog. Training minimizes the multinomial
// reconstruction log-likelihood plus a KL regularizer whose weight is
// optionally annealed; inference masks previously seen items and returns
// the top-K catalog columns per user.
//
// All heavy math runs through BLAS on flat row-major float64 buffers. A
// model instance owns its parameters and generator state exclusively:
// training multiple instances concurrently is safe, sharing one instance
// across goroutines during Fit is not.
package vae

import (
	"math"
	"math/rand"

	"github.com/google/uuid"
	"github.com/viterin/vek"
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas64"
)

// =============================================================================
// Parameters
// =============================================================================

// tensor is one parameter matrix in flat row-major layout together with its
// gradient and Adam moment accumulators. Optimizer state is allocated only
// when training starts, so inference-only models stay small.
type tensor struct {
	name       string
	rows, cols int
	data       []float64
	grad       []float64
	adamM      []float64
	adamV      []float64
}

func newTensor(name string, rows, cols int) *tensor {
	return &tensor{name: name, rows: rows, cols: cols, data: make([]float64, rows*cols)}
}

// glorotInit fills the tensor with Glorot-uniform samples,
// limit = sqrt(6 / (fanIn + fanOut)). Biases keep their zero value.
func (t *tensor) glorotInit(rng *rand.Rand) {
	limit := math.Sqrt(6 / float64(t.rows+t.cols))
	for i := range t.data {
		t.data[i] = (rng.Float64()*2 - 1) * limit
	}
}

func (t *tensor) ensureOptimizerState() {
	if t.grad == nil {
		t.grad = make([]float64, len(t.data))
		t.adamM = make([]float64, len(t.data))
		t.adamV = make([]float64, len(t.data))
	}
}

func (t *tensor) general() blas64.General {
	return blas64.General{Rows: t.rows, Cols: t.cols, Stride: t.cols, Data: t.data}
}

func (t *tensor) gradGeneral() blas64.General {
	return blas64.General{Rows: t.rows, Cols: t.cols, Stride: t.cols, Data: t.grad}
}

// general describes the first rows×cols entries of a flat buffer for BLAS.
func general(rows, cols int, data []float64) blas64.General {
	return blas64.General{Rows: rows, Cols: cols, Stride: cols, Data: data[:rows*cols]}
}

// =============================================================================
// Model
// =============================================================================

// Model is a variational autoencoder over a fixed item catalog. Build one
// with New, train it once with Fit, then call RecommendKItems any number of
// times.
type Model struct {
	cfg   Config
	runID string
	rng   *rand.Rand

	w1, b1     *tensor // input -> encoder hidden
	wMu, bMu   *tensor // encoder hidden -> latent mean
	wLv, bLv   *tensor // encoder hidden -> latent log-variance
	w2, b2     *tensor // latent -> decoder hidden
	wOut, bOut *tensor // decoder hidden -> catalog logits

	params []*tensor

	trained bool
	step    int
	lr      float64 // current Adam step size, decayed on validation plateau
	history History
}

// New builds an untrained model from the configuration. Parameters are
// initialized Glorot-uniform from the configured seed, so two models built
// from equal configurations start identical.
func New(cfg Config) (*Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m := &Model{
		cfg:   cfg,
		runID: uuid.NewString(),
		rng:   rand.New(rand.NewSource(cfg.Seed)),
		lr:    cfg.LearningRate,
	}

	V, H, D := cfg.CatalogSize, cfg.HiddenDim, cfg.LatentDim
	m.w1 = newTensor("enc_hidden_w", V, H)
	m.b1 = newTensor("enc_hidden_b", 1, H)
	m.wMu = newTensor("enc_mean_w", H, D)
	m.bMu = newTensor("enc_mean_b", 1, D)
	m.wLv = newTensor("enc_logvar_w", H, D)
	m.bLv = newTensor("enc_logvar_b", 1, D)
	m.w2 = newTensor("dec_hidden_w", D, H)
	m.b2 = newTensor("dec_hidden_b", 1, H)
	m.wOut = newTensor("dec_out_w", H, V)
	m.bOut = newTensor("dec_out_b", 1, V)
	m.params = []*tensor{m.w1, m.b1, m.wMu, m.bMu, m.wLv, m.bLv, m.w2, m.b2, m.wOut, m.bOut}

	for _, t := range []*tensor{m.w1, m.wMu, m.wLv, m.w2, m.wOut} {
		t.glorotInit(m.rng)
	}
	return m, nil
}

// Config returns the configuration the model was built with.
func (m *Model) Config() Config { return m.cfg }

// RunID identifies this model instance across logs and persisted artifacts.
func (m *Model) RunID() string { return m.runID }

// Trained reports whether Fit has completed on this instance.
func (m *Model) Trained() bool { return m.trained }

// =============================================================================
// Forward pass
// =============================================================================

// scratch holds activation and gradient buffers for batches of up to
// maxRows rows. One scratch serves a whole Fit or inference call; buffers
// are reused across batches. dHidden is shared between the decoder and
// encoder hidden gradients, which backward consumes in that order.
type scratch struct {
	maxRows int

	x       []float64 // raw batch rows, the reconstruction target
	xIn     []float64 // encoder input after dropout
	h1      []float64
	mu, lv  []float64
	eps, z  []float64
	h2, h2d []float64
	decMask []float64
	logits  []float64
	logp    []float64

	dLogits      []float64
	dHidden      []float64
	dZ, dMu, dLv []float64
}

func (m *Model) newScratch(maxRows int) *scratch {
	V, H, D := m.cfg.CatalogSize, m.cfg.HiddenDim, m.cfg.LatentDim
	return &scratch{
		maxRows: maxRows,
		x:       make([]float64, maxRows*V),
		xIn:     make([]float64, maxRows*V),
		h1:      make([]float64, maxRows*H),
		mu:      make([]float64, maxRows*D),
		lv:      make([]float64, maxRows*D),
		eps:     make([]float64, maxRows*D),
		z:       make([]float64, maxRows*D),
		h2:      make([]float64, maxRows*H),
		h2d:     make([]float64, maxRows*H),
		decMask: make([]float64, maxRows*H),
		logits:  make([]float64, maxRows*V),
		logp:    make([]float64, maxRows*V),
		dLogits: make([]float64, maxRows*V),
		dHidden: make([]float64, maxRows*H),
		dZ:      make([]float64, maxRows*D),
		dMu:     make([]float64, maxRows*D),
		dLv:     make([]float64, maxRows*D),
	}
}

// forward runs the first b rows of sc.x through the network. In training
// mode dropout masks are sampled and the latent is drawn through the
// reparameterization step z = mean + exp(0.5*logVar)*eps; in evaluation
// mode dropout is skipped and the latent collapses to its mean, so
// evaluation and inference are deterministic. Model scores are the
// log-softmax rows in sc.logp.
func (m *Model) forward(sc *scratch, b int, train bool) {
	V, H, D := m.cfg.CatalogSize, m.cfg.HiddenDim, m.cfg.LatentDim

	copy(sc.xIn[:b*V], sc.x[:b*V])
	if train && m.cfg.EncoderDropoutRate > 0 {
		applyDropout(sc.xIn[:b*V], nil, m.cfg.EncoderDropoutRate, m.rng)
	}

	// Encoder hidden: tanh(xIn @ w1 + b1)
	blas64.Gemm(blas.NoTrans, blas.NoTrans,
		1.0, general(b, V, sc.xIn), m.w1.general(),
		0.0, general(b, H, sc.h1))
	addBiasTanh(sc.h1, m.b1.data, b, H)

	// Latent heads.
	blas64.Gemm(blas.NoTrans, blas.NoTrans,
		1.0, general(b, H, sc.h1), m.wMu.general(),
		0.0, general(b, D, sc.mu))
	addBias(sc.mu, m.bMu.data, b, D)
	blas64.Gemm(blas.NoTrans, blas.NoTrans,
		1.0, general(b, H, sc.h1), m.wLv.general(),
		0.0, general(b, D, sc.lv))
	addBias(sc.lv, m.bLv.data, b, D)

	if train {
		for i := 0; i < b*D; i++ {
			sc.eps[i] = m.rng.NormFloat64()
		}
		sampleLatent(sc.mu[:b*D], sc.lv[:b*D], sc.eps[:b*D], sc.z[:b*D])
	} else {
		copy(sc.z[:b*D], sc.mu[:b*D])
	}

	// Decoder hidden: tanh(z @ w2 + b2), then dropout.
	blas64.Gemm(blas.NoTrans, blas.NoTrans,
		1.0, general(b, D, sc.z), m.w2.general(),
		0.0, general(b, H, sc.h2))
	addBiasTanh(sc.h2, m.b2.data, b, H)

	copy(sc.h2d[:b*H], sc.h2[:b*H])
	if train && m.cfg.DecoderDropoutRate > 0 {
		applyDropout(sc.h2d[:b*H], sc.decMask[:b*H], m.cfg.DecoderDropoutRate, m.rng)
	}

	// Catalog logits and row-wise log-softmax.
	blas64.Gemm(blas.NoTrans, blas.NoTrans,
		1.0, general(b, H, sc.h2d), m.wOut.general(),
		0.0, general(b, V, sc.logits))
	addBias(sc.logits, m.bOut.data, b, V)
	logSoftmaxRows(sc.logits, sc.logp, b, V)
}

// sampleLatent fills z with mu + exp(0.5*lv)*eps elementwise. The noise is
// supplied by the caller, so the sample is a deterministic function of its
// inputs.
func sampleLatent(mu, lv, eps, z []float64) {
	for i := range z {
		z[i] = mu[i] + math.Exp(0.5*lv[i])*eps[i]
	}
}

// applyDropout zeroes each entry with probability rate and scales survivors
// by 1/(1-rate), keeping activations unbiased in expectation. When mask is
// non-nil the applied factors are recorded for the backward pass.
func applyDropout(a, mask []float64, rate float64, rng *rand.Rand) {
	scale := 1 / (1 - rate)
	for i := range a {
		f := scale
		if rng.Float64() < rate {
			f = 0
		}
		a[i] *= f
		if mask != nil {
			mask[i] = f
		}
	}
}

func addBias(a, bias []float64, rows, cols int) {
	for r := 0; r < rows; r++ {
		row := a[r*cols : (r+1)*cols]
		for j, bj := range bias {
			row[j] += bj
		}
	}
}

func addBiasTanh(a, bias []float64, rows, cols int) {
	for r := 0; r < rows; r++ {
		row := a[r*cols : (r+1)*cols]
		for j, bj := range bias {
			row[j] = math.Tanh(row[j] + bj)
		}
	}
}

// softmaxEpsilon stabilizes the normalized-exponentiation denominator for
// degenerate rows.
const softmaxEpsilon = 1e-12

// logSoftmaxRows computes a numerically stable row-wise log-softmax:
// the row maximum is shifted out before exponentiation.
func logSoftmaxRows(logits, logp []float64, rows, cols int) {
	for r := 0; r < rows; r++ {
		in := logits[r*cols : (r+1)*cols]
		out := logp[r*cols : (r+1)*cols]

		max := vek.Max(in)
		var sum float64
		for _, v := range in {
			sum += math.Exp(v - max)
		}
		logSum := math.Log(sum + softmaxEpsilon)
		for j, v := range in {
			out[j] = v - max - logSum
		}
	}
}

// batchLoss returns the mean multinomial reconstruction loss and mean KL
// divergence for the first b rows of a forwarded scratch.
func (m *Model) batchLoss(sc *scratch, b int) (recon, kl float64) {
	V, D := m.cfg.CatalogSize, m.cfg.LatentDim
	for r := 0; r < b; r++ {
		x := sc.x[r*V : (r+1)*V]
		logp := sc.logp[r*V : (r+1)*V]
		recon -= vek.Dot(x, logp)

		mu := sc.mu[r*D : (r+1)*D]
		lv := sc.lv[r*D : (r+1)*D]
		for d := 0; d < D; d++ {
			kl -= 0.5 * (1 + lv[d] - mu[d]*mu[d] - math.Exp(lv[d]))
		}
	}
	return recon / float64(b), kl / float64(b)
}
