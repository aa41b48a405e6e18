package vae

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/viterin/vek"
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas64"
	"gonum.org/v1/gonum/mat"

	"github.com/nathann3/better-than-netflix-movie-recommender/core/affinity"
	"github.com/nathann3/better-than-netflix-movie-recommender/core/ranking"
)

// =============================================================================
// Training
// =============================================================================

// Adam hyperparameters, standard values.
const (
	adamBeta1 = 0.9
	adamBeta2 = 0.999
	adamEps   = 1e-8
)

// annealRampFraction is the share of optimizer steps over which the KL
// weight climbs to its target.
const annealRampFraction = 0.8

// klSchedule returns the KL weight applied at the given 1-based optimizer
// step. With annealing the weight ramps linearly to target over the first
// 80% of totalSteps and holds there, monotonic non-decreasing throughout;
// without annealing the target applies from the first step.
func klSchedule(step, totalSteps int, target float64, anneal bool) float64 {
	if !anneal {
		return target
	}
	ramp := int(annealRampFraction * float64(totalSteps))
	if ramp < 1 {
		ramp = 1
	}
	if step >= ramp {
		return target
	}
	return target * float64(step) / float64(ramp)
}

// lrPlateau is the reduce-on-plateau learning-rate schedule: after
// patience consecutive epochs where the monitored loss fails to improve
// on its best value, the rate is scaled by factor, floored at min.
type lrPlateau struct {
	factor, min float64
	patience    int

	best float64
	wait int
}

func newLRPlateau(factor, min float64, patience int) *lrPlateau {
	return &lrPlateau{factor: factor, min: min, patience: patience, best: math.Inf(1)}
}

// observe feeds one epoch's monitored loss and returns the learning rate
// for the next epoch given the current one.
func (p *lrPlateau) observe(loss, lr float64) float64 {
	if loss < p.best {
		p.best = loss
		p.wait = 0
		return lr
	}
	p.wait++
	if p.wait < p.patience {
		return lr
	}
	p.wait = 0
	next := lr * p.factor
	if next < p.min {
		next = p.min
	}
	return next
}

// Fit trains the model in place on the binarized training matrix.
//
// The validation arguments feed the per-epoch monitor and the plateau
// learning-rate schedule; they never stop training early. xValid
// contributes a deterministic held-out loss, and xValTr/xValTe with their
// id maps contribute NDCG@TopKEval, computed by recommending from each
// validation user's train-context row with seen items removed and scoring
// against the held-out half. xValTe may carry graded ratings, which then
// act as NDCG gains. Any of them may be nil to skip that part of the
// monitor.
//
// Fit runs to completion once per instance; calling it again fails with
// ErrAlreadyTrained. A nil training matrix degrades to a no-op fit that
// keeps the initialized parameters.
func (m *Model) Fit(xTrain, xValid, xValTr, xValTe *mat.Dense, valUsers, valItems *affinity.IndexMap) error {
	if m.trained {
		return ErrAlreadyTrained
	}
	for _, x := range []*mat.Dense{xTrain, xValid, xValTr, xValTe} {
		if err := m.checkWidth(x); err != nil {
			return err
		}
	}
	if xTrain == nil {
		slog.Warn("no training rows, keeping initialized parameters",
			slog.String("run_id", m.runID))
		m.trained = true
		return nil
	}

	rows, _ := xTrain.Dims()
	V := m.cfg.CatalogSize
	batchSize := m.cfg.BatchSize
	if batchSize > rows {
		batchSize = rows
	}
	nBatches := (rows + batchSize - 1) / batchSize
	totalSteps := m.cfg.EpochCount * nBatches

	for _, t := range m.params {
		t.ensureOptimizerState()
	}
	sc := m.newScratch(batchSize)

	monitor := xValTr != nil && xValTe != nil && valUsers != nil && valItems != nil
	var truth []ranking.Rating
	if monitor {
		truth = affinity.MapBackRatings(xValTe, valUsers, valItems)
	}

	var plateau *lrPlateau
	if xValid != nil && m.cfg.LRDecayFactor < 1 {
		plateau = newLRPlateau(m.cfg.LRDecayFactor, m.cfg.MinLearningRate, m.cfg.LRDecayPatience)
	}

	slog.Info("training started",
		slog.String("run_id", m.runID),
		slog.Int("rows", rows),
		slog.Int("batches_per_epoch", nBatches),
		slog.Int("epochs", m.cfg.EpochCount),
		slog.Bool("kl_annealing", m.cfg.UseKLAnnealing))

	perm := make([]int, rows)
	for i := range perm {
		perm[i] = i
	}

	for epoch := 1; epoch <= m.cfg.EpochCount; epoch++ {
		m.rng.Shuffle(rows, func(a, b int) { perm[a], perm[b] = perm[b], perm[a] })

		var epochLoss, beta float64
		for start := 0; start < rows; start += batchSize {
			end := start + batchSize
			if end > rows {
				end = rows
			}
			b := end - start
			for r := 0; r < b; r++ {
				copy(sc.x[r*V:(r+1)*V], xTrain.RawRowView(perm[start+r]))
			}

			beta = klSchedule(m.step+1, totalSteps, m.cfg.KLWeight, m.cfg.UseKLAnnealing)
			m.forward(sc, b, true)
			recon, kl := m.batchLoss(sc, b)
			m.backward(sc, b, beta)
			m.adamStep()
			epochLoss += (recon + beta*kl) * float64(b)
		}
		epochLoss /= float64(rows)

		var valLoss, valNDCG float64
		if xValid != nil {
			valLoss = m.evalLoss(xValid, sc, beta)
		}
		if monitor {
			valNDCG = m.validationNDCG(xValTr, truth, valUsers, valItems, sc)
		}

		m.history.Epochs = append(m.history.Epochs, EpochStats{
			Epoch:        epoch,
			TrainLoss:    epochLoss,
			ValLoss:      valLoss,
			ValNDCG:      valNDCG,
			KLWeight:     beta,
			LearningRate: m.lr,
		})
		slog.Info("epoch complete",
			slog.String("run_id", m.runID),
			slog.Int("epoch", epoch),
			slog.Float64("train_loss", epochLoss),
			slog.Float64("val_loss", valLoss),
			slog.Float64("val_ndcg", valNDCG),
			slog.Float64("kl_weight", beta),
			slog.Float64("learning_rate", m.lr))

		if plateau != nil {
			next := plateau.observe(valLoss, m.lr)
			if next != m.lr {
				slog.Info("learning rate reduced on plateau",
					slog.String("run_id", m.runID),
					slog.Int("epoch", epoch),
					slog.Float64("learning_rate", next))
				m.lr = next
			}
		}
	}

	m.trained = true
	if best, ok := m.history.BestEpoch(); ok {
		slog.Info("training complete",
			slog.String("run_id", m.runID),
			slog.Int("best_epoch", best.Epoch),
			slog.Float64("best_val_ndcg", best.ValNDCG))
	} else {
		slog.Info("training complete", slog.String("run_id", m.runID))
	}
	return nil
}

func (m *Model) checkWidth(x *mat.Dense) error {
	if x == nil {
		return nil
	}
	_, cols := x.Dims()
	if cols != m.cfg.CatalogSize {
		return fmt.Errorf("%w: got %d columns, catalog is %d", ErrDimensionMismatch, cols, m.cfg.CatalogSize)
	}
	return nil
}

// backward computes parameter gradients for the first b rows of a forwarded
// training scratch. Gradients average over the batch, matching batchLoss;
// klWeight scales the KL branch.
func (m *Model) backward(sc *scratch, b int, klWeight float64) {
	V, H, D := m.cfg.CatalogSize, m.cfg.HiddenDim, m.cfg.LatentDim
	invB := 1 / float64(b)

	// dLogits_j = (softmax_j * Σx - x_j) / b, the log-softmax NLL gradient.
	for r := 0; r < b; r++ {
		x := sc.x[r*V : (r+1)*V]
		logp := sc.logp[r*V : (r+1)*V]
		dl := sc.dLogits[r*V : (r+1)*V]
		mass := vek.Sum(x)
		for j := range dl {
			dl[j] = (math.Exp(logp[j])*mass - x[j]) * invB
		}
	}

	// Output layer: dWout = h2d^T @ dLogits.
	blas64.Gemm(blas.Trans, blas.NoTrans,
		1.0, general(b, H, sc.h2d), general(b, V, sc.dLogits),
		0.0, m.wOut.gradGeneral())
	colSums(sc.dLogits, m.bOut.grad, b, V)

	// Back into the decoder hidden, through dropout then tanh.
	blas64.Gemm(blas.NoTrans, blas.Trans,
		1.0, general(b, V, sc.dLogits), m.wOut.general(),
		0.0, general(b, H, sc.dHidden))
	if m.cfg.DecoderDropoutRate > 0 {
		for i := 0; i < b*H; i++ {
			sc.dHidden[i] *= sc.decMask[i]
		}
	}
	for i := 0; i < b*H; i++ {
		sc.dHidden[i] *= 1 - sc.h2[i]*sc.h2[i]
	}

	blas64.Gemm(blas.Trans, blas.NoTrans,
		1.0, general(b, D, sc.z), general(b, H, sc.dHidden),
		0.0, m.w2.gradGeneral())
	colSums(sc.dHidden, m.b2.grad, b, H)
	blas64.Gemm(blas.NoTrans, blas.Trans,
		1.0, general(b, H, sc.dHidden), m.w2.general(),
		0.0, general(b, D, sc.dZ))

	// Latent heads: reconstruction flow through z plus the KL gradient.
	// dKL/dmu = mu, dKL/dlogvar = 0.5*(exp(logvar) - 1).
	bw := klWeight * invB
	for i := 0; i < b*D; i++ {
		sc.dMu[i] = sc.dZ[i] + bw*sc.mu[i]
		sc.dLv[i] = sc.dZ[i]*sc.eps[i]*0.5*math.Exp(0.5*sc.lv[i]) + bw*0.5*(math.Exp(sc.lv[i])-1)
	}

	blas64.Gemm(blas.Trans, blas.NoTrans,
		1.0, general(b, H, sc.h1), general(b, D, sc.dMu),
		0.0, m.wMu.gradGeneral())
	colSums(sc.dMu, m.bMu.grad, b, D)
	blas64.Gemm(blas.Trans, blas.NoTrans,
		1.0, general(b, H, sc.h1), general(b, D, sc.dLv),
		0.0, m.wLv.gradGeneral())
	colSums(sc.dLv, m.bLv.grad, b, D)

	// Encoder hidden collects both latent branches, then tanh.
	blas64.Gemm(blas.NoTrans, blas.Trans,
		1.0, general(b, D, sc.dMu), m.wMu.general(),
		0.0, general(b, H, sc.dHidden))
	blas64.Gemm(blas.NoTrans, blas.Trans,
		1.0, general(b, D, sc.dLv), m.wLv.general(),
		1.0, general(b, H, sc.dHidden))
	for i := 0; i < b*H; i++ {
		sc.dHidden[i] *= 1 - sc.h1[i]*sc.h1[i]
	}

	blas64.Gemm(blas.Trans, blas.NoTrans,
		1.0, general(b, V, sc.xIn), general(b, H, sc.dHidden),
		0.0, m.w1.gradGeneral())
	colSums(sc.dHidden, m.b1.grad, b, H)
}

func colSums(a, out []float64, rows, cols int) {
	for j := range out {
		out[j] = 0
	}
	for r := 0; r < rows; r++ {
		row := a[r*cols : (r+1)*cols]
		for j, v := range row {
			out[j] += v
		}
	}
}

// adamStep applies one Adam update to every parameter from its current
// gradient, with bias-corrected moment estimates.
func (m *Model) adamStep() {
	m.step++
	lr := m.lr
	c1 := 1 - math.Pow(adamBeta1, float64(m.step))
	c2 := 1 - math.Pow(adamBeta2, float64(m.step))
	for _, t := range m.params {
		for i, g := range t.grad {
			t.adamM[i] = adamBeta1*t.adamM[i] + (1-adamBeta1)*g
			t.adamV[i] = adamBeta2*t.adamV[i] + (1-adamBeta2)*g*g
			t.data[i] -= lr * (t.adamM[i] / c1) / (math.Sqrt(t.adamV[i]/c2) + adamEps)
		}
	}
}

// evalLoss is the deterministic held-out objective: dropout off, latent at
// its mean, averaged over all rows of x, KL term at the given weight.
func (m *Model) evalLoss(x *mat.Dense, sc *scratch, klWeight float64) float64 {
	rows, _ := x.Dims()
	V := m.cfg.CatalogSize

	var total float64
	for start := 0; start < rows; start += sc.maxRows {
		end := start + sc.maxRows
		if end > rows {
			end = rows
		}
		b := end - start
		for r := 0; r < b; r++ {
			copy(sc.x[r*V:(r+1)*V], x.RawRowView(start+r))
		}
		m.forward(sc, b, false)
		recon, kl := m.batchLoss(sc, b)
		total += (recon + klWeight*kl) * float64(b)
	}
	return total / float64(rows)
}

// validationNDCG recommends from each validation user's train-context row
// and scores the result against the held-out half.
func (m *Model) validationNDCG(xValTr *mat.Dense, truth []ranking.Rating, users, items *affinity.IndexMap, sc *scratch) float64 {
	recs := m.recommend(xValTr, m.cfg.TopKEval, true, sc)
	table := rankedTable(recs, users, items)
	v, err := ranking.NDCGAtK(table, truth, m.cfg.TopKEval)
	if err != nil {
		slog.Warn("validation ndcg failed", slog.String("run_id", m.runID), slog.Any("error", err))
		return 0
	}
	return v
}
