package vae

import (
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/nathann3/better-than-netflix-movie-recommender/core/affinity"
)

func TestKLScheduleConstantWithoutAnnealing(t *testing.T) {
	for _, step := range []int{1, 50, 1000} {
		if got := klSchedule(step, 1000, 0.7, false); got != 0.7 {
			t.Errorf("step %d: weight = %v, want constant 0.7", step, got)
		}
	}
}

func TestKLScheduleRampsToTarget(t *testing.T) {
	const total = 100
	const target = 1.0

	prev := -1.0
	for step := 1; step <= total; step++ {
		w := klSchedule(step, total, target, true)
		if w < prev {
			t.Fatalf("step %d: weight %v dropped below %v", step, w, prev)
		}
		if w > target {
			t.Fatalf("step %d: weight %v exceeds target", step, w)
		}
		prev = w
	}

	if first := klSchedule(1, total, target, true); first > 0.05 {
		t.Errorf("first step weight = %v, should start near zero", first)
	}
	ramp := int(annealRampFraction * float64(total))
	if got := klSchedule(ramp, total, target, true); got != target {
		t.Errorf("weight at end of ramp = %v, want target %v", got, target)
	}
	if got := klSchedule(total, total, target, true); got != target {
		t.Errorf("weight at final step = %v, want target %v", got, target)
	}
}

func TestKLScheduleTinyRunStillReachesTarget(t *testing.T) {
	if got := klSchedule(1, 1, 0.5, true); got != 0.5 {
		t.Errorf("single-step run weight = %v, want 0.5", got)
	}
}

func TestLRPlateauReducesWhenLossStalls(t *testing.T) {
	p := newLRPlateau(0.2, 0.0001, 1)

	lr := p.observe(1.0, 0.01)
	if lr != 0.01 {
		t.Fatalf("first observation changed the rate to %v", lr)
	}
	lr = p.observe(1.0, lr)
	if lr != 0.01*0.2 {
		t.Fatalf("stalled epoch: rate = %v, want %v", lr, 0.01*0.2)
	}
	if got := p.observe(0.5, lr); got != lr {
		t.Errorf("improving epoch changed the rate to %v", got)
	}
}

func TestLRPlateauHonorsPatience(t *testing.T) {
	p := newLRPlateau(0.5, 0, 2)

	lr := p.observe(1.0, 0.01)
	lr = p.observe(1.0, lr)
	if lr != 0.01 {
		t.Fatalf("rate reduced after one stalled epoch with patience 2, got %v", lr)
	}
	lr = p.observe(1.0, lr)
	if lr != 0.005 {
		t.Fatalf("rate after two stalled epochs = %v, want 0.005", lr)
	}
}

func TestLRPlateauFlooredAtMin(t *testing.T) {
	p := newLRPlateau(0.2, 0.001, 1)

	lr := p.observe(1.0, 0.002)
	for i := 0; i < 3; i++ {
		lr = p.observe(1.0, lr)
	}
	if lr != 0.001 {
		t.Errorf("rate = %v, want the 0.001 floor", lr)
	}
}

func TestFitReducesTrainingLoss(t *testing.T) {
	m, err := New(tinyConfig(10))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	x := blockMatrix(16, 10)
	if err := m.Fit(x, nil, nil, nil, nil, nil); err != nil {
		t.Fatalf("fit: %v", err)
	}

	h := m.History()
	if len(h.Epochs) != m.Config().EpochCount {
		t.Fatalf("history has %d epochs, want %d", len(h.Epochs), m.Config().EpochCount)
	}
	first := h.Epochs[0].TrainLoss
	last := h.Epochs[len(h.Epochs)-1].TrainLoss
	if !(last < first) {
		t.Errorf("training loss did not decrease: first %v, last %v", first, last)
	}
	for _, e := range h.Epochs {
		if math.IsNaN(e.TrainLoss) || math.IsInf(e.TrainLoss, 0) {
			t.Fatalf("epoch %d: non-finite loss %v", e.Epoch, e.TrainLoss)
		}
	}
}

func TestFitDeterministicAcrossRuns(t *testing.T) {
	x := blockMatrix(16, 10)

	run := func() *Model {
		m, err := New(tinyConfig(10))
		if err != nil {
			t.Fatalf("new: %v", err)
		}
		if err := m.Fit(x, nil, nil, nil, nil, nil); err != nil {
			t.Fatalf("fit: %v", err)
		}
		return m
	}

	a, b := run(), run()
	for i := range a.params {
		pa, pb := a.params[i], b.params[i]
		for j := range pa.data {
			if pa.data[j] != pb.data[j] {
				t.Fatalf("%s[%d] differs across identically seeded runs", pa.name, j)
			}
		}
	}
}

func TestFitTwiceFails(t *testing.T) {
	m, _ := New(tinyConfig(10))
	x := blockMatrix(8, 10)
	if err := m.Fit(x, nil, nil, nil, nil, nil); err != nil {
		t.Fatalf("first fit: %v", err)
	}
	if err := m.Fit(x, nil, nil, nil, nil, nil); !errors.Is(err, ErrAlreadyTrained) {
		t.Errorf("second fit: got %v, want ErrAlreadyTrained", err)
	}
}

func TestFitWidthMismatch(t *testing.T) {
	m, _ := New(tinyConfig(10))
	bad := blockMatrix(8, 6)
	if err := m.Fit(bad, nil, nil, nil, nil, nil); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("train width: got %v, want ErrDimensionMismatch", err)
	}

	good := blockMatrix(8, 10)
	if err := m.Fit(good, bad, nil, nil, nil, nil); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("validation width: got %v, want ErrDimensionMismatch", err)
	}
}

func TestFitNilTrainingMatrixDegrades(t *testing.T) {
	m, _ := New(tinyConfig(10))
	if err := m.Fit(nil, nil, nil, nil, nil, nil); err != nil {
		t.Fatalf("nil training matrix should not error, got %v", err)
	}
	if !m.Trained() {
		t.Fatal("model should report trained after degenerate fit")
	}

	recs, err := m.RecommendKItems(blockMatrix(2, 10), 3, false)
	if err != nil {
		t.Fatalf("recommend after degenerate fit: %v", err)
	}
	for _, row := range recs {
		for _, s := range row {
			if math.IsNaN(s.Score) {
				t.Fatal("initialized parameters produced NaN scores")
			}
		}
	}
}

func TestFitRecordsAnnealedKLWeight(t *testing.T) {
	cfg := tinyConfig(10)
	cfg.EpochCount = 20
	m, _ := New(cfg)
	if err := m.Fit(blockMatrix(16, 10), nil, nil, nil, nil, nil); err != nil {
		t.Fatalf("fit: %v", err)
	}

	h := m.History()
	prev := -1.0
	for _, e := range h.Epochs {
		if e.KLWeight < prev {
			t.Fatalf("epoch %d: kl weight %v dropped below %v", e.Epoch, e.KLWeight, prev)
		}
		prev = e.KLWeight
	}
	if first := h.Epochs[0].KLWeight; first >= cfg.KLWeight {
		t.Errorf("first epoch kl weight = %v, should still be ramping", first)
	}
	if last := h.Epochs[len(h.Epochs)-1].KLWeight; last != cfg.KLWeight {
		t.Errorf("final kl weight = %v, want target %v", last, cfg.KLWeight)
	}
}

func TestFitLearningRateFixedWithoutValidation(t *testing.T) {
	cfg := tinyConfig(10)
	cfg.EpochCount = 10
	m, _ := New(cfg)
	if err := m.Fit(blockMatrix(16, 10), nil, nil, nil, nil, nil); err != nil {
		t.Fatalf("fit: %v", err)
	}
	for _, e := range m.History().Epochs {
		if e.LearningRate != cfg.LearningRate {
			t.Fatalf("epoch %d: rate %v drifted without a validation monitor", e.Epoch, e.LearningRate)
		}
	}
}

func TestFitLearningRateDecaysMonotonically(t *testing.T) {
	cfg := tinyConfig(10)
	cfg.EpochCount = 15
	m, _ := New(cfg)
	if err := m.Fit(blockMatrix(16, 10), blockMatrix(6, 10), nil, nil, nil, nil); err != nil {
		t.Fatalf("fit: %v", err)
	}

	h := m.History()
	if first := h.Epochs[0].LearningRate; first != cfg.LearningRate {
		t.Fatalf("first epoch rate = %v, want %v", first, cfg.LearningRate)
	}
	prev := math.Inf(1)
	for _, e := range h.Epochs {
		if e.LearningRate > prev {
			t.Fatalf("epoch %d: rate %v rose above %v", e.Epoch, e.LearningRate, prev)
		}
		if e.LearningRate < cfg.MinLearningRate {
			t.Fatalf("epoch %d: rate %v fell below the floor", e.Epoch, e.LearningRate)
		}
		prev = e.LearningRate
	}
}

// halveMatrix alternates each row's non-zero entries between a context half
// and a held-out half.
func halveMatrix(x *mat.Dense) (tr, te *mat.Dense) {
	rows, cols := x.Dims()
	tr = mat.NewDense(rows, cols, nil)
	te = mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		toggle := false
		for j := 0; j < cols; j++ {
			v := x.At(i, j)
			if v == 0 {
				continue
			}
			if toggle {
				te.Set(i, j, v)
			} else {
				tr.Set(i, j, v)
			}
			toggle = !toggle
		}
	}
	return tr, te
}

func TestFitValidationMonitor(t *testing.T) {
	cfg := tinyConfig(10)
	cfg.EpochCount = 5
	m, _ := New(cfg)

	xTrain := blockMatrix(16, 10)
	xVal := blockMatrix(6, 10)
	xValTr, xValTe := halveMatrix(xVal)
	valUsers := affinity.NewIndexMap([]string{"v0", "v1", "v2", "v3", "v4", "v5"})
	valItems := affinity.NewIndexMap([]string{"i0", "i1", "i2", "i3", "i4", "i5", "i6", "i7", "i8", "i9"})

	if err := m.Fit(xTrain, xVal, xValTr, xValTe, valUsers, valItems); err != nil {
		t.Fatalf("fit: %v", err)
	}

	h := m.History()
	if len(h.Epochs) != cfg.EpochCount {
		t.Fatalf("history has %d epochs, want %d", len(h.Epochs), cfg.EpochCount)
	}
	for _, e := range h.Epochs {
		if math.IsNaN(e.ValLoss) || math.IsInf(e.ValLoss, 0) {
			t.Fatalf("epoch %d: non-finite validation loss %v", e.Epoch, e.ValLoss)
		}
		if e.ValNDCG < 0 || e.ValNDCG > 1 {
			t.Fatalf("epoch %d: validation ndcg %v outside [0,1]", e.Epoch, e.ValNDCG)
		}
	}
	if _, ok := h.BestEpoch(); !ok {
		t.Error("best epoch should exist after a monitored fit")
	}
}

func TestBestEpochPicksHighestNDCG(t *testing.T) {
	h := History{Epochs: []EpochStats{
		{Epoch: 1, ValNDCG: 0.2},
		{Epoch: 2, ValNDCG: 0.5},
		{Epoch: 3, ValNDCG: 0.5},
		{Epoch: 4, ValNDCG: 0.1},
	}}
	best, ok := h.BestEpoch()
	if !ok {
		t.Fatal("expected a best epoch")
	}
	if best.Epoch != 2 {
		t.Errorf("best epoch = %d, want earliest of the tie (2)", best.Epoch)
	}

	if _, ok := (History{}).BestEpoch(); ok {
		t.Error("empty history should have no best epoch")
	}
}
