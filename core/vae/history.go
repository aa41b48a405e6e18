package vae

// EpochStats is one epoch's monitor line. LearningRate is the rate the
// epoch trained at, before any plateau reduction it triggered.
type EpochStats struct {
	Epoch        int
	TrainLoss    float64
	ValLoss      float64
	ValNDCG      float64
	KLWeight     float64
	LearningRate float64
}

// History is the per-epoch training record. Aside from the plateau
// learning-rate schedule reacting to the validation loss, nothing in
// training reads it back.
type History struct {
	Epochs []EpochStats
}

// BestEpoch returns the epoch with the highest validation NDCG, the
// earliest on ties. ok is false when no epochs were recorded.
func (h History) BestEpoch() (EpochStats, bool) {
	if len(h.Epochs) == 0 {
		return EpochStats{}, false
	}
	best := h.Epochs[0]
	for _, e := range h.Epochs[1:] {
		if e.ValNDCG > best.ValNDCG {
			best = e
		}
	}
	return best, true
}

// History returns a copy of the training record.
func (m *Model) History() History {
	out := History{Epochs: make([]EpochStats, len(m.history.Epochs))}
	copy(out.Epochs, m.history.Epochs)
	return out
}
