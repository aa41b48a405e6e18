package vae

import (
	"encoding/gob"
	"errors"
	"fmt"
	"io"
)

// weightsVersion tags the serialized blob layout.
const weightsVersion = 1

// ErrBadWeights reports an unreadable or incompatible weights blob.
var ErrBadWeights = errors.New("vae: incompatible weights blob")

// weightsBlob is the serialized form of a trained model: the architecture
// hyperparameters plus flat parameter values keyed by tensor name.
type weightsBlob struct {
	Version int
	RunID   string
	Config  Config
	Step    int
	Tensors map[string][]float64
	History History
}

// SaveWeights writes the model as an opaque gob blob. Optimizer state is
// not persisted; a loaded model serves inference only.
func (m *Model) SaveWeights(w io.Writer) error {
	if !m.trained {
		return ErrNotTrained
	}
	blob := weightsBlob{
		Version: weightsVersion,
		RunID:   m.runID,
		Config:  m.cfg,
		Step:    m.step,
		Tensors: make(map[string][]float64, len(m.params)),
		History: m.History(),
	}
	for _, t := range m.params {
		blob.Tensors[t.name] = t.data
	}
	if err := gob.NewEncoder(w).Encode(blob); err != nil {
		return fmt.Errorf("vae: encode weights: %w", err)
	}
	return nil
}

// LoadWeights reconstructs a trained model from a blob written by
// SaveWeights. The loaded instance keeps the original run id and history
// and reports itself trained, so Fit on it fails with ErrAlreadyTrained.
func LoadWeights(r io.Reader) (*Model, error) {
	var blob weightsBlob
	if err := gob.NewDecoder(r).Decode(&blob); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadWeights, err)
	}
	if blob.Version != weightsVersion {
		return nil, fmt.Errorf("%w: version %d", ErrBadWeights, blob.Version)
	}

	m, err := New(blob.Config)
	if err != nil {
		return nil, err
	}
	for _, t := range m.params {
		data, ok := blob.Tensors[t.name]
		if !ok || len(data) != len(t.data) {
			return nil, fmt.Errorf("%w: tensor %s", ErrBadWeights, t.name)
		}
		copy(t.data, data)
	}
	m.runID = blob.RunID
	m.step = blob.Step
	m.history = blob.History
	m.trained = true
	return m, nil
}
