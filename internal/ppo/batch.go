package ppo

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"maro/internal/rl"
)

// Batch is a rollout aggregated into stacked tensors ready for the
// update loop. Observations and next observations are row-stacked,
// actions are flattened into policy output indices.
type Batch struct {
	Observations     *mat.Dense
	NextObservations *mat.Dense
	Actions          []int
	Rewards          []float64
	Discounts        []float64
	LogProbs         []float64
}

// Size returns the number of transitions in the batch.
func (b *Batch) Size() int {
	return len(b.Actions)
}

// NewBatch stacks a rollout. An empty rollout yields an empty batch;
// malformed transitions (mixed action variants, ragged observations,
// out-of-range actions) are an error because they indicate a corrupt
// experience payload rather than an unlucky episode.
func NewBatch(transitions []rl.Transition, spec ActionSpec) (*Batch, error) {
	batch := &Batch{}
	if len(transitions) == 0 {
		return batch, nil
	}

	obsDim := len(transitions[0].Observation)
	if obsDim == 0 {
		return nil, fmt.Errorf("transition 0 has an empty observation")
	}

	n := len(transitions)
	obs := make([]float64, 0, n*obsDim)
	next := make([]float64, 0, n*obsDim)
	batch.Actions = make([]int, 0, n)
	batch.Rewards = make([]float64, 0, n)
	batch.Discounts = make([]float64, 0, n)
	batch.LogProbs = make([]float64, 0, n)

	for i, tr := range transitions {
		if len(tr.Observation) != obsDim {
			return nil, fmt.Errorf("transition %d observation has %d features, transition 0 has %d", i, len(tr.Observation), obsDim)
		}
		if len(tr.NextObservation) != obsDim {
			return nil, fmt.Errorf("transition %d next observation has %d features, want %d", i, len(tr.NextObservation), obsDim)
		}
		index, err := spec.IndexOf(tr.Action)
		if err != nil {
			return nil, fmt.Errorf("transition %d: %w", i, err)
		}
		obs = append(obs, tr.Observation...)
		next = append(next, tr.NextObservation...)
		batch.Actions = append(batch.Actions, index)
		batch.Rewards = append(batch.Rewards, tr.Reward)
		batch.Discounts = append(batch.Discounts, tr.Discount)
		batch.LogProbs = append(batch.LogProbs, tr.LogProb)
	}

	batch.Observations = mat.NewDense(n, obsDim, obs)
	batch.NextObservations = mat.NewDense(n, obsDim, next)
	return batch, nil
}
