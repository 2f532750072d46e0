package ppo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maro/internal/rl"
)

func TestNewBatchEmptyRollout(t *testing.T) {
	batch, err := NewBatch(nil, singleSpec(4))
	require.NoError(t, err)
	assert.Equal(t, 0, batch.Size())
}

func TestNewBatchStacksInOrder(t *testing.T) {
	transitions := []rl.Transition{
		{
			Observation:     []float64{1, 2},
			Action:          rl.NewSingleAction(0),
			Reward:          1.5,
			NextObservation: []float64{3, 4},
			Discount:        0.99,
			LogProb:         -0.2,
		},
		{
			Observation:     []float64{5, 6},
			Action:          rl.NewSingleAction(2),
			Reward:          -0.5,
			NextObservation: []float64{7, 8},
			Discount:        0,
			LogProb:         -1.1,
		},
	}

	batch, err := NewBatch(transitions, singleSpec(3))
	require.NoError(t, err)
	require.Equal(t, 2, batch.Size())

	rows, cols := batch.Observations.Dims()
	assert.Equal(t, 2, rows)
	assert.Equal(t, 2, cols)
	assert.Equal(t, []float64{5, 6}, batch.Observations.RawRowView(1))
	assert.Equal(t, []float64{7, 8}, batch.NextObservations.RawRowView(1))
	assert.Equal(t, []int{0, 2}, batch.Actions)
	assert.Equal(t, []float64{1.5, -0.5}, batch.Rewards)
	assert.Equal(t, []float64{0.99, 0}, batch.Discounts)
	assert.Equal(t, []float64{-0.2, -1.1}, batch.LogProbs)
}

func TestNewBatchFlattensPairedActions(t *testing.T) {
	transitions := []rl.Transition{
		{
			Observation:     []float64{1},
			Action:          rl.NewPairedAction(1, 2),
			NextObservation: []float64{2},
		},
	}

	batch, err := NewBatch(transitions, pairedSpec(3, 4))
	require.NoError(t, err)
	assert.Equal(t, []int{6}, batch.Actions)
}

func TestNewBatchRejectsMalformedRollouts(t *testing.T) {
	tests := []struct {
		name        string
		transitions []rl.Transition
		spec        ActionSpec
		wantErr     string
	}{
		{
			name: "mixed action kinds",
			transitions: []rl.Transition{
				{Observation: []float64{1}, NextObservation: []float64{2}, Action: rl.NewPairedAction(0, 0)},
			},
			spec:    singleSpec(3),
			wantErr: "does not match",
		},
		{
			name: "ragged observations",
			transitions: []rl.Transition{
				{Observation: []float64{1, 2}, NextObservation: []float64{3, 4}, Action: rl.NewSingleAction(0)},
				{Observation: []float64{1}, NextObservation: []float64{3, 4}, Action: rl.NewSingleAction(1)},
			},
			spec:    singleSpec(3),
			wantErr: "transition 1 observation",
		},
		{
			name: "ragged next observations",
			transitions: []rl.Transition{
				{Observation: []float64{1, 2}, NextObservation: []float64{3}, Action: rl.NewSingleAction(0)},
			},
			spec:    singleSpec(3),
			wantErr: "next observation",
		},
		{
			name: "empty observation",
			transitions: []rl.Transition{
				{Observation: nil, NextObservation: []float64{1}, Action: rl.NewSingleAction(0)},
			},
			spec:    singleSpec(3),
			wantErr: "empty observation",
		},
		{
			name: "action out of range",
			transitions: []rl.Transition{
				{Observation: []float64{1}, NextObservation: []float64{2}, Action: rl.NewSingleAction(7)},
			},
			spec:    singleSpec(3),
			wantErr: "out of range",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewBatch(tt.transitions, tt.spec)
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
