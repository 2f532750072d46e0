package ppo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maro/internal/rl"
)

func newTestPolicy(t *testing.T, seed int64) *Policy {
	t.Helper()
	net, err := NewNetwork(NetworkConfig{
		ObsDim:     3,
		HiddenDim:  8,
		ActionSpec: pairedSpec(2, 3),
		Seed:       seed,
	})
	require.NoError(t, err)
	return NewPolicy(net, Options{}, seed)
}

func TestPolicyChooseReturnsValidActions(t *testing.T) {
	policy := newTestPolicy(t, 42)
	obs := []float64{0.5, -0.5, 1}

	for _, epsilon := range []float64{0, 0.4, 1} {
		action, logProb, err := policy.Choose(obs, epsilon)
		require.NoError(t, err)
		require.NoError(t, action.Validate())
		assert.Equal(t, rl.PairedAction, action.Kind)
		assert.Less(t, logProb, 0.0)

		_, err = pairedSpec(2, 3).IndexOf(action)
		assert.NoError(t, err)
	}
}

func TestPolicyChooseExploresUnderFullEpsilon(t *testing.T) {
	policy := newTestPolicy(t, 42)
	obs := []float64{0.5, -0.5, 1}

	seen := map[int]bool{}
	for i := 0; i < 100; i++ {
		action, _, err := policy.Choose(obs, 1.0)
		require.NoError(t, err)
		index, err := pairedSpec(2, 3).IndexOf(action)
		require.NoError(t, err)
		seen[index] = true
	}
	assert.GreaterOrEqual(t, len(seen), 2, "uniform exploration should hit several actions")
}

func TestPolicyChooseRejectsWrongObservationWidth(t *testing.T) {
	policy := newTestPolicy(t, 42)
	_, _, err := policy.Choose([]float64{1}, 0)
	assert.ErrorContains(t, err, "model expects 3")
}

func TestPolicySnapshotRestoreRoundTrip(t *testing.T) {
	source := newTestPolicy(t, 42)
	target := newTestPolicy(t, 7)
	require.NotEqual(t, source.trainer.current.Parameters(), target.trainer.current.Parameters())

	snapshot, err := source.Snapshot()
	require.NoError(t, err)

	require.NoError(t, target.Restore(snapshot))
	assert.Equal(t, source.trainer.current.Parameters(), target.trainer.current.Parameters())
	assert.Equal(t, source.trainer.current.Parameters(), target.trainer.lagged.Parameters(),
		"restore must align the lagged copy too")
}

func TestPolicyRestoreRejectsGarbage(t *testing.T) {
	policy := newTestPolicy(t, 42)

	err := policy.Restore([]byte("not json"))
	assert.ErrorContains(t, err, "failed to decode policy snapshot")

	err = policy.Restore([]byte(`{"params": [1, 2]}`))
	assert.ErrorContains(t, err, "parameter size mismatch")
}

func TestPolicyLearnDelegatesToTrainer(t *testing.T) {
	policy := newTestPolicy(t, 42)

	require.NoError(t, policy.Learn(nil))
	epochs, iterations := policy.Trainer().Counters()
	assert.Equal(t, 0, epochs)
	assert.Equal(t, 0, iterations)

	rollout := []rl.Transition{{
		Observation:     []float64{1, 0, -1},
		Action:          rl.NewPairedAction(1, 2),
		Reward:          0.5,
		NextObservation: []float64{0, 1, -1},
		Discount:        0,
		LogProb:         -1.8,
	}}
	require.NoError(t, policy.Learn(rollout))
	epochs, iterations = policy.Trainer().Counters()
	assert.Equal(t, defaultEpochs, epochs)
	assert.Equal(t, 1, iterations)
}
