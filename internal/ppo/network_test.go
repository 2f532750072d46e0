package ppo

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maro/internal/rl"
)

func singleSpec(actions int) ActionSpec {
	return ActionSpec{Kind: rl.SingleAction, Actions: actions}
}

func pairedSpec(sources, targets int) ActionSpec {
	return ActionSpec{Kind: rl.PairedAction, Sources: sources, Targets: targets}
}

func newTestNetwork(t *testing.T, spec ActionSpec) *Network {
	t.Helper()
	net, err := NewNetwork(NetworkConfig{
		ObsDim:     3,
		HiddenDim:  8,
		ActionSpec: spec,
		Seed:       42,
	})
	require.NoError(t, err)
	return net
}

func TestActionSpecSize(t *testing.T) {
	tests := []struct {
		name    string
		spec    ActionSpec
		want    int
		wantErr bool
	}{
		{name: "single", spec: singleSpec(5), want: 5},
		{name: "paired", spec: pairedSpec(3, 4), want: 12},
		{name: "single without actions", spec: singleSpec(0), wantErr: true},
		{name: "paired without targets", spec: pairedSpec(3, 0), wantErr: true},
		{name: "unknown kind", spec: ActionSpec{Kind: "mystery"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			size, err := tt.spec.Size()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, size)
		})
	}
}

func TestActionSpecIndexRoundTrip(t *testing.T) {
	specs := []ActionSpec{singleSpec(6), pairedSpec(3, 4)}
	for _, spec := range specs {
		size, err := spec.Size()
		require.NoError(t, err)
		for i := 0; i < size; i++ {
			action := spec.ActionOf(i)
			require.NoError(t, action.Validate())
			index, err := spec.IndexOf(action)
			require.NoError(t, err)
			assert.Equal(t, i, index)
		}
	}
}

func TestActionSpecIndexOfRejectsMismatch(t *testing.T) {
	_, err := singleSpec(4).IndexOf(rl.NewPairedAction(0, 1))
	assert.ErrorContains(t, err, "does not match")

	_, err = singleSpec(4).IndexOf(rl.NewSingleAction(4))
	assert.ErrorContains(t, err, "out of range")

	_, err = pairedSpec(2, 3).IndexOf(rl.NewPairedAction(2, 0))
	assert.ErrorContains(t, err, "out of range")
}

func TestNetworkParametersRoundTrip(t *testing.T) {
	net := newTestNetwork(t, singleSpec(4))

	params := net.Parameters()
	mutated := append([]float64(nil), params...)
	for i := range mutated {
		mutated[i] += 0.25
	}

	require.NoError(t, net.SetParameters(mutated))
	assert.Equal(t, mutated, net.Parameters())

	err := net.SetParameters(mutated[:len(mutated)-1])
	assert.ErrorContains(t, err, "parameter size mismatch")
}

func TestNetworkSyncFromIsDeepCopy(t *testing.T) {
	src := newTestNetwork(t, singleSpec(4))
	dst, err := NewNetwork(NetworkConfig{ObsDim: 3, HiddenDim: 8, ActionSpec: singleSpec(4), Seed: 7})
	require.NoError(t, err)
	require.NotEqual(t, src.Parameters(), dst.Parameters())

	dst.SyncFrom(src)
	assert.Equal(t, src.Parameters(), dst.Parameters())

	// Mutating the source afterwards must not leak into the copy.
	params := src.Parameters()
	params[0] += 1.0
	require.NoError(t, src.SetParameters(params))
	assert.NotEqual(t, src.Parameters(), dst.Parameters())
}

func TestNetworkForwardRejectsWrongWidth(t *testing.T) {
	net := newTestNetwork(t, singleSpec(4))
	_, err := net.Probabilities([]float64{1, 2})
	assert.ErrorContains(t, err, "model expects 3")
}

func TestPropertyProbabilitiesFormDistribution(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 100
	params.MaxSize = 50
	properties := gopter.NewProperties(params)

	net := newTestNetwork(t, pairedSpec(2, 3))

	properties.Property("softmax output is a probability distribution", prop.ForAll(
		func(obs []float64) bool {
			probs, err := net.Probabilities(obs)
			if err != nil {
				return false
			}
			sum := 0.0
			for _, p := range probs {
				if p < 0 || p > 1 {
					return false
				}
				sum += p
			}
			return sum > 1-1e-9 && sum < 1+1e-9
		},
		gen.SliceOfN(3, gen.Float64Range(-10, 10)),
	))

	properties.TestingRun(t)
}
