package ppo

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"

	"maro/internal/rl"
)

// Policy adapts a Trainer to the agent contract: epsilon-mixed action
// sampling on the current network, PPO updates on rollouts, and flat
// parameter snapshots for distribution to actors.
type Policy struct {
	trainer *Trainer
	rng     *rand.Rand
}

// NewPolicy builds a policy around a freshly wrapped trainer. The seed
// fixes the action sampling sequence.
func NewPolicy(network *Network, opts Options, seed int64) *Policy {
	return &Policy{
		trainer: NewTrainer(network, opts),
		rng:     rand.New(rand.NewSource(seed)),
	}
}

// Trainer exposes the underlying trainer, mostly for inspection.
func (p *Policy) Trainer() *Trainer {
	return p.trainer
}

// Choose samples an action. With probability epsilon the action is
// uniform over the space, otherwise it is drawn from the policy
// distribution. The returned log-probability is always the current
// policy's, whichever branch picked the action, so the update ratio
// stays grounded in the distribution that was shipped to the actor.
func (p *Policy) Choose(observation []float64, epsilon float64) (rl.Action, float64, error) {
	probs, err := p.trainer.current.Probabilities(observation)
	if err != nil {
		return rl.Action{}, 0, err
	}

	var index int
	if epsilon > 0 && p.rng.Float64() < epsilon {
		index = p.rng.Intn(len(probs))
	} else {
		index = sampleCategorical(p.rng, probs)
	}

	logProb := math.Log(math.Max(probs[index], math.SmallestNonzeroFloat64))
	return p.trainer.current.cfg.ActionSpec.ActionOf(index), logProb, nil
}

// Learn runs one PPO update cycle on the rollout.
func (p *Policy) Learn(transitions []rl.Transition) error {
	return p.trainer.Update(transitions)
}

// policySnapshot is the wire and disk form of the parameters.
type policySnapshot struct {
	Params []float64 `json:"params"`
}

// Snapshot serializes the current network parameters.
func (p *Policy) Snapshot() ([]byte, error) {
	return json.Marshal(policySnapshot{Params: p.trainer.current.Parameters()})
}

// Restore loads a snapshot into both the current and lagged networks,
// so a restored policy starts a cycle from an aligned pair.
func (p *Policy) Restore(data []byte) error {
	var snap policySnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("failed to decode policy snapshot: %w", err)
	}
	if err := p.trainer.current.SetParameters(snap.Params); err != nil {
		return err
	}
	p.trainer.lagged.SyncFrom(p.trainer.current)
	return nil
}

func sampleCategorical(rng *rand.Rand, probs []float64) int {
	r := rng.Float64()
	acc := 0.0
	for i, p := range probs {
		acc += p
		if r < acc {
			return i
		}
	}
	return len(probs) - 1
}
