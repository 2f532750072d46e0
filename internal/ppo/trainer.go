// Package ppo implements proximal policy optimization for discrete
// action spaces. A Trainer owns two copies of the network: the current
// one being optimized and a lagged one that anchors the importance
// ratio and the bootstrap value. The lagged copy is overwritten with
// the current parameters once per update cycle, after the inner epochs
// have run.
package ppo

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"maro/internal/rl"
	"maro/pkg/logger"
)

// Default hyperparameters, used when an Options field is zero.
const (
	defaultEpochs      = 4
	defaultClipEpsilon = 0.2
	defaultEntropyCoef = 0.01
	defaultPolicyLR    = 3e-4
	defaultValueLR     = 3e-4
)

// Options are the update hyperparameters.
type Options struct {
	// Epochs is how many passes the inner loop makes over one rollout
	// before the lagged network is synchronized.
	Epochs int
	// ClipEpsilon bounds the importance ratio to [1-eps, 1+eps].
	ClipEpsilon float64
	// EntropyCoef weights the entropy bonus in the policy loss.
	EntropyCoef float64
	PolicyLR    float64
	ValueLR     float64
}

func (o Options) withDefaults() Options {
	if o.Epochs <= 0 {
		o.Epochs = defaultEpochs
	}
	if o.ClipEpsilon <= 0 {
		o.ClipEpsilon = defaultClipEpsilon
	}
	if o.EntropyCoef <= 0 {
		o.EntropyCoef = defaultEntropyCoef
	}
	if o.PolicyLR <= 0 {
		o.PolicyLR = defaultPolicyLR
	}
	if o.ValueLR <= 0 {
		o.ValueLR = defaultValueLR
	}
	return o
}

// Trainer drives PPO updates on a network. It is not safe for
// concurrent use; the learner serializes updates per agent.
type Trainer struct {
	current *Network
	lagged  *Network
	opts    Options

	policyOpt *adam
	valueOpt  *adam

	// epochs counts inner optimization steps, iterations counts
	// completed update cycles. They belong to the trainer instance so
	// two agents never share a schedule.
	epochs     int
	iterations int
}

// NewTrainer wraps a network. The lagged copy starts identical to the
// current one.
func NewTrainer(network *Network, opts Options) *Trainer {
	opts = opts.withDefaults()
	blocks := network.paramBlocks()
	return &Trainer{
		current:   network,
		lagged:    network.Clone(),
		opts:      opts,
		policyOpt: newAdam(opts.PolicyLR, blocks[:policyBlockCount]),
		valueOpt:  newAdam(opts.ValueLR, blocks[policyBlockCount:]),
	}
}

// Network returns the current network.
func (t *Trainer) Network() *Network {
	return t.current
}

// Counters reports how many inner epochs and full update cycles the
// trainer has run.
func (t *Trainer) Counters() (epochs, iterations int) {
	return t.epochs, t.iterations
}

// Update runs one PPO cycle over a rollout: Epochs passes of the
// clipped-surrogate step, then a hard copy of the current parameters
// into the lagged network. An empty rollout changes nothing, not even
// the lagged copy.
func (t *Trainer) Update(transitions []rl.Transition) error {
	batch, err := NewBatch(transitions, t.current.cfg.ActionSpec)
	if err != nil {
		return fmt.Errorf("failed to assemble training batch: %w", err)
	}
	if batch.Size() == 0 {
		logger.Debugf("ppo update skipped: empty rollout")
		return nil
	}
	if _, cols := batch.Observations.Dims(); cols != t.current.cfg.ObsDim {
		return fmt.Errorf("batch observations have %d features, model expects %d", cols, t.current.cfg.ObsDim)
	}

	for k := 0; k < t.opts.Epochs; k++ {
		policyLoss, valueLoss, entropy, err := t.step(batch)
		if err != nil {
			return err
		}
		t.epochs++
		logger.Debugf("ppo epoch %d: policy_loss=%.6f value_loss=%.6f entropy=%.6f", t.epochs, policyLoss, valueLoss, entropy)
	}

	t.lagged.SyncFrom(t.current)
	t.iterations++
	logger.Infof("ppo update %d done: %d transitions, %d epochs total", t.iterations, batch.Size(), t.epochs)
	return nil
}

// step runs one epoch: forward the current network on the stacked
// observations, bootstrap targets from the lagged value of the next
// observations, and apply one optimizer step of the clipped objective.
func (t *Trainer) step(batch *Batch) (policyLoss, valueLoss, entropySum float64, err error) {
	n := batch.Size()
	grads := t.current.newGradients()
	clip := t.opts.ClipEpsilon

	for i := 0; i < n; i++ {
		obs := batch.Observations.RawRowView(i)
		next := batch.NextObservations.RawRowView(i)

		hidden, logits, value, err := t.current.forward(obs)
		if err != nil {
			return 0, 0, 0, err
		}
		laggedNext, err := t.lagged.Value(next)
		if err != nil {
			return 0, 0, 0, err
		}

		probs := softmax(logits)
		action := batch.Actions[i]
		logProb := math.Log(math.Max(probs[action], math.SmallestNonzeroFloat64))
		ratio := math.Exp(logProb - batch.LogProbs[i])

		target := batch.Rewards[i] + batch.Discounts[i]*laggedNext
		// The advantage is a constant for the policy gradient; only
		// the value regression sees the value-head parameters.
		advantage := target - value

		unclipped := ratio * advantage
		clipped := clampFloat(ratio, 1-clip, 1+clip) * advantage
		surrogate := math.Min(unclipped, clipped)
		entropy := entropyOf(probs)

		valueErr := value - target
		policyLoss += -surrogate - t.opts.EntropyCoef*entropy
		valueLoss += valueErr * valueErr
		entropySum += entropy

		// d(-surrogate)/d(ratio) is -advantage when the unclipped term
		// is active or the ratio sits inside the clip band; outside the
		// band the clipped term is flat.
		dRatio := 0.0
		if unclipped <= clipped || (ratio > 1-clip && ratio < 1+clip) {
			dRatio = -advantage
		}
		dLogProb := dRatio * ratio

		dlogits := mat.NewDense(len(probs), 1, nil)
		for j, p := range probs {
			grad := -t.opts.EntropyCoef * probGradEntropy(p, entropy)
			if j == action {
				grad += dLogProb * (1 - p)
			} else {
				grad += dLogProb * -p
			}
			dlogits.Set(j, 0, grad)
		}
		dValue := 2 * valueErr

		t.current.backward(obs, hidden, dlogits, dValue, grads)
	}

	policyLoss /= float64(n)
	valueLoss /= float64(n)
	entropySum /= float64(n)
	if math.IsNaN(policyLoss) || math.IsInf(policyLoss, 0) || math.IsNaN(valueLoss) || math.IsInf(valueLoss, 0) {
		return 0, 0, 0, fmt.Errorf("ppo losses diverged: policy=%v value=%v", policyLoss, valueLoss)
	}

	grads.scale(1 / float64(n))
	t.policyOpt.step(t.current.paramBlocks()[:policyBlockCount], grads.blocks[:policyBlockCount])
	t.valueOpt.step(t.current.paramBlocks()[policyBlockCount:], grads.blocks[policyBlockCount:])
	return policyLoss, valueLoss, entropySum, nil
}

// probGradEntropy is dH/dlogit_j for a softmax distribution.
func probGradEntropy(p, entropy float64) float64 {
	if p <= 0 {
		return 0
	}
	return -p * (math.Log(p) + entropy)
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// adam is a per-block Adam optimizer. Moment slices are aligned with
// the raw data of the parameter matrices they update.
type adam struct {
	lr    float64
	beta1 float64
	beta2 float64
	eps   float64
	t     int
	m     [][]float64
	v     [][]float64
}

func newAdam(lr float64, params []*mat.Dense) *adam {
	a := &adam{lr: lr, beta1: 0.9, beta2: 0.999, eps: 1e-8}
	for _, p := range params {
		n := len(p.RawMatrix().Data)
		a.m = append(a.m, make([]float64, n))
		a.v = append(a.v, make([]float64, n))
	}
	return a
}

func (a *adam) step(params, grads []*mat.Dense) {
	a.t++
	c1 := 1 - math.Pow(a.beta1, float64(a.t))
	c2 := 1 - math.Pow(a.beta2, float64(a.t))
	for i, p := range params {
		data := p.RawMatrix().Data
		grad := grads[i].RawMatrix().Data
		for j := range data {
			a.m[i][j] = a.beta1*a.m[i][j] + (1-a.beta1)*grad[j]
			a.v[i][j] = a.beta2*a.v[i][j] + (1-a.beta2)*grad[j]*grad[j]
			mHat := a.m[i][j] / c1
			vHat := a.v[i][j] / c2
			data[j] -= a.lr * mHat / (math.Sqrt(vHat) + a.eps)
		}
	}
}
