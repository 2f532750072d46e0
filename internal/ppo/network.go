package ppo

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"maro/internal/rl"
)

// ActionSpec describes the discrete action space, tagged the same way
// actions are: a flat index set or a source/target pair.
type ActionSpec struct {
	Kind rl.ActionKind `json:"kind"`
	// Actions is the index count for SingleAction spaces.
	Actions int `json:"actions,omitempty"`
	// Sources and Targets span PairedAction spaces.
	Sources int `json:"sources,omitempty"`
	Targets int `json:"targets,omitempty"`
}

// Size returns the number of distinct actions.
func (s ActionSpec) Size() (int, error) {
	switch s.Kind {
	case rl.SingleAction:
		if s.Actions <= 0 {
			return 0, fmt.Errorf("single action space needs a positive action count, got %d", s.Actions)
		}
		return s.Actions, nil
	case rl.PairedAction:
		if s.Sources <= 0 || s.Targets <= 0 {
			return 0, fmt.Errorf("paired action space needs positive dimensions, got %dx%d", s.Sources, s.Targets)
		}
		return s.Sources * s.Targets, nil
	default:
		return 0, fmt.Errorf("unknown action kind %q", s.Kind)
	}
}

// IndexOf flattens a tagged action into the policy output index.
func (s ActionSpec) IndexOf(a rl.Action) (int, error) {
	if a.Kind != s.Kind {
		return 0, fmt.Errorf("action kind %q does not match the %q action space", a.Kind, s.Kind)
	}
	switch s.Kind {
	case rl.SingleAction:
		if a.Index < 0 || a.Index >= s.Actions {
			return 0, fmt.Errorf("action index %d out of range [0, %d)", a.Index, s.Actions)
		}
		return a.Index, nil
	case rl.PairedAction:
		if a.Source < 0 || a.Source >= s.Sources || a.Target < 0 || a.Target >= s.Targets {
			return 0, fmt.Errorf("paired action (%d, %d) out of range %dx%d", a.Source, a.Target, s.Sources, s.Targets)
		}
		return a.Source*s.Targets + a.Target, nil
	default:
		return 0, fmt.Errorf("unknown action kind %q", s.Kind)
	}
}

// ActionOf expands a policy output index into a tagged action.
func (s ActionSpec) ActionOf(index int) rl.Action {
	if s.Kind == rl.PairedAction {
		return rl.NewPairedAction(index/s.Targets, index%s.Targets)
	}
	return rl.NewSingleAction(index)
}

// NetworkConfig sizes the model.
type NetworkConfig struct {
	ObsDim     int
	HiddenDim  int
	ActionSpec ActionSpec
	// Seed makes the weight initialization reproducible.
	Seed int64
}

// Network is the trainable model: a shared tanh embedding feeding a
// softmax policy head and a scalar value head. It stands in for the
// scenario-specific model definitions, which live outside this
// module; the trainer only relies on the parameter-block layout
// exposed here.
type Network struct {
	cfg        NetworkConfig
	numActions int

	embedW  *mat.Dense // hidden x obs
	embedB  *mat.Dense // hidden x 1
	policyW *mat.Dense // actions x hidden
	policyB *mat.Dense // actions x 1
	valueW  *mat.Dense // 1 x hidden
	valueB  *mat.Dense // 1 x 1
}

// NewNetwork initializes a network with uniform fan-in scaled weights.
func NewNetwork(cfg NetworkConfig) (*Network, error) {
	if cfg.ObsDim <= 0 {
		return nil, fmt.Errorf("observation dimension must be positive, got %d", cfg.ObsDim)
	}
	if cfg.HiddenDim <= 0 {
		return nil, fmt.Errorf("hidden dimension must be positive, got %d", cfg.HiddenDim)
	}
	numActions, err := cfg.ActionSpec.Size()
	if err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	n := &Network{
		cfg:        cfg,
		numActions: numActions,
		embedW:     randomDense(rng, cfg.HiddenDim, cfg.ObsDim),
		embedB:     mat.NewDense(cfg.HiddenDim, 1, nil),
		policyW:    randomDense(rng, numActions, cfg.HiddenDim),
		policyB:    mat.NewDense(numActions, 1, nil),
		valueW:     randomDense(rng, 1, cfg.HiddenDim),
		valueB:     mat.NewDense(1, 1, nil),
	}
	return n, nil
}

func randomDense(rng *rand.Rand, rows, cols int) *mat.Dense {
	scale := 1.0 / math.Sqrt(float64(cols))
	data := make([]float64, rows*cols)
	for i := range data {
		data[i] = (rng.Float64()*2 - 1) * scale
	}
	return mat.NewDense(rows, cols, data)
}

// Config returns the sizing the network was built with.
func (n *Network) Config() NetworkConfig {
	return n.cfg
}

// NumActions returns the policy output width.
func (n *Network) NumActions() int {
	return n.numActions
}

// paramBlocks lists the parameter matrices in a fixed order shared by
// Parameters, SetParameters and the optimizer state.
func (n *Network) paramBlocks() []*mat.Dense {
	return []*mat.Dense{n.embedW, n.embedB, n.policyW, n.policyB, n.valueW, n.valueB}
}

// policyBlockCount is how many leading parameter blocks belong to the
// embedding and policy head; the remainder is the value head.
const policyBlockCount = 4

// Parameters returns a flat copy of every parameter.
func (n *Network) Parameters() []float64 {
	var out []float64
	for _, block := range n.paramBlocks() {
		out = append(out, block.RawMatrix().Data...)
	}
	return out
}

// SetParameters loads a flat vector produced by Parameters.
func (n *Network) SetParameters(params []float64) error {
	total := 0
	for _, block := range n.paramBlocks() {
		total += len(block.RawMatrix().Data)
	}
	if len(params) != total {
		return fmt.Errorf("parameter size mismatch: have %d, want %d", len(params), total)
	}
	offset := 0
	for _, block := range n.paramBlocks() {
		data := block.RawMatrix().Data
		copy(data, params[offset:offset+len(data)])
		offset += len(data)
	}
	return nil
}

// Clone returns a deep copy with identical parameters.
func (n *Network) Clone() *Network {
	clone := &Network{cfg: n.cfg, numActions: n.numActions}
	clone.embedW = mat.DenseCopyOf(n.embedW)
	clone.embedB = mat.DenseCopyOf(n.embedB)
	clone.policyW = mat.DenseCopyOf(n.policyW)
	clone.policyB = mat.DenseCopyOf(n.policyB)
	clone.valueW = mat.DenseCopyOf(n.valueW)
	clone.valueB = mat.DenseCopyOf(n.valueB)
	return clone
}

// SyncFrom copies the other network's parameters verbatim. This is
// the lagged-network synchronization: a hard copy, not an average.
func (n *Network) SyncFrom(other *Network) {
	dst := n.paramBlocks()
	src := other.paramBlocks()
	for i := range dst {
		dst[i].Copy(src[i])
	}
}

// forward runs one observation through the network and returns the
// hidden activation, the action logits and the state value.
func (n *Network) forward(obs []float64) (*mat.Dense, *mat.Dense, float64, error) {
	if len(obs) != n.cfg.ObsDim {
		return nil, nil, 0, fmt.Errorf("observation has %d features, model expects %d", len(obs), n.cfg.ObsDim)
	}
	x := mat.NewDense(n.cfg.ObsDim, 1, append([]float64(nil), obs...))

	h := &mat.Dense{}
	h.Mul(n.embedW, x)
	h.Add(h, n.embedB)
	h.Apply(func(_, _ int, v float64) float64 { return math.Tanh(v) }, h)

	logits := &mat.Dense{}
	logits.Mul(n.policyW, h)
	logits.Add(logits, n.policyB)

	value := &mat.Dense{}
	value.Mul(n.valueW, h)
	return h, logits, value.At(0, 0) + n.valueB.At(0, 0), nil
}

// Value evaluates only the value head.
func (n *Network) Value(obs []float64) (float64, error) {
	_, _, value, err := n.forward(obs)
	return value, err
}

// Probabilities evaluates the policy head into a distribution.
func (n *Network) Probabilities(obs []float64) ([]float64, error) {
	_, logits, _, err := n.forward(obs)
	if err != nil {
		return nil, err
	}
	return softmax(logits), nil
}

// softmax converts a logits column into a probability vector, shifted
// by the max logit for numeric stability.
func softmax(logits *mat.Dense) []float64 {
	rows, _ := logits.Dims()
	out := make([]float64, rows)
	for i := range out {
		out[i] = logits.At(i, 0)
	}
	shift := floats.Max(out)
	for i := range out {
		out[i] = math.Exp(out[i] - shift)
	}
	sum := floats.Sum(out)
	for i := range out {
		out[i] /= sum
	}
	return out
}

// entropyOf computes the Shannon entropy of a distribution.
func entropyOf(probs []float64) float64 {
	entropy := 0.0
	for _, p := range probs {
		if p > 0 {
			entropy -= p * math.Log(p)
		}
	}
	return entropy
}

// gradients accumulates parameter gradients block by block, in the
// same order as paramBlocks.
type gradients struct {
	blocks []*mat.Dense
}

func (n *Network) newGradients() *gradients {
	g := &gradients{}
	for _, block := range n.paramBlocks() {
		rows, cols := block.Dims()
		g.blocks = append(g.blocks, mat.NewDense(rows, cols, nil))
	}
	return g
}

func (g *gradients) scale(factor float64) {
	for _, block := range g.blocks {
		block.Scale(factor, block)
	}
}

// backward accumulates the gradients of one sample given the upstream
// gradients on the logits and the value output.
func (n *Network) backward(obs []float64, h, dlogits *mat.Dense, dvalue float64, g *gradients) {
	gEmbedW, gEmbedB := g.blocks[0], g.blocks[1]
	gPolicyW, gPolicyB := g.blocks[2], g.blocks[3]
	gValueW, gValueB := g.blocks[4], g.blocks[5]

	// policy head
	var outer mat.Dense
	outer.Mul(dlogits, h.T())
	gPolicyW.Add(gPolicyW, &outer)
	gPolicyB.Add(gPolicyB, dlogits)

	// value head
	var scaledH mat.Dense
	scaledH.Scale(dvalue, h.T())
	gValueW.Add(gValueW, &scaledH)
	gValueB.Set(0, 0, gValueB.At(0, 0)+dvalue)

	// back into the shared embedding
	var dhPolicy, dhValue, dh mat.Dense
	dhPolicy.Mul(n.policyW.T(), dlogits)
	dhValue.Scale(dvalue, n.valueW.T())
	dh.Add(&dhPolicy, &dhValue)

	// through tanh
	var dz mat.Dense
	dz.Apply(func(i, j int, v float64) float64 {
		a := h.At(i, j)
		return v * (1 - a*a)
	}, &dh)

	x := mat.NewDense(1, len(obs), obs)
	var gEW mat.Dense
	gEW.Mul(&dz, x)
	gEmbedW.Add(gEmbedW, &gEW)
	gEmbedB.Add(gEmbedB, &dz)
}
