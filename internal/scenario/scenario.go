// Package scenario binds simulation environments to the training
// processes. The simulator itself lives outside this module: scenario
// packages link in by registering a builder, the way database drivers
// register with database/sql. What this package owns is the lookup and
// the assembly of the per-agent policy stack from configuration.
package scenario

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"maro/internal/ppo"
	"maro/internal/rl"
	"maro/pkg/config"
)

// Builder constructs the environment for one actor process.
type Builder func(cfg config.ScenarioConfig) (rl.Env, error)

var (
	mu       sync.Mutex
	builders = map[string]Builder{}
)

// Register makes a scenario available under the given name. It panics
// on a duplicate name so a wiring mistake fails at startup, not at
// launch time.
func Register(name string, builder Builder) {
	mu.Lock()
	defer mu.Unlock()

	if builder == nil {
		panic("scenario: Register called with a nil builder")
	}
	if _, dup := builders[name]; dup {
		panic(fmt.Sprintf("scenario: Register called twice for %q", name))
	}
	builders[name] = builder
}

// New builds the configured scenario's environment.
func New(cfg config.ScenarioConfig) (rl.Env, error) {
	mu.Lock()
	builder, ok := builders[cfg.Name]
	mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("scenario %q is not linked into this build (linked: %s)", cfg.Name, linkedNames())
	}
	return builder(cfg)
}

func linkedNames() string {
	mu.Lock()
	defer mu.Unlock()

	if len(builders) == 0 {
		return "none"
	}
	names := make([]string, 0, len(builders))
	for name := range builders {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

// ActionSpecOf translates the configured action shape into the
// trainer's tagged action space.
func ActionSpecOf(cfg config.ScenarioConfig) (ppo.ActionSpec, error) {
	var spec ppo.ActionSpec
	switch cfg.Action.Kind {
	case string(rl.SingleAction):
		spec = ppo.ActionSpec{Kind: rl.SingleAction, Actions: cfg.Action.Actions}
	case string(rl.PairedAction):
		spec = ppo.ActionSpec{Kind: rl.PairedAction, Sources: cfg.Action.Sources, Targets: cfg.Action.Targets}
	default:
		return ppo.ActionSpec{}, fmt.Errorf("unknown action kind %q", cfg.Action.Kind)
	}
	if _, err := spec.Size(); err != nil {
		return ppo.ActionSpec{}, err
	}
	return spec, nil
}

// BuildAgents assembles one policy per configured agent. Learner and
// actor both call this, so identical configuration yields identically
// shaped networks on both sides and snapshots restore cleanly.
func BuildAgents(cfg config.ScenarioConfig, opt config.PPOConfig) (*rl.AgentManager, error) {
	if len(cfg.Agents) == 0 {
		return nil, fmt.Errorf("scenario %q configures no agents", cfg.Name)
	}

	spec, err := ActionSpecOf(cfg)
	if err != nil {
		return nil, err
	}

	opts := ppo.Options{
		Epochs:      opt.Epochs,
		ClipEpsilon: opt.ClipEpsilon,
		EntropyCoef: opt.EntropyCoef,
		PolicyLR:    opt.PolicyLR,
		ValueLR:     opt.ValueLR,
	}

	agents := make(map[string]rl.Policy, len(cfg.Agents))
	for i, id := range cfg.Agents {
		if id == "" {
			return nil, fmt.Errorf("agent %d has an empty ID", i)
		}
		if _, dup := agents[id]; dup {
			return nil, fmt.Errorf("agent ID %q configured twice", id)
		}

		// Offset the seed per agent so policies start distinct but
		// reproducible.
		seed := cfg.Seed + int64(i)
		network, err := ppo.NewNetwork(ppo.NetworkConfig{
			ObsDim:     cfg.ObsDim,
			HiddenDim:  cfg.Hidden,
			ActionSpec: spec,
			Seed:       seed,
		})
		if err != nil {
			return nil, fmt.Errorf("agent %s: %w", id, err)
		}
		agents[id] = ppo.NewPolicy(network, opts, seed)
	}

	return rl.NewAgentManager(agents)
}
