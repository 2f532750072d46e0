package rl

// Env is the simulation environment contract. Scenario packages
// provide implementations; this module only drives them.
type Env interface {
	// AgentIDs returns the stable identifiers of the decision agents
	// in the scenario.
	AgentIDs() []string

	// Reset starts a new episode and returns the initial observation
	// per agent.
	Reset() (map[string][]float64, error)

	// Step advances the simulation by one decision round. It returns
	// the per-agent reward and next observation, and done once the
	// episode ended.
	Step(actions map[string]Action) (rewards map[string]float64, next map[string][]float64, done bool, err error)

	// Metrics reports scenario-defined performance numbers for the
	// episode finished last.
	Metrics() map[string]float64
}
