package rl

import (
	"fmt"
	"sort"
)

// ActionKind distinguishes the two action shapes the scenarios
// produce. Flat scenarios pick one index; graph scenarios pick an
// edge, carried as an explicit pair instead of being inferred from
// the payload shape.
type ActionKind string

const (
	SingleAction ActionKind = "single"
	PairedAction ActionKind = "paired"
)

// Action is a tagged action variant.
type Action struct {
	Kind ActionKind `json:"kind"`
	// Index is the chosen index for SingleAction.
	Index int `json:"index,omitempty"`
	// Source and Target identify the chosen edge for PairedAction.
	Source int `json:"source,omitempty"`
	Target int `json:"target,omitempty"`
}

// NewSingleAction builds a flat index action.
func NewSingleAction(index int) Action {
	return Action{Kind: SingleAction, Index: index}
}

// NewPairedAction builds an edge action.
func NewPairedAction(source, target int) Action {
	return Action{Kind: PairedAction, Source: source, Target: target}
}

// Validate rejects malformed or untagged actions.
func (a Action) Validate() error {
	switch a.Kind {
	case SingleAction:
		if a.Index < 0 {
			return fmt.Errorf("single action index must not be negative, got %d", a.Index)
		}
	case PairedAction:
		if a.Source < 0 || a.Target < 0 {
			return fmt.Errorf("paired action endpoints must not be negative, got (%d, %d)", a.Source, a.Target)
		}
	default:
		return fmt.Errorf("unknown action kind %q", a.Kind)
	}
	return nil
}

// Transition is one environment step as recorded by an actor.
// LogProb is the action's log-probability under the policy that
// generated the rollout; the trainer uses it as the importance
// baseline instead of recomputing it.
type Transition struct {
	Observation     []float64          `json:"observation"`
	Action          Action             `json:"action"`
	Reward          float64            `json:"reward"`
	NextObservation []float64          `json:"next_observation"`
	Discount        float64            `json:"discount"`
	LogProb         float64            `json:"log_prob"`
	Auxiliary       map[string]float64 `json:"auxiliary,omitempty"`
}

// ExperienceBatch groups transitions by the agent that produced them.
type ExperienceBatch map[string][]Transition

// NumTransitions counts all transitions across agents.
func (b ExperienceBatch) NumTransitions() int {
	n := 0
	for _, transitions := range b {
		n += len(transitions)
	}
	return n
}

// Agents returns the agent IDs present in the batch, sorted.
func (b ExperienceBatch) Agents() []string {
	ids := make([]string, 0, len(b))
	for id := range b {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// AggregateFunc merges per-actor experience batches into the single
// batch fed to the learning step.
type AggregateFunc func(byActor map[string]ExperienceBatch) ExperienceBatch

// ConcatByAgent is the default aggregation: transitions are
// concatenated per agent. Actors are visited in name order so
// repeated merges of the same input agree, though the learning step
// itself does not depend on transition order.
func ConcatByAgent(byActor map[string]ExperienceBatch) ExperienceBatch {
	actors := make([]string, 0, len(byActor))
	for actor := range byActor {
		actors = append(actors, actor)
	}
	sort.Strings(actors)

	merged := make(ExperienceBatch)
	for _, actor := range actors {
		for agent, transitions := range byActor[actor] {
			merged[agent] = append(merged[agent], transitions...)
		}
	}
	return merged
}
