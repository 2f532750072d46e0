package rl

import "encoding/json"

// PolicyPayload is broadcast by the learner at the start of every
// episode. Models carries one parameter snapshot per agent; Eval asks
// the actors for a greedy evaluation rollout instead of a training
// one.
type PolicyPayload struct {
	Episode     int                        `json:"episode"`
	Exploration ExplorationParams          `json:"exploration,omitempty"`
	Models      map[string]json.RawMessage `json:"models,omitempty"`
	Eval        bool                       `json:"eval,omitempty"`
}

// ExperiencePayload is an actor's reply to a training episode.
type ExperiencePayload struct {
	Episode     int                `json:"episode"`
	Experience  ExperienceBatch    `json:"experience"`
	TotalReward float64            `json:"total_reward"`
	NumSteps    int                `json:"num_steps"`
	Metrics     map[string]float64 `json:"metrics,omitempty"`
}

// EvalPayload is an actor's reply to an evaluation episode.
type EvalPayload struct {
	Episode     int                `json:"episode"`
	TotalReward float64            `json:"total_reward"`
	Metrics     map[string]float64 `json:"metrics,omitempty"`
}

// ExitPayload tells the actors to shut down.
type ExitPayload struct {
	Reason string `json:"reason,omitempty"`
}
