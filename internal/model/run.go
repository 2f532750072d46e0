package model

import (
	"time"

	"maro/pkg/constants"
)

// TrainingRun one distributed training run driven by a learner process
type TrainingRun struct {
	RunID          string              `json:"run_id"`
	Group          string              `json:"group"`    // rendezvous group shared with the actors
	Scenario       string              `json:"scenario"` // simulation scenario label
	Status         constants.RunStatus `json:"status"`
	MaxEpisode     int                 `json:"max_episode"`
	CurrentEpisode int                 `json:"current_episode"`
	ActorCount     int                 `json:"actor_count"` // expected actor peers
	BestPerf       float64             `json:"best_perf"`   // best monitored performance so far
	BestEpisode    int                 `json:"best_episode"`

	// Params snapshots the exploration and trainer settings the run
	// started with, for inspection after the fact
	Params map[string]interface{} `json:"params,omitempty"`

	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// Finished marks the run terminal with the given status.
func (r *TrainingRun) Finished(status constants.RunStatus) {
	now := time.Now().UTC()
	r.Status = status
	r.FinishedAt = &now
}

// ActorPeer a live actor registered with a run's rendezvous group
type ActorPeer struct {
	Name          string    `json:"name"`
	Group         string    `json:"group"`
	Hostname      string    `json:"hostname,omitempty"`
	JoinedAt      time.Time `json:"joined_at"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
}
