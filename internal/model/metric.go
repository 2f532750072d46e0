package model

import "time"

// EpisodeMetric per-episode training telemetry recorded by the learner
type EpisodeMetric struct {
	RunID          string    `json:"run_id"`
	Episode        int       `json:"episode"`
	Epsilon        float64   `json:"epsilon"`         // exploration parameter used this episode
	TotalReward    float64   `json:"total_reward"`    // summed over contributing actors
	NumTransitions int       `json:"num_transitions"` // merged batch size
	ActorCount     int       `json:"actor_count"`     // actors that responded in time
	DurationMs     int64     `json:"duration_ms"`
	CreatedAt      time.Time `json:"created_at"`
}

// StreamEvent live event pushed to websocket subscribers
type StreamEvent struct {
	Type   string         `json:"type"` // metric, status
	RunID  string         `json:"run_id"`
	Metric *EpisodeMetric `json:"metric,omitempty"`
	Status string         `json:"status,omitempty"`
}
