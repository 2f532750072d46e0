package model

import "time"

// EpisodeMetric MySQL model for the episode_metrics table.
// One row per finished training episode; rows are written by the
// metric flush job, so (run_id, episode) must stay unique.
type EpisodeMetric struct {
	ID             int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	RunID          string    `gorm:"column:run_id;type:varchar(255);not null;uniqueIndex:idx_run_episode,priority:1" json:"run_id"`
	Episode        int       `gorm:"column:episode;not null;uniqueIndex:idx_run_episode,priority:2" json:"episode"`
	Epsilon        float64   `gorm:"column:epsilon;type:double" json:"epsilon"`
	TotalReward    float64   `gorm:"column:total_reward;type:double" json:"total_reward"`
	NumTransitions int       `gorm:"column:num_transitions;default:0" json:"num_transitions"`
	ActorCount     int       `gorm:"column:actor_count;default:0" json:"actor_count"`
	DurationMs     int64     `gorm:"column:duration_ms;default:0" json:"duration_ms"`
	CreatedAt      time.Time `gorm:"column:created_at;type:datetime(3);not null;default:CURRENT_TIMESTAMP(3);index:idx_created_at" json:"created_at"`
}

// TableName specifies the table name for EpisodeMetric
func (EpisodeMetric) TableName() string {
	return "episode_metrics"
}
