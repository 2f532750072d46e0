package model

import "time"

// TrainingRun MySQL model for the training_runs table
type TrainingRun struct {
	ID             int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	RunID          string     `gorm:"column:run_id;type:varchar(255);not null;uniqueIndex:idx_run_id_unique" json:"run_id"`
	GroupName      string     `gorm:"column:group_name;type:varchar(255);not null;index:idx_group_name" json:"group_name"`
	Scenario       string     `gorm:"column:scenario;type:varchar(255)" json:"scenario"`
	Status         string     `gorm:"column:status;type:varchar(50);not null;index:idx_status" json:"status"`
	MaxEpisode     int        `gorm:"column:max_episode;not null" json:"max_episode"`
	CurrentEpisode int        `gorm:"column:current_episode;not null;default:0" json:"current_episode"`
	ActorCount     int        `gorm:"column:actor_count;not null;default:0" json:"actor_count"`
	BestPerf       float64    `gorm:"column:best_perf;type:double" json:"best_perf"`
	BestEpisode    int        `gorm:"column:best_episode;default:0" json:"best_episode"`
	Params         JSONMap    `gorm:"column:params;type:json" json:"params"`
	Error          string     `gorm:"column:error;type:text" json:"error"`
	StartedAt      time.Time  `gorm:"column:started_at;type:datetime(3);not null" json:"started_at"`
	FinishedAt     *time.Time `gorm:"column:finished_at;type:datetime(3);index:idx_finished_at" json:"finished_at"`
	CreatedAt      time.Time  `gorm:"column:created_at;type:datetime(3);not null;default:CURRENT_TIMESTAMP(3)" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"column:updated_at;type:datetime(3);not null;default:CURRENT_TIMESTAMP(3)" json:"updated_at"`
}

// TableName specifies the table name for TrainingRun
func (TrainingRun) TableName() string {
	return "training_runs"
}
