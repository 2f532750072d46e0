package mysql

import "maro/pkg/store/mysql/model"

// Re-export types from model package so repository call sites can use
// mysql.TrainingRun directly

type (
	TrainingRun   = model.TrainingRun
	EpisodeMetric = model.EpisodeMetric

	JSONMap = model.JSONMap
)
