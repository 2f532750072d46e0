package mysql

import (
	"maro/internal/model"
	"maro/pkg/constants"
)

// ToRunDomain converts a MySQL TrainingRun to the domain model
func ToRunDomain(row *TrainingRun) *model.TrainingRun {
	if row == nil {
		return nil
	}

	return &model.TrainingRun{
		RunID:          row.RunID,
		Group:          row.GroupName,
		Scenario:       row.Scenario,
		Status:         constants.RunStatus(row.Status),
		MaxEpisode:     row.MaxEpisode,
		CurrentEpisode: row.CurrentEpisode,
		ActorCount:     row.ActorCount,
		BestPerf:       row.BestPerf,
		BestEpisode:    row.BestEpisode,
		Params:         map[string]interface{}(row.Params),
		Error:          row.Error,
		StartedAt:      row.StartedAt,
		FinishedAt:     row.FinishedAt,
	}
}

// FromRunDomain converts a domain TrainingRun to the MySQL model
func FromRunDomain(run *model.TrainingRun) *TrainingRun {
	if run == nil {
		return nil
	}

	return &TrainingRun{
		RunID:          run.RunID,
		GroupName:      run.Group,
		Scenario:       run.Scenario,
		Status:         string(run.Status),
		MaxEpisode:     run.MaxEpisode,
		CurrentEpisode: run.CurrentEpisode,
		ActorCount:     run.ActorCount,
		BestPerf:       run.BestPerf,
		BestEpisode:    run.BestEpisode,
		Params:         JSONMap(run.Params),
		Error:          run.Error,
		StartedAt:      run.StartedAt,
		FinishedAt:     run.FinishedAt,
	}
}

// ToMetricDomain converts a MySQL EpisodeMetric to the domain model
func ToMetricDomain(row *EpisodeMetric) *model.EpisodeMetric {
	if row == nil {
		return nil
	}

	return &model.EpisodeMetric{
		RunID:          row.RunID,
		Episode:        row.Episode,
		Epsilon:        row.Epsilon,
		TotalReward:    row.TotalReward,
		NumTransitions: row.NumTransitions,
		ActorCount:     row.ActorCount,
		DurationMs:     row.DurationMs,
		CreatedAt:      row.CreatedAt,
	}
}

// FromMetricDomain converts a domain EpisodeMetric to the MySQL model
func FromMetricDomain(metric *model.EpisodeMetric) *EpisodeMetric {
	if metric == nil {
		return nil
	}

	return &EpisodeMetric{
		RunID:          metric.RunID,
		Episode:        metric.Episode,
		Epsilon:        metric.Epsilon,
		TotalReward:    metric.TotalReward,
		NumTransitions: metric.NumTransitions,
		ActorCount:     metric.ActorCount,
		DurationMs:     metric.DurationMs,
		CreatedAt:      metric.CreatedAt,
	}
}

// ToRunDomainList converts a list of MySQL runs to domain runs
func ToRunDomainList(rows []*TrainingRun) []*model.TrainingRun {
	if rows == nil {
		return nil
	}

	runs := make([]*model.TrainingRun, 0, len(rows))
	for _, row := range rows {
		runs = append(runs, ToRunDomain(row))
	}
	return runs
}

// ToMetricDomainList converts a list of MySQL metrics to domain metrics
func ToMetricDomainList(rows []*EpisodeMetric) []*model.EpisodeMetric {
	if rows == nil {
		return nil
	}

	metrics := make([]*model.EpisodeMetric, 0, len(rows))
	for _, row := range rows {
		metrics = append(metrics, ToMetricDomain(row))
	}
	return metrics
}

// FromMetricDomainList converts a list of domain metrics to MySQL rows
func FromMetricDomainList(metrics []*model.EpisodeMetric) []*EpisodeMetric {
	if metrics == nil {
		return nil
	}

	rows := make([]*EpisodeMetric, 0, len(metrics))
	for _, metric := range metrics {
		rows = append(rows, FromMetricDomain(metric))
	}
	return rows
}
