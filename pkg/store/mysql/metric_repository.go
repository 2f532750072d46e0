package mysql

import (
	"context"
	"fmt"

	"gorm.io/gorm/clause"
)

const metricInsertBatchSize = 500

// MetricRepository handles episode metric persistence in MySQL
type MetricRepository struct {
	ds *Datastore
}

// NewMetricRepository creates a new metric repository
func NewMetricRepository(ds *Datastore) *MetricRepository {
	return &MetricRepository{ds: ds}
}

// BatchCreate inserts metrics in batches. Rows that already exist for
// the same (run_id, episode) are skipped so replayed flushes stay
// idempotent.
func (r *MetricRepository) BatchCreate(ctx context.Context, metrics []*EpisodeMetric) error {
	if len(metrics) == 0 {
		return nil
	}
	err := r.ds.DB(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "run_id"}, {Name: "episode"}},
		DoNothing: true,
	}).CreateInBatches(metrics, metricInsertBatchSize).Error
	if err != nil {
		return fmt.Errorf("failed to insert metrics: %w", err)
	}
	return nil
}

// ListByRun returns a run's metrics in episode order. A non-positive
// limit returns every episode.
func (r *MetricRepository) ListByRun(ctx context.Context, runID string, limit int) ([]*EpisodeMetric, error) {
	query := r.ds.DB(ctx).Where("run_id = ?", runID).Order("episode ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var metrics []*EpisodeMetric
	if err := query.Find(&metrics).Error; err != nil {
		return nil, fmt.Errorf("failed to list metrics: %w", err)
	}
	return metrics, nil
}

// LatestEpisode returns the highest episode already persisted for a
// run, or -1 when none is. The flush job uses this to skip metrics it
// already wrote.
func (r *MetricRepository) LatestEpisode(ctx context.Context, runID string) (int, error) {
	var latest *int
	err := r.ds.DB(ctx).Model(&EpisodeMetric{}).
		Where("run_id = ?", runID).
		Select("MAX(episode)").
		Scan(&latest).Error
	if err != nil {
		return 0, fmt.Errorf("failed to get latest episode: %w", err)
	}
	if latest == nil {
		return -1, nil
	}
	return *latest, nil
}

// DeleteByRun deletes every metric row of a run
func (r *MetricRepository) DeleteByRun(ctx context.Context, runID string) error {
	return r.ds.DB(ctx).Where("run_id = ?", runID).Delete(&EpisodeMetric{}).Error
}
