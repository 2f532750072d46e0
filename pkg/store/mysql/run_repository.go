package mysql

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RunRepository handles training run persistence in MySQL
type RunRepository struct {
	ds *Datastore
}

// NewRunRepository creates a new run repository
func NewRunRepository(ds *Datastore) *RunRepository {
	return &RunRepository{ds: ds}
}

// Create creates a new training run row
func (r *RunRepository) Create(ctx context.Context, run *TrainingRun) error {
	return r.ds.DB(ctx).Create(run).Error
}

// Upsert inserts the run or refreshes its mutable fields when a row
// with the same run_id already exists. The flush job calls this on
// every pass, so it must be idempotent.
func (r *RunRepository) Upsert(ctx context.Context, run *TrainingRun) error {
	return r.ds.DB(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "run_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"status", "current_episode", "best_perf", "best_episode",
			"error", "finished_at", "updated_at",
		}),
	}).Create(run).Error
}

// Get retrieves a run by its run ID. Returns (nil, nil) when no row
// exists.
func (r *RunRepository) Get(ctx context.Context, runID string) (*TrainingRun, error) {
	var run TrainingRun
	err := r.ds.DB(ctx).Where("run_id = ?", runID).First(&run).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return &run, nil
}

// UpdateFields updates specific fields of a run by run_id
func (r *RunRepository) UpdateFields(ctx context.Context, runID string, updates map[string]interface{}) error {
	return r.ds.DB(ctx).Model(&TrainingRun{}).
		Where("run_id = ?", runID).
		Updates(updates).Error
}

// List returns the most recently started runs, optionally filtered by
// status. A non-positive limit falls back to 50.
func (r *RunRepository) List(ctx context.Context, status string, limit int) ([]*TrainingRun, error) {
	if limit <= 0 {
		limit = 50
	}
	query := r.ds.DB(ctx).Model(&TrainingRun{})
	if status != "" {
		query = query.Where("status = ?", status)
	}
	var runs []*TrainingRun
	err := query.Order("started_at DESC").Limit(limit).Find(&runs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}

// CountByStatus counts runs with the given status
func (r *RunRepository) CountByStatus(ctx context.Context, status string) (int64, error) {
	var count int64
	err := r.ds.DB(ctx).Model(&TrainingRun{}).
		Where("status = ?", status).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count runs: %w", err)
	}
	return count, nil
}

// FinishedBefore returns run IDs of terminal runs that finished before
// the cutoff, for the retention sweep.
func (r *RunRepository) FinishedBefore(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	var runIDs []string
	err := r.ds.DB(ctx).Model(&TrainingRun{}).
		Where("finished_at IS NOT NULL AND finished_at < ?", cutoff).
		Limit(limit).
		Pluck("run_id", &runIDs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find finished runs: %w", err)
	}
	return runIDs, nil
}

// Delete deletes a run row
func (r *RunRepository) Delete(ctx context.Context, runID string) error {
	return r.ds.DB(ctx).Where("run_id = ?", runID).Delete(&TrainingRun{}).Error
}
