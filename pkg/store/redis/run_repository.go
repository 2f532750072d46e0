package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"maro/internal/model"

	"github.com/go-redis/redis/v8"
)

const (
	runKeyPrefix     = "run:"         // Run state, JSON encoded
	runSetKeyActive  = "runs:active"  // Set of non-terminal run IDs
	runMetricsSuffix = ":metrics"     // Per-run live metric ring (run:{id}:metrics)
	runDataTTL       = 24 * time.Hour // Run state TTL, refreshed on every save
	runMetricsCap    = 1000           // Live metric ring size
)

// RunRepository manages live training-run state in Redis. MySQL holds the
// durable mirror; everything here expires once a run goes cold.
type RunRepository struct {
	redis *redis.Client
}

// NewRunRepository creates run repository
func NewRunRepository(redisClient *RedisClient) *RunRepository {
	return &RunRepository{
		redis: redisClient.GetClient(),
	}
}

// Save saves run state and maintains the active-run index
func (r *RunRepository) Save(ctx context.Context, run *model.TrainingRun) error {
	key := runKeyPrefix + run.RunID
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}

	pipe := r.redis.Pipeline()
	pipe.Set(ctx, key, data, runDataTTL)
	if run.Status.Terminal() {
		pipe.SRem(ctx, runSetKeyActive, run.RunID)
	} else {
		pipe.SAdd(ctx, runSetKeyActive, run.RunID)
		pipe.Expire(ctx, runSetKeyActive, runDataTTL*2)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}

// Get retrieves run state
func (r *RunRepository) Get(ctx context.Context, runID string) (*model.TrainingRun, error) {
	data, err := r.redis.Get(ctx, runKeyPrefix+runID).Result()
	if err == redis.Nil {
		return nil, fmt.Errorf("run not found: %s", runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	var run model.TrainingRun
	if err := json.Unmarshal([]byte(data), &run); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run: %w", err)
	}
	return &run, nil
}

// GetActive retrieves all non-terminal runs
func (r *RunRepository) GetActive(ctx context.Context) ([]*model.TrainingRun, error) {
	runIDs, err := r.redis.SMembers(ctx, runSetKeyActive).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get active run list: %w", err)
	}
	if len(runIDs) == 0 {
		return []*model.TrainingRun{}, nil
	}

	// Batch fetch in one round-trip
	pipe := r.redis.Pipeline()
	cmds := make([]*redis.StringCmd, 0, len(runIDs))
	for _, runID := range runIDs {
		cmds = append(cmds, pipe.Get(ctx, runKeyPrefix+runID))
	}

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		// Pipeline failed, fall back to individual gets
		runs := make([]*model.TrainingRun, 0, len(runIDs))
		for _, runID := range runIDs {
			run, err := r.Get(ctx, runID)
			if err != nil {
				continue
			}
			runs = append(runs, run)
		}
		return runs, nil
	}

	runs := make([]*model.TrainingRun, 0, len(runIDs))
	for _, cmd := range cmds {
		data, err := cmd.Result()
		if err != nil {
			// Run expired, skip
			continue
		}
		var run model.TrainingRun
		if err := json.Unmarshal([]byte(data), &run); err != nil {
			continue
		}
		runs = append(runs, &run)
	}
	return runs, nil
}

// AppendMetric pushes an episode metric onto the run's live ring
func (r *RunRepository) AppendMetric(ctx context.Context, metric *model.EpisodeMetric) error {
	key := runKeyPrefix + metric.RunID + runMetricsSuffix
	data, err := json.Marshal(metric)
	if err != nil {
		return fmt.Errorf("failed to marshal metric: %w", err)
	}

	pipe := r.redis.Pipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, runMetricsCap-1)
	pipe.Expire(ctx, key, runDataTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append metric: %w", err)
	}
	return nil
}

// Metrics returns up to limit most recent metrics, newest first
func (r *RunRepository) Metrics(ctx context.Context, runID string, limit int) ([]*model.EpisodeMetric, error) {
	if limit <= 0 || limit > runMetricsCap {
		limit = runMetricsCap
	}
	key := runKeyPrefix + runID + runMetricsSuffix
	items, err := r.redis.LRange(ctx, key, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get metrics: %w", err)
	}

	metrics := make([]*model.EpisodeMetric, 0, len(items))
	for _, item := range items {
		var m model.EpisodeMetric
		if err := json.Unmarshal([]byte(item), &m); err != nil {
			// Malformed entry, skip
			continue
		}
		metrics = append(metrics, &m)
	}
	return metrics, nil
}

// Delete removes a run and its metric ring
func (r *RunRepository) Delete(ctx context.Context, runID string) error {
	pipe := r.redis.Pipeline()
	pipe.Del(ctx, runKeyPrefix+runID)
	pipe.Del(ctx, runKeyPrefix+runID+runMetricsSuffix)
	pipe.SRem(ctx, runSetKeyActive, runID)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	return nil
}
