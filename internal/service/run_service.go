// Package service implements the learner-process application services:
// run state queries for the inspection API, the Redis to MySQL metric
// flusher and the rendezvous-registry housekeeping jobs.
package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"maro/internal/model"
	"maro/pkg/constants"
	"maro/pkg/logger"
	"maro/pkg/proxy"
	"maro/pkg/store/mysql"
	redisstore "maro/pkg/store/redis"

	"github.com/go-redis/redis/v8"
)

const (
	// actorJoinGrace shields actors that registered moments ago from
	// the liveness sweep before their first heartbeat lands.
	actorJoinGrace = time.Minute

	// retentionSweepLimit bounds how many expired runs one retention
	// pass deletes.
	retentionSweepLimit = 200
)

// RunService serves training-run state. Redis holds the live view and
// MySQL the durable history: reads prefer the live view and fall back
// to history, writes flow live to durable through FlushRun.
type RunService struct {
	runRepo *redisstore.RunRepository
	history *mysql.Repository // nil when mysql is disabled
	redis   *redis.Client
}

// NewRunService creates the run service. historyRepo may be nil when no
// durable store is configured; history-backed operations then no-op.
func NewRunService(runRepo *redisstore.RunRepository, historyRepo *mysql.Repository, redisClient *redisstore.RedisClient) *RunService {
	return &RunService{
		runRepo: runRepo,
		history: historyRepo,
		redis:   redisClient.GetClient(),
	}
}

// ListRuns returns recent runs, newest first. With a durable store the
// listing comes from MySQL, which still knows runs whose Redis state
// expired; without one only the live active runs are visible.
func (s *RunService) ListRuns(ctx context.Context, status string, limit int) ([]*model.TrainingRun, error) {
	if s.history != nil {
		rows, err := s.history.Run.List(ctx, status, limit)
		if err != nil {
			return nil, err
		}
		return mysql.ToRunDomainList(rows), nil
	}

	runs, err := s.runRepo.GetActive(ctx)
	if err != nil {
		return nil, err
	}
	if status != "" {
		filtered := runs[:0]
		for _, run := range runs {
			if string(run.Status) == status {
				filtered = append(filtered, run)
			}
		}
		runs = filtered
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

// GetRun returns one run, live state first, durable history second.
func (s *RunService) GetRun(ctx context.Context, runID string) (*model.TrainingRun, error) {
	run, err := s.runRepo.Get(ctx, runID)
	if err == nil {
		return run, nil
	}

	if s.history != nil {
		row, herr := s.history.Run.Get(ctx, runID)
		if herr != nil {
			return nil, herr
		}
		if row != nil {
			return mysql.ToRunDomain(row), nil
		}
	}
	return nil, err
}

// RunMetrics returns a run's episode metrics, oldest first. The live
// ring is authoritative while the run is hot; once it expires the
// durable rows serve the query.
func (s *RunService) RunMetrics(ctx context.Context, runID string, limit int) ([]*model.EpisodeMetric, error) {
	metrics, err := s.runRepo.Metrics(ctx, runID, limit)
	if err != nil {
		return nil, err
	}
	if len(metrics) > 0 {
		// The ring stores newest first
		for i, j := 0, len(metrics)-1; i < j; i, j = i+1, j-1 {
			metrics[i], metrics[j] = metrics[j], metrics[i]
		}
		return metrics, nil
	}

	if s.history != nil {
		rows, err := s.history.Metric.ListByRun(ctx, runID, 0)
		if err != nil {
			return nil, err
		}
		metrics = mysql.ToMetricDomainList(rows)
		if limit > 0 && len(metrics) > limit {
			metrics = metrics[len(metrics)-limit:]
		}
	}
	return metrics, nil
}

// MetricsSince returns live metrics of episodes beyond afterEpisode,
// oldest first. The websocket stream and the flusher both poll through
// this; pass -1 to get the whole ring.
func (s *RunService) MetricsSince(ctx context.Context, runID string, afterEpisode int) ([]*model.EpisodeMetric, error) {
	metrics, err := s.runRepo.Metrics(ctx, runID, 0)
	if err != nil {
		return nil, err
	}
	fresh := make([]*model.EpisodeMetric, 0, len(metrics))
	for i := len(metrics) - 1; i >= 0; i-- {
		if metrics[i].Episode > afterEpisode {
			fresh = append(fresh, metrics[i])
		}
	}
	return fresh, nil
}

// ActorPeers reports the rendezvous registry's view of a group's
// actors. Expired peers are included with a zero LastHeartbeat so the
// API can show them as gone rather than hiding them.
func (s *RunService) ActorPeers(ctx context.Context, group string) ([]*model.ActorPeer, error) {
	peers, err := proxy.InspectGroup(ctx, s.redis, group)
	if err != nil {
		return nil, err
	}

	actors := make([]*model.ActorPeer, 0, len(peers))
	for _, peer := range peers {
		if peer.Type != constants.ComponentActor {
			continue
		}
		actors = append(actors, &model.ActorPeer{
			Name:          peer.Name,
			Group:         group,
			Hostname:      peer.Hostname,
			JoinedAt:      peer.JoinedAt,
			LastHeartbeat: peer.LastHeartbeat,
		})
	}
	return actors, nil
}

// FlushRun mirrors one run into the durable store: the run row is
// upserted and every live metric newer than the last persisted episode
// is inserted, all in one transaction. Replays are harmless, both
// writes are idempotent.
func (s *RunService) FlushRun(ctx context.Context, run *model.TrainingRun) error {
	if s.history == nil {
		return nil
	}

	latest, err := s.history.Metric.LatestEpisode(ctx, run.RunID)
	if err != nil {
		return err
	}
	fresh, err := s.MetricsSince(ctx, run.RunID, latest)
	if err != nil {
		return err
	}

	return s.history.GetDatastore().ExecTx(ctx, func(ctx context.Context) error {
		if err := s.history.Run.Upsert(ctx, mysql.FromRunDomain(run)); err != nil {
			return fmt.Errorf("failed to upsert run %s: %w", run.RunID, err)
		}
		if err := s.history.Metric.BatchCreate(ctx, mysql.FromMetricDomainList(fresh)); err != nil {
			return fmt.Errorf("failed to flush metrics of run %s: %w", run.RunID, err)
		}
		return nil
	})
}

// FlushMetrics mirrors every active run into the durable store.
// Failures are logged per run so one broken run cannot stall the rest.
// Terminal runs get their final flush from the run recorder, not from
// here, because Save drops them out of the active set.
func (s *RunService) FlushMetrics(ctx context.Context) error {
	if s.history == nil {
		return nil
	}

	runs, err := s.runRepo.GetActive(ctx)
	if err != nil {
		return fmt.Errorf("failed to list active runs: %w", err)
	}

	flushed := 0
	for _, run := range runs {
		if err := s.FlushRun(ctx, run); err != nil {
			logger.WarnCtx(ctx, "failed to flush run %s: %v", run.RunID, err)
			continue
		}
		flushed++
	}
	if flushed > 0 {
		logger.DebugCtx(ctx, "flushed %d active runs to the durable store", flushed)
	}
	return nil
}

// SweepDeadActors prunes expired actor registrations from every active
// run's rendezvous group. Learner entries are left alone: a half-dead
// learner must stay visible so late actors still find it.
func (s *RunService) SweepDeadActors(ctx context.Context) error {
	runs, err := s.runRepo.GetActive(ctx)
	if err != nil {
		return fmt.Errorf("failed to list active runs: %w", err)
	}

	for _, run := range runs {
		pruned, err := proxy.PruneDeadPeers(ctx, s.redis, run.Group, constants.ComponentActor, actorJoinGrace)
		if err != nil {
			logger.WarnCtx(ctx, "failed to sweep group %s: %v", run.Group, err)
			continue
		}
		if len(pruned) > 0 {
			logger.InfoCtx(ctx, "swept %d dead actors out of group %s", len(pruned), run.Group)
		}
	}
	return nil
}

// CleanupFinishedRuns deletes runs that reached a terminal status
// before the cutoff, durable rows and Redis leftovers both. It returns
// how many runs were removed.
func (s *RunService) CleanupFinishedRuns(ctx context.Context, olderThan time.Duration) (int, error) {
	if s.history == nil {
		return 0, nil
	}

	cutoff := time.Now().UTC().Add(-olderThan)
	runIDs, err := s.history.Run.FinishedBefore(ctx, cutoff, retentionSweepLimit)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, runID := range runIDs {
		err := s.history.GetDatastore().ExecTx(ctx, func(ctx context.Context) error {
			if err := s.history.Metric.DeleteByRun(ctx, runID); err != nil {
				return err
			}
			return s.history.Run.Delete(ctx, runID)
		})
		if err != nil {
			logger.WarnCtx(ctx, "failed to delete expired run %s: %v", runID, err)
			continue
		}
		if err := s.runRepo.Delete(ctx, runID); err != nil {
			logger.WarnCtx(ctx, "failed to drop redis leftovers of run %s: %v", runID, err)
		}
		removed++
	}
	if removed > 0 {
		logger.InfoCtx(ctx, "retention sweep removed %d finished runs", removed)
	}
	return removed, nil
}
