// Package rl implements the distributed training loop: a learner
// process drives episodes against a group of remote actor processes,
// exchanging policy parameters and experience through a Redis-backed
// rendezvous group.
package rl

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"maro/internal/model"
	"maro/pkg/constants"
	"maro/pkg/logger"
)

// Coordinator is the group messaging surface the learner drives.
// *proxy.Proxy satisfies it; tests script it in memory.
type Coordinator interface {
	Join(ctx context.Context) error
	Peers(peerType string) []string
	Broadcast(ctx context.Context, topic string, payload interface{}) error
	Collect(ctx context.Context, topic string, want int, timeout time.Duration) (map[string]json.RawMessage, error)
	Leave(ctx context.Context) error
}

// ProgressSink receives run progress as it happens. Implementations
// persist it; the learner does not care where it goes.
type ProgressSink interface {
	EpisodeDone(ctx context.Context, metric *model.EpisodeMetric)
	StatusChanged(ctx context.Context, status constants.RunStatus)
}

type nopSink struct{}

func (nopSink) EpisodeDone(context.Context, *model.EpisodeMetric)  {}
func (nopSink) StatusChanged(context.Context, constants.RunStatus) {}

// LearnerOptions tunes one training run.
type LearnerOptions struct {
	RunID string
	// CollectTimeout bounds the per-episode wait for actor replies.
	CollectTimeout time.Duration
	// CheckpointInterval is the number of episodes between model
	// dumps; <= 0 means only the final dump.
	CheckpointInterval int
	ModelsDir          string
}

// DistLearner runs the per-episode algorithm: broadcast the current
// policy and exploration parameters, collect experience from the
// actors, merge it and apply one learning step. Episodes are strictly
// sequential; an actor that misses the collect window simply
// contributes nothing that episode.
type DistLearner struct {
	coord     Coordinator
	agents    *AgentManager
	scheduler *Scheduler
	aggregate AggregateFunc
	sink      ProgressSink
	opts      LearnerOptions
}

// NewDistLearner wires the learner. aggregate defaults to
// ConcatByAgent and sink to a no-op.
func NewDistLearner(coord Coordinator, agents *AgentManager, scheduler *Scheduler, aggregate AggregateFunc, sink ProgressSink, opts LearnerOptions) *DistLearner {
	if aggregate == nil {
		aggregate = ConcatByAgent
	}
	if sink == nil {
		sink = nopSink{}
	}
	if opts.CollectTimeout <= 0 {
		opts.CollectTimeout = 2 * time.Minute
	}
	return &DistLearner{
		coord:     coord,
		agents:    agents,
		scheduler: scheduler,
		aggregate: aggregate,
		sink:      sink,
		opts:      opts,
	}
}

// Train runs the episode loop until the scheduler signals termination.
// Infrastructure failures and learning-step failures abort the run;
// missing actor replies do not.
func (l *DistLearner) Train(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		episode, epsilon, ok := l.scheduler.Next()
		if !ok {
			break
		}
		start := time.Now()

		merged, replies, totalReward, err := l.runEpisode(ctx, episode, epsilon)
		if err != nil {
			return err
		}

		if merged.NumTransitions() > 0 {
			if err := l.agents.Update(merged); err != nil {
				return fmt.Errorf("episode %d: %w", episode, err)
			}
		} else {
			logger.WarnCtx(ctx, "episode %d produced no transitions, skipping the learning step", episode)
		}

		l.scheduler.RecordPerformance(episode, totalReward)
		l.sink.EpisodeDone(ctx, &model.EpisodeMetric{
			RunID:          l.opts.RunID,
			Episode:        episode,
			Epsilon:        epsilon,
			TotalReward:    totalReward,
			NumTransitions: merged.NumTransitions(),
			ActorCount:     replies,
			DurationMs:     time.Since(start).Milliseconds(),
			CreatedAt:      time.Now().UTC(),
		})

		if l.opts.CheckpointInterval > 0 && (episode+1)%l.opts.CheckpointInterval == 0 {
			if err := l.agents.DumpModels(l.opts.ModelsDir); err != nil {
				logger.ErrorCtx(ctx, "checkpoint at episode %d failed: %v", episode, err)
			} else {
				logger.InfoCtx(ctx, "checkpointed models at episode %d", episode)
			}
		}
	}

	if err := l.agents.DumpModels(l.opts.ModelsDir); err != nil {
		return fmt.Errorf("failed to persist final models: %w", err)
	}

	status := constants.RunStatusDone
	if l.scheduler.Phase() == PhaseEarlyStopped {
		status = constants.RunStatusEarlyStopped
	}
	l.sink.StatusChanged(ctx, status)
	logger.InfoCtx(ctx, "training finished with status %s", status)
	return nil
}

// runEpisode broadcasts the policy and gathers the actors' experience.
func (l *DistLearner) runEpisode(ctx context.Context, episode int, epsilon float64) (ExperienceBatch, int, float64, error) {
	models, err := l.agents.SnapshotAll()
	if err != nil {
		return nil, 0, 0, fmt.Errorf("episode %d: %w", episode, err)
	}
	payload := PolicyPayload{
		Episode:     episode,
		Exploration: l.explorationFor(epsilon),
		Models:      models,
	}
	if err := l.coord.Broadcast(ctx, constants.TopicPolicy, payload); err != nil {
		return nil, 0, 0, fmt.Errorf("episode %d: failed to broadcast policy: %w", episode, err)
	}

	want := len(l.coord.Peers(constants.ComponentActor))
	results, err := l.coord.Collect(ctx, constants.TopicExperience, want, l.opts.CollectTimeout)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("episode %d: failed to collect experience: %w", episode, err)
	}
	if len(results) < want {
		logger.WarnCtx(ctx, "episode %d: only %d/%d actors replied within %s",
			episode, len(results), want, l.opts.CollectTimeout)
	}

	byActor := make(map[string]ExperienceBatch, len(results))
	totalReward := 0.0
	for actor, raw := range results {
		var reply ExperiencePayload
		if err := json.Unmarshal(raw, &reply); err != nil {
			logger.WarnCtx(ctx, "episode %d: dropping malformed reply from %s: %v", episode, actor, err)
			continue
		}
		if reply.Episode != episode {
			logger.WarnCtx(ctx, "episode %d: dropping stale reply from %s for episode %d", episode, actor, reply.Episode)
			continue
		}
		byActor[actor] = reply.Experience
		totalReward += reply.TotalReward
	}

	return l.aggregate(byActor), len(byActor), totalReward, nil
}

func (l *DistLearner) explorationFor(epsilon float64) ExplorationParams {
	ids := l.agents.AgentIDs()
	params := make(ExplorationParams, len(ids))
	for _, id := range ids {
		params[id] = epsilon
	}
	return params
}

// EvalResult is one evaluation episode's outcome.
type EvalResult struct {
	Episode     int                `json:"episode"`
	TotalReward float64            `json:"total_reward"`
	ActorCount  int                `json:"actor_count"`
	Metrics     map[string]float64 `json:"metrics,omitempty"`
}

// Test runs evaluation episodes: the current policy is broadcast with
// exploration disabled and no learning step is applied to the replies.
func (l *DistLearner) Test(ctx context.Context, episodes int) ([]EvalResult, error) {
	results := make([]EvalResult, 0, episodes)
	for episode := 0; episode < episodes; episode++ {
		models, err := l.agents.SnapshotAll()
		if err != nil {
			return results, err
		}
		payload := PolicyPayload{Episode: episode, Models: models, Eval: true}
		if err := l.coord.Broadcast(ctx, constants.TopicPolicy, payload); err != nil {
			return results, fmt.Errorf("eval episode %d: failed to broadcast policy: %w", episode, err)
		}

		want := len(l.coord.Peers(constants.ComponentActor))
		replies, err := l.coord.Collect(ctx, constants.TopicEval, want, l.opts.CollectTimeout)
		if err != nil {
			return results, fmt.Errorf("eval episode %d: failed to collect results: %w", episode, err)
		}

		result := EvalResult{Episode: episode, Metrics: make(map[string]float64)}
		for actor, raw := range replies {
			var reply EvalPayload
			if err := json.Unmarshal(raw, &reply); err != nil {
				logger.WarnCtx(ctx, "eval episode %d: dropping malformed reply from %s: %v", episode, actor, err)
				continue
			}
			result.TotalReward += reply.TotalReward
			result.ActorCount++
			for name, value := range reply.Metrics {
				result.Metrics[name] += value
			}
		}
		logger.InfoCtx(ctx, "eval episode %d: reward %.4f from %d actors", episode, result.TotalReward, result.ActorCount)
		results = append(results, result)
	}
	return results, nil
}

// Exit tells the actors to shut down and releases the coordinator.
// It is safe to call at any point, including after a failed run, and
// never hangs: teardown is bounded inside Leave.
func (l *DistLearner) Exit(ctx context.Context) error {
	if err := l.coord.Broadcast(ctx, constants.TopicExit, ExitPayload{Reason: "learner shutting down"}); err != nil {
		logger.WarnCtx(ctx, "failed to broadcast exit: %v", err)
	}
	return l.coord.Leave(ctx)
}
