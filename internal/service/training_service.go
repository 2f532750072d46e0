package service

import (
	"context"
	"fmt"
	"time"

	"maro/internal/model"
	"maro/internal/rl"
	"maro/internal/scenario"
	"maro/pkg/config"
	"maro/pkg/constants"
	"maro/pkg/logger"
	"maro/pkg/proxy"
	redisstore "maro/pkg/store/redis"

	"github.com/google/uuid"
)

// learnerHeartbeatInterval is how often the learner refreshes its
// liveness key. The learner has no heartbeat loop of its own because
// the episode loop may block in Collect for minutes.
const learnerHeartbeatInterval = 10 * time.Second

// TrainingService launches training components. It owns everything a
// run needs around the episode loop itself: the rendezvous proxy, the
// per-group learner lock, the run record and the policy networks.
type TrainingService struct {
	cfg  *config.Config
	runs *RunService
}

// NewTrainingService creates the launcher. runs may be nil in an
// actor-only process; RunLearner then refuses to start.
func NewTrainingService(cfg *config.Config, runs *RunService) *TrainingService {
	return &TrainingService{cfg: cfg, runs: runs}
}

// RunLearner drives one complete training run as the group's learner.
// It blocks until the run reaches a terminal status and reflects every
// transition in the live run store. Empty runID, group and scenarioName
// fall back to the configured defaults.
func (s *TrainingService) RunLearner(ctx context.Context, runID, group, scenarioName string) error {
	if s.runs == nil {
		return fmt.Errorf("no run store configured, this process cannot act as a learner")
	}

	lcfg := s.cfg.Learner
	if group == "" {
		group = lcfg.Group
	}
	if runID == "" {
		runID = uuid.NewString()
	}
	if scenarioName == "" {
		scenarioName = s.cfg.Scenario.Name
	}
	ctx = logger.WithComponent(ctx, constants.ComponentLearner)

	// One learner per group. A second launch against the same group
	// must fail fast instead of corrupting the rendezvous registry.
	lock := redisstore.NewRedisDistributedLock(s.runs.redis, redisstore.GroupLockKey(group))
	acquired, err := lock.TryLock(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire the learner lock of group %s: %w", group, err)
	}
	if !acquired {
		return fmt.Errorf("group %s already has a learner", group)
	}
	defer func() {
		if err := lock.Unlock(context.Background()); err != nil {
			logger.WarnCtx(ctx, "failed to release the learner lock of group %s: %v", group, err)
		}
	}()

	agents, err := scenario.BuildAgents(s.cfg.Scenario, s.cfg.PPO)
	if err != nil {
		return fmt.Errorf("failed to build agents: %w", err)
	}
	expl := s.cfg.Scheduler.Exploration
	schedule, err := rl.NewExplorationSchedule(expl.Start, expl.Mid, expl.End,
		s.cfg.Scheduler.WarmupEpisode, expl.SplitEpisode, s.cfg.Scheduler.MaxEpisode)
	if err != nil {
		return fmt.Errorf("invalid exploration schedule: %w", err)
	}
	scheduler := rl.NewScheduler(schedule, s.cfg.Scheduler.MaxEpisode,
		s.cfg.Scheduler.WarmupEpisode, s.cfg.Scheduler.Patience)

	run := &model.TrainingRun{
		RunID:      runID,
		Group:      group,
		Scenario:   scenarioName,
		Status:     constants.RunStatusPending,
		MaxEpisode: s.cfg.Scheduler.MaxEpisode,
		ActorCount: lcfg.ExpectedActors,
		Params:     runParams(s.cfg),
		StartedAt:  time.Now().UTC(),
	}
	recorder := NewRunRecorder(s.runs, run)
	if err := s.runs.runRepo.Save(ctx, run); err != nil {
		return fmt.Errorf("failed to create run %s: %w", runID, err)
	}
	logger.InfoCtx(ctx, "run %s created, waiting for %d actors in group %s", runID, lcfg.ExpectedActors, group)

	coord, err := proxy.NewProxy(proxy.Options{
		GroupName:     group,
		ComponentType: constants.ComponentLearner,
		RedisAddr:     s.cfg.Redis.Addr,
		RedisPassword: s.cfg.Redis.Password,
		RedisDB:       s.cfg.Redis.DB,
		ExpectedPeers: map[string]int{constants.ComponentActor: lcfg.ExpectedActors},
		MaxRetries:    lcfg.MaxRetries,
		RetryDelay:    time.Duration(lcfg.RetryDelay) * time.Second,
	})
	if err != nil {
		recorder.Fail(ctx, err)
		return fmt.Errorf("failed to connect to the rendezvous service: %w", err)
	}
	if err := coord.Join(ctx); err != nil {
		recorder.Fail(ctx, err)
		return fmt.Errorf("failed to assemble group %s: %w", group, err)
	}

	learner := rl.NewDistLearner(coord, agents, scheduler, nil, recorder, rl.LearnerOptions{
		RunID:              runID,
		CollectTimeout:     time.Duration(lcfg.CollectTimeout) * time.Second,
		CheckpointInterval: lcfg.CheckpointInterval,
		ModelsDir:          lcfg.ModelsDir,
	})
	defer func() {
		if err := learner.Exit(context.Background()); err != nil {
			logger.WarnCtx(ctx, "failed to dismiss group %s: %v", group, err)
		}
	}()

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	go s.heartbeatLoop(hbCtx, coord)

	if err := recorder.Start(ctx); err != nil {
		logger.WarnCtx(ctx, "failed to mark run %s running: %v", runID, err)
	}
	if err := learner.Train(ctx); err != nil {
		recorder.Fail(ctx, err)
		return fmt.Errorf("run %s aborted: %w", runID, err)
	}
	return nil
}

// RunActor serves rollout episodes for a group until the learner sends
// exit or ctx is cancelled. index only distinguishes fleet replicas in
// the logs; the rendezvous name is generated by the proxy.
func (s *TrainingService) RunActor(ctx context.Context, group string, index int) error {
	if group == "" {
		group = s.cfg.Actor.Group
	}
	ctx = logger.WithComponent(ctx, constants.ComponentActor)

	env, err := scenario.New(s.cfg.Scenario)
	if err != nil {
		return fmt.Errorf("failed to build environment: %w", err)
	}
	agents, err := scenario.BuildAgents(s.cfg.Scenario, s.cfg.PPO)
	if err != nil {
		return fmt.Errorf("failed to build agents: %w", err)
	}

	// Discovery budget is a group-wide setting, shared with the learner
	// section so both sides give up around the same time.
	coord, err := proxy.NewProxy(proxy.Options{
		GroupName:     group,
		ComponentType: constants.ComponentActor,
		RedisAddr:     s.cfg.Redis.Addr,
		RedisPassword: s.cfg.Redis.Password,
		RedisDB:       s.cfg.Redis.DB,
		ExpectedPeers: map[string]int{constants.ComponentLearner: 1},
		MaxRetries:    s.cfg.Learner.MaxRetries,
		RetryDelay:    time.Duration(s.cfg.Learner.RetryDelay) * time.Second,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to the rendezvous service: %w", err)
	}

	actor := rl.NewActor(coord, agents, env, rl.ActorOptions{
		Discount:          s.cfg.PPO.Gamma,
		HeartbeatInterval: time.Duration(s.cfg.Actor.HeartbeatInterval) * time.Second,
	})
	logger.InfoCtx(ctx, "actor %d joining group %s, scenario %s", index, group, s.cfg.Scenario.Name)
	return actor.Run(ctx)
}

// heartbeatLoop keeps the learner's registry entry alive for the
// duration of a run.
func (s *TrainingService) heartbeatLoop(ctx context.Context, coord *proxy.Proxy) {
	ticker := time.NewTicker(learnerHeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := coord.Heartbeat(ctx); err != nil && ctx.Err() == nil {
				logger.WarnCtx(ctx, "learner heartbeat failed: %v", err)
			}
		}
	}
}

// runParams snapshots the settings a run started with, for inspection
// after config files have moved on.
func runParams(cfg *config.Config) map[string]interface{} {
	expl := cfg.Scheduler.Exploration
	return map[string]interface{}{
		"expected_actors": cfg.Learner.ExpectedActors,
		"collect_timeout": cfg.Learner.CollectTimeout,
		"warmup_episode":  cfg.Scheduler.WarmupEpisode,
		"patience":        cfg.Scheduler.Patience,
		"exploration": map[string]interface{}{
			"start":         expl.Start,
			"mid":           expl.Mid,
			"end":           expl.End,
			"split_episode": expl.SplitEpisode,
		},
		"ppo": map[string]interface{}{
			"gamma":        cfg.PPO.Gamma,
			"clip_epsilon": cfg.PPO.ClipEpsilon,
			"entropy_coef": cfg.PPO.EntropyCoef,
			"epochs":       cfg.PPO.Epochs,
			"policy_lr":    cfg.PPO.PolicyLR,
			"value_lr":     cfg.PPO.ValueLR,
		},
	}
}
