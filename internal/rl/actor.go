package rl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"maro/pkg/constants"
	"maro/pkg/logger"
	"maro/pkg/proxy"
)

// ActorCoordinator is the group messaging surface an actor needs.
// *proxy.Proxy satisfies it.
type ActorCoordinator interface {
	Join(ctx context.Context) error
	Broadcast(ctx context.Context, topic string, payload interface{}) error
	Receive(ctx context.Context, timeout time.Duration) (*proxy.Message, error)
	Heartbeat(ctx context.Context) error
	Leave(ctx context.Context) error
}

// ActorOptions tunes the rollout worker.
type ActorOptions struct {
	// ReceiveTimeout is the idle wait per inbox poll.
	ReceiveTimeout time.Duration
	// MaxSteps truncates runaway episodes; <= 0 disables the guard.
	MaxSteps int
	// Discount is the per-transition discount factor recorded for the
	// trainer; the final transition of an episode carries zero.
	Discount float64
	// HeartbeatInterval is how often the liveness key is refreshed.
	HeartbeatInterval time.Duration
}

// Actor is the rollout worker: it joins the rendezvous group, waits
// for policy broadcasts, runs one simulation episode per broadcast
// and replies with the collected experience. It has no learning
// logic of its own.
type Actor struct {
	coord  ActorCoordinator
	agents *AgentManager
	env    Env
	opts   ActorOptions
}

// NewActor wires an actor over its environment.
func NewActor(coord ActorCoordinator, agents *AgentManager, env Env, opts ActorOptions) *Actor {
	if opts.ReceiveTimeout <= 0 {
		opts.ReceiveTimeout = 5 * time.Second
	}
	if opts.MaxSteps == 0 {
		opts.MaxSteps = 10000
	}
	if opts.Discount <= 0 {
		opts.Discount = 0.99
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 10 * time.Second
	}
	return &Actor{coord: coord, agents: agents, env: env, opts: opts}
}

// Run joins the group and serves episodes until the learner sends
// exit or the context is cancelled. The group membership is released
// on every return path.
func (a *Actor) Run(ctx context.Context) error {
	if err := a.coord.Join(ctx); err != nil {
		return fmt.Errorf("failed to join group: %w", err)
	}
	defer func() {
		_ = a.coord.Leave(ctx)
	}()

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	go a.heartbeatLoop(hbCtx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		msg, err := a.coord.Receive(ctx, a.opts.ReceiveTimeout)
		if errors.Is(err, proxy.ErrTimeout) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("inbox receive failed: %w", err)
		}

		switch msg.Topic {
		case constants.TopicPolicy:
			var payload PolicyPayload
			if err := msg.Decode(&payload); err != nil {
				logger.WarnCtx(ctx, "dropping malformed policy message from %s: %v", msg.Source, err)
				continue
			}
			a.handlePolicy(ctx, &payload)
		case constants.TopicExit:
			var exit ExitPayload
			_ = msg.Decode(&exit)
			logger.InfoCtx(ctx, "exit received from %s: %s", msg.Source, exit.Reason)
			return nil
		default:
			logger.DebugCtx(ctx, "ignoring message with topic %s", msg.Topic)
		}
	}
}

func (a *Actor) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(a.opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.coord.Heartbeat(ctx); err != nil && ctx.Err() == nil {
				logger.WarnCtx(ctx, "heartbeat failed: %v", err)
			}
		}
	}
}

// handlePolicy applies the snapshot and runs one episode. A failure
// produces no reply; the learner accounts for us as timed out and the
// episode proceeds without this actor's contribution.
func (a *Actor) handlePolicy(ctx context.Context, payload *PolicyPayload) {
	if len(payload.Models) > 0 {
		if err := a.agents.RestoreAll(payload.Models); err != nil {
			logger.ErrorCtx(ctx, "episode %d: failed to apply policy snapshot: %v", payload.Episode, err)
			return
		}
	}

	if payload.Eval {
		reply, err := a.evaluate(ctx, payload)
		if err != nil {
			logger.ErrorCtx(ctx, "eval episode %d failed: %v", payload.Episode, err)
			return
		}
		if err := a.coord.Broadcast(ctx, constants.TopicEval, reply); err != nil {
			logger.ErrorCtx(ctx, "eval episode %d: failed to send result: %v", payload.Episode, err)
		}
		return
	}

	reply, err := a.rollout(ctx, payload)
	if err != nil {
		logger.ErrorCtx(ctx, "episode %d rollout failed: %v", payload.Episode, err)
		return
	}
	logger.InfoCtx(ctx, "episode %d: %d transitions over %d steps, reward %.4f",
		payload.Episode, reply.Experience.NumTransitions(), reply.NumSteps, reply.TotalReward)
	if err := a.coord.Broadcast(ctx, constants.TopicExperience, reply); err != nil {
		logger.ErrorCtx(ctx, "episode %d: failed to send experience: %v", payload.Episode, err)
	}
}

// rollout plays one full episode under the given exploration
// parameters and records every transition.
func (a *Actor) rollout(ctx context.Context, payload *PolicyPayload) (*ExperiencePayload, error) {
	observations, err := a.env.Reset()
	if err != nil {
		return nil, fmt.Errorf("failed to reset environment: %w", err)
	}

	batch := make(ExperienceBatch)
	totalReward := 0.0
	steps := 0
	for {
		actions, logProbs, err := a.agents.ChooseActions(observations, payload.Exploration)
		if err != nil {
			return nil, err
		}
		rewards, next, done, err := a.env.Step(actions)
		if err != nil {
			return nil, fmt.Errorf("environment step failed: %w", err)
		}

		discount := a.opts.Discount
		if done {
			discount = 0
		}
		for id, action := range actions {
			batch[id] = append(batch[id], Transition{
				Observation:     observations[id],
				Action:          action,
				Reward:          rewards[id],
				NextObservation: next[id],
				Discount:        discount,
				LogProb:         logProbs[id],
			})
			totalReward += rewards[id]
		}

		steps++
		observations = next
		if done {
			break
		}
		if a.opts.MaxSteps > 0 && steps >= a.opts.MaxSteps {
			logger.WarnCtx(ctx, "episode %d truncated after %d steps", payload.Episode, steps)
			break
		}
	}

	return &ExperiencePayload{
		Episode:     payload.Episode,
		Experience:  batch,
		TotalReward: totalReward,
		NumSteps:    steps,
		Metrics:     a.env.Metrics(),
	}, nil
}

// evaluate plays one greedy episode without recording experience.
func (a *Actor) evaluate(ctx context.Context, payload *PolicyPayload) (*EvalPayload, error) {
	observations, err := a.env.Reset()
	if err != nil {
		return nil, fmt.Errorf("failed to reset environment: %w", err)
	}

	totalReward := 0.0
	steps := 0
	for {
		actions, _, err := a.agents.ChooseActions(observations, nil)
		if err != nil {
			return nil, err
		}
		rewards, next, done, err := a.env.Step(actions)
		if err != nil {
			return nil, fmt.Errorf("environment step failed: %w", err)
		}
		for _, reward := range rewards {
			totalReward += reward
		}

		steps++
		observations = next
		if done {
			break
		}
		if a.opts.MaxSteps > 0 && steps >= a.opts.MaxSteps {
			logger.WarnCtx(ctx, "eval episode %d truncated after %d steps", payload.Episode, steps)
			break
		}
	}

	return &EvalPayload{
		Episode:     payload.Episode,
		TotalReward: totalReward,
		Metrics:     a.env.Metrics(),
	}, nil
}
