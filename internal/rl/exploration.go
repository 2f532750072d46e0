package rl

import "fmt"

// ExplorationParams maps agent ID to the exploration coefficient the
// actor should use when selecting that agent's actions.
type ExplorationParams map[string]float64

// ExplorationSchedule produces the per-episode exploration coefficient
// with a two-phase linear decay: flat at Start during warmup, Start to
// Mid until the split episode, then Mid to End over the remaining
// episodes. Epsilon is a pure function of the episode index so runs
// can be reproduced and resumed from a checkpoint.
type ExplorationSchedule struct {
	Start         float64
	Mid           float64
	End           float64
	WarmupEpisode int
	SplitEpisode  int
	MaxEpisode    int
}

// NewExplorationSchedule validates the decay configuration.
func NewExplorationSchedule(start, mid, end float64, warmupEpisode, splitEpisode, maxEpisode int) (*ExplorationSchedule, error) {
	if maxEpisode <= 0 {
		return nil, fmt.Errorf("max episode must be positive, got %d", maxEpisode)
	}
	if warmupEpisode < 0 {
		return nil, fmt.Errorf("warmup episode must not be negative, got %d", warmupEpisode)
	}
	if splitEpisode < warmupEpisode {
		return nil, fmt.Errorf("split episode %d must not precede warmup %d", splitEpisode, warmupEpisode)
	}
	if splitEpisode >= maxEpisode {
		return nil, fmt.Errorf("split episode %d must fall inside the horizon of %d episodes", splitEpisode, maxEpisode)
	}
	return &ExplorationSchedule{
		Start:         start,
		Mid:           mid,
		End:           end,
		WarmupEpisode: warmupEpisode,
		SplitEpisode:  splitEpisode,
		MaxEpisode:    maxEpisode,
	}, nil
}

// Epsilon returns the exploration coefficient for one episode.
// Episodes past the horizon clamp to End.
func (s *ExplorationSchedule) Epsilon(episode int) float64 {
	if episode < s.WarmupEpisode {
		return s.Start
	}
	last := s.MaxEpisode - 1
	if episode >= last {
		return s.End
	}
	if episode < s.SplitEpisode {
		span := s.SplitEpisode - s.WarmupEpisode
		if span <= 0 {
			return s.Mid
		}
		frac := float64(episode-s.WarmupEpisode) / float64(span)
		return s.Start + (s.Mid-s.Start)*frac
	}
	span := last - s.SplitEpisode
	if span <= 0 {
		return s.End
	}
	frac := float64(episode-s.SplitEpisode) / float64(span)
	return s.Mid + (s.End-s.Mid)*frac
}

// ParamsFor expands the episode's coefficient into a per-agent map.
// Every agent currently shares one schedule.
func (s *ExplorationSchedule) ParamsFor(episode int, agentIDs []string) ExplorationParams {
	eps := s.Epsilon(episode)
	params := make(ExplorationParams, len(agentIDs))
	for _, id := range agentIDs {
		params[id] = eps
	}
	return params
}
