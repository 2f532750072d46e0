package rl

import (
	"math"

	"maro/pkg/logger"
)

// SchedulerPhase is the lifecycle phase of the episode loop.
type SchedulerPhase string

const (
	PhaseWarmup       SchedulerPhase = "WARMUP"
	PhaseTraining     SchedulerPhase = "TRAINING"
	PhaseEarlyStopped SchedulerPhase = "EARLY_STOPPED"
	PhaseDone         SchedulerPhase = "DONE"
)

// Scheduler drives the episode loop: it hands out episode indices with
// their exploration coefficient, tracks the monitored performance and
// stops the run early when it stops improving for `patience` episodes
// in a row. Next is pure bookkeeping and never blocks.
type Scheduler struct {
	schedule      *ExplorationSchedule
	maxEpisode    int
	warmupEpisode int
	patience      int

	episode int
	phase   SchedulerPhase

	bestPerf     float64
	bestEpisode  int
	sinceImprove int
	hasPerf      bool
}

// NewScheduler builds a scheduler over the given exploration schedule.
// patience <= 0 disables early stopping.
func NewScheduler(schedule *ExplorationSchedule, maxEpisode, warmupEpisode, patience int) *Scheduler {
	return &Scheduler{
		schedule:      schedule,
		maxEpisode:    maxEpisode,
		warmupEpisode: warmupEpisode,
		patience:      patience,
		phase:         PhaseWarmup,
		bestPerf:      math.Inf(-1),
		bestEpisode:   -1,
	}
}

// Next returns the next episode index and its exploration coefficient.
// ok is false once the run reached its horizon or stopped early.
func (s *Scheduler) Next() (episode int, epsilon float64, ok bool) {
	if s.phase == PhaseEarlyStopped || s.phase == PhaseDone {
		return 0, 0, false
	}
	if s.episode >= s.maxEpisode {
		s.transition(PhaseDone)
		return 0, 0, false
	}

	if s.phase == PhaseWarmup && s.episode >= s.warmupEpisode {
		s.transition(PhaseTraining)
	}

	episode = s.episode
	s.episode++
	return episode, s.schedule.Epsilon(episode), true
}

// RecordPerformance feeds the monitored metric for one finished
// episode. Warmup episodes never trip early stopping; they still may
// set the initial best.
func (s *Scheduler) RecordPerformance(episode int, perf float64) {
	if !s.hasPerf || perf > s.bestPerf {
		s.bestPerf = perf
		s.bestEpisode = episode
		s.sinceImprove = 0
		s.hasPerf = true
		logger.Debugf("episode %d set a new best performance %.4f", episode, perf)
		return
	}

	if episode < s.warmupEpisode {
		return
	}
	s.sinceImprove++
	if s.patience > 0 && s.sinceImprove >= s.patience && s.phase == PhaseTraining {
		logger.Warnf("no improvement for %d episodes (best %.4f at episode %d), stopping early",
			s.sinceImprove, s.bestPerf, s.bestEpisode)
		s.transition(PhaseEarlyStopped)
	}
}

// Phase returns the current lifecycle phase.
func (s *Scheduler) Phase() SchedulerPhase {
	return s.phase
}

// Best returns the best monitored performance and its episode.
// ok is false until any performance was recorded.
func (s *Scheduler) Best() (episode int, perf float64, ok bool) {
	return s.bestEpisode, s.bestPerf, s.hasPerf
}

func (s *Scheduler) transition(next SchedulerPhase) {
	if s.phase == next {
		return
	}
	logger.Infof("scheduler phase %s -> %s at episode %d", s.phase, next, s.episode)
	s.phase = next
}
