package rl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestScheduler(t *testing.T, maxEpisode, warmup, patience int) *Scheduler {
	t.Helper()
	schedule, err := NewExplorationSchedule(0.4, 0.32, 0.0, warmup, warmup+(maxEpisode-warmup)/2, maxEpisode)
	require.NoError(t, err)
	return NewScheduler(schedule, maxEpisode, warmup, patience)
}

func TestScheduler_EpisodesAreSequential(t *testing.T) {
	s := newTestScheduler(t, 5, 2, 0)

	for want := 0; want < 5; want++ {
		episode, epsilon, ok := s.Next()
		require.True(t, ok)
		assert.Equal(t, want, episode)
		assert.GreaterOrEqual(t, epsilon, 0.0)
	}

	_, _, ok := s.Next()
	assert.False(t, ok)
	assert.Equal(t, PhaseDone, s.Phase())

	// done is sticky
	_, _, ok = s.Next()
	assert.False(t, ok)
}

func TestScheduler_WarmupThenTraining(t *testing.T) {
	s := newTestScheduler(t, 10, 3, 0)

	assert.Equal(t, PhaseWarmup, s.Phase())
	for i := 0; i < 3; i++ {
		_, _, ok := s.Next()
		require.True(t, ok)
		assert.Equal(t, PhaseWarmup, s.Phase())
	}

	_, _, ok := s.Next()
	require.True(t, ok)
	assert.Equal(t, PhaseTraining, s.Phase())
}

func TestScheduler_EarlyStopsAfterPatience(t *testing.T) {
	s := newTestScheduler(t, 100, 0, 2)

	episode, _, ok := s.Next()
	require.True(t, ok)
	s.RecordPerformance(episode, 10.0)

	episode, _, ok = s.Next()
	require.True(t, ok)
	s.RecordPerformance(episode, 8.0)
	assert.Equal(t, PhaseTraining, s.Phase())

	episode, _, ok = s.Next()
	require.True(t, ok)
	s.RecordPerformance(episode, 7.0)
	assert.Equal(t, PhaseEarlyStopped, s.Phase())

	_, _, ok = s.Next()
	assert.False(t, ok)

	best, perf, hasPerf := s.Best()
	require.True(t, hasPerf)
	assert.Equal(t, 0, best)
	assert.Equal(t, 10.0, perf)
}

func TestScheduler_ImprovementResetsPatience(t *testing.T) {
	s := newTestScheduler(t, 100, 0, 2)

	perfs := []float64{5.0, 4.0, 6.0, 5.5}
	for _, perf := range perfs {
		episode, _, ok := s.Next()
		require.True(t, ok)
		s.RecordPerformance(episode, perf)
	}

	// one miss after the improvement at episode 2 is not enough
	assert.Equal(t, PhaseTraining, s.Phase())

	episode, _, ok := s.Next()
	require.True(t, ok)
	s.RecordPerformance(episode, 5.0)
	assert.Equal(t, PhaseEarlyStopped, s.Phase())
}

func TestScheduler_WarmupDoesNotTripPatience(t *testing.T) {
	s := newTestScheduler(t, 100, 5, 1)

	perfs := []float64{10.0, 9.0, 8.0, 7.0, 6.0}
	for _, perf := range perfs {
		episode, _, ok := s.Next()
		require.True(t, ok)
		s.RecordPerformance(episode, perf)
	}

	// five declining warmup episodes, still no early stop
	assert.NotEqual(t, PhaseEarlyStopped, s.Phase())

	_, _, ok := s.Next()
	assert.True(t, ok)
}

func TestScheduler_PatienceDisabled(t *testing.T) {
	s := newTestScheduler(t, 20, 0, 0)

	for i := 0; i < 20; i++ {
		episode, _, ok := s.Next()
		require.True(t, ok)
		s.RecordPerformance(episode, 100.0-float64(i))
	}

	assert.Equal(t, PhaseTraining, s.Phase())
	_, _, ok := s.Next()
	assert.False(t, ok)
	assert.Equal(t, PhaseDone, s.Phase())
}

func TestScheduler_BestBeforeAnyRecord(t *testing.T) {
	s := newTestScheduler(t, 10, 0, 0)
	_, _, hasPerf := s.Best()
	assert.False(t, hasPerf)
}
