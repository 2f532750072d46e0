package rl

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExplorationSchedule_TwoPhaseValues(t *testing.T) {
	s, err := NewExplorationSchedule(0.4, 0.32, 0.0, 10, 50, 100)
	require.NoError(t, err)

	tests := []struct {
		name    string
		episode int
		want    float64
	}{
		{"first episode", 0, 0.4},
		{"last warmup episode", 9, 0.4},
		{"phase one start", 10, 0.4},
		{"phase one midpoint", 30, 0.36},
		{"split episode", 50, 0.32},
		{"phase two interior", 75, 0.32 * 24.0 / 49.0},
		{"final episode", 99, 0.0},
		{"beyond the horizon", 120, 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, s.Epsilon(tt.episode), 1e-9)
		})
	}
}

func TestExplorationSchedule_Validation(t *testing.T) {
	tests := []struct {
		name    string
		warmup  int
		split   int
		maxEp   int
		wantErr bool
	}{
		{"valid", 5, 20, 50, false},
		{"split equals warmup", 5, 5, 50, false},
		{"zero warmup", 0, 20, 50, false},
		{"negative warmup", -1, 20, 50, true},
		{"split before warmup", 10, 5, 50, true},
		{"split at horizon", 5, 50, 50, true},
		{"no episodes", 0, 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewExplorationSchedule(0.4, 0.32, 0.0, tt.warmup, tt.split, tt.maxEp)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestExplorationSchedule_ParamsFor(t *testing.T) {
	s, err := NewExplorationSchedule(0.4, 0.32, 0.0, 0, 5, 10)
	require.NoError(t, err)

	params := s.ParamsFor(0, []string{"port_0", "port_1", "port_2"})
	require.Len(t, params, 3)
	for agent, eps := range params {
		assert.Equal(t, 0.4, eps, "agent %s", agent)
	}
}

func TestProperty_WarmupHoldsStartValue(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.MaxSize = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("every episode before warmup returns start unchanged", prop.ForAll(
		func(warmup, splitOffset, tail int, start float64) bool {
			split := warmup + splitOffset
			maxEp := split + tail
			s, err := NewExplorationSchedule(start, start/2, 0, warmup, split, maxEp)
			if err != nil {
				return false
			}
			for e := 0; e < warmup; e++ {
				if s.Epsilon(e) != start {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 30),
		gen.IntRange(0, 20),
		gen.IntRange(1, 30),
		gen.Float64Range(0.05, 1.0),
	))

	properties.TestingRun(t)
}

func TestProperty_DecayIsMonotonicPerPhase(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.MaxSize = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("epsilon never increases from warmup to the horizon", prop.ForAll(
		func(warmup, splitOffset, tail int, start, midFrac, endFrac float64) bool {
			split := warmup + splitOffset
			maxEp := split + tail
			mid := start * midFrac
			end := mid * endFrac
			s, err := NewExplorationSchedule(start, mid, end, warmup, split, maxEp)
			if err != nil {
				return false
			}
			prev := s.Epsilon(warmup)
			for e := warmup + 1; e < maxEp+5; e++ {
				cur := s.Epsilon(e)
				if cur > prev {
					return false
				}
				prev = cur
			}
			return true
		},
		gen.IntRange(0, 20),
		gen.IntRange(0, 25),
		gen.IntRange(1, 40),
		gen.Float64Range(0.1, 1.0),
		gen.Float64Range(0.0, 1.0),
		gen.Float64Range(0.0, 1.0),
	))

	properties.TestingRun(t)
}

func TestProperty_ScheduleIsDeterministic(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.MaxSize = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("identical inputs always yield identical outputs", prop.ForAll(
		func(warmup, splitOffset, tail, episode int, start float64) bool {
			split := warmup + splitOffset
			maxEp := split + tail
			a, err := NewExplorationSchedule(start, start*0.8, start*0.1, warmup, split, maxEp)
			if err != nil {
				return false
			}
			b, err := NewExplorationSchedule(start, start*0.8, start*0.1, warmup, split, maxEp)
			if err != nil {
				return false
			}
			return a.Epsilon(episode) == a.Epsilon(episode) && a.Epsilon(episode) == b.Epsilon(episode)
		},
		gen.IntRange(0, 20),
		gen.IntRange(0, 25),
		gen.IntRange(1, 40),
		gen.IntRange(0, 200),
		gen.Float64Range(0.05, 1.0),
	))

	properties.TestingRun(t)
}
