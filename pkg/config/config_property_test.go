// Package config property tests verify that configuration validation
// falls back to defaults for invalid values and preserves valid ones.
package config

import (
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestProperty_InvalidLearnerValuesFallBackToDefaults tests that non-positive
// learner settings fall back to defaults while the rest of the section is kept.
func TestProperty_InvalidLearnerValuesFallBackToDefaults(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.MaxSize = 50

	properties := gopter.NewProperties(parameters)
	defaults := DefaultLearnerConfig()

	properties.Property("non-positive retry budget falls back to default", prop.ForAll(
		func(retries int) bool {
			cfg := &Config{}
			cfg.Learner.MaxRetries = retries

			if err := validateAndApplyDefaults(cfg); err != nil {
				return false
			}
			return cfg.Learner.MaxRetries == defaults.MaxRetries
		},
		gen.IntRange(-1000, 0),
	))

	properties.Property("non-positive collect timeout falls back to default", prop.ForAll(
		func(timeout int) bool {
			cfg := &Config{}
			cfg.Learner.CollectTimeout = timeout

			if err := validateAndApplyDefaults(cfg); err != nil {
				return false
			}
			return cfg.Learner.CollectTimeout == defaults.CollectTimeout
		},
		gen.IntRange(-1000, 0),
	))

	properties.Property("non-positive checkpoint interval falls back to default", prop.ForAll(
		func(interval int) bool {
			cfg := &Config{}
			cfg.Learner.CheckpointInterval = interval

			if err := validateAndApplyDefaults(cfg); err != nil {
				return false
			}
			return cfg.Learner.CheckpointInterval == defaults.CheckpointInterval
		},
		gen.IntRange(-1000, 0),
	))

	properties.TestingRun(t)
}

// TestProperty_ValidLearnerValuesArePreserved tests that explicitly configured
// learner values survive validation untouched.
func TestProperty_ValidLearnerValuesArePreserved(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.MaxSize = 50

	properties := gopter.NewProperties(parameters)

	properties.Property("positive retry budget is preserved", prop.ForAll(
		func(retries int) bool {
			cfg := &Config{}
			cfg.Learner.MaxRetries = retries

			if err := validateAndApplyDefaults(cfg); err != nil {
				return false
			}
			return cfg.Learner.MaxRetries == retries
		},
		gen.IntRange(1, 100),
	))

	properties.Property("positive expected actor count is preserved", prop.ForAll(
		func(actors int) bool {
			cfg := &Config{}
			cfg.Learner.ExpectedActors = actors

			if err := validateAndApplyDefaults(cfg); err != nil {
				return false
			}
			return cfg.Learner.ExpectedActors == actors
		},
		gen.IntRange(1, 64),
	))

	properties.TestingRun(t)
}

// TestProperty_PPOValuesValidated tests the optimizer section: out-of-range
// coefficients fall back to defaults, in-range ones are preserved.
func TestProperty_PPOValuesValidated(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.MaxSize = 50

	properties := gopter.NewProperties(parameters)
	defaults := DefaultPPOConfig()

	properties.Property("gamma outside (0,1] falls back to default", prop.ForAll(
		func(gamma float64) bool {
			cfg := &Config{}
			cfg.PPO.Gamma = gamma

			if err := validateAndApplyDefaults(cfg); err != nil {
				return false
			}
			return cfg.PPO.Gamma == defaults.Gamma
		},
		gen.Float64Range(1.0001, 100),
	))

	properties.Property("gamma in (0,1] is preserved", prop.ForAll(
		func(gamma float64) bool {
			cfg := &Config{}
			cfg.PPO.Gamma = gamma

			if err := validateAndApplyDefaults(cfg); err != nil {
				return false
			}
			return cfg.PPO.Gamma == gamma
		},
		gen.Float64Range(0.01, 1.0),
	))

	properties.Property("non-positive epoch count falls back to default", prop.ForAll(
		func(epochs int) bool {
			cfg := &Config{}
			cfg.PPO.Epochs = epochs

			if err := validateAndApplyDefaults(cfg); err != nil {
				return false
			}
			return cfg.PPO.Epochs == defaults.Epochs
		},
		gen.IntRange(-100, 0),
	))

	properties.TestingRun(t)
}

// TestProperty_SplitEpisodeDerivedFromMaxEpisode tests that an unset phase
// boundary lands at half the episode horizon.
func TestProperty_SplitEpisodeDerivedFromMaxEpisode(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.MaxSize = 50

	properties := gopter.NewProperties(parameters)

	properties.Property("unset split episode defaults to max_episode/2", prop.ForAll(
		func(maxEpisode int) bool {
			cfg := &Config{}
			cfg.Scheduler.MaxEpisode = maxEpisode

			if err := validateAndApplyDefaults(cfg); err != nil {
				return false
			}
			return cfg.Scheduler.Exploration.SplitEpisode == maxEpisode/2
		},
		gen.IntRange(2, 10000),
	))

	properties.Property("explicit split episode is preserved", prop.ForAll(
		func(maxEpisode, split int) bool {
			cfg := &Config{}
			cfg.Scheduler.MaxEpisode = maxEpisode
			cfg.Scheduler.Exploration.SplitEpisode = split

			if err := validateAndApplyDefaults(cfg); err != nil {
				return false
			}
			return cfg.Scheduler.Exploration.SplitEpisode == split
		},
		gen.IntRange(2, 10000),
		gen.IntRange(1, 10000),
	))

	properties.TestingRun(t)
}

// TestProperty_ValidationIsIdempotent tests that applying validation twice
// produces the same configuration as applying it once.
func TestProperty_ValidationIsIdempotent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.MaxSize = 50

	properties := gopter.NewProperties(parameters)

	properties.Property("validation is idempotent", prop.ForAll(
		func(retries, timeout, epochs, maxEpisode int) bool {
			cfg := &Config{}
			cfg.Learner.MaxRetries = retries
			cfg.Learner.CollectTimeout = timeout
			cfg.PPO.Epochs = epochs
			cfg.Scheduler.MaxEpisode = maxEpisode

			if err := validateAndApplyDefaults(cfg); err != nil {
				return false
			}
			first := *cfg

			if err := validateAndApplyDefaults(cfg); err != nil {
				return false
			}
			return reflect.DeepEqual(*cfg, first)
		},
		gen.IntRange(-100, 100),
		gen.IntRange(-100, 100),
		gen.IntRange(-100, 100),
		gen.IntRange(-100, 100),
	))

	properties.TestingRun(t)
}

// TestProperty_DefaultFunctionsReturnValidValues tests that the default
// sections themselves pass their own validation rules.
func TestProperty_DefaultFunctionsReturnValidValues(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.MaxSize = 50

	properties := gopter.NewProperties(parameters)

	properties.Property("learner defaults are valid", prop.ForAll(
		func(_ int) bool {
			d := DefaultLearnerConfig()
			return d.ExpectedActors > 0 && d.MaxRetries > 0 && d.RetryDelay > 0 &&
				d.CollectTimeout > 0 && d.CheckpointInterval > 0 && d.ModelsDir != ""
		},
		gen.Const(0),
	))

	properties.Property("optimizer defaults are valid", prop.ForAll(
		func(_ int) bool {
			d := DefaultPPOConfig()
			return d.Gamma > 0 && d.Gamma <= 1 && d.ClipEpsilon > 0 &&
				d.EntropyCoef >= 0 && d.Epochs > 0 && d.PolicyLR > 0 && d.ValueLR > 0
		},
		gen.Const(0),
	))

	properties.Property("pipeline defaults are valid", prop.ForAll(
		func(_ int) bool {
			d := DefaultDataPipeConfig()
			return d.PollInterval > 0 && d.PollDeadline > 0 && d.ReadingsLimit > 0 &&
				d.WorkDir != "" && d.Downloader.RPCURL != ""
		},
		gen.Const(0),
	))

	properties.TestingRun(t)
}
