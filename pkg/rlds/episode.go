// Package rlds defines the episode and step records of an RLDS-style dataset.
package rlds

import (
	"errors"
	"fmt"
	"image"
)

// Observation is what the robot saw at a single timestep.
type Observation struct {
	Image      *image.NRGBA // main camera
	WristImage *image.NRGBA
	State      []float32
}

// Step is one timestep of an episode.
type Step struct {
	Observation         Observation
	Action              []float32
	Discount            float32
	Reward              float32
	IsFirst             bool
	IsLast              bool
	IsTerminal          bool
	LanguageInstruction string
	LanguageEmbedding   []float32
}

// EpisodeMetadata holds per-episode information that is not part of any step.
type EpisodeMetadata struct {
	FilePath string
}

// Episode is one recorded trajectory.
type Episode struct {
	Steps    []Step
	Metadata EpisodeMetadata
}

// Len returns the number of steps.
func (e *Episode) Len() int {
	return len(e.Steps)
}

// MarkStep sets the positional fields of step i in an episode of n steps.
// Demonstrations are assumed, so the last step is terminal and carries the reward.
func MarkStep(s *Step, i, n int) {
	last := i == n-1
	s.IsFirst = i == 0
	s.IsLast = last
	s.IsTerminal = last
	s.Discount = 1
	s.Reward = 0
	if last {
		s.Reward = 1
	}
}

// ErrEmptyEpisode is returned by Validate for an episode without steps.
var ErrEmptyEpisode = errors.New("episode has no steps")

// Validate checks the positional invariants of the episode.
func (e *Episode) Validate() error {
	n := len(e.Steps)
	if n == 0 {
		return ErrEmptyEpisode
	}
	for i, s := range e.Steps {
		last := i == n-1
		if s.IsFirst != (i == 0) {
			return fmt.Errorf("step %d: is_first=%t", i, s.IsFirst)
		}
		if s.IsLast != last || s.IsTerminal != last {
			return fmt.Errorf("step %d: is_last=%t is_terminal=%t", i, s.IsLast, s.IsTerminal)
		}
		want := float32(0)
		if last {
			want = 1
		}
		if s.Reward != want {
			return fmt.Errorf("step %d: reward=%g, want %g", i, s.Reward, want)
		}
		if s.Discount != 1 {
			return fmt.Errorf("step %d: discount=%g, want 1", i, s.Discount)
		}
	}
	return nil
}

// Example pairs an episode with its dataset key, the path of its source file.
type Example struct {
	Key     string
	Episode *Episode
}
