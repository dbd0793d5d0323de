package messaging

import (
	"math"
	"math/rand/v2"
	"time"
)

// RandomSource yields jitter draws in [0, 1).
type RandomSource interface {
	Float64() float64
}

type globalRandom struct{}

func (globalRandom) Float64() float64 { return rand.Float64() }

// DefaultRandomSource draws from the process-wide generator.
var DefaultRandomSource RandomSource = globalRandom{}

// Spacing turns TimeoutParams into the wait before the next transmission.
// The wait is BaseInterval*Margin, multiplied by Base once per attempt past
// Threshold, then stretched by up to Jitter.
type Spacing struct {
	random RandomSource
}

// NewSpacing returns a Spacing drawing jitter from random, or from
// DefaultRandomSource when random is nil.
func NewSpacing(random RandomSource) *Spacing {
	if random == nil {
		random = DefaultRandomSource
	}
	return &Spacing{random: random}
}

// Next returns the wait after transmission attempt (0 for the first send).
func (s *Spacing) Next(p TimeoutParams, attempt int) time.Duration {
	return interval(p, attempt, s.random.Float64())
}

// Bounds returns the shortest and longest wait Next can produce.
func (s *Spacing) Bounds(p TimeoutParams, attempt int) (lo, hi time.Duration) {
	return interval(p, attempt, 0), interval(p, attempt, 1)
}

func interval(p TimeoutParams, attempt int, draw float64) time.Duration {
	growth := math.Pow(p.Base, float64(max(attempt-p.Threshold, 0)))
	return time.Duration(float64(p.BaseInterval) * p.Margin * growth * (1 + draw*p.Jitter))
}
