package session

import (
	"math"
	"math/rand/v2"
	"sync"
	"time"
	"unicode"
)

// cadence varies the pause between keystrokes around a base delay. Runs of
// digits, such as a phone number or a passcode read off a screen, are typed
// in faster bursts; a change between digits and other characters costs a
// short hesitation.
type cadence struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func newCadence(seed uint64) *cadence {
	return &cadence{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

const (
	burstFactor    = 0.75
	switchFactor   = 1.6
	jitterFraction = 0.3
	minKeyFactor   = 0.2
)

// next returns the pause after typing cur, given the previous rune (0 at
// the start). A nil cadence or a non-positive base returns base unchanged.
func (c *cadence) next(base time.Duration, prev, cur rune) time.Duration {
	if c == nil || base <= 0 {
		return base
	}

	factor := 1.0
	switch {
	case prev != 0 && unicode.IsDigit(prev) && unicode.IsDigit(cur):
		factor = burstFactor
	case prev != 0 && unicode.IsDigit(prev) != unicode.IsDigit(cur):
		factor = switchFactor
	}

	c.mu.Lock()
	noise := c.rng.NormFloat64() * jitterFraction
	c.mu.Unlock()

	factor *= 1 + noise
	factor = math.Max(factor, minKeyFactor)
	return time.Duration(float64(base) * factor)
}
