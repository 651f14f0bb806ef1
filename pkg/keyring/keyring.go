// Package keyring provides credential rotation over a pool of API keys.
//
// Outbound provider calls each select one key from a configured pool — a
// single string holding one or more keys separated by commas or whitespace.
// Rotation spreads request volume across keys so that per-key rate limits are
// hit later, if at all.
package keyring

import (
	"math/rand/v2"
	"strings"
	"sync/atomic"
)

// Selector picks one credential out of a pool string.
//
// Implementations must be safe for concurrent use.
type Selector interface {
	// Next returns one key from pool. When the pool contains no usable key
	// the pool string itself is returned unchanged, so a single unseparated
	// key always round-trips.
	Next(pool string) string
}

// split breaks a pool string on commas and whitespace, dropping empties.
func split(pool string) []string {
	fields := strings.FieldsFunc(pool, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n' || r == '\r'
	})
	keys := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			keys = append(keys, f)
		}
	}
	return keys
}

// Random selects a uniformly random key per call.
type Random struct{}

// NewRandom returns a Selector with uniform random selection.
func NewRandom() *Random { return &Random{} }

// Next implements Selector.
func (*Random) Next(pool string) string {
	keys := split(pool)
	if len(keys) == 0 {
		return pool
	}
	return keys[rand.IntN(len(keys))]
}

// RoundRobin cycles through the pool in order. Position is shared across
// pools; the spread stays even as long as the pool is stable between calls.
type RoundRobin struct {
	n atomic.Uint64
}

// NewRoundRobin returns a Selector that cycles deterministically.
func NewRoundRobin() *RoundRobin { return &RoundRobin{} }

// Next implements Selector.
func (r *RoundRobin) Next(pool string) string {
	keys := split(pool)
	if len(keys) == 0 {
		return pool
	}
	return keys[(r.n.Add(1)-1)%uint64(len(keys))]
}
