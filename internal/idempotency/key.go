// Package idempotency generates the per-order idempotency keys.
//
// A key is "k6-<unix millis>-<8 base-36 chars>". Virtual users share no
// counter, so uniqueness rests on the timestamp plus 36^8 random suffixes;
// a same-millisecond collision is possible and accepted.
package idempotency

import (
	"math/rand/v2"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Prefix starts every key.
const Prefix = "k6-"

// SuffixLen is the length of the random part.
const SuffixLen = 8

const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

var keyPattern = regexp.MustCompile(`^k6-\d+-[0-9a-z]{8}$`)

// Generator produces keys. The zero value is not usable, use NewGenerator.
// It is safe for concurrent use.
type Generator struct {
	now  func() time.Time
	intn func(n int) int
}

// NewGenerator returns a generator backed by the wall clock and the
// runtime's concurrency-safe random source.
func NewGenerator() *Generator {
	return &Generator{
		now:  time.Now,
		intn: rand.IntN,
	}
}

// NewGeneratorWith returns a generator with an injected clock and random
// source, for tests.
func NewGeneratorWith(now func() time.Time, intn func(n int) int) *Generator {
	return &Generator{now: now, intn: intn}
}

// Next returns a fresh key. It never fails.
func (g *Generator) Next() string {
	var sb strings.Builder
	sb.Grow(len(Prefix) + 14 + 1 + SuffixLen)

	sb.WriteString(Prefix)
	sb.WriteString(strconv.FormatInt(g.now().UnixMilli(), 10))
	sb.WriteByte('-')
	for i := 0; i < SuffixLen; i++ {
		sb.WriteByte(alphabet[g.intn(len(alphabet))])
	}
	return sb.String()
}

// Valid reports whether key has the generated shape.
func Valid(key string) bool {
	return keyPattern.MatchString(key)
}
