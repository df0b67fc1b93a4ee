package idempotency

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNext_Shape(t *testing.T) {
	g := NewGenerator()

	for i := 0; i < 1000; i++ {
		key := g.Next()
		require.True(t, Valid(key), "key %q", key)
		assert.True(t, strings.HasPrefix(key, Prefix))
	}
}

func TestNext_Deterministic(t *testing.T) {
	at := time.UnixMilli(1700000000123)
	i := 0
	g := NewGeneratorWith(
		func() time.Time { return at },
		func(n int) int { i++; return (i * 7) % n },
	)

	assert.Equal(t, "k6-1700000000123-7elsz6dk", g.Next())
}

func TestNext_UniqueAcrossGoroutines(t *testing.T) {
	g := NewGenerator()

	const workers = 16
	const perWorker = 5000

	var mu sync.Mutex
	seen := make(map[string]struct{}, workers*perWorker)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			keys := make([]string, 0, perWorker)
			for i := 0; i < perWorker; i++ {
				keys = append(keys, g.Next())
			}
			mu.Lock()
			defer mu.Unlock()
			for _, k := range keys {
				seen[k] = struct{}{}
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, workers*perWorker)
}

func TestValid(t *testing.T) {
	tests := map[string]bool{
		"k6-1700000000000-abc123xy":  true,
		"k6-1-00000000":              true,
		"k6-1700000000000-ABC123XY":  false,
		"k6-1700000000000-abc123x":   false,
		"k6-1700000000000-abc123xyz": false,
		"k7-1700000000000-abc123xy":  false,
		"k6--abc123xy":               false,
		"k6-17000x0000000-abc123xy":  false,
		"":                           false,
	}
	for key, want := range tests {
		assert.Equal(t, want, Valid(key), "key %q", key)
	}
}
