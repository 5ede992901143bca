package testutil

import (
	"fmt"
	"sync"
)

// FixedKeyGenerator hands out predictable object keys: "<prefix>-1",
// "<prefix>-2", ... so scenario traces are byte-identical across runs.
//
// Thread-safety: safe for concurrent use.
type FixedKeyGenerator struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewFixedKeyGenerator creates a generator. An empty prefix means "key".
func NewFixedKeyGenerator(prefix string) *FixedKeyGenerator {
	if prefix == "" {
		prefix = "key"
	}
	return &FixedKeyGenerator{prefix: prefix}
}

// Generate returns the next key.
func (g *FixedKeyGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%d", g.prefix, g.n)
}

// Reset restarts numbering at 1.
func (g *FixedKeyGenerator) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n = 0
}
