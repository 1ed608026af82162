package eventbus

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// IDGenerator produces unique event IDs. Swappable so tests can assert
// against known IDs instead of random UUIDs.
type IDGenerator interface {
	Generate() string
}

// UUIDGenerator generates time-sortable UUIDv7 event IDs.
type UUIDGenerator struct{}

func (UUIDGenerator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// FixedGenerator returns predetermined IDs in order, then a deterministic
// fallback sequence ("fixed-gen-overflow-N") rather than panicking, since
// production code paths may call Generate() more times than a test
// anticipates.
type FixedGenerator struct {
	mu     sync.Mutex
	ids    []string
	idx    int
	excess int
}

func NewFixedGenerator(ids ...string) *FixedGenerator {
	return &FixedGenerator{ids: ids}
}

func (g *FixedGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.idx < len(g.ids) {
		id := g.ids[g.idx]
		g.idx++
		return id
	}
	g.excess++
	return fmt.Sprintf("fixed-gen-overflow-%d", g.excess)
}
