package effect

import (
	"errors"
	"math/rand/v2"
	"sync"
)

// ErrEmptyCatalog is returned when a catalog is built with no enabled effects.
var ErrEmptyCatalog = errors.New("effect catalog: at least one effect must be enabled")

// Source is the randomness used to pick an effect. *rand.Rand satisfies it,
// which lets tests force a specific draw. Wrap it with Locked when it is
// shared between goroutines.
type Source interface {
	IntN(n int) int
}

// globalSource draws from the goroutine-safe top-level math/rand/v2 generator.
type globalSource struct{}

func (globalSource) IntN(n int) int { return rand.IntN(n) }

// GlobalSource returns a Source backed by the process-wide generator.
func GlobalSource() Source {
	return globalSource{}
}

type lockedSource struct {
	mu  sync.Mutex
	src Source
}

func (l *lockedSource) IntN(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.src.IntN(n)
}

// Locked serializes draws from src so a single-goroutine generator such as
// *rand.Rand can be shared by concurrent renders.
func Locked(src Source) Source {
	switch src.(type) {
	case nil, globalSource, *lockedSource:
		return src
	}
	return &lockedSource{src: src}
}

// Catalog is the read-only set of effects enabled for selection.
type Catalog struct {
	enabled []ID
}

// NewCatalog builds a catalog from the given subset. Duplicates are dropped
// and the order of first appearance is kept so draws are reproducible.
func NewCatalog(enabled []ID) (*Catalog, error) {
	seen := make(map[ID]struct{}, len(enabled))
	ids := make([]ID, 0, len(enabled))
	for _, raw := range enabled {
		id, err := Parse(string(raw))
		if err != nil {
			return nil, err
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, ErrEmptyCatalog
	}
	return &Catalog{enabled: ids}, nil
}

// Enabled returns a copy of the enabled effects.
func (c *Catalog) Enabled() []ID {
	out := make([]ID, len(c.enabled))
	copy(out, c.enabled)
	return out
}

// Pick draws one enabled effect uniformly using src. A nil src falls back to
// the global generator.
func (c *Catalog) Pick(src Source) ID {
	if src == nil {
		src = globalSource{}
	}
	return c.enabled[src.IntN(len(c.enabled))]
}
