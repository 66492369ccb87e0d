package runtime

import (
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-hostlink/engine"
)

// Releaser is implemented by closures that hold resources. Release is called
// once when the runtime that owns the closure is closed.
type Releaser interface {
	Release()
}

// registryGen distinguishes keys handed out by different registries.
var registryGen atomic.Uint32

type closureEntry struct {
	shape *closureShape
	value any
	name  string
}

// closureRegistry keeps linked closures alive for the runtime's lifetime.
// Entries are append-only and addressed by stable keys that thunks embed:
// the registry generation in the high 32 bits and the entry index in the low.
type closureRegistry struct {
	gen     uint32
	entries []*closureEntry
	closed  bool
}

func newClosureRegistry() *closureRegistry {
	return &closureRegistry{gen: registryGen.Add(1)}
}

func (r *closureRegistry) add(e *closureEntry) engine.Word {
	r.entries = append(r.entries, e)
	return engine.Word(r.gen)<<32 | engine.Word(len(r.entries)-1)
}

func (r *closureRegistry) get(key engine.Word) (*closureEntry, error) {
	if r.closed {
		return nil, errClosuresReleased
	}
	gen, idx := uint32(key>>32), uint32(key)
	if gen != r.gen || int(idx) >= len(r.entries) {
		return nil, fmt.Errorf("%w: 0x%x", errStaleClosure, key)
	}
	return r.entries[idx], nil
}

func (r *closureRegistry) len() int {
	return len(r.entries)
}

// release drops every entry in insertion order, calling Release on those
// that implement Releaser. Later calls do nothing.
func (r *closureRegistry) release() {
	if r.closed {
		return
	}
	r.closed = true
	for _, e := range r.entries {
		if rel, ok := e.value.(Releaser); ok {
			rel.Release()
		}
	}
	Logger().Debug("closures released", zap.Int("count", len(r.entries)))
	r.entries = nil
}
