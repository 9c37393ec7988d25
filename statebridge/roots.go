package statebridge

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
)

// rootRegistry records every root a backend produced or was anchored to.
// Each root gets a stable, non-zero sequence number in order of first
// appearance.
type rootRegistry struct {
	roots sync.Map // map[common.Hash]uint64
	seq   atomic.Uint64
}

func newRootRegistry() *rootRegistry {
	return new(rootRegistry)
}

// register records root and returns its sequence number. Registering a known
// root returns the number it was first given.
func (r *rootRegistry) register(root common.Hash) uint64 {
	if v, ok := r.roots.Load(root); ok {
		return v.(uint64)
	}
	v, _ := r.roots.LoadOrStore(root, r.seq.Add(1))
	return v.(uint64)
}

// lookup reports whether root is known and returns its sequence number.
func (r *rootRegistry) lookup(root common.Hash) (uint64, bool) {
	if v, ok := r.roots.Load(root); ok {
		return v.(uint64), true
	}
	return 0, false
}

func unknownRoot(root common.Hash) error {
	return fmt.Errorf("%w %x", ErrUnknownRoot, root)
}
