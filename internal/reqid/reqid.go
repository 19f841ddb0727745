// Package reqid generates request identifiers. Each Generator owns its
// own counter rather than sharing a process-global one, so request ids
// stay unique per Client; a per-generator random prefix (google/uuid)
// keeps ids unique across multiple Generators sharing a process too, such
// as in tests that construct many clients.
package reqid

import (
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"
)

// Generator produces unique request-ids for one client instance.
type Generator struct {
	prefix  string
	counter atomic.Uint64
}

// New constructs a Generator with a fresh random prefix.
func New() *Generator {
	return &Generator{prefix: uuid.NewString()[:8]}
}

// Next returns the next request-id for this generator.
func (g *Generator) Next() string {
	n := g.counter.Add(1)
	return g.prefix + "-" + strconv.FormatUint(n, 36)
}
