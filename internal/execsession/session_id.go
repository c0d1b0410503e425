// Package execsession implements the Unified Exec session manager: PTY-backed
// long-running shell sessions that a tool call can create, write to, poll for
// output from, and terminate, independent of any single request/response
// turn (spec.md §5).
package execsession

import (
	"fmt"
	"sync/atomic"
)

// ID identifies a session for the lifetime of a SessionManager.
type ID uint32

func (id ID) String() string { return fmt.Sprintf("%d", uint32(id)) }

// idGenerator hands out monotonically increasing session IDs, starting at 1
// so the zero value of ID is never a live session.
type idGenerator struct {
	next atomic.Uint32
}

func (g *idGenerator) nextID() ID {
	return ID(g.next.Add(1))
}
