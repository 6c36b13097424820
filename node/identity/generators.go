package identity

import (
	"sync"

	"github.com/armen/ergyre/term"
)

// pidIdBits/pidSerialBits etc. mirror the legacy wire masks (spec.md §3);
// generators stay within these widths so that every issued identity
// round-trips through both the legacy and new wire encodings unchanged.
const (
	pidIdBits     = 15
	pidSerialBits = 13
	portIdBits    = 28
	refFirstBits  = 18
)

// Generators produces strictly monotonic, never-reused pids, ports and
// refs for one node instance. A single Generators must be shared by
// every mailbox/port/ref allocation on a node so that the "never reused"
// invariant in spec.md §3 holds process-wide.
type Generators struct {
	mu sync.Mutex

	node     term.Atom
	creation uint32

	pidId     uint32
	pidSerial uint32
	portId    uint32
	refIds    [3]uint32
}

func NewGenerators(node term.Atom, creation uint32) *Generators {
	return &Generators{node: node, creation: creation}
}

// NextPid returns the next pid, incrementing the low (id) word first and
// carrying into serial on overflow of the id's bit width, mirroring
// Erlang's own allocator.
func (g *Generators) NextPid() term.Pid {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.pidId++
	if g.pidId >= 1<<pidIdBits {
		g.pidId = 0
		g.pidSerial++
		if g.pidSerial >= 1<<pidSerialBits {
			g.pidSerial = 0
		}
	}
	return term.Pid{Node: g.node, Id: g.pidId, Serial: g.pidSerial, Creation: g.creation}
}

// NextPort returns the next port id.
func (g *Generators) NextPort() term.Port {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.portId++
	if g.portId >= 1<<portIdBits {
		g.portId = 0
	}
	return term.Port{Node: g.node, Id: g.portId, Creation: g.creation}
}

// NextRef returns the next reference, a triple of 18+32+32 significant
// bits; overflow of a word carries into the next.
func (g *Generators) NextRef() term.Ref {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.refIds[0]++
	if g.refIds[0] >= 1<<refFirstBits {
		g.refIds[0] = 0
		g.refIds[1]++
		if g.refIds[1] == 0 {
			g.refIds[2]++
		}
	}
	return term.Ref{
		Node:     g.node,
		Ids:      []uint32{g.refIds[0], g.refIds[1], g.refIds[2]},
		Creation: g.creation,
	}
}
