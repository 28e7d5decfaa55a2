// Package aig implements the structurally-hashed And-Inverter Graph store:
// the arena of nodes, the canonical hash-consing table, fanout tracking, and
// the replace/cleanup protocol that keeps the graph's invariants intact.
package aig

// ID identifies a Node within a single Store. Zero is reserved for the
// constant-1 node; negative values are never valid node ids and are used as
// sentinels in arrays that index fanout chains.
type ID int32

// InvalidID marks the absence of a node reference (an empty fanout chain, an
// unset representative, and so on).
const InvalidID ID = -1

// Const1ID is the id of the always-true node, present in every Store.
const Const1ID ID = 0

// Kind distinguishes the four node shapes the store can hold.
type Kind uint8

const (
	KindConst1 Kind = iota
	KindPI
	KindPO
	KindAnd
)

func (k Kind) String() string {
	switch k {
	case KindConst1:
		return "const1"
	case KindPI:
		return "pi"
	case KindPO:
		return "po"
	case KindAnd:
		return "and"
	default:
		return "unknown"
	}
}

// Fanin is one edge into an AND or PO node: a reference to a child node plus
// the inversion flag on that edge.
type Fanin struct {
	Node    ID
	Inverted bool
}

// Mark is one of the small fixed set of transient mark bits client
// algorithms may set on a node (A, B, C in spec.md's vocabulary).
type Mark uint8

const (
	MarkA Mark = 1 << iota
	MarkB
	MarkC
)

// Node is a single record in the AIG arena. PI and Const1 use neither fanin
// slot; PO uses only Fanin0; AND uses both.
type Node struct {
	id    ID
	kind  Kind
	f0 Fanin
	f1 Fanin

	phase bool // value of this node on the all-zero PI pattern
	level int
	rlevel int

	refs int

	marks  Mark
	travID uint64

	repr ID // representative this node has been declared equivalent to, or InvalidID

	// Per-node scratch reserved for client algorithms (e.g. the CNF
	// encoder's SAT variable number, the simulator's slice index).
	ScratchInt int
	ScratchPtr interface{}

	// fanout chain: next entry (node id) sharing this node as the fanin0
	// child, and likewise for fanin1. Encoded as InvalidID when absent.
	fanoutNext0 ID
	fanoutNext1 ID

	alive bool
}

func (n *Node) ID() ID         { return n.id }
func (n *Node) Kind() Kind     { return n.kind }
func (n *Node) Fanin0() Fanin  { return n.f0 }
func (n *Node) Fanin1() Fanin  { return n.f1 }
func (n *Node) Phase() bool    { return n.phase }
func (n *Node) Level() int     { return n.level }
func (n *Node) RLevel() int    { return n.rlevel }
func (n *Node) RefCount() int  { return n.refs }
func (n *Node) Repr() ID       { return n.repr }
func (n *Node) IsAlive() bool  { return n.alive }

// HasMark reports whether the given mark bit is set.
func (n *Node) HasMark(m Mark) bool { return n.marks&m != 0 }

// SetMark sets the given mark bit.
func (n *Node) SetMark(m Mark) { n.marks |= m }

// ClearMark clears the given mark bit.
func (n *Node) ClearMark(m Mark) { n.marks &^= m }
