package aig

import "github.com/pkg/errors"

// StreamInput is the construct-from-stream interface from spec.md §6: the
// client hands in the PI/PO/latch/AND counts plus the AND fanin pairs, each
// encoded as (id<<1)|inverted against a var numbering where 0 is the
// constant, 1..NumPIs are the primary inputs, NumPIs+1..NumPIs+NumLatches
// are the latch outputs, and the remaining vars are the AND nodes in order.
type StreamInput struct {
	NumPIs        int
	NumLatches    int
	NumAnds       int
	AndFanins     [][2]uint32 // one pair per AND node, in var order
	PoLits        []uint32
	LatchNextLits []uint32 // one per latch, same var numbering
	LatchInit     []int8   // one per latch: 0, 1, or -1
}

// varTable maps a stream var index to the Fanin whose Inverted flag, when
// XORed with the literal's own inversion bit, yields the correct edge. This
// indirection exists because MakeAnd may fold an AND-var onto an existing
// node with its own baked-in inversion (constant propagation, x*x=x, etc.);
// a bare var->id map cannot represent that without losing polarity.
type varTable struct {
	id  []ID
	inv []bool
}

func (vt *varTable) set(v int, lit Fanin) {
	vt.id[v] = lit.Node
	vt.inv[v] = lit.Inverted
}

func (vt *varTable) litToFanin(lit uint32) (Fanin, error) {
	v := int(lit >> 1)
	streamInv := lit&1 == 1
	if v < 0 || v >= len(vt.id) {
		return Fanin{}, errors.Errorf("aig: stream literal %d references unknown var %d", lit, v)
	}
	return Fanin{vt.id[v], vt.inv[v] != streamInv}, nil
}

// LoadFromStream builds a Store from a StreamInput, invoking the same
// hash-consing MakeAnd constructor the builder interface uses, which
// guarantees canonicality even if the stream encodes structural duplicates.
func LoadFromStream(in StreamInput) (*Store, error) {
	if len(in.AndFanins) != in.NumAnds {
		return nil, errors.Errorf("aig: NumAnds=%d but got %d fanin pairs", in.NumAnds, len(in.AndFanins))
	}
	if len(in.LatchNextLits) != in.NumLatches || len(in.LatchInit) != in.NumLatches {
		return nil, errors.Errorf("aig: NumLatches=%d but got %d next-lits / %d inits", in.NumLatches, len(in.LatchNextLits), len(in.LatchInit))
	}

	s := NewStore()
	numVars := 1 + in.NumPIs + in.NumLatches + in.NumAnds
	vt := &varTable{id: make([]ID, numVars), inv: make([]bool, numVars)}
	vt.set(0, Fanin{Const1ID, false})

	v := 1
	for i := 0; i < in.NumPIs; i++ {
		vt.set(v, Fanin{s.MakePI(), false})
		v++
	}
	latchVarStart := v
	for i := 0; i < in.NumLatches; i++ {
		// Latch outputs are allocated as PI-like nodes up front so AND nodes
		// defined later in the stream may reference them; the LI driver
		// (which may reference later-numbered ANDs) is wired after every
		// AND node has been constructed.
		vt.set(v, Fanin{s.allocNode(KindPI), false})
		v++
	}
	for i := 0; i < in.NumAnds; i++ {
		a, err := vt.litToFanin(in.AndFanins[i][0])
		if err != nil {
			return nil, err
		}
		b, err := vt.litToFanin(in.AndFanins[i][1])
		if err != nil {
			return nil, err
		}
		if int(in.AndFanins[i][0]>>1) >= v || int(in.AndFanins[i][1]>>1) >= v {
			return nil, errors.Errorf("aig: AND node %d references a var not yet defined", i)
		}
		vt.set(v, s.MakeAnd(a, b))
		v++
	}

	for i := 0; i < in.NumLatches; i++ {
		li, err := vt.litToFanin(in.LatchNextLits[i])
		if err != nil {
			return nil, err
		}
		lo := vt.id[latchVarStart+i]
		s.nodes[li.Node].refs++
		s.latches = append(s.latches, Latch{LO: lo, LI: li, Init: in.LatchInit[i]})
	}

	for _, pl := range in.PoLits {
		lit, err := vt.litToFanin(pl)
		if err != nil {
			return nil, err
		}
		s.MakePO(lit)
	}

	return s, nil
}
