package aig

import "github.com/pkg/errors"

// ErrCycleAttempt is returned by Replace when rerouting a fanout edge would
// make a node reference itself.
var ErrCycleAttempt = errors.New("aig: replace would introduce a self-reference")

// ErrInvariantViolation marks an internal structural check that failed; per
// spec.md §7 this is always fatal and never recovered locally.
var ErrInvariantViolation = errors.New("aig: invariant violation")

type canonKey struct {
	L    ID
	LInv bool
	R    ID
	RInv bool
}

type fanoutUse struct {
	node ID
	slot int8
}

// Store is the arena that owns every Node. All other components hold only
// Store-issued ids and borrow the Store read-only outside of a Replace call.
type Store struct {
	nodes []Node
	hash  map[canonKey]ID

	pis     []ID
	pos     []ID
	latches []Latch

	// fanoutHead[child] is an encoded (user, slot) pair identifying the head
	// of child's fanout chain, or InvalidID if child has no live fanout.
	fanoutHead []ID

	travCounter uint64
	maxLevel    int
}

// Latch is one state-holding element: LO is a PI-kind node for combinational
// purposes, but it is not listed in PIs(); LI is the combinational driver
// that will become LO's value in the next frame.
type Latch struct {
	LO   ID
	LI   Fanin
	Init int8 // 0, 1, or -1 for don't-care
}

// NewStore returns an empty Store containing only the constant-1 node at id 0.
func NewStore() *Store {
	s := &Store{hash: make(map[canonKey]ID)}
	s.allocNode(KindConst1)
	s.nodes[Const1ID].phase = true
	return s
}

func (s *Store) allocNode(k Kind) ID {
	id := ID(len(s.nodes))
	s.nodes = append(s.nodes, Node{
		id:          id,
		kind:        k,
		repr:        InvalidID,
		fanoutNext0: InvalidID,
		fanoutNext1: InvalidID,
		alive:       true,
	})
	s.fanoutHead = append(s.fanoutHead, InvalidID)
	return id
}

// NumNodes returns the number of node slots ever allocated, dense and
// indexable by id (some slots may be dead after a replace/cleanup).
func (s *Store) NumNodes() int { return len(s.nodes) }

// Node returns a pointer to the node with the given id. The returned pointer
// is only valid until the next Replace or Cleanup call.
func (s *Store) Node(id ID) *Node { return &s.nodes[id] }

// SetRepr records that id has been declared equivalent to repr (or clears
// the pointer when repr is InvalidID). This is bookkeeping owned by the
// Class Manager; the Store only stores it.
func (s *Store) SetRepr(id, repr ID) { s.nodes[id].repr = repr }

func (s *Store) PIs() []ID     { return s.pis }
func (s *Store) POs() []ID     { return s.pos }
func (s *Store) Latches() []Latch { return s.latches }
func (s *Store) MaxLevel() int { return s.maxLevel }

// NewTravID returns a fresh traversal id, monotonically increasing; client
// algorithms compare a node's stored travID against this to implement
// mark-without-clear DFS.
func (s *Store) NewTravID() uint64 {
	s.travCounter++
	return s.travCounter
}

// MakePI appends a fresh primary input.
func (s *Store) MakePI() ID {
	id := s.allocNode(KindPI)
	s.pis = append(s.pis, id)
	return id
}

// MakeLatch appends a fresh latch: LO is a new PI-like node, LI is the
// combinational driver of the next-state value.
func (s *Store) MakeLatch(li Fanin, init int8) ID {
	lo := s.allocNode(KindPI)
	s.nodes[li.Node].refs++
	s.latches = append(s.latches, Latch{LO: lo, LI: li, Init: init})
	return lo
}

// MakePO appends a primary output driven by child.
func (s *Store) MakePO(child Fanin) ID {
	id := s.allocNode(KindPO)
	node := &s.nodes[id]
	node.f0 = child
	node.level = s.nodes[child.Node].level
	node.phase = s.nodes[child.Node].phase != child.Inverted
	s.linkFanout(id, 0, child.Node)
	s.nodes[child.Node].refs++
	s.pos = append(s.pos, id)
	return id
}

func simplifyAndPair(s *Store, a, b Fanin) (Fanin, bool) {
	if a.Node == b.Node {
		if a.Inverted == b.Inverted {
			return a, true // x*x = x
		}
		return Fanin{Const1ID, true}, true // x*!x = 0
	}
	if a.Node == Const1ID {
		if a.Inverted {
			return Fanin{Const1ID, true}, true // 0*b = 0
		}
		return b, true // 1*b = b
	}
	if b.Node == Const1ID {
		if b.Inverted {
			return Fanin{Const1ID, true}, true
		}
		return a, true
	}
	return Fanin{}, false
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func canonOrder(a, b Fanin) (Fanin, Fanin) {
	if a.Node > b.Node {
		return b, a
	}
	return a, b
}

// MakeAnd is the canonical AND constructor: it applies constant propagation
// and trivial identities, then hash-conses the result. It never fails.
func (s *Store) MakeAnd(a, b Fanin) Fanin {
	if lit, ok := simplifyAndPair(s, a, b); ok {
		return lit
	}
	a, b = canonOrder(a, b)
	key := canonKey{a.Node, a.Inverted, b.Node, b.Inverted}
	if hit, ok := s.hash[key]; ok {
		return Fanin{hit, false}
	}
	id := s.allocNode(KindAnd)
	node := &s.nodes[id]
	node.f0, node.f1 = a, b
	node.phase = (s.nodes[a.Node].phase != a.Inverted) && (s.nodes[b.Node].phase != b.Inverted)
	node.level = 1 + max(s.nodes[a.Node].level, s.nodes[b.Node].level)
	if node.level > s.maxLevel {
		s.maxLevel = node.level
	}
	s.hash[key] = id
	s.linkFanout(id, 0, a.Node)
	s.linkFanout(id, 1, b.Node)
	s.nodes[a.Node].refs++
	s.nodes[b.Node].refs++
	return Fanin{id, false}
}

func encodeFanoutHead(node ID, slot int8) ID { return node*2 + ID(slot) }
func decodeFanoutHead(head ID) (ID, int8)    { return head / 2, int8(head % 2) }

func (s *Store) linkFanout(user ID, slot int8, child ID) {
	head := s.fanoutHead[child]
	if slot == 0 {
		s.nodes[user].fanoutNext0 = head
	} else {
		s.nodes[user].fanoutNext1 = head
	}
	s.fanoutHead[child] = encodeFanoutHead(user, slot)
}

// unlinkFanout removes user's slot-th edge from its current child's chain.
// It must be called before the node's f0/f1 field is overwritten.
func (s *Store) unlinkFanout(user ID, slot int8) {
	var child ID
	n := &s.nodes[user]
	if slot == 0 {
		child = n.f0.Node
	} else {
		child = n.f1.Node
	}
	if child == InvalidID {
		return
	}
	cur := s.fanoutHead[child]
	prev := InvalidID
	for cur != InvalidID {
		un, usl := decodeFanoutHead(cur)
		var next ID
		if usl == 0 {
			next = s.nodes[un].fanoutNext0
		} else {
			next = s.nodes[un].fanoutNext1
		}
		if un == user && usl == slot {
			if prev == InvalidID {
				s.fanoutHead[child] = next
			} else {
				pn, psl := decodeFanoutHead(prev)
				if psl == 0 {
					s.nodes[pn].fanoutNext0 = next
				} else {
					s.nodes[pn].fanoutNext1 = next
				}
			}
			return
		}
		prev = cur
		cur = next
	}
}

func (s *Store) collectFanoutUsers(child ID) []fanoutUse {
	var out []fanoutUse
	cur := s.fanoutHead[child]
	for cur != InvalidID {
		n, sl := decodeFanoutHead(cur)
		out = append(out, fanoutUse{n, sl})
		if sl == 0 {
			cur = s.nodes[n].fanoutNext0
		} else {
			cur = s.nodes[n].fanoutNext1
		}
	}
	return out
}

type pendingMerge struct {
	old ID
	new Fanin
}

// Replace reroutes every fanout edge of old to new (preserving inversion
// xor), then destroys old's MFFC. The rerouting is driven by a worklist: if
// rewriting a fanout produces a canonical pair that already exists in the
// hash table, that fanout is itself scheduled for replacement by the hit, so
// hash-consing is never violated.
func (s *Store) Replace(old ID, new Fanin) error {
	wl := []pendingMerge{{old, new}}
	for len(wl) > 0 {
		pm := wl[0]
		wl = wl[1:]
		if pm.old == pm.new.Node {
			continue
		}
		if err := s.replaceOne(pm, &wl); err != nil {
			return err
		}
	}
	s.Cleanup()
	s.refreshMaxLevel()
	return nil
}

func (s *Store) replaceOne(pm pendingMerge, wl *[]pendingMerge) error {
	old := pm.old
	users := s.collectFanoutUsers(old)
	for _, u := range users {
		node := &s.nodes[u.node]
		if !node.alive {
			continue
		}
		var origInv bool
		if u.slot == 0 {
			origInv = node.f0.Inverted
		} else {
			origInv = node.f1.Inverted
		}
		substituted := Fanin{pm.new.Node, pm.new.Inverted != origInv}
		if substituted.Node == u.node {
			return errors.Wrapf(ErrCycleAttempt, "node %d", u.node)
		}

		switch node.kind {
		case KindPO:
			s.unlinkFanout(u.node, 0)
			s.nodes[old].refs--
			node.f0 = substituted
			node.phase = s.nodes[substituted.Node].phase != substituted.Inverted
			s.linkFanout(u.node, 0, substituted.Node)
			s.nodes[substituted.Node].refs++

		case KindAnd:
			other := node.f1
			if u.slot == 1 {
				other = node.f0
			}
			s.unlinkFanout(u.node, 0)
			s.unlinkFanout(u.node, 1)
			delete(s.hash, canonKey{node.f0.Node, node.f0.Inverted, node.f1.Node, node.f1.Inverted})
			s.nodes[node.f0.Node].refs--
			s.nodes[node.f1.Node].refs--

			var a, b Fanin
			if u.slot == 0 {
				a, b = substituted, other
			} else {
				a, b = other, substituted
			}

			if lit, ok := simplifyAndPair(s, a, b); ok {
				if lit.Node == u.node {
					return errors.Wrapf(ErrCycleAttempt, "node %d", u.node)
				}
				node.alive = false
				*wl = append(*wl, pendingMerge{u.node, lit})
				continue
			}

			a, b = canonOrder(a, b)
			key := canonKey{a.Node, a.Inverted, b.Node, b.Inverted}
			if hit, ok := s.hash[key]; ok && hit != u.node {
				node.alive = false
				*wl = append(*wl, pendingMerge{u.node, Fanin{hit, false}})
				continue
			}

			node.f0, node.f1 = a, b
			node.phase = (s.nodes[a.Node].phase != a.Inverted) && (s.nodes[b.Node].phase != b.Inverted)
			node.level = 1 + max(s.nodes[a.Node].level, s.nodes[b.Node].level)
			s.hash[key] = u.node
			s.linkFanout(u.node, 0, a.Node)
			s.linkFanout(u.node, 1, b.Node)
			s.nodes[a.Node].refs++
			s.nodes[b.Node].refs++

		default:
			return errors.Wrapf(ErrInvariantViolation, "fanout user %d has unexpected kind %s", u.node, node.kind)
		}
	}

	// Retarget any latch whose next-state driver was old.
	for i := range s.latches {
		l := &s.latches[i]
		if l.LI.Node == old {
			s.nodes[old].refs--
			l.LI = Fanin{pm.new.Node, pm.new.Inverted != l.LI.Inverted}
			s.nodes[l.LI.Node].refs++
		}
	}

	// old, and any fanin left at zero refs by a collapsed user above, are
	// reclaimed by the Cleanup call at the end of Replace.
	return nil
}

// Cleanup garbage-collects AND nodes with zero references, cascading to
// their fanins via an explicit worklist.
func (s *Store) Cleanup() {
	var wl []ID
	for id := ID(1); id < ID(len(s.nodes)); id++ {
		n := &s.nodes[id]
		if n.alive && n.kind == KindAnd && n.refs == 0 {
			wl = append(wl, id)
		}
	}
	for len(wl) > 0 {
		id := wl[len(wl)-1]
		wl = wl[:len(wl)-1]
		n := &s.nodes[id]
		if !n.alive || n.refs != 0 || n.kind != KindAnd {
			continue
		}
		delete(s.hash, canonKey{n.f0.Node, n.f0.Inverted, n.f1.Node, n.f1.Inverted})
		s.unlinkFanout(id, 0)
		s.unlinkFanout(id, 1)
		f0, f1 := n.f0.Node, n.f1.Node
		n.alive = false
		s.nodes[f0].refs--
		s.nodes[f1].refs--
		if s.nodes[f0].refs == 0 && s.nodes[f0].kind == KindAnd {
			wl = append(wl, f0)
		}
		if s.nodes[f1].refs == 0 && s.nodes[f1].kind == KindAnd {
			wl = append(wl, f1)
		}
	}
}

func (s *Store) refreshMaxLevel() {
	max := 0
	for i := range s.nodes {
		n := &s.nodes[i]
		if n.alive && n.kind == KindAnd && n.level > max {
			max = n.level
		}
	}
	s.maxLevel = max
}

// ComputeReverseLevels recomputes RLevel for every live node: the longest
// path from the node to any PO. Called on demand by clients that need it
// (it is not kept incrementally consistent across Replace).
func (s *Store) ComputeReverseLevels() {
	rl := make([]int, len(s.nodes))
	push := func(child ID, val int) {
		if val > rl[child] {
			rl[child] = val
		}
	}
	for id := len(s.nodes) - 1; id >= 0; id-- {
		n := &s.nodes[id]
		if !n.alive {
			continue
		}
		switch n.kind {
		case KindAnd:
			push(n.f0.Node, rl[id]+1)
			push(n.f1.Node, rl[id]+1)
		case KindPO:
			push(n.f0.Node, rl[id]+1)
		}
	}
	for id := range s.nodes {
		s.nodes[id].rlevel = rl[id]
	}
}

// CheckInvariants verifies the structural invariants from spec.md §3 hold.
// Intended for tests and for defensive assertions around Replace.
func (s *Store) CheckInvariants() error {
	for id := 1; id < len(s.nodes); id++ {
		n := &s.nodes[id]
		if !n.alive || n.kind != KindAnd {
			continue
		}
		if n.f0.Node >= n.id || n.f1.Node >= n.id {
			return errors.Wrapf(ErrInvariantViolation, "node %d is not topological with its fanins", id)
		}
		key := canonKey{n.f0.Node, n.f0.Inverted, n.f1.Node, n.f1.Inverted}
		if hit, ok := s.hash[key]; !ok || hit != ID(id) {
			return errors.Wrapf(ErrInvariantViolation, "node %d missing or duplicated in structural hash", id)
		}
		wantPhase := (s.nodes[n.f0.Node].phase != n.f0.Inverted) && (s.nodes[n.f1.Node].phase != n.f1.Inverted)
		if wantPhase != n.phase {
			return errors.Wrapf(ErrInvariantViolation, "node %d phase mismatch", id)
		}
		wantLevel := 1 + max(s.nodes[n.f0.Node].level, s.nodes[n.f1.Node].level)
		if wantLevel != n.level {
			return errors.Wrapf(ErrInvariantViolation, "node %d level mismatch", id)
		}
	}
	return nil
}
