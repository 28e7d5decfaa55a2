// Package cnf converts AIG cones into CNF clauses on demand, collapsing
// AND-trees into supergates and recognizing MUX/XOR patterns to keep the
// resulting formula small. Encoding is solver-agnostic: it produces plain
// integer variables and clauses that pkg/sat translates into a concrete
// solver's literal type.
package cnf

import "github.com/operator-framework/fraig-sweep/pkg/aig"

// Var is a CNF variable number. 0 is never used; 1 is always the constant-1
// node (the SAT Frontend pins a unit clause forcing it true).
type Var int32

// Lit is a CNF literal: positive for the variable true, negative for false.
type Lit int32

// Not returns the complementary literal.
func (l Lit) Not() Lit { return -l }

// Clause is a disjunction of literals.
type Clause []Lit

// ConstVar is the fixed variable number reserved for the constant-1 node;
// the SAT Frontend asserts a unit clause pinning it true.
const ConstVar Var = 1

type muxPattern struct {
	c, t, e aig.Fanin
	isXor   bool
}

type nodeInfo struct {
	isMux    bool
	mux      muxPattern
	leaves   []aig.Fanin // supergate case
	conflict bool
}

// Encoder lazily converts AIG nodes into CNF. It is safe to call Encode
// repeatedly for overlapping cones: already-encoded nodes are never
// re-emitted.
type Encoder struct {
	store     *aig.Store
	polarFlip bool

	vars    map[aig.ID]Var
	cache   map[aig.ID]nodeInfo
	nextVar Var
}

// NewEncoder returns an Encoder over store. polarFlip enables the optional
// polarity-flip bias described in spec.md §4.4 (default off, per spec.md §9).
func NewEncoder(store *aig.Store, polarFlip bool) *Encoder {
	e := &Encoder{
		store:     store,
		polarFlip: polarFlip,
		vars:      make(map[aig.ID]Var),
		cache:     make(map[aig.ID]nodeInfo),
		nextVar:   2,
	}
	e.vars[aig.Const1ID] = ConstVar
	return e
}

// Reset clears the memoization map entirely; callers pair this with a SAT
// solver recycle so variable numbers and clauses start fresh together.
func (e *Encoder) Reset() {
	e.vars = map[aig.ID]Var{aig.Const1ID: ConstVar}
	e.cache = make(map[aig.ID]nodeInfo)
	e.nextVar = 2
}

// VarOf returns the SAT variable already allocated to id, if any.
func (e *Encoder) VarOf(id aig.ID) (Var, bool) {
	v, ok := e.vars[id]
	return v, ok
}

func (e *Encoder) freshVar() Var {
	v := e.nextVar
	e.nextVar++
	return v
}

func (e *Encoder) litFor(id aig.ID, inverted bool) Lit {
	v := e.vars[id]
	if e.polarFlip && e.store.Node(id).Phase() {
		inverted = !inverted
	}
	if inverted {
		return Lit(v).Not()
	}
	return Lit(v)
}

func (e *Encoder) litOf(f aig.Fanin) Lit { return e.litFor(f.Node, f.Inverted) }

// detectMux recognizes n = !p * !q with p = c*t and q = !c*e, i.e. the node
// computes !ite(c, t, e).
func (e *Encoder) detectMux(id aig.ID) (muxPattern, bool) {
	node := e.store.Node(id)
	f0, f1 := node.Fanin0(), node.Fanin1()
	if !f0.Inverted || !f1.Inverted {
		return muxPattern{}, false
	}
	p, q := e.store.Node(f0.Node), e.store.Node(f1.Node)
	if p.Kind() != aig.KindAnd || q.Kind() != aig.KindAnd {
		return muxPattern{}, false
	}
	pLeaves := [2]aig.Fanin{p.Fanin0(), p.Fanin1()}
	qLeaves := [2]aig.Fanin{q.Fanin0(), q.Fanin1()}
	for i, pl := range pLeaves {
		for j, ql := range qLeaves {
			if pl.Node == ql.Node && pl.Inverted != ql.Inverted {
				c := pl
				t := pLeaves[1-i]
				el := qLeaves[1-j]
				isXor := t.Node == el.Node && t.Inverted != el.Inverted
				return muxPattern{c: c, t: t, e: el, isXor: isXor}, true
			}
		}
	}
	return muxPattern{}, false
}

// collectSupergate gathers the maximal AND-tree rooted at id: it stops
// absorbing a child when the edge into it is inverted, the child is not an
// AND node, or the child has more than one fanout.
func (e *Encoder) collectSupergate(id aig.ID) []aig.Fanin {
	node := e.store.Node(id)
	var leaves []aig.Fanin
	stack := []aig.Fanin{node.Fanin0(), node.Fanin1()}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		child := e.store.Node(f.Node)
		if f.Inverted || child.Kind() != aig.KindAnd || child.RefCount() > 1 {
			leaves = append(leaves, f)
			continue
		}
		stack = append(stack, child.Fanin0(), child.Fanin1())
	}
	return leaves
}

func (e *Encoder) infoFor(id aig.ID) nodeInfo {
	if info, ok := e.cache[id]; ok {
		return info
	}
	var info nodeInfo
	if mux, ok := e.detectMux(id); ok {
		info = nodeInfo{isMux: true, mux: mux}
	} else {
		raw := e.collectSupergate(id)
		seenPos := make(map[aig.ID]bool)
		seenNeg := make(map[aig.ID]bool)
		added := make(map[aig.Fanin]bool)
		var leaves []aig.Fanin
		for _, f := range raw {
			if f.Inverted {
				seenNeg[f.Node] = true
			} else {
				seenPos[f.Node] = true
			}
			if !added[f] {
				added[f] = true
				leaves = append(leaves, f)
			}
		}
		conflict := false
		for n := range seenPos {
			if seenNeg[n] {
				conflict = true
				break
			}
		}
		info = nodeInfo{leaves: leaves, conflict: conflict}
	}
	e.cache[id] = info
	return info
}

func (e *Encoder) deps(id aig.ID, info nodeInfo) []aig.ID {
	if info.isMux {
		return []aig.ID{info.mux.c.Node, info.mux.t.Node, info.mux.e.Node}
	}
	out := make([]aig.ID, 0, len(info.leaves))
	for _, f := range info.leaves {
		out = append(out, f.Node)
	}
	return out
}

// Encode returns the SAT variable for id and the newly-emitted clauses
// needed to define it (and any not-yet-encoded nodes in its collapsed
// cone); nodes already encoded contribute no new clauses.
func (e *Encoder) Encode(id aig.ID) (Var, []Clause) {
	if v, ok := e.vars[id]; ok {
		return v, nil
	}

	// Iterative post-order traversal (explicit stack, not recursion) so
	// deep cones cannot overflow the call stack.
	type frame struct {
		id       aig.ID
		expanded bool
	}
	var order []aig.ID
	onStack := make(map[aig.ID]bool)
	stack := []frame{{id, false}}
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if _, done := e.vars[top.id]; done {
			stack = stack[:len(stack)-1]
			continue
		}
		node := e.store.Node(top.id)
		if node.Kind() != aig.KindAnd {
			if !onStack[top.id] {
				order = append(order, top.id)
				onStack[top.id] = true
			}
			stack = stack[:len(stack)-1]
			continue
		}
		if top.expanded {
			order = append(order, top.id)
			stack = stack[:len(stack)-1]
			continue
		}
		top.expanded = true
		info := e.infoFor(top.id)
		for _, d := range e.deps(top.id, info) {
			if _, done := e.vars[d]; !done {
				stack = append(stack, frame{d, false})
			}
		}
	}

	var clauses []Clause
	for _, nid := range order {
		if _, done := e.vars[nid]; done {
			continue
		}
		node := e.store.Node(nid)
		switch node.Kind() {
		case aig.KindPI:
			e.vars[nid] = e.freshVar()
		case aig.KindConst1:
			e.vars[nid] = ConstVar
		case aig.KindPO:
			// POs are never SAT-encoding targets in this engine (the prover
			// always targets internal AND/PI nodes); alias to the driver's
			// literal polarity via a fresh var tied by a 2-clause iff.
			v := e.freshVar()
			e.vars[nid] = v
			driverLit := e.litOf(node.Fanin0())
			clauses = append(clauses,
				Clause{Lit(v).Not(), driverLit},
				Clause{Lit(v), driverLit.Not()},
			)
		case aig.KindAnd:
			info := e.infoFor(nid)
			v := e.freshVar()
			e.vars[nid] = v
			out := e.litFor(nid, false)
			if info.isMux {
				cLit := e.litOf(info.mux.c)
				tLit := e.litOf(info.mux.t)
				eLit := e.litOf(info.mux.e)
				clauses = append(clauses, muxClauses(out.Not(), cLit, tLit, eLit)...)
			} else if info.conflict {
				clauses = append(clauses, Clause{out.Not()})
			} else {
				lits := make([]Lit, len(info.leaves))
				for i, lf := range info.leaves {
					lits[i] = e.litOf(lf)
				}
				clauses = append(clauses, supergateClauses(out, lits)...)
			}
		}
	}
	return e.vars[id], clauses
}

func supergateClauses(out Lit, leaves []Lit) []Clause {
	clauses := make([]Clause, 0, len(leaves)+1)
	for _, lf := range leaves {
		clauses = append(clauses, Clause{out.Not(), lf})
	}
	back := make(Clause, 0, len(leaves)+1)
	back = append(back, out)
	for _, lf := range leaves {
		back = append(back, lf.Not())
	}
	clauses = append(clauses, back)
	return clauses
}

// muxClauses encodes n = ite(c, t, e): four implications plus the
// consensus clauses t&e=>n and !t&!e=>!n.
func muxClauses(n, c, t, e Lit) []Clause {
	return []Clause{
		{c.Not(), n.Not(), t},
		{c, n.Not(), e},
		{c.Not(), t.Not(), n},
		{c, e.Not(), n},
		{t.Not(), e.Not(), n},
		{t, e, n.Not()},
	}
}
