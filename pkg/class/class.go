// Package class maintains the disjoint equivalence classes of AIG nodes
// whose simulation signatures currently agree, plus the separate
// constant-1-candidate set.
package class

import (
	"sort"

	"github.com/operator-framework/fraig-sweep/pkg/aig"
	"github.com/operator-framework/fraig-sweep/pkg/sim"
)

// Class is a disjoint, topologically-sorted set of nodes currently believed
// equivalent. Members[0] is always the representative (minimum id).
type Class struct {
	Members []aig.ID
}

// Repr returns the class's representative node.
func (c *Class) Repr() aig.ID { return c.Members[0] }

// Manager owns the current class partition for one Store/Simulator pair.
type Manager struct {
	store *aig.Store
	sim   *sim.Simulator

	classes  []*Class
	memberOf map[aig.ID]*Class
	const1   map[aig.ID]bool

	maxLevels     int // 0 means unlimited
	latchCorrOnly bool
}

// NewManager returns an empty Manager. maxLevels <= 0 means unlimited, per
// spec.md §6's default.
func NewManager(store *aig.Store, s *sim.Simulator, maxLevels int, latchCorrOnly bool) *Manager {
	return &Manager{
		store:         store,
		sim:           s,
		memberOf:      make(map[aig.ID]*Class),
		const1:        make(map[aig.ID]bool),
		maxLevels:     maxLevels,
		latchCorrOnly: latchCorrOnly,
	}
}

// Classes returns the current non-trivial classes. Each class's members are
// sorted by id; the list is sorted by representative only after a
// refinement, not after BuildInitial or Remove.
func (m *Manager) Classes() []*Class { return m.classes }

// Const1Candidates returns the current constant-1-candidate set.
func (m *Manager) Const1Candidates() []aig.ID {
	out := make([]aig.ID, 0, len(m.const1))
	for id := range m.const1 {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ClassOf returns the class containing id, or nil if id is not currently
// grouped with any other node.
func (m *Manager) ClassOf(id aig.ID) *Class { return m.memberOf[id] }

func (m *Manager) isLatchOutput(id aig.ID) bool {
	for _, l := range m.store.Latches() {
		if l.LO == id {
			return true
		}
	}
	return false
}

func (m *Manager) candidateNodes() []aig.ID {
	var out []aig.ID
	for id := 1; id < m.store.NumNodes(); id++ {
		nid := aig.ID(id)
		node := m.store.Node(nid)
		if !node.IsAlive() {
			continue
		}
		switch node.Kind() {
		case aig.KindAnd:
		case aig.KindPI:
			if m.latchCorrOnly && !m.isLatchOutput(nid) {
				continue
			}
		default:
			continue
		}
		if m.maxLevels > 0 && node.Level() > m.maxLevels {
			// Open Question default (spec.md §9): skip above-cutoff nodes
			// during class build; they may still appear during refinement
			// if already present in a class.
			continue
		}
		out = append(out, nid)
	}
	return out
}

// partition splits nodes into AreEqual-consistent groups, each returned
// sorted ascending by id.
func (m *Manager) partition(nodes []aig.ID) [][]aig.ID {
	var groups [][]aig.ID
	remaining := append([]aig.ID{}, nodes...)
	sort.Slice(remaining, func(i, j int) bool { return remaining[i] < remaining[j] })
	for len(remaining) > 0 {
		leader := remaining[0]
		group := []aig.ID{leader}
		rest := remaining[:0:0]
		for _, id := range remaining[1:] {
			if m.sim.AreEqual(leader, id) {
				group = append(group, id)
			} else {
				rest = append(rest, id)
			}
		}
		groups = append(groups, group)
		remaining = rest
	}
	return groups
}

func (m *Manager) installClass(members []aig.ID) {
	sort.Slice(members, func(i, j int) bool { return members[i] < members[j] })
	c := &Class{Members: members}
	m.classes = append(m.classes, c)
	for i, id := range members {
		m.memberOf[id] = c
		if i == 0 {
			m.store.SetRepr(id, aig.InvalidID)
		} else {
			m.store.SetRepr(id, members[0])
		}
	}
}

func (m *Manager) dropClass(c *Class) {
	for _, id := range c.Members {
		delete(m.memberOf, id)
		m.store.SetRepr(id, aig.InvalidID)
	}
}

// BuildInitial hashes every candidate node by simulation signature and
// partitions collisions into classes; nodes consistent with the constant-1
// node go into the separate Const1-candidates set instead.
func (m *Manager) BuildInitial() {
	m.classes = nil
	m.memberOf = make(map[aig.ID]*Class)
	m.const1 = make(map[aig.ID]bool)

	buckets := make(map[uint32][]aig.ID)
	for _, id := range m.candidateNodes() {
		if m.sim.IsConstCandidate(id) {
			m.const1[id] = true
			continue
		}
		h := m.sim.SignatureHash(id)
		buckets[h] = append(buckets[h], id)
	}

	hashKeys := make([]uint32, 0, len(buckets))
	for h := range buckets {
		hashKeys = append(hashKeys, h)
	}
	sort.Slice(hashKeys, func(i, j int) bool { return hashKeys[i] < hashKeys[j] })

	for _, h := range hashKeys {
		for _, group := range m.partition(buckets[h]) {
			if len(group) >= 2 {
				m.installClass(group)
			}
		}
	}
}

// refineClasses re-partitions the given classes in place, replacing each
// with zero or more successor classes, and returns the number of splits
// (for each input class, the number of groups it broke into beyond the
// first, singleton groups included).
func (m *Manager) refineClasses(targets []*Class) int {
	splits := 0
	keep := make(map[*Class]bool, len(m.classes))
	for _, c := range m.classes {
		keep[c] = true
	}
	for _, c := range targets {
		if !keep[c] {
			continue
		}
		keep[c] = false
		groups := m.partition(c.Members)
		m.dropClass(c)
		splits += len(groups) - 1
		for _, g := range groups {
			if len(g) >= 2 {
				m.installClass(g)
				keep[m.memberOf[g[0]]] = true
			}
		}
	}
	var rebuilt []*Class
	for c, k := range keep {
		if k {
			rebuilt = append(rebuilt, c)
		}
	}
	sort.Slice(rebuilt, func(i, j int) bool { return rebuilt[i].Repr() < rebuilt[j].Repr() })
	m.classes = rebuilt
	return splits
}

// RefineAll re-simulates every existing class and splits any class whose
// members no longer agree; it also drops constant-1 candidates that no
// longer simulate as constant. Returns the number of splits performed.
func (m *Manager) RefineAll() int {
	splits := m.refineClasses(append([]*Class{}, m.classes...))
	for id := range m.const1 {
		if !m.sim.IsConstCandidate(id) {
			delete(m.const1, id)
			splits++
		}
	}
	return splits
}

// RefineGroup restricts RefineAll's work to the classes containing any of
// the given nodes (the transitive fanout of a SAT counter-example).
func (m *Manager) RefineGroup(nodes []aig.ID) int {
	seen := make(map[*Class]bool)
	var targets []*Class
	for _, id := range nodes {
		if c := m.memberOf[id]; c != nil && !seen[c] {
			seen[c] = true
			targets = append(targets, c)
		}
	}
	return m.refineClasses(targets)
}

// RefineConst1Group restricts the constant-1-candidate refresh to the given
// nodes (intersected with the current candidate set).
func (m *Manager) RefineConst1Group(nodes []aig.ID) int {
	splits := 0
	for _, id := range nodes {
		if !m.const1[id] {
			continue
		}
		if !m.sim.IsConstCandidate(id) {
			delete(m.const1, id)
			splits++
		}
	}
	return splits
}

// Remove drops id from its class (used when a SAT query against it times
// out and it will not be retried this pass) or from the constant-1
// candidate set. A class reduced to one member collapses entirely.
func (m *Manager) Remove(id aig.ID) {
	if m.const1[id] {
		delete(m.const1, id)
		return
	}
	c := m.memberOf[id]
	if c == nil {
		return
	}
	remaining := make([]aig.ID, 0, len(c.Members)-1)
	for _, member := range c.Members {
		if member != id {
			remaining = append(remaining, member)
		}
	}
	m.dropClass(c)
	var rebuilt []*Class
	for _, existing := range m.classes {
		if existing != c {
			rebuilt = append(rebuilt, existing)
		}
	}
	m.classes = rebuilt
	if len(remaining) >= 2 {
		m.installClass(remaining)
	}
}
