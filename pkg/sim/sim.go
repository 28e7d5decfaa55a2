// Package sim implements word-parallel simulation of an AIG: every node's
// value is tracked across 64*W simulated patterns packed into W 64-bit
// words, so one Propagate pass evaluates 64*W assignments at once.
package sim

import (
	"math/bits"
	"math/rand"

	"github.com/operator-framework/fraig-sweep/pkg/aig"
)

// Signature is one node's packed value across the simulator's current
// pattern width.
type Signature []uint64

// Simulator owns the packed-signature arena for one Store. After
// AssignRandomPIs and Propagate, bit 0 of every node's signature is that
// node's phase (its value on the all-zero PI pattern). InjectCounterExample
// and SimInitialState overwrite bit 0 of PIs and latch outputs, after which
// bit 0 no longer holds the all-zero pattern.
type Simulator struct {
	store *aig.Store
	w     int
	sig   []Signature
	rng   *rand.Rand
}

// New returns a Simulator with W words per node, sized to the store's
// current node count.
func New(store *aig.Store, w int, seed int64) *Simulator {
	s := &Simulator{store: store, w: w, rng: rand.New(rand.NewSource(seed))}
	s.growTo(store.NumNodes())
	s.sig[aig.Const1ID] = allOnes(w)
	return s
}

func allOnes(w int) Signature {
	sig := make(Signature, w)
	for i := range sig {
		sig[i] = ^uint64(0)
	}
	return sig
}

func (s *Simulator) growTo(n int) {
	for len(s.sig) < n {
		s.sig = append(s.sig, make(Signature, s.w))
	}
}

// Width returns the current number of 64-bit words per node.
func (s *Simulator) Width() int { return s.w }

// GrowWidth doubles the simulator's pattern width, preserving existing
// signatures and filling the new words with fresh random bits for every PI
// and latch output. Call this when a pattern pool is exhausted.
func (s *Simulator) GrowWidth() {
	newW := s.w * 2
	if newW == 0 {
		newW = 2
	}
	for id := range s.sig {
		extended := make(Signature, newW)
		copy(extended, s.sig[id])
		s.sig[id] = extended
	}
	s.w = newW
	for i := s.w / 2; i < s.w; i++ {
		for _, pi := range s.store.PIs() {
			s.sig[pi][i] = s.rng.Uint64()
		}
		for _, l := range s.store.Latches() {
			s.sig[l.LO][i] = s.rng.Uint64()
		}
	}
	allOnesRow := allOnes(s.w)
	s.sig[aig.Const1ID] = allOnesRow
}

// Sig returns the current signature for a node. The slice is owned by the
// Simulator and must not be retained across a GrowWidth call.
func (s *Simulator) Sig(id aig.ID) Signature { return s.sig[id] }

// AssignRandomPIs fills every PI's signature from a deterministic stream.
// Bit 0 of every PI is forced to 0 so the all-zero minterm is always
// represented and propagates phase correctly.
func (s *Simulator) AssignRandomPIs() {
	s.growTo(s.store.NumNodes())
	for _, pi := range s.store.PIs() {
		row := s.sig[pi]
		for i := range row {
			row[i] = s.rng.Uint64()
		}
		row[0] &^= 1
	}
}

// SimInitialState loads latch-output signatures from a caller-supplied
// initial state, one value per latch in Store.Latches() order, broadcast
// across every simulated pattern, word 0's bit 0 included.
func (s *Simulator) SimInitialState(vInit []bool) {
	s.growTo(s.store.NumNodes())
	latches := s.store.Latches()
	for i, l := range latches {
		var row Signature
		if i < len(vInit) && vInit[i] {
			row = allOnes(s.w)
		} else {
			row = make(Signature, s.w)
		}
		s.sig[l.LO] = row
	}
}

// Propagate walks nodes in id (topological) order, computing each AND node's
// signature word-parallel from its fanins.
func (s *Simulator) Propagate() {
	s.growTo(s.store.NumNodes())
	n := s.store.NumNodes()
	for id := 1; id < n; id++ {
		node := s.store.Node(aig.ID(id))
		if !node.IsAlive() {
			continue
		}
		switch node.Kind() {
		case aig.KindAnd:
			f0, f1 := node.Fanin0(), node.Fanin1()
			a, b := s.sig[f0.Node], s.sig[f1.Node]
			out := s.sig[id]
			if len(out) != s.w {
				out = make(Signature, s.w)
				s.sig[id] = out
			}
			for i := 0; i < s.w; i++ {
				av, bv := a[i], b[i]
				if f0.Inverted {
					av = ^av
				}
				if f1.Inverted {
					bv = ^bv
				}
				out[i] = av & bv
			}
		case aig.KindPO:
			f0 := node.Fanin0()
			src := s.sig[f0.Node]
			out := make(Signature, s.w)
			for i := 0; i < s.w; i++ {
				if f0.Inverted {
					out[i] = ^src[i]
				} else {
					out[i] = src[i]
				}
			}
			s.sig[id] = out
		}
	}
}

// normalized returns a node's signature xored by its own phase bit, so that
// two nodes equivalent up to polarity land on the same normalized value.
func (s *Simulator) normalized(id aig.ID) Signature {
	sig := s.sig[id]
	if !s.store.Node(id).Phase() {
		return sig
	}
	out := make(Signature, len(sig))
	for i, w := range sig {
		out[i] = ^w
	}
	return out
}

// SignatureHash returns a stable hash over a node's normalized signature,
// used for initial class bucketing.
func (s *Simulator) SignatureHash(id aig.ID) uint32 {
	norm := s.normalized(id)
	var h uint32 = 2166136261
	for _, w := range norm {
		for shift := 0; shift < 64; shift += 32 {
			h ^= uint32(w >> shift)
			h *= 16777619
		}
	}
	return h
}

// AreEqual reports whether a and b currently simulate to the same function,
// up to the xor of their phases.
func (s *Simulator) AreEqual(a, b aig.ID) bool {
	sa, sb := s.sig[a], s.sig[b]
	diff := s.store.Node(a).Phase() != s.store.Node(b).Phase()
	for i := range sa {
		bv := sb[i]
		if diff {
			bv = ^bv
		}
		if sa[i] != bv {
			return false
		}
	}
	return true
}

// EdgesAgree compares two fanins' actual edge values (node signature xored
// by the edge's own inversion bit) rather than AreEqual's phase-normalized
// comparison; used when comparing two already-oriented miter outputs, where
// the caller (not the node's intrinsic phase) owns the polarity.
func (s *Simulator) EdgesAgree(a, b aig.Fanin) bool {
	sa, sb := s.sig[a.Node], s.sig[b.Node]
	for i := range sa {
		av, bv := sa[i], sb[i]
		if a.Inverted {
			av = ^av
		}
		if b.Inverted {
			bv = ^bv
		}
		if av != bv {
			return false
		}
	}
	return true
}

// IsConstCandidate reports whether n's simulated signature is consistent
// with n being equivalent to the constant-1 node, up to polarity.
func (s *Simulator) IsConstCandidate(id aig.ID) bool {
	return s.AreEqual(id, aig.Const1ID)
}

// PopcountDiff returns the number of simulated patterns on which a and b
// disagree (phase-adjusted), a measure of how "close" two candidates are.
func (s *Simulator) PopcountDiff(a, b aig.ID) int {
	sa, sb := s.sig[a], s.sig[b]
	diff := s.store.Node(a).Phase() != s.store.Node(b).Phase()
	count := 0
	for i := range sa {
		bv := sb[i]
		if diff {
			bv = ^bv
		}
		count += bits.OnesCount64(sa[i] ^ bv)
	}
	return count
}

// InjectCounterExample overwrites bit 0 of word 0 of every PI with that PI's
// value in a SAT witness (PIs absent from the witness get 0), leaving all
// other patterns and latch outputs unchanged, then re-propagates.
func (s *Simulator) InjectCounterExample(piValues map[aig.ID]bool) {
	for _, pi := range s.store.PIs() {
		row := s.sig[pi]
		if len(row) == 0 {
			continue
		}
		bit := uint64(0)
		if piValues[pi] {
			bit = 1
		}
		row[0] = (row[0] &^ 1) | bit
	}
	s.Propagate()
}
