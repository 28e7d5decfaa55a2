package sweep

import (
	"context"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/operator-framework/fraig-sweep/pkg/aig"
	"github.com/operator-framework/fraig-sweep/pkg/class"
	"github.com/operator-framework/fraig-sweep/pkg/sat"
	"github.com/operator-framework/fraig-sweep/pkg/sim"
)

// unroller builds a frame-by-frame combinational copy of a sequential AIG,
// reusing the original Store's own MakeAnd/MakePI/MakePO constructors so the
// unrolled copy gets the same hash-consing and level bookkeeping as any
// other store. Latch outputs at frame 0 are fresh, unconstrained inputs (the
// induction hypothesis holds over any state, not just the declared reset);
// at every later frame they take on the previous frame's evaluated LI. Any
// AND node that already has a recorded class representative is replaced by
// that representative's own unrolled wire at every frame strictly before the
// last, asserting the induction hypothesis instead of rebuilding the node.
type unroller struct {
	orig   *aig.Store
	u      *aig.Store
	nodeAt []map[aig.ID]aig.Fanin // nodeAt[frame][origID] -> Fanin in u
	frames int
}

func remapFanin(m map[aig.ID]aig.Fanin, f aig.Fanin) aig.Fanin {
	mapped := m[f.Node]
	return aig.Fanin{Node: mapped.Node, Inverted: mapped.Inverted != f.Inverted}
}

// newUnroller builds frames+1 copies (0..frames) of orig's combinational
// logic, wiring latches between consecutive frames, with every latch given
// a fresh unconstrained input at frame 0 (its Init value is not used).
func newUnroller(orig *aig.Store, frames int) *unroller {
	u := &unroller{orig: orig, u: aig.NewStore(), frames: frames, nodeAt: make([]map[aig.ID]aig.Fanin, frames+1)}

	for f := 0; f <= frames; f++ {
		m := make(map[aig.ID]aig.Fanin, orig.NumNodes())
		m[aig.Const1ID] = aig.Fanin{Node: aig.Const1ID}

		for _, pi := range orig.PIs() {
			m[pi] = aig.Fanin{Node: u.u.MakePI()}
		}

		if f == 0 {
			// Frame 0 is the induction hypothesis's base: each latch gets a
			// fresh, completely unconstrained input rather than its declared
			// Init value, so agreement at frame `frames` is agreement from
			// any state satisfying the hypothesis, not just from reset.
			for _, l := range orig.Latches() {
				m[l.LO] = aig.Fanin{Node: u.u.MakePI()}
			}
		} else {
			prev := u.nodeAt[f-1]
			for _, l := range orig.Latches() {
				m[l.LO] = remapFanin(prev, l.LI)
			}
		}

		// Speculative reduction applies at every frame except the one SAT is
		// actually asked about: substituting there would let an unproved
		// equivalence collapse the very query meant to test it.
		reduce := f < frames

		for id := 1; id < orig.NumNodes(); id++ {
			nid := aig.ID(id)
			node := orig.Node(nid)
			if !node.IsAlive() {
				continue
			}
			switch node.Kind() {
			case aig.KindAnd:
				if reduce {
					if r := node.Repr(); r != aig.InvalidID {
						phaseDiff := orig.Node(r).Phase() != node.Phase()
						rFanin := m[r]
						m[nid] = aig.Fanin{Node: rFanin.Node, Inverted: rFanin.Inverted != phaseDiff}
						continue
					}
				}
				a := remapFanin(m, node.Fanin0())
				b := remapFanin(m, node.Fanin1())
				m[nid] = u.u.MakeAnd(a, b)
			case aig.KindPO:
				child := remapFanin(m, node.Fanin0())
				m[nid] = aig.Fanin{Node: u.u.MakePO(child)}
			}
		}

		u.nodeAt[f] = m
	}

	return u
}

// at returns the unrolled Fanin for an original node id at a given frame.
func (u *unroller) at(frame int, id aig.ID) aig.Fanin { return u.nodeAt[frame][id] }

// InductiveSweeper extends the combinational EquivalenceProver to candidates
// whose equivalence depends on sequential (latch) state, using k-induction.
// It unrolls FramesK+1 frames with every latch free (not reset) in frame 0,
// so the base frame stands for an arbitrary state consistent with the
// current class partition rather than the declared initial state. Every AND
// node with a recorded representative is replaced by that representative's
// own wire (speculative reduction) at every frame but the last, asserting
// the induction hypothesis that the partition already holds in frames
// 0..k-1. A single direct query between the unreduced candidate pair at the
// final frame then proves (Unsat) or refutes (Sat) that the hypothesis
// extends one frame further, which by induction holds for every reachable
// state. FramesAddSim rounds of random sequential simulation run first to
// weed out candidates before the far more expensive SAT query is attempted.
type InductiveSweeper struct {
	store *aig.Store
	sm    *sim.Simulator
	mgr   *class.Manager
	cfg   Config
	log   logrus.FieldLogger
}

// NewInductiveSweeper wires the collaborators needed to extend class
// resolution across latch boundaries.
func NewInductiveSweeper(store *aig.Store, sm *sim.Simulator, mgr *class.Manager, cfg Config, log logrus.FieldLogger) *InductiveSweeper {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &InductiveSweeper{store: store, sm: sm, mgr: mgr, cfg: cfg, log: log}
}

// Run repeats passes, building one unrolled network per pass, until a pass
// resolves nothing further. It returns the number of passes executed.
func (s *InductiveSweeper) Run(ctx context.Context) (int, error) {
	k := s.cfg.FramesK
	if k < 1 {
		k = 1
	}

	passes := 0
	for {
		if err := ctx.Err(); err != nil {
			return passes, nil
		}
		passes++
		replaced, err := s.onePass(ctx, passes, k)
		if err != nil {
			return passes, err
		}
		if replaced == 0 || s.cfg.FsizeOnly {
			return passes, nil
		}
	}
}

func (s *InductiveSweeper) simulationAgrees(r, m aig.ID) bool {
	latches := s.store.Latches()
	for round := 0; round < s.cfg.FramesAddSim; round++ {
		s.sm.AssignRandomPIs()
		s.sm.Propagate()
		if !s.sm.AreEqual(r, m) {
			return false
		}
		next := make([]bool, len(latches))
		for i, l := range latches {
			liSig := s.sm.Sig(l.LI.Node)
			v := liSig[0]&1 != 0
			if l.LI.Inverted {
				v = !v
			}
			next[i] = v
		}
		s.sm.SimInitialState(next)
		s.sm.Propagate()
	}
	return true
}

func (s *InductiveSweeper) onePass(ctx context.Context, pass, k int) (int, error) {
	classes := append([]*class.Class{}, s.mgr.Classes()...)
	sort.Slice(classes, func(i, j int) bool { return classes[i].Repr() < classes[j].Repr() })

	u := newUnroller(s.store, k)
	front := sat.NewFrontend(u.u, s.cfg.PolarFlip, s.log)

	var scheduled []scheduledReplace
	var resExhausted error
classLoop:
	for _, c := range classes {
		r := c.Repr()
		for _, m := range c.Members[1:] {
			if err := ctx.Err(); err != nil {
				break classLoop
			}
			if !s.simulationAgrees(r, m) {
				s.log.WithFields(logrus.Fields{"pass": pass, "repr": r, "node": m}).Debug("sequential simulation disagreed; deferring to base prover")
				continue
			}

			ra, ma := u.at(k, r), u.at(k, m)
			phaseDiff := ra.Inverted != ma.Inverted
			qctx, cancel := context.WithTimeout(ctx, sat.BudgetDuration(s.cfg.ConflictLimit))
			verdict, cex, err := front.AskEquivalent(qctx, ra.Node, ma.Node, phaseDiff)
			cancel()
			if err != nil {
				s.log.WithFields(logrus.Fields{"pass": pass, "repr": r, "node": m}).Warn("sat resource threshold exceeded after one recycle; escalating")
				resExhausted = err
				break classLoop
			}

			switch verdict {
			case sat.Equivalent:
				s.log.WithFields(logrus.Fields{"pass": pass, "repr": r, "node": m, "depth": k}).Debug("induction step held: equivalence extends one frame further")
				scheduled = append(scheduled, scheduledReplace{old: m, new: aig.Fanin{Node: r, Inverted: phaseDiff}})
			case sat.Differ:
				s.log.WithFields(logrus.Fields{"pass": pass, "repr": r, "node": m, "depth": k}).Debug("found sequential counter-example")
				s.sm.InjectCounterExample(liftFrameZero(u, s.store, cex))
				// Latch outputs aren't recomputed by Propagate, so the witness
				// values at r and m must be forced directly by resimulating the
				// unrolled network bit-for-bit: otherwise a false match
				// introduced by an earlier, coarser simulation pass would
				// survive re-partitioning unchanged.
				vals := evalUnrolled(u, cex)
				forceSigBit(s.sm, r, vals[ra.Node] != ra.Inverted)
				forceSigBit(s.sm, m, vals[ma.Node] != ma.Inverted)
				s.mgr.RefineGroup([]aig.ID{r, m})
			case sat.TimedOut:
				s.log.WithFields(logrus.Fields{"pass": pass, "node": m}).Warn("sequential sat query timed out; removing from class")
				s.mgr.Remove(m)
			}
		}
	}

	sort.Slice(scheduled, func(i, j int) bool { return scheduled[i].old < scheduled[j].old })
	replaced := 0
	for _, r := range scheduled {
		if s.cfg.FsizeOnly {
			replaced++
			continue
		}
		if err := s.store.Replace(r.old, r.new); err != nil {
			if errIsCycle(err) {
				s.log.WithFields(logrus.Fields{"pass": pass, "node": r.old}).Warn("sequential replace would introduce a cycle; skipped")
				continue
			}
			return replaced, invariantViolation("replace failed during inductive sweeper pass", err)
		}
		s.mgr.Remove(r.old)
		replaced++
	}
	if replaced > 0 {
		if s.cfg.FsizeOnly {
			s.log.WithFields(logrus.Fields{"pass": pass, "node_count_reduction": replaced}).Info("fsize-only pass: sequential replacements computed but not committed")
		} else {
			s.store.Cleanup()
		}
	}
	if resExhausted != nil {
		return replaced, resourceExhaustion("sat solver resource threshold exceeded after one recycle during inductive sweeping", resExhausted)
	}
	return replaced, nil
}

// evalUnrolled deterministically resimulates the unrolled network under a
// SAT witness's PI assignment, in id (topological) order, so every node's
// concrete value is available even though the witness itself only names PI
// literals.
func evalUnrolled(u *unroller, cex sat.CounterExample) []bool {
	n := u.u.NumNodes()
	vals := make([]bool, n)
	vals[aig.Const1ID] = true
	for id := 1; id < n; id++ {
		nid := aig.ID(id)
		node := u.u.Node(nid)
		if !node.IsAlive() {
			continue
		}
		switch node.Kind() {
		case aig.KindPI:
			vals[id] = cex[nid]
		case aig.KindAnd:
			f0, f1 := node.Fanin0(), node.Fanin1()
			vals[id] = (vals[f0.Node] != f0.Inverted) && (vals[f1.Node] != f1.Inverted)
		case aig.KindPO:
			f0 := node.Fanin0()
			vals[id] = vals[f0.Node] != f0.Inverted
		}
	}
	return vals
}

// forceSigBit overwrites pattern 0 of id's signature with value, used to
// make a sequential counter-example's verdict visible to AreEqual-based
// re-partitioning even for nodes (latch outputs) that Propagate never
// recomputes on its own.
func forceSigBit(sm *sim.Simulator, id aig.ID, value bool) {
	row := sm.Sig(id)
	if len(row) == 0 {
		return
	}
	bit := uint64(0)
	if value {
		bit = 1
	}
	row[0] = (row[0] &^ 1) | bit
}

// liftFrameZero translates an unrolled counter-example's frame-0 primary
// input assignment back into the original store's PI vocabulary, so the
// original packed Simulator can be strengthened with it directly.
func liftFrameZero(u *unroller, orig *aig.Store, cex sat.CounterExample) map[aig.ID]bool {
	out := make(map[aig.ID]bool, len(orig.PIs()))
	for _, pi := range orig.PIs() {
		newPI := u.at(0, pi).Node
		out[pi] = cex[newPI]
	}
	return out
}
