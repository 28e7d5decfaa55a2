package sweep

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/operator-framework/fraig-sweep/pkg/aig"
	"github.com/operator-framework/fraig-sweep/pkg/class"
	"github.com/operator-framework/fraig-sweep/pkg/sat"
	"github.com/operator-framework/fraig-sweep/pkg/sim"
)

// SweepSession is the facade spec.md §2/§6 describes: it owns the AIG
// Store, the Simulator, the Class Manager and the SAT Frontend, and
// sequences the Equivalence Prover and Inductive Sweeper across them so a
// caller never touches more than one object.
type SweepSession struct {
	Store *aig.Store

	sm    *sim.Simulator
	mgr   *class.Manager
	front *sat.Frontend
	cfg   Config
	log   logrus.FieldLogger
}

// NewSweepSessionFromBuilder wraps a Store the caller has already built via
// MakePI/MakePO/MakeAnd (spec.md §6's construct-from-builder interface).
func NewSweepSessionFromBuilder(store *aig.Store, cfg Config, log logrus.FieldLogger) *SweepSession {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if cfg.Verbose {
		// Verbose only raises the level of a *logrus.Logger we can reach
		// directly; a caller-supplied FieldLogger (e.g. an Entry already
		// bound to fields) keeps whatever level it was configured with.
		if l, ok := log.(*logrus.Logger); ok {
			l.SetLevel(logrus.DebugLevel)
		}
	}
	sm := sim.New(store, 64, 1)
	mgr := class.NewManager(store, sm, cfg.MaxLevels, cfg.LatchCorrOnly)
	front := sat.NewFrontend(store, cfg.PolarFlip, log)
	return &SweepSession{Store: store, sm: sm, mgr: mgr, front: front, cfg: cfg, log: log}
}

// NewSweepSessionFromStream wraps the construct-from-stream interface
// (spec.md §6): the loader's own hash-consing guarantees canonicality on
// re-entry exactly as the builder interface does.
func NewSweepSessionFromStream(in aig.StreamInput, cfg Config, log logrus.FieldLogger) (*SweepSession, error) {
	store, err := aig.LoadFromStream(in)
	if err != nil {
		return nil, invariantViolation("failed to load stream input", err)
	}
	return NewSweepSessionFromBuilder(store, cfg, log), nil
}

// Sweep runs the full equivalence sweep to convergence: resimulate and
// rebuild the initial partition, alternate combinational proving with
// sequential (inductive) proving whenever the AIG has latches, and stop
// once a full round of both produces zero replacements. It never inspects
// a specific pair of nodes — callers that want a yes/no verdict on two
// particular nodes should call CheckEquivalence afterward.
func (s *SweepSession) Sweep(ctx context.Context) error {
	s.sm.AssignRandomPIs()
	s.sm.Propagate()
	s.mgr.BuildInitial()

	hasLatches := len(s.Store.Latches()) > 0

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		prover := NewEquivalenceProver(s.Store, s.sm, s.mgr, s.front, s.cfg, s.log)
		combPasses, err := prover.Run(ctx)
		if err != nil {
			return err
		}

		seqPasses := 1
		if hasLatches {
			sw := NewInductiveSweeper(s.Store, s.sm, s.mgr, s.cfg, s.log)
			n, err := sw.Run(ctx)
			if err != nil {
				return err
			}
			seqPasses = n
		}

		// Run returns 1 exactly when its single pass made no replacements;
		// only once both provers go idle in the same outer round has the
		// sweep reached a fixed point.
		if combPasses <= 1 && seqPasses <= 1 {
			return nil
		}
	}
}

// sameDriver reports whether a and b name the same AIG node. Inversion flags
// are not compared, and a node that Sweep replaced is not followed to its
// replacement: the ids are taken as given.
func sameDriver(store *aig.Store, a, b aig.Fanin) bool {
	return a.Node == b.Node
}

// CheckEquivalence decides the top-level verdict for a specific pair of
// nodes (typically two PO drivers from a miter-style AIG) after Sweep has
// been run. If a and b are the same node with the same inversion, the answer
// is immediate; otherwise one last direct SAT query resolves it.
func (s *SweepSession) CheckEquivalence(ctx context.Context, a, b aig.Fanin) (Result, error) {
	if sameDriver(s.Store, a, b) && a.Inverted == b.Inverted {
		return Result{Verdict: Equivalent}, nil
	}

	phaseDiff := a.Inverted != b.Inverted
	qctx, cancel := context.WithTimeout(ctx, sat.BudgetDuration(s.cfg.ConflictLimit))
	defer cancel()
	verdict, witness, err := s.front.AskEquivalent(qctx, a.Node, b.Node, phaseDiff)
	if err != nil {
		return Result{}, resourceExhaustion("sat solver resource threshold exceeded after one recycle during final equivalence check", err)
	}

	switch verdict {
	case sat.Equivalent:
		return Result{Verdict: Equivalent}, nil
	case sat.Differ:
		// verifyCounterExample resimulates against a single PO's value, so
		// the divergence is recorded as a miter: a node that is true exactly
		// when a and b disagree, with its own PO so the witness can be
		// independently confirmed before it is ever handed back to a caller.
		miter := xorFanin(s.Store, a, b)
		poID := s.Store.MakePO(miter)
		cex := &CounterExample{
			FrameCount:         1,
			PerFramePIValues:   []map[aig.ID]bool{witness},
			InitialLatchValues: initialLatchValues(s.Store),
			PO:                 poID,
			Frame:              0,
		}
		ok, err := verifyCounterExample(s.Store, cex)
		if err != nil {
			return Result{}, invariantViolation("counter-example verification failed", err)
		}
		if !ok {
			s.log.WithFields(logrus.Fields{"node_a": a.Node, "node_b": b.Node}).Warn("SAT witness did not verify on resimulation; reporting Undecided")
			return s.undecidedResult("bad counter-example"), nil
		}
		return Result{Verdict: NonEquivalent, CEX: cex}, nil
	default: // sat.TimedOut
		return s.undecidedResult("query timeout"), nil
	}
}

// xorFanin builds x XOR y from AND-and-inverter gates via De Morgan's law,
// the same construction CheckEquivalence uses to turn a candidate pair into
// a single miter output that a verified counter-example can be anchored to.
func xorFanin(store *aig.Store, x, y aig.Fanin) aig.Fanin {
	notY := aig.Fanin{Node: y.Node, Inverted: !y.Inverted}
	notX := aig.Fanin{Node: x.Node, Inverted: !x.Inverted}
	p := store.MakeAnd(x, notY)
	q := store.MakeAnd(notX, y)
	n := store.MakeAnd(aig.Fanin{Node: p.Node, Inverted: !p.Inverted}, aig.Fanin{Node: q.Node, Inverted: !q.Inverted})
	return aig.Fanin{Node: n.Node, Inverted: !n.Inverted}
}

func initialLatchValues(store *aig.Store) map[aig.ID]bool {
	vals := make(map[aig.ID]bool, len(store.Latches()))
	for _, l := range store.Latches() {
		vals[l.LO] = l.Init == 1
	}
	return vals
}

func (s *SweepSession) undecidedResult(reason string) Result {
	classes := s.mgr.Classes()
	pairs := 0
	for _, c := range classes {
		pairs += len(c.Members) - 1
	}
	return Result{
		Verdict:           Undecided,
		UnresolvedClasses: len(classes),
		UnresolvedPairs:   pairs,
		ReasonCounts:      map[string]int{reason: 1},
	}
}
