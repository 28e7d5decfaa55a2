// Package sat wraps a real CDCL solver (gini) behind the variable and
// clause vocabulary produced by pkg/cnf, and answers bounded equivalence
// queries between pairs of AIG nodes.
package sat

import (
	"context"
	"time"

	"github.com/irifrance/gini"
	"github.com/irifrance/gini/z"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/operator-framework/fraig-sweep/pkg/aig"
	"github.com/operator-framework/fraig-sweep/pkg/cnf"
)

// Verdict is the outcome of an equivalence query.
type Verdict int

const (
	// Equivalent means the query proved a and b produce the same value
	// under every input (the miter was unsatisfiable).
	Equivalent Verdict = iota
	// Differ means the solver found an input on which a and b disagree.
	Differ
	// TimedOut means the query's budget elapsed before a verdict.
	TimedOut
)

func (v Verdict) String() string {
	switch v {
	case Equivalent:
		return "equivalent"
	case Differ:
		return "differ"
	case TimedOut:
		return "timed-out"
	default:
		return "unknown"
	}
}

// CounterExample is a primary-input assignment distinguishing two nodes,
// returned alongside a Differ verdict.
type CounterExample map[aig.ID]bool

// ErrQueryTimeout is wrapped into results when a query's context expires.
var ErrQueryTimeout = errors.New("sat query exceeded its budget")

// ErrResourceExhausted is returned by AskEquivalent when a single query
// crosses the recycle threshold, is given one recycle-and-retry against a
// fresh solver, and crosses it again on its own: recycling a second time
// would not help, so the caller must escalate instead.
var ErrResourceExhausted = errors.New("sat: resource threshold exceeded even after one recycle")

// BudgetDuration turns a per-query conflict budget into the context
// deadline AskEquivalent is bounded by: gini exposes no native conflict
// counter on GoSolve, only wall-clock (Try) and cancellation, so the engine
// approximates a conflict budget with a linear time budget instead.
func BudgetDuration(conflictLimit int) time.Duration {
	if conflictLimit <= 0 {
		conflictLimit = 1000
	}
	return time.Duration(conflictLimit) * time.Millisecond
}

// Frontend owns one solver instance, its CNF encoder, and the
// variable-translation dictionary between them. It recycles the
// underlying solver once accumulated clauses or variables cross a
// threshold, mirroring the one-shot gini.New() per top-level query that
// this package's design is grounded on.
type Frontend struct {
	store *aig.Store
	enc   *cnf.Encoder
	log   logrus.FieldLogger

	g     *gini.Gini
	litOf map[cnf.Var]z.Lit

	recycleClauseThreshold int
	recycleVarThreshold    int
	clausesSinceRecycle    int
	pollInterval           time.Duration

	recycles      int
	recycledQuery bool
}

// NewFrontend returns a Frontend over store. polarFlip is forwarded to the
// CNF encoder (spec.md §9 default: off).
func NewFrontend(store *aig.Store, polarFlip bool, log logrus.FieldLogger) *Frontend {
	if log == nil {
		log = logrus.StandardLogger()
	}
	f := &Frontend{
		store:                  store,
		enc:                    cnf.NewEncoder(store, polarFlip),
		log:                    log,
		recycleClauseThreshold: 50000,
		recycleVarThreshold:    20000,
		pollInterval:           25 * time.Millisecond,
	}
	f.resetSolver()
	return f
}

func (f *Frontend) resetSolver() {
	f.g = gini.New()
	f.litOf = make(map[cnf.Var]z.Lit)
	f.clausesSinceRecycle = 0
	lit := f.translate(cnf.ConstVar)
	f.g.Add(lit)
	f.g.Add(0)
}

// translate returns v's solver literal, allocating a fresh one on first use.
func (f *Frontend) translate(v cnf.Var) z.Lit {
	if lit, ok := f.litOf[v]; ok {
		return lit
	}
	lit := f.g.Lit()
	f.litOf[v] = lit
	return lit
}

func (f *Frontend) litFor(l cnf.Lit) z.Lit {
	v := l
	if v < 0 {
		v = -v
	}
	lit := f.translate(cnf.Var(v))
	if l < 0 {
		return lit.Not()
	}
	return lit
}

func (f *Frontend) addClauses(clauses []cnf.Clause) {
	for _, c := range clauses {
		for _, l := range c {
			f.g.Add(f.litFor(l))
		}
		f.g.Add(0)
		f.clausesSinceRecycle++
	}
}

// EncodeAndAssert ensures id (and its collapsed supergate/mux cone) is
// represented in the live solver, returning its CNF variable.
func (f *Frontend) EncodeAndAssert(id aig.ID) cnf.Var {
	v, clauses := f.enc.Encode(id)
	f.addClauses(clauses)
	return v
}

// overThreshold reports whether accumulated clauses or variables have
// crossed the configured recycle threshold.
func (f *Frontend) overThreshold() bool {
	return f.clausesSinceRecycle >= f.recycleClauseThreshold || int(f.g.MaxVar()) >= f.recycleVarThreshold
}

// maybeRecycle tears the solver down and rebuilds it once accumulated
// clauses or variables cross the configured threshold, clearing the
// encoder's memoization in lock-step so the two never disagree about
// variable numbers. It marks recycledQuery so a subsequent breach within
// the same query is recognized as "the recycle did not help" rather than
// recycled away again.
func (f *Frontend) maybeRecycle() {
	if !f.overThreshold() {
		return
	}
	f.recycles++
	f.recycledQuery = true
	f.log.WithFields(logrus.Fields{
		"recycle_count": f.recycles,
		"clauses":       f.clausesSinceRecycle,
	}).Debug("recycling sat solver")
	f.enc.Reset()
	f.resetSolver()
}

// AskEquivalent asks whether a and b always agree, asserting a miter that
// forces them to disagree and checking whether that is satisfiable. The
// query is bounded by ctx's deadline; a polling loop against the solver's
// background goroutine (grounded on the teacher's waitForSolution/GoSolve
// pattern) stands in for gini's lack of a native conflict-budget knob.
// bInverted compares a against the complement of b, so callers can ask
// equivalence up to a known phase difference (class members only ever
// need to agree up to inversion) without materializing a separate node.
//
// A query gets exactly one local recycle-and-retry: ErrResourceExhausted
// is returned if encoding still crosses the threshold on the fresh solver.
func (f *Frontend) AskEquivalent(ctx context.Context, a, b aig.ID, bInverted bool) (Verdict, CounterExample, error) {
	f.recycledQuery = false
	f.maybeRecycle()

	va := f.EncodeAndAssert(a)
	vb := f.EncodeAndAssert(b)
	if f.overThreshold() {
		if f.recycledQuery {
			f.log.WithFields(logrus.Fields{"clauses": f.clausesSinceRecycle}).Warn("sat resource threshold exceeded again immediately after a recycle; escalating")
			return TimedOut, nil, ErrResourceExhausted
		}
		f.maybeRecycle()
		va = f.EncodeAndAssert(a)
		vb = f.EncodeAndAssert(b)
		if f.overThreshold() {
			f.log.WithFields(logrus.Fields{"clauses": f.clausesSinceRecycle}).Warn("sat resource threshold exceeded again immediately after a recycle; escalating")
			return TimedOut, nil, ErrResourceExhausted
		}
	}
	la, lb := f.translate(va), f.translate(vb)
	if bInverted {
		lb = lb.Not()
	}

	// Fresh miter variable m <-> (la XOR lb), assumed true each query so the
	// solver only ever searches for a distinguishing assignment.
	m := f.g.Lit()
	f.g.Add(m.Not())
	f.g.Add(la)
	f.g.Add(lb)
	f.g.Add(0)
	f.g.Add(m.Not())
	f.g.Add(la.Not())
	f.g.Add(lb.Not())
	f.g.Add(0)
	f.g.Add(m)
	f.g.Add(la.Not())
	f.g.Add(lb)
	f.g.Add(0)
	f.g.Add(m)
	f.g.Add(la)
	f.g.Add(lb.Not())
	f.g.Add(0)

	f.g.Assume(m)
	result := f.waitForSolution(ctx, f.g.GoSolve())

	switch result {
	case 1:
		return Differ, f.extractCounterExample(), nil
	case -1:
		return Equivalent, nil, nil
	default:
		return TimedOut, nil, nil
	}
}

func (f *Frontend) waitForSolution(ctx context.Context, gs interface {
	Test() (int, bool)
	Stop() int
}) int {
	t := time.NewTicker(f.pollInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return gs.Stop()
		case <-t.C:
			if res, ok := gs.Test(); ok {
				return res
			}
		}
	}
}

func (f *Frontend) extractCounterExample() CounterExample {
	cex := make(CounterExample)
	for _, id := range f.store.PIs() {
		v, ok := f.enc.VarOf(id)
		if !ok {
			continue
		}
		cex[id] = f.g.Value(f.translate(v))
	}
	return cex
}

// Reset discards all accumulated clauses and variable mappings.
func (f *Frontend) Reset() {
	f.enc.Reset()
	f.resetSolver()
}
