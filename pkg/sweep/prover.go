package sweep

import (
	"context"
	"errors"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/operator-framework/fraig-sweep/pkg/aig"
	"github.com/operator-framework/fraig-sweep/pkg/class"
	"github.com/operator-framework/fraig-sweep/pkg/sat"
	"github.com/operator-framework/fraig-sweep/pkg/sim"
)

// EquivalenceProver implements spec.md §4.6: for every non-trivial class it
// asks SAT whether each member equals the class representative, and
// replaces proven-equal members once a full pass has been evaluated.
type EquivalenceProver struct {
	store *aig.Store
	sm    *sim.Simulator
	mgr   *class.Manager
	front *sat.Frontend
	cfg   Config
	log   logrus.FieldLogger
}

// NewEquivalenceProver wires the four collaborators together.
func NewEquivalenceProver(store *aig.Store, sm *sim.Simulator, mgr *class.Manager, front *sat.Frontend, cfg Config, log logrus.FieldLogger) *EquivalenceProver {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &EquivalenceProver{store: store, sm: sm, mgr: mgr, front: front, cfg: cfg, log: log}
}

type scheduledReplace struct {
	old aig.ID
	new aig.Fanin
}

// Run repeats passes until one yields zero replacements, per spec.md §4.6
// step 6. It returns the number of passes executed.
func (p *EquivalenceProver) Run(ctx context.Context) (int, error) {
	passes := 0
	for {
		if err := ctx.Err(); err != nil {
			return passes, nil
		}
		passes++
		replaced, err := p.onePass(ctx, passes)
		if err != nil {
			return passes, err
		}
		// FsizeOnly reports the node-count reduction a single pass would
		// achieve without ever committing a replacement, so there is no
		// fixed point to iterate toward: report after the first pass.
		if replaced == 0 || p.cfg.FsizeOnly {
			return passes, nil
		}
	}
}

func (p *EquivalenceProver) onePass(ctx context.Context, pass int) (int, error) {
	classes := append([]*class.Class{}, p.mgr.Classes()...)
	// Open Question default (spec.md §9): schedule replacements in
	// topo-order by representative id.
	sort.Slice(classes, func(i, j int) bool { return classes[i].Repr() < classes[j].Repr() })

	var scheduled []scheduledReplace
	var resExhausted error

	const1 := p.mgr.Const1Candidates()
	for _, m := range const1 {
		if err := ctx.Err(); err != nil {
			break
		}
		p.log.WithFields(logrus.Fields{"pass": pass, "node": m}).Debug("querying constant-1 candidate")

		phaseDiff := !p.store.Node(m).Phase()
		qctx, cancel := context.WithTimeout(ctx, sat.BudgetDuration(p.cfg.ConflictLimit))
		verdict, cex, err := p.front.AskEquivalent(qctx, aig.Const1ID, m, phaseDiff)
		cancel()
		if err != nil {
			p.log.WithFields(logrus.Fields{"pass": pass, "node": m}).Warn("sat resource threshold exceeded after one recycle; escalating")
			resExhausted = err
			break
		}

		switch verdict {
		case sat.Equivalent:
			scheduled = append(scheduled, scheduledReplace{old: m, new: aig.Fanin{Node: aig.Const1ID, Inverted: phaseDiff}})
		case sat.Differ:
			p.sm.InjectCounterExample(cex)
			p.mgr.RefineConst1Group([]aig.ID{m})
		case sat.TimedOut:
			p.log.WithFields(logrus.Fields{"pass": pass, "node": m}).Warn("sat query timed out; removing constant-1 candidate")
			p.mgr.Remove(m)
		}
	}

classLoop:
	for _, c := range classes {
		if resExhausted != nil {
			break
		}
		r := c.Repr()
		for _, m := range c.Members[1:] {
			if err := ctx.Err(); err != nil {
				break classLoop
			}
			p.log.WithFields(logrus.Fields{"pass": pass, "node": m}).Debug("querying equivalence against representative")

			phaseDiff := p.store.Node(r).Phase() != p.store.Node(m).Phase()
			qctx, cancel := context.WithTimeout(ctx, sat.BudgetDuration(p.cfg.ConflictLimit))
			verdict, cex, err := p.front.AskEquivalent(qctx, r, m, phaseDiff)
			cancel()
			if err != nil {
				p.log.WithFields(logrus.Fields{"pass": pass, "node": m}).Warn("sat resource threshold exceeded after one recycle; escalating")
				resExhausted = err
				break classLoop
			}

			switch verdict {
			case sat.Equivalent:
				scheduled = append(scheduled, scheduledReplace{old: m, new: aig.Fanin{Node: r, Inverted: phaseDiff}})
			case sat.Differ:
				p.sm.InjectCounterExample(cex)
				p.mgr.RefineGroup([]aig.ID{r, m})
			case sat.TimedOut:
				p.log.WithFields(logrus.Fields{"pass": pass, "node": m}).Warn("sat query timed out; removing from class")
				p.mgr.Remove(m)
			}
		}
	}

	sort.Slice(scheduled, func(i, j int) bool { return scheduled[i].old < scheduled[j].old })
	replaced := 0
	for _, s := range scheduled {
		if p.cfg.FsizeOnly {
			replaced++
			continue
		}
		if err := p.store.Replace(s.old, s.new); err != nil {
			if errIsCycle(err) {
				p.log.WithFields(logrus.Fields{"pass": pass, "node": s.old}).Warn("replace would introduce a cycle; skipped")
				continue
			}
			return replaced, invariantViolation("replace failed during equivalence prover pass", err)
		}
		p.mgr.Remove(s.old)
		replaced++
	}
	if replaced > 0 {
		if p.cfg.FsizeOnly {
			p.log.WithFields(logrus.Fields{"pass": pass, "node_count_reduction": replaced}).Info("fsize-only pass: replacements computed but not committed")
		} else {
			p.store.Cleanup()
		}
	}
	if resExhausted != nil {
		return replaced, resourceExhaustion("sat solver resource threshold exceeded after one recycle during equivalence proving", resExhausted)
	}
	return replaced, nil
}

func errIsCycle(err error) bool {
	return errors.Is(err, aig.ErrCycleAttempt)
}
