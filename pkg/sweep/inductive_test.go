package sweep

import (
	"context"
	"testing"
	"time"

	"github.com/operator-framework/fraig-sweep/pkg/aig"
	"github.com/operator-framework/fraig-sweep/pkg/class"
	"github.com/operator-framework/fraig-sweep/pkg/sim"
)

// forceMatchingLatchSignatures copies the complement of filler's current
// signature onto both latch outputs, standing in for what a real multi-cycle
// simulation pass would eventually converge on: a non-constant,
// pattern-dependent signature shared by two latches, so BuildInitial groups
// them as an ordinary candidate pair instead of routing them into the
// constant-1 bucket (every latch output is trivially constant within a
// single simulated frame). The complement keeps filler itself out of the
// pair's class.
func forceMatchingLatchSignatures(sm *sim.Simulator, filler, l1, l2 aig.ID) {
	for i, w := range sm.Sig(filler) {
		sm.Sig(l1)[i] = ^w
		sm.Sig(l2)[i] = ^w
	}
}

func TestInductiveSweeperProvesDuplicateLatches(t *testing.T) {
	store := aig.NewStore()
	pi := aig.Fanin{Node: store.MakePI()}
	filler := aig.Fanin{Node: store.MakePI()}
	l1 := store.MakeLatch(pi, 0)
	l2 := store.MakeLatch(pi, 0)

	sm := sim.New(store, 4, 1)
	sm.AssignRandomPIs()
	sm.Propagate()
	forceMatchingLatchSignatures(sm, filler.Node, l1, l2)

	mgr := class.NewManager(store, sm, 0, false)
	mgr.BuildInitial()
	c := mgr.ClassOf(l1)
	if c == nil || mgr.ClassOf(l2) != c {
		t.Skip("forced signature did not land l1 and l2 in the same class; nothing to prove")
	}

	cfg := DefaultConfig()
	sw := NewInductiveSweeper(store, sm, mgr, cfg, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := sw.Run(ctx); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if co := mgr.ClassOf(l1); co != nil {
		t.Fatalf("two latches with identical LI and Init must be proved equivalent and removed from the open class set")
	}
}

func TestInductiveSweeperRefutesIndependentLatches(t *testing.T) {
	store := aig.NewStore()
	pi1 := aig.Fanin{Node: store.MakePI()}
	pi2 := aig.Fanin{Node: store.MakePI()}
	filler := aig.Fanin{Node: store.MakePI()}
	l1 := store.MakeLatch(pi1, 0)
	l2 := store.MakeLatch(pi2, 0)

	sm := sim.New(store, 4, 1)
	sm.AssignRandomPIs()
	sm.Propagate()
	forceMatchingLatchSignatures(sm, filler.Node, l1, l2)

	mgr := class.NewManager(store, sm, 0, false)
	mgr.BuildInitial()
	c := mgr.ClassOf(l1)
	if c == nil || mgr.ClassOf(l2) != c {
		t.Skip("forced signature did not land l1 and l2 in the same class; nothing to refute")
	}

	cfg := DefaultConfig()
	sw := NewInductiveSweeper(store, sm, mgr, cfg, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := sw.Run(ctx); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	c1, c2 := mgr.ClassOf(l1), mgr.ClassOf(l2)
	if c1 != nil && c2 != nil && c1 == c2 {
		t.Fatalf("latches driven by independent primary inputs must not remain grouped together")
	}
}
