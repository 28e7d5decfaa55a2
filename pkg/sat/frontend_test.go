package sat

import (
	"context"
	"testing"
	"time"

	"github.com/operator-framework/fraig-sweep/pkg/aig"
)

func TestAskEquivalentProvesIdenticalNodes(t *testing.T) {
	s := aig.NewStore()
	a := aig.Fanin{Node: s.MakePI()}
	b := aig.Fanin{Node: s.MakePI()}
	n1 := s.MakeAnd(a, b)
	n2 := s.MakeAnd(a, b)

	f := NewFrontend(s, false, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	verdict, _, err := f.AskEquivalent(ctx, n1.Node, n2.Node, false)
	if err != nil {
		t.Fatalf("AskEquivalent returned error: %v", err)
	}
	if verdict != Equivalent {
		t.Fatalf("hash-consed duplicate ANDs must prove equivalent, got %s", verdict)
	}
}

func TestAskEquivalentFindsDistinguishingInput(t *testing.T) {
	s := aig.NewStore()
	a := aig.Fanin{Node: s.MakePI()}
	b := aig.Fanin{Node: s.MakePI()}
	n1 := s.MakeAnd(a, b)
	n2 := s.MakeAnd(a, aig.Fanin{Node: b.Node, Inverted: true})

	f := NewFrontend(s, false, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	verdict, cex, err := f.AskEquivalent(ctx, n1.Node, n2.Node, false)
	if err != nil {
		t.Fatalf("AskEquivalent returned error: %v", err)
	}
	if verdict != Differ {
		t.Fatalf("a*b and a*!b must differ, got %s", verdict)
	}
	if cex == nil {
		t.Fatalf("a Differ verdict must carry a counter-example")
	}
	if !cex[a.Node] {
		t.Fatalf("the only distinguishing input for a*b vs a*!b has a=1, got a=%v", cex[a.Node])
	}
}

func TestAskEquivalentConstant1UnitClauseHolds(t *testing.T) {
	s := aig.NewStore()
	a := aig.Fanin{Node: s.MakePI()}
	n := s.MakeAnd(a, aig.Fanin{Node: aig.Const1ID})

	f := NewFrontend(s, false, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	verdict, _, err := f.AskEquivalent(ctx, n.Node, a.Node, false)
	if err != nil {
		t.Fatalf("AskEquivalent returned error: %v", err)
	}
	if verdict != Equivalent {
		t.Fatalf("a*1 must be proved equivalent to a, got %s", verdict)
	}
}
