package sel

import (
	"testing"

	"github.com/slowlang/isel/compiler/graph"
)

func TestCanFold(t *testing.T) {
	i32 := []graph.Type{graph.I32}

	g := graph.New()

	x := g.NewNode(graph.Reg, 1, i32)
	y := g.NewNode(graph.Reg, 2, i32)

	def := g.NewNode(graph.Add, nil, i32, x.Ref(0), y.Ref(0))
	mid := g.NewNode(graph.Sub, nil, i32, def.Ref(0), x.Ref(0))

	// use reaches def both directly and through mid
	use := g.NewNode(graph.Add, nil, i32, def.Ref(0), mid.Ref(0))

	// safe reaches def through one path only
	safe := g.NewNode(graph.Add, nil, i32, def.Ref(0), y.Ref(0))

	p := newTestPass(g)

	if p.CanFold(def, use) {
		t.Errorf("folding def into use closes a cycle through mid")
	}

	if !p.CanFold(def, safe) {
		t.Errorf("single-path use must be foldable")
	}

	if !p.CanFold(mid, use) {
		t.Errorf("mid has no second path into use")
	}
}

func TestCanFoldDeepPath(t *testing.T) {
	i32 := []graph.Type{graph.I32}

	g := graph.New()

	x := g.NewNode(graph.Reg, 1, i32)
	def := g.NewNode(graph.Add, nil, i32, x.Ref(0), x.Ref(0))

	n := def
	for i := 0; i < 8; i++ {
		n = g.NewNode(graph.Add, nil, i32, n.Ref(0), x.Ref(0))
	}

	use := g.NewNode(graph.Add, nil, i32, def.Ref(0), n.Ref(0))

	p := newTestPass(g)

	if p.CanFold(def, use) {
		t.Errorf("long second path to def not found")
	}
}

func TestCanFoldFastMode(t *testing.T) {
	i32 := []graph.Type{graph.I32}

	g := graph.New()

	x := g.NewNode(graph.Reg, 1, i32)
	def := g.NewNode(graph.Add, nil, i32, x.Ref(0), x.Ref(0))
	use := g.NewNode(graph.Add, nil, i32, def.Ref(0), x.Ref(0))

	s := New(Baseline())
	s.Fast = true

	p := s.NewPass(g)

	if p.CanFold(def, use) {
		t.Errorf("fast mode must reject every fold")
	}
}
