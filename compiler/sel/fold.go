package sel

import (
	"github.com/slowlang/isel/compiler/graph"
	"github.com/slowlang/isel/compiler/set"
)

// CanFold reports whether embedding def's value directly into use's
// instruction encoding cannot create a cycle. If any other operand of
// use can reach def, folding would make def both a predecessor and a
// successor of use.
//
// A safe fold may be rejected, an unsafe one is never accepted.
func (p *Pass) CanFold(def, use *graph.Node) bool {
	if p.s.Fast {
		return false
	}

	visited := set.MakeBitmap(len(p.g.Nodes))

	for _, r := range use.In {
		if r.N == def {
			continue
		}

		if p.findDef(r.N, def, &visited) {
			return false
		}
	}

	return true
}

func (p *Pass) findDef(n, def *graph.Node, visited *set.Bitmap) bool {
	// operands always carry smaller ids, nodes below def cannot depend on it
	if n.ID() < def.ID() || visited.IsSet(int(n.ID())) {
		return false
	}

	visited.Set(int(n.ID()))

	for _, r := range n.In {
		if r.N == def || p.findDef(r.N, def, visited) {
			return true
		}
	}

	return false
}
