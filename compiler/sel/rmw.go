package sel

import (
	"github.com/slowlang/isel/compiler/graph"
)

// preprocess rewrites ordering edges so load-modify-store patterns
// become selectable as one fused operand. A store ordered by a join
// cannot be fused with a load ordered by one of the join's inputs: the
// load races with the join's other predecessors. Serializing the load
// right after the join and chaining the store directly to the load
// makes the load-op-store chain local.
func (p *Pass) preprocess() {
	moved := 0

	for _, n := range p.g.Nodes {
		if n.Op != graph.Store {
			continue
		}

		join := n.In[0]
		if join.N.Op != graph.Join {
			continue
		}

		val := n.In[1]
		addr := n.In[2]

		if t := val.Type(); t != graph.I8 && t != graph.I16 && t != graph.I32 {
			continue
		}

		if !val.N.OneUse(val.Res) {
			continue
		}

		var load graph.Ref

		switch val.N.Op {
		case graph.Add, graph.Mul, graph.And, graph.Or, graph.Xor:
			load = val.N.In[0]
			if load.N.Op != graph.Load {
				load = val.N.In[1]
			}
		case graph.Sub, graph.Shl, graph.Sra, graph.Srl, graph.RotL, graph.RotR:
			// the memory operand must be on the left
			load = val.N.In[0]
		default:
			continue
		}

		l := load.N

		if l.Op != graph.Load || load.Res != 0 ||
			!l.OneUse(0) ||
			l.In[1] != addr ||
			l.Res[0] != val.Type() ||
			!l.OneUse(1) {
			continue
		}

		slot := -1

		for i, r := range join.N.In {
			if r.N == l && r.Res == 1 {
				slot = i
				break
			}
		}

		if slot < 0 {
			continue
		}

		// the join takes over the load's prior ordering predecessor,
		// the load is serialized after the join,
		// the store is chained directly to the load
		prior := l.In[0]
		p.g.SetIn(join.N, slot, prior)
		p.g.SetIn(l, 0, join)
		p.g.SetIn(n, 0, l.Ref(1))

		moved++
	}

	p.tr.V("rmw").Printw("loads moved below join", "moved", moved)
}
