package sel

import (
	"github.com/slowlang/isel/compiler/asm/x86"
	"github.com/slowlang/isel/compiler/graph"
)

type (
	// sequencer emits copy-in/copy-out steps around instructions that
	// are hardwired to physical registers. Consecutive steps are glued
	// together so no reordering pass may separate them.
	sequencer struct {
		p *Pass

		chain graph.Ref
		glue  graph.Ref
	}
)

func (q *sequencer) reg(r x86.Reg, t graph.Type) graph.Ref {
	n := q.p.g.NewNode(graph.Reg, int(r), []graph.Type{t})
	q.p.selected.Set(int(n.ID()))

	return n.Ref(0)
}

// copyIn copies v into physical register r.
func (q *sequencer) copyIn(r x86.Reg, t graph.Type, v graph.Ref) {
	in := []graph.Ref{q.chain, q.reg(r, t), v}
	if !q.glue.Zero() {
		in = append(in, q.glue)
	}

	c := q.p.g.NewNode(graph.CopyTo, nil, []graph.Type{graph.Chain, graph.Glue}, in...)

	q.chain = c.Ref(0)
	q.glue = c.Ref(1)
}

// emit appends the instruction to the glued sequence. The chain is
// threaded through when the instruction has an ordering result.
func (q *sequencer) emit(op graph.Op, res []graph.Type, in ...graph.Ref) *graph.Node {
	for _, t := range res {
		if t == graph.Chain {
			in = append(in, q.chain)
			break
		}
	}

	if !q.glue.Zero() {
		in = append(in, q.glue)
	}

	n := q.p.g.NewNode(op, nil, res, in...)

	q.glue = graph.Ref{}

	for i, t := range res {
		switch t {
		case graph.Chain:
			q.chain = n.Ref(i)
		case graph.Glue:
			q.glue = n.Ref(i)
		}
	}

	return n
}

// copyOut copies physical register r into a fresh value.
func (q *sequencer) copyOut(r x86.Reg, t graph.Type) graph.Ref {
	in := []graph.Ref{q.chain, q.reg(r, t)}
	if !q.glue.Zero() {
		in = append(in, q.glue)
	}

	c := q.p.g.NewNode(graph.CopyFrom, nil, []graph.Type{t, graph.Chain, graph.Glue}, in...)

	q.chain = c.Ref(1)
	q.glue = c.Ref(2)

	return c.Ref(0)
}
