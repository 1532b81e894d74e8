// Package sel lowers a legalized target-independent dependency graph
// into x86 machine nodes, one function at a time.
//
// The selector walks the graph from the root, consumers before
// operands, dispatching custom lowering cases first and the declarative
// decision table otherwise. Custom cases exist solely for operations
// that need multi-result physical-register sequencing or legality
// reasoning the table cannot express.
package sel

import (
	"context"

	"nikand.dev/go/heap"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/isel/compiler/asm/x86"
	"github.com/slowlang/isel/compiler/graph"
	"github.com/slowlang/isel/compiler/set"
)

type (
	Selector struct {
		Table Table

		// Fast forgoes all folding and preprocessing.
		Fast bool
	}

	// Pass is one function's selection state. It is created fresh for
	// every SelectFunc call and discarded on completion.
	Pass struct {
		s *Selector
		g *graph.Graph

		tr tlog.Span

		q heap.Heap[*graph.Node]

		selected set.Bitmap
		picBase  graph.Ref
		noreg    *graph.Node
	}
)

func New(t Table) *Selector {
	return &Selector{Table: t}
}

// NewPass creates one function's selection state, for using the
// address and fold queries outside the main dispatch.
func (s *Selector) NewPass(g *graph.Graph) *Pass {
	return &Pass{
		s: s,
		g: g,

		q: heap.Heap[*graph.Node]{Less: topdown},

		selected: set.MakeBitmap(len(g.Nodes)),
	}
}

func (s *Selector) SelectFunc(ctx context.Context, g *graph.Graph) (err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "sel: select func", "nodes", len(g.Nodes), "fast", s.Fast)
	defer tr.Finish("err", &err)

	p := s.NewPass(g)
	p.tr = tr

	if !s.Fast {
		p.preprocess()
		g.Renumber()
	}

	if tr.If("dump_before") {
		p.dump("before")
	}

	p.enq(g.Root.N)

	for p.q.Len() != 0 {
		n := p.q.Pop()
		id := int(n.ID())

		if p.selected.IsSet(id) {
			continue
		}

		if n.Op >= graph.GenericEnd {
			p.selected.Set(id)

			for _, r := range n.In {
				p.enq(r.N)
			}

			continue
		}

		err = p.node(n)

		// marked after dispatch: the node's own lowering must still
		// see it as not materialized when matching addresses
		p.selected.Set(id)

		if err != nil {
			return errors.Wrap(err, "node %v (%v)", n.ID(), n.Op)
		}
	}

	g.RemoveDead()

	if tr.If("dump_after") {
		p.dump("after")
	}

	return nil
}

// consumers pop before their operands
func topdown(d []*graph.Node, i, j int) bool { return d[i].ID() > d[j].ID() }

func (p *Pass) node(n *graph.Node) error {
	p.tr.V("select").Printw("select", "id", n.ID(), "op", n.Op)

	switch n.Op {
	case graph.PICBase:
		p.globalBase(n)
		return nil

	case graph.Add:
		if p.addOfSymbol(n) {
			return nil
		}

	case graph.MulHiS, graph.MulHiU:
		p.mulhi(n)
		return nil

	case graph.DivS, graph.DivU, graph.RemS, graph.RemU:
		p.divrem(n)
		return nil

	case graph.Trunc:
		if n.Res[0] == graph.I8 && p.trunc8(n) {
			return nil
		}
	}

	if !p.s.Table.Try(p, n) {
		return errors.New("no matching rule")
	}

	return nil
}

// globalBase materializes the PIC base register sequence into the
// function entry at most once, all requests share the value.
func (p *Pass) globalBase(n *graph.Node) {
	if p.picBase.Zero() {
		push := p.g.NewNode(x86.MovePCtoStack, nil, []graph.Type{graph.Chain}, p.g.Entry.Ref(0))
		pop := p.g.NewNode(x86.POP32r, nil, []graph.Type{graph.I32, graph.Chain}, push.Ref(0))

		p.picBase = pop.Ref(0)

		p.tr.V("picbase").Printw("pic base materialized", "id", pop.ID())
	}

	p.g.ReplaceAllUses(n.Value(), p.picBase)
}

// addOfSymbol collapses add(wrapper(sym), const) into a single
// move-immediate carrying the symbol plus adjusted offset. Matched
// before the table so it is not turned into an address computation.
func (p *Pass) addOfSymbol(n *graph.Node) bool {
	if n.Res[0] != graph.I32 {
		return false
	}

	n0, n1 := n.In[0], n.In[1]
	if n0.N.Op != graph.Wrapper || n1.N.Op != graph.Const {
		return false
	}

	off := int32(n1.N.Aux.(int64))
	w := n0.N.In[0].N

	var leaf graph.Ref

	switch w.Op {
	case graph.Global:
		sym := w.Aux.(*graph.Symbol)
		leaf = p.Leaf(x86.TGlobal, &graph.Symbol{Name: sym.Name, Off: sym.Off + off}, graph.I32)
	case graph.Pool:
		cp := w.Aux.(*graph.PoolEntry)
		leaf = p.Leaf(x86.TPool, &graph.PoolEntry{ID: cp.ID, Align: cp.Align, Off: cp.Off + off}, graph.I32)
	default:
		return false
	}

	p.g.Morph(n, x86.MOV32ri, nil, leaf)

	return true
}

// mulhi lowers wide multiply-high. Operands are implicitly placed in
// the fixed low/high register pair of the result width.
func (p *Pass) mulhi(n *graph.Node) {
	vt := n.Res[0]
	lo, hi := x86.LoHi(vt)
	ropc, mopc := x86.MulOp(n.Op == graph.MulHiS, vt)

	n0, n1 := n.In[0], n.In[1]

	am, folded := p.tryFoldLoad(n, n1)
	if !folded {
		// multiply-high is commutative
		am, folded = p.tryFoldLoad(n, n0)
		if folded {
			n0, n1 = n1, n0
		}
	}

	chain := p.g.Entry.Ref(0)
	if folded {
		chain = n1.N.In[0]
	}

	p.Queue(chain, n0)

	q := sequencer{p: p, chain: chain}
	q.copyIn(lo, vt, n0)

	if folded {
		base, scale, index, disp := p.AddrOperands(am)
		q.emit(mopc, []graph.Type{graph.Chain, graph.Glue}, base, scale, index, disp)
		p.Queue(base, index)
	} else {
		q.emit(ropc, []graph.Type{graph.Glue}, n1)
		p.Queue(n1)
	}

	res := q.copyOut(hi, vt)

	p.g.ReplaceAllUses(n.Value(), res)

	if folded {
		p.g.ReplaceAllUses(n1.N.Ref(1), q.chain)
	}
}

// divrem lowers divide and remainder. The double-width dividend is
// formed in the fixed low/high pair: sign-extension of the low register
// for signed ops, zero-fill of the high register for unsigned.
func (p *Pass) divrem(n *graph.Node) {
	signed := n.Op == graph.DivS || n.Op == graph.RemS
	div := n.Op == graph.DivS || n.Op == graph.DivU

	vt := n.Res[0]
	lo, hi := x86.LoHi(vt)
	ropc, mopc := x86.DivOp(signed, vt)

	n0, n1 := n.In[0], n.In[1]

	// only the divisor is dividend-independent
	am, folded := p.tryFoldLoad(n, n1)

	chain := p.g.Entry.Ref(0)
	if folded {
		chain = n1.N.In[0]
	}

	p.Queue(chain, n0)

	q := sequencer{p: p, chain: chain}
	q.copyIn(lo, vt, n0)

	if signed {
		q.emit(x86.SExtOp(vt), []graph.Type{graph.Glue})
	} else {
		clr := p.g.NewNode(x86.ClrOp(vt), nil, []graph.Type{vt})
		q.copyIn(hi, vt, clr.Ref(0))
	}

	if folded {
		base, scale, index, disp := p.AddrOperands(am)
		q.emit(mopc, []graph.Type{graph.Chain, graph.Glue}, base, scale, index, disp)
		p.Queue(base, index)
	} else {
		q.emit(ropc, []graph.Type{graph.Glue}, n1)
		p.Queue(n1)
	}

	out := lo
	if !div {
		out = hi
	}

	res := q.copyOut(out, vt)

	p.g.ReplaceAllUses(n.Value(), res)

	if folded {
		p.g.ReplaceAllUses(n1.N.Ref(1), q.chain)
	}
}

// trunc8 narrows to the smallest addressable width. The target cannot
// reference the byte view of an arbitrary register class, so the value
// is renamed into the addressable half-width class first and the byte
// subregister is extracted from that.
func (p *Pass) trunc8(n *graph.Node) bool {
	var opc, opc2 graph.Op

	st := n.In[0].Type()

	switch st {
	case graph.I16:
		opc, opc2 = x86.MOV16to16_, x86.TRUNC_GR16_GR8
	case graph.I32:
		opc, opc2 = x86.MOV32to32_, x86.TRUNC_GR32_GR8
	default:
		return false
	}

	p.Queue(n.In[0])

	tmp := p.g.NewNode(opc, nil, []graph.Type{st}, n.In[0])
	p.g.Morph(n, opc2, nil, tmp.Ref(0))

	return true
}

// tryFoldLoad folds a single-use load operand of u into an addressing
// mode, if doing so cannot create a cycle.
func (p *Pass) tryFoldLoad(u *graph.Node, r graph.Ref) (AddrMode, bool) {
	if r.N.Op != graph.Load || r.Res != 0 ||
		!r.N.OneUse(0) || !r.N.OnlyUser(u) ||
		!p.CanFold(r.N, u) {
		return AddrMode{}, false
	}

	return p.BasicAddress(r.N.In[1])
}

func (p *Pass) Graph() *graph.Graph { return p.g }

// Queue schedules operand nodes kept by a lowering for selection.
func (p *Pass) Queue(refs ...graph.Ref) {
	for _, r := range refs {
		if !r.Zero() {
			p.enq(r.N)
		}
	}
}

// Leaf creates a materialized operand node, already selected.
func (p *Pass) Leaf(op graph.Op, aux any, t graph.Type) graph.Ref {
	n := p.g.NewNode(op, aux, []graph.Type{t})
	p.selected.Set(int(n.ID()))

	return n.Ref(0)
}

func (p *Pass) enq(n *graph.Node) {
	if p.selected.IsSet(int(n.ID())) {
		return
	}

	p.q.Push(n)
}

func (p *Pass) dump(stage string) {
	for _, n := range p.g.Nodes {
		in := make([]graph.ID, len(n.In))
		for i, r := range n.In {
			in[i] = r.N.ID()
		}

		p.tr.Printw("node", "stage", stage, "id", n.ID(), "op", n.Op, "in", in, "aux", n.Aux)
	}
}
