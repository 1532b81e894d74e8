package sel

import (
	"github.com/slowlang/isel/compiler/asm/x86"
	"github.com/slowlang/isel/compiler/graph"
)

type (
	// Table is the decision-table matcher covering standard opcodes:
	// priority-ordered rules, first match wins, every rule re-validates
	// its operands.
	Table interface {
		Try(p *Pass, n *graph.Node) bool
	}

	Rule struct {
		Op    graph.Op
		Match func(p *Pass, n *graph.Node) bool
	}

	Rules []Rule

	binOps struct {
		rr map[graph.Type]graph.Op
		ri map[graph.Type]graph.Op

		// 32-bit memory forms
		rm graph.Op
		mr graph.Op
		mi graph.Op

		comm bool
	}
)

func (t Rules) Try(p *Pass, n *graph.Node) bool {
	for _, r := range t {
		if r.Op != n.Op {
			continue
		}

		if r.Match(p, n) {
			return true
		}
	}

	return false
}

var binTab = map[graph.Op]binOps{
	graph.Add: {
		rr:   map[graph.Type]graph.Op{graph.I8: x86.ADD8rr, graph.I16: x86.ADD16rr, graph.I32: x86.ADD32rr},
		ri:   map[graph.Type]graph.Op{graph.I8: x86.ADD8ri, graph.I16: x86.ADD16ri, graph.I32: x86.ADD32ri},
		rm:   x86.ADD32rm,
		mr:   x86.ADD32mr,
		mi:   x86.ADD32mi,
		comm: true,
	},
	graph.Sub: {
		rr: map[graph.Type]graph.Op{graph.I8: x86.SUB8rr, graph.I16: x86.SUB16rr, graph.I32: x86.SUB32rr},
		ri: map[graph.Type]graph.Op{graph.I8: x86.SUB8ri, graph.I16: x86.SUB16ri, graph.I32: x86.SUB32ri},
		rm: x86.SUB32rm,
		mr: x86.SUB32mr,
		mi: x86.SUB32mi,
	},
	graph.And: {
		rr:   map[graph.Type]graph.Op{graph.I8: x86.AND8rr, graph.I16: x86.AND16rr, graph.I32: x86.AND32rr},
		ri:   map[graph.Type]graph.Op{graph.I8: x86.AND8ri, graph.I16: x86.AND16ri, graph.I32: x86.AND32ri},
		rm:   x86.AND32rm,
		mr:   x86.AND32mr,
		mi:   x86.AND32mi,
		comm: true,
	},
	graph.Or: {
		rr:   map[graph.Type]graph.Op{graph.I8: x86.OR8rr, graph.I16: x86.OR16rr, graph.I32: x86.OR32rr},
		ri:   map[graph.Type]graph.Op{graph.I8: x86.OR8ri, graph.I16: x86.OR16ri, graph.I32: x86.OR32ri},
		rm:   x86.OR32rm,
		mr:   x86.OR32mr,
		mi:   x86.OR32mi,
		comm: true,
	},
	graph.Xor: {
		rr:   map[graph.Type]graph.Op{graph.I8: x86.XOR8rr, graph.I16: x86.XOR16rr, graph.I32: x86.XOR32rr},
		ri:   map[graph.Type]graph.Op{graph.I8: x86.XOR8ri, graph.I16: x86.XOR16ri, graph.I32: x86.XOR32ri},
		rm:   x86.XOR32rm,
		mr:   x86.XOR32mr,
		mi:   x86.XOR32mi,
		comm: true,
	},
	graph.Shl: {
		ri: map[graph.Type]graph.Op{graph.I8: x86.SHL8ri, graph.I16: x86.SHL16ri, graph.I32: x86.SHL32ri},
		mi: x86.SHL32mi,
	},
	graph.Sra: {
		ri: map[graph.Type]graph.Op{graph.I8: x86.SAR8ri, graph.I16: x86.SAR16ri, graph.I32: x86.SAR32ri},
		mi: x86.SAR32mi,
	},
	graph.Srl: {
		ri: map[graph.Type]graph.Op{graph.I8: x86.SHR8ri, graph.I16: x86.SHR16ri, graph.I32: x86.SHR32ri},
		mi: x86.SHR32mi,
	},
}

// Baseline is the rule table for the standard arithmetic, logical and
// memory opcodes, ordered by priority.
func Baseline() Rules {
	return Rules{
		{Op: graph.Entry, Match: matchDone},
		{Op: graph.Reg, Match: matchDone},
		{Op: graph.Join, Match: matchOperands},
		{Op: graph.CopyTo, Match: matchOperands},
		{Op: graph.CopyFrom, Match: matchOperands},

		{Op: graph.Const, Match: matchConst},
		{Op: graph.Wrapper, Match: matchWrapper},
		{Op: graph.Frame, Match: matchFrame},

		{Op: graph.Load, Match: matchLoad},

		{Op: graph.Store, Match: matchStoreFused},
		{Op: graph.Store, Match: matchStoreImm},
		{Op: graph.Store, Match: matchStore},

		{Op: graph.Add, Match: matchLEA},
		{Op: graph.Add, Match: matchBin(graph.Add)},
		{Op: graph.Sub, Match: matchBin(graph.Sub)},
		{Op: graph.And, Match: matchBin(graph.And)},
		{Op: graph.Or, Match: matchBin(graph.Or)},
		{Op: graph.Xor, Match: matchBin(graph.Xor)},
		{Op: graph.Shl, Match: matchBin(graph.Shl)},
		{Op: graph.Sra, Match: matchBin(graph.Sra)},
		{Op: graph.Srl, Match: matchBin(graph.Srl)},
	}
}

func matchDone(p *Pass, n *graph.Node) bool { return true }

func matchOperands(p *Pass, n *graph.Node) bool {
	p.Queue(n.In...)
	return true
}

func matchConst(p *Pass, n *graph.Node) bool {
	p.g.Morph(n, x86.MovImm(n.Res[0]), n.Aux)
	return true
}

func matchWrapper(p *Pass, n *graph.Node) bool {
	var leaf graph.Ref

	switch w := n.In[0].N; w.Op {
	case graph.Global:
		sym := w.Aux.(*graph.Symbol)
		leaf = p.Leaf(x86.TGlobal, &graph.Symbol{Name: sym.Name, Off: sym.Off}, graph.I32)
	case graph.Pool:
		cp := w.Aux.(*graph.PoolEntry)
		leaf = p.Leaf(x86.TPool, &graph.PoolEntry{ID: cp.ID, Align: cp.Align, Off: cp.Off}, graph.I32)
	default:
		return false
	}

	p.g.Morph(n, x86.MOV32ri, nil, leaf)

	return true
}

func matchFrame(p *Pass, n *graph.Node) bool {
	base := p.Leaf(x86.TFrame, n.Aux.(int), graph.I32)
	scale := p.Leaf(x86.Imm, int64(1), graph.I8)
	disp := p.Leaf(x86.Imm, int64(0), graph.I32)

	p.g.Morph(n, x86.LEA32r, nil, base, scale, p.noReg(), disp)

	return true
}

func matchLoad(p *Pass, n *graph.Node) bool {
	vt := n.Res[0]
	if vt != graph.I8 && vt != graph.I16 && vt != graph.I32 {
		return false
	}

	am, ok := p.BasicAddress(n.In[1])
	if !ok {
		return false
	}

	chain := n.In[0]
	base, scale, index, disp := p.AddrOperands(am)

	p.g.Morph(n, x86.MovLoad(vt), nil, base, scale, index, disp, chain)
	p.Queue(base, index, chain)

	return true
}

// matchStoreFused selects one fused read-modify-write instruction for
// store(op(load addr, x), addr) chained directly through the load.
func matchStoreFused(p *Pass, n *graph.Node) bool {
	v := n.In[1]
	addr := n.In[2]

	if v.Type() != graph.I32 || !v.N.OneUse(v.Res) {
		return false
	}

	ops, ok := binTab[v.N.Op]
	if !ok || ops.mr == 0 && ops.mi == 0 {
		return false
	}

	load := v.N.In[0]
	src := v.N.In[1]

	if load.N.Op != graph.Load {
		if !ops.comm {
			return false
		}

		load, src = src, load
	}

	l := load.N

	if l.Op != graph.Load || load.Res != 0 ||
		n.In[0] != l.Ref(1) ||
		l.In[1] != addr ||
		l.Res[0] != v.Type() ||
		!l.OneUse(0) || !l.OneUse(1) {
		return false
	}

	if !p.CanFold(l, v.N) || !p.CanFold(v.N, n) {
		return false
	}

	opc := ops.mr
	c, isConst := constOf(src)

	switch {
	case isConst && ops.mi != 0:
		opc = ops.mi
		src = p.Leaf(x86.Imm, c, graph.I32)
	case opc == 0 || src.N.Op == graph.Const:
		// shift-by-register forms are not modeled
		return false
	}

	am, ok := p.BasicAddress(addr)
	if !ok {
		return false
	}

	base, scale, index, disp := p.AddrOperands(am)
	chain := l.In[0]

	p.g.Morph(n, opc, nil, base, scale, index, disp, src, chain)
	p.Queue(base, index, src, chain)

	return true
}

func matchStoreImm(p *Pass, n *graph.Node) bool {
	vt := n.In[1].Type()
	if vt != graph.I8 && vt != graph.I16 && vt != graph.I32 {
		return false
	}

	c, ok := constOf(n.In[1])
	if !ok {
		return false
	}

	am, ok := p.BasicAddress(n.In[2])
	if !ok {
		return false
	}

	base, scale, index, disp := p.AddrOperands(am)
	imm := p.Leaf(x86.Imm, c, vt)
	chain := n.In[0]

	p.g.Morph(n, x86.MovStoreImm(vt), nil, base, scale, index, disp, imm, chain)
	p.Queue(base, index, chain)

	return true
}

func matchStore(p *Pass, n *graph.Node) bool {
	vt := n.In[1].Type()
	if vt != graph.I8 && vt != graph.I16 && vt != graph.I32 {
		return false
	}

	am, ok := p.BasicAddress(n.In[2])
	if !ok {
		return false
	}

	base, scale, index, disp := p.AddrOperands(am)
	v := n.In[1]
	chain := n.In[0]

	p.g.Morph(n, x86.MovStore(vt), nil, base, scale, index, disp, v, chain)
	p.Queue(base, index, v, chain)

	return true
}

// matchLEA emits a dedicated address computation instruction when the
// addressing mode is worth more than a plain add.
func matchLEA(p *Pass, n *graph.Node) bool {
	if n.Res[0] != graph.I32 {
		return false
	}

	am, ok := p.EffectiveAddress(n.Value())
	if !ok {
		return false
	}

	base, scale, index, disp := p.AddrOperands(am)

	p.g.Morph(n, x86.LEA32r, nil, base, scale, index, disp)
	p.Queue(base, index)

	return true
}

func matchBin(gop graph.Op) func(p *Pass, n *graph.Node) bool {
	ops := binTab[gop]

	return func(p *Pass, n *graph.Node) bool {
		vt := n.Res[0]
		l, r := n.In[0], n.In[1]

		if opc, ok := ops.ri[vt]; ok {
			if c, isc := constOf(r); isc {
				p.Queue(l)
				p.g.Morph(n, opc, nil, l, p.Leaf(x86.Imm, c, vt))

				return true
			}

			if c, isc := constOf(l); isc && ops.comm {
				p.Queue(r)
				p.g.Morph(n, opc, nil, r, p.Leaf(x86.Imm, c, vt))

				return true
			}
		}

		if ops.rm != 0 && vt == graph.I32 {
			if am, ok := p.tryFoldLoad(n, r); ok {
				return foldBinLoad(p, n, ops.rm, l, r, am)
			}

			if ops.comm {
				if am, ok := p.tryFoldLoad(n, l); ok {
					return foldBinLoad(p, n, ops.rm, r, l, am)
				}
			}
		}

		opc, ok := ops.rr[vt]
		if !ok {
			return false
		}

		p.Queue(l, r)
		p.g.Morph(n, opc, nil, l, r)

		return true
	}
}

// foldBinLoad replaces n with the memory form of the instruction,
// embedding the load mem. The replacement gains an ordering result the
// load's ordering uses are redirected to.
func foldBinLoad(p *Pass, n *graph.Node, opc graph.Op, val, mem graph.Ref, am AddrMode) bool {
	base, scale, index, disp := p.AddrOperands(am)
	chain := mem.N.In[0]

	nn := p.g.NewNode(opc, nil, []graph.Type{n.Res[0], graph.Chain}, val, base, scale, index, disp, chain)

	p.g.ReplaceAllUses(n.Value(), nn.Ref(0))
	p.g.ReplaceAllUses(mem.N.Ref(1), nn.Ref(1))

	p.Queue(val, base, index, chain)

	return true
}
