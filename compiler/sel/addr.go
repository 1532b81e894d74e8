package sel

import (
	"tlog.app/go/tlog/tlwire"

	"github.com/slowlang/isel/compiler/asm/x86"
	"github.com/slowlang/isel/compiler/graph"
)

type (
	// AddrMode accumulates a base + scale*index + disp (+ symbol)
	// address while matching. It is a small value type: alternatives
	// are tried on a copy and restored by assignment, never by undo.
	AddrMode struct {
		FrameBase bool
		Frame     int

		Base  graph.Ref
		Scale int
		Index graph.Ref

		Disp int32

		Sym *graph.Symbol
		CP  *graph.PoolEntry
	}
)

// BasicAddress matches a plain memory operand, filling still-empty
// base/index slots with the hardware no-register sentinel.
func (p *Pass) BasicAddress(r graph.Ref) (am AddrMode, ok bool) {
	am = AddrMode{Scale: 1}

	if !p.matchAddr(r, &am) {
		return am, false
	}

	p.fillEmpty(&am)

	return am, true
}

// EffectiveAddress matches an address for a dedicated address
// computation instruction and accepts it only if the mode buys more
// than a plain add would.
func (p *Pass) EffectiveAddress(r graph.Ref) (am AddrMode, ok bool) {
	am = AddrMode{Scale: 1}

	if !p.matchAddr(r, &am) {
		return am, false
	}

	cost := 0

	switch {
	case am.FrameBase:
		cost += 4
	case !am.Base.Zero():
		cost++
	}

	if !am.Index.Zero() {
		cost++
	}

	switch {
	case am.Scale > 2:
		cost += 2
	case am.Scale > 1:
		// scale 2 is cheaper as an add of the register with itself
		cost++
	}

	if am.Sym != nil || am.CP != nil {
		cost += 2
	}

	if am.Disp != 0 && (!am.Base.Zero() || !am.Index.Zero()) {
		cost++
	}

	p.tr.V("lea").Printw("effective address", "cost", cost, "am", am)

	if cost <= 2 {
		return am, false
	}

	p.fillEmpty(&am)

	return am, true
}

// matchAddr folds the defining computation of r into am in place,
// greedily, with targeted backtracking for the commutative cases.
// On failure am may hold partial state, callers snapshot first.
func (p *Pass) matchAddr(r graph.Ref, am *AddrMode) bool {
	n := r.N
	avail := p.selected.IsSet(int(n.ID()))

	switch n.Op {
	case graph.Const:
		am.Disp += int32(n.Aux.(int64))
		return true

	case graph.Wrapper:
		// If the wrapped symbol is already materialized as a live
		// value and a slot is still free it is cheaper to reuse the
		// register than to duplicate the reference as displacement.
		if !avail || !am.Base.Zero() && !am.Index.Zero() {
			if am.Sym != nil || am.CP != nil {
				break
			}

			switch w := n.In[0].N; w.Op {
			case graph.Global:
				sym := w.Aux.(*graph.Symbol)
				am.Sym = sym
				am.Disp += sym.Off

				return true
			case graph.Pool:
				cp := w.Aux.(*graph.PoolEntry)
				am.CP = cp
				am.Disp += cp.Off

				return true
			}
		}

	case graph.Frame:
		if !am.FrameBase && am.Base.Zero() {
			am.FrameBase = true
			am.Frame = n.Aux.(int)

			return true
		}

	case graph.Shl:
		if avail || !am.Index.Zero() || am.Scale != 1 {
			break
		}

		c, ok := constOf(n.In[1])
		if !ok || c != 1 && c != 2 && c != 3 {
			break
		}

		am.Scale = 1 << c

		sh := n.In[0]

		// fold the constant of a single-use add(x, const) under the
		// shift into the displacement, distributing the scale
		if a, ok := addConst(sh); ok {
			am.Index = sh.N.In[0]
			am.Disp += int32(a << c)
		} else {
			am.Index = sh
		}

		return true

	case graph.Mul:
		// x*{3,5,9} is base + index*{2,4,8} with base = index = x
		if avail || am.FrameBase || !am.Base.Zero() || !am.Index.Zero() {
			break
		}

		c, ok := constOf(n.In[1])
		if !ok || c != 3 && c != 5 && c != 9 {
			break
		}

		am.Scale = int(c) - 1

		mul := n.In[0]
		reg := mul

		if a, ok := addConst(mul); ok {
			reg = mul.N.In[0]
			am.Disp += int32(a * c)
		}

		am.Base = reg
		am.Index = reg

		return true

	case graph.Add:
		if avail {
			break
		}

		backup := *am

		if p.matchAddr(n.In[0], am) && p.matchAddr(n.In[1], am) {
			return true
		}

		*am = backup

		if p.matchAddr(n.In[1], am) && p.matchAddr(n.In[0], am) {
			return true
		}

		*am = backup

	case graph.Or:
		// (x << c1) | c2 acts as add when c2 < 1 << c1
		if avail {
			break
		}

		backup := *am

		if c, ok := constOf(n.In[0]); ok && p.matchAddr(n.In[1], am) {
			if am.Sym == nil && am.CP == nil && am.Disp == 0 && c >= 0 && c < int64(am.Scale) {
				am.Disp = int32(c)
				return true
			}
		}

		*am = backup

		if c, ok := constOf(n.In[1]); ok && p.matchAddr(n.In[0], am) {
			if am.Sym == nil && am.CP == nil && am.Disp == 0 && c >= 0 && c < int64(am.Scale) {
				am.Disp = int32(c)
				return true
			}
		}

		*am = backup
	}

	// opaque leaf
	if am.FrameBase || !am.Base.Zero() {
		if am.Index.Zero() {
			am.Index = r
			am.Scale = 1

			return true
		}

		// no third independent term representable
		return false
	}

	am.Base = r

	return true
}

// AddrOperands makes the four operand refs a memory-form instruction
// takes from a matched mode.
func (p *Pass) AddrOperands(am AddrMode) (base, scale, index, disp graph.Ref) {
	base = am.Base
	if am.FrameBase {
		base = p.Leaf(x86.TFrame, am.Frame, graph.I32)
	}

	scale = p.Leaf(x86.Imm, int64(am.Scale), graph.I8)
	index = am.Index

	switch {
	case am.Sym != nil:
		disp = p.Leaf(x86.TGlobal, &graph.Symbol{Name: am.Sym.Name, Off: am.Disp}, graph.I32)
	case am.CP != nil:
		disp = p.Leaf(x86.TPool, &graph.PoolEntry{ID: am.CP.ID, Align: am.CP.Align, Off: am.Disp}, graph.I32)
	default:
		disp = p.Leaf(x86.Imm, int64(am.Disp), graph.I32)
	}

	return base, scale, index, disp
}

// InlineAsmMemoryOperand resolves one inline-assembly operand
// constraint into address operands.
func (p *Pass) InlineAsmMemoryOperand(r graph.Ref, constraint byte) ([]graph.Ref, bool) {
	switch constraint {
	case 'm':
	default: // 'o', 'v' and friends are not supported
		return nil, false
	}

	am, ok := p.BasicAddress(r)
	if !ok {
		return nil, false
	}

	base, scale, index, disp := p.AddrOperands(am)
	p.Queue(base, scale, index, disp)

	return []graph.Ref{base, scale, index, disp}, true
}

func (p *Pass) fillEmpty(am *AddrMode) {
	if !am.FrameBase && am.Base.Zero() {
		am.Base = p.noReg()
	}

	if am.Index.Zero() {
		am.Index = p.noReg()
	}
}

func (p *Pass) noReg() graph.Ref {
	if p.noreg == nil {
		p.noreg = p.g.NewNode(graph.Reg, int(x86.NoReg), []graph.Type{graph.I32})
		p.selected.Set(int(p.noreg.ID()))
	}

	return p.noreg.Ref(0)
}

func constOf(r graph.Ref) (int64, bool) {
	if r.N.Op != graph.Const {
		return 0, false
	}

	return r.N.Aux.(int64), true
}

// addConst matches a single-use add(x, const) value.
func addConst(r graph.Ref) (int64, bool) {
	if r.N.Op != graph.Add || !r.N.OneUse(r.Res) {
		return 0, false
	}

	return constOf(r.N.In[1])
}

func (am AddrMode) TlogAppend(b []byte) []byte {
	var e tlwire.Encoder

	b = e.AppendMap(b, -1)

	if am.FrameBase {
		b = e.AppendKeyInt(b, "frame", am.Frame)
	} else if !am.Base.Zero() {
		b = e.AppendKeyInt(b, "base", int(am.Base.N.ID()))
	}

	if !am.Index.Zero() {
		b = e.AppendKeyInt(b, "index", int(am.Index.N.ID()))
		b = e.AppendKeyInt(b, "scale", am.Scale)
	}

	b = e.AppendKeyInt(b, "disp", int(am.Disp))

	if am.Sym != nil {
		b = e.AppendKey(b, "sym")
		b = e.AppendString(b, am.Sym.Name)
	}

	if am.CP != nil {
		b = e.AppendKeyInt(b, "pool", am.CP.ID)
	}

	b = e.AppendBreak(b)

	return b
}
