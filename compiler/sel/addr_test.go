package sel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slowlang/isel/compiler/asm/x86"
	"github.com/slowlang/isel/compiler/graph"
)

type addrEnv struct {
	regs   map[*graph.Node]int64
	frames map[int]int64
	syms   map[string]int64
}

func (e addrEnv) eval(r graph.Ref) int64 {
	n := r.N

	switch n.Op {
	case graph.Const:
		return n.Aux.(int64)
	case graph.Add:
		return e.eval(n.In[0]) + e.eval(n.In[1])
	case graph.Mul:
		return e.eval(n.In[0]) * e.eval(n.In[1])
	case graph.Shl:
		return e.eval(n.In[0]) << uint(e.eval(n.In[1]))
	case graph.Or:
		return e.eval(n.In[0]) | e.eval(n.In[1])
	case graph.Wrapper:
		return e.eval(n.In[0])
	case graph.Global:
		sym := n.Aux.(*graph.Symbol)
		return e.syms[sym.Name] + int64(sym.Off)
	case graph.Frame:
		return e.frames[n.Aux.(int)]
	default:
		return e.regs[n]
	}
}

func (e addrEnv) evalMode(am AddrMode) int64 {
	v := int64(am.Disp)

	switch {
	case am.FrameBase:
		v += e.frames[am.Frame]
	case !am.Base.Zero() && !isNoReg(am.Base):
		v += e.eval(am.Base)
	}

	if !am.Index.Zero() && !isNoReg(am.Index) {
		v += int64(am.Scale) * e.eval(am.Index)
	}

	if am.Sym != nil {
		v += e.syms[am.Sym.Name]
	}

	return v
}

func isNoReg(r graph.Ref) bool {
	return r.N.Op == graph.Reg && r.N.Aux.(int) == int(x86.NoReg)
}

func newTestPass(g *graph.Graph) *Pass {
	return New(Baseline()).NewPass(g)
}

func TestBasicAddressRoundTrip(t *testing.T) {
	i32 := []graph.Type{graph.I32}

	for _, tc := range []struct {
		name  string
		build func(g *graph.Graph, x, y *graph.Node) graph.Ref
	}{
		{"const", func(g *graph.Graph, x, y *graph.Node) graph.Ref {
			return g.NewNode(graph.Const, int64(42), i32).Ref(0)
		}},
		{"reg", func(g *graph.Graph, x, y *graph.Node) graph.Ref {
			return x.Ref(0)
		}},
		{"reg plus const", func(g *graph.Graph, x, y *graph.Node) graph.Ref {
			c := g.NewNode(graph.Const, int64(12), i32)
			return g.NewNode(graph.Add, nil, i32, x.Ref(0), c.Ref(0)).Ref(0)
		}},
		{"scaled index", func(g *graph.Graph, x, y *graph.Node) graph.Ref {
			c := g.NewNode(graph.Const, int64(2), i32)
			sh := g.NewNode(graph.Shl, nil, i32, y.Ref(0), c.Ref(0))
			return g.NewNode(graph.Add, nil, i32, x.Ref(0), sh.Ref(0)).Ref(0)
		}},
		{"shift distributes over add", func(g *graph.Graph, x, y *graph.Node) graph.Ref {
			c3 := g.NewNode(graph.Const, int64(3), i32)
			a := g.NewNode(graph.Add, nil, i32, y.Ref(0), c3.Ref(0))
			c2 := g.NewNode(graph.Const, int64(2), i32)
			return g.NewNode(graph.Shl, nil, i32, a.Ref(0), c2.Ref(0)).Ref(0)
		}},
		{"mul 9", func(g *graph.Graph, x, y *graph.Node) graph.Ref {
			c := g.NewNode(graph.Const, int64(9), i32)
			return g.NewNode(graph.Mul, nil, i32, x.Ref(0), c.Ref(0)).Ref(0)
		}},
		{"mul 5 distributes over add", func(g *graph.Graph, x, y *graph.Node) graph.Ref {
			c7 := g.NewNode(graph.Const, int64(7), i32)
			a := g.NewNode(graph.Add, nil, i32, x.Ref(0), c7.Ref(0))
			c5 := g.NewNode(graph.Const, int64(5), i32)
			return g.NewNode(graph.Mul, nil, i32, a.Ref(0), c5.Ref(0)).Ref(0)
		}},
		{"frame plus const", func(g *graph.Graph, x, y *graph.Node) graph.Ref {
			fr := g.NewNode(graph.Frame, 1, i32)
			c := g.NewNode(graph.Const, int64(16), i32)
			return g.NewNode(graph.Add, nil, i32, fr.Ref(0), c.Ref(0)).Ref(0)
		}},
		{"symbol plus reg", func(g *graph.Graph, x, y *graph.Node) graph.Ref {
			sym := g.NewNode(graph.Global, &graph.Symbol{Name: "tab", Off: 4}, i32)
			w := g.NewNode(graph.Wrapper, nil, i32, sym.Ref(0))
			return g.NewNode(graph.Add, nil, i32, w.Ref(0), x.Ref(0)).Ref(0)
		}},
		{"or as add", func(g *graph.Graph, x, y *graph.Node) graph.Ref {
			c3 := g.NewNode(graph.Const, int64(3), i32)
			sh := g.NewNode(graph.Shl, nil, i32, x.Ref(0), c3.Ref(0))
			c5 := g.NewNode(graph.Const, int64(5), i32)
			return g.NewNode(graph.Or, nil, i32, sh.Ref(0), c5.Ref(0)).Ref(0)
		}},
		{"two regs and const", func(g *graph.Graph, x, y *graph.Node) graph.Ref {
			a := g.NewNode(graph.Add, nil, i32, x.Ref(0), y.Ref(0))
			c := g.NewNode(graph.Const, int64(-8), i32)
			return g.NewNode(graph.Add, nil, i32, a.Ref(0), c.Ref(0)).Ref(0)
		}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			g := graph.New()

			x := g.NewNode(graph.Reg, int(x86.ECX), i32)
			y := g.NewNode(graph.Reg, int(x86.EDX), i32)

			r := tc.build(g, x, y)

			p := newTestPass(g)

			am, ok := p.BasicAddress(r)
			require.True(t, ok, "address not matched")

			env := addrEnv{
				regs:   map[*graph.Node]int64{x: 1000, y: 36},
				frames: map[int]int64{1: 0x8000},
				syms:   map[string]int64{"tab": 0x4000},
			}

			assert.Equal(t, env.eval(r), env.evalMode(am), "mode %+v does not evaluate to the expression", am)
		})
	}
}

func TestBasicAddressFillsEmptySlots(t *testing.T) {
	g := graph.New()
	i32 := []graph.Type{graph.I32}

	x := g.NewNode(graph.Reg, int(x86.ECX), i32)

	p := newTestPass(g)

	am, ok := p.BasicAddress(x.Ref(0))
	require.True(t, ok)

	assert.Equal(t, x.Ref(0), am.Base)
	assert.True(t, isNoReg(am.Index), "empty index must be the no-register sentinel")
}

func TestEffectiveAddressThreshold(t *testing.T) {
	g := graph.New()
	i32 := []graph.Type{graph.I32}

	x := g.NewNode(graph.Reg, int(x86.ECX), i32)
	y := g.NewNode(graph.Reg, int(x86.EDX), i32)

	p := newTestPass(g)

	// a bare register buys nothing
	_, ok := p.EffectiveAddress(x.Ref(0))
	assert.False(t, ok, "plain register accepted as effective address")

	// neither does reg + const, a plain add does the same
	c := g.NewNode(graph.Const, int64(12), i32)
	a := g.NewNode(graph.Add, nil, i32, x.Ref(0), c.Ref(0))

	_, ok = p.EffectiveAddress(a.Ref(0))
	assert.False(t, ok, "reg+const accepted as effective address")

	// base + scaled index is worth a dedicated instruction
	c2 := g.NewNode(graph.Const, int64(2), i32)
	sh := g.NewNode(graph.Shl, nil, i32, y.Ref(0), c2.Ref(0))
	lea := g.NewNode(graph.Add, nil, i32, x.Ref(0), sh.Ref(0))

	am, ok := p.EffectiveAddress(lea.Ref(0))
	require.True(t, ok, "base + scaled index rejected")
	assert.Equal(t, 4, am.Scale)

	// the same forms still match as plain memory operands
	_, ok = p.BasicAddress(x.Ref(0))
	assert.True(t, ok)
	_, ok = p.BasicAddress(a.Ref(0))
	assert.True(t, ok)
}

func TestAddMatchCommutes(t *testing.T) {
	i32 := []graph.Type{graph.I32}

	g := graph.New()

	x := g.NewNode(graph.Reg, int(x86.ECX), i32)
	y := g.NewNode(graph.Reg, int(x86.EDX), i32)
	c2 := g.NewNode(graph.Const, int64(2), i32)
	sh := g.NewNode(graph.Shl, nil, i32, y.Ref(0), c2.Ref(0))

	lr := g.NewNode(graph.Add, nil, i32, x.Ref(0), sh.Ref(0))
	rl := g.NewNode(graph.Add, nil, i32, sh.Ref(0), x.Ref(0))

	p := newTestPass(g)

	am0, ok := p.BasicAddress(lr.Ref(0))
	require.True(t, ok)

	am1, ok := p.BasicAddress(rl.Ref(0))
	require.True(t, ok)

	assert.Equal(t, am0.Base, am1.Base)
	assert.Equal(t, am0.Index, am1.Index)
	assert.Equal(t, am0.Scale, am1.Scale)
	assert.Equal(t, am0.Disp, am1.Disp)
}

func TestOrAsAddRequiresProvenBits(t *testing.T) {
	i32 := []graph.Type{graph.I32}

	g := graph.New()

	x := g.NewNode(graph.Reg, int(x86.ECX), i32)
	c3 := g.NewNode(graph.Const, int64(3), i32)
	sh := g.NewNode(graph.Shl, nil, i32, x.Ref(0), c3.Ref(0))

	// constant not covered by the scale, or is not an add here
	c9 := g.NewNode(graph.Const, int64(9), i32)
	or := g.NewNode(graph.Or, nil, i32, sh.Ref(0), c9.Ref(0))

	p := newTestPass(g)

	am, ok := p.BasicAddress(or.Ref(0))
	require.True(t, ok, "must still match with the or node itself as base")

	assert.Equal(t, or.Ref(0), am.Base, "the or must be an opaque leaf, not folded")
	assert.EqualValues(t, 0, am.Disp)
}

func TestInlineAsmMemoryOperand(t *testing.T) {
	i32 := []graph.Type{graph.I32}

	g := graph.New()

	x := g.NewNode(graph.Reg, int(x86.ECX), i32)
	c := g.NewNode(graph.Const, int64(8), i32)
	a := g.NewNode(graph.Add, nil, i32, x.Ref(0), c.Ref(0))

	p := newTestPass(g)

	ops, ok := p.InlineAsmMemoryOperand(a.Ref(0), 'm')
	require.True(t, ok)
	require.Len(t, ops, 4)

	assert.Equal(t, x.Ref(0), ops[0])
	assert.EqualValues(t, int64(1), ops[1].N.Aux)
	assert.True(t, isNoReg(ops[2]))
	assert.EqualValues(t, int64(8), ops[3].N.Aux)

	_, ok = p.InlineAsmMemoryOperand(a.Ref(0), 'o')
	assert.False(t, ok, "only the plain memory constraint is supported")
}
