package main

import (
	"context"
	"os"

	"nikand.dev/go/cli"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/isel/compiler/asm/x86"
	"github.com/slowlang/isel/compiler/graph"
	"github.com/slowlang/isel/compiler/sel"
)

func main() {
	demoCmd := &cli.Command{
		Name:        "demo",
		Description: "select instructions for a built-in demo graph and dump the result",
		Action:      demoAct,
		Args:        cli.Args{},
	}

	app := &cli.Command{
		Name:        "isel",
		Description: "isel lowers dependency graphs into x86 instruction nodes",
		Commands: []*cli.Command{
			demoCmd,
		},
	}

	cli.RunAndExit(app, os.Args, os.Environ())
}

func demoAct(c *cli.Command) (err error) {
	ctx := context.Background()
	ctx = tlog.ContextWithSpan(ctx, tlog.Root())

	s := sel.New(sel.Baseline())

	for _, a := range c.Args {
		if a == "fast" {
			s.Fast = true
		}
	}

	g := demoGraph()

	err = s.SelectFunc(ctx, g)
	if err != nil {
		return errors.Wrap(err, "select func")
	}

	for _, n := range g.Nodes {
		in := make([]graph.ID, len(n.In))
		for i, r := range n.In {
			in[i] = r.N.ID()
		}

		tlog.Printw("node", "id", n.ID(), "op", n.Op, "in", in, "aux", n.Aux)
	}

	return nil
}

// demoGraph is res[fp0] = mulhi_u(table[4*arg + 8], arg)
// for an argument passed in esi.
func demoGraph() *graph.Graph {
	g := graph.New()
	i32 := []graph.Type{graph.I32}

	esi := g.NewNode(graph.Reg, int(x86.ESI), i32)
	arg := g.NewNode(graph.CopyFrom, nil, []graph.Type{graph.I32, graph.Chain, graph.Glue}, g.Entry.Ref(0), esi.Ref(0))

	sym := g.NewNode(graph.Global, &graph.Symbol{Name: "table", Off: 8}, i32)
	wrap := g.NewNode(graph.Wrapper, nil, i32, sym.Ref(0))

	two := g.NewNode(graph.Const, int64(2), i32)
	sh := g.NewNode(graph.Shl, nil, i32, arg.Ref(0), two.Ref(0))
	addr := g.NewNode(graph.Add, nil, i32, wrap.Ref(0), sh.Ref(0))

	load := g.NewNode(graph.Load, nil, []graph.Type{graph.I32, graph.Chain}, arg.Ref(1), addr.Ref(0))

	mh := g.NewNode(graph.MulHiU, nil, i32, load.Ref(0), arg.Ref(0))

	fr := g.NewNode(graph.Frame, 0, i32)
	st := g.NewNode(graph.Store, nil, []graph.Type{graph.Chain}, load.Ref(1), mh.Ref(0), fr.Ref(0))

	g.Root = st.Ref(0)

	return g
}
