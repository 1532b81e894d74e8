package graph

import (
	"fmt"

	"nikand.dev/go/heap"
	"tlog.app/go/loc"
	"tlog.app/go/tlog"
	"tlog.app/go/tlog/tlwire"
)

type (
	ID int

	Op int

	Type int

	// Ref is an operand edge: a specific result of a node.
	// A chain edge is a Ref whose result type is Chain.
	Ref struct {
		N   *Node
		Res int
	}

	// Use is the inverse of an operand edge.
	Use struct {
		N  *Node // user
		In int   // operand slot in the user
	}

	Symbol struct {
		Name string
		Off  int32
	}

	PoolEntry struct {
		ID    int
		Align int
		Off   int32
	}

	Node struct {
		Op  Op
		Aux any

		Res []Type
		In  []Ref

		id   ID
		uses []Use
	}

	Graph struct {
		Nodes []*Node

		Entry *Node // entry ordering token, insertion handle for one-time setup code
		Root  Ref   // final ordering value
	}
)

const (
	TNone Type = iota
	I8
	I16
	I32
	Chain
	Glue
)

const (
	Nop Op = iota

	Entry
	Const  // Aux is int64
	Global // Aux is *Symbol
	Pool   // Aux is *PoolEntry
	Wrapper
	Frame // Aux is int, frame slot
	Reg   // Aux is int, hardware register number

	Add
	Sub
	Mul
	And
	Or
	Xor
	Shl
	Sra
	Srl
	RotL
	RotR

	MulHiS
	MulHiU
	DivS
	DivU
	RemS
	RemU

	Trunc

	Load  // In: chain, addr; Res: value, Chain
	Store // In: chain, value, addr; Res: Chain
	Join  // In: chains; Res: Chain

	CopyTo   // In: chain, Reg, value[, glue]; Res: Chain, Glue
	CopyFrom // In: chain, Reg[, glue]; Res: value, Chain, Glue

	PICBase

	// GenericEnd is the first target-specific opcode.
	// Nodes at or above it are considered already selected.
	GenericEnd
)

func New() *Graph {
	g := &Graph{}
	g.Entry = g.NewNode(Entry, nil, []Type{Chain})
	g.Root = g.Entry.Ref(0)

	return g
}

// NewNode creates a node. Operands exist before their consumer,
// so ids are a topological order of the graph.
func (g *Graph) NewNode(op Op, aux any, res []Type, in ...Ref) *Node {
	n := &Node{
		Op:  op,
		Aux: aux,
		Res: res,
		In:  in,

		id: ID(len(g.Nodes)),
	}

	g.Nodes = append(g.Nodes, n)

	for i, r := range in {
		r.N.uses = append(r.N.uses, Use{N: n, In: i})
	}

	return n
}

func (n *Node) ID() ID { return n.id }

func (n *Node) Ref(res int) Ref { return Ref{N: n, Res: res} }

// Value is the first result of the node.
func (n *Node) Value() Ref { return Ref{N: n} }

// Uses is the live use list of the node. Callers must not modify it.
func (n *Node) Uses() []Use { return n.uses }

// NumUses counts operand edges referencing the given result.
func (n *Node) NumUses(res int) (c int) {
	for _, u := range n.uses {
		if u.N.In[u.In].Res == res {
			c++
		}
	}

	return c
}

func (n *Node) OneUse(res int) bool { return n.NumUses(res) == 1 }

func (n *Node) Unused() bool { return len(n.uses) == 0 }

// OnlyUser reports whether every use of the node belongs to u.
func (n *Node) OnlyUser(u *Node) bool {
	for _, x := range n.uses {
		if x.N != u {
			return false
		}
	}

	return len(n.uses) != 0
}

func (r Ref) Zero() bool { return r.N == nil }

func (r Ref) Type() Type {
	if r.N == nil {
		return TNone
	}

	return r.N.Res[r.Res]
}

// SetIn redirects one operand edge of n.
func (g *Graph) SetIn(n *Node, i int, r Ref) {
	n.In[i].N.unuse(Use{N: n, In: i})
	n.In[i] = r
	r.N.uses = append(r.N.uses, Use{N: n, In: i})
}

// ReplaceAllUses redirects every operand edge referencing old to new.
func (g *Graph) ReplaceAllUses(old, new Ref) {
	tlog.V("graph_replace").Printw("replace uses", "old", old.N.id, "old_res", old.Res, "new", new.N.id, "new_res", new.Res, "from", loc.Caller(1))

	for i := 0; i < len(old.N.uses); {
		u := old.N.uses[i]
		if u.N.In[u.In] != old {
			i++
			continue
		}

		u.N.In[u.In] = new
		new.N.uses = append(new.N.uses, u)

		old.N.uses[i] = old.N.uses[len(old.N.uses)-1]
		old.N.uses = old.N.uses[:len(old.N.uses)-1]
	}

	if g.Root == old {
		g.Root = new
	}
}

// Morph replaces the role of the node in place: new opcode and operands,
// same id, same results, same use edges.
func (g *Graph) Morph(n *Node, op Op, aux any, in ...Ref) *Node {
	for i, r := range n.In {
		r.N.unuse(Use{N: n, In: i})
	}

	n.Op = op
	n.Aux = aux
	n.In = in

	for i, r := range in {
		r.N.uses = append(r.N.uses, Use{N: n, In: i})
	}

	return n
}

func (n *Node) unuse(u Use) {
	for i, x := range n.uses {
		if x == u {
			n.uses[i] = n.uses[len(n.uses)-1]
			n.uses = n.uses[:len(n.uses)-1]
			return
		}
	}
}

// Renumber reassigns ids so that no node's id is smaller than any node
// it depends on. Needed after edge rewrites that move a node below one
// of its former users.
func (g *Graph) Renumber() {
	seen := make(map[*Node]bool, len(g.Nodes))
	order := make([]*Node, 0, len(g.Nodes))

	var walk func(n *Node)
	walk = func(n *Node) {
		if seen[n] {
			return
		}

		seen[n] = true

		for _, r := range n.In {
			walk(r.N)
		}

		order = append(order, n)
	}

	for _, n := range g.Nodes {
		walk(n)
	}

	for i, n := range order {
		n.id = ID(i)
	}

	g.Nodes = order
}

// RemoveDead sweeps nodes with no uses, cascading to their operands.
// The root and the entry token are kept.
func (g *Graph) RemoveDead() {
	q := heap.Heap[*Node]{Less: func(d []*Node, i, j int) bool { return d[i].id > d[j].id }}

	for _, n := range g.Nodes {
		if n.Unused() && n != g.Root.N && n != g.Entry {
			q.Push(n)
		}
	}

	dead := make([]bool, len(g.Nodes))

	for q.Len() != 0 {
		n := q.Pop()
		if dead[n.id] || !n.Unused() || n == g.Root.N || n == g.Entry {
			continue
		}

		dead[n.id] = true

		for i, r := range n.In {
			r.N.unuse(Use{N: n, In: i})

			if r.N.Unused() && !dead[r.N.id] {
				q.Push(r.N)
			}
		}

		n.In = nil
	}

	w := 0

	for _, n := range g.Nodes {
		if dead[n.id] {
			continue
		}

		g.Nodes[w] = n
		w++
	}

	g.Nodes = g.Nodes[:w]

	for i, n := range g.Nodes {
		n.id = ID(i)
	}
}

func (t Type) Bits() int {
	switch t {
	case I8:
		return 8
	case I16:
		return 16
	case I32:
		return 32
	default:
		return 0
	}
}

func (t Type) String() string {
	switch t {
	case TNone:
		return "none"
	case I8:
		return "i8"
	case I16:
		return "i16"
	case I32:
		return "i32"
	case Chain:
		return "ch"
	case Glue:
		return "glue"
	default:
		return fmt.Sprintf("type(%d)", int(t))
	}
}

func (o Op) String() string {
	if o >= GenericEnd {
		return fmt.Sprintf("target(%d)", int(o-GenericEnd))
	}

	if int(o) < len(opnames) && opnames[o] != "" {
		return opnames[o]
	}

	return fmt.Sprintf("op(%d)", int(o))
}

var opnames = [...]string{
	Nop:      "nop",
	Entry:    "entry",
	Const:    "const",
	Global:   "global",
	Pool:     "pool",
	Wrapper:  "wrapper",
	Frame:    "frame",
	Reg:      "reg",
	Add:      "add",
	Sub:      "sub",
	Mul:      "mul",
	And:      "and",
	Or:       "or",
	Xor:      "xor",
	Shl:      "shl",
	Sra:      "sra",
	Srl:      "srl",
	RotL:     "rotl",
	RotR:     "rotr",
	MulHiS:   "mulhis",
	MulHiU:   "mulhiu",
	DivS:     "divs",
	DivU:     "divu",
	RemS:     "rems",
	RemU:     "remu",
	Trunc:    "trunc",
	Load:     "load",
	Store:    "store",
	Join:     "join",
	CopyTo:   "copyto",
	CopyFrom: "copyfrom",
	PICBase:  "picbase",
}

func (n *Node) TlogAppend(b []byte) []byte {
	var e tlwire.Encoder

	b = e.AppendMap(b, 3)

	b = e.AppendKeyInt(b, "id", int(n.id))
	b = e.AppendKey(b, "op")
	b = e.AppendString(b, n.Op.String())
	b = e.AppendKeyInt(b, "in", len(n.In))

	return b
}
