package x86

import (
	"fmt"

	"github.com/slowlang/isel/compiler/graph"
)

type (
	Reg int
)

// NoReg is the hardware "no register" sentinel used in addressing modes.
const (
	NoReg Reg = iota

	AL
	CL
	DL
	BL
	AH
	CH
	DH
	BH

	AX
	CX
	DX
	BX
	SP
	BP
	SI
	DI

	EAX
	ECX
	EDX
	EBX
	ESP
	EBP
	ESI
	EDI
)

// Target opcodes. Nodes carrying them are outside the generic namespace
// and are never dispatched again by the selector.
const (
	// materialized operand leaves
	Imm graph.Op = graph.GenericEnd + iota // Aux is int64
	TGlobal                                // Aux is *graph.Symbol
	TPool                                  // Aux is *graph.PoolEntry
	TFrame                                 // Aux is int

	MOV8ri
	MOV16ri
	MOV32ri

	MOV8rr
	MOV16rr
	MOV32rr

	MOV8rm
	MOV16rm
	MOV32rm

	MOV8mr
	MOV16mr
	MOV32mr

	MOV8mi
	MOV16mi
	MOV32mi

	LEA32r

	ADD8rr
	ADD16rr
	ADD32rr
	ADD8ri
	ADD16ri
	ADD32ri
	ADD32rm
	ADD32mr
	ADD32mi

	SUB8rr
	SUB16rr
	SUB32rr
	SUB8ri
	SUB16ri
	SUB32ri
	SUB32rm
	SUB32mr
	SUB32mi

	AND8rr
	AND16rr
	AND32rr
	AND8ri
	AND16ri
	AND32ri
	AND32rm
	AND32mr
	AND32mi

	OR8rr
	OR16rr
	OR32rr
	OR8ri
	OR16ri
	OR32ri
	OR32rm
	OR32mr
	OR32mi

	XOR8rr
	XOR16rr
	XOR32rr
	XOR8ri
	XOR16ri
	XOR32ri
	XOR32rm
	XOR32mr
	XOR32mi

	SHL8ri
	SHL16ri
	SHL32ri
	SHL32mi
	SAR8ri
	SAR16ri
	SAR32ri
	SAR32mi
	SHR8ri
	SHR16ri
	SHR32ri
	SHR32mi

	MUL8r
	MUL16r
	MUL32r
	MUL8m
	MUL16m
	MUL32m

	IMUL8r
	IMUL16r
	IMUL32r
	IMUL8m
	IMUL16m
	IMUL32m

	DIV8r
	DIV16r
	DIV32r
	DIV8m
	DIV16m
	DIV32m

	IDIV8r
	IDIV16r
	IDIV32r
	IDIV8m
	IDIV16m
	IDIV32m

	CBW
	CWD
	CDQ

	MOV8r0
	MOV16r0
	MOV32r0

	MOV16to16_
	MOV32to32_
	TRUNC_GR16_GR8
	TRUNC_GR32_GR8

	MovePCtoStack
	POP32r
)

// LoHi is the fixed register pair wide multiply and divide are
// hardwired to for the given width.
func LoHi(t graph.Type) (lo, hi Reg) {
	switch t {
	case graph.I8:
		return AL, AH
	case graph.I16:
		return AX, DX
	case graph.I32:
		return EAX, EDX
	default:
		panic(t)
	}
}

func MulOp(signed bool, t graph.Type) (r, m graph.Op) {
	if signed {
		switch t {
		case graph.I8:
			return IMUL8r, IMUL8m
		case graph.I16:
			return IMUL16r, IMUL16m
		case graph.I32:
			return IMUL32r, IMUL32m
		}
	} else {
		switch t {
		case graph.I8:
			return MUL8r, MUL8m
		case graph.I16:
			return MUL16r, MUL16m
		case graph.I32:
			return MUL32r, MUL32m
		}
	}

	panic(t)
}

func DivOp(signed bool, t graph.Type) (r, m graph.Op) {
	if signed {
		switch t {
		case graph.I8:
			return IDIV8r, IDIV8m
		case graph.I16:
			return IDIV16r, IDIV16m
		case graph.I32:
			return IDIV32r, IDIV32m
		}
	} else {
		switch t {
		case graph.I8:
			return DIV8r, DIV8m
		case graph.I16:
			return DIV16r, DIV16m
		case graph.I32:
			return DIV32r, DIV32m
		}
	}

	panic(t)
}

// SExtOp sign-extends the fixed low register into the fixed high one.
func SExtOp(t graph.Type) graph.Op {
	switch t {
	case graph.I8:
		return CBW
	case graph.I16:
		return CWD
	case graph.I32:
		return CDQ
	default:
		panic(t)
	}
}

// ClrOp zero-fills a register of the given width.
func ClrOp(t graph.Type) graph.Op {
	switch t {
	case graph.I8:
		return MOV8r0
	case graph.I16:
		return MOV16r0
	case graph.I32:
		return MOV32r0
	default:
		panic(t)
	}
}

func MovImm(t graph.Type) graph.Op {
	switch t {
	case graph.I8:
		return MOV8ri
	case graph.I16:
		return MOV16ri
	case graph.I32:
		return MOV32ri
	default:
		panic(t)
	}
}

func MovLoad(t graph.Type) graph.Op {
	switch t {
	case graph.I8:
		return MOV8rm
	case graph.I16:
		return MOV16rm
	case graph.I32:
		return MOV32rm
	default:
		panic(t)
	}
}

func MovStore(t graph.Type) graph.Op {
	switch t {
	case graph.I8:
		return MOV8mr
	case graph.I16:
		return MOV16mr
	case graph.I32:
		return MOV32mr
	default:
		panic(t)
	}
}

func MovStoreImm(t graph.Type) graph.Op {
	switch t {
	case graph.I8:
		return MOV8mi
	case graph.I16:
		return MOV16mi
	case graph.I32:
		return MOV32mi
	default:
		panic(t)
	}
}

func (r Reg) String() string {
	if int(r) < len(regnames) && regnames[r] != "" {
		return regnames[r]
	}

	return fmt.Sprintf("reg(%d)", int(r))
}

var regnames = [...]string{
	NoReg: "noreg",
	AL:    "al", CL: "cl", DL: "dl", BL: "bl",
	AH: "ah", CH: "ch", DH: "dh", BH: "bh",
	AX: "ax", CX: "cx", DX: "dx", BX: "bx",
	SP: "sp", BP: "bp", SI: "si", DI: "di",
	EAX: "eax", ECX: "ecx", EDX: "edx", EBX: "ebx",
	ESP: "esp", EBP: "ebp", ESI: "esi", EDI: "edi",
}
