package vm

import "fmt"

// OpCode identifies one of the register-machine instructions the
// interpreter dispatches on. Values fit in 6 bits (0-63); see Instruction.
type OpCode uint8

const (
	OpMove       OpCode = iota // A B:    R(A) := R(B)
	OpLoadK                    // A Bx:   R(A) := K(Bx)
	OpLoadBool                 // A B C:  R(A) := bool(B); if C != 0 skip next
	OpLoadNil                  // A B:    R(A..B) := nil
	OpGetGlobal                // A Bx:   R(A) := Globals[K(Bx)]
	OpSetGlobal                // A Bx:   Globals[K(Bx)] := R(A)
	OpGetUpval                 // A B:    R(A) := Upvalue(B)
	OpSetUpval                 // A B:    Upvalue(B) := R(A)
	OpGetTable                 // A B C:  R(A) := R(B)[RK(C)]
	OpSetTable                 // A B C:  R(A)[RK(B)] := RK(C)
	OpNewTable                 // A B C:  R(A) := {} (B, C size hints)
	OpSelf                     // A B C:  R(A+1) := R(B); R(A) := R(B)[RK(C)]
	OpAdd                      // A B C:  R(A) := RK(B) + RK(C)
	OpSub                      // A B C:  R(A) := RK(B) - RK(C)
	OpMul                      // A B C:  R(A) := RK(B) * RK(C)
	OpDiv                      // A B C:  R(A) := RK(B) / RK(C)
	OpMod                      // A B C:  R(A) := RK(B) % RK(C)
	OpPow                      // A B C:  R(A) := RK(B) ^ RK(C)
	OpUnm                      // A B:    R(A) := -R(B)
	OpNot                      // A B:    R(A) := not R(B)
	OpLen                      // A B:    R(A) := #R(B)
	OpConcat                   // A B C:  R(A) := R(B) .. ... .. R(C)
	OpJmp                      // sBx:    pc += sBx
	OpEq                       // A B C:  if (RK(B) == RK(C)) != (A != 0) then pc++
	OpLt                       // A B C:  if (RK(B) <  RK(C)) != (A != 0) then pc++
	OpLe                       // A B C:  if (RK(B) <= RK(C)) != (A != 0) then pc++
	OpTest                     // A C:    if truthy(R(A)) != (C != 0) then pc++
	OpTestSet                  // A B C:  if truthy(R(B)) == (C != 0) then R(A) := R(B) else pc++
	OpCall                     // A B C:  call R(A) with B-1 args (0 => to top), want C-1 results (0 => all)
	OpTailCall                 // A B C:  tail call, reuse frame
	OpReturn                   // A B:    return R(A..A+B-2) (0 => to top)
	OpForPrep                  // A sBx:  R(A) -= R(A+2); pc += sBx
	OpForLoop                  // A sBx:  R(A) += R(A+2); loop if in range
	OpTForLoop                 // A C:    generic for call + termination test
	OpClosure                  // A Bx:   R(A) := closure(Proto(Bx), ...)
	OpSetList                  // A B C:  array-bulk-assign R(A+1..A+B) into R(A)
	OpVararg                   // A B:    R(A..A+B-2) := varargs
	opCodeCount
)

var opNames = [...]string{
	"MOVE", "LOADK", "LOADBOOL", "LOADNIL", "GETGLOBAL", "SETGLOBAL",
	"GETUPVAL", "SETUPVAL", "GETTABLE", "SETTABLE", "NEWTABLE", "SELF",
	"ADD", "SUB", "MUL", "DIV", "MOD", "POW", "UNM", "NOT", "LEN", "CONCAT",
	"JMP", "EQ", "LT", "LE", "TEST", "TESTSET", "CALL", "TAILCALL",
	"RETURN", "FORPREP", "FORLOOP", "TFORLOOP", "CLOSURE", "SETLIST",
	"VARARG",
}

func (op OpCode) String() string {
	if int(op) < len(opNames) {
		return opNames[op]
	}
	return fmt.Sprintf("OP(%d)", op)
}

// Instruction is a 32-bit word in one of three layouts (iABC, iABx, iAsBx),
// all sharing a 6-bit opcode. Bit layout, low to high: opcode(6) A(8) C(9)
// B(9). Bx occupies the same 18 bits as C|B combined; sBx is Bx biased by
// sBxBias so it can represent negative jump offsets.
type Instruction uint32

const (
	sizeOp = 6
	sizeA  = 8
	sizeC  = 9
	sizeB  = 9
	sizeBx = sizeC + sizeB

	posOp = 0
	posA  = posOp + sizeOp
	posC  = posA + sizeA
	posB  = posC + sizeC
	posBx = posC

	maxArgA  = 1<<sizeA - 1
	maxArgB  = 1<<sizeB - 1
	maxArgC  = 1<<sizeC - 1
	maxArgBx = 1<<sizeBx - 1

	sBxBias = maxArgBx >> 1 // 2^17 - 1

	// RKMask is the high bit of a 9-bit B/C operand: set means "this
	// operand addresses the constant pool", clear means "register".
	RKMask  = 1 << (sizeB - 1)
	maxRKReg = RKMask - 1
)

func mask(bits, pos uint) uint32 { return ((1 << bits) - 1) << pos }

// NewABC encodes an iABC instruction.
func NewABC(op OpCode, a, b, c int) Instruction {
	return Instruction(uint32(op)<<posOp | uint32(a)<<posA | uint32(c)<<posC | uint32(b)<<posB)
}

// NewABx encodes an iABx instruction (unsigned 18-bit Bx).
func NewABx(op OpCode, a, bx int) Instruction {
	return Instruction(uint32(op)<<posOp | uint32(a)<<posA | uint32(bx)<<posBx)
}

// NewAsBx encodes an iAsBx instruction (signed 18-bit sBx, Lua's excess-K bias).
func NewAsBx(op OpCode, a, sbx int) Instruction {
	return NewABx(op, a, sbx+sBxBias)
}

func (i Instruction) OpCode() OpCode { return OpCode(uint32(i) >> posOp & (1<<sizeOp - 1)) }
func (i Instruction) A() int         { return int(uint32(i) >> posA & (1<<sizeA - 1)) }
func (i Instruction) B() int         { return int(uint32(i) >> posB & (1<<sizeB - 1)) }
func (i Instruction) C() int         { return int(uint32(i) >> posC & (1<<sizeC - 1)) }
func (i Instruction) Bx() int        { return int(uint32(i) >> posBx & (1<<sizeBx - 1)) }
func (i Instruction) SBx() int       { return i.Bx() - sBxBias }

// IsK reports whether a 9-bit B/C operand addresses the constant pool.
func IsK(operand int) bool { return operand&RKMask != 0 }

// IndexK extracts the constant-pool index from an RK operand whose high
// bit is set. Only the low 8 bits are significant, matching the "RK
// operand" convention in the wire format: direct RK addressing reaches the
// first 256 constants, the compiler falls back to LOADK+register beyond
// that.
func IndexK(operand int) int { return operand &^ RKMask }

func (i Instruction) String() string {
	op := i.OpCode()
	switch op {
	case OpLoadK, OpGetGlobal, OpSetGlobal, OpClosure:
		return fmt.Sprintf("%-10s A=%d Bx=%d", op, i.A(), i.Bx())
	case OpJmp, OpForPrep, OpForLoop:
		return fmt.Sprintf("%-10s A=%d sBx=%d", op, i.A(), i.SBx())
	case OpLoadNil, OpUnm, OpNot, OpLen, OpMove, OpGetUpval, OpSetUpval, OpVararg, OpReturn:
		return fmt.Sprintf("%-10s A=%d B=%d", op, i.A(), i.B())
	case OpTest:
		return fmt.Sprintf("%-10s A=%d C=%d", op, i.A(), i.C())
	case OpTForLoop:
		return fmt.Sprintf("%-10s A=%d C=%d", op, i.A(), i.C())
	default:
		return fmt.Sprintf("%-10s A=%d B=%d C=%d", op, i.A(), i.B(), i.C())
	}
}

// FPF is the "fields per flush" constant used by SETLIST to compute the
// starting array index of each batch: (C-1)*FPF + 1.
const FPF = 50
