package vm

import (
	"math"

	"lumen/pkg/errors"
)

// doCall dispatches the callable sitting at th.Stack[calleeSlot], with
// nargs arguments already resident at calleeSlot+1..calleeSlot+nargs, and
// leaves wantResults results (or the actual count, if wantResults is -1)
// starting back at calleeSlot, with th.Top adjusted to calleeSlot+count.
// This is the single call path both CALL/TAILCALL and VM.Call funnel
// through, so the "host frame vs script frame" distinction never needs a
// separate trampoline: a script calling a script recurses through
// execClosure, a script calling a host function calls straight into Go,
// and either can call back into the other without special-casing which
// kind of frame is "on top".
func (v *VM) doCall(th *Thread, calleeSlot, nargs, wantResults int) error {
	if len(th.Frames) >= MaxCallDepth {
		return stackOverflowError(nil, 0)
	}
	fn := th.Stack[calleeSlot]
	base := calleeSlot + 1

	switch fn.Type() {
	case TypeClosure:
		cl := fn.AsClosure()
		proto := cl.Proto
		need := proto.MaxStackSize
		if nargs > need {
			need = nargs
		}
		if !th.ensureCapacity(base + need) {
			return stackOverflowError(proto, 0)
		}

		var varargs []Value
		if proto.IsVararg && nargs > proto.NumParams {
			varargs = append(varargs, th.Stack[base+proto.NumParams:base+nargs]...)
		}
		for i := nargs; i < proto.MaxStackSize; i++ {
			th.Stack[base+i] = Nil
		}

		th.Frames = append(th.Frames, CallInfo{
			Fn: fn, Base: base, WantResults: wantResults, Varargs: varargs,
		})
		results, err := v.execClosure(th, cl)
		th.Frames = th.Frames[:len(th.Frames)-1]
		if err != nil {
			return err
		}
		finishCall(th, calleeSlot, results, wantResults)
		return nil

	case TypeCClosure:
		cc := fn.AsCClosure()
		if base+nargs > len(th.Stack) {
			if !th.ensureCapacity(base + nargs) {
				return stackOverflowError(nil, 0)
			}
		}
		th.Top = base + nargs
		th.Frames = append(th.Frames, CallInfo{Fn: fn, Base: base, WantResults: wantResults, IsHost: true})
		ns := &nativeCall{vm: v, th: th, base: base, nargs: nargs}
		n, err := cc.Fn(ns)
		th.Frames = th.Frames[:len(th.Frames)-1]
		if err != nil {
			return err
		}
		results := append([]Value(nil), th.Stack[th.Top-n:th.Top]...)
		finishCall(th, calleeSlot, results, wantResults)
		return nil

	default:
		return &errors.RuntimeError{
			Msg:         "attempt to call a " + fn.Type().String() + " value",
			RuntimeKind: errors.KindAttemptToCallNonFunction,
		}
	}
}

// finishCall copies results down to calleeSlot (the slot the callee value
// itself occupied), padding with nil or truncating to wantResults when it
// is not -1, and leaves th.Top just past the written results. This is the
// one place the "results replace the callee's frame" contract (spec
// section 4.3, CALL/RETURN) is implemented.
func finishCall(th *Thread, calleeSlot int, results []Value, wantResults int) {
	want := len(results)
	if wantResults >= 0 {
		want = wantResults
	}
	for i := 0; i < want; i++ {
		if i < len(results) {
			th.Stack[calleeSlot+i] = results[i]
		} else {
			th.Stack[calleeSlot+i] = Nil
		}
	}
	th.Top = calleeSlot + want
}

// rk resolves a 9-bit RK operand against either the constant pool or the
// current frame's registers.
func rk(proto *Proto, th *Thread, base, operand int) Value {
	if IsK(operand) {
		return proto.Constants[IndexK(operand)]
	}
	return th.Stack[base+operand]
}

// execClosure runs cl's prototype to completion (a RETURN, a tail call
// into a non-script callee, or an error) and returns its results. The
// frame for cl is assumed already pushed onto th.Frames by the caller
// (doCall); execClosure mutates that frame in place across TAILCALL, which
// folds a script-to-script tail call into this same Go call rather than
// recursing, so a tail-recursive script loop runs in constant Go stack
// depth.
func (v *VM) execClosure(th *Thread, cl *Closure) ([]Value, error) {
	base := th.Frames[len(th.Frames)-1].Base
	proto := cl.Proto
	pc := 0

	for {
		if pc >= len(proto.Code) {
			th.closeUpvaluesFrom(base)
			return nil, nil
		}
		instr := proto.Code[pc]
		line := pc
		pc++
		a, b, c := instr.A(), instr.B(), instr.C()

		switch instr.OpCode() {
		case OpMove:
			th.Stack[base+a] = th.Stack[base+b]

		case OpLoadK:
			th.Stack[base+a] = proto.Constants[instr.Bx()]

		case OpLoadBool:
			th.Stack[base+a] = NewBoolean(b != 0)
			if c != 0 {
				pc++
			}

		case OpLoadNil:
			for i := a; i <= b; i++ {
				th.Stack[base+i] = Nil
			}

		case OpGetGlobal:
			key := proto.Constants[instr.Bx()]
			th.Stack[base+a] = th.Globals.Get(key)

		case OpSetGlobal:
			key := proto.Constants[instr.Bx()]
			_ = th.Globals.Set(key, th.Stack[base+a])

		case OpGetUpval:
			th.Stack[base+a] = cl.Upvalues[b].Get()

		case OpSetUpval:
			cl.Upvalues[b].Set(th.Stack[base+a])

		case OpGetTable:
			tv := th.Stack[base+b]
			if !tv.IsTable() {
				th.closeUpvaluesFrom(base)
				return nil, expectedTableError(proto, line, tv)
			}
			th.Stack[base+a] = tv.AsTable().Get(rk(proto, th, base, c))

		case OpSetTable:
			tv := th.Stack[base+a]
			if !tv.IsTable() {
				th.closeUpvaluesFrom(base)
				return nil, expectedTableError(proto, line, tv)
			}
			if err := tv.AsTable().Set(rk(proto, th, base, b), rk(proto, th, base, c)); err != nil {
				th.closeUpvaluesFrom(base)
				return nil, withPosition(err, proto, line)
			}

		case OpNewTable:
			t := v.NewTable()
			th.Stack[base+a] = NewTableValue(t)

		case OpSelf:
			tv := th.Stack[base+b]
			th.Stack[base+a+1] = tv
			if !tv.IsTable() {
				th.closeUpvaluesFrom(base)
				return nil, expectedTableError(proto, line, tv)
			}
			th.Stack[base+a] = tv.AsTable().Get(rk(proto, th, base, c))

		case OpAdd, OpSub, OpMul, OpDiv, OpMod, OpPow:
			x, xok := rk(proto, th, base, b).ToNumber()
			y, yok := rk(proto, th, base, c).ToNumber()
			if !xok || !yok {
				th.closeUpvaluesFrom(base)
				return nil, arithError(proto, line)
			}
			th.Stack[base+a] = NewNumber(applyArith(instr.OpCode(), x, y))

		case OpUnm:
			x, ok := th.Stack[base+b].ToNumber()
			if !ok {
				th.closeUpvaluesFrom(base)
				return nil, arithError(proto, line)
			}
			th.Stack[base+a] = NewNumber(-x)

		case OpNot:
			th.Stack[base+a] = NewBoolean(!th.Stack[base+b].Truthy())

		case OpLen:
			rv := th.Stack[base+b]
			switch {
			case rv.IsString():
				th.Stack[base+a] = NewNumber(float64(rv.AsString().Len()))
			case rv.IsTable():
				th.Stack[base+a] = NewNumber(float64(rv.AsTable().Len()))
			default:
				th.closeUpvaluesFrom(base)
				return nil, &errors.RuntimeError{
					Position:    position(proto, line),
					Msg:         "attempt to get length of a " + rv.Type().String() + " value",
					RuntimeKind: errors.KindAttemptToGetLength,
				}
			}

		case OpConcat:
			s, err := v.concatRange(th, base, b, c)
			if err != nil {
				th.closeUpvaluesFrom(base)
				return nil, withPosition(err, proto, line)
			}
			th.Stack[base+a] = s

		case OpJmp:
			pc += instr.SBx()

		case OpEq:
			res := rk(proto, th, base, b).Equals(rk(proto, th, base, c))
			if res == (a == 0) {
				pc++
			}

		case OpLt:
			less, ok := rk(proto, th, base, b).Less(rk(proto, th, base, c))
			if !ok {
				th.closeUpvaluesFrom(base)
				return nil, compareError(proto, line)
			}
			if less == (a == 0) {
				pc++
			}

		case OpLe:
			le, ok := rk(proto, th, base, b).LessEqual(rk(proto, th, base, c))
			if !ok {
				th.closeUpvaluesFrom(base)
				return nil, compareError(proto, line)
			}
			if le == (a == 0) {
				pc++
			}

		case OpTest:
			if th.Stack[base+a].Truthy() == (c == 0) {
				pc++
			}

		case OpTestSet:
			if th.Stack[base+b].Truthy() == (c != 0) {
				th.Stack[base+a] = th.Stack[base+b]
			} else {
				pc++
			}

		case OpCall:
			calleeSlot := base + a
			nargs := b - 1
			if b == 0 {
				nargs = th.Top - (calleeSlot + 1)
			}
			want := c - 1
			if c == 0 {
				want = -1
			}
			if err := v.doCall(th, calleeSlot, nargs, want); err != nil {
				th.closeUpvaluesFrom(base)
				return nil, err
			}

		case OpTailCall:
			calleeSlot := base + a
			nargs := b - 1
			if b == 0 {
				nargs = th.Top - (calleeSlot + 1)
			}
			fnVal := th.Stack[calleeSlot]
			if fnVal.Type() == TypeClosure {
				newCl := fnVal.AsClosure()
				newProto := newCl.Proto
				shiftTo := base - 1
				width := 1 + nargs
				need := newProto.MaxStackSize
				if nargs > need {
					need = nargs
				}
				if !th.ensureCapacity(shiftTo + 1 + need) {
					th.closeUpvaluesFrom(base)
					return nil, stackOverflowError(newProto, 0)
				}
				copy(th.Stack[shiftTo:shiftTo+width], th.Stack[calleeSlot:calleeSlot+width])
				th.closeUpvaluesFrom(base)

				newBase := shiftTo + 1
				var varargs []Value
				if newProto.IsVararg && nargs > newProto.NumParams {
					varargs = append(varargs, th.Stack[newBase+newProto.NumParams:newBase+nargs]...)
				}
				for i := nargs; i < newProto.MaxStackSize; i++ {
					th.Stack[newBase+i] = Nil
				}
				frame := &th.Frames[len(th.Frames)-1]
				frame.Fn = fnVal
				frame.Base = newBase
				frame.Varargs = varargs
				frame.TailCalls++

				cl = newCl
				proto = newProto
				base = newBase
				pc = 0
				continue
			}

			// Tail call into a non-script callee (host function, or an
			// error) cannot fold into this frame; run it as an ordinary
			// call and let its results stand in for ours.
			if err := v.doCall(th, calleeSlot, nargs, -1); err != nil {
				th.closeUpvaluesFrom(base)
				return nil, err
			}
			results := append([]Value(nil), th.Stack[calleeSlot:th.Top]...)
			th.closeUpvaluesFrom(base)
			return results, nil

		case OpReturn:
			var results []Value
			if b == 0 {
				results = append([]Value(nil), th.Stack[base+a:th.Top]...)
			} else {
				results = append([]Value(nil), th.Stack[base+a:base+a+b-1]...)
			}
			th.closeUpvaluesFrom(base)
			return results, nil

		case OpForPrep:
			init, iok := th.Stack[base+a].ToNumber()
			_, lok := th.Stack[base+a+1].ToNumber()
			step, sok := th.Stack[base+a+2].ToNumber()
			if !iok || !lok || !sok {
				th.closeUpvaluesFrom(base)
				return nil, arithError(proto, line)
			}
			th.Stack[base+a] = NewNumber(init - step)
			pc += instr.SBx()

		case OpForLoop:
			step := th.Stack[base+a+2].AsNumber()
			next := th.Stack[base+a].AsNumber() + step
			limit := th.Stack[base+a+1].AsNumber()
			inRange := (step >= 0 && next <= limit) || (step < 0 && next >= limit)
			if inRange {
				th.Stack[base+a] = NewNumber(next)
				th.Stack[base+a+3] = NewNumber(next)
				pc += instr.SBx()
			}

		case OpTForLoop:
			tmp := th.Top
			if !th.ensureCapacity(tmp + 3) {
				th.closeUpvaluesFrom(base)
				return nil, stackOverflowError(proto, line)
			}
			savedTop := th.Top
			th.Stack[tmp] = th.Stack[base+a]
			th.Stack[tmp+1] = th.Stack[base+a+1]
			th.Stack[tmp+2] = th.Stack[base+a+2]
			th.Top = tmp + 3
			if err := v.doCall(th, tmp, 2, c); err != nil {
				th.closeUpvaluesFrom(base)
				return nil, err
			}
			for i := 0; i < c; i++ {
				th.Stack[base+a+3+i] = th.Stack[tmp+i]
			}
			th.Top = savedTop
			if th.Stack[base+a+3].IsNil() {
				pc++
			} else {
				th.Stack[base+a+2] = th.Stack[base+a+3]
			}

		case OpClosure:
			childProto := proto.Protos[instr.Bx()]
			ups := make([]*UpValue, childProto.NumUpvalues)
			for i, desc := range childProto.Upvalues {
				if desc.IsLocal {
					ups[i] = th.findOrCreateUpvalue(base + desc.Index)
				} else {
					ups[i] = cl.Upvalues[desc.Index]
				}
			}
			th.Stack[base+a] = NewClosureValue(v.NewClosure(childProto, ups))

		case OpSetList:
			tv := th.Stack[base+a]
			if !tv.IsTable() {
				th.closeUpvaluesFrom(base)
				return nil, expectedTableError(proto, line, tv)
			}
			tbl := tv.AsTable()
			n := b
			if b == 0 {
				n = th.Top - (base + a + 1)
			}
			block := c
			if c == 0 {
				block = int(uint32(proto.Code[pc]))
				pc++
			}
			start := (block-1)*FPF + 1
			for i := 1; i <= n; i++ {
				_ = tbl.Set(NewNumber(float64(start+i-1)), th.Stack[base+a+i])
			}

		case OpVararg:
			ci := &th.Frames[len(th.Frames)-1]
			want := b - 1
			if b == 0 {
				want = len(ci.Varargs)
			}
			for i := 0; i < want; i++ {
				val := Nil
				if i < len(ci.Varargs) {
					val = ci.Varargs[i]
				}
				th.Stack[base+a+i] = val
			}
			if b == 0 {
				th.Top = base + a + want
			}
		}
	}
}

func applyArith(op OpCode, x, y float64) float64 {
	switch op {
	case OpAdd:
		return x + y
	case OpSub:
		return x - y
	case OpMul:
		return x * y
	case OpDiv:
		return x / y
	case OpMod:
		return x - math.Floor(x/y)*y
	case OpPow:
		return math.Pow(x, y)
	default:
		return 0
	}
}

// concatRange implements CONCAT A B C: concatenate R(B..C) left to right.
// Operands may be strings or numbers (numbers convert via ToString, as in
// reference Lua); anything else is a concatenation error.
func (v *VM) concatRange(th *Thread, base, b, c int) (Value, error) {
	buf := make([]byte, 0, 16)
	for i := b; i <= c; i++ {
		rv := th.Stack[base+i]
		if !rv.IsString() && !rv.IsNumber() {
			return Nil, &errors.RuntimeError{
				Msg:         "attempt to concatenate a " + rv.Type().String() + " value",
				RuntimeKind: errors.KindAttemptToConcatenate,
			}
		}
		buf = append(buf, rv.ToString()...)
	}
	return NewStringValue(v.InternString(string(buf))), nil
}

func expectedTableError(proto *Proto, pc int, got Value) *errors.RuntimeError {
	return &errors.RuntimeError{
		Position:    position(proto, pc),
		Msg:         "attempt to index a " + got.Type().String() + " value",
		RuntimeKind: errors.KindExpectedTable,
	}
}

func arithError(proto *Proto, pc int) *errors.RuntimeError {
	return &errors.RuntimeError{
		Position:    position(proto, pc),
		Msg:         "attempt to perform arithmetic on a non-number value",
		RuntimeKind: errors.KindAttemptToPerformArith,
	}
}

func compareError(proto *Proto, pc int) *errors.RuntimeError {
	return &errors.RuntimeError{
		Position:    position(proto, pc),
		Msg:         "attempt to compare incompatible values",
		RuntimeKind: errors.KindRuntimeError,
	}
}

// withPosition fills in a position on errors raised below the interpreter
// (e.g. Table.Set's "table index is nil") that were built without one.
func withPosition(err error, proto *Proto, pc int) error {
	if re, ok := err.(*errors.RuntimeError); ok && re.Position.ChunkName == "" && re.Position.Source == nil {
		re.Position = position(proto, pc)
		return re
	}
	return err
}

// nativeCall adapts one CClosure invocation to the NativeState interface:
// arguments live at th.Stack[base:base+nargs], and Push appends results
// above th.Top, which doCall reads back as "the results the call left on
// the stack above the call's base" (spec section 4.4).
type nativeCall struct {
	vm    *VM
	th    *Thread
	base  int
	nargs int
}

func (n *nativeCall) ArgCount() int { return n.nargs }

func (n *nativeCall) Arg(i int) Value {
	if i < 0 || i >= n.nargs {
		return None
	}
	return n.th.Stack[n.base+i]
}

func (n *nativeCall) Push(v Value) {
	if !n.th.ensureCapacity(n.th.Top + 1) {
		return
	}
	n.th.Stack[n.th.Top] = v
	n.th.Top++
}

func (n *nativeCall) CheckTable(i int) (*Table, error) {
	v := n.Arg(i)
	if !v.IsTable() {
		return nil, &errors.RuntimeError{
			Msg:         "bad argument (table expected, got " + v.Type().String() + ")",
			RuntimeKind: errors.KindExpectedTable,
		}
	}
	return v.AsTable(), nil
}

func (n *nativeCall) CheckString(i int) (string, error) {
	v := n.Arg(i)
	if v.IsString() {
		return v.AsString().Value(), nil
	}
	if v.IsNumber() {
		return v.ToString(), nil
	}
	return "", &errors.RuntimeError{
		Msg:         "bad argument (string expected, got " + v.Type().String() + ")",
		RuntimeKind: errors.KindRuntimeError,
	}
}

func (n *nativeCall) CheckNumber(i int) (float64, error) {
	v := n.Arg(i)
	if num, ok := v.ToNumber(); ok {
		return num, nil
	}
	return 0, &errors.RuntimeError{
		Msg:         "bad argument (number expected, got " + v.Type().String() + ")",
		RuntimeKind: errors.KindRuntimeError,
	}
}

func (n *nativeCall) OptNumber(i int, def float64) float64 {
	if i >= n.nargs || n.Arg(i).IsNoneOrNil() {
		return def
	}
	if num, ok := n.Arg(i).ToNumber(); ok {
		return num
	}
	return def
}

func (n *nativeCall) PushString(s string)  { n.Push(NewStringValue(n.vm.InternString(s))) }
func (n *nativeCall) PushNumber(f float64) { n.Push(NewNumber(f)) }
func (n *nativeCall) PushBoolean(b bool)   { n.Push(NewBoolean(b)) }
func (n *nativeCall) NewTable() *Table     { return n.vm.NewTable() }
func (n *nativeCall) Intern(data string) *String { return n.vm.InternString(data) }

func (n *nativeCall) Error(kind, msg string) error {
	return &errors.RuntimeError{Msg: msg, RuntimeKind: kind}
}

func (n *nativeCall) Call(fn Value, args []Value) ([]Value, error) {
	return n.vm.Call(n.th, fn, args, -1)
}

func (n *nativeCall) Globals() *Table { return n.vm.Globals() }
