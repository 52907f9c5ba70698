package vm

import "lumen/pkg/errors"

// VM owns one heap: a collector, a string interner, a globals table, a
// registry table, and the main thread. It is the allocation authority for
// every heap object a running program can produce; pkg/state wraps a VM to
// expose the embedding API, and pkg/stdlib populates its globals table.
type VM struct {
	heap     *Collector
	strings  *stringInterner
	globals  *Table
	registry *Table
	main     *Thread
}

// NewVM allocates an empty heap: a fresh collector, an empty globals table,
// an empty registry table, and a main thread, then wires the VM itself in
// as the collector's root set (spec section 3: "globals table, registry
// table, main thread").
func NewVM() *VM {
	heap := NewCollector()
	v := &VM{
		heap:     heap,
		strings:  newStringInterner(heap),
		globals:  newTable(),
		registry: newTable(),
	}
	heap.register(v.globals)
	heap.register(v.registry)
	v.main = newThread(heap, v.globals, v.registry)
	heap.register(v.main)
	heap.SetRoots(v)
	return v
}

func (v *VM) traceRoots(c *Collector) {
	c.mark(v.globals)
	c.mark(v.registry)
	c.mark(v.main)
}

func (v *VM) Collector() *Collector { return v.heap }
func (v *VM) Globals() *Table       { return v.globals }
func (v *VM) Registry() *Table      { return v.registry }
func (v *VM) MainThread() *Thread   { return v.main }

// NewThread allocates an additional Thread sharing this VM's heap, globals,
// and registry. Coroutine scheduling (resume/yield) is out of scope per
// spec Non-goals; a second Thread is still useful as an isolated call stack
// for, e.g., running a sandboxed chunk without touching the main stack.
func (v *VM) NewThread() *Thread {
	th := newThread(v.heap, v.globals, v.registry)
	v.heap.register(th)
	return th
}

// InternString returns the canonical *String for data, allocating one on
// first sight. Every Value of type string a program can observe traces
// back to this call, which is what makes Value.Equals on strings a pointer
// comparison (spec property 1, scenario F).
func (v *VM) InternString(data string) *String { return v.strings.intern(data) }

func (v *VM) NewTable() *Table {
	t := newTable()
	v.heap.register(t)
	return t
}

func (v *VM) NewUserData(payload interface{}) *UserData {
	u := &UserData{Payload: payload}
	v.heap.register(u)
	return u
}

// NewProto allocates an empty prototype for a compiler to fill in before
// any closure instantiates it.
func (v *VM) NewProto() *Proto {
	p := newProto()
	v.heap.register(p)
	return p
}

// NewClosure instantiates proto with the given upvalues, matching the
// CLOSURE opcode's contract but reachable from the embedding API so a
// compiled top-level chunk can be turned into a callable Value before the
// interpreter loop ever runs.
func (v *VM) NewClosure(proto *Proto, upvalues []*UpValue) *Closure {
	cl := &Closure{Proto: proto, Upvalues: upvalues}
	v.heap.register(cl)
	return cl
}

// NewCClosure wraps fn as a callable Value. name is stored on the
// CClosure for diagnostics; no error message reads it.
func (v *VM) NewCClosure(name string, fn NativeFunc, upvalues []Value) *CClosure {
	cc := &CClosure{Fn: fn, Upvalues: upvalues, Name: name}
	v.heap.register(cc)
	return cc
}

// Call invokes fn(args...) on th, wanting nResults results (-1 for "all").
// Unlike the CALL/TAILCALL opcodes, which reuse a caller's register window
// in place, Call is the re-entrant entry point used by the embedding API
// and by native functions calling back into a script: it pushes fn and its
// arguments onto th's stack above the current top, runs the call to
// completion, and returns the results as a fresh slice (also left resident
// on the stack above the pre-call top, Lua-convention style, for a host
// caller to inspect or discard via SetTop).
func (v *VM) Call(th *Thread, fn Value, args []Value, nResults int) ([]Value, error) {
	calleeSlot := th.Top
	if !th.ensureCapacity(calleeSlot + 1 + len(args) + 8) {
		return nil, stackOverflowError(nil, 0)
	}
	th.Stack[calleeSlot] = fn
	for i, a := range args {
		th.Stack[calleeSlot+1+i] = a
	}
	th.Top = calleeSlot + 1 + len(args)

	if err := v.doCall(th, calleeSlot, len(args), nResults); err != nil {
		return nil, err
	}
	want := th.Top - calleeSlot
	results := make([]Value, want)
	copy(results, th.Stack[calleeSlot:th.Top])
	return results, nil
}

// CallInPlace dispatches a callable already resident on th's stack at
// calleeSlot, with nargs arguments following it — the same entry point the
// CALL/TAILCALL opcodes use. It is exported for pkg/state, whose Call pops
// a function and its arguments off the top of the stack the host already
// built via Push, rather than copying them in fresh the way Call does.
func (v *VM) CallInPlace(th *Thread, calleeSlot, nargs, wantResults int) error {
	return v.doCall(th, calleeSlot, nargs, wantResults)
}

// position synthesizes a diagnostic position from a prototype and the
// instruction index currently executing, for errors raised mid-interpret.
func position(proto *Proto, pc int) errors.Position {
	line := 0
	if proto != nil && pc >= 0 && pc < len(proto.Lines) {
		line = proto.Lines[pc]
	}
	chunk := "?"
	if proto != nil {
		chunk = proto.Source
	}
	return errors.Position{Line: line, ChunkName: chunk}
}

func stackOverflowError(proto *Proto, pc int) *errors.RuntimeError {
	return &errors.RuntimeError{
		Position:    position(proto, pc),
		Msg:         "stack overflow",
		RuntimeKind: errors.KindStackOverflow,
	}
}
