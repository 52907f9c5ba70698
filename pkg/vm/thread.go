package vm

import "sort"

// InitialStackSize is the thread's fixed starting stack capacity (spec
// section 3: "fixed initial capacity, e.g. 1024"). ensureCapacity
// reallocates the backing slice on demand but never past MaxStackSize;
// CALL pre-flight-checks a callee's proto.MaxStackSize against that
// ceiling and raises StackOverflow once it would be exceeded.
const InitialStackSize = 1024

// MaxStackSize is the hard ceiling the stack is allowed to reach.
const MaxStackSize = 1 << 16

// MaxCallDepth bounds the call-info chain, independent of stack slots, so
// deeply (but not infinitely) recursive script bugs fail predictably.
const MaxCallDepth = 4096

// CallInfo records one active call: who was called, where its registers
// start, where to resume the caller, and how many results it owes.
type CallInfo struct {
	Fn          Value // the callee (closure/cclosure) occupying stack[Base-1]
	Base        int   // stack index of register 0 for this frame
	SavedPC     int   // not set by the interpreter: each caller's pc is a local of its own execClosure call
	WantResults int   // -1 means "all results", else exact count expected
	IsHost      bool  // true if Fn is a CClosure
	TailCalls   int   // number of tail calls folded into this frame
	Varargs     []Value
}

// Thread owns a value stack, a call-info chain, and the open-upvalue list
// for one logical sequence of calls. The embedding API's State wraps the
// main Thread; coroutines (out of scope per spec Non-goals) would be
// additional Threads that never yield in this core.
type Thread struct {
	gcHeader

	Stack []Value
	Top   int

	Frames []CallInfo

	openUpvalues []*UpValue // sorted by descending Stack index

	Globals  *Table
	Registry *Table

	heap *Collector
}

func newThread(heap *Collector, globals, registry *Table) *Thread {
	return &Thread{
		Stack:    make([]Value, InitialStackSize),
		Globals:  globals,
		Registry: registry,
		heap:     heap,
	}
}

func (th *Thread) traceChildren(c *Collector) {
	c.mark(th.Globals)
	c.mark(th.Registry)
	for i := 0; i < th.Top; i++ {
		c.markValue(th.Stack[i])
	}
	for _, uv := range th.openUpvalues {
		c.mark(uv)
	}
	for i := range th.Frames {
		c.markValue(th.Frames[i].Fn)
		for _, v := range th.Frames[i].Varargs {
			c.markValue(v)
		}
	}
}
func (th *Thread) typeName() string { return "thread" }

// ensureCapacity grows the backing array up to MaxStackSize, or reports
// StackOverflow once that ceiling would be exceeded — the stack is
// logically fixed-capacity per spec; this only accommodates Go's slice
// backing store without pretending the Lua-visible limit moves.
func (th *Thread) ensureCapacity(n int) bool {
	if n > MaxStackSize {
		return false
	}
	if n <= len(th.Stack) {
		return true
	}
	grown := make([]Value, n)
	copy(grown, th.Stack)
	for i := len(th.Stack); i < n; i++ {
		grown[i] = None
	}
	th.Stack = grown
	return true
}

// EnsureCapacity is ensureCapacity for callers outside the package (pkg/state).
func (th *Thread) EnsureCapacity(n int) bool { return th.ensureCapacity(n) }

// findOrCreateUpvalue returns the open upvalue for absolute stack index
// idx, creating one if none exists yet. Open upvalues for the same slot
// are shared (at most one per index), which is what lets two closures
// created in the same scope observe each other's writes.
func (th *Thread) findOrCreateUpvalue(idx int) *UpValue {
	for _, uv := range th.openUpvalues {
		if uv.IsOpen() && uv.index == idx {
			return uv
		}
	}
	uv := newOpenUpvalue(&th.Stack, idx)
	th.openUpvalues = append(th.openUpvalues, uv)
	sort.Slice(th.openUpvalues, func(i, j int) bool {
		return th.openUpvalues[i].index > th.openUpvalues[j].index
	})
	th.heap.register(uv)
	return uv
}

// closeUpvaluesFrom closes every open upvalue at or above absolute stack
// index idx and drops it from the open list; called whenever a stack
// region is about to be abandoned (frame return, loop-scope exit).
func (th *Thread) closeUpvaluesFrom(idx int) {
	if len(th.openUpvalues) == 0 {
		return
	}
	kept := th.openUpvalues[:0]
	for _, uv := range th.openUpvalues {
		if uv.IsOpen() && uv.index >= idx {
			uv.Close()
		} else {
			kept = append(kept, uv)
		}
	}
	th.openUpvalues = kept
}
