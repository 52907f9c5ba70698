// Package state is the embedding API: a thin, stack-oriented wrapper
// around one vm.VM/vm.Thread pair, in the shape a host program (or
// cmd/lumen) actually drives a Lua runtime — push arguments, call, read
// results back off the stack — rather than through vm.Value plumbing
// directly.
package state

import (
	"os"

	"github.com/rs/zerolog"

	"lumen/pkg/compiler"
	"lumen/pkg/errors"
	"lumen/pkg/source"
	"lumen/pkg/stdlib"
	"lumen/pkg/vm"
)

// State owns one VM and drives its main thread. Stack positions are
// 1-based from the bottom like the reference Lua C API; a negative index
// counts back from the top (-1 is the topmost value).
type State struct {
	VM     *vm.VM
	Thread *vm.Thread
	Log    zerolog.Logger
	Debug  bool
}

// New creates a State with logging disabled (the zero-cost default for an
// embedded library that must not chatter on a host's stderr uninvited).
func New() *State {
	v := vm.NewVM()
	stdlib.Open(v)
	return &State{
		VM:     v,
		Thread: nil,
		Log:    zerolog.New(os.Stderr).Level(zerolog.Disabled),
	}
}

// NewDebug creates a State with zerolog console logging enabled at debug
// level, for -debug/--debug callers (cmd/lumen).
func NewDebug() *State {
	s := New()
	s.Debug = true
	s.Log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger().Level(zerolog.DebugLevel)
	return s
}

// abs resolves a 1-based-or-negative stack index to an absolute index into
// Thread.Stack.
func (s *State) abs(idx int) int {
	if idx >= 0 {
		return idx - 1
	}
	return s.Thread.Top + idx
}

func (s *State) ensureMainThread() {
	if s.Thread == nil {
		s.Thread = s.VM.MainThread()
	}
}

// Top returns the number of values currently on the stack.
func (s *State) Top() int {
	s.ensureMainThread()
	return s.Thread.Top
}

// SetTop grows (padding with nil) or truncates the stack to exactly n
// values.
func (s *State) SetTop(n int) {
	s.ensureMainThread()
	th := s.Thread
	if n > th.Top {
		th.EnsureCapacity(n)
		for i := th.Top; i < n; i++ {
			th.Stack[i] = vm.Nil
		}
	}
	th.Top = n
}

func (s *State) Pop(n int) { s.SetTop(s.Top() - n) }

// Get returns the value at idx without removing it.
func (s *State) Get(idx int) vm.Value {
	s.ensureMainThread()
	i := s.abs(idx)
	if i < 0 || i >= s.Thread.Top {
		return vm.None
	}
	return s.Thread.Stack[i]
}

func (s *State) Push(v vm.Value) {
	s.ensureMainThread()
	th := s.Thread
	th.EnsureCapacity(th.Top + 1)
	th.Stack[th.Top] = v
	th.Top++
}

func (s *State) PushNil()            { s.Push(vm.Nil) }
func (s *State) PushBoolean(b bool)  { s.Push(vm.NewBoolean(b)) }
func (s *State) PushNumber(n float64) { s.Push(vm.NewNumber(n)) }
func (s *State) PushString(str string) {
	s.ensureMainThread()
	s.Push(vm.NewStringValue(s.VM.InternString(str)))
}

// PushGoFunction wraps fn as a CClosure and pushes it.
func (s *State) PushGoFunction(name string, fn vm.NativeFunc) {
	s.Push(vm.NewCClosureValue(s.VM.NewCClosure(name, fn, nil)))
}

func (s *State) NewTable() {
	s.Push(vm.NewTableValue(s.VM.NewTable()))
}

// Remove deletes the value at idx, shifting everything above it down.
func (s *State) Remove(idx int) {
	s.ensureMainThread()
	i := s.abs(idx)
	th := s.Thread
	copy(th.Stack[i:th.Top-1], th.Stack[i+1:th.Top])
	th.Top--
}

// Insert moves the top value down to idx, shifting values at and above
// idx up by one.
func (s *State) Insert(idx int) {
	s.ensureMainThread()
	th := s.Thread
	i := s.abs(idx)
	v := th.Stack[th.Top-1]
	copy(th.Stack[i+1:th.Top], th.Stack[i:th.Top-1])
	th.Stack[i] = v
}

func (s *State) Replace(idx int) {
	v := s.Get(-1)
	s.Pop(1)
	s.ensureMainThread()
	s.Thread.Stack[s.abs(idx)] = v
}

// GetGlobal pushes the value of the named global.
func (s *State) GetGlobal(name string) {
	s.ensureMainThread()
	key := vm.NewStringValue(s.VM.InternString(name))
	s.Push(s.Thread.Globals.Get(key))
}

// SetGlobal pops the top value and stores it as the named global.
func (s *State) SetGlobal(name string) {
	v := s.Get(-1)
	s.Pop(1)
	key := vm.NewStringValue(s.VM.InternString(name))
	_ = s.Thread.Globals.Set(key, v)
}

// GetField pushes tbl[name] for the table at tblIdx.
func (s *State) GetField(tblIdx int, name string) error {
	tv := s.Get(tblIdx)
	if !tv.IsTable() {
		return expectedTable(tv)
	}
	key := vm.NewStringValue(s.VM.InternString(name))
	s.Push(tv.AsTable().Get(key))
	return nil
}

// SetField pops a value and stores it as tbl[name] for the table at
// tblIdx.
func (s *State) SetField(tblIdx int, name string) error {
	tv := s.Get(tblIdx)
	v := s.Get(-1)
	s.Pop(1)
	if !tv.IsTable() {
		return expectedTable(tv)
	}
	key := vm.NewStringValue(s.VM.InternString(name))
	return tv.AsTable().Set(key, v)
}

// GetTable pops a key and pushes tbl[key] for the table at tblIdx.
func (s *State) GetTable(tblIdx int) error {
	tv := s.Get(tblIdx)
	key := s.Get(-1)
	s.Pop(1)
	if !tv.IsTable() {
		return expectedTable(tv)
	}
	s.Push(tv.AsTable().Get(key))
	return nil
}

// SetTable pops a value then a key and stores tbl[key] = value for the
// table at tblIdx.
func (s *State) SetTable(tblIdx int) error {
	tv := s.Get(tblIdx)
	v := s.Get(-1)
	key := s.Get(-2)
	s.Pop(2)
	if !tv.IsTable() {
		return expectedTable(tv)
	}
	return tv.AsTable().Set(key, v)
}

// Len returns the length (#) of the value at idx; nothing is pushed.
func (s *State) Len(idx int) (int, error) {
	v := s.Get(idx)
	switch {
	case v.IsString():
		return v.AsString().Len(), nil
	case v.IsTable():
		return v.AsTable().Len(), nil
	default:
		return 0, &errors.RuntimeError{
			Msg:         "attempt to get length of a " + v.Type().String() + " value",
			RuntimeKind: errors.KindAttemptToGetLength,
		}
	}
}

// Concat pops n values and pushes their concatenation.
func (s *State) Concat(n int) error {
	s.ensureMainThread()
	th := s.Thread
	start := th.Top - n
	var buf []byte
	for i := start; i < th.Top; i++ {
		rv := th.Stack[i]
		if !rv.IsString() && !rv.IsNumber() {
			return &errors.RuntimeError{
				Msg:         "attempt to concatenate a " + rv.Type().String() + " value",
				RuntimeKind: errors.KindAttemptToConcatenate,
			}
		}
		buf = append(buf, rv.ToString()...)
	}
	th.Top = start
	s.PushString(string(buf))
	return nil
}

// Next pops a key and, if the table at idx has a next entry, pushes the
// next key and value and returns true; otherwise pushes nothing and
// returns false. Mirrors the table.Next primitive the pairs() iterator
// loop (TFORLOOP) drives.
func (s *State) Next(idx int) (bool, error) {
	tv := s.Get(idx)
	if !tv.IsTable() {
		return false, expectedTable(tv)
	}
	k := s.Get(-1)
	s.Pop(1)
	nk, nv, ok := tv.AsTable().Next(k)
	if !ok {
		return false, nil
	}
	s.Push(nk)
	s.Push(nv)
	return true, nil
}

// RawEqual compares the values at idx1 and idx2 with Lua raw equality.
func (s *State) RawEqual(idx1, idx2 int) bool {
	return s.Get(idx1).Equals(s.Get(idx2))
}

// Load compiles source into a prototype and pushes a zero-upvalue closure
// over it, the way reference lua_load pushes a function. A compile error
// is returned and nothing is pushed; PCall is the call that leaves a
// runtime error's message on the stack.
func (s *State) Load(src, chunkName string) error {
	s.ensureMainThread()
	file := source.NewFile(chunkName, "", src)
	proto, err := compiler.Compile(file, s.VM)
	if err != nil {
		return err
	}
	cl := s.VM.NewClosure(proto, nil)
	s.Push(vm.NewClosureValue(cl))
	return nil
}

// Call pops a function and its nargs arguments off the top of the stack
// and calls it, replacing them with nresults results (-1 for "all
// results", Lua's LUA_MULTRET).
func (s *State) Call(nargs, nresults int) error {
	s.ensureMainThread()
	calleeSlot := s.Thread.Top - nargs - 1
	return s.VM.CallInPlace(s.Thread, calleeSlot, nargs, nresults)
}

// PCall is Call with errors caught rather than propagated as a Go error up
// the caller's own call stack: on failure it restores the stack to where
// the function and arguments were and pushes the error's message as the
// sole result, matching lua_pcall's contract. It still returns the error,
// for callers (like the REPL) that want to print something more specific
// than "there was an error".
func (s *State) PCall(nargs, nresults int) error {
	s.ensureMainThread()
	calleeSlot := s.Thread.Top - nargs - 1
	err := s.VM.CallInPlace(s.Thread, calleeSlot, nargs, nresults)
	if err != nil {
		s.Thread.Top = calleeSlot
		if le, ok := err.(errors.LumenError); ok {
			s.PushString(le.Message())
		} else {
			s.PushString(err.Error())
		}
	}
	return err
}

// DoString compiles and runs src as a top-level chunk, discarding any
// results once evaluated (callers that want the results should use
// Load+Call directly).
func (s *State) DoString(src, chunkName string) error {
	if err := s.Load(src, chunkName); err != nil {
		return err
	}
	return s.Call(0, 0)
}

// DoFile reads path and runs it as a chunk named "@path", in the
// reference convention of prefixing file-sourced chunk names with '@'.
func (s *State) DoFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return s.DoString(string(data), "@"+path)
}

func expectedTable(v vm.Value) error {
	return &errors.RuntimeError{
		Msg:         "attempt to index a " + v.Type().String() + " value",
		RuntimeKind: errors.KindExpectedTable,
	}
}
