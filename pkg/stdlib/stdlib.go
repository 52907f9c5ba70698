// Package stdlib populates a VM's globals table with the Lua 5.1 base,
// math, string, and table libraries. Each library is a Library that
// registers its own CClosures against vm.NativeState, in the same
// priority-ordered registration shape the host's builtin registry uses,
// minus the static type-checking half that has no counterpart here.
package stdlib

import (
	"sort"

	"lumen/pkg/vm"
)

// Library is implemented by each standard library module.
type Library interface {
	// Name returns the library's global table name ("math", "string"),
	// or "" for the base library, which installs directly into _G.
	Name() string

	// Priority returns initialization order (lower = earlier). Base must
	// run first since later libraries may want _G/print/type already in
	// place.
	Priority() int

	// Register installs the library's functions into the VM.
	Register(v *vm.VM)
}

var registry = []Library{
	baseLibrary{},
	mathLibrary{},
	stringLibrary{},
	tableLibrary{},
}

const (
	PriorityBase   = 0
	PriorityMath   = 10
	PriorityString = 10
	PriorityTable  = 10
)

// Open installs every standard library into v's globals table, in
// priority order.
func Open(v *vm.VM) {
	libs := append([]Library(nil), registry...)
	sort.Slice(libs, func(i, j int) bool { return libs[i].Priority() < libs[j].Priority() })
	for _, lib := range libs {
		lib.Register(v)
	}
}

// register binds name => fn in v's globals, or in the library table at
// libTable if non-nil.
func register(v *vm.VM, libTable *vm.Table, name string, fn vm.NativeFunc) {
	val := vm.NewCClosureValue(v.NewCClosure(name, fn, nil))
	if libTable == nil {
		_ = v.Globals().Set(vm.NewStringValue(v.InternString(name)), val)
		return
	}
	_ = libTable.Set(vm.NewStringValue(v.InternString(name)), val)
}

// newLibTable creates and installs a named global table (e.g. "math"),
// returning it for the library to populate.
func newLibTable(v *vm.VM, name string) *vm.Table {
	t := v.NewTable()
	_ = v.Globals().Set(vm.NewStringValue(v.InternString(name)), vm.NewTableValue(t))
	return t
}
