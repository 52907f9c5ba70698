package stdlib

import (
	"sort"

	"lumen/pkg/errors"
	"lumen/pkg/vm"
)

// tableLibrary installs the "table" table: insert/remove/concat/sort over
// the array part, using Table.Len's border semantics the same way real
// Lua 5.1's table library does.
type tableLibrary struct{}

func (tableLibrary) Name() string  { return "table" }
func (tableLibrary) Priority() int { return PriorityTable }

func (tableLibrary) Register(v *vm.VM) {
	t := newLibTable(v, "table")
	register(v, t, "insert", tableInsert)
	register(v, t, "remove", tableRemove)
	register(v, t, "concat", tableConcat)
	register(v, t, "sort", tableSort)
}

func tableInsert(s vm.NativeState) (int, error) {
	t, err := s.CheckTable(0)
	if err != nil {
		return 0, err
	}
	n := t.Len()
	if s.ArgCount() <= 2 {
		_ = t.Set(vm.NewNumber(float64(n+1)), s.Arg(1))
		return 0, nil
	}
	pos, err := s.CheckNumber(1)
	if err != nil {
		return 0, err
	}
	p := int(pos)
	for i := n + 1; i > p; i-- {
		_ = t.Set(vm.NewNumber(float64(i)), t.Get(vm.NewNumber(float64(i-1))))
	}
	_ = t.Set(vm.NewNumber(float64(p)), s.Arg(2))
	return 0, nil
}

func tableRemove(s vm.NativeState) (int, error) {
	t, err := s.CheckTable(0)
	if err != nil {
		return 0, err
	}
	n := t.Len()
	if n == 0 && s.ArgCount() <= 1 {
		s.Push(vm.Nil)
		return 1, nil
	}
	pos := n
	if s.ArgCount() > 1 {
		p, err := s.CheckNumber(1)
		if err != nil {
			return 0, err
		}
		pos = int(p)
	}
	removed := t.Get(vm.NewNumber(float64(pos)))
	for i := pos; i < n; i++ {
		_ = t.Set(vm.NewNumber(float64(i)), t.Get(vm.NewNumber(float64(i+1))))
	}
	_ = t.Set(vm.NewNumber(float64(n)), vm.Nil)
	s.Push(removed)
	return 1, nil
}

func tableConcat(s vm.NativeState) (int, error) {
	t, err := s.CheckTable(0)
	if err != nil {
		return 0, err
	}
	sep := ""
	if s.ArgCount() > 1 {
		sep, err = s.CheckString(1)
		if err != nil {
			return 0, err
		}
	}
	i := 1
	if s.ArgCount() > 2 {
		n, err := s.CheckNumber(2)
		if err != nil {
			return 0, err
		}
		i = int(n)
	}
	j := t.Len()
	if s.ArgCount() > 3 {
		n, err := s.CheckNumber(3)
		if err != nil {
			return 0, err
		}
		j = int(n)
	}
	out := ""
	for ; i <= j; i++ {
		v := t.Get(vm.NewNumber(float64(i)))
		if !v.IsString() && !v.IsNumber() {
			return 0, s.Error(errors.KindAttemptToConcatenate, "invalid value (at index "+vm.NewNumber(float64(i)).ToString()+") in table for 'concat'")
		}
		out += v.ToString()
		if i < j {
			out += sep
		}
	}
	s.PushString(out)
	return 1, nil
}

func tableSort(s vm.NativeState) (int, error) {
	t, err := s.CheckTable(0)
	if err != nil {
		return 0, err
	}
	n := t.Len()
	items := make([]vm.Value, n)
	for i := 0; i < n; i++ {
		items[i] = t.Get(vm.NewNumber(float64(i + 1)))
	}

	var less func(a, b vm.Value) bool
	var sortErr error
	if cmp := s.Arg(1); !cmp.IsNoneOrNil() {
		less = func(a, b vm.Value) bool {
			if sortErr != nil {
				return false
			}
			results, err := s.Call(cmp, []vm.Value{a, b})
			if err != nil {
				sortErr = err
				return false
			}
			return len(results) > 0 && results[0].Truthy()
		}
	} else {
		less = func(a, b vm.Value) bool {
			if sortErr != nil {
				return false
			}
			lt, ok := a.Less(b)
			if !ok {
				sortErr = s.Error(errors.KindRuntimeError, "attempt to compare two incompatible values")
				return false
			}
			return lt
		}
	}

	sort.SliceStable(items, func(i, j int) bool { return less(items[i], items[j]) })
	if sortErr != nil {
		return 0, sortErr
	}
	for i, v := range items {
		_ = t.Set(vm.NewNumber(float64(i+1)), v)
	}
	return 0, nil
}
