package stdlib

import (
	"fmt"
	"os"
	"strings"

	"lumen/pkg/errors"
	"lumen/pkg/vm"
)

// baseLibrary installs the unnamed global functions: print, type,
// tostring, tonumber, pairs/ipairs/next, raw* accessors, error/assert/
// pcall, select, and the _G/_VERSION bindings.
type baseLibrary struct{}

func (baseLibrary) Name() string  { return "" }
func (baseLibrary) Priority() int { return PriorityBase }

func (baseLibrary) Register(v *vm.VM) {
	g := v.Globals()
	_ = g.Set(vm.NewStringValue(v.InternString("_VERSION")), vm.NewStringValue(v.InternString("Lua 5.1")))
	_ = g.Set(vm.NewStringValue(v.InternString("_G")), vm.NewTableValue(g))

	register(v, nil, "print", basePrint)
	register(v, nil, "type", baseType)
	register(v, nil, "tostring", baseToString)
	register(v, nil, "tonumber", baseToNumber)

	// pairs/ipairs are expressed, as in reference Lua, as "return an
	// iterator function, the table, and the starting control value" — the
	// iterator closures are built once here and captured by value so every
	// pairs()/ipairs() call on this VM returns the same function, and
	// "next" is bound to the very same closure pairs hands out.
	nextVal := vm.NewCClosureValue(v.NewCClosure("next", baseNext, nil))
	inextVal := vm.NewCClosureValue(v.NewCClosure("inext", baseINext, nil))
	_ = g.Set(vm.NewStringValue(v.InternString("next")), nextVal)
	register(v, nil, "pairs", func(s vm.NativeState) (int, error) {
		if _, err := s.CheckTable(0); err != nil {
			return 0, err
		}
		s.Push(nextVal)
		s.Push(s.Arg(0))
		s.Push(vm.Nil)
		return 3, nil
	})
	register(v, nil, "ipairs", func(s vm.NativeState) (int, error) {
		if _, err := s.CheckTable(0); err != nil {
			return 0, err
		}
		s.Push(inextVal)
		s.Push(s.Arg(0))
		s.PushNumber(0)
		return 3, nil
	})

	register(v, nil, "setmetatable", baseSetMetatable)
	register(v, nil, "getmetatable", baseGetMetatable)
	register(v, nil, "rawget", baseRawGet)
	register(v, nil, "rawset", baseRawSet)
	register(v, nil, "rawequal", baseRawEqual)
	register(v, nil, "rawlen", baseRawLen)
	register(v, nil, "error", baseError)
	register(v, nil, "assert", baseAssert)
	register(v, nil, "pcall", basePCall)
	register(v, nil, "select", baseSelect)
	register(v, nil, "unpack", baseUnpack)
}

func basePrint(s vm.NativeState) (int, error) {
	parts := make([]string, s.ArgCount())
	for i := range parts {
		parts[i] = toStringValue(s, s.Arg(i))
	}
	fmt.Fprintln(os.Stdout, strings.Join(parts, "\t"))
	return 0, nil
}

func baseType(s vm.NativeState) (int, error) {
	s.PushString(s.Arg(0).Type().String())
	return 1, nil
}

// toStringValue applies tostring's own rules without going through a
// NativeFunc call, for use by print and concat-adjacent builtins.
func toStringValue(s vm.NativeState, val vm.Value) string {
	if val.IsNoneOrNil() {
		return "nil"
	}
	return val.ToString()
}

func baseToString(s vm.NativeState) (int, error) {
	s.PushString(toStringValue(s, s.Arg(0)))
	return 1, nil
}

func baseToNumber(s vm.NativeState) (int, error) {
	v := s.Arg(0)
	if base := s.Arg(1); !base.IsNoneOrNil() {
		str, err := s.CheckString(0)
		if err != nil {
			return 0, err
		}
		b, _ := base.ToNumber()
		n, ok := parseInBase(str, int(b))
		if !ok {
			s.Push(vm.Nil)
			return 1, nil
		}
		s.PushNumber(n)
		return 1, nil
	}
	if n, ok := v.ToNumber(); ok {
		s.PushNumber(n)
		return 1, nil
	}
	s.Push(vm.Nil)
	return 1, nil
}

func parseInBase(str string, base int) (float64, bool) {
	if base < 2 || base > 36 {
		return 0, false
	}
	var n int64
	str = trimBaseSpace(str)
	if str == "" {
		return 0, false
	}
	neg := false
	if str[0] == '-' || str[0] == '+' {
		neg = str[0] == '-'
		str = str[1:]
	}
	if str == "" {
		return 0, false
	}
	for i := 0; i < len(str); i++ {
		d := digitValue(str[i])
		if d < 0 || d >= base {
			return 0, false
		}
		n = n*int64(base) + int64(d)
	}
	if neg {
		n = -n
	}
	return float64(n), true
}

func trimBaseSpace(s string) string {
	for len(s) > 0 && (s[0] == ' ' || s[0] == '\t') {
		s = s[1:]
	}
	for len(s) > 0 && (s[len(s)-1] == ' ' || s[len(s)-1] == '\t') {
		s = s[:len(s)-1]
	}
	return s
}

func digitValue(b byte) int {
	switch {
	case b >= '0' && b <= '9':
		return int(b - '0')
	case b >= 'a' && b <= 'z':
		return int(b-'a') + 10
	case b >= 'A' && b <= 'Z':
		return int(b-'A') + 10
	default:
		return -1
	}
}

func baseNext(s vm.NativeState) (int, error) {
	t, err := s.CheckTable(0)
	if err != nil {
		return 0, err
	}
	k, v, ok := t.Next(s.Arg(1))
	if !ok {
		s.Push(vm.Nil)
		return 1, nil
	}
	s.Push(k)
	s.Push(v)
	return 2, nil
}

// baseINext is ipairs' iterator: given (t, i), returns (i+1, t[i+1]), or
// a single nil once t[i+1] is nil.
func baseINext(s vm.NativeState) (int, error) {
	t, err := s.CheckTable(0)
	if err != nil {
		return 0, err
	}
	n, err := s.CheckNumber(1)
	if err != nil {
		return 0, err
	}
	i := int(n) + 1
	val := t.Get(vm.NewNumber(float64(i)))
	if val.IsNil() {
		s.Push(vm.Nil)
		return 1, nil
	}
	s.PushNumber(float64(i))
	s.Push(val)
	return 2, nil
}

func baseSetMetatable(s vm.NativeState) (int, error) {
	t, err := s.CheckTable(0)
	if err != nil {
		return 0, err
	}
	mtArg := s.Arg(1)
	if mtArg.IsNil() {
		t.SetMetatable(nil)
		s.Push(s.Arg(0))
		return 1, nil
	}
	mt, err := s.CheckTable(1)
	if err != nil {
		return 0, err
	}
	t.SetMetatable(mt)
	s.Push(s.Arg(0))
	return 1, nil
}

func baseGetMetatable(s vm.NativeState) (int, error) {
	t, err := s.CheckTable(0)
	if err != nil {
		s.Push(vm.Nil)
		return 1, nil
	}
	mt := t.Metatable()
	if mt == nil {
		s.Push(vm.Nil)
		return 1, nil
	}
	s.Push(vm.NewTableValue(mt))
	return 1, nil
}

func baseRawGet(s vm.NativeState) (int, error) {
	t, err := s.CheckTable(0)
	if err != nil {
		return 0, err
	}
	s.Push(t.Get(s.Arg(1)))
	return 1, nil
}

func baseRawSet(s vm.NativeState) (int, error) {
	t, err := s.CheckTable(0)
	if err != nil {
		return 0, err
	}
	if err := t.Set(s.Arg(1), s.Arg(2)); err != nil {
		return 0, err
	}
	s.Push(s.Arg(0))
	return 1, nil
}

func baseRawEqual(s vm.NativeState) (int, error) {
	s.PushBoolean(s.Arg(0).Equals(s.Arg(1)))
	return 1, nil
}

func baseRawLen(s vm.NativeState) (int, error) {
	v := s.Arg(0)
	if v.IsString() {
		s.PushNumber(float64(len(v.AsString().Value())))
		return 1, nil
	}
	t, err := s.CheckTable(0)
	if err != nil {
		return 0, err
	}
	s.PushNumber(float64(t.Len()))
	return 1, nil
}

func baseError(s vm.NativeState) (int, error) {
	val := s.Arg(0)
	msg := toStringValue(s, val)
	return 0, &errors.RuntimeError{Msg: msg, RuntimeKind: errors.KindRuntimeError, Value: val}
}

func baseAssert(s vm.NativeState) (int, error) {
	if !s.Arg(0).Truthy() {
		msg := "assertion failed!"
		if s.ArgCount() > 1 {
			msg = toStringValue(s, s.Arg(1))
		}
		return 0, s.Error(errors.KindRuntimeError, msg)
	}
	for i := 0; i < s.ArgCount(); i++ {
		s.Push(s.Arg(i))
	}
	return s.ArgCount(), nil
}

func basePCall(s vm.NativeState) (int, error) {
	if s.ArgCount() == 0 {
		return 0, s.Error(errors.KindRuntimeError, "bad argument #1 to 'pcall' (value expected)")
	}
	fn := s.Arg(0)
	args := make([]vm.Value, 0, s.ArgCount()-1)
	for i := 1; i < s.ArgCount(); i++ {
		args = append(args, s.Arg(i))
	}
	results, err := s.Call(fn, args)
	if err != nil {
		s.PushBoolean(false)
		if le, ok := err.(*errors.RuntimeError); ok {
			if lv, ok := le.Value.(vm.Value); ok {
				s.Push(lv)
				return 2, nil
			}
		}
		if le, ok := err.(errors.LumenError); ok {
			s.PushString(le.Message())
		} else {
			s.PushString(err.Error())
		}
		return 2, nil
	}
	s.PushBoolean(true)
	for _, r := range results {
		s.Push(r)
	}
	return 1 + len(results), nil
}

func baseSelect(s vm.NativeState) (int, error) {
	first := s.Arg(0)
	if first.IsString() && first.AsString().Value() == "#" {
		s.PushNumber(float64(s.ArgCount() - 1))
		return 1, nil
	}
	n, err := s.CheckNumber(0)
	if err != nil {
		return 0, err
	}
	idx := int(n)
	if idx < 0 {
		idx = s.ArgCount() + idx
	}
	count := 0
	for i := idx; i < s.ArgCount(); i++ {
		s.Push(s.Arg(i))
		count++
	}
	return count, nil
}

func baseUnpack(s vm.NativeState) (int, error) {
	t, err := s.CheckTable(0)
	if err != nil {
		return 0, err
	}
	i := 1
	if !s.Arg(1).IsNoneOrNil() {
		n, _ := s.Arg(1).ToNumber()
		i = int(n)
	}
	j := t.Len()
	if !s.Arg(2).IsNoneOrNil() {
		n, _ := s.Arg(2).ToNumber()
		j = int(n)
	}
	count := 0
	for ; i <= j; i++ {
		s.Push(t.Get(vm.NewNumber(float64(i))))
		count++
	}
	return count, nil
}
