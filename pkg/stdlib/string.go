package stdlib

import (
	"fmt"
	"strconv"
	"strings"

	"lumen/pkg/errors"
	"lumen/pkg/vm"
)

// stringLibrary installs the "string" table. Pattern matching (find,
// match, gmatch, gsub) is out of scope: the compiler subset this module
// ships with has no pattern-literal support for them to operate on, so
// only the plain string operations are implemented.
type stringLibrary struct{}

func (stringLibrary) Name() string  { return "string" }
func (stringLibrary) Priority() int { return PriorityString }

func (stringLibrary) Register(v *vm.VM) {
	t := newLibTable(v, "string")
	register(v, t, "len", stringLen)
	register(v, t, "sub", stringSub)
	register(v, t, "upper", stringUpper)
	register(v, t, "lower", stringLower)
	register(v, t, "rep", stringRep)
	register(v, t, "reverse", stringReverse)
	register(v, t, "byte", stringByte)
	register(v, t, "char", stringChar)
	register(v, t, "format", stringFormat)
}

func stringLen(s vm.NativeState) (int, error) {
	str, err := s.CheckString(0)
	if err != nil {
		return 0, err
	}
	s.PushNumber(float64(len(str)))
	return 1, nil
}

// strIndex converts a Lua string index (1-based, negative counts from
// the end) into a 0-based Go offset clamped to [0, length].
func strIndex(i, length int) int {
	if i < 0 {
		i = length + i + 1
	}
	if i < 1 {
		i = 1
	}
	if i > length+1 {
		i = length + 1
	}
	return i - 1
}

func stringSub(s vm.NativeState) (int, error) {
	str, err := s.CheckString(0)
	if err != nil {
		return 0, err
	}
	i := int(s.OptNumber(1, 1))
	j := int(s.OptNumber(2, -1))
	length := len(str)
	start := strIndex(i, length)
	end := j
	if end < 0 {
		end = length + end + 1
	}
	if end > length {
		end = length
	}
	if start >= end {
		s.PushString("")
		return 1, nil
	}
	s.PushString(str[start:end])
	return 1, nil
}

func stringUpper(s vm.NativeState) (int, error) {
	str, err := s.CheckString(0)
	if err != nil {
		return 0, err
	}
	s.PushString(strings.ToUpper(str))
	return 1, nil
}

func stringLower(s vm.NativeState) (int, error) {
	str, err := s.CheckString(0)
	if err != nil {
		return 0, err
	}
	s.PushString(strings.ToLower(str))
	return 1, nil
}

func stringRep(s vm.NativeState) (int, error) {
	str, err := s.CheckString(0)
	if err != nil {
		return 0, err
	}
	n, err := s.CheckNumber(1)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		s.PushString("")
		return 1, nil
	}
	s.PushString(strings.Repeat(str, int(n)))
	return 1, nil
}

func stringReverse(s vm.NativeState) (int, error) {
	str, err := s.CheckString(0)
	if err != nil {
		return 0, err
	}
	b := []byte(str)
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
	s.PushString(string(b))
	return 1, nil
}

func stringByte(s vm.NativeState) (int, error) {
	str, err := s.CheckString(0)
	if err != nil {
		return 0, err
	}
	i := int(s.OptNumber(1, 1))
	j := int(s.OptNumber(2, float64(i)))
	length := len(str)
	start := strIndex(i, length)
	end := j
	if end < 0 {
		end = length + end + 1
	}
	if end > length {
		end = length
	}
	count := 0
	for pos := start; pos < end; pos++ {
		s.PushNumber(float64(str[pos]))
		count++
	}
	return count, nil
}

func stringChar(s vm.NativeState) (int, error) {
	b := make([]byte, s.ArgCount())
	for i := 0; i < s.ArgCount(); i++ {
		n, err := s.CheckNumber(i)
		if err != nil {
			return 0, err
		}
		b[i] = byte(n)
	}
	s.PushString(string(b))
	return 1, nil
}

// stringFormat supports the directives a compiler-subset runtime actually
// needs: %s, %d/%i, %f, %g, %x/%X, %o, %c, %q, and %%. Field widths and
// precision (e.g. %5.2f) pass through to Go's own formatter verbatim.
func stringFormat(s vm.NativeState) (int, error) {
	format, err := s.CheckString(0)
	if err != nil {
		return 0, err
	}
	var out strings.Builder
	arg := 1
	for i := 0; i < len(format); i++ {
		c := format[i]
		if c != '%' {
			out.WriteByte(c)
			continue
		}
		start := i
		i++
		for i < len(format) && strings.IndexByte("-+ #0123456789.", format[i]) >= 0 {
			i++
		}
		if i >= len(format) {
			return 0, s.Error(errors.KindRuntimeError, "invalid format string to 'format'")
		}
		verb := format[i]
		spec := format[start : i+1]
		if verb == '%' {
			out.WriteByte('%')
			continue
		}
		if err := formatOne(&out, s, spec, verb, &arg); err != nil {
			return 0, err
		}
	}
	s.PushString(out.String())
	return 1, nil
}

func formatOne(out *strings.Builder, s vm.NativeState, spec string, verb byte, arg *int) error {
	idx := *arg
	*arg++
	switch verb {
	case 'd', 'i':
		n, err := s.CheckNumber(idx)
		if err != nil {
			return err
		}
		out.WriteString(fmt.Sprintf(spec[:len(spec)-1]+"d", int64(n)))
	case 'x', 'X', 'o':
		n, err := s.CheckNumber(idx)
		if err != nil {
			return err
		}
		out.WriteString(fmt.Sprintf(spec, int64(n)))
	case 'f', 'g', 'e', 'G', 'E':
		n, err := s.CheckNumber(idx)
		if err != nil {
			return err
		}
		out.WriteString(fmt.Sprintf(spec, n))
	case 'c':
		n, err := s.CheckNumber(idx)
		if err != nil {
			return err
		}
		out.WriteByte(byte(n))
	case 's':
		str, err := s.CheckString(idx)
		if err != nil {
			return err
		}
		out.WriteString(fmt.Sprintf(spec, str))
	case 'q':
		str, err := s.CheckString(idx)
		if err != nil {
			return err
		}
		out.WriteString(strconv.Quote(str))
	default:
		return s.Error(errors.KindRuntimeError, "invalid conversion to 'format'")
	}
	return nil
}
