package stdlib

import (
	"math"
	"math/rand"

	"lumen/pkg/errors"
	"lumen/pkg/vm"
)

// mathLibrary installs the "math" table: Lua 5.1's trig/rounding/random
// functions plus the pi/huge constants, grouped the way the teacher's
// registerMath groups its Math object's constants then methods.
type mathLibrary struct{}

func (mathLibrary) Name() string  { return "math" }
func (mathLibrary) Priority() int { return PriorityMath }

func (mathLibrary) Register(v *vm.VM) {
	m := newLibTable(v, "math")

	_ = m.Set(vm.NewStringValue(v.InternString("pi")), vm.NewNumber(math.Pi))
	_ = m.Set(vm.NewStringValue(v.InternString("huge")), vm.NewNumber(math.Inf(1)))

	register(v, m, "abs", math1(math.Abs))
	register(v, m, "ceil", math1(math.Ceil))
	register(v, m, "floor", math1(math.Floor))
	register(v, m, "sqrt", math1(math.Sqrt))
	register(v, m, "sin", math1(math.Sin))
	register(v, m, "cos", math1(math.Cos))
	register(v, m, "tan", math1(math.Tan))
	register(v, m, "asin", math1(math.Asin))
	register(v, m, "acos", math1(math.Acos))
	register(v, m, "atan", math1(math.Atan))
	register(v, m, "exp", math1(math.Exp))
	register(v, m, "log", mathLog)
	register(v, m, "pow", mathPow)
	register(v, m, "fmod", mathFmod)
	register(v, m, "modf", mathModf)
	register(v, m, "max", mathMax)
	register(v, m, "min", mathMin)
	register(v, m, "random", mathRandom)
	register(v, m, "randomseed", mathRandomSeed)
}

// math1 lifts a single-argument float64 transform into a NativeFunc,
// covering the bulk of the library's unary functions.
func math1(f func(float64) float64) vm.NativeFunc {
	return func(s vm.NativeState) (int, error) {
		n, err := s.CheckNumber(0)
		if err != nil {
			return 0, err
		}
		s.PushNumber(f(n))
		return 1, nil
	}
}

func mathLog(s vm.NativeState) (int, error) {
	x, err := s.CheckNumber(0)
	if err != nil {
		return 0, err
	}
	if s.ArgCount() > 1 {
		base, err := s.CheckNumber(1)
		if err != nil {
			return 0, err
		}
		s.PushNumber(math.Log(x) / math.Log(base))
		return 1, nil
	}
	s.PushNumber(math.Log(x))
	return 1, nil
}

func mathPow(s vm.NativeState) (int, error) {
	x, err := s.CheckNumber(0)
	if err != nil {
		return 0, err
	}
	y, err := s.CheckNumber(1)
	if err != nil {
		return 0, err
	}
	s.PushNumber(math.Pow(x, y))
	return 1, nil
}

func mathFmod(s vm.NativeState) (int, error) {
	x, err := s.CheckNumber(0)
	if err != nil {
		return 0, err
	}
	y, err := s.CheckNumber(1)
	if err != nil {
		return 0, err
	}
	s.PushNumber(math.Mod(x, y))
	return 1, nil
}

func mathModf(s vm.NativeState) (int, error) {
	x, err := s.CheckNumber(0)
	if err != nil {
		return 0, err
	}
	ip, fp := math.Modf(x)
	s.PushNumber(ip)
	s.PushNumber(fp)
	return 2, nil
}

func mathMax(s vm.NativeState) (int, error) {
	if s.ArgCount() == 0 {
		return 0, s.Error(errors.KindRuntimeError, "bad argument #1 to 'max' (value expected)")
	}
	best, err := s.CheckNumber(0)
	if err != nil {
		return 0, err
	}
	for i := 1; i < s.ArgCount(); i++ {
		n, err := s.CheckNumber(i)
		if err != nil {
			return 0, err
		}
		if n > best {
			best = n
		}
	}
	s.PushNumber(best)
	return 1, nil
}

func mathMin(s vm.NativeState) (int, error) {
	if s.ArgCount() == 0 {
		return 0, s.Error(errors.KindRuntimeError, "bad argument #1 to 'min' (value expected)")
	}
	best, err := s.CheckNumber(0)
	if err != nil {
		return 0, err
	}
	for i := 1; i < s.ArgCount(); i++ {
		n, err := s.CheckNumber(i)
		if err != nil {
			return 0, err
		}
		if n < best {
			best = n
		}
	}
	s.PushNumber(best)
	return 1, nil
}

func mathRandom(s vm.NativeState) (int, error) {
	switch s.ArgCount() {
	case 0:
		s.PushNumber(rand.Float64())
	case 1:
		m, err := s.CheckNumber(0)
		if err != nil {
			return 0, err
		}
		s.PushNumber(float64(1 + rand.Intn(int(m))))
	default:
		lo, err := s.CheckNumber(0)
		if err != nil {
			return 0, err
		}
		hi, err := s.CheckNumber(1)
		if err != nil {
			return 0, err
		}
		s.PushNumber(float64(int(lo) + rand.Intn(int(hi)-int(lo)+1)))
	}
	return 1, nil
}

func mathRandomSeed(s vm.NativeState) (int, error) {
	n, err := s.CheckNumber(0)
	if err != nil {
		return 0, err
	}
	rand.Seed(int64(n))
	return 0, nil
}
