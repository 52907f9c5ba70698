package compiler_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lumen/pkg/compiler"
	"lumen/pkg/source"
	"lumen/pkg/stdlib"
	"lumen/pkg/vm"
)

// run compiles src as a chunk, calls it with no arguments, and returns
// whatever results the chunk's own implicit top-level return surfaces.
// The standard library is opened so chunks exercising generic-for/ipairs
// sugar have something to iterate with.
func run(t *testing.T, src string) []vm.Value {
	t.Helper()
	v := vm.NewVM()
	stdlib.Open(v)
	file := source.NewFile("<test>", "", src)
	proto, err := compiler.Compile(file, v)
	require.NoError(t, err, "compile %q", src)

	th := v.MainThread()
	base := th.Top
	cl := v.NewClosure(proto, nil)
	th.Stack[base] = vm.NewClosureValue(cl)
	th.Top = base + 1
	require.NoError(t, v.CallInPlace(th, base, 0, -1))
	results := make([]vm.Value, th.Top-base)
	copy(results, th.Stack[base:th.Top])
	th.Top = base
	return results
}

func TestArithmeticPrecedenceAndGrouping(t *testing.T) {
	res := run(t, "return 1 + 2 * 3, (1 + 2) * 3, 2 ^ 3 ^ 2, -2 ^ 2")
	require.Len(t, res, 4)
	assert.Equal(t, float64(7), res[0].AsNumber())
	assert.Equal(t, float64(9), res[1].AsNumber())
	assert.Equal(t, float64(512), res[2].AsNumber()) // right-assoc: 2^(3^2)
	assert.Equal(t, float64(-4), res[3].AsNumber())  // unary binds looser than ^
}

func TestComparisonAndLogicalOperators(t *testing.T) {
	res := run(t, "return 1 < 2, 2 <= 2, 3 > 4, nil and 1, false or 5, 1 and 2")
	require.Len(t, res, 6)
	assert.True(t, res[0].AsBoolean())
	assert.True(t, res[1].AsBoolean())
	assert.False(t, res[2].AsBoolean())
	assert.True(t, res[3].IsNil())
	assert.Equal(t, float64(5), res[4].AsNumber())
	assert.Equal(t, float64(2), res[5].AsNumber())
}

func TestStringConcatenation(t *testing.T) {
	res := run(t, `return "a" .. "b" .. "c", 1 .. 2`)
	require.Len(t, res, 2)
	assert.Equal(t, "abc", res[0].ToString())
	assert.Equal(t, "12", res[1].ToString())
}

func TestTableConstructorMixedFields(t *testing.T) {
	res := run(t, `
		local t = {1, 2, x = 10, [100] = "far", 3}
		return t[1], t[2], t[3], t.x, t[100], #t
	`)
	require.Len(t, res, 6)
	assert.Equal(t, float64(1), res[0].AsNumber())
	assert.Equal(t, float64(2), res[1].AsNumber())
	assert.Equal(t, float64(3), res[2].AsNumber())
	assert.Equal(t, float64(10), res[3].AsNumber())
	assert.Equal(t, "far", res[4].ToString())
	assert.Equal(t, float64(3), res[5].AsNumber())
}

func TestIfElseifElse(t *testing.T) {
	src := `
		local function classify(n)
			if n < 0 then return "neg"
			elseif n == 0 then return "zero"
			else return "pos"
			end
		end
		return classify(-1), classify(0), classify(1)
	`
	res := run(t, src)
	require.Len(t, res, 3)
	assert.Equal(t, "neg", res[0].ToString())
	assert.Equal(t, "zero", res[1].ToString())
	assert.Equal(t, "pos", res[2].ToString())
}

func TestWhileAndRepeatUntil(t *testing.T) {
	src := `
		local i, sum = 0, 0
		while i < 5 do
			i = i + 1
			sum = sum + i
		end
		local j = 0
		repeat
			j = j + 1
		until j >= 3
		return sum, j
	`
	res := run(t, src)
	require.Len(t, res, 2)
	assert.Equal(t, float64(15), res[0].AsNumber())
	assert.Equal(t, float64(3), res[1].AsNumber())
}

func TestNumericForWithStep(t *testing.T) {
	res := run(t, `
		local acc = {}
		local n = 0
		for i = 10, 1, -3 do
			n = n + 1
		end
		return n
	`)
	require.Len(t, res, 1)
	assert.Equal(t, float64(4), res[0].AsNumber()) // 10,7,4,1
}

func TestGenericForOverIpairs(t *testing.T) {
	res := run(t, `
		local t = {10, 20, 30}
		local sum = 0
		for k, v in ipairs(t) do
			sum = sum + v
		end
		return sum
	`)
	require.Len(t, res, 1)
	assert.Equal(t, float64(60), res[0].AsNumber())
}

func TestClosuresAndUpvalueCapture(t *testing.T) {
	res := run(t, `
		local function counter()
			local n = 0
			return function()
				n = n + 1
				return n
			end
		end
		local c1 = counter()
		local c2 = counter()
		return c1(), c1(), c2()
	`)
	require.Len(t, res, 3)
	assert.Equal(t, float64(1), res[0].AsNumber())
	assert.Equal(t, float64(2), res[1].AsNumber())
	assert.Equal(t, float64(1), res[2].AsNumber())
}

func TestMethodCallSugar(t *testing.T) {
	res := run(t, `
		local obj = {x = 10}
		function obj:getX()
			return self.x
		end
		return obj:getX()
	`)
	require.Len(t, res, 1)
	assert.Equal(t, float64(10), res[0].AsNumber())
}

func TestNestedTableFieldAssignment(t *testing.T) {
	res := run(t, `
		local t = {a = {b = {}}}
		t.a.b.c = 42
		return t.a.b.c
	`)
	require.Len(t, res, 1)
	assert.Equal(t, float64(42), res[0].AsNumber())
}

func TestBreakExitsLoop(t *testing.T) {
	res := run(t, `
		local n = 0
		for i = 1, 100 do
			if i > 3 then break end
			n = i
		end
		return n
	`)
	require.Len(t, res, 1)
	assert.Equal(t, float64(3), res[0].AsNumber())
}

func TestMultipleAssignmentAndReturn(t *testing.T) {
	res := run(t, `
		local function two() return 1, 2 end
		local a, b, c = two()
		return a, b, c
	`)
	require.Len(t, res, 3)
	assert.Equal(t, float64(1), res[0].AsNumber())
	assert.Equal(t, float64(2), res[1].AsNumber())
	assert.True(t, res[2].IsNil())
}
