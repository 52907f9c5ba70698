package state_test

import (
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lumen/pkg/state"
	"lumen/pkg/vm"
)

// captureStdout redirects os.Stdout for the duration of f and returns
// whatever was written, for asserting against print()'s literal output.
func captureStdout(t *testing.T, f func()) string {
	t.Helper()
	r, w, err := os.Pipe()
	require.NoError(t, err)
	old := os.Stdout
	os.Stdout = w
	f()
	os.Stdout = old
	_ = w.Close()
	out, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(out)
}

func TestScenarioA_Print(t *testing.T) {
	s := state.New()
	out := captureStdout(t, func() {
		require.NoError(t, s.DoString(`print("hello")`, "a"))
	})
	assert.Equal(t, "hello\n", out)
}

func TestScenarioB_TableLenAndIndex(t *testing.T) {
	s := state.New()
	out := captureStdout(t, func() {
		require.NoError(t, s.DoString(`local t = {10,20,30}; print(#t, t[2])`, "b"))
	})
	assert.Equal(t, "3\t20\n", out)
}

func TestScenarioC_ClosureCapturesUpvalue(t *testing.T) {
	s := state.New()
	out := captureStdout(t, func() {
		err := s.DoString(`
			local function mk() local x=0; return function() x=x+1; return x end end
			local f=mk()
			print(f(),f(),f())
		`, "c")
		require.NoError(t, err)
	})
	assert.Equal(t, "1\t2\t3\n", out)
}

func TestScenarioD_NumericForAndCall(t *testing.T) {
	s := state.New()
	out := captureStdout(t, func() {
		err := s.DoString(`
			local function io_sentinel_print(v) print(v) end
			for i=1,3 do io_sentinel_print(i*i) end
		`, "d")
		require.NoError(t, err)
	})
	assert.Equal(t, "1\n4\n9\n", out)
}

func TestScenarioE_CyclicTablesCollected(t *testing.T) {
	s := state.New()
	require.NoError(t, s.DoString(`a = {}; b = {}; a.b = b; b.a = a`, "e1"))

	s.GetGlobal("a")
	aTab := s.Get(-1).AsTable()
	s.Pop(1)
	s.GetGlobal("b")
	bTab := s.Get(-1).AsTable()
	s.Pop(1)
	require.NotNil(t, aTab)
	require.NotNil(t, bTab)

	require.NoError(t, s.DoString(`a = nil; b = nil`, "e2"))
	s.VM.Collector().Collect()

	assert.False(t, vm.IsAlive(s.VM.Collector(), aTab), "cyclic table 'a' should be collected once unreachable")
	assert.False(t, vm.IsAlive(s.VM.Collector(), bTab), "cyclic table 'b' should be collected once unreachable")
}

func TestScenarioF_StringInterningAndRawEqual(t *testing.T) {
	s := state.New()
	out := captureStdout(t, func() {
		err := s.DoString(`
			local s1="abc"; local s2="ab".."c"
			print(s1==s2, rawequal(s1,s2))
		`, "f")
		require.NoError(t, err)
	})
	assert.Equal(t, "true\ttrue\n", out)
}
