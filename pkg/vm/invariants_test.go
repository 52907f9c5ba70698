package vm

import "testing"

// Property 1: equal-content strings interned in one VM share identity.
func TestStringInterningIdentity(t *testing.T) {
	v := NewVM()
	s1 := v.InternString("abc")
	s2 := v.InternString("ab" + "c")
	if s1 != s2 {
		t.Fatalf("expected interned strings to share identity, got %p and %p", s1, s2)
	}
	if !NewStringValue(s1).Equals(NewStringValue(s2)) {
		t.Fatalf("equal interned strings must compare raw-equal")
	}
}

// Property 2/3: a table's array part has no nil holes below its length,
// and set(t, k, nil) removes the entry.
func TestTableLengthAndDelete(t *testing.T) {
	v := NewVM()
	tbl := v.NewTable()
	for i := 1; i <= 5; i++ {
		if err := tbl.Set(NewNumber(float64(i)), NewNumber(float64(i*10))); err != nil {
			t.Fatal(err)
		}
	}
	n := tbl.Len()
	for i := 1; i <= n; i++ {
		if tbl.Get(NewNumber(float64(i))).IsNil() {
			t.Fatalf("t[%d] must not be nil for n=%d", i, n)
		}
	}

	if err := tbl.Set(NewNumber(3), Nil); err != nil {
		t.Fatal(err)
	}
	if !tbl.Get(NewNumber(3)).IsNil() {
		t.Fatalf("expected t[3] nil after delete")
	}
}

// Property 4: truthy(v) = !(v == nil || v == false).
func TestTruthy(t *testing.T) {
	cases := []struct {
		v      Value
		truthy bool
	}{
		{Nil, false},
		{False, false},
		{True, true},
		{NewNumber(0), true},
		{NewNumber(1), true},
	}
	for _, c := range cases {
		if c.v.Truthy() != c.truthy {
			t.Errorf("Truthy(%v) = %v, want %v", c.v.ToString(), c.v.Truthy(), c.truthy)
		}
	}
}

// Property 5: next() traversal visits every non-nil entry exactly once and
// terminates with ok=false.
func TestNextRoundTrip(t *testing.T) {
	v := NewVM()
	tbl := v.NewTable()
	_ = tbl.Set(NewNumber(1), NewNumber(10))
	_ = tbl.Set(NewNumber(2), NewNumber(20))
	_ = tbl.Set(NewStringValue(v.InternString("x")), NewNumber(99))

	seen := map[string]bool{}
	k := Nil
	for {
		nk, nv, ok := tbl.Next(k)
		if !ok {
			break
		}
		seen[nk.ToString()+"="+nv.ToString()] = true
		k = nk
	}
	want := []string{"1=10", "2=20", "x=99"}
	if len(seen) != len(want) {
		t.Fatalf("expected %d entries visited, got %d (%v)", len(want), len(seen), seen)
	}
	for _, w := range want {
		if !seen[w] {
			t.Errorf("expected to visit %q", w)
		}
	}
}

// Property 6: a CALL expecting w results gets min(r,w) real values and
// nil padding for the rest, with stack_top advancing by exactly w-1.
func TestCallResultAdjustment(t *testing.T) {
	v := NewVM()
	th := v.MainThread()

	// callee: return 1, 2  (two constants, RETURN base=0 b=3)
	callee := v.NewProto()
	callee.NumParams = 0
	callee.MaxStackSize = 2
	callee.Constants = []Value{NewNumber(1), NewNumber(2)}
	callee.Code = []Instruction{
		NewABx(OpLoadK, 0, 0),
		NewABx(OpLoadK, 1, 1),
		NewABC(OpReturn, 0, 3, 0),
	}
	callee.Lines = []int{1, 1, 1}
	calleeCl := v.NewClosure(callee, nil)

	// caller wants 3 results from a 2-result call: CALL A=1 B=1 C=4.
	base := th.Top
	th.Stack[base] = NewClosureValue(calleeCl)
	th.Top = base + 1

	if err := v.CallInPlace(th, base, 0, 3); err != nil {
		t.Fatal(err)
	}
	if got := th.Top - base; got != 3 {
		t.Fatalf("stack_top advanced by %d, want 3 (w=3)", got)
	}
	if th.Stack[base].AsNumber() != 1 {
		t.Errorf("result[0] = %v, want 1", th.Stack[base].ToString())
	}
	if th.Stack[base+1].AsNumber() != 2 {
		t.Errorf("result[1] = %v, want 2", th.Stack[base+1].ToString())
	}
	if !th.Stack[base+2].IsNil() {
		t.Errorf("result[2] = %v, want nil padding", th.Stack[base+2].ToString())
	}
}

// Property 7: two closures sharing an open upvalue observe each other's
// writes, and continue to after the enclosing frame closes it.
func TestUpvalueSharing(t *testing.T) {
	v := NewVM()
	th := v.MainThread()

	base := th.Top
	th.ensureCapacity(base + 4)
	th.Stack[base] = NewNumber(0)

	uv := th.findOrCreateUpvalue(base)
	uv2 := th.findOrCreateUpvalue(base)
	if uv != uv2 {
		t.Fatalf("expected the same open upvalue object for one slot")
	}

	cl1 := v.NewClosure(v.NewProto(), []*UpValue{uv})
	cl2 := v.NewClosure(v.NewProto(), []*UpValue{uv})

	cl1.Upvalues[0].Set(NewNumber(42))
	if got := cl2.Upvalues[0].Get().AsNumber(); got != 42 {
		t.Fatalf("cl2 observed %v through shared upvalue, want 42", got)
	}

	th.closeUpvaluesFrom(base)
	if uv.IsOpen() {
		t.Fatalf("expected upvalue closed")
	}
	cl1.Upvalues[0].Set(NewNumber(7))
	if got := cl2.Upvalues[0].Get().AsNumber(); got != 7 {
		t.Fatalf("closed upvalue no longer shared: cl2 saw %v, want 7", got)
	}
}

// Property 8: after a GC cycle, only objects reachable from the roots
// (globals, registry, main-thread stack/upvalues) remain allocated.
func TestGCReachability(t *testing.T) {
	v := NewVM()
	reachable := v.NewTable()
	_ = v.Globals().Set(NewStringValue(v.InternString("keep")), NewTableValue(reachable))

	garbage := v.NewTable()
	_ = garbage.Set(NewNumber(1), NewNumber(1))

	v.Collector().Collect()

	if !IsAlive(v.Collector(), reachable) {
		t.Fatalf("expected globally-reachable table to survive GC")
	}
	if IsAlive(v.Collector(), garbage) {
		t.Fatalf("expected unreachable table to be collected")
	}
}
