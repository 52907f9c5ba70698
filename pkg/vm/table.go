package vm

import "lumen/pkg/errors"

// ArrayThreshold is the fixed boundary (spec section 3) below which an
// integer key lives in the table's dense array part; integer keys beyond
// it spill into the hash part.
const ArrayThreshold = 50

// Table is the hybrid array+hash container backing every Lua table
// value: a dense 1-based array part for small positive integer keys and a
// hash part for everything else. Iteration order over the hash part is
// insertion order, which is what lets next() be stable within one
// traversal (spec property 5) without pinning to Go's randomized map
// order.
type Table struct {
	gcHeader

	array []Value // array[i] holds key i+1

	hashOrder []Value
	hashPos   map[Value]int
	hashVal   map[Value]Value

	metatable *Table
}

func newTable() *Table {
	return &Table{hashPos: make(map[Value]int), hashVal: make(map[Value]Value)}
}

func (t *Table) traceChildren(c *Collector) {
	if t.metatable != nil {
		c.mark(t.metatable)
	}
	for _, v := range t.array {
		c.markValue(v)
	}
	for _, k := range t.hashOrder {
		c.markValue(k)
		if v, ok := t.hashVal[k]; ok {
			c.markValue(v)
		}
	}
}

func (t *Table) typeName() string { return "table" }

// Metatable returns the table's metatable, or nil if unset. Metatables
// are stored but left inert for arithmetic/comparison per the spec's
// non-goals; Get/Set/Len never consult them.
func (t *Table) Metatable() *Table      { return t.metatable }
func (t *Table) SetMetatable(mt *Table) { t.metatable = mt }

// Get looks up k, bypassing the hash part for in-range integer keys.
func (t *Table) Get(k Value) Value {
	if k.IsNumber() {
		if idx, ok := isArrayIndex(k.AsNumber(), ArrayThreshold); ok {
			if idx <= len(t.array) {
				return t.array[idx-1]
			}
			return Nil
		}
	}
	if v, ok := t.hashVal[k]; ok {
		return v
	}
	return Nil
}

// GetStr is a convenience for string-keyed lookups (library tables,
// GETFIELD-shaped access) so callers holding a *String need not build an
// intermediate Value by hand.
func (t *Table) GetStr(s *String) Value { return t.Get(NewStringValue(s)) }

// Set implements the spec's write rule: set(k=nil, v) is an error;
// set(k, nil) removes k from the hash part or nils the array slot.
func (t *Table) Set(k, v Value) error {
	if k.IsNil() || k.IsNone() {
		return &errors.RuntimeError{Msg: "table index is nil", RuntimeKind: errors.KindTableIndexIsNil}
	}
	if k.IsNumber() {
		n := k.AsNumber()
		if n != n { // NaN
			return &errors.RuntimeError{Msg: "table index is NaN", RuntimeKind: errors.KindTableIndexIsNil}
		}
		if idx, ok := isArrayIndex(n, ArrayThreshold); ok {
			t.setArray(idx, v)
			return nil
		}
	}
	t.setHash(k, v)
	return nil
}

func (t *Table) setArray(idx int, v Value) {
	for len(t.array) < idx {
		t.array = append(t.array, Nil)
	}
	t.array[idx-1] = v
}

func (t *Table) setHash(k, v Value) {
	if v.IsNil() {
		delete(t.hashVal, k)
		return
	}
	if _, seen := t.hashPos[k]; !seen {
		t.hashPos[k] = len(t.hashOrder)
		t.hashOrder = append(t.hashOrder, k)
	}
	t.hashVal[k] = v
}

// Len returns a border: the largest n >= 1 such that array[n] != nil,
// found by reverse linear scan of the array part alone. This is a border,
// not a cardinality count; tables with holes in the array part may have
// more than one valid border, and callers must not treat the result as a
// count of all entries (spec section 4.2).
func (t *Table) Len() int {
	for i := len(t.array); i > 0; i-- {
		if !t.array[i-1].IsNil() {
			return i
		}
	}
	return 0
}

// Next implements the pairs() iteration primitive: Next(Nil) returns the
// first entry (array part first, then hash part); Next(k) returns the
// entry immediately following k. ok is false once iteration is exhausted.
func (t *Table) Next(k Value) (nextKey, nextVal Value, ok bool) {
	if k.IsNil() || k.IsNone() {
		if nk, nv, found := t.firstArrayFrom(0); found {
			return nk, nv, true
		}
		return t.firstHashFrom(0)
	}

	if k.IsNumber() {
		if idx, inArray := isArrayIndex(k.AsNumber(), ArrayThreshold); inArray {
			if nk, nv, found := t.firstArrayFrom(idx); found {
				return nk, nv, true
			}
			return t.firstHashFrom(0)
		}
	}

	if pos, seen := t.hashPos[k]; seen {
		return t.firstHashFrom(pos + 1)
	}

	return Nil, Nil, false
}

func (t *Table) firstArrayFrom(idx int) (Value, Value, bool) {
	for i := idx; i < len(t.array); i++ {
		if !t.array[i].IsNil() {
			return NewNumber(float64(i + 1)), t.array[i], true
		}
	}
	return Nil, Nil, false
}

func (t *Table) firstHashFrom(pos int) (Value, Value, bool) {
	for i := pos; i < len(t.hashOrder); i++ {
		key := t.hashOrder[i]
		if v, live := t.hashVal[key]; live {
			return key, v, true
		}
	}
	return Nil, Nil, false
}
