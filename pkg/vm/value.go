package vm

import (
	"fmt"
	"math"
	"strconv"
	"unsafe"
)

// ValueType tags the variant a Value currently holds.
type ValueType uint8

const (
	TypeNil ValueType = iota
	// TypeNone is the "absent" sentinel distinct from nil: stack slots at
	// or above the top of a frame's live region read as None, never Nil.
	TypeNone
	TypeBoolean
	TypeNumber
	TypeLightUserData
	TypeString
	TypeTable
	TypeClosure
	TypeCClosure
	TypeUserData
	TypeThread
)

func (t ValueType) String() string {
	switch t {
	case TypeNil:
		return "nil"
	case TypeNone:
		return "no value"
	case TypeBoolean:
		return "boolean"
	case TypeNumber:
		return "number"
	case TypeLightUserData:
		return "userdata"
	case TypeString:
		return "string"
	case TypeTable:
		return "table"
	case TypeClosure, TypeCClosure:
		return "function"
	case TypeUserData:
		return "userdata"
	case TypeThread:
		return "thread"
	default:
		return "unknown"
	}
}

// Value is the tagged union at the center of the data model: a uniform,
// fixed-size representation whatever variant it holds, so dispatch on the
// tag is O(1) and copying a Value never allocates. Heap variants carry an
// unsafe.Pointer to the referenced object rather than a Go interface,
// avoiding the extra indirection/allocation an interface{} would impose;
// Go's garbage collector still sees the pointer and keeps the referent
// alive for as long as any Value (or anything else) points at it, which
// is what lets our own Collector be purely about Lua-level reachability
// bookkeeping rather than memory safety.
type Value struct {
	typ ValueType
	num float64
	ptr unsafe.Pointer
}

var (
	Nil  = Value{typ: TypeNil}
	None = Value{typ: TypeNone}
	True  = Value{typ: TypeBoolean, num: 1}
	False = Value{typ: TypeBoolean, num: 0}
)

func NewBoolean(b bool) Value {
	if b {
		return True
	}
	return False
}

func NewNumber(n float64) Value { return Value{typ: TypeNumber, num: n} }

func NewLightUserData(p unsafe.Pointer) Value { return Value{typ: TypeLightUserData, ptr: p} }

// newObjectValue boxes o behind a single pointer, reusing the box cached
// on o's own header so that every Value built from the same underlying
// object carries the identical ptr bit pattern. Value.Equals and Table's
// map-keyed hash part both compare/key Values by that ptr (the latter via
// Go's native struct equality, which has no way to call Equals), so two
// separately-constructed Values for one interned string or table would
// otherwise never compare equal or hash together.
func newObjectValue(typ ValueType, o gcObject) Value {
	h := o.header()
	if h.box == nil {
		h.box = &objBox{o}
	}
	return Value{typ: typ, ptr: unsafe.Pointer(h.box)}
}

func NewStringValue(s *String) Value   { return newObjectValue(TypeString, s) }
func NewTableValue(t *Table) Value     { return newObjectValue(TypeTable, t) }
func NewClosureValue(c *Closure) Value { return newObjectValue(TypeClosure, c) }
func NewCClosureValue(c *CClosure) Value { return newObjectValue(TypeCClosure, c) }
func NewUserDataValue(u *UserData) Value { return newObjectValue(TypeUserData, u) }
func NewThreadValue(th *Thread) Value  { return newObjectValue(TypeThread, th) }

// objBox indirects a gcObject interface value behind a single pointer so
// it fits in Value.ptr; an interface value itself is two words and can't
// be stored in unsafe.Pointer directly.
type objBox struct{ o gcObject }

func (v Value) box() *objBox {
	if v.ptr == nil {
		return nil
	}
	return (*objBox)(v.ptr)
}

// gcObject returns the heap object this Value references, or nil for
// value types and light userdata.
func (v Value) gcObject() gcObject {
	switch v.typ {
	case TypeString, TypeTable, TypeClosure, TypeCClosure, TypeUserData, TypeThread:
		if b := v.box(); b != nil {
			return b.o
		}
	}
	return nil
}

func (v Value) Type() ValueType { return v.typ }
func (v Value) IsNil() bool     { return v.typ == TypeNil }
func (v Value) IsNone() bool    { return v.typ == TypeNone }
func (v Value) IsNoneOrNil() bool { return v.typ == TypeNil || v.typ == TypeNone }
func (v Value) IsBoolean() bool { return v.typ == TypeBoolean }
func (v Value) IsNumber() bool  { return v.typ == TypeNumber }
func (v Value) IsString() bool  { return v.typ == TypeString }
func (v Value) IsTable() bool   { return v.typ == TypeTable }
func (v Value) IsFunction() bool {
	return v.typ == TypeClosure || v.typ == TypeCClosure
}
func (v Value) IsUserData() bool { return v.typ == TypeUserData || v.typ == TypeLightUserData }
func (v Value) IsThread() bool   { return v.typ == TypeThread }

// Truthy implements Lua's truthiness rule: only nil and false are falsy.
func (v Value) Truthy() bool {
	return !(v.typ == TypeNil || v.typ == TypeNone || (v.typ == TypeBoolean && v.num == 0))
}

func (v Value) AsBoolean() bool { return v.num != 0 }
func (v Value) AsNumber() float64 { return v.num }

func (v Value) AsString() *String {
	if v.typ != TypeString {
		return nil
	}
	return v.box().o.(*String)
}

func (v Value) AsTable() *Table {
	if v.typ != TypeTable {
		return nil
	}
	return v.box().o.(*Table)
}

func (v Value) AsClosure() *Closure {
	if v.typ != TypeClosure {
		return nil
	}
	return v.box().o.(*Closure)
}

func (v Value) AsCClosure() *CClosure {
	if v.typ != TypeCClosure {
		return nil
	}
	return v.box().o.(*CClosure)
}

func (v Value) AsUserData() *UserData {
	if v.typ != TypeUserData {
		return nil
	}
	return v.box().o.(*UserData)
}

func (v Value) AsThread() *Thread {
	if v.typ != TypeThread {
		return nil
	}
	return v.box().o.(*Thread)
}

func (v Value) AsLightUserData() unsafe.Pointer { return v.ptr }

// ToNumber attempts Lua's string->number coercion in addition to the
// identity case; used by arithmetic and the embedding API's ToNumber.
func (v Value) ToNumber() (float64, bool) {
	switch v.typ {
	case TypeNumber:
		return v.num, true
	case TypeString:
		return parseLuaNumber(v.AsString().Value())
	default:
		return 0, false
	}
}

func parseLuaNumber(s string) (float64, bool) {
	trimmed := trimSpace(s)
	if trimmed == "" {
		return 0, false
	}
	n, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func trimSpace(s string) string {
	start, end := 0, len(s)
	for start < end && isSpaceByte(s[start]) {
		start++
	}
	for end > start && isSpaceByte(s[end-1]) {
		end--
	}
	return s[start:end]
}

func isSpaceByte(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r' || b == '\v' || b == '\f'
}

// Equals implements raw equality: numbers and booleans compare by value,
// strings compare by interned identity (equal hash+bytes implies the same
// object, so pointer comparison suffices), everything else compares by
// reference identity.
func (v Value) Equals(other Value) bool {
	if v.typ != other.typ {
		// Lua does not consider numbers and strings inter-comparable for
		// raw equality even when coercible.
		return false
	}
	switch v.typ {
	case TypeNil, TypeNone:
		return true
	case TypeBoolean, TypeNumber:
		return v.num == other.num
	case TypeLightUserData:
		return v.ptr == other.ptr
	default:
		return v.ptr == other.ptr
	}
}

// Less defines ordering for the two cases the spec allows: two numbers or
// two strings. ok is false for any other pairing.
func (v Value) Less(other Value) (less bool, ok bool) {
	if v.typ != other.typ {
		return false, false
	}
	switch v.typ {
	case TypeNumber:
		return v.num < other.num, true
	case TypeString:
		return v.AsString().Value() < other.AsString().Value(), true
	default:
		return false, false
	}
}

func (v Value) LessEqual(other Value) (le bool, ok bool) {
	if v.typ != other.typ {
		return false, false
	}
	switch v.typ {
	case TypeNumber:
		return v.num <= other.num, true
	case TypeString:
		return v.AsString().Value() <= other.AsString().Value(), true
	default:
		return false, false
	}
}

// ToString renders a Value the way Lua's tostring() would for primitive
// types; tables/functions print a tag plus an identity-ish address so two
// distinct objects never print the same thing.
func (v Value) ToString() string {
	switch v.typ {
	case TypeNil:
		return "nil"
	case TypeNone:
		return "no value"
	case TypeBoolean:
		if v.AsBoolean() {
			return "true"
		}
		return "false"
	case TypeNumber:
		return formatLuaNumber(v.num)
	case TypeString:
		return v.AsString().Value()
	case TypeTable:
		return fmt.Sprintf("table: %p", v.ptr)
	case TypeClosure:
		return fmt.Sprintf("function: %p", v.ptr)
	case TypeCClosure:
		return fmt.Sprintf("function: builtin: %p", v.ptr)
	case TypeUserData:
		return fmt.Sprintf("userdata: %p", v.ptr)
	case TypeLightUserData:
		return fmt.Sprintf("userdata: %p", v.ptr)
	case TypeThread:
		return fmt.Sprintf("thread: %p", v.ptr)
	default:
		return "?"
	}
}

func formatLuaNumber(n float64) string {
	if math.IsNaN(n) {
		return "nan"
	}
	if math.IsInf(n, 1) {
		return "inf"
	}
	if math.IsInf(n, -1) {
		return "-inf"
	}
	if n == math.Trunc(n) && math.Abs(n) < 1e15 {
		return strconv.FormatFloat(n, 'f', -1, 64)
	}
	return strconv.FormatFloat(n, 'g', 14, 64)
}

// isArrayIndex reports whether n is integral and within the table's array
// index range: n >= 1, n == trunc(n), n <= threshold.
func isArrayIndex(n float64, threshold int) (idx int, ok bool) {
	if n != math.Trunc(n) || n < 1 || n > float64(threshold) {
		return 0, false
	}
	return int(n), true
}
