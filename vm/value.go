package vm

import (
	"fmt"
	"math"
	"strconv"
)

// ---------------------------------------------------------------------------
// Value: tagged operand slot
// ---------------------------------------------------------------------------

// ValueKind tags the contents of a Value.
type ValueKind uint8

const (
	ValInt ValueKind = iota
	ValFloat
	ValName
	ValString
	ValPointer
	ValRef
	ValClass
	ValState
	ValMethod
	ValArray
)

var valueKindNames = [...]string{
	ValInt:     "int",
	ValFloat:   "float",
	ValName:    "name",
	ValString:  "string",
	ValPointer: "pointer",
	ValRef:     "reference",
	ValClass:   "class",
	ValState:   "state",
	ValMethod:  "method",
	ValArray:   "array",
}

func (k ValueKind) String() string {
	if int(k) < len(valueKindNames) {
		return valueKindNames[k]
	}
	return fmt.Sprintf("value(%d)", uint8(k))
}

// Value is one VM stack or storage slot. Multi-slot types (vectors,
// delegates, structs) occupy consecutive Values.
type Value struct {
	Kind  ValueKind
	Int   int32
	Float float32
	Str   string
	Ref   any // *Object, *Class, *State, *Method, *DynArray or Pointer
}

// Pointer addresses one slot inside a slot slice: a frame, an object's
// fields or an array's elements.
type Pointer struct {
	Slots []Value
	Index int
}

// Valid reports whether p addresses a slot.
func (p Pointer) Valid() bool { return p.Slots != nil && p.Index >= 0 && p.Index < len(p.Slots) }

// Add returns p moved by n slots.
func (p Pointer) Add(n int) Pointer { return Pointer{Slots: p.Slots, Index: p.Index + n} }

// Object is an instance of a script class.
type Object struct {
	Class  *Class
	Fields []Value

	destroyed bool
}

// NewObject allocates an object initialised from the class defaults.
func NewObject(c *Class) *Object {
	fields := make([]Value, len(c.Defaults))
	copy(fields, c.Defaults)
	for i := range fields {
		if a := fields[i].AsArray(); a != nil {
			fields[i].Ref = a.clone()
		}
	}
	return &Object{Class: c, Fields: fields}
}

// Destroy marks the object dead; references to it compare as none.
func (o *Object) Destroy() { o.destroyed = true }

// IsDestroyed reports whether Destroy was called.
func (o *Object) IsDestroyed() bool { return o.destroyed }

// DynArray is the heap part of a dynamic array. Elements of multi-slot types
// are stored inline, ElemSize slots each.
type DynArray struct {
	Elems    []Value
	ElemSize int
}

// Len returns the element count.
func (a *DynArray) Len() int {
	if a == nil || a.ElemSize == 0 {
		return 0
	}
	return len(a.Elems) / a.ElemSize
}

// SetLen grows or shrinks the array. New slots hold the universal zero
// Value, which reads as 0, 0.0, "" or none through every typed accessor.
func (a *DynArray) SetLen(n int) {
	if n <= a.Len() {
		a.Elems = a.Elems[:n*a.ElemSize]
		return
	}
	grown := make([]Value, n*a.ElemSize)
	copy(grown, a.Elems)
	a.Elems = grown
}

func (a *DynArray) clone() *DynArray {
	if a == nil {
		return nil
	}
	return &DynArray{Elems: append([]Value(nil), a.Elems...), ElemSize: a.ElemSize}
}

// ---------------------------------------------------------------------------
// Constructors
// ---------------------------------------------------------------------------

func IntValue(i int32) Value       { return Value{Kind: ValInt, Int: i} }
func FloatValue(f float32) Value   { return Value{Kind: ValFloat, Float: f} }
func NameValue(s string) Value     { return Value{Kind: ValName, Str: s} }
func StringValue(s string) Value   { return Value{Kind: ValString, Str: s} }
func ClassValue(c *Class) Value    { return Value{Kind: ValClass, Ref: c} }
func StateValue(s *State) Value    { return Value{Kind: ValState, Ref: s} }
func MethodValue(m *Method) Value  { return Value{Kind: ValMethod, Ref: m} }
func PointerValue(p Pointer) Value { return Value{Kind: ValPointer, Ref: p} }

// BoolValue encodes a bool as an int slot.
func BoolValue(b bool) Value {
	if b {
		return IntValue(1)
	}
	return IntValue(0)
}

// RefValue wraps an object reference; nil yields none.
func RefValue(o *Object) Value {
	if o == nil {
		return Value{Kind: ValRef}
	}
	return Value{Kind: ValRef, Ref: o}
}

// AsObject returns the referenced object, or nil for none and destroyed objects.
func (v Value) AsObject() *Object {
	o, _ := v.Ref.(*Object)
	if o == nil || o.destroyed {
		return nil
	}
	return o
}

// AsClass returns the class held by a class value.
func (v Value) AsClass() *Class {
	c, _ := v.Ref.(*Class)
	return c
}

// AsState returns the state held by a state value.
func (v Value) AsState() *State {
	s, _ := v.Ref.(*State)
	return s
}

// AsMethod returns the method half of a delegate.
func (v Value) AsMethod() *Method {
	m, _ := v.Ref.(*Method)
	return m
}

// AsPointer returns the pointer held by v.
func (v Value) AsPointer() (Pointer, bool) {
	p, ok := v.Ref.(Pointer)
	return p, ok && p.Slots != nil
}

// AsArray returns the dynamic array handle.
func (v Value) AsArray() *DynArray {
	a, _ := v.Ref.(*DynArray)
	return a
}

// IsTrue implements the truth test used by conditional jumps.
func (v Value) IsTrue() bool {
	switch v.Kind {
	case ValInt:
		return v.Int != 0
	case ValFloat:
		return v.Float != 0
	case ValName, ValString:
		return v.Str != ""
	case ValPointer:
		_, ok := v.AsPointer()
		return ok
	case ValRef:
		return v.AsObject() != nil
	case ValArray:
		return v.AsArray().Len() > 0
	}
	return v.Ref != nil && !isNilRef(v.Ref)
}

func isNilRef(r any) bool {
	switch x := r.(type) {
	case *Class:
		return x == nil
	case *State:
		return x == nil
	case *Method:
		return x == nil
	}
	return false
}

// Equal compares two single-slot values by kind.
func (v Value) Equal(o Value) bool {
	switch v.Kind {
	case ValInt:
		return o.Kind == ValInt && v.Int == o.Int
	case ValFloat:
		return o.Kind == ValFloat && v.Float == o.Float
	case ValName, ValString:
		return v.Kind == o.Kind && v.Str == o.Str
	case ValRef:
		return v.AsObject() == o.AsObject()
	case ValPointer:
		a, aok := v.AsPointer()
		b, bok := o.AsPointer()
		if !aok || !bok {
			return aok == bok
		}
		return &a.Slots[0] == &b.Slots[0] && a.Index == b.Index
	case ValClass:
		return v.AsClass() == o.AsClass()
	case ValState:
		return v.AsState() == o.AsState()
	case ValMethod:
		return v.AsMethod() == o.AsMethod()
	case ValArray:
		return v.AsArray() == o.AsArray()
	}
	return false
}

func (v Value) String() string {
	switch v.Kind {
	case ValInt:
		return strconv.Itoa(int(v.Int))
	case ValFloat:
		return formatFloat(v.Float)
	case ValName:
		if v.Str == "" {
			return "none"
		}
		return v.Str
	case ValString:
		return v.Str
	case ValRef:
		if o := v.AsObject(); o != nil {
			return fmt.Sprintf("%s(%p)", o.Class.Name, o)
		}
		return "none"
	case ValClass:
		if c := v.AsClass(); c != nil {
			return c.Name
		}
		return "none"
	case ValState:
		if s := v.AsState(); s != nil {
			return s.Name
		}
		return "none"
	case ValMethod:
		if m := v.AsMethod(); m != nil {
			return m.Name
		}
		return "none"
	case ValPointer:
		if p, ok := v.AsPointer(); ok {
			return fmt.Sprintf("%p+%d", &p.Slots[0], p.Index)
		}
		return "nullptr"
	case ValArray:
		return fmt.Sprintf("array[%d]", v.AsArray().Len())
	}
	return "?"
}

// formatFloat prints the shortest representation that round-trips a float32.
func formatFloat(f float32) string {
	if math.IsInf(float64(f), 0) || math.IsNaN(float64(f)) {
		return strconv.FormatFloat(float64(f), 'f', -1, 32)
	}
	return strconv.FormatFloat(float64(f), 'g', -1, 32)
}

// ---------------------------------------------------------------------------
// Zero values
// ---------------------------------------------------------------------------

// ZeroSlots returns the zero value of t as a slot slice.
func ZeroSlots(t FieldType) []Value {
	slots := make([]Value, t.GetStackSize())
	fillZero(slots, t)
	return slots
}

// fillZero writes the zero value of t into the front of dst.
func fillZero(dst []Value, t FieldType) {
	switch t.Kind {
	case TypeVoid:
	case TypeInt, TypeByte, TypeBool:
		dst[0] = IntValue(0)
	case TypeFloat:
		dst[0] = FloatValue(0)
	case TypeName:
		dst[0] = NameValue("")
	case TypeString:
		dst[0] = StringValue("")
	case TypePointer:
		dst[0] = Value{Kind: ValPointer}
	case TypeReference:
		dst[0] = Value{Kind: ValRef}
	case TypeClass:
		dst[0] = Value{Kind: ValClass}
	case TypeState:
		dst[0] = Value{Kind: ValState}
	case TypeVector:
		dst[0], dst[1], dst[2] = FloatValue(0), FloatValue(0), FloatValue(0)
	case TypeDelegate:
		dst[0] = Value{Kind: ValRef}
		dst[1] = Value{Kind: ValMethod}
	case TypeSliceArray:
		dst[0] = Value{Kind: ValPointer}
		dst[1] = IntValue(0)
	case TypeDynamicArray:
		dst[0] = Value{Kind: ValArray}
	case TypeStruct:
		s := t.Struct
		for i := 0; i < s.StackSize; i++ {
			dst[i] = IntValue(0)
		}
		for cur := s; cur != nil; cur = cur.Parent {
			for _, f := range cur.Fields {
				if f.Type.BitMask == 0 {
					fillZero(dst[f.Offset:], f.Type)
				}
			}
		}
	case TypeArray:
		inner, _ := t.GetArrayInnerType()
		size := inner.GetStackSize()
		for i := 0; i < t.GetArrayDim(); i++ {
			fillZero(dst[i*size:], inner)
		}
	}
}
