package vm

import (
	"errors"
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Type kinds
// ---------------------------------------------------------------------------

// TypeKind identifies the shape of a FieldType.
type TypeKind uint8

const (
	TypeVoid TypeKind = iota
	TypeInt
	TypeByte
	TypeBool
	TypeFloat
	TypeName
	TypeString
	TypePointer
	TypeReference
	TypeClass
	TypeState
	TypeStruct
	TypeVector
	TypeArray
	TypeDynamicArray
	TypeSliceArray
	TypeDelegate
	numTypeKinds
)

var typeKindNames = [numTypeKinds]string{
	TypeVoid:         "void",
	TypeInt:          "int",
	TypeByte:         "byte",
	TypeBool:         "bool",
	TypeFloat:        "float",
	TypeName:         "name",
	TypeString:       "string",
	TypePointer:      "pointer",
	TypeReference:    "reference",
	TypeClass:        "class",
	TypeState:        "state",
	TypeStruct:       "struct",
	TypeVector:       "vector",
	TypeArray:        "array",
	TypeDynamicArray: "dynarray",
	TypeSliceArray:   "slice",
	TypeDelegate:     "delegate",
}

func (k TypeKind) String() string {
	if k < numTypeKinds {
		return typeKindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Type algebra errors.
var (
	ErrNestedArray   = errors.New("can't have multi-dimensional arrays")
	ErrBadArrayDim   = errors.New("invalid array dimension")
	ErrNotPointer    = errors.New("not a pointer type")
	ErrNotArray      = errors.New("not an array type")
	ErrTypeMismatch  = errors.New("type mismatch")
	ErrVoidReference = errors.New("void is not a value type")
)

// array2DFlag marks a packed two dimensional ArrayDim.
const array2DFlag = int32(-0x80000000)

// MaxArray2DDim is the largest dimension that fits a packed 2-D array.
const MaxArray2DDim = 0x7fff

// ---------------------------------------------------------------------------
// FieldType
// ---------------------------------------------------------------------------

// FieldType is a compact value describing the static type of a field,
// local, parameter or expression.
//
// ArrayDim packs both array shapes: a non-negative value is the length of a
// 1-D array, a negative value holds two 15-bit lengths (d0 | d1<<16) with the
// sign bit set.
type FieldType struct {
	Kind           TypeKind
	InnerKind      TypeKind // pointee kind for pointers, element kind for dynamic arrays/slices
	ArrayInnerKind TypeKind // element kind for static arrays
	PtrLevel       int
	ArrayDim       int32
	BitMask        uint32 // bool fields packed into a shared slot

	Class    *Class  // Reference, Class (optional), State owner
	Struct   *Struct // Struct, Vector (optional)
	Delegate *Method // Delegate signature
}

// Common types.
var (
	VoidType   = FieldType{Kind: TypeVoid}
	IntType    = FieldType{Kind: TypeInt}
	ByteType   = FieldType{Kind: TypeByte}
	BoolType   = FieldType{Kind: TypeBool}
	FloatType  = FieldType{Kind: TypeFloat}
	NameType   = FieldType{Kind: TypeName}
	StringType = FieldType{Kind: TypeString}
	VectorType = FieldType{Kind: TypeVector}
	StateType  = FieldType{Kind: TypeState}
	NoneType   = FieldType{Kind: TypeReference}
	NullType   = FieldType{Kind: TypePointer, InnerKind: TypeVoid, PtrLevel: 1}
)

// NewType returns a plain type of the given kind.
func NewType(kind TypeKind) FieldType {
	return FieldType{Kind: kind}
}

// ReferenceTo returns an object reference type for class c.
func ReferenceTo(c *Class) FieldType {
	return FieldType{Kind: TypeReference, Class: c}
}

// ClassOf returns a class type restricted to c and its children.
func ClassOf(c *Class) FieldType {
	return FieldType{Kind: TypeClass, Class: c}
}

// StructOf returns a value type for struct s.
func StructOf(s *Struct) FieldType {
	if s.IsVector {
		return FieldType{Kind: TypeVector, Struct: s}
	}
	return FieldType{Kind: TypeStruct, Struct: s}
}

// DelegateOf returns a delegate type with the signature of m.
func DelegateOf(m *Method) FieldType {
	return FieldType{Kind: TypeDelegate, Delegate: m}
}

// IsNone reports whether t is the type of the `none` literal.
func (t FieldType) IsNone() bool {
	return t.Kind == TypeReference && t.Class == nil
}

// IsNumeric reports whether t is int-like or float.
func (t FieldType) IsNumeric() bool {
	return t.IsIntLike() || t.Kind == TypeFloat
}

// IsIntLike reports whether t is stored as a single integer slot.
func (t FieldType) IsIntLike() bool {
	return t.Kind == TypeInt || t.Kind == TypeByte || t.Kind == TypeBool
}

// IsAnyArray reports whether t is any array flavour.
func (t FieldType) IsAnyArray() bool {
	return t.Kind == TypeArray || t.Kind == TypeDynamicArray || t.Kind == TypeSliceArray
}

// ---------------------------------------------------------------------------
// Type algebra
// ---------------------------------------------------------------------------

// MakePointerType returns a pointer to t.
func (t FieldType) MakePointerType() FieldType {
	r := t
	if r.Kind == TypePointer {
		r.PtrLevel++
		return r
	}
	r.InnerKind = t.Kind
	r.Kind = TypePointer
	r.PtrLevel = 1
	return r
}

// GetPointerInnerType dereferences one pointer level.
func (t FieldType) GetPointerInnerType() (FieldType, error) {
	if t.Kind != TypePointer {
		return VoidType, fmt.Errorf("%w: %s", ErrNotPointer, t.GetName())
	}
	r := t
	r.PtrLevel--
	if r.PtrLevel <= 0 {
		r.Kind = t.InnerKind
		r.InnerKind = TypeVoid
		r.PtrLevel = 0
	}
	return r, nil
}

// MakeArrayType returns a 1-D static array of dim elements of type t.
func (t FieldType) MakeArrayType(dim int) (FieldType, error) {
	if t.IsAnyArray() {
		return VoidType, ErrNestedArray
	}
	if dim < 0 {
		return VoidType, fmt.Errorf("%w: %d", ErrBadArrayDim, dim)
	}
	r := t
	r.ArrayInnerKind = t.Kind
	r.Kind = TypeArray
	r.ArrayDim = int32(dim)
	return r, nil
}

// MakeArray2DType returns a 2-D static array. Each dimension must be in
// 1..MaxArray2DDim; larger values cannot be packed and are rejected.
func (t FieldType) MakeArray2DType(d0, d1 int) (FieldType, error) {
	if t.IsAnyArray() {
		return VoidType, ErrNestedArray
	}
	if d0 <= 0 || d0 > MaxArray2DDim {
		return VoidType, fmt.Errorf("%w: first dimension %d", ErrBadArrayDim, d0)
	}
	if d1 <= 0 || d1 > MaxArray2DDim {
		return VoidType, fmt.Errorf("%w: second dimension %d", ErrBadArrayDim, d1)
	}
	r := t
	r.ArrayInnerKind = t.Kind
	r.Kind = TypeArray
	r.ArrayDim = int32(d0|(d1<<16)) | array2DFlag
	return r, nil
}

// MakeDynamicArrayType returns array!t.
func (t FieldType) MakeDynamicArrayType() (FieldType, error) {
	if t.IsAnyArray() {
		return VoidType, ErrNestedArray
	}
	r := t
	r.ArrayInnerKind = t.Kind
	r.Kind = TypeDynamicArray
	r.ArrayDim = 0
	return r, nil
}

// MakeSliceType returns t[].
func (t FieldType) MakeSliceType() (FieldType, error) {
	if t.IsAnyArray() {
		return VoidType, ErrNestedArray
	}
	r := t
	r.ArrayInnerKind = t.Kind
	r.Kind = TypeSliceArray
	r.ArrayDim = 0
	return r, nil
}

// GetArrayInnerType returns the element type of any array.
func (t FieldType) GetArrayInnerType() (FieldType, error) {
	if !t.IsAnyArray() {
		return VoidType, fmt.Errorf("%w: %s", ErrNotArray, t.GetName())
	}
	r := t
	r.Kind = t.ArrayInnerKind
	r.ArrayInnerKind = TypeVoid
	r.ArrayDim = 0
	return r, nil
}

// IsArray1D reports a one dimensional static array.
func (t FieldType) IsArray1D() bool { return t.Kind == TypeArray && t.ArrayDim >= 0 }

// IsArray2D reports a packed two dimensional static array.
func (t FieldType) IsArray2D() bool { return t.Kind == TypeArray && t.ArrayDim < 0 }

// GetArrayDim returns the total element count of a static array.
func (t FieldType) GetArrayDim() int {
	if t.ArrayDim < 0 {
		return t.GetFirstDim() * t.GetSecondDim()
	}
	return int(t.ArrayDim)
}

// GetFirstDim returns the first (or only) dimension.
func (t FieldType) GetFirstDim() int {
	if t.ArrayDim < 0 {
		return int(t.ArrayDim & 0x7fff)
	}
	return int(t.ArrayDim)
}

// GetSecondDim returns the second dimension, 1 for 1-D arrays.
func (t FieldType) GetSecondDim() int {
	if t.ArrayDim < 0 {
		return int((t.ArrayDim >> 16) & 0x7fff)
	}
	return 1
}

// GetStackSize returns the number of VM slots a value of t occupies.
func (t FieldType) GetStackSize() int {
	switch t.Kind {
	case TypeVoid:
		return 0
	case TypeVector:
		return 3
	case TypeDelegate, TypeSliceArray:
		return 2
	case TypeStruct:
		if t.Struct == nil {
			return 0
		}
		return t.Struct.StackSize
	case TypeArray:
		inner, _ := t.GetArrayInnerType()
		return t.GetArrayDim() * inner.GetStackSize()
	default:
		return 1
	}
}

// NeedsDestructor reports whether locals of this type must be reset when
// they go out of scope.
func (t FieldType) NeedsDestructor() bool {
	switch t.Kind {
	case TypeDynamicArray:
		return true
	case TypeStruct:
		return t.Struct != nil && t.Struct.NeedsDestructor()
	case TypeArray:
		inner, _ := t.GetArrayInnerType()
		return inner.NeedsDestructor()
	}
	return false
}

// Equals reports strict type identity.
func (t FieldType) Equals(o FieldType) bool {
	if t.Kind != o.Kind || t.PtrLevel != o.PtrLevel || t.InnerKind != o.InnerKind ||
		t.ArrayInnerKind != o.ArrayInnerKind || t.ArrayDim != o.ArrayDim {
		return false
	}
	return t.Class == o.Class && t.Struct == o.Struct && t.Delegate == o.Delegate
}

// CheckMatch reports whether a value of type t may be stored into a location
// of type dst. A nil result means the assignment is legal.
func (t FieldType) CheckMatch(dst FieldType) error {
	if t.matches(dst) {
		return nil
	}
	return fmt.Errorf("%w: expected %s, got %s", ErrTypeMismatch, dst.GetName(), t.GetName())
}

func (t FieldType) matches(dst FieldType) bool {
	if t.Equals(dst) {
		return true
	}
	if t.Kind == TypeVoid || dst.Kind == TypeVoid {
		return false
	}
	switch {
	case t.Kind == TypeString && dst.Kind == TypeString:
		return true
	case t.Kind == TypeVector && dst.Kind == TypeVector:
		return true
	case t.Kind == TypeInt && (dst.Kind == TypeByte || dst.Kind == TypeBool):
		return true
	case t.IsIntLike() && dst.Kind == TypeInt:
		return true
	case t.IsNone():
		switch dst.Kind {
		case TypeReference, TypeClass, TypeState, TypeDelegate, TypePointer:
			return true
		}
		return false
	}
	if t.Kind != dst.Kind {
		return false
	}
	switch t.Kind {
	case TypePointer:
		if t.PtrLevel != dst.PtrLevel {
			return false
		}
		if t.InnerKind == TypeVoid || dst.InnerKind == TypeVoid {
			return true
		}
		if t.InnerKind != dst.InnerKind {
			return false
		}
		if t.InnerKind == TypeStruct {
			return t.Struct.IsChildOf(dst.Struct)
		}
		if t.InnerKind == TypeReference || t.InnerKind == TypeClass {
			return t.Class.IsChildOf(dst.Class)
		}
		return true
	case TypeReference, TypeClass:
		if dst.Class == nil {
			return true
		}
		return t.Class.IsChildOf(dst.Class)
	case TypeStruct:
		return t.Struct.IsChildOf(dst.Struct)
	case TypeDelegate:
		return t.Delegate.SameSignature(dst.Delegate)
	case TypeArray, TypeDynamicArray, TypeSliceArray:
		if t.Kind == TypeArray && t.ArrayDim != dst.ArrayDim {
			return false
		}
		ti, _ := t.GetArrayInnerType()
		di, _ := dst.GetArrayInnerType()
		return ti.Equals(di)
	}
	return false
}

// GetName renders the type the way it is written in source.
func (t FieldType) GetName() string {
	switch t.Kind {
	case TypePointer:
		inner := t
		inner.Kind = t.InnerKind
		inner.InnerKind = TypeVoid
		inner.PtrLevel = 0
		return inner.GetName() + strings.Repeat("*", t.PtrLevel)
	case TypeReference:
		if t.Class == nil {
			return "none"
		}
		return t.Class.Name
	case TypeClass:
		if t.Class == nil {
			return "class"
		}
		return "class!" + t.Class.Name
	case TypeStruct:
		if t.Struct == nil {
			return "struct"
		}
		return t.Struct.Name
	case TypeVector:
		if t.Struct != nil {
			return t.Struct.Name
		}
		return "vector"
	case TypeArray:
		inner, _ := t.GetArrayInnerType()
		if t.IsArray2D() {
			return fmt.Sprintf("%s[%d, %d]", inner.GetName(), t.GetFirstDim(), t.GetSecondDim())
		}
		return fmt.Sprintf("%s[%d]", inner.GetName(), t.ArrayDim)
	case TypeDynamicArray:
		inner, _ := t.GetArrayInnerType()
		return "array!" + inner.GetName()
	case TypeSliceArray:
		inner, _ := t.GetArrayInnerType()
		return inner.GetName() + "[]"
	case TypeDelegate:
		if t.Delegate == nil {
			return "delegate"
		}
		return "delegate " + t.Delegate.Signature()
	}
	return t.Kind.String()
}

func (t FieldType) String() string { return t.GetName() }
