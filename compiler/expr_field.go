package compiler

import (
	"strings"

	"github.com/chazu/vavoomc/vm"
)

// ---------------------------------------------------------------------------
// Member access
// ---------------------------------------------------------------------------

// MemberAccess is `expr.Name` before resolution.
type MemberAccess struct {
	exprBase
	Object Expression
	Name   string
}

func (e *MemberAccess) Resolve(ec *EmitContext) Expression {
	obj := e.Object.Resolve(ec)
	if obj == nil {
		return nil
	}
	t := obj.Type()

	switch t.Kind {
	case vm.TypeReference:
		if t.Class == nil {
			ec.Errorf(e.loc, "`none` has no members")
			return nil
		}
		return resolveClassMember(ec, obj, t.Class, e.Name, e.loc)

	case vm.TypeClass:
		if t.Class == nil {
			break
		}
		if c := t.Class.FindConstant(e.Name); c != nil {
			return constantExpr(ec, c, e.loc)
		}
		if m := t.Class.FindMethod(e.Name); m != nil {
			ec.Errorf(e.loc, "Method `%s` can only be called", e.Name)
			return nil
		}

	case vm.TypeStruct, vm.TypeVector:
		if t.Struct != nil {
			name, err := t.Struct.ResolveAlias(e.Name)
			if err != nil {
				ec.Errorf(e.loc, "%v", err)
				return nil
			}
			if f := t.Struct.FindField(name); f != nil {
				if t.Kind == vm.TypeVector {
					return (&VectorComponent{exprBase{e.loc, vm.FloatType}, obj, f.Offset}).Resolve(ec)
				}
				return (&StructField{exprBase{e.loc, valueType(f.Type)}, obj, f}).Resolve(ec)
			}
			break
		}
		if idx := strings.Index("xyz", e.Name); len(e.Name) == 1 && idx >= 0 {
			return (&VectorComponent{exprBase{e.loc, vm.FloatType}, obj, idx}).Resolve(ec)
		}

	case vm.TypeDynamicArray:
		if e.Name == "length" || e.Name == "Num" {
			base, ok := obj.(Addressable)
			if !ok {
				ec.Errorf(e.loc, "Length of a temporary array")
				return nil
			}
			return (&DynArrayLength{exprBase{e.loc, vm.IntType}, base, 0}).Resolve(ec)
		}

	case vm.TypeArray:
		if e.Name == "length" {
			return NewIntLiteral(int32(t.GetArrayDim()), e.loc)
		}

	case vm.TypeString:
		if e.Name == "length" {
			return &StringLength{exprBase{e.loc, vm.IntType}, obj}
		}
	}
	ec.Errorf(e.loc, "No such field `%s` in %s", e.Name, t)
	return nil
}

func (e *MemberAccess) Emit(*EmitContext) { internalf("emitting unresolved member %s", e.Name) }

// resolveClassMember resolves name on an object of class cls. obj is nil
// for self.
func resolveClassMember(ec *EmitContext, obj Expression, cls *vm.Class, name string, loc vm.Location) Expression {
	name, err := cls.ResolveAlias(name)
	if err != nil {
		ec.Errorf(loc, "%v", err)
		return nil
	}
	if f := cls.FindField(name); f != nil {
		return (&FieldAccess{exprBase: exprBase{loc: loc}, Object: obj, Field: f}).Resolve(ec)
	}
	if p := cls.FindProperty(name); p != nil {
		return (&PropertyAccess{exprBase: exprBase{loc: loc}, Object: obj, Prop: p}).Resolve(ec)
	}
	if m := cls.FindMethod(name); m != nil {
		return (&DelegateValue{exprBase: exprBase{loc: loc}, Object: obj, Method: m}).Resolve(ec)
	}
	if c := cls.FindConstant(name); c != nil {
		return constantExpr(ec, c, loc)
	}
	ec.Errorf(loc, "No such field `%s` in class %s", name, cls.Name)
	return nil
}

// checkAccess enforces private and protected member visibility.
func checkAccess(ec *EmitContext, owner *vm.Class, private, protected bool, what, name string, loc vm.Location) bool {
	switch {
	case private && ec.Class != owner:
		ec.Errorf(loc, "%s `%s` is private", what, name)
		return false
	case protected && (ec.Class == nil || !ec.Class.IsChildOf(owner)):
		ec.Errorf(loc, "%s `%s` is protected", what, name)
		return false
	}
	return true
}

// emitObject pushes obj, or self when obj is nil.
func emitObject(ec *EmitContext, obj Expression) {
	if obj == nil {
		ec.Emit(vm.OpPushSelf)
		return
	}
	obj.Emit(ec)
}

// ---------------------------------------------------------------------------
// Fields
// ---------------------------------------------------------------------------

// FieldAccess reads or addresses a field of an object. A nil Object is
// self.
type FieldAccess struct {
	exprBase
	Object Expression
	Field  *vm.Field
}

func (e *FieldAccess) Resolve(ec *EmitContext) Expression {
	if e.Object == nil && ec.IsStatic() {
		ec.Errorf(e.loc, "Field `%s` used in a static method", e.Field.Name)
		return nil
	}
	owner, _ := e.Field.Outer.(*vm.Class)
	if !checkAccess(ec, owner, e.Field.Flags&vm.FieldPrivate != 0, e.Field.Flags&vm.FieldProtected != 0,
		"Field", e.Field.Name, e.loc) {
		return nil
	}
	e.typ = valueType(e.Field.Type)
	return e
}

func (e *FieldAccess) Emit(ec *EmitContext) {
	st := e.Field.Type
	if st.BitMask == 0 && st.GetStackSize() == 1 {
		emitObject(ec, e.Object)
		ec.EmitUint16(vm.OpFieldValue, e.Field.Offset)
		return
	}
	e.EmitAddress(ec)
	ec.EmitLoad(st)
}

func (e *FieldAccess) EmitAddress(ec *EmitContext) {
	emitObject(ec, e.Object)
	ec.EmitUint16(vm.OpFieldAddress, e.Field.Offset)
}

func (e *FieldAccess) StorageType() vm.FieldType { return e.Field.Type }

func (e *FieldAccess) IsReadOnly(ec *EmitContext) bool {
	return e.Field.Flags&vm.FieldReadOnly != 0 && !ec.InDefaultProperties
}

// StructField is a field of a struct value.
type StructField struct {
	exprBase
	Base  Expression
	Field *vm.Field
}

func (e *StructField) Resolve(ec *EmitContext) Expression {
	if _, ok := e.Base.(Addressable); !ok {
		ec.Errorf(e.loc, "Struct field `%s` of a temporary value", e.Field.Name)
		return nil
	}
	return e
}

func (e *StructField) Emit(ec *EmitContext) {
	e.EmitAddress(ec)
	ec.EmitLoad(e.Field.Type)
}

func (e *StructField) EmitAddress(ec *EmitContext) {
	e.Base.(Addressable).EmitAddress(ec)
	if e.Field.Offset != 0 {
		ec.EmitUint16(vm.OpOffset, e.Field.Offset)
	}
}

func (e *StructField) StorageType() vm.FieldType { return e.Field.Type }

func (e *StructField) IsReadOnly(ec *EmitContext) bool {
	if e.Field.Flags&vm.FieldReadOnly != 0 && !ec.InDefaultProperties {
		return true
	}
	return e.Base.(Addressable).IsReadOnly(ec)
}

// VectorComponent is one float of a vector. It is addressable when the
// vector is.
type VectorComponent struct {
	exprBase
	Base  Expression
	Index int
}

func (e *VectorComponent) Resolve(*EmitContext) Expression { return e }

func (e *VectorComponent) Emit(ec *EmitContext) {
	if base, ok := e.Base.(Addressable); ok {
		base.EmitAddress(ec)
		if e.Index != 0 {
			ec.EmitUint16(vm.OpOffset, e.Index)
		}
		ec.EmitByte(vm.OpLoad, 1)
		return
	}
	e.Base.Emit(ec)
	ec.EmitByte(vm.OpVFieldValue, e.Index)
}

func (e *VectorComponent) EmitAddress(ec *EmitContext) {
	base, ok := e.Base.(Addressable)
	if !ok {
		internalf("address of a temporary vector component")
	}
	base.EmitAddress(ec)
	if e.Index != 0 {
		ec.EmitUint16(vm.OpOffset, e.Index)
	}
}

func (e *VectorComponent) StorageType() vm.FieldType { return vm.FloatType }

func (e *VectorComponent) IsReadOnly(ec *EmitContext) bool {
	base, ok := e.Base.(Addressable)
	return !ok || base.IsReadOnly(ec)
}

// ---------------------------------------------------------------------------
// Arrays and strings
// ---------------------------------------------------------------------------

// ArrayElement is `a[i]` or `a[i, j]`.
type ArrayElement struct {
	exprBase
	Base          Expression
	Index, Index2 Expression

	base Addressable
}

func (e *ArrayElement) Resolve(ec *EmitContext) Expression {
	b := e.Base.Resolve(ec)
	i := coerce(ec, resolveOrNil(ec, e.Index), vm.IntType)
	var j Expression
	if e.Index2 != nil {
		j = coerce(ec, e.Index2.Resolve(ec), vm.IntType)
		if j == nil {
			return nil
		}
	}
	if b == nil || i == nil {
		return nil
	}
	base, ok := b.(Addressable)
	if !ok {
		ec.Errorf(e.loc, "Cannot index a temporary value")
		return nil
	}
	t := b.Type()
	switch {
	case t.IsArray2D() && j == nil:
		ec.Errorf(e.loc, "Two-dimensional array needs two indexes")
		return nil
	case t.Kind == vm.TypeArray && !t.IsArray2D() && j != nil:
		ec.Errorf(e.loc, "One-dimensional array indexed with two indexes")
		return nil
	case t.Kind == vm.TypeDynamicArray && j != nil:
		ec.Errorf(e.loc, "Dynamic array indexed with two indexes")
		return nil
	case t.Kind != vm.TypeArray && t.Kind != vm.TypeDynamicArray:
		ec.Errorf(e.loc, "Array index of a non-array value of type %s", t)
		return nil
	}
	inner, _ := t.GetArrayInnerType()
	if t.Kind == vm.TypeArray {
		if lit, ok := i.(*IntLiteral); ok && (lit.Value < 0 || int(lit.Value) >= t.GetFirstDim()) {
			ec.Errorf(i.Loc(), "Array index %d out of bounds (%d)", lit.Value, t.GetFirstDim())
			return nil
		}
	}
	e.base, e.Index, e.Index2 = base, i, j
	e.typ = inner
	return e
}

func (e *ArrayElement) Emit(ec *EmitContext) {
	e.EmitAddress(ec)
	ec.EmitLoad(e.typ)
}

func (e *ArrayElement) EmitAddress(ec *EmitContext) {
	t := e.base.Type()
	size := e.typ.GetStackSize()
	e.base.EmitAddress(ec)
	e.Index.Emit(ec)
	switch {
	case t.Kind == vm.TypeDynamicArray:
		ec.EmitUint16(vm.OpDynArrayElement, size)
	case t.IsArray2D():
		e.Index2.Emit(ec)
		ec.EmitArray2DIndex(t.GetFirstDim(), t.GetSecondDim())
		ec.EmitArrayElement(size, t.GetArrayDim())
	default:
		ec.EmitArrayElement(size, t.GetArrayDim())
	}
}

func (e *ArrayElement) StorageType() vm.FieldType { return e.typ }

func (e *ArrayElement) IsReadOnly(ec *EmitContext) bool { return e.base.IsReadOnly(ec) }

// DynArrayLength is `arr.length`. Assigning to it resizes the array.
type DynArrayLength struct {
	exprBase
	Base     Addressable
	elemSize int
}

func (e *DynArrayLength) Resolve(ec *EmitContext) Expression {
	if e.Base == nil {
		return nil
	}
	inner, _ := e.Base.Type().GetArrayInnerType()
	e.elemSize = inner.GetStackSize()
	return e
}

func (e *DynArrayLength) Emit(ec *EmitContext) {
	e.Base.EmitAddress(ec)
	ec.EmitUint16(vm.OpDynArrayLength, e.elemSize)
}

// StringLength is `s.length`.
type StringLength struct {
	exprBase
	Base Expression
}

func (e *StringLength) Resolve(*EmitContext) Expression { return e }

func (e *StringLength) Emit(ec *EmitContext) {
	e.Base.Emit(ec)
	ec.Emit(vm.OpStrLength)
}

// ---------------------------------------------------------------------------
// Properties
// ---------------------------------------------------------------------------

// PropertyAccess reads a property through its getter method or field.
// Assignments are rewritten into a setter call by Assignment.
type PropertyAccess struct {
	exprBase
	Object Expression
	Prop   *vm.Property

	get Expression
}

func (e *PropertyAccess) Resolve(ec *EmitContext) Expression {
	e.typ = e.Prop.Type
	switch {
	case e.Prop.GetFunc != nil:
		e.get = newInvocation(ec, e.loc, e.Object, e.Prop.GetFunc, nil, false)
	case e.Prop.ReadField != nil:
		e.get = (&FieldAccess{exprBase: exprBase{loc: e.loc}, Object: e.Object, Field: e.Prop.ReadField}).Resolve(ec)
	case ec.assignTarget:
		return e
	default:
		ec.Errorf(e.loc, "Property `%s` cannot be read", e.Prop.Name)
		return nil
	}
	if e.get == nil {
		return nil
	}
	return e
}

func (e *PropertyAccess) Emit(ec *EmitContext) {
	if e.get == nil {
		internalf("reading write-only property %s", e.Prop.Name)
	}
	e.get.Emit(ec)
}

// resolveSet builds the store of value through the property's setter.
func (e *PropertyAccess) resolveSet(ec *EmitContext, value Expression, loc vm.Location) Expression {
	switch {
	case e.Prop.SetFunc != nil:
		return newInvocation(ec, loc, e.Object, e.Prop.SetFunc, []Expression{value}, false)
	case e.Prop.WriteField != nil:
		f := (&FieldAccess{exprBase: exprBase{loc: loc}, Object: e.Object, Field: e.Prop.WriteField}).Resolve(ec)
		if f == nil {
			return nil
		}
		target := f.(Addressable)
		v := coerce(ec, value, target.Type())
		if v == nil {
			return nil
		}
		return &Assignment{exprBase: exprBase{loc, vm.VoidType}, Op: TokenAssign, Left: f, Right: v, target: target}
	}
	ec.Errorf(loc, "Property `%s` is read-only", e.Prop.Name)
	return nil
}
