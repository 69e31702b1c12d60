package compiler

import (
	"github.com/chazu/vavoomc/vm"
)

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

// Expression is a node of an expression tree. The parser builds unresolved
// nodes; Resolve checks them in a method context and returns the node to
// emit, which may be a different, more specific node. A nil result means
// an error was reported.
type Expression interface {
	Loc() vm.Location
	Type() vm.FieldType
	Resolve(ec *EmitContext) Expression
	Emit(ec *EmitContext)
}

// Addressable is a resolved expression that denotes storage.
type Addressable interface {
	Expression
	EmitAddress(ec *EmitContext)
	// StorageType is Type plus the bit mask of packed bool fields.
	StorageType() vm.FieldType
	IsReadOnly(ec *EmitContext) bool
}

type exprBase struct {
	loc vm.Location
	typ vm.FieldType
}

func (e *exprBase) Loc() vm.Location   { return e.loc }
func (e *exprBase) Type() vm.FieldType { return e.typ }

// valueType strips the storage-only bit mask from a field type.
func valueType(t vm.FieldType) vm.FieldType {
	t.BitMask = 0
	return t
}

// storageOf returns e as a location whose address can be taken: not a
// packed bool and not part of a temporary vector.
func storageOf(e Expression) (Addressable, bool) {
	a, ok := e.(Addressable)
	if !ok || a.StorageType().BitMask != 0 {
		return nil, false
	}
	if vc, ok := e.(*VectorComponent); ok {
		if _, ok := vc.Base.(Addressable); !ok {
			return nil, false
		}
	}
	return a, true
}

// resolveAll resolves every non-nil expression of list in place and
// reports whether all succeeded.
func resolveAll(ec *EmitContext, list []Expression) bool {
	ok := true
	for i, e := range list {
		if e == nil {
			continue
		}
		if list[i] = e.Resolve(ec); list[i] == nil {
			ok = false
		}
	}
	return ok
}

// ---------------------------------------------------------------------------
// Literals
// ---------------------------------------------------------------------------

// IntLiteral is an integer, byte or bool constant.
type IntLiteral struct {
	exprBase
	Value int32
}

func NewIntLiteral(v int32, loc vm.Location) *IntLiteral {
	return &IntLiteral{exprBase{loc, vm.IntType}, v}
}

func NewBoolLiteral(b bool, loc vm.Location) *IntLiteral {
	e := &IntLiteral{exprBase{loc, vm.BoolType}, 0}
	if b {
		e.Value = 1
	}
	return e
}

func (e *IntLiteral) Resolve(*EmitContext) Expression { return e }
func (e *IntLiteral) Emit(ec *EmitContext)            { ec.EmitPushNumber(e.Value) }

// FloatLiteral is a float constant.
type FloatLiteral struct {
	exprBase
	Value float32
}

func NewFloatLiteral(v float32, loc vm.Location) *FloatLiteral {
	return &FloatLiteral{exprBase{loc, vm.FloatType}, v}
}

func (e *FloatLiteral) Resolve(*EmitContext) Expression { return e }
func (e *FloatLiteral) Emit(ec *EmitContext)            { ec.EmitFloat(vm.OpPushFloat, e.Value) }

// NameLiteral is a 'name' constant.
type NameLiteral struct {
	exprBase
	Value string
}

func NewNameLiteral(v string, loc vm.Location) *NameLiteral {
	return &NameLiteral{exprBase{loc, vm.NameType}, v}
}

func (e *NameLiteral) Resolve(*EmitContext) Expression { return e }
func (e *NameLiteral) Emit(ec *EmitContext)            { ec.EmitPooled(vm.OpPushName, e.Value) }

// StringLiteral is a "string" constant.
type StringLiteral struct {
	exprBase
	Value string
}

func NewStringLiteral(v string, loc vm.Location) *StringLiteral {
	return &StringLiteral{exprBase{loc, vm.StringType}, v}
}

func (e *StringLiteral) Resolve(*EmitContext) Expression { return e }
func (e *StringLiteral) Emit(ec *EmitContext)            { ec.EmitPooled(vm.OpPushString, e.Value) }

// NoneLiteral is `none`, the null reference.
type NoneLiteral struct{ exprBase }

func NewNoneLiteral(loc vm.Location) *NoneLiteral {
	return &NoneLiteral{exprBase{loc, vm.NoneType}}
}

func (e *NoneLiteral) Resolve(*EmitContext) Expression { return e }
func (e *NoneLiteral) Emit(ec *EmitContext)            { ec.EmitByte(vm.OpPushZero, int(vm.TypeReference)) }

// NullLiteral is `nullptr`.
type NullLiteral struct{ exprBase }

func NewNullLiteral(loc vm.Location) *NullLiteral {
	return &NullLiteral{exprBase{loc, vm.NullType}}
}

func (e *NullLiteral) Resolve(*EmitContext) Expression { return e }
func (e *NullLiteral) Emit(ec *EmitContext)            { ec.EmitByte(vm.OpPushZero, int(vm.TypePointer)) }

// ZeroValue pushes the zero value of its type. It stands in for omitted
// optional arguments and for none converted to a delegate or class type.
type ZeroValue struct{ exprBase }

func (e *ZeroValue) Resolve(*EmitContext) Expression { return e }
func (e *ZeroValue) Emit(ec *EmitContext) {
	switch e.typ.Kind {
	case vm.TypeVoid:
	case vm.TypeStruct, vm.TypeArray:
		for i, n := 0, e.typ.GetStackSize(); i < n; i++ {
			ec.EmitPushNumber(0)
		}
	default:
		ec.EmitByte(vm.OpPushZero, int(e.typ.Kind))
	}
}

// VectorLiteral is `vector(x, y[, z])`.
type VectorLiteral struct {
	exprBase
	X, Y, Z Expression
}

func NewVectorLiteral(x, y, z Expression, loc vm.Location) *VectorLiteral {
	if z == nil {
		z = NewFloatLiteral(0, loc)
	}
	return &VectorLiteral{exprBase{loc, vm.VectorType}, x, y, z}
}

func (e *VectorLiteral) Resolve(ec *EmitContext) Expression {
	ok := true
	for _, p := range []*Expression{&e.X, &e.Y, &e.Z} {
		r := (*p).Resolve(ec)
		if r != nil {
			r = coerce(ec, r, vm.FloatType)
		}
		if r == nil {
			ok = false
		}
		*p = r
	}
	if !ok {
		return nil
	}
	return e
}

func (e *VectorLiteral) Emit(ec *EmitContext) {
	e.X.Emit(ec)
	e.Y.Emit(ec)
	e.Z.Emit(ec)
}

// IsConst reports whether every component is a float constant.
func (e *VectorLiteral) IsConst() bool {
	_, x := e.X.(*FloatLiteral)
	_, y := e.Y.(*FloatLiteral)
	_, z := e.Z.(*FloatLiteral)
	return x && y && z
}

// SelfExpr is `self`.
type SelfExpr struct{ exprBase }

func NewSelfExpr(loc vm.Location) *SelfExpr { return &SelfExpr{exprBase{loc: loc}} }

func (e *SelfExpr) Resolve(ec *EmitContext) Expression {
	if ec.Class == nil || ec.IsStatic() {
		ec.Errorf(e.loc, "`self` used in a static method")
		return nil
	}
	e.typ = vm.ReferenceTo(ec.Class)
	return e
}

func (e *SelfExpr) Emit(ec *EmitContext) { ec.Emit(vm.OpPushSelf) }

// ClassLiteral pushes a class value.
type ClassLiteral struct {
	exprBase
	Class *vm.Class
}

func NewClassLiteral(c *vm.Class, loc vm.Location) *ClassLiteral {
	return &ClassLiteral{exprBase{loc, vm.ClassOf(c)}, c}
}

func (e *ClassLiteral) Resolve(*EmitContext) Expression { return e }
func (e *ClassLiteral) Emit(ec *EmitContext)            { ec.EmitRef(vm.OpPushClass, e.Class) }

// StateLiteral pushes a state value.
type StateLiteral struct {
	exprBase
	State *vm.State
}

func (e *StateLiteral) Resolve(*EmitContext) Expression { return e }
func (e *StateLiteral) Emit(ec *EmitContext) {
	if e.State == nil {
		ec.EmitByte(vm.OpPushZero, int(vm.TypeState))
		return
	}
	ec.EmitRef(vm.OpPushState, e.State)
}

// constantExpr returns the literal for a named constant, evaluating a
// constant of the unit being compiled on first use.
func constantExpr(ec *EmitContext, c *vm.Constant, loc vm.Location) Expression {
	if !ec.c.defineConstant(c, loc) {
		return nil
	}
	switch c.Type.Kind {
	case vm.TypeFloat:
		return NewFloatLiteral(c.FloatValue, loc)
	case vm.TypeName:
		return NewNameLiteral(c.StrValue, loc)
	case vm.TypeString:
		return NewStringLiteral(c.StrValue, loc)
	}
	return &IntLiteral{exprBase{loc, valueType(c.Type)}, c.IntValue}
}

// ---------------------------------------------------------------------------
// Names
// ---------------------------------------------------------------------------

// SingleName is an unqualified identifier.
type SingleName struct {
	exprBase
	Name string
}

func NewSingleName(name string, loc vm.Location) *SingleName {
	return &SingleName{exprBase: exprBase{loc: loc}, Name: name}
}

func (e *SingleName) Resolve(ec *EmitContext) Expression {
	if l := ec.FindLocal(e.Name); l != nil {
		return &LocalVar{exprBase{e.loc, l.Type}, l}
	}
	if cls := ec.Class; cls != nil {
		name, err := cls.ResolveAlias(e.Name)
		if err != nil {
			ec.Errorf(e.loc, "%v", err)
			return nil
		}
		if c := cls.FindConstant(name); c != nil {
			return constantExpr(ec, c, e.loc)
		}
		if f := cls.FindField(name); f != nil {
			return (&FieldAccess{exprBase: exprBase{loc: e.loc}, Field: f}).Resolve(ec)
		}
		if p := cls.FindProperty(name); p != nil {
			return (&PropertyAccess{exprBase: exprBase{loc: e.loc}, Prop: p}).Resolve(ec)
		}
		if m := cls.FindMethod(name); m != nil {
			return (&DelegateValue{exprBase: exprBase{loc: e.loc}, Method: m}).Resolve(ec)
		}
		if lbl, ok := cls.FindStateLabel(name); ok {
			return &StateLiteral{exprBase{e.loc, vm.StateType}, lbl.State}
		}
		if st := cls.FindState(name); st != nil {
			return &StateLiteral{exprBase{e.loc, vm.StateType}, st}
		}
	}
	if c := ec.Package.FindConstant(e.Name); c != nil {
		return constantExpr(ec, c, e.loc)
	}
	if c := ec.Package.FindClass(e.Name); c != nil {
		return NewClassLiteral(c, e.loc)
	}
	ec.Errorf(e.loc, "Unknown identifier `%s`", e.Name)
	return nil
}

func (e *SingleName) Emit(*EmitContext) { internalf("emitting unresolved name %s", e.Name) }

// DoubleName is `Scope::Name`, a class constant or state label.
type DoubleName struct {
	exprBase
	Scope, Name string
}

func (e *DoubleName) Resolve(ec *EmitContext) Expression {
	cls := ec.Package.FindClass(e.Scope)
	if cls == nil {
		if c := findEnumMember(ec, e.Scope, e.Name); c != nil {
			return constantExpr(ec, c, e.loc)
		}
		ec.Errorf(e.loc, "No such class or enum `%s`", e.Scope)
		return nil
	}
	if c := cls.FindConstant(e.Name); c != nil {
		return constantExpr(ec, c, e.loc)
	}
	if lbl, ok := cls.FindStateLabel(e.Name); ok {
		return &StateLiteral{exprBase{e.loc, vm.StateType}, lbl.State}
	}
	ec.Errorf(e.loc, "`%s` is not a constant or state of `%s`", e.Name, e.Scope)
	return nil
}

// findEnumMember looks up `Enum::Name` in the current class chain, then
// at package level.
func findEnumMember(ec *EmitContext, enum, name string) *vm.Constant {
	for cls := ec.Class; cls != nil; cls = cls.Parent {
		for _, c := range cls.Constants {
			if c.EnumName == enum && c.Name == name {
				return c
			}
		}
	}
	if c := ec.Package.FindConstant(name); c != nil && c.EnumName == enum {
		return c
	}
	return nil
}

func (e *DoubleName) Emit(*EmitContext) {
	internalf("emitting unresolved name %s::%s", e.Scope, e.Name)
}

// LocalVar reads or addresses a local variable or parameter.
type LocalVar struct {
	exprBase
	Local *LocalDef
}

func (e *LocalVar) Resolve(*EmitContext) Expression { return e }
func (e *LocalVar) Emit(ec *EmitContext)            { ec.EmitLocalValue(e.Local) }
func (e *LocalVar) EmitAddress(ec *EmitContext)     { ec.EmitLocalAddress(e.Local) }
func (e *LocalVar) StorageType() vm.FieldType       { return e.Local.Type }
func (e *LocalVar) IsReadOnly(*EmitContext) bool    { return false }

// ---------------------------------------------------------------------------
// Conversions
// ---------------------------------------------------------------------------

// Conversion applies a single conversion opcode to its operand.
type Conversion struct {
	exprBase
	Op      vm.Opcode
	Operand Expression
}

func (e *Conversion) Resolve(*EmitContext) Expression { return e }
func (e *Conversion) Emit(ec *EmitContext) {
	e.Operand.Emit(ec)
	ec.Emit(e.Op)
}

// Retyped reinterprets its operand with another type of the same slots.
type Retyped struct {
	exprBase
	Operand Expression
}

func (e *Retyped) Resolve(*EmitContext) Expression { return e }
func (e *Retyped) Emit(ec *EmitContext)            { e.Operand.Emit(ec) }

// ToBool turns any testable value into 0 or 1.
type ToBool struct {
	exprBase
	Operand Expression
}

func (e *ToBool) Resolve(*EmitContext) Expression { return e }

func (e *ToBool) Emit(ec *EmitContext) {
	e.Operand.Emit(ec)
	t := e.Operand.Type()
	switch t.Kind {
	case vm.TypeInt, vm.TypeByte, vm.TypeBool:
		ec.EmitPushNumber(0)
		ec.Emit(vm.OpNotEquals)
	case vm.TypeFloat:
		ec.Emit(vm.OpFloatToBool)
	case vm.TypeName, vm.TypeString:
		ec.Emit(vm.OpStrToBool)
	case vm.TypeReference, vm.TypeClass, vm.TypeState:
		ec.Emit(vm.OpRefToBool)
	case vm.TypePointer:
		ec.Emit(vm.OpPtrToBool)
	case vm.TypeDelegate:
		ec.Emit(vm.OpDelegateToBool)
	case vm.TypeVector:
		ec.Emit(vm.OpVectorToBool)
	default:
		internalf("no bool conversion for %s", t)
	}
}

// testable reports whether a value of t can be used as a condition.
func testable(t vm.FieldType) bool {
	switch t.Kind {
	case vm.TypeInt, vm.TypeByte, vm.TypeBool, vm.TypeFloat, vm.TypeName, vm.TypeString,
		vm.TypeReference, vm.TypeClass, vm.TypeState, vm.TypePointer, vm.TypeDelegate, vm.TypeVector:
		return true
	}
	return false
}

// coerceBool adapts a resolved expression for use as a condition. Int-like
// values are tested directly; other kinds get a conversion.
func coerceBool(ec *EmitContext, e Expression) Expression {
	if e == nil {
		return nil
	}
	t := e.Type()
	if t.IsIntLike() {
		return e
	}
	if !testable(t) {
		ec.Errorf(e.Loc(), "Expression type mismatch, boolean expression expected")
		return nil
	}
	if lit, ok := e.(*FloatLiteral); ok {
		return NewBoolLiteral(lit.Value != 0, lit.loc)
	}
	return &ToBool{exprBase{e.Loc(), vm.BoolType}, e}
}

// coerce checks that a resolved value can be stored as dst and inserts the
// implicit conversions: int to float, and none to the zero value of the
// destination kind.
func coerce(ec *EmitContext, e Expression, dst vm.FieldType) Expression {
	if e == nil {
		return nil
	}
	dst = valueType(dst)
	t := e.Type()
	if dst.Kind == vm.TypeFloat && t.IsIntLike() {
		if lit, ok := e.(*IntLiteral); ok {
			return NewFloatLiteral(float32(lit.Value), lit.loc)
		}
		return &Conversion{exprBase{e.Loc(), vm.FloatType}, vm.OpIntToFloat, e}
	}
	if t.IsNone() {
		switch dst.Kind {
		case vm.TypeDelegate, vm.TypeClass, vm.TypeState, vm.TypePointer:
			return &ZeroValue{exprBase{e.Loc(), dst}}
		}
	}
	if t.Kind == vm.TypeVoid {
		ec.Errorf(e.Loc(), "Expression has no value")
		return nil
	}
	if err := t.CheckMatch(dst); err != nil {
		ec.Errorf(e.Loc(), "%v", err)
		return nil
	}
	if t.Kind == vm.TypeInt && dst.Kind == vm.TypeByte {
		if lit, ok := e.(*IntLiteral); ok {
			return &IntLiteral{exprBase{lit.loc, vm.ByteType}, int32(uint8(lit.Value))}
		}
	}
	return e
}

// ---------------------------------------------------------------------------
// Casts
// ---------------------------------------------------------------------------

// CastExpr is `int(x)`, `float(x)`, `bool(x)` or `byte(x)`.
type CastExpr struct {
	exprBase
	Target  vm.TypeKind
	Operand Expression
}

func (e *CastExpr) Resolve(ec *EmitContext) Expression {
	op := e.Operand.Resolve(ec)
	if op == nil {
		return nil
	}
	t := op.Type()
	e.typ = vm.NewType(e.Target)

	switch e.Target {
	case vm.TypeInt:
		switch {
		case t.IsIntLike():
			if lit, ok := op.(*IntLiteral); ok {
				return NewIntLiteral(lit.Value, e.loc)
			}
			return &Retyped{e.exprBase, op}
		case t.Kind == vm.TypeFloat:
			if lit, ok := op.(*FloatLiteral); ok {
				return NewIntLiteral(int32(lit.Value), e.loc)
			}
			return &Conversion{e.exprBase, vm.OpFloatToInt, op}
		}

	case vm.TypeFloat:
		if t.IsNumeric() {
			return coerce(ec, op, vm.FloatType)
		}

	case vm.TypeByte:
		switch {
		case t.IsIntLike():
			if lit, ok := op.(*IntLiteral); ok {
				return &IntLiteral{e.exprBase, int32(uint8(lit.Value))}
			}
			return &Conversion{e.exprBase, vm.OpToByte, op}
		case t.Kind == vm.TypeFloat:
			return &Conversion{e.exprBase, vm.OpToByte, &Conversion{exprBase{e.loc, vm.IntType}, vm.OpFloatToInt, op}}
		}

	case vm.TypeBool:
		if lit, ok := op.(*IntLiteral); ok {
			return NewBoolLiteral(lit.Value != 0, e.loc)
		}
		if testable(t) {
			return &ToBool{e.exprBase, op}
		}
	}
	ec.Errorf(e.loc, "Cannot convert %s to %s", t, e.Target)
	return nil
}

func (e *CastExpr) Emit(*EmitContext) { internalf("emitting unresolved cast") }

// DynamicCastExpr is `ClassName(expr)`: the operand if it is an instance
// (or subclass) of Class, none otherwise.
type DynamicCastExpr struct {
	exprBase
	Class   *vm.Class
	Operand Expression
}

func (e *DynamicCastExpr) Resolve(ec *EmitContext) Expression {
	op := e.Operand.Resolve(ec)
	if op == nil {
		return nil
	}
	switch op.Type().Kind {
	case vm.TypeReference:
		e.typ = vm.ReferenceTo(e.Class)
	case vm.TypeClass:
		e.typ = vm.ClassOf(e.Class)
	default:
		ec.Errorf(e.loc, "Bad expression, class reference required")
		return nil
	}
	e.Operand = op
	return e
}

func (e *DynamicCastExpr) Emit(ec *EmitContext) {
	e.Operand.Emit(ec)
	if e.typ.Kind == vm.TypeClass {
		ec.EmitRef(vm.OpDynamicClassCast, e.Class)
		return
	}
	ec.EmitRef(vm.OpDynamicCast, e.Class)
}

// ClassCastExpr is `class!Name(expr)`: a dynamic cast of a class value.
type ClassCastExpr struct {
	exprBase
	Name    string
	Operand Expression
}

func (e *ClassCastExpr) Resolve(ec *EmitContext) Expression {
	c := ec.Package.FindClass(e.Name)
	if c == nil {
		ec.Errorf(e.loc, "No such class `%s`", e.Name)
		return nil
	}
	op := resolveOrNil(ec, e.Operand)
	if op == nil {
		return nil
	}
	if op.Type().Kind != vm.TypeClass {
		ec.Errorf(e.loc, "Class value expected in class cast, got %s", op.Type())
		return nil
	}
	return &DynamicCastExpr{exprBase{e.loc, vm.ClassOf(c)}, c, op}
}

func (e *ClassCastExpr) Emit(*EmitContext) { internalf("emitting unresolved class cast") }
