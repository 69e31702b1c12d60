package compiler

import (
	"github.com/chazu/vavoomc/vm"
)

// ---------------------------------------------------------------------------
// Unary operators
// ---------------------------------------------------------------------------

// UnaryOp is `-x`, `+x`, `!x` or `~x`.
type UnaryOp struct {
	exprBase
	Op      TokenType
	Operand Expression

	opcode vm.Opcode
}

func (e *UnaryOp) Resolve(ec *EmitContext) Expression {
	op := e.Operand.Resolve(ec)
	if op == nil {
		return nil
	}
	t := op.Type()

	switch e.Op {
	case TokenPlus:
		if !t.IsNumeric() && t.Kind != vm.TypeVector {
			ec.Errorf(e.loc, "Expression type mismatch")
			return nil
		}
		return op

	case TokenMinus:
		switch {
		case t.IsIntLike():
			if lit, ok := op.(*IntLiteral); ok {
				return NewIntLiteral(-lit.Value, e.loc)
			}
			e.opcode, e.typ = vm.OpUnaryMinus, vm.IntType
		case t.Kind == vm.TypeFloat:
			if lit, ok := op.(*FloatLiteral); ok {
				return NewFloatLiteral(-lit.Value, e.loc)
			}
			e.opcode, e.typ = vm.OpFUnaryMinus, vm.FloatType
		case t.Kind == vm.TypeVector:
			e.opcode, e.typ = vm.OpVUnaryMinus, valueType(t)
		default:
			ec.Errorf(e.loc, "Expression type mismatch")
			return nil
		}

	case TokenNot:
		op = coerceBool(ec, op)
		if op == nil {
			return nil
		}
		if lit, ok := op.(*IntLiteral); ok {
			return NewBoolLiteral(lit.Value == 0, e.loc)
		}
		e.opcode, e.typ = vm.OpNegateLogical, vm.BoolType

	case TokenTilde:
		if !t.IsIntLike() {
			ec.Errorf(e.loc, "Expression type mismatch")
			return nil
		}
		if lit, ok := op.(*IntLiteral); ok {
			return NewIntLiteral(^lit.Value, e.loc)
		}
		e.opcode, e.typ = vm.OpBitInverse, vm.IntType

	default:
		internalf("bad unary operator %s", e.Op)
	}
	e.Operand = op
	return e
}

func (e *UnaryOp) Emit(ec *EmitContext) {
	e.Operand.Emit(ec)
	ec.Emit(e.opcode)
}

// IncDec is `++x`, `--x`, `x++` or `x--` on an int location.
type IncDec struct {
	exprBase
	Op      TokenType
	Prefix  bool
	Operand Expression

	target Addressable
}

func (e *IncDec) Resolve(ec *EmitContext) Expression {
	op := e.Operand.Resolve(ec)
	if op == nil {
		return nil
	}
	target, ok := storageOf(op)
	if !ok {
		ec.Errorf(e.loc, "Bad operand for %s", e.Op)
		return nil
	}
	if target.Type().Kind != vm.TypeInt {
		ec.Errorf(e.loc, "Expression type mismatch, int expected")
		return nil
	}
	if target.IsReadOnly(ec) {
		ec.Errorf(e.loc, "Cannot modify a read-only value")
		return nil
	}
	e.target = target
	e.typ = vm.IntType
	return e
}

func (e *IncDec) Emit(ec *EmitContext) {
	e.target.EmitAddress(ec)
	switch {
	case e.Op == TokenInc && e.Prefix:
		ec.Emit(vm.OpPreInc)
	case e.Op == TokenInc:
		ec.Emit(vm.OpPostInc)
	case e.Prefix:
		ec.Emit(vm.OpPreDec)
	default:
		ec.Emit(vm.OpPostDec)
	}
}

// AddressOf is `&x`.
type AddressOf struct {
	exprBase
	Operand Expression

	target Addressable
}

func (e *AddressOf) Resolve(ec *EmitContext) Expression {
	op := e.Operand.Resolve(ec)
	if op == nil {
		return nil
	}
	target, ok := storageOf(op)
	if !ok {
		ec.Errorf(e.loc, "Cannot take the address of this expression")
		return nil
	}
	e.target = target
	e.typ = target.Type().MakePointerType()
	return e
}

func (e *AddressOf) Emit(ec *EmitContext) { e.target.EmitAddress(ec) }

// Deref is `*p`.
type Deref struct {
	exprBase
	Operand Expression
}

func (e *Deref) Resolve(ec *EmitContext) Expression {
	op := e.Operand.Resolve(ec)
	if op == nil {
		return nil
	}
	inner, err := op.Type().GetPointerInnerType()
	if err != nil {
		ec.Errorf(e.loc, "%v", err)
		return nil
	}
	if inner.Kind == vm.TypeVoid {
		ec.Errorf(e.loc, "Cannot dereference a void pointer")
		return nil
	}
	e.Operand = op
	e.typ = inner
	return e
}

func (e *Deref) Emit(ec *EmitContext) {
	e.Operand.Emit(ec)
	ec.EmitLoad(e.typ)
}

func (e *Deref) EmitAddress(ec *EmitContext)  { e.Operand.Emit(ec) }
func (e *Deref) StorageType() vm.FieldType    { return e.typ }
func (e *Deref) IsReadOnly(*EmitContext) bool { return false }

// ---------------------------------------------------------------------------
// Binary operators
// ---------------------------------------------------------------------------

// BinaryOp is an arithmetic, bitwise, comparison or concatenation operator.
type BinaryOp struct {
	exprBase
	Op          TokenType
	Left, Right Expression

	opcode vm.Opcode
}

var intOps = map[TokenType]vm.Opcode{
	TokenPlus:      vm.OpAdd,
	TokenMinus:     vm.OpSubtract,
	TokenStar:      vm.OpMultiply,
	TokenSlash:     vm.OpDivide,
	TokenPercent:   vm.OpModulus,
	TokenLShift:    vm.OpLShift,
	TokenRShift:    vm.OpRShift,
	TokenAnd:       vm.OpAndBitwise,
	TokenOr:        vm.OpOrBitwise,
	TokenXor:       vm.OpXOrBitwise,
	TokenEq:        vm.OpEquals,
	TokenNotEq:     vm.OpNotEquals,
	TokenLess:      vm.OpLess,
	TokenLessEq:    vm.OpLessEquals,
	TokenGreater:   vm.OpGreater,
	TokenGreaterEq: vm.OpGreaterEquals,
}

var floatOps = map[TokenType]vm.Opcode{
	TokenPlus:      vm.OpFAdd,
	TokenMinus:     vm.OpFSubtract,
	TokenStar:      vm.OpFMultiply,
	TokenSlash:     vm.OpFDivide,
	TokenEq:        vm.OpFEquals,
	TokenNotEq:     vm.OpFNotEquals,
	TokenLess:      vm.OpFLess,
	TokenLessEq:    vm.OpFLessEquals,
	TokenGreater:   vm.OpFGreater,
	TokenGreaterEq: vm.OpFGreaterEquals,
}

// compoundOps maps an assignment operator to its binary operator.
var compoundOps = map[TokenType]TokenType{
	TokenAddAssign:    TokenPlus,
	TokenSubAssign:    TokenMinus,
	TokenMulAssign:    TokenStar,
	TokenDivAssign:    TokenSlash,
	TokenModAssign:    TokenPercent,
	TokenAndAssign:    TokenAnd,
	TokenOrAssign:     TokenOr,
	TokenXorAssign:    TokenXor,
	TokenLShiftAssign: TokenLShift,
	TokenRShiftAssign: TokenRShift,
	TokenCatAssign:    TokenTilde,
}

func isComparison(op TokenType) bool {
	switch op {
	case TokenEq, TokenNotEq, TokenLess, TokenLessEq, TokenGreater, TokenGreaterEq:
		return true
	}
	return false
}

func (e *BinaryOp) Resolve(ec *EmitContext) Expression {
	l := e.Left.Resolve(ec)
	r := e.Right.Resolve(ec)
	if l == nil || r == nil {
		return nil
	}
	l, r, opcode, typ, ok := binaryOperands(ec, e.Op, l, r, e.loc)
	if !ok {
		return nil
	}
	e.Left, e.Right, e.opcode, e.typ = l, r, opcode, typ
	if folded := e.fold(ec); folded != nil {
		return folded
	}
	return e
}

// binaryOperands picks the opcode and result type for op applied to l and
// r, inserting int to float conversions where the other side is a float.
func binaryOperands(ec *EmitContext, op TokenType, l, r Expression, loc vm.Location) (Expression, Expression, vm.Opcode, vm.FieldType, bool) {
	lt, rt := l.Type(), r.Type()
	result := func(t vm.FieldType) vm.FieldType {
		if isComparison(op) {
			return vm.BoolType
		}
		return t
	}

	switch {
	case op == TokenTilde:
		if lt.Kind == vm.TypeString && (rt.Kind == vm.TypeString || rt.Kind == vm.TypeName) {
			return l, r, vm.OpStrCat, vm.StringType, true
		}

	case lt.IsIntLike() && rt.IsIntLike():
		if opc, ok := intOps[op]; ok {
			return l, r, opc, result(vm.IntType), true
		}

	case lt.IsNumeric() && rt.IsNumeric():
		if opc, ok := floatOps[op]; ok {
			return coerce(ec, l, vm.FloatType), coerce(ec, r, vm.FloatType), opc, result(vm.FloatType), true
		}

	case lt.Kind == vm.TypeVector && rt.Kind == vm.TypeVector:
		switch op {
		case TokenPlus:
			return l, r, vm.OpVAdd, valueType(lt), true
		case TokenMinus:
			return l, r, vm.OpVSubtract, valueType(lt), true
		case TokenEq:
			return l, r, vm.OpVEquals, vm.BoolType, true
		case TokenNotEq:
			return l, r, vm.OpVNotEquals, vm.BoolType, true
		}

	case lt.IsNumeric() && rt.Kind == vm.TypeVector:
		if op == TokenStar {
			return coerce(ec, l, vm.FloatType), r, vm.OpVPreScale, valueType(rt), true
		}

	case lt.Kind == vm.TypeVector && rt.IsNumeric():
		switch op {
		case TokenStar:
			return l, coerce(ec, r, vm.FloatType), vm.OpVPostScale, valueType(lt), true
		case TokenSlash:
			return l, coerce(ec, r, vm.FloatType), vm.OpVIScale, valueType(lt), true
		}

	case (lt.Kind == vm.TypeName && rt.Kind == vm.TypeName) || (lt.Kind == vm.TypeString && rt.Kind == vm.TypeString):
		switch op {
		case TokenEq:
			return l, r, vm.OpStrEquals, vm.BoolType, true
		case TokenNotEq:
			return l, r, vm.OpStrNotEquals, vm.BoolType, true
		}

	case isRefLike(lt) && isRefLike(rt):
		if (op == TokenEq || op == TokenNotEq) && refComparable(lt, rt) {
			if op == TokenEq {
				return l, r, vm.OpRefEquals, vm.BoolType, true
			}
			return l, r, vm.OpRefNotEquals, vm.BoolType, true
		}

	case lt.Kind == vm.TypePointer && rt.Kind == vm.TypePointer:
		switch op {
		case TokenEq:
			return l, r, vm.OpPtrEquals, vm.BoolType, true
		case TokenNotEq:
			return l, r, vm.OpPtrNotEquals, vm.BoolType, true
		}
	}

	ec.Errorf(loc, "Expression type mismatch: %s %s %s", lt, op, rt)
	return nil, nil, 0, vm.VoidType, false
}

func isRefLike(t vm.FieldType) bool {
	switch t.Kind {
	case vm.TypeReference, vm.TypeClass, vm.TypeState:
		return true
	}
	return false
}

// refComparable allows none against any reference-like value and
// otherwise requires related types of the same kind.
func refComparable(a, b vm.FieldType) bool {
	if a.IsNone() || b.IsNone() {
		return true
	}
	if a.Kind != b.Kind {
		return false
	}
	return a.CheckMatch(b) == nil || b.CheckMatch(a) == nil
}

// fold evaluates the operator when both operands are literals.
func (e *BinaryOp) fold(ec *EmitContext) Expression {
	switch l := e.Left.(type) {
	case *IntLiteral:
		r, ok := e.Right.(*IntLiteral)
		if !ok {
			return nil
		}
		a, b := l.Value, r.Value
		var v int32
		switch e.opcode {
		case vm.OpAdd:
			v = a + b
		case vm.OpSubtract:
			v = a - b
		case vm.OpMultiply:
			v = a * b
		case vm.OpDivide, vm.OpModulus:
			if b == 0 {
				ec.Errorf(e.loc, "Division by zero")
				return nil
			}
			if e.opcode == vm.OpDivide {
				v = a / b
			} else {
				v = a % b
			}
		case vm.OpLShift:
			v = a << (uint32(b) & 31)
		case vm.OpRShift:
			v = a >> (uint32(b) & 31)
		case vm.OpAndBitwise:
			v = a & b
		case vm.OpOrBitwise:
			v = a | b
		case vm.OpXOrBitwise:
			v = a ^ b
		default:
			return NewBoolLiteral(compareConst(e.Op, float64(a), float64(b)), e.loc)
		}
		return NewIntLiteral(v, e.loc)

	case *FloatLiteral:
		r, ok := e.Right.(*FloatLiteral)
		if !ok {
			return nil
		}
		a, b := l.Value, r.Value
		switch e.opcode {
		case vm.OpFAdd:
			return NewFloatLiteral(a+b, e.loc)
		case vm.OpFSubtract:
			return NewFloatLiteral(a-b, e.loc)
		case vm.OpFMultiply:
			return NewFloatLiteral(a*b, e.loc)
		case vm.OpFDivide:
			if b == 0 {
				ec.Errorf(e.loc, "Division by zero")
				return nil
			}
			return NewFloatLiteral(a/b, e.loc)
		}
		return NewBoolLiteral(compareConst(e.Op, float64(a), float64(b)), e.loc)

	case *StringLiteral:
		r, ok := e.Right.(*StringLiteral)
		if !ok {
			return nil
		}
		switch e.opcode {
		case vm.OpStrCat:
			return NewStringLiteral(l.Value+r.Value, e.loc)
		case vm.OpStrEquals:
			return NewBoolLiteral(l.Value == r.Value, e.loc)
		case vm.OpStrNotEquals:
			return NewBoolLiteral(l.Value != r.Value, e.loc)
		}
	}
	return nil
}

func compareConst(op TokenType, a, b float64) bool {
	switch op {
	case TokenEq:
		return a == b
	case TokenNotEq:
		return a != b
	case TokenLess:
		return a < b
	case TokenLessEq:
		return a <= b
	case TokenGreater:
		return a > b
	case TokenGreaterEq:
		return a >= b
	}
	internalf("bad comparison %s", op)
	return false
}

func (e *BinaryOp) Emit(ec *EmitContext) {
	e.Left.Emit(ec)
	e.Right.Emit(ec)
	ec.Emit(e.opcode)
}

// LogicalOp is `&&` or `||` with short-circuit evaluation.
type LogicalOp struct {
	exprBase
	And         bool
	Left, Right Expression
}

func (e *LogicalOp) Resolve(ec *EmitContext) Expression {
	l := coerceBool(ec, resolveOrNil(ec, e.Left))
	r := coerceBool(ec, resolveOrNil(ec, e.Right))
	if l == nil || r == nil {
		return nil
	}
	if lit, ok := l.(*IntLiteral); ok {
		// A constant left side decides or drops out.
		if (lit.Value != 0) != e.And {
			return NewBoolLiteral(!e.And, e.loc)
		}
		return &Retyped{exprBase{e.loc, vm.BoolType}, r}
	}
	e.Left, e.Right = l, r
	e.typ = vm.BoolType
	return e
}

func (e *LogicalOp) Emit(ec *EmitContext) {
	end := ec.DefineLabel()
	e.Left.Emit(ec)
	if e.And {
		ec.EmitJump(vm.OpIfNotTopGoto, end)
	} else {
		ec.EmitJump(vm.OpIfTopGoto, end)
	}
	e.Right.Emit(ec)
	ec.MarkLabel(end)
}

func resolveOrNil(ec *EmitContext, e Expression) Expression {
	if e == nil {
		return nil
	}
	return e.Resolve(ec)
}

// Conditional is `cond ? a : b`.
type Conditional struct {
	exprBase
	Cond, Then, Else Expression
}

func (e *Conditional) Resolve(ec *EmitContext) Expression {
	cond := coerceBool(ec, resolveOrNil(ec, e.Cond))
	a := resolveOrNil(ec, e.Then)
	b := resolveOrNil(ec, e.Else)
	if cond == nil || a == nil || b == nil {
		return nil
	}
	at, bt := valueType(a.Type()), valueType(b.Type())
	typ := at
	switch {
	case at.IsNumeric() && bt.IsNumeric() && (at.Kind == vm.TypeFloat || bt.Kind == vm.TypeFloat):
		a, b = coerce(ec, a, vm.FloatType), coerce(ec, b, vm.FloatType)
		typ = vm.FloatType
	case at.IsNone() && !bt.IsNone():
		a = coerce(ec, a, bt)
		typ = bt
	case at.Kind == vm.TypeReference && bt.Kind == vm.TypeReference && !at.IsNone() && !bt.IsNone():
		// The result is the more general of two related classes.
		switch {
		case bt.CheckMatch(at) == nil:
		case at.CheckMatch(bt) == nil:
			typ = bt
		default:
			ec.Errorf(e.loc, "Conditional branches have unrelated types %s and %s", at, bt)
			return nil
		}
	default:
		b = coerce(ec, b, at)
	}
	if a == nil || b == nil {
		return nil
	}
	if lit, ok := cond.(*IntLiteral); ok {
		if lit.Value != 0 {
			return a
		}
		return b
	}
	e.Cond, e.Then, e.Else = cond, a, b
	e.typ = typ
	return e
}

func (e *Conditional) Emit(ec *EmitContext) {
	elseLabel := ec.DefineLabel()
	end := ec.DefineLabel()
	e.Cond.Emit(ec)
	ec.EmitJump(vm.OpIfNotGoto, elseLabel)
	e.Then.Emit(ec)
	ec.EmitJump(vm.OpGoto, end)
	ec.MarkLabel(elseLabel)
	e.Else.Emit(ec)
	ec.MarkLabel(end)
}

// ---------------------------------------------------------------------------
// Assignment
// ---------------------------------------------------------------------------

// Assignment is `=` or a compound assignment. It has no value.
type Assignment struct {
	exprBase
	Op          TokenType
	Left, Right Expression

	target Addressable
	opcode vm.Opcode
	setter Expression // property setter call or array length change
}

func (e *Assignment) Resolve(ec *EmitContext) Expression {
	ec.assignTarget = true
	l := e.Left.Resolve(ec)
	ec.assignTarget = false
	r := e.Right.Resolve(ec)
	if l == nil || r == nil {
		return nil
	}
	e.typ = vm.VoidType

	switch target := l.(type) {
	case *PropertyAccess:
		if e.Op != TokenAssign {
			ec.Errorf(e.loc, "Compound assignment to property `%s` is not supported", target.Prop.Name)
			return nil
		}
		e.setter = target.resolveSet(ec, r, e.loc)
		if e.setter == nil {
			return nil
		}
		return e
	case *DynArrayLength:
		if e.Op != TokenAssign {
			ec.Errorf(e.loc, "Compound assignment to array length is not supported")
			return nil
		}
		r = coerce(ec, r, vm.IntType)
		if r == nil {
			return nil
		}
		e.setter = &dynArraySetLength{exprBase{e.loc, vm.VoidType}, target, r}
		return e
	}

	target, ok := l.(Addressable)
	if !ok {
		ec.Errorf(e.loc, "Bad assignment target")
		return nil
	}
	if target.IsReadOnly(ec) {
		ec.Errorf(e.loc, "Cannot assign to a read-only value")
		return nil
	}
	e.target = target
	lt := valueType(target.Type())

	if e.Op == TokenAssign {
		e.Right = coerce(ec, r, lt)
		return nilIf(e.Right == nil, e)
	}

	op, ok := compoundOps[e.Op]
	if !ok {
		internalf("bad assignment operator %s", e.Op)
	}
	_, r2, opcode, typ, ok := binaryOperands(ec, op, l, r, e.loc)
	if !ok {
		return nil
	}
	if typ.Kind != lt.Kind && !(lt.IsIntLike() && typ.IsIntLike()) {
		ec.Errorf(e.loc, "Expression type mismatch in %s", e.Op)
		return nil
	}
	e.Right = r2
	e.opcode = opcode
	return e
}

func nilIf(cond bool, e Expression) Expression {
	if cond {
		return nil
	}
	return e
}

func (e *Assignment) Emit(ec *EmitContext) {
	if e.setter != nil {
		e.setter.Emit(ec)
		return
	}
	st := e.target.StorageType()
	e.target.EmitAddress(ec)
	if e.Op == TokenAssign {
		e.Right.Emit(ec)
		ec.EmitStore(st)
		return
	}
	ec.Emit(vm.OpDup)
	ec.EmitLoad(st)
	e.Right.Emit(ec)
	ec.Emit(e.opcode)
	ec.EmitStore(st)
}

// dynArraySetLength resizes a dynamic array.
type dynArraySetLength struct {
	exprBase
	Target *DynArrayLength
	Value  Expression
}

func (e *dynArraySetLength) Resolve(*EmitContext) Expression { return e }

func (e *dynArraySetLength) Emit(ec *EmitContext) {
	e.Target.Base.EmitAddress(ec)
	e.Value.Emit(ec)
	ec.EmitUint16(vm.OpDynArraySetLength, e.Target.elemSize)
}
