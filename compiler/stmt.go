package compiler

import (
	"slices"

	"github.com/chazu/vavoomc/vm"
)

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

// Statement is a node of a method body. Resolve binds names and checks
// types, reporting failures as diagnostics; Emit appends code and assumes
// Resolve succeeded. The query methods drive fall-through analysis.
type Statement interface {
	Loc() vm.Location
	Resolve(ec *EmitContext) bool
	Emit(ec *EmitContext)

	IsBreak() bool
	IsContinue() bool
	IsReturn() bool
	// IsEndsWithReturn reports that every path through the statement
	// returns.
	IsEndsWithReturn() bool
}

type stmtBase struct {
	loc vm.Location
}

func (s *stmtBase) Loc() vm.Location       { return s.loc }
func (s *stmtBase) IsBreak() bool          { return false }
func (s *stmtBase) IsContinue() bool       { return false }
func (s *stmtBase) IsReturn() bool         { return false }
func (s *stmtBase) IsEndsWithReturn() bool { return false }

// isFlowStop reports a statement after which the rest of a block is dead.
func isFlowStop(s Statement) bool {
	return s.IsBreak() || s.IsContinue() || s.IsReturn()
}

// EmptyStmt is `;`.
type EmptyStmt struct{ stmtBase }

func (s *EmptyStmt) Resolve(*EmitContext) bool { return true }
func (s *EmptyStmt) Emit(*EmitContext)         {}

// ExprStmt evaluates an expression for its effect and drops the result.
type ExprStmt struct {
	stmtBase
	Expr Expression
}

func (s *ExprStmt) Resolve(ec *EmitContext) bool {
	s.Expr = s.Expr.Resolve(ec)
	return s.Expr != nil
}

func (s *ExprStmt) Emit(ec *EmitContext) {
	ec.MarkLine(s.loc)
	s.Expr.Emit(ec)
	ec.EmitDrop(s.Expr.Type())
}

// ---------------------------------------------------------------------------
// Local declarations
// ---------------------------------------------------------------------------

// VarDecl is one variable of a local declaration.
type VarDecl struct {
	Name string
	Type *TypeExpr
	Dims []Expression
	Init Expression
	Loc  vm.Location

	Local *LocalDef
}

// LocalDecl is `Type a = x, b;`.
type LocalDecl struct {
	stmtBase
	Vars []*VarDecl
}

func (s *LocalDecl) Resolve(ec *EmitContext) bool {
	ok := true
	for _, v := range s.Vars {
		if !declareLocal(ec, v) {
			ok = false
		}
	}
	return ok
}

// declareLocal resolves v's initializer, then its type, and allocates the
// local. The initializer is resolved first so it cannot see the variable.
func declareLocal(ec *EmitContext, v *VarDecl) bool {
	var t vm.FieldType
	ok := true
	if v.Init != nil {
		if v.Init = v.Init.Resolve(ec); v.Init == nil {
			ok = false
		}
	}
	if v.Type.Auto {
		if v.Init == nil {
			if ok {
				ec.Errorf(v.Loc, "`auto` variable `%s` needs an initializer", v.Name)
			}
			return false
		}
		t = valueType(v.Init.Type())
		if t.Kind == vm.TypeVoid || t.IsNone() {
			ec.Errorf(v.Loc, "Cannot infer the type of `%s` from %s", v.Name, t)
			return false
		}
	} else {
		var good bool
		t, good = ec.c.resolveType(v.Type, ec.Class)
		if good {
			t, good = ec.c.resolveDims(t, v.Dims, v.Loc, ec.Class)
		}
		if !good {
			return false
		}
		if t.Kind == vm.TypeVoid {
			ec.Errorf(v.Loc, "Variable `%s` cannot be void", v.Name)
			return false
		}
	}
	if prev := ec.FindLocal(v.Name); prev != nil && prev.compIndex == ec.compIndex {
		ec.Errorf(v.Loc, "Redefined identifier `%s`", v.Name)
		return false
	}
	if ok && v.Init != nil {
		v.Init = coerce(ec, v.Init, t)
		ok = v.Init != nil
	}
	v.Local = ec.AllocLocal(v.Name, t, v.Loc)
	return ok
}

func (s *LocalDecl) Emit(ec *EmitContext) {
	for _, v := range s.Vars {
		emitVarInit(ec, v)
	}
}

// emitVarInit stores the initializer of v, or zeroes it, and registers the
// cleanup of locals that own dynamic arrays.
func emitVarInit(ec *EmitContext, v *VarDecl) {
	ec.MarkLine(v.Loc)
	l := v.Local
	if v.Init != nil {
		ec.EmitLocalAddress(l)
		v.Init.Emit(ec)
		ec.EmitStore(l.Type)
	} else {
		ec.EmitClearLocal(l)
	}
	if l.Type.NeedsDestructor() {
		ec.RegisterFinalizer(func(ec *EmitContext) { ec.EmitClearLocal(l) })
	}
}

// ---------------------------------------------------------------------------
// Blocks and conditionals
// ---------------------------------------------------------------------------

// Compound is `{ ... }`, a lexical scope.
type Compound struct {
	stmtBase
	Stmts []Statement
}

func (s *Compound) Resolve(ec *EmitContext) bool {
	idx := ec.EnterCompound(false)
	ok := true
	for _, st := range s.Stmts {
		if !st.Resolve(ec) {
			ok = false
		}
	}
	ec.ExitCompound(idx, false)
	return ok
}

func (s *Compound) Emit(ec *EmitContext) {
	depth := ec.FinalizerDepth()
	for _, st := range s.Stmts {
		st.Emit(ec)
	}
	ec.PopFinalizersTo(depth, !s.IsEndsWithReturn())
}

func (s *Compound) IsEndsWithReturn() bool {
	for _, st := range s.Stmts {
		if st.IsEndsWithReturn() {
			return true
		}
		if isFlowStop(st) {
			break
		}
	}
	return false
}

// ScopeExit is `scope(exit) stmt`. The statement runs whenever control
// leaves the enclosing block after this point, including by break,
// continue and return.
type ScopeExit struct {
	stmtBase
	Body Statement
}

func (s *ScopeExit) Resolve(ec *EmitContext) bool {
	if isFlowStop(s.Body) {
		ec.Errorf(s.loc, "`scope(exit)` cannot leave its block")
		return false
	}
	// Loops and switches outside the body are not jump targets inside it.
	loops, switches := ec.loopDepth, ec.switchDepth
	ec.loopDepth, ec.switchDepth = 0, 0
	ec.inScopeExit++
	ok := s.Body.Resolve(ec)
	ec.inScopeExit--
	ec.loopDepth, ec.switchDepth = loops, switches
	return ok
}

func (s *ScopeExit) Emit(ec *EmitContext) {
	depth := ec.FinalizerDepth()
	ec.RegisterFinalizer(func(ec *EmitContext) {
		// The body sees only the finalizers that were live before it.
		saved := ec.fins
		ec.fins = slices.Clip(saved[:depth])
		s.Body.Emit(ec)
		ec.fins = saved
	})
}

// If is `if (cond) a else b`.
type If struct {
	stmtBase
	Cond Expression
	Then Statement
	Else Statement
}

func (s *If) Resolve(ec *EmitContext) bool {
	s.Cond = coerceBool(ec, resolveOrNil(ec, s.Cond))
	ok := s.Cond != nil
	if !s.Then.Resolve(ec) {
		ok = false
	}
	if s.Else != nil && !s.Else.Resolve(ec) {
		ok = false
	}
	return ok
}

func (s *If) Emit(ec *EmitContext) {
	ec.MarkLine(s.loc)
	if lit, ok := s.Cond.(*IntLiteral); ok {
		switch {
		case lit.Value != 0:
			s.Then.Emit(ec)
		case s.Else != nil:
			s.Else.Emit(ec)
		}
		return
	}
	elseLabel := ec.DefineLabel()
	s.Cond.Emit(ec)
	ec.EmitJump(vm.OpIfNotGoto, elseLabel)
	s.Then.Emit(ec)
	if s.Else == nil {
		ec.MarkLabel(elseLabel)
		return
	}
	end := ec.DefineLabel()
	ec.EmitJump(vm.OpGoto, end)
	ec.MarkLabel(elseLabel)
	s.Else.Emit(ec)
	ec.MarkLabel(end)
}

func (s *If) IsEndsWithReturn() bool {
	return s.Else != nil && s.Then.IsEndsWithReturn() && s.Else.IsEndsWithReturn()
}

// ---------------------------------------------------------------------------
// Loops
// ---------------------------------------------------------------------------

// resolveLoopBody resolves a loop body in its own loop scope.
func resolveLoopBody(ec *EmitContext, body Statement) bool {
	idx := ec.EnterCompound(true)
	ok := body.Resolve(ec)
	ec.ExitCompound(idx, true)
	return ok
}

// While is `while (cond) body`.
type While struct {
	stmtBase
	Cond Expression
	Body Statement
}

func (s *While) Resolve(ec *EmitContext) bool {
	s.Cond = coerceBool(ec, resolveOrNil(ec, s.Cond))
	ok := resolveLoopBody(ec, s.Body)
	return ok && s.Cond != nil
}

func (s *While) Emit(ec *EmitContext) {
	ec.MarkLine(s.loc)
	brk := ec.DefineBreak()
	cont := ec.DefineContinue()
	cont.Mark()
	emitLoopTest(ec, s.Cond, brk)
	s.Body.Emit(ec)
	ec.EmitJump(vm.OpGoto, cont.GetLabelNoFinalizers())
	brk.Mark()
	ec.PopTarget(cont)
	ec.PopTarget(brk)
}

// emitLoopTest leaves the loop when cond is false. A constant true
// condition emits nothing.
func emitLoopTest(ec *EmitContext, cond Expression, brk *JumpTarget) {
	if cond == nil {
		return
	}
	if lit, ok := cond.(*IntLiteral); ok {
		if lit.Value == 0 {
			ec.EmitJump(vm.OpGoto, brk.GetLabelNoFinalizers())
		}
		return
	}
	cond.Emit(ec)
	ec.EmitJump(vm.OpIfNotGoto, brk.GetLabelNoFinalizers())
}

func (s *While) IsEndsWithReturn() bool { return s.Body.IsEndsWithReturn() }

// DoWhile is `do body while (cond);`.
type DoWhile struct {
	stmtBase
	Body Statement
	Cond Expression
}

func (s *DoWhile) Resolve(ec *EmitContext) bool {
	ok := resolveLoopBody(ec, s.Body)
	s.Cond = coerceBool(ec, resolveOrNil(ec, s.Cond))
	return ok && s.Cond != nil
}

func (s *DoWhile) Emit(ec *EmitContext) {
	ec.MarkLine(s.loc)
	brk := ec.DefineBreak()
	cont := ec.DefineContinue()
	top := ec.DefineLabel()
	ec.MarkLabel(top)
	s.Body.Emit(ec)
	cont.Mark()
	if lit, ok := s.Cond.(*IntLiteral); ok {
		if lit.Value != 0 {
			ec.EmitJump(vm.OpGoto, top)
		}
	} else {
		s.Cond.Emit(ec)
		ec.EmitJump(vm.OpIfGoto, top)
	}
	brk.Mark()
	ec.PopTarget(cont)
	ec.PopTarget(brk)
}

func (s *DoWhile) IsEndsWithReturn() bool { return s.Body.IsEndsWithReturn() }

// For is `for (init; cond; post) body`. Variables declared in init are
// scoped to the loop.
type For struct {
	stmtBase
	Init []Statement
	Cond Expression // nil loops forever
	Post []Expression
	Body Statement
}

func (s *For) Resolve(ec *EmitContext) bool {
	idx := ec.EnterCompound(false)
	defer ec.ExitCompound(idx, false)
	ok := true
	for _, st := range s.Init {
		if !st.Resolve(ec) {
			ok = false
		}
	}
	if s.Cond != nil {
		if s.Cond = coerceBool(ec, s.Cond.Resolve(ec)); s.Cond == nil {
			ok = false
		}
	}
	if !resolveAll(ec, s.Post) {
		ok = false
	}
	if !resolveLoopBody(ec, s.Body) {
		ok = false
	}
	return ok
}

func (s *For) Emit(ec *EmitContext) {
	ec.MarkLine(s.loc)
	depth := ec.FinalizerDepth()
	for _, st := range s.Init {
		st.Emit(ec)
	}
	brk := ec.DefineBreak()
	cont := ec.DefineContinue()
	top := ec.DefineLabel()
	ec.MarkLabel(top)
	emitLoopTest(ec, s.Cond, brk)
	s.Body.Emit(ec)
	cont.Mark()
	for _, e := range s.Post {
		e.Emit(ec)
		ec.EmitDrop(e.Type())
	}
	ec.EmitJump(vm.OpGoto, top)
	brk.Mark()
	ec.PopTarget(cont)
	ec.PopTarget(brk)
	ec.PopFinalizersTo(depth, true)
}

func (s *For) IsEndsWithReturn() bool { return s.Body.IsEndsWithReturn() }

// ForeachRange is `foreach (int i; lo .. hi) body`, iterating lo up to,
// but not including, hi. Reversed iterates from hi-1 down to lo. The
// bounds are evaluated once.
type ForeachRange struct {
	stmtBase
	Var      *VarDecl
	Lo, Hi   Expression
	Reversed bool
	Body     Statement

	limit *LocalDef
}

func (s *ForeachRange) Resolve(ec *EmitContext) bool {
	idx := ec.EnterCompound(false)
	defer ec.ExitCompound(idx, false)
	s.Lo = coerce(ec, resolveOrNil(ec, s.Lo), vm.IntType)
	s.Hi = coerce(ec, resolveOrNil(ec, s.Hi), vm.IntType)
	if s.Var.Type.Auto {
		s.Var.Type = &TypeExpr{Loc: s.Var.Loc, Kind: vm.TypeInt}
	}
	ok := declareLocal(ec, s.Var)
	if ok && s.Var.Local.Type.Kind != vm.TypeInt {
		ec.Errorf(s.Var.Loc, "Range loop variable `%s` must be int", s.Var.Name)
		ok = false
	}
	s.limit = ec.AllocLocal("", vm.IntType, s.loc)
	if !resolveLoopBody(ec, s.Body) {
		ok = false
	}
	return ok && s.Lo != nil && s.Hi != nil
}

func (s *ForeachRange) Emit(ec *EmitContext) {
	ec.MarkLine(s.loc)
	v := s.Var.Local
	first, last := s.Lo, s.Hi
	if s.Reversed {
		first, last = s.Hi, s.Lo
	}
	ec.EmitLocalAddress(v)
	first.Emit(ec)
	ec.EmitStore(vm.IntType)
	ec.EmitLocalAddress(s.limit)
	last.Emit(ec)
	ec.EmitStore(vm.IntType)

	brk := ec.DefineBreak()
	cont := ec.DefineContinue()
	top := ec.DefineLabel()
	ec.MarkLabel(top)
	if s.Reversed {
		cont.Mark()
	}
	ec.EmitLocalValue(v)
	ec.EmitLocalValue(s.limit)
	if s.Reversed {
		ec.Emit(vm.OpGreater)
	} else {
		ec.Emit(vm.OpLess)
	}
	ec.EmitJump(vm.OpIfNotGoto, brk.GetLabelNoFinalizers())
	if s.Reversed {
		ec.EmitLocalAddress(v)
		ec.Emit(vm.OpPreDec)
		ec.EmitDrop(vm.IntType)
	}
	s.Body.Emit(ec)
	if !s.Reversed {
		cont.Mark()
		ec.EmitLocalAddress(v)
		ec.Emit(vm.OpPreInc)
		ec.EmitDrop(vm.IntType)
	}
	ec.EmitJump(vm.OpGoto, top)
	brk.Mark()
	ec.PopTarget(cont)
	ec.PopTarget(brk)
}

func (s *ForeachRange) IsEndsWithReturn() bool { return s.Body.IsEndsWithReturn() }

// ForeachArray is `foreach ([i,] v; arr) body` over a static or dynamic
// array. With `ref` the value variable aliases the element.
type ForeachArray struct {
	stmtBase
	Index    *VarDecl // optional
	Value    *VarDecl
	ByRef    bool
	Array    Expression
	Reversed bool
	Body     Statement

	array Addressable
	idx   *LocalDef
	elem  vm.FieldType
}

func (s *ForeachArray) Resolve(ec *EmitContext) bool {
	idx := ec.EnterCompound(false)
	defer ec.ExitCompound(idx, false)

	arr := resolveOrNil(ec, s.Array)
	if arr == nil {
		return false
	}
	t := arr.Type()
	if (t.Kind != vm.TypeArray || t.IsArray2D()) && t.Kind != vm.TypeDynamicArray {
		ec.Errorf(arr.Loc(), "foreach needs a one-dimensional or dynamic array, got %s", t)
		return false
	}
	a, ok := arr.(Addressable)
	if !ok {
		ec.Errorf(arr.Loc(), "foreach over a temporary array")
		return false
	}
	s.array = a
	s.elem, _ = t.GetArrayInnerType()

	good := true
	if s.Index != nil {
		if s.Index.Type.Auto {
			s.Index.Type = &TypeExpr{Loc: s.Index.Loc, Kind: vm.TypeInt}
		}
		if !declareLocal(ec, s.Index) {
			good = false
		} else if s.Index.Local.Type.Kind != vm.TypeInt {
			ec.Errorf(s.Index.Loc, "foreach index `%s` must be int", s.Index.Name)
			good = false
		}
		if good {
			s.idx = s.Index.Local
		}
	}
	if s.idx == nil {
		s.idx = ec.AllocLocal("", vm.IntType, s.loc)
	}

	if s.Value.Type.Auto {
		s.Value.Type = nil
	}
	if s.Value.Type != nil {
		vt, ok := ec.c.resolveType(s.Value.Type, ec.Class)
		if !ok {
			return false
		}
		if s.ByRef && !vt.Equals(valueType(s.elem)) {
			ec.Errorf(s.Value.Loc, "ref variable `%s` needs type %s", s.Value.Name, s.elem)
			return false
		}
		if err := s.elem.CheckMatch(vt); err != nil {
			ec.Errorf(s.Value.Loc, "%v", err)
			return false
		}
	}
	if s.ByRef {
		// The slot holds a pointer to the element.
		l := ec.AllocLocal(s.Value.Name, valueType(s.elem).MakePointerType(), s.Value.Loc)
		l.Type = valueType(s.elem)
		l.Flags = vm.ParamRef
		s.Value.Local = l
	} else {
		s.Value.Local = ec.AllocLocal(s.Value.Name, valueType(s.elem), s.Value.Loc)
	}

	if !resolveLoopBody(ec, s.Body) {
		good = false
	}
	return good
}

// elementAt is the array element at the index variable.
func (s *ForeachArray) elementAt() *ArrayElement {
	iv := &LocalVar{exprBase{s.loc, vm.IntType}, s.idx}
	return &ArrayElement{exprBase: exprBase{s.loc, s.elem}, Base: s.array, Index: iv, base: s.array}
}

// emitLength pushes the current array length.
func (s *ForeachArray) emitLength(ec *EmitContext) {
	t := s.array.Type()
	if t.Kind == vm.TypeArray {
		ec.EmitPushNumber(int32(t.GetArrayDim()))
		return
	}
	s.array.EmitAddress(ec)
	ec.EmitUint16(vm.OpDynArrayLength, s.elem.GetStackSize())
}

func (s *ForeachArray) Emit(ec *EmitContext) {
	ec.MarkLine(s.loc)
	ec.EmitLocalAddress(s.idx)
	if s.Reversed {
		s.emitLength(ec)
	} else {
		ec.EmitPushNumber(0)
	}
	ec.EmitStore(vm.IntType)

	brk := ec.DefineBreak()
	cont := ec.DefineContinue()
	v := s.Value.Local
	owned := !s.ByRef && v.Type.NeedsDestructor()
	if owned {
		ec.RegisterLoopFinalizer(func(ec *EmitContext) { ec.EmitClearLocal(v) }, brk, cont)
	}

	top := ec.DefineLabel()
	ec.MarkLabel(top)
	if s.Reversed {
		cont.Mark()
		ec.EmitLocalValue(s.idx)
		ec.EmitPushNumber(0)
		ec.Emit(vm.OpGreater)
		ec.EmitJump(vm.OpIfNotGoto, brk.GetLabelNoFinalizers())
		ec.EmitLocalAddress(s.idx)
		ec.Emit(vm.OpPreDec)
		ec.EmitDrop(vm.IntType)
	} else {
		ec.EmitLocalValue(s.idx)
		s.emitLength(ec)
		ec.Emit(vm.OpLess)
		ec.EmitJump(vm.OpIfNotGoto, brk.GetLabelNoFinalizers())
	}

	elem := s.elementAt()
	if s.ByRef {
		ec.EmitUint16(vm.OpLocalAddress, v.Offset)
		elem.EmitAddress(ec)
		ec.EmitByte(vm.OpAssignDrop, 1)
	} else {
		ec.EmitLocalAddress(v)
		elem.Emit(ec)
		ec.EmitStore(v.Type)
	}

	s.Body.Emit(ec)
	if !s.Reversed {
		cont.Mark()
		ec.EmitLocalAddress(s.idx)
		ec.Emit(vm.OpPreInc)
		ec.EmitDrop(vm.IntType)
	}
	ec.EmitJump(vm.OpGoto, top)
	brk.Mark()
	ec.PopTarget(cont)
	ec.PopTarget(brk)
	if owned {
		ec.PopFinalizersTo(ec.FinalizerDepth()-1, true)
	}
}

func (s *ForeachArray) IsEndsWithReturn() bool { return s.Body.IsEndsWithReturn() }

// ---------------------------------------------------------------------------
// Switch
// ---------------------------------------------------------------------------

// Switch is `switch (expr) { case N: ... default: ... }` with C
// fall-through between cases.
type Switch struct {
	stmtBase
	Expr Expression
	Body []Statement

	cases      []*CaseStmt
	defaultSeq *DefaultStmt
}

// CaseStmt is a `case N:` marker inside a switch body.
type CaseStmt struct {
	stmtBase
	Value Expression

	value int32
	label Label
}

func (s *CaseStmt) Resolve(ec *EmitContext) bool { return true }
func (s *CaseStmt) Emit(ec *EmitContext)         { ec.MarkLabel(s.label) }

// DefaultStmt is the `default:` marker inside a switch body.
type DefaultStmt struct {
	stmtBase
	label Label
}

func (s *DefaultStmt) Resolve(ec *EmitContext) bool { return true }
func (s *DefaultStmt) Emit(ec *EmitContext)         { ec.MarkLabel(s.label) }

func (s *Switch) Resolve(ec *EmitContext) bool {
	ok := true
	s.Expr = resolveOrNil(ec, s.Expr)
	if s.Expr != nil && !s.Expr.Type().IsIntLike() {
		ec.Errorf(s.Expr.Loc(), "Int expression expected in switch, got %s", s.Expr.Type())
		ok = false
	}
	if s.Expr == nil {
		ok = false
	}

	s.cases = nil
	s.defaultSeq = nil
	seen := make(map[int32]bool)
	ec.switchDepth++
	idx := ec.EnterCompound(false)
	for _, st := range s.Body {
		switch c := st.(type) {
		case *CaseStmt:
			v := resolveOrNil(ec, c.Value)
			lit, isConst := v.(*IntLiteral)
			if v != nil && !isConst {
				ec.Errorf(c.loc, "Integer constant expected in case")
			}
			if !isConst {
				ok = false
				continue
			}
			if seen[lit.Value] {
				ec.Errorf(c.loc, "Duplicate case value %d", lit.Value)
				ok = false
			}
			seen[lit.Value] = true
			c.value = lit.Value
			s.cases = append(s.cases, c)
		case *DefaultStmt:
			if s.defaultSeq != nil {
				ec.Errorf(c.loc, "Only one `default` per switch allowed")
				ok = false
			}
			s.defaultSeq = c
		default:
			if !st.Resolve(ec) {
				ok = false
			}
		}
	}
	ec.ExitCompound(idx, false)
	ec.switchDepth--
	return ok
}

func (s *Switch) Emit(ec *EmitContext) {
	ec.MarkLine(s.loc)
	brk := ec.DefineBreak()
	s.Expr.Emit(ec)
	for _, c := range s.cases {
		c.label = ec.DefineLabel()
		ec.EmitCaseGoto(c.value, c.label)
	}
	ec.EmitByte(vm.OpDrop, 1)
	if s.defaultSeq != nil {
		s.defaultSeq.label = ec.DefineLabel()
		ec.EmitJump(vm.OpGoto, s.defaultSeq.label)
	} else {
		ec.EmitJump(vm.OpGoto, brk.GetLabelNoFinalizers())
	}
	depth := ec.FinalizerDepth()
	for _, st := range s.Body {
		st.Emit(ec)
	}
	ec.PopFinalizersTo(depth, true)
	brk.Mark()
	ec.PopTarget(brk)
}

// IsEndsWithReturn reports that control cannot leave the switch normally:
// there is a default, and every section returns before reaching a break
// or continue. A section without one runs on into the next label.
func (s *Switch) IsEndsWithReturn() bool {
	defaultSeen, returnSeen := false, false
	for _, st := range s.Body {
		_, isCase := st.(*CaseStmt)
		_, isDefault := st.(*DefaultStmt)
		if isCase || isDefault {
			if isDefault {
				defaultSeen = true
			}
			returnSeen = false
			continue
		}
		if returnSeen {
			continue
		}
		returnSeen = st.IsEndsWithReturn()
		if isFlowStop(st) && !returnSeen {
			return false
		}
	}
	return defaultSeen && returnSeen
}

// ---------------------------------------------------------------------------
// Jumps
// ---------------------------------------------------------------------------

// Return is `return [value];`. It runs every live finalizer first.
type Return struct {
	stmtBase
	Value Expression
}

func (s *Return) Resolve(ec *EmitContext) bool {
	rt := ec.ReturnType
	switch {
	case ec.inScopeExit > 0:
		ec.Errorf(s.loc, "`scope(exit)` cannot leave its block")
		return false
	case s.Value == nil && rt.Kind != vm.TypeVoid:
		ec.Errorf(s.loc, "Return value expected")
		return false
	case s.Value != nil && rt.Kind == vm.TypeVoid:
		ec.Errorf(s.loc, "Void function cannot return a value")
		return false
	case s.Value != nil:
		s.Value = coerce(ec, s.Value.Resolve(ec), rt)
		return s.Value != nil
	}
	return true
}

func (s *Return) Emit(ec *EmitContext) {
	ec.MarkLine(s.loc)
	if s.Value != nil {
		s.Value.Emit(ec)
	}
	ec.EmitFinalizers()
	ec.EmitByte(vm.OpReturn, ec.ReturnType.GetStackSize())
}

func (s *Return) IsReturn() bool         { return true }
func (s *Return) IsEndsWithReturn() bool { return true }

// Break is `break;`.
type Break struct{ stmtBase }

func (s *Break) Resolve(ec *EmitContext) bool {
	if !ec.CanBreak() {
		if ec.inScopeExit > 0 {
			ec.Errorf(s.loc, "`scope(exit)` cannot leave its block")
		} else {
			ec.Errorf(s.loc, "Misplaced `break` statement")
		}
		return false
	}
	return true
}

func (s *Break) Emit(ec *EmitContext) {
	ec.MarkLine(s.loc)
	ec.EmitBreak(s.loc)
}

func (s *Break) IsBreak() bool { return true }

// Continue is `continue;`.
type Continue struct{ stmtBase }

func (s *Continue) Resolve(ec *EmitContext) bool {
	if !ec.InLoop() {
		if ec.inScopeExit > 0 {
			ec.Errorf(s.loc, "`scope(exit)` cannot leave its block")
		} else {
			ec.Errorf(s.loc, "Misplaced `continue` statement")
		}
		return false
	}
	return true
}

func (s *Continue) Emit(ec *EmitContext) {
	ec.MarkLine(s.loc)
	ec.EmitContinue(s.loc)
}

func (s *Continue) IsContinue() bool { return true }
