package compiler

import (
	"github.com/chazu/vavoomc/vm"
)

// ---------------------------------------------------------------------------
// Calls
// ---------------------------------------------------------------------------

// CallExpr is `callee(args)` before resolution. A nil argument marks an
// omitted optional argument, as in `f(a, , c)`.
type CallExpr struct {
	exprBase
	Callee Expression
	Args   []Expression
}

// SuperMember is `super.Name`; it is only valid as a callee.
type SuperMember struct {
	exprBase
	Name string
}

func (e *SuperMember) Resolve(ec *EmitContext) Expression {
	ec.Errorf(e.loc, "`super.%s` can only be called", e.Name)
	return nil
}

func (e *SuperMember) Emit(*EmitContext) { internalf("emitting super member") }

func (e *CallExpr) Resolve(ec *EmitContext) Expression {
	if !resolveAll(ec, e.Args) {
		return nil
	}

	switch callee := e.Callee.(type) {
	case *SingleName:
		if l := ec.FindLocal(callee.Name); l != nil {
			return newDelegateCall(ec, e.loc, &LocalVar{exprBase{callee.loc, l.Type}, l}, e.Args)
		}
		if cls := ec.Class; cls != nil {
			if m := cls.FindMethod(callee.Name); m != nil {
				return newInvocation(ec, e.loc, nil, m, e.Args, false)
			}
			if f := cls.FindField(callee.Name); f != nil && f.Type.Kind == vm.TypeDelegate {
				fa := (&FieldAccess{exprBase: exprBase{loc: callee.loc}, Object: nil, Field: f}).Resolve(ec)
				if fa == nil {
					return nil
				}
				return newDelegateCall(ec, e.loc, fa, e.Args)
			}
		}
		if c := ec.Package.FindClass(callee.Name); c != nil {
			if len(e.Args) != 1 || e.Args[0] == nil {
				ec.Errorf(e.loc, "Dynamic cast to `%s` takes exactly one argument", c.Name)
				return nil
			}
			return (&DynamicCastExpr{exprBase{loc: e.loc}, c, e.Args[0]}).Resolve(ec)
		}
		ec.Errorf(callee.loc, "Unknown method `%s`", callee.Name)
		return nil

	case *MemberAccess:
		obj := callee.Object.Resolve(ec)
		if obj == nil {
			return nil
		}
		t := obj.Type()
		var cls *vm.Class
		switch t.Kind {
		case vm.TypeReference, vm.TypeClass:
			cls = t.Class
		}
		if cls == nil {
			ec.Errorf(callee.loc, "Method `%s` called on a value of type %s", callee.Name, t)
			return nil
		}
		if m := cls.FindMethod(callee.Name); m != nil {
			if t.Kind == vm.TypeClass {
				if !m.IsStatic() {
					ec.Errorf(callee.loc, "Method `%s` is not static", callee.Name)
					return nil
				}
				obj = nil
			}
			return newInvocation(ec, e.loc, obj, m, e.Args, false)
		}
		if t.Kind == vm.TypeReference {
			if f := cls.FindField(callee.Name); f != nil && f.Type.Kind == vm.TypeDelegate {
				fa := (&FieldAccess{exprBase: exprBase{loc: callee.loc}, Object: obj, Field: f}).Resolve(ec)
				if fa == nil {
					return nil
				}
				return newDelegateCall(ec, e.loc, fa, e.Args)
			}
		}
		ec.Errorf(callee.loc, "No such method `%s` in class %s", callee.Name, cls.Name)
		return nil

	case *SuperMember:
		if ec.Class == nil || ec.Class.Parent == nil {
			ec.Errorf(callee.loc, "`super` used in a class without a parent")
			return nil
		}
		m := ec.Class.Parent.FindMethod(callee.Name)
		if m == nil {
			ec.Errorf(callee.loc, "No such method `%s` in class %s", callee.Name, ec.Class.Parent.Name)
			return nil
		}
		return newInvocation(ec, e.loc, nil, m, e.Args, true)
	}

	fn := e.Callee.Resolve(ec)
	if fn == nil {
		return nil
	}
	return newDelegateCall(ec, e.loc, fn, e.Args)
}

func (e *CallExpr) Emit(*EmitContext) { internalf("emitting unresolved call") }

// bindArgs checks resolved arguments against params. Omitted optional
// arguments become zero values and by-reference arguments pass their
// address. Extra arguments are returned for a varargs method.
func bindArgs(ec *EmitContext, loc vm.Location, name string, params []vm.Param, args []Expression, varArgs bool) ([]Expression, []Expression, bool) {
	if len(args) > len(params) && !varArgs {
		ec.Errorf(loc, "Incorrect number of arguments to `%s`, need %d, got %d", name, len(params), len(args))
		return nil, nil, false
	}
	ok := true
	bound := make([]Expression, len(params))
	for i, p := range params {
		var arg Expression
		if i < len(args) {
			arg = args[i]
		}
		if arg == nil {
			if p.Flags&vm.ParamOptional == 0 {
				ec.Errorf(loc, "Argument %d of `%s` is not optional", i+1, name)
				ok = false
				continue
			}
			t := p.Type
			if p.Flags&(vm.ParamOut|vm.ParamRef) != 0 {
				t = vm.NullType
			}
			bound[i] = &ZeroValue{exprBase{loc, t}}
			continue
		}
		if p.Flags&(vm.ParamOut|vm.ParamRef) != 0 {
			target, isLoc := storageOf(arg)
			if !isLoc || target.IsReadOnly(ec) {
				ec.Errorf(arg.Loc(), "Argument %d of `%s` must be an assignable variable", i+1, name)
				ok = false
				continue
			}
			if !valueType(target.Type()).Equals(p.Type) {
				ec.Errorf(arg.Loc(), "By-reference argument %d of `%s` needs type %s, got %s", i+1, name, p.Type, target.Type())
				ok = false
				continue
			}
			bound[i] = &refArg{exprBase{arg.Loc(), p.Type.MakePointerType()}, target}
			continue
		}
		if bound[i] = coerce(ec, arg, p.Type); bound[i] == nil {
			ok = false
		}
	}

	var extra []Expression
	for i := len(params); i < len(args); i++ {
		arg := args[i]
		if arg == nil {
			ec.Errorf(loc, "Variable argument %d of `%s` cannot be omitted", i+1, name)
			ok = false
			continue
		}
		switch arg.Type().Kind {
		case vm.TypeVoid, vm.TypeStruct, vm.TypeArray, vm.TypeDynamicArray, vm.TypeSliceArray:
			ec.Errorf(arg.Loc(), "Value of type %s cannot be passed as a variable argument", arg.Type())
			ok = false
			continue
		}
		extra = append(extra, arg)
	}
	return bound, extra, ok
}

// refArg passes the address of a variable to an out or ref parameter.
type refArg struct {
	exprBase
	Target Addressable
}

func (e *refArg) Resolve(*EmitContext) Expression { return e }
func (e *refArg) Emit(ec *EmitContext)            { e.Target.EmitAddress(ec) }

// Invocation is a resolved method call. A nil Object calls on self.
type Invocation struct {
	exprBase
	Object     Expression
	Method     *vm.Method
	Args       []Expression
	VarArgs    []Expression
	NonVirtual bool // super calls bind to the named method
}

// newInvocation checks a call of method m with already resolved arguments.
func newInvocation(ec *EmitContext, loc vm.Location, obj Expression, m *vm.Method, args []Expression, nonVirtual bool) Expression {
	if m.Flags&vm.MethodDelegate != 0 {
		ec.Errorf(loc, "`%s` is a delegate type, not a method", m.Name)
		return nil
	}
	if !m.IsStatic() && obj == nil && ec.IsStatic() {
		ec.Errorf(loc, "Cannot call method `%s` from a static method", m.Name)
		return nil
	}
	owner := m.OwnerClass()
	if !checkAccess(ec, owner, m.Flags&vm.MethodPrivate != 0, false, "Method", m.Name, loc) {
		return nil
	}
	if m.IsStatic() {
		obj = nil
	}
	bound, extra, ok := bindArgs(ec, loc, m.Name, m.Params, args, m.IsVarArgs())
	if !ok {
		return nil
	}
	return &Invocation{
		exprBase:   exprBase{loc, m.ReturnType},
		Object:     obj,
		Method:     m,
		Args:       bound,
		VarArgs:    extra,
		NonVirtual: nonVirtual,
	}
}

func (e *Invocation) Resolve(*EmitContext) Expression { return e }

func (e *Invocation) Emit(ec *EmitContext) {
	m := e.Method
	if !m.IsStatic() {
		emitObject(ec, e.Object)
	}
	for _, a := range e.Args {
		a.Emit(ec)
	}
	if m.IsVarArgs() {
		for _, a := range e.VarArgs {
			a.Emit(ec)
			ec.EmitByte(vm.OpPushVArgType, int(a.Type().Kind))
		}
		ec.EmitPushNumber(int32(len(e.VarArgs)))
	}
	if m.IsStatic() || e.NonVirtual || m.VTableIndex < 0 || m.Flags&(vm.MethodFinal|vm.MethodPrivate) != 0 {
		ec.EmitRef(vm.OpCall, m)
		return
	}
	ec.code.EmitUint16(vm.OpVCall, uint16(m.VTableIndex))
	ec.code.AppendUint8(uint8(m.ParamsSize))
}

// DelegateValue is a method used as a value: the object and the method it
// will run on.
type DelegateValue struct {
	exprBase
	Object Expression
	Method *vm.Method
}

func (e *DelegateValue) Resolve(ec *EmitContext) Expression {
	if e.Method.IsStatic() {
		ec.Errorf(e.loc, "Static method `%s` cannot be used as a delegate", e.Method.Name)
		return nil
	}
	if e.Object == nil && ec.IsStatic() {
		ec.Errorf(e.loc, "Method `%s` used as a delegate in a static method", e.Method.Name)
		return nil
	}
	e.typ = vm.DelegateOf(e.Method)
	return e
}

func (e *DelegateValue) Emit(ec *EmitContext) {
	emitObject(ec, e.Object)
	m := e.Method
	if m.VTableIndex < 0 || m.Flags&vm.MethodFinal != 0 {
		ec.EmitRef(vm.OpPushMethod, m)
		return
	}
	ec.EmitUint16(vm.OpPushVFunc, m.VTableIndex)
}

// DelegateCall calls the method held by a delegate value.
type DelegateCall struct {
	exprBase
	Delegate Expression
	Args     []Expression
	argSize  int
}

func newDelegateCall(ec *EmitContext, loc vm.Location, fn Expression, args []Expression) Expression {
	t := fn.Type()
	if t.Kind != vm.TypeDelegate || t.Delegate == nil {
		ec.Errorf(loc, "Value of type %s is not callable", t)
		return nil
	}
	sig := t.Delegate
	bound, _, ok := bindArgs(ec, loc, sig.Name, sig.Params, args, false)
	if !ok {
		return nil
	}
	size := 0
	for _, p := range sig.Params {
		size += p.StackSize()
	}
	return &DelegateCall{exprBase{loc, sig.ReturnType}, fn, bound, size}
}

func (e *DelegateCall) Resolve(*EmitContext) Expression { return e }

func (e *DelegateCall) Emit(ec *EmitContext) {
	e.Delegate.Emit(ec)
	for _, a := range e.Args {
		a.Emit(ec)
	}
	ec.EmitByte(vm.OpDelegateCall, e.argSize)
}
