package compiler

import (
	"fmt"
	"io"

	"github.com/chazu/vavoomc/vm"
)

// ---------------------------------------------------------------------------
// Definition passes
// ---------------------------------------------------------------------------

// define runs every pass after parsing. Each pass only needs what the
// previous ones produced: parents before layouts, signatures before
// bodies, bodies before defaultproperties.
func (c *Compiler) define() {
	c.linkParents()
	c.defineStructs()
	for _, u := range c.units {
		for _, d := range u.Consts {
			c.defineConstant(d.Const, d.Const.Location)
		}
	}
	for _, cd := range c.classes {
		for _, d := range cd.Consts {
			c.defineConstant(d.Const, d.Const.Location)
		}
	}
	for _, cd := range c.classes {
		c.defineReplication(cd)
	}
	for _, cd := range c.classes {
		c.defineFields(cd)
		c.defineSignatures(cd)
	}
	for _, cd := range c.classes {
		c.checkOverrides(cd)
		c.defineProperties(cd)
		c.checkDuplicates(cd)
	}
	if c.diags.HasErrors() {
		return
	}
	for _, cd := range c.classes {
		cls := cd.Class
		if err := cls.DefineFieldOffsets(); err != nil {
			c.diags.Errorf(cd.Loc, "%v", err)
			continue
		}
		cls.BuildVTable()
	}
	for _, cd := range c.classes {
		c.resolveStates(cd)
	}
	if c.diags.HasErrors() {
		return
	}
	for _, cd := range c.classes {
		for _, md := range cd.Methods {
			if md.Body != nil {
				c.emitMethod(md)
			}
		}
	}
	if c.diags.HasErrors() {
		return
	}
	mach := c.defaultsMachine()
	for _, cd := range c.classes {
		c.evalDefaults(cd, mach)
	}
}

// ---------------------------------------------------------------------------
// Class hierarchy
// ---------------------------------------------------------------------------

// linkParents binds parent classes and orders c.classes so that every
// class follows its parent. A class without an explicit parent derives
// from Object.
func (c *Compiler) linkParents() {
	var all []*ClassDecl
	byClass := make(map[*vm.Class]*ClassDecl)
	for _, u := range c.units {
		for _, cd := range u.Classes {
			all = append(all, cd)
			byClass[cd.Class] = cd
		}
	}

	object := c.findClass("Object")
	for _, cd := range all {
		cls := cd.Class
		switch {
		case cls.ParentName != "":
			parent := c.findClass(cls.ParentName)
			if parent == nil {
				c.diags.Errorf(cd.Loc, "No such class `%s`", cls.ParentName)
				continue
			}
			cls.Parent = parent
		case object != nil && object != cls:
			cls.Parent = object
		}
	}

	for _, cd := range all {
		cls := cd.Class
		steps := 0
		for cur := cls.Parent; cur != nil; cur = cur.Parent {
			if cur == cls || steps > len(all) {
				c.diags.Errorf(cd.Loc, "Class `%s` inherits from itself", cls.Name)
				cls.Parent = nil
				break
			}
			steps++
		}
	}

	done := make(map[*ClassDecl]bool)
	var visit func(cd *ClassDecl)
	visit = func(cd *ClassDecl) {
		if done[cd] {
			return
		}
		done[cd] = true
		if pd, ok := byClass[cd.Class.Parent]; ok {
			visit(pd)
		}
		c.classes = append(c.classes, cd)
	}
	for _, cd := range all {
		visit(cd)
	}
}

// ---------------------------------------------------------------------------
// Structs
// ---------------------------------------------------------------------------

func (c *Compiler) defineStructs() {
	var all []*StructDecl
	for _, u := range c.units {
		all = append(all, u.Structs...)
		for _, cd := range u.Classes {
			all = append(all, cd.Structs...)
		}
	}

	for _, sd := range all {
		s := sd.Struct
		if s.ParentName != "" {
			parent := c.findStruct(s.ParentName, sd.Owner)
			switch {
			case parent == nil:
				c.diags.Errorf(sd.Loc, "No such struct `%s`", s.ParentName)
			case parent.IsVector != s.IsVector:
				c.diags.Errorf(sd.Loc, "Struct `%s` and its parent `%s` must both be vectors or both be structs", s.Name, parent.Name)
			default:
				s.Parent = parent
			}
		}
		for _, fd := range sd.Fields {
			t, ok := c.fieldType(fd, sd.Owner)
			if !ok {
				continue
			}
			if s.IsVector && !t.Equals(vm.FloatType) {
				c.diags.Errorf(fd.Field.Location, "Vector field `%s` must be float", fd.Field.Name)
				continue
			}
			fd.Field.Type = t
		}
	}
	if c.diags.HasErrors() {
		return
	}
	for _, sd := range all {
		if err := sd.Struct.DefineFieldOffsets(); err != nil {
			c.diags.Errorf(sd.Loc, "%v", err)
		}
	}
}

// fieldType resolves the declared type and dimensions of a field.
func (c *Compiler) fieldType(fd *FieldDecl, cls *vm.Class) (vm.FieldType, bool) {
	t, ok := c.resolveType(fd.Type, cls)
	if !ok {
		return t, false
	}
	if t.Kind == vm.TypeVoid {
		c.diags.Errorf(fd.Field.Location, "Field `%s` cannot be void", fd.Field.Name)
		return t, false
	}
	return c.resolveDims(t, fd.Dims, fd.Field.Location, cls)
}

// ---------------------------------------------------------------------------
// Class members
// ---------------------------------------------------------------------------

func (c *Compiler) defineFields(cd *ClassDecl) {
	for _, fd := range cd.Fields {
		if t, ok := c.fieldType(fd, cd.Class); ok {
			fd.Field.Type = t
		}
	}
}

// defineSignatures resolves the return and parameter types of every
// method and delegate of cd.
func (c *Compiler) defineSignatures(cd *ClassDecl) {
	for _, md := range cd.Methods {
		c.defineSignature(md)
	}
	for _, dd := range cd.Delegates {
		if c.defineSignature(dd.Sig) {
			dd.Field.Type = vm.DelegateOf(dd.Sig.Method)
		}
	}
}

func (c *Compiler) defineSignature(md *MethodDecl) bool {
	m := md.Method
	ok := true
	if rt, good := c.resolveType(md.Return, md.Owner); good {
		if rt.Kind == vm.TypeArray {
			c.diags.Errorf(m.Location, "Method `%s` cannot return a static array", m.Name)
			ok = false
		}
		m.ReturnType = rt
	} else {
		ok = false
	}

	seen := make(map[string]bool)
	m.Params = m.Params[:0]
	for _, pd := range md.Params {
		t, good := c.resolveType(pd.Type, md.Owner)
		if !good {
			ok = false
			continue
		}
		if t.Kind == vm.TypeVoid {
			c.diags.Errorf(pd.Loc, "Parameter `%s` cannot be void", pd.Name)
			ok = false
			continue
		}
		if seen[pd.Name] {
			c.diags.Errorf(pd.Loc, "Redefined parameter `%s`", pd.Name)
			ok = false
		}
		seen[pd.Name] = true
		m.Params = append(m.Params, vm.Param{Name: pd.Name, Type: t, Flags: pd.Flags, Location: pd.Loc})
	}
	if m.IsVarArgs() && m.Flags&vm.MethodDelegate == 0 && !(m.IsNative() && m.IsStatic()) {
		c.diags.Errorf(m.Location, "Only static native methods can take variable arguments")
		ok = false
	}
	m.ComputeParamsSize()
	return ok
}

// checkOverrides validates methods that replace a parent method.
func (c *Compiler) checkOverrides(cd *ClassDecl) {
	cls := cd.Class
	for _, md := range cd.Methods {
		m := md.Method
		var pm *vm.Method
		if cls.Parent != nil {
			pm = cls.Parent.FindMethod(m.Name)
		}
		if pm == nil {
			if m.Flags&vm.MethodOverride != 0 {
				c.diags.Errorf(m.Location, "Method `%s` is marked override but there is no parent method", m.Name)
			}
			continue
		}
		switch {
		case pm.Flags&vm.MethodPrivate != 0:
			c.diags.Errorf(m.Location, "Method `%s` redefines a private method of `%s`", m.Name, pm.OwnerClass().Name)
		case pm.Flags&vm.MethodFinal != 0:
			c.diags.Errorf(m.Location, "Method `%s` overrides a final method", m.Name)
		case !m.SameSignature(pm):
			c.diags.Errorf(m.Location, "Method `%s` redefined with a different signature; parent has `%s`", m.Name, pm.Signature())
		}
	}
}

func (c *Compiler) defineProperties(cd *ClassDecl) {
	cls := cd.Class
	for _, pd := range cd.Props {
		p := pd.Prop
		t, ok := c.resolveType(pd.Type, cls)
		if !ok {
			continue
		}
		p.Type = t
		bind := func(name string) *vm.Field {
			f := cls.FindField(name)
			switch {
			case f == nil:
				c.diags.Errorf(pd.Loc, "No such field `%s` for property `%s`", name, p.Name)
			case !f.Type.Equals(t):
				c.diags.Errorf(pd.Loc, "Field `%s` does not match the type of property `%s`", name, p.Name)
				f = nil
			}
			return f
		}
		if pd.GetField != "" {
			p.ReadField = bind(pd.GetField)
		}
		if pd.SetField != "" {
			p.WriteField = bind(pd.SetField)
		}
		if pd.Getter != nil {
			p.GetFunc = pd.Getter.Method
		}
		if pd.Setter != nil {
			p.SetFunc = pd.Setter.Method
		}
		if pd.GetField == "" && pd.SetField == "" && pd.Getter == nil && pd.Setter == nil {
			c.diags.Errorf(pd.Loc, "Property `%s` has no accessors", p.Name)
		}
	}
}

// checkDuplicates reports members of one class that share a name, and
// fields that hide a parent field.
func (c *Compiler) checkDuplicates(cd *ClassDecl) {
	cls := cd.Class
	seen := make(map[string]vm.Location)
	check := func(name string, loc vm.Location) {
		if prev, ok := seen[name]; ok {
			c.diags.Errorf(loc, "Redefined identifier `%s`, first defined at %s", name, prev)
			return
		}
		seen[name] = loc
	}
	for _, f := range cls.Fields {
		check(f.Name, f.Location)
		if cls.Parent != nil && cls.Parent.FindField(f.Name) != nil {
			c.diags.Errorf(f.Location, "Field `%s` hides a field of a parent class", f.Name)
		}
	}
	for _, m := range cls.Methods {
		check(m.Name, m.Location)
	}
	for _, p := range cls.Properties {
		check(p.Name, p.Location)
	}
	for _, k := range cls.Constants {
		check(k.Name, k.Location)
	}
}

// ---------------------------------------------------------------------------
// Replication
// ---------------------------------------------------------------------------

// defineReplication turns each replication entry into a RepInfo whose
// condition is a synthesized bool method of the class.
func (c *Compiler) defineReplication(cd *ClassDecl) {
	cls := cd.Class
	for i, rd := range cd.Repl {
		m := vm.NewMethod(fmt.Sprintf("$Replication_%d", i), cls, rd.Loc)
		m.Flags = vm.MethodFinal
		ret := &Return{stmtBase: stmtBase{rd.Loc}, Value: rd.Cond}
		md := &MethodDecl{
			Method: m,
			Owner:  cls,
			Return: &TypeExpr{Loc: rd.Loc, Kind: vm.TypeBool},
			Body:   &Compound{stmtBase{rd.Loc}, []Statement{ret}},
		}
		c.pkg.AddMember(m)
		cd.Methods = append(cd.Methods, md)

		info := vm.RepInfo{Reliable: rd.Reliable, Cond: m}
	names:
		for _, n := range rd.Names {
			for _, f := range cls.Fields {
				if f.Name == n.Name {
					f.Flags |= vm.FieldNet
					info.Fields = append(info.Fields, f)
					continue names
				}
			}
			for _, rm := range cls.Methods {
				if rm.Name == n.Name && rm != m {
					info.Methods = append(info.Methods, rm)
					continue names
				}
			}
			c.diags.Errorf(n.Loc, "`%s` is not a field or method of `%s`", n.Name, cls.Name)
		}
		cls.RepInfos = append(cls.RepInfos, info)
	}
}

// ---------------------------------------------------------------------------
// Method bodies
// ---------------------------------------------------------------------------

// emitMethod resolves and emits the body of md. A non-void method must
// return on every path.
func (c *Compiler) emitMethod(md *MethodDecl) {
	m := md.Method
	ec := NewEmitContext(c, md.Owner, m)
	ec.DeclareParams()
	if !md.Body.Resolve(ec) {
		return
	}
	if m.ReturnType.Kind != vm.TypeVoid && !md.Body.IsEndsWithReturn() {
		c.diags.Errorf(m.Location, "Missing `return` in one of the paths of function `%s`", m.Name)
		return
	}
	ec.MarkLine(md.Body.Loc())
	md.Body.Emit(ec)
	m.Code = ec.EndCode()
	m.NumLocals = ec.FrameSize()
	c.log.Debugf("emitted %s: %d bytes, %d locals", vm.QualifiedName(m), len(m.Code), m.NumLocals)
}

// ---------------------------------------------------------------------------
// defaultproperties
// ---------------------------------------------------------------------------

// defaultsMachine returns the machine that runs field initializers and
// defaultproperties blocks at compile time. Only imported natives are
// available; natives of the package being compiled are not linked yet.
func (c *Compiler) defaultsMachine() *vm.Machine {
	mach := vm.NewMachine()
	mach.Out = io.Discard
	for _, imp := range c.pkg.Imports {
		if err := mach.Link(imp); err != nil {
			c.log.Debugf("defaults machine: %v", err)
		}
	}
	return mach
}

// evalDefaults builds the default object of cd's class: the parent's
// defaults, then the field initializers, then the defaultproperties
// block, run on a template object. Classes come parent first, so the
// parent image is final when the child copies it.
func (c *Compiler) evalDefaults(cd *ClassDecl, mach *vm.Machine) {
	cls := cd.Class
	cls.InitDefaults()
	if len(cd.Inits) == 0 && cd.Defaults == nil {
		return
	}

	m := vm.NewMethod("$DefaultProperties", cls, cd.Loc)
	m.Flags = vm.MethodFinal
	m.ReturnType = vm.VoidType
	m.ComputeParamsSize()

	stmts := append([]Statement(nil), cd.Inits...)
	if cd.Defaults != nil {
		stmts = append(stmts, cd.Defaults)
	}
	body := &Compound{stmtBase{cd.Loc}, stmts}

	ec := NewEmitContext(c, cls, m)
	ec.InDefaultProperties = true
	ec.DeclareParams()
	if !body.Resolve(ec) {
		return
	}
	body.Emit(ec)
	m.Code = ec.EndCode()
	m.NumLocals = ec.FrameSize()

	obj := vm.NewObject(cls)
	if _, err := mach.Call(m, vm.RefValue(obj)); err != nil {
		c.diags.Errorf(cd.Loc, "defaultproperties of `%s` failed: %v", cls.Name, err)
		return
	}
	for i, v := range obj.Fields {
		if msg := badDefault(v); msg != "" {
			c.diags.Errorf(cd.Loc, "Default of `%s` %s", slotField(cls, i), msg)
			return
		}
	}
	cls.Defaults = obj.Fields
}

// badDefault describes why v cannot be stored in a class default image.
func badDefault(v vm.Value) string {
	switch v.Kind {
	case vm.ValRef:
		if v.AsObject() != nil {
			return "cannot reference an object"
		}
	case vm.ValPointer:
		if p, ok := v.AsPointer(); ok && p.Valid() {
			return "cannot hold a pointer"
		}
	case vm.ValArray:
		if v.AsArray().Len() > 0 {
			return "cannot hold a non-empty dynamic array"
		}
	}
	return ""
}

// slotField names the field stored at slot i of cls.
func slotField(cls *vm.Class, i int) string {
	for cur := cls; cur != nil; cur = cur.Parent {
		for _, f := range cur.Fields {
			if i >= f.Offset && i < f.Offset+max(f.Type.GetStackSize(), 1) {
				return f.Name
			}
		}
	}
	return fmt.Sprintf("slot %d", i)
}
