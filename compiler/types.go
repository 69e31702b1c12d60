package compiler

import (
	"github.com/chazu/vavoomc/vm"
)

// TypeExpr is a type as written in source. Named types are looked up once
// every class and struct of the unit has been declared.
type TypeExpr struct {
	Loc  vm.Location
	Kind vm.TypeKind // builtin kind; TypeVoid with Name set for a named type
	Name string      // class or struct name; the class restriction of class!Name
	Auto bool        // `auto`, inferred from the initializer

	Elem     *TypeExpr // element type of array!T and T[]
	Dynamic  bool      // array!T
	Slice    bool      // T[]
	PtrLevel int       // trailing `*`s
}

func (te *TypeExpr) String() string {
	switch {
	case te == nil:
		return "<nil>"
	case te.Auto:
		return "auto"
	case te.Dynamic:
		return "array!" + te.Elem.String()
	case te.Slice:
		return te.Elem.String() + "[]"
	}
	s := te.Kind.String()
	if te.Name != "" {
		s = te.Name
		if te.Kind == vm.TypeClass {
			s = "class!" + te.Name
		}
	}
	for i, n := 0, te.PtrLevel; i < n; i++ {
		s += "*"
	}
	return s
}

// IsVoid reports whether te names void with no pointer level.
func (te *TypeExpr) IsVoid() bool {
	return te != nil && !te.Auto && te.Elem == nil && te.Name == "" && te.Kind == vm.TypeVoid && te.PtrLevel == 0
}

// resolveType turns a written type into a FieldType in the scope of cls
// (nil at package level). Failures are reported and yield false.
func (c *Compiler) resolveType(te *TypeExpr, cls *vm.Class) (vm.FieldType, bool) {
	if te.Auto {
		c.diags.Errorf(te.Loc, "`auto` is not allowed here")
		return vm.VoidType, false
	}

	var t vm.FieldType
	switch {
	case te.Dynamic || te.Slice:
		elem, ok := c.resolveType(te.Elem, cls)
		if !ok {
			return vm.VoidType, false
		}
		var err error
		if te.Dynamic {
			t, err = elem.MakeDynamicArrayType()
		} else {
			t, err = elem.MakeSliceType()
		}
		if err != nil {
			c.diags.Errorf(te.Loc, "%v", err)
			return vm.VoidType, false
		}

	case te.Kind == vm.TypeClass:
		t = vm.NewType(vm.TypeClass)
		if te.Name != "" {
			restrict := c.findClass(te.Name)
			if restrict == nil {
				c.diags.Errorf(te.Loc, "No such class `%s`", te.Name)
				return vm.VoidType, false
			}
			t.Class = restrict
		}

	case te.Name != "":
		if s := c.findStruct(te.Name, cls); s != nil {
			t = vm.StructOf(s)
		} else if rc := c.findClass(te.Name); rc != nil {
			t = vm.ReferenceTo(rc)
		} else {
			c.diags.Errorf(te.Loc, "Invalid identifier, bad type name `%s`", te.Name)
			return vm.VoidType, false
		}

	default:
		t = vm.NewType(te.Kind)
	}

	for i, n := 0, te.PtrLevel; i < n; i++ {
		t = t.MakePointerType()
	}
	return t, true
}

// resolveDims applies declarator dimensions `name[N]` or `name[N, M]` to t.
func (c *Compiler) resolveDims(t vm.FieldType, dims []Expression, loc vm.Location, cls *vm.Class) (vm.FieldType, bool) {
	if len(dims) == 0 {
		return t, true
	}
	var sizes []int
	for _, d := range dims {
		v, ok := c.evalIntConst(d, cls)
		if !ok {
			return t, false
		}
		sizes = append(sizes, int(v))
	}
	var (
		out vm.FieldType
		err error
	)
	if len(sizes) == 1 {
		out, err = t.MakeArrayType(sizes[0])
	} else {
		out, err = t.MakeArray2DType(sizes[0], sizes[1])
	}
	if err != nil {
		c.diags.Errorf(loc, "%v", err)
		return t, false
	}
	return out, true
}

// findClass looks a class up in the unit and its imports.
func (c *Compiler) findClass(name string) *vm.Class {
	return c.pkg.FindClass(name)
}

// findStruct looks a struct up in cls and its parents, then at package
// level.
func (c *Compiler) findStruct(name string, cls *vm.Class) *vm.Struct {
	if cls != nil {
		if s := cls.FindStruct(name); s != nil {
			return s
		}
	}
	return c.pkg.FindStruct(name)
}
