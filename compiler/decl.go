package compiler

import (
	"github.com/chazu/vavoomc/vm"
)

// ---------------------------------------------------------------------------
// Declarations: parser output awaiting the define and emit passes
// ---------------------------------------------------------------------------

// Unit is one parsed source file.
type Unit struct {
	File    string
	Imports []ImportDecl
	Classes []*ClassDecl
	Structs []*StructDecl
	Consts  []*ConstDecl
}

// ImportDecl is `import Name;`.
type ImportDecl struct {
	Name string
	Loc  vm.Location
}

// ClassDecl collects a class and the source of its members.
type ClassDecl struct {
	Class *vm.Class
	Loc   vm.Location

	Fields    []*FieldDecl
	Methods   []*MethodDecl
	Delegates []*DelegateDecl
	Props     []*PropertyDecl
	Consts    []*ConstDecl
	Structs   []*StructDecl
	States    []*StateDecl
	Repl      []*RepDecl

	// Inits are field initializers, run before the defaultproperties block.
	Inits    []Statement
	Defaults *Compound
}

// StructDecl is a struct or vector declaration.
type StructDecl struct {
	Struct *vm.Struct
	Owner  *vm.Class
	Fields []*FieldDecl
	Loc    vm.Location
}

// FieldDecl is one declared field of a class or struct.
type FieldDecl struct {
	Field *vm.Field
	Type  *TypeExpr
	Dims  []Expression
}

// ParamDecl is one declared parameter.
type ParamDecl struct {
	Name  string
	Type  *TypeExpr
	Flags vm.ParamFlags
	Loc   vm.Location
}

// MethodDecl is a method signature with an optional body.
type MethodDecl struct {
	Method *vm.Method
	Owner  *vm.Class
	Return *TypeExpr
	Params []*ParamDecl
	Body   *Compound
}

// DelegateDecl is `delegate Ret Name(params);`: a signature plus a field
// of that delegate type.
type DelegateDecl struct {
	Sig   *MethodDecl
	Field *vm.Field
}

// PropertyDecl is a property with field-backed or method-backed accessors.
type PropertyDecl struct {
	Prop     *vm.Property
	Type     *TypeExpr
	GetField string
	SetField string
	Getter   *MethodDecl
	Setter   *MethodDecl
	Loc      vm.Location
}

// ConstDecl is a constant or enum member. Value is nil for an enum member
// without an explicit value; it takes the previous value plus one.
type ConstDecl struct {
	Const *vm.Constant
	Kind  vm.TypeKind
	Value Expression
	Owner *vm.Class
	Prev  *ConstDecl // previous member of the same enum
}

// StateDecl is one state produced by a frame line.
type StateDecl struct {
	State  *vm.State
	Inline *MethodDecl // code block attached to the frame
	Loc    vm.Location
}

// RepDecl is one `reliable if (cond) a, b;` entry.
type RepDecl struct {
	Reliable bool
	Cond     Expression
	Names    []RepName
	Loc      vm.Location
}

// RepName is a field or method named by a replication entry.
type RepName struct {
	Name string
	Loc  vm.Location
}
