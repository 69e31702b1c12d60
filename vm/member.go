package vm

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Locations
// ---------------------------------------------------------------------------

// Location identifies a point in a source file.
type Location struct {
	File   string
	Line   int
	Column int
}

func (l Location) String() string {
	if l.File == "" {
		return fmt.Sprintf("%d:%d", l.Line, l.Column)
	}
	return fmt.Sprintf("%s:%d:%d", l.File, l.Line, l.Column)
}

// IsValid reports whether the location points into a file.
func (l Location) IsValid() bool { return l.Line > 0 }

// ---------------------------------------------------------------------------
// Member hierarchy
// ---------------------------------------------------------------------------

// MemberKind tags the concrete type behind a Member.
type MemberKind uint8

const (
	MemberPackage MemberKind = iota + 1
	MemberClass
	MemberStruct
	MemberField
	MemberProperty
	MemberMethod
	MemberState
	MemberConstant
)

var memberKindNames = map[MemberKind]string{
	MemberPackage:  "package",
	MemberClass:    "class",
	MemberStruct:   "struct",
	MemberField:    "field",
	MemberProperty: "property",
	MemberMethod:   "method",
	MemberState:    "state",
	MemberConstant: "constant",
}

func (k MemberKind) String() string {
	if n, ok := memberKindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("member(%d)", uint8(k))
}

// Member is a named declaration with an owning scope.
type Member interface {
	MemberName() string
	MemberKind() MemberKind
	OuterMember() Member
	Loc() Location
	base() *MemberBase
}

// MemberBase carries the fields shared by every declaration.
type MemberBase struct {
	Name     string
	Outer    Member
	Location Location

	// ExportIndex is the position in the owning package's member list.
	ExportIndex int
}

func (m *MemberBase) MemberName() string  { return m.Name }
func (m *MemberBase) OuterMember() Member { return m.Outer }
func (m *MemberBase) Loc() Location       { return m.Location }
func (m *MemberBase) base() *MemberBase   { return m }

// QualifiedName returns the dotted path of m inside its package.
func QualifiedName(m Member) string {
	var parts []string
	for cur := m; cur != nil && cur.MemberKind() != MemberPackage; cur = cur.OuterMember() {
		parts = append(parts, cur.MemberName())
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, ".")
}

// PackageOf returns the package that ultimately owns m.
func PackageOf(m Member) *Package {
	for cur := m; cur != nil; cur = cur.OuterMember() {
		if p, ok := cur.(*Package); ok {
			return p
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Field
// ---------------------------------------------------------------------------

// FieldFlags modify how a field is stored and accessed.
type FieldFlags uint16

const (
	FieldNative FieldFlags = 1 << iota
	FieldTransient
	FieldPrivate
	FieldProtected
	FieldReadOnly
	FieldNet
)

// Field is a data member of a class or struct.
type Field struct {
	MemberBase
	Type   FieldType
	Flags  FieldFlags
	Offset int // slot offset inside the owning object or struct
}

func (f *Field) MemberKind() MemberKind { return MemberField }

// ---------------------------------------------------------------------------
// Property
// ---------------------------------------------------------------------------

// Property is a named accessor pair exposed like a field.
type Property struct {
	MemberBase
	Type       FieldType
	GetFunc    *Method
	SetFunc    *Method
	ReadField  *Field
	WriteField *Field
}

func (p *Property) MemberKind() MemberKind { return MemberProperty }

// ---------------------------------------------------------------------------
// Constant
// ---------------------------------------------------------------------------

// Constant is a named compile-time value. Enum members chain back through
// PrevEnumValue so an implicit value can be derived from its predecessor.
type Constant struct {
	MemberBase
	Type          FieldType
	IntValue      int32
	FloatValue    float32
	StrValue      string // names and strings
	EnumName      string
	PrevEnumValue *Constant
}

func (c *Constant) MemberKind() MemberKind { return MemberConstant }

// Value returns the constant as a VM value.
func (c *Constant) Value() Value {
	switch c.Type.Kind {
	case TypeFloat:
		return FloatValue(c.FloatValue)
	case TypeName:
		return NameValue(c.StrValue)
	case TypeString:
		return StringValue(c.StrValue)
	}
	return IntValue(c.IntValue)
}

// ---------------------------------------------------------------------------
// Package
// ---------------------------------------------------------------------------

// Package is a compiled unit and the link-time module boundary.
type Package struct {
	MemberBase

	Imports   []*Package
	Members   []Member // export list, in definition order
	Classes   []*Class
	Structs   []*Struct
	Constants []*Constant

	// Refs is the operand table for instructions that name members.
	Refs     []Member
	refIndex map[Member]int

	Strings *StringPool

	// BuildID is derived from the compiled content when a package is written.
	BuildID string
}

// NewPackage creates an empty package.
func NewPackage(name string) *Package {
	return &Package{
		MemberBase: MemberBase{Name: name},
		refIndex:   make(map[Member]int),
		Strings:    NewStringPool(),
	}
}

func (p *Package) MemberKind() MemberKind { return MemberPackage }

// AddMember appends m to the export list and to its owner's member list.
func (p *Package) AddMember(m Member) {
	m.base().ExportIndex = len(p.Members)
	p.Members = append(p.Members, m)
	p.attach(m)
}

// attach adds m to the typed list of its owner.
func (p *Package) attach(m Member) {
	switch v := m.(type) {
	case *Class:
		p.Classes = append(p.Classes, v)
	case *Struct:
		switch o := v.Outer.(type) {
		case *Package:
			p.Structs = append(p.Structs, v)
		case *Class:
			o.Structs = append(o.Structs, v)
		}
	case *Constant:
		switch o := v.Outer.(type) {
		case *Package:
			p.Constants = append(p.Constants, v)
		case *Class:
			o.Constants = append(o.Constants, v)
		}
	case *Field:
		switch o := v.Outer.(type) {
		case *Class:
			o.Fields = append(o.Fields, v)
		case *Struct:
			o.Fields = append(o.Fields, v)
		}
	case *Property:
		if c, ok := v.Outer.(*Class); ok {
			c.Properties = append(c.Properties, v)
		}
	case *Method:
		if c, ok := v.Outer.(*Class); ok && v.Flags&MethodDelegate == 0 {
			c.Methods = append(c.Methods, v)
		}
	case *State:
		if c, ok := v.Outer.(*Class); ok {
			c.States = append(c.States, v)
		}
	}
}

// RefIndex interns m into the reference table and returns its operand index.
func (p *Package) RefIndex(m Member) int {
	if p.refIndex == nil {
		p.refIndex = make(map[Member]int)
	}
	if i, ok := p.refIndex[m]; ok {
		return i
	}
	i := len(p.Refs)
	p.Refs = append(p.Refs, m)
	p.refIndex[m] = i
	return i
}

// Ref returns the member behind an operand index.
func (p *Package) Ref(i int) Member {
	if i < 0 || i >= len(p.Refs) {
		return nil
	}
	return p.Refs[i]
}

func (p *Package) findLocal(name string, kind MemberKind) Member {
	for _, m := range p.Members {
		if m.MemberKind() == kind && m.OuterMember() == Member(p) && m.MemberName() == name {
			return m
		}
	}
	return nil
}

func (p *Package) find(name string, kind MemberKind, seen map[*Package]bool) Member {
	if seen[p] {
		return nil
	}
	seen[p] = true
	if m := p.findLocal(name, kind); m != nil {
		return m
	}
	for _, imp := range p.Imports {
		if m := imp.find(name, kind, seen); m != nil {
			return m
		}
	}
	return nil
}

// FindClass looks a class up in p and, failing that, its imports.
func (p *Package) FindClass(name string) *Class {
	if m := p.find(name, MemberClass, map[*Package]bool{}); m != nil {
		return m.(*Class)
	}
	return nil
}

// FindStruct looks up a package-level struct in p and its imports.
func (p *Package) FindStruct(name string) *Struct {
	if m := p.find(name, MemberStruct, map[*Package]bool{}); m != nil {
		return m.(*Struct)
	}
	return nil
}

// FindConstant looks up a package-level constant.
func (p *Package) FindConstant(name string) *Constant {
	if m := p.find(name, MemberConstant, map[*Package]bool{}); m != nil {
		return m.(*Constant)
	}
	return nil
}

// FindMember resolves a qualified name such as "Actor.Tick" inside p only.
func (p *Package) FindMember(qualified string) Member {
	for _, m := range p.Members {
		if QualifiedName(m) == qualified {
			return m
		}
	}
	return nil
}
