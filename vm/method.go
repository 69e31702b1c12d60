package vm

import "strings"

// MethodFlags describe how a method is bound and called.
type MethodFlags uint16

const (
	MethodNative MethodFlags = 1 << iota
	MethodStatic
	MethodFinal
	MethodVarArgs
	MethodPrivate
	MethodOverride
	// MethodDelegate marks the signature of a delegate type. It is not
	// callable and does not appear in its owner's method list.
	MethodDelegate
)

// ParamFlags modify how an argument is passed.
type ParamFlags uint8

const (
	ParamOut ParamFlags = 1 << iota
	ParamRef
	ParamOptional
)

// Param is a declared method parameter.
type Param struct {
	Name     string
	Type     FieldType
	Flags    ParamFlags
	Location Location
}

// StackSize returns the slots the argument occupies; by-reference
// parameters are passed as a pointer.
func (p Param) StackSize() int {
	if p.Flags&(ParamOut|ParamRef) != 0 {
		return 1
	}
	return p.Type.GetStackSize()
}

// Method is a function member. Script methods keep their instruction
// stream in Code; native methods are bound to a host function at link time.
type Method struct {
	MemberBase

	ReturnType FieldType
	Params     []Param
	Flags      MethodFlags

	// ParamsSize counts argument slots, including self for non-static methods.
	ParamsSize int
	// NumLocals is the frame size in slots, parameters included.
	NumLocals int

	VTableIndex int
	Code        []byte
	Lines       []LineEntry

	Native NativeFunc
}

// NewMethod creates a method owned by outer.
func NewMethod(name string, outer Member, loc Location) *Method {
	return &Method{MemberBase: MemberBase{Name: name, Outer: outer, Location: loc}, VTableIndex: -1}
}

func (m *Method) MemberKind() MemberKind { return MemberMethod }

func (m *Method) IsNative() bool  { return m.Flags&MethodNative != 0 }
func (m *Method) IsStatic() bool  { return m.Flags&MethodStatic != 0 }
func (m *Method) IsVarArgs() bool { return m.Flags&MethodVarArgs != 0 }

// OwnerClass returns the class declaring m, or nil.
func (m *Method) OwnerClass() *Class {
	c, _ := m.Outer.(*Class)
	return c
}

// ComputeParamsSize recomputes ParamsSize from the parameter list.
func (m *Method) ComputeParamsSize() {
	n := 0
	if !m.IsStatic() {
		n = 1
	}
	for _, p := range m.Params {
		n += p.StackSize()
	}
	m.ParamsSize = n
}

// SameSignature reports whether o has the same return and parameter types.
func (m *Method) SameSignature(o *Method) bool {
	if m == nil || o == nil {
		return m == o
	}
	if !m.ReturnType.Equals(o.ReturnType) || len(m.Params) != len(o.Params) ||
		m.IsVarArgs() != o.IsVarArgs() || m.IsStatic() != o.IsStatic() {
		return false
	}
	for i := range m.Params {
		if !m.Params[i].Type.Equals(o.Params[i].Type) || m.Params[i].Flags != o.Params[i].Flags {
			return false
		}
	}
	return true
}

// Signature renders the method's prototype.
func (m *Method) Signature() string {
	var sb strings.Builder
	sb.WriteString(m.ReturnType.GetName())
	sb.WriteByte(' ')
	sb.WriteString(m.Name)
	sb.WriteByte('(')
	for i, p := range m.Params {
		if i > 0 {
			sb.WriteString(", ")
		}
		if p.Flags&ParamOut != 0 {
			sb.WriteString("out ")
		} else if p.Flags&ParamRef != 0 {
			sb.WriteString("ref ")
		}
		if p.Flags&ParamOptional != 0 {
			sb.WriteString("optional ")
		}
		sb.WriteString(p.Type.GetName())
	}
	if m.IsVarArgs() {
		if len(m.Params) > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("...")
	}
	sb.WriteByte(')')
	return sb.String()
}

// LineFor maps a code offset to a source line using the line table.
func (m *Method) LineFor(pc int) int {
	line := 0
	for _, e := range m.Lines {
		if e.PC > pc {
			break
		}
		line = e.Line
	}
	if line == 0 {
		return m.Location.Line
	}
	return line
}
