package vm

import (
	"errors"
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Class: script class with single inheritance
// ---------------------------------------------------------------------------

// ClassFlags describe class-level modifiers.
type ClassFlags uint16

const (
	ClassNative ClassFlags = 1 << iota
	ClassAbstract
	ClassTransient
)

var ErrClassCycle = errors.New("class inheritance loop")

// StateLabel names an entry point into a class's state list.
type StateLabel struct {
	Name  string
	State *State // nil for "stop" labels
}

// RepInfo is one `reliable if (cond) a, b;` replication entry.
type RepInfo struct {
	Reliable bool
	Cond     *Method
	Fields   []*Field
	Methods  []*Method
}

// Class is a script class. Fields are stored in object slots starting after
// the parent's slots; methods dispatch through VTable.
type Class struct {
	MemberBase

	Parent     *Class
	ParentName string
	Flags      ClassFlags

	Fields     []*Field
	Methods    []*Method
	Properties []*Property
	Constants  []*Constant
	Structs    []*Struct
	States     []*State
	Labels     []StateLabel
	Aliases    AliasTable
	RepInfos   []RepInfo

	VTable   []*Method
	NumSlots int
	Defaults []Value

	layout layoutState
}

type layoutState uint8

const (
	layoutNone layoutState = iota
	layoutBusy
	layoutDone
)

// NewClass creates an empty class owned by outer.
func NewClass(name string, outer Member, loc Location) *Class {
	return &Class{MemberBase: MemberBase{Name: name, Outer: outer, Location: loc}}
}

func (c *Class) MemberKind() MemberKind { return MemberClass }

// IsChildOf reports whether c is other or derives from it.
func (c *Class) IsChildOf(other *Class) bool {
	for cur := c; cur != nil; cur = cur.Parent {
		if cur == other {
			return true
		}
	}
	return false
}

// IsAbstract reports whether objects of c may not be spawned.
func (c *Class) IsAbstract() bool { return c.Flags&ClassAbstract != 0 }

// FindField looks up a field by name along the parent chain.
func (c *Class) FindField(name string) *Field {
	for cur := c; cur != nil; cur = cur.Parent {
		for _, f := range cur.Fields {
			if f.Name == name {
				return f
			}
		}
	}
	return nil
}

// FindMethod looks up a method by name along the parent chain.
func (c *Class) FindMethod(name string) *Method {
	for cur := c; cur != nil; cur = cur.Parent {
		for _, m := range cur.Methods {
			if m.Name == name {
				return m
			}
		}
	}
	return nil
}

// FindProperty looks up a property by name along the parent chain.
func (c *Class) FindProperty(name string) *Property {
	for cur := c; cur != nil; cur = cur.Parent {
		for _, p := range cur.Properties {
			if p.Name == name {
				return p
			}
		}
	}
	return nil
}

// FindConstant looks up a class-scoped constant along the parent chain.
func (c *Class) FindConstant(name string) *Constant {
	for cur := c; cur != nil; cur = cur.Parent {
		for _, k := range cur.Constants {
			if k.Name == name {
				return k
			}
		}
	}
	return nil
}

// FindStruct looks up a struct declared inside c or its ancestors.
func (c *Class) FindStruct(name string) *Struct {
	for cur := c; cur != nil; cur = cur.Parent {
		for _, s := range cur.Structs {
			if s.Name == name {
				return s
			}
		}
	}
	return nil
}

// FindStateLabel resolves a state label, letting subclasses override
// labels defined by their parents.
func (c *Class) FindStateLabel(name string) (*StateLabel, bool) {
	for cur := c; cur != nil; cur = cur.Parent {
		for i := range cur.Labels {
			if strings.EqualFold(cur.Labels[i].Name, name) {
				return &cur.Labels[i], true
			}
		}
	}
	return nil, false
}

// FindState returns the state with the given member name.
func (c *Class) FindState(name string) *State {
	for cur := c; cur != nil; cur = cur.Parent {
		for _, s := range cur.States {
			if s.Name == name {
				return s
			}
		}
	}
	return nil
}

// ResolveAlias follows field aliases declared on c and its ancestors.
func (c *Class) ResolveAlias(name string) (string, error) {
	gen := nextAliasGeneration()
	cur := name
	for {
		var a *Alias
		for k := c; k != nil && a == nil; k = k.Parent {
			a = k.Aliases.find(cur)
		}
		if a == nil {
			return cur, nil
		}
		if a.gen == gen {
			return "", fmt.Errorf("%w: %s", ErrAliasLoop, name)
		}
		a.gen = gen
		cur = a.Target
	}
}

// DefineFieldOffsets lays out the class's fields after its parent's. The
// parent chain must be acyclic; a loop is reported as ErrClassCycle.
func (c *Class) DefineFieldOffsets() error {
	switch c.layout {
	case layoutDone:
		return nil
	case layoutBusy:
		return fmt.Errorf("%w: %s", ErrClassCycle, c.Name)
	}
	c.layout = layoutBusy
	start := 0
	if c.Parent != nil {
		if err := c.Parent.DefineFieldOffsets(); err != nil {
			c.layout = layoutNone
			return err
		}
		start = c.Parent.NumSlots
	}
	for _, f := range c.Fields {
		if inner := innerStruct(f.Type); inner != nil {
			if err := inner.DefineFieldOffsets(); err != nil {
				c.layout = layoutNone
				return err
			}
		}
	}
	c.NumSlots = layoutFields(c.Fields, start)
	c.layout = layoutDone
	return nil
}

// InitDefaults builds the default object image: the parent's defaults
// followed by zero values for c's own fields.
func (c *Class) InitDefaults() {
	c.Defaults = make([]Value, c.NumSlots)
	n := 0
	if c.Parent != nil {
		n = copy(c.Defaults, c.Parent.Defaults)
	}
	for i := n; i < len(c.Defaults); i++ {
		c.Defaults[i] = IntValue(0)
	}
	for _, f := range c.Fields {
		if f.Type.BitMask == 0 {
			fillZero(c.Defaults[f.Offset:], f.Type)
		}
	}
}

// BuildVTable assigns dispatch slots. Overrides reuse the parent's slot;
// static methods and new final methods are not dispatched virtually.
func (c *Class) BuildVTable() {
	c.VTable = nil
	if c.Parent != nil {
		c.VTable = append([]*Method(nil), c.Parent.VTable...)
	}
	for _, m := range c.Methods {
		m.VTableIndex = -1
		if m.Flags&MethodStatic != 0 {
			continue
		}
		if c.Parent != nil {
			if pm := c.Parent.FindMethod(m.Name); pm != nil && pm.VTableIndex >= 0 {
				m.VTableIndex = pm.VTableIndex
				c.VTable[pm.VTableIndex] = m
				continue
			}
		}
		if m.Flags&MethodFinal != 0 {
			continue
		}
		m.VTableIndex = len(c.VTable)
		c.VTable = append(c.VTable, m)
	}
}

// ---------------------------------------------------------------------------
// Field layout
// ---------------------------------------------------------------------------

// layoutFields assigns slot offsets starting at start and returns the end
// offset. Consecutive bool fields share one slot, one bit each.
func layoutFields(fields []*Field, start int) int {
	ofs := start
	var prevBool *Field
	for _, f := range fields {
		if f.Type.Kind == TypeBool {
			if prevBool != nil && prevBool.Type.BitMask != 0 && prevBool.Type.BitMask < 0x80000000 {
				f.Offset = prevBool.Offset
				f.Type.BitMask = prevBool.Type.BitMask << 1
				prevBool = f
				continue
			}
			f.Offset = ofs
			f.Type.BitMask = 1
			ofs++
			prevBool = f
			continue
		}
		prevBool = nil
		f.Offset = ofs
		ofs += f.Type.GetStackSize()
	}
	return ofs
}
