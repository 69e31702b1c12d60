package vm

import (
	"errors"
	"fmt"
	"sync/atomic"
)

var (
	ErrAliasLoop   = errors.New("alias loop")
	ErrStructCycle = errors.New("struct inheritance loop")
)

// ---------------------------------------------------------------------------
// Aliases
// ---------------------------------------------------------------------------

// Alias maps an alternative member name to its target.
type Alias struct {
	Name     string
	Target   string
	Location Location

	gen uint64
}

// AliasTable holds the aliases declared in one class or struct.
type AliasTable struct {
	list []*Alias
}

var aliasGeneration atomic.Uint64

// nextAliasGeneration returns a stamp unique to one alias resolution; an
// alias already carrying the current stamp has been visited.
func nextAliasGeneration() uint64 {
	return aliasGeneration.Add(1)
}

// Add declares name as an alias of target. It returns false when name is
// already declared in this table.
func (t *AliasTable) Add(name, target string, loc Location) bool {
	if t.find(name) != nil {
		return false
	}
	t.list = append(t.list, &Alias{Name: name, Target: target, Location: loc})
	return true
}

// All returns the declared aliases in order.
func (t *AliasTable) All() []*Alias { return t.list }

func (t *AliasTable) find(name string) *Alias {
	for _, a := range t.list {
		if a.Name == name {
			return a
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Struct
// ---------------------------------------------------------------------------

// Struct is a value type laid out inline in objects, locals and other
// structs. Vector structs are exactly three floats.
type Struct struct {
	MemberBase

	Parent     *Struct
	ParentName string
	IsVector   bool
	Fields     []*Field
	Aliases    AliasTable

	StackSize int

	layout layoutState
}

// NewStruct creates an empty struct owned by outer.
func NewStruct(name string, outer Member, loc Location) *Struct {
	return &Struct{MemberBase: MemberBase{Name: name, Outer: outer, Location: loc}}
}

func (s *Struct) MemberKind() MemberKind { return MemberStruct }

// IsChildOf reports whether s is other or derives from it.
func (s *Struct) IsChildOf(other *Struct) bool {
	for cur := s; cur != nil; cur = cur.Parent {
		if cur == other {
			return true
		}
	}
	return false
}

// FindField looks up a field by name along the parent chain.
func (s *Struct) FindField(name string) *Field {
	for cur := s; cur != nil; cur = cur.Parent {
		for _, f := range cur.Fields {
			if f.Name == name {
				return f
			}
		}
	}
	return nil
}

// ResolveAlias follows alias links until a non-alias name is reached.
// Resolution stamps each visited alias with a fresh generation, so
// revisiting one means the chain loops.
func (s *Struct) ResolveAlias(name string) (string, error) {
	gen := nextAliasGeneration()
	cur := name
	for {
		var a *Alias
		for k := s; k != nil && a == nil; k = k.Parent {
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

// NeedsDestructor reports whether any field needs cleanup.
func (s *Struct) NeedsDestructor() bool {
	for cur := s; cur != nil; cur = cur.Parent {
		for _, f := range cur.Fields {
			if f.Type.NeedsDestructor() {
				return true
			}
		}
	}
	return false
}

// DefineFieldOffsets computes field offsets and StackSize. Nested struct
// fields are laid out first.
func (s *Struct) DefineFieldOffsets() error {
	switch s.layout {
	case layoutDone:
		return nil
	case layoutBusy:
		return fmt.Errorf("%w: %s", ErrStructCycle, s.Name)
	}
	s.layout = layoutBusy
	fail := func(err error) error {
		s.layout = layoutNone
		return err
	}
	start := 0
	if s.Parent != nil {
		if err := s.Parent.DefineFieldOffsets(); err != nil {
			return fail(err)
		}
		start = s.Parent.StackSize
	}
	for _, f := range s.Fields {
		if inner := innerStruct(f.Type); inner != nil {
			if err := inner.DefineFieldOffsets(); err != nil {
				return fail(err)
			}
		}
	}
	s.StackSize = layoutFields(s.Fields, start)
	if s.IsVector && s.StackSize != 3 {
		return fail(fmt.Errorf("vector struct %s must have exactly three float fields", s.Name))
	}
	s.layout = layoutDone
	return nil
}

func innerStruct(t FieldType) *Struct {
	if t.Kind == TypeStruct || (t.Kind == TypeArray && t.ArrayInnerKind == TypeStruct) {
		return t.Struct
	}
	return nil
}
