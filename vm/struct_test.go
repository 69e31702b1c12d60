package vm

import (
	"errors"
	"testing"
)

func TestAliasResolution(t *testing.T) {
	pkg := NewPackage("test")
	base := NewStruct("Base", pkg, testLoc)
	child := NewStruct("Child", pkg, testLoc)
	child.Parent = base

	base.Aliases.Add("hp", "health", testLoc)
	child.Aliases.Add("life", "hp", testLoc)
	if child.Aliases.Add("life", "other", testLoc) {
		t.Error("duplicate alias accepted")
	}

	got, err := child.ResolveAlias("life")
	if err != nil || got != "health" {
		t.Errorf("ResolveAlias(life) = %q, %v; want health", got, err)
	}
	if got, _ := child.ResolveAlias("armor"); got != "armor" {
		t.Errorf("non-alias resolved to %q", got)
	}
	// Resolving twice must not trip over the stamps of the first pass.
	if _, err := child.ResolveAlias("life"); err != nil {
		t.Errorf("second resolution: %v", err)
	}
}

func TestAliasLoop(t *testing.T) {
	pkg := NewPackage("test")
	s := NewStruct("S", pkg, testLoc)
	s.Aliases.Add("A", "B", testLoc)
	s.Aliases.Add("B", "A", testLoc)
	if _, err := s.ResolveAlias("A"); !errors.Is(err, ErrAliasLoop) {
		t.Errorf("error = %v, want ErrAliasLoop", err)
	}

	c := NewClass("C", pkg, testLoc)
	c.Aliases.Add("x", "x", testLoc)
	if _, err := c.ResolveAlias("x"); !errors.Is(err, ErrAliasLoop) {
		t.Errorf("class self alias error = %v, want ErrAliasLoop", err)
	}
}

func TestStructLayout(t *testing.T) {
	pkg := NewPackage("test")
	inner := NewStruct("Inner", pkg, testLoc)
	pkg.AddMember(inner)
	pkg.AddMember(&Field{MemberBase: MemberBase{Name: "a", Outer: inner}, Type: IntType})
	pkg.AddMember(&Field{MemberBase: MemberBase{Name: "v", Outer: inner}, Type: VectorType})

	outer := NewStruct("Outer", pkg, testLoc)
	pkg.AddMember(outer)
	arr, _ := StructOf(inner).MakeArrayType(2)
	pkg.AddMember(&Field{MemberBase: MemberBase{Name: "f1", Outer: outer}, Type: BoolType})
	pkg.AddMember(&Field{MemberBase: MemberBase{Name: "f2", Outer: outer}, Type: BoolType})
	pkg.AddMember(&Field{MemberBase: MemberBase{Name: "items", Outer: outer}, Type: arr})

	if err := outer.DefineFieldOffsets(); err != nil {
		t.Fatal(err)
	}
	if inner.StackSize != 4 {
		t.Errorf("Inner.StackSize = %d, want 4", inner.StackSize)
	}
	if outer.StackSize != 9 {
		t.Errorf("Outer.StackSize = %d, want 9", outer.StackSize)
	}
	f1, f2 := outer.FindField("f1"), outer.FindField("f2")
	if f1.Offset != f2.Offset || f1.Type.BitMask != 1 || f2.Type.BitMask != 2 {
		t.Errorf("bools: f1 %d/%d, f2 %d/%d", f1.Offset, f1.Type.BitMask, f2.Offset, f2.Type.BitMask)
	}
	if items := outer.FindField("items"); items.Offset != 1 {
		t.Errorf("items.Offset = %d, want 1", items.Offset)
	}
}

func TestStructCycle(t *testing.T) {
	pkg := NewPackage("test")
	a := NewStruct("A", pkg, testLoc)
	b := NewStruct("B", pkg, testLoc)
	a.Parent = b
	b.Parent = a
	if err := a.DefineFieldOffsets(); !errors.Is(err, ErrStructCycle) {
		t.Errorf("error = %v, want ErrStructCycle", err)
	}
}

func TestVectorStructShape(t *testing.T) {
	pkg := NewPackage("test")
	v := NewStruct("TBad", pkg, testLoc)
	v.IsVector = true
	pkg.AddMember(v)
	pkg.AddMember(&Field{MemberBase: MemberBase{Name: "x", Outer: v}, Type: FloatType})
	if err := v.DefineFieldOffsets(); err == nil {
		t.Error("vector struct with one field accepted")
	}
}

func TestClassCycle(t *testing.T) {
	pkg := NewPackage("test")
	a := NewClass("A", pkg, testLoc)
	b := NewClass("B", pkg, testLoc)
	a.Parent = b
	b.Parent = a
	if err := a.DefineFieldOffsets(); !errors.Is(err, ErrClassCycle) {
		t.Errorf("error = %v, want ErrClassCycle", err)
	}
}
