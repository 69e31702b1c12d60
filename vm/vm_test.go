package vm

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

// ---------------------------------------------------------------------------
// Test fixtures
// ---------------------------------------------------------------------------

var testLoc = Location{File: "test.vc", Line: 1}

// testPackage builds a package holding a root Object class with the
// builtin native print declared on it.
func testPackage(t *testing.T) (*Package, *Class, *Method) {
	t.Helper()
	pkg := NewPackage("test")
	obj := NewClass("Object", pkg, testLoc)
	pkg.AddMember(obj)

	printFn := NewMethod("print", obj, testLoc)
	printFn.Flags = MethodNative | MethodStatic | MethodFinal | MethodVarArgs
	printFn.ReturnType = VoidType
	printFn.Params = []Param{{Name: "fmt", Type: StringType}}
	printFn.ComputeParamsSize()
	pkg.AddMember(printFn)
	return pkg, obj, printFn
}

// addMethod declares a script method on c with int parameters.
func addMethod(pkg *Package, c *Class, name string, flags MethodFlags, params int, ret FieldType, code []byte) *Method {
	m := NewMethod(name, c, Location{File: "test.vc", Line: 10})
	m.Flags = flags
	m.ReturnType = ret
	for i := 0; i < params; i++ {
		m.Params = append(m.Params, Param{Name: string(rune('a' + i)), Type: IntType})
	}
	m.ComputeParamsSize()
	m.NumLocals = m.ParamsSize
	m.Code = code
	pkg.AddMember(m)
	return m
}

func layoutClasses(t *testing.T, classes ...*Class) {
	t.Helper()
	for _, c := range classes {
		if err := c.DefineFieldOffsets(); err != nil {
			t.Fatal(err)
		}
		c.InitDefaults()
		c.BuildVTable()
	}
}

// ---------------------------------------------------------------------------
// Calls
// ---------------------------------------------------------------------------

func TestCallStaticMethod(t *testing.T) {
	pkg, obj, _ := testPackage(t)
	b := NewBytecodeBuilder()
	b.EmitUint16(OpLocalValue, 0)
	b.EmitUint16(OpLocalValue, 1)
	b.Emit(OpAdd)
	b.EmitByte(OpReturn, 1)
	add := addMethod(pkg, obj, "Add", MethodStatic, 2, IntType, b.Bytes())
	layoutClasses(t, obj)

	m := NewMachine()
	if err := m.Link(pkg); err != nil {
		t.Fatal(err)
	}
	res, err := m.Call(add, IntValue(2), IntValue(3))
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 1 || res[0].Int != 5 {
		t.Errorf("Add(2, 3) = %v, want [5]", res)
	}
	if m.Depth() != 0 {
		t.Errorf("Depth() = %d after call, want 0", m.Depth())
	}
}

func TestCallArgumentCount(t *testing.T) {
	pkg, obj, _ := testPackage(t)
	b := NewBytecodeBuilder()
	b.Emit(OpDone)
	noop := addMethod(pkg, obj, "Noop", MethodStatic, 1, VoidType, b.Bytes())

	m := NewMachine()
	if _, err := m.Call(noop); err == nil {
		t.Error("expected an error for a missing argument")
	}
}

func TestVirtualDispatch(t *testing.T) {
	pkg, obj, _ := testPackage(t)

	base := NewClass("Base", pkg, testLoc)
	base.Parent = obj
	pkg.AddMember(base)
	derived := NewClass("Derived", pkg, testLoc)
	derived.Parent = base
	pkg.AddMember(derived)

	code := func(n int32) []byte {
		b := NewBytecodeBuilder()
		b.EmitInt32(OpPushNumber, n)
		b.EmitByte(OpReturn, 1)
		return b.Bytes()
	}
	addMethod(pkg, base, "Value", 0, 0, IntType, code(1))
	addMethod(pkg, derived, "Value", 0, 0, IntType, code(2))
	layoutClasses(t, obj, base, derived)

	slot := base.FindMethod("Value").VTableIndex
	if slot < 0 {
		t.Fatal("Value has no vtable slot")
	}
	if derived.VTable[slot].Outer != derived {
		t.Fatal("override did not replace the parent's vtable entry")
	}

	b := NewBytecodeBuilder()
	b.EmitUint16(OpLocalValue, 0)
	b.EmitUint16(OpVCall, uint16(slot))
	b.AppendUint8(1)
	b.EmitByte(OpReturn, 1)
	ask := NewMethod("Ask", obj, testLoc)
	ask.Flags = MethodStatic
	ask.ReturnType = IntType
	ask.Params = []Param{{Name: "o", Type: ReferenceTo(base)}}
	ask.ComputeParamsSize()
	ask.NumLocals = 1
	ask.Code = b.Bytes()
	pkg.AddMember(ask)

	m := NewMachine()
	tests := []struct {
		class *Class
		want  int32
	}{
		{base, 1},
		{derived, 2},
	}
	for _, tt := range tests {
		o, err := m.Spawn(tt.class)
		if err != nil {
			t.Fatal(err)
		}
		res, err := m.Call(ask, RefValue(o))
		if err != nil {
			t.Fatalf("%s: %v", tt.class.Name, err)
		}
		if res[0].Int != tt.want {
			t.Errorf("%s.Value() = %d, want %d", tt.class.Name, res[0].Int, tt.want)
		}
	}
}

func TestNativePrintVarArgs(t *testing.T) {
	pkg, obj, printFn := testPackage(t)

	b := NewBytecodeBuilder()
	b.EmitInt32(OpPushString, int32(pkg.Strings.FindString("%s=%d")))
	b.EmitInt32(OpPushName, int32(pkg.Strings.FindString("health")))
	b.EmitByte(OpPushVArgType, byte(TypeName))
	b.EmitInt32(OpPushNumber, 42)
	b.EmitByte(OpPushVArgType, byte(TypeInt))
	b.EmitInt32(OpPushNumber, 2)
	b.EmitUint16(OpCall, uint16(pkg.RefIndex(printFn)))
	b.Emit(OpDone)
	entry := addMethod(pkg, obj, "Main", MethodStatic, 0, VoidType, b.Bytes())
	layoutClasses(t, obj)

	m := NewMachine()
	var out bytes.Buffer
	m.Out = &out
	if err := m.Link(pkg); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Call(entry); err != nil {
		t.Fatal(err)
	}
	if got := out.String(); got != "health=42\n" {
		t.Errorf("output = %q, want %q", got, "health=42\n")
	}
}

func TestLinkMissingNative(t *testing.T) {
	pkg, obj, _ := testPackage(t)
	missing := NewMethod("Missing", obj, testLoc)
	missing.Flags = MethodNative | MethodStatic
	pkg.AddMember(missing)

	m := NewMachine()
	if err := m.Link(pkg); !errors.Is(err, ErrMissingNative) {
		t.Errorf("Link error = %v, want ErrMissingNative", err)
	}
}

// ---------------------------------------------------------------------------
// Runtime errors
// ---------------------------------------------------------------------------

func TestDivisionByZero(t *testing.T) {
	pkg, obj, _ := testPackage(t)
	b := NewBytecodeBuilder()
	b.EmitUint16(OpLocalValue, 0)
	b.EmitInt32(OpPushNumber, 0)
	b.Emit(OpDivide)
	b.EmitByte(OpReturn, 1)
	div := addMethod(pkg, obj, "Divide", MethodStatic, 1, IntType, b.Bytes())

	m := NewMachine()
	_, err := m.Call(div, IntValue(7))
	var rerr *RuntimeError
	if !errors.As(err, &rerr) {
		t.Fatalf("error = %v, want *RuntimeError", err)
	}
	if !strings.Contains(rerr.Msg, "Division by zero") {
		t.Errorf("Msg = %q", rerr.Msg)
	}
	if len(rerr.Stack) != 1 || !strings.HasPrefix(rerr.Stack[0], "Object.Divide") {
		t.Errorf("Stack = %v, want Object.Divide frame", rerr.Stack)
	}

	// The machine is usable after a fault.
	if m.Depth() != 0 {
		t.Errorf("Depth() = %d after fault, want 0", m.Depth())
	}
	if _, err := m.Call(div, IntValue(7)); err == nil {
		t.Error("second call should fault again")
	}
}

func TestCallDepthLimit(t *testing.T) {
	pkg, obj, _ := testPackage(t)
	rec := addMethod(pkg, obj, "Recurse", MethodStatic, 0, VoidType, nil)
	b := NewBytecodeBuilder()
	b.EmitUint16(OpCall, uint16(pkg.RefIndex(rec)))
	b.Emit(OpDone)
	rec.Code = b.Bytes()

	m := NewMachine()
	m.MaxCallDepth = 16
	_, err := m.Call(rec)
	var rerr *RuntimeError
	if !errors.As(err, &rerr) || !strings.Contains(rerr.Msg, "overflow") {
		t.Fatalf("error = %v, want call stack overflow", err)
	}
	if len(rerr.Stack) != 16 {
		t.Errorf("len(Stack) = %d, want 16", len(rerr.Stack))
	}
}

func TestNoneSelf(t *testing.T) {
	pkg, obj, _ := testPackage(t)
	b := NewBytecodeBuilder()
	b.Emit(OpDone)
	meth := addMethod(pkg, obj, "Tick", 0, 0, VoidType, b.Bytes())

	m := NewMachine()
	_, err := m.Call(meth, RefValue(nil))
	if err == nil || !strings.Contains(err.Error(), "Reference not set") {
		t.Errorf("error = %v, want none reference fault", err)
	}
}

func TestSpawnAbstract(t *testing.T) {
	_, obj, _ := testPackage(t)
	obj.Flags |= ClassAbstract
	layoutClasses(t, obj)

	m := NewMachine()
	if _, err := m.Spawn(obj); err == nil {
		t.Error("spawning an abstract class should fail")
	}
	if _, err := m.Spawn(nil); err == nil {
		t.Error("spawning none should fail")
	}
}
