package vm

import "fmt"

// ---------------------------------------------------------------------------
// Stack access for natives and the interpreter
// ---------------------------------------------------------------------------

// Push pushes one slot.
func (m *Machine) Push(v Value) { m.stack = append(m.stack, v) }

// Pop pops one slot.
func (m *Machine) Pop() Value {
	n := len(m.stack)
	if n == 0 {
		m.Fatalf("Stack underflow")
	}
	v := m.stack[n-1]
	m.stack = m.stack[:n-1]
	return v
}

// PopN pops n slots and returns them in stack order.
func (m *Machine) PopN(n int) []Value {
	if n > len(m.stack) {
		m.Fatalf("Stack underflow")
	}
	base := len(m.stack) - n
	out := append([]Value(nil), m.stack[base:]...)
	m.stack = m.stack[:base]
	return out
}

func (m *Machine) top() Value {
	if len(m.stack) == 0 {
		m.Fatalf("Stack underflow")
	}
	return m.stack[len(m.stack)-1]
}

func (m *Machine) PushInt(i int32)     { m.Push(IntValue(i)) }
func (m *Machine) PushFloat(f float32) { m.Push(FloatValue(f)) }
func (m *Machine) PushBool(b bool)     { m.Push(BoolValue(b)) }
func (m *Machine) PushString(s string) { m.Push(StringValue(s)) }
func (m *Machine) PushRef(o *Object)   { m.Push(RefValue(o)) }

func (m *Machine) PopInt() int32     { return m.Pop().Int }
func (m *Machine) PopFloat() float32 { return m.Pop().Float }
func (m *Machine) PopString() string { return m.Pop().Str }
func (m *Machine) PopRef() *Object   { return m.Pop().AsObject() }
func (m *Machine) PopClass() *Class  { return m.Pop().AsClass() }

// PopVector pops a vector as its three components.
func (m *Machine) PopVector() [3]float32 {
	s := m.PopN(3)
	return [3]float32{s[0].Float, s[1].Float, s[2].Float}
}

// PushVector pushes a vector as three float slots.
func (m *Machine) PushVector(v [3]float32) {
	m.Push(FloatValue(v[0]))
	m.Push(FloatValue(v[1]))
	m.Push(FloatValue(v[2]))
}

// ---------------------------------------------------------------------------
// Builtins
// ---------------------------------------------------------------------------

// Builtin natives declared by the Object class:
//
//	native static final void print(string fmt, ...);
//	native static final string va(string fmt, ...);
//	native static final Object SpawnObject(class cid);
//	native final void Destroy();
func registerBuiltins(m *Machine) {
	m.RegisterNative("Object.print", nativePrint)
	m.RegisterNative("Object.va", nativeVa)
	m.RegisterNative("Object.SpawnObject", nativeSpawnObject)
	m.RegisterNative("Object.Destroy", nativeDestroy)
}

func nativePrint(m *Machine) {
	s, err := m.FormatString()
	if err != nil {
		m.Fatalf("%v", err)
	}
	fmt.Fprintln(m.Out, s)
}

func nativeVa(m *Machine) {
	s, err := m.FormatString()
	if err != nil {
		m.Fatalf("%v", err)
	}
	m.PushString(s)
}

func nativeSpawnObject(m *Machine) {
	c := m.PopClass()
	obj, err := m.Spawn(c)
	if err != nil {
		m.Fatalf("%v", err)
	}
	m.PushRef(obj)
}

func nativeDestroy(m *Machine) {
	if obj := m.PopRef(); obj != nil {
		obj.Destroy()
	}
}
