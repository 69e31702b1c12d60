package vm

import (
	"encoding/binary"
	"math"
)

// ---------------------------------------------------------------------------
// Main interpreter loop
// ---------------------------------------------------------------------------

// run executes frame until it returns. Results are left on the stack at the
// frame's base pointer.
func (m *Machine) run(frame *CallFrame) {
	bc := frame.Method.Code
	ip := 0

	u8 := func() int {
		v := bc[ip]
		ip++
		return int(v)
	}
	u16 := func() int {
		v := binary.LittleEndian.Uint16(bc[ip:])
		ip += 2
		return int(v)
	}
	u32 := func() uint32 {
		v := binary.LittleEndian.Uint32(bc[ip:])
		ip += 4
		return v
	}

	for {
		if ip >= len(bc) {
			m.Fatalf("Instruction pointer out of range in %s", QualifiedName(frame.Method))
		}
		frame.IP = ip
		op := Opcode(bc[ip])
		ip++

		switch op {
		// --- Flow and stack ---
		case OpDone:
			m.stack = m.stack[:frame.BP]
			return

		case OpReturn:
			n := u8()
			if len(m.stack)-n < frame.BP {
				m.Fatalf("Stack underflow on return")
			}
			copy(m.stack[frame.BP:], m.stack[len(m.stack)-n:])
			m.stack = m.stack[:frame.BP+n]
			return

		case OpDrop:
			n := u8()
			m.PopN(n)

		case OpDup:
			m.Push(m.top())

		case OpSwap:
			b := m.Pop()
			a := m.Pop()
			m.Push(b)
			m.Push(a)

		// --- Constants ---
		case OpPushNumber:
			m.Push(IntValue(int32(u32())))

		case OpPushFloat:
			m.Push(FloatValue(math.Float32frombits(u32())))

		case OpPushName:
			m.Push(NameValue(m.poolString(frame, int(u32()))))

		case OpPushString:
			m.Push(StringValue(m.poolString(frame, int(u32()))))

		case OpPushZero:
			m.stack = append(m.stack, ZeroSlots(NewType(TypeKind(u8())))...)

		case OpPushSelf:
			if frame.Method.IsStatic() {
				m.Fatalf("self used in static method %s", QualifiedName(frame.Method))
			}
			m.Push(frame.Locals[0])

		case OpPushClass:
			m.Push(ClassValue(m.refClass(frame, u16())))

		case OpPushMethod:
			m.Push(MethodValue(m.refMethod(frame, u16())))

		case OpPushVFunc:
			idx := u16()
			obj := m.top().AsObject()
			if obj == nil {
				m.Fatalf("Reference not set to an instance of an object")
			}
			m.Push(MethodValue(m.vtableEntry(obj, idx)))

		case OpPushVArgType:
			m.Push(IntValue(int32(u8())))

		case OpPushState:
			ref := m.ref(frame, u16())
			st, ok := ref.(*State)
			if !ok {
				m.Fatalf("Reference %s is not a state", QualifiedName(ref))
			}
			m.Push(StateValue(st))

		// --- Addressing and memory ---
		case OpLocalAddress:
			m.Push(PointerValue(Pointer{Slots: frame.Locals, Index: u16()}))

		case OpLocalValue:
			m.Push(frame.Locals[u16()])

		case OpFieldAddress:
			ofs := u16()
			obj := m.popObject()
			m.Push(PointerValue(Pointer{Slots: obj.Fields, Index: ofs}))

		case OpFieldValue:
			ofs := u16()
			obj := m.popObject()
			m.Push(obj.Fields[ofs])

		case OpOffset:
			ofs := u16()
			p := m.popPointer()
			m.Push(PointerValue(p.Add(ofs)))

		case OpArrayElement:
			size := u16()
			length := int(u32())
			idx := int(m.PopInt())
			p := m.popPointer()
			if idx < 0 || idx >= length {
				m.Fatalf("Array index %d out of bounds (%d)", idx, length)
			}
			m.Push(PointerValue(p.Add(idx * size)))

		case OpArray2DIndex:
			d0 := u16()
			d1 := u16()
			j := int(m.PopInt())
			i := int(m.PopInt())
			if i < 0 || i >= d0 || j < 0 || j >= d1 {
				m.Fatalf("Array index [%d, %d] out of bounds [%d, %d]", i, j, d0, d1)
			}
			m.PushInt(int32(i*d1 + j))

		case OpDynArrayElement:
			size := u16()
			idx := int(m.PopInt())
			arr := m.popArray(size, false)
			if idx < 0 || idx >= arr.Len() {
				m.Fatalf("Dynamic array index %d out of bounds (%d)", idx, arr.Len())
			}
			m.Push(PointerValue(Pointer{Slots: arr.Elems, Index: idx * size}))

		case OpDynArrayLength:
			size := u16()
			m.PushInt(int32(m.popArray(size, false).Len()))

		case OpDynArraySetLength:
			size := u16()
			n := int(m.PopInt())
			arr := m.popArray(size, true)
			if n < 0 {
				m.Fatalf("Negative dynamic array length %d", n)
			}
			arr.SetLen(n)

		case OpLoad:
			n := u8()
			p := m.popPointer()
			m.stack = append(m.stack, p.Slots[p.Index:p.Index+n]...)

		case OpLoadBool:
			mask := u32()
			p := m.popPointer()
			m.PushBool(uint32(p.Slots[p.Index].Int)&mask != 0)

		case OpAssignDrop:
			n := u8()
			vals := m.PopN(n)
			p := m.popPointer()
			for i, v := range vals {
				if a := v.AsArray(); a != nil {
					v.Ref = a.clone()
				}
				p.Slots[p.Index+i] = v
			}

		case OpAssignBool:
			mask := u32()
			v := m.Pop()
			p := m.popPointer()
			slot := &p.Slots[p.Index]
			bits := uint32(slot.Int)
			if v.Int != 0 {
				bits |= mask
			} else {
				bits &^= mask
			}
			*slot = IntValue(int32(bits))

		case OpClearPointed:
			n := u8()
			p := m.popPointer()
			clear(p.Slots[p.Index : p.Index+n])

		case OpStrLength:
			m.PushInt(int32(len(m.PopString())))

		// --- Integer arithmetic ---
		case OpAdd, OpSubtract, OpMultiply, OpDivide, OpModulus, OpLShift, OpRShift,
			OpAndBitwise, OpOrBitwise, OpXOrBitwise:
			b := m.PopInt()
			a := m.PopInt()
			m.PushInt(m.intBinary(op, a, b))

		case OpEquals, OpNotEquals, OpLess, OpLessEquals, OpGreater, OpGreaterEquals:
			b := m.PopInt()
			a := m.PopInt()
			m.PushBool(compare(op-OpEquals, a, b))

		case OpUnaryMinus:
			m.PushInt(-m.PopInt())

		case OpBitInverse:
			m.PushInt(^m.PopInt())

		case OpNegateLogical:
			m.PushBool(m.PopInt() == 0)

		case OpToByte:
			m.PushInt(int32(uint8(m.PopInt())))

		case OpPreInc, OpPreDec, OpPostInc, OpPostDec:
			p := m.popPointer()
			slot := &p.Slots[p.Index]
			old := slot.Int
			delta := int32(1)
			if op == OpPreDec || op == OpPostDec {
				delta = -1
			}
			*slot = IntValue(old + delta)
			if op == OpPreInc || op == OpPreDec {
				m.PushInt(old + delta)
			} else {
				m.PushInt(old)
			}

		// --- Float arithmetic ---
		case OpFAdd, OpFSubtract, OpFMultiply, OpFDivide:
			b := m.PopFloat()
			a := m.PopFloat()
			m.PushFloat(m.floatBinary(op, a, b))

		case OpFEquals, OpFNotEquals, OpFLess, OpFLessEquals, OpFGreater, OpFGreaterEquals:
			b := m.PopFloat()
			a := m.PopFloat()
			m.PushBool(compare(op-OpFEquals, a, b))

		case OpFUnaryMinus:
			m.PushFloat(-m.PopFloat())

		case OpIntToFloat:
			m.PushFloat(float32(m.PopInt()))

		case OpFloatToInt:
			m.PushInt(int32(m.PopFloat()))

		case OpFloatToBool:
			m.PushBool(m.PopFloat() != 0)

		// --- Vector arithmetic ---
		case OpVAdd, OpVSubtract:
			b := m.PopVector()
			a := m.PopVector()
			if op == OpVSubtract {
				b = [3]float32{-b[0], -b[1], -b[2]}
			}
			m.PushVector([3]float32{a[0] + b[0], a[1] + b[1], a[2] + b[2]})

		case OpVPreScale:
			v := m.PopVector()
			f := m.PopFloat()
			m.PushVector([3]float32{f * v[0], f * v[1], f * v[2]})

		case OpVPostScale, OpVIScale:
			f := m.PopFloat()
			v := m.PopVector()
			if op == OpVIScale {
				if f == 0 {
					m.Fatalf("Vector division by zero")
				}
				f = 1 / f
			}
			m.PushVector([3]float32{v[0] * f, v[1] * f, v[2] * f})

		case OpVEquals, OpVNotEquals:
			b := m.PopVector()
			a := m.PopVector()
			m.PushBool((a == b) == (op == OpVEquals))

		case OpVUnaryMinus:
			v := m.PopVector()
			m.PushVector([3]float32{-v[0], -v[1], -v[2]})

		case OpVFieldValue:
			idx := u8()
			v := m.PopVector()
			m.PushFloat(v[idx])

		case OpVectorToBool:
			v := m.PopVector()
			m.PushBool(v != [3]float32{})

		// --- Strings, names and references ---
		case OpStrEquals, OpStrNotEquals:
			b := m.PopString()
			a := m.PopString()
			m.PushBool((a == b) == (op == OpStrEquals))

		case OpStrCat:
			b := m.PopString()
			a := m.PopString()
			m.PushString(a + b)

		case OpStrToBool:
			m.PushBool(m.PopString() != "")

		case OpRefEquals, OpRefNotEquals:
			b := m.Pop()
			a := m.Pop()
			m.PushBool((refIdentity(a) == refIdentity(b)) == (op == OpRefEquals))

		case OpRefToBool:
			m.PushBool(refIdentity(m.Pop()) != nil)

		case OpPtrEquals, OpPtrNotEquals:
			b := m.Pop()
			a := m.Pop()
			m.PushBool(a.Equal(b) == (op == OpPtrEquals))

		case OpPtrToBool:
			_, ok := m.Pop().AsPointer()
			m.PushBool(ok)

		case OpDelegateToBool:
			meth := m.Pop().AsMethod()
			m.Pop()
			m.PushBool(meth != nil)

		case OpDynamicCast:
			c := m.refClass(frame, u16())
			obj := m.PopRef()
			if obj != nil && obj.Class.IsChildOf(c) {
				m.PushRef(obj)
			} else {
				m.PushRef(nil)
			}

		case OpDynamicClassCast:
			c := m.refClass(frame, u16())
			v := m.PopClass()
			if v != nil && v.IsChildOf(c) {
				m.Push(ClassValue(v))
			} else {
				m.Push(Value{Kind: ValClass})
			}

		// --- Control flow ---
		case OpGoto:
			ip = int(u32())

		case OpIfGoto, OpIfNotGoto:
			target := int(u32())
			if (m.PopInt() != 0) == (op == OpIfGoto) {
				ip = target
			}

		case OpIfTopGoto, OpIfNotTopGoto:
			target := int(u32())
			if (m.top().Int != 0) == (op == OpIfTopGoto) {
				ip = target
			} else {
				m.Pop()
			}

		case OpCaseGoto:
			value := int32(u32())
			target := int(u32())
			if m.top().Int == value {
				m.Pop()
				ip = target
			}

		// --- Calls ---
		case OpCall:
			m.invoke(m.refMethod(frame, u16()))

		case OpVCall:
			idx := u16()
			size := u8()
			if size > len(m.stack) {
				m.Fatalf("Stack underflow in virtual call")
			}
			obj := m.stack[len(m.stack)-size].AsObject()
			if obj == nil {
				m.Fatalf("Reference not set to an instance of an object")
			}
			m.invoke(m.vtableEntry(obj, idx))

		case OpDelegateCall:
			size := u8()
			at := len(m.stack) - size - 1
			if at < 1 {
				m.Fatalf("Stack underflow in delegate call")
			}
			meth := m.stack[at].AsMethod()
			if meth == nil {
				m.Fatalf("Delegate is not initialised")
			}
			copy(m.stack[at:], m.stack[at+1:])
			m.stack = m.stack[:len(m.stack)-1]
			m.invoke(meth)

		default:
			m.Fatalf("Invalid opcode %d", byte(op))
		}
	}
}

// ---------------------------------------------------------------------------
// Operand helpers
// ---------------------------------------------------------------------------

func (m *Machine) poolString(frame *CallFrame, offs int) string {
	s, err := frame.pkg.Strings.String(offs)
	if err != nil {
		m.Fatalf("%v", err)
	}
	return s
}

func (m *Machine) ref(frame *CallFrame, idx int) Member {
	ref := frame.pkg.Ref(idx)
	if ref == nil {
		m.Fatalf("Invalid reference index %d", idx)
	}
	return ref
}

func (m *Machine) refClass(frame *CallFrame, idx int) *Class {
	ref := m.ref(frame, idx)
	c, ok := ref.(*Class)
	if !ok {
		m.Fatalf("Reference %s is not a class", QualifiedName(ref))
	}
	return c
}

func (m *Machine) refMethod(frame *CallFrame, idx int) *Method {
	ref := m.ref(frame, idx)
	meth, ok := ref.(*Method)
	if !ok {
		m.Fatalf("Reference %s is not a method", QualifiedName(ref))
	}
	return meth
}

func (m *Machine) vtableEntry(obj *Object, idx int) *Method {
	if idx < 0 || idx >= len(obj.Class.VTable) {
		m.Fatalf("Virtual method index %d out of range for %s", idx, obj.Class.Name)
	}
	return obj.Class.VTable[idx]
}

func (m *Machine) popObject() *Object {
	obj := m.PopRef()
	if obj == nil {
		m.Fatalf("Reference not set to an instance of an object")
	}
	return obj
}

func (m *Machine) popPointer() Pointer {
	p, ok := m.Pop().AsPointer()
	if !ok || p.Index < 0 || p.Index >= len(p.Slots) {
		m.Fatalf("Invalid pointer")
	}
	return p
}

// popArray pops a pointer to a dynamic array slot. With create set an empty
// array is stored in the slot if it has none yet.
func (m *Machine) popArray(size int, create bool) *DynArray {
	p := m.popPointer()
	slot := &p.Slots[p.Index]
	arr := slot.AsArray()
	if arr == nil {
		arr = &DynArray{ElemSize: size}
		if create {
			*slot = Value{Kind: ValArray, Ref: arr}
		}
	}
	return arr
}

func (m *Machine) intBinary(op Opcode, a, b int32) int32 {
	switch op {
	case OpAdd:
		return a + b
	case OpSubtract:
		return a - b
	case OpMultiply:
		return a * b
	case OpDivide:
		if b == 0 {
			m.Fatalf("Division by zero")
		}
		return a / b
	case OpModulus:
		if b == 0 {
			m.Fatalf("Division by zero")
		}
		return a % b
	case OpLShift:
		return a << (uint32(b) & 31)
	case OpRShift:
		return a >> (uint32(b) & 31)
	case OpAndBitwise:
		return a & b
	case OpOrBitwise:
		return a | b
	default:
		return a ^ b
	}
}

func (m *Machine) floatBinary(op Opcode, a, b float32) float32 {
	switch op {
	case OpFAdd:
		return a + b
	case OpFSubtract:
		return a - b
	case OpFMultiply:
		return a * b
	default:
		if b == 0 {
			m.Fatalf("Division by zero")
		}
		return a / b
	}
}

// compare evaluates the comparison at offset rel in the
// Equals, NotEquals, Less, LessEquals, Greater, GreaterEquals sequence.
func compare[T int32 | float32](rel Opcode, a, b T) bool {
	switch rel {
	case 0:
		return a == b
	case 1:
		return a != b
	case 2:
		return a < b
	case 3:
		return a <= b
	case 4:
		return a > b
	default:
		return a >= b
	}
}

// refIdentity returns the identity compared by reference equality. A
// destroyed object compares equal to none.
func refIdentity(v Value) any {
	switch r := v.Ref.(type) {
	case *Object:
		if r == nil || r.destroyed {
			return nil
		}
		return r
	case *Class:
		if r == nil {
			return nil
		}
		return r
	case *State:
		if r == nil {
			return nil
		}
		return r
	case *Method:
		if r == nil {
			return nil
		}
		return r
	}
	return nil
}
