package vm

import (
	"strings"
	"testing"
)

// ---------------------------------------------------------------------------
// Opcode metadata tests
// ---------------------------------------------------------------------------

func TestOpcodeInfo(t *testing.T) {
	tests := []struct {
		op           Opcode
		name         string
		operandBytes int
	}{
		{OpDone, "DONE", 0},
		{OpReturn, "RETURN", 1},
		{OpPushNumber, "PUSH_NUMBER", 4},
		{OpPushString, "PUSH_STRING", 4},
		{OpPushClass, "PUSH_CLASS", 2},
		{OpLocalAddress, "LOCAL_ADDRESS", 2},
		{OpArrayElement, "ARRAY_ELEMENT", 6},
		{OpArray2DIndex, "ARRAY_2D_INDEX", 4},
		{OpLoadBool, "LOAD_BOOL", 4},
		{OpAdd, "ADD", 0},
		{OpPostDec, "POST_DEC", 0},
		{OpFloatToBool, "FLOAT_TO_BOOL", 0},
		{OpVFieldValue, "V_FIELD_VALUE", 1},
		{OpDynamicClassCast, "DYNAMIC_CLASS_CAST", 2},
		{OpCaseGoto, "CASE_GOTO", 8},
		{OpVCall, "VCALL", 3},
	}

	for _, tt := range tests {
		info := tt.op.Info()
		if info.Name != tt.name {
			t.Errorf("%s: Name = %q, want %q", tt.op, info.Name, tt.name)
		}
		if got := info.OperandBytes(); got != tt.operandBytes {
			t.Errorf("%s: OperandBytes = %d, want %d", tt.op, got, tt.operandBytes)
		}
	}
}

func TestOpcodeGroupsDoNotOverlap(t *testing.T) {
	if OpPostDec >= OpFAdd {
		t.Errorf("integer opcodes run into float opcodes: %#x >= %#x", byte(OpPostDec), byte(OpFAdd))
	}
	if OpFloatToBool >= OpVAdd {
		t.Errorf("float opcodes run into vector opcodes")
	}
	if OpVectorToBool >= OpStrEquals {
		t.Errorf("vector opcodes run into string opcodes")
	}
	if OpDynamicClassCast >= OpGoto {
		t.Errorf("reference opcodes run into jumps")
	}
}

func TestUnknownOpcode(t *testing.T) {
	op := Opcode(0xFE)
	if op.IsValid() {
		t.Fatal("0xFE should not be a valid opcode")
	}
	if got := op.Name(); got != "UNKNOWN_FE" {
		t.Errorf("Name() = %q, want UNKNOWN_FE", got)
	}
}

// ---------------------------------------------------------------------------
// Builder and reader
// ---------------------------------------------------------------------------

func TestBytecodeBuilderRoundTrip(t *testing.T) {
	b := NewBytecodeBuilder()
	b.EmitInt32(OpPushNumber, -7)
	b.EmitFloat32(OpPushFloat, 2.5)
	b.EmitUint16(OpLocalValue, 300)
	b.EmitByte(OpReturn, 1)
	b.Emit(OpGoto)
	patch := b.Len()
	b.AppendUint32(0)
	b.PatchUint32(patch, 42)

	r := NewBytecodeReader(b.Bytes())
	if op := r.ReadOpcode(); op != OpPushNumber {
		t.Fatalf("op = %s, want PUSH_NUMBER", op)
	}
	if v := r.ReadInt32(); v != -7 {
		t.Errorf("int operand = %d, want -7", v)
	}
	r.ReadOpcode()
	if v := r.ReadFloat32(); v != 2.5 {
		t.Errorf("float operand = %v, want 2.5", v)
	}
	r.ReadOpcode()
	if v := r.ReadUint16(); v != 300 {
		t.Errorf("uint16 operand = %d, want 300", v)
	}
	r.ReadOpcode()
	if v := r.ReadUint8(); v != 1 {
		t.Errorf("byte operand = %d, want 1", v)
	}
	r.ReadOpcode()
	if v := r.ReadUint32(); v != 42 {
		t.Errorf("patched target = %d, want 42", v)
	}
	if r.HasMore() {
		t.Error("reader should be exhausted")
	}
}

func TestDisassemble(t *testing.T) {
	pkg := NewPackage("test")
	offs := pkg.Strings.FindString("hello")

	b := NewBytecodeBuilder()
	b.EmitInt32(OpPushString, int32(offs))
	b.EmitInt32(OpPushNumber, 3)
	b.Emit(OpCaseGoto)
	b.AppendUint32(3)
	b.AppendUint32(17)
	b.Emit(OpDone)

	out := Disassemble(b.Bytes(), pkg)
	for _, want := range []string{`PUSH_STRING "hello"`, "PUSH_NUMBER 3", "CASE_GOTO 3 -> 0017", "DONE"} {
		if !strings.Contains(out, want) {
			t.Errorf("disassembly missing %q:\n%s", want, out)
		}
	}
}
