package vm

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode represents a single bytecode instruction.
type Opcode byte

// Flow and stack
const (
	OpDone   Opcode = 0x00 // end of method body
	OpReturn Opcode = 0x01 // return top n slots (8-bit n)
	OpDrop   Opcode = 0x02 // discard n slots (8-bit n)
	OpDup    Opcode = 0x03 // duplicate top slot
	OpSwap   Opcode = 0x04 // swap top two slots
)

// Push Constants
const (
	OpPushNumber   Opcode = 0x10 // push 32-bit int
	OpPushFloat    Opcode = 0x11 // push 32-bit float
	OpPushName     Opcode = 0x12 // push name (string pool offset)
	OpPushString   Opcode = 0x13 // push string (string pool offset)
	OpPushZero     Opcode = 0x14 // push zero value of a kind (8-bit TypeKind)
	OpPushSelf     Opcode = 0x15 // push self
	OpPushClass    Opcode = 0x16 // push class (16-bit ref)
	OpPushMethod   Opcode = 0x17 // push method for a delegate (16-bit ref)
	OpPushVFunc    Opcode = 0x18 // push virtual method of the reference on top (16-bit vtable index)
	OpPushVArgType Opcode = 0x19 // push vararg type tag (8-bit TypeKind)
	OpPushState    Opcode = 0x1A // push state (16-bit ref)
)

// Addressing and memory
const (
	OpLocalAddress      Opcode = 0x20 // push pointer to local slot (16-bit index)
	OpLocalValue        Opcode = 0x21 // push local slot (16-bit index)
	OpFieldAddress      Opcode = 0x22 // pop reference, push pointer to field (16-bit offset)
	OpFieldValue        Opcode = 0x23 // pop reference, push field slot (16-bit offset)
	OpOffset            Opcode = 0x24 // pop pointer, push pointer+offset (16-bit offset)
	OpArrayElement      Opcode = 0x25 // pop index and pointer, push element pointer (16-bit size, 32-bit length)
	OpArray2DIndex      Opcode = 0x26 // pop j and i, push linear index (16-bit d0, 16-bit d1)
	OpDynArrayElement   Opcode = 0x27 // pop index and array pointer, push element pointer (16-bit size)
	OpDynArrayLength    Opcode = 0x28 // pop array pointer, push length (16-bit size)
	OpDynArraySetLength Opcode = 0x29 // pop length and array pointer, resize (16-bit size)
	OpLoad              Opcode = 0x2A // pop pointer, push n slots (8-bit n)
	OpLoadBool          Opcode = 0x2B // pop pointer, push masked bit (32-bit mask)
	OpAssignDrop        Opcode = 0x2C // pop n slots and pointer, store (8-bit n)
	OpAssignBool        Opcode = 0x2D // pop value and pointer, store bit (32-bit mask)
	OpClearPointed      Opcode = 0x2E // pop pointer, zero n slots (8-bit n)
	OpStrLength         Opcode = 0x2F // pop string, push length
)

// Integer arithmetic
const (
	OpAdd Opcode = 0x30 + iota
	OpSubtract
	OpMultiply
	OpDivide
	OpModulus
	OpLShift
	OpRShift
	OpAndBitwise
	OpOrBitwise
	OpXOrBitwise
	OpEquals
	OpNotEquals
	OpLess
	OpLessEquals
	OpGreater
	OpGreaterEquals
	OpUnaryMinus
	OpBitInverse
	OpNegateLogical
	OpToByte
	OpPreInc
	OpPreDec
	OpPostInc
	OpPostDec
)

// Float arithmetic
const (
	OpFAdd Opcode = 0x50 + iota
	OpFSubtract
	OpFMultiply
	OpFDivide
	OpFEquals
	OpFNotEquals
	OpFLess
	OpFLessEquals
	OpFGreater
	OpFGreaterEquals
	OpFUnaryMinus
	OpIntToFloat
	OpFloatToInt
	OpFloatToBool
)

// Vector arithmetic
const (
	OpVAdd Opcode = 0x60 + iota
	OpVSubtract
	OpVPreScale
	OpVPostScale
	OpVIScale
	OpVEquals
	OpVNotEquals
	OpVUnaryMinus
	OpVFieldValue // pop vector, push one component (8-bit index)
	OpVectorToBool
)

// Strings, names and references
const (
	OpStrEquals Opcode = 0x70 + iota
	OpStrNotEquals
	OpStrCat
	OpStrToBool
	OpRefEquals
	OpRefNotEquals
	OpRefToBool
	OpPtrEquals
	OpPtrNotEquals
	OpPtrToBool
	OpDelegateToBool
	OpDynamicCast      // pop reference, push it if it is a child of class (16-bit ref)
	OpDynamicClassCast // pop class, push it if it is a child of class (16-bit ref)
)

// Control flow
const (
	OpGoto         Opcode = 0x90 // jump (32-bit target)
	OpIfGoto       Opcode = 0x91 // pop, jump if nonzero
	OpIfNotGoto    Opcode = 0x92 // pop, jump if zero
	OpIfTopGoto    Opcode = 0x93 // jump keeping top if nonzero, else pop
	OpIfNotTopGoto Opcode = 0x94 // jump keeping top if zero, else pop
	OpCaseGoto     Opcode = 0x95 // pop and jump if top equals value (32-bit value, 32-bit target)
)

// Calls
const (
	OpCall         Opcode = 0xA0 // call method (16-bit ref)
	OpVCall        Opcode = 0xA1 // virtual call (16-bit vtable index, 8-bit params size)
	OpDelegateCall Opcode = 0xA2 // call delegate below the arguments (8-bit params size)
)

// ---------------------------------------------------------------------------
// Opcode metadata
// ---------------------------------------------------------------------------

// Operand layout letters: b=uint8 h=uint16 i=int32 u=uint32 f=float32
// s=string pool offset r=reference index (uint16) t=jump target.

// OpcodeInfo holds metadata about an opcode.
type OpcodeInfo struct {
	Name     string // human-readable name
	Operands string // operand layout
}

// OperandBytes returns the encoded size of the operands.
func (i OpcodeInfo) OperandBytes() int {
	n := 0
	for _, c := range i.Operands {
		n += operandSize(c)
	}
	return n
}

func operandSize(c rune) int {
	switch c {
	case 'b':
		return 1
	case 'h', 'r':
		return 2
	default:
		return 4
	}
}

var opcodeTable = map[Opcode]OpcodeInfo{
	OpDone:   {"DONE", ""},
	OpReturn: {"RETURN", "b"},
	OpDrop:   {"DROP", "b"},
	OpDup:    {"DUP", ""},
	OpSwap:   {"SWAP", ""},

	OpPushNumber:   {"PUSH_NUMBER", "i"},
	OpPushFloat:    {"PUSH_FLOAT", "f"},
	OpPushName:     {"PUSH_NAME", "s"},
	OpPushString:   {"PUSH_STRING", "s"},
	OpPushZero:     {"PUSH_ZERO", "b"},
	OpPushSelf:     {"PUSH_SELF", ""},
	OpPushClass:    {"PUSH_CLASS", "r"},
	OpPushMethod:   {"PUSH_METHOD", "r"},
	OpPushVFunc:    {"PUSH_VFUNC", "h"},
	OpPushVArgType: {"PUSH_VARG_TYPE", "b"},
	OpPushState:    {"PUSH_STATE", "r"},

	OpLocalAddress:      {"LOCAL_ADDRESS", "h"},
	OpLocalValue:        {"LOCAL_VALUE", "h"},
	OpFieldAddress:      {"FIELD_ADDRESS", "h"},
	OpFieldValue:        {"FIELD_VALUE", "h"},
	OpOffset:            {"OFFSET", "h"},
	OpArrayElement:      {"ARRAY_ELEMENT", "hu"},
	OpArray2DIndex:      {"ARRAY_2D_INDEX", "hh"},
	OpDynArrayElement:   {"DYNARRAY_ELEMENT", "h"},
	OpDynArrayLength:    {"DYNARRAY_LENGTH", "h"},
	OpDynArraySetLength: {"DYNARRAY_SET_LENGTH", "h"},
	OpLoad:              {"LOAD", "b"},
	OpLoadBool:          {"LOAD_BOOL", "u"},
	OpAssignDrop:        {"ASSIGN_DROP", "b"},
	OpAssignBool:        {"ASSIGN_BOOL", "u"},
	OpClearPointed:      {"CLEAR_POINTED", "b"},
	OpStrLength:         {"STR_LENGTH", ""},

	OpAdd:           {"ADD", ""},
	OpSubtract:      {"SUBTRACT", ""},
	OpMultiply:      {"MULTIPLY", ""},
	OpDivide:        {"DIVIDE", ""},
	OpModulus:       {"MODULUS", ""},
	OpLShift:        {"LSHIFT", ""},
	OpRShift:        {"RSHIFT", ""},
	OpAndBitwise:    {"AND_BITWISE", ""},
	OpOrBitwise:     {"OR_BITWISE", ""},
	OpXOrBitwise:    {"XOR_BITWISE", ""},
	OpEquals:        {"EQUALS", ""},
	OpNotEquals:     {"NOT_EQUALS", ""},
	OpLess:          {"LESS", ""},
	OpLessEquals:    {"LESS_EQUALS", ""},
	OpGreater:       {"GREATER", ""},
	OpGreaterEquals: {"GREATER_EQUALS", ""},
	OpUnaryMinus:    {"UNARY_MINUS", ""},
	OpBitInverse:    {"BIT_INVERSE", ""},
	OpNegateLogical: {"NEGATE_LOGICAL", ""},
	OpToByte:        {"TO_BYTE", ""},
	OpPreInc:        {"PRE_INC", ""},
	OpPreDec:        {"PRE_DEC", ""},
	OpPostInc:       {"POST_INC", ""},
	OpPostDec:       {"POST_DEC", ""},

	OpFAdd:           {"F_ADD", ""},
	OpFSubtract:      {"F_SUBTRACT", ""},
	OpFMultiply:      {"F_MULTIPLY", ""},
	OpFDivide:        {"F_DIVIDE", ""},
	OpFEquals:        {"F_EQUALS", ""},
	OpFNotEquals:     {"F_NOT_EQUALS", ""},
	OpFLess:          {"F_LESS", ""},
	OpFLessEquals:    {"F_LESS_EQUALS", ""},
	OpFGreater:       {"F_GREATER", ""},
	OpFGreaterEquals: {"F_GREATER_EQUALS", ""},
	OpFUnaryMinus:    {"F_UNARY_MINUS", ""},
	OpIntToFloat:     {"INT_TO_FLOAT", ""},
	OpFloatToInt:     {"FLOAT_TO_INT", ""},
	OpFloatToBool:    {"FLOAT_TO_BOOL", ""},

	OpVAdd:         {"V_ADD", ""},
	OpVSubtract:    {"V_SUBTRACT", ""},
	OpVPreScale:    {"V_PRE_SCALE", ""},
	OpVPostScale:   {"V_POST_SCALE", ""},
	OpVIScale:      {"V_ISCALE", ""},
	OpVEquals:      {"V_EQUALS", ""},
	OpVNotEquals:   {"V_NOT_EQUALS", ""},
	OpVUnaryMinus:  {"V_UNARY_MINUS", ""},
	OpVFieldValue:  {"V_FIELD_VALUE", "b"},
	OpVectorToBool: {"VECTOR_TO_BOOL", ""},

	OpStrEquals:        {"STR_EQUALS", ""},
	OpStrNotEquals:     {"STR_NOT_EQUALS", ""},
	OpStrCat:           {"STR_CAT", ""},
	OpStrToBool:        {"STR_TO_BOOL", ""},
	OpRefEquals:        {"REF_EQUALS", ""},
	OpRefNotEquals:     {"REF_NOT_EQUALS", ""},
	OpRefToBool:        {"REF_TO_BOOL", ""},
	OpPtrEquals:        {"PTR_EQUALS", ""},
	OpPtrNotEquals:     {"PTR_NOT_EQUALS", ""},
	OpPtrToBool:        {"PTR_TO_BOOL", ""},
	OpDelegateToBool:   {"DELEGATE_TO_BOOL", ""},
	OpDynamicCast:      {"DYNAMIC_CAST", "r"},
	OpDynamicClassCast: {"DYNAMIC_CLASS_CAST", "r"},

	OpGoto:         {"GOTO", "t"},
	OpIfGoto:       {"IF_GOTO", "t"},
	OpIfNotGoto:    {"IF_NOT_GOTO", "t"},
	OpIfTopGoto:    {"IF_TOP_GOTO", "t"},
	OpIfNotTopGoto: {"IF_NOT_TOP_GOTO", "t"},
	OpCaseGoto:     {"CASE_GOTO", "it"},

	OpCall:         {"CALL", "r"},
	OpVCall:        {"VCALL", "hb"},
	OpDelegateCall: {"DELEGATE_CALL", "b"},
}

// Info returns metadata for the opcode.
func (op Opcode) Info() OpcodeInfo {
	if info, ok := opcodeTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN_%02X", byte(op))}
}

// Name returns the opcode name.
func (op Opcode) Name() string {
	return op.Info().Name
}

// IsValid reports whether op is a defined opcode.
func (op Opcode) IsValid() bool {
	_, ok := opcodeTable[op]
	return ok
}

func (op Opcode) String() string {
	return op.Name()
}

// ---------------------------------------------------------------------------
// BytecodeBuilder: Helper for constructing bytecode
// ---------------------------------------------------------------------------

// BytecodeBuilder appends encoded instructions.
type BytecodeBuilder struct {
	bytes []byte
}

// NewBytecodeBuilder creates a new bytecode builder.
func NewBytecodeBuilder() *BytecodeBuilder {
	return &BytecodeBuilder{bytes: make([]byte, 0, 64)}
}

// Bytes returns the constructed bytecode.
func (b *BytecodeBuilder) Bytes() []byte { return b.bytes }

// Len returns the current length.
func (b *BytecodeBuilder) Len() int { return len(b.bytes) }

// Emit appends an opcode with no operands.
func (b *BytecodeBuilder) Emit(op Opcode) {
	b.bytes = append(b.bytes, byte(op))
}

// EmitByte appends an opcode with a single byte operand.
func (b *BytecodeBuilder) EmitByte(op Opcode, operand byte) {
	b.bytes = append(b.bytes, byte(op), operand)
}

// EmitUint16 appends an opcode with a 16-bit operand (little-endian).
func (b *BytecodeBuilder) EmitUint16(op Opcode, operand uint16) {
	b.bytes = append(b.bytes, byte(op), byte(operand), byte(operand>>8))
}

// EmitInt32 appends an opcode with a 32-bit operand (little-endian).
func (b *BytecodeBuilder) EmitInt32(op Opcode, operand int32) {
	b.bytes = append(b.bytes, byte(op))
	b.bytes = binary.LittleEndian.AppendUint32(b.bytes, uint32(operand))
}

// EmitFloat32 appends an opcode with a float operand.
func (b *BytecodeBuilder) EmitFloat32(op Opcode, operand float32) {
	b.bytes = append(b.bytes, byte(op))
	b.bytes = binary.LittleEndian.AppendUint32(b.bytes, math.Float32bits(operand))
}

// AppendUint8, AppendUint16 and AppendUint32 add raw operands after an
// opcode emitted with Emit.
func (b *BytecodeBuilder) AppendUint8(v uint8) { b.bytes = append(b.bytes, v) }

func (b *BytecodeBuilder) AppendUint16(v uint16) {
	b.bytes = binary.LittleEndian.AppendUint16(b.bytes, v)
}

func (b *BytecodeBuilder) AppendUint32(v uint32) {
	b.bytes = binary.LittleEndian.AppendUint32(b.bytes, v)
}

// PatchUint32 overwrites a 32-bit operand at pos.
func (b *BytecodeBuilder) PatchUint32(pos int, v uint32) {
	binary.LittleEndian.PutUint32(b.bytes[pos:], v)
}

// ---------------------------------------------------------------------------
// Bytecode reader
// ---------------------------------------------------------------------------

// BytecodeReader decodes operands. Reads past the end panic; the
// interpreter turns that into a runtime error.
type BytecodeReader struct {
	bytes []byte
	pos   int
}

// NewBytecodeReader creates a reader for bytecode.
func NewBytecodeReader(bc []byte) *BytecodeReader {
	return &BytecodeReader{bytes: bc}
}

func (r *BytecodeReader) Position() int { return r.pos }
func (r *BytecodeReader) HasMore() bool { return r.pos < len(r.bytes) }

// ReadOpcode reads and returns the next opcode.
func (r *BytecodeReader) ReadOpcode() Opcode {
	return Opcode(r.ReadUint8())
}

// ReadUint8 reads a single byte operand.
func (r *BytecodeReader) ReadUint8() byte {
	if r.pos >= len(r.bytes) {
		panic("bytecode underflow")
	}
	b := r.bytes[r.pos]
	r.pos++
	return b
}

// ReadUint16 reads a 16-bit operand (little-endian).
func (r *BytecodeReader) ReadUint16() uint16 {
	if r.pos+2 > len(r.bytes) {
		panic("bytecode underflow")
	}
	v := binary.LittleEndian.Uint16(r.bytes[r.pos:])
	r.pos += 2
	return v
}

// ReadUint32 reads a 32-bit operand (little-endian).
func (r *BytecodeReader) ReadUint32() uint32 {
	if r.pos+4 > len(r.bytes) {
		panic("bytecode underflow")
	}
	v := binary.LittleEndian.Uint32(r.bytes[r.pos:])
	r.pos += 4
	return v
}

// ReadInt32 reads a signed 32-bit operand.
func (r *BytecodeReader) ReadInt32() int32 { return int32(r.ReadUint32()) }

// ReadFloat32 reads a float operand.
func (r *BytecodeReader) ReadFloat32() float32 { return math.Float32frombits(r.ReadUint32()) }

// ---------------------------------------------------------------------------
// Disassembly
// ---------------------------------------------------------------------------

// DisassembleInstruction renders the instruction at the reader's position.
// When pkg is non-nil, string and reference operands are shown by value.
func DisassembleInstruction(r *BytecodeReader, pkg *Package) string {
	pos := r.Position()
	op := r.ReadOpcode()
	info := op.Info()
	var sb strings.Builder
	fmt.Fprintf(&sb, "%04d  %s", pos, info.Name)
	for _, c := range info.Operands {
		sb.WriteByte(' ')
		switch c {
		case 'b':
			fmt.Fprintf(&sb, "%d", r.ReadUint8())
		case 'h':
			fmt.Fprintf(&sb, "%d", r.ReadUint16())
		case 'i':
			fmt.Fprintf(&sb, "%d", r.ReadInt32())
		case 'u':
			fmt.Fprintf(&sb, "0x%x", r.ReadUint32())
		case 'f':
			sb.WriteString(formatFloat(r.ReadFloat32()))
		case 't':
			fmt.Fprintf(&sb, "-> %04d", r.ReadUint32())
		case 's':
			offs := int(r.ReadUint32())
			if pkg != nil {
				s, _ := pkg.Strings.String(offs)
				fmt.Fprintf(&sb, "%q", s)
			} else {
				fmt.Fprintf(&sb, "@%d", offs)
			}
		case 'r':
			idx := int(r.ReadUint16())
			if m := refMember(pkg, idx); m != nil {
				fmt.Fprintf(&sb, "%s %s", m.MemberKind(), QualifiedName(m))
			} else {
				fmt.Fprintf(&sb, "#%d", idx)
			}
		}
	}
	return sb.String()
}

func refMember(pkg *Package, idx int) Member {
	if pkg == nil {
		return nil
	}
	return pkg.Ref(idx)
}

// Disassemble returns a full disassembly of bytecode.
func Disassemble(bc []byte, pkg *Package) string {
	r := NewBytecodeReader(bc)
	var lines []string
	for r.HasMore() {
		lines = append(lines, DisassembleInstruction(r, pkg))
	}
	return strings.Join(lines, "\n")
}
