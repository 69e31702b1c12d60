package compiler

import (
	"math"
	"slices"

	"github.com/chazu/vavoomc/vm"
)

// ---------------------------------------------------------------------------
// EmitContext: code generation session for one method body
// ---------------------------------------------------------------------------

// MaxLocalSlots bounds the frame of a single method.
const MaxLocalSlots = 1024

// Label is a forward-reference handle for a code position.
type Label int

// LocalDef is a local variable or parameter slot.
type LocalDef struct {
	Name   string
	Type   vm.FieldType
	Offset int
	Size   int
	Loc    vm.Location
	Flags  vm.ParamFlags // out/ref parameters hold a pointer
	Reused bool          // slots taken over from an exited sibling scope

	visible   bool
	reusable  bool
	compIndex int
}

// ByRef reports whether the slot holds a pointer to the variable.
func (l *LocalDef) ByRef() bool { return l.Flags&(vm.ParamOut|vm.ParamRef) != 0 }

type fixup struct {
	pos   int // offset of the 32-bit operand
	label Label
}

// finalizer is code that must run when control leaves the scope that
// registered it. owners are the targets of the loop that registered a
// loop finalizer.
type finalizer struct {
	emit   func(ec *EmitContext)
	owners []*JumpTarget
}

// JumpTargetKind tells break targets from continue targets.
type JumpTargetKind int

const (
	BreakTarget JumpTargetKind = iota
	ContinueTarget
)

// JumpTarget is the destination of break or continue for one loop or
// switch. It remembers how many finalizers were live when it was defined.
type JumpTarget struct {
	Kind  JumpTargetKind
	label Label
	depth int
	ec    *EmitContext
}

// GetLabel emits the finalizers registered after t, except t's own loop
// finalizers, and returns the label to jump to.
func (t *JumpTarget) GetLabel() Label {
	t.ec.emitFinalizersDownTo(t.depth, t)
	return t.label
}

// GetLabelNoFinalizers returns the label without emitting anything.
func (t *JumpTarget) GetLabelNoFinalizers() Label { return t.label }

// Mark binds the target's label to the current position.
func (t *JumpTarget) Mark() { t.ec.MarkLabel(t.label) }

// EmitContext carries the state of resolving and emitting one method:
// locals, labels and fixups, finalizers and jump targets.
type EmitContext struct {
	c       *Compiler
	Package *vm.Package
	Class   *vm.Class
	Method  *vm.Method

	// ReturnType is the declared return type of Method.
	ReturnType vm.FieldType

	// InDefaultProperties is set while evaluating a defaultproperties block.
	InDefaultProperties bool

	// assignTarget is set while the left side of an assignment resolves,
	// where write-only properties are allowed.
	assignTarget bool

	code   *vm.BytecodeBuilder
	labels []int
	fixups []fixup

	locals      []*LocalDef
	localsSize  int
	maxLocals   int
	compIndex   int
	loopDepth   int
	switchDepth int

	// inScopeExit counts the scope(exit) bodies being resolved.
	inScopeExit int

	fins    []finalizer
	targets []*JumpTarget
}

// NewEmitContext creates a context for method m of class cls. m may be
// nil for constant evaluation outside any method.
func NewEmitContext(c *Compiler, cls *vm.Class, m *vm.Method) *EmitContext {
	ec := &EmitContext{
		c:       c,
		Package: c.pkg,
		Class:   cls,
		Method:  m,
		code:    vm.NewBytecodeBuilder(),
	}
	if m != nil {
		ec.ReturnType = m.ReturnType
	}
	return ec
}

// Errorf records a diagnostic against the compilation.
func (ec *EmitContext) Errorf(loc vm.Location, format string, args ...any) {
	ec.c.diags.Errorf(loc, format, args...)
}

// Warnf records a warning.
func (ec *EmitContext) Warnf(loc vm.Location, format string, args ...any) {
	ec.c.diags.Warnf(loc, format, args...)
}

// IsStatic reports whether the method being compiled has no self.
func (ec *EmitContext) IsStatic() bool {
	return ec.Method == nil || ec.Method.IsStatic()
}

// ---------------------------------------------------------------------------
// Locals
// ---------------------------------------------------------------------------

// DeclareParams creates the parameter slots of Method, self first.
func (ec *EmitContext) DeclareParams() {
	if ec.Method == nil {
		return
	}
	if !ec.Method.IsStatic() {
		ec.localsSize = 1
	}
	for _, p := range ec.Method.Params {
		l := &LocalDef{
			Name:    p.Name,
			Type:    p.Type,
			Offset:  ec.localsSize,
			Size:    p.StackSize(),
			Loc:     p.Location,
			Flags:   p.Flags,
			visible: true,
		}
		ec.locals = append(ec.locals, l)
		ec.localsSize += l.Size
	}
	ec.maxLocals = ec.localsSize
}

// AllocLocal reserves a slot range for a new local that is visible by
// name until its compound exits. A reusable slot left behind by an exited
// sibling scope is taken when its type is compatible: an exact size match
// wins, otherwise the smallest slot that fits.
func (ec *EmitContext) AllocLocal(name string, t vm.FieldType, loc vm.Location) *LocalDef {
	size := t.GetStackSize()
	best, bestWaste := -1, math.MaxInt
	for i, l := range ec.locals {
		if !l.reusable || l.visible || !replaceable(l.Type, t) || l.Size < size {
			continue
		}
		if l.Size == size {
			best = i
			break
		}
		if waste := l.Size - size; waste < bestWaste {
			best, bestWaste = i, waste
		}
	}
	if best >= 0 {
		old := ec.locals[best]
		old.reusable = false
		l := &LocalDef{
			Name:      name,
			Type:      t,
			Offset:    old.Offset,
			Size:      old.Size,
			Loc:       loc,
			visible:   true,
			compIndex: ec.compIndex,
			Reused:    true,
		}
		ec.locals = append(ec.locals, l)
		return l
	}

	l := &LocalDef{
		Name:      name,
		Type:      t,
		Offset:    ec.localsSize,
		Size:      size,
		Loc:       loc,
		visible:   true,
		compIndex: ec.compIndex,
	}
	ec.locals = append(ec.locals, l)
	ec.localsSize += size
	if ec.localsSize > MaxLocalSlots {
		ec.Errorf(loc, "Too many local variables (more than %d slots)", MaxLocalSlots)
	}
	ec.maxLocals = max(ec.maxLocals, ec.localsSize)
	return l
}

// replaceable reports whether a slot last holding old may hold t. Slots
// are retyped freely except that a delegate or pointer slot is only
// shared with the same kind.
func replaceable(old, t vm.FieldType) bool {
	switch {
	case old.Kind == vm.TypeDelegate || t.Kind == vm.TypeDelegate:
		return old.Kind == t.Kind
	case old.Kind == vm.TypePointer || t.Kind == vm.TypePointer:
		return old.Kind == t.Kind
	}
	return true
}

// FindLocal returns the innermost visible local called name.
func (ec *EmitContext) FindLocal(name string) *LocalDef {
	for i := len(ec.locals) - 1; i >= 0; i-- {
		if l := ec.locals[i]; l.visible && l.Name == name {
			return l
		}
	}
	return nil
}

// EnterCompound opens a lexical scope and returns its index.
func (ec *EmitContext) EnterCompound(loop bool) int {
	ec.compIndex++
	if loop {
		ec.loopDepth++
	}
	return ec.compIndex
}

// ExitCompound closes the scope opened by EnterCompound. Its locals stop
// being visible and their slots become reusable by later siblings.
func (ec *EmitContext) ExitCompound(idx int, loop bool) {
	if idx != ec.compIndex || idx < 1 {
		internalf("unbalanced compounds (%d, expected %d)", idx, ec.compIndex)
	}
	for _, l := range ec.locals {
		if l.compIndex == idx && l.visible {
			l.visible = false
			l.reusable = true
			l.compIndex = -1
		}
	}
	if loop {
		ec.loopDepth--
	}
	ec.compIndex--
}

// InLoop reports whether resolution is inside a loop body.
func (ec *EmitContext) InLoop() bool { return ec.loopDepth > 0 }

// CanBreak reports whether resolution is inside a loop or switch.
func (ec *EmitContext) CanBreak() bool { return ec.loopDepth > 0 || ec.switchDepth > 0 }

// FrameSize returns the number of slots the method frame needs.
func (ec *EmitContext) FrameSize() int { return ec.maxLocals }

// ---------------------------------------------------------------------------
// Labels
// ---------------------------------------------------------------------------

// DefineLabel creates an unmarked label.
func (ec *EmitContext) DefineLabel() Label {
	ec.labels = append(ec.labels, -1)
	return Label(len(ec.labels) - 1)
}

// MarkLabel binds l to the current code position.
func (ec *EmitContext) MarkLabel(l Label) {
	if int(l) < 0 || int(l) >= len(ec.labels) {
		internalf("marking undefined label %d", l)
	}
	if ec.labels[l] >= 0 {
		internalf("label %d marked twice", l)
	}
	ec.labels[l] = ec.code.Len()
}

// IsMarked reports whether l has been bound.
func (ec *EmitContext) IsMarked(l Label) bool { return ec.labels[l] >= 0 }

// EndCode patches every jump, appends the final Done and returns the
// method's instruction stream. Finalizers and jump targets must be
// balanced and every referenced label marked.
func (ec *EmitContext) EndCode() []byte {
	if len(ec.fins) != 0 {
		internalf("unbalanced finalizers")
	}
	if len(ec.targets) != 0 {
		internalf("unbalanced break/continue targets")
	}
	for _, f := range ec.fixups {
		pos := ec.labels[f.label]
		if pos < 0 {
			internalf("Label was not marked")
		}
		ec.code.PatchUint32(f.pos, uint32(pos))
	}
	ec.fixups = nil
	ec.code.Emit(vm.OpDone)
	return ec.code.Bytes()
}

// ---------------------------------------------------------------------------
// Instruction emission
// ---------------------------------------------------------------------------

// Pos returns the current code offset.
func (ec *EmitContext) Pos() int { return ec.code.Len() }

// MarkLine records that code emitted from here belongs to loc's line.
func (ec *EmitContext) MarkLine(loc vm.Location) {
	if ec.Method != nil && loc.IsValid() {
		ec.Method.AddLine(ec.code.Len(), loc.Line)
	}
}

func (ec *EmitContext) Emit(op vm.Opcode)                 { ec.code.Emit(op) }
func (ec *EmitContext) EmitByte(op vm.Opcode, v int)      { ec.code.EmitByte(op, byte(v)) }
func (ec *EmitContext) EmitUint16(op vm.Opcode, v int)    { ec.code.EmitUint16(op, uint16(v)) }
func (ec *EmitContext) EmitInt(op vm.Opcode, v int32)     { ec.code.EmitInt32(op, v) }
func (ec *EmitContext) EmitFloat(op vm.Opcode, v float32) { ec.code.EmitFloat32(op, v) }

// EmitPushNumber pushes an integer constant.
func (ec *EmitContext) EmitPushNumber(v int32) { ec.code.EmitInt32(vm.OpPushNumber, v) }

// EmitPooled emits op with s interned in the package string pool.
func (ec *EmitContext) EmitPooled(op vm.Opcode, s string) {
	ec.code.EmitInt32(op, int32(ec.Package.Strings.FindString(s)))
}

// EmitRef emits op with m's reference-table index.
func (ec *EmitContext) EmitRef(op vm.Opcode, m vm.Member) {
	ec.code.EmitUint16(op, uint16(ec.Package.RefIndex(m)))
}

// EmitJump emits a jump to l; the target is patched by EndCode.
func (ec *EmitContext) EmitJump(op vm.Opcode, l Label) {
	ec.code.Emit(op)
	ec.addFixup(l)
}

// EmitCaseGoto emits a case dispatch on value to l.
func (ec *EmitContext) EmitCaseGoto(value int32, l Label) {
	ec.code.Emit(vm.OpCaseGoto)
	ec.code.AppendUint32(uint32(value))
	ec.addFixup(l)
}

func (ec *EmitContext) addFixup(l Label) {
	ec.fixups = append(ec.fixups, fixup{pos: ec.code.Len(), label: l})
	ec.code.AppendUint32(0xffffffff)
}

// EmitArrayElement indexes a static array of length elements of size
// slots.
func (ec *EmitContext) EmitArrayElement(size, length int) {
	ec.code.EmitUint16(vm.OpArrayElement, uint16(size))
	ec.code.AppendUint32(uint32(length))
}

// EmitArray2DIndex folds two indexes into a linear one.
func (ec *EmitContext) EmitArray2DIndex(d0, d1 int) {
	ec.code.EmitUint16(vm.OpArray2DIndex, uint16(d0))
	ec.code.AppendUint16(uint16(d1))
}

// EmitLoad reads a value of type t through the pointer on the stack.
func (ec *EmitContext) EmitLoad(t vm.FieldType) {
	if t.BitMask != 0 {
		ec.code.EmitInt32(vm.OpLoadBool, int32(t.BitMask))
		return
	}
	ec.code.EmitByte(vm.OpLoad, byte(t.GetStackSize()))
}

// EmitStore stores a value of type t through the pointer beneath it.
func (ec *EmitContext) EmitStore(t vm.FieldType) {
	if t.BitMask != 0 {
		ec.code.EmitInt32(vm.OpAssignBool, int32(t.BitMask))
		return
	}
	ec.code.EmitByte(vm.OpAssignDrop, byte(t.GetStackSize()))
}

// EmitDrop discards a value of type t.
func (ec *EmitContext) EmitDrop(t vm.FieldType) {
	if n := t.GetStackSize(); n > 0 {
		ec.code.EmitByte(vm.OpDrop, byte(n))
	}
}

// EmitLocalAddress pushes a pointer to local l. For by-reference
// parameters this is the pointer stored in the slot.
func (ec *EmitContext) EmitLocalAddress(l *LocalDef) {
	if l.ByRef() {
		ec.code.EmitUint16(vm.OpLocalValue, uint16(l.Offset))
		return
	}
	ec.code.EmitUint16(vm.OpLocalAddress, uint16(l.Offset))
}

// EmitLocalValue pushes the value of local l.
func (ec *EmitContext) EmitLocalValue(l *LocalDef) {
	if !l.ByRef() && l.Type.GetStackSize() == 1 {
		ec.code.EmitUint16(vm.OpLocalValue, uint16(l.Offset))
		return
	}
	ec.EmitLocalAddress(l)
	ec.EmitLoad(l.Type)
}

// EmitClearLocal zeroes the slots of l.
func (ec *EmitContext) EmitClearLocal(l *LocalDef) {
	if l.Size == 0 {
		return
	}
	ec.EmitLocalAddress(l)
	ec.code.EmitByte(vm.OpClearPointed, byte(l.Size))
}

// ---------------------------------------------------------------------------
// Finalizers
// ---------------------------------------------------------------------------

// FinalizerDepth returns the number of live finalizers.
func (ec *EmitContext) FinalizerDepth() int { return len(ec.fins) }

// RegisterFinalizer pushes code to run when the current scope is left.
func (ec *EmitContext) RegisterFinalizer(emit func(ec *EmitContext)) {
	ec.fins = append(ec.fins, finalizer{emit: emit})
}

// RegisterLoopFinalizer pushes a finalizer owned by a loop's break and
// continue targets. It runs when the loop is left by return, but not for
// the loop's own break or continue.
func (ec *EmitContext) RegisterLoopFinalizer(emit func(ec *EmitContext), owners ...*JumpTarget) {
	ec.fins = append(ec.fins, finalizer{emit: emit, owners: owners})
}

// EmitFinalizers emits every live finalizer, innermost first. It is used
// by return.
func (ec *EmitContext) EmitFinalizers() {
	ec.emitFinalizersDownTo(0, nil)
}

func (ec *EmitContext) emitFinalizersDownTo(depth int, skip *JumpTarget) {
	for i := len(ec.fins) - 1; i >= depth; i-- {
		f := ec.fins[i]
		if skip != nil && slices.Contains(f.owners, skip) {
			continue
		}
		f.emit(ec)
	}
}

// PopFinalizersTo drops finalizers above depth. With emit set their code
// is emitted first, innermost first, for a normal scope exit.
func (ec *EmitContext) PopFinalizersTo(depth int, emit bool) {
	if depth > len(ec.fins) {
		internalf("finalizer depth %d above %d", depth, len(ec.fins))
	}
	if emit {
		ec.emitFinalizersDownTo(depth, nil)
	}
	ec.fins = ec.fins[:depth]
}

// ---------------------------------------------------------------------------
// Break and continue
// ---------------------------------------------------------------------------

func (ec *EmitContext) defineTarget(kind JumpTargetKind) *JumpTarget {
	t := &JumpTarget{Kind: kind, label: ec.DefineLabel(), depth: len(ec.fins), ec: ec}
	ec.targets = append(ec.targets, t)
	return t
}

// DefineBreak pushes a break target for a loop or switch.
func (ec *EmitContext) DefineBreak() *JumpTarget { return ec.defineTarget(BreakTarget) }

// DefineContinue pushes a continue target for a loop.
func (ec *EmitContext) DefineContinue() *JumpTarget { return ec.defineTarget(ContinueTarget) }

// PopTarget removes t, which must be the innermost target.
func (ec *EmitContext) PopTarget(t *JumpTarget) {
	n := len(ec.targets)
	if n == 0 || ec.targets[n-1] != t {
		internalf("unbalanced break/continue targets")
	}
	ec.targets = ec.targets[:n-1]
}

func (ec *EmitContext) innermost(kind JumpTargetKind) *JumpTarget {
	for i := len(ec.targets) - 1; i >= 0; i-- {
		if ec.targets[i].Kind == kind {
			return ec.targets[i]
		}
	}
	return nil
}

// EmitBreak jumps to the innermost break target, running the finalizers
// of the scopes being left. It reports false when there is no target.
func (ec *EmitContext) EmitBreak(loc vm.Location) bool {
	t := ec.innermost(BreakTarget)
	if t == nil {
		ec.Errorf(loc, "Misplaced `break` statement")
		return false
	}
	ec.EmitJump(vm.OpGoto, t.GetLabel())
	return true
}

// EmitContinue jumps to the innermost continue target.
func (ec *EmitContext) EmitContinue(loc vm.Location) bool {
	t := ec.innermost(ContinueTarget)
	if t == nil {
		ec.Errorf(loc, "Misplaced `continue` statement")
		return false
	}
	ec.EmitJump(vm.OpGoto, t.GetLabel())
	return true
}
