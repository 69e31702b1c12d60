package compiler

import (
	"encoding/binary"
	"slices"
	"testing"

	"github.com/chazu/vavoomc/vm"
)

func newTestContext(static bool, params ...vm.Param) *EmitContext {
	c := New(Options{Package: "test"})
	m := vm.NewMethod("F", nil, vm.Location{})
	if static {
		m.Flags |= vm.MethodStatic
	}
	m.Params = params
	m.ComputeParamsSize()
	ec := NewEmitContext(c, nil, m)
	ec.DeclareParams()
	return ec
}

// expectInternal runs fn and reports whether it raised an internal
// compiler error.
func expectInternal(t *testing.T, what string, fn func()) {
	t.Helper()
	defer func() {
		t.Helper()
		r := recover()
		if _, ok := r.(*internalError); !ok {
			t.Errorf("%s: recovered %v, want an internal error", what, r)
		}
	}()
	fn()
}

// ---------------------------------------------------------------------------
// Locals
// ---------------------------------------------------------------------------

func TestEmitContextParams(t *testing.T) {
	ec := newTestContext(false,
		vm.Param{Name: "a", Type: vm.IntType},
		vm.Param{Name: "v", Type: vm.VectorType},
		vm.Param{Name: "out", Type: vm.VectorType, Flags: vm.ParamOut},
	)

	tests := []struct {
		name   string
		offset int
		size   int
	}{
		{"a", 1, 1},
		{"v", 2, 3},
		{"out", 5, 1},
	}
	for _, tc := range tests {
		l := ec.FindLocal(tc.name)
		if l == nil {
			t.Fatalf("param %s not declared", tc.name)
		}
		if l.Offset != tc.offset || l.Size != tc.size {
			t.Errorf("param %s at %d size %d, want %d size %d", tc.name, l.Offset, l.Size, tc.offset, tc.size)
		}
	}
	if !ec.FindLocal("out").ByRef() {
		t.Errorf("out param is not by reference")
	}
	if ec.FrameSize() != 6 {
		t.Errorf("FrameSize() = %d, want 6", ec.FrameSize())
	}
}

func TestEmitContextLocalReuse(t *testing.T) {
	ec := newTestContext(true)

	outer := ec.EnterCompound(false)
	keep := ec.AllocLocal("keep", vm.IntType, vm.Location{})

	inner := ec.EnterCompound(false)
	a := ec.AllocLocal("a", vm.VectorType, vm.Location{})
	ec.ExitCompound(inner, false)
	if ec.FindLocal("a") != nil {
		t.Errorf("a still visible after its scope closed")
	}

	inner = ec.EnterCompound(false)
	b := ec.AllocLocal("b", vm.FloatType, vm.Location{})
	c := ec.AllocLocal("c", vm.NullType, vm.Location{})
	ec.ExitCompound(inner, false)
	ec.ExitCompound(outer, false)

	if keep.Offset != 0 || a.Offset != 1 {
		t.Errorf("offsets keep=%d a=%d, want 0 and 1", keep.Offset, a.Offset)
	}
	if !b.Reused || b.Offset != a.Offset {
		t.Errorf("b at %d reused=%v, want the slots of a at %d", b.Offset, b.Reused, a.Offset)
	}
	if c.Reused {
		t.Errorf("pointer local took a non-pointer slot")
	}
	if c.Offset != 4 {
		t.Errorf("c at %d, want 4", c.Offset)
	}
	if ec.FrameSize() != 5 {
		t.Errorf("FrameSize() = %d, want 5", ec.FrameSize())
	}
}

func TestEmitContextShadowing(t *testing.T) {
	ec := newTestContext(true, vm.Param{Name: "x", Type: vm.IntType})

	idx := ec.EnterCompound(false)
	inner := ec.AllocLocal("x", vm.FloatType, vm.Location{})
	if got := ec.FindLocal("x"); got != inner {
		t.Errorf("FindLocal(x) = %+v, want the inner local", got)
	}
	ec.ExitCompound(idx, false)
	if got := ec.FindLocal("x"); got == nil || got.Type.Kind != vm.TypeInt {
		t.Errorf("FindLocal(x) after scope = %+v, want the int parameter", got)
	}
}

func TestEmitContextUnbalancedCompound(t *testing.T) {
	ec := newTestContext(true)
	a := ec.EnterCompound(false)
	ec.EnterCompound(false)
	expectInternal(t, "ExitCompound out of order", func() { ec.ExitCompound(a, false) })
}

// ---------------------------------------------------------------------------
// Labels
// ---------------------------------------------------------------------------

func TestEmitContextLabels(t *testing.T) {
	ec := newTestContext(true)

	fwd := ec.DefineLabel()
	back := ec.DefineLabel()
	ec.MarkLabel(back)
	ec.EmitJump(vm.OpGoto, fwd)  // 0: GOTO fwd
	ec.EmitJump(vm.OpGoto, back) // 5: GOTO back
	ec.Emit(vm.OpDrop)           // 10
	ec.MarkLabel(fwd)            // 11
	if !ec.IsMarked(fwd) {
		t.Errorf("fwd not marked")
	}

	code := ec.EndCode()
	if len(code) != 12 {
		t.Fatalf("code length = %d, want 12", len(code))
	}
	if got := binary.LittleEndian.Uint32(code[1:]); got != 11 {
		t.Errorf("forward jump target = %d, want 11", got)
	}
	if got := binary.LittleEndian.Uint32(code[6:]); got != 0 {
		t.Errorf("backward jump target = %d, want 0", got)
	}
	if vm.Opcode(code[11]) != vm.OpDone {
		t.Errorf("last opcode = %#x, want Done", code[11])
	}
}

func TestEmitContextLabelErrors(t *testing.T) {
	ec := newTestContext(true)
	l := ec.DefineLabel()
	ec.MarkLabel(l)
	expectInternal(t, "marking twice", func() { ec.MarkLabel(l) })

	ec = newTestContext(true)
	ec.EmitJump(vm.OpGoto, ec.DefineLabel())
	expectInternal(t, "unmarked label", func() { ec.EndCode() })

	ec = newTestContext(true)
	expectInternal(t, "undefined label", func() { ec.MarkLabel(Label(3)) })
}

// ---------------------------------------------------------------------------
// Finalizers and jump targets
// ---------------------------------------------------------------------------

func TestEmitContextFinalizers(t *testing.T) {
	ec := newTestContext(true)
	var order []string
	fin := func(name string) func(*EmitContext) {
		return func(*EmitContext) { order = append(order, name) }
	}

	ec.RegisterFinalizer(fin("outer"))
	brk := ec.DefineBreak()
	cont := ec.DefineContinue()
	ec.RegisterLoopFinalizer(fin("loop"), brk, cont)
	ec.RegisterFinalizer(fin("body"))

	ec.EmitBreak(vm.Location{})
	if want := []string{"body"}; !slices.Equal(order, want) {
		t.Errorf("break ran %v, want %v", order, want)
	}

	order = nil
	ec.EmitFinalizers()
	if want := []string{"body", "loop", "outer"}; !slices.Equal(order, want) {
		t.Errorf("return ran %v, want %v", order, want)
	}

	order = nil
	ec.PopFinalizersTo(1, true)
	if want := []string{"body", "loop"}; !slices.Equal(order, want) {
		t.Errorf("scope exit ran %v, want %v", order, want)
	}
	if ec.FinalizerDepth() != 1 {
		t.Errorf("FinalizerDepth() = %d, want 1", ec.FinalizerDepth())
	}

	brk.Mark()
	ec.PopTarget(cont)
	ec.PopTarget(brk)
	ec.PopFinalizersTo(0, false)
	ec.EndCode()
}

func TestEmitContextTargetErrors(t *testing.T) {
	ec := newTestContext(true)
	if ec.EmitContinue(vm.Location{}) {
		t.Errorf("EmitContinue succeeded without a loop")
	}
	if !ec.c.diags.HasErrors() {
		t.Errorf("no diagnostic for a misplaced continue")
	}

	brk := ec.DefineBreak()
	ec.DefineContinue()
	expectInternal(t, "popping an outer target", func() { ec.PopTarget(brk) })

	ec = newTestContext(true)
	ec.DefineBreak()
	expectInternal(t, "EndCode with a live target", func() { ec.EndCode() })

	ec = newTestContext(true)
	ec.RegisterFinalizer(func(*EmitContext) {})
	expectInternal(t, "EndCode with a live finalizer", func() { ec.EndCode() })
}
