package vm

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/tliron/commonlog"
)

// ---------------------------------------------------------------------------
// Machine: the VavoomC virtual machine
// ---------------------------------------------------------------------------

// DefaultMaxCallDepth bounds nested script calls.
const DefaultMaxCallDepth = 1024

// ErrMissingNative is returned by Link when a native method has no host
// implementation registered under its qualified name.
var ErrMissingNative = errors.New("native function not registered")

// NativeFunc implements a native method. It pops its arguments from the
// machine stack in reverse order and pushes its result, if any.
type NativeFunc func(m *Machine)

// CallFrame is the execution state of one script method invocation.
type CallFrame struct {
	Method *Method
	Locals []Value
	IP     int // offset of the instruction being executed
	BP     int // stack height on entry, after the arguments were moved out

	pkg *Package
}

// Machine executes compiled packages. A Machine is single threaded; natives
// may call back into script code through Call.
type Machine struct {
	// Out receives print output.
	Out io.Writer
	// MaxCallDepth limits recursion; exceeding it is a runtime error.
	MaxCallDepth int

	natives map[string]NativeFunc
	linked  map[*Package]bool

	stack  []Value
	frames []*CallFrame

	log commonlog.Logger
}

// NewMachine creates a machine with the builtin natives registered.
func NewMachine() *Machine {
	m := &Machine{
		Out:          os.Stdout,
		MaxCallDepth: DefaultMaxCallDepth,
		natives:      make(map[string]NativeFunc),
		linked:       make(map[*Package]bool),
		stack:        make([]Value, 0, 256),
		log:          commonlog.GetLogger("vavoomc.vm"),
	}
	registerBuiltins(m)
	return m
}

// RegisterNative binds fn to the native method with the given qualified
// name, e.g. "Object.print". Registering a name twice replaces the binding.
func (m *Machine) RegisterNative(name string, fn NativeFunc) {
	m.natives[name] = fn
}

// Link binds every native method of pkg and its imports to its host
// implementation. A native method without one is a link error.
func (m *Machine) Link(pkg *Package) error {
	if m.linked[pkg] {
		return nil
	}
	m.linked[pkg] = true
	for _, imp := range pkg.Imports {
		if err := m.Link(imp); err != nil {
			return err
		}
	}
	bound := 0
	for _, c := range pkg.Classes {
		for _, meth := range c.Methods {
			if !meth.IsNative() {
				continue
			}
			name := QualifiedName(meth)
			fn, ok := m.natives[name]
			if !ok {
				delete(m.linked, pkg)
				return fmt.Errorf("%w: %s", ErrMissingNative, name)
			}
			meth.Native = fn
			bound++
		}
	}
	m.log.Debugf("linked package %s (%d natives)", pkg.Name, bound)
	return nil
}

// ---------------------------------------------------------------------------
// Runtime errors
// ---------------------------------------------------------------------------

// RuntimeError is a fatal fault raised while bytecode runs. Stack holds
// the script call stack, innermost frame first.
type RuntimeError struct {
	Msg   string
	Stack []string
}

func (e *RuntimeError) Error() string {
	if len(e.Stack) == 0 {
		return e.Msg
	}
	return e.Msg + "\n\t" + strings.Join(e.Stack, "\n\t")
}

// Fatalf aborts the running script with a RuntimeError. It never returns.
func (m *Machine) Fatalf(format string, args ...any) {
	panic(&RuntimeError{Msg: fmt.Sprintf(format, args...), Stack: m.CallStack()})
}

// CallStack describes the active frames, innermost first.
func (m *Machine) CallStack() []string {
	out := make([]string, 0, len(m.frames))
	for i := len(m.frames) - 1; i >= 0; i-- {
		f := m.frames[i]
		loc := f.Method.Location
		loc.Line = f.Method.LineFor(f.IP)
		loc.Column = 0
		out = append(out, fmt.Sprintf("%s (%s:%d)", QualifiedName(f.Method), loc.File, loc.Line))
	}
	return out
}

// Depth returns the number of active script frames.
func (m *Machine) Depth() int { return len(m.frames) }

// ---------------------------------------------------------------------------
// Entry points
// ---------------------------------------------------------------------------

// Call runs method with the given argument slots. For non-static methods
// args[0] is self. The returned slice holds the return value's slots.
// Any fault inside the call is returned as a *RuntimeError and the machine
// is reset to its state before the call.
func (m *Machine) Call(method *Method, args ...Value) (result []Value, err error) {
	if method.IsNative() && method.Native == nil {
		return nil, fmt.Errorf("%w: %s", ErrMissingNative, QualifiedName(method))
	}
	if !method.IsVarArgs() && len(args) != method.ParamsSize {
		return nil, fmt.Errorf("%s expects %d argument slots, got %d",
			QualifiedName(method), method.ParamsSize, len(args))
	}
	height := len(m.stack)
	depth := len(m.frames)
	defer func() {
		if r := recover(); r != nil {
			rerr, ok := r.(*RuntimeError)
			if !ok {
				rerr = &RuntimeError{Msg: fmt.Sprint(r), Stack: m.CallStack()}
			}
			m.log.Errorf("runtime error: %s", rerr.Msg)
			m.stack = m.stack[:height]
			m.frames = m.frames[:depth]
			result, err = nil, rerr
		}
	}()
	m.stack = append(m.stack, args...)
	m.invoke(method)
	n := method.ReturnType.GetStackSize()
	if len(m.stack) != height+n {
		m.Fatalf("%s left %d slots on the stack, want %d", QualifiedName(method), len(m.stack)-height, n)
	}
	result = append([]Value(nil), m.stack[height:]...)
	m.stack = m.stack[:height]
	return result, nil
}

// Spawn creates an object of class c initialised from its defaults.
func (m *Machine) Spawn(c *Class) (*Object, error) {
	if c == nil {
		return nil, errors.New("cannot spawn none")
	}
	if c.IsAbstract() {
		return nil, fmt.Errorf("cannot spawn abstract class %s", c.Name)
	}
	return NewObject(c), nil
}

// invoke calls method with its arguments already on the stack.
func (m *Machine) invoke(method *Method) {
	if !method.IsStatic() {
		if len(m.stack) < method.ParamsSize {
			m.Fatalf("Stack underflow calling %s", QualifiedName(method))
		}
		if m.stack[len(m.stack)-method.ParamsSize].AsObject() == nil {
			m.Fatalf("Reference not set to an instance of an object calling %s", QualifiedName(method))
		}
	}
	if method.IsNative() {
		m.callNative(method)
		return
	}
	if len(m.frames) >= m.MaxCallDepth {
		m.Fatalf("Call stack overflow calling %s", QualifiedName(method))
	}
	size := max(method.NumLocals, method.ParamsSize)
	locals := make([]Value, size)
	base := len(m.stack) - method.ParamsSize
	if base < 0 {
		m.Fatalf("Stack underflow calling %s", QualifiedName(method))
	}
	copy(locals, m.stack[base:])
	m.stack = m.stack[:base]
	frame := &CallFrame{Method: method, Locals: locals, BP: base, pkg: PackageOf(method)}
	m.frames = append(m.frames, frame)
	m.run(frame)
	m.frames = m.frames[:len(m.frames)-1]
}

func (m *Machine) callNative(method *Method) {
	if method.Native == nil {
		m.Fatalf("Native function %s is not linked", QualifiedName(method))
	}
	if method.IsVarArgs() {
		method.Native(m)
		return
	}
	want := len(m.stack) - method.ParamsSize + method.ReturnType.GetStackSize()
	method.Native(m)
	if len(m.stack) != want {
		m.Fatalf("Native %s left the stack unbalanced", QualifiedName(method))
	}
}
