package compiler

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/chazu/vavoomc/vm"
)

// compileSource builds src into a package named "test", failing the test
// on any error.
func compileSource(t *testing.T, src string) *vm.Package {
	t.Helper()
	pkg, _, err := Compile(Options{Package: "test"}, Source{Name: "test.vc", Text: src})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	return pkg
}

// compileErrors builds src and returns its diagnostics, failing the test
// when compilation succeeds.
func compileErrors(t *testing.T, src string) []Diagnostic {
	t.Helper()
	_, diags, err := Compile(Options{Package: "test"}, Source{Name: "test.vc", Text: src})
	if err == nil {
		t.Fatalf("compile succeeded, want errors")
	}
	var cerr *CompileError
	if !errors.As(err, &cerr) {
		t.Fatalf("error %T, want *CompileError", err)
	}
	return diags.List()
}

type program struct {
	pkg  *vm.Package
	mach *vm.Machine
	out  *bytes.Buffer
}

func newProgram(t *testing.T, src string) *program {
	t.Helper()
	pkg := compileSource(t, src)
	mach := vm.NewMachine()
	out := &bytes.Buffer{}
	mach.Out = out
	if err := mach.Link(pkg); err != nil {
		t.Fatalf("link: %v", err)
	}
	return &program{pkg: pkg, mach: mach, out: out}
}

func (p *program) method(t *testing.T, class, name string) *vm.Method {
	t.Helper()
	cls := p.pkg.FindClass(class)
	if cls == nil {
		t.Fatalf("class %s not found", class)
	}
	m := cls.FindMethod(name)
	if m == nil {
		t.Fatalf("method %s.%s not found", class, name)
	}
	return m
}

// call runs a static method.
func (p *program) call(t *testing.T, class, name string, args ...vm.Value) []vm.Value {
	t.Helper()
	res, err := p.mach.Call(p.method(t, class, name), args...)
	if err != nil {
		t.Fatalf("%s.%s: %v", class, name, err)
	}
	return res
}

// spawn creates an object of class from its defaults.
func (p *program) spawn(t *testing.T, class string) *vm.Object {
	t.Helper()
	obj, err := p.mach.Spawn(p.pkg.FindClass(class))
	if err != nil {
		t.Fatal(err)
	}
	return obj
}

// send runs a method on obj through its virtual table slot when it has
// one.
func (p *program) send(t *testing.T, obj *vm.Object, name string, args ...vm.Value) []vm.Value {
	t.Helper()
	m := obj.Class.FindMethod(name)
	if m == nil {
		t.Fatalf("method %s not found in %s", name, obj.Class.Name)
	}
	if m.VTableIndex >= 0 {
		m = obj.Class.VTable[m.VTableIndex]
	}
	res, err := p.mach.Call(m, append([]vm.Value{vm.RefValue(obj)}, args...)...)
	if err != nil {
		t.Fatalf("%s: %v", name, err)
	}
	return res
}

func wantInt(t *testing.T, what string, res []vm.Value, want int32) {
	t.Helper()
	if len(res) != 1 {
		t.Fatalf("%s returned %d slots, want 1", what, len(res))
	}
	if res[0].Int != want {
		t.Errorf("%s = %d, want %d", what, res[0].Int, want)
	}
}

// ---------------------------------------------------------------------------
// Expressions and control flow
// ---------------------------------------------------------------------------

func TestCompileArithmetic(t *testing.T) {
	p := newProgram(t, `
class Calc;

static int Add(int a, int b) { return a + b; }
static int Mix(int a, int b) { return a * b - a / b + a % b; }
static int Shift(int a) { return (a << 4) >> 2; }
static int Bits(int a, int b) { return (a & b) | (a ^ b); }
static float Half(float f) { return f / 2.0; }
static int Pick(bool c, int a, int b) { return c ? a : b; }
static int Neg(int a) { return -a; }
`)

	wantInt(t, "Add(2, 3)", p.call(t, "Calc", "Add", vm.IntValue(2), vm.IntValue(3)), 5)
	wantInt(t, "Mix(7, 2)", p.call(t, "Calc", "Mix", vm.IntValue(7), vm.IntValue(2)), 14-3+1)
	wantInt(t, "Shift(3)", p.call(t, "Calc", "Shift", vm.IntValue(3)), 12)
	wantInt(t, "Bits(12, 10)", p.call(t, "Calc", "Bits", vm.IntValue(12), vm.IntValue(10)), 14)
	wantInt(t, "Pick(true)", p.call(t, "Calc", "Pick", vm.IntValue(1), vm.IntValue(4), vm.IntValue(9)), 4)
	wantInt(t, "Pick(false)", p.call(t, "Calc", "Pick", vm.IntValue(0), vm.IntValue(4), vm.IntValue(9)), 9)
	wantInt(t, "Neg(5)", p.call(t, "Calc", "Neg", vm.IntValue(5)), -5)

	res := p.call(t, "Calc", "Half", vm.FloatValue(5))
	if res[0].Float != 2.5 {
		t.Errorf("Half(5) = %v, want 2.5", res[0].Float)
	}
}

func TestCompileLoops(t *testing.T) {
	p := newProgram(t, `
class Loops;

static int ForSum(int n) {
	int sum = 0;
	for (int i = 1; i <= n; i++) {
		sum += i;
	}
	return sum;
}

static int WhileSum(int n) {
	int sum = 0;
	while (n > 0) {
		sum += n;
		n--;
	}
	return sum;
}

static int DoCount(int n) {
	int count = 0;
	do {
		count++;
	} while (count < n);
	return count;
}

static int RangeSum(int n) {
	int sum = 0;
	foreach (i; 0 .. n) {
		sum += i;
	}
	return sum;
}

static int SkipOdd(int n) {
	int sum = 0;
	for (int i = 0; i < n; i++) {
		if (i % 2 == 1) {
			continue;
		}
		if (i > 6) {
			break;
		}
		sum += i;
	}
	return sum;
}

static int Nested() {
	int hits = 0;
	for (int i = 0; i < 3; i++) {
		for (int j = 0; j < 3; j++) {
			if (j == 2) {
				break;
			}
			hits++;
		}
	}
	return hits;
}
`)

	wantInt(t, "ForSum(10)", p.call(t, "Loops", "ForSum", vm.IntValue(10)), 55)
	wantInt(t, "WhileSum(4)", p.call(t, "Loops", "WhileSum", vm.IntValue(4)), 10)
	wantInt(t, "DoCount(0)", p.call(t, "Loops", "DoCount", vm.IntValue(0)), 1)
	wantInt(t, "DoCount(5)", p.call(t, "Loops", "DoCount", vm.IntValue(5)), 5)
	wantInt(t, "RangeSum(5)", p.call(t, "Loops", "RangeSum", vm.IntValue(5)), 10)
	wantInt(t, "SkipOdd(20)", p.call(t, "Loops", "SkipOdd", vm.IntValue(20)), 0+2+4+6)
	wantInt(t, "Nested()", p.call(t, "Loops", "Nested"), 6)
}

func TestCompileSwitch(t *testing.T) {
	p := newProgram(t, `
class Sw;

static int Classify(int v) {
	int r = 0;
	switch (v) {
	case 1:
		r = 10;
		break;
	case 2:
	case 3:
		r = 20;
		break;
	case 4:
		r = 30;
	case 5:
		r += 1;
		break;
	default:
		r = -1;
	}
	return r;
}

static int Returns(int v) {
	switch (v) {
	case 0:
		return 100;
	default:
		return 200;
	}
}

static int Stacked(int v) {
	switch (v) {
	case 1:
		return 1;
	case 2:
	default:
		return 3;
	}
}

static int FallsInto(int v) {
	switch (v) {
	case 1:
		v = 5;
	case 2:
		return v;
	default:
		return 0;
	}
}
`)

	tests := []struct {
		in, want int32
	}{
		{1, 10},
		{2, 20},
		{3, 20},
		{4, 31},
		{5, 1},
		{9, -1},
	}
	for _, tc := range tests {
		wantInt(t, "Classify", p.call(t, "Sw", "Classify", vm.IntValue(tc.in)), tc.want)
	}
	wantInt(t, "Returns(0)", p.call(t, "Sw", "Returns", vm.IntValue(0)), 100)
	wantInt(t, "Returns(7)", p.call(t, "Sw", "Returns", vm.IntValue(7)), 200)
	wantInt(t, "Stacked(1)", p.call(t, "Sw", "Stacked", vm.IntValue(1)), 1)
	wantInt(t, "Stacked(2)", p.call(t, "Sw", "Stacked", vm.IntValue(2)), 3)
	wantInt(t, "Stacked(8)", p.call(t, "Sw", "Stacked", vm.IntValue(8)), 3)
	wantInt(t, "FallsInto(1)", p.call(t, "Sw", "FallsInto", vm.IntValue(1)), 5)
	wantInt(t, "FallsInto(2)", p.call(t, "Sw", "FallsInto", vm.IntValue(2)), 2)
	wantInt(t, "FallsInto(3)", p.call(t, "Sw", "FallsInto", vm.IntValue(3)), 0)
}

func TestCompilePrint(t *testing.T) {
	p := newProgram(t, `
class Hello;

static void Run() {
	print("%d + %d = %d", 1, 2, 3);
	print("%s!", va("hi %s", "there"));
	string s = "ab";
	s ~= "cd";
	print("%s %d", s, s.length);
}
`)

	p.call(t, "Hello", "Run")
	want := "1 + 2 = 3\nhi there!\nabcd 4\n"
	if got := p.out.String(); got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestCompileScopeExit(t *testing.T) {
	p := newProgram(t, `
class Scoped;

static int Run(int n) {
	scope(exit) print("outer");
	for (int i = 0; i < n; i++) {
		scope(exit) print("iteration %d", i);
		if (i == 1) {
			return i;
		}
	}
	return -1;
}
`)

	wantInt(t, "Run(3)", p.call(t, "Scoped", "Run", vm.IntValue(3)), 1)
	want := "iteration 0\niteration 1\nouter\n"
	if got := p.out.String(); got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestCompileScopeExitInnerLoop(t *testing.T) {
	p := newProgram(t, `
class Scoped;

static int Run(int n) {
	while (n < 100) {
		scope(exit) {
			for (int i = 0; i < 10; i++) {
				if (i == 2) {
					break;
				}
				print("cleanup %d", i);
			}
		}
		n++;
		if (n == 2) {
			break;
		}
	}
	return n;
}
`)

	wantInt(t, "Run(0)", p.call(t, "Scoped", "Run", vm.IntValue(0)), 2)
	want := "cleanup 0\ncleanup 1\ncleanup 0\ncleanup 1\n"
	if got := p.out.String(); got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

// ---------------------------------------------------------------------------
// Constants
// ---------------------------------------------------------------------------

func TestCompileConstants(t *testing.T) {
	p := newProgram(t, `
const int Base = 10;
const int Derived = Base * 2 + Offset;
const int Offset = 1;
const float Ratio = 0.5;
const string Greeting = "hi";
enum { First, Second, Tenth = 10, Eleventh }

class Consts;

enum Color { Red, Green, Blue }

static int Sum() { return Derived + Eleventh + Second; }
static int Pick() { return Color::Blue; }
static float R() { return Ratio; }
`)

	wantInt(t, "Sum()", p.call(t, "Consts", "Sum"), 21+11+1)
	wantInt(t, "Pick()", p.call(t, "Consts", "Pick"), 2)
	if res := p.call(t, "Consts", "R"); res[0].Float != 0.5 {
		t.Errorf("R() = %v, want 0.5", res[0].Float)
	}

	k := p.pkg.FindConstant("Greeting")
	if k == nil || k.StrValue != "hi" || k.Type.Kind != vm.TypeString {
		t.Errorf("Greeting = %+v, want string hi", k)
	}
}

func TestCompileConstantCycle(t *testing.T) {
	diags := compileErrors(t, `
const int A = B + 1;
const int B = A + 1;
class Cyc;
`)
	found := false
	for _, d := range diags {
		if strings.Contains(d.Message, "depends on itself") {
			found = true
		}
	}
	if !found {
		t.Errorf("diagnostics %v, want a dependency cycle", diags)
	}
}

// ---------------------------------------------------------------------------
// Classes
// ---------------------------------------------------------------------------

func TestCompileFieldsAndDefaults(t *testing.T) {
	p := newProgram(t, `
class Actor;

int Health = 100;
float Speed;
bool bSolid;
bool bShootable;
name Tag;

int GetHealth() { return Health; }
void Hurt(int amount) { Health -= amount; }

defaultproperties {
	Speed = 2.5;
	bShootable = true;
	Tag = 'Actor';
}

class Imp : Actor;

defaultproperties {
	Health = 60;
}
`)

	actor := p.pkg.FindClass("Actor")
	imp := p.pkg.FindClass("Imp")
	if imp.Parent != actor {
		t.Fatalf("Imp parent = %v, want Actor", imp.Parent)
	}
	if actor.Parent == nil || actor.Parent.Name != "Object" {
		t.Errorf("Actor parent = %v, want Object", actor.Parent)
	}

	a := p.spawn(t, "Actor")
	wantInt(t, "Actor health", p.send(t, a, "GetHealth"), 100)
	p.send(t, a, "Hurt", vm.IntValue(30))
	wantInt(t, "Actor health after Hurt", p.send(t, a, "GetHealth"), 70)

	i := p.spawn(t, "Imp")
	wantInt(t, "Imp health", p.send(t, i, "GetHealth"), 60)

	speed := actor.FindField("Speed")
	if v := imp.Defaults[speed.Offset].Float; v != 2.5 {
		t.Errorf("Imp default Speed = %v, want 2.5", v)
	}
	tag := actor.FindField("Tag")
	if v := actor.Defaults[tag.Offset].Str; v != "Actor" {
		t.Errorf("Actor default Tag = %q, want Actor", v)
	}
	solid, shoot := actor.FindField("bSolid"), actor.FindField("bShootable")
	if solid.Offset != shoot.Offset || solid.Type.BitMask == shoot.Type.BitMask {
		t.Errorf("bool fields not packed: %d/%#x %d/%#x", solid.Offset, solid.Type.BitMask, shoot.Offset, shoot.Type.BitMask)
	}
	if got := actor.Defaults[shoot.Offset].Int; got != int32(shoot.Type.BitMask) {
		t.Errorf("packed bool slot = %#x, want %#x", got, shoot.Type.BitMask)
	}
}

func TestCompileVirtualDispatch(t *testing.T) {
	p := newProgram(t, `
class Base;

int Value() { return 1; }
int Twice() { return Value() * 2; }

class Derived : Base;

override int Value() { return 5; }
int Plain() { return super.Value(); }

class User;

static int Ask(Base b) { return b.Twice(); }
`)

	base := p.spawn(t, "Base")
	derived := p.spawn(t, "Derived")
	wantInt(t, "Ask(base)", p.call(t, "User", "Ask", vm.RefValue(base)), 2)
	wantInt(t, "Ask(derived)", p.call(t, "User", "Ask", vm.RefValue(derived)), 10)
	wantInt(t, "derived.Plain()", p.send(t, derived, "Plain"), 1)

	bm := p.pkg.FindClass("Base").FindMethod("Value")
	dm := p.pkg.FindClass("Derived").FindMethod("Value")
	if bm.VTableIndex < 0 || bm.VTableIndex != dm.VTableIndex {
		t.Errorf("vtable slots = %d, %d, want the same slot", bm.VTableIndex, dm.VTableIndex)
	}
}

func TestCompileSpawnAndCast(t *testing.T) {
	p := newProgram(t, `
class Monster;

int Kind() { return 1; }

class Imp : Monster;

override int Kind() { return 2; }

class Game;

static int Make(class!Monster c) {
	Monster m = Monster(SpawnObject(c));
	if (!m) {
		return 0;
	}
	Imp i = Imp(m);
	if (i) {
		return 10 + i.Kind();
	}
	return m.Kind();
}
`)

	monster := p.pkg.FindClass("Monster")
	imp := p.pkg.FindClass("Imp")
	wantInt(t, "Make(Monster)", p.call(t, "Game", "Make", vm.ClassValue(monster)), 1)
	wantInt(t, "Make(Imp)", p.call(t, "Game", "Make", vm.ClassValue(imp)), 12)
}

func TestCompileProperties(t *testing.T) {
	p := newProgram(t, `
class Box;

int RawWidth;
int Width { get RawWidth; set RawWidth; }
int Area {
	get { return RawWidth * RawWidth; }
}
int Half {
	get { return RawWidth / 2; }
	set(v) { RawWidth = v * 2; }
}

int Run() {
	Width = 4;
	int a = Area;
	Half = 5;
	return a * 100 + Width;
}
`)

	box := p.spawn(t, "Box")
	wantInt(t, "Run()", p.send(t, box, "Run"), 16*100+10)
}

func TestCompileOutAndRefParams(t *testing.T) {
	p := newProgram(t, `
class Params;

static void Split(int v, out int hi, out int lo) {
	hi = v / 10;
	lo = v % 10;
}

static void Bump(ref int v) { v += 1; }

static int Run() {
	int h, l;
	Split(42, h, l);
	Bump(l);
	return h * 100 + l;
}

static int Opt(int a, optional int b) { return a + b; }
static int CallOpt() { return Opt(1) + Opt(1, 2); }
`)

	wantInt(t, "Run()", p.call(t, "Params", "Run"), 4*100+3)
	wantInt(t, "CallOpt()", p.call(t, "Params", "CallOpt"), 1+3)
}

func TestCompileDynamicArrays(t *testing.T) {
	p := newProgram(t, `
class Arr;

static int Run() {
	array!int list;
	list.length = 4;
	foreach (i, ref v; list) {
		v = i * i;
	}
	int sum = 0;
	foreach (v; list) {
		sum += v;
	}
	return sum * 10 + list.length;
}

static int Static() {
	int a[3];
	a[0] = 1;
	a[1] = 2;
	a[2] = 3;
	int sum = 0;
	foreach (v; a; reverse) {
		sum = sum * 10 + v;
	}
	return sum;
}
`)

	wantInt(t, "Run()", p.call(t, "Arr", "Run"), (0+1+4+9)*10+4)
	wantInt(t, "Static()", p.call(t, "Arr", "Static"), 321)
}

func TestCompileStructsAndVectors(t *testing.T) {
	p := newProgram(t, `
struct Pair { int a, b; }

class Geo;

static int PairSum() {
	Pair p;
	p.a = 3;
	p.b = 4;
	return p.a + p.b;
}

static float Dot() {
	vector v = vector(1.0, 2.0, 3.0);
	vector w = vector(4.0, 5.0, 6.0);
	return v.x * w.x + v.y * w.y + v.z * w.z;
}
`)

	wantInt(t, "PairSum()", p.call(t, "Geo", "PairSum"), 7)
	if res := p.call(t, "Geo", "Dot"); res[0].Float != 32 {
		t.Errorf("Dot() = %v, want 32", res[0].Float)
	}
}

func TestCompileDelegates(t *testing.T) {
	p := newProgram(t, `
class Button;

delegate int OnPress(int n);

int Double(int n) { return n * 2; }

int Run() {
	OnPress = Double;
	return OnPress(21);
}
`)

	b := p.spawn(t, "Button")
	wantInt(t, "Run()", p.send(t, b, "Run"), 42)
}

func TestCompileReplication(t *testing.T) {
	p := newProgram(t, `
class Player;

int Score;
bool bAlive;
int Secret;

void Respawn() {}

replication {
	reliable if (bAlive) Score, Respawn;
	unreliable if (Score > 10) Secret;
}
`)

	cls := p.pkg.FindClass("Player")
	if len(cls.RepInfos) != 2 {
		t.Fatalf("RepInfos = %d, want 2", len(cls.RepInfos))
	}
	ri := cls.RepInfos[0]
	if !ri.Reliable || len(ri.Fields) != 1 || len(ri.Methods) != 1 {
		t.Errorf("first entry = %+v, want reliable Score and Respawn", ri)
	}
	if cls.FindField("Score").Flags&vm.FieldNet == 0 {
		t.Errorf("Score is not marked for replication")
	}
	if cls.FindField("bAlive").Flags&vm.FieldNet != 0 {
		t.Errorf("bAlive is marked for replication")
	}

	obj := p.spawn(t, "Player")
	res, err := p.mach.Call(cls.RepInfos[1].Cond, vm.RefValue(obj))
	if err != nil {
		t.Fatal(err)
	}
	if res[0].IsTrue() {
		t.Errorf("condition true with Score 0")
	}
	obj.Fields[cls.FindField("Score").Offset] = vm.IntValue(11)
	res, _ = p.mach.Call(cls.RepInfos[1].Cond, vm.RefValue(obj))
	if !res[0].IsTrue() {
		t.Errorf("condition false with Score 11")
	}
}

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"missing return", "class A; int F(int x) { if (x) return 1; }", "Missing `return` in one of the paths of function `F`"},
		{"break outside loop", "class A; void F() { break; }", "Misplaced `break` statement"},
		{"continue in switch", "class A; void F(int x) { switch (x) { case 1: continue; } }", "Misplaced `continue` statement"},
		{"unknown identifier", "class A; int F() { return nothing; }", "Unknown identifier `nothing`"},
		{"unknown parent", "class A : Missing;", "No such class `Missing`"},
		{"class cycle", "class A : B; class B : A;", "inherits from itself"},
		{"final override", "class A; final void F() {} class B : A; void F() {}", "overrides a final method"},
		{"signature mismatch", "class A; void F(int x) {} class B : A; void F(float x) {}", "different signature"},
		{"bogus override", "class A; override void F() {}", "marked override"},
		{"script varargs", "class A; static void F(int x, ...) {}", "Only static native methods can take variable arguments"},
		{"void return value", "class A; void F() { return 1; }", "Void function cannot return a value"},
		{"bad property field", "class A; int P { get Missing; }", "No such field `Missing`"},
		{"redefined field", "class A; int x; float x;", "Redefined identifier `x`"},
		{"replicated unknown", "class A; replication { reliable if (true) Nope; }", "`Nope` is not a field or method"},
		{"object default", "class A; A Other; defaultproperties { Other = A(SpawnObject(A)); }", "cannot reference an object"},
		{"vector field", "class A; vector V { int x, y, z; }", "must be float"},
		{"scope exit return", "class A; void F() { scope(exit) return; }", "`scope(exit)` cannot leave its block"},
		{"scope exit nested return", "class A; static int F(int v) { scope(exit) { return 5; } return v; }", "`scope(exit)` cannot leave its block"},
		{"scope exit break", "class A; void F() { while (true) { scope(exit) { break; } } }", "`scope(exit)` cannot leave its block"},
		{"scope exit continue", "class A; void F(int i) { for (i = 0; i < 3; i++) { scope(exit) { if (i) continue; } } }", "`scope(exit)` cannot leave its block"},
		{"scope exit case break", "class A; void F(int x) { switch (x) { case 1: scope(exit) { break; } } }", "`scope(exit)` cannot leave its block"},
		{"parse error", "class A; void F() { int = 3; }", "expected"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			diags := compileErrors(t, tc.src)
			for _, d := range diags {
				if strings.Contains(d.Message, tc.want) {
					return
				}
			}
			t.Errorf("diagnostics %v, want %q", diags, tc.want)
		})
	}
}

func TestCompileImport(t *testing.T) {
	lib, _, err := Compile(Options{Package: "lib"}, Source{Name: "lib.vc", Text: `
const int Answer = 42;
class Helper;
static int Get() { return Answer; }
`})
	if err != nil {
		t.Fatal(err)
	}

	builtin, err := Builtin()
	if err != nil {
		t.Fatal(err)
	}
	loader := vm.NewPackageLoader(nil)
	loader.Register(builtin)
	loader.Register(lib)

	pkg, _, err := Compile(Options{Package: "app", Loader: loader}, Source{Name: "app.vc", Text: `
import 'lib';
class App;
static int Run() { return Helper.Get() + Answer; }
`})
	if err != nil {
		t.Fatal(err)
	}

	mach := vm.NewMachine()
	if err := mach.Link(pkg); err != nil {
		t.Fatal(err)
	}
	res, err := mach.Call(pkg.FindClass("App").FindMethod("Run"))
	if err != nil {
		t.Fatal(err)
	}
	wantInt(t, "Run()", res, 84)

	_, _, err = Compile(Options{Package: "bad", Loader: loader}, Source{Name: "bad.vc", Text: "import 'nowhere'; class X;"})
	if err == nil || !strings.Contains(err.Error(), "Cannot import `nowhere`") {
		t.Errorf("import of a missing package: err = %v", err)
	}
}

func TestCompiledPackageRoundTrip(t *testing.T) {
	pkg := compileSource(t, `
class Counter;

int Count = 3;

int Next() {
	Count++;
	return Count;
}

static int Fib(int n) {
	if (n < 2) {
		return n;
	}
	return Fib(n - 1) + Fib(n - 2);
}
`)

	data, err := vm.MarshalPackage(pkg)
	if err != nil {
		t.Fatal(err)
	}
	builtin, err := Builtin()
	if err != nil {
		t.Fatal(err)
	}
	loader := vm.NewPackageLoader(nil)
	loader.Register(builtin)
	loaded, err := loader.Decode(data)
	if err != nil {
		t.Fatal(err)
	}

	mach := vm.NewMachine()
	if err := mach.Link(loaded); err != nil {
		t.Fatal(err)
	}
	cls := loaded.FindClass("Counter")
	res, err := mach.Call(cls.FindMethod("Fib"), vm.IntValue(10))
	if err != nil {
		t.Fatal(err)
	}
	wantInt(t, "Fib(10)", res, 55)

	obj, err := mach.Spawn(cls)
	if err != nil {
		t.Fatal(err)
	}
	next := cls.FindMethod("Next")
	if next.VTableIndex >= 0 {
		next = cls.VTable[next.VTableIndex]
	}
	res, err = mach.Call(next, vm.RefValue(obj))
	if err != nil {
		t.Fatal(err)
	}
	wantInt(t, "Next()", res, 4)
}

func TestRuntimeErrorReportsLine(t *testing.T) {
	p := newProgram(t, `
class Crash;

static int Div(int a, int b) {
	int x = a;
	return x / b;
}
`)

	_, err := p.mach.Call(p.method(t, "Crash", "Div"), vm.IntValue(1), vm.IntValue(0))
	var rerr *vm.RuntimeError
	if !errors.As(err, &rerr) {
		t.Fatalf("err = %v, want *vm.RuntimeError", err)
	}
	if len(rerr.Stack) == 0 || !strings.Contains(rerr.Stack[0], "Crash.Div (test.vc:6)") {
		t.Errorf("stack = %v, want Crash.Div at line 6", rerr.Stack)
	}
}
