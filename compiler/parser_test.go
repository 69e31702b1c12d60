package compiler

import (
	"fmt"
	"strings"
	"testing"

	"github.com/chazu/vavoomc/vm"
)

// sexpr renders a parsed expression with explicit grouping.
func sexpr(e Expression) string {
	switch n := e.(type) {
	case nil:
		return "_"
	case *IntLiteral:
		return fmt.Sprint(n.Value)
	case *FloatLiteral:
		return fmt.Sprintf("%gf", n.Value)
	case *StringLiteral:
		return fmt.Sprintf("%q", n.Value)
	case *NameLiteral:
		return "'" + n.Value + "'"
	case *NoneLiteral:
		return "none"
	case *NullLiteral:
		return "nullptr"
	case *SelfExpr:
		return "self"
	case *SingleName:
		return n.Name
	case *DoubleName:
		return n.Scope + "::" + n.Name
	case *SuperMember:
		return "super." + n.Name
	case *MemberAccess:
		return sexpr(n.Object) + "." + n.Name
	case *ArrayElement:
		if n.Index2 != nil {
			return fmt.Sprintf("%s[%s, %s]", sexpr(n.Base), sexpr(n.Index), sexpr(n.Index2))
		}
		return fmt.Sprintf("%s[%s]", sexpr(n.Base), sexpr(n.Index))
	case *CallExpr:
		args := make([]string, len(n.Args))
		for i, a := range n.Args {
			args[i] = sexpr(a)
		}
		return fmt.Sprintf("%s(%s)", sexpr(n.Callee), strings.Join(args, ", "))
	case *UnaryOp:
		return fmt.Sprintf("(%s %s)", strings.Trim(n.Op.String(), "`"), sexpr(n.Operand))
	case *AddressOf:
		return fmt.Sprintf("(& %s)", sexpr(n.Operand))
	case *Deref:
		return fmt.Sprintf("(* %s)", sexpr(n.Operand))
	case *IncDec:
		op := strings.Trim(n.Op.String(), "`")
		if n.Prefix {
			return fmt.Sprintf("(%s %s)", op, sexpr(n.Operand))
		}
		return fmt.Sprintf("(%s %s)", sexpr(n.Operand), op)
	case *BinaryOp:
		return fmt.Sprintf("(%s %s %s)", sexpr(n.Left), strings.Trim(n.Op.String(), "`"), sexpr(n.Right))
	case *LogicalOp:
		op := "||"
		if n.And {
			op = "&&"
		}
		return fmt.Sprintf("(%s %s %s)", sexpr(n.Left), op, sexpr(n.Right))
	case *Conditional:
		return fmt.Sprintf("(%s ? %s : %s)", sexpr(n.Cond), sexpr(n.Then), sexpr(n.Else))
	case *Assignment:
		return fmt.Sprintf("(%s %s %s)", sexpr(n.Left), strings.Trim(n.Op.String(), "`"), sexpr(n.Right))
	case *CastExpr:
		return fmt.Sprintf("%s(%s)", n.Target, sexpr(n.Operand))
	case *ClassCastExpr:
		return fmt.Sprintf("class!%s(%s)", n.Name, sexpr(n.Operand))
	case *VectorLiteral:
		return fmt.Sprintf("vector(%s, %s, %s)", sexpr(n.X), sexpr(n.Y), sexpr(n.Z))
	}
	return fmt.Sprintf("<%T>", e)
}

func newTestParser(input string) (*Parser, *Diagnostics) {
	diags := NewDiagnostics()
	return NewParser("test.vc", input, vm.NewPackage("test"), diags), diags
}

func parseExpr(t *testing.T, input string) Expression {
	t.Helper()
	p, diags := newTestParser(input)
	e := p.ParseExpression()
	if diags.HasErrors() {
		t.Fatalf("parse %q: %v", input, diags.Err())
	}
	if !p.curTokenIs(TokenEOF) {
		t.Fatalf("parse %q: trailing %s", input, p.curToken.Type)
	}
	return e
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

func TestParserLiterals(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"42", "42"},
		{"1.5", "1.5f"},
		{`"hi"`, `"hi"`},
		{"'Imp'", "'Imp'"},
		{"true", "1"},
		{"false", "0"},
		{"none", "none"},
		{"nullptr", "nullptr"},
		{"self", "self"},
		{"vector(1, 2, 3)", "vector(1, 2, 3)"},
		{"vector(1, 2)", "vector(1, 2, 0f)"},
	}

	for _, tc := range tests {
		if got := sexpr(parseExpr(t, tc.input)); got != tc.want {
			t.Errorf("parse %q = %s, want %s", tc.input, got, tc.want)
		}
	}
}

func TestParserPrecedence(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"a + b * c", "(a + (b * c))"},
		{"a * b + c", "((a * b) + c)"},
		{"a - b - c", "((a - b) - c)"},
		{"a ~ b + c", "((a ~ b) + c)"},
		{"a << 1 + 2", "(a << (1 + 2))"},
		{"a < b == c > d", "((a < b) == (c > d))"},
		{"a & b ^ c | d", "(((a & b) ^ c) | d)"},
		{"a == b & c", "((a == b) & c)"},
		{"a || b && c", "(a || (b && c))"},
		{"a | b && c", "((a | b) && c)"},
		{"a ? b : c ? d : e", "(a ? b : (c ? d : e))"},
		{"a || b ? 1 : 2", "((a || b) ? 1 : 2)"},
		{"a = b + 1", "(a = (b + 1))"},
		{"a += b ? c : d", "(a += (b ? c : d))"},
		{"-a * b", "((- a) * b)"},
		{"!a && b", "((! a) && b)"},
		{"~a", "(~ a)"},
		{"-a.b", "(- a.b)"},
		{"*p + 1", "((* p) + 1)"},
		{"&a.b[1]", "(& a.b[1])"},
		{"++i * 2", "((++ i) * 2)"},
		{"i++ + 1", "((i ++) + 1)"},
		{"(a + b) * c", "((a + b) * c)"},
	}

	for _, tc := range tests {
		if got := sexpr(parseExpr(t, tc.input)); got != tc.want {
			t.Errorf("parse %q = %s, want %s", tc.input, got, tc.want)
		}
	}
}

func TestParserPostfix(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"a.b.c", "a.b.c"},
		{"a.default", "a.default"},
		{"a[1]", "a[1]"},
		{"a[i, j]", "a[i, j]"},
		{"f()", "f()"},
		{"f(1, 2)", "f(1, 2)"},
		{"f(1, , 3)", "f(1, _, 3)"},
		{"a.b(c)[2].d", "a.b(c)[2].d"},
		{"super.Tick(1)", "super.Tick(1)"},
		{"Actor::Health", "Actor::Health"},
		{"int(x)", "int(x)"},
		{"float(1)", "float(1)"},
		{"string('a')", "string('a')"},
		{"class!Actor(c)", "class!Actor(c)"},
	}

	for _, tc := range tests {
		if got := sexpr(parseExpr(t, tc.input)); got != tc.want {
			t.Errorf("parse %q = %s, want %s", tc.input, got, tc.want)
		}
	}
}

func TestParserExpressionErrors(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"a +", "Expression expected"},
		{"(a", "`)` expected"},
		{"a.1", "Field name expected"},
		{"class Actor", "`!` expected"},
	}

	for _, tc := range tests {
		p, diags := newTestParser(tc.input)
		p.ParseExpression()
		if !containsDiag(diags, tc.want) {
			t.Errorf("parse %q: diagnostics %v, want %q", tc.input, diags.List(), tc.want)
		}
	}
}

func containsDiag(diags *Diagnostics, want string) bool {
	for _, d := range diags.List() {
		if strings.Contains(d.Message, want) {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

func parseStmt(t *testing.T, input string) Statement {
	t.Helper()
	p, diags := newTestParser(input)
	s := p.ParseStatement()
	if diags.HasErrors() {
		t.Fatalf("parse %q: %v", input, diags.Err())
	}
	return s
}

func TestParserStatements(t *testing.T) {
	tests := []struct {
		input string
		check func(s Statement) bool
	}{
		{"x = 1;", func(s Statement) bool { _, ok := s.(*ExprStmt); return ok }},
		{";", func(s Statement) bool { _, ok := s.(*EmptyStmt); return ok }},
		{"int a, *b = nullptr;", func(s Statement) bool {
			d, ok := s.(*LocalDecl)
			return ok && len(d.Vars) == 2 && d.Vars[1].Type.PtrLevel == 1 && d.Vars[1].Init != nil
		}},
		{"Actor a;", func(s Statement) bool {
			d, ok := s.(*LocalDecl)
			return ok && d.Vars[0].Type.Name == "Actor"
		}},
		{"int arr[4];", func(s Statement) bool {
			d, ok := s.(*LocalDecl)
			return ok && len(d.Vars[0].Dims) == 1
		}},
		{"array!int list;", func(s Statement) bool {
			d, ok := s.(*LocalDecl)
			return ok && d.Vars[0].Type.Dynamic
		}},
		{"auto v = 1;", func(s Statement) bool {
			d, ok := s.(*LocalDecl)
			return ok && d.Vars[0].Type.Auto
		}},
		{"if (a) b(); else c();", func(s Statement) bool {
			n, ok := s.(*If)
			return ok && n.Else != nil
		}},
		{"while (a) {}", func(s Statement) bool { _, ok := s.(*While); return ok }},
		{"do { a++; } while (a < 3);", func(s Statement) bool { _, ok := s.(*DoWhile); return ok }},
		{"for (int i = 0; i < 3; i++) {}", func(s Statement) bool {
			n, ok := s.(*For)
			return ok && len(n.Init) == 1 && n.Cond != nil && len(n.Post) == 1
		}},
		{"for (i = 0, j = 1; ; i++, j++) {}", func(s Statement) bool {
			n, ok := s.(*For)
			return ok && len(n.Init) == 2 && n.Cond == nil && len(n.Post) == 2
		}},
		{"foreach (i; 0 .. 10) {}", func(s Statement) bool {
			n, ok := s.(*ForeachRange)
			return ok && n.Var.Type.Auto && !n.Reversed
		}},
		{"foreach (int i; 0 .. n; reverse) {}", func(s Statement) bool {
			n, ok := s.(*ForeachRange)
			return ok && !n.Var.Type.Auto && n.Reversed
		}},
		{"foreach (v; list) {}", func(s Statement) bool {
			n, ok := s.(*ForeachArray)
			return ok && n.Index == nil && n.Value.Name == "v"
		}},
		{"foreach (i, ref v; list) {}", func(s Statement) bool {
			n, ok := s.(*ForeachArray)
			return ok && n.Index.Name == "i" && n.ByRef
		}},
		{"switch (a) { case 1: break; default: return; }", func(s Statement) bool {
			n, ok := s.(*Switch)
			return ok && len(n.Body) == 4
		}},
		{"return;", func(s Statement) bool { n, ok := s.(*Return); return ok && n.Value == nil }},
		{"return a + 1;", func(s Statement) bool { n, ok := s.(*Return); return ok && n.Value != nil }},
		{"break;", func(s Statement) bool { return s.IsBreak() }},
		{"continue;", func(s Statement) bool { return s.IsContinue() }},
		{"scope(exit) a = 0;", func(s Statement) bool { _, ok := s.(*ScopeExit); return ok }},
		{"{ a(); b(); }", func(s Statement) bool {
			n, ok := s.(*Compound)
			return ok && len(n.Stmts) == 2
		}},
	}

	for _, tc := range tests {
		s := parseStmt(t, tc.input)
		if s == nil {
			t.Errorf("parse %q: nil statement", tc.input)
			continue
		}
		if !tc.check(s) {
			t.Errorf("parse %q: unexpected %T", tc.input, s)
		}
	}
}

func TestParserStatementErrors(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"case 1:", "Misplaced `case`"},
		{"scope(failure) a();", "Only `scope(exit)` is supported"},
		{"foreach (i; 0 .. 3; sideways) {}", "Unknown foreach option `sideways`"},
		{"foreach (i, j; 0 .. 3) {}", "Range foreach takes a single loop variable"},
		{"foreach (ref i, v; list) {}", "Index variable cannot be `ref`"},
		{"foreach (a, b, c; list) {}", "Array foreach takes one or two loop variables"},
		{"x = 1", "`;` expected"},
	}

	for _, tc := range tests {
		p, diags := newTestParser(tc.input)
		p.ParseStatement()
		if !containsDiag(diags, tc.want) {
			t.Errorf("parse %q: diagnostics %v, want %q", tc.input, diags.List(), tc.want)
		}
	}
}

// ---------------------------------------------------------------------------
// Declarations
// ---------------------------------------------------------------------------

func parseUnit(t *testing.T, input string) (*Unit, *vm.Package) {
	t.Helper()
	pkg := vm.NewPackage("test")
	diags := NewDiagnostics()
	u := NewParser("test.vc", input, pkg, diags).Parse()
	if diags.HasErrors() {
		t.Fatalf("parse: %v", diags.Err())
	}
	return u, pkg
}

func TestParserClassDeclaration(t *testing.T) {
	u, pkg := parseUnit(t, `
import 'engine';

const int MaxHealth = 100;
enum { Red, Green = 5, Blue }

struct Point { int x, y; }

class Actor : Thinker native abstract;

enum Mood { Calm, Angry }

int Health = MaxHealth;
readonly float Speed;
private bool bSolid, bShootable;
Point Pos;
int Ammo[4];

delegate void OnTouch(Actor other);

int Armor { get ArmorValue; set ArmorValue; }
int ArmorValue;

int Doubled {
	get { return Health * 2; }
	set(v) { Health = v / 2; }
}

native void Tick(float delta);
static final int Twice(int x, optional int y) { return x * 2; }
native static void Log(string fmt, ...);

replication {
	reliable if (Health > 0) Health, Tick;
}

defaultproperties {
	Speed = 8.0;
}

class Imp : Actor;
`)

	if len(u.Imports) != 1 || u.Imports[0].Name != "engine" {
		t.Errorf("Imports = %v, want [engine]", u.Imports)
	}
	if len(u.Consts) != 4 {
		t.Errorf("package constants = %d, want 4", len(u.Consts))
	}
	if len(u.Structs) != 1 || len(u.Structs[0].Fields) != 2 {
		t.Errorf("package structs = %v, want Point with two fields", u.Structs)
	}
	if len(u.Classes) != 2 {
		t.Fatalf("classes = %d, want 2", len(u.Classes))
	}

	cd := u.Classes[0]
	cls := cd.Class
	if cls.Name != "Actor" || cls.ParentName != "Thinker" {
		t.Errorf("class = %s : %s, want Actor : Thinker", cls.Name, cls.ParentName)
	}
	if cls.Flags != vm.ClassNative|vm.ClassAbstract {
		t.Errorf("class flags = %v, want native|abstract", cls.Flags)
	}
	if len(cd.Consts) != 2 || cd.Consts[1].Prev != cd.Consts[0] || cd.Consts[0].Const.EnumName != "Mood" {
		t.Errorf("class enum not chained: %v", cd.Consts)
	}

	var fieldNames []string
	for _, f := range cls.Fields {
		fieldNames = append(fieldNames, f.Name)
	}
	wantFields := "Health Speed bSolid bShootable Pos Ammo OnTouch ArmorValue"
	if got := strings.Join(fieldNames, " "); got != wantFields {
		t.Errorf("fields = %s, want %s", got, wantFields)
	}
	if f := cls.FindField("Speed"); f.Flags&vm.FieldReadOnly == 0 {
		t.Errorf("Speed flags = %v, want readonly", f.Flags)
	}
	if len(cd.Inits) != 1 {
		t.Errorf("field initializers = %d, want 1", len(cd.Inits))
	}

	var methodNames []string
	for _, m := range cls.Methods {
		methodNames = append(methodNames, m.Name)
	}
	wantMethods := "get_Doubled set_Doubled Tick Twice Log"
	if got := strings.Join(methodNames, " "); got != wantMethods {
		t.Errorf("methods = %s, want %s", got, wantMethods)
	}
	if m := cls.FindMethod("Log"); !m.IsVarArgs() {
		t.Errorf("Log is not varargs")
	}
	if m := cls.FindMethod("Twice"); m.Flags != vm.MethodStatic|vm.MethodFinal {
		t.Errorf("Twice flags = %v, want static|final", m.Flags)
	}

	if len(cd.Delegates) != 1 || cd.Delegates[0].Sig.Method.Flags&vm.MethodDelegate == 0 {
		t.Errorf("delegate not declared: %v", cd.Delegates)
	}
	if len(cd.Props) != 2 || cd.Props[0].GetField != "ArmorValue" || cd.Props[1].Setter.Params[0].Name != "v" {
		t.Errorf("properties not parsed: %v", cd.Props)
	}
	if len(cd.Repl) != 1 || !cd.Repl[0].Reliable || len(cd.Repl[0].Names) != 2 {
		t.Errorf("replication not parsed: %v", cd.Repl)
	}
	if cd.Defaults == nil || len(cd.Defaults.Stmts) != 1 {
		t.Errorf("defaultproperties not parsed")
	}

	if u.Classes[1].Class.ParentName != "Actor" {
		t.Errorf("Imp parent = %q, want Actor", u.Classes[1].Class.ParentName)
	}
	if pkg.FindClass("Imp") == nil {
		t.Errorf("Imp not declared in the package")
	}
}

func TestParserVectorStruct(t *testing.T) {
	u, _ := parseUnit(t, `
class Thing;
vector Dir { float x, y, z; }
vector Velocity;
`)
	cd := u.Classes[0]
	if len(cd.Structs) != 1 || !cd.Structs[0].Struct.IsVector {
		t.Errorf("structs = %v, want one vector struct", cd.Structs)
	}
	if len(cd.Fields) != 1 || cd.Fields[0].Type.Kind != vm.TypeVector {
		t.Errorf("fields = %v, want one vector field", cd.Fields)
	}
}

func TestParserTopLevelRecovery(t *testing.T) {
	p, diags := newTestParser(`
class A;
int x;
defaultproperties { x = 1; }
replication { reliable if (true) x; }
int y = 3;
}
class B;
int z;
`)
	u := p.Parse()
	if got := diags.ErrorCount(); got != 3 {
		t.Errorf("error count = %d, want 3: %v", got, diags.List())
	}
	if len(u.Classes) != 2 || u.Classes[1].Class.Name != "B" {
		t.Fatalf("classes = %v, want A and B", u.Classes)
	}
	if len(u.Classes[1].Fields) != 1 {
		t.Errorf("B fields = %v, want z", u.Classes[1].Fields)
	}
}

func TestParserDeclarationErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"top level junk", "int x;", "Class declaration expected"},
		{"duplicate modifier", "class A; native native void F();", "Duplicate modifier"},
		{"bad field modifier", "class A; static int x;", "Modifier `static` is not allowed for fields"},
		{"native body", "class A; native void F() {}", "Native method `F` cannot have a body"},
		{"missing body", "class A; void F();", "Method `F` needs a body"},
		{"duplicate class", "class A; class A;", "Class `A` already defined"},
		{"double getter", "class A; int x; int P { get x; get x; }", "already has a getter"},
		{"varargs delegate", "class A; delegate void D(...);", "cannot take variable arguments"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p, diags := newTestParser(tc.input)
			p.Parse()
			if !containsDiag(diags, tc.want) {
				t.Errorf("diagnostics %v, want %q", diags.List(), tc.want)
			}
		})
	}
}
