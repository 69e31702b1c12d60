package vm

import (
	"errors"
	"strings"
	"testing"
)

func intArg(n int32) FormatArg {
	return FormatArg{Kind: TypeInt, Slots: []Value{IntValue(n)}}
}

func floatArg(f float32) FormatArg {
	return FormatArg{Kind: TypeFloat, Slots: []Value{FloatValue(f)}}
}

func nameArg(s string) FormatArg {
	return FormatArg{Kind: TypeName, Slots: []Value{NameValue(s)}}
}

func stringArg(s string) FormatArg {
	return FormatArg{Kind: TypeString, Slots: []Value{StringValue(s)}}
}

func vectorArg(x, y, z float32) FormatArg {
	return FormatArg{Kind: TypeVector, Slots: []Value{FloatValue(x), FloatValue(y), FloatValue(z)}}
}

func TestFormat(t *testing.T) {
	pkg := NewPackage("test")
	actor := NewClass("Actor", pkg, testLoc)

	tests := []struct {
		format string
		args   []FormatArg
		want   string
	}{
		{"plain", nil, "plain"},
		{"100%%", nil, "100%"},
		{"%d", []FormatArg{intArg(42)}, "42"},
		{"%i", []FormatArg{intArg(-7)}, "-7"},
		{"%3d", []FormatArg{intArg(5)}, "  5"},
		{"%-3d|", []FormatArg{intArg(5)}, "5  |"},
		{"%05d", []FormatArg{intArg(-42)}, "-0042"},
		{"%x", []FormatArg{intArg(255)}, "ff"},
		{"%d", []FormatArg{floatArg(3.9)}, "3"},
		{"%f", []FormatArg{floatArg(1.5)}, "1.5"},
		{"%f", []FormatArg{intArg(2)}, "2"},
		{"%n", []FormatArg{nameArg("Imp")}, "Imp"},
		{"%n", []FormatArg{nameArg("")}, "<none>"},
		{"%s", []FormatArg{nameArg("Foo")}, "Foo"},
		{"%q", []FormatArg{nameArg("Foo")}, `"Foo"`},
		{"%q", []FormatArg{stringArg("a\tb\"c")}, `"a\tb\"c"`},
		{"%6s|", []FormatArg{stringArg("ab")}, "    ab|"},
		{"%-6s|", []FormatArg{stringArg("ab")}, "ab    |"},
		{"%v", []FormatArg{vectorArg(1, 2, 3)}, "(1,2,3)"},
		{"%s", []FormatArg{vectorArg(0.5, 0, -1)}, "(0.5,0,-1)"},
		{"%B", []FormatArg{intArg(0)}, "false"},
		{"%B", []FormatArg{floatArg(2)}, "true"},
		{"%C", []FormatArg{{Kind: TypeClass, Slots: []Value{ClassValue(actor)}}}, "Actor"},
		{"%C", []FormatArg{{Kind: TypeReference, Slots: []Value{RefValue(nil)}}}, "<none>"},
		{"%s", []FormatArg{{Kind: TypeReference, Slots: []Value{RefValue(nil)}}}, "(none)"},
		{"%s", []FormatArg{{Kind: TypeDelegate, Slots: []Value{RefValue(nil), {Kind: ValMethod}}}}, "(empty delegate)"},
		{"%s and %s", []FormatArg{intArg(1), stringArg("two")}, "1 and two"},
		{"%z", nil, "z"},
		{"trailing %", nil, "trailing %"},
	}

	for _, tt := range tests {
		got, err := Format(tt.format, tt.args)
		if err != nil {
			t.Errorf("Format(%q): %v", tt.format, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Format(%q) = %q, want %q", tt.format, got, tt.want)
		}
	}
}

func TestFormatErrors(t *testing.T) {
	tests := []struct {
		format string
		args   []FormatArg
		msg    string
	}{
		{"%d %d", []FormatArg{intArg(1)}, "out of arguments"},
		{"%v", []FormatArg{intArg(1)}, "invalid"},
		{"%d", []FormatArg{stringArg("x")}, "invalid"},
		{"%p", []FormatArg{intArg(0)}, "invalid"},
	}
	for _, tt := range tests {
		_, err := Format(tt.format, tt.args)
		var ferr *FormatError
		if !errors.As(err, &ferr) {
			t.Errorf("Format(%q) error = %v, want *FormatError", tt.format, err)
			continue
		}
		if !strings.Contains(ferr.Msg, tt.msg) {
			t.Errorf("Format(%q) message = %q, want %q", tt.format, ferr.Msg, tt.msg)
		}
	}
}

func TestFormatUnusedArgumentsAreNotAnError(t *testing.T) {
	got, err := Format("%d", []FormatArg{intArg(1), intArg(2)})
	if err != nil || got != "1" {
		t.Errorf("Format = %q, %v; want \"1\", nil", got, err)
	}
}

func TestFormatStringFromStack(t *testing.T) {
	m := NewMachine()
	m.PushString("%s at %v")
	m.PushString("spawn")
	m.PushInt(int32(TypeString))
	m.PushVector([3]float32{1, 2, 3})
	m.PushInt(int32(TypeVector))
	m.PushInt(2)

	got, err := m.FormatString()
	if err != nil {
		t.Fatal(err)
	}
	if got != "spawn at (1,2,3)" {
		t.Errorf("FormatString() = %q", got)
	}
	if len(m.stack) != 0 {
		t.Errorf("stack holds %d slots after formatting", len(m.stack))
	}
}

func TestFormatStringArgumentLimit(t *testing.T) {
	m := NewMachine()
	m.PushString("")
	m.PushInt(MaxFormatArgs)
	if _, err := m.FormatString(); err == nil {
		t.Error("expected an error for too many arguments")
	}
}

func TestQuoteString(t *testing.T) {
	tests := []struct{ in, want string }{
		{"", `""`},
		{"plain", `"plain"`},
		{"line\nbreak", `"line\nbreak"`},
		{"cr\r", `"cr\r"`},
		{`back\slash`, `"back\\slash"`},
		{"bell\x07", `"bell\x07"`},
	}
	for _, tt := range tests {
		if got := QuoteString(tt.in); got != tt.want {
			t.Errorf("QuoteString(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
