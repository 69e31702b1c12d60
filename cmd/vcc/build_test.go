package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chazu/vavoomc/manifest"
	"github.com/chazu/vavoomc/vm"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// writeFile writes content to dir/name, creating parent directories.
func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatalf("writing %s: %v", p, err)
	}
	return p
}

// newWorkspace lays out an app project depending on a lib project.
func newWorkspace(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeFile(t, root, "lib/vcc.toml", "[package]\nname = \"lib\"\n")
	writeFile(t, root, "lib/src/helper.vc", `
const int Answer = 42;
class Helper;
static int Get() { return Answer; }
`)
	writeFile(t, root, "app/vcc.toml", `
[package]
name = "app"
entry = "App.Run"

[dependencies]
lib = { path = "../lib" }
`)
	writeFile(t, root, "app/src/app.vc", `
import 'lib';
class App;
static int Run() { return Helper.Get() + Answer; }
static int Scale(int n, optional int by) {
	if (by == 0) {
		by = 2;
	}
	return n * by;
}
int Twice(int n) { return n * 2; }
`)
	return root
}

func buildWorkspace(t *testing.T, root string) (*manifest.Manifest, *vm.Package, string) {
	t.Helper()
	m, err := loadProject(filepath.Join(root, "app", "src"))
	if err != nil {
		t.Fatal(err)
	}
	var out bytes.Buffer
	pkg, b, err := buildProject(m, &out, true)
	if err != nil {
		t.Fatalf("build: %v\n%s", err, out.String())
	}
	b.Close()
	return m, pkg, out.String()
}

// ---------------------------------------------------------------------------
// Build
// ---------------------------------------------------------------------------

func TestBuildProjectWithDependency(t *testing.T) {
	root := newWorkspace(t)
	m, pkg, out := buildWorkspace(t, root)

	if !strings.Contains(out, "compiled lib") || !strings.Contains(out, "compiled app") {
		t.Errorf("first build output = %q, want both packages compiled", out)
	}
	for _, path := range []string{m.OutputPath(), filepath.Join(root, "lib", "lib.vcp")} {
		if _, err := os.Stat(path); err != nil {
			t.Errorf("output %s missing: %v", path, err)
		}
	}

	mach := vm.NewMachine()
	if err := mach.Link(pkg); err != nil {
		t.Fatal(err)
	}
	res, err := runEntry(mach, pkg, m.Package.Entry, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := formatResult(res); got != "84" {
		t.Errorf("App.Run() = %s, want 84", got)
	}
}

func TestBuildUsesCache(t *testing.T) {
	root := newWorkspace(t)
	buildWorkspace(t, root)

	_, _, out := buildWorkspace(t, root)
	if !strings.Contains(out, "cached lib") || !strings.Contains(out, "cached app") {
		t.Errorf("second build output = %q, want both packages cached", out)
	}

	// Changing the dependency rebuilds its dependents too.
	writeFile(t, root, "lib/src/helper.vc", `
const int Answer = 40;
class Helper;
static int Get() { return Answer; }
`)
	_, pkg, out := buildWorkspace(t, root)
	if !strings.Contains(out, "compiled lib") || !strings.Contains(out, "compiled app") {
		t.Errorf("build after edit output = %q, want both packages compiled", out)
	}
	mach := vm.NewMachine()
	if err := mach.Link(pkg); err != nil {
		t.Fatal(err)
	}
	res, err := runEntry(mach, pkg, "App.Run", nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := formatResult(res); got != "80" {
		t.Errorf("App.Run() after edit = %s, want 80", got)
	}
}

func TestBuildReportsDiagnostics(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "vcc.toml", "[package]\nname = \"broken\"\n")
	writeFile(t, root, "src/broken.vc", `
class Broken;
static int F() { return Missing; }
`)
	m, err := loadProject(root)
	if err != nil {
		t.Fatal(err)
	}
	var out bytes.Buffer
	if _, _, err := buildProject(m, &out, false); err == nil {
		t.Fatal("build of a broken project succeeded")
	}
	if !strings.Contains(out.String(), "src/broken.vc:3:") || !strings.Contains(out.String(), "Unknown identifier `Missing`") {
		t.Errorf("diagnostics = %q, want the unknown identifier at broken.vc:3", out.String())
	}
}

// ---------------------------------------------------------------------------
// Run
// ---------------------------------------------------------------------------

func TestRunEntryArguments(t *testing.T) {
	root := newWorkspace(t)
	_, pkg, _ := buildWorkspace(t, root)
	mach := vm.NewMachine()
	if err := mach.Link(pkg); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		entry   string
		args    []string
		want    string
		wantErr bool
	}{
		{"App.Scale", []string{"5", "3"}, "15", false},
		{"App.Scale", []string{"5"}, "10", false},
		{"App.Scale", []string{"0x10"}, "32", false},
		{"App.Twice", []string{"21"}, "42", false},
		{"App.Scale", nil, "", true},
		{"App.Scale", []string{"five"}, "", true},
		{"App.Scale", []string{"1", "2", "3"}, "", true},
		{"App.Missing", nil, "", true},
		{"Nope.Run", nil, "", true},
		{"App", nil, "", true},
	}

	for _, tc := range tests {
		res, err := runEntry(mach, pkg, tc.entry, tc.args)
		if tc.wantErr {
			if err == nil {
				t.Errorf("%s%v succeeded, want an error", tc.entry, tc.args)
			}
			continue
		}
		if err != nil {
			t.Errorf("%s%v: %v", tc.entry, tc.args, err)
			continue
		}
		if got := formatResult(res); got != tc.want {
			t.Errorf("%s%v = %s, want %s", tc.entry, tc.args, got, tc.want)
		}
	}
}

func TestParseArg(t *testing.T) {
	tests := []struct {
		typ     vm.FieldType
		in      string
		want    string
		wantErr bool
	}{
		{vm.IntType, "-7", "-7", false},
		{vm.FloatType, "1.5", "1.5", false},
		{vm.NewType(vm.TypeBool), "true", "1", false},
		{vm.NewType(vm.TypeString), "hello", "hello", false},
		{vm.NewType(vm.TypeName), "None", "none", false},
		{vm.IntType, "1.5", "", true},
		{vm.VectorType, "1", "", true},
	}

	for _, tc := range tests {
		v, err := parseArg(tc.typ, tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("parseArg(%s, %q) succeeded, want an error", tc.typ, tc.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseArg(%s, %q): %v", tc.typ, tc.in, err)
			continue
		}
		if got := v.String(); got != tc.want {
			t.Errorf("parseArg(%s, %q) = %s, want %s", tc.typ, tc.in, got, tc.want)
		}
	}
}

func TestIsEntryName(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"App.Run", true},
		{"_Boot.Main", true},
		{"3.5", false},
		{"-1.5", false},
		{".5", false},
		{"App.", false},
		{"App", false},
	}
	for _, tc := range tests {
		if got := isEntryName(tc.in); got != tc.want {
			t.Errorf("isEntryName(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

// ---------------------------------------------------------------------------
// Disassembly
// ---------------------------------------------------------------------------

func TestDisassemblePackage(t *testing.T) {
	root := newWorkspace(t)
	_, pkg, _ := buildWorkspace(t, root)

	var out bytes.Buffer
	if err := disassemblePackage(&out, pkg, "App.Run"); err != nil {
		t.Fatal(err)
	}
	text := out.String()
	if !strings.Contains(text, "class App") || !strings.Contains(text, "int Run: params 0") {
		t.Errorf("disassembly = %q, want the App.Run header", text)
	}
	if strings.Contains(text, "Scale") {
		t.Errorf("disassembly of App.Run includes other methods:\n%s", text)
	}

	if err := disassemblePackage(&out, pkg, "Nope"); err == nil {
		t.Errorf("disassembly of a missing class succeeded")
	}
}
