package vm

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
)

// mapSource serves encoded packages from memory.
type mapSource map[string][]byte

func (s mapSource) ReadPackage(name string) ([]byte, error) {
	if data, ok := s[name]; ok {
		return data, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownImport, name)
}

// buildSamplePackage returns a package exercising every member kind.
func buildSamplePackage(t *testing.T) *Package {
	t.Helper()
	pkg, obj, _ := testPackage(t)

	vec := NewStruct("TVec", pkg, testLoc)
	vec.IsVector = true
	pkg.AddMember(vec)
	for _, n := range []string{"x", "y", "z"} {
		pkg.AddMember(&Field{MemberBase: MemberBase{Name: n, Outer: vec}, Type: FloatType})
	}
	if err := vec.DefineFieldOffsets(); err != nil {
		t.Fatal(err)
	}

	actor := NewClass("Actor", pkg, Location{File: "actor.vc", Line: 3, Column: 1})
	actor.Parent = obj
	actor.ParentName = "Object"
	pkg.AddMember(actor)
	actor.Aliases.Add("Hp", "Health", testLoc)

	pkg.AddMember(&Field{MemberBase: MemberBase{Name: "Health", Outer: actor}, Type: IntType})
	pkg.AddMember(&Field{MemberBase: MemberBase{Name: "bSolid", Outer: actor}, Type: BoolType})
	pkg.AddMember(&Field{MemberBase: MemberBase{Name: "Origin", Outer: actor}, Type: StructOf(vec)})
	names, _ := NameType.MakeDynamicArrayType()
	pkg.AddMember(&Field{MemberBase: MemberBase{Name: "Tags", Outer: actor}, Type: names})

	maxHealth := &Constant{MemberBase: MemberBase{Name: "MAX_HEALTH", Outer: pkg}, Type: IntType, IntValue: 200}
	pkg.AddMember(maxHealth)
	speed := &Constant{MemberBase: MemberBase{Name: "Speed", Outer: actor}, Type: FloatType, FloatValue: 1.5}
	pkg.AddMember(speed)

	b := NewBytecodeBuilder()
	b.Emit(OpPushSelf)
	b.EmitUint16(OpFieldValue, 0)
	b.EmitByte(OpReturn, 1)
	getHealth := NewMethod("GetHealth", actor, Location{File: "actor.vc", Line: 9})
	getHealth.ReturnType = IntType
	getHealth.ComputeParamsSize()
	getHealth.NumLocals = 1
	getHealth.Code = b.Bytes()
	getHealth.AddLine(0, 10)
	getHealth.AddLine(1, 11)
	pkg.AddMember(getHealth)

	sig := NewMethod("Callback", actor, testLoc)
	sig.Flags = MethodDelegate
	sig.ReturnType = VoidType
	sig.Params = []Param{{Name: "who", Type: ReferenceTo(actor)}}
	sig.ComputeParamsSize()
	pkg.AddMember(sig)
	pkg.AddMember(&Field{MemberBase: MemberBase{Name: "OnDeath", Outer: actor}, Type: DelegateOf(sig)})

	prop := &Property{MemberBase: MemberBase{Name: "Life", Outer: actor}, Type: IntType, GetFunc: getHealth}
	pkg.AddMember(prop)

	spawn := &State{MemberBase: MemberBase{Name: "S_SPAWN", Outer: actor}, SpriteName: "PLAY", Frame: 0, Time: 4}
	see := &State{MemberBase: MemberBase{Name: "S_SEE", Outer: actor}, SpriteName: "PLAY", Frame: 1, Time: -1, Function: getHealth}
	spawn.Next, spawn.NextState = see, see
	see.NextState = spawn
	pkg.AddMember(spawn)
	pkg.AddMember(see)
	actor.Labels = []StateLabel{{Name: "Spawn", State: spawn}, {Name: "See", State: see}}

	if err := actor.DefineFieldOffsets(); err != nil {
		t.Fatal(err)
	}
	for _, c := range pkg.Classes {
		c.InitDefaults()
		c.BuildVTable()
	}
	pkg.RefIndex(getHealth)
	pkg.RefIndex(actor)
	pkg.RefIndex(spawn)
	return pkg
}

// ---------------------------------------------------------------------------
// Round trip
// ---------------------------------------------------------------------------

func TestPackageRoundTrip(t *testing.T) {
	pkg := buildSamplePackage(t)
	data, err := MarshalPackage(pkg)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data[:4], PackageMagic[:]) {
		t.Fatalf("magic = %q", data[:4])
	}

	got, err := UnmarshalPackage(data, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "test" {
		t.Errorf("Name = %q, want test", got.Name)
	}
	if got.BuildID != pkg.BuildID || got.BuildID == "" {
		t.Errorf("BuildID = %q, want %q", got.BuildID, pkg.BuildID)
	}
	if len(got.Members) != len(pkg.Members) {
		t.Fatalf("len(Members) = %d, want %d", len(got.Members), len(pkg.Members))
	}

	actor := got.FindClass("Actor")
	if actor == nil {
		t.Fatal("Actor missing")
	}
	if actor.Parent == nil || actor.Parent.Name != "Object" {
		t.Errorf("Actor.Parent = %v", actor.Parent)
	}
	if actor.NumSlots != pkg.FindClass("Actor").NumSlots {
		t.Errorf("NumSlots = %d", actor.NumSlots)
	}
	if f := actor.FindField("Origin"); f == nil || f.Type.Kind != TypeVector || f.Type.Struct.Name != "TVec" {
		t.Errorf("Origin field = %+v", f)
	}
	if name, err := actor.ResolveAlias("Hp"); err != nil || name != "Health" {
		t.Errorf("ResolveAlias(Hp) = %q, %v", name, err)
	}

	meth := actor.FindMethod("GetHealth")
	if meth == nil || len(meth.Code) != 6 || meth.VTableIndex < 0 {
		t.Fatalf("GetHealth = %+v", meth)
	}
	if meth.LineFor(1) != 11 {
		t.Errorf("LineFor(1) = %d, want 11", meth.LineFor(1))
	}
	if actor.FindMethod("Callback") != nil {
		t.Error("delegate signature listed as a method")
	}
	if f := actor.FindField("OnDeath"); f == nil || f.Type.Delegate == nil || f.Type.Delegate.Name != "Callback" {
		t.Errorf("OnDeath delegate = %+v", f)
	}
	if p := actor.FindProperty("Life"); p == nil || p.GetFunc != meth {
		t.Errorf("Life property = %+v", p)
	}

	label, ok := actor.FindStateLabel("see")
	if !ok || label.State.Name != "S_SEE" || label.State.Function != meth {
		t.Errorf("See label = %+v", label)
	}
	if label.State.NextState.Name != "S_SPAWN" {
		t.Errorf("S_SEE.NextState = %v", label.State.NextState)
	}

	if c := got.FindConstant("MAX_HEALTH"); c == nil || c.IntValue != 200 {
		t.Errorf("MAX_HEALTH = %+v", c)
	}
	if c := actor.FindConstant("Speed"); c == nil || c.FloatValue != 1.5 {
		t.Errorf("Speed = %+v", c)
	}
	if len(got.Refs) != len(pkg.Refs) {
		t.Errorf("len(Refs) = %d, want %d", len(got.Refs), len(pkg.Refs))
	}
}

func TestPackageEncodingIsStable(t *testing.T) {
	first, err := MarshalPackage(buildSamplePackage(t))
	if err != nil {
		t.Fatal(err)
	}
	pkg, err := UnmarshalPackage(first, nil)
	if err != nil {
		t.Fatal(err)
	}
	second, err := MarshalPackage(pkg)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(first, second) {
		t.Errorf("re-encoding changed the package (%d vs %d bytes)", len(first), len(second))
	}
}

func TestPackageLoadsImports(t *testing.T) {
	base := buildSamplePackage(t)
	baseData, err := MarshalPackage(base)
	if err != nil {
		t.Fatal(err)
	}

	game := NewPackage("game")
	game.Imports = []*Package{base}
	player := NewClass("Player", game, testLoc)
	player.Parent = base.FindClass("Actor")
	game.AddMember(player)
	if err := player.DefineFieldOffsets(); err != nil {
		t.Fatal(err)
	}
	player.InitDefaults()
	player.BuildVTable()
	gameData, err := MarshalPackage(game)
	if err != nil {
		t.Fatal(err)
	}

	loader := NewPackageLoader(mapSource{"test": baseData, "game": gameData})
	got, err := loader.Load("game")
	if err != nil {
		t.Fatal(err)
	}
	p := got.FindClass("Player")
	if p == nil || p.Parent == nil || p.Parent.Name != "Actor" {
		t.Fatalf("Player = %+v", p)
	}
	if PackageOf(p.Parent).Name != "test" {
		t.Errorf("Actor came from %s", PackageOf(p.Parent).Name)
	}
	if len(p.VTable) != len(p.Parent.VTable) {
		t.Errorf("Player vtable has %d entries, want %d", len(p.VTable), len(p.Parent.VTable))
	}
	again, _ := loader.Load("test")
	if again != PackageOf(p.Parent) {
		t.Error("imported package loaded twice")
	}
}

// ---------------------------------------------------------------------------
// Rejection
// ---------------------------------------------------------------------------

func TestPackageImportCycle(t *testing.T) {
	a := NewPackage("a")
	b := NewPackage("b")
	a.Imports = []*Package{b}
	b.Imports = []*Package{a}
	da, err := MarshalPackage(a)
	if err != nil {
		t.Fatal(err)
	}
	db, err := MarshalPackage(b)
	if err != nil {
		t.Fatal(err)
	}

	loader := NewPackageLoader(mapSource{"a": da, "b": db})
	if _, err := loader.Load("a"); !errors.Is(err, ErrImportCycle) {
		t.Errorf("Load(a) error = %v, want ErrImportCycle", err)
	}
	if _, ok := loader.Lookup("a"); ok {
		t.Error("package a registered despite the cycle")
	}
}

func TestPackageUnknownImport(t *testing.T) {
	a := NewPackage("a")
	a.Imports = []*Package{NewPackage("missing")}
	data, err := MarshalPackage(a)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := UnmarshalPackage(data, NewPackageLoader(mapSource{})); !errors.Is(err, ErrUnknownImport) {
		t.Errorf("error = %v, want ErrUnknownImport", err)
	}
}

func TestPackageHeaderErrors(t *testing.T) {
	data, err := MarshalPackage(NewPackage("empty"))
	if err != nil {
		t.Fatal(err)
	}

	badMagic := append([]byte(nil), data...)
	copy(badMagic, "XXXX")
	badVersion := append([]byte(nil), data...)
	badVersion[4] = byte(PackageVersion + 1)

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"short", data[:10], ErrUnexpectedEOF},
		{"magic", badMagic, ErrInvalidMagic},
		{"version", badVersion, ErrVersionMismatch},
		{"truncated", data[:len(data)-1], ErrCorruptPackage},
	}
	for _, tt := range tests {
		if _, err := UnmarshalPackage(tt.data, nil); !errors.Is(err, tt.want) {
			t.Errorf("%s: error = %v, want %v", tt.name, err, tt.want)
		}
	}
}

func TestSavePackageFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.vcp")
	if err := SavePackage(path, buildSamplePackage(t)); err != nil {
		t.Fatal(err)
	}
	pkg, err := LoadPackageFile(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	if pkg.FindClass("Actor") == nil {
		t.Error("Actor missing after file round trip")
	}

	loader := NewPackageLoader(DirSource{Paths: []string{filepath.Dir(path)}})
	if _, err := loader.Load("test"); err != nil {
		t.Errorf("DirSource load: %v", err)
	}
}
