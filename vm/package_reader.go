package vm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"
)

// ---------------------------------------------------------------------------
// Package Error Types
// ---------------------------------------------------------------------------

var (
	ErrInvalidMagic    = errors.New("invalid magic number: expected VPRG")
	ErrVersionMismatch = errors.New("package version mismatch")
	ErrUnexpectedEOF   = errors.New("unexpected end of package data")
	ErrCorruptPackage  = errors.New("corrupt package data")
	ErrImportCycle     = errors.New("import cycle")
	ErrUnknownImport   = errors.New("unknown import")
)

// ---------------------------------------------------------------------------
// Package sources and the loader
// ---------------------------------------------------------------------------

// PackageSource supplies the encoded form of a package by name.
type PackageSource interface {
	ReadPackage(name string) ([]byte, error)
}

// DirSource looks packages up as <name>.vcp in a list of directories.
type DirSource struct {
	Paths []string
}

// ReadPackage returns the first <name>.vcp found on the search path.
func (d DirSource) ReadPackage(name string) ([]byte, error) {
	for _, dir := range d.Paths {
		data, err := os.ReadFile(filepath.Join(dir, name+".vcp"))
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownImport, name)
}

// PackageLoader loads packages and their imports depth first, sharing one
// instance of every package between its importers.
type PackageLoader struct {
	source  PackageSource
	loaded  map[string]*Package
	loading map[string]bool
	log     commonlog.Logger
}

// NewPackageLoader creates a loader reading from source, which may be nil
// when every import is registered up front.
func NewPackageLoader(source PackageSource) *PackageLoader {
	return &PackageLoader{
		source:  source,
		loaded:  make(map[string]*Package),
		loading: make(map[string]bool),
		log:     commonlog.GetLogger("vavoomc.package"),
	}
}

// Register makes an in-memory package available to importers.
func (l *PackageLoader) Register(pkg *Package) {
	l.loaded[pkg.Name] = pkg
}

// Lookup returns an already loaded package.
func (l *PackageLoader) Lookup(name string) (*Package, bool) {
	p, ok := l.loaded[name]
	return p, ok
}

// Load returns the named package, reading it and its imports on first use.
func (l *PackageLoader) Load(name string) (*Package, error) {
	if p, ok := l.loaded[name]; ok {
		return p, nil
	}
	if l.loading[name] {
		return nil, fmt.Errorf("%w: %s", ErrImportCycle, name)
	}
	if l.source == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownImport, name)
	}
	data, err := l.source.ReadPackage(name)
	if err != nil {
		if errors.Is(err, ErrUnknownImport) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrUnknownImport, name, err)
	}
	l.loading[name] = true
	defer delete(l.loading, name)
	pkg, err := l.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", name, err)
	}
	if pkg.Name != name {
		return nil, fmt.Errorf("%w: %s contains package %s", ErrCorruptPackage, name, pkg.Name)
	}
	l.loaded[name] = pkg
	l.log.Debugf("loaded package %s (%s)", name, pkg.BuildID)
	return pkg, nil
}

// Decode reads one encoded package, loading its imports through l.
func (l *PackageLoader) Decode(data []byte) (*Package, error) {
	r := &PackageReader{data: data, loader: l}
	return r.read()
}

// UnmarshalPackage decodes data, resolving imports through loader.
func UnmarshalPackage(data []byte, loader *PackageLoader) (*Package, error) {
	if loader == nil {
		loader = NewPackageLoader(nil)
	}
	return loader.Decode(data)
}

// ---------------------------------------------------------------------------
// PackageReader
// ---------------------------------------------------------------------------

// PackageReader decodes one package. Reads are sticky on error: after the
// first failure every read returns zero and err keeps the cause.
type PackageReader struct {
	data   []byte
	pos    int
	end    int
	err    error
	loader *PackageLoader

	pkg     *Package
	imports []*Package
	code    []byte
}

type section struct{ offs, size int }

func (r *PackageReader) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *PackageReader) bytes(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.pos+n > r.end {
		r.fail(ErrUnexpectedEOF)
		return nil
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b
}

func (r *PackageReader) u8() uint8 {
	if b := r.bytes(1); b != nil {
		return b[0]
	}
	return 0
}

func (r *PackageReader) u16() uint16 {
	if b := r.bytes(2); b != nil {
		return binary.LittleEndian.Uint16(b)
	}
	return 0
}

func (r *PackageReader) u32() uint32 {
	if b := r.bytes(4); b != nil {
		return binary.LittleEndian.Uint32(b)
	}
	return 0
}

func (r *PackageReader) i32() int32   { return int32(r.u32()) }
func (r *PackageReader) f32() float32 { return math.Float32frombits(r.u32()) }
func (r *PackageReader) bool() bool   { return r.u8() != 0 }

// count reads a list length, rejecting lengths that cannot fit the
// remaining section.
func (r *PackageReader) count() int {
	n := int(r.u32())
	if n > r.end-r.pos {
		r.fail(fmt.Errorf("%w: list length %d", ErrCorruptPackage, n))
		return 0
	}
	return n
}

func (r *PackageReader) str() string {
	offs := int(r.u32())
	if r.err != nil {
		return ""
	}
	s, err := r.pkg.Strings.String(offs)
	if err != nil {
		r.fail(err)
	}
	return s
}

func (r *PackageReader) enter(s section) {
	r.pos, r.end = s.offs, s.offs+s.size
}

func (r *PackageReader) ref() Member {
	slot := int(r.u16())
	idx := int(r.u32())
	if r.err != nil || slot == 0 {
		return nil
	}
	var owner *Package
	switch {
	case slot == 1:
		owner = r.pkg
	case slot-2 < len(r.imports):
		owner = r.imports[slot-2]
	default:
		r.fail(fmt.Errorf("%w: package slot %d", ErrCorruptPackage, slot))
		return nil
	}
	if idx >= len(owner.Members) {
		r.fail(fmt.Errorf("%w: member %d of %s", ErrCorruptPackage, idx, owner.Name))
		return nil
	}
	return owner.Members[idx]
}

// refAs reads a reference and checks its concrete type.
func refAs[T Member](r *PackageReader) T {
	var zero T
	m := r.ref()
	if m == nil {
		return zero
	}
	v, ok := m.(T)
	if !ok {
		r.fail(fmt.Errorf("%w: %s %s has unexpected kind", ErrCorruptPackage, m.MemberKind(), m.MemberName()))
		return zero
	}
	return v
}

func (r *PackageReader) location() Location {
	return Location{File: r.str(), Line: int(r.u32()), Column: int(r.u32())}
}

func (r *PackageReader) fieldType() FieldType {
	t := FieldType{
		Kind:           TypeKind(r.u8()),
		InnerKind:      TypeKind(r.u8()),
		ArrayInnerKind: TypeKind(r.u8()),
		PtrLevel:       int(r.u8()),
		ArrayDim:       r.i32(),
		BitMask:        r.u32(),
	}
	t.Class = refAs[*Class](r)
	t.Struct = refAs[*Struct](r)
	t.Delegate = refAs[*Method](r)
	if t.Kind >= numTypeKinds {
		r.fail(fmt.Errorf("%w: type kind %d", ErrCorruptPackage, t.Kind))
	}
	return t
}

func (r *PackageReader) value() Value {
	v := Value{Kind: ValueKind(r.u8())}
	switch v.Kind {
	case ValInt:
		v.Int = r.i32()
	case ValFloat:
		v.Float = r.f32()
	case ValName, ValString:
		v.Str = r.str()
	case ValClass:
		if c := refAs[*Class](r); c != nil {
			v.Ref = c
		}
	case ValState:
		if s := refAs[*State](r); s != nil {
			v.Ref = s
		}
	case ValMethod:
		if m := refAs[*Method](r); m != nil {
			v.Ref = m
		}
	case ValRef, ValPointer, ValArray:
	default:
		r.fail(fmt.Errorf("%w: value kind %d", ErrCorruptPackage, v.Kind))
	}
	return v
}

func (r *PackageReader) aliases(t *AliasTable) {
	n := r.count()
	for i := 0; i < n && r.err == nil; i++ {
		name, target := r.str(), r.str()
		t.Add(name, target, r.location())
	}
}

// ---------------------------------------------------------------------------
// Decoding
// ---------------------------------------------------------------------------

func (r *PackageReader) read() (*Package, error) {
	if len(r.data) < PackageHeaderSize {
		return nil, ErrUnexpectedEOF
	}
	r.end = len(r.data)
	if magic := r.bytes(4); string(magic) != string(PackageMagic[:]) {
		return nil, fmt.Errorf("%w: got %q", ErrInvalidMagic, magic)
	}
	if v := r.u32(); v != PackageVersion {
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrVersionMismatch, PackageVersion, v)
	}
	id, _ := uuid.FromBytes(r.bytes(16))
	nameOffs := int(r.u32())
	var sections [numSections]section
	for i := range sections {
		sections[i] = section{int(r.u32()), int(r.u32())}
		if sections[i].offs < PackageHeaderSize || sections[i].offs+sections[i].size > len(r.data) {
			return nil, fmt.Errorf("%w: section %d out of range", ErrCorruptPackage, i)
		}
	}

	s := sections[sectionStrings]
	pool, err := LoadStringPool(r.data[s.offs : s.offs+s.size])
	if err != nil {
		return nil, err
	}
	name, err := pool.String(nameOffs)
	if err != nil {
		return nil, err
	}
	r.pkg = NewPackage(name)
	r.pkg.Strings = pool
	r.pkg.BuildID = id.String()

	if err := r.readImports(sections[sectionImports]); err != nil {
		return nil, err
	}
	c := sections[sectionCode]
	r.code = r.data[c.offs : c.offs+c.size]
	if err := r.readMembers(sections[sectionMembers]); err != nil {
		return nil, err
	}

	r.enter(sections[sectionRefs])
	n := r.count()
	for i := 0; i < n && r.err == nil; i++ {
		m := r.ref()
		if m == nil && r.err == nil {
			r.fail(fmt.Errorf("%w: empty reference %d", ErrCorruptPackage, i))
		}
		r.pkg.RefIndex(m)
	}
	if r.err != nil {
		return nil, r.err
	}

	d := sections[sectionDebug]
	if err := unmarshalDebugInfo(r.data[d.offs:d.offs+d.size], r.pkg); err != nil {
		return nil, err
	}

	done := make(map[*Class]bool)
	for _, cls := range r.pkg.Classes {
		buildVTables(cls, done)
	}
	return r.pkg, nil
}

// readImports loads every imported package before any member is decoded.
func (r *PackageReader) readImports(s section) error {
	r.enter(s)
	n := r.count()
	for i := 0; i < n && r.err == nil; i++ {
		name := r.str()
		if r.err != nil {
			break
		}
		imp, err := r.loader.Load(name)
		if err != nil {
			return err
		}
		r.imports = append(r.imports, imp)
	}
	if r.err != nil {
		return r.err
	}
	// Imports listed only because a reference reaches them are still
	// imports of the package.
	r.pkg.Imports = append(r.pkg.Imports, r.imports...)
	return nil
}

type memberRecord struct {
	member  Member
	payload section
}

// readMembers creates every member first and decodes payloads in a second
// pass, so references may point forward.
func (r *PackageReader) readMembers(s section) error {
	r.enter(s)
	var records []memberRecord
	for r.pos < r.end && r.err == nil {
		kind := MemberKind(r.u8())
		name := r.str()
		outerIdx := int(r.u32())
		loc := r.location()
		size := int(r.u32())
		payload := section{r.pos, size}
		r.bytes(size)
		if r.err != nil {
			break
		}
		var outer Member = r.pkg
		if outerIdx > 0 {
			if outerIdx > len(records) {
				return fmt.Errorf("%w: %s declared before its owner", ErrCorruptPackage, name)
			}
			outer = records[outerIdx-1].member
		}
		m, err := newMember(kind, name, outer, loc)
		if err != nil {
			return err
		}
		records = append(records, memberRecord{member: m, payload: payload})
	}
	if r.err != nil {
		return r.err
	}

	// Owners' member lists are filled in definition order before payloads
	// are decoded; delegate signatures are told apart by their flags, so
	// methods attach after their payload.
	for _, rec := range records {
		if _, ok := rec.member.(*Method); !ok {
			r.pkg.AddMember(rec.member)
		} else {
			r.pkg.Members = append(r.pkg.Members, rec.member)
			rec.member.base().ExportIndex = len(r.pkg.Members) - 1
		}
	}
	for _, rec := range records {
		r.enter(rec.payload)
		r.decodePayload(rec.member)
		if r.err != nil {
			return r.err
		}
		if r.pos != r.end {
			return fmt.Errorf("%w: trailing bytes in %s", ErrCorruptPackage, rec.member.MemberName())
		}
		if m, ok := rec.member.(*Method); ok {
			r.pkg.attach(m)
		}
	}
	return nil
}

func newMember(kind MemberKind, name string, outer Member, loc Location) (Member, error) {
	switch kind {
	case MemberClass:
		return NewClass(name, outer, loc), nil
	case MemberStruct:
		return NewStruct(name, outer, loc), nil
	case MemberField:
		return &Field{MemberBase: MemberBase{Name: name, Outer: outer, Location: loc}}, nil
	case MemberProperty:
		return &Property{MemberBase: MemberBase{Name: name, Outer: outer, Location: loc}}, nil
	case MemberMethod:
		return NewMethod(name, outer, loc), nil
	case MemberState:
		return &State{MemberBase: MemberBase{Name: name, Outer: outer, Location: loc}}, nil
	case MemberConstant:
		return &Constant{MemberBase: MemberBase{Name: name, Outer: outer, Location: loc}}, nil
	}
	return nil, fmt.Errorf("%w: member kind %d", ErrCorruptPackage, kind)
}

func (r *PackageReader) decodePayload(m Member) {
	switch v := m.(type) {
	case *Class:
		r.classPayload(v)
	case *Struct:
		v.Parent = refAs[*Struct](r)
		v.ParentName = r.str()
		v.IsVector = r.bool()
		v.StackSize = int(r.u32())
		r.aliases(&v.Aliases)
		v.layout = layoutDone
	case *Field:
		v.Type = r.fieldType()
		v.Flags = FieldFlags(r.u16())
		v.Offset = int(r.u32())
	case *Property:
		v.Type = r.fieldType()
		v.GetFunc = refAs[*Method](r)
		v.SetFunc = refAs[*Method](r)
		v.ReadField = refAs[*Field](r)
		v.WriteField = refAs[*Field](r)
	case *Method:
		r.methodPayload(v)
	case *State:
		v.SpriteName = r.str()
		v.Frame = int(r.u8())
		v.Time = r.f32()
		v.Function = refAs[*Method](r)
		v.Next = refAs[*State](r)
		v.NextState = refAs[*State](r)
		v.GotoLabel = r.str()
		v.GotoOffset = int(r.i32())
		v.FuncName = r.str()
		v.InClassIndex = int(r.u32())
	case *Constant:
		v.Type = r.fieldType()
		v.IntValue = r.i32()
		v.FloatValue = r.f32()
		v.StrValue = r.str()
		v.EnumName = r.str()
		v.PrevEnumValue = refAs[*Constant](r)
	}
}

func (r *PackageReader) classPayload(c *Class) {
	c.Parent = refAs[*Class](r)
	c.ParentName = r.str()
	c.Flags = ClassFlags(r.u16())
	c.NumSlots = int(r.u32())
	c.layout = layoutDone

	n := r.count()
	for i := 0; i < n && r.err == nil; i++ {
		name := r.str()
		c.Labels = append(c.Labels, StateLabel{Name: name, State: refAs[*State](r)})
	}
	r.aliases(&c.Aliases)

	n = r.count()
	for i := 0; i < n && r.err == nil; i++ {
		ri := RepInfo{Reliable: r.bool(), Cond: refAs[*Method](r)}
		nf := r.count()
		for j := 0; j < nf && r.err == nil; j++ {
			ri.Fields = append(ri.Fields, refAs[*Field](r))
		}
		nm := r.count()
		for j := 0; j < nm && r.err == nil; j++ {
			ri.Methods = append(ri.Methods, refAs[*Method](r))
		}
		c.RepInfos = append(c.RepInfos, ri)
	}

	n = r.count()
	if n > 0 {
		c.Defaults = make([]Value, n)
		for i := 0; i < n && r.err == nil; i++ {
			c.Defaults[i] = r.value()
		}
	}
}

func (r *PackageReader) methodPayload(m *Method) {
	m.ReturnType = r.fieldType()
	m.Flags = MethodFlags(r.u16())
	n := r.count()
	for i := 0; i < n && r.err == nil; i++ {
		p := Param{Name: r.str()}
		p.Type = r.fieldType()
		p.Flags = ParamFlags(r.u8())
		p.Location = r.location()
		m.Params = append(m.Params, p)
	}
	m.ParamsSize = int(r.u32())
	m.NumLocals = int(r.u32())
	offs, size := int(r.u32()), int(r.u32())
	if r.err != nil {
		return
	}
	if offs+size > len(r.code) {
		r.fail(fmt.Errorf("%w: code of %s out of range", ErrCorruptPackage, m.Name))
		return
	}
	if size > 0 {
		m.Code = append([]byte(nil), r.code[offs:offs+size]...)
	}
}

// buildVTables builds parent tables before their children's.
func buildVTables(c *Class, done map[*Class]bool) {
	if c == nil || done[c] {
		return
	}
	done[c] = true
	if c.Parent != nil && PackageOf(c.Parent) == PackageOf(c) {
		buildVTables(c.Parent, done)
	}
	c.BuildVTable()
}

// LoadPackageFile reads a package file, resolving imports through loader.
func LoadPackageFile(path string, loader *PackageLoader) (*Package, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return UnmarshalPackage(data, loader)
}
