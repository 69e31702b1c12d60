package vm

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Package Format Constants
// ---------------------------------------------------------------------------

// PackageMagic identifies a compiled VavoomC package.
var PackageMagic = [4]byte{'V', 'P', 'R', 'G'}

// Package format version. Any layout change bumps it.
// v1: initial format
// v2: added replication info and field aliases to class records
// v3: moved line tables into a CBOR debug section
// v4: added build id and transitive import table
const PackageVersion uint32 = 4

// Section order in the header's section table.
const (
	sectionStrings = iota
	sectionImports
	sectionMembers
	sectionRefs
	sectionCode
	sectionDebug
	numSections
)

// magic(4) + version(4) + build id(16) + name(4) + sections(numSections*8)
const PackageHeaderSize = 28 + numSections*8

const buildIDOffset = 8

// buildNamespace seeds the name-based UUIDs used as build ids.
var buildNamespace = uuid.MustParse("5d0f6c1e-8b8a-4f3e-9a57-3c6b1f2e7d40")

// ---------------------------------------------------------------------------
// packageBuffer: little-endian section encoder
// ---------------------------------------------------------------------------

type packageBuffer struct {
	buf []byte
}

func (b *packageBuffer) u8(v uint8)   { b.buf = append(b.buf, v) }
func (b *packageBuffer) u16(v uint16) { b.buf = binary.LittleEndian.AppendUint16(b.buf, v) }
func (b *packageBuffer) u32(v uint32) { b.buf = binary.LittleEndian.AppendUint32(b.buf, v) }
func (b *packageBuffer) i32(v int32)  { b.u32(uint32(v)) }
func (b *packageBuffer) f32(v float32) {
	b.u32(math.Float32bits(v))
}

func (b *packageBuffer) bool(v bool) {
	if v {
		b.u8(1)
	} else {
		b.u8(0)
	}
}

// ---------------------------------------------------------------------------
// PackageWriter: serializes a compiled package
// ---------------------------------------------------------------------------

// PackageWriter encodes one package. Members are referenced as a package
// slot (0 none, 1 self, 2+i import i) and an export index.
type PackageWriter struct {
	pkg     *Package
	imports []*Package
	slot    map[*Package]int

	members packageBuffer
	code    packageBuffer
	err     error
}

// NewPackageWriter prepares a writer for pkg.
func NewPackageWriter(pkg *Package) *PackageWriter {
	w := &PackageWriter{pkg: pkg, slot: map[*Package]int{pkg: 1}}
	for _, imp := range pkg.Imports {
		w.addImport(imp)
	}
	return w
}

func (w *PackageWriter) addImport(p *Package) int {
	if s, ok := w.slot[p]; ok {
		return s
	}
	w.imports = append(w.imports, p)
	w.slot[p] = len(w.imports) + 1
	return w.slot[p]
}

func (w *PackageWriter) str(b *packageBuffer, s string) {
	b.u32(uint32(w.pkg.Strings.FindString(s)))
}

// ref encodes a reference to any member, extending the import table with
// packages that are only reached transitively.
func (w *PackageWriter) ref(b *packageBuffer, m Member) {
	if m == nil {
		b.u16(0)
		b.u32(0)
		return
	}
	owner := PackageOf(m)
	if owner == nil {
		w.fail(fmt.Errorf("member %s has no package", QualifiedName(m)))
		b.u16(0)
		b.u32(0)
		return
	}
	b.u16(uint16(w.addImport(owner)))
	b.u32(uint32(m.base().ExportIndex))
}

func (w *PackageWriter) fail(err error) {
	if w.err == nil {
		w.err = err
	}
}

func (w *PackageWriter) location(b *packageBuffer, loc Location) {
	w.str(b, loc.File)
	b.u32(uint32(loc.Line))
	b.u32(uint32(loc.Column))
}

func (w *PackageWriter) fieldType(b *packageBuffer, t FieldType) {
	b.u8(uint8(t.Kind))
	b.u8(uint8(t.InnerKind))
	b.u8(uint8(t.ArrayInnerKind))
	b.u8(uint8(t.PtrLevel))
	b.i32(t.ArrayDim)
	b.u32(t.BitMask)
	w.ref(b, memberOrNil(t.Class))
	w.ref(b, memberOrNil(t.Struct))
	w.ref(b, memberOrNil(t.Delegate))
}

func (w *PackageWriter) value(b *packageBuffer, v Value) {
	b.u8(uint8(v.Kind))
	switch v.Kind {
	case ValInt:
		b.i32(v.Int)
	case ValFloat:
		b.f32(v.Float)
	case ValName, ValString:
		w.str(b, v.Str)
	case ValClass:
		w.ref(b, memberOrNil(v.AsClass()))
	case ValState:
		w.ref(b, memberOrNil(v.AsState()))
	case ValMethod:
		w.ref(b, memberOrNil(v.AsMethod()))
	case ValRef, ValPointer, ValArray:
		// Defaults never hold live objects, pointers or array contents.
	}
}

func (w *PackageWriter) aliases(b *packageBuffer, t *AliasTable) {
	b.u32(uint32(len(t.list)))
	for _, a := range t.list {
		w.str(b, a.Name)
		w.str(b, a.Target)
		w.location(b, a.Location)
	}
}

// ---------------------------------------------------------------------------
// Member records
// ---------------------------------------------------------------------------

// writeMember appends kind, name, outer and location, then the payload
// prefixed with its size so that a reader can create every member before
// decoding any cross references.
func (w *PackageWriter) writeMember(m Member) {
	var head, body packageBuffer
	head.u8(uint8(m.MemberKind()))
	w.str(&head, m.MemberName())
	outer := 0
	if o := m.OuterMember(); o != nil && o.MemberKind() != MemberPackage {
		outer = o.base().ExportIndex + 1
	}
	head.u32(uint32(outer))
	w.location(&head, m.Loc())

	switch v := m.(type) {
	case *Class:
		w.classPayload(&body, v)
	case *Struct:
		w.ref(&body, memberOrNil(v.Parent))
		w.str(&body, v.ParentName)
		body.bool(v.IsVector)
		body.u32(uint32(v.StackSize))
		w.aliases(&body, &v.Aliases)
	case *Field:
		w.fieldType(&body, v.Type)
		body.u16(uint16(v.Flags))
		body.u32(uint32(v.Offset))
	case *Property:
		w.fieldType(&body, v.Type)
		w.ref(&body, memberOrNil(v.GetFunc))
		w.ref(&body, memberOrNil(v.SetFunc))
		w.ref(&body, memberOrNil(v.ReadField))
		w.ref(&body, memberOrNil(v.WriteField))
	case *Method:
		w.methodPayload(&body, v)
	case *State:
		w.str(&body, v.SpriteName)
		body.u8(uint8(v.Frame))
		body.f32(v.Time)
		w.ref(&body, memberOrNil(v.Function))
		w.ref(&body, memberOrNil(v.Next))
		w.ref(&body, memberOrNil(v.NextState))
		w.str(&body, v.GotoLabel)
		body.i32(int32(v.GotoOffset))
		w.str(&body, v.FuncName)
		body.u32(uint32(v.InClassIndex))
	case *Constant:
		w.fieldType(&body, v.Type)
		body.i32(v.IntValue)
		body.f32(v.FloatValue)
		w.str(&body, v.StrValue)
		w.str(&body, v.EnumName)
		w.ref(&body, memberOrNil(v.PrevEnumValue))
	default:
		w.fail(fmt.Errorf("cannot serialize %s %s", m.MemberKind(), m.MemberName()))
	}

	w.members.buf = append(w.members.buf, head.buf...)
	w.members.u32(uint32(len(body.buf)))
	w.members.buf = append(w.members.buf, body.buf...)
}

func (w *PackageWriter) classPayload(b *packageBuffer, c *Class) {
	w.ref(b, memberOrNil(c.Parent))
	w.str(b, c.ParentName)
	b.u16(uint16(c.Flags))
	b.u32(uint32(c.NumSlots))

	b.u32(uint32(len(c.Labels)))
	for _, l := range c.Labels {
		w.str(b, l.Name)
		w.ref(b, memberOrNil(l.State))
	}
	w.aliases(b, &c.Aliases)

	b.u32(uint32(len(c.RepInfos)))
	for _, ri := range c.RepInfos {
		b.bool(ri.Reliable)
		w.ref(b, memberOrNil(ri.Cond))
		b.u32(uint32(len(ri.Fields)))
		for _, f := range ri.Fields {
			w.ref(b, f)
		}
		b.u32(uint32(len(ri.Methods)))
		for _, m := range ri.Methods {
			w.ref(b, m)
		}
	}

	b.u32(uint32(len(c.Defaults)))
	for _, v := range c.Defaults {
		w.value(b, v)
	}
}

func (w *PackageWriter) methodPayload(b *packageBuffer, m *Method) {
	w.fieldType(b, m.ReturnType)
	b.u16(uint16(m.Flags))
	b.u32(uint32(len(m.Params)))
	for _, p := range m.Params {
		w.str(b, p.Name)
		w.fieldType(b, p.Type)
		b.u8(uint8(p.Flags))
		w.location(b, p.Location)
	}
	b.u32(uint32(m.ParamsSize))
	b.u32(uint32(m.NumLocals))
	b.u32(uint32(len(w.code.buf)))
	b.u32(uint32(len(m.Code)))
	w.code.buf = append(w.code.buf, m.Code...)
}

// ---------------------------------------------------------------------------
// Assembly
// ---------------------------------------------------------------------------

// Bytes encodes the package. Encoding is deterministic: writing a package
// read back from these bytes reproduces them exactly.
func (w *PackageWriter) Bytes() ([]byte, error) {
	for _, m := range w.pkg.Members {
		w.writeMember(m)
	}

	var refs packageBuffer
	refs.u32(uint32(len(w.pkg.Refs)))
	for _, m := range w.pkg.Refs {
		w.ref(&refs, m)
	}

	debug, err := marshalDebugInfo(w.pkg)
	if err != nil {
		return nil, fmt.Errorf("encode debug info: %w", err)
	}

	// The import table is complete only after every reference was encoded.
	var imports packageBuffer
	imports.u32(uint32(len(w.imports)))
	for _, imp := range w.imports {
		w.str(&imports, imp.Name)
	}
	nameOffs := w.pkg.Strings.FindString(w.pkg.Name)
	if w.err != nil {
		return nil, w.err
	}

	sections := [numSections][]byte{
		sectionStrings: w.pkg.Strings.Bytes(),
		sectionImports: imports.buf,
		sectionMembers: w.members.buf,
		sectionRefs:    refs.buf,
		sectionCode:    w.code.buf,
		sectionDebug:   debug,
	}

	out := packageBuffer{buf: make([]byte, 0, PackageHeaderSize+len(w.members.buf)+len(w.code.buf))}
	out.buf = append(out.buf, PackageMagic[:]...)
	out.u32(PackageVersion)
	out.buf = append(out.buf, make([]byte, 16)...) // build id, patched below
	out.u32(uint32(nameOffs))
	offs := PackageHeaderSize
	for _, s := range sections {
		out.u32(uint32(offs))
		out.u32(uint32(len(s)))
		offs += len(s)
	}
	for _, s := range sections {
		out.buf = append(out.buf, s...)
	}

	id := uuid.NewSHA1(buildNamespace, out.buf[buildIDOffset+16:])
	copy(out.buf[buildIDOffset:], id[:])
	w.pkg.BuildID = id.String()
	return out.buf, nil
}

// MarshalPackage encodes pkg in the package format.
func MarshalPackage(pkg *Package) ([]byte, error) {
	return NewPackageWriter(pkg).Bytes()
}

// WritePackage encodes pkg to out.
func WritePackage(out io.Writer, pkg *Package) error {
	data, err := MarshalPackage(pkg)
	if err != nil {
		return err
	}
	_, err = out.Write(data)
	return err
}

// SavePackage writes pkg to the file at path.
func SavePackage(path string, pkg *Package) error {
	data, err := MarshalPackage(pkg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// memberOrNil converts a typed member pointer into a Member, mapping nil
// pointers to a nil interface.
func memberOrNil[T interface {
	*Class | *Struct | *Method | *State | *Field | *Constant
	Member
}](m T) Member {
	if m == nil {
		return nil
	}
	return m
}
