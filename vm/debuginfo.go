package vm

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// LineEntry maps the instruction at PC, and those after it up to the next
// entry, to a source line.
type LineEntry struct {
	PC   int `cbor:"1,keyasint"`
	Line int `cbor:"2,keyasint"`
}

// methodDebug is the debug record of one method, keyed by export index.
type methodDebug struct {
	Export int         `cbor:"1,keyasint"`
	Lines  []LineEntry `cbor:"2,keyasint,omitempty"`
}

// debugInfo is the CBOR-encoded debug section of a package.
type debugInfo struct {
	Methods []methodDebug `cbor:"1,keyasint"`
}

// Canonical encoding keeps the section byte-stable across writes.
var debugEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("vm: failed to create CBOR enc mode: %v", err))
	}
	debugEncMode = em
}

// AddLine records that code emitted from pc on belongs to line. Repeated
// lines and empty ranges are folded.
func (m *Method) AddLine(pc, line int) {
	if n := len(m.Lines); n > 0 {
		last := &m.Lines[n-1]
		if last.Line == line {
			return
		}
		if last.PC == pc {
			last.Line = line
			return
		}
	}
	m.Lines = append(m.Lines, LineEntry{PC: pc, Line: line})
}

func marshalDebugInfo(pkg *Package) ([]byte, error) {
	var info debugInfo
	for i, mem := range pkg.Members {
		meth, ok := mem.(*Method)
		if !ok || meth.IsNative() {
			continue
		}
		info.Methods = append(info.Methods, methodDebug{Export: i, Lines: meth.Lines})
	}
	return debugEncMode.Marshal(&info)
}

func unmarshalDebugInfo(data []byte, pkg *Package) error {
	var info debugInfo
	if err := cbor.Unmarshal(data, &info); err != nil {
		return fmt.Errorf("%w: debug info: %v", ErrCorruptPackage, err)
	}
	for _, md := range info.Methods {
		if md.Export < 0 || md.Export >= len(pkg.Members) {
			return fmt.Errorf("%w: debug info for member %d", ErrCorruptPackage, md.Export)
		}
		meth, ok := pkg.Members[md.Export].(*Method)
		if !ok {
			return fmt.Errorf("%w: debug info for non-method %d", ErrCorruptPackage, md.Export)
		}
		meth.Lines = md.Lines
	}
	return nil
}
