package vm

import (
	"bytes"
	"fmt"
	"hash/fnv"
)

// StringPool is the deduplicated string table of a package. Strings are
// stored NUL-terminated and padded to four bytes; offset 0 is the empty
// string. Lookup uses 256 hash buckets chained through stringInfo.next.
type StringPool struct {
	data   []byte
	infos  []stringInfo
	lookup [256]int
}

type stringInfo struct {
	offs int
	next int
}

// NewStringPool returns a pool holding only the empty string.
func NewStringPool() *StringPool {
	return &StringPool{
		data:  make([]byte, 4),
		infos: make([]stringInfo, 1), // index 0 terminates chains
	}
}

func stringHash(s string) int {
	h := fnv.New32a()
	h.Write([]byte(s))
	return int(h.Sum32() & 0xff)
}

// FindString returns the offset of s, adding it when absent.
func (p *StringPool) FindString(s string) int {
	if s == "" {
		return 0
	}
	hash := stringHash(s)
	for i := p.lookup[hash]; i != 0; i = p.infos[i].next {
		if p.at(p.infos[i].offs) == s {
			return p.infos[i].offs
		}
	}
	offs := len(p.data)
	p.infos = append(p.infos, stringInfo{offs: offs, next: p.lookup[hash]})
	p.lookup[hash] = len(p.infos) - 1
	size := (len(s) + 4) &^ 3
	p.data = append(p.data, make([]byte, size)...)
	copy(p.data[offs:], s)
	return offs
}

func (p *StringPool) at(offs int) string {
	end := bytes.IndexByte(p.data[offs:], 0)
	if end < 0 {
		return string(p.data[offs:])
	}
	return string(p.data[offs : offs+end])
}

// String returns the string stored at offs.
func (p *StringPool) String(offs int) (string, error) {
	if offs < 0 || offs >= len(p.data) || offs&3 != 0 {
		return "", fmt.Errorf("%w: string offset %d", ErrCorruptPackage, offs)
	}
	return p.at(offs), nil
}

// Count returns the number of distinct non-empty strings.
func (p *StringPool) Count() int { return len(p.infos) - 1 }

// Bytes returns the serialized pool.
func (p *StringPool) Bytes() []byte { return p.data }

// LoadStringPool rebuilds a pool from its serialized form. Every string is
// re-interned and must land on the offset it was read from.
func LoadStringPool(data []byte) (*StringPool, error) {
	if len(data) < 4 || len(data)&3 != 0 || data[0] != 0 {
		return nil, fmt.Errorf("%w: malformed string pool", ErrCorruptPackage)
	}
	p := NewStringPool()
	offs := 4
	for offs < len(data) {
		end := bytes.IndexByte(data[offs:], 0)
		if end <= 0 {
			return nil, fmt.Errorf("%w: unterminated string at %d", ErrCorruptPackage, offs)
		}
		s := string(data[offs : offs+end])
		if got := p.FindString(s); got != offs {
			return nil, fmt.Errorf("%w: string %q at %d reinterned at %d", ErrCorruptPackage, s, offs, got)
		}
		offs += (end + 4) &^ 3
	}
	if !bytes.Equal(p.data, data) {
		return nil, fmt.Errorf("%w: string pool mismatch", ErrCorruptPackage)
	}
	return p, nil
}
