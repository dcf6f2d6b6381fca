// Package memref implements the universal (address space, vaddr) handle
// every higher layer in corescope reads the target process through.
// It is deliberately a small value type, not a native pointer, because
// the underlying host mapping can move out from under it when a
// replacement mmap is attached to the owning block.
package memref

import (
	"encoding/binary"

	"github.com/xyproto/corescope/internal/corerr"
)

// Translator resolves a virtual address to the host bytes backing it.
// internal/addrspace.Space implements this; memref depends only on the
// interface so it never imports the address-space package directly.
type Translator interface {
	Translate(vaddr uint64) ([]byte, error)
}

// Ref is a read-only, freely copyable handle to a location in the
// target's virtual address space: a Translator plus a vaddr. It is not
// bound to a load block: constructing one does no address-space lookup,
// Add does not keep the result inside any block, and every read
// translates the current vaddr afresh.
type Ref struct {
	space Translator
	vaddr uint64
}

// New constructs a Ref at vaddr, against space. No translation happens
// until a read is actually requested.
func New(space Translator, vaddr uint64) Ref {
	return Ref{space: space, vaddr: vaddr}
}

// Vaddr returns the reference's current virtual address.
func (r Ref) Vaddr() uint64 { return r.vaddr }

// Add returns a new Ref offset by n bytes from r. Arithmetic is
// unchecked until the result is actually read.
func (r Ref) Add(n int64) Ref {
	return Ref{space: r.space, vaddr: uint64(int64(r.vaddr) + n)}
}

// Valid reports whether r's address currently translates to live host
// bytes.
func (r Ref) Valid() bool {
	_, err := r.space.Translate(r.vaddr)
	return err == nil
}

func (r Ref) bytesAt(off, n int) ([]byte, error) {
	data, err := r.space.Translate(r.vaddr)
	if err != nil {
		return nil, err
	}
	if off+n > len(data) {
		return nil, &corerr.InvalidAddress{Vaddr: r.vaddr + uint64(off)}
	}
	return data[off : off+n], nil
}

// U8 reads one byte at offset off from r.
func (r Ref) U8(off int) (uint8, error) {
	b, err := r.bytesAt(off, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// U16 reads a little-endian uint16 at offset off from r.
func (r Ref) U16(off int) (uint16, error) {
	b, err := r.bytesAt(off, 2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

// U32 reads a little-endian uint32 at offset off from r.
func (r Ref) U32(off int) (uint32, error) {
	b, err := r.bytesAt(off, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// U64 reads a little-endian uint64 at offset off from r.
func (r Ref) U64(off int) (uint64, error) {
	b, err := r.bytesAt(off, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// CString reads a NUL-terminated string starting at offset off from r,
// up to maxLen bytes.
func (r Ref) CString(off, maxLen int) (string, error) {
	data, err := r.space.Translate(r.vaddr)
	if err != nil {
		return "", err
	}
	if off >= len(data) {
		return "", &corerr.InvalidAddress{Vaddr: r.vaddr + uint64(off)}
	}
	end := off
	limit := len(data)
	if off+maxLen < limit {
		limit = off + maxLen
	}
	for end < limit && data[end] != 0 {
		end++
	}
	return string(data[off:end]), nil
}
