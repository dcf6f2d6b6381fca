// Package probe implements heuristic scanners that locate runtime
// singletons with no symbol to
// look up, by testing candidate memory layouts against structural
// invariants and accepting the first full match.
package probe

import (
	"github.com/xyproto/corescope/internal/addrspace"
	"github.com/xyproto/corescope/internal/block"
	"github.com/xyproto/corescope/internal/corerr"
	"github.com/xyproto/corescope/internal/memref"
)

// SerializedLogBufferLayout names the fields this probe validates,
// relative to a candidate SerializedLogBuffer's own address. logd's
// exact member order isn't available to ground this on byte-for-byte;
// the defaults below reflect the constructor order the target source
// documents ("new SerializedLogBuffer(&reader_list, &log_tags,
// &log_statistics)") laid out immediately after a single vtable word.
type SerializedLogBufferLayout struct {
	VtableSlots int // number of virtual method slots to validate
	ReaderList  int // byte offset of the reader_list member
	Tags        int // byte offset of the tags member
	Stats       int // byte offset of the stats member
	HeaderSize  int // total candidate size, for the block-boundary scan bound
}

// DefaultSerializedLogBufferLayout is this package's best-effort guess
// at logd's SerializedLogBuffer layout on a 64-bit target: one vtable
// pointer followed by three member pointers.
func DefaultSerializedLogBufferLayout(ptrSize int) SerializedLogBufferLayout {
	return SerializedLogBufferLayout{
		VtableSlots: 4,
		ReaderList:  ptrSize * 1,
		Tags:        ptrSize * 2,
		Stats:       ptrSize * 3,
		HeaderSize:  ptrSize * 4,
	}
}

// FindSerializedLogBuffer scans every writable load block for a
// pointer-aligned candidate whose vtable slots all fall within
// execText's virtual range and whose reader_list/tags/stats members
// all fall within execWritable's virtual range. Returns the address of
// the first candidate to pass every check.
func FindSerializedLogBuffer(space *addrspace.Space, ptrSize int, execText, execWritable *block.LoadBlock, layout SerializedLogBufferLayout) (uint64, error) {
	if execText == nil || execWritable == nil {
		return 0, &corerr.NotFound{Kind: "main executable module", Name: "text/writable segment"}
	}

	var found uint64
	var hit bool
	space.ForEach(func(b *block.LoadBlock) bool {
		if !b.Flags.Writable() {
			return true
		}
		for addr := b.Vaddr; addr+uint64(layout.HeaderSize) < b.End(); addr += uint64(ptrSize) {
			if candidateMatches(space, ptrSize, addr, execText, execWritable, layout) {
				found = addr
				hit = true
				return false
			}
		}
		return true
	})
	if !hit {
		return 0, &corerr.NotFound{Kind: "runtime structure", Name: "SerializedLogBuffer"}
	}
	return found, nil
}

func candidateMatches(space *addrspace.Space, ptrSize int, addr uint64, execText, execWritable *block.LoadBlock, layout SerializedLogBufferLayout) bool {
	vtbl, err := readWord(space, ptrSize, addr)
	if err != nil || vtbl == 0 {
		return false
	}
	for k := 0; k < layout.VtableSlots; k++ {
		slot, err := readWord(space, ptrSize, vtbl+uint64(k*ptrSize))
		if err != nil || !execText.Contains(slot) {
			return false
		}
	}

	readerList, err := readWord(space, ptrSize, addr+uint64(layout.ReaderList))
	if err != nil || !execWritable.Contains(readerList) {
		return false
	}
	tags, err := readWord(space, ptrSize, addr+uint64(layout.Tags))
	if err != nil || !execWritable.Contains(tags) {
		return false
	}
	stats, err := readWord(space, ptrSize, addr+uint64(layout.Stats))
	if err != nil || !execWritable.Contains(stats) {
		return false
	}
	return true
}

func readWord(space *addrspace.Space, ptrSize int, addr uint64) (uint64, error) {
	ref := memref.New(space, addr)
	if ptrSize == 8 {
		return ref.U64(0)
	}
	v, err := ref.U32(0)
	return uint64(v), err
}
