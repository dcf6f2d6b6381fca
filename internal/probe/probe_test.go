package probe

import (
	"encoding/binary"
	"testing"

	"github.com/xyproto/corescope/internal/addrspace"
	"github.com/xyproto/corescope/internal/arch"
	"github.com/xyproto/corescope/internal/block"
)

// buildProbeImage lays out a synthetic execText block (holding a 4-slot
// vtable whose entries point back into itself) and a writable block
// holding one real SerializedLogBuffer candidate plus a run of
// all-zero addresses ahead of it that must be rejected as false
// positives.
func buildProbeImage(t *testing.T) (*addrspace.Space, *block.LoadBlock, *block.LoadBlock) {
	t.Helper()
	const textBase = 0x500000
	const writableBase = 0x600000
	core := make([]byte, 0x3000)
	order := binary.LittleEndian

	// execText: a 4-entry vtable at textBase+0x100, entries pointing
	// within the text block's own range.
	const vtableAddr = textBase + 0x100
	for i := 0; i < 4; i++ {
		order.PutUint64(core[0x100+i*8:], uint64(textBase+0x10+i*8))
	}

	// writable: the real candidate at writableBase+0x100 (core offset
	// 0x1000 + 0x100), preceded by zero-filled addresses that must all
	// fail the vtbl!=0 check.
	const candOff = 0x1000 + 0x100
	order.PutUint64(core[candOff+0:], vtableAddr)          // vtbl
	order.PutUint64(core[candOff+8:], writableBase+0x50)   // reader_list
	order.PutUint64(core[candOff+16:], writableBase+0x60)  // tags
	order.PutUint64(core[candOff+24:], writableBase+0x70)  // stats

	space := addrspace.New(arch.X86_64, core)
	text := &block.LoadBlock{Flags: block.FlagR | block.FlagX, Offset: 0, Vaddr: textBase, FileSize: 0x1000, MemSize: 0x1000}
	writable := &block.LoadBlock{Flags: block.FlagR | block.FlagW, Offset: 0x1000, Vaddr: writableBase, FileSize: 0x2000, MemSize: 0x2000}
	if err := space.Add(text); err != nil {
		t.Fatalf("Add text: %v", err)
	}
	if err := space.Add(writable); err != nil {
		t.Fatalf("Add writable: %v", err)
	}
	return space, text, writable
}

func TestFindSerializedLogBuffer(t *testing.T) {
	space, text, writable := buildProbeImage(t)
	layout := DefaultSerializedLogBufferLayout(8)

	addr, err := FindSerializedLogBuffer(space, 8, text, writable, layout)
	if err != nil {
		t.Fatalf("FindSerializedLogBuffer: %v", err)
	}
	const want = 0x600000 + 0x100
	if addr != want {
		t.Errorf("FindSerializedLogBuffer() = 0x%x, want 0x%x", addr, want)
	}
}

func TestFindSerializedLogBufferNotFound(t *testing.T) {
	_, text, writable := buildProbeImage(t)
	// Rebuild the same two blocks over all-zero bytes, so no candidate
	// has a nonzero vtable pointer and nothing matches.
	zeroed := addrspace.New(arch.X86_64, make([]byte, 0x3000))
	textEmpty := &block.LoadBlock{Flags: block.FlagR | block.FlagX, Offset: 0, Vaddr: text.Vaddr, FileSize: 0x1000, MemSize: 0x1000}
	writableEmpty := &block.LoadBlock{Flags: block.FlagR | block.FlagW, Offset: 0x1000, Vaddr: writable.Vaddr, FileSize: 0x2000, MemSize: 0x2000}
	if err := zeroed.Add(textEmpty); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := zeroed.Add(writableEmpty); err != nil {
		t.Fatalf("Add: %v", err)
	}

	layout := DefaultSerializedLogBufferLayout(8)
	if _, err := FindSerializedLogBuffer(zeroed, 8, textEmpty, writableEmpty, layout); err == nil {
		t.Error("expected NotFound when no candidate matches")
	}
}

func TestFindSerializedLogBufferRequiresBothBlocks(t *testing.T) {
	space, text, _ := buildProbeImage(t)
	layout := DefaultSerializedLogBufferLayout(8)
	if _, err := FindSerializedLogBuffer(space, 8, text, nil, layout); err == nil {
		t.Error("expected NotFound when execWritable is nil")
	}
	if _, err := FindSerializedLogBuffer(space, 8, nil, nil, layout); err == nil {
		t.Error("expected NotFound when both blocks are nil")
	}
}
