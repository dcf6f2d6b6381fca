package addrspace

import (
	"testing"

	"github.com/xyproto/corescope/internal/arch"
	"github.com/xyproto/corescope/internal/block"
)

func TestAddAndFind(t *testing.T) {
	core := make([]byte, 0x4000)
	s := New(arch.X86_64, core)

	b1 := &block.LoadBlock{Flags: block.FlagR, Offset: 0, Vaddr: 0x1000, FileSize: 0x1000, MemSize: 0x1000}
	b2 := &block.LoadBlock{Flags: block.FlagR, Offset: 0x1000, Vaddr: 0x3000, FileSize: 0x1000, MemSize: 0x1000}

	if err := s.Add(b1); err != nil {
		t.Fatalf("Add b1: %v", err)
	}
	if err := s.Add(b2); err != nil {
		t.Fatalf("Add b2: %v", err)
	}

	if got := s.Find(0x1500); got != b1 {
		t.Errorf("Find(0x1500) = %v, want b1", got)
	}
	if got := s.Find(0x3500); got != b2 {
		t.Errorf("Find(0x3500) = %v, want b2", got)
	}
	if got := s.Find(0x2000); got != nil {
		t.Errorf("Find(0x2000) in the gap should be nil, got %v", got)
	}
}

func TestAddRejectsOverlap(t *testing.T) {
	s := New(arch.X86_64, make([]byte, 0x2000))
	b1 := &block.LoadBlock{Vaddr: 0x1000, MemSize: 0x1000}
	if err := s.Add(b1); err != nil {
		t.Fatalf("Add b1: %v", err)
	}
	overlap := &block.LoadBlock{Vaddr: 0x1800, MemSize: 0x1000}
	if err := s.Add(overlap); err == nil {
		t.Error("expected AddressSpaceOverlap for overlapping block")
	}
	swallowing := &block.LoadBlock{Vaddr: 0x800, MemSize: 0x1000}
	if err := s.Add(swallowing); err == nil {
		t.Error("expected AddressSpaceOverlap for a block swallowing b1's start")
	}
}

func TestTranslateFromCoreBytes(t *testing.T) {
	core := make([]byte, 0x2000)
	core[0x10] = 0xAB
	s := New(arch.X86_64, core)

	b := &block.LoadBlock{Flags: block.FlagR, Offset: 0, Vaddr: 0x1000, FileSize: 0x20, MemSize: 0x1000}
	if err := s.Add(b); err != nil {
		t.Fatalf("Add: %v", err)
	}

	data, err := s.Translate(0x1010)
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if len(data) == 0 || data[0] != 0xAB {
		t.Errorf("Translate(0x1010)[0] = %v, want 0xAB", data[0])
	}
}

func TestTranslateReadsZeroPastFileSizeUnlessTruncated(t *testing.T) {
	core := make([]byte, 0x1000)
	s := New(arch.X86_64, core)

	b := &block.LoadBlock{Flags: block.FlagR | block.FlagW, Offset: 0, Vaddr: 0x1000, FileSize: 0x10, MemSize: 0x1000}
	if err := s.Add(b); err != nil {
		t.Fatalf("Add: %v", err)
	}
	data, err := s.Translate(0x1500)
	if err != nil {
		t.Fatalf("Translate past file size (not truncated): %v", err)
	}
	if len(data) == 0 || data[0] != 0 {
		t.Error("expected zero-filled bytes past file size for a non-truncated block")
	}

	b.Truncated = true
	if _, err := s.Translate(0x1500); err == nil {
		t.Error("expected an error reading past file size on a truncated block")
	}
}

func TestVabitsMaskAppliedOnTranslate(t *testing.T) {
	core := make([]byte, 0x2000)
	s := New(arch.AArch64, core)
	b := &block.LoadBlock{Flags: block.FlagR, Offset: 0, Vaddr: 0x1000, FileSize: 0x1000, MemSize: 0x1000}
	if err := s.Add(b); err != nil {
		t.Fatalf("Add: %v", err)
	}
	tagged := uint64(0xBF00000000001010)
	if _, err := s.Translate(tagged); err != nil {
		t.Fatalf("Translate with AArch64 tag bits: %v", err)
	}
}
