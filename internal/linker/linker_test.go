package linker

import (
	"encoding/binary"
	"testing"

	"github.com/xyproto/corescope/internal/addrspace"
	"github.com/xyproto/corescope/internal/arch"
	"github.com/xyproto/corescope/internal/block"
)

// buildSyntheticProcess lays out a minimal x86_64 process image in a
// single load block: a small ELF Phdr table (one PT_DYNAMIC entry), a
// dynamic table (DT_DEBUG/STRTAB/SYMTAB/SYMENT/NULL), an r_debug
// struct, a two-entry link_map chain, and one object's symbol/string
// tables, so Build/Lookup/Nice can be exercised without parsing a real
// core file.
func buildSyntheticProcess(t *testing.T) (*addrspace.Space, []block.AuxvEntry) {
	t.Helper()
	const base = 0x400000
	const size = 0x2000
	order := binary.LittleEndian
	mem := make([]byte, size)

	put64 := func(off int, v uint64) { order.PutUint64(mem[off:], v) }
	put32 := func(off int, v uint32) { order.PutUint32(mem[off:], v) }

	// --- Phdr table at +0x000: two Elf64_Phdr entries. Entry 0 is a
	// PT_PHDR-like entry with link-time p_vaddr 0, so the executable's
	// load bias (AT_PHDR's runtime address minus that link-time vaddr)
	// comes out to exactly `base`. Entry 1 is PT_DYNAMIC at link-time
	// p_vaddr 0x100, so its runtime address (bias + 0x100) lands on the
	// dynamic table laid out at dynOff below.
	const phdrOff = 0x000
	const phent = 56
	const ptDynamicVaddr = 0x100

	put32(phdrOff+0, 6) // p_type: PT_PHDR (bias-recovery entry, not PT_DYNAMIC)
	put32(phdrOff+4, 0) // p_flags
	put64(phdrOff+8, 0) // p_offset
	put64(phdrOff+16, 0)
	put64(phdrOff+24, 0)
	put64(phdrOff+32, 0)
	put64(phdrOff+40, 0)
	put64(phdrOff+48, 0)

	const phdr1Off = phdrOff + phent
	put32(phdr1Off+0, ptDynamic)
	put32(phdr1Off+4, 0)
	put64(phdr1Off+8, 0)
	put64(phdr1Off+16, ptDynamicVaddr)
	put64(phdr1Off+24, 0)
	put64(phdr1Off+32, 0)
	put64(phdr1Off+40, 0)
	put64(phdr1Off+48, 0)

	// --- Dynamic table at +0x100: DT_STRTAB, DT_SYMTAB, DT_SYMENT,
	// DT_DEBUG, DT_NULL. Strtab sits after symtab so the symbol-count
	// heuristic (strtab - symtab) / syment yields a positive count.
	const dynOff = 0x100
	const symtabVal = 0x200
	const strtabVal = 0x300
	const symentVal = 24
	const rDebugAddr = base + 0x500

	entries := []struct{ tag, val uint64 }{
		{dtStrtab, strtabVal},
		{dtSymtab, symtabVal},
		{dtSyment, symentVal},
		{dtDebug, rDebugAddr},
		{dtNull, 0},
	}
	for i, e := range entries {
		put64(dynOff+i*16, e.tag)
		put64(dynOff+i*16+8, e.val)
	}

	// --- r_debug at +0x500: { int r_version; <pad>; Addr r_map; ... }
	const rDebugOff = 0x500
	put64(rDebugOff+8, base+0x600) // r_map (link_map head), after 8-byte padded r_version

	// --- link_map chain at +0x600 (obj A) and +0x700 (obj B).
	const lmA = 0x600
	const lmB = 0x700
	const nameA = 0x800
	const nameB = 0x900

	put64(lmA+0, base)         // l_addr
	put64(lmA+8, base+nameA)   // l_name
	put64(lmA+16, base+dynOff) // l_ld
	put64(lmA+24, base+lmB)    // l_next

	put64(lmB+0, base+0x1000) // l_addr (a distinct load base)
	put64(lmB+8, base+nameB)  // l_name
	put64(lmB+16, base+dynOff+0x1000)
	put64(lmB+24, 0) // l_next: end of chain

	copy(mem[nameA:], "/bin/app\x00")
	copy(mem[nameB:], "libfoo.so\x00")

	// --- object A's string/symbol tables, at strtabVal/symtabVal
	// (relative to l_addr == base, so absolute == base+strtabVal).
	copy(mem[strtabVal:], "\x00main\x00")
	// one Elf64_Sym: st_name, st_info, st_other, st_shndx, st_value, st_size
	const mainNameOff = 1 // after the leading NUL
	put32(symtabVal+0, mainNameOff)
	mem[symtabVal+4] = 0x12 // STT_FUNC (2) | STB_GLOBAL<<4
	mem[symtabVal+5] = 0
	order.PutUint16(mem[symtabVal+6:], 0)
	put64(symtabVal+8, 0x1234) // st_value

	// A single load block covering the whole synthetic image, backed
	// directly by mem as the space's core bytes.
	space := addrspace.New(arch.X86_64, mem)
	lb := &block.LoadBlock{Flags: block.FlagR | block.FlagX, Offset: 0, Vaddr: base, FileSize: uint64(size), MemSize: uint64(size)}
	if err := space.Add(lb); err != nil {
		t.Fatalf("Add: %v", err)
	}

	auxv := []block.AuxvEntry{
		{Type: atPHDR, Value: base + phdrOff},
		{Type: atPHENT, Value: phent},
		{Type: atPHNUM, Value: 2},
	}
	return space, auxv
}

func TestBuildAndLookup(t *testing.T) {
	space, auxv := buildSyntheticProcess(t)
	view, err := Build(space, arch.X86_64, auxv)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(view.Objects) != 2 {
		t.Fatalf("expected 2 link-map objects, got %d: %+v", len(view.Objects), view.Objects)
	}
	if view.Objects[0].Name != "/bin/app" {
		t.Errorf("Objects[0].Name = %q, want /bin/app", view.Objects[0].Name)
	}
	if view.Objects[1].Name != "libfoo.so" {
		t.Errorf("Objects[1].Name = %q, want libfoo.so", view.Objects[1].Name)
	}

	addr, err := view.Lookup("main")
	if err != nil {
		t.Fatalf("Lookup(main): %v", err)
	}
	const base = 0x400000
	if addr != base+0x1234 {
		t.Errorf("Lookup(main) = 0x%x, want 0x%x", addr, base+0x1234)
	}

	if _, err := view.Lookup("nonexistent"); err == nil {
		t.Error("expected NotFound for an unresolvable symbol")
	}
}

func TestRoundDown(t *testing.T) {
	if roundDown(0x1234, 0x1000) != 0x1000 {
		t.Error("roundDown should floor to the alignment boundary")
	}
	if roundDown(0x1000, 0x1000) != 0x1000 {
		t.Error("roundDown of an aligned value should be a no-op")
	}
	if roundDown(5, 0) != 5 {
		t.Error("roundDown with zero align should be a no-op")
	}
}
