// Package linker reconstructs the dynamic linker's view of a process:
// it walks AT_PHDR -> PT_DYNAMIC -> DT_DEBUG -> r_debug -> link_map in the
// target's own address space to enumerate every loaded object, and
// resolves symbols against each object's dynamic symbol table.
package linker

import (
	"github.com/xyproto/corescope/internal/addrspace"
	"github.com/xyproto/corescope/internal/arch"
	"github.com/xyproto/corescope/internal/block"
	"github.com/xyproto/corescope/internal/corerr"
	"github.com/xyproto/corescope/internal/memref"
)

// DT_ dynamic-table tags this package reads. Named after the ELF spec's
// own constants rather than renumbered, since they're cross-referenced
// directly against readelf -d output while debugging a target.
const (
	dtNull   = 0
	dtStrtab = 5
	dtSymtab = 6
	dtDebug  = 21
	dtSyment = 11
	dtVersym = 0x6ffffff0
)

const (
	atPHDR  = 3
	atPHENT = 4
	atPHNUM = 5
)

// ptDynamic is the PT_DYNAMIC program header type.
const ptDynamic = 2

// Object is one entry in the target's link_map chain: a loaded ELF
// image (the main executable, a shared object, or the vDSO).
type Object struct {
	LoadBase uint64
	Name     string
	DynPtr   uint64 // l_ld: address of the object's PT_DYNAMIC table
}

// View is the reconstructed dynamic-linker state: every object current
// at dump time, in link_map order.
type View struct {
	space   *addrspace.Space
	machine arch.Machine
	Objects []Object
}

// Build walks AT_PHDR/DT_DEBUG/r_debug/link_map starting from the
// auxiliary vector, using space to read the target's own memory.
func Build(space *addrspace.Space, machine arch.Machine, auxv []block.AuxvEntry) (*View, error) {
	v := &View{space: space, machine: machine}

	var phdr, phent, phnum uint64
	for _, e := range auxv {
		switch e.Type {
		case atPHDR:
			phdr = e.Value
		case atPHENT:
			phent = e.Value
		case atPHNUM:
			phnum = e.Value
		}
	}
	if phdr == 0 {
		return v, &corerr.NotFound{Kind: "auxv", Name: "AT_PHDR"}
	}

	ptrSize := machine.PointerBits() / 8
	dynAddr, err := findDynamicPhdr(space, ptrSize, phdr, phent, phnum)
	if err != nil {
		return v, err
	}
	if dynAddr == 0 {
		return v, &corerr.NotFound{Kind: "program header", Name: "PT_DYNAMIC"}
	}

	rDebugAddr, err := findDynTag(space, ptrSize, dynAddr, dtDebug)
	if err != nil || rDebugAddr == 0 {
		return v, &corerr.NotFound{Kind: "dynamic tag", Name: "DT_DEBUG"}
	}

	// struct r_debug { int r_version; ElfW(Addr) r_map; ... } — r_map
	// sits after a word-aligned int, i.e. at one pointer-width offset
	// regardless of bitness (the compiler pads r_version to ptrSize).
	ref := memref.New(space, rDebugAddr)
	linkMapHead, err := readWord(ref, ptrSize, ptrSize)
	if err != nil {
		return v, err
	}

	cur := linkMapHead
	seen := make(map[uint64]bool)
	for cur != 0 && !seen[cur] {
		seen[cur] = true
		obj, next, err := readLinkMapEntry(space, ptrSize, cur)
		if err != nil {
			break
		}
		v.Objects = append(v.Objects, obj)
		cur = next
	}
	return v, nil
}

// readLinkMapEntry reads one struct link_map:
//
//	ElfW(Addr) l_addr;
//	char*      l_name;
//	ElfW(Dyn)* l_ld;
//	struct link_map *l_next, *l_prev;
func readLinkMapEntry(space *addrspace.Space, ptrSize int, addr uint64) (Object, uint64, error) {
	ref := memref.New(space, addr)
	lAddr, err := readWord(ref, ptrSize, 0)
	if err != nil {
		return Object{}, 0, err
	}
	lNamePtr, err := readWord(ref, ptrSize, ptrSize)
	if err != nil {
		return Object{}, 0, err
	}
	lLd, err := readWord(ref, ptrSize, ptrSize*2)
	if err != nil {
		return Object{}, 0, err
	}
	lNext, err := readWord(ref, ptrSize, ptrSize*3)
	if err != nil {
		return Object{}, 0, err
	}

	name := ""
	if lNamePtr != 0 {
		nameRef := memref.New(space, lNamePtr)
		if s, err := nameRef.CString(0, 4096); err == nil {
			name = s
		}
	}
	return Object{LoadBase: lAddr, Name: name, DynPtr: lLd}, lNext, nil
}

// findDynamicPhdr scans phnum program headers of phent bytes each,
// starting at phdr, for the PT_DYNAMIC entry and returns its runtime
// address (phdr's own mapping base + p_vaddr, per the original's
// "phdr.Ptr() - phdr.p_vaddr() + tmp.p_vaddr()" derivation: AT_PHDR is
// itself mapped at its link-time p_vaddr plus the executable's load
// bias, so that bias is recovered from AT_PHDR's own segment).
func findDynamicPhdr(space *addrspace.Space, ptrSize int, phdr, phent, phnum uint64) (uint64, error) {
	if space.Find(phdr) == nil {
		return 0, &corerr.InvalidAddress{Vaddr: phdr}
	}

	// The main executable's load bias is recovered from its own first
	// program header entry (conventionally PT_PHDR, describing the
	// table AT_PHDR itself points at): bias = AT_PHDR(runtime) -
	// p_vaddr(link-time) of that first entry. A PT_DYNAMIC entry's
	// runtime address is then bias + its own p_vaddr.
	firstVaddr, err := readPhdrVaddr(space, ptrSize, phdr)
	if err != nil {
		return 0, err
	}
	bias := phdr - firstVaddr

	for i := uint64(0); i < phnum; i++ {
		entry := phdr + i*phent
		ref := memref.New(space, entry)
		typ, err := readWord(ref, 4, 0)
		if err != nil {
			return 0, err
		}
		if typ == ptDynamic {
			vaddr, err := readPhdrVaddr(space, ptrSize, entry)
			if err != nil {
				return 0, err
			}
			return bias + vaddr, nil
		}
	}
	return 0, nil
}

// readPhdrVaddr reads p_vaddr from an Elf32_Phdr or Elf64_Phdr at addr.
//
// Elf32_Phdr: p_type(4) p_offset(4) p_vaddr(4) p_paddr(4) ...
// Elf64_Phdr: p_type(4) p_flags(4) p_offset(8) p_vaddr(8) p_paddr(8) ...
func readPhdrVaddr(space *addrspace.Space, ptrSize int, addr uint64) (uint64, error) {
	ref := memref.New(space, addr)
	if ptrSize == 4 {
		return readWord(ref, 4, 8)
	}
	return readWord(ref, 8, 16)
}

// findDynTag scans the dynamic table at dynAddr for the first entry
// whose d_tag equals tag, returning its d_val/d_ptr. Entries are
// (tag, val) pairs each ptrSize*2 bytes; the table ends at DT_NULL.
func findDynTag(space *addrspace.Space, ptrSize int, dynAddr uint64, tag uint64) (uint64, error) {
	step := ptrSize * 2
	for i := 0; ; i++ {
		entry := dynAddr + uint64(i*step)
		ref := memref.New(space, entry)
		d, err := readWord(ref, ptrSize, 0)
		if err != nil {
			return 0, err
		}
		if d == dtNull {
			return 0, nil
		}
		if d == tag {
			return readWord(ref, ptrSize, ptrSize)
		}
	}
}

func readWord(ref memref.Ref, ptrSize, off int) (uint64, error) {
	if ptrSize == 8 {
		return ref.U64(off)
	}
	v, err := ref.U32(off)
	return uint64(v), err
}

// DynamicTable locates an object's PT_DYNAMIC, preferring its cached
// l_ld pointer and falling back to re-parsing its own program headers
// at its load base when l_ld is unset.
func (v *View) DynamicTable(obj Object) (uint64, error) {
	if obj.DynPtr != 0 {
		return obj.DynPtr, nil
	}
	ptrSize := v.machine.PointerBits() / 8
	ehdrRef := memref.New(v.space, obj.LoadBase)
	phoff, err := readWord(ehdrRef, ptrSize, ehdrPhoffOffset(ptrSize))
	if err != nil {
		return 0, err
	}
	phnum, err := ehdrRef.U16(ehdrPhnumOffset(ptrSize))
	if err != nil {
		return 0, err
	}
	phentsz := uint64(32)
	if ptrSize == 8 {
		phentsz = 56
	}
	phdrBase := obj.LoadBase + phoff
	for i := uint64(0); i < uint64(phnum); i++ {
		entry := phdrBase + i*phentsz
		ref := memref.New(v.space, entry)
		typ, err := readWord(ref, 4, 0)
		if err != nil {
			return 0, err
		}
		if typ == ptDynamic {
			vaddr, err := readPhdrVaddr(v.space, ptrSize, entry)
			if err != nil {
				return 0, err
			}
			return obj.LoadBase + vaddr, nil
		}
	}
	return 0, &corerr.NotFound{Kind: "program header", Name: "PT_DYNAMIC"}
}

func ehdrPhoffOffset(ptrSize int) int {
	if ptrSize == 8 {
		return 32
	}
	return 28
}

func ehdrPhnumOffset(ptrSize int) int {
	if ptrSize == 8 {
		return 56
	}
	return 44
}

// symbolTable resolves an object's DT_STRTAB/DT_SYMTAB/DT_SYMENT/
// DT_VERSYM and the inferred symbol count.
type symbolTable struct {
	strtab, symtab uint64
	syment         uint64
	count          int64
}

func (v *View) resolveSymbolTable(obj Object) (symbolTable, error) {
	var st symbolTable
	if obj.LoadBase == 0 {
		return st, &corerr.NotFound{Kind: "link map", Name: "l_addr"}
	}
	dyn, err := v.DynamicTable(obj)
	if err != nil {
		return st, err
	}
	ptrSize := v.machine.PointerBits() / 8

	strtab, _ := findDynTag(v.space, ptrSize, dyn, dtStrtab)
	symtab, _ := findDynTag(v.space, ptrSize, dyn, dtSymtab)
	syment, _ := findDynTag(v.space, ptrSize, dyn, dtSyment)
	versym, _ := findDynTag(v.space, ptrSize, dyn, dtVersym)

	if syment == 0 {
		return st, &corerr.NotFound{Kind: "dynamic tag", Name: "DT_SYMENT"}
	}

	symsz := strtab - symtab
	if versym != 0 && versym < strtab {
		symsz = versym - symtab
	}
	st.strtab, st.symtab, st.syment = strtab, symtab, syment
	st.count = int64(symsz / syment)
	return st, nil
}

// symEntrySize is sizeof(Elf32_Sym) / sizeof(Elf64_Sym).
func symEntrySize(ptrSize int) int {
	if ptrSize == 8 {
		return 24
	}
	return 16
}

// readSym reads one symbol table entry's (st_name, st_value, st_info).
func readSym(space *addrspace.Space, ptrSize int, addr uint64) (name uint32, value uint64, info uint8, err error) {
	ref := memref.New(space, addr)
	name, err = ref.U32(0)
	if err != nil {
		return
	}
	if ptrSize == 8 {
		// Elf64_Sym: name(4) info(1) other(1) shndx(2) value(8) size(8)
		info8, e := ref.U8(4)
		if e != nil {
			err = e
			return
		}
		info = info8
		value, err = ref.U64(8)
		return
	}
	// Elf32_Sym: name(4) value(4) size(4) info(1) other(1) shndx(2)
	value32, e := ref.U32(4)
	if e != nil {
		err = e
		return
	}
	value = uint64(value32)
	info8, e := ref.U8(12)
	if e != nil {
		err = e
		return
	}
	info = info8
	return
}

const sttFunc = 2
const sttNotype = 0

// Lookup returns the first exact name match across every object in
// link_map order, as l_addr + st_value.
func (v *View) Lookup(name string) (uint64, error) {
	ptrSize := v.machine.PointerBits() / 8
	for _, obj := range v.Objects {
		st, err := v.resolveSymbolTable(obj)
		if err != nil {
			continue
		}
		entSz := uint64(symEntrySize(ptrSize))
		for i := int64(0); i < st.count; i++ {
			symAddr := obj.LoadBase + st.symtab + uint64(i)*entSz
			nameOff, value, _, err := readSym(v.space, ptrSize, symAddr)
			if err != nil {
				continue
			}
			strRef := memref.New(v.space, obj.LoadBase+st.strtab+uint64(nameOff))
			s, err := strRef.CString(0, 4096)
			if err != nil {
				continue
			}
			if s == name {
				return obj.LoadBase + value, nil
			}
		}
	}
	return 0, &corerr.NotFound{Kind: "symbol", Name: name}
}

// NiceSymbol is the nearest-preceding function symbol to an address,
// and how far past it the address falls.
type NiceSymbol struct {
	Name   string
	Offset uint64
	Object string
}

// Nice finds the nearest-preceding STT_FUNC symbol (or, within the
// vDSO, STT_NOTYPE too) at or below addr, searching every object's dynamic
// symbol table and returning the closest match across all of them.
func (v *View) Nice(addr uint64) (NiceSymbol, error) {
	addr &= v.machine.VabitsMask()
	ptrSize := v.machine.PointerBits() / 8

	var best NiceSymbol
	bestDelta := ^uint64(0)
	found := false

	for _, obj := range v.Objects {
		vdso := obj.Name == "[vdso]"
		st, err := v.resolveSymbolTable(obj)
		if err != nil {
			continue
		}
		entSz := uint64(symEntrySize(ptrSize))
		for i := int64(0); i < st.count; i++ {
			symAddr := obj.LoadBase + st.symtab + uint64(i)*entSz
			nameOff, value, info, err := readSym(v.space, ptrSize, symAddr)
			if err != nil {
				continue
			}
			typ := info & 0xf
			if typ != sttFunc && !(vdso && typ == sttNotype) {
				continue
			}
			if value == 0 {
				continue
			}
			absolute := value + obj.LoadBase
			if absolute > addr {
				continue
			}
			delta := addr - absolute
			if delta <= bestDelta {
				strRef := memref.New(v.space, obj.LoadBase+st.strtab+uint64(nameOff))
				s, err := strRef.CString(0, 4096)
				if err != nil {
					continue
				}
				best = NiceSymbol{Name: s, Offset: delta, Object: obj.Name}
				bestDelta = delta
				found = true
			}
		}
	}
	if !found {
		return NiceSymbol{}, &corerr.NotFound{Kind: "nice symbol", Name: "<no preceding symbol>"}
	}
	return best, nil
}

// ApplySysroot substitutes an on-disk object's non-writable PT_LOAD
// segments into the address space for every block whose vaddr matches
// objLoadBase + round_down(p_vaddr, p_align). Caller
// validates path's ELF class/machine before calling.
func ApplySysroot(space *addrspace.Space, objLoadBase uint64, segments []SysrootSegment, path string) error {
	for _, seg := range segments {
		if seg.Writable {
			continue
		}
		vaddr := objLoadBase + roundDown(seg.Vaddr, seg.Align)
		b := space.Find(vaddr)
		if b == nil || b.Vaddr != vaddr {
			continue
		}
		b.SetReplacement(path, seg.FileOffset)
	}
	return nil
}

// SysrootSegment is one PT_LOAD header read from an on-disk object
// candidate for sysroot substitution.
type SysrootSegment struct {
	Vaddr, Align uint64
	FileOffset   int64
	Writable     bool
}

func roundDown(v, align uint64) uint64 {
	if align == 0 {
		return v
	}
	return v &^ (align - 1)
}
