// Package layout implements a registry holding a
// tagged, version-gated table of (type, ART API level, bitness)
// offsets and sizes, built once and referenced immutably by the OAT
// and Quick Frame decoders.
package layout

import (
	"github.com/xyproto/corescope/internal/corerr"
)

// QuickMethodHeaderOffsets names every field an OatQuickMethodHeader
// decoder may need, at the offsets that field holds for one ART OAT
// version family. Versions before the field was introduced, or after
// it was removed, leave that entry at zero; there is no separate
// presence flag, so a zero entry reads the same as a field at offset 0.
type QuickMethodHeaderOffsets struct {
	VmapTableOffset int // absent from OAT 192 on (folded into Data)
	MethodInfo      int // only present at OAT 124
	FrameInfo       int // only present below OAT 156
	CodeSize        int // removed at OAT 192 (folded into Data)
	Data            int // OAT 192..238: packed code-info-offset/size word
	CodeInfoOffset  int // OAT 239+: split back out from Data
	Code            int
	Size            int // sizeof(OatQuickMethodHeader) for this version
}

// quickMethodHeaderTables is keyed by the OAT version the Android
// runtime wrote the header for, with one entry per version family that
// changed the struct's layout (124, 156, 158, 192, 239 per
// art/runtime/oat_quick_method_header.cpp; 238 only changes bit masks,
// not field offsets, so it reuses 192's table).
var quickMethodHeaderTables = map[int]QuickMethodHeaderOffsets{
	124: {VmapTableOffset: 0, MethodInfo: 4, FrameInfo: 8, CodeSize: 20, Code: 24, Size: 24},
	156: {VmapTableOffset: 0, CodeSize: 8, Code: 12, Size: 12},
	158: {VmapTableOffset: 0, CodeSize: 4, Code: 8, Size: 8},
	192: {Data: 0, Code: 4, Size: 4},
	239: {CodeInfoOffset: 0, Code: 4, Size: 4},
}

// oatVersionFamilies lists the table keys in ascending order, so a
// concrete OAT version (e.g. 225) can resolve to the nearest family at
// or below it (192, here).
var oatVersionFamilies = []int{124, 156, 158, 192, 239}

// QuickMethodHeaderMasks are the bit masks OatQuickMethodHeader applies
// to its packed Data word; these change at OAT version 238, where the
// is-code-info flag moves from bit 30 to bit 31 (field offsets do not
// change).
type QuickMethodHeaderMasks struct {
	IsCodeInfoMask uint32
	CodeInfoMask   uint32
	CodeSizeMask   uint32
}

func masksForVersion(version int) QuickMethodHeaderMasks {
	if version >= 238 {
		return QuickMethodHeaderMasks{IsCodeInfoMask: 0x80000000, CodeInfoMask: 0x7FFFFFFF, CodeSizeMask: 0x7FFFFFFF}
	}
	return QuickMethodHeaderMasks{IsCodeInfoMask: 0x40000000, CodeInfoMask: 0x3FFFFFFF, CodeSizeMask: 0x3FFFFFFF}
}

// ElfOffsets describes the on-disk field offsets for one of the ELF
// structures corescope parses directly, at a given bitness. These
// mirror the true ELF32/ELF64 wire format (not a tool-internal normalized
// view) since corescope reads target memory and on-disk files directly,
// never through an intermediate copy.
type ElfOffsets struct {
	Fields map[string]int
	Size   int
}

func ehdrOffsets(bits int) ElfOffsets {
	if bits == 64 {
		return ElfOffsets{Size: 64, Fields: map[string]int{
			"e_type": 16, "e_machine": 18, "e_version": 20, "e_entry": 24,
			"e_phoff": 32, "e_shoff": 40, "e_flags": 48, "e_ehsize": 52,
			"e_phentsize": 54, "e_phnum": 56, "e_shentsize": 58, "e_shnum": 60, "e_shstrndx": 62,
		}}
	}
	return ElfOffsets{Size: 52, Fields: map[string]int{
		"e_type": 16, "e_machine": 18, "e_version": 20, "e_entry": 24,
		"e_phoff": 28, "e_shoff": 32, "e_flags": 36, "e_ehsize": 40,
		"e_phentsize": 42, "e_phnum": 44, "e_shentsize": 46, "e_shnum": 48, "e_shstrndx": 50,
	}}
}

func phdrOffsets(bits int) ElfOffsets {
	if bits == 64 {
		return ElfOffsets{Size: 56, Fields: map[string]int{
			"p_type": 0, "p_flags": 4, "p_offset": 8, "p_vaddr": 16,
			"p_paddr": 24, "p_filesz": 32, "p_memsz": 40, "p_align": 48,
		}}
	}
	return ElfOffsets{Size: 32, Fields: map[string]int{
		"p_type": 0, "p_offset": 4, "p_vaddr": 8, "p_paddr": 12,
		"p_filesz": 16, "p_memsz": 20, "p_flags": 24, "p_align": 28,
	}}
}

func dynamicOffsets(bits int) ElfOffsets {
	if bits == 64 {
		return ElfOffsets{Size: 16, Fields: map[string]int{"d_tag": 0, "d_val": 8}}
	}
	return ElfOffsets{Size: 8, Fields: map[string]int{"d_tag": 0, "d_val": 4}}
}

func symOffsets(bits int) ElfOffsets {
	if bits == 64 {
		return ElfOffsets{Size: 24, Fields: map[string]int{
			"st_name": 0, "st_info": 4, "st_other": 5, "st_shndx": 6, "st_value": 8, "st_size": 16,
		}}
	}
	return ElfOffsets{Size: 16, Fields: map[string]int{
		"st_name": 0, "st_value": 4, "st_size": 8, "st_info": 12, "st_other": 13, "st_shndx": 14,
	}}
}

// Registry is the immutable offset/size table for one (bitness, OAT
// version) pair. Constructed by New and never mutated afterward; safe
// for concurrent reads (though corescope's own analysis pipeline runs
// single-threaded). A Registry belongs to the Core session that built
// it, not to the process: two Cores analyzed in the same process, or
// a future caller wanting independent concurrent sessions, each get
// their own Registry instead of racing to initialize a shared global.
type Registry struct {
	bits       int
	oatVersion int

	quickHeader QuickMethodHeaderOffsets
	masks       QuickMethodHeaderMasks

	ehdr    ElfOffsets
	phdr    ElfOffsets
	dynamic ElfOffsets
	sym     ElfOffsets
}

// New builds a Registry for bits (32 or 64) and oatVersion (an ART OAT
// header version, e.g. 225), scoped to whichever Core owns it.
func New(bits, oatVersion int) *Registry {
	return &Registry{
		bits:        bits,
		oatVersion:  oatVersion,
		quickHeader: resolveQuickHeaderTable(oatVersion),
		masks:       masksForVersion(oatVersion),
		ehdr:        ehdrOffsets(bits),
		phdr:        phdrOffsets(bits),
		dynamic:     dynamicOffsets(bits),
		sym:         symOffsets(bits),
	}
}

func resolveQuickHeaderTable(version int) QuickMethodHeaderOffsets {
	family := oatVersionFamilies[0]
	for _, v := range oatVersionFamilies {
		if version >= v {
			family = v
		}
	}
	return quickMethodHeaderTables[family]
}

// QuickHeaderOffsets returns the OatQuickMethodHeader field table this
// registry was initialized for.
func (r *Registry) QuickHeaderOffsets() QuickMethodHeaderOffsets { return r.quickHeader }

// QuickHeaderMasks returns the OatQuickMethodHeader bit masks this
// registry was initialized for.
func (r *Registry) QuickHeaderMasks() QuickMethodHeaderMasks { return r.masks }

// OatVersion returns the ART OAT version this registry was built for.
func (r *Registry) OatVersion() int { return r.oatVersion }

// Bits returns the target's pointer width (32 or 64).
func (r *Registry) Bits() int { return r.bits }

// Offsetof returns the byte offset of field within the named ELF
// structure ("Ehdr", "Phdr", "Dynamic", "Sym"), at this registry's
// bitness.
func (r *Registry) Offsetof(structName, field string) (int, error) {
	tbl, err := r.elfTable(structName)
	if err != nil {
		return 0, err
	}
	off, ok := tbl.Fields[field]
	if !ok {
		return 0, &corerr.NotFound{Kind: "ELF field", Name: structName + "." + field}
	}
	return off, nil
}

// Sizeof returns sizeof(structName) at this registry's bitness.
func (r *Registry) Sizeof(structName string) (int, error) {
	tbl, err := r.elfTable(structName)
	if err != nil {
		return 0, err
	}
	return tbl.Size, nil
}

func (r *Registry) elfTable(structName string) (ElfOffsets, error) {
	switch structName {
	case "Ehdr":
		return r.ehdr, nil
	case "Phdr":
		return r.phdr, nil
	case "Dynamic":
		return r.dynamic, nil
	case "Sym":
		return r.sym, nil
	default:
		return ElfOffsets{}, &corerr.NotFound{Kind: "ELF struct", Name: structName}
	}
}
