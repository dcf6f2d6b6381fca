// Package oat implements the OAT Quick Method Header Decoder: reads
// an art::OatQuickMethodHeader out of target memory
// according to the (version, bitness)-gated layout in internal/layout,
// and derives code bounds, frame info, and optimized/Nterp status.
package oat

import (
	"github.com/xyproto/corescope/internal/arch"
	"github.com/xyproto/corescope/internal/corerr"
	"github.com/xyproto/corescope/internal/layout"
	"github.com/xyproto/corescope/internal/memref"
)

// FrameInfo is the quick frame's core/fp spill masks and frame size,
// as art::QuickMethodFrameInfo records it.
type FrameInfo struct {
	FrameSizeInBytes uint32
	CoreSpillMask    uint32
	FpSpillMask      uint32
}

// CodeInfoDecoder decodes the ART CodeInfo table that a Header's
// CodeInfoOffset points to: the bit-packed table that holds code size,
// frame layout, and native-pc/dex-pc/vreg mappings for any OAT version
// new enough to no longer carry those fields inline in
// OatQuickMethodHeader. This package does not implement ART's real
// CodeInfo bit-unpacking; a caller that needs optimized-method decoding
// for OAT>=156 targets supplies its own decoder via
// Header.SetCodeInfoDecoder. Without one, the corresponding Header
// methods report Unsupported.
type CodeInfoDecoder interface {
	CodeSize(ref memref.Ref, codeInfoOffset uint32) (uint32, error)
	FrameInfo(ref memref.Ref, codeInfoOffset uint32) (FrameInfo, error)
	NativePcToDexPc(ref memref.Ref, codeInfoOffset uint32, nativePC uint32) (uint32, error)
	NativePcToVRegs(ref memref.Ref, codeInfoOffset uint32, nativePC uint32) (map[uint32]uint64, error)
}

// Header is one OatQuickMethodHeader, read lazily from target memory
// at addr through a memref.Ref.
type Header struct {
	ref     memref.Ref
	machine arch.Machine
	reg     *layout.Registry

	nterpWithClinit uint64 // ART::NTERP_WITH_CLINIT_IMPL symbol value, if known
	nterpImpl       uint64 // ART::NTERP_IMPL symbol value, if known

	codeInfo CodeInfoDecoder
}

// New constructs a Header at addr. nterpWithClinit/nterpImpl are the
// runtime addresses of the Nterp entrypoint symbols, resolved
// beforehand via the Dynamic Linker View (pass 0 if unknown: IsOptimized
// then degrades to the bitmask/vmap-table heuristics for older OATs,
// and always reports true at OAT 239+ since that version can no longer
// distinguish Nterp from optimized without the symbols).
func New(ref memref.Ref, machine arch.Machine, reg *layout.Registry, nterpWithClinit, nterpImpl uint64) *Header {
	return &Header{ref: ref, machine: machine, reg: reg, nterpWithClinit: nterpWithClinit, nterpImpl: nterpImpl}
}

// SetCodeInfoDecoder attaches the CodeInfoDecoder this Header delegates
// to whenever a field it needs lives inside the method's CodeInfo table
// rather than inline in OatQuickMethodHeader.
func (h *Header) SetCodeInfoDecoder(d CodeInfoDecoder) {
	h.codeInfo = d
}

func (h *Header) off(field string) int {
	o := h.reg.QuickHeaderOffsets()
	switch field {
	case "vmap_table_offset":
		return o.VmapTableOffset
	case "frame_info":
		return o.FrameInfo
	case "code_size":
		return o.CodeSize
	case "data":
		return o.Data
	case "code_info_offset":
		return o.CodeInfoOffset
	case "code":
		return o.Code
	}
	return 0
}

func (h *Header) vmapTableOffset() (uint32, error) { return h.ref.U32(h.off("vmap_table_offset")) }
func (h *Header) codeSizeField() (uint32, error)   { return h.ref.U32(h.off("code_size")) }
func (h *Header) data() (uint32, error)            { return h.ref.U32(h.off("data")) }
func (h *Header) codeInfoOffsetField() (uint32, error) {
	return h.ref.U32(h.off("code_info_offset"))
}

// code reads the raw code pointer/offset word. At OAT versions below
// 192 this is an absolute code pointer; the layout table's Code offset
// and interpretation are consistent across the supported range since
// every version stores it as the header's last field.
func (h *Header) code() (uint64, error) {
	ptrSize := h.machine.PointerBits() / 8
	if ptrSize == 8 {
		return h.ref.U64(h.off("code"))
	}
	v, err := h.ref.U32(h.off("code"))
	return uint64(v), err
}

// CodeStart returns the entry address of this method's machine code,
// with the architecture's pointer-tag rule applied.
func (h *Header) CodeStart() (uint64, error) {
	c, err := h.code()
	if err != nil {
		return 0, err
	}
	return h.machine.StripPointerTag(c), nil
}

// decodeCodeInfoSize delegates code-size decoding to the configured
// CodeInfoDecoder, reporting Unsupported when none is set.
func (h *Header) decodeCodeInfoSize() (uint32, error) {
	if h.codeInfo == nil {
		return 0, &corerr.Unsupported{Feature: "CodeInfo-encoded code size (no CodeInfoDecoder configured)"}
	}
	off, err := h.CodeInfoOffset()
	if err != nil {
		return 0, err
	}
	return h.codeInfo.CodeSize(h.ref, off)
}

// CodeSize returns the method's machine-code size in bytes, decoded
// per the OAT version's regime: <192 a plain masked field; 192..238 a
// packed Data word (masked directly, or delegated to CodeInfo decoding
// when the word marks the method as optimized); 239+ is delegated to
// CodeInfo decoding except for the two well-known Nterp entrypoints,
// whose size is the pointer-sized word stored at the entrypoint itself.
func (h *Header) CodeSize() (uint32, error) {
	v := h.reg.OatVersion()
	masks := h.reg.QuickHeaderMasks()

	if v >= 239 {
		c, err := h.code()
		if err != nil {
			return 0, err
		}
		if (h.nterpWithClinit != 0 && c == h.nterpWithClinit) || (h.nterpImpl != 0 && c == h.nterpImpl) {
			sym := h.ref.Add(int64(c) - int64(h.ref.Vaddr()))
			if h.machine.PointerBits() == 64 {
				n, err := sym.U64(0)
				return uint32(n), err
			}
			return sym.U32(0)
		}
		return h.decodeCodeInfoSize()
	}
	if v >= 192 {
		optimized, err := h.IsOptimized()
		if err != nil {
			return 0, err
		}
		if optimized {
			return h.decodeCodeInfoSize()
		}
		d, err := h.data()
		if err != nil {
			return 0, err
		}
		return d & masks.CodeSizeMask, nil
	}
	raw, err := h.codeSizeField()
	if err != nil {
		return 0, err
	}
	return raw & masks.CodeSizeMask, nil
}

// Contains reports whether pc falls within this method's code range.
// The upper bound is inclusive, matching the target runtime's own
// off-by-one: a pc exactly at code_start+code_size is considered
// in-range because ART's own GetPc() can land one past the last
// instruction at a call site immediately preceding a tail call.
func (h *Header) Contains(pc uint64) (bool, error) {
	start, err := h.CodeStart()
	if err != nil {
		return false, err
	}
	size, err := h.CodeSize()
	if err != nil {
		return false, err
	}
	return start <= pc && pc <= start+uint64(size), nil
}

// IsOptimized reports whether this method was compiled by the
// optimizing compiler (carries a CodeInfo table) as opposed to being a
// Nterp or native-bridge entry.
func (h *Header) IsOptimized() (bool, error) {
	v := h.reg.OatVersion()
	masks := h.reg.QuickHeaderMasks()

	if v >= 239 {
		c, err := h.code()
		if err != nil {
			return false, err
		}
		if h.nterpWithClinit != 0 && c == h.nterpWithClinit {
			return false, nil
		}
		if h.nterpImpl != 0 && c == h.nterpImpl {
			return false, nil
		}
		return true, nil
	}
	if v >= 192 {
		d, err := h.data()
		if err != nil {
			return false, err
		}
		return d&masks.IsCodeInfoMask != 0, nil
	}
	size, err := h.CodeSize()
	if err != nil {
		return false, err
	}
	vmap, err := h.vmapTableOffset()
	if err != nil {
		return false, err
	}
	return size != 0 && vmap != 0, nil
}

// CodeInfoOffset returns the byte offset of this method's CodeInfo
// table, relative to the header itself.
func (h *Header) CodeInfoOffset() (uint32, error) {
	if h.reg.OatVersion() >= 239 {
		return h.codeInfoOffsetField()
	}
	d, err := h.data()
	if err != nil {
		return 0, err
	}
	return d & h.reg.QuickHeaderMasks().CodeInfoMask, nil
}

// FrameInfo returns the method's frame layout. At OAT 156+ this lives
// inside the CodeInfo table, decoded via the configured
// CodeInfoDecoder; below 156 it is three packed uint32s at the
// header's own frame_info field.
func (h *Header) FrameInfo() (FrameInfo, error) {
	if h.reg.OatVersion() >= 156 {
		if h.codeInfo == nil {
			return FrameInfo{}, &corerr.Unsupported{Feature: "CodeInfo-encoded frame info (no CodeInfoDecoder configured)"}
		}
		off, err := h.CodeInfoOffset()
		if err != nil {
			return FrameInfo{}, err
		}
		return h.codeInfo.FrameInfo(h.ref, off)
	}
	base := h.off("frame_info")
	size, err := h.ref.U32(base)
	if err != nil {
		return FrameInfo{}, err
	}
	core, err := h.ref.U32(base + 4)
	if err != nil {
		return FrameInfo{}, err
	}
	fp, err := h.ref.U32(base + 8)
	if err != nil {
		return FrameInfo{}, err
	}
	return FrameInfo{FrameSizeInBytes: size, CoreSpillMask: core, FpSpillMask: fp}, nil
}

// NativePcToDexPc maps a native program counter to its originating dex
// bytecode offset. This requires decoding the method's CodeInfo table,
// via the configured CodeInfoDecoder; a Nterp or otherwise
// non-optimized method has no CodeInfo table to decode.
func (h *Header) NativePcToDexPc(nativePC uint32) (uint32, error) {
	optimized, err := h.IsOptimized()
	if err != nil {
		return 0, err
	}
	if !optimized {
		return 0, &corerr.Unsupported{Feature: "NativePcToDexPc (method carries no CodeInfo table)"}
	}
	if h.codeInfo == nil {
		return 0, &corerr.Unsupported{Feature: "NativePcToDexPc (no CodeInfoDecoder configured)"}
	}
	off, err := h.CodeInfoOffset()
	if err != nil {
		return 0, err
	}
	return h.codeInfo.NativePcToDexPc(h.ref, off, nativePC)
}

// NativePcToVRegs maps a native program counter to the method's
// dex-register values at that point. Same CodeInfo-decoder dependency
// as NativePcToDexPc.
func (h *Header) NativePcToVRegs(nativePC uint32) (map[uint32]uint64, error) {
	optimized, err := h.IsOptimized()
	if err != nil {
		return nil, err
	}
	if !optimized {
		return nil, &corerr.Unsupported{Feature: "NativePcToVRegs (method carries no CodeInfo table)"}
	}
	if h.codeInfo == nil {
		return nil, &corerr.Unsupported{Feature: "NativePcToVRegs (no CodeInfoDecoder configured)"}
	}
	off, err := h.CodeInfoOffset()
	if err != nil {
		return nil, err
	}
	return h.codeInfo.NativePcToVRegs(h.ref, off, nativePC)
}
