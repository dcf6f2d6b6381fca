// Package frame implements the quick frame decoder: given
// a compiled method, its OatQuickMethodHeader, and the native PC a
// thread was stopped at, derives the frame's dex PC and virtual
// register values.
package frame

import (
	"github.com/xyproto/corescope/internal/corerr"
	"github.com/xyproto/corescope/internal/oat"
)

// Method is the minimal view of an ART method a Frame needs: whether
// it's a native (JNI) method, which never has a dex PC or vregs.
type Method interface {
	IsNative() bool
}

// Frame is one quick-compiled stack frame: a method, its method
// header, and the native PC execution was at when the frame was
// captured.
type Frame struct {
	method     Method
	header     *oat.Header
	framePC    uint32
	vregsCache map[uint32]uint64
}

// New constructs a Frame. header may be nil if the frame's method
// header could not be resolved (e.g. its code-info lookup failed).
func New(method Method, header *oat.Header, framePC uint32) *Frame {
	return &Frame{method: method, header: header, framePC: framePC}
}

// DexPCPtr returns the bytecode offset this frame was executing at, or
// 0 for a native method or an unresolved header.
func (f *Frame) DexPCPtr() (uint32, error) {
	if f.method.IsNative() {
		return 0, nil
	}
	if f.header == nil {
		return 0, nil
	}
	optimized, err := f.header.IsOptimized()
	if err != nil {
		return 0, err
	}
	if optimized {
		return f.header.NativePcToDexPc(f.framePC)
	}
	return 0, &corerr.Unsupported{Feature: "Nterp interpreter frame dex-PC layout"}
}

// VRegs returns this frame's dex register values. Native methods, an
// unresolved header and optimized frames return nil: optimized frames'
// vregs live in the CodeInfo table and are read directly through
// NativePcToVRegs, matching the target runtime's own "do nothing,
// caller uses native_pc_to_vregs" behavior. Nterp frames report
// Unsupported, so no path materializes registers into the cache.
func (f *Frame) VRegs() (map[uint32]uint64, error) {
	if f.vregsCache != nil {
		return f.vregsCache, nil
	}
	if f.method.IsNative() || f.header == nil {
		return nil, nil
	}
	optimized, err := f.header.IsOptimized()
	if err != nil {
		return nil, err
	}
	if optimized {
		return nil, nil
	}
	return nil, &corerr.Unsupported{Feature: "Nterp interpreter frame vreg layout"}
}
