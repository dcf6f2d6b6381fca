// Package block defines the load block and note block records: one
// PT_LOAD or PT_NOTE program header's worth of virtual
// memory, as reconstructed from a core file.
package block

// Flag is a program header's R/W/X permission bits, matching ELF's
// PF_R/PF_W/PF_X encoding so callers can pass p_flags through unchanged.
type Flag uint32

const (
	FlagX Flag = 1 << 0
	FlagW Flag = 1 << 1
	FlagR Flag = 1 << 2
)

func (f Flag) Readable() bool   { return f&FlagR != 0 }
func (f Flag) Writable() bool   { return f&FlagW != 0 }
func (f Flag) Executable() bool { return f&FlagX != 0 }

// Replacement names an on-disk file substituted for a load block's own
// core-file backing, attached after the fact when a matching executable
// or shared object is supplied as a sysroot fallback.
type Replacement struct {
	Path   string
	Offset int64 // byte offset into Path where this block's contents begin
}

// LoadBlock is one PT_LOAD segment: a contiguous virtual address range,
// its permissions, and where its bytes come from.
//
// Invariant: FileSize <= MemSize. Invariant (Address Space level): the
// virtual ranges of distinct LoadBlocks never overlap.
type LoadBlock struct {
	Flags     Flag
	Offset    uint64 // file offset in the core
	Vaddr     uint64
	Paddr     uint64
	FileSize  uint64
	MemSize   uint64
	Align     uint64
	Truncated bool // core's own bytes for this block were cut short

	// Replace, if non-nil, is an on-disk object whose bytes are used
	// instead of the core file's own bytes for this whole block.
	// Writable segments are never replaced,
	// because the target may have mutated them since the object was
	// loaded.
	Replace *Replacement
}

// End returns the exclusive upper bound of the block's virtual range.
func (b *LoadBlock) End() uint64 { return b.Vaddr + b.MemSize }

// Contains reports whether vaddr falls within this block's virtual
// range.
func (b *LoadBlock) Contains(vaddr uint64) bool {
	return vaddr >= b.Vaddr && vaddr < b.End()
}

// SetReplacement attaches a replacement mmap to a non-writable block.
// Attempting to replace a writable block is a silent no-op: writable
// segments always read from the core, since the target may have
// mutated them.
func (b *LoadBlock) SetReplacement(path string, offset int64) {
	if b.Flags.Writable() {
		return
	}
	b.Replace = &Replacement{Path: path, Offset: offset}
}

// PRStatus is the per-thread register-file record extracted from one
// NT_PRSTATUS note. Regs holds the architecture's general-purpose
// register file in kernel order; PC and SP are pulled out for the
// architectures corescope understands how to unwind.
type PRStatus struct {
	Pid  uint32
	Regs []uint64
	PC   uint64
	SP   uint64
}

// AuxvEntry is one (type, value) pair from the NT_AUXV note.
type AuxvEntry struct {
	Type  uint64
	Value uint64
}

// FileEntry is one mapped-file record from the NT_FILE note: the
// virtual range [Start, End) that was backed by Name at the given file
// offset at dump time.
type FileEntry struct {
	Start, End uint64
	FileOffset uint64
	Name       string
}

// NoteBlock is one PT_NOTE segment, carrying the three logical child
// sequences this package decodes: per-thread register state, the
// auxiliary vector, and the file/vma map.
type NoteBlock struct {
	Offset    uint64
	FileSize  uint64
	Truncated bool

	Threads []PRStatus
	Auxv    []AuxvEntry
	Files   []FileEntry
}
