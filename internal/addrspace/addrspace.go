// Package addrspace reconstructs a process's virtual address space: an
// ordered set of load blocks indexed by virtual address, supporting
// O(log n) translate/find, in the gVisor-style "ordered set of virtual
// memory areas" shape — here realized with a B-tree rather than
// gVisor's own generic set package, since corescope doesn't need
// gVisor's gap-iterator machinery, just ordered predecessor lookups.
package addrspace

import (
	"github.com/google/btree"

	"github.com/xyproto/corescope/internal/arch"
	"github.com/xyproto/corescope/internal/block"
	"github.com/xyproto/corescope/internal/corerr"
	"github.com/xyproto/corescope/internal/mapfile"
)

// item is the btree element: ordered by the block's start vaddr.
type item struct {
	b *block.LoadBlock
}

func (a item) Less(than btree.Item) bool {
	return a.b.Vaddr < than.(item).b.Vaddr
}

// Space is the reconstructed virtual address space of one target
// process: every PT_LOAD block, ordered by virtual address.
type Space struct {
	machine arch.Machine
	tree    *btree.BTree
	core    []byte // the core file's own bytes, for blocks with no replacement

	// replacements caches mmapped on-disk replacement files by path so
	// concurrently-attached blocks sharing an object don't remap it.
	replacements map[string]*mapfile.Mapped
}

// New creates an empty address space for the given architecture, whose
// load blocks read their core-backed bytes from coreBytes (the mapped
// core ELF file).
func New(machine arch.Machine, coreBytes []byte) *Space {
	return &Space{
		machine:      machine,
		tree:         btree.New(32),
		core:         coreBytes,
		replacements: make(map[string]*mapfile.Mapped),
	}
}

// Add inserts a load block, rejecting any overlap with an
// already-inserted block's virtual range.
func (s *Space) Add(b *block.LoadBlock) error {
	if existing := s.Find(b.Vaddr); existing != nil {
		return &corerr.AddressSpaceOverlap{Vaddr: b.Vaddr, Size: b.MemSize}
	}
	// Also reject if b's range swallows the start of an existing block.
	var conflict bool
	s.tree.AscendGreaterOrEqual(item{&block.LoadBlock{Vaddr: b.Vaddr}}, func(i btree.Item) bool {
		other := i.(item).b
		if other.Vaddr < b.End() {
			conflict = true
		}
		return false
	})
	if conflict {
		return &corerr.AddressSpaceOverlap{Vaddr: b.Vaddr, Size: b.MemSize}
	}
	s.tree.ReplaceOrInsert(item{b})
	return nil
}

// Find returns the load block containing vaddr, or nil.
func (s *Space) Find(vaddr uint64) *block.LoadBlock {
	var found *block.LoadBlock
	s.tree.DescendLessOrEqual(item{&block.LoadBlock{Vaddr: vaddr}}, func(i btree.Item) bool {
		b := i.(item).b
		if b.Contains(vaddr) {
			found = b
		}
		return false
	})
	return found
}

// ForEach cooperatively iterates every load block in ascending vaddr
// order. cb returns false to stop early.
func (s *Space) ForEach(cb func(*block.LoadBlock) bool) {
	s.tree.Ascend(func(i btree.Item) bool {
		return cb(i.(item).b)
	})
}

// IsVirtualValid reports whether vaddr falls within some load block.
func (s *Space) IsVirtualValid(vaddr uint64) bool {
	return s.Find(vaddr) != nil
}

// IsReadable reports whether every byte in [vaddr, vaddr+n) is covered
// by a readable load block. It does not guarantee the bytes are
// actually present (a truncated block may still fail to translate).
func (s *Space) IsReadable(vaddr uint64, n uint64) bool {
	end := vaddr + n
	for vaddr < end {
		b := s.Find(vaddr)
		if b == nil || !b.Flags.Readable() {
			return false
		}
		vaddr = b.End()
	}
	return true
}

// attachReplacement mmaps path (memoized) and returns the mapped bytes.
func (s *Space) attachReplacement(path string) ([]byte, error) {
	if m, ok := s.replacements[path]; ok {
		return m.Bytes(), nil
	}
	m, err := mapfile.Map(path)
	if err != nil {
		return nil, err
	}
	s.replacements[path] = m
	return m.Bytes(), nil
}

// Translate resolves vaddr to the host bytes backing it, honoring a
// block's replacement mmap when set, the architecture's vabits mask,
// and truncation: bytes past FileSize read as zero only when the block
// is not truncated (a truncated block was deliberately cut short by
// the core writer, and anything past the cut is unknown, not zero).
//
// The returned slice begins at vaddr and extends to the end of
// whatever contiguous backing is available; callers needing more than
// one byte should bound their read against its length.
func (s *Space) Translate(vaddr uint64) ([]byte, error) {
	vaddr &= s.machine.VabitsMask()
	b := s.Find(vaddr)
	if b == nil {
		return nil, &corerr.InvalidAddress{Vaddr: vaddr}
	}
	within := vaddr - b.Vaddr

	if b.Replace != nil {
		data, err := s.attachReplacement(b.Replace.Path)
		if err != nil {
			return nil, err
		}
		start := b.Replace.Offset + int64(within)
		if start < 0 || start >= int64(len(data)) {
			return nil, &corerr.InvalidAddress{Vaddr: vaddr}
		}
		return data[start:], nil
	}

	if within < b.FileSize {
		start := b.Offset + within
		if b.Offset+b.FileSize > uint64(len(s.core)) {
			return nil, &corerr.InvalidAddress{Vaddr: vaddr}
		}
		return s.core[start : b.Offset+b.FileSize], nil
	}

	// within >= FileSize: only valid as read-as-zero when the block
	// wasn't truncated by the core writer.
	if b.Truncated || within >= b.MemSize {
		return nil, &corerr.InvalidAddress{Vaddr: vaddr}
	}
	return make([]byte, b.MemSize-within), nil
}

// Close releases every replacement mmap attached to this address space.
func (s *Space) Close() error {
	var first error
	for _, m := range s.replacements {
		if err := m.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
