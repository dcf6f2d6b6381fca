// Package corefile assembles every lower layer into Core: a
// single loaded post-mortem session built from an ELF core file, plus
// optional on-disk executables/shared objects for sysroot fallback.
package corefile

import (
	"debug/elf"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/xyproto/corescope/internal/addrspace"
	"github.com/xyproto/corescope/internal/arch"
	"github.com/xyproto/corescope/internal/block"
	"github.com/xyproto/corescope/internal/corelog"
	"github.com/xyproto/corescope/internal/corerr"
	"github.com/xyproto/corescope/internal/layout"
	"github.com/xyproto/corescope/internal/linker"
	"github.com/xyproto/corescope/internal/mapfile"
	"github.com/xyproto/corescope/internal/note"
)

// Core is the process snapshot reconstructed from one ELF core file:
// the mapped core, its load/note blocks, its dynamic-linker view, and
// the architecture it targets. At most one Core exists per session,
// enforced by an advisory lock on the core path's lock file, held from
// Load until Close.
type Core struct {
	log      *corelog.Logger
	corePath string
	coreFile *mapfile.Mapped
	lock     *flock.Flock

	Machine arch.Machine
	Space   *addrspace.Space
	Notes   *block.NoteBlock
	Linker  *linker.View
	Layout  *layout.Registry
}

// Load reads corePath as an ELF core file and reconstructs its address
// space, note data, and dynamic-linker view. log may be nil, in which
// case a discarding logger is used.
func Load(corePath string, log *corelog.Logger) (*Core, error) {
	if log == nil {
		log = corelog.Discard()
	}

	lk := flock.New(corePath + ".corescope.lock")
	ok, err := lk.TryLock()
	if err != nil {
		return nil, &corerr.IoError{Path: corePath, Reason: err}
	}
	if !ok {
		return nil, &corerr.PreconditionViolated{What: "another corescope session already holds " + corePath}
	}

	mapped, err := mapfile.Map(corePath)
	if err != nil {
		lk.Unlock()
		return nil, err
	}

	c := &Core{log: log, corePath: corePath, coreFile: mapped, lock: lk}
	if err := c.parseELF(); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// parseELF reads the core's own ELF header and program headers with
// debug/elf (trusted stdlib ELF structure parsing — the core file's
// own container format, as opposed to the target's virtual address
// space, which corescope decodes itself), builds the Address Space
// from PT_LOAD headers, and the Note Block from PT_NOTE headers.
func (c *Core) parseELF() error {
	f, err := elf.NewFile(newReaderAt(c.coreFile.Bytes()))
	if err != nil {
		return &corerr.InvalidElf{Path: c.corePath, Reason: err.Error()}
	}
	defer f.Close()

	if f.Type != elf.ET_CORE {
		return &corerr.InvalidElf{Path: c.corePath, Reason: fmt.Sprintf("not ET_CORE (got %s)", f.Type)}
	}

	machine, err := arch.FromELFMachine(uint16(f.Machine))
	if err != nil {
		return &corerr.InvalidElf{Path: c.corePath, Reason: err.Error()}
	}
	c.Machine = machine
	ptrSize := machine.PointerBits() / 8
	order := f.ByteOrder

	c.Space = addrspace.New(machine, c.coreFile.Bytes())

	var noteBytes []byte
	var noteTruncated bool
	for _, prog := range f.Progs {
		switch prog.Type {
		case elf.PT_LOAD:
			lb := &block.LoadBlock{
				Flags:    block.Flag(prog.Flags),
				Offset:   prog.Off,
				Vaddr:    prog.Vaddr,
				Paddr:    prog.Paddr,
				FileSize: prog.Filesz,
				MemSize:  prog.Memsz,
				Align:    prog.Align,
			}
			if prog.Off+prog.Filesz > uint64(len(c.coreFile.Bytes())) {
				lb.Truncated = true
				if uint64(len(c.coreFile.Bytes())) > prog.Off {
					lb.FileSize = uint64(len(c.coreFile.Bytes())) - prog.Off
				} else {
					lb.FileSize = 0
				}
			}
			if err := c.Space.Add(lb); err != nil {
				c.log.Warnf("dropping overlapping load block at 0x%x: %v", lb.Vaddr, err)
			}
		case elf.PT_NOTE:
			start := prog.Off
			end := prog.Off + prog.Filesz
			if end > uint64(len(c.coreFile.Bytes())) {
				end = uint64(len(c.coreFile.Bytes()))
				noteTruncated = true
			}
			if start <= end {
				noteBytes = c.coreFile.Bytes()[start:end]
			}
		}
	}

	nb, err := note.Parse(noteBytes, ptrSize, order)
	if err != nil {
		c.log.Warnf("note parsing stopped early: %v", err)
	}
	if nb == nil {
		nb = &block.NoteBlock{}
	}
	nb.Truncated = noteTruncated
	c.Notes = nb

	view, err := linker.Build(c.Space, c.Machine, c.Notes.Auxv)
	if err != nil {
		c.log.Warnf("dynamic linker view unavailable: %v", err)
	} else {
		c.Linker = view
	}

	return nil
}

// InitLayout builds this Core's own Layout Registry for its bitness
// and the given ART OAT version, gating the OAT/Frame decoders. Must
// be called before any oat.Header or frame.Frame is constructed
// against this Core. The registry is owned by c alone, so a second
// Core analyzed in the same process (sequentially or concurrently)
// builds its own independent registry rather than inheriting c's.
func (c *Core) InitLayout(oatVersion int) (*layout.Registry, error) {
	reg := layout.New(c.Machine.PointerBits(), oatVersion)
	c.Layout = reg
	return reg, nil
}

// ApplySysroot substitutes on-disk segments from path (an executable or
// shared object matching one of this Core's link-map objects by name)
// into the address space as a sysroot fallback.
func (c *Core) ApplySysroot(objectName, path string) error {
	if c.Linker == nil {
		return &corerr.NotFound{Kind: "dynamic linker view", Name: objectName}
	}
	var target *linker.Object
	for i := range c.Linker.Objects {
		if c.Linker.Objects[i].Name == objectName {
			target = &c.Linker.Objects[i]
			break
		}
	}
	if target == nil {
		return &corerr.NotFound{Kind: "link map object", Name: objectName}
	}

	f, err := elf.Open(path)
	if err != nil {
		return &corerr.IoError{Path: path, Reason: err}
	}
	defer f.Close()

	if f.Type != elf.ET_DYN && f.Type != elf.ET_EXEC {
		return &corerr.InvalidElf{Path: path, Reason: "not ET_DYN or ET_EXEC"}
	}
	wantMachine, err := arch.FromELFMachine(uint16(f.Machine))
	if err != nil || wantMachine != c.Machine {
		return &corerr.InvalidElf{Path: path, Reason: "machine mismatch with core"}
	}

	var segs []linker.SysrootSegment
	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		segs = append(segs, linker.SysrootSegment{
			Vaddr:      prog.Vaddr,
			Align:      prog.Align,
			FileOffset: int64(prog.Off),
			Writable:   prog.Flags&elf.PF_W != 0,
		})
	}
	return linker.ApplySysroot(c.Space, target.LoadBase, segs, path)
}

// ApplySysrootSearch walks this Core's link-map objects and, for each
// one named in the link map, searches paths in order for a file whose
// base name matches the object's own base name, substituting the first
// match found via ApplySysroot. An object with no match in any of
// paths is left reading from the core file's own bytes. Failures
// (a name match that turns out to be the wrong machine, say) are
// logged and otherwise ignored, the same soft-failure policy as the
// rest of the sysroot fallback.
func (c *Core) ApplySysrootSearch(paths []string) {
	if c.Linker == nil {
		return
	}
	for _, obj := range c.Linker.Objects {
		if obj.Name == "" {
			continue
		}
		base := filepath.Base(obj.Name)
		for _, dir := range paths {
			candidate := filepath.Join(dir, base)
			if _, err := os.Stat(candidate); err != nil {
				continue
			}
			if err := c.ApplySysroot(obj.Name, candidate); err != nil {
				c.log.Warnf("sysroot search: %s: %v", candidate, err)
			}
			break
		}
	}
}

// Close releases the core's mmap and every replacement mmap attached
// to its address space, and releases the single-Core-per-session lock.
func (c *Core) Close() error {
	var first error
	if c.Space != nil {
		if err := c.Space.Close(); err != nil {
			first = err
		}
	}
	if c.coreFile != nil {
		if err := c.coreFile.Close(); err != nil && first == nil {
			first = err
		}
	}
	if c.lock != nil {
		if err := c.lock.Unlock(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Summary is the post-mortem report's top-level facts about this
// Core, distinct from the heap/object formatters this package doesn't
// implement.
type Summary struct {
	Machine     string
	ThreadCount int
	LoadBlocks  int
	Objects     int
	MainObject  string
}

// Summarize produces a Summary of this Core's reconstructed state.
func (c *Core) Summarize() Summary {
	s := Summary{Machine: c.Machine.String()}
	if c.Notes != nil {
		s.ThreadCount = len(c.Notes.Threads)
	}
	if c.Space != nil {
		c.Space.ForEach(func(*block.LoadBlock) bool {
			s.LoadBlocks++
			return true
		})
	}
	if c.Linker != nil {
		s.Objects = len(c.Linker.Objects)
		if len(c.Linker.Objects) > 0 {
			s.MainObject = c.Linker.Objects[0].Name
		}
	}
	return s
}

// readerAt adapts a byte slice to io.ReaderAt, since debug/elf requires
// random access and corescope's mapped files are already fully
// resident in memory.
type readerAt struct{ data []byte }

func newReaderAt(data []byte) *readerAt { return &readerAt{data: data} }

func (r *readerAt) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= int64(len(r.data)) {
		return 0, io.EOF
	}
	n := copy(p, r.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}
