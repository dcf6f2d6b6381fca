package corefile

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/xyproto/corescope/internal/arch"
	"github.com/xyproto/corescope/internal/corelog"
)

// writeNote appends one note record with 4-byte alignment padding,
// matching the ELF note wire format internal/note.Parse expects.
func writeNote(buf *bytes.Buffer, order binary.ByteOrder, name string, typ uint32, desc []byte) {
	nameBytes := append([]byte(name), 0)
	binary.Write(buf, order, uint32(len(nameBytes)))
	binary.Write(buf, order, uint32(len(desc)))
	binary.Write(buf, order, typ)
	buf.Write(nameBytes)
	for buf.Len()%4 != 0 {
		buf.WriteByte(0)
	}
	buf.Write(desc)
	for buf.Len()%4 != 0 {
		buf.WriteByte(0)
	}
}

// buildMinimalCore hand-assembles a minimal x86_64 ET_CORE ELF: one
// PT_NOTE segment (a single empty NT_AUXV note) and one PT_LOAD
// segment, enough for debug/elf to parse and for Core.Load to build an
// Address Space and Note Block from.
func buildMinimalCore(t *testing.T) string {
	t.Helper()
	order := binary.LittleEndian

	const ehdrSize = 64
	const phdrSize = 56
	const phnum = 2
	headersEnd := ehdrSize + phnum*phdrSize

	var noteDesc bytes.Buffer
	binary.Write(&noteDesc, order, uint64(0)) // AT_NULL type
	binary.Write(&noteDesc, order, uint64(0)) // AT_NULL value

	var notes bytes.Buffer
	const ntAuxv = 6
	writeNote(&notes, order, "CORE", ntAuxv, noteDesc.Bytes())

	noteOff := headersEnd
	noteSize := notes.Len()
	loadOff := noteOff + noteSize
	loadData := []byte("0123456789ABCDEF")
	loadSize := len(loadData)

	var buf bytes.Buffer
	ident := make([]byte, 16)
	ident[0], ident[1], ident[2], ident[3] = 0x7f, 'E', 'L', 'F'
	ident[4] = 2 // ELFCLASS64
	ident[5] = 1 // ELFDATA2LSB
	ident[6] = 1 // EV_CURRENT
	buf.Write(ident)
	binary.Write(&buf, order, uint16(4))  // e_type = ET_CORE
	binary.Write(&buf, order, uint16(62)) // e_machine = EM_X86_64
	binary.Write(&buf, order, uint32(1))  // e_version
	binary.Write(&buf, order, uint64(0))  // e_entry
	binary.Write(&buf, order, uint64(ehdrSize)) // e_phoff
	binary.Write(&buf, order, uint64(0))  // e_shoff
	binary.Write(&buf, order, uint32(0))  // e_flags
	binary.Write(&buf, order, uint16(ehdrSize)) // e_ehsize
	binary.Write(&buf, order, uint16(phdrSize)) // e_phentsize
	binary.Write(&buf, order, uint16(phnum))    // e_phnum
	binary.Write(&buf, order, uint16(0))        // e_shentsize
	binary.Write(&buf, order, uint16(0))        // e_shnum
	binary.Write(&buf, order, uint16(0))        // e_shstrndx
	if buf.Len() != ehdrSize {
		t.Fatalf("ehdr length = %d, want %d", buf.Len(), ehdrSize)
	}

	// Phdr 0: PT_NOTE
	binary.Write(&buf, order, uint32(4)) // p_type = PT_NOTE
	binary.Write(&buf, order, uint32(4)) // p_flags = PF_R
	binary.Write(&buf, order, uint64(noteOff))
	binary.Write(&buf, order, uint64(0)) // p_vaddr
	binary.Write(&buf, order, uint64(0)) // p_paddr
	binary.Write(&buf, order, uint64(noteSize))
	binary.Write(&buf, order, uint64(noteSize))
	binary.Write(&buf, order, uint64(4)) // p_align

	// Phdr 1: PT_LOAD
	binary.Write(&buf, order, uint32(1)) // p_type = PT_LOAD
	binary.Write(&buf, order, uint32(5)) // p_flags = PF_R|PF_X
	binary.Write(&buf, order, uint64(loadOff))
	binary.Write(&buf, order, uint64(0x400000)) // p_vaddr
	binary.Write(&buf, order, uint64(0))        // p_paddr
	binary.Write(&buf, order, uint64(loadSize))
	binary.Write(&buf, order, uint64(0x1000)) // p_memsz
	binary.Write(&buf, order, uint64(0x1000)) // p_align

	if buf.Len() != headersEnd {
		t.Fatalf("headers length = %d, want %d", buf.Len(), headersEnd)
	}
	buf.Write(notes.Bytes())
	buf.Write(loadData)

	path := filepath.Join(t.TempDir(), "core.dmp")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadParsesMinimalCore(t *testing.T) {
	path := buildMinimalCore(t)
	c, err := Load(path, corelog.Discard())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer c.Close()

	if c.Machine != arch.X86_64 {
		t.Errorf("Machine = %v, want X86_64", c.Machine)
	}
	s := c.Summarize()
	if s.LoadBlocks != 1 {
		t.Errorf("Summarize().LoadBlocks = %d, want 1", s.LoadBlocks)
	}
	if s.Machine != "x86_64" {
		t.Errorf("Summarize().Machine = %q, want x86_64", s.Machine)
	}
	if c.Notes == nil {
		t.Fatal("expected a parsed Note Block")
	}
	if len(c.Notes.Auxv) != 0 {
		t.Errorf("expected zero auxv entries (AT_NULL only), got %d", len(c.Notes.Auxv))
	}

	data, err := c.Space.Translate(0x400000)
	if err != nil {
		t.Fatalf("Translate(0x400000): %v", err)
	}
	if len(data) < 1 || data[0] != '0' {
		t.Errorf("Translate(0x400000)[0] = %q, want '0'", data)
	}
}

func TestLoadRejectsConcurrentSession(t *testing.T) {
	path := buildMinimalCore(t)
	first, err := Load(path, corelog.Discard())
	if err != nil {
		t.Fatalf("first Load: %v", err)
	}
	defer first.Close()

	if _, err := Load(path, corelog.Discard()); err == nil {
		t.Error("expected a second concurrent Load of the same core to fail")
	}
}

func TestLoadSucceedsAfterClose(t *testing.T) {
	path := buildMinimalCore(t)
	first, err := Load(path, corelog.Discard())
	if err != nil {
		t.Fatalf("first Load: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	second, err := Load(path, corelog.Discard())
	if err != nil {
		t.Fatalf("second Load after Close: %v", err)
	}
	defer second.Close()
}

func TestLoadRejectsNonCore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "not-elf.dmp")
	if err := os.WriteFile(path, []byte("not an ELF file at all"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := Load(path, corelog.Discard()); err == nil {
		t.Error("expected an error loading a non-ELF file")
	}
}

// TestInitLayoutIsPerCore guards against the Layout Registry regressing
// into a process-wide global: two Cores loaded from identical core files
// at different OAT versions must each carry their own Registry rather
// than one silently clobbering the other's.
func TestInitLayoutIsPerCore(t *testing.T) {
	path := buildMinimalCore(t)

	first, err := Load(path, corelog.Discard())
	if err != nil {
		t.Fatalf("first Load: %v", err)
	}
	defer first.Close()
	second, err := Load(path, corelog.Discard())
	if err == nil {
		defer second.Close()
	}
	// A second concurrent Load of the same path fails on the advisory
	// lock (see TestLoadRejectsConcurrentSession), so build the second
	// Core from its own copy instead.
	path2 := buildMinimalCore(t)
	second, err = Load(path2, corelog.Discard())
	if err != nil {
		t.Fatalf("second Load: %v", err)
	}
	defer second.Close()

	if _, err := first.InitLayout(124); err != nil {
		t.Fatalf("first.InitLayout: %v", err)
	}
	if _, err := second.InitLayout(238); err != nil {
		t.Fatalf("second.InitLayout: %v", err)
	}

	if first.Layout == second.Layout {
		t.Fatal("two Cores share the same Layout Registry pointer")
	}
}

func TestApplySysrootSearchNoLinkerIsNoop(t *testing.T) {
	path := buildMinimalCore(t)
	c, err := Load(path, corelog.Discard())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer c.Close()

	// This fixture has no PT_DYNAMIC, so c.Linker is nil; searching
	// should return without touching the address space or panicking.
	if c.Linker != nil {
		t.Fatal("expected a nil Linker view for a core with no PT_DYNAMIC")
	}
	c.ApplySysrootSearch([]string{t.TempDir()})
}
