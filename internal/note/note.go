// Package note parses PT_NOTE segment bytes, chunking by
// (namesz, descsz) with 4-byte alignment of
// each field, and dispatches NT_PRSTATUS/NT_AUXV/NT_FILE into a
// block.NoteBlock's child sequences.
package note

import (
	"encoding/binary"

	"github.com/xyproto/corescope/internal/block"
	"github.com/xyproto/corescope/internal/corerr"
)

const (
	ntPRStatus = 1
	ntAuxv     = 6
	ntFile     = 0x46494c45 // "ELIF" — Linux's NT_FILE note type
)

func roundUp4(n int) int { return (n + 3) &^ 3 }

// Parse walks the PT_NOTE bytes in data (already sliced to the
// segment's FileSize) and populates a NoteBlock. ptrSize is 4 or 8,
// matching the target's pointer width, since NT_AUXV and NT_FILE are
// encoded at the target's native word size.
func Parse(data []byte, ptrSize int, order binary.ByteOrder) (*block.NoteBlock, error) {
	nb := &block.NoteBlock{FileSize: uint64(len(data))}
	pos := 0
	for pos+12 <= len(data) {
		namesz := int(order.Uint32(data[pos:]))
		descsz := int(order.Uint32(data[pos+4:]))
		typ := order.Uint32(data[pos+8:])
		pos += 12

		if pos+roundUp4(namesz) > len(data) {
			return nb, &corerr.InvalidElf{Reason: "note name exceeds segment"}
		}
		pos += roundUp4(namesz)

		if pos+roundUp4(descsz) > len(data) {
			return nb, &corerr.InvalidElf{Reason: "note desc exceeds segment"}
		}
		desc := data[pos : pos+descsz]
		pos += roundUp4(descsz)

		switch typ {
		case ntPRStatus:
			if st, err := parsePRStatus(desc, ptrSize, order); err == nil {
				nb.Threads = append(nb.Threads, st)
			}
		case ntAuxv:
			nb.Auxv = append(nb.Auxv, parseAuxv(desc, ptrSize, order)...)
		case ntFile:
			if entries, err := parseFile(desc, ptrSize, order); err == nil {
				nb.Files = append(nb.Files, entries...)
			}
		}
	}
	return nb, nil
}

// parsePRStatus extracts pid/regs/pc/sp from an NT_PRSTATUS desc. The
// layout of struct elf_prstatus is architecture-dependent; this decodes
// the x86_64 and AArch64 layouts, the two architectures corescope
// expects to see ART core dumps from in practice. Other architectures
// return the thread with only Pid populated.
func parsePRStatus(desc []byte, ptrSize int, order binary.ByteOrder) (block.PRStatus, error) {
	var st block.PRStatus
	if ptrSize == 8 {
		const pidOff = 32
		const regOff = 112
		const regCount = 27 // elf_gregset_t on x86_64: 27 x 8-byte regs
		if len(desc) < regOff+regCount*8 {
			return st, &corerr.InvalidElf{Reason: "short NT_PRSTATUS"}
		}
		st.Pid = order.Uint32(desc[pidOff:])
		st.Regs = make([]uint64, regCount)
		for i := 0; i < regCount; i++ {
			st.Regs[i] = order.Uint64(desc[regOff+i*8:])
		}
		// x86_64 elf_gregset_t: index 16 is rip, 19 is rsp.
		if regCount > 19 {
			st.PC = st.Regs[16]
			st.SP = st.Regs[19]
		}
	} else {
		const pidOff = 24
		const regOff = 72
		const regCount = 18 // elf_gregset_t on arm/i386: 18 x 4-byte regs
		if len(desc) < regOff+regCount*4 {
			return st, &corerr.InvalidElf{Reason: "short NT_PRSTATUS"}
		}
		st.Pid = order.Uint32(desc[pidOff:])
		st.Regs = make([]uint64, regCount)
		for i := 0; i < regCount; i++ {
			st.Regs[i] = uint64(order.Uint32(desc[regOff+i*4:]))
		}
	}
	return st, nil
}

func parseAuxv(desc []byte, ptrSize int, order binary.ByteOrder) []block.AuxvEntry {
	var entries []block.AuxvEntry
	step := ptrSize * 2
	for off := 0; off+step <= len(desc); off += step {
		var typ, val uint64
		if ptrSize == 8 {
			typ = order.Uint64(desc[off:])
			val = order.Uint64(desc[off+8:])
		} else {
			typ = uint64(order.Uint32(desc[off:]))
			val = uint64(order.Uint32(desc[off+4:]))
		}
		if typ == 0 { // AT_NULL terminates the vector
			break
		}
		entries = append(entries, block.AuxvEntry{Type: typ, Value: val})
	}
	return entries
}

// parseFile decodes NT_FILE: [count][page_size][count x (start,end,
// file_offset)][flat NUL-terminated names], all words at ptrSize.
func parseFile(desc []byte, ptrSize int, order binary.ByteOrder) ([]block.FileEntry, error) {
	readWord := func(b []byte) uint64 {
		if ptrSize == 8 {
			return order.Uint64(b)
		}
		return uint64(order.Uint32(b))
	}
	if len(desc) < ptrSize*2 {
		return nil, &corerr.InvalidElf{Reason: "short NT_FILE header"}
	}
	count := readWord(desc)
	pageSize := readWord(desc[ptrSize:])
	pos := ptrSize * 2

	type raw struct{ start, end, off uint64 }
	rows := make([]raw, 0, count)
	for i := uint64(0); i < count; i++ {
		if pos+3*ptrSize > len(desc) {
			return nil, &corerr.InvalidElf{Reason: "NT_FILE table truncated"}
		}
		rows = append(rows, raw{
			start: readWord(desc[pos:]),
			end:   readWord(desc[pos+ptrSize:]),
			off:   readWord(desc[pos+2*ptrSize:]),
		})
		pos += 3 * ptrSize
	}

	names := desc[pos:]
	entries := make([]block.FileEntry, 0, count)
	nameOff := 0
	for _, r := range rows {
		end := nameOff
		for end < len(names) && names[end] != 0 {
			end++
		}
		name := string(names[nameOff:end])
		nameOff = end + 1
		entries = append(entries, block.FileEntry{
			Start: r.start, End: r.end, FileOffset: r.off * pageSize, Name: name,
		})
	}
	return entries, nil
}
