package note

import (
	"bytes"
	"encoding/binary"
	"testing"
)

// writeNote appends one (namesz, descsz, type, name, desc) note record
// with 4-byte alignment padding, matching the ELF note wire format.
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

func TestParseAuxv(t *testing.T) {
	order := binary.LittleEndian
	var desc bytes.Buffer
	// (type, value) pairs at ptrSize 8, terminated by AT_NULL (type 0).
	binary.Write(&desc, order, uint64(3))  // AT_PHDR
	binary.Write(&desc, order, uint64(0x400040))
	binary.Write(&desc, order, uint64(0)) // AT_NULL
	binary.Write(&desc, order, uint64(0))

	var buf bytes.Buffer
	writeNote(&buf, order, "CORE", ntAuxv, desc.Bytes())

	nb, err := Parse(buf.Bytes(), 8, order)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(nb.Auxv) != 1 {
		t.Fatalf("expected 1 auxv entry (AT_NULL terminates), got %d", len(nb.Auxv))
	}
	if nb.Auxv[0].Type != 3 || nb.Auxv[0].Value != 0x400040 {
		t.Errorf("unexpected auxv entry: %+v", nb.Auxv[0])
	}
}

func TestParseFile(t *testing.T) {
	order := binary.LittleEndian
	var desc bytes.Buffer
	binary.Write(&desc, order, uint64(1))    // count
	binary.Write(&desc, order, uint64(4096)) // page_size
	binary.Write(&desc, order, uint64(0x1000))
	binary.Write(&desc, order, uint64(0x2000))
	binary.Write(&desc, order, uint64(0)) // file_offset (in pages)
	desc.WriteString("/bin/app\x00")

	var buf bytes.Buffer
	writeNote(&buf, order, "CORE", ntFile, desc.Bytes())

	nb, err := Parse(buf.Bytes(), 8, order)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(nb.Files) != 1 {
		t.Fatalf("expected 1 file entry, got %d", len(nb.Files))
	}
	f := nb.Files[0]
	if f.Start != 0x1000 || f.End != 0x2000 || f.Name != "/bin/app" {
		t.Errorf("unexpected file entry: %+v", f)
	}
}

func TestRoundUp4(t *testing.T) {
	cases := map[int]int{0: 0, 1: 4, 3: 4, 4: 4, 5: 8}
	for in, want := range cases {
		if got := roundUp4(in); got != want {
			t.Errorf("roundUp4(%d) = %d, want %d", in, got, want)
		}
	}
}
