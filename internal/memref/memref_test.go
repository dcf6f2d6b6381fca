package memref

import "testing"

// fakeSpace is a minimal Translator backed by a flat byte slice at a
// single base vaddr, enough to exercise Ref's accessors without
// depending on internal/addrspace.
type fakeSpace struct {
	base uint64
	data []byte
}

func (f *fakeSpace) Translate(vaddr uint64) ([]byte, error) {
	if vaddr < f.base || vaddr >= f.base+uint64(len(f.data)) {
		return nil, errNotMapped
	}
	return f.data[vaddr-f.base:], nil
}

type notMappedErr struct{}

func (notMappedErr) Error() string { return "not mapped" }

var errNotMapped = notMappedErr{}

func TestRefAccessors(t *testing.T) {
	data := []byte{
		0x01,
		0x02, 0x00,
		0x03, 0x00, 0x00, 0x00,
		0x04, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		'h', 'i', 0,
	}
	space := &fakeSpace{base: 0x1000, data: data}
	ref := New(space, 0x1000)

	if v, err := ref.U8(0); err != nil || v != 1 {
		t.Errorf("U8(0) = %v, %v", v, err)
	}
	if v, err := ref.U16(1); err != nil || v != 2 {
		t.Errorf("U16(1) = %v, %v", v, err)
	}
	if v, err := ref.U32(3); err != nil || v != 3 {
		t.Errorf("U32(3) = %v, %v", v, err)
	}
	if v, err := ref.U64(7); err != nil || v != 4 {
		t.Errorf("U64(7) = %v, %v", v, err)
	}
	if s, err := ref.CString(15, 10); err != nil || s != "hi" {
		t.Errorf("CString(15,10) = %q, %v", s, err)
	}
}

func TestRefAddStaysLogical(t *testing.T) {
	space := &fakeSpace{base: 0x1000, data: []byte{0, 0, 0xAB}}
	ref := New(space, 0x1000).Add(2)
	if ref.Vaddr() != 0x1002 {
		t.Errorf("Vaddr() = 0x%x, want 0x1002", ref.Vaddr())
	}
	v, err := ref.U8(0)
	if err != nil || v != 0xAB {
		t.Errorf("U8(0) after Add = %v, %v", v, err)
	}
}

func TestRefOutOfBounds(t *testing.T) {
	space := &fakeSpace{base: 0x1000, data: []byte{1, 2}}
	ref := New(space, 0x1000)
	if _, err := ref.U64(0); err == nil {
		t.Error("expected an error reading 8 bytes from a 2-byte window")
	}
}

func TestRefValid(t *testing.T) {
	space := &fakeSpace{base: 0x1000, data: []byte{1}}
	if !New(space, 0x1000).Valid() {
		t.Error("mapped address should be valid")
	}
	if New(space, 0x5000).Valid() {
		t.Error("unmapped address should be invalid")
	}
}
