package mapfile

import (
	"os"
	"path/filepath"
	"testing"
)

func TestMapWholeFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.bin")
	want := []byte("hello core dump")
	if err := os.WriteFile(path, want, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	m, err := Map(path)
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	defer m.Close()

	if m.Len() != len(want) {
		t.Errorf("Len() = %d, want %d", m.Len(), len(want))
	}
	if string(m.Bytes()) != string(want) {
		t.Errorf("Bytes() = %q, want %q", m.Bytes(), want)
	}
	if m.Path != path {
		t.Errorf("Path = %q, want %q", m.Path, path)
	}
}

func TestMapAtUnalignedOffset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.bin")
	content := make([]byte, 8192)
	for i := range content {
		content[i] = byte(i)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	const off = 4097
	const length = 10
	m, err := MapAt(path, off, length)
	if err != nil {
		t.Fatalf("MapAt: %v", err)
	}
	defer m.Close()

	if m.Len() != length {
		t.Fatalf("Len() = %d, want %d", m.Len(), length)
	}
	for i, b := range m.Bytes() {
		if b != content[off+i] {
			t.Errorf("Bytes()[%d] = %d, want %d", i, b, content[off+i])
		}
	}
}

func TestMapMissingFile(t *testing.T) {
	if _, err := Map(filepath.Join(t.TempDir(), "nope.bin")); err == nil {
		t.Error("expected an error mapping a missing file")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.bin")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	m, err := Map(path)
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("second Close should be a no-op, got: %v", err)
	}
}
