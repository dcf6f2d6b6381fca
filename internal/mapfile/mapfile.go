// Package mapfile provides read-only
// mmap windows onto backing files (the core file itself, an original
// executable, a shared object, or a ZIP-embedded shared object),
// without sharing state across separately-mapped files.
package mapfile

import (
	"os"

	"golang.org/x/sys/unix"

	"github.com/xyproto/corescope/internal/corerr"
)

// Mapped is a read-only byte window onto a backing file.
type Mapped struct {
	Path string
	data []byte
}

// Bytes returns the mapped window.
func (m *Mapped) Bytes() []byte { return m.data }

// Len returns the length of the mapped window.
func (m *Mapped) Len() int { return len(m.data) }

// Close unmaps the window. Safe to call once; a second call is a no-op.
func (m *Mapped) Close() error {
	if m.data == nil {
		return nil
	}
	err := unix.Munmap(m.data)
	m.data = nil
	return err
}

// Map maps the entirety of path read-only.
func Map(path string) (*Mapped, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &corerr.IoError{Path: path, Reason: err}
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, &corerr.IoError{Path: path, Reason: err}
	}
	return MapAt(path, 0, int(st.Size()))
}

// MapAt maps length bytes of path starting at offset, read-only.
// offset need not be page-aligned; the returned window starts exactly
// at offset regardless of host page size.
func MapAt(path string, offset int64, length int) (*Mapped, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &corerr.IoError{Path: path, Reason: err}
	}
	defer f.Close()

	pageSize := int64(unix.Getpagesize())
	alignedOff := offset - (offset % pageSize)
	pad := int(offset - alignedOff)

	data, err := unix.Mmap(int(f.Fd()), alignedOff, length+pad, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, &corerr.IoError{Path: path, Reason: err}
	}
	return &Mapped{Path: path, data: data[pad:]}, nil
}
