package block

import "testing"

func TestLoadBlockContains(t *testing.T) {
	b := &LoadBlock{Vaddr: 0x1000, MemSize: 0x1000}
	if !b.Contains(0x1000) {
		t.Error("should contain its own start")
	}
	if !b.Contains(0x1fff) {
		t.Error("should contain its last byte")
	}
	if b.Contains(0x2000) {
		t.Error("should not contain its exclusive end")
	}
	if b.Contains(0xfff) {
		t.Error("should not contain a byte before start")
	}
}

func TestSetReplacementSkipsWritable(t *testing.T) {
	b := &LoadBlock{Vaddr: 0x1000, MemSize: 0x1000, Flags: FlagR | FlagW}
	b.SetReplacement("/lib/libc.so", 0)
	if b.Replace != nil {
		t.Error("writable blocks must never get a replacement mmap")
	}
}

func TestSetReplacementAppliesToReadOnly(t *testing.T) {
	b := &LoadBlock{Vaddr: 0x1000, MemSize: 0x1000, Flags: FlagR | FlagX}
	b.SetReplacement("/lib/libc.so", 0x2000)
	if b.Replace == nil {
		t.Fatal("expected replacement to be attached")
	}
	if b.Replace.Path != "/lib/libc.so" || b.Replace.Offset != 0x2000 {
		t.Error("replacement fields not stored correctly")
	}
}

func TestFlagAccessors(t *testing.T) {
	f := FlagR | FlagX
	if !f.Readable() || !f.Executable() || f.Writable() {
		t.Errorf("unexpected flag decode for %v", f)
	}
}
